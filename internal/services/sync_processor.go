package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Refresher pulls remote state and replays pending local writes.
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// PollInterval is how often to refresh from the remote (default: 1m)
	PollInterval time.Duration

	// RunOnStart triggers a refresh as soon as the processor starts (default: true)
	RunOnStart bool
}

// DefaultSyncProcessorConfig returns sensible defaults
func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval: time.Minute,
		RunOnStart:   true,
	}
}

// SyncStats summarizes the refresh cycles run so far.
type SyncStats struct {
	Runs      int64
	Failures  int64
	LastRun   time.Time
	LastError string
}

// SyncProcessor refreshes the repositories on a fixed interval.
type SyncProcessor struct {
	refresher Refresher
	config    SyncProcessorConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	trigger chan struct{}
	stats   SyncStats
}

// NewSyncProcessor creates a new sync processor
func NewSyncProcessor(refresher Refresher, config SyncProcessorConfig) *SyncProcessor {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultSyncProcessorConfig().PollInterval
	}
	return &SyncProcessor{
		refresher: refresher,
		config:    config,
		trigger:   make(chan struct{}, 1),
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	if p.refresher == nil {
		p.mu.Unlock()
		return fmt.Errorf("sync processor has no refresher")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"run_on_start", p.config.RunOnStart)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	// Signal stop
	close(stopCh)

	// Wait for completion or context cancellation
	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Trigger asks the loop for an immediate refresh. Requests made while one
// is already queued are merged.
func (p *SyncProcessor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Stats returns a copy of the cycle counters.
func (p *SyncProcessor) Stats() SyncStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// runLoop is the main processing loop
func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	if p.config.RunOnStart {
		p.refresh(ctx)
	}

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		case <-p.trigger:
			p.refresh(ctx)
		}
	}
}

func (p *SyncProcessor) refresh(ctx context.Context) {
	start := time.Now()
	err := p.refresher.RefreshAll(ctx)

	p.mu.Lock()
	p.stats.Runs++
	p.stats.LastRun = start
	if err != nil {
		p.stats.Failures++
		p.stats.LastError = err.Error()
	} else {
		p.stats.LastError = ""
	}
	p.mu.Unlock()

	if err != nil {
		slog.ErrorContext(ctx, "Sync cycle failed", "error", err, "duration", time.Since(start))
		return
	}
	slog.DebugContext(ctx, "Sync cycle completed", "duration", time.Since(start))
}
