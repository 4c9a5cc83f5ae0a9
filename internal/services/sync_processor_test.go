package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingRefresher struct {
	calls atomic.Int64
	err   error
}

func (r *countingRefresher) RefreshAll(context.Context) error {
	r.calls.Add(1)
	return r.err
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDefaultSyncProcessorConfig(t *testing.T) {
	config := DefaultSyncProcessorConfig()

	if config.PollInterval != time.Minute {
		t.Errorf("expected PollInterval 1m, got %v", config.PollInterval)
	}
	if !config.RunOnStart {
		t.Error("expected RunOnStart to default to true")
	}
}

func TestNewSyncProcessorFillsInterval(t *testing.T) {
	processor := NewSyncProcessor(&countingRefresher{}, SyncProcessorConfig{})
	if processor.config.PollInterval != time.Minute {
		t.Errorf("expected default PollInterval, got %v", processor.config.PollInterval)
	}
}

func TestSyncProcessor_IsRunning(t *testing.T) {
	processor := NewSyncProcessor(&countingRefresher{}, DefaultSyncProcessorConfig())

	if processor.IsRunning() {
		t.Error("processor should not be running initially")
	}
}

func TestSyncProcessor_StartTwice(t *testing.T) {
	processor := NewSyncProcessor(&countingRefresher{}, SyncProcessorConfig{PollInterval: time.Hour})
	ctx := context.Background()

	if err := processor.Start(ctx); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	defer processor.Stop(ctx)

	if err := processor.Start(ctx); err == nil {
		t.Error("expected error when starting already running processor")
	}
}

func TestSyncProcessor_StartWithoutRefresher(t *testing.T) {
	processor := NewSyncProcessor(nil, DefaultSyncProcessorConfig())
	if err := processor.Start(context.Background()); err == nil {
		t.Error("expected error without a refresher")
	}
}

func TestSyncProcessor_StopNotRunning(t *testing.T) {
	processor := NewSyncProcessor(&countingRefresher{}, DefaultSyncProcessorConfig())

	if err := processor.Stop(context.Background()); err != nil {
		t.Errorf("Stop should not error when not running: %v", err)
	}
}

func TestSyncProcessor_RefreshesOnStartAndTick(t *testing.T) {
	ctx := context.Background()
	refresher := &countingRefresher{}
	processor := NewSyncProcessor(refresher, SyncProcessorConfig{PollInterval: 10 * time.Millisecond, RunOnStart: true})

	if err := processor.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "three refresh cycles", func() bool { return refresher.calls.Load() >= 3 })

	if err := processor.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if processor.IsRunning() {
		t.Error("processor should not be running after Stop")
	}

	stopped := refresher.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if refresher.calls.Load() != stopped {
		t.Error("refresh ran after Stop")
	}
}

func TestSyncProcessor_TriggerAndStats(t *testing.T) {
	ctx := context.Background()
	refresher := &countingRefresher{err: errors.New("database locked")}
	processor := NewSyncProcessor(refresher, SyncProcessorConfig{PollInterval: time.Hour})

	if err := processor.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer processor.Stop(ctx)

	if refresher.calls.Load() != 0 {
		t.Error("RunOnStart=false should not refresh immediately")
	}
	processor.Trigger()
	waitFor(t, "triggered refresh", func() bool { return processor.Stats().Runs == 1 })

	stats := processor.Stats()
	if stats.Failures != 1 || stats.LastError != "database locked" {
		t.Errorf("stats = %+v", stats)
	}
	if stats.LastRun.IsZero() {
		t.Error("LastRun should be set")
	}
}
