// Package repository keeps the local store and the remote source of truth
// in step. Callers only ever talk to the local store; remote work happens
// either in background tasks (polling strategy) or inline against a live
// gateway whose change feed drives every other local mutation.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"finsync/internal/core"
	"finsync/internal/log"
	"finsync/internal/remote"
	"finsync/internal/retry"
	"finsync/internal/worker"
)

// Record is a synchronized entity whose content can be compared.
type Record[T any] interface {
	comparable
	core.Record[T]
}

// LocalStore is the local table the repository drives. *storage.Store
// implements it.
type LocalStore[T any] interface {
	Observe(ctx context.Context) (<-chan []T, error)
	List(ctx context.Context) ([]T, error)
	ListAll(ctx context.Context) ([]T, error)
	GetPending(ctx context.Context) ([]T, error)
	GetByID(ctx context.Context, id int64) (T, bool, error)
	CountAll(ctx context.Context) (int, error)
	Upsert(ctx context.Context, rec T) (int64, error)
	UpsertMany(ctx context.Context, recs []T) ([]int64, error)
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) error
	UpdateSyncStatus(ctx context.Context, id int64, status core.SyncStatus) error
	Rekey(ctx context.Context, oldID int64, rec T) error
}

// Strategy selects how the repository reaches the remote.
type Strategy[T any] struct {
	gateway remote.Gateway[T]
	live    remote.LiveGateway[T]
	retry   retry.Policy
}

// Polling writes locally first and pushes in the background, wrapping
// every remote call in policy.
func Polling[T any](gw remote.Gateway[T], policy retry.Policy) Strategy[T] {
	return Strategy[T]{gateway: gw, retry: policy}
}

// Live writes to the remote inline and lets the change feed update the
// local store. Remote calls are not retried.
func Live[T any](gw remote.LiveGateway[T]) Strategy[T] {
	return Strategy[T]{gateway: gw, live: gw, retry: retry.Policy{MaxAttempts: 1}}
}

// IsLive reports whether s was built with Live.
func (s Strategy[T]) IsLive() bool { return s.live != nil }

type Config[T any] struct {
	// Kind names the record kind in logs and state messages.
	Kind     string
	Local    LocalStore[T]
	Strategy Strategy[T]

	// Pool runs background pushes. When nil the repository creates and
	// owns a pool of Workers tasks.
	Pool    *worker.Pool
	Workers int

	// Defaults are seeded on the first refresh of an empty account.
	Defaults []T
	Logger   *log.Logger
}

// Repository synchronizes one record kind.
type Repository[T Record[T]] struct {
	kind     string
	local    LocalStore[T]
	strategy Strategy[T]
	pool     *worker.Pool
	ownsPool bool
	defaults []T
	logger   *log.Logger
	events   *log.StructuredLogger
	network  *stateHub

	mu        sync.Mutex
	inflight  map[int64]struct{}
	listeners []func(ctx context.Context)

	stopFeed context.CancelFunc
	feedDone chan struct{}
	closed   bool
}

func New[T Record[T]](cfg Config[T]) (*Repository[T], error) {
	if cfg.Local == nil {
		return nil, errors.New("repository: local store is required")
	}
	if cfg.Strategy.gateway == nil {
		return nil, errors.New("repository: remote gateway is required")
	}
	if cfg.Kind == "" {
		cfg.Kind = "records"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default(log.ComponentSync)
	}
	logger = logger.With(log.FieldRecordKind, cfg.Kind)

	r := &Repository[T]{
		kind:     cfg.Kind,
		local:    cfg.Local,
		strategy: cfg.Strategy,
		pool:     cfg.Pool,
		defaults: cfg.Defaults,
		logger:   logger,
		events:   log.NewStructuredLogger(logger),
		network:  newStateHub(),
		inflight: make(map[int64]struct{}),
	}
	if r.pool == nil {
		workers := cfg.Workers
		if workers < 1 {
			workers = 4
		}
		r.pool = worker.NewPool(workers, logger.WithComponent(log.ComponentWorker))
		r.ownsPool = true
	}

	if r.strategy.IsLive() {
		ctx, cancel := context.WithCancel(context.Background())
		r.stopFeed = cancel
		r.feedDone = make(chan struct{})
		go r.runLiveFeed(ctx)
	}
	return r, nil
}

// Kind returns the configured record kind name.
func (r *Repository[T]) Kind() string { return r.kind }

// ObserveAll emits the visible records now and after every local change.
func (r *Repository[T]) ObserveAll(ctx context.Context) (<-chan []T, error) {
	return r.local.Observe(ctx)
}

// List returns the visible records.
func (r *Repository[T]) List(ctx context.Context) ([]T, error) {
	return r.local.List(ctx)
}

func (r *Repository[T]) GetByID(ctx context.Context, id int64) (T, bool, error) {
	return r.local.GetByID(ctx, id)
}

// Upsert validates rec and stores it. On the polling path the record is
// written as PENDING_UPLOAD and pushed in the background; on the live path
// the remote write happens first and its failure is returned without any
// local change.
func (r *Repository[T]) Upsert(ctx context.Context, rec T) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}

	acked, err := r.ackedLocally(ctx, rec.RecordID())
	if err != nil {
		return 0, err
	}

	if r.strategy.IsLive() {
		return r.upsertLive(ctx, rec, acked)
	}

	id, err := r.local.Upsert(ctx, rec.WithState(core.SyncState{Status: core.PendingUpload, RemoteAcked: acked}))
	if err != nil {
		return 0, err
	}
	r.changed(ctx)
	r.schedule(id)
	return id, nil
}

func (r *Repository[T]) upsertLive(ctx context.Context, rec T, acked bool) (int64, error) {
	localID := rec.RecordID()
	saved, err := r.strategy.gateway.Upsert(ctx, rec.WithState(core.SyncState{Status: core.PendingUpload, RemoteAcked: acked}))
	if err != nil {
		r.logger.WarnContext(ctx, "Remote upsert failed",
			log.NewFields().WithOperation(log.OpUpsert).WithError(err).ToSlice()...)
		return 0, err
	}

	stored := saved.WithState(core.SyncState{Status: core.Synced, RemoteAcked: true})
	if localID != 0 && localID != stored.RecordID() {
		err = r.local.Rekey(ctx, localID, stored)
	} else {
		_, err = r.local.Upsert(ctx, stored)
	}
	if err != nil {
		return 0, err
	}
	r.changed(ctx)
	return stored.RecordID(), nil
}

// Delete removes the record with id. A record the remote never
// acknowledged is dropped locally without a remote call.
func (r *Repository[T]) Delete(ctx context.Context, id int64) error {
	rec, ok, err := r.local.GetByID(ctx, id)
	if err != nil || !ok {
		return err
	}

	if !rec.State().RemoteAcked {
		if err := r.local.Delete(ctx, id); err != nil {
			return err
		}
		r.changed(ctx)
		return nil
	}

	if r.strategy.IsLive() {
		if err := r.strategy.gateway.Delete(ctx, id); err != nil {
			r.logger.WarnContext(ctx, "Remote delete failed",
				log.NewFields().WithOperation(log.OpDelete).WithRecord(id, string(rec.State().Status)).WithError(err).ToSlice()...)
			return err
		}
		if err := r.local.Delete(ctx, id); err != nil {
			return err
		}
		r.changed(ctx)
		return nil
	}

	if err := r.local.UpdateSyncStatus(ctx, id, core.PendingDelete); err != nil {
		return err
	}
	r.changed(ctx)
	r.schedule(id)
	return nil
}

// RefreshFromRemote pulls the remote state into the local store and, on the
// polling path, replays pending writes. Remote failures are reported through
// NetworkState; only local storage faults are returned.
func (r *Repository[T]) RefreshFromRemote(ctx context.Context) error {
	r.setState(NetworkLoading, fmt.Sprintf("Syncing %s", r.kind))

	remoteRecs, err := retry.Do(ctx, r.strategy.retry, "download "+r.kind, r.strategy.gateway.Download)
	if err != nil {
		r.logger.WarnContext(ctx, "Remote download failed",
			log.NewFields().WithOperation(log.OpRefresh).WithError(err).WithErrorType(log.ErrorTypeNetwork).ToSlice()...)
		r.setState(NetworkError, errorMessage(err))
		return nil
	}

	if len(remoteRecs) == 0 && len(r.defaults) > 0 {
		n, err := r.local.CountAll(ctx)
		if err != nil {
			return r.storageFailed(ctx, err)
		}
		if n == 0 {
			return r.seed(ctx)
		}
	}

	if err := r.merge(ctx, remoteRecs); err != nil {
		return r.storageFailed(ctx, err)
	}

	if !r.strategy.IsLive() {
		failed, err := r.replayPending(ctx)
		if err != nil {
			return r.storageFailed(ctx, err)
		}
		if failed > 0 {
			r.setState(NetworkError, fmt.Sprintf("%d pending %s could not be pushed", failed, r.kind))
			return nil
		}
	}

	r.setState(NetworkSuccess, fmt.Sprintf("%s synchronized", r.kind))
	return nil
}

// merge writes remote records as SYNCED, leaving locally pending rows
// untouched, and drops local SYNCED rows the remote no longer has.
func (r *Repository[T]) merge(ctx context.Context, remoteRecs []T) error {
	locals, err := r.local.ListAll(ctx)
	if err != nil {
		return err
	}
	byID := make(map[int64]T, len(locals))
	for _, rec := range locals {
		byID[rec.RecordID()] = rec
	}

	synced := core.SyncState{Status: core.Synced, RemoteAcked: true}
	seen := make(map[int64]struct{}, len(remoteRecs))
	var writes []T
	for _, rec := range remoteRecs {
		seen[rec.RecordID()] = struct{}{}
		cur, ok := byID[rec.RecordID()]
		if ok && cur.State().Status != core.Synced {
			continue
		}
		next := rec.WithState(synced)
		if ok && cur == next {
			continue
		}
		writes = append(writes, next)
	}

	var stale []int64
	for _, rec := range locals {
		if _, ok := seen[rec.RecordID()]; ok {
			continue
		}
		if rec.State().Status == core.Synced {
			stale = append(stale, rec.RecordID())
		}
	}

	if len(writes) > 0 {
		if _, err := r.local.UpsertMany(ctx, writes); err != nil {
			return err
		}
	}
	for _, id := range stale {
		if err := r.local.Delete(ctx, id); err != nil {
			return err
		}
	}
	if len(writes) > 0 || len(stale) > 0 {
		r.logger.InfoContext(ctx, "Merged remote records",
			log.FieldOperation, log.OpRefresh,
			"written", len(writes),
			"pruned", len(stale))
		r.changed(ctx)
	}
	return nil
}

// seed writes the defaults to the remote, then locally as SYNCED. Defaults
// the remote refused are kept locally as PENDING_UPLOAD for a later replay.
func (r *Repository[T]) seed(ctx context.Context) error {
	var (
		stored  []T
		lastErr error
	)
	for _, d := range r.defaults {
		d = d.WithID(0)
		if lastErr == nil {
			saved, err := retry.Do(ctx, r.strategy.retry, "seed "+r.kind, func(ctx context.Context) (T, error) {
				return r.strategy.gateway.Upsert(ctx, d.WithState(core.SyncState{Status: core.PendingUpload}))
			})
			if err == nil {
				stored = append(stored, saved.WithState(core.SyncState{Status: core.Synced, RemoteAcked: true}))
				continue
			}
			lastErr = err
		}
		stored = append(stored, d.WithState(core.SyncState{Status: core.PendingUpload}))
	}

	if _, err := r.local.UpsertMany(ctx, stored); err != nil {
		return r.storageFailed(ctx, err)
	}
	r.changed(ctx)

	if lastErr != nil {
		r.logger.WarnContext(ctx, "Seeding remote defaults failed",
			log.NewFields().WithOperation(log.OpSeed).WithError(lastErr).ToSlice()...)
		r.setState(NetworkError, errorMessage(lastErr))
		return nil
	}
	r.logger.InfoContext(ctx, "Seeded default records", log.FieldOperation, log.OpSeed, log.FieldCount, len(stored))
	r.setState(NetworkSuccess, fmt.Sprintf("%s synchronized", r.kind))
	return nil
}

// EnsureSeedData stores defaults when the local table is empty. The
// records go through Upsert, so they reach the remote the same way user
// writes do.
func (r *Repository[T]) EnsureSeedData(ctx context.Context, defaults []T) error {
	n, err := r.local.CountAll(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, d := range defaults {
		if _, err := r.Upsert(ctx, d.WithID(0).WithState(core.SyncState{})); err != nil {
			return fmt.Errorf("seed %s: %w", r.kind, err)
		}
	}
	return nil
}

// ClearLocalData empties the local table. The remote is not touched.
func (r *Repository[T]) ClearLocalData(ctx context.Context) error {
	if err := r.local.DeleteAll(ctx); err != nil {
		return err
	}
	r.changed(ctx)
	r.setState(NetworkIdle, "")
	return nil
}

// NetworkState returns the latest remote activity state.
func (r *Repository[T]) NetworkState() NetworkState { return r.network.get() }

// States emits the current NetworkState and every later change until ctx
// is done.
func (r *Repository[T]) States(ctx context.Context) <-chan NetworkState {
	return r.network.subscribe(ctx)
}

// OnChange registers fn to run after every local mutation made by the
// repository, including those driven by the remote.
func (r *Repository[T]) OnChange(fn func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Go runs fn on the repository's task pool.
func (r *Repository[T]) Go(name string, fn func(ctx context.Context) error) error {
	return r.pool.Go(name, fn)
}

// Close stops the live feed and waits for background tasks. Tasks still
// running when ctx ends are cancelled; their rows stay pending and are
// replayed by the next refresh.
func (r *Repository[T]) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.stopFeed != nil {
		r.stopFeed()
		select {
		case <-r.feedDone:
		case <-ctx.Done():
		}
	}

	var err error
	if r.ownsPool {
		err = r.pool.Close(ctx)
	}
	r.network.close()
	return err
}

func (r *Repository[T]) ackedLocally(ctx context.Context, id int64) (bool, error) {
	if id == 0 {
		return false, nil
	}
	existing, ok, err := r.local.GetByID(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	return existing.State().RemoteAcked, nil
}

func (r *Repository[T]) changed(ctx context.Context) {
	r.mu.Lock()
	listeners := append([]func(context.Context){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(ctx)
	}
}

func (r *Repository[T]) setState(kind NetworkKind, msg string) {
	r.network.set(NetworkState{Kind: kind, Message: msg})
}

func (r *Repository[T]) storageFailed(ctx context.Context, err error) error {
	r.events.LogError(ctx, "Local store failed during sync", err, log.OpRefresh,
		log.NewFields().WithErrorType(log.ErrorTypeDatabase))
	r.setState(NetworkError, errorMessage(err))
	return err
}

func errorMessage(err error) string {
	var f *remote.Failure
	if errors.As(err, &f) && f.Err != nil {
		return f.Err.Error()
	}
	return err.Error()
}
