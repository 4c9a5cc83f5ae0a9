package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"finsync/internal/core"
	"finsync/internal/log"
	"finsync/internal/remote"
	"finsync/internal/retry"
	"finsync/internal/worker"
)

// schedule hands the row with id to a background reconcile unless one is
// already running for it; a running reconcile re-reads the row after every
// remote call and picks up the newer state.
func (r *Repository[T]) schedule(id int64) {
	if !r.claim(id) {
		return
	}
	err := r.pool.Go(fmt.Sprintf("reconcile %s %d", r.kind, id), func(ctx context.Context) error {
		defer r.release(id)
		return r.reconcile(ctx, id)
	})
	if err != nil {
		r.release(id)
		if errors.Is(err, worker.ErrClosed) {
			r.logger.Debug("Pool closed, leaving row pending", log.FieldRecordID, id)
			return
		}
		r.logger.Warn("Failed to schedule push", log.FieldRecordID, id, log.FieldError, err)
	}
}

func (r *Repository[T]) claim(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[id]; busy {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Repository[T]) release(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
}

// reconcile drives the row with id towards SYNCED or removal. On a remote
// failure it stops and leaves the row pending.
func (r *Repository[T]) reconcile(ctx context.Context, id int64) error {
	for {
		rec, ok, err := r.local.GetByID(ctx, id)
		if err != nil || !ok {
			return err
		}

		var again bool
		switch rec.State().Status {
		case core.Synced:
			return nil
		case core.PendingDelete:
			again, err = r.pushDelete(ctx, rec)
		default:
			id, again, err = r.pushUpsert(ctx, rec)
		}
		if err != nil {
			if remote.IsFailure(err) {
				r.setState(NetworkError, errorMessage(err))
			}
			return err
		}
		if !again {
			return nil
		}
	}
}

// pushUpsert sends rec and settles the local row against whatever happened
// to it meanwhile. It returns the row's id after the push and whether the
// row still owes the remote an operation.
func (r *Repository[T]) pushUpsert(ctx context.Context, rec T) (int64, bool, error) {
	localID := rec.RecordID()
	saved, err := retry.Do(ctx, r.strategy.retry, "upsert "+r.kind, func(ctx context.Context) (T, error) {
		return r.strategy.gateway.Upsert(ctx, rec)
	})
	if err != nil {
		r.events.LogSyncFailure(ctx, log.OpPush, localID, string(rec.State().Status), err)
		return localID, false, err
	}
	remoteID := saved.RecordID()

	cur, ok, err := r.local.GetByID(ctx, localID)
	if err != nil {
		return localID, false, err
	}
	if !ok {
		// Deleted locally while the upload was in flight.
		err := retry.Run(ctx, r.strategy.retry, "delete "+r.kind, func(ctx context.Context) error {
			return r.strategy.gateway.Delete(ctx, remoteID)
		})
		return remoteID, false, err
	}

	var next T
	switch {
	case cur.State().Status == core.PendingDelete:
		next = cur.WithID(remoteID).WithState(core.SyncState{Status: core.PendingDelete, RemoteAcked: true})
	case sameContent(cur, rec):
		next = saved.WithState(core.SyncState{Status: core.Synced, RemoteAcked: true})
	default:
		next = cur.WithID(remoteID).WithState(core.SyncState{Status: core.PendingUpload, RemoteAcked: true})
	}

	if remoteID != localID {
		err = r.local.Rekey(ctx, localID, next)
	} else {
		_, err = r.local.Upsert(ctx, next)
	}
	if err != nil {
		return remoteID, false, err
	}
	r.changed(ctx)

	r.logger.DebugContext(ctx, "Pushed record",
		log.NewFields().WithOperation(log.OpPush).WithRecord(remoteID, string(next.State().Status)).ToSlice()...)
	return remoteID, next.State().Status != core.Synced, nil
}

// pushDelete removes rec remotely, then locally if it is still marked for
// deletion.
func (r *Repository[T]) pushDelete(ctx context.Context, rec T) (bool, error) {
	id := rec.RecordID()
	if rec.State().RemoteAcked {
		err := retry.Run(ctx, r.strategy.retry, "delete "+r.kind, func(ctx context.Context) error {
			return r.strategy.gateway.Delete(ctx, id)
		})
		if err != nil {
			r.events.LogSyncFailure(ctx, log.OpDelete, id, string(core.PendingDelete), err)
			return false, err
		}
	}

	cur, ok, err := r.local.GetByID(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	if cur.State().Status != core.PendingDelete {
		// Written again after the delete was issued: upload it as new.
		_, err := r.local.Upsert(ctx, cur.WithState(core.SyncState{Status: core.PendingUpload}))
		return err == nil, err
	}
	if err := r.local.Delete(ctx, id); err != nil {
		return false, err
	}
	r.changed(ctx)
	return false, nil
}

// replayPending reconciles every pending row, several ids at a time. Rows
// already being reconciled in the background are skipped. It returns how
// many rows failed remotely; storage faults abort the replay.
func (r *Repository[T]) replayPending(ctx context.Context) (int, error) {
	pending, err := r.local.GetPending(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	r.logger.InfoContext(ctx, "Replaying pending records", log.FieldOperation, log.OpReplay, log.FieldCount, len(pending))

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.pool.Size())
	for _, rec := range pending {
		id := rec.RecordID()
		if !r.claim(id) {
			continue
		}
		g.Go(func() error {
			defer r.release(id)
			err := r.reconcile(gctx, id)
			if err == nil {
				return nil
			}
			if errors.Is(err, core.ErrStorageFault) {
				return err
			}
			failed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(failed.Load()), err
	}
	return int(failed.Load()), nil
}

// runLiveFeed applies remote deltas to the local store as SYNCED until the
// feed closes.
func (r *Repository[T]) runLiveFeed(ctx context.Context) {
	defer close(r.feedDone)
	for delta := range r.strategy.live.ObserveChanges(ctx) {
		if delta.Empty() {
			continue
		}
		if err := r.applyDelta(ctx, delta); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.ErrorContext(ctx, "Failed to apply remote changes",
				log.NewFields().WithOperation(log.OpLiveFeed).WithError(err).WithErrorType(log.ErrorTypeDatabase).ToSlice()...)
			r.setState(NetworkError, errorMessage(err))
		}
	}
}

func (r *Repository[T]) applyDelta(ctx context.Context, delta remote.Delta[T]) error {
	if len(delta.Upserts) > 0 {
		recs := make([]T, len(delta.Upserts))
		for i, rec := range delta.Upserts {
			recs[i] = rec.WithState(core.SyncState{Status: core.Synced, RemoteAcked: true})
		}
		if _, err := r.local.UpsertMany(ctx, recs); err != nil {
			return err
		}
	}
	for _, id := range delta.DeletedIDs {
		if err := r.local.Delete(ctx, id); err != nil {
			return err
		}
	}
	r.changed(ctx)
	return nil
}

func sameContent[T Record[T]](a, b T) bool {
	return a.WithState(core.SyncState{}) == b.WithState(core.SyncState{})
}
