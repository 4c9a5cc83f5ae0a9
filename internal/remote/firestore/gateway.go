package firestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"finsync/internal/core"
	"finsync/internal/remote"
)

const (
	reconnectInitial = time.Second
	reconnectMax     = 30 * time.Second
)

// txHook runs inside the document transaction after the previous document
// has been read and before it is written.
type txHook[T any] func(ctx context.Context, tx *firestore.Transaction, prev, next *T) error

type codec[T any] struct {
	toDoc   func(T) any
	fromDoc func(snap *firestore.DocumentSnapshot) (T, error)
}

// Gateway implements remote.LiveGateway for one user collection.
type Gateway[T core.Record[T]] struct {
	client *firestore.Client
	coll   *firestore.CollectionRef
	codec  codec[T]
	hook   txHook[T]
}

var (
	_ remote.LiveGateway[core.Transaction] = (*Gateway[core.Transaction])(nil)
	_ remote.LiveGateway[core.BudgetGoal]  = (*Gateway[core.BudgetGoal])(nil)
)

func newGateway[T core.Record[T]](client *firestore.Client, coll *firestore.CollectionRef, c codec[T], hook txHook[T]) *Gateway[T] {
	return &Gateway[T]{client: client, coll: coll, codec: c, hook: hook}
}

func (g *Gateway[T]) Download(ctx context.Context) ([]T, error) {
	snaps, err := g.coll.Documents(ctx).GetAll()
	if err != nil {
		return nil, remote.Fail("download "+g.coll.ID, err)
	}
	out := make([]T, 0, len(snaps))
	for _, snap := range snaps {
		rec, err := g.codec.fromDoc(snap)
		if err != nil {
			return nil, remote.Fail("download "+g.coll.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Upsert writes rec under its id, or under a fresh id when it has none.
// The previous document and every affected aggregate are read before any
// write, in one transaction.
func (g *Gateway[T]) Upsert(ctx context.Context, rec T) (T, error) {
	var zero T
	id := rec.RecordID()
	if id <= 0 {
		id = NewID()
	}
	stored := rec.WithID(id).WithState(core.SyncState{Status: core.Synced, RemoteAcked: true})
	ref := g.coll.Doc(strconv.FormatInt(id, 10))

	err := g.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		prev, err := g.read(tx, ref)
		if err != nil {
			return err
		}
		if g.hook != nil {
			if err := g.hook(ctx, tx, prev, &stored); err != nil {
				return err
			}
		}
		return tx.Set(ref, g.codec.toDoc(stored))
	})
	if err != nil {
		return zero, remote.Fail("upsert "+g.coll.ID, err)
	}
	return stored, nil
}

// Delete removes the document and retracts it from the aggregates. A
// missing document is not an error.
func (g *Gateway[T]) Delete(ctx context.Context, id int64) error {
	ref := g.coll.Doc(strconv.FormatInt(id, 10))
	err := g.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		prev, err := g.read(tx, ref)
		if err != nil || prev == nil {
			return err
		}
		if g.hook != nil {
			if err := g.hook(ctx, tx, prev, nil); err != nil {
				return err
			}
		}
		return tx.Delete(ref)
	})
	if err != nil {
		return remote.Fail("delete "+g.coll.ID, err)
	}
	return nil
}

// ObserveChanges listens to collection snapshots and reconnects with
// backoff after any stream error until ctx is done.
func (g *Gateway[T]) ObserveChanges(ctx context.Context) <-chan remote.Delta[T] {
	out := make(chan remote.Delta[T])
	go func() {
		defer close(out)
		backoff := reconnectInitial
		for ctx.Err() == nil {
			err := g.listen(ctx, out, func() { backoff = reconnectInitial })
			if ctx.Err() != nil {
				return
			}
			slog.WarnContext(ctx, "Firestore listener dropped, reconnecting",
				"collection", g.coll.ID,
				"delay", backoff,
				"error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, reconnectMax)
		}
	}()
	return out
}

func (g *Gateway[T]) listen(ctx context.Context, out chan<- remote.Delta[T], connected func()) error {
	it := g.coll.Snapshots(ctx)
	defer it.Stop()

	for {
		qs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return errors.New("snapshot stream ended")
		}
		if err != nil {
			return err
		}
		connected()

		delta, err := g.deltaOf(qs.Changes)
		if err != nil {
			slog.WarnContext(ctx, "Skipping undecodable snapshot", "collection", g.coll.ID, "error", err)
			continue
		}
		if delta.Empty() {
			continue
		}
		select {
		case out <- delta:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Gateway[T]) deltaOf(changes []firestore.DocumentChange) (remote.Delta[T], error) {
	var d remote.Delta[T]
	for _, ch := range changes {
		switch ch.Kind {
		case firestore.DocumentAdded, firestore.DocumentModified:
			rec, err := g.codec.fromDoc(ch.Doc)
			if err != nil {
				return remote.Delta[T]{}, err
			}
			d.Upserts = append(d.Upserts, rec)
		case firestore.DocumentRemoved:
			id, err := strconv.ParseInt(ch.Doc.Ref.ID, 10, 64)
			if err != nil {
				return remote.Delta[T]{}, fmt.Errorf("document id %q: %w", ch.Doc.Ref.ID, err)
			}
			d.DeletedIDs = append(d.DeletedIDs, id)
		}
	}
	return d, nil
}

func (g *Gateway[T]) read(tx *firestore.Transaction, ref *firestore.DocumentRef) (*T, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, nil
	}
	rec, err := g.codec.fromDoc(snap)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// NewID derives a positive document id from a random UUID. The value fits
// in 53 bits so it survives JSON clients that decode numbers as doubles.
func NewID() int64 {
	u := uuid.New()
	id := int64(binary.BigEndian.Uint64(u[:8]) & (1<<53 - 1))
	if id == 0 {
		return 1
	}
	return id
}
