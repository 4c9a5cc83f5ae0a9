package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"finsync/internal/aggregate"
	"finsync/internal/core"
)

// AggregateStore keeps the remote monthly aggregates. It implements
// aggregate.Store on Firestore transactions.
type AggregateStore struct {
	client *firestore.Client
	coll   *firestore.CollectionRef
}

var _ aggregate.Store = (*AggregateStore)(nil)

type fsAggregateTx struct {
	tx   *firestore.Transaction
	coll *firestore.CollectionRef
}

func (t fsAggregateTx) Get(_ context.Context, monthKey string) (aggregate.Monthly, bool, error) {
	snap, err := t.tx.Get(t.coll.Doc(monthKey))
	return decodeAggregate(monthKey, snap, err)
}

func (t fsAggregateTx) Set(_ context.Context, agg aggregate.Monthly) error {
	return t.tx.Set(t.coll.Doc(agg.MonthKey), aggregateToDoc(agg))
}

func (s *AggregateStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx aggregate.Tx) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, fsAggregateTx{tx: tx, coll: s.coll})
	})
}

func (s *AggregateStore) Get(ctx context.Context, monthKey string) (aggregate.Monthly, bool, error) {
	snap, err := s.coll.Doc(monthKey).Get(ctx)
	return decodeAggregate(monthKey, snap, err)
}

func (s *AggregateStore) DeleteAll(ctx context.Context) error {
	bw := s.client.BulkWriter(ctx)
	it := s.coll.DocumentRefs(ctx)
	for {
		ref, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			bw.End()
			return fmt.Errorf("list aggregate documents: %w", err)
		}
		if _, err := bw.Delete(ref); err != nil {
			bw.End()
			return fmt.Errorf("delete aggregate %s: %w", ref.ID, err)
		}
	}
	bw.End()
	return nil
}

// mirror applies transaction deltas to the aggregates inside the document
// transaction of the change itself.
func (s *AggregateStore) mirror() txHook[core.Transaction] {
	return func(ctx context.Context, tx *firestore.Transaction, prev, next *core.Transaction) error {
		return aggregate.ApplyInTx(ctx, fsAggregateTx{tx: tx, coll: s.coll}, prev, next)
	}
}

func decodeAggregate(monthKey string, snap *firestore.DocumentSnapshot, err error) (aggregate.Monthly, bool, error) {
	if status.Code(err) == codes.NotFound {
		return aggregate.Monthly{}, false, nil
	}
	if err != nil {
		return aggregate.Monthly{}, false, err
	}
	if !snap.Exists() {
		return aggregate.Monthly{}, false, nil
	}
	var d aggregateDoc
	if err := snap.DataTo(&d); err != nil {
		return aggregate.Monthly{}, false, fmt.Errorf("decode aggregate %s: %w", monthKey, err)
	}
	return aggregateFromDoc(monthKey, d), true, nil
}
