package aggregate

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. Transactions hold an exclusive lock
// and commit staged writes only when fn returns nil.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]Monthly
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]Monthly{}}
}

type memTx struct {
	base   map[string]Monthly
	staged map[string]Monthly
}

func (t *memTx) Get(_ context.Context, monthKey string) (Monthly, bool, error) {
	if agg, ok := t.staged[monthKey]; ok {
		return agg.Clone(), true, nil
	}
	agg, ok := t.base[monthKey]
	if !ok {
		return Monthly{}, false, nil
	}
	return agg.Clone(), true, nil
}

func (t *memTx) Set(_ context.Context, agg Monthly) error {
	t.staged[agg.MonthKey] = agg.Clone()
	return nil
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{base: s.data, staged: map[string]Monthly{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for k, v := range tx.staged {
		s.data[k] = v
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, monthKey string) (Monthly, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.data[monthKey]
	if !ok {
		return Monthly{}, false, nil
	}
	return agg.Clone(), true, nil
}

func (s *MemoryStore) DeleteAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = map[string]Monthly{}
	return nil
}
