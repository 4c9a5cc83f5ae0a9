// Package memory is an in-process remote. It backs the memory backend and
// stands in for the ledger service in tests.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"finsync/internal/core"
	"finsync/internal/remote"
)

// ErrUnavailable is returned while the gateway is marked down.
var ErrUnavailable = errors.New("remote unavailable")

const (
	OpDownload = "download"
	OpUpsert   = "upsert"
	OpDelete   = "delete"
)

// ChangeHook runs under the gateway lock for every stored change, the way a
// document-store transaction would.
type ChangeHook[T any] func(ctx context.Context, prev, next *T) error

type Option[T core.Record[T]] func(*Gateway[T])

// WithServerIDs makes the gateway assign its own ids to records it has
// never acknowledged, starting at first.
func WithServerIDs[T core.Record[T]](first int64) Option[T] {
	return func(g *Gateway[T]) {
		g.assignIDs = true
		g.nextID = first
	}
}

// WithChangeHook installs hook.
func WithChangeHook[T core.Record[T]](hook ChangeHook[T]) Option[T] {
	return func(g *Gateway[T]) { g.hook = hook }
}

// Gateway implements remote.LiveGateway over a map.
type Gateway[T core.Record[T]] struct {
	mu        sync.Mutex
	items     map[int64]T
	order     []int64
	nextID    int64
	assignIDs bool
	hook      ChangeHook[T]

	down     error
	failNext map[string]int
	calls    map[string]int

	// sendMu is held for reading while deltas are delivered and for
	// writing while an observer channel is closed.
	sendMu  sync.RWMutex
	subs    map[int]subscriber[T]
	nextSub int
}

type subscriber[T any] struct {
	ch   chan remote.Delta[T]
	done <-chan struct{}
}

var _ remote.LiveGateway[core.Transaction] = (*Gateway[core.Transaction])(nil)

func New[T core.Record[T]](opts ...Option[T]) *Gateway[T] {
	g := &Gateway[T]{
		items:    map[int64]T{},
		nextID:   1,
		failNext: map[string]int{},
		calls:    map[string]int{},
		subs:     map[int]subscriber[T]{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway[T]) Download(ctx context.Context) ([]T, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpDownload); err != nil {
		return nil, err
	}
	return g.snapshot(), nil
}

func (g *Gateway[T]) Upsert(ctx context.Context, rec T) (T, error) {
	g.mu.Lock()
	var zero T
	if err := g.enter(OpUpsert); err != nil {
		g.mu.Unlock()
		return zero, err
	}

	// Non-positive ids are local-only and never become remote ids.
	id := rec.RecordID()
	if id <= 0 || (g.assignIDs && !rec.State().RemoteAcked) {
		id = g.nextID
	}
	if id >= g.nextID {
		g.nextID = id + 1
	}
	stored := rec.WithID(id).WithState(core.SyncState{Status: core.Synced, RemoteAcked: true})

	prev, had := g.items[id]
	if g.hook != nil {
		var p *T
		if had {
			p = &prev
		}
		if err := g.hook(ctx, p, &stored); err != nil {
			g.mu.Unlock()
			return zero, remote.Fail(OpUpsert, err)
		}
	}
	if !had {
		g.order = append(g.order, id)
	}
	g.items[id] = stored
	subs := g.subscribers()
	g.mu.Unlock()

	g.emit(ctx, subs, remote.Delta[T]{Upserts: []T{stored}})
	return stored, nil
}

func (g *Gateway[T]) Delete(ctx context.Context, id int64) error {
	g.mu.Lock()
	if err := g.enter(OpDelete); err != nil {
		g.mu.Unlock()
		return err
	}
	prev, had := g.items[id]
	if !had {
		g.mu.Unlock()
		return nil
	}
	if g.hook != nil {
		if err := g.hook(ctx, &prev, nil); err != nil {
			g.mu.Unlock()
			return remote.Fail(OpDelete, err)
		}
	}
	delete(g.items, id)
	g.order = slices.DeleteFunc(g.order, func(v int64) bool { return v == id })
	subs := g.subscribers()
	g.mu.Unlock()

	g.emit(ctx, subs, remote.Delta[T]{DeletedIDs: []int64{id}})
	return nil
}

// ObserveChanges streams every change made through this gateway, including
// those injected with Apply.
func (g *Gateway[T]) ObserveChanges(ctx context.Context) <-chan remote.Delta[T] {
	ch := make(chan remote.Delta[T], 64)
	g.mu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = subscriber[T]{ch: ch, done: ctx.Done()}
	g.mu.Unlock()

	go func() {
		<-ctx.Done()
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()

		g.sendMu.Lock()
		close(ch)
		g.sendMu.Unlock()
	}()
	return ch
}

// Apply simulates a change made by another device: records are stored as
// given and the delta is emitted to observers. No failure injection applies.
func (g *Gateway[T]) Apply(ctx context.Context, d remote.Delta[T]) {
	g.mu.Lock()
	for _, rec := range d.Upserts {
		id := rec.RecordID()
		if _, ok := g.items[id]; !ok {
			g.order = append(g.order, id)
		}
		g.items[id] = rec.WithState(core.SyncState{Status: core.Synced, RemoteAcked: true})
		if id >= g.nextID {
			g.nextID = id + 1
		}
	}
	for _, id := range d.DeletedIDs {
		delete(g.items, id)
		g.order = slices.DeleteFunc(g.order, func(v int64) bool { return v == id })
	}
	subs := g.subscribers()
	g.mu.Unlock()

	g.emit(ctx, subs, d)
}

// Seed stores records without emitting changes or counting calls.
func (g *Gateway[T]) Seed(recs ...T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, rec := range recs {
		id := rec.RecordID()
		if _, ok := g.items[id]; !ok {
			g.order = append(g.order, id)
		}
		g.items[id] = rec.WithState(core.SyncState{Status: core.Synced, RemoteAcked: true})
		if id >= g.nextID {
			g.nextID = id + 1
		}
	}
}

// Records returns the stored records in insertion order.
func (g *Gateway[T]) Records() []T {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot()
}

// SetDown makes every call fail with err until cleared with nil.
func (g *Gateway[T]) SetDown(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.down = err
}

// FailNext makes the next n calls of op fail.
func (g *Gateway[T]) FailNext(op string, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext[op] = n
}

// Calls returns how many times op was attempted.
func (g *Gateway[T]) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *Gateway[T]) enter(op string) error {
	g.calls[op]++
	if g.down != nil {
		return remote.Fail(op, g.down)
	}
	if g.failNext[op] > 0 {
		g.failNext[op]--
		return remote.Fail(op, ErrUnavailable)
	}
	return nil
}

func (g *Gateway[T]) snapshot() []T {
	out := make([]T, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.items[id])
	}
	return out
}

func (g *Gateway[T]) subscribers() []subscriber[T] {
	out := make([]subscriber[T], 0, len(g.subs))
	for _, s := range g.subs {
		out = append(out, s)
	}
	return out
}

func (g *Gateway[T]) emit(ctx context.Context, subs []subscriber[T], d remote.Delta[T]) {
	g.sendMu.RLock()
	defer g.sendMu.RUnlock()
	for _, s := range subs {
		select {
		case s.ch <- d:
		case <-s.done:
		case <-ctx.Done():
			return
		}
	}
}
