package storage

import (
	"context"
	"slices"
	"sync"
)

// broadcaster fans list snapshots out to observers. Each observer holds at
// most one undelivered snapshot; a newer one replaces it.
type broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan []T
	nextID int
	closed bool
}

func newBroadcaster[T any]() *broadcaster[T] {
	return &broadcaster[T]{subs: make(map[int]chan []T)}
}

// subscribe registers an observer and delivers the snapshot produced by
// load. The channel closes when ctx is done or the broadcaster shuts down.
func (b *broadcaster[T]) subscribe(ctx context.Context, load func() ([]T, error)) (<-chan []T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []T, 1)
	if b.closed {
		close(ch)
		return ch, nil
	}

	list, err := load()
	if err != nil {
		return nil, err
	}
	ch <- list

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}()
	return ch, nil
}

// publish loads a fresh snapshot and hands it to every observer.
func (b *broadcaster[T]) publish(load func() ([]T, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subs) == 0 {
		return nil
	}
	list, err := load()
	if err != nil {
		return err
	}
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- slices.Clone(list)
	}
	return nil
}

func (b *broadcaster[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
