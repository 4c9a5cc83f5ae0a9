package repository

import (
	"context"
	"sync"
)

// NetworkKind is the phase of the last background exchange with the remote.
type NetworkKind int

const (
	NetworkIdle NetworkKind = iota
	NetworkLoading
	NetworkSuccess
	NetworkError
)

func (k NetworkKind) String() string {
	switch k {
	case NetworkLoading:
		return "loading"
	case NetworkSuccess:
		return "success"
	case NetworkError:
		return "error"
	default:
		return "idle"
	}
}

// NetworkState is what observers see of remote activity. Remote failures
// never reach callers as errors; they land here.
type NetworkState struct {
	Kind    NetworkKind
	Message string
}

// stateHub holds the current NetworkState and hands every change to
// subscribers. A slow subscriber only ever sees the latest state.
type stateHub struct {
	mu      sync.Mutex
	current NetworkState
	subs    map[int]chan NetworkState
	nextID  int
	closed  bool
}

func newStateHub() *stateHub {
	return &stateHub{subs: make(map[int]chan NetworkState)}
}

func (h *stateHub) get() NetworkState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *stateHub) set(s NetworkState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = s
	for _, ch := range h.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (h *stateHub) subscribe(ctx context.Context) <-chan NetworkState {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan NetworkState, 1)
	if h.closed {
		close(ch)
		return ch
	}
	ch <- h.current

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}()
	return ch
}

func (h *stateHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
