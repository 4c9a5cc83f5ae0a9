// Package remote defines the contract between the local cache and the
// source of truth.
package remote

import (
	"context"
	"errors"
	"fmt"
)

// Gateway is the polling contract. Implementations never retry; callers
// wrap each call in a retry policy.
type Gateway[T any] interface {
	// Download returns every remote record.
	Download(ctx context.Context) ([]T, error)
	// Upsert writes rec and returns the stored record. The remote may
	// assign an id different from the local one.
	Upsert(ctx context.Context, rec T) (T, error)
	// Delete removes the record with id. Deleting a missing record succeeds.
	Delete(ctx context.Context, id int64) error
}

// Delta is one batch of remote-side changes delivered by a live feed.
type Delta[T any] struct {
	Upserts    []T
	DeletedIDs []int64
}

// Empty reports whether d carries no change.
func (d Delta[T]) Empty() bool { return len(d.Upserts) == 0 && len(d.DeletedIDs) == 0 }

// LiveGateway adds a change feed. The channel is closed when ctx is done;
// until then the implementation reconnects on its own. Delivery is
// at-least-once with no ordering across records.
type LiveGateway[T any] interface {
	Gateway[T]
	ObserveChanges(ctx context.Context) <-chan Delta[T]
}

// Failure is any error raised by a remote call: transport errors, non-2xx
// responses and document-store errors alike.
type Failure struct {
	Op      string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("remote %s: %s: %v", f.Op, f.Message, f.Err)
	}
	return fmt.Sprintf("remote %s: %s", f.Op, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Fail wraps err as a *Failure unless it already is one.
func Fail(op string, err error) error {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return err
	}
	return &Failure{Op: op, Message: "request failed", Err: err}
}

// Failf builds a *Failure without an underlying cause.
func Failf(op, format string, args ...any) error {
	return &Failure{Op: op, Message: fmt.Sprintf(format, args...)}
}

// IsFailure reports whether err came from a remote call.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}
