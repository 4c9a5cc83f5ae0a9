package backend

import (
	"context"
	"time"

	"finsync/internal/aggregate"
	"finsync/internal/core"
	"finsync/internal/remote/firestore"
	"finsync/internal/repository"
	"finsync/internal/retry"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult carries the remote strategies for both record kinds and
// whatever the backend needs released on shutdown.
type BackendResult struct {
	Transactions repository.Strategy[core.Transaction]
	Budgets      repository.Strategy[core.BudgetGoal]

	// RemoteAggregates is the server-side monthly mirror, nil when the
	// backend does not keep one.
	RemoteAggregates aggregate.Store

	Cleanup CleanupFunc
}

// Close runs Cleanup when set. It satisfies io.Closer.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Retry wraps every remote call of the polling strategies
	Retry retry.Policy

	// REST specific
	LedgerBaseURL string
	LedgerTimeout time.Duration

	// Firestore specific
	Firestore firestore.Config

	// Memory specific
	MemoryLive bool
}

// BackendType represents the type of backend
type BackendType string

const (
	RestBackend      BackendType = "rest"
	FirestoreBackend BackendType = "firestore"
	MemoryBackend    BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case RestBackend, FirestoreBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
