package backend

import (
	"context"
	"fmt"
	"log/slog"

	"finsync/internal/core"
	"finsync/internal/remote/firestore"
	"finsync/internal/remote/memory"
	"finsync/internal/remote/rest"
	"finsync/internal/repository"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case RestBackend:
		return f.createRestBackend(config)
	case FirestoreBackend:
		return f.createFirestoreBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createRestBackend(config Config) (*BackendResult, error) {
	client := rest.NewClient(config.LedgerBaseURL, config.LedgerTimeout)

	f.logger.Info("Initialized REST backend",
		"base_url", client.BaseURL(),
		"timeout", config.LedgerTimeout,
		"max_attempts", config.Retry.MaxAttempts)

	return &BackendResult{
		Transactions: repository.Polling[core.Transaction](rest.NewTransactionGateway(client), config.Retry),
		Budgets:      repository.Polling[core.BudgetGoal](rest.NewBudgetGateway(client), config.Retry),
	}, nil
}

func (f *DefaultFactory) createFirestoreBackend(ctx context.Context, config Config) (*BackendResult, error) {
	fs, err := firestore.Open(ctx, config.Firestore)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firestore backend: %w", err)
	}

	f.logger.Info("Initialized Firestore backend",
		"project", config.Firestore.ProjectID,
		"user", config.Firestore.UserID)

	return &BackendResult{
		Transactions:     repository.Live[core.Transaction](fs.Transactions),
		Budgets:          repository.Live[core.BudgetGoal](fs.Budgets),
		RemoteAggregates: fs.Aggregates,
		Cleanup:          fs.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	txGW := memory.New[core.Transaction]()
	budgetGW := memory.New[core.BudgetGoal]()

	f.logger.Info("Initialized memory backend", "live", config.MemoryLive)

	if config.MemoryLive {
		return &BackendResult{
			Transactions: repository.Live[core.Transaction](txGW),
			Budgets:      repository.Live[core.BudgetGoal](budgetGW),
		}, nil
	}
	return &BackendResult{
		Transactions: repository.Polling[core.Transaction](txGW, config.Retry),
		Budgets:      repository.Polling[core.BudgetGoal](budgetGW, config.Retry),
	}, nil
}
