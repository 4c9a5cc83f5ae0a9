package repository

import (
	"context"

	"finsync/internal/aggregate"
	"finsync/internal/core"
)

// TransactionRepository synchronizes transactions and exposes their monthly
// aggregates. The local aggregate mirror is kept in step by the store
// itself; Aggregates reads it.
type TransactionRepository struct {
	*Repository[core.Transaction]
	aggregates *aggregate.Maintainer
}

func NewTransactionRepository(cfg Config[core.Transaction], aggregates *aggregate.Maintainer) (*TransactionRepository, error) {
	if cfg.Kind == "" {
		cfg.Kind = "transactions"
	}
	repo, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &TransactionRepository{Repository: repo, aggregates: aggregates}, nil
}

// Aggregates returns the maintainer over the local aggregate mirror.
func (r *TransactionRepository) Aggregates() *aggregate.Maintainer { return r.aggregates }

// ForMonth returns the visible transactions of monthKey.
func (r *TransactionRepository) ForMonth(ctx context.Context, monthKey string) ([]core.Transaction, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.Transaction, 0, len(all))
	for _, tx := range all {
		if tx.MonthKey == monthKey {
			out = append(out, tx)
		}
	}
	return out, nil
}

// MonthlySummary returns the aggregate of monthKey, empty when the month
// has no visible transactions.
func (r *TransactionRepository) MonthlySummary(ctx context.Context, monthKey string) (aggregate.Monthly, error) {
	return r.aggregates.Get(ctx, monthKey)
}

// RebuildAggregates recomputes every aggregate from the visible rows.
func (r *TransactionRepository) RebuildAggregates(ctx context.Context) error {
	txs, err := r.List(ctx)
	if err != nil {
		return err
	}
	return r.aggregates.Rebuild(ctx, txs)
}

// ClearLocalData empties the table and its aggregates.
func (r *TransactionRepository) ClearLocalData(ctx context.Context) error {
	if err := r.Repository.ClearLocalData(ctx); err != nil {
		return err
	}
	return r.aggregates.Clear(ctx)
}
