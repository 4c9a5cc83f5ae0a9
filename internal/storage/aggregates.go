package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"finsync/internal/aggregate"
	"finsync/internal/core"
)

// AggregateStore is the local mirror of monthly aggregates. It implements
// aggregate.Store on SQL transactions.
type AggregateStore struct {
	db *sql.DB
}

var _ aggregate.Store = (*AggregateStore)(nil)

type sqlAggregateTx struct {
	tx *sql.Tx
}

func (t sqlAggregateTx) Get(ctx context.Context, monthKey string) (aggregate.Monthly, bool, error) {
	return getAggregate(ctx, t.tx, monthKey)
}

func (t sqlAggregateTx) Set(ctx context.Context, agg aggregate.Monthly) error {
	exp, err := json.Marshal(nonNil(agg.ExpensesByCategory))
	if err != nil {
		return fmt.Errorf("encode expenses by category: %w", err)
	}
	inc, err := json.Marshal(nonNil(agg.IncomesByCategory))
	if err != nil {
		return fmt.Errorf("encode incomes by category: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO monthly_aggregates (month_key, total_income, total_expense, expenses_by_category, incomes_by_category, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(month_key) DO UPDATE SET
			total_income = excluded.total_income,
			total_expense = excluded.total_expense,
			expenses_by_category = excluded.expenses_by_category,
			incomes_by_category = excluded.incomes_by_category,
			updated_at = CURRENT_TIMESTAMP`,
		agg.MonthKey, agg.TotalIncome, agg.TotalExpense, string(exp), string(inc))
	return err
}

func (s *AggregateStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx aggregate.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault("begin aggregate tx", err)
	}
	if err := fn(ctx, sqlAggregateTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return fault("aggregate tx", err)
	}
	return fault("commit aggregate tx", tx.Commit())
}

func (s *AggregateStore) Get(ctx context.Context, monthKey string) (aggregate.Monthly, bool, error) {
	agg, ok, err := getAggregate(ctx, s.db, monthKey)
	return agg, ok, fault("get aggregate", err)
}

// List returns every stored month ordered by key.
func (s *AggregateStore) List(ctx context.Context) ([]aggregate.Monthly, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT month_key, total_income, total_expense, expenses_by_category, incomes_by_category
		FROM monthly_aggregates ORDER BY month_key`)
	if err != nil {
		return nil, fault("list aggregates", err)
	}
	defer rows.Close()

	var out []aggregate.Monthly
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, fault("list aggregates", err)
		}
		out = append(out, agg)
	}
	return out, fault("list aggregates", rows.Err())
}

func (s *AggregateStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM monthly_aggregates")
	return fault("delete aggregates", err)
}

// mirror keeps the aggregates in step with the transactions table inside
// the same SQL transaction as the row change.
func (s *AggregateStore) mirror() Hook[core.Transaction] {
	return aggregateMirror{}
}

type aggregateMirror struct{}

func (aggregateMirror) Changed(ctx context.Context, tx *sql.Tx, prev, next *core.Transaction) error {
	if prev == nil && next == nil {
		return nil
	}
	return aggregate.ApplyInTx(ctx, sqlAggregateTx{tx: tx}, prev, next)
}

func (aggregateMirror) Cleared(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM monthly_aggregates")
	return err
}

func getAggregate(ctx context.Context, q querier, monthKey string) (aggregate.Monthly, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT month_key, total_income, total_expense, expenses_by_category, incomes_by_category
		FROM monthly_aggregates WHERE month_key = ?`, monthKey)
	agg, err := scanAggregate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return aggregate.Monthly{}, false, nil
	}
	if err != nil {
		return aggregate.Monthly{}, false, err
	}
	return agg, true, nil
}

func scanAggregate(s scanner) (aggregate.Monthly, error) {
	var (
		agg      aggregate.Monthly
		exp, inc string
	)
	if err := s.Scan(&agg.MonthKey, &agg.TotalIncome, &agg.TotalExpense, &exp, &inc); err != nil {
		return aggregate.Monthly{}, err
	}
	if err := json.Unmarshal([]byte(exp), &agg.ExpensesByCategory); err != nil {
		return aggregate.Monthly{}, fmt.Errorf("decode expenses by category: %w", err)
	}
	if err := json.Unmarshal([]byte(inc), &agg.IncomesByCategory); err != nil {
		return aggregate.Monthly{}, fmt.Errorf("decode incomes by category: %w", err)
	}
	return agg.Clone(), nil
}

func nonNil(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}
