// Package aggregate maintains per-month income and expense summaries by
// applying signed transaction deltas.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"finsync/internal/core"
)

// Monthly is the summary of one yyyy-mm bucket. All values are cents and
// never negative; categories that drop to zero are removed.
type Monthly struct {
	MonthKey           string
	TotalIncome        int64
	TotalExpense       int64
	ExpensesByCategory map[string]int64
	IncomesByCategory  map[string]int64
}

// Tx is the read-then-write view a store hands to ApplyInTx. Every Get for a
// transaction must be issued before its first Set.
type Tx interface {
	Get(ctx context.Context, monthKey string) (Monthly, bool, error)
	Set(ctx context.Context, agg Monthly) error
}

// Store persists monthly aggregates and runs serializable transactions.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, monthKey string) (Monthly, bool, error)
	DeleteAll(ctx context.Context) error
}

// Empty returns a zero aggregate for monthKey.
func Empty(monthKey string) Monthly {
	return Monthly{
		MonthKey:           monthKey,
		ExpensesByCategory: map[string]int64{},
		IncomesByCategory:  map[string]int64{},
	}
}

// Clone returns a deep copy of m.
func (m Monthly) Clone() Monthly {
	c := m
	c.ExpensesByCategory = maps.Clone(m.ExpensesByCategory)
	c.IncomesByCategory = maps.Clone(m.IncomesByCategory)
	if c.ExpensesByCategory == nil {
		c.ExpensesByCategory = map[string]int64{}
	}
	if c.IncomesByCategory == nil {
		c.IncomesByCategory = map[string]int64{}
	}
	return c
}

// Net is income minus expense for the month.
func (m Monthly) Net() int64 { return m.TotalIncome - m.TotalExpense }

// IsZero reports whether the aggregate carries no amounts.
func (m Monthly) IsZero() bool {
	return m.TotalIncome == 0 && m.TotalExpense == 0 &&
		len(m.ExpensesByCategory) == 0 && len(m.IncomesByCategory) == 0
}

// Apply returns agg with tx added (sign +1) or retracted (sign -1).
// agg is not modified.
func Apply(agg Monthly, tx core.Transaction, sign int) Monthly {
	out := agg.Clone()
	delta := int64(sign) * abs(tx.AmountCents)
	cat := tx.Category

	if core.TypeFromStorage(string(tx.Type)) == core.Income {
		out.TotalIncome = clamp(out.TotalIncome + delta)
		bump(out.IncomesByCategory, cat, delta)
	} else {
		out.TotalExpense = clamp(out.TotalExpense + delta)
		bump(out.ExpensesByCategory, cat, delta)
	}
	return out
}

// ApplyInTx retracts prev and applies next inside tx. Either side may be nil.
// All affected months are read before anything is written.
func ApplyInTx(ctx context.Context, tx Tx, prev, next *core.Transaction) error {
	keys := affectedKeys(prev, next)
	if len(keys) == 0 {
		return nil
	}

	current := make(map[string]Monthly, len(keys))
	for _, k := range keys {
		agg, ok, err := tx.Get(ctx, k)
		if err != nil {
			return fmt.Errorf("read aggregate %s: %w", k, err)
		}
		if !ok {
			agg = Empty(k)
		}
		current[k] = agg
	}

	if prev != nil {
		k := monthKey(*prev)
		current[k] = Apply(current[k], *prev, -1)
	}
	if next != nil {
		k := monthKey(*next)
		current[k] = Apply(current[k], *next, +1)
	}

	for _, k := range keys {
		if err := tx.Set(ctx, current[k]); err != nil {
			return fmt.Errorf("write aggregate %s: %w", k, err)
		}
	}
	return nil
}

// Build computes the aggregates of a full transaction list.
func Build(txs []core.Transaction) map[string]Monthly {
	out := map[string]Monthly{}
	for _, tx := range txs {
		k := monthKey(tx)
		agg, ok := out[k]
		if !ok {
			agg = Empty(k)
		}
		out[k] = Apply(agg, tx, +1)
	}
	return out
}

// Maintainer applies transaction deltas to a Store.
type Maintainer struct {
	store Store
}

func NewMaintainer(store Store) *Maintainer {
	return &Maintainer{store: store}
}

// Store returns the backing store.
func (m *Maintainer) Store() Store { return m.store }

// ApplyDelta retracts prev and applies next in one store transaction.
func (m *Maintainer) ApplyDelta(ctx context.Context, prev, next *core.Transaction) error {
	if prev == nil && next == nil {
		return nil
	}
	err := m.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return ApplyInTx(ctx, tx, prev, next)
	})
	if err != nil {
		return fmt.Errorf("apply aggregate delta: %w", err)
	}
	return nil
}

// Rebuild replaces every stored aggregate with the totals of txs.
func (m *Maintainer) Rebuild(ctx context.Context, txs []core.Transaction) error {
	if err := m.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear aggregates: %w", err)
	}
	built := Build(txs)
	err := m.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		for _, k := range slices.Sorted(maps.Keys(built)) {
			if err := tx.Set(ctx, built[k]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild aggregates: %w", err)
	}
	slog.InfoContext(ctx, "Monthly aggregates rebuilt", "months", len(built), "transactions", len(txs))
	return nil
}

// Get returns the aggregate of monthKey, or an empty one when none exists.
func (m *Maintainer) Get(ctx context.Context, monthKey string) (Monthly, error) {
	agg, ok, err := m.store.Get(ctx, monthKey)
	if err != nil {
		return Monthly{}, fmt.Errorf("get aggregate %s: %w", monthKey, err)
	}
	if !ok {
		return Empty(monthKey), nil
	}
	return agg, nil
}

// Clear deletes every stored aggregate.
func (m *Maintainer) Clear(ctx context.Context) error {
	return m.store.DeleteAll(ctx)
}

func affectedKeys(prev, next *core.Transaction) []string {
	var keys []string
	if prev != nil {
		keys = append(keys, monthKey(*prev))
	}
	if next != nil {
		if k := monthKey(*next); len(keys) == 0 || keys[0] != k {
			keys = append(keys, k)
		}
	}
	return keys
}

func monthKey(tx core.Transaction) string {
	if tx.MonthKey != "" {
		return tx.MonthKey
	}
	return core.MonthKeyOf(tx.Date)
}

func bump(m map[string]int64, cat string, delta int64) {
	v := m[cat] + delta
	if v <= 0 {
		delete(m, cat)
		return
	}
	m[cat] = v
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
