package rest

import (
	"fmt"

	"finsync/internal/core"
)

// transactionDTO is the ledger wire shape. Reads accept either a decimal
// amount or integer cents; writes always send cents.
type transactionDTO struct {
	ID          int64    `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
	AmountCents *int64   `json:"amountCents,omitempty"`
	Type        string   `json:"type"`
	Category    string   `json:"category"`
	Date        string   `json:"date"`
	MonthKey    string   `json:"monthKey,omitempty"`
}

type budgetDTO struct {
	ID         int64    `json:"id,omitempty"`
	Category   string   `json:"category"`
	Limit      *float64 `json:"limit,omitempty"`
	LimitCents *int64   `json:"limitCents,omitempty"`
	IconKey    string   `json:"iconKey,omitempty"`
}

func transactionToDTO(t core.Transaction) transactionDTO {
	t = t.Normalized()
	cents := t.AmountCents
	return transactionDTO{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		AmountCents: &cents,
		Type:        core.TypeToStorage(t.Type),
		Category:    t.Category,
		Date:        t.Date,
		MonthKey:    t.MonthKey,
	}
}

func transactionFromDTO(d transactionDTO) (core.Transaction, error) {
	cents, err := centsOf(d.AmountCents, d.Amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", d.ID, err)
	}
	t := core.Transaction{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		AmountCents: cents,
		Type:        core.TypeFromStorage(d.Type),
		Category:    d.Category,
		Date:        d.Date,
		MonthKey:    d.MonthKey,
		Sync:        core.SyncState{Status: core.Synced, RemoteAcked: true},
	}
	return t.Normalized(), nil
}

func budgetToDTO(b core.BudgetGoal) budgetDTO {
	b = b.Normalized()
	cents := b.LimitCents
	return budgetDTO{
		ID:         b.ID,
		Category:   b.Category,
		LimitCents: &cents,
		IconKey:    b.IconKey,
	}
}

func budgetFromDTO(d budgetDTO) (core.BudgetGoal, error) {
	cents, err := centsOf(d.LimitCents, d.Limit)
	if err != nil {
		return core.BudgetGoal{}, fmt.Errorf("budget %d: %w", d.ID, err)
	}
	b := core.BudgetGoal{
		ID:         d.ID,
		Category:   d.Category,
		LimitCents: cents,
		IconKey:    d.IconKey,
		Sync:       core.SyncState{Status: core.Synced, RemoteAcked: true},
	}
	return b.Normalized(), nil
}

func centsOf(cents *int64, amount *float64) (int64, error) {
	switch {
	case cents != nil:
		if *cents < 0 {
			return -*cents, nil
		}
		return *cents, nil
	case amount != nil:
		return core.ToCents(*amount), nil
	}
	return 0, fmt.Errorf("missing amount")
}
