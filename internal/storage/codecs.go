package storage

import (
	"finsync/internal/core"
)

var transactionCodec = codec[core.Transaction]{
	table:   "transactions",
	columns: []string{"title", "description", "amount_cents", "type", "category", "date", "month_key"},
	values: func(t core.Transaction) []any {
		return []any{t.Title, t.Description, t.AmountCents, core.TypeToStorage(t.Type), t.Category, t.Date, t.MonthKey}
	},
	scan: func(s scanner) (core.Transaction, error) {
		var (
			t      core.Transaction
			typ    string
			status string
			acked  int
		)
		err := s.Scan(&t.ID, &t.Title, &t.Description, &t.AmountCents, &typ, &t.Category, &t.Date, &t.MonthKey, &status, &acked)
		if err != nil {
			return core.Transaction{}, err
		}
		t.Type = core.TypeFromStorage(typ)
		t.Sync = core.SyncState{Status: core.SyncStatus(status), RemoteAcked: acked != 0}
		return t, nil
	},
	normalize: core.Transaction.Normalized,
}

var budgetCodec = codec[core.BudgetGoal]{
	table:   "budgets",
	columns: []string{"category", "limit_cents", "icon_key"},
	values: func(b core.BudgetGoal) []any {
		return []any{b.Category, b.LimitCents, b.IconKey}
	},
	scan: func(s scanner) (core.BudgetGoal, error) {
		var (
			b      core.BudgetGoal
			status string
			acked  int
		)
		if err := s.Scan(&b.ID, &b.Category, &b.LimitCents, &b.IconKey, &status, &acked); err != nil {
			return core.BudgetGoal{}, err
		}
		b.Sync = core.SyncState{Status: core.SyncStatus(status), RemoteAcked: acked != 0}
		return b, nil
	},
	normalize: core.BudgetGoal.Normalized,
}
