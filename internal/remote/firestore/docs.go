package firestore

import (
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"

	"finsync/internal/aggregate"
	"finsync/internal/core"
)

// transactionDoc is the stored document. Older documents carry a decimal
// amount instead of amountCents.
type transactionDoc struct {
	ID          int64     `firestore:"id"`
	Title       string    `firestore:"title"`
	Description string    `firestore:"description"`
	AmountCents int64     `firestore:"amountCents"`
	Amount      float64   `firestore:"amount,omitempty"`
	Type        string    `firestore:"type"`
	Category    string    `firestore:"category"`
	Date        string    `firestore:"date"`
	MonthKey    string    `firestore:"monthKey"`
	UpdatedAt   time.Time `firestore:"updatedAt,serverTimestamp"`
}

type budgetDoc struct {
	ID         int64     `firestore:"id"`
	Category   string    `firestore:"category"`
	LimitCents int64     `firestore:"limitCents"`
	Limit      float64   `firestore:"limit,omitempty"`
	IconKey    string    `firestore:"iconKey"`
	UpdatedAt  time.Time `firestore:"updatedAt,serverTimestamp"`
}

type aggregateDoc struct {
	MonthKey           string           `firestore:"monthKey"`
	TotalIncome        int64            `firestore:"totalIncome"`
	TotalExpense       int64            `firestore:"totalExpense"`
	ExpensesByCategory map[string]int64 `firestore:"expensesByCategory"`
	IncomesByCategory  map[string]int64 `firestore:"incomesByCategory"`
	UpdatedAt          time.Time        `firestore:"updatedAt,serverTimestamp"`
}

var transactionCodec = codec[core.Transaction]{
	toDoc: func(t core.Transaction) any { return transactionToDoc(t) },
	fromDoc: func(snap *firestore.DocumentSnapshot) (core.Transaction, error) {
		var d transactionDoc
		if err := snap.DataTo(&d); err != nil {
			return core.Transaction{}, fmt.Errorf("decode transaction %s: %w", snap.Ref.ID, err)
		}
		return transactionFromDoc(snap.Ref.ID, d)
	},
}

var budgetCodec = codec[core.BudgetGoal]{
	toDoc: func(b core.BudgetGoal) any { return budgetToDoc(b) },
	fromDoc: func(snap *firestore.DocumentSnapshot) (core.BudgetGoal, error) {
		var d budgetDoc
		if err := snap.DataTo(&d); err != nil {
			return core.BudgetGoal{}, fmt.Errorf("decode budget %s: %w", snap.Ref.ID, err)
		}
		return budgetFromDoc(snap.Ref.ID, d)
	},
}

func transactionToDoc(t core.Transaction) transactionDoc {
	t = t.Normalized()
	return transactionDoc{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		AmountCents: t.AmountCents,
		Type:        core.TypeToStorage(t.Type),
		Category:    t.Category,
		Date:        t.Date,
		MonthKey:    t.MonthKey,
	}
}

func transactionFromDoc(docID string, d transactionDoc) (core.Transaction, error) {
	id, err := docIDOr(docID, d.ID)
	if err != nil {
		return core.Transaction{}, err
	}
	cents := d.AmountCents
	if cents == 0 && d.Amount != 0 {
		cents = core.ToCents(d.Amount)
	}
	t := core.Transaction{
		ID:          id,
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

func budgetToDoc(b core.BudgetGoal) budgetDoc {
	b = b.Normalized()
	return budgetDoc{
		ID:         b.ID,
		Category:   b.Category,
		LimitCents: b.LimitCents,
		IconKey:    b.IconKey,
	}
}

func budgetFromDoc(docID string, d budgetDoc) (core.BudgetGoal, error) {
	id, err := docIDOr(docID, d.ID)
	if err != nil {
		return core.BudgetGoal{}, err
	}
	cents := d.LimitCents
	if cents == 0 && d.Limit != 0 {
		cents = core.ToCents(d.Limit)
	}
	b := core.BudgetGoal{
		ID:         id,
		Category:   d.Category,
		LimitCents: cents,
		IconKey:    d.IconKey,
		Sync:       core.SyncState{Status: core.Synced, RemoteAcked: true},
	}
	return b.Normalized(), nil
}

func aggregateToDoc(agg aggregate.Monthly) aggregateDoc {
	agg = agg.Clone()
	return aggregateDoc{
		MonthKey:           agg.MonthKey,
		TotalIncome:        agg.TotalIncome,
		TotalExpense:       agg.TotalExpense,
		ExpensesByCategory: agg.ExpensesByCategory,
		IncomesByCategory:  agg.IncomesByCategory,
	}
}

func aggregateFromDoc(docID string, d aggregateDoc) aggregate.Monthly {
	key := d.MonthKey
	if key == "" {
		key = docID
	}
	agg := aggregate.Monthly{
		MonthKey:           key,
		TotalIncome:        d.TotalIncome,
		TotalExpense:       d.TotalExpense,
		ExpensesByCategory: d.ExpensesByCategory,
		IncomesByCategory:  d.IncomesByCategory,
	}
	return agg.Clone()
}

// docIDOr prefers the document name, which is authoritative, and falls back
// to the id field for documents created with generated names.
func docIDOr(docID string, field int64) (int64, error) {
	if id, err := strconv.ParseInt(docID, 10, 64); err == nil {
		return id, nil
	}
	if field != 0 {
		return field, nil
	}
	return 0, fmt.Errorf("document %q has no numeric id", docID)
}
