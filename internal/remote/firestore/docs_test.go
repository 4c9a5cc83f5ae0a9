package firestore

import (
	"testing"

	"finsync/internal/aggregate"
	"finsync/internal/core"
)

func TestTransactionDocRoundTrip(t *testing.T) {
	in := core.Transaction{
		ID:          42,
		Title:       "Alimentos",
		AmountCents: 21050,
		Type:        "DEBIT",
		Category:    "Alimentos",
		Date:        "2024-10-06",
	}
	doc := transactionToDoc(in)
	if doc.Type != "expense" || doc.MonthKey != "2024-10" {
		t.Fatalf("doc = %+v", doc)
	}

	out, err := transactionFromDoc("42", doc)
	if err != nil {
		t.Fatal(err)
	}
	if out.ID != 42 || out.AmountCents != 21050 || out.Type != core.Expense || !out.Sync.RemoteAcked {
		t.Fatalf("out = %+v", out)
	}
}

func TestTransactionFromLegacyDoc(t *testing.T) {
	out, err := transactionFromDoc("7", transactionDoc{Title: "Ocio", Amount: 12.99, Type: "CREDIT", Category: "x", Date: "2024-10-08"})
	if err != nil {
		t.Fatal(err)
	}
	if out.AmountCents != 1299 || out.Type != core.Income || out.MonthKey != "2024-10" {
		t.Fatalf("out = %+v", out)
	}
}

func TestDocIDOr(t *testing.T) {
	tests := []struct {
		docID   string
		field   int64
		want    int64
		wantErr bool
	}{
		{"15", 99, 15, false},
		{"auto-generated", 99, 99, false},
		{"auto-generated", 0, 0, true},
	}
	for _, tt := range tests {
		got, err := docIDOr(tt.docID, tt.field)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("docIDOr(%q, %d) = %d, %v", tt.docID, tt.field, got, err)
		}
	}
}

func TestBudgetFromDoc(t *testing.T) {
	b, err := budgetFromDoc("3", budgetDoc{Category: " Social ", Limit: 150, IconKey: "social"})
	if err != nil {
		t.Fatal(err)
	}
	if b.ID != 3 || b.Category != "Social" || b.LimitCents != 15000 {
		t.Fatalf("budget = %+v", b)
	}
}

func TestAggregateDoc(t *testing.T) {
	agg := aggregate.Apply(aggregate.Empty("2024-10"),
		core.Transaction{Type: core.Expense, Category: "Social", AmountCents: 4825}, +1)
	back := aggregateFromDoc("2024-10", aggregateToDoc(agg))
	if back.TotalExpense != 4825 || back.ExpensesByCategory["Social"] != 4825 || back.IncomesByCategory == nil {
		t.Fatalf("back = %+v", back)
	}

	missingKey := aggregateFromDoc("2024-11", aggregateDoc{})
	if missingKey.MonthKey != "2024-11" {
		t.Fatalf("month key = %q", missingKey.MonthKey)
	}
}

func TestNewID(t *testing.T) {
	seen := map[int64]bool{}
	for i := 0; i < 1000; i++ {
		id := NewID()
		if id <= 0 || id >= 1<<53 {
			t.Fatalf("id out of range: %d", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
}
