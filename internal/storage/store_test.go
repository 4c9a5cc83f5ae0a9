package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"finsync/internal/core"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "finsync.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleTx(title string, typ core.TransactionType, cents int64, date string) core.Transaction {
	return core.Transaction{
		Title:       title,
		AmountCents: cents,
		Type:        typ,
		Category:    title,
		Date:        date,
		Sync:        core.SyncState{Status: core.PendingUpload},
	}
}

func TestStore_UpsertAssignsIDAndMonthKey(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, err := db.Transactions.Upsert(ctx, sampleTx("Salario", core.Income, 145000, "2024-10-05"))
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Fatal("expected a local id")
	}

	got, ok, err := db.Transactions.GetByID(ctx, id)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.MonthKey != "2024-10" || got.Type != core.Income || got.Sync.Status != core.PendingUpload {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestStore_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, _ := db.Budgets.Upsert(ctx, core.BudgetGoal{Category: " Social ", LimitCents: 15000})
	if _, err := db.Budgets.Upsert(ctx, core.BudgetGoal{ID: id, Category: "Social", LimitCents: 20000}); err != nil {
		t.Fatal(err)
	}
	n, _ := db.Budgets.CountAll(ctx)
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	b, _, _ := db.Budgets.GetByID(ctx, id)
	if b.LimitCents != 20000 || b.Category != "Social" {
		t.Fatalf("unexpected budget: %+v", b)
	}
}

func TestStore_PendingAndVisibility(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	a, _ := db.Transactions.Upsert(ctx, sampleTx("Alimentos", core.Expense, 21050, "2024-10-06"))
	synced := sampleTx("Social", core.Expense, 4825, "2024-10-08")
	synced.Sync = core.SyncState{Status: core.Synced, RemoteAcked: true}
	b, _ := db.Transactions.Upsert(ctx, synced)

	if err := db.Transactions.UpdateSyncStatus(ctx, b, core.PendingDelete); err != nil {
		t.Fatal(err)
	}

	visible, _ := db.Transactions.List(ctx)
	if len(visible) != 1 || visible[0].ID != a {
		t.Fatalf("visible = %+v", visible)
	}
	pending, _ := db.Transactions.GetPending(ctx)
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	n, _ := db.Transactions.CountAll(ctx)
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestStore_Rekey(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, _ := db.Transactions.Upsert(ctx, sampleTx("Freelance", core.Income, 38000, "2024-10-07"))
	got, _, _ := db.Transactions.GetByID(ctx, id)

	moved := got.WithID(9001).WithState(core.SyncState{Status: core.Synced, RemoteAcked: true})
	if err := db.Transactions.Rekey(ctx, id, moved); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.Transactions.GetByID(ctx, id); ok {
		t.Fatal("old id still present")
	}
	after, ok, _ := db.Transactions.GetByID(ctx, 9001)
	if !ok || after.Sync.Status != core.Synced || !after.Sync.RemoteAcked {
		t.Fatalf("rekeyed row = %+v ok=%v", after, ok)
	}

	agg, _, _ := db.Aggregates.Get(ctx, "2024-10")
	if agg.TotalIncome != 38000 {
		t.Fatalf("rekey changed aggregate: %+v", agg)
	}
}

func TestStore_LocalIDs(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	first, _ := db.Transactions.Upsert(ctx, sampleTx("Café", core.Expense, 450, "2024-10-01"))
	second, _ := db.Transactions.Upsert(ctx, sampleTx("Taxi", core.Expense, 1200, "2024-10-01"))
	if first != -1 || second != -2 {
		t.Fatalf("local ids = %d, %d, want -1, -2", first, second)
	}

	if err := db.Transactions.Delete(ctx, second); err != nil {
		t.Fatal(err)
	}
	third, _ := db.Transactions.Upsert(ctx, sampleTx("Cine", core.Expense, 900, "2024-10-02"))
	if third != -3 {
		t.Fatalf("id after delete = %d, want -3", third)
	}

	budget, _ := db.Budgets.Upsert(ctx, core.BudgetGoal{Category: "Social", LimitCents: 1000})
	if budget != -1 {
		t.Fatalf("budget id = %d, want its own sequence at -1", budget)
	}

	remote := sampleTx("Salario", core.Income, 145000, "2024-10-05").WithID(4).
		WithState(core.SyncState{Status: core.Synced, RemoteAcked: true})
	if _, err := db.Transactions.Upsert(ctx, remote); err != nil {
		t.Fatal(err)
	}
	list, _ := db.Transactions.List(ctx)
	var ids []int64
	for _, tx := range list {
		ids = append(ids, tx.ID)
	}
	if len(ids) != 3 || ids[0] != 4 || ids[1] != -1 || ids[2] != -3 {
		t.Fatalf("list order = %v, want remote rows first then local rows by creation", ids)
	}
}

func TestStore_RekeyGuards(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	a, _ := db.Transactions.Upsert(ctx, sampleTx("Café", core.Expense, 450, "2024-10-01"))
	got, _, _ := db.Transactions.GetByID(ctx, a)

	// A row at a positive id that the remote never acknowledged.
	squatter := sampleTx("Taxi", core.Expense, 1200, "2024-10-01").WithID(7)
	if _, err := db.Transactions.Upsert(ctx, squatter); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		target int64
	}{
		{"local target", -5},
		{"zero target", 0},
		{"unacked occupant", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			moved := got.WithID(tt.target).WithState(core.SyncState{Status: core.Synced, RemoteAcked: true})
			if err := db.Transactions.Rekey(ctx, a, moved); !errors.Is(err, core.ErrStorageFault) {
				t.Fatalf("Rekey() error = %v, want storage fault", err)
			}
		})
	}

	if cur, ok, _ := db.Transactions.GetByID(ctx, a); !ok || cur.Title != "Café" {
		t.Errorf("source row changed: ok=%v %+v", ok, cur)
	}
	if cur, ok, _ := db.Transactions.GetByID(ctx, 7); !ok || cur.Title != "Taxi" {
		t.Errorf("occupant overwritten: ok=%v %+v", ok, cur)
	}
}

func TestStore_AggregateMirror(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, _ := db.Transactions.Upsert(ctx, sampleTx("Alimentos", core.Expense, 21050, "2024-10-06"))
	_, _ = db.Transactions.Upsert(ctx, sampleTx("Salario", core.Income, 145000, "2024-10-05"))

	agg, ok, err := db.Aggregates.Get(ctx, "2024-10")
	if err != nil || !ok {
		t.Fatalf("get aggregate: ok=%v err=%v", ok, err)
	}
	if agg.TotalExpense != 21050 || agg.TotalIncome != 145000 {
		t.Fatalf("unexpected totals: %+v", agg)
	}

	// Moving the expense to November retracts October.
	cur, _, _ := db.Transactions.GetByID(ctx, id)
	cur.Date, cur.MonthKey = "2024-11-01", ""
	if _, err := db.Transactions.Upsert(ctx, cur); err != nil {
		t.Fatal(err)
	}
	oct, _, _ := db.Aggregates.Get(ctx, "2024-10")
	nov, _, _ := db.Aggregates.Get(ctx, "2024-11")
	if oct.TotalExpense != 0 || nov.ExpensesByCategory["Alimentos"] != 21050 {
		t.Fatalf("oct=%+v nov=%+v", oct, nov)
	}

	// Pending deletion hides the row from the aggregates.
	if err := db.Transactions.UpdateSyncStatus(ctx, id, core.PendingDelete); err != nil {
		t.Fatal(err)
	}
	nov, _, _ = db.Aggregates.Get(ctx, "2024-11")
	if nov.TotalExpense != 0 {
		t.Fatalf("pending delete still counted: %+v", nov)
	}

	// Removing the hidden row does not retract twice.
	if err := db.Transactions.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	nov, _, _ = db.Aggregates.Get(ctx, "2024-11")
	if nov.TotalExpense != 0 || len(nov.ExpensesByCategory) != 0 {
		t.Fatalf("unexpected november: %+v", nov)
	}

	if err := db.Transactions.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	if all, _ := db.Aggregates.List(ctx); len(all) != 0 {
		t.Fatalf("aggregates survived DeleteAll: %+v", all)
	}
}

func TestStore_Observe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db := openTestDB(t)

	ch, err := db.Budgets.Observe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first := <-ch; len(first) != 0 {
		t.Fatalf("initial snapshot = %+v", first)
	}

	id, _ := db.Budgets.Upsert(ctx, core.BudgetGoal{Category: "Social", LimitCents: 15000})
	select {
	case list := <-ch:
		if len(list) != 1 || list[0].ID != id {
			t.Fatalf("snapshot = %+v", list)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot after upsert")
	}

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("observer not closed after cancel")
		}
	}
}

func TestFault(t *testing.T) {
	err := fault("get", sql.ErrConnDone)
	if !errors.Is(err, core.ErrStorageFault) {
		t.Fatal("fault does not match ErrStorageFault")
	}
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatal("fault does not unwrap to driver error")
	}
	var f *Fault
	if !errors.As(fault("outer", err), &f) || f.Op != "get" {
		t.Fatalf("double wrapping changed op: %+v", f)
	}
	if fault("noop", nil) != nil {
		t.Fatal("nil error wrapped")
	}
}

func TestStore_ClosedDatabaseIsStorageFault(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	db.Close()

	_, err := db.Transactions.Upsert(ctx, sampleTx("x", core.Expense, 1, "2024-10-01"))
	if !errors.Is(err, core.ErrStorageFault) {
		t.Fatalf("expected storage fault, got %v", err)
	}
}
