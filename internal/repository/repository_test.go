package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"finsync/internal/aggregate"
	"finsync/internal/alerts"
	"finsync/internal/core"
	"finsync/internal/remote"
	"finsync/internal/remote/memory"
	"finsync/internal/retry"
	"finsync/internal/storage"
	"finsync/internal/worker"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "finsync.db"))
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// noWait retries immediately and records the requested delays.
func noWait(delays *[]time.Duration) retry.Policy {
	var mu sync.Mutex
	return retry.Policy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			if delays != nil {
				*delays = append(*delays, d)
			}
			return nil
		},
	}
}

type txFixture struct {
	db   *storage.DB
	gw   *memory.Gateway[core.Transaction]
	pool *worker.Pool
	repo *TransactionRepository
}

func newPollingTxRepo(t *testing.T, policy retry.Policy, opts ...memory.Option[core.Transaction]) txFixture {
	t.Helper()
	db := newTestDB(t)
	gw := memory.New(opts...)
	pool := worker.NewPool(4, nil)
	repo, err := NewTransactionRepository(Config[core.Transaction]{
		Local:    db.Transactions,
		Strategy: Polling[core.Transaction](gw, policy),
		Pool:     pool,
		Defaults: DefaultTransactions(),
	}, aggregate.NewMaintainer(db.Aggregates))
	if err != nil {
		t.Fatalf("NewTransactionRepository() error = %v", err)
	}
	t.Cleanup(func() {
		repo.Close(context.Background())
		pool.Close(context.Background())
	})
	return txFixture{db: db, gw: gw, pool: pool, repo: repo}
}

func sampleTx(title string, cents int64, typ core.TransactionType, category, date string) core.Transaction {
	return core.Transaction{
		Title:       title,
		AmountCents: cents,
		Type:        typ,
		Category:    category,
		Date:        date,
	}
}

// byTitle finds a local row by title; pushes may have re-keyed it.
func byTitle(t *testing.T, f txFixture, title string) core.Transaction {
	t.Helper()
	all, err := f.db.Transactions.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	for _, tx := range all {
		if tx.Title == title {
			return tx
		}
	}
	t.Fatalf("no local row titled %q", title)
	return core.Transaction{}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestUpsertPollingPushesAndRekeys(t *testing.T) {
	ctx := context.Background()
	f := newPollingTxRepo(t, noWait(nil), memory.WithServerIDs[core.Transaction](100))

	id, err := f.repo.Upsert(ctx, sampleTx("Supermercado", 21050, core.Expense, "Alimentos", "2024-10-06"))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if id == 0 {
		t.Fatal("Upsert() returned id 0")
	}
	f.pool.Wait()

	if _, ok, _ := f.repo.GetByID(ctx, id); ok && id != 100 {
		t.Errorf("local id %d should have been replaced by the server id", id)
	}
	got, ok, err := f.repo.GetByID(ctx, 100)
	if err != nil || !ok {
		t.Fatalf("GetByID(100) ok=%v err=%v", ok, err)
	}
	if got.Sync.Status != core.Synced || !got.Sync.RemoteAcked {
		t.Errorf("sync state = %+v, want SYNCED and acked", got.Sync)
	}
	if len(f.gw.Records()) != 1 {
		t.Errorf("remote has %d records, want 1", len(f.gw.Records()))
	}
}

func TestUpsertRejectsInvalidRecord(t *testing.T) {
	ctx := context.Background()
	f := newPollingTxRepo(t, noWait(nil))

	_, err := f.repo.Upsert(ctx, sampleTx("", 100, core.Expense, "Social", "2024-10-01"))
	var verr *core.ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, core.ErrEmptyTitle) {
		t.Fatalf("err = %v, want ValidationError(ErrEmptyTitle)", err)
	}
	if n, _ := f.db.Transactions.CountAll(ctx); n != 0 {
		t.Errorf("local rows = %d, want 0", n)
	}
	if calls := f.gw.Calls(memory.OpUpsert); calls != 0 {
		t.Errorf("remote upsert calls = %d, want 0", calls)
	}
}

func TestPushRetriesWithBackoff(t *testing.T) {
	ctx := context.Background()
	var delays []time.Duration
	f := newPollingTxRepo(t, noWait(&delays))
	f.gw.FailNext(memory.OpUpsert, 2)

	if _, err := f.repo.Upsert(ctx, sampleTx("Cena con amigos", 4825, core.Expense, "Social", "2024-10-08")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	f.pool.Wait()

	if calls := f.gw.Calls(memory.OpUpsert); calls != 3 {
		t.Errorf("remote upsert calls = %d, want 3", calls)
	}
	want := []time.Duration{500 * time.Millisecond, time.Second}
	if len(delays) != len(want) || delays[0] != want[0] || delays[1] != want[1] {
		t.Errorf("delays = %v, want %v", delays, want)
	}
	got := byTitle(t, f, "Cena con amigos")
	if got.Sync.Status != core.Synced || got.ID <= 0 {
		t.Errorf("row = id %d %+v, want a remote id and SYNCED", got.ID, got.Sync)
	}
}

func TestPushFailureLeavesRowPending(t *testing.T) {
	ctx := context.Background()
	f := newPollingTxRepo(t, noWait(nil))
	f.gw.SetDown(memory.ErrUnavailable)

	id, err := f.repo.Upsert(ctx, sampleTx("Supermercado", 21050, core.Expense, "Alimentos", "2024-10-06"))
	if err != nil {
		t.Fatalf("Upsert() must not surface remote errors, got %v", err)
	}
	f.pool.Wait()

	got, _, _ := f.repo.GetByID(ctx, id)
	if got.Sync.Status != core.PendingUpload || got.Sync.RemoteAcked {
		t.Errorf("sync state = %+v, want PENDING_UPLOAD never acked", got.Sync)
	}
	if st := f.repo.NetworkState(); st.Kind != NetworkError {
		t.Errorf("network state = %v, want error", st.Kind)
	}
}

func TestDeleteNeverAckedSkipsRemote(t *testing.T) {
	ctx := context.Background()
	f := newPollingTxRepo(t, noWait(nil))
	f.gw.SetDown(memory.ErrUnavailable)

	id, err := f.repo.Upsert(ctx, sampleTx("Supermercado", 21050, core.Expense, "Alimentos", "2024-10-06"))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	f.pool.Wait()
	f.gw.SetDown(nil)

	if err := f.repo.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	f.pool.Wait()

	if _, ok, _ := f.repo.GetByID(ctx, id); ok {
		t.Error("row should be gone locally")
	}
	if calls := f.gw.Calls(memory.OpDelete); calls != 0 {
		t.Errorf("remote delete calls = %d, want 0", calls)
	}
}

func TestDeleteSyncedRecord(t *testing.T) {
	ctx := context.Background()
	f := newPollingTxRepo(t, noWait(nil))
	f.gw.Seed(core.Transaction{ID: 5, Title: "Intereses cuenta", AmountCents: 2575, Type: core.Income, Category: "Inversiones", Date: "2024-10-09", MonthKey: "2024-10"})

	if err := f.repo.RefreshFromRemote(ctx); err != nil {
		t.Fatalf("RefreshFromRemote() error = %v", err)
	}
	f.gw.SetDown(memory.ErrUnavailable)

	if err := f.repo.Delete(ctx, 5); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	f.pool.Wait()

	visible, _ := f.repo.List(ctx)
	if len(visible) != 0 {
		t.Errorf("visible rows = %d, want 0 while delete is pending", len(visible))
	}
	got, ok, _ := f.repo.GetByID(ctx, 5)
	if !ok || got.Sync.Status != core.PendingDelete {
		t.Fatalf("row should stay PENDING_DELETE until acknowledged, got ok=%v %+v", ok, got.Sync)
	}

	f.gw.SetDown(nil)
	if err := f.repo.RefreshFromRemote(ctx); err != nil {
		t.Fatalf("RefreshFromRemote() error = %v", err)
	}
	if _, ok, _ := f.repo.GetByID(ctx, 5); ok {
		t.Error("row should be removed after the remote delete")
	}
	if len(f.gw.Records()) != 0 {
		t.Errorf("remote still has %d records", len(f.gw.Records()))
	}
}

func TestRefreshSeedsDefaultsOnFirstRun(t *testing.T) {
	ctx := context.Background()
	f := newPollingTxRepo(t, noWait(nil))

	if err := f.repo.RefreshFromRemote(ctx); err != nil {
		t.Fatalf("RefreshFromRemote() error = %v", err)
	}

	defaults := DefaultTransactions()
	if got := len(f.gw.Records()); got != len(defaults) {
		t.Errorf("remote has %d records, want %d", got, len(defaults))
	}
	local, _ := f.repo.List(ctx)
	if len(local) != len(defaults) {
		t.Fatalf("local has %d records, want %d", len(local), len(defaults))
	}
	for _, tx := range local {
		if tx.Sync.Status != core.Synced || !tx.Sync.RemoteAcked {
			t.Errorf("%s: sync state = %+v, want SYNCED", tx.Title, tx.Sync)
		}
	}
	if st := f.repo.NetworkState(); st.Kind != NetworkSuccess {
		t.Errorf("network state = %v, want success", st.Kind)
	}

	agg, err := f.repo.MonthlySummary(ctx, "2024-10")
	if err != nil {
		t.Fatalf("MonthlySummary() error = %v", err)
	}
	if agg.TotalIncome != 145000+38000+2575 || agg.TotalExpense != 21050+1299+4825 {
		t.Errorf("aggregate = %+v", agg)
	}
}

func TestRefreshSeedFailureKeepsDefaultsPending(t *testing.T) {
	ctx := context.Background()
	f := newPollingTxRepo(t, noWait(nil))
	f.gw.FailNext(memory.OpUpsert, 3)

	if err := f.repo.RefreshFromRemote(ctx); err != nil {
		t.Fatalf("RefreshFromRemote() error = %v", err)
	}

	pending, _ := f.db.Transactions.GetPending(ctx)
	if len(pending) != len(DefaultTransactions()) {
		t.Errorf("pending rows = %d, want %d", len(pending), len(DefaultTransactions()))
	}
	if st := f.repo.NetworkState(); st.Kind != NetworkError {
		t.Errorf("network state = %v, want error", st.Kind)
	}

	if err := f.repo.RefreshFromRemote(ctx); err != nil {
		t.Fatalf("second RefreshFromRemote() error = %v", err)
	}
	if pending, _ := f.db.Transactions.GetPending(ctx); len(pending) != 0 {
		t.Errorf("pending rows after replay = %d, want 0", len(pending))
	}
	if got := len(f.gw.Records()); got != len(DefaultTransactions()) {
		t.Errorf("remote has %d records after replay", got)
	}
}

func TestRefreshMergesRemoteState(t *testing.T) {
	ctx := context.Background()
	f := newPollingTxRepo(t, noWait(nil))

	stale := sampleTx("Viejo", 100, core.Expense, "Social", "2024-09-01").WithID(1).
		WithState(core.SyncState{Status: core.Synced, RemoteAcked: true})
	edited := sampleTx("Editado localmente", 999, core.Expense, "Social", "2024-10-01").WithID(2).
		WithState(core.SyncState{Status: core.PendingUpload, RemoteAcked: true})
	if _, err := f.db.Transactions.UpsertMany(ctx, []core.Transaction{stale, edited}); err != nil {
		t.Fatalf("UpsertMany() error = %v", err)
	}
	f.gw.Seed(
		sampleTx("Versión remota", 500, core.Expense, "Social", "2024-10-01").WithID(2),
		sampleTx("Nuevo remoto", 700, core.Income, "Salario", "2024-10-02").WithID(3),
	)

	if err := f.repo.RefreshFromRemote(ctx); err != nil {
		t.Fatalf("RefreshFromRemote() error = %v", err)
	}

	if _, ok, _ := f.repo.GetByID(ctx, 1); ok {
		t.Error("synced row absent remotely should be pruned")
	}
	got2, _, _ := f.repo.GetByID(ctx, 2)
	if got2.Title != "Editado localmente" {
		t.Errorf("pending local row was overwritten: %q", got2.Title)
	}
	if got2.Sync.Status != core.Synced {
		t.Errorf("pending row should be replayed, status = %s", got2.Sync.Status)
	}
	got3, ok, _ := f.repo.GetByID(ctx, 3)
	if !ok || got3.Sync.Status != core.Synced {
		t.Errorf("remote row 3 should be stored SYNCED, ok=%v %+v", ok, got3.Sync)
	}
	for _, rec := range f.gw.Records() {
		if rec.ID == 2 && rec.Title != "Editado localmente" {
			t.Errorf("remote row 2 = %q, want the local edit", rec.Title)
		}
	}
}

func TestOfflineWritesSurviveServerIDs(t *testing.T) {
	ctx := context.Background()
	f := newPollingTxRepo(t, noWait(nil), memory.WithServerIDs[core.Transaction](2))
	f.gw.Seed(sampleTx("Desde otro equipo", 3000, core.Expense, "Social", "2024-10-03").WithID(1))

	f.gw.SetDown(memory.ErrUnavailable)
	for _, title := range []string{"Café", "Taxi"} {
		if _, err := f.repo.Upsert(ctx, sampleTx(title, 450, core.Expense, "Social", "2024-10-04")); err != nil {
			t.Fatalf("Upsert(%s) error = %v", title, err)
		}
	}
	f.pool.Wait()

	f.gw.SetDown(nil)
	if err := f.repo.RefreshFromRemote(ctx); err != nil {
		t.Fatalf("RefreshFromRemote() error = %v", err)
	}

	local, err := f.db.Transactions.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	titles := map[string]int64{}
	for _, tx := range local {
		if tx.Sync.Status != core.Synced || !tx.Sync.RemoteAcked {
			t.Errorf("%s: sync state = %+v, want SYNCED", tx.Title, tx.Sync)
		}
		titles[tx.Title] = tx.ID
	}
	if len(local) != 3 || len(titles) != 3 {
		t.Fatalf("local rows = %+v, want three distinct records", local)
	}
	if titles["Desde otro equipo"] != 1 {
		t.Errorf("remote row moved to id %d", titles["Desde otro equipo"])
	}
	for _, title := range []string{"Café", "Taxi"} {
		if titles[title] < 2 {
			t.Errorf("%s: id = %d, want a server id", title, titles[title])
		}
	}
	if got := len(f.gw.Records()); got != 3 {
		t.Errorf("remote has %d records, want 3", got)
	}
	if st := f.repo.NetworkState(); st.Kind != NetworkSuccess {
		t.Errorf("network state = %+v, want success", st)
	}
}

func TestRefreshDownloadFailureReportsError(t *testing.T) {
	ctx := context.Background()
	f := newPollingTxRepo(t, noWait(nil))
	f.gw.SetDown(memory.ErrUnavailable)

	states := f.repo.States(ctx)
	if err := f.repo.RefreshFromRemote(ctx); err != nil {
		t.Fatalf("RefreshFromRemote() must not return remote errors, got %v", err)
	}
	if calls := f.gw.Calls(memory.OpDownload); calls != 3 {
		t.Errorf("download attempts = %d, want 3", calls)
	}

	st := <-states
	if st.Kind != NetworkError || st.Message == "" {
		t.Errorf("latest state = %+v, want error with message", st)
	}
	if n, _ := f.db.Transactions.CountAll(ctx); n != 0 {
		t.Errorf("local rows = %d, want 0", n)
	}
}

func TestDeleteDuringUploadRemovesRemoteCopy(t *testing.T) {
	ctx := context.Background()
	f := newPollingTxRepo(t, noWait(nil), memory.WithServerIDs[core.Transaction](100))

	id, err := f.db.Transactions.Upsert(ctx, sampleTx("Efímera", 100, core.Expense, "Social", "2024-10-01").
		WithState(core.SyncState{Status: core.PendingUpload}))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	rec, _, _ := f.db.Transactions.GetByID(ctx, id)
	// The row disappears between the remote write and the settle step.
	if err := f.db.Transactions.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, _, err := f.repo.pushUpsert(ctx, rec); err != nil {
		t.Fatalf("pushUpsert() error = %v", err)
	}

	if len(f.gw.Records()) != 0 {
		t.Errorf("remote copy of a locally deleted row should be removed, got %d", len(f.gw.Records()))
	}
}

func TestLocalWritesUpdateAggregates(t *testing.T) {
	ctx := context.Background()
	f := newPollingTxRepo(t, noWait(nil))

	if _, err := f.repo.Upsert(ctx, sampleTx("Pago", 100000, core.Income, "Salario", "2024-10-05")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.repo.Upsert(ctx, sampleTx("Super", 25000, core.Expense, "Alimentos", "2024-10-06")); err != nil {
		t.Fatal(err)
	}
	f.pool.Wait()
	expenseID := byTitle(t, f, "Super").ID

	agg, _ := f.repo.MonthlySummary(ctx, "2024-10")
	if agg.TotalIncome != 100000 || agg.TotalExpense != 25000 || agg.ExpensesByCategory["Alimentos"] != 25000 {
		t.Fatalf("aggregate after inserts = %+v", agg)
	}

	f.gw.SetDown(memory.ErrUnavailable)
	if err := f.repo.Delete(ctx, expenseID); err != nil {
		t.Fatal(err)
	}
	agg, _ = f.repo.MonthlySummary(ctx, "2024-10")
	if agg.TotalExpense != 0 {
		t.Errorf("pending delete should leave the aggregate, TotalExpense = %d", agg.TotalExpense)
	}
	if _, ok := agg.ExpensesByCategory["Alimentos"]; ok {
		t.Error("empty category should be pruned")
	}

	month, _ := f.repo.ForMonth(ctx, "2024-10")
	if len(month) != 1 {
		t.Errorf("ForMonth() returned %d rows, want 1", len(month))
	}
}

func TestClearLocalData(t *testing.T) {
	ctx := context.Background()
	f := newPollingTxRepo(t, noWait(nil))
	if err := f.repo.RefreshFromRemote(ctx); err != nil {
		t.Fatal(err)
	}

	if err := f.repo.ClearLocalData(ctx); err != nil {
		t.Fatalf("ClearLocalData() error = %v", err)
	}
	if n, _ := f.db.Transactions.CountAll(ctx); n != 0 {
		t.Errorf("local rows = %d, want 0", n)
	}
	agg, _ := f.repo.MonthlySummary(ctx, "2024-10")
	if !agg.IsZero() {
		t.Errorf("aggregates should be cleared, got %+v", agg)
	}
	if len(f.gw.Records()) == 0 {
		t.Error("remote must not be touched")
	}
	if st := f.repo.NetworkState(); st.Kind != NetworkIdle {
		t.Errorf("network state = %v, want idle", st.Kind)
	}
}

func TestOnChangeRunsAfterMutations(t *testing.T) {
	ctx := context.Background()
	f := newPollingTxRepo(t, noWait(nil))

	var mu sync.Mutex
	calls := 0
	f.repo.OnChange(func(context.Context) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	if _, err := f.repo.Upsert(ctx, sampleTx("Super", 100, core.Expense, "Alimentos", "2024-10-06")); err != nil {
		t.Fatal(err)
	}
	f.pool.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls < 2 {
		t.Errorf("listener calls = %d, want at least 2 (local write and settle)", calls)
	}
}

func TestLiveStrategy(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	gw := memory.New(memory.WithServerIDs[core.Transaction](500))
	repo, err := NewTransactionRepository(Config[core.Transaction]{
		Local:    db.Transactions,
		Strategy: Live[core.Transaction](gw),
		Workers:  2,
	}, aggregate.NewMaintainer(db.Aggregates))
	if err != nil {
		t.Fatalf("NewTransactionRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close(context.Background()) })

	t.Run("upsert writes remote first", func(t *testing.T) {
		id, err := repo.Upsert(ctx, sampleTx("Freelance", 38000, core.Income, "Freelance", "2024-10-07"))
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if id != 500 {
			t.Errorf("id = %d, want server id 500", id)
		}
		got, _, _ := repo.GetByID(ctx, id)
		if got.Sync.Status != core.Synced {
			t.Errorf("status = %s, want SYNCED", got.Sync.Status)
		}
	})

	t.Run("remote failure is returned without local write", func(t *testing.T) {
		before, _ := db.Transactions.CountAll(ctx)
		gw.FailNext(memory.OpUpsert, 1)

		_, err := repo.Upsert(ctx, sampleTx("Falla", 100, core.Expense, "Social", "2024-10-07"))
		if !remote.IsFailure(err) {
			t.Fatalf("err = %v, want a remote failure", err)
		}
		if after, _ := db.Transactions.CountAll(ctx); after != before {
			t.Errorf("local rows changed from %d to %d", before, after)
		}
	})

	t.Run("feed applies changes from other devices", func(t *testing.T) {
		other := sampleTx("Desde otro equipo", 1200, core.Expense, "Social", "2024-10-09").WithID(900)
		eventually(t, "remote upsert applied", func() bool {
			gw.Apply(ctx, remote.Delta[core.Transaction]{Upserts: []core.Transaction{other}})
			got, ok, _ := repo.GetByID(ctx, 900)
			return ok && got.Sync.Status == core.Synced
		})

		gw.Apply(ctx, remote.Delta[core.Transaction]{DeletedIDs: []int64{900}})
		eventually(t, "remote delete applied", func() bool {
			_, ok, _ := repo.GetByID(ctx, 900)
			return !ok
		})
	})

	t.Run("delete goes to the remote inline", func(t *testing.T) {
		if err := repo.Delete(ctx, 500); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, ok, _ := repo.GetByID(ctx, 500); ok {
			t.Error("row should be deleted locally")
		}
		if gw.Calls(memory.OpDelete) != 1 {
			t.Errorf("remote delete calls = %d, want 1", gw.Calls(memory.OpDelete))
		}
	})
}

func TestRepositoryRequiresStoreAndGateway(t *testing.T) {
	if _, err := New(Config[core.BudgetGoal]{}); err == nil {
		t.Error("expected error without a local store")
	}
	db := newTestDB(t)
	if _, err := New(Config[core.BudgetGoal]{Local: db.Budgets}); err == nil {
		t.Error("expected error without a gateway")
	}
}

type recordingSink struct {
	mu   sync.Mutex
	sent []alerts.Alert
	err  error
}

func (s *recordingSink) Send(_ context.Context, a alerts.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, a)
	return nil
}

func newBudgetRepo(t *testing.T, sink alerts.Sink, user string) (*BudgetRepository, *worker.Pool) {
	t.Helper()
	db := newTestDB(t)
	pool := worker.NewPool(2, nil)
	repo, err := NewBudgetRepository(Config[core.BudgetGoal]{
		Local:    db.Budgets,
		Strategy: Polling[core.BudgetGoal](memory.New[core.BudgetGoal](), noWait(nil)),
		Pool:     pool,
		Defaults: DefaultBudgets(),
	}, sink, func() string { return user })
	if err != nil {
		t.Fatalf("NewBudgetRepository() error = %v", err)
	}
	t.Cleanup(func() {
		repo.Close(context.Background())
		pool.Close(context.Background())
	})
	return repo, pool
}

func TestTrackBudgetAlerts(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	repo, pool := newBudgetRepo(t, sink, "user-1")

	for _, spent := range []int64{7500, 12000, 14250, 18000, 6000} {
		repo.TrackBudgetAlerts(ctx, []core.BudgetProgress{{Category: "Social", LimitCents: 15000, SpentCents: spent}})
	}
	pool.Wait()

	if len(sink.sent) != 2 {
		t.Fatalf("sent %d alerts, want 2", len(sink.sent))
	}
	byLevel := map[alerts.Level]alerts.Alert{}
	for _, a := range sink.sent {
		byLevel[a.Level] = a
	}
	warning, critical := byLevel[alerts.LevelWarning], byLevel[alerts.LevelCritical]
	if warning.Threshold != 0.75 || critical.Threshold != 1.0 {
		t.Errorf("thresholds = %v, %v", warning.Threshold, critical.Threshold)
	}
	if critical.UserID != "user-1" || critical.Limit != 150 || critical.Spent != 180 {
		t.Errorf("unexpected alert %+v", critical)
	}
}

func TestTrackBudgetAlertsFailuresReportState(t *testing.T) {
	ctx := context.Background()
	progress := []core.BudgetProgress{{Category: "Social", LimitCents: 15000, SpentCents: 16000}}

	t.Run("no user", func(t *testing.T) {
		sink := &recordingSink{}
		repo, pool := newBudgetRepo(t, sink, " ")
		repo.TrackBudgetAlerts(ctx, progress)
		pool.Wait()

		if len(sink.sent) != 0 {
			t.Error("alert should not be sent without a user")
		}
		if st := repo.NetworkState(); st.Kind != NetworkError {
			t.Errorf("network state = %v, want error", st.Kind)
		}
	})

	t.Run("sink error", func(t *testing.T) {
		sink := &recordingSink{err: errors.New("risk service down")}
		repo, pool := newBudgetRepo(t, sink, "user-1")
		repo.TrackBudgetAlerts(ctx, progress)
		pool.Wait()

		if st := repo.NetworkState(); st.Kind != NetworkError {
			t.Errorf("network state = %v, want error", st.Kind)
		}
		if repo.AlertLevel("Social") != alerts.LevelCritical {
			t.Error("escalation should be remembered even when delivery fails")
		}
	})
}

func TestBudgetRefreshSeedsDefaults(t *testing.T) {
	ctx := context.Background()
	repo, _ := newBudgetRepo(t, nil, "user-1")

	if err := repo.RefreshFromRemote(ctx); err != nil {
		t.Fatalf("RefreshFromRemote() error = %v", err)
	}
	budgets, _ := repo.List(ctx)
	if len(budgets) != 4 {
		t.Fatalf("budgets = %d, want 4", len(budgets))
	}
	if budgets[0].Category != "Alimentos" || budgets[0].LimitCents != 30000 {
		t.Errorf("first budget = %+v", budgets[0])
	}
}
