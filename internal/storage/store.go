package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"finsync/internal/core"
)

type scanner interface {
	Scan(dest ...any) error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// codec maps one record kind onto its table. columns excludes id,
// sync_status and remote_acked, which every table carries.
type codec[T any] struct {
	table     string
	columns   []string
	values    func(T) []any
	scan      func(s scanner) (T, error)
	normalize func(T) T
}

// Hook observes every committed change of user-visible rows inside the
// writing transaction. prev and next are nil when the row was or becomes
// invisible (absent or PENDING_DELETE).
type Hook[T any] interface {
	Changed(ctx context.Context, tx *sql.Tx, prev, next *T) error
	Cleared(ctx context.Context, tx *sql.Tx) error
}

// Store is the local table of one record kind.
type Store[T core.Record[T]] struct {
	db     *sql.DB
	codec  codec[T]
	hook   Hook[T]
	events *broadcaster[T]

	selectCols string
}

func newStore[T core.Record[T]](db *sql.DB, c codec[T], hook Hook[T]) *Store[T] {
	return &Store[T]{
		db:         db,
		codec:      c,
		hook:       hook,
		events:     newBroadcaster[T](),
		selectCols: "id, " + strings.Join(c.columns, ", ") + ", sync_status, remote_acked",
	}
}

// listOrder puts rows known to the remote first, by id, followed by
// local-only rows in the order they were created.
const listOrder = "ORDER BY id < 0, ABS(id)"

// Observe emits the visible list now and after every committed mutation.
// PENDING_DELETE rows are excluded.
func (s *Store[T]) Observe(ctx context.Context) (<-chan []T, error) {
	ch, err := s.events.subscribe(ctx, func() ([]T, error) { return s.List(ctx) })
	if err != nil {
		return nil, fault("observe "+s.codec.table, err)
	}
	return ch, nil
}

// List returns the visible rows.
func (s *Store[T]) List(ctx context.Context) ([]T, error) {
	rows, err := s.query(ctx, s.db, "WHERE sync_status != ? "+listOrder, string(core.PendingDelete))
	return rows, fault("list "+s.codec.table, err)
}

// ListAll returns every row, including those pending deletion.
func (s *Store[T]) ListAll(ctx context.Context) ([]T, error) {
	rows, err := s.query(ctx, s.db, listOrder)
	return rows, fault("list all "+s.codec.table, err)
}

// GetPending returns rows that still owe the remote an upload or delete.
func (s *Store[T]) GetPending(ctx context.Context) ([]T, error) {
	rows, err := s.query(ctx, s.db, "WHERE sync_status != ? "+listOrder, string(core.Synced))
	return rows, fault("get pending "+s.codec.table, err)
}

// GetByID returns the row with id regardless of its sync status.
func (s *Store[T]) GetByID(ctx context.Context, id int64) (T, bool, error) {
	rec, ok, err := s.get(ctx, s.db, id)
	return rec, ok, fault("get "+s.codec.table+" by id", err)
}

// CountAll counts every row, pending deletions included.
func (s *Store[T]) CountAll(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.codec.table).Scan(&n)
	return n, fault("count "+s.codec.table, err)
}

// Upsert inserts rec under a new local id when its id is zero and replaces
// the existing row otherwise. It returns the stored id. Local ids are
// negative and never reused; remote ids are positive.
func (s *Store[T]) Upsert(ctx context.Context, rec T) (int64, error) {
	var id int64
	err := s.mutate(ctx, "upsert", func(tx *sql.Tx) error {
		var err error
		id, err = s.upsertTx(ctx, tx, rec)
		return err
	})
	return id, err
}

// UpsertMany writes all records in one transaction.
func (s *Store[T]) UpsertMany(ctx context.Context, recs []T) ([]int64, error) {
	ids := make([]int64, 0, len(recs))
	err := s.mutate(ctx, "upsert many", func(tx *sql.Tx) error {
		for _, rec := range recs {
			id, err := s.upsertTx(ctx, tx, rec)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

// Delete removes the row with id. Deleting a missing row is not an error.
func (s *Store[T]) Delete(ctx context.Context, id int64) error {
	return s.mutate(ctx, "delete", func(tx *sql.Tx) error {
		return s.deleteTx(ctx, tx, id)
	})
}

// DeleteAll empties the table.
func (s *Store[T]) DeleteAll(ctx context.Context) error {
	return s.mutate(ctx, "delete all", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+s.codec.table); err != nil {
			return err
		}
		if s.hook != nil {
			return s.hook.Cleared(ctx, tx)
		}
		return nil
	})
}

// UpdateSyncStatus changes only the sync status of id. Missing rows are
// ignored.
func (s *Store[T]) UpdateSyncStatus(ctx context.Context, id int64, status core.SyncStatus) error {
	if !status.IsValid() {
		return fault("update sync status", fmt.Errorf("unknown sync status %q", status))
	}
	return s.mutate(ctx, "update sync status", func(tx *sql.Tx) error {
		prev, ok, err := s.get(ctx, tx, id)
		if err != nil || !ok {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE "+s.codec.table+" SET sync_status = ? WHERE id = ?", string(status), id); err != nil {
			return err
		}
		st := prev.State()
		st.Status = status
		next := prev.WithState(st)
		return s.changed(ctx, tx, &prev, &next)
	})
}

// Rekey atomically moves the row at oldID to rec.RecordID(). Used when the
// remote assigns an id different from the local one. The target must be a
// remote id; a row already there is the same remote record and is replaced.
func (s *Store[T]) Rekey(ctx context.Context, oldID int64, rec T) error {
	target := rec.RecordID()
	if target <= 0 {
		return fault("rekey", fmt.Errorf("target id %d is not a remote id", target))
	}
	return s.mutate(ctx, "rekey", func(tx *sql.Tx) error {
		if oldID != target {
			cur, ok, err := s.get(ctx, tx, target)
			if err != nil {
				return err
			}
			if ok && !cur.State().RemoteAcked {
				return fmt.Errorf("id %d belongs to a local-only row", target)
			}
			if err := s.deleteTx(ctx, tx, oldID); err != nil {
				return err
			}
		}
		_, err := s.upsertTx(ctx, tx, rec)
		return err
	})
}

func (s *Store[T]) upsertTx(ctx context.Context, tx *sql.Tx, rec T) (int64, error) {
	if s.codec.normalize != nil {
		rec = s.codec.normalize(rec)
	}
	var (
		prev    T
		hadPrev bool
		err     error
	)
	if rec.RecordID() != 0 {
		prev, hadPrev, err = s.get(ctx, tx, rec.RecordID())
		if err != nil {
			return 0, err
		}
	}

	id, err := s.write(ctx, tx, rec)
	if err != nil {
		return 0, err
	}
	next := rec.WithID(id)
	if hadPrev {
		return id, s.changed(ctx, tx, &prev, &next)
	}
	return id, s.changed(ctx, tx, nil, &next)
}

func (s *Store[T]) deleteTx(ctx context.Context, tx *sql.Tx, id int64) error {
	prev, ok, err := s.get(ctx, tx, id)
	if err != nil || !ok {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+s.codec.table+" WHERE id = ?", id); err != nil {
		return err
	}
	return s.changed(ctx, tx, &prev, nil)
}

func (s *Store[T]) write(ctx context.Context, tx *sql.Tx, rec T) (int64, error) {
	st := rec.State()
	if st.Status == "" {
		st.Status = core.Synced
	}
	args := append(s.codec.values(rec), string(st.Status), boolToInt(st.RemoteAcked))
	cols := append(append([]string{}, s.codec.columns...), "sync_status", "remote_acked")

	if rec.RecordID() == 0 {
		id, err := s.nextLocalID(ctx, tx)
		if err != nil {
			return 0, err
		}
		q := fmt.Sprintf("INSERT INTO %s (id, %s) VALUES (?, %s)",
			s.codec.table, strings.Join(cols, ", "), placeholders(len(cols)))
		if _, err := tx.ExecContext(ctx, q, append([]any{id}, args...)...); err != nil {
			return 0, err
		}
		return id, nil
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = excluded." + c
	}
	q := fmt.Sprintf("INSERT INTO %s (id, %s) VALUES (?, %s) ON CONFLICT(id) DO UPDATE SET %s",
		s.codec.table, strings.Join(cols, ", "), placeholders(len(cols)), strings.Join(sets, ", "))
	if _, err := tx.ExecContext(ctx, q, append([]any{rec.RecordID()}, args...)...); err != nil {
		return 0, err
	}
	return rec.RecordID(), nil
}

func (s *Store[T]) nextLocalID(ctx context.Context, tx *sql.Tx) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		"UPDATE local_id_seq SET last_id = last_id - 1 WHERE table_name = ? RETURNING last_id",
		s.codec.table).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("no local id sequence for %s", s.codec.table)
	}
	return id, err
}

func (s *Store[T]) changed(ctx context.Context, tx *sql.Tx, prev, next *T) error {
	if s.hook == nil {
		return nil
	}
	return s.hook.Changed(ctx, tx, visible(prev), visible(next))
}

func (s *Store[T]) get(ctx context.Context, q querier, id int64) (T, bool, error) {
	var zero T
	row := q.QueryRowContext(ctx, "SELECT "+s.selectCols+" FROM "+s.codec.table+" WHERE id = ?", id)
	rec, err := s.codec.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	return rec, true, nil
}

func (s *Store[T]) query(ctx context.Context, q querier, where string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+s.selectCols+" FROM "+s.codec.table+" "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		rec, err := s.codec.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store[T]) mutate(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault(op+" "+s.codec.table, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fault(op+" "+s.codec.table, err)
	}
	if err := tx.Commit(); err != nil {
		return fault(op+" "+s.codec.table, err)
	}

	if err := s.events.publish(func() ([]T, error) { return s.List(ctx) }); err != nil {
		slog.WarnContext(ctx, "Failed to notify observers", "table", s.codec.table, "error", err)
	}
	return nil
}

func (s *Store[T]) closeObservers() { s.events.close() }

func visible[T core.Record[T]](rec *T) *T {
	if rec == nil || (*rec).State().Status == core.PendingDelete {
		return nil
	}
	return rec
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
