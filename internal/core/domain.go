package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"

	// Legacy wire aliases still found in older ledger payloads and local rows.
	legacyCredit = "CREDIT"
	legacyDebit  = "DEBIT"
)

const (
	Synced        SyncStatus = "SYNCED"
	PendingUpload SyncStatus = "PENDING_UPLOAD"
	PendingDelete SyncStatus = "PENDING_DELETE"
)

// fallbackMonthKey is used when a stored date is too short to carry a month.
const fallbackMonthKey = "1970-01"

const isoDate = "2006-01-02"

type (
	TransactionType string

	// SyncStatus tracks the replay obligation of a locally stored record.
	SyncStatus string

	// SyncState is the sync metadata carried by every record.
	// RemoteAcked is false until the remote has acknowledged the record id
	// at least once; such records can be dropped without a remote call.
	SyncState struct {
		Status      SyncStatus
		RemoteAcked bool
	}

	Transaction struct {
		ID          int64
		Title       string
		Description string
		AmountCents int64
		Type        TransactionType
		Category    string
		Date        string // ISO yyyy-mm-dd
		MonthKey    string // yyyy-mm
		Sync        SyncState
	}

	BudgetGoal struct {
		ID         int64
		Category   string
		LimitCents int64
		IconKey    string
		Sync       SyncState
	}

	// Record is the contract shared by every synchronized domain entity.
	Record[T any] interface {
		RecordID() int64
		WithID(id int64) T
		State() SyncState
		WithState(s SyncState) T
		Validate() error
	}
)

var (
	ErrEmptyTitle    = errors.New("empty title")
	ErrEmptyCategory = errors.New("empty category")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidType   = errors.New("invalid transaction type")
	ErrInvalidLimit  = errors.New("invalid budget limit")

	// ErrStorageFault marks failures of the local store. They are fatal and
	// always surfaced to the caller.
	ErrStorageFault = errors.New("local storage fault")
)

// ValidationError reports a malformed record rejected before it reaches the
// local store.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// IsValid reports whether s is one of the known sync states.
func (s SyncStatus) IsValid() bool {
	switch s {
	case Synced, PendingUpload, PendingDelete:
		return true
	}
	return false
}

// IsPending reports whether the record still owes the remote an operation.
func (s SyncStatus) IsPending() bool {
	return s == PendingUpload || s == PendingDelete
}

// TypeToStorage returns the canonical wire/storage encoding of t.
func TypeToStorage(t TransactionType) string {
	if t == Income {
		return string(Income)
	}
	return string(Expense)
}

// TypeFromStorage decodes both the canonical encoding and the legacy
// CREDIT/DEBIT aliases. Unknown values decode as expenses.
func TypeFromStorage(v string) TransactionType {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "INCOME", legacyCredit:
		return Income
	case "EXPENSE", legacyDebit:
		return Expense
	}
	return Expense
}

// MonthKeyOf derives the yyyy-mm aggregation bucket from an ISO date.
func MonthKeyOf(date string) string {
	date = strings.TrimSpace(date)
	if t, err := time.Parse(isoDate, date); err == nil {
		return t.Format("2006-01")
	}
	if len(date) >= 7 {
		return date[:7]
	}
	return fallbackMonthKey
}

func (t Transaction) RecordID() int64 { return t.ID }

func (t Transaction) WithID(id int64) Transaction {
	t.ID = id
	return t
}

func (t Transaction) State() SyncState { return t.Sync }

func (t Transaction) WithState(s SyncState) Transaction {
	t.Sync = s
	return t
}

// IsIncome reports whether the transaction adds to the income side.
func (t Transaction) IsIncome() bool { return t.Type == Income }

// Normalized returns t with trimmed text, a canonical type, a non-negative
// amount and a month key derived from the date when none was set.
func (t Transaction) Normalized() Transaction {
	t.Title = strings.TrimSpace(t.Title)
	t.Description = strings.TrimSpace(t.Description)
	t.Category = strings.TrimSpace(t.Category)
	t.Date = strings.TrimSpace(t.Date)
	t.Type = TypeFromStorage(string(t.Type))
	if t.AmountCents < 0 {
		t.AmountCents = -t.AmountCents
	}
	if strings.TrimSpace(t.MonthKey) == "" {
		t.MonthKey = MonthKeyOf(t.Date)
	}
	return t
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return invalid("title", ErrEmptyTitle)
	}
	if len(t.Title) > 200 {
		return invalid("title", errors.New("title too long (max 200 characters)"))
	}
	if strings.TrimSpace(t.Category) == "" {
		return invalid("category", ErrEmptyCategory)
	}
	if t.AmountCents == 0 {
		return invalid("amount", ErrInvalidAmount)
	}
	if _, err := time.Parse(isoDate, strings.TrimSpace(t.Date)); err != nil {
		return invalid("date", ErrInvalidDate)
	}
	switch strings.ToUpper(string(t.Type)) {
	case "INCOME", "EXPENSE", legacyCredit, legacyDebit:
	default:
		return invalid("type", ErrInvalidType)
	}
	return nil
}

func (b BudgetGoal) RecordID() int64 { return b.ID }

func (b BudgetGoal) WithID(id int64) BudgetGoal {
	b.ID = id
	return b
}

func (b BudgetGoal) State() SyncState { return b.Sync }

func (b BudgetGoal) WithState(s SyncState) BudgetGoal {
	b.Sync = s
	return b
}

// Normalized trims the category and icon key.
func (b BudgetGoal) Normalized() BudgetGoal {
	b.Category = strings.TrimSpace(b.Category)
	b.IconKey = strings.TrimSpace(b.IconKey)
	return b
}

func (b BudgetGoal) Validate() error {
	if strings.TrimSpace(b.Category) == "" {
		return invalid("category", ErrEmptyCategory)
	}
	if b.LimitCents <= 0 {
		return invalid("limit", ErrInvalidLimit)
	}
	return nil
}
