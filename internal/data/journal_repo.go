package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vendingmachine/internal/cash"
	"vendingmachine/internal/machine"
)

// =============================================================================
// TYPES
// =============================================================================

// Entry is one stored journal row.
type Entry struct {
	ID         string            `json:"id"`
	RecordedAt time.Time         `json:"recorded_at"`
	Kind       machine.EventKind `json:"kind"`
	ProductID  string            `json:"product_id,omitempty"`
	Amount     int               `json:"amount"`
	Currency   string            `json:"currency,omitempty"`
	Payment    machine.Mode      `json:"payment,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Money      cash.Counts       `json:"money,omitempty"`
}

// EntryFromEvent assigns a fresh ID to a machine event.
func EntryFromEvent(e machine.Event) Entry {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	return Entry{
		ID:         uuid.NewString(),
		RecordedAt: at,
		Kind:       e.Kind,
		ProductID:  e.ProductID,
		Amount:     e.Amount,
		Currency:   e.Currency,
		Payment:    e.Payment,
		SessionID:  e.SessionID,
		Reason:     e.Reason,
		Money:      e.Money,
	}
}

// ListOptions filters List.
type ListOptions struct {
	Kind  machine.EventKind // empty for all kinds
	Limit int               // 0 uses DefaultListLimit
}

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 100

// ProductSales totals the sales of one product.
type ProductSales struct {
	ProductID string `json:"product_id"`
	Units     int    `json:"units"`
	Revenue   int    `json:"revenue"`
	CardUnits int    `json:"card_units"`
	CashUnits int    `json:"cash_units"`
}

// =============================================================================
// JOURNAL REPOSITORY
// =============================================================================

// JournalRepository reads and writes journal_entries.
type JournalRepository struct {
	db *DB
}

func NewJournalRepository(db *DB) *JournalRepository {
	return &JournalRepository{db: db}
}

func (r *JournalRepository) Insert(ctx context.Context, entry Entry) error {
	moneyJSON := "{}"
	if len(entry.Money) > 0 {
		var err error
		moneyJSON, err = marshalJSON(entry.Money)
		if err != nil {
			return fmt.Errorf("failed to marshal money: %w", err)
		}
	}

	const stmt = `
		INSERT INTO journal_entries (
			id, recorded_at, kind, product_id, amount, currency, payment, session_id, reason, money_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.execContext(ctx, stmt,
		entry.ID, formatTime(entry.RecordedAt), string(entry.Kind), entry.ProductID,
		entry.Amount, entry.Currency, string(entry.Payment), entry.SessionID, entry.Reason,
		moneyJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}
	return nil
}

// List returns the newest entries first.
func (r *JournalRepository) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	const stmt = `
		SELECT id, recorded_at, kind, product_id, amount, currency, payment, session_id, reason, money_json
		FROM journal_entries
		WHERE (? = '' OR kind = ?)
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT ?`

	rows, err := r.db.queryContext(ctx, stmt, string(opts.Kind), string(opts.Kind), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal rows: %w", err)
	}
	return result, nil
}

// Prune deletes at most limit entries recorded before cutoff.
func (r *JournalRepository) Prune(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	const stmt = `
		DELETE FROM journal_entries
		WHERE id IN (
			SELECT id FROM journal_entries
			WHERE recorded_at < ?
			ORDER BY recorded_at
			LIMIT ?
		)`

	result, err := r.db.execContext(ctx, stmt, formatTime(cutoff), limit)
	if err != nil {
		return 0, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rowsAffected), nil
}

// SalesSummary totals sales per product, busiest first.
func (r *JournalRepository) SalesSummary(ctx context.Context) ([]ProductSales, error) {
	const stmt = `
		SELECT product_id,
			COUNT(*),
			COALESCE(SUM(amount), 0),
			COALESCE(SUM(CASE WHEN payment = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN payment = ? THEN 1 ELSE 0 END), 0)
		FROM journal_entries
		WHERE kind = ?
		GROUP BY product_id
		ORDER BY COUNT(*) DESC, product_id`

	rows, err := r.db.queryContext(ctx, stmt,
		string(machine.ModeCard), string(machine.ModeCash), string(machine.EventSale))
	if err != nil {
		return nil, fmt.Errorf("failed to query sales summary: %w", err)
	}
	defer rows.Close()

	var result []ProductSales
	for rows.Next() {
		var s ProductSales
		if err := rows.Scan(&s.ProductID, &s.Units, &s.Revenue, &s.CardUnits, &s.CashUnits); err != nil {
			return nil, fmt.Errorf("failed to scan sales row: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sales rows: %w", err)
	}
	return result, nil
}

// =============================================================================
// SCANNING HELPERS
// =============================================================================

func (r *JournalRepository) scanEntry(rows *sql.Rows) (Entry, error) {
	var entry Entry
	var recordedAt, kind, payment string
	var productID, currency, sessionID, reason, moneyJSON sql.NullString

	if err := rows.Scan(&entry.ID, &recordedAt, &kind, &productID, &entry.Amount,
		&currency, &payment, &sessionID, &reason, &moneyJSON); err != nil {
		return Entry{}, err
	}

	at, err := parseTime(recordedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to parse recorded_at: %w", err)
	}
	entry.RecordedAt = at
	entry.Kind = machine.EventKind(kind)
	entry.Payment = machine.Mode(payment)
	entry.ProductID = productID.String
	entry.Currency = currency.String
	entry.SessionID = sessionID.String
	entry.Reason = reason.String

	var money cash.Counts
	if err := unmarshalNullableJSON(moneyJSON, &money); err != nil {
		return Entry{}, fmt.Errorf("failed to parse money: %w", err)
	}
	if len(money) > 0 {
		entry.Money = money
	}
	return entry, nil
}
