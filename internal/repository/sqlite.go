package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/markjakearzadon/folio-gobackend/internal/models"
)

// Fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func NewSQLiteStores(db *sql.DB) *Stores {
	return &Stores{
		Transactions: &SQLiteTransactionStore{db: db},
		Anomalies:    &SQLiteAnomalyStore{db: db},
		Orders:       &SQLiteOrderStore{db: db},
		Downloads:    &SQLiteDownloadStore{db: db},
		Catalog:      &SQLiteCatalog{db: db},
		Users:        &SQLiteUserDirectory{db: db},
	}
}

// Transactions

type SQLiteTransactionStore struct {
	db *sql.DB
}

const txColumns = `id, user_id, order_ref, amount, currency_code, provider, external_payment_id, status, created_at, updated_at, metadata`

func (s *SQLiteTransactionStore) Create(ctx context.Context, tx *models.Transaction) error {
	meta, err := json.Marshal(nonNil(tx.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transactions (`+txColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		tx.ID, tx.UserID, tx.OrderRef, tx.Amount, tx.CurrencyCode, string(tx.Provider),
		tx.ExternalPaymentID, string(tx.Status), formatTime(tx.CreatedAt), formatTime(tx.UpdatedAt), string(meta),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *SQLiteTransactionStore) FindByID(ctx context.Context, id string) (*models.Transaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id))
}

func (s *SQLiteTransactionStore) FindByExternalID(ctx context.Context, externalID string) (*models.Transaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE external_payment_id = ?`, externalID))
}

func (s *SQLiteTransactionStore) CompareAndSetStatus(ctx context.Context, externalID string, from, to models.TransactionStatus, patch map[string]string, at time.Time) (bool, error) {
	p, err := json.Marshal(nonNil(patch))
	if err != nil {
		return false, fmt.Errorf("encode metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET status = ?, updated_at = ?, metadata = json_patch(metadata, ?)
		 WHERE external_payment_id = ? AND status = ?`,
		string(to), formatTime(at), string(p), externalID, string(from),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *SQLiteTransactionStore) ListByUser(ctx context.Context, userID string, f TransactionFilter) ([]models.Transaction, error) {
	where := []string{"user_id = ?"}
	args := []any{userID}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(*f.To))
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *SQLiteTransactionStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE status = ? AND created_at < ? ORDER BY created_at LIMIT ?`,
		string(models.TransactionPending), formatTime(cutoff), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		tx               models.Transaction
		provider, status string
		created, updated string
		meta             string
	)
	err := row.Scan(&tx.ID, &tx.UserID, &tx.OrderRef, &tx.Amount, &tx.CurrencyCode, &provider,
		&tx.ExternalPaymentID, &status, &created, &updated, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tx.Provider = models.Provider(provider)
	tx.Status = models.TransactionStatus(status)
	if tx.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if tx.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &tx.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &tx, nil
}

func scanTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	var out []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// Anomalies

type SQLiteAnomalyStore struct {
	db *sql.DB
}

func (s *SQLiteAnomalyStore) Record(ctx context.Context, a *models.LedgerAnomaly) error {
	meta, err := json.Marshal(nonNil(a.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ledger_anomalies
		(id, kind, external_payment_id, stored_status, attempted_status, source, metadata, detected_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, string(a.Kind), a.ExternalPaymentID, string(a.StoredStatus), string(a.AttemptedStatus),
		a.Source, string(meta), formatTime(a.DetectedAt),
	)
	return err
}

func (s *SQLiteAnomalyStore) List(ctx context.Context, limit int) ([]models.LedgerAnomaly, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, external_payment_id, stored_status, attempted_status, source, metadata, detected_at
		 FROM ledger_anomalies ORDER BY detected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LedgerAnomaly
	for rows.Next() {
		var (
			a                       models.LedgerAnomaly
			kind, stored, attempted string
			meta, detected          string
		)
		if err := rows.Scan(&a.ID, &kind, &a.ExternalPaymentID, &stored, &attempted, &a.Source, &meta, &detected); err != nil {
			return nil, err
		}
		a.Kind = models.AnomalyKind(kind)
		a.StoredStatus = models.TransactionStatus(stored)
		a.AttemptedStatus = models.TransactionStatus(attempted)
		if a.DetectedAt, err = parseTime(detected); err != nil {
			return nil, fmt.Errorf("parse detected_at: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Orders

type SQLiteOrderStore struct {
	db *sql.DB
}

const orderColumns = `id, user_id, items, total_amount_base, actual_amount_paid, currency_code, region_code, item_count,
	status, order_date, last_updated_at, last_updated_by, payment_gateway_id, payment_method, history`

func (s *SQLiteOrderStore) Create(ctx context.Context, o *models.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	history := o.History
	if history == nil {
		history = []models.StatusChange{}
	}
	hist, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.UserID, string(items), o.TotalAmountBaseCurrency, o.ActualAmountPaid, o.CurrencyCode,
		o.RegionCode, o.ItemCount, string(o.Status), formatTime(o.OrderDate), formatTime(o.LastUpdatedAt),
		string(o.LastUpdatedBy), o.PaymentGatewayID, string(o.PaymentMethod), string(hist),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *SQLiteOrderStore) FindByID(ctx context.Context, id string) (*models.Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
}

func (s *SQLiteOrderStore) FindByPaymentGatewayID(ctx context.Context, externalID string) (*models.Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE payment_gateway_id = ? ORDER BY order_date DESC LIMIT 1`, externalID))
}

func (s *SQLiteOrderStore) CompareAndSetStatus(ctx context.Context, id string, change models.StatusChange) (bool, error) {
	c, err := json.Marshal(change)
	if err != nil {
		return false, fmt.Errorf("encode status change: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, last_updated_at = ?, last_updated_by = ?,
		 history = json_insert(history, '$[#]', json(?))
		 WHERE id = ? AND status = ?`,
		string(change.To), formatTime(change.At), string(change.Actor), string(c), id, string(change.From),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *SQLiteOrderStore) FindCompletedWithBook(ctx context.Context, userID, bookID string) (*models.Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE user_id = ? AND status = ?
		   AND EXISTS (SELECT 1 FROM json_each(orders.items) WHERE json_extract(json_each.value, '$.bookId') = ?)
		 ORDER BY order_date DESC LIMIT 1`,
		userID, string(models.OrderCompleted), bookID))
}

func (s *SQLiteOrderStore) ListByUser(ctx context.Context, userID string, status models.OrderStatus) ([]models.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY order_date DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *SQLiteOrderStore) ListPending(ctx context.Context, after PageCursor, limit int) ([]models.Order, error) {
	at := formatTime(after.OrderDate)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		WHERE status = ? AND (order_date > ? OR (order_date = ? AND id > ?))
		ORDER BY order_date, id LIMIT ?`,
		string(models.OrderPending), at, at, after.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o                      models.Order
		items, hist            string
		status, by, method     string
		orderDate, lastUpdated string
	)
	err := row.Scan(&o.ID, &o.UserID, &items, &o.TotalAmountBaseCurrency, &o.ActualAmountPaid, &o.CurrencyCode,
		&o.RegionCode, &o.ItemCount, &status, &orderDate, &lastUpdated, &by, &o.PaymentGatewayID, &method, &hist)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	o.LastUpdatedBy = models.Actor(by)
	o.PaymentMethod = models.Provider(method)
	if o.OrderDate, err = parseTime(orderDate); err != nil {
		return nil, fmt.Errorf("parse order_date: %w", err)
	}
	if o.LastUpdatedAt, err = parseTime(lastUpdated); err != nil {
		return nil, fmt.Errorf("parse last_updated_at: %w", err)
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal([]byte(hist), &o.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]models.Order, error) {
	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// Downloads

type SQLiteDownloadStore struct {
	db *sql.DB
}

func (s *SQLiteDownloadStore) Create(ctx context.Context, d *models.Download) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO downloads (id, user_id, book_id, order_id, downloaded_at) VALUES (?,?,?,?,?)`,
		d.ID, d.UserID, d.BookID, d.OrderID, formatTime(d.DownloadedAt))
	return err
}

func (s *SQLiteDownloadStore) ListByUser(ctx context.Context, userID string) ([]models.Download, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, book_id, order_id, downloaded_at FROM downloads WHERE user_id = ? ORDER BY downloaded_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Download
	for rows.Next() {
		var d models.Download
		var at string
		if err := rows.Scan(&d.ID, &d.UserID, &d.BookID, &d.OrderID, &at); err != nil {
			return nil, err
		}
		if d.DownloadedAt, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parse downloaded_at: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Catalog and users

type SQLiteCatalog struct {
	db *sql.DB
}

func (s *SQLiteCatalog) FindBook(ctx context.Context, id string) (*models.Book, error) {
	var b models.Book
	err := s.db.QueryRowContext(ctx, `SELECT id, title, price, file_ref, cover_ref FROM books WHERE id = ?`, id).
		Scan(&b.ID, &b.Title, &b.Price, &b.FileRef, &b.CoverRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQLiteCatalog) UpsertBook(ctx context.Context, b *models.Book) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO books (id, title, price, file_ref, cover_ref) VALUES (?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, price = excluded.price,
		 file_ref = excluded.file_ref, cover_ref = excluded.cover_ref`,
		b.ID, b.Title, b.Price, b.FileRef, b.CoverRef)
	return err
}

type SQLiteUserDirectory struct {
	db *sql.DB
}

func (s *SQLiteUserDirectory) FindUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, email FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.DisplayName, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteUserDirectory) UpsertUser(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, email) VALUES (?,?,?)
		 ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name, email = excluded.email`,
		u.ID, u.DisplayName, u.Email)
	return err
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
