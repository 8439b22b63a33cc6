package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/xid"
)

var _ store.Repository = (*Store)(nil)

const maxTxAttempts = 3

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// inTx runs fn in a SERIALIZABLE transaction and retries it when Postgres
// reports a serialization failure or deadlock. After the last attempt the
// caller gets store.ErrSerialization.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if !isRetryable(err) {
			return mapError(err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return store.ErrSerialization
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type lockedProduct struct {
	name  string
	stock decimal.Decimal
}

// lockProducts takes row locks in id order so concurrent checkouts touching
// the same products cannot deadlock.
func lockProducts(ctx context.Context, tx *sql.Tx, ids []string) (map[string]lockedProduct, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	locked := make(map[string]lockedProduct, len(sorted))
	for _, id := range sorted {
		var p lockedProduct
		err := tx.QueryRowContext(ctx, `SELECT name, stock FROM products WHERE id = $1 FOR UPDATE`, id).Scan(&p.name, &p.stock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
			}
			return nil, err
		}
		locked[id] = p
	}
	return locked, nil
}

type stockDelta struct {
	productID string
	qty       decimal.Decimal
}

func checkStock(locked map[string]lockedProduct, deltas []stockDelta) error {
	projected := make(map[string]decimal.Decimal, len(deltas))
	for _, delta := range deltas {
		product := locked[delta.productID]
		current, seen := projected[delta.productID]
		if !seen {
			current = product.stock
		}
		next := current.Add(delta.qty)
		if next.IsNegative() {
			return fmt.Errorf("%w: %s requested %s, available %s", store.ErrInsufficientStock, product.name, delta.qty.Neg().String(), current.String())
		}
		projected[delta.productID] = next
	}
	return nil
}

// applyStock moves a locked product's stock by qty and records the movement.
func applyStock(ctx context.Context, tx *sql.Tx, locked map[string]lockedProduct, productID string, qty decimal.Decimal, movement domain.StockMovement) error {
	product := locked[productID]
	before := product.stock
	after := domain.RoundQty(before.Add(qty))

	if _, err := tx.ExecContext(ctx, `UPDATE products SET stock = $2, updated_at = $3 WHERE id = $1`, productID, after, movement.CreatedAt); err != nil {
		return err
	}
	if movement.ID == "" {
		movement.ID = xid.New("mv")
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, product_id, quantity, type, stock_before, stock_after, reference_type, reference_id, note, user_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, movement.ID, productID, qty, movement.Type, before, after, movement.ReferenceType, movement.ReferenceID, movement.Note, nullIfEmpty(movement.UserID), movement.CreatedAt)
	if err != nil {
		return err
	}

	product.stock = after
	locked[productID] = product
	return nil
}

// isRetryable also covers two checkouts racing for the same invoice number.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if isUniqueViolation(err) {
		return pgErr.ConstraintName == "sales_invoice_number_key" || pgErr.ConstraintName == "sales_sale_number_key"
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

// mapError translates constraint violations into store errors so callers
// never see driver types.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s already exists", store.ErrConflict, conflictSubject(pgErr.ConstraintName))
	case "23503":
		return fmt.Errorf("%w: record is still referenced", store.ErrConflict)
	case "23514":
		if pgErr.ConstraintName == "products_stock_check" {
			return store.ErrInsufficientStock
		}
		return fmt.Errorf("%w: %s", store.ErrInvalidInput, pgErr.ConstraintName)
	}
	return err
}

func conflictSubject(constraint string) string {
	switch constraint {
	case "roles_name_key":
		return "role name"
	case "users_username_key":
		return "username"
	case "categories_active_name_key":
		return "category name"
	case "units_active_symbol_key":
		return "unit symbol"
	case "products_sku_key":
		return "sku"
	case "products_barcode_key":
		return "barcode"
	case "purchases_reference_key":
		return "purchase reference"
	case "customers_walk_in_key":
		return "walk-in customer"
	case "sales_invoice_number_key", "sales_sale_number_key":
		return "invoice number"
	default:
		return "record"
	}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}

func limitOrDefault(limit int, fallback int) int {
	if limit < 1 {
		return fallback
	}
	return limit
}
