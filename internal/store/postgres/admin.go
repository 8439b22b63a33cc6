package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/xid"
)

func (s *Store) GetSettings(ctx context.Context) (*domain.Settings, error) {
	var settings domain.Settings
	err := s.db.QueryRowContext(ctx, `
		SELECT store_name, address, phone, currency, receipt_footer, tax_mode, tax_value, updated_at
		FROM settings WHERE id = 1
	`).Scan(&settings.StoreName, &settings.Address, &settings.Phone, &settings.Currency, &settings.ReceiptFooter,
		&settings.TaxMode, &settings.TaxValue, &settings.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return &settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error) {
	if err := saveSettings(ctx, s.db, settings); err != nil {
		return nil, err
	}
	return s.GetSettings(ctx)
}

func saveSettings(ctx context.Context, q queryer, settings domain.Settings) error {
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO settings (id, store_name, address, phone, currency, receipt_footer, tax_mode, tax_value, updated_at)
		VALUES (1,$1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			store_name = EXCLUDED.store_name, address = EXCLUDED.address, phone = EXCLUDED.phone,
			currency = EXCLUDED.currency, receipt_footer = EXCLUDED.receipt_footer,
			tax_mode = EXCLUDED.tax_mode, tax_value = EXCLUDED.tax_value, updated_at = EXCLUDED.updated_at
	`, settings.StoreName, settings.Address, settings.Phone, settings.Currency, settings.ReceiptFooter,
		settings.TaxMode, settings.TaxValue, settings.UpdatedAt)
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, nullIfEmpty(entry.UserID), entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(user_id, ''), action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limitOrDefault(limit, 100))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Bootstrap writes first-run data in one transaction. Existing units, the
// default category, the system user and the walk-in customer are reused.
func (s *Store) Bootstrap(ctx context.Context, data domain.BootstrapData) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var users int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM users WHERE NOT is_system`).Scan(&users); err != nil {
			return err
		}
		if users > 0 {
			return fmt.Errorf("%w: already initialized", store.ErrConflict)
		}

		for _, role := range data.Roles {
			var existing string
			err := tx.QueryRowContext(ctx, `SELECT id FROM roles WHERE lower(name) = lower($1)`, role.Name).Scan(&existing)
			switch {
			case err == nil:
				if existing != role.ID && role.ID == data.Admin.RoleID {
					data.Admin.RoleID = existing
				}
				if existing != role.ID && role.ID == data.SystemUser.RoleID {
					data.SystemUser.RoleID = existing
				}
				continue
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
			if err := insertRole(ctx, tx, role); err != nil {
				return err
			}
		}

		for _, unit := range data.Units {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO units (id, name, symbol, lifecycle, created_at, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6)
				ON CONFLICT DO NOTHING
			`, unit.ID, unit.Name, unit.Symbol, unit.Lifecycle, unit.CreatedAt, unit.UpdatedAt); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO categories (id, name, description, lifecycle, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT DO NOTHING
		`, data.Category.ID, data.Category.Name, data.Category.Description, data.Category.Lifecycle, data.Category.CreatedAt, data.Category.UpdatedAt); err != nil {
			return err
		}

		if data.SystemUser.ID != "" {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE lower(username) = lower($1))`, data.SystemUser.Username).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				if err := insertUser(ctx, tx, data.SystemUser); err != nil {
					return err
				}
			}
		}
		admin := data.Admin
		admin.Protected = true
		if err := insertUser(ctx, tx, admin); err != nil {
			return err
		}

		if data.WalkIn.ID != "" {
			w := data.WalkIn
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO customers (id, name, walk_in, lifecycle, created_at, updated_at)
				VALUES ($1,$2,true,$3,$4,$5)
				ON CONFLICT DO NOTHING
			`, w.ID, w.Name, w.Lifecycle, w.CreatedAt, w.UpdatedAt); err != nil {
				return err
			}
		}
		return saveSettings(ctx, tx, data.Settings)
	})
}

// WipeHistory deletes transactional history and zeroes customer balances.
// Master data and users are kept, and each product keeps its stock as a fresh
// OPENING movement so stock still equals the sum of its movements.
func (s *Store) WipeHistory(ctx context.Context) (domain.WipeResult, error) {
	var result domain.WipeResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result = domain.WipeResult{}
		steps := []struct {
			query string
			count *int64
		}{
			{`DELETE FROM sale_return_items`, nil},
			{`DELETE FROM sale_returns`, &result.Returns},
			{`DELETE FROM sale_items`, nil},
			{`DELETE FROM sales`, &result.Sales},
			{`DELETE FROM purchase_items`, nil},
			{`DELETE FROM purchases`, &result.Purchases},
			{`DELETE FROM stock_adjustment_items`, nil},
			{`DELETE FROM stock_adjustments`, &result.Adjustments},
			{`DELETE FROM stock_movements`, &result.StockMovements},
			{`DELETE FROM customer_payments`, &result.Payments},
			{`DELETE FROM held_carts`, &result.HeldCarts},
			{`UPDATE customers SET credit_balance = 0, total_spent = 0, visit_count = 0, updated_at = now()`, nil},
		}
		for _, step := range steps {
			res, err := tx.ExecContext(ctx, step.query)
			if err != nil {
				return err
			}
			if step.count == nil {
				continue
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			*step.count = n
		}
		return reopenStock(ctx, tx, time.Now().UTC())
	})
	return result, err
}

// reopenStock books every non-zero stock level as an OPENING movement.
func reopenStock(ctx context.Context, tx *sql.Tx, at time.Time) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, stock FROM products WHERE stock <> 0 ORDER BY id`)
	if err != nil {
		return err
	}
	type balance struct {
		id    string
		stock decimal.Decimal
	}
	var balances []balance
	for rows.Next() {
		var b balance
		if err := rows.Scan(&b.id, &b.stock); err != nil {
			rows.Close()
			return err
		}
		balances = append(balances, b)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, b := range balances {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stock_movements (id, product_id, quantity, type, stock_before, stock_after, reference_type, reference_id, note, user_id, created_at)
			VALUES ($1,$2,$3,$4,0,$3,'wipe','',$5,NULL,$6)
		`, xid.New("mv"), b.id, b.stock, domain.MovementOpening, store.WipeOpeningNote, at)
		if err != nil {
			return err
		}
	}
	return nil
}
