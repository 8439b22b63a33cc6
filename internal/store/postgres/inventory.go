package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/xid"
)

func (s *Store) CreateStockAdjustment(ctx context.Context, adjustment domain.StockAdjustment) (*domain.StockAdjustment, error) {
	deltas := make([]stockDelta, 0, len(adjustment.Items))
	ids := make([]string, 0, len(adjustment.Items))
	for _, item := range adjustment.Items {
		if item.Delta.IsZero() {
			return nil, fmt.Errorf("%w: adjustment delta cannot be zero", store.ErrInvalidInput)
		}
		deltas = append(deltas, stockDelta{productID: item.ProductID, qty: item.Delta})
		ids = append(ids, item.ProductID)
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		locked, err := lockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}
		if err := checkStock(locked, deltas); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_adjustments (id, reason, user_id, created_at) VALUES ($1,$2,$3,$4)
		`, adjustment.ID, adjustment.Reason, nullIfEmpty(adjustment.UserID), adjustment.CreatedAt); err != nil {
			return err
		}
		for i, item := range adjustment.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO stock_adjustment_items (adjustment_id, position, product_id, delta) VALUES ($1,$2,$3,$4)
			`, adjustment.ID, i, item.ProductID, item.Delta); err != nil {
				return err
			}
			if err := applyStock(ctx, tx, locked, item.ProductID, item.Delta, domain.StockMovement{
				Type:          domain.MovementAdjustment,
				ReferenceType: "adjustment",
				ReferenceID:   adjustment.ID,
				Note:          adjustment.Reason,
				UserID:        adjustment.UserID,
				CreatedAt:     adjustment.CreatedAt,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &adjustment, nil
}

func (s *Store) ListStockAdjustments(ctx context.Context, limit int) ([]domain.StockAdjustment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reason, COALESCE(user_id, ''), created_at
		FROM stock_adjustments
		ORDER BY created_at DESC
		LIMIT $1
	`, limitOrDefault(limit, 50))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StockAdjustment, 0, 16)
	index := make(map[string]int)
	ids := make([]string, 0, 16)
	for rows.Next() {
		var a domain.StockAdjustment
		if err := rows.Scan(&a.ID, &a.Reason, &a.UserID, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		a.Items = []domain.StockAdjustmentItem{}
		index[a.ID] = len(out)
		ids = append(ids, a.ID)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT adjustment_id, product_id, delta
		FROM stock_adjustment_items
		WHERE adjustment_id = ANY($1)
		ORDER BY adjustment_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			adjustmentID string
			item         domain.StockAdjustmentItem
		)
		if err := itemRows.Scan(&adjustmentID, &item.ProductID, &item.Delta); err != nil {
			return nil, err
		}
		i := index[adjustmentID]
		out[i].Items = append(out[i].Items, item)
	}
	return out, itemRows.Err()
}

func (s *Store) CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	purchase.Status = domain.PurchasePending
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO purchases (id, reference, supplier_id, status, total, note, created_by, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, purchase.ID, purchase.Reference, purchase.SupplierID, purchase.Status, purchase.Total, purchase.Note,
			nullIfEmpty(purchase.CreatedBy), purchase.CreatedAt); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: unknown supplier or product", store.ErrInvalidInput)
			}
			return err
		}
		for i, item := range purchase.Items {
			if item.ID == "" {
				item.ID = xid.New("poi")
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO purchase_items (id, purchase_id, position, product_id, quantity, unit_cost, line_total)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, item.ID, purchase.ID, i, item.ProductID, item.Quantity, item.UnitCost, item.LineTotal); err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("%w: unknown product %s", store.ErrInvalidInput, item.ProductID)
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetPurchase(ctx, purchase.ID)
}

const purchaseSelect = `
	SELECT p.id, p.reference, p.supplier_id, COALESCE(sp.name, ''), p.status, p.total, p.note,
		COALESCE(p.created_by, ''), p.created_at, p.received_at
	FROM purchases p
	LEFT JOIN suppliers sp ON sp.id = p.supplier_id`

func scanPurchase(row rowScanner) (domain.Purchase, error) {
	var (
		p          domain.Purchase
		receivedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Reference, &p.SupplierID, &p.SupplierName, &p.Status, &p.Total, &p.Note, &p.CreatedBy, &p.CreatedAt, &receivedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.ReceivedAt = timePtr(receivedAt)
	return p, err
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return getPurchase(ctx, s.db, id)
}

func getPurchase(ctx context.Context, q queryer, id string) (*domain.Purchase, error) {
	p, err := scanPurchase(q.QueryRowContext(ctx, purchaseSelect+` WHERE p.id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	items, err := purchaseItems(ctx, q, id)
	if err != nil {
		return nil, err
	}
	p.Items = items
	return &p, nil
}

func purchaseItems(ctx context.Context, q queryer, purchaseID string) ([]domain.PurchaseItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT i.id, i.purchase_id, i.product_id, COALESCE(pr.name, ''), i.quantity, i.unit_cost, i.line_total
		FROM purchase_items i
		LEFT JOIN products pr ON pr.id = i.product_id
		WHERE i.purchase_id = $1
		ORDER BY i.position
	`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.PurchaseItem, 0, 8)
	for rows.Next() {
		var item domain.PurchaseItem
		if err := rows.Scan(&item.ID, &item.PurchaseID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitCost, &item.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) ListPurchases(ctx context.Context, status domain.PurchaseStatus, limit int) ([]domain.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, purchaseSelect+`
		WHERE $1 = '' OR p.status = $1
		ORDER BY p.created_at DESC
		LIMIT $2
	`, string(status), limitOrDefault(limit, 100))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Purchase, 0, 32)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range out {
		items, err := purchaseItems(ctx, s.db, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

// ReceivePurchase books every line into stock and refreshes the product's
// purchase price from the received unit cost.
func (s *Store) ReceivePurchase(ctx context.Context, id string, userID string, at time.Time) (*domain.Purchase, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var status domain.PurchaseStatus
		var reference string
		if err := tx.QueryRowContext(ctx, `SELECT status, reference FROM purchases WHERE id = $1 FOR UPDATE`, id).Scan(&status, &reference); err != nil {
			return notFound(err)
		}
		if status != domain.PurchasePending {
			return fmt.Errorf("%w: purchase is %s", store.ErrConflict, status)
		}
		items, err := purchaseItems(ctx, tx, id)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ProductID)
		}
		locked, err := lockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := applyStock(ctx, tx, locked, item.ProductID, item.Quantity, domain.StockMovement{
				Type:          domain.MovementPurchase,
				ReferenceType: "purchase",
				ReferenceID:   id,
				Note:          reference,
				UserID:        userID,
				CreatedAt:     at,
			}); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE products SET purchase_price = $2 WHERE id = $1`, item.ProductID, item.UnitCost); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE purchases SET status = $2, received_at = $3 WHERE id = $1`, id, domain.PurchaseReceived, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetPurchase(ctx, id)
}

func (s *Store) CancelPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var status domain.PurchaseStatus
		if err := tx.QueryRowContext(ctx, `SELECT status FROM purchases WHERE id = $1 FOR UPDATE`, id).Scan(&status); err != nil {
			return notFound(err)
		}
		if status != domain.PurchasePending {
			return fmt.Errorf("%w: purchase is %s", store.ErrConflict, status)
		}
		_, err := tx.ExecContext(ctx, `UPDATE purchases SET status = $2 WHERE id = $1`, id, domain.PurchaseCancelled)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetPurchase(ctx, id)
}
