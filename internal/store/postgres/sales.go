package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/xid"
)

// CreateSale is the checkout unit of work. Any failure rolls back every write.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, fmt.Errorf("%w: sale has no items", store.ErrInvalidInput)
	}
	deltas := make([]stockDelta, 0, len(sale.Items))
	ids := make([]string, 0, len(sale.Items))
	for _, item := range sale.Items {
		if !item.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidInput)
		}
		deltas = append(deltas, stockDelta{productID: item.ProductID, qty: item.Quantity.Neg()})
		ids = append(ids, item.ProductID)
	}
	sale.PaymentStatus = domain.PaymentStatusFor(sale.PaymentMethod)
	sale.Status = domain.SaleCompleted

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var customer *domain.Customer
		if sale.CustomerID != "" {
			c, err := getCustomer(ctx, tx, sale.CustomerID, true)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("%w: unknown customer %s", store.ErrInvalidInput, sale.CustomerID)
				}
				return err
			}
			customer = c
		}
		if sale.PaymentMethod == domain.PaymentCredit {
			if customer == nil || customer.WalkIn {
				return fmt.Errorf("%w: credit sales need a registered customer", store.ErrInvalidInput)
			}
			balance := customer.CreditBalance.Add(sale.Total)
			if customer.CreditLimit.IsPositive() && balance.GreaterThan(customer.CreditLimit) {
				return fmt.Errorf("%w: credit limit %s exceeded", store.ErrConflict, customer.CreditLimit.StringFixed(2))
			}
		}

		locked, err := lockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}
		if err := checkStock(locked, deltas); err != nil {
			return err
		}

		var last int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(invoice_number), 0) FROM sales`).Scan(&last); err != nil {
			return err
		}
		sale.InvoiceNumber = last + 1
		sale.SaleNumber = domain.SaleNumber(sale.InvoiceNumber, sale.CreatedAt)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sales (id, invoice_number, sale_number, subtotal, discount_amount, tax_amount, total, cash_received,
				change_amount, payment_method, payment_status, status, customer_id, cashier_id, note, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		`, sale.ID, sale.InvoiceNumber, sale.SaleNumber, sale.Subtotal, sale.DiscountAmount, sale.TaxAmount, sale.Total,
			sale.CashReceived, sale.Change, sale.PaymentMethod, sale.PaymentStatus, sale.Status,
			nullIfEmpty(sale.CustomerID), nullIfEmpty(sale.CashierID), sale.Note, sale.CreatedAt); err != nil {
			return err
		}

		for i, item := range sale.Items {
			if item.ID == "" {
				item.ID = xid.New("si")
			}
			if item.ProductName == "" {
				item.ProductName = locked[item.ProductID].name
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sale_items (id, sale_id, position, product_id, product_name, quantity, unit_price, discount, tax, line_total)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			`, item.ID, sale.ID, i, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Discount, item.Tax, item.LineTotal); err != nil {
				return err
			}
			if err := applyStock(ctx, tx, locked, item.ProductID, item.Quantity.Neg(), domain.StockMovement{
				Type:          domain.MovementSale,
				ReferenceType: "sale",
				ReferenceID:   sale.ID,
				Note:          sale.SaleNumber,
				UserID:        sale.CashierID,
				CreatedAt:     sale.CreatedAt,
			}); err != nil {
				return err
			}
		}

		if customer != nil && !customer.WalkIn {
			credit := decimal.Zero
			if sale.PaymentStatus == domain.PaymentUnpaid {
				credit = sale.Total
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE customers
				SET total_spent = total_spent + $2, visit_count = visit_count + 1,
					credit_balance = credit_balance + $3, updated_at = $4
				WHERE id = $1
			`, customer.ID, sale.Total, credit, sale.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetSale(ctx, sale.ID)
}

const saleSelect = `
	SELECT s.id, s.invoice_number, s.sale_number, s.subtotal, s.discount_amount, s.tax_amount, s.total,
		COALESCE((SELECT SUM(r.refund_amount) FROM sale_returns r WHERE r.sale_id = s.id), 0),
		s.cash_received, s.change_amount, s.payment_method, s.payment_status, s.status,
		COALESCE(s.customer_id, ''), COALESCE(c.name, ''), COALESCE(s.cashier_id, ''), COALESCE(u.name, ''),
		s.note, s.void_reason, s.voided_at, s.created_at
	FROM sales s
	LEFT JOIN customers c ON c.id = s.customer_id
	LEFT JOIN users u ON u.id = s.cashier_id`

func scanSale(row rowScanner) (domain.Sale, error) {
	var (
		sale     domain.Sale
		voidedAt sql.NullTime
	)
	err := row.Scan(&sale.ID, &sale.InvoiceNumber, &sale.SaleNumber, &sale.Subtotal, &sale.DiscountAmount, &sale.TaxAmount, &sale.Total,
		&sale.RefundedAmount, &sale.CashReceived, &sale.Change, &sale.PaymentMethod, &sale.PaymentStatus, &sale.Status,
		&sale.CustomerID, &sale.CustomerName, &sale.CashierID, &sale.CashierName,
		&sale.Note, &sale.VoidReason, &voidedAt, &sale.CreatedAt)
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.VoidedAt = timePtr(voidedAt)
	return sale, err
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getSale(ctx, s.db, id, false)
}

func getSale(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.Sale, error) {
	query := saleSelect + ` WHERE s.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF s`
	}
	sale, err := scanSale(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	items, err := saleItems(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	sale.Items = items[id]
	if sale.Items == nil {
		sale.Items = []domain.SaleItem{}
	}
	return &sale, nil
}

func saleItems(ctx context.Context, q queryer, saleIDs []string) (map[string][]domain.SaleItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, product_name, quantity, unit_price, discount, tax, line_total, returned_quantity
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.SaleItem, len(saleIDs))
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice,
			&item.Discount, &item.Tax, &item.LineTotal, &item.ReturnedQuantity); err != nil {
			return nil, err
		}
		out[item.SaleID] = append(out[item.SaleID], item)
	}
	return out, rows.Err()
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	where := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("s.created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("s.created_at < $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("s.status = $%d", len(args)))
	}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("s.customer_id = $%d", len(args)))
	}

	query := saleSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY s.created_at DESC, s.invoice_number DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Sale, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !filter.WithItems || len(ids) == 0 {
		return out, nil
	}

	items, err := saleItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

// VoidSale puts every sold unit back on the shelf and reverses the customer
// stats booked at checkout.
func (s *Store) VoidSale(ctx context.Context, id string, reason string, userID string, at time.Time) (*domain.Sale, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sale, err := getSale(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleCompleted {
			return fmt.Errorf("%w: sale is %s", store.ErrConflict, sale.Status)
		}
		ids := make([]string, 0, len(sale.Items))
		for _, item := range sale.Items {
			if item.ReturnedQuantity.IsPositive() {
				return fmt.Errorf("%w: sale has returns and cannot be voided", store.ErrConflict)
			}
			ids = append(ids, item.ProductID)
		}

		locked, err := lockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, item := range sale.Items {
			if err := applyStock(ctx, tx, locked, item.ProductID, item.Quantity, domain.StockMovement{
				Type:          domain.MovementVoid,
				ReferenceType: "sale",
				ReferenceID:   sale.ID,
				Note:          reason,
				UserID:        userID,
				CreatedAt:     at,
			}); err != nil {
				return err
			}
		}

		if sale.CustomerID != "" {
			credit := decimal.Zero
			if sale.PaymentStatus == domain.PaymentUnpaid {
				credit = sale.Total
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE customers
				SET total_spent = GREATEST(total_spent - $2, 0), visit_count = GREATEST(visit_count - 1, 0),
					credit_balance = GREATEST(credit_balance - $3, 0), updated_at = $4
				WHERE id = $1 AND NOT walk_in
			`, sale.CustomerID, sale.Total, credit, at); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `UPDATE sales SET status = $2, void_reason = $3, voided_at = $4 WHERE id = $1`,
			id, domain.SaleVoid, reason, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetSale(ctx, id)
}

func (s *Store) CreateSaleReturn(ctx context.Context, ret domain.SaleReturn) (*domain.SaleReturn, error) {
	if len(ret.Items) == 0 {
		return nil, fmt.Errorf("%w: return has no items", store.ErrInvalidInput)
	}
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}

	var created domain.SaleReturn
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sale, err := getSale(ctx, tx, ret.SaleID, true)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleCompleted {
			return fmt.Errorf("%w: sale is %s", store.ErrConflict, sale.Status)
		}

		index := make(map[string]int, len(sale.Items))
		for i, item := range sale.Items {
			index[item.ID] = i
		}
		returned := make([]domain.SaleReturnItem, 0, len(ret.Items))
		ids := make([]string, 0, len(ret.Items))
		refund := decimal.Zero
		for _, line := range ret.Items {
			i, ok := index[line.SaleItemID]
			if !ok {
				return fmt.Errorf("%w: item %s is not part of this sale", store.ErrInvalidInput, line.SaleItemID)
			}
			if !line.Quantity.IsPositive() {
				return fmt.Errorf("%w: quantity must be positive", store.ErrInvalidInput)
			}
			item := &sale.Items[i]
			if line.Quantity.GreaterThan(item.Returnable()) {
				return fmt.Errorf("%w: %s can return at most %s", store.ErrConflict, item.ProductName, item.Returnable().String())
			}
			amount := domain.ReturnAmount(*sale, *item, line.Quantity)
			item.ReturnedQuantity = item.ReturnedQuantity.Add(line.Quantity)
			refund = refund.Add(amount)
			returned = append(returned, domain.SaleReturnItem{SaleItemID: item.ID, ProductID: item.ProductID, Quantity: line.Quantity, Amount: amount})
			ids = append(ids, item.ProductID)
		}
		ret.Items = returned
		ret.RefundAmount = domain.RoundMoney(refund)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_returns (id, sale_id, reason, refund_amount, user_id, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, ret.ID, ret.SaleID, ret.Reason, ret.RefundAmount, nullIfEmpty(ret.UserID), ret.CreatedAt); err != nil {
			return err
		}

		locked, err := lockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, item := range returned {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sale_return_items (return_id, sale_item_id, product_id, quantity, amount)
				VALUES ($1,$2,$3,$4,$5)
			`, ret.ID, item.SaleItemID, item.ProductID, item.Quantity, item.Amount); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE sale_items SET returned_quantity = returned_quantity + $2 WHERE id = $1`,
				item.SaleItemID, item.Quantity); err != nil {
				return err
			}
			if err := applyStock(ctx, tx, locked, item.ProductID, item.Quantity, domain.StockMovement{
				Type:          domain.MovementReturn,
				ReferenceType: "return",
				ReferenceID:   ret.ID,
				Note:          ret.Reason,
				UserID:        ret.UserID,
				CreatedAt:     ret.CreatedAt,
			}); err != nil {
				return err
			}
		}

		if sale.CustomerID != "" {
			credit := decimal.Zero
			if sale.PaymentStatus == domain.PaymentUnpaid {
				credit = ret.RefundAmount
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE customers
				SET total_spent = GREATEST(total_spent - $2, 0), credit_balance = GREATEST(credit_balance - $3, 0), updated_at = $4
				WHERE id = $1 AND NOT walk_in
			`, sale.CustomerID, ret.RefundAmount, credit, ret.CreatedAt); err != nil {
				return err
			}
		}
		if sale.FullyReturned() {
			if _, err := tx.ExecContext(ctx, `UPDATE sales SET status = $2 WHERE id = $1`, sale.ID, domain.SaleReturned); err != nil {
				return err
			}
		}
		created = ret
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) ListSaleReturns(ctx context.Context, saleID string) ([]domain.SaleReturn, error) {
	if _, err := s.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, reason, refund_amount, COALESCE(user_id, ''), created_at
		FROM sale_returns
		WHERE sale_id = $1
		ORDER BY created_at
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.SaleReturn, 0, 4)
	index := make(map[string]int)
	for rows.Next() {
		var r domain.SaleReturn
		if err := rows.Scan(&r.ID, &r.SaleID, &r.Reason, &r.RefundAmount, &r.UserID, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		r.Items = []domain.SaleReturnItem{}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT ri.return_id, ri.sale_item_id, ri.product_id, ri.quantity, ri.amount
		FROM sale_return_items ri
		JOIN sale_returns r ON r.id = ri.return_id
		WHERE r.sale_id = $1
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			returnID string
			item     domain.SaleReturnItem
		)
		if err := itemRows.Scan(&returnID, &item.SaleItemID, &item.ProductID, &item.Quantity, &item.Amount); err != nil {
			return nil, err
		}
		if i, ok := index[returnID]; ok {
			out[i].Items = append(out[i].Items, item)
		}
	}
	return out, itemRows.Err()
}

func (s *Store) CreateHeldCart(ctx context.Context, held domain.HeldCart) (*domain.HeldCart, error) {
	raw, err := json.Marshal(held.Cart)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO held_carts (id, user_id, note, cart, created_at) VALUES ($1,$2,$3,$4,$5)
	`, held.ID, held.UserID, held.Note, raw, held.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &held, nil
}

func scanHeldCart(row rowScanner) (domain.HeldCart, error) {
	var (
		held domain.HeldCart
		raw  []byte
	)
	if err := row.Scan(&held.ID, &held.UserID, &held.Note, &raw, &held.CreatedAt); err != nil {
		return held, err
	}
	held.CreatedAt = held.CreatedAt.UTC()
	if err := json.Unmarshal(raw, &held.Cart); err != nil {
		return held, fmt.Errorf("held cart %s: %w", held.ID, err)
	}
	return held, nil
}

func (s *Store) ListHeldCarts(ctx context.Context, userID string) ([]domain.HeldCart, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, note, cart, created_at
		FROM held_carts
		WHERE $1 = '' OR user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.HeldCart, 0, 8)
	for rows.Next() {
		held, err := scanHeldCart(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, held)
	}
	return out, rows.Err()
}

// PopHeldCart removes the held cart and returns it.
func (s *Store) PopHeldCart(ctx context.Context, id string) (*domain.HeldCart, error) {
	held, err := scanHeldCart(s.db.QueryRowContext(ctx, `
		DELETE FROM held_carts WHERE id = $1
		RETURNING id, user_id, note, cart, created_at
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &held, nil
}
