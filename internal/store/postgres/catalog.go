package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
)

const categoryColumns = `id, name, description, lifecycle, created_at, updated_at`

func scanCategory(row rowScanner) (domain.Category, error) {
	var c domain.Category
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Lifecycle, &c.CreatedAt, &c.UpdatedAt)
	c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
	return c, err
}

func (s *Store) ListCategories(ctx context.Context, includeArchived bool) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE $1 OR lifecycle = 'ACTIVE'
		ORDER BY lower(name)
	`, includeArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Category, 0, 32)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	c, err := scanCategory(s.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, description, lifecycle, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, category.ID, category.Name, category.Description, category.Lifecycle, category.CreatedAt, category.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &category, nil
}

func (s *Store) UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE categories SET name = $2, description = $3, lifecycle = $4, updated_at = $5
		WHERE id = $1
	`, category.ID, category.Name, category.Description, category.Lifecycle, category.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetCategory(ctx, category.ID)
}

const unitColumns = `id, name, symbol, lifecycle, created_at, updated_at`

func scanUnit(row rowScanner) (domain.Unit, error) {
	var u domain.Unit
	err := row.Scan(&u.ID, &u.Name, &u.Symbol, &u.Lifecycle, &u.CreatedAt, &u.UpdatedAt)
	u.CreatedAt, u.UpdatedAt = u.CreatedAt.UTC(), u.UpdatedAt.UTC()
	return u, err
}

func (s *Store) ListUnits(ctx context.Context, includeArchived bool) ([]domain.Unit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+unitColumns+`
		FROM units
		WHERE $1 OR lifecycle = 'ACTIVE'
		ORDER BY lower(name)
	`, includeArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Unit, 0, 16)
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) GetUnit(ctx context.Context, id string) (*domain.Unit, error) {
	u, err := scanUnit(s.db.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) CreateUnit(ctx context.Context, unit domain.Unit) (*domain.Unit, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO units (id, name, symbol, lifecycle, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, unit.ID, unit.Name, unit.Symbol, unit.Lifecycle, unit.CreatedAt, unit.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &unit, nil
}

func (s *Store) UpdateUnit(ctx context.Context, unit domain.Unit) (*domain.Unit, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE units SET name = $2, symbol = $3, lifecycle = $4, updated_at = $5
		WHERE id = $1
	`, unit.ID, unit.Name, unit.Symbol, unit.Lifecycle, unit.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetUnit(ctx, unit.ID)
}

const productSelect = `
	SELECT p.id, p.name, COALESCE(p.sku, ''), COALESCE(p.barcode, ''), p.category_id, COALESCE(c.name, ''),
		COALESCE(p.unit_id, ''), COALESCE(u.symbol, ''), p.purchase_price, p.selling_price, p.stock, p.min_stock,
		p.lifecycle, p.created_at, p.updated_at
	FROM products p
	LEFT JOIN categories c ON c.id = p.category_id
	LEFT JOIN units u ON u.id = p.unit_id`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.SKU, &p.Barcode, &p.CategoryID, &p.CategoryName,
		&p.UnitID, &p.UnitSymbol, &p.PurchasePrice, &p.SellingPrice, &p.Stock, &p.MinStock,
		&p.Lifecycle, &p.CreatedAt, &p.UpdatedAt,
	)
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return p, err
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	where := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if !filter.IncludeArchived {
		where = append(where, "p.lifecycle = 'ACTIVE'")
	}
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		where = append(where, fmt.Sprintf("p.category_id = $%d", len(args)))
	}
	if filter.LowStockOnly {
		where = append(where, "p.stock <= p.min_stock")
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%", search)
		where = append(where, fmt.Sprintf("(lower(p.name) LIKE $%d OR lower(p.sku) = lower($%d) OR p.barcode = $%d)", len(args)-1, len(args), len(args)))
	}

	query := productSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY lower(p.name)"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, productSelect+` WHERE p.id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, productSelect+` WHERE lower(p.sku) = lower($1)`, sku))
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, opening domain.StockMovement) (*domain.Product, error) {
	if opening.Quantity.IsNegative() {
		return nil, fmt.Errorf("%w: opening stock cannot be negative", store.ErrInvalidInput)
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (id, name, sku, barcode, category_id, unit_id, purchase_price, selling_price, stock, min_stock, lifecycle, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,$9,$10,$11,$12)
		`, product.ID, product.Name, nullIfEmpty(product.SKU), nullIfEmpty(product.Barcode), product.CategoryID, nullIfEmpty(product.UnitID),
			product.PurchasePrice, product.SellingPrice, product.MinStock, product.Lifecycle, product.CreatedAt, product.UpdatedAt)
		if err != nil {
			return err
		}
		if !opening.Quantity.IsPositive() {
			return nil
		}

		locked := map[string]lockedProduct{product.ID: {name: product.Name, stock: decimal.Zero}}
		opening.Type = domain.MovementOpening
		opening.ReferenceType = "product"
		opening.ReferenceID = product.ID
		if opening.CreatedAt.IsZero() {
			opening.CreatedAt = product.CreatedAt
		}
		return applyStock(ctx, tx, locked, product.ID, opening.Quantity, opening)
	})
	if err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, sku = $3, barcode = $4, category_id = $5, unit_id = $6, purchase_price = $7,
			selling_price = $8, min_stock = $9, lifecycle = $10, updated_at = $11
		WHERE id = $1
	`, product.ID, product.Name, nullIfEmpty(product.SKU), nullIfEmpty(product.Barcode), product.CategoryID, nullIfEmpty(product.UnitID),
		product.PurchasePrice, product.SellingPrice, product.MinStock, product.Lifecycle, product.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, quantity, type, stock_before, stock_after, reference_type, reference_id, note, COALESCE(user_id, ''), created_at
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limitOrDefault(limit, 100))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StockMovement, 0, 32)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Quantity, &m.Type, &m.StockBefore, &m.StockAfter, &m.ReferenceType, &m.ReferenceID, &m.Note, &m.UserID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}
