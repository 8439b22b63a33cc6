package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/spreadsheet"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/xid"
)

func (s *Service) ListCategories(ctx context.Context, includeArchived bool) ([]domain.Category, error) {
	if _, err := s.authorize(ctx, permission.ModuleCategories, permission.ActionView); err != nil {
		return nil, err
	}
	return s.repo.ListCategories(ctx, includeArchived)
}

func (s *Service) CreateCategory(ctx context.Context, in domain.CategoryInput) (*domain.Category, error) {
	if _, err := s.authorize(ctx, permission.ModuleCategories, permission.ActionCreate); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: category name is required", store.ErrInvalidInput)
	}

	now := s.clock()
	created, err := s.repo.CreateCategory(ctx, domain.Category{
		ID:          xid.New("cat"),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Lifecycle:   domain.LifecycleActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "category_create", "category", created.ID, "name="+created.Name)
	return created, nil
}

func (s *Service) UpdateCategory(ctx context.Context, id string, in domain.CategoryInput) (*domain.Category, error) {
	if _, err := s.authorize(ctx, permission.ModuleCategories, permission.ActionEdit); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: category name is required", store.ErrInvalidInput)
	}

	existing, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	existing.Name = name
	existing.Description = strings.TrimSpace(in.Description)
	existing.UpdatedAt = s.clock()
	saved, err := s.repo.UpdateCategory(ctx, *existing)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "category_update", "category", saved.ID, "name="+saved.Name)
	return saved, nil
}

// DeleteCategory archives the category. Products keep pointing at it.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, permission.ModuleCategories, permission.ActionDelete); err != nil {
		return err
	}
	existing, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return err
	}
	existing.Lifecycle = domain.LifecycleArchived
	existing.UpdatedAt = s.clock()
	if _, err := s.repo.UpdateCategory(ctx, *existing); err != nil {
		return err
	}
	s.logAudit(ctx, "category_archive", "category", id, "")
	return nil
}

// Units share the categories capability set.
func (s *Service) ListUnits(ctx context.Context, includeArchived bool) ([]domain.Unit, error) {
	if _, err := s.authorize(ctx, permission.ModuleCategories, permission.ActionView); err != nil {
		return nil, err
	}
	return s.repo.ListUnits(ctx, includeArchived)
}

func (s *Service) CreateUnit(ctx context.Context, in domain.UnitInput) (*domain.Unit, error) {
	if _, err := s.authorize(ctx, permission.ModuleCategories, permission.ActionCreate); err != nil {
		return nil, err
	}
	unit, err := unitFromInput(in)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	unit.ID = xid.New("unit")
	unit.Lifecycle = domain.LifecycleActive
	unit.CreatedAt = now
	unit.UpdatedAt = now

	created, err := s.repo.CreateUnit(ctx, unit)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "unit_create", "unit", created.ID, "symbol="+created.Symbol)
	return created, nil
}

func (s *Service) UpdateUnit(ctx context.Context, id string, in domain.UnitInput) (*domain.Unit, error) {
	if _, err := s.authorize(ctx, permission.ModuleCategories, permission.ActionEdit); err != nil {
		return nil, err
	}
	next, err := unitFromInput(in)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	existing.Name = next.Name
	existing.Symbol = next.Symbol
	existing.UpdatedAt = s.clock()
	saved, err := s.repo.UpdateUnit(ctx, *existing)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "unit_update", "unit", saved.ID, "symbol="+saved.Symbol)
	return saved, nil
}

func (s *Service) DeleteUnit(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, permission.ModuleCategories, permission.ActionDelete); err != nil {
		return err
	}
	existing, err := s.repo.GetUnit(ctx, id)
	if err != nil {
		return err
	}
	existing.Lifecycle = domain.LifecycleArchived
	existing.UpdatedAt = s.clock()
	if _, err := s.repo.UpdateUnit(ctx, *existing); err != nil {
		return err
	}
	s.logAudit(ctx, "unit_archive", "unit", id, "")
	return nil
}

func unitFromInput(in domain.UnitInput) (domain.Unit, error) {
	unit := domain.Unit{
		Name:   strings.TrimSpace(in.Name),
		Symbol: strings.ToLower(strings.TrimSpace(in.Symbol)),
	}
	if unit.Name == "" || unit.Symbol == "" {
		return unit, fmt.Errorf("%w: unit name and symbol are required", store.ErrInvalidInput)
	}
	return unit, nil
}

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	if _, err := s.authorize(ctx, permission.ModuleProducts, permission.ActionView); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, filter)
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if _, err := s.authorize(ctx, permission.ModuleProducts, permission.ActionView); err != nil {
		return nil, err
	}
	return s.repo.GetProduct(ctx, id)
}

// CreateProduct books any initial stock as an OPENING movement.
func (s *Service) CreateProduct(ctx context.Context, in domain.ProductInput) (*domain.Product, error) {
	actor, err := s.authorize(ctx, permission.ModuleProducts, permission.ActionCreate)
	if err != nil {
		return nil, err
	}
	created, err := s.createProduct(ctx, actor, in)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "product_create", "product", created.ID,
		fmt.Sprintf("name=%s,price=%s,stock=%s", created.Name, created.SellingPrice.StringFixed(2), created.Stock.String()))
	return created, nil
}

func (s *Service) createProduct(ctx context.Context, actor domain.Actor, in domain.ProductInput) (*domain.Product, error) {
	product, err := productFromInput(in)
	if err != nil {
		return nil, err
	}
	if in.InitialStock.IsNegative() {
		return nil, fmt.Errorf("%w: initial stock cannot be negative", store.ErrInvalidInput)
	}

	now := s.clock()
	product.ID = xid.New("prod")
	product.Lifecycle = domain.LifecycleActive
	product.CreatedAt = now
	product.UpdatedAt = now

	created, err := s.repo.CreateProduct(ctx, product, domain.StockMovement{
		Quantity:  domain.RoundQty(in.InitialStock),
		Note:      "opening stock",
		UserID:    actor.UserID,
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}
	if created.Stock.IsPositive() {
		s.invalidateDashboard(ctx)
	}
	return created, nil
}

// UpdateProduct edits everything except stock, which only moves through
// movements.
func (s *Service) UpdateProduct(ctx context.Context, id string, in domain.ProductInput) (*domain.Product, error) {
	if _, err := s.authorize(ctx, permission.ModuleProducts, permission.ActionEdit); err != nil {
		return nil, err
	}
	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	saved, err := s.updateProduct(ctx, *existing, in)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "product_update", "product", saved.ID,
		fmt.Sprintf("name=%s,price=%s", saved.Name, saved.SellingPrice.StringFixed(2)))
	return saved, nil
}

func (s *Service) updateProduct(ctx context.Context, existing domain.Product, in domain.ProductInput) (*domain.Product, error) {
	next, err := productFromInput(in)
	if err != nil {
		return nil, err
	}
	next.ID = existing.ID
	next.Lifecycle = existing.Lifecycle
	next.CreatedAt = existing.CreatedAt
	next.UpdatedAt = s.clock()
	saved, err := s.repo.UpdateProduct(ctx, next)
	if err != nil {
		return nil, err
	}
	if !saved.MinStock.Equal(existing.MinStock) {
		s.invalidateDashboard(ctx)
	}
	return saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, permission.ModuleProducts, permission.ActionDelete); err != nil {
		return err
	}
	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	existing.Lifecycle = domain.LifecycleArchived
	existing.UpdatedAt = s.clock()
	if _, err := s.repo.UpdateProduct(ctx, *existing); err != nil {
		return err
	}
	s.invalidateDashboard(ctx)
	s.logAudit(ctx, "product_archive", "product", id, "")
	return nil
}

func (s *Service) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if _, err := s.authorize(ctx, permission.ModuleStock, permission.ActionView); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListStockMovements(ctx, productID, limit)
}

func productFromInput(in domain.ProductInput) (domain.Product, error) {
	p := domain.Product{
		Name:          strings.TrimSpace(in.Name),
		SKU:           strings.ToUpper(strings.TrimSpace(in.SKU)),
		Barcode:       strings.TrimSpace(in.Barcode),
		CategoryID:    strings.TrimSpace(in.CategoryID),
		UnitID:        strings.TrimSpace(in.UnitID),
		PurchasePrice: domain.RoundMoney(in.PurchasePrice),
		SellingPrice:  domain.RoundMoney(in.SellingPrice),
		MinStock:      domain.RoundQty(in.MinStock),
	}
	switch {
	case p.Name == "":
		return p, fmt.Errorf("%w: product name is required", store.ErrInvalidInput)
	case p.CategoryID == "":
		return p, fmt.Errorf("%w: category is required", store.ErrInvalidInput)
	case p.SellingPrice.IsNegative(), p.PurchasePrice.IsNegative():
		return p, fmt.Errorf("%w: prices cannot be negative", store.ErrInvalidInput)
	case p.MinStock.IsNegative():
		return p, fmt.Errorf("%w: minimum stock cannot be negative", store.ErrInvalidInput)
	}
	return p, nil
}

// ExportProducts writes the active catalog as an .xlsx workbook.
func (s *Service) ExportProducts(ctx context.Context, w io.Writer) error {
	if _, err := s.authorize(ctx, permission.ModuleProducts, permission.ActionExport); err != nil {
		return err
	}
	products, err := s.repo.ListProducts(ctx, domain.ProductFilter{})
	if err != nil {
		return err
	}
	if err := spreadsheet.WriteProducts(w, products); err != nil {
		return err
	}
	s.logAudit(ctx, "product_export", "product", "", fmt.Sprintf("rows=%d", len(products)))
	return nil
}

// ImportProducts upserts rows by SKU. Existing products never have their
// stock touched; new ones get their Stock column as an opening movement.
// Row-level problems are reported back and do not stop the import.
func (s *Service) ImportProducts(ctx context.Context, r io.Reader) (domain.ImportResult, error) {
	actor, err := s.authorize(ctx, permission.ModuleProducts, permission.ActionCreate)
	if err != nil {
		return domain.ImportResult{}, err
	}

	canEdit := permission.Allowed(actor.RoleName, actor.Permissions, permission.ModuleProducts, permission.ActionEdit)

	rows, err := spreadsheet.ReadRows(r)
	if err != nil {
		if errors.Is(err, spreadsheet.ErrEmptySheet) {
			return domain.ImportResult{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
		}
		return domain.ImportResult{}, fmt.Errorf("%w: unreadable workbook: %v", store.ErrInvalidInput, err)
	}

	categories, err := s.repo.ListCategories(ctx, false)
	if err != nil {
		return domain.ImportResult{}, err
	}
	units, err := s.repo.ListUnits(ctx, false)
	if err != nil {
		return domain.ImportResult{}, err
	}
	categoryByName := make(map[string]string, len(categories))
	for _, c := range categories {
		categoryByName[strings.ToLower(c.Name)] = c.ID
	}
	unitByKey := make(map[string]string, len(units)*2)
	for _, u := range units {
		unitByKey[strings.ToLower(u.Symbol)] = u.ID
		unitByKey[strings.ToLower(u.Name)] = u.ID
	}

	result := domain.ImportResult{Errors: []domain.ImportRowError{}}
	rowError := func(row int, err error) {
		result.Errors = append(result.Errors, domain.ImportRowError{Row: row, Message: err.Error()})
	}

	for _, row := range rows {
		rec, err := spreadsheet.ParseProduct(row)
		if err != nil {
			rowError(row.Number, err)
			continue
		}
		categoryID, ok := categoryByName[strings.ToLower(rec.Category)]
		if !ok {
			rowError(row.Number, fmt.Errorf("category %q not found", rec.Category))
			continue
		}
		var unitID string
		if rec.Unit != "" {
			if unitID, ok = unitByKey[strings.ToLower(rec.Unit)]; !ok {
				rowError(row.Number, fmt.Errorf("unit %q not found", rec.Unit))
				continue
			}
		}

		in := domain.ProductInput{
			Name:          rec.Name,
			SKU:           rec.SKU,
			Barcode:       rec.Barcode,
			CategoryID:    categoryID,
			UnitID:        unitID,
			PurchasePrice: rec.PurchasePrice,
			SellingPrice:  rec.SellingPrice,
			MinStock:      rec.MinStock,
			InitialStock:  rec.Stock,
		}

		var existing *domain.Product
		if rec.SKU != "" {
			existing, err = s.repo.GetProductBySKU(ctx, rec.SKU)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return result, err
			}
		}
		if existing != nil && !canEdit {
			rowError(row.Number, fmt.Errorf("SKU %q already exists and updating products is not permitted", rec.SKU))
			continue
		}
		if existing != nil {
			in.InitialStock = decimal.Zero
			_, err = s.updateProduct(ctx, *existing, in)
		} else {
			_, err = s.createProduct(ctx, actor, in)
		}
		if err != nil {
			if isClientError(err) {
				rowError(row.Number, err)
				continue
			}
			return result, err
		}
		if existing != nil {
			result.Updated++
		} else {
			result.Created++
		}
	}

	s.logAudit(ctx, "product_import", "product", "",
		fmt.Sprintf("created=%d,updated=%d,errors=%d", result.Created, result.Updated, len(result.Errors)))
	return result, nil
}

// isClientError reports whether err is the caller's fault rather than ours.
func isClientError(err error) bool {
	return errors.Is(err, store.ErrInvalidInput) ||
		errors.Is(err, store.ErrConflict) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrInsufficientStock)
}
