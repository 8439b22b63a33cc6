package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
)

func (s *Store) ListCategories(_ context.Context, includeArchived bool) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Category, 0, len(s.categories))
	for _, category := range s.categories {
		if !includeArchived && category.Lifecycle != domain.LifecycleActive {
			continue
		}
		out = append(out, category)
	}
	sortByName(out, func(c domain.Category) string { return c.Name })
	return out, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category, ok := s.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &category, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.categoryNameTakenLocked(category.Name, "") {
		return nil, fmt.Errorf("%w: category %q already exists", store.ErrConflict, category.Name)
	}
	s.categories[category.ID] = category
	return &category, nil
}

func (s *Store) UpdateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[category.ID]; !ok {
		return nil, store.ErrNotFound
	}
	if category.Lifecycle == domain.LifecycleActive && s.categoryNameTakenLocked(category.Name, category.ID) {
		return nil, fmt.Errorf("%w: category %q already exists", store.ErrConflict, category.Name)
	}
	s.categories[category.ID] = category
	return &category, nil
}

func (s *Store) categoryNameTakenLocked(name string, exceptID string) bool {
	for id, existing := range s.categories {
		if id != exceptID && existing.Lifecycle == domain.LifecycleActive && sameName(existing.Name, name) {
			return true
		}
	}
	return false
}

func (s *Store) ListUnits(_ context.Context, includeArchived bool) ([]domain.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Unit, 0, len(s.units))
	for _, unit := range s.units {
		if !includeArchived && unit.Lifecycle != domain.LifecycleActive {
			continue
		}
		out = append(out, unit)
	}
	sortByName(out, func(u domain.Unit) string { return u.Name })
	return out, nil
}

func (s *Store) GetUnit(_ context.Context, id string) (*domain.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unit, ok := s.units[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &unit, nil
}

func (s *Store) CreateUnit(_ context.Context, unit domain.Unit) (*domain.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unitSymbolTakenLocked(unit.Symbol, "") {
		return nil, fmt.Errorf("%w: unit %q already exists", store.ErrConflict, unit.Symbol)
	}
	s.units[unit.ID] = unit
	return &unit, nil
}

func (s *Store) UpdateUnit(_ context.Context, unit domain.Unit) (*domain.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.units[unit.ID]; !ok {
		return nil, store.ErrNotFound
	}
	if unit.Lifecycle == domain.LifecycleActive && s.unitSymbolTakenLocked(unit.Symbol, unit.ID) {
		return nil, fmt.Errorf("%w: unit %q already exists", store.ErrConflict, unit.Symbol)
	}
	s.units[unit.ID] = unit
	return &unit, nil
}

func (s *Store) unitSymbolTakenLocked(symbol string, exceptID string) bool {
	for id, existing := range s.units {
		if id != exceptID && existing.Lifecycle == domain.LifecycleActive && sameName(existing.Symbol, symbol) {
			return true
		}
	}
	return false
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	out := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		if !filter.IncludeArchived && product.Lifecycle != domain.LifecycleActive {
			continue
		}
		if filter.CategoryID != "" && product.CategoryID != filter.CategoryID {
			continue
		}
		if filter.LowStockOnly && !product.LowStock() {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(product.Name), search) &&
			!strings.EqualFold(product.SKU, search) &&
			product.Barcode != search {
			continue
		}
		out = append(out, s.decorateLocked(product))
	}
	sortByName(out, func(p domain.Product) string { return p.Name })
	return limitSlice(out, filter.Limit), nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	product = s.decorateLocked(product)
	return &product, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, product := range s.products {
		if sku != "" && strings.EqualFold(product.SKU, sku) {
			product = s.decorateLocked(product)
			return &product, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, opening domain.StockMovement) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkProductRefsLocked(product); err != nil {
		return nil, err
	}
	if err := s.checkProductCodesLocked(product); err != nil {
		return nil, err
	}
	if opening.Quantity.IsNegative() {
		return nil, fmt.Errorf("%w: opening stock cannot be negative", store.ErrInvalidInput)
	}

	product.Stock = decimal.Zero
	s.products[product.ID] = product
	if opening.Quantity.IsPositive() {
		opening.Type = domain.MovementOpening
		opening.ReferenceType = "product"
		opening.ReferenceID = product.ID
		if opening.CreatedAt.IsZero() {
			opening.CreatedAt = product.CreatedAt
		}
		s.applyStockLocked(product.ID, opening.Quantity, opening)
	}

	out := s.decorateLocked(s.products[product.ID])
	return &out, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := s.checkProductRefsLocked(product); err != nil {
		return nil, err
	}
	if err := s.checkProductCodesLocked(product); err != nil {
		return nil, err
	}

	product.Stock = existing.Stock
	product.CreatedAt = existing.CreatedAt
	s.products[product.ID] = product

	out := s.decorateLocked(product)
	return &out, nil
}

func (s *Store) ListStockMovements(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[productID]; !ok {
		return nil, store.ErrNotFound
	}
	out := make([]domain.StockMovement, 0, 32)
	for i := len(s.movements) - 1; i >= 0; i-- {
		if s.movements[i].ProductID != productID {
			continue
		}
		out = append(out, s.movements[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) checkProductRefsLocked(product domain.Product) error {
	if _, ok := s.categories[product.CategoryID]; !ok {
		return fmt.Errorf("%w: unknown category %s", store.ErrInvalidInput, product.CategoryID)
	}
	if product.UnitID != "" {
		if _, ok := s.units[product.UnitID]; !ok {
			return fmt.Errorf("%w: unknown unit %s", store.ErrInvalidInput, product.UnitID)
		}
	}
	return nil
}

func (s *Store) checkProductCodesLocked(product domain.Product) error {
	for id, existing := range s.products {
		if id == product.ID {
			continue
		}
		if product.SKU != "" && strings.EqualFold(existing.SKU, product.SKU) {
			return fmt.Errorf("%w: sku %q already exists", store.ErrConflict, product.SKU)
		}
		if product.Barcode != "" && existing.Barcode == product.Barcode {
			return fmt.Errorf("%w: barcode %q already exists", store.ErrConflict, product.Barcode)
		}
	}
	return nil
}

func (s *Store) decorateLocked(product domain.Product) domain.Product {
	if category, ok := s.categories[product.CategoryID]; ok {
		product.CategoryName = category.Name
	}
	if unit, ok := s.units[product.UnitID]; ok {
		product.UnitSymbol = unit.Symbol
	}
	return product
}
