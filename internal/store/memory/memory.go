package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/xid"
)

var _ store.Repository = (*Store)(nil)

// Store is an in-process Repository. A single mutex serializes writers, so
// every multi-step operation is validated in full before anything is applied.
type Store struct {
	mu          sync.RWMutex
	categories  map[string]domain.Category
	units       map[string]domain.Unit
	products    map[string]domain.Product
	movements   []domain.StockMovement
	adjustments []domain.StockAdjustment
	customers   map[string]domain.Customer
	payments    []domain.CustomerPayment
	suppliers   map[string]domain.Supplier
	purchases   map[string]domain.Purchase
	sales       map[string]domain.Sale
	returns     []domain.SaleReturn
	heldCarts   map[string]domain.HeldCart
	roles       map[string]domain.Role
	users       map[string]domain.User
	settings    *domain.Settings
	auditLogs   []domain.AuditLog
}

func New() *Store {
	return &Store{
		categories:  make(map[string]domain.Category),
		units:       make(map[string]domain.Unit),
		products:    make(map[string]domain.Product),
		movements:   make([]domain.StockMovement, 0, 256),
		adjustments: make([]domain.StockAdjustment, 0, 16),
		customers:   make(map[string]domain.Customer),
		payments:    make([]domain.CustomerPayment, 0, 16),
		suppliers:   make(map[string]domain.Supplier),
		purchases:   make(map[string]domain.Purchase),
		sales:       make(map[string]domain.Sale),
		returns:     make([]domain.SaleReturn, 0, 16),
		heldCarts:   make(map[string]domain.HeldCart),
		roles:       make(map[string]domain.Role),
		users:       make(map[string]domain.User),
		auditLogs:   make([]domain.AuditLog, 0, 128),
	}
}

func (s *Store) GetSettings(_ context.Context) (*domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return nil, store.ErrNotFound
	}
	out := *s.settings
	return &out, nil
}

func (s *Store) SaveSettings(_ context.Context, settings domain.Settings) (*domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	s.settings = &settings
	out := settings
	return &out, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		out = append(out, s.auditLogs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Bootstrap(_ context.Context, data domain.BootstrapData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countUsersLocked() > 0 {
		return fmt.Errorf("%w: already initialized", store.ErrConflict)
	}

	for _, role := range data.Roles {
		if s.roleNameTakenLocked(role.Name, "") {
			return fmt.Errorf("%w: role %q already exists", store.ErrConflict, role.Name)
		}
	}
	for _, role := range data.Roles {
		role.Permissions = role.Permissions.Clone()
		s.roles[role.ID] = role
	}
	for _, unit := range data.Units {
		if s.unitSymbolTakenLocked(unit.Symbol, "") {
			continue
		}
		s.units[unit.ID] = unit
	}
	if !s.categoryNameTakenLocked(data.Category.Name, "") {
		s.categories[data.Category.ID] = data.Category
	}
	if data.SystemUser.ID != "" {
		if _, exists := s.findUserLocked(data.SystemUser.Username); !exists {
			s.users[data.SystemUser.ID] = data.SystemUser
		}
	}
	admin := data.Admin
	admin.Protected = true
	s.users[admin.ID] = admin
	if data.WalkIn.ID != "" && !s.hasWalkInLocked() {
		s.customers[data.WalkIn.ID] = data.WalkIn
	}
	settings := data.Settings
	s.settings = &settings
	return nil
}

func (s *Store) WipeHistory(_ context.Context) (domain.WipeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := domain.WipeResult{
		Sales:          int64(len(s.sales)),
		Purchases:      int64(len(s.purchases)),
		StockMovements: int64(len(s.movements)),
		Adjustments:    int64(len(s.adjustments)),
		Returns:        int64(len(s.returns)),
		Payments:       int64(len(s.payments)),
		HeldCarts:      int64(len(s.heldCarts)),
	}

	now := time.Now().UTC()
	s.sales = make(map[string]domain.Sale)
	s.purchases = make(map[string]domain.Purchase)
	s.movements = make([]domain.StockMovement, 0, 256)
	s.adjustments = make([]domain.StockAdjustment, 0, 16)
	s.returns = make([]domain.SaleReturn, 0, 16)
	s.payments = make([]domain.CustomerPayment, 0, 16)
	s.heldCarts = make(map[string]domain.HeldCart)
	ids := make([]string, 0, len(s.products))
	for id, product := range s.products {
		if !product.Stock.IsZero() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		product := s.products[id]
		stock := product.Stock
		product.Stock = decimal.Zero
		s.products[id] = product
		s.applyStockLocked(id, stock, domain.StockMovement{
			Type:          domain.MovementOpening,
			ReferenceType: "wipe",
			Note:          store.WipeOpeningNote,
			CreatedAt:     now,
		})
	}
	for id, customer := range s.customers {
		customer.CreditBalance = decimal.Zero
		customer.TotalSpent = decimal.Zero
		customer.VisitCount = 0
		customer.UpdatedAt = now
		s.customers[id] = customer
	}
	return result, nil
}

// applyStockLocked changes a product's stock and appends the matching movement.
// Callers hold the write lock and have already validated the result.
func (s *Store) applyStockLocked(productID string, qty decimal.Decimal, movement domain.StockMovement) domain.StockMovement {
	product := s.products[productID]
	before := product.Stock
	product.Stock = domain.RoundQty(before.Add(qty))
	product.UpdatedAt = movement.CreatedAt
	s.products[productID] = product

	if movement.ID == "" {
		movement.ID = xid.New("mv")
	}
	movement.ProductID = productID
	movement.Quantity = qty
	movement.StockBefore = before
	movement.StockAfter = product.Stock
	s.movements = append(s.movements, movement)
	return movement
}

type stockDelta struct {
	productID string
	qty       decimal.Decimal
}

// checkStockLocked verifies that applying every delta in order keeps each
// product at or above zero.
func (s *Store) checkStockLocked(deltas []stockDelta) error {
	projected := make(map[string]decimal.Decimal, len(deltas))
	for _, delta := range deltas {
		product, ok := s.products[delta.productID]
		if !ok {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, delta.productID)
		}
		current, seen := projected[delta.productID]
		if !seen {
			current = product.Stock
		}
		next := current.Add(delta.qty)
		if next.IsNegative() {
			return fmt.Errorf("%w: %s requested %s, available %s", store.ErrInsufficientStock, product.Name, delta.qty.Neg().String(), current.String())
		}
		projected[delta.productID] = next
	}
	return nil
}

func (s *Store) countUsersLocked() int {
	count := 0
	for _, user := range s.users {
		if !user.IsSystem {
			count++
		}
	}
	return count
}

func (s *Store) hasWalkInLocked() bool {
	for _, customer := range s.customers {
		if customer.WalkIn {
			return true
		}
	}
	return false
}

func sameName(a string, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func cmpString(a string, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpNewest(a time.Time, b time.Time) int {
	switch {
	case a.After(b):
		return -1
	case a.Before(b):
		return 1
	default:
		return 0
	}
}

func limitSlice[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func sortByName[T any](items []T, name func(T) string) {
	slices.SortFunc(items, func(a, b T) int {
		return cmpString(strings.ToLower(name(a)), strings.ToLower(name(b)))
	})
}
