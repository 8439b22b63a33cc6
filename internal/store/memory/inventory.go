package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
)

func (s *Store) CreateStockAdjustment(_ context.Context, adjustment domain.StockAdjustment) (*domain.StockAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deltas := make([]stockDelta, 0, len(adjustment.Items))
	for _, item := range adjustment.Items {
		if item.Delta.IsZero() {
			return nil, fmt.Errorf("%w: adjustment delta cannot be zero", store.ErrInvalidInput)
		}
		deltas = append(deltas, stockDelta{productID: item.ProductID, qty: item.Delta})
	}
	if err := s.checkStockLocked(deltas); err != nil {
		return nil, err
	}

	for _, item := range adjustment.Items {
		s.applyStockLocked(item.ProductID, item.Delta, domain.StockMovement{
			Type:          domain.MovementAdjustment,
			ReferenceType: "adjustment",
			ReferenceID:   adjustment.ID,
			Note:          adjustment.Reason,
			UserID:        adjustment.UserID,
			CreatedAt:     adjustment.CreatedAt,
		})
	}
	adjustment.Items = slices.Clone(adjustment.Items)
	s.adjustments = append(s.adjustments, adjustment)
	return &adjustment, nil
}

func (s *Store) ListStockAdjustments(_ context.Context, limit int) ([]domain.StockAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockAdjustment, 0, len(s.adjustments))
	for i := len(s.adjustments) - 1; i >= 0; i-- {
		out = append(out, s.adjustments[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreatePurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.suppliers[purchase.SupplierID]; !ok {
		return nil, fmt.Errorf("%w: unknown supplier %s", store.ErrInvalidInput, purchase.SupplierID)
	}
	for _, existing := range s.purchases {
		if sameName(existing.Reference, purchase.Reference) {
			return nil, fmt.Errorf("%w: purchase reference %q already exists", store.ErrConflict, purchase.Reference)
		}
	}
	for _, item := range purchase.Items {
		if _, ok := s.products[item.ProductID]; !ok {
			return nil, fmt.Errorf("%w: unknown product %s", store.ErrInvalidInput, item.ProductID)
		}
	}

	purchase.Status = domain.PurchasePending
	purchase.Items = slices.Clone(purchase.Items)
	s.purchases[purchase.ID] = purchase
	out := s.purchaseViewLocked(purchase)
	return &out, nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchase, ok := s.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := s.purchaseViewLocked(purchase)
	return &out, nil
}

func (s *Store) ListPurchases(_ context.Context, status domain.PurchaseStatus, limit int) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Purchase, 0, len(s.purchases))
	for _, purchase := range s.purchases {
		if status != "" && purchase.Status != status {
			continue
		}
		out = append(out, s.purchaseViewLocked(purchase))
	}
	slices.SortFunc(out, func(a, b domain.Purchase) int { return cmpNewest(a.CreatedAt, b.CreatedAt) })
	return limitSlice(out, limit), nil
}

// ReceivePurchase books every line into stock and refreshes the product's
// purchase price from the received unit cost.
func (s *Store) ReceivePurchase(_ context.Context, id string, userID string, at time.Time) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purchase, ok := s.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if purchase.Status != domain.PurchasePending {
		return nil, fmt.Errorf("%w: purchase is %s", store.ErrConflict, purchase.Status)
	}
	for _, item := range purchase.Items {
		if _, ok := s.products[item.ProductID]; !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
	}

	for _, item := range purchase.Items {
		s.applyStockLocked(item.ProductID, item.Quantity, domain.StockMovement{
			Type:          domain.MovementPurchase,
			ReferenceType: "purchase",
			ReferenceID:   purchase.ID,
			Note:          purchase.Reference,
			UserID:        userID,
			CreatedAt:     at,
		})
		product := s.products[item.ProductID]
		product.PurchasePrice = item.UnitCost
		s.products[item.ProductID] = product
	}
	purchase.Status = domain.PurchaseReceived
	purchase.ReceivedAt = &at
	s.purchases[id] = purchase
	out := s.purchaseViewLocked(purchase)
	return &out, nil
}

func (s *Store) CancelPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purchase, ok := s.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if purchase.Status != domain.PurchasePending {
		return nil, fmt.Errorf("%w: purchase is %s", store.ErrConflict, purchase.Status)
	}
	purchase.Status = domain.PurchaseCancelled
	s.purchases[id] = purchase
	out := s.purchaseViewLocked(purchase)
	return &out, nil
}

func (s *Store) purchaseViewLocked(purchase domain.Purchase) domain.Purchase {
	if supplier, ok := s.suppliers[purchase.SupplierID]; ok {
		purchase.SupplierName = supplier.Name
	}
	items := make([]domain.PurchaseItem, len(purchase.Items))
	for i, item := range purchase.Items {
		if product, ok := s.products[item.ProductID]; ok {
			item.ProductName = product.Name
		}
		items[i] = item
	}
	purchase.Items = items
	return purchase
}
