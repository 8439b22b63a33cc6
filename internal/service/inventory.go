package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/xid"
)

// CreateStockAdjustment applies signed deltas in one unit of work. Stock can
// never be driven below zero.
func (s *Service) CreateStockAdjustment(ctx context.Context, req domain.StockAdjustmentRequest) (*domain.StockAdjustment, error) {
	actor, err := s.authorize(ctx, permission.ModuleStock, permission.ActionAdjust)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: adjustment reason is required", store.ErrInvalidInput)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: adjustment has no items", store.ErrInvalidInput)
	}

	items := make([]domain.StockAdjustmentItem, 0, len(req.Items))
	for _, item := range req.Items {
		delta := domain.RoundQty(item.Delta)
		if strings.TrimSpace(item.ProductID) == "" || delta.IsZero() {
			return nil, fmt.Errorf("%w: every line needs a product and a non-zero delta", store.ErrInvalidInput)
		}
		items = append(items, domain.StockAdjustmentItem{ProductID: strings.TrimSpace(item.ProductID), Delta: delta})
	}

	created, err := s.repo.CreateStockAdjustment(ctx, domain.StockAdjustment{
		ID:        xid.New("adj"),
		Reason:    reason,
		UserID:    actor.UserID,
		Items:     items,
		CreatedAt: s.clock(),
	})
	if err != nil {
		return nil, err
	}
	s.invalidateDashboard(ctx)
	s.logAudit(ctx, "stock_adjust", "stock_adjustment", created.ID, fmt.Sprintf("items=%d,reason=%s", len(created.Items), reason))
	return created, nil
}

func (s *Service) ListStockAdjustments(ctx context.Context, limit int) ([]domain.StockAdjustment, error) {
	if _, err := s.authorize(ctx, permission.ModuleStock, permission.ActionView); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListStockAdjustments(ctx, limit)
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	if _, err := s.authorize(ctx, permission.ModulePurchases, permission.ActionView); err != nil {
		return nil, err
	}
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, in domain.SupplierInput) (*domain.Supplier, error) {
	if _, err := s.authorize(ctx, permission.ModulePurchases, permission.ActionCreate); err != nil {
		return nil, err
	}
	supplier, err := supplierFromInput(in)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	supplier.ID = xid.New("sup")
	supplier.CreatedAt = now
	supplier.UpdatedAt = now

	created, err := s.repo.CreateSupplier(ctx, supplier)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "supplier_create", "supplier", created.ID, "name="+created.Name)
	return created, nil
}

func (s *Service) UpdateSupplier(ctx context.Context, id string, in domain.SupplierInput) (*domain.Supplier, error) {
	if _, err := s.authorize(ctx, permission.ModulePurchases, permission.ActionEdit); err != nil {
		return nil, err
	}
	supplier, err := supplierFromInput(in)
	if err != nil {
		return nil, err
	}
	supplier.ID = id
	supplier.UpdatedAt = s.clock()

	saved, err := s.repo.UpdateSupplier(ctx, supplier)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "supplier_update", "supplier", saved.ID, "name="+saved.Name)
	return saved, nil
}

// DeleteSupplier removes the supplier only while no purchase references it.
func (s *Service) DeleteSupplier(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, permission.ModulePurchases, permission.ActionDelete); err != nil {
		return err
	}
	if err := s.repo.DeleteSupplier(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "supplier_delete", "supplier", id, "")
	return nil
}

func supplierFromInput(in domain.SupplierInput) (domain.Supplier, error) {
	supplier := domain.Supplier{
		Name:    strings.TrimSpace(in.Name),
		Phone:   strings.TrimSpace(in.Phone),
		Email:   strings.TrimSpace(in.Email),
		Address: strings.TrimSpace(in.Address),
	}
	if supplier.Name == "" {
		return supplier, fmt.Errorf("%w: supplier name is required", store.ErrInvalidInput)
	}
	return supplier, nil
}

func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseRequest) (*domain.Purchase, error) {
	actor, err := s.authorize(ctx, permission.ModulePurchases, permission.ActionCreate)
	if err != nil {
		return nil, err
	}
	supplierID := strings.TrimSpace(req.SupplierID)
	if supplierID == "" {
		return nil, fmt.Errorf("%w: supplier is required", store.ErrInvalidInput)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: purchase has no items", store.ErrInvalidInput)
	}

	now := s.clock()
	purchase := domain.Purchase{
		ID:         xid.New("po"),
		Reference:  strings.TrimSpace(req.Reference),
		SupplierID: supplierID,
		Status:     domain.PurchasePending,
		Note:       strings.TrimSpace(req.Note),
		Items:      make([]domain.PurchaseItem, 0, len(req.Items)),
		CreatedBy:  actor.UserID,
		CreatedAt:  now,
	}
	if purchase.Reference == "" {
		purchase.Reference = fmt.Sprintf("PO-%s-%s", now.In(s.loc).Format("20060102"), strings.ToUpper(purchase.ID[len(purchase.ID)-6:]))
	}

	total := decimal.Zero
	for _, item := range req.Items {
		qty := domain.RoundQty(item.Quantity)
		cost := domain.RoundMoney(item.UnitCost)
		if strings.TrimSpace(item.ProductID) == "" || !qty.IsPositive() {
			return nil, fmt.Errorf("%w: every line needs a product and a positive quantity", store.ErrInvalidInput)
		}
		if cost.IsNegative() {
			return nil, fmt.Errorf("%w: unit cost cannot be negative", store.ErrInvalidInput)
		}
		line := domain.PurchaseItem{
			ID:         xid.New("pi"),
			PurchaseID: purchase.ID,
			ProductID:  strings.TrimSpace(item.ProductID),
			Quantity:   qty,
			UnitCost:   cost,
			LineTotal:  domain.RoundMoney(qty.Mul(cost)),
		}
		total = total.Add(line.LineTotal)
		purchase.Items = append(purchase.Items, line)
	}
	purchase.Total = domain.RoundMoney(total)

	created, err := s.repo.CreatePurchase(ctx, purchase)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "purchase_create", "purchase", created.ID,
		fmt.Sprintf("reference=%s,total=%s", created.Reference, created.Total.StringFixed(2)))
	return created, nil
}

func (s *Service) ListPurchases(ctx context.Context, status domain.PurchaseStatus, limit int) ([]domain.Purchase, error) {
	if _, err := s.authorize(ctx, permission.ModulePurchases, permission.ActionView); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListPurchases(ctx, status, limit)
}

func (s *Service) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	if _, err := s.authorize(ctx, permission.ModulePurchases, permission.ActionView); err != nil {
		return nil, err
	}
	return s.repo.GetPurchase(ctx, id)
}

// ReceivePurchase moves a PENDING purchase into stock.
func (s *Service) ReceivePurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	actor, err := s.authorize(ctx, permission.ModulePurchases, permission.ActionEdit)
	if err != nil {
		return nil, err
	}
	received, err := s.repo.ReceivePurchase(ctx, id, actor.UserID, s.clock())
	if err != nil {
		return nil, err
	}
	s.invalidateDashboard(ctx)
	s.logAudit(ctx, "purchase_receive", "purchase", received.ID, "reference="+received.Reference)
	return received, nil
}

func (s *Service) CancelPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	if _, err := s.authorize(ctx, permission.ModulePurchases, permission.ActionDelete); err != nil {
		return nil, err
	}
	cancelled, err := s.repo.CancelPurchase(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "purchase_cancel", "purchase", cancelled.ID, "reference="+cancelled.Reference)
	return cancelled, nil
}
