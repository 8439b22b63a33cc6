package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/cart"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/xid"
)

// Checkout validates a cart against live prices, recomputes every total on
// the server and hands the sale to the repository as one unit of work. The
// returned sale is the receipt as stored.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (sale *domain.Sale, err error) {
	actor, err := s.authorize(ctx, permission.ModulePOS, permission.ActionAccess)
	if err != nil {
		return nil, err
	}
	defer func() { s.metrics.Checkout(checkoutOutcome(err)) }()

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", store.ErrInvalidInput)
	}
	if !req.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidInput, req.PaymentMethod)
	}
	if !req.Discount.Valid() || !req.Tax.Valid() {
		return nil, fmt.Errorf("%w: invalid discount or tax", store.ErrInvalidInput)
	}

	needsDiscount := req.Discount.Value.IsPositive()
	lines := make([]cart.Line, 0, len(req.Items))
	for _, item := range req.Items {
		qty := domain.RoundQty(item.Quantity)
		if !qty.IsPositive() {
			return nil, fmt.Errorf("%w: quantity must be greater than zero", store.ErrInvalidInput)
		}
		if item.Discount.IsNegative() || item.Tax.IsNegative() || item.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: line amounts cannot be negative", store.ErrInvalidInput)
		}

		product, err := s.repo.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown product %s", store.ErrInvalidInput, item.ProductID)
			}
			return nil, err
		}
		if product.Lifecycle != domain.LifecycleActive {
			return nil, fmt.Errorf("%w: %s is no longer sold", store.ErrInvalidInput, product.Name)
		}

		price := product.SellingPrice
		if item.UnitPrice.IsPositive() {
			price = domain.RoundMoney(item.UnitPrice)
		}
		if price.LessThan(product.SellingPrice) || item.Discount.IsPositive() {
			needsDiscount = true
		}
		lines = append(lines, cart.Line{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  qty,
			UnitPrice: price,
			Discount:  domain.RoundMoney(item.Discount),
			Tax:       domain.RoundMoney(item.Tax),
			Stock:     product.Stock,
		})
	}
	if needsDiscount && !permission.Allowed(actor.RoleName, actor.Permissions, permission.ModulePOS, permission.ActionDiscount) {
		return nil, ErrForbidden
	}

	totals := cart.Calculate(lines, req.Discount, req.Tax)

	customerID := strings.TrimSpace(req.CustomerID)
	if customerID != "" {
		customer, err := s.repo.GetCustomer(ctx, customerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown customer %s", store.ErrInvalidInput, customerID)
			}
			return nil, err
		}
		if customer.Lifecycle != domain.LifecycleActive {
			return nil, fmt.Errorf("%w: customer %s is archived", store.ErrInvalidInput, customer.Name)
		}
		if req.PaymentMethod == domain.PaymentCredit && customer.WalkIn {
			return nil, fmt.Errorf("%w: credit sales need a registered customer", store.ErrInvalidInput)
		}
	} else if req.PaymentMethod == domain.PaymentCredit {
		return nil, fmt.Errorf("%w: credit sales need a registered customer", store.ErrInvalidInput)
	}

	cashReceived := totals.Total
	switch req.PaymentMethod {
	case domain.PaymentCash:
		cashReceived = domain.RoundMoney(req.CashReceived)
		if cashReceived.LessThan(totals.Total) {
			return nil, fmt.Errorf("%w: cash received %s is less than total %s",
				store.ErrInvalidInput, cashReceived.StringFixed(2), totals.Total.StringFixed(2))
		}
	case domain.PaymentCredit:
		cashReceived = decimal.Zero
	}

	now := s.clock()
	pending := domain.Sale{
		ID:             xid.New("sale"),
		Subtotal:       totals.Subtotal,
		DiscountAmount: totals.DiscountAmount,
		TaxAmount:      totals.TaxAmount,
		Total:          totals.Total,
		CashReceived:   cashReceived,
		Change:         cart.Change(cashReceived, totals.Total),
		PaymentMethod:  req.PaymentMethod,
		PaymentStatus:  domain.PaymentStatusFor(req.PaymentMethod),
		Status:         domain.SaleCompleted,
		CustomerID:     customerID,
		CashierID:      actor.UserID,
		Note:           strings.TrimSpace(req.Note),
		Items:          make([]domain.SaleItem, 0, len(lines)),
		// The store derives the sale number's date from this location.
		CreatedAt: now.In(s.loc),
	}
	for _, line := range lines {
		pending.Items = append(pending.Items, domain.SaleItem{
			ID:          xid.New("si"),
			SaleID:      pending.ID,
			ProductID:   line.ProductID,
			ProductName: line.Name,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Discount:    line.Discount,
			Tax:         line.Tax,
			LineTotal:   line.Total(),
		})
	}

	created, err := s.repo.CreateSale(ctx, pending)
	if err != nil {
		return nil, err
	}
	s.invalidateDashboard(ctx)
	s.logAudit(ctx, "sale_create", "sale", created.ID,
		fmt.Sprintf("number=%s,total=%s,payment=%s,items=%d",
			created.SaleNumber, created.Total.StringFixed(2), created.PaymentMethod, len(created.Items)))
	return created, nil
}

func checkoutOutcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrSerialization):
		return "retry_exhausted"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, ErrForbidden):
		return "rejected"
	default:
		return "error"
	}
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	if _, err := s.authorize(ctx, permission.ModuleSales, permission.ActionView); err != nil {
		return nil, err
	}
	return s.repo.GetSale(ctx, id)
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if _, err := s.authorize(ctx, permission.ModuleSales, permission.ActionView); err != nil {
		return nil, err
	}
	if filter.Limit < 1 || filter.Limit > 1000 {
		filter.Limit = 200
	}
	return s.repo.ListSales(ctx, filter)
}

// VoidSale cancels a completed sale and restocks every unit.
func (s *Service) VoidSale(ctx context.Context, id string, req domain.VoidSaleRequest) (*domain.Sale, error) {
	actor, err := s.authorizeAny(ctx,
		grant{permission.ModuleSales, permission.ActionVoid},
		grant{permission.ModulePOS, permission.ActionVoid})
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: void reason is required", store.ErrInvalidInput)
	}

	voided, err := s.repo.VoidSale(ctx, id, reason, actor.UserID, s.clock())
	if err != nil {
		return nil, err
	}
	s.invalidateDashboard(ctx)
	s.logAudit(ctx, "sale_void", "sale", voided.ID,
		fmt.Sprintf("number=%s,total=%s,reason=%s", voided.SaleNumber, voided.Total.StringFixed(2), reason))
	return voided, nil
}

// ReturnSale takes back part or all of a completed sale.
func (s *Service) ReturnSale(ctx context.Context, saleID string, req domain.SaleReturnRequest) (*domain.SaleReturn, error) {
	actor, err := s.authorizeAny(ctx,
		grant{permission.ModuleSales, permission.ActionRefund},
		grant{permission.ModulePOS, permission.ActionRefund})
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: return reason is required", store.ErrInvalidInput)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: return has no items", store.ErrInvalidInput)
	}

	items := make([]domain.SaleReturnItem, 0, len(req.Items))
	for _, item := range req.Items {
		qty := domain.RoundQty(item.Quantity)
		if !qty.IsPositive() {
			return nil, fmt.Errorf("%w: quantity must be greater than zero", store.ErrInvalidInput)
		}
		items = append(items, domain.SaleReturnItem{SaleItemID: item.SaleItemID, Quantity: qty})
	}

	created, err := s.repo.CreateSaleReturn(ctx, domain.SaleReturn{
		ID:        xid.New("ret"),
		SaleID:    saleID,
		Reason:    reason,
		UserID:    actor.UserID,
		Items:     items,
		CreatedAt: s.clock(),
	})
	if err != nil {
		return nil, err
	}
	s.invalidateDashboard(ctx)
	s.logAudit(ctx, "sale_return", "sale", saleID,
		fmt.Sprintf("return=%s,refund=%s", created.ID, created.RefundAmount.StringFixed(2)))
	return created, nil
}

func (s *Service) ListSaleReturns(ctx context.Context, saleID string) ([]domain.SaleReturn, error) {
	if _, err := s.authorize(ctx, permission.ModuleSales, permission.ActionView); err != nil {
		return nil, err
	}
	return s.repo.ListSaleReturns(ctx, saleID)
}

// HoldCart parks a cart on the server. Totals are recomputed from the lines.
func (s *Service) HoldCart(ctx context.Context, req domain.HoldCartRequest) (*domain.HeldCart, error) {
	actor, err := s.authorize(ctx, permission.ModulePOS, permission.ActionAccess)
	if err != nil {
		return nil, err
	}
	if len(req.Cart.Lines) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", store.ErrInvalidInput)
	}
	if !req.Cart.Discount.Valid() || !req.Cart.Tax.Valid() {
		return nil, fmt.Errorf("%w: invalid discount or tax", store.ErrInvalidInput)
	}

	now := s.clock()
	note := strings.TrimSpace(req.Note)
	snapshot := cart.Restore(req.Cart).Hold(note, now)

	held, err := s.repo.CreateHeldCart(ctx, domain.HeldCart{
		ID:        xid.New("hold"),
		UserID:    actor.UserID,
		Note:      note,
		Cart:      snapshot,
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "cart_hold", "held_cart", held.ID, fmt.Sprintf("items=%d", len(held.Cart.Lines)))
	return held, nil
}

// ListHeldCarts shows the caller's parked carts. Super Admin sees everyone's.
func (s *Service) ListHeldCarts(ctx context.Context) ([]domain.HeldCart, error) {
	actor, err := s.authorize(ctx, permission.ModulePOS, permission.ActionAccess)
	if err != nil {
		return nil, err
	}
	owner := actor.UserID
	if isSuperAdmin(actor) {
		owner = ""
	}
	return s.repo.ListHeldCarts(ctx, owner)
}

// ResumeHeldCart removes a parked cart and rebuilds it with tender state cleared.
func (s *Service) ResumeHeldCart(ctx context.Context, id string) (*cart.Cart, error) {
	held, err := s.popHeldCart(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "cart_resume", "held_cart", held.ID, fmt.Sprintf("items=%d", len(held.Cart.Lines)))
	return cart.Restore(held.Cart), nil
}

func (s *Service) DiscardHeldCart(ctx context.Context, id string) error {
	held, err := s.popHeldCart(ctx, id)
	if err != nil {
		return err
	}
	s.logAudit(ctx, "cart_discard", "held_cart", held.ID, "discarded")
	return nil
}

func (s *Service) popHeldCart(ctx context.Context, id string) (*domain.HeldCart, error) {
	actor, err := s.authorize(ctx, permission.ModulePOS, permission.ActionAccess)
	if err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: held cart id is required", store.ErrInvalidInput)
	}
	if !isSuperAdmin(actor) {
		mine, err := s.repo.ListHeldCarts(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		owned := false
		for _, held := range mine {
			if held.ID == id {
				owned = true
				break
			}
		}
		if !owned {
			return nil, store.ErrNotFound
		}
	}
	return s.repo.PopHeldCart(ctx, id)
}
