package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/xid"
)

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Items) == 0 {
		return nil, fmt.Errorf("%w: sale has no items", store.ErrInvalidInput)
	}

	var customer domain.Customer
	if sale.CustomerID != "" {
		var ok bool
		customer, ok = s.customers[sale.CustomerID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown customer %s", store.ErrInvalidInput, sale.CustomerID)
		}
	}
	sale.PaymentStatus = domain.PaymentStatusFor(sale.PaymentMethod)
	if sale.PaymentMethod == domain.PaymentCredit {
		if sale.CustomerID == "" || customer.WalkIn {
			return nil, fmt.Errorf("%w: credit sales need a registered customer", store.ErrInvalidInput)
		}
		balance := customer.CreditBalance.Add(sale.Total)
		if customer.CreditLimit.IsPositive() && balance.GreaterThan(customer.CreditLimit) {
			return nil, fmt.Errorf("%w: credit limit %s exceeded", store.ErrConflict, customer.CreditLimit.StringFixed(2))
		}
	}

	deltas := make([]stockDelta, 0, len(sale.Items))
	for _, item := range sale.Items {
		if !item.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidInput)
		}
		deltas = append(deltas, stockDelta{productID: item.ProductID, qty: item.Quantity.Neg()})
	}
	if err := s.checkStockLocked(deltas); err != nil {
		return nil, err
	}

	sale.InvoiceNumber = s.maxInvoiceLocked() + 1
	sale.SaleNumber = domain.SaleNumber(sale.InvoiceNumber, sale.CreatedAt)
	sale.Status = domain.SaleCompleted
	sale.RefundedAmount = decimal.Zero
	items := make([]domain.SaleItem, len(sale.Items))
	for i, item := range sale.Items {
		if item.ID == "" {
			item.ID = xid.New("si")
		}
		item.SaleID = sale.ID
		item.ReturnedQuantity = decimal.Zero
		if item.ProductName == "" {
			item.ProductName = s.products[item.ProductID].Name
		}
		items[i] = item
		s.applyStockLocked(item.ProductID, item.Quantity.Neg(), domain.StockMovement{
			Type:          domain.MovementSale,
			ReferenceType: "sale",
			ReferenceID:   sale.ID,
			Note:          sale.SaleNumber,
			UserID:        sale.CashierID,
			CreatedAt:     sale.CreatedAt,
		})
	}
	sale.Items = items

	if sale.CustomerID != "" && !customer.WalkIn {
		customer.TotalSpent = domain.RoundMoney(customer.TotalSpent.Add(sale.Total))
		customer.VisitCount++
		if sale.PaymentStatus == domain.PaymentUnpaid {
			customer.CreditBalance = domain.RoundMoney(customer.CreditBalance.Add(sale.Total))
		}
		customer.UpdatedAt = sale.CreatedAt
		s.customers[customer.ID] = customer
	}

	s.sales[sale.ID] = sale
	out := s.saleViewLocked(sale, true)
	return &out, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := s.saleViewLocked(sale, true)
	return &out, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !sale.CreatedAt.Before(*filter.To) {
			continue
		}
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if filter.CustomerID != "" && sale.CustomerID != filter.CustomerID {
			continue
		}
		out = append(out, s.saleViewLocked(sale, filter.WithItems))
	}
	slices.SortFunc(out, func(a, b domain.Sale) int {
		if c := cmpNewest(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return int(b.InvoiceNumber - a.InvoiceNumber)
	})
	return limitSlice(out, filter.Limit), nil
}

// VoidSale puts every sold unit back on the shelf and reverses the customer
// stats booked at checkout.
func (s *Store) VoidSale(_ context.Context, id string, reason string, userID string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleCompleted {
		return nil, fmt.Errorf("%w: sale is %s", store.ErrConflict, sale.Status)
	}
	for _, item := range sale.Items {
		if item.ReturnedQuantity.IsPositive() {
			return nil, fmt.Errorf("%w: sale has returns and cannot be voided", store.ErrConflict)
		}
	}

	for _, item := range sale.Items {
		if _, ok := s.products[item.ProductID]; !ok {
			continue
		}
		s.applyStockLocked(item.ProductID, item.Quantity, domain.StockMovement{
			Type:          domain.MovementVoid,
			ReferenceType: "sale",
			ReferenceID:   sale.ID,
			Note:          reason,
			UserID:        userID,
			CreatedAt:     at,
		})
	}

	if customer, ok := s.customers[sale.CustomerID]; ok && !customer.WalkIn {
		customer.TotalSpent = floorZero(customer.TotalSpent.Sub(sale.Total))
		if customer.VisitCount > 0 {
			customer.VisitCount--
		}
		if sale.PaymentStatus == domain.PaymentUnpaid {
			customer.CreditBalance = floorZero(customer.CreditBalance.Sub(sale.Total))
		}
		customer.UpdatedAt = at
		s.customers[customer.ID] = customer
	}

	sale.Status = domain.SaleVoid
	sale.VoidReason = reason
	sale.VoidedAt = &at
	s.sales[id] = sale
	out := s.saleViewLocked(sale, true)
	return &out, nil
}

func (s *Store) CreateSaleReturn(_ context.Context, ret domain.SaleReturn) (*domain.SaleReturn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[ret.SaleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleCompleted {
		return nil, fmt.Errorf("%w: sale is %s", store.ErrConflict, sale.Status)
	}
	if len(ret.Items) == 0 {
		return nil, fmt.Errorf("%w: return has no items", store.ErrInvalidInput)
	}

	items := slices.Clone(sale.Items)
	index := make(map[string]int, len(items))
	for i, item := range items {
		index[item.ID] = i
	}
	returned := make([]domain.SaleReturnItem, 0, len(ret.Items))
	refund := decimal.Zero
	for _, line := range ret.Items {
		i, ok := index[line.SaleItemID]
		if !ok {
			return nil, fmt.Errorf("%w: item %s is not part of this sale", store.ErrInvalidInput, line.SaleItemID)
		}
		if !line.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidInput)
		}
		if line.Quantity.GreaterThan(items[i].Returnable()) {
			return nil, fmt.Errorf("%w: %s can return at most %s", store.ErrConflict, items[i].ProductName, items[i].Returnable().String())
		}
		amount := domain.ReturnAmount(sale, items[i], line.Quantity)
		items[i].ReturnedQuantity = items[i].ReturnedQuantity.Add(line.Quantity)
		refund = refund.Add(amount)
		returned = append(returned, domain.SaleReturnItem{
			SaleItemID: line.SaleItemID,
			ProductID:  items[i].ProductID,
			Quantity:   line.Quantity,
			Amount:     amount,
		})
	}

	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	for _, item := range returned {
		if _, ok := s.products[item.ProductID]; !ok {
			continue
		}
		s.applyStockLocked(item.ProductID, item.Quantity, domain.StockMovement{
			Type:          domain.MovementReturn,
			ReferenceType: "return",
			ReferenceID:   ret.ID,
			Note:          ret.Reason,
			UserID:        ret.UserID,
			CreatedAt:     ret.CreatedAt,
		})
	}

	ret.Items = returned
	ret.RefundAmount = domain.RoundMoney(refund)
	if customer, ok := s.customers[sale.CustomerID]; ok && !customer.WalkIn {
		customer.TotalSpent = floorZero(customer.TotalSpent.Sub(ret.RefundAmount))
		if sale.PaymentStatus == domain.PaymentUnpaid {
			customer.CreditBalance = floorZero(customer.CreditBalance.Sub(ret.RefundAmount))
		}
		customer.UpdatedAt = ret.CreatedAt
		s.customers[customer.ID] = customer
	}

	sale.Items = items
	sale.RefundedAmount = sale.RefundedAmount.Add(ret.RefundAmount)
	if sale.FullyReturned() {
		sale.Status = domain.SaleReturned
	}
	s.sales[sale.ID] = sale
	s.returns = append(s.returns, ret)
	return &ret, nil
}

func (s *Store) ListSaleReturns(_ context.Context, saleID string) ([]domain.SaleReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sales[saleID]; !ok {
		return nil, store.ErrNotFound
	}
	out := make([]domain.SaleReturn, 0, 4)
	for _, ret := range s.returns {
		if ret.SaleID == saleID {
			out = append(out, ret)
		}
	}
	return out, nil
}

func (s *Store) CreateHeldCart(_ context.Context, held domain.HeldCart) (*domain.HeldCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held.Cart.Lines = slices.Clone(held.Cart.Lines)
	s.heldCarts[held.ID] = held
	return &held, nil
}

func (s *Store) ListHeldCarts(_ context.Context, userID string) ([]domain.HeldCart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.HeldCart, 0, len(s.heldCarts))
	for _, held := range s.heldCarts {
		if userID != "" && held.UserID != userID {
			continue
		}
		held.Cart.Lines = slices.Clone(held.Cart.Lines)
		out = append(out, held)
	}
	slices.SortFunc(out, func(a, b domain.HeldCart) int { return cmpNewest(a.CreatedAt, b.CreatedAt) })
	return out, nil
}

// PopHeldCart removes the held cart and returns it.
func (s *Store) PopHeldCart(_ context.Context, id string) (*domain.HeldCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.heldCarts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(s.heldCarts, id)
	return &held, nil
}

func (s *Store) maxInvoiceLocked() int64 {
	var highest int64
	for _, sale := range s.sales {
		if sale.InvoiceNumber > highest {
			highest = sale.InvoiceNumber
		}
	}
	return highest
}

func (s *Store) saleViewLocked(sale domain.Sale, withItems bool) domain.Sale {
	if customer, ok := s.customers[sale.CustomerID]; ok {
		sale.CustomerName = customer.Name
	}
	if cashier, ok := s.users[sale.CashierID]; ok {
		sale.CashierName = cashier.Name
	}
	if withItems {
		sale.Items = slices.Clone(sale.Items)
	} else {
		sale.Items = nil
	}
	return sale
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	return domain.RoundMoney(decimal.Max(d, decimal.Zero))
}
