package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seededStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	ctx := context.Background()

	err := s.Bootstrap(ctx, domain.BootstrapData{
		Roles: []domain.Role{
			{ID: "role-admin", Name: permission.SuperAdminRole, Permissions: permission.Full(), IsSystem: true},
			{ID: "role-cashier", Name: permission.CashierRole, Permissions: permission.CashierDefaults(), IsSystem: true},
		},
		Units:      []domain.Unit{{ID: "unit-pcs", Name: "Piece", Symbol: "pcs", Lifecycle: domain.LifecycleActive}},
		Category:   domain.Category{ID: "cat-general", Name: "General", Lifecycle: domain.LifecycleActive},
		SystemUser: domain.User{ID: "user-system", Username: "system", RoleID: "role-admin", IsSystem: true},
		Admin:      domain.User{ID: "user-admin", Name: "Admin", Username: "admin", RoleID: "role-admin", Active: true},
		WalkIn:     domain.Customer{ID: "cust-walkin", Name: "Walk-in", WalkIn: true, Lifecycle: domain.LifecycleActive},
		Settings:   domain.Settings{StoreName: "Test", Currency: "IDR"},
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	for _, p := range []struct {
		id    string
		name  string
		price string
		stock string
	}{
		{"prod-a", "Coffee", "1000", "5"},
		{"prod-b", "Tea", "2500", "2"},
	} {
		_, err := s.CreateProduct(ctx, domain.Product{
			ID: p.id, Name: p.name, SKU: p.id, CategoryID: "cat-general", UnitID: "unit-pcs",
			SellingPrice: dec(p.price), Lifecycle: domain.LifecycleActive, CreatedAt: testNow,
		}, domain.StockMovement{Quantity: dec(p.stock)})
		if err != nil {
			t.Fatalf("create product %s: %v", p.id, err)
		}
	}
	return s
}

func saleFor(id string, lines ...domain.SaleItem) domain.Sale {
	total := decimal.Zero
	for i := range lines {
		lines[i].LineTotal = lines[i].Quantity.Mul(lines[i].UnitPrice)
		total = total.Add(lines[i].LineTotal)
	}
	return domain.Sale{
		ID:            id,
		Subtotal:      total,
		Total:         total,
		PaymentMethod: domain.PaymentCash,
		CashierID:     "user-admin",
		CustomerID:    "cust-walkin",
		Items:         lines,
		CreatedAt:     testNow,
	}
}

func TestBootstrapRunsOnce(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	count, _ := s.CountUsers(ctx)
	if count != 1 {
		t.Fatalf("expected 1 real user, got %d", count)
	}
	admin, err := s.GetUserByUsername(ctx, "ADMIN")
	if err != nil {
		t.Fatalf("lookup admin: %v", err)
	}
	if !admin.Protected || admin.RoleName != permission.SuperAdminRole {
		t.Fatalf("unexpected admin %+v", admin)
	}

	err = s.Bootstrap(ctx, domain.BootstrapData{Admin: domain.User{ID: "user-2", Username: "other"}})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on second bootstrap, got %v", err)
	}
}

func TestCreateProductBooksOpeningMovement(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	product, err := s.GetProduct(ctx, "prod-a")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if !product.Stock.Equal(dec("5")) || product.CategoryName != "General" || product.UnitSymbol != "pcs" {
		t.Fatalf("unexpected product %+v", product)
	}
	movements, _ := s.ListStockMovements(ctx, "prod-a", 10)
	if len(movements) != 1 || movements[0].Type != domain.MovementOpening {
		t.Fatalf("expected one opening movement, got %+v", movements)
	}

	_, err = s.CreateProduct(ctx, domain.Product{ID: "prod-c", Name: "Dup", SKU: "PROD-A", CategoryID: "cat-general"}, domain.StockMovement{})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected duplicate sku conflict, got %v", err)
	}
}

func TestCreateSaleAssignsNumbersAndDecrementsStock(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	first, err := s.CreateSale(ctx, saleFor("sale-1", domain.SaleItem{ProductID: "prod-a", Quantity: dec("2"), UnitPrice: dec("1000")}))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	second, err := s.CreateSale(ctx, saleFor("sale-2", domain.SaleItem{ProductID: "prod-a", Quantity: dec("1"), UnitPrice: dec("1000")}))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if first.InvoiceNumber != 1 || second.InvoiceNumber != 2 {
		t.Fatalf("expected invoices 1 and 2, got %d and %d", first.InvoiceNumber, second.InvoiceNumber)
	}
	if first.SaleNumber != "S20260302-000001" {
		t.Fatalf("unexpected sale number %s", first.SaleNumber)
	}
	if first.PaymentStatus != domain.PaymentPaid || first.Items[0].ProductName != "Coffee" {
		t.Fatalf("unexpected receipt %+v", first)
	}

	product, _ := s.GetProduct(ctx, "prod-a")
	if !product.Stock.Equal(dec("2")) {
		t.Fatalf("expected stock 2, got %s", product.Stock)
	}
	movements, _ := s.ListStockMovements(ctx, "prod-a", 0)
	if movements[0].Type != domain.MovementSale || !movements[0].Quantity.Equal(dec("-1")) {
		t.Fatalf("expected negative sale movement, got %+v", movements[0])
	}
}

func TestCreateSaleShortfallWritesNothing(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	_, err := s.CreateSale(ctx, saleFor("sale-1",
		domain.SaleItem{ProductID: "prod-a", Quantity: dec("1"), UnitPrice: dec("1000")},
		domain.SaleItem{ProductID: "prod-b", Quantity: dec("3"), UnitPrice: dec("2500")},
	))
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	a, _ := s.GetProduct(ctx, "prod-a")
	b, _ := s.GetProduct(ctx, "prod-b")
	if !a.Stock.Equal(dec("5")) || !b.Stock.Equal(dec("2")) {
		t.Fatalf("stock changed after failed sale: %s %s", a.Stock, b.Stock)
	}
	sales, _ := s.ListSales(ctx, domain.SaleFilter{})
	if len(sales) != 0 {
		t.Fatalf("expected no sales, got %d", len(sales))
	}
}

func TestCreditSaleUpdatesCustomer(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	_, err := s.CreateCustomer(ctx, domain.Customer{ID: "cust-1", Name: "Budi", CreditLimit: dec("3000"), Lifecycle: domain.LifecycleActive})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}

	sale := saleFor("sale-1", domain.SaleItem{ProductID: "prod-a", Quantity: dec("2"), UnitPrice: dec("1000")})
	sale.CustomerID = "cust-1"
	sale.PaymentMethod = domain.PaymentCredit
	created, err := s.CreateSale(ctx, sale)
	if err != nil {
		t.Fatalf("credit sale: %v", err)
	}
	if created.PaymentStatus != domain.PaymentUnpaid {
		t.Fatalf("expected UNPAID, got %s", created.PaymentStatus)
	}
	customer, _ := s.GetCustomer(ctx, "cust-1")
	if !customer.CreditBalance.Equal(dec("2000")) || customer.VisitCount != 1 || !customer.TotalSpent.Equal(dec("2000")) {
		t.Fatalf("unexpected customer stats %+v", customer)
	}

	over := saleFor("sale-2", domain.SaleItem{ProductID: "prod-a", Quantity: dec("2"), UnitPrice: dec("1000")})
	over.CustomerID = "cust-1"
	over.PaymentMethod = domain.PaymentCredit
	if _, err := s.CreateSale(ctx, over); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected credit limit conflict, got %v", err)
	}

	updated, err := s.CreateCustomerPayment(ctx, domain.CustomerPayment{CustomerID: "cust-1", Amount: dec("500"), CreatedAt: testNow})
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if !updated.CreditBalance.Equal(dec("1500")) {
		t.Fatalf("expected balance 1500, got %s", updated.CreditBalance)
	}
}

func TestWalkInStatsUntouched(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	if _, err := s.CreateSale(ctx, saleFor("sale-1", domain.SaleItem{ProductID: "prod-a", Quantity: dec("1"), UnitPrice: dec("1000")})); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	walkIn, _ := s.GetCustomer(ctx, "cust-walkin")
	if walkIn.VisitCount != 0 || !walkIn.TotalSpent.IsZero() {
		t.Fatalf("walk-in stats changed: %+v", walkIn)
	}
}

func TestVoidSaleRestoresStock(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	if _, err := s.CreateSale(ctx, saleFor("sale-1", domain.SaleItem{ProductID: "prod-a", Quantity: dec("3"), UnitPrice: dec("1000")})); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	voided, err := s.VoidSale(ctx, "sale-1", "wrong item", "user-admin", testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("void: %v", err)
	}
	if voided.Status != domain.SaleVoid || voided.VoidedAt == nil {
		t.Fatalf("unexpected voided sale %+v", voided)
	}
	product, _ := s.GetProduct(ctx, "prod-a")
	if !product.Stock.Equal(dec("5")) {
		t.Fatalf("expected stock restored to 5, got %s", product.Stock)
	}
	if _, err := s.VoidSale(ctx, "sale-1", "again", "user-admin", testNow); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on second void, got %v", err)
	}
}

func TestSaleReturnPartialThenFull(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	created, err := s.CreateSale(ctx, saleFor("sale-1", domain.SaleItem{ProductID: "prod-a", Quantity: dec("2"), UnitPrice: dec("1000")}))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	itemID := created.Items[0].ID

	ret, err := s.CreateSaleReturn(ctx, domain.SaleReturn{SaleID: "sale-1", Items: []domain.SaleReturnItem{{SaleItemID: itemID, Quantity: dec("1")}}, CreatedAt: testNow})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if !ret.RefundAmount.Equal(dec("1000")) {
		t.Fatalf("expected refund 1000, got %s", ret.RefundAmount)
	}
	sale, _ := s.GetSale(ctx, "sale-1")
	if sale.Status != domain.SaleCompleted {
		t.Fatalf("partial return should keep sale completed, got %s", sale.Status)
	}

	_, err = s.CreateSaleReturn(ctx, domain.SaleReturn{SaleID: "sale-1", Items: []domain.SaleReturnItem{{SaleItemID: itemID, Quantity: dec("2")}}, CreatedAt: testNow})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected over-return conflict, got %v", err)
	}
	if _, err := s.CreateSaleReturn(ctx, domain.SaleReturn{SaleID: "sale-1", Items: []domain.SaleReturnItem{{SaleItemID: itemID, Quantity: dec("1")}}, CreatedAt: testNow}); err != nil {
		t.Fatalf("second return: %v", err)
	}
	sale, _ = s.GetSale(ctx, "sale-1")
	if sale.Status != domain.SaleReturned {
		t.Fatalf("expected RETURNED, got %s", sale.Status)
	}
	product, _ := s.GetProduct(ctx, "prod-a")
	if !product.Stock.Equal(dec("5")) {
		t.Fatalf("expected stock 5, got %s", product.Stock)
	}
}

func TestReceivePurchaseAddsStock(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	if _, err := s.CreateSupplier(ctx, domain.Supplier{ID: "sup-1", Name: "Acme"}); err != nil {
		t.Fatalf("supplier: %v", err)
	}
	_, err := s.CreatePurchase(ctx, domain.Purchase{
		ID: "po-1", Reference: "PO-1", SupplierID: "sup-1", CreatedAt: testNow,
		Items: []domain.PurchaseItem{{ID: "poi-1", ProductID: "prod-b", Quantity: dec("10"), UnitCost: dec("1800")}},
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	received, err := s.ReceivePurchase(ctx, "po-1", "user-admin", testNow)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if received.Status != domain.PurchaseReceived || received.SupplierName != "Acme" {
		t.Fatalf("unexpected purchase %+v", received)
	}
	product, _ := s.GetProduct(ctx, "prod-b")
	if !product.Stock.Equal(dec("12")) || !product.PurchasePrice.Equal(dec("1800")) {
		t.Fatalf("unexpected product after receive %+v", product)
	}
	if _, err := s.CancelPurchase(ctx, "po-1"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict cancelling received purchase, got %v", err)
	}
	if err := s.DeleteSupplier(ctx, "sup-1"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected supplier delete to be restricted, got %v", err)
	}
}

func TestStockAdjustmentCannotGoNegative(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	_, err := s.CreateStockAdjustment(ctx, domain.StockAdjustment{
		ID: "adj-1", Reason: "count", CreatedAt: testNow,
		Items: []domain.StockAdjustmentItem{{ProductID: "prod-a", Delta: dec("1")}, {ProductID: "prod-b", Delta: dec("-3")}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	a, _ := s.GetProduct(ctx, "prod-a")
	if !a.Stock.Equal(dec("5")) {
		t.Fatalf("stock changed after failed adjustment: %s", a.Stock)
	}
}

func TestDeleteRoleGuards(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	if err := s.DeleteRole(ctx, "role-cashier"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected system role conflict, got %v", err)
	}
	if _, err := s.CreateRole(ctx, domain.Role{ID: "role-stock", Name: "Stock", Permissions: permission.Matrix{}}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if _, err := s.CreateUser(ctx, domain.User{ID: "user-2", Username: "gudang", RoleID: "role-stock", Active: true}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.DeleteRole(ctx, "role-stock"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected in-use conflict, got %v", err)
	}
	if err := s.DeleteUser(ctx, "user-2"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if err := s.DeleteRole(ctx, "role-stock"); err != nil {
		t.Fatalf("delete role: %v", err)
	}
	if err := s.DeleteUser(ctx, "user-admin"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected protected admin conflict, got %v", err)
	}
}

func TestHeldCartPop(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	if _, err := s.CreateHeldCart(ctx, domain.HeldCart{ID: "held-1", UserID: "user-admin", CreatedAt: testNow}); err != nil {
		t.Fatalf("hold: %v", err)
	}
	carts, _ := s.ListHeldCarts(ctx, "user-admin")
	if len(carts) != 1 {
		t.Fatalf("expected 1 held cart, got %d", len(carts))
	}
	if _, err := s.PopHeldCart(ctx, "held-1"); err != nil {
		t.Fatalf("pop: %v", err)
	}
	if _, err := s.PopHeldCart(ctx, "held-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after pop, got %v", err)
	}
}

func TestWipeHistory(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	if _, err := s.CreateSale(ctx, saleFor("sale-1", domain.SaleItem{ProductID: "prod-a", Quantity: dec("1"), UnitPrice: dec("1000")})); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	result, err := s.WipeHistory(ctx)
	if err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if result.Sales != 1 || result.StockMovements != 3 {
		t.Fatalf("unexpected wipe result %+v", result)
	}
	for id, want := range map[string]string{"prod-a": "4", "prod-b": "2"} {
		product, _ := s.GetProduct(ctx, id)
		if !product.Stock.Equal(dec(want)) {
			t.Fatalf("%s: expected stock %s kept, got %s", id, want, product.Stock)
		}
		movements, _ := s.ListStockMovements(ctx, id, 0)
		if len(movements) != 1 {
			t.Fatalf("%s: expected a single opening movement, got %d", id, len(movements))
		}
		m := movements[0]
		if m.Type != domain.MovementOpening || m.Note != store.WipeOpeningNote || !m.Quantity.Equal(dec(want)) || !m.StockAfter.Equal(dec(want)) {
			t.Fatalf("%s: unexpected opening movement %+v", id, m)
		}
	}
	count, _ := s.CountUsers(ctx)
	if count != 1 {
		t.Fatalf("wipe must keep users, got %d", count)
	}
}

func TestConcurrentCheckoutsOfLastUnit(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()
	if _, err := s.CreateProduct(ctx, domain.Product{
		ID: "prod-last", Name: "Last One", SKU: "LAST-1", CategoryID: "cat-general", UnitID: "unit-pcs",
		SellingPrice: dec("500"), Lifecycle: domain.LifecycleActive, CreatedAt: testNow,
	}, domain.StockMovement{Quantity: dec("1")}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	const buyers = 16
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, buyers)
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = s.CreateSale(ctx, saleFor(fmt.Sprintf("sale-%d", i),
				domain.SaleItem{ProductID: "prod-last", Quantity: dec("1"), UnitPrice: dec("500")}))
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, store.ErrInsufficientStock) {
			t.Fatalf("expected insufficient stock for losers, got %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one checkout to win, got %d", succeeded)
	}
	product, _ := s.GetProduct(ctx, "prod-last")
	if !product.Stock.IsZero() {
		t.Fatalf("expected stock 0, got %s", product.Stock)
	}
	sales, _ := s.ListSales(ctx, domain.SaleFilter{})
	if len(sales) != 1 {
		t.Fatalf("expected one stored sale, got %d", len(sales))
	}
}
