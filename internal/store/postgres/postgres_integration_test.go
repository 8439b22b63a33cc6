package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("CIDPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set CIDPOS_TEST_DATABASE_URL to run postgres integration test")
	}
	if err := Migrate(databaseURL); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func seedProduct(t *testing.T, s *Store, stamp int64, stock string) *domain.Product {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	categoryID := fmt.Sprintf("cat-it-%d", stamp)
	if _, err := s.CreateCategory(ctx, domain.Category{
		ID: categoryID, Name: fmt.Sprintf("Integration %d", stamp), Lifecycle: domain.LifecycleActive, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create category: %v", err)
	}
	product, err := s.CreateProduct(ctx, domain.Product{
		ID: fmt.Sprintf("prod-it-%d", stamp), Name: "Produk IT", SKU: fmt.Sprintf("SKU-IT-%d", stamp),
		CategoryID: categoryID, SellingPrice: decimal.NewFromInt(12000), Lifecycle: domain.LifecycleActive,
		CreatedAt: now, UpdatedAt: now,
	}, domain.StockMovement{Quantity: decimal.RequireFromString(stock)})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id IN (SELECT sale_id FROM sale_items WHERE product_id = $1)`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, categoryID)
	})
	return product
}

func TestCreateSaleAndVoidRestocksInventory(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	stamp := time.Now().UnixNano()
	product := seedProduct(t, s, stamp, "10")

	now := time.Now().UTC()
	sale, err := s.CreateSale(ctx, domain.Sale{
		ID:            fmt.Sprintf("sale-it-%d", stamp),
		Subtotal:      decimal.NewFromInt(24000),
		Total:         decimal.NewFromInt(24000),
		CashReceived:  decimal.NewFromInt(25000),
		Change:        decimal.NewFromInt(1000),
		PaymentMethod: domain.PaymentCash,
		CreatedAt:     now,
		Items: []domain.SaleItem{{
			ProductID: product.ID, Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(12000), LineTotal: decimal.NewFromInt(24000),
		}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.InvoiceNumber < 1 || sale.SaleNumber != domain.SaleNumber(sale.InvoiceNumber, now) {
		t.Fatalf("unexpected numbering %d %s", sale.InvoiceNumber, sale.SaleNumber)
	}

	after, _ := s.GetProduct(ctx, product.ID)
	if !after.Stock.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("expected stock 8 after sale, got %s", after.Stock)
	}

	if _, err := s.VoidSale(ctx, sale.ID, "integration", "", now.Add(time.Second)); err != nil {
		t.Fatalf("void sale: %v", err)
	}
	restored, _ := s.GetProduct(ctx, product.ID)
	if !restored.Stock.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected stock 10 after void, got %s", restored.Stock)
	}

	voided, _ := s.GetSale(ctx, sale.ID)
	if voided.Status != domain.SaleVoid {
		t.Fatalf("expected VOID, got %s", voided.Status)
	}
}

func TestCreateSaleShortfallRollsBack(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	stamp := time.Now().UnixNano()
	product := seedProduct(t, s, stamp, "1")

	_, err := s.CreateSale(ctx, domain.Sale{
		ID:            fmt.Sprintf("sale-it-%d", stamp),
		Subtotal:      decimal.NewFromInt(24000),
		Total:         decimal.NewFromInt(24000),
		PaymentMethod: domain.PaymentCard,
		CreatedAt:     time.Now().UTC(),
		Items: []domain.SaleItem{{
			ProductID: product.ID, Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(12000), LineTotal: decimal.NewFromInt(24000),
		}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if _, err := s.GetSale(ctx, fmt.Sprintf("sale-it-%d", stamp)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no sale row, got %v", err)
	}
}

func TestConcurrentCheckoutsOfLastUnit(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	stamp := time.Now().UnixNano()
	product := seedProduct(t, s, stamp, "1")

	const buyers = 4
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
			_, errs[i] = s.CreateSale(ctx, domain.Sale{
				ID:            fmt.Sprintf("sale-it-%d-%d", stamp, i),
				Subtotal:      decimal.NewFromInt(12000),
				Total:         decimal.NewFromInt(12000),
				CashReceived:  decimal.NewFromInt(12000),
				PaymentMethod: domain.PaymentCash,
				CreatedAt:     time.Now().UTC(),
				Items: []domain.SaleItem{{
					ProductID: product.ID, Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(12000), LineTotal: decimal.NewFromInt(12000),
				}},
			})
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrSerialization):
		default:
			t.Fatalf("unexpected checkout error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one checkout to win, got %d", succeeded)
	}
	after, _ := s.GetProduct(ctx, product.ID)
	if !after.Stock.IsZero() {
		t.Fatalf("expected stock 0, got %s", after.Stock)
	}

	movements, err := s.ListStockMovements(ctx, product.ID, 0)
	if err != nil {
		t.Fatalf("movements: %v", err)
	}
	sum := decimal.Zero
	for _, m := range movements {
		sum = sum.Add(m.Quantity)
	}
	if len(movements) != 2 || !sum.Equal(after.Stock) {
		t.Fatalf("expected opening plus one sale summing to stock, got %d movements summing to %s", len(movements), sum)
	}
}
