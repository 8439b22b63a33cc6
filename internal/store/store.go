package store

import (
	"context"
	"errors"
	"time"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrSerialization     = errors.New("concurrent update, please retry")
)

// WipeOpeningNote marks the OPENING movements that carry stock over a history
// wipe.
const WipeOpeningNote = "opening balance after history wipe"

type Repository interface {
	ListCategories(ctx context.Context, includeArchived bool) ([]domain.Category, error)
	GetCategory(ctx context.Context, id string) (*domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)

	ListUnits(ctx context.Context, includeArchived bool) ([]domain.Unit, error)
	GetUnit(ctx context.Context, id string) (*domain.Unit, error)
	CreateUnit(ctx context.Context, unit domain.Unit) (*domain.Unit, error)
	UpdateUnit(ctx context.Context, unit domain.Unit) (*domain.Unit, error)

	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	// CreateProduct stores the product and, when opening is positive, books it
	// as an OPENING movement in the same transaction.
	CreateProduct(ctx context.Context, product domain.Product, opening domain.StockMovement) (*domain.Product, error)
	// UpdateProduct never changes stock.
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)

	CreateStockAdjustment(ctx context.Context, adjustment domain.StockAdjustment) (*domain.StockAdjustment, error)
	ListStockAdjustments(ctx context.Context, limit int) ([]domain.StockAdjustment, error)

	ListCustomers(ctx context.Context, includeArchived bool) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	// UpdateCustomer writes profile fields, credit limit and lifecycle only.
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	CreateCustomerPayment(ctx context.Context, payment domain.CustomerPayment) (*domain.Customer, error)
	ListCustomerPayments(ctx context.Context, customerID string) ([]domain.CustomerPayment, error)

	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	UpdateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	DeleteSupplier(ctx context.Context, id string) error

	CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
	GetPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, status domain.PurchaseStatus, limit int) ([]domain.Purchase, error)
	ReceivePurchase(ctx context.Context, id string, userID string, at time.Time) (*domain.Purchase, error)
	CancelPurchase(ctx context.Context, id string) (*domain.Purchase, error)

	// CreateSale is the checkout unit of work. It assigns the invoice and sale
	// numbers, re-checks live stock, writes items and movements, and updates
	// customer stats. Nothing is written when any line fails.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	VoidSale(ctx context.Context, id string, reason string, userID string, at time.Time) (*domain.Sale, error)
	CreateSaleReturn(ctx context.Context, ret domain.SaleReturn) (*domain.SaleReturn, error)
	ListSaleReturns(ctx context.Context, saleID string) ([]domain.SaleReturn, error)

	CreateHeldCart(ctx context.Context, held domain.HeldCart) (*domain.HeldCart, error)
	ListHeldCarts(ctx context.Context, userID string) ([]domain.HeldCart, error)
	PopHeldCart(ctx context.Context, id string) (*domain.HeldCart, error)

	ListRoles(ctx context.Context) ([]domain.Role, error)
	GetRole(ctx context.Context, id string) (*domain.Role, error)
	CreateRole(ctx context.Context, role domain.Role) (*domain.Role, error)
	// UpdateRole replaces the name and the whole permission matrix.
	UpdateRole(ctx context.Context, role domain.Role) (*domain.Role, error)
	DeleteRole(ctx context.Context, id string) error

	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) (*domain.User, error)
	DeleteUser(ctx context.Context, id string) error
	// CountUsers counts real users, excluding the system placeholder.
	CountUsers(ctx context.Context) (int, error)

	GetSettings(ctx context.Context) (*domain.Settings, error)
	SaveSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	// Bootstrap writes first-run data atomically. It fails with ErrConflict
	// once any real user exists.
	Bootstrap(ctx context.Context, data domain.BootstrapData) error
	// WipeHistory deletes all transactional history in one transaction and
	// re-books current stock as OPENING movements.
	WipeHistory(ctx context.Context) (domain.WipeResult, error)
}
