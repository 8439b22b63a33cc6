package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/cart"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
)

// Lifecycle is the explicit state of catalog and people records.
type Lifecycle string

const (
	LifecycleActive   Lifecycle = "ACTIVE"
	LifecycleArchived Lifecycle = "ARCHIVED"
)

// DeletePolicy declares how a delete request is honoured for an entity type.
type DeletePolicy string

const (
	// DeleteArchive keeps the row and moves it to LifecycleArchived.
	DeleteArchive DeletePolicy = "ARCHIVE"
	// DeleteRestrict removes the row only when nothing references it.
	DeleteRestrict DeletePolicy = "RESTRICT"
)

var DeletePolicies = map[string]DeletePolicy{
	"category": DeleteArchive,
	"unit":     DeleteArchive,
	"product":  DeleteArchive,
	"customer": DeleteArchive,
	"supplier": DeleteRestrict,
	"role":     DeleteRestrict,
	"user":     DeleteRestrict,
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentCard     PaymentMethod = "CARD"
	PaymentTransfer PaymentMethod = "TRANSFER"
	PaymentQRIS     PaymentMethod = "QRIS"
	PaymentCredit   PaymentMethod = "CREDIT"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentQRIS, PaymentCredit:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPaid   PaymentStatus = "PAID"
	PaymentUnpaid PaymentStatus = "UNPAID"
)

// PaymentStatusFor derives the payment status from the payment method.
func PaymentStatusFor(method PaymentMethod) PaymentStatus {
	if method == PaymentCredit {
		return PaymentUnpaid
	}
	return PaymentPaid
}

type SaleStatus string

const (
	SaleCompleted SaleStatus = "COMPLETED"
	SaleHold      SaleStatus = "HOLD"
	SaleVoid      SaleStatus = "VOID"
	SaleReturned  SaleStatus = "RETURNED"
)

type MovementType string

const (
	MovementOpening    MovementType = "OPENING"
	MovementSale       MovementType = "SALE"
	MovementPurchase   MovementType = "PURCHASE"
	MovementAdjustment MovementType = "ADJUSTMENT"
	MovementReturn     MovementType = "RETURN"
	MovementVoid       MovementType = "VOID"
)

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "PENDING"
	PurchaseReceived  PurchaseStatus = "RECEIVED"
	PurchaseCancelled PurchaseStatus = "CANCELLED"
)

// SaleNumber is the display number printed on receipts. It is derived from
// the invoice number so it is unique whenever the invoice number is. The date
// is taken in at's own location, which is the business location for sales
// created by the service.
func SaleNumber(invoiceNumber int64, at time.Time) string {
	return fmt.Sprintf("S%s-%06d", at.Format("20060102"), invoiceNumber)
}

func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func RoundQty(d decimal.Decimal) decimal.Decimal {
	return d.Round(3)
}

type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Lifecycle   Lifecycle `json:"lifecycle"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Unit struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Symbol    string    `json:"symbol"`
	Lifecycle Lifecycle `json:"lifecycle"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	SKU           string          `json:"sku,omitempty"`
	Barcode       string          `json:"barcode,omitempty"`
	CategoryID    string          `json:"category_id"`
	CategoryName  string          `json:"category_name,omitempty"`
	UnitID        string          `json:"unit_id,omitempty"`
	UnitSymbol    string          `json:"unit_symbol,omitempty"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	Stock         decimal.Decimal `json:"stock"`
	MinStock      decimal.Decimal `json:"min_stock"`
	Lifecycle     Lifecycle       `json:"lifecycle"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (p Product) LowStock() bool {
	return p.Stock.LessThanOrEqual(p.MinStock)
}

type ProductFilter struct {
	Search          string
	CategoryID      string
	LowStockOnly    bool
	IncludeArchived bool
	Limit           int
}

type StockMovement struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Type          MovementType    `json:"type"`
	StockBefore   decimal.Decimal `json:"stock_before"`
	StockAfter    decimal.Decimal `json:"stock_after"`
	ReferenceType string          `json:"reference_type,omitempty"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	Note          string          `json:"note,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type StockAdjustment struct {
	ID        string                `json:"id"`
	Reason    string                `json:"reason"`
	UserID    string                `json:"user_id"`
	Items     []StockAdjustmentItem `json:"items"`
	CreatedAt time.Time             `json:"created_at"`
}

type StockAdjustmentItem struct {
	ProductID string          `json:"product_id"`
	Delta     decimal.Decimal `json:"delta"`
}

type Customer struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone,omitempty"`
	Email         string          `json:"email,omitempty"`
	Address       string          `json:"address,omitempty"`
	CreditBalance decimal.Decimal `json:"credit_balance"`
	TotalSpent    decimal.Decimal `json:"total_spent"`
	CreditLimit   decimal.Decimal `json:"credit_limit"`
	VisitCount    int             `json:"visit_count"`
	WalkIn        bool            `json:"walk_in"`
	Lifecycle     Lifecycle       `json:"lifecycle"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type CustomerPayment struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Note       string          `json:"note,omitempty"`
	UserID     string          `json:"user_id"`
	CreatedAt  time.Time       `json:"created_at"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Purchase struct {
	ID           string          `json:"id"`
	Reference    string          `json:"reference"`
	SupplierID   string          `json:"supplier_id"`
	SupplierName string          `json:"supplier_name,omitempty"`
	Status       PurchaseStatus  `json:"status"`
	Total        decimal.Decimal `json:"total"`
	Note         string          `json:"note,omitempty"`
	Items        []PurchaseItem  `json:"items"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	ReceivedAt   *time.Time      `json:"received_at,omitempty"`
}

type PurchaseItem struct {
	ID          string          `json:"id"`
	PurchaseID  string          `json:"purchase_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type Sale struct {
	ID             string          `json:"id"`
	InvoiceNumber  int64           `json:"invoice_number"`
	SaleNumber     string          `json:"sale_number"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	CashReceived   decimal.Decimal `json:"cash_received"`
	Change         decimal.Decimal `json:"change"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	Status         SaleStatus      `json:"status"`
	CustomerID     string          `json:"customer_id,omitempty"`
	CustomerName   string          `json:"customer_name,omitempty"`
	CashierID      string          `json:"cashier_id,omitempty"`
	CashierName    string          `json:"cashier_name,omitempty"`
	Note           string          `json:"note,omitempty"`
	VoidReason     string          `json:"void_reason,omitempty"`
	VoidedAt       *time.Time      `json:"voided_at,omitempty"`
	Items          []SaleItem      `json:"items"`
	CreatedAt      time.Time       `json:"created_at"`
}

type SaleItem struct {
	ID               string          `json:"id"`
	SaleID           string          `json:"sale_id"`
	ProductID        string          `json:"product_id"`
	ProductName      string          `json:"product_name"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Discount         decimal.Decimal `json:"discount"`
	Tax              decimal.Decimal `json:"tax"`
	LineTotal        decimal.Decimal `json:"line_total"`
	ReturnedQuantity decimal.Decimal `json:"returned_quantity"`
}

// Returnable is the quantity that can still be returned or restocked.
func (i SaleItem) Returnable() decimal.Decimal {
	return i.Quantity.Sub(i.ReturnedQuantity)
}

type SaleFilter struct {
	From       *time.Time
	To         *time.Time
	Status     SaleStatus
	CustomerID string
	WithItems  bool
	Limit      int
}

type SaleReturn struct {
	ID           string           `json:"id"`
	SaleID       string           `json:"sale_id"`
	Reason       string           `json:"reason"`
	RefundAmount decimal.Decimal  `json:"refund_amount"`
	UserID       string           `json:"user_id"`
	Items        []SaleReturnItem `json:"items"`
	CreatedAt    time.Time        `json:"created_at"`
}

type SaleReturnItem struct {
	SaleItemID string          `json:"sale_item_id"`
	ProductID  string          `json:"product_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Amount     decimal.Decimal `json:"amount"`
}

type HeldCart struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Note      string        `json:"note,omitempty"`
	Cart      cart.Snapshot `json:"cart"`
	CreatedAt time.Time     `json:"created_at"`
}

type Role struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Permissions permission.Matrix `json:"permissions"`
	IsSystem    bool              `json:"is_system"`
	UserCount   int               `json:"user_count"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	RoleID       string    `json:"role_id"`
	RoleName     string    `json:"role_name,omitempty"`
	Active       bool      `json:"active"`
	IsSystem     bool      `json:"is_system"`
	Protected    bool      `json:"protected"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Settings struct {
	StoreName     string          `json:"store_name"`
	Address       string          `json:"address,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	Currency      string          `json:"currency"`
	ReceiptFooter string          `json:"receipt_footer,omitempty"`
	TaxMode       cart.Mode       `json:"tax_mode"`
	TaxValue      decimal.Decimal `json:"tax_value"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Actor is the authenticated caller, resolved from storage per request.
type Actor struct {
	UserID      string            `json:"user_id"`
	Username    string            `json:"username"`
	Name        string            `json:"name"`
	RoleID      string            `json:"role_id"`
	RoleName    string            `json:"role_name"`
	Permissions permission.Matrix `json:"permissions"`
}

// BootstrapData is everything written by first-run initialization.
type BootstrapData struct {
	Roles      []Role
	Units      []Unit
	Category   Category
	SystemUser User
	Admin      User
	WalkIn     Customer
	Settings   Settings
}

type WipeResult struct {
	Sales          int64 `json:"sales"`
	Purchases      int64 `json:"purchases"`
	StockMovements int64 `json:"stock_movements"`
	Adjustments    int64 `json:"adjustments"`
	Returns        int64 `json:"returns"`
	Payments       int64 `json:"payments"`
	HeldCarts      int64 `json:"held_carts"`
}

// ReturnAmount is the refund owed for qty units of item. Sale-level discount
// and tax are shared across lines in proportion to their totals.
func ReturnAmount(sale Sale, item SaleItem, qty decimal.Decimal) decimal.Decimal {
	if !item.Quantity.IsPositive() {
		return decimal.Zero
	}
	amount := item.LineTotal.Mul(qty).Div(item.Quantity)
	if sale.Subtotal.IsPositive() {
		amount = amount.Mul(sale.Total).Div(sale.Subtotal)
	}
	return RoundMoney(amount)
}

// NetTotal is the sale total less everything refunded through returns.
func (s Sale) NetTotal() decimal.Decimal {
	return s.Total.Sub(s.RefundedAmount)
}

// FullyReturned reports whether every item has been returned in full.
func (s Sale) FullyReturned() bool {
	if len(s.Items) == 0 {
		return false
	}
	for _, item := range s.Items {
		if item.Returnable().IsPositive() {
			return false
		}
	}
	return true
}
