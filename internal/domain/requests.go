package domain

import (
	"github.com/shopspring/decimal"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/cart"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SessionResponse struct {
	UserID      string            `json:"user_id"`
	Name        string            `json:"name"`
	Username    string            `json:"username"`
	RoleName    string            `json:"role_name"`
	Permissions permission.Matrix `json:"permissions"`
}

type CategoryInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type UnitInput struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

type ProductInput struct {
	Name          string          `json:"name"`
	SKU           string          `json:"sku"`
	Barcode       string          `json:"barcode"`
	CategoryID    string          `json:"category_id"`
	UnitID        string          `json:"unit_id"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	MinStock      decimal.Decimal `json:"min_stock"`
	// InitialStock is only honoured on create and is booked as an opening movement.
	InitialStock decimal.Decimal `json:"initial_stock"`
}

type CustomerInput struct {
	Name        string          `json:"name"`
	Phone       string          `json:"phone"`
	Email       string          `json:"email"`
	Address     string          `json:"address"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

type CustomerPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

type SupplierInput struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

type PurchaseRequest struct {
	SupplierID string                `json:"supplier_id"`
	Reference  string                `json:"reference"`
	Note       string                `json:"note"`
	Items      []PurchaseItemRequest `json:"items"`
}

type PurchaseItemRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type StockAdjustmentRequest struct {
	Reason string                `json:"reason"`
	Items  []StockAdjustmentItem `json:"items"`
}

type CheckoutRequest struct {
	Items         []CheckoutItem  `json:"items"`
	Discount      cart.Adjustment `json:"discount"`
	Tax           cart.Adjustment `json:"tax"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CustomerID    string          `json:"customer_id"`
	CashReceived  decimal.Decimal `json:"cash_received"`
	Note          string          `json:"note"`
}

type CheckoutItem struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	// UnitPrice defaults to the product's current selling price when zero.
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	Tax       decimal.Decimal `json:"tax"`
}

type VoidSaleRequest struct {
	Reason string `json:"reason"`
}

type SaleReturnRequest struct {
	Reason string                  `json:"reason"`
	Items  []SaleReturnItemRequest `json:"items"`
}

type SaleReturnItemRequest struct {
	SaleItemID string          `json:"sale_item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type HoldCartRequest struct {
	Note string        `json:"note"`
	Cart cart.Snapshot `json:"cart"`
}

type RoleInput struct {
	Name        string            `json:"name"`
	Permissions permission.Matrix `json:"permissions"`
}

type UserCreateRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
	RoleID   string `json:"role_id"`
}

type UserUpdateRequest struct {
	Name     *string `json:"name"`
	RoleID   *string `json:"role_id"`
	Active   *bool   `json:"active"`
	Password *string `json:"password"`
}

type SetupRequest struct {
	StoreName string `json:"store_name"`
	Name      string `json:"name"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

type WipeRequest struct {
	Password string `json:"password"`
}

type ImportRowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

type ImportResult struct {
	Created int              `json:"created"`
	Updated int              `json:"updated"`
	Errors  []ImportRowError `json:"errors"`
}

type PaymentBreakdown struct {
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Sales         int             `json:"sales"`
	Total         decimal.Decimal `json:"total"`
}

type SalesReport struct {
	From          string             `json:"from"`
	To            string             `json:"to"`
	Sales         int                `json:"sales"`
	Subtotal      decimal.Decimal    `json:"subtotal"`
	Discount      decimal.Decimal    `json:"discount"`
	Tax           decimal.Decimal    `json:"tax"`
	Refunds       decimal.Decimal    `json:"refunds"`
	Total         decimal.Decimal    `json:"total"`
	ByPayment     []PaymentBreakdown `json:"by_payment"`
	Outstanding   decimal.Decimal    `json:"outstanding_credit"`
	VoidedSales   int                `json:"voided_sales"`
	ReturnedSales int                `json:"returned_sales"`
}
