// Package cart implements the checkout cart aggregate and its totals.
//
// Totals are always recomputed from the lines and the discount/tax
// configuration. Every monetary step is rounded to two decimal places so
// repeated recalculation yields identical results.
package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

type Mode string

const (
	Fixed   Mode = "FIXED"
	Percent Mode = "PERCENT"
)

var hundred = decimal.NewFromInt(100)

// Adjustment is a discount or tax setting.
type Adjustment struct {
	Mode  Mode            `json:"mode"`
	Value decimal.Decimal `json:"value"`
}

func (a Adjustment) Valid() bool {
	switch a.Mode {
	case "", Fixed:
		return !a.Value.IsNegative()
	case Percent:
		return !a.Value.IsNegative() && a.Value.LessThanOrEqual(hundred)
	default:
		return false
	}
}

type Line struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	Tax       decimal.Decimal `json:"tax"`
	Stock     decimal.Decimal `json:"stock"`
}

// Total is quantity x unit price - discount + tax.
func (l Line) Total() decimal.Decimal {
	gross := Round(l.Quantity.Mul(l.UnitPrice))
	return Round(gross.Sub(Round(l.Discount)).Add(Round(l.Tax)))
}

type Totals struct {
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Taxable         decimal.Decimal `json:"taxable"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	Total           decimal.Decimal `json:"total"`
}

func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Calculate derives the cart totals from its lines and configuration.
func Calculate(lines []Line, discount Adjustment, tax Adjustment) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Total())
	}
	subtotal = Round(subtotal)

	ceiling := decimal.Max(subtotal, decimal.Zero)

	var discountAmount, discountPercent decimal.Decimal
	switch discount.Mode {
	case Percent:
		pct := clamp(discount.Value, decimal.Zero, hundred)
		discountAmount = Round(ceiling.Mul(pct).Div(hundred))
		discountPercent = Round(pct)
	default:
		discountAmount = Round(decimal.Max(discount.Value, decimal.Zero))
	}
	if discountAmount.GreaterThan(ceiling) {
		discountAmount = ceiling
	}
	if discount.Mode != Percent {
		if ceiling.IsPositive() {
			discountPercent = Round(discountAmount.Div(ceiling).Mul(hundred))
		} else {
			discountPercent = decimal.Zero
		}
	}

	taxable := Round(subtotal.Sub(discountAmount))

	var taxAmount decimal.Decimal
	switch tax.Mode {
	case Percent:
		base := decimal.Max(taxable, decimal.Zero)
		taxAmount = Round(base.Mul(decimal.Max(tax.Value, decimal.Zero)).Div(hundred))
	default:
		taxAmount = Round(decimal.Max(tax.Value, decimal.Zero))
	}

	total := Round(taxable.Add(taxAmount))
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Totals{
		Subtotal:        subtotal,
		DiscountAmount:  discountAmount,
		DiscountPercent: discountPercent,
		Taxable:         taxable,
		TaxAmount:       taxAmount,
		Total:           total,
	}
}

// Change is the cash to hand back, never negative.
func Change(received decimal.Decimal, total decimal.Decimal) decimal.Decimal {
	return Round(decimal.Max(received.Sub(total), decimal.Zero))
}

type Cart struct {
	Lines        []Line          `json:"lines"`
	Discount     Adjustment      `json:"discount"`
	Tax          Adjustment      `json:"tax"`
	CustomerID   string          `json:"customer_id,omitempty"`
	CashReceived decimal.Decimal `json:"cash_received"`
	Change       decimal.Decimal `json:"change"`
	Totals       Totals          `json:"totals"`
}

func New() *Cart {
	c := &Cart{Discount: Adjustment{Mode: Fixed}, Tax: Adjustment{Mode: Percent}}
	c.recalculate()
	return c
}

func (c *Cart) indexOf(productID string) int {
	for i, line := range c.Lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

// AddItem adds qty of item, clamped so the line never exceeds item.Stock.
// It returns the quantity actually added, which may be zero.
func (c *Cart) AddItem(item Line, qty decimal.Decimal) decimal.Decimal {
	idx := c.indexOf(item.ProductID)
	current := decimal.Zero
	if idx >= 0 {
		current = c.Lines[idx].Quantity
	}

	room := item.Stock.Sub(current)
	add := decimal.Min(qty, room)
	if !add.IsPositive() {
		return decimal.Zero
	}

	if idx >= 0 {
		c.Lines[idx].Quantity = current.Add(add)
		c.Lines[idx].Stock = item.Stock
		c.Lines[idx].UnitPrice = item.UnitPrice
	} else {
		item.Quantity = add
		c.Lines = append(c.Lines, item)
	}
	c.recalculate()
	return add
}

// UpdateQuantity sets a line's quantity. Zero or below removes the line.
func (c *Cart) UpdateQuantity(productID string, qty decimal.Decimal) {
	idx := c.indexOf(productID)
	if idx < 0 {
		return
	}
	if !qty.IsPositive() {
		c.RemoveItem(productID)
		return
	}
	c.Lines[idx].Quantity = decimal.Min(qty, c.Lines[idx].Stock)
	c.recalculate()
}

func (c *Cart) RemoveItem(productID string) {
	idx := c.indexOf(productID)
	if idx < 0 {
		return
	}
	c.Lines = append(c.Lines[:idx], c.Lines[idx+1:]...)
	c.recalculate()
}

func (c *Cart) SetLineAdjustments(productID string, discount decimal.Decimal, tax decimal.Decimal) {
	idx := c.indexOf(productID)
	if idx < 0 {
		return
	}
	c.Lines[idx].Discount = decimal.Max(discount, decimal.Zero)
	c.Lines[idx].Tax = decimal.Max(tax, decimal.Zero)
	c.recalculate()
}

func (c *Cart) SetDiscount(adj Adjustment) {
	c.Discount = adj
	c.recalculate()
}

func (c *Cart) SetTax(adj Adjustment) {
	c.Tax = adj
	c.recalculate()
}

func (c *Cart) SetCustomer(customerID string) {
	c.CustomerID = customerID
}

// Tender records the cash handed over and returns the change due.
func (c *Cart) Tender(received decimal.Decimal) decimal.Decimal {
	c.CashReceived = Round(received)
	c.Change = Change(c.CashReceived, c.Totals.Total)
	return c.Change
}

func (c *Cart) Clear() {
	c.Lines = nil
	c.CustomerID = ""
	c.CashReceived = decimal.Zero
	c.Change = decimal.Zero
	c.Discount = Adjustment{Mode: c.Discount.Mode}
	c.recalculate()
}

func (c *Cart) recalculate() {
	c.Totals = Calculate(c.Lines, c.Discount, c.Tax)
	if c.CashReceived.IsPositive() {
		c.Change = Change(c.CashReceived, c.Totals.Total)
	}
}

// Snapshot is a parked cart.
type Snapshot struct {
	Lines      []Line     `json:"lines"`
	Discount   Adjustment `json:"discount"`
	Tax        Adjustment `json:"tax"`
	CustomerID string     `json:"customer_id,omitempty"`
	Totals     Totals     `json:"totals"`
	Note       string     `json:"note,omitempty"`
	HeldAt     time.Time  `json:"held_at"`
}

func (c *Cart) Hold(note string, now time.Time) Snapshot {
	lines := make([]Line, len(c.Lines))
	copy(lines, c.Lines)
	return Snapshot{
		Lines:      lines,
		Discount:   c.Discount,
		Tax:        c.Tax,
		CustomerID: c.CustomerID,
		Totals:     c.Totals,
		Note:       note,
		HeldAt:     now,
	}
}

// Restore rebuilds a cart from a snapshot. Tender state is not carried over.
func Restore(s Snapshot) *Cart {
	lines := make([]Line, len(s.Lines))
	copy(lines, s.Lines)
	c := &Cart{
		Lines:      lines,
		Discount:   s.Discount,
		Tax:        s.Tax,
		CustomerID: s.CustomerID,
	}
	c.recalculate()
	return c
}

func clamp(v decimal.Decimal, lo decimal.Decimal, hi decimal.Decimal) decimal.Decimal {
	return decimal.Min(decimal.Max(v, lo), hi)
}
