package cart

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{"want %s got %s", want, got.String()}, msgAndArgs...)...)
}

func TestCalculateFixedDiscountPercentTax(t *testing.T) {
	lines := []Line{{ProductID: "p1", Quantity: d("3"), UnitPrice: d("1000")}}

	totals := Calculate(lines, Adjustment{Mode: Fixed, Value: d("500")}, Adjustment{Mode: Percent, Value: d("5")})

	assertDecimal(t, "3000", totals.Subtotal)
	assertDecimal(t, "500", totals.DiscountAmount)
	assertDecimal(t, "16.67", totals.DiscountPercent)
	assertDecimal(t, "2500", totals.Taxable)
	assertDecimal(t, "125", totals.TaxAmount)
	assertDecimal(t, "2625", totals.Total)
}

func TestCalculatePercentDiscountIsBoundedBySubtotal(t *testing.T) {
	lines := []Line{{ProductID: "p1", Quantity: d("1"), UnitPrice: d("19.99")}}

	cases := []struct {
		pct  string
		want string
	}{
		{"0", "0"},
		{"10", "2"},
		{"33.333", "6.66"},
		{"100", "19.99"},
		{"150", "19.99"},
	}
	for _, tc := range cases {
		totals := Calculate(lines, Adjustment{Mode: Percent, Value: d(tc.pct)}, Adjustment{})
		assertDecimal(t, tc.want, totals.DiscountAmount, "pct %s", tc.pct)
		assert.True(t, totals.DiscountAmount.LessThanOrEqual(totals.Subtotal))
	}
}

func TestCalculateFixedDiscountCappedAtSubtotal(t *testing.T) {
	lines := []Line{{ProductID: "p1", Quantity: d("2"), UnitPrice: d("10")}}

	totals := Calculate(lines, Adjustment{Mode: Fixed, Value: d("50")}, Adjustment{Mode: Fixed, Value: d("0")})

	assertDecimal(t, "20", totals.DiscountAmount)
	assertDecimal(t, "100", totals.DiscountPercent)
	assertDecimal(t, "0", totals.Total)
}

func TestCalculateTotalNeverNegative(t *testing.T) {
	lines := []Line{{ProductID: "p1", Quantity: d("1"), UnitPrice: d("5"), Discount: d("20")}}

	totals := Calculate(lines, Adjustment{Mode: Fixed, Value: d("3")}, Adjustment{Mode: Fixed, Value: d("2")})

	assertDecimal(t, "-15", totals.Subtotal)
	assertDecimal(t, "0", totals.DiscountAmount)
	assertDecimal(t, "0", totals.Total)
}

func TestCalculateTotalMatchesRoundedFormula(t *testing.T) {
	lines := []Line{
		{ProductID: "a", Quantity: d("1.5"), UnitPrice: d("3.33"), Discount: d("0.10"), Tax: d("0.05")},
		{ProductID: "b", Quantity: d("7"), UnitPrice: d("0.99")},
	}
	for _, pct := range []string{"0", "7.5", "12.345", "100"} {
		totals := Calculate(lines, Adjustment{Mode: Percent, Value: d(pct)}, Adjustment{Mode: Percent, Value: d("11")})
		want := decimal.Max(Round(totals.Subtotal.Sub(totals.DiscountAmount).Add(totals.TaxAmount)), decimal.Zero)
		assert.True(t, want.Equal(totals.Total), "pct %s: want %s got %s", pct, want, totals.Total)
		assert.False(t, totals.Total.IsNegative())
	}
}

func TestLineTotal(t *testing.T) {
	line := Line{Quantity: d("3"), UnitPrice: d("2.5"), Discount: d("1"), Tax: d("0.75")}
	assertDecimal(t, "7.25", line.Total())
}

func TestAddItemClampsToStock(t *testing.T) {
	c := New()
	item := Line{ProductID: "p1", Name: "Coffee", UnitPrice: d("2"), Stock: d("5")}

	added := c.AddItem(item, d("3"))
	assertDecimal(t, "3", added)

	added = c.AddItem(item, d("4"))
	assertDecimal(t, "2", added)
	require.Len(t, c.Lines, 1)
	assertDecimal(t, "5", c.Lines[0].Quantity)

	added = c.AddItem(item, d("1"))
	assertDecimal(t, "0", added)
	assertDecimal(t, "5", c.Lines[0].Quantity)
	assertDecimal(t, "10", c.Totals.Total)
}

func TestAddItemWithoutStockAddsNothing(t *testing.T) {
	c := New()
	added := c.AddItem(Line{ProductID: "p1", UnitPrice: d("2"), Stock: d("0")}, d("1"))

	assertDecimal(t, "0", added)
	assert.Empty(t, c.Lines)
}

func TestUpdateQuantity(t *testing.T) {
	c := New()
	c.AddItem(Line{ProductID: "p1", UnitPrice: d("4"), Stock: d("10")}, d("2"))

	c.UpdateQuantity("p1", d("25"))
	assertDecimal(t, "10", c.Lines[0].Quantity)

	c.UpdateQuantity("p1", d("3"))
	assertDecimal(t, "12", c.Totals.Subtotal)

	c.UpdateQuantity("p1", d("0"))
	assert.Empty(t, c.Lines)
	assertDecimal(t, "0", c.Totals.Total)
}

func TestTenderComputesChange(t *testing.T) {
	c := New()
	c.AddItem(Line{ProductID: "p1", UnitPrice: d("12.30"), Stock: d("9")}, d("1"))

	assertDecimal(t, "7.70", c.Tender(d("20")))
	assertDecimal(t, "0", c.Tender(d("5")))
}

func TestHoldAndRestoreClearsTender(t *testing.T) {
	c := New()
	c.AddItem(Line{ProductID: "p1", UnitPrice: d("10"), Stock: d("9")}, d("2"))
	c.SetDiscount(Adjustment{Mode: Percent, Value: d("10")})
	c.SetCustomer("cust-1")
	c.Tender(d("50"))

	snap := c.Hold("table 4", time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	c.Clear()
	assert.Empty(t, c.Lines)

	restored := Restore(snap)
	require.Len(t, restored.Lines, 1)
	assert.Equal(t, "cust-1", restored.CustomerID)
	assertDecimal(t, "18", restored.Totals.Total)
	assertDecimal(t, "0", restored.CashReceived)
	assertDecimal(t, "0", restored.Change)
	assert.Equal(t, "table 4", snap.Note)
}

func TestAdjustmentValid(t *testing.T) {
	assert.True(t, Adjustment{Mode: Percent, Value: d("100")}.Valid())
	assert.False(t, Adjustment{Mode: Percent, Value: d("100.01")}.Valid())
	assert.False(t, Adjustment{Mode: Fixed, Value: d("-1")}.Valid())
	assert.False(t, Adjustment{Mode: "BOGUS"}.Valid())
	assert.True(t, Adjustment{}.Valid())
}
