package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sale(at time.Time, total string, status domain.SaleStatus, items ...domain.SaleItem) domain.Sale {
	return domain.Sale{ID: at.String(), CreatedAt: at, Total: money(total), Status: status, Items: items}
}

func TestGrowth(t *testing.T) {
	cases := []struct {
		cur, prev, want string
	}{
		{"500", "0", "100"},
		{"0", "0", "0"},
		{"50", "100", "-50"},
		{"425", "400", "6.25"},
		{"1", "3", "-66.67"},
	}
	for _, tc := range cases {
		got := Growth(money(tc.cur), money(tc.prev))
		assert.True(t, money(tc.want).Equal(got), "growth(%s,%s) want %s got %s", tc.cur, tc.prev, tc.want, got)
	}
}

func TestWindowsStartWeekOnMonday(t *testing.T) {
	sunday := time.Date(2026, 10, 18, 15, 30, 0, 0, time.UTC)
	w := WindowsFor(sunday, time.UTC)

	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), w.ThisWeekStart)
	assert.Equal(t, time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC), w.LastWeekStart)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), w.LastMonthStart)
	assert.Equal(t, time.Date(2026, 9, 19, 0, 0, 0, 0, time.UTC), w.TrendStart)
	assert.Equal(t, w.LastMonthStart, w.Earliest())

	monday := time.Date(2026, 10, 12, 0, 0, 1, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), WindowsFor(monday, time.UTC).ThisWeekStart)
}

func TestSummarize(t *testing.T) {
	now := time.Date(2026, 10, 18, 15, 30, 0, 0, time.UTC)
	coffee := domain.SaleItem{ProductID: "coffee", ProductName: "Coffee", Quantity: money("2"), LineTotal: money("100")}
	tea := domain.SaleItem{ProductID: "tea", ProductName: "Tea", Quantity: money("1"), LineTotal: money("50")}

	sales := []domain.Sale{
		sale(time.Date(2026, 10, 18, 10, 15, 0, 0, time.UTC), "100", domain.SaleCompleted, coffee),
		sale(time.Date(2026, 10, 18, 10, 45, 0, 0, time.UTC), "50", domain.SaleCompleted, tea),
		sale(time.Date(2026, 10, 18, 11, 0, 0, 0, time.UTC), "999", domain.SaleVoid, coffee),
		sale(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC), "888", domain.SaleReturned),
		sale(time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC), "75", domain.SaleCompleted),
		sale(time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC), "200", domain.SaleCompleted),
		sale(time.Date(2026, 10, 6, 9, 0, 0, 0, time.UTC), "400", domain.SaleCompleted),
		sale(time.Date(2026, 9, 20, 9, 0, 0, 0, time.UTC), "1000", domain.SaleCompleted),
	}

	s := Summarize(sales, now, time.UTC)

	assert.True(t, money("150").Equal(s.Today.Current.Revenue))
	assert.Equal(t, 2, s.Today.Current.Sales)
	assert.True(t, money("75").Equal(s.Today.Current.AverageSale))
	assert.True(t, money("75").Equal(s.Today.Previous.Revenue))
	assert.True(t, money("100").Equal(s.Today.Growth))

	assert.True(t, money("425").Equal(s.Week.Current.Revenue))
	assert.True(t, money("400").Equal(s.Week.Previous.Revenue))
	assert.True(t, money("6.25").Equal(s.Week.Growth))

	assert.True(t, money("825").Equal(s.Month.Current.Revenue))
	assert.True(t, money("1000").Equal(s.Month.Previous.Revenue))
	assert.True(t, money("-17.5").Equal(s.Month.Growth))

	require.Len(t, s.Hourly, 24)
	assert.True(t, money("150").Equal(s.Hourly[10].Revenue))
	assert.Equal(t, 2, s.Hourly[10].Sales)
	assert.Equal(t, 0, s.Hourly[11].Sales)

	require.Len(t, s.TopProducts, 2)
	assert.Equal(t, "coffee", s.TopProducts[0].ProductID)
}

func TestTrendIsGapFree(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	sales := []domain.Sale{
		sale(time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC), "10.005", domain.SaleCompleted),
	}

	for _, input := range [][]domain.Sale{nil, sales} {
		s := Summarize(input, now, time.UTC)
		require.Len(t, s.Trend, TrendDays)
		assert.Equal(t, "2026-02-01", s.Trend[0].Date)
		assert.Equal(t, "2026-03-02", s.Trend[TrendDays-1].Date)

		prev := time.Time{}
		for _, point := range s.Trend {
			day, err := time.Parse("2006-01-02", point.Date)
			require.NoError(t, err)
			if !prev.IsZero() {
				assert.Equal(t, prev.AddDate(0, 0, 1), day)
			}
			prev = day
		}
	}

	s := Summarize(sales, now, time.UTC)
	assert.True(t, money("10.01").Equal(s.Trend[27].Revenue), "got %s", s.Trend[27].Revenue)
}

func TestSummarizeHonoursLocation(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	now := time.Date(2026, 10, 18, 8, 0, 0, 0, jakarta)
	// 23:30 UTC on the 17th is 06:30 on the 18th in WIB.
	late := sale(time.Date(2026, 10, 17, 23, 30, 0, 0, time.UTC), "40", domain.SaleCompleted)

	s := Summarize([]domain.Sale{late}, now, jakarta)
	assert.Equal(t, 1, s.Today.Current.Sales)
	assert.Equal(t, 1, s.Hourly[6].Sales)
}

func TestSummarizeNetsOutPartialReturns(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	coffee := domain.SaleItem{ProductID: "coffee", ProductName: "Coffee", Quantity: money("10"), ReturnedQuantity: money("9"), LineTotal: money("10000")}
	returned := sale(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), "10000", domain.SaleCompleted, coffee)
	returned.RefundedAmount = money("9000")
	lastWeek := sale(time.Date(2026, 2, 23, 9, 0, 0, 0, time.UTC), "500", domain.SaleCompleted)

	s := Summarize([]domain.Sale{returned, lastWeek}, now, time.UTC)

	assert.True(t, money("1000").Equal(s.Today.Current.Revenue), "today %s", s.Today.Current.Revenue)
	assert.Equal(t, 1, s.Today.Current.Sales)
	assert.True(t, money("1000").Equal(s.Hourly[9].Revenue))
	assert.True(t, money("1000").Equal(s.Week.Current.Revenue))
	assert.True(t, money("100").Equal(s.Week.Growth), "growth %s", s.Week.Growth)
	assert.True(t, money("1000").Equal(s.Trend[TrendDays-1].Revenue))

	require.Len(t, s.TopProducts, 1)
	assert.True(t, money("1").Equal(s.TopProducts[0].Quantity))
	assert.True(t, money("1000").Equal(s.TopProducts[0].Revenue))
}
