// Package analytics computes the dashboard rollups from completed sales.
package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
)

const (
	TrendDays   = 30
	TopProducts = 5
)

var hundred = decimal.NewFromInt(100)

// Windows holds the period boundaries for one dashboard computation.
// Every range is half-open: [start, end).
type Windows struct {
	TodayStart     time.Time
	TomorrowStart  time.Time
	YesterdayStart time.Time
	ThisWeekStart  time.Time
	LastWeekStart  time.Time
	ThisMonthStart time.Time
	LastMonthStart time.Time
	TrendStart     time.Time
}

// WindowsFor builds the windows around now in loc. Weeks start on Monday.
func WindowsFor(now time.Time, loc *time.Location) Windows {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	sinceMonday := (int(today.Weekday()) + 6) % 7
	thisWeek := today.AddDate(0, 0, -sinceMonday)
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)

	return Windows{
		TodayStart:     today,
		TomorrowStart:  today.AddDate(0, 0, 1),
		YesterdayStart: today.AddDate(0, 0, -1),
		ThisWeekStart:  thisWeek,
		LastWeekStart:  thisWeek.AddDate(0, 0, -7),
		ThisMonthStart: thisMonth,
		LastMonthStart: thisMonth.AddDate(0, -1, 0),
		TrendStart:     today.AddDate(0, 0, -(TrendDays - 1)),
	}
}

// Earliest is the oldest instant any window needs.
func (w Windows) Earliest() time.Time {
	earliest := w.LastMonthStart
	for _, candidate := range []time.Time{w.LastWeekStart, w.TrendStart} {
		if candidate.Before(earliest) {
			earliest = candidate
		}
	}
	return earliest
}

// Growth is the percentage change from prev to cur. A zero previous period
// yields 100 when there is new activity and 0 otherwise.
func Growth(cur decimal.Decimal, prev decimal.Decimal) decimal.Decimal {
	if !prev.IsPositive() {
		if cur.IsPositive() {
			return hundred
		}
		return decimal.Zero
	}
	return cur.Sub(prev).Div(prev).Mul(hundred).Round(2)
}

type Period struct {
	Revenue     decimal.Decimal `json:"revenue"`
	Sales       int             `json:"sales"`
	AverageSale decimal.Decimal `json:"average_sale"`
}

type Comparison struct {
	Current  Period          `json:"current"`
	Previous Period          `json:"previous"`
	Growth   decimal.Decimal `json:"growth"`
}

type HourBucket struct {
	Hour    int             `json:"hour"`
	Revenue decimal.Decimal `json:"revenue"`
	Sales   int             `json:"sales"`
}

type DayPoint struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
	Sales   int             `json:"sales"`
}

type ProductRank struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type Summary struct {
	GeneratedAt   time.Time     `json:"generated_at"`
	Today         Comparison    `json:"today"`
	Week          Comparison    `json:"week"`
	Month         Comparison    `json:"month"`
	Hourly        []HourBucket  `json:"hourly"`
	Trend         []DayPoint    `json:"trend"`
	TopProducts   []ProductRank `json:"top_products"`
	LowStockCount int           `json:"low_stock_count"`
}

type accumulator struct {
	revenue decimal.Decimal
	sales   int
}

func (a *accumulator) add(total decimal.Decimal) {
	a.revenue = a.revenue.Add(total)
	a.sales++
}

func (a accumulator) period() Period {
	p := Period{Revenue: domain.RoundMoney(a.revenue), Sales: a.sales, AverageSale: decimal.Zero}
	if a.sales > 0 {
		p.AverageSale = domain.RoundMoney(a.revenue.Div(decimal.NewFromInt(int64(a.sales))))
	}
	return p
}

func compare(cur accumulator, prev accumulator) Comparison {
	c := Comparison{Current: cur.period(), Previous: prev.period()}
	c.Growth = Growth(c.Current.Revenue, c.Previous.Revenue)
	return c
}

func within(t time.Time, start time.Time, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

// Summarize buckets sales into the dashboard windows. Sales that are not
// COMPLETED are ignored and partial returns are netted out of revenue.
func Summarize(sales []domain.Sale, now time.Time, loc *time.Location) Summary {
	if loc == nil {
		loc = time.UTC
	}
	w := WindowsFor(now, loc)

	var today, yesterday, thisWeek, lastWeek, thisMonth, lastMonth accumulator
	hourly := make([]accumulator, 24)

	trendIndex := make(map[string]int, TrendDays)
	trend := make([]accumulator, TrendDays)
	dates := make([]string, TrendDays)
	for i := 0; i < TrendDays; i++ {
		key := w.TrendStart.AddDate(0, 0, i).Format("2006-01-02")
		dates[i] = key
		trendIndex[key] = i
	}

	ranks := make(map[string]*ProductRank)

	for _, sale := range sales {
		if sale.Status != domain.SaleCompleted {
			continue
		}
		at := sale.CreatedAt.In(loc)
		total := sale.NetTotal()

		switch {
		case within(at, w.TodayStart, w.TomorrowStart):
			today.add(total)
			hourly[at.Hour()].add(total)
		case within(at, w.YesterdayStart, w.TodayStart):
			yesterday.add(total)
		}
		switch {
		case within(at, w.ThisWeekStart, w.TomorrowStart):
			thisWeek.add(total)
		case within(at, w.LastWeekStart, w.ThisWeekStart):
			lastWeek.add(total)
		}
		switch {
		case within(at, w.ThisMonthStart, w.TomorrowStart):
			thisMonth.add(total)
		case within(at, w.LastMonthStart, w.ThisMonthStart):
			lastMonth.add(total)
		}

		if !within(at, w.TrendStart, w.TomorrowStart) {
			continue
		}
		if idx, ok := trendIndex[at.Format("2006-01-02")]; ok {
			trend[idx].add(total)
		}
		for _, item := range sale.Items {
			rank, ok := ranks[item.ProductID]
			if !ok {
				rank = &ProductRank{ProductID: item.ProductID, Name: item.ProductName}
				ranks[item.ProductID] = rank
			}
			kept := item.Returnable()
			rank.Quantity = rank.Quantity.Add(kept)
			if item.Quantity.IsPositive() {
				rank.Revenue = rank.Revenue.Add(item.LineTotal.Mul(kept).Div(item.Quantity))
			}
		}
	}

	summary := Summary{
		GeneratedAt: now.In(loc),
		Today:       compare(today, yesterday),
		Week:        compare(thisWeek, lastWeek),
		Month:       compare(thisMonth, lastMonth),
		Hourly:      make([]HourBucket, 24),
		Trend:       make([]DayPoint, TrendDays),
	}
	for hour, acc := range hourly {
		summary.Hourly[hour] = HourBucket{Hour: hour, Revenue: domain.RoundMoney(acc.revenue), Sales: acc.sales}
	}
	for i, acc := range trend {
		summary.Trend[i] = DayPoint{Date: dates[i], Revenue: domain.RoundMoney(acc.revenue), Sales: acc.sales}
	}
	summary.TopProducts = topProducts(ranks, TopProducts)
	return summary
}

func topProducts(ranks map[string]*ProductRank, limit int) []ProductRank {
	out := make([]ProductRank, 0, len(ranks))
	for _, rank := range ranks {
		out = append(out, ProductRank{
			ProductID: rank.ProductID,
			Name:      rank.Name,
			Quantity:  rank.Quantity,
			Revenue:   domain.RoundMoney(rank.Revenue),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Revenue.Equal(out[j].Revenue) {
			return out[i].Revenue.GreaterThan(out[j].Revenue)
		}
		return out[i].ProductID < out[j].ProductID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
