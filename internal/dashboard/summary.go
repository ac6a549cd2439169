// Package dashboard reduces leads and business expenses into the figures
// shown on the owner's dashboard.
package dashboard

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meshworks/backoffice/internal/collections"
)

// TrendMonths is the length of the trailing trend window.
const TrendMonths = 6

// Funnel counts leads by stage.
type Funnel struct {
	Total          int             `json:"total"`
	Converted      int             `json:"converted"`
	InProgress     int             `json:"inProgress"`
	Pending        int             `json:"pending"`
	Lost           int             `json:"lost"`
	ConversionRate decimal.Decimal `json:"conversionRate"`
}

// TrendPoint is one calendar month of spending.
type TrendPoint struct {
	Year       int             `json:"year"`
	Month      time.Month      `json:"month"`
	Label      string          `json:"label"`
	Expenses   decimal.Decimal `json:"expenses"`
	Investment decimal.Decimal `json:"investment"`
	Total      decimal.Decimal `json:"total"`
}

// Summary is the full dashboard payload.
type Summary struct {
	AsOf            time.Time       `json:"asOf"`
	Revenue         decimal.Decimal `json:"revenue"`
	TotalInvestment decimal.Decimal `json:"totalInvestment"`
	TotalExpenses   decimal.Decimal `json:"totalExpenses"`
	ProfitLoss      decimal.Decimal `json:"profitLoss"`
	Funnel          Funnel          `json:"funnel"`
	Trend           []TrendPoint    `json:"trend"`
}

// Inputs are the records a summary is computed from.
type Inputs struct {
	Leads    []collections.Lead
	Assets   []collections.ExpenseEntry
	Expenses []collections.ExpenseEntry
}

type monthKey struct {
	year  int
	month time.Month
}

// Build is the pure reduction behind the dashboard. Revenue is the value of
// converted leads; trend buckets are keyed by year and month so the same
// month of different years never merge.
func Build(in Inputs, asOf time.Time) Summary {
	s := Summary{AsOf: asOf}

	for _, l := range in.Leads {
		s.Funnel.Total++
		switch l.Status {
		case collections.LeadConverted:
			s.Funnel.Converted++
			s.Revenue = s.Revenue.Add(l.Amount)
		case collections.LeadLost:
			s.Funnel.Lost++
		case collections.LeadNew:
			s.Funnel.Pending++
		default:
			s.Funnel.InProgress++
		}
	}
	if s.Funnel.Total > 0 {
		s.Funnel.ConversionRate = decimal.NewFromInt(int64(s.Funnel.Converted)).
			Div(decimal.NewFromInt(int64(s.Funnel.Total))).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}

	trend := make([]TrendPoint, TrendMonths)
	index := make(map[monthKey]int, TrendMonths)
	first := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, asOf.Location()).AddDate(0, -(TrendMonths - 1), 0)
	for i := range trend {
		m := first.AddDate(0, i, 0)
		trend[i] = TrendPoint{Year: m.Year(), Month: m.Month(), Label: m.Format("Jan 2006")}
		index[monthKey{m.Year(), m.Month()}] = i
	}
	bucket := func(t time.Time) (int, bool) {
		t = t.In(asOf.Location())
		i, ok := index[monthKey{t.Year(), t.Month()}]
		return i, ok
	}

	for _, a := range in.Assets {
		s.TotalInvestment = s.TotalInvestment.Add(a.Amount)
		if i, ok := bucket(a.Date); ok {
			trend[i].Investment = trend[i].Investment.Add(a.Amount)
		}
	}
	for _, e := range in.Expenses {
		s.TotalExpenses = s.TotalExpenses.Add(e.Amount)
		if i, ok := bucket(e.Date); ok {
			trend[i].Expenses = trend[i].Expenses.Add(e.Amount)
		}
	}
	for i := range trend {
		trend[i].Expenses = trend[i].Expenses.Round(2)
		trend[i].Investment = trend[i].Investment.Round(2)
		trend[i].Total = trend[i].Expenses.Add(trend[i].Investment)
	}
	s.Trend = trend

	s.Revenue = s.Revenue.Round(2)
	s.TotalInvestment = s.TotalInvestment.Round(2)
	s.TotalExpenses = s.TotalExpenses.Round(2)
	s.ProfitLoss = s.Revenue.Sub(s.TotalInvestment).Sub(s.TotalExpenses)
	return s
}
