package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meshworks/backoffice/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// Analyze reduces the rows of one work into its revenue and profit figures.
func (l *Ledger) Analyze(workID string) (WorkAnalytics, error) {
	if _, ok := l.works.get(workID); !ok {
		return WorkAnalytics{}, fmt.Errorf("ledger: analytics for work %s: %w", workID, shared.ErrNotFound)
	}
	a := WorkAnalytics{WorkID: workID}
	for _, p := range l.payments.forWork(workID) {
		a.TotalRevenue = a.TotalRevenue.Add(p.TotalAmount)
		a.TotalPaid = a.TotalPaid.Add(p.Paid())
	}
	for _, m := range l.materials.forWork(workID) {
		a.MaterialCost = a.MaterialCost.Add(m.TotalAmount)
	}
	for _, e := range l.expenses.forWork(workID) {
		a.ExpenseCost = a.ExpenseCost.Add(e.Amount)
	}
	return finalize(a), nil
}

// Summary analyses every work and totals them.
func (l *Ledger) Summary() CustomerSummary {
	out := CustomerSummary{CustomerID: l.CustomerID, Works: []WorkAnalytics{}}
	var totals WorkAnalytics
	for _, w := range l.works.all() {
		a, err := l.Analyze(w.ID)
		if err != nil {
			continue
		}
		out.Works = append(out.Works, a)
		totals.TotalRevenue = totals.TotalRevenue.Add(a.TotalRevenue)
		totals.TotalPaid = totals.TotalPaid.Add(a.TotalPaid)
		totals.MaterialCost = totals.MaterialCost.Add(a.MaterialCost)
		totals.ExpenseCost = totals.ExpenseCost.Add(a.ExpenseCost)
	}
	out.Totals = finalize(totals)
	return out
}

func finalize(a WorkAnalytics) WorkAnalytics {
	a.TotalPending = a.TotalRevenue.Sub(a.TotalPaid)
	a.TotalInvestment = a.MaterialCost.Add(a.ExpenseCost)
	a.ProfitLoss = a.TotalPaid.Sub(a.TotalInvestment)
	if a.TotalRevenue.IsPositive() {
		a.ProfitMargin = a.ProfitLoss.Div(a.TotalRevenue).Mul(hundred).Round(2)
	} else {
		a.ProfitMargin = decimal.Zero
	}
	a.TotalRevenue = money(a.TotalRevenue)
	a.TotalPaid = money(a.TotalPaid)
	a.TotalPending = money(a.TotalPending)
	a.MaterialCost = money(a.MaterialCost)
	a.ExpenseCost = money(a.ExpenseCost)
	a.TotalInvestment = money(a.TotalInvestment)
	a.ProfitLoss = money(a.ProfitLoss)
	return a
}
