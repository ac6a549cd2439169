package dashboard

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// WriteCSV serialises the headline metrics followed by the monthly trend.
func WriteCSV(w io.Writer, s Summary) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"Metric", "Value"}); err != nil {
		return err
	}
	records := [][]string{
		{"As Of", s.AsOf.Format(time.DateOnly)},
		{"Revenue", s.Revenue.StringFixed(2)},
		{"Total Investment", s.TotalInvestment.StringFixed(2)},
		{"Total Expenses", s.TotalExpenses.StringFixed(2)},
		{"Profit/Loss", s.ProfitLoss.StringFixed(2)},
		{"Leads", strconv.Itoa(s.Funnel.Total)},
		{"Converted", strconv.Itoa(s.Funnel.Converted)},
		{"In Progress", strconv.Itoa(s.Funnel.InProgress)},
		{"Pending", strconv.Itoa(s.Funnel.Pending)},
		{"Lost", strconv.Itoa(s.Funnel.Lost)},
		{"Conversion Rate", s.Funnel.ConversionRate.StringFixed(2)},
	}
	for _, record := range records {
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	if err := writer.Write(nil); err != nil {
		return err
	}
	if err := writer.Write([]string{"Month", "Expenses", "Investment", "Total"}); err != nil {
		return err
	}
	for _, p := range s.Trend {
		if err := writer.Write([]string{
			p.Label,
			p.Expenses.StringFixed(2),
			p.Investment.StringFixed(2),
			p.Total.StringFixed(2),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
