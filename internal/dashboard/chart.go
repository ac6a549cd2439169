package dashboard

import (
	"errors"
	"fmt"
	"html"
	"io"
	"math"
	"strings"
)

const (
	chartWidth   = 720
	chartHeight  = 240
	chartPadding = 32.0
	chartTicks   = 5

	axisColor       = "#475569"
	gridColor       = "#cbd5f5"
	expenseColor    = "#f97316"
	investmentColor = "#0ea5e9"
	totalColor      = "#1e293b"
)

// WriteTrendSVG draws the monthly trend as grouped expense and investment
// bars with the combined total as a line on top.
func WriteTrendSVG(w io.Writer, trend []TrendPoint) error {
	if len(trend) == 0 {
		return errors.New("dashboard: trend is empty")
	}
	expenses := make([]float64, len(trend))
	investment := make([]float64, len(trend))
	totals := make([]float64, len(trend))
	maxVal := 0.0
	for i, p := range trend {
		expenses[i] = p.Expenses.InexactFloat64()
		investment[i] = p.Investment.InexactFloat64()
		totals[i] = p.Total.InexactFloat64()
		maxVal = math.Max(maxVal, math.Max(totals[i], math.Max(expenses[i], investment[i])))
	}
	if maxVal <= 0 {
		maxVal = 1
	}

	plotW := chartWidth - 2*chartPadding
	plotH := chartHeight - 2*chartPadding
	bottom := chartPadding + plotH
	scale := plotH / maxVal
	group := plotW / float64(len(trend))
	bar := group / 3

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" role="img" aria-labelledby="trend-title">`, chartWidth, chartHeight)
	b.WriteString(`<title id="trend-title">Monthly expenses and investment</title>`)

	for i := 0; i <= chartTicks; i++ {
		ratio := float64(i) / chartTicks
		y := bottom - ratio*plotH
		fmt.Fprintf(&b, `<line x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke="%s" stroke-width="0.5" stroke-dasharray="2,4"></line>`,
			chartPadding, y, chartPadding+plotW, y, gridColor)
		fmt.Fprintf(&b, `<text x="%.2f" y="%.2f" fill="%s" font-size="10" text-anchor="end">%s</text>`,
			chartPadding-6, y+4, axisColor, formatTick(maxVal*ratio))
	}
	fmt.Fprintf(&b, `<line x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke="%s"></line>`, chartPadding, bottom, chartPadding+plotW, bottom, axisColor)

	var line strings.Builder
	for i, p := range trend {
		x := chartPadding + float64(i)*group
		label := html.EscapeString(p.Label)
		fmt.Fprintf(&b, `<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" fill="%s" aria-label="Expenses %s"></rect>`,
			x+bar*0.3, bottom-expenses[i]*scale, bar, expenses[i]*scale, expenseColor, label)
		fmt.Fprintf(&b, `<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" fill="%s" aria-label="Investment %s"></rect>`,
			x+bar*1.4, bottom-investment[i]*scale, bar, investment[i]*scale, investmentColor, label)
		center := x + group/2
		fmt.Fprintf(&b, `<text x="%.2f" y="%.2f" fill="%s" font-size="10" text-anchor="middle">%s</text>`, center, bottom+14, axisColor, label)

		cmd := "L"
		if i == 0 {
			cmd = "M"
		}
		fmt.Fprintf(&line, "%s%.2f %.2f ", cmd, center, bottom-totals[i]*scale)
	}
	fmt.Fprintf(&b, `<path d="%s" fill="none" stroke="%s" stroke-width="2" stroke-linejoin="round"></path>`, strings.TrimSpace(line.String()), totalColor)

	legend := []struct{ color, name string }{{expenseColor, "Expenses"}, {investmentColor, "Investment"}, {totalColor, "Total"}}
	for i, l := range legend {
		x := chartPadding + float64(i)*90
		fmt.Fprintf(&b, `<rect x="%.2f" y="8" width="10" height="10" fill="%s"></rect>`, x, l.color)
		fmt.Fprintf(&b, `<text x="%.2f" y="17" fill="%s" font-size="10">%s</text>`, x+14, axisColor, l.name)
	}
	b.WriteString("</svg>")

	_, err := io.WriteString(w, b.String())
	return err
}

func formatTick(v float64) string {
	switch abs := math.Abs(v); {
	case abs >= 10_000_000:
		return fmt.Sprintf("%.1fCr", v/10_000_000)
	case abs >= 100_000:
		return fmt.Sprintf("%.1fL", v/100_000)
	case abs >= 1_000:
		return fmt.Sprintf("%.1fk", v/1_000)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
