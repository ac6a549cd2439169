// Package ledger maintains the per-customer work ledger: works, material
// consumption, payment records with their installments, and work expenses,
// plus the profit/loss analytics derived from them.
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meshworks/backoffice/internal/shared"
)

// WorkStatus tracks the progress of a work order.
type WorkStatus string

const (
	WorkPending    WorkStatus = "Pending"
	WorkInProgress WorkStatus = "InProgress"
	WorkCompleted  WorkStatus = "Completed"
)

// PaymentMethod enumerates how an installment was paid.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "Cash"
	PaymentUPI          PaymentMethod = "UPI"
	PaymentBankTransfer PaymentMethod = "BankTransfer"
	PaymentCheque       PaymentMethod = "Cheque"
	PaymentCard         PaymentMethod = "Card"
)

// ExpenseCategory groups work expenses.
type ExpenseCategory string

const (
	ExpenseLabor     ExpenseCategory = "Labor"
	ExpenseTransport ExpenseCategory = "Transport"
	ExpenseTools     ExpenseCategory = "Tools"
	ExpenseOther     ExpenseCategory = "Other"
)

// WorkOrder is a unit of service work owned by one customer.
type WorkOrder struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Category    []string   `json:"category"`
	Status      WorkStatus `json:"status"`
	CreatedDate time.Time  `json:"createdDate"`
}

// MaterialConsumption records material used on a work. TotalAmount is a cache
// of Quantity x Rate and is recomputed whenever the row is loaded or edited.
type MaterialConsumption struct {
	ID           string          `json:"id"`
	WorkID       string          `json:"workId"`
	MaterialName string          `json:"materialName"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
	Rate         decimal.Decimal `json:"rate"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	AddedDate    time.Time       `json:"addedDate"`
}

// Installment is a partial payment against a payment record.
type Installment struct {
	ID              string          `json:"id"`
	InstallmentName string          `json:"installmentName"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentDate     time.Time       `json:"paymentDate"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	AddedDate       time.Time       `json:"addedDate"`
}

// PaymentRecord is the contracted amount for a work and the installments paid
// against it, in the order they were added.
type PaymentRecord struct {
	ID           string          `json:"id"`
	WorkID       string          `json:"workId"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	Installments []Installment   `json:"installments"`
	CreatedDate  time.Time       `json:"createdDate"`
}

// Paid sums the installments.
func (r PaymentRecord) Paid() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range r.Installments {
		total = total.Add(inst.Amount)
	}
	return total
}

// Remaining is the amount still collectable on the record.
func (r PaymentRecord) Remaining() decimal.Decimal {
	return r.TotalAmount.Sub(r.Paid())
}

// Expense is a cost booked against a work, distinct from the business-wide
// expense register.
type Expense struct {
	ID          string          `json:"id"`
	WorkID      string          `json:"workId"`
	ExpenseName string          `json:"expenseName"`
	Amount      decimal.Decimal `json:"amount"`
	Category    ExpenseCategory `json:"category"`
	ExpenseDate time.Time       `json:"expenseDate"`
}

// WorkAnalytics is the revenue/cost/profit reduction for one work.
type WorkAnalytics struct {
	WorkID          string          `json:"workId"`
	TotalRevenue    decimal.Decimal `json:"totalRevenue"`
	TotalPaid       decimal.Decimal `json:"totalPaid"`
	TotalPending    decimal.Decimal `json:"totalPending"`
	MaterialCost    decimal.Decimal `json:"materialCost"`
	ExpenseCost     decimal.Decimal `json:"expenseCost"`
	TotalInvestment decimal.Decimal `json:"totalInvestment"`
	ProfitLoss      decimal.Decimal `json:"profitLoss"`
	ProfitMargin    decimal.Decimal `json:"profitMargin"`
}

// CustomerSummary aggregates the analytics of every work of a customer.
type CustomerSummary struct {
	CustomerID string          `json:"customerId"`
	Works      []WorkAnalytics `json:"works"`
	Totals     WorkAnalytics   `json:"totals"`
}

// ParseWorkStatus accepts the canonical names case-insensitively.
func ParseWorkStatus(raw string) (WorkStatus, error) {
	switch normalizeEnum(raw) {
	case "pending":
		return WorkPending, nil
	case "inprogress":
		return WorkInProgress, nil
	case "completed":
		return WorkCompleted, nil
	}
	return "", shared.Invalid("status", "must be one of Pending, InProgress, Completed")
}

// ParsePaymentMethod accepts the canonical names case-insensitively.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch normalizeEnum(raw) {
	case "cash":
		return PaymentCash, nil
	case "upi":
		return PaymentUPI, nil
	case "banktransfer":
		return PaymentBankTransfer, nil
	case "cheque", "check":
		return PaymentCheque, nil
	case "card":
		return PaymentCard, nil
	}
	return "", shared.Invalid("paymentMethod", "must be one of Cash, UPI, BankTransfer, Cheque, Card")
}

// ParseExpenseCategory accepts the canonical names case-insensitively.
func ParseExpenseCategory(raw string) (ExpenseCategory, error) {
	switch normalizeEnum(raw) {
	case "labor", "labour":
		return ExpenseLabor, nil
	case "transport":
		return ExpenseTransport, nil
	case "tools":
		return ExpenseTools, nil
	case "other":
		return ExpenseOther, nil
	}
	return "", shared.Invalid("category", "must be one of Labor, Transport, Tools, Other")
}

func normalizeEnum(raw string) string {
	r := strings.NewReplacer(" ", "", "_", "", "-", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(raw)))
}

// money rounds to two decimal places.
func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
