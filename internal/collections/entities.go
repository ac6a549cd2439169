package collections

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LeadStatus is the position of a lead in the sales funnel.
type LeadStatus string

const (
	LeadNew        LeadStatus = "New"
	LeadContacted  LeadStatus = "Contacted"
	LeadFollowUp   LeadStatus = "FollowUp"
	LeadQuoted     LeadStatus = "Quoted"
	LeadInProgress LeadStatus = "InProgress"
	LeadConverted  LeadStatus = "Converted"
	LeadLost       LeadStatus = "Lost"
)

// Lead is a prospective job.
type Lead struct {
	Base
	Name    string          `json:"name" validate:"required,notblank,max=200"`
	Phone   string          `json:"phone" validate:"required,notblank,max=20"`
	Address string          `json:"address"`
	Service string          `json:"service"`
	Status  LeadStatus      `json:"status" validate:"required,oneof=New Contacted FollowUp Quoted InProgress Converted Lost"`
	Source  string          `json:"source"`
	Amount  decimal.Decimal `json:"amount"`
	Notes   string          `json:"notes,omitempty"`
}

func (l *Lead) searchText() string {
	return strings.Join([]string{l.Name, l.Phone, l.Address, l.Service, l.Source}, " ")
}

// Customer is a client with a work ledger. The ledger arrays live on the
// same record and are managed by the ledger package.
type Customer struct {
	Base
	Name    string `json:"name" validate:"required,notblank,max=200"`
	Phone   string `json:"phone" validate:"required,notblank,max=20"`
	Email   string `json:"email,omitempty" validate:"omitempty,email"`
	Address string `json:"address"`
	LeadID  string `json:"leadId,omitempty"`
}

func (c *Customer) searchText() string {
	return strings.Join([]string{c.Name, c.Phone, c.Email, c.Address}, " ")
}

// Employee is a member of staff. Advances live on the same record.
type Employee struct {
	Base
	Name          string          `json:"name" validate:"required,notblank,max=200"`
	Phone         string          `json:"phone"`
	Role          string          `json:"role"`
	MonthlySalary decimal.Decimal `json:"monthlySalary"`
	JoinedAt      time.Time       `json:"joinedAt"`
}

func (e *Employee) searchText() string { return e.Name + " " + e.Phone + " " + e.Role }

// Material is a stock item with its current rate.
type Material struct {
	Base
	Name  string          `json:"name" validate:"required,notblank"`
	Unit  string          `json:"unit" validate:"required,notblank"`
	Rate  decimal.Decimal `json:"rate"`
	Stock decimal.Decimal `json:"stock"`
}

func (m *Material) searchText() string { return m.Name }

// InvoiceItem is one billed line.
type InvoiceItem struct {
	Description string          `json:"description" validate:"required,notblank"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
}

// Invoice bills a customer. Line amounts and totals are derived.
type Invoice struct {
	Base
	Number       string          `json:"number" validate:"required,notblank"`
	CustomerID   string          `json:"customerId,omitempty"`
	CustomerName string          `json:"customerName" validate:"required,notblank"`
	Items        []InvoiceItem   `json:"items" validate:"required,min=1,dive"`
	GSTRate      decimal.Decimal `json:"gstRate"`
	Date         time.Time       `json:"date"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	GST          decimal.Decimal `json:"gst"`
	Total        decimal.Decimal `json:"total"`
}

var hundred = decimal.NewFromInt(100)

func (inv *Invoice) derive() {
	subtotal := decimal.Zero
	for i := range inv.Items {
		inv.Items[i].Amount = inv.Items[i].Quantity.Mul(inv.Items[i].Rate).Round(2)
		subtotal = subtotal.Add(inv.Items[i].Amount)
	}
	inv.Subtotal = subtotal.Round(2)
	inv.GST = subtotal.Mul(inv.GSTRate).Div(hundred).Round(2)
	inv.Total = inv.Subtotal.Add(inv.GST)
}

func (inv *Invoice) searchText() string { return inv.Number + " " + inv.CustomerName }

// Payroll is one month's pay for an employee. NetPay is derived.
type Payroll struct {
	Base
	EmployeeID      string          `json:"employeeId" validate:"required"`
	EmployeeName    string          `json:"employeeName"`
	Month           string          `json:"month" validate:"required,datetime=2006-01"`
	BaseSalary      decimal.Decimal `json:"baseSalary"`
	Allowances      decimal.Decimal `json:"allowances"`
	Deductions      decimal.Decimal `json:"deductions"`
	AdvanceRecovery decimal.Decimal `json:"advanceRecovery"`
	NetPay          decimal.Decimal `json:"netPay"`
	PaidOn          time.Time       `json:"paidOn,omitempty"`
}

func (p *Payroll) derive() {
	p.NetPay = p.BaseSalary.Add(p.Allowances).Sub(p.Deductions).Sub(p.AdvanceRecovery).Round(2)
}

func (p *Payroll) searchText() string { return p.EmployeeName + " " + p.Month }

// ExpenseKind separates running costs from asset purchases.
type ExpenseKind string

const (
	ExpenseDaily   ExpenseKind = "Daily"
	ExpenseMonthly ExpenseKind = "Monthly"
	ExpenseAsset   ExpenseKind = "Asset"
)

// ExpenseEntry is a business-wide expense or investment, separate from the
// per-work expenses of the customer ledger.
type ExpenseEntry struct {
	Base
	Title    string          `json:"title" validate:"required,notblank"`
	Amount   decimal.Decimal `json:"amount"`
	Category string          `json:"category"`
	Kind     ExpenseKind     `json:"kind" validate:"required,oneof=Daily Monthly Asset"`
	Date     time.Time       `json:"date"`
}

func (e *ExpenseEntry) searchText() string { return e.Title + " " + e.Category }

// QRCode is a stored payment or contact code.
type QRCode struct {
	Base
	Label   string `json:"label" validate:"required,notblank"`
	Payload string `json:"payload" validate:"required,notblank,max=2048"`
}

func (q *QRCode) searchText() string { return q.Label }
