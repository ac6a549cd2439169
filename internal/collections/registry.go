package collections

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meshworks/backoffice/internal/activity"
	"github.com/meshworks/backoffice/internal/rbac"
	"github.com/meshworks/backoffice/internal/shared"
	"github.com/meshworks/backoffice/internal/store"
)

// Store collection names.
const (
	LeadsCollection     = "leads"
	CustomersCollection = "customers"
	EmployeesCollection = "employees"
	MaterialsCollection = "materials"
	InvoicesCollection  = "invoices"
	PayrollCollection   = "payroll"
	ExpensesCollection  = "expenses"
	QRCodesCollection   = "qrcodes"
)

// AdvanceBook is the part of the advance ledger payroll depends on.
type AdvanceBook interface {
	Outstanding(ctx context.Context, employeeID string) (decimal.Decimal, error)
	Recover(ctx context.Context, employeeID, ref string, amount decimal.Decimal, date time.Time) error
}

// Registry wires every entity collection with its rules.
type Registry struct {
	Leads     *Collection[Lead, *Lead]
	Customers *Collection[Customer, *Customer]
	Employees *Collection[Employee, *Employee]
	Materials *Collection[Material, *Material]
	Invoices  *Collection[Invoice, *Invoice]
	Payroll   *Collection[Payroll, *Payroll]
	Expenses  *Collection[ExpenseEntry, *ExpenseEntry]
	QRCodes   *Collection[QRCode, *QRCode]

	advances AdvanceBook
	logger   *slog.Logger
}

// NewRegistry builds the collections over one store.
func NewRegistry(s store.Store, log *activity.Log, logger *slog.Logger, advances AdvanceBook) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	reg := &Registry{advances: advances, logger: logger}

	reg.Leads = New[Lead](LeadsCollection, rbac.MenuLeads, s, log, logger).
		WithHooks(Hooks[Lead]{
			BeforeSave: func(_ context.Context, l, _ *Lead) error {
				return nonNegative("amount", l.Amount)
			},
			Describe: describeLead,
		}).
		SortBy("name", func(a, b *Lead) int { return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)) }).
		SortBy("amount", func(a, b *Lead) int { return a.Amount.Cmp(b.Amount) }).
		SortBy("status", func(a, b *Lead) int { return strings.Compare(string(a.Status), string(b.Status)) })

	reg.Customers = New[Customer](CustomersCollection, rbac.MenuCustomers, s, log, logger).
		WithHooks(Hooks[Customer]{Describe: func(action string, c, _ *Customer) string {
			return fmt.Sprintf("Customer %s %s", c.Name, action)
		}}).
		SortBy("name", func(a, b *Customer) int { return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)) })

	reg.Employees = New[Employee](EmployeesCollection, rbac.MenuEmployees, s, log, logger).
		WithHooks(Hooks[Employee]{BeforeSave: func(_ context.Context, e, _ *Employee) error {
			return nonNegative("monthlySalary", e.MonthlySalary)
		}}).
		SortBy("name", func(a, b *Employee) int { return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)) })

	reg.Materials = New[Material](MaterialsCollection, rbac.MenuMaterials, s, log, logger).
		WithHooks(Hooks[Material]{BeforeSave: func(_ context.Context, m, _ *Material) error {
			if err := nonNegative("rate", m.Rate); err != nil {
				return err
			}
			return nonNegative("stock", m.Stock)
		}}).
		SortBy("name", func(a, b *Material) int { return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)) })

	reg.Invoices = New[Invoice](InvoicesCollection, rbac.MenuInvoices, s, log, logger).
		WithHooks(Hooks[Invoice]{
			BeforeSave: validateInvoice,
			Describe: func(action string, inv, _ *Invoice) string {
				return fmt.Sprintf("Invoice %s %s for %s", inv.Number, action, inv.Total.StringFixed(2))
			},
		}).
		SortBy("date", func(a, b *Invoice) int { return a.Date.Compare(b.Date) }).
		SortBy("number", func(a, b *Invoice) int { return strings.Compare(a.Number, b.Number) }).
		SortBy("total", func(a, b *Invoice) int { return a.Total.Cmp(b.Total) })

	reg.Payroll = New[Payroll](PayrollCollection, rbac.MenuPayroll, s, log, logger).
		WithHooks(Hooks[Payroll]{
			BeforeSave: func(ctx context.Context, p, old *Payroll) error { return reg.validatePayroll(ctx, s, p, old) },
			AfterSave:  reg.recoverAdvance,
			Describe: func(action string, p, _ *Payroll) string {
				return fmt.Sprintf("Payroll %s for %s %s: net %s", p.Month, p.EmployeeName, action, p.NetPay.StringFixed(2))
			},
		}).
		SortBy("month", func(a, b *Payroll) int { return strings.Compare(a.Month, b.Month) })

	reg.Expenses = New[ExpenseEntry](ExpensesCollection, rbac.MenuExpenses, s, log, logger).
		WithHooks(Hooks[ExpenseEntry]{BeforeSave: func(_ context.Context, e, _ *ExpenseEntry) error {
			if !e.Amount.IsPositive() {
				return shared.Invalid("amount", "must be greater than 0")
			}
			return nil
		}}).
		SortBy("date", func(a, b *ExpenseEntry) int { return a.Date.Compare(b.Date) }).
		SortBy("amount", func(a, b *ExpenseEntry) int { return a.Amount.Cmp(b.Amount) })

	reg.QRCodes = New[QRCode](QRCodesCollection, rbac.MenuQRCodes, s, log, logger).
		SortBy("label", func(a, b *QRCode) int { return strings.Compare(strings.ToLower(a.Label), strings.ToLower(b.Label)) })

	return reg
}

// OnDashboardInputChange registers fn on every collection the dashboard
// summarises.
func (reg *Registry) OnDashboardInputChange(fn func(ctx context.Context)) {
	reg.Leads.OnChange(fn)
	reg.Expenses.OnChange(fn)
}

func describeLead(action string, l, old *Lead) string {
	if action == "updated" && old != nil && old.Status != l.Status {
		return fmt.Sprintf("Status changed: %s -> %s", old.Status, l.Status)
	}
	return fmt.Sprintf("Lead %s %s", l.Name, action)
}

func nonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return shared.Invalid(field, "must not be negative")
	}
	return nil
}

func validateInvoice(_ context.Context, inv, _ *Invoice) error {
	if inv.GSTRate.IsNegative() || inv.GSTRate.GreaterThan(hundred) {
		return shared.Invalid("gstRate", "must be between 0 and 100")
	}
	for i, item := range inv.Items {
		if !item.Quantity.IsPositive() {
			return shared.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than 0")
		}
		if item.Rate.IsNegative() {
			return shared.Invalid(fmt.Sprintf("items[%d].rate", i), "must not be negative")
		}
	}
	return nil
}

// validatePayroll checks amounts, resolves the employee and bounds the
// advance recovery by what the employee still owes. Recovery is fixed once
// the payroll entry exists.
func (reg *Registry) validatePayroll(ctx context.Context, s store.Store, p, old *Payroll) error {
	for field, v := range map[string]decimal.Decimal{
		"baseSalary":      p.BaseSalary,
		"allowances":      p.Allowances,
		"deductions":      p.Deductions,
		"advanceRecovery": p.AdvanceRecovery,
	} {
		if err := nonNegative(field, v); err != nil {
			return err
		}
	}
	if p.NetPay.IsNegative() {
		return shared.Invalid("netPay", "must not be negative")
	}

	emp, err := s.Get(ctx, EmployeesCollection, p.EmployeeID)
	if err != nil {
		return fmt.Errorf("employee %s: %w", p.EmployeeID, err)
	}
	var name string
	if _, err := emp.Field("name", &name); err != nil {
		return err
	}
	p.EmployeeName = name

	if old != nil {
		if !p.AdvanceRecovery.Equal(old.AdvanceRecovery) || p.EmployeeID != old.EmployeeID {
			return shared.Invalid("advanceRecovery", "cannot change once payroll is recorded")
		}
		return nil
	}
	if !p.AdvanceRecovery.IsPositive() {
		return nil
	}
	if reg.advances == nil {
		return shared.Invalid("advanceRecovery", "advance ledger unavailable")
	}
	outstanding, err := reg.advances.Outstanding(ctx, p.EmployeeID)
	if err != nil {
		return err
	}
	if p.AdvanceRecovery.GreaterThan(outstanding) {
		return fmt.Errorf("recovery %s exceeds outstanding advances %s: %w",
			p.AdvanceRecovery.StringFixed(2), outstanding.StringFixed(2), shared.ErrOverpayment)
	}
	return nil
}

// recoverAdvance books the recovery on the advance ledger once the payroll
// entry is stored. The payroll id keys the installments, so a re-run is safe.
// A failure undoes the payroll entry so NetPay never shows a deduction the
// advance ledger lacks.
func (reg *Registry) recoverAdvance(ctx context.Context, p, old *Payroll) error {
	if old != nil || reg.advances == nil || !p.AdvanceRecovery.IsPositive() {
		return nil
	}
	date := p.PaidOn
	if date.IsZero() {
		date = p.CreatedAt
	}
	if err := reg.advances.Recover(ctx, p.EmployeeID, p.ID, p.AdvanceRecovery, date); err != nil {
		reg.logger.Error("payroll advance recovery failed",
			slog.String("payroll", p.ID),
			slog.String("employee", p.EmployeeID),
			slog.Any("error", err))
		return err
	}
	return nil
}
