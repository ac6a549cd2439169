package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meshworks/backoffice/internal/activity"
	"github.com/meshworks/backoffice/internal/rbac"
	"github.com/meshworks/backoffice/internal/shared"
	"github.com/meshworks/backoffice/internal/store"
)

// CustomersCollection holds customer records and their ledger arrays.
const CustomersCollection = "customers"

const maxAttempts = 3

// errNoChange marks a mutation that found its effect already present.
var errNoChange = errors.New("ledger: already applied")

// MutationObserver receives one call per completed mutation.
type MutationObserver interface {
	ObserveMutation(scope, op string, err error)
}

// Service applies ledger mutations to customer records.
type Service struct {
	store    store.Store
	activity *activity.Log
	locks    *shared.KeyedLocker
	observer MutationObserver
	logger   *slog.Logger
	clock    func() time.Time
	newID    func() string
}

// NewService builds Service instance.
func NewService(s store.Store, log *activity.Log, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		activity: log,
		locks:    shared.NewKeyedLocker(),
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// WithObserver attaches a mutation observer, typically the metrics registry.
func (s *Service) WithObserver(o MutationObserver) *Service {
	s.observer = o
	return s
}

// WorkInput carries the editable fields of a work order.
type WorkInput struct {
	Name       string   `json:"name" validate:"required,notblank,max=200"`
	Categories []string `json:"category"`
}

func (in WorkInput) validate() (WorkInput, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return in, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Categories = normalizeCategories(in.Categories)
	if len(in.Categories) == 0 {
		return in, shared.Invalid("category", "needs at least one entry")
	}
	return in, nil
}

// MaterialInput describes material used on a work.
type MaterialInput struct {
	WorkID       string          `json:"workId" validate:"required"`
	MaterialName string          `json:"materialName" validate:"required,notblank"`
	Quantity     decimal.Decimal `json:"quantity"`
	Rate         decimal.Decimal `json:"rate"`
	Unit         string          `json:"unit"`
}

func (in MaterialInput) validate() error {
	if err := shared.ValidateStruct(in); err != nil {
		return err
	}
	if !in.Quantity.IsPositive() {
		return shared.Invalid("quantity", "must be greater than 0")
	}
	if !in.Rate.IsPositive() {
		return shared.Invalid("rate", "must be greater than 0")
	}
	_, err := shared.RequireAmount("totalAmount", in.Quantity.Mul(in.Rate))
	return err
}

// PaymentRecordInput opens a payment record for a work.
type PaymentRecordInput struct {
	WorkID      string          `json:"workId" validate:"required"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// InstallmentInput records money received. ClientID, when set, is used as
// the installment id so a repeated submission is applied once.
type InstallmentInput struct {
	ClientID        string          `json:"clientId"`
	InstallmentName string          `json:"installmentName" validate:"required,notblank"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentDate     time.Time       `json:"paymentDate"`
	PaymentMethod   string          `json:"paymentMethod" validate:"required"`
}

func (in InstallmentInput) validate() (PaymentMethod, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return "", err
	}
	if _, err := shared.RequireAmount("amount", in.Amount); err != nil {
		return "", err
	}
	return ParsePaymentMethod(in.PaymentMethod)
}

// ExpenseInput books a cost against a work.
type ExpenseInput struct {
	WorkID      string          `json:"workId" validate:"required"`
	ExpenseName string          `json:"expenseName" validate:"required,notblank"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category" validate:"required"`
	ExpenseDate time.Time       `json:"expenseDate"`
}

// Get loads the full ledger of a customer.
func (s *Service) Get(ctx context.Context, customerID string) (*Ledger, error) {
	if _, err := rbac.RequireView(ctx, rbac.MenuCustomers); err != nil {
		return nil, err
	}
	return s.load(ctx, customerID)
}

// ComputeWorkAnalytics reduces one work into revenue, cost and margin.
func (s *Service) ComputeWorkAnalytics(ctx context.Context, customerID, workID string) (WorkAnalytics, error) {
	l, err := s.Get(ctx, customerID)
	if err != nil {
		return WorkAnalytics{}, err
	}
	return l.Analyze(workID)
}

// CustomerSummary analyses every work of a customer.
func (s *Service) CustomerSummary(ctx context.Context, customerID string) (CustomerSummary, error) {
	l, err := s.Get(ctx, customerID)
	if err != nil {
		return CustomerSummary{}, err
	}
	return l.Summary(), nil
}

// AddWork creates a pending work order.
func (s *Service) AddWork(ctx context.Context, customerID string, in WorkInput) (WorkOrder, error) {
	var out WorkOrder
	err := mutate(ctx, s, customerID, "add_work", func() (WorkInput, error) { return in.validate() }, func(l *Ledger, in WorkInput, id string) error {
		out = WorkOrder{ID: id, Name: in.Name, Category: in.Categories, Status: WorkPending, CreatedDate: s.clock()}
		if _, exists := l.works.get(id); exists {
			out, _ = l.works.get(id)
			return errNoChange
		}
		l.works.insert(id, out)
		return nil
	}, func() string { return fmt.Sprintf("Work %q added", out.Name) })
	return result(out, err)
}

// UpdateWork renames and re-tags a work order.
func (s *Service) UpdateWork(ctx context.Context, customerID, workID string, in WorkInput) (WorkOrder, error) {
	var out WorkOrder
	err := mutate(ctx, s, customerID, "update_work", func() (WorkInput, error) { return in.validate() }, func(l *Ledger, in WorkInput, _ string) error {
		w, ok := l.works.get(workID)
		if !ok {
			return fmt.Errorf("ledger: work %s: %w", workID, shared.ErrNotFound)
		}
		w.Name = in.Name
		w.Category = in.Categories
		l.works.replace(workID, w)
		out = w
		return nil
	}, func() string { return fmt.Sprintf("Work %q updated", out.Name) })
	return result(out, err)
}

// SetWorkStatus moves a work order between Pending, InProgress and Completed.
func (s *Service) SetWorkStatus(ctx context.Context, customerID, workID, status string) (WorkOrder, error) {
	var out WorkOrder
	err := mutate(ctx, s, customerID, "set_work_status", func() (WorkStatus, error) { return ParseWorkStatus(status) }, func(l *Ledger, st WorkStatus, _ string) error {
		w, ok := l.works.get(workID)
		if !ok {
			return fmt.Errorf("ledger: work %s: %w", workID, shared.ErrNotFound)
		}
		w.Status = st
		l.works.replace(workID, w)
		out = w
		return nil
	}, func() string { return fmt.Sprintf("Work %q marked %s", out.Name, out.Status) })
	return result(out, err)
}

// DeleteWork removes a work order. With cascade its materials, payment
// records and expenses go too; without it a work that has any is refused.
func (s *Service) DeleteWork(ctx context.Context, customerID, workID string, cascade bool) error {
	var name string
	return mutate(ctx, s, customerID, "delete_work", noInput, func(l *Ledger, _ struct{}, _ string) error {
		w, _ := l.works.get(workID)
		name = w.Name
		return l.deleteWork(workID, cascade)
	}, func() string { return fmt.Sprintf("Work %q deleted", name) })
}

// AddMaterialConsumption records material used on a work.
func (s *Service) AddMaterialConsumption(ctx context.Context, customerID string, in MaterialInput) (MaterialConsumption, error) {
	var out MaterialConsumption
	err := mutate(ctx, s, customerID, "add_material", func() (MaterialInput, error) { return in, in.validate() }, func(l *Ledger, in MaterialInput, id string) error {
		if err := l.requireWork(in.WorkID); err != nil {
			return err
		}
		if existing, ok := l.materials.get(id); ok {
			out = existing
			return errNoChange
		}
		out = MaterialConsumption{
			ID:           id,
			WorkID:       in.WorkID,
			MaterialName: in.MaterialName,
			Quantity:     in.Quantity,
			Unit:         in.Unit,
			Rate:         in.Rate,
			TotalAmount:  money(in.Quantity.Mul(in.Rate)),
			AddedDate:    s.clock(),
		}
		l.materials.insert(id, out)
		return nil
	}, func() string {
		return fmt.Sprintf("Material %s added: %s x %s = %s", out.MaterialName, out.Quantity, out.Rate.StringFixed(2), out.TotalAmount.StringFixed(2))
	})
	return result(out, err)
}

// UpdateMaterialConsumption edits a material row and recomputes its total.
func (s *Service) UpdateMaterialConsumption(ctx context.Context, customerID, id string, in MaterialInput) (MaterialConsumption, error) {
	var out MaterialConsumption
	err := mutate(ctx, s, customerID, "update_material", func() (MaterialInput, error) { return in, in.validate() }, func(l *Ledger, in MaterialInput, _ string) error {
		m, ok := l.materials.get(id)
		if !ok {
			return fmt.Errorf("ledger: material %s: %w", id, shared.ErrNotFound)
		}
		if err := l.requireWork(in.WorkID); err != nil {
			return err
		}
		m.WorkID = in.WorkID
		m.MaterialName = in.MaterialName
		m.Quantity = in.Quantity
		m.Rate = in.Rate
		m.Unit = in.Unit
		m.TotalAmount = money(in.Quantity.Mul(in.Rate))
		l.materials.replace(id, m)
		out = m
		return nil
	}, func() string { return fmt.Sprintf("Material %s updated", out.MaterialName) })
	return result(out, err)
}

// DeleteMaterialConsumption removes a material row.
func (s *Service) DeleteMaterialConsumption(ctx context.Context, customerID, id string) error {
	var name string
	return mutate(ctx, s, customerID, "delete_material", noInput, func(l *Ledger, _ struct{}, _ string) error {
		m, ok := l.materials.get(id)
		if !ok {
			return fmt.Errorf("ledger: material %s: %w", id, shared.ErrNotFound)
		}
		name = m.MaterialName
		l.materials.remove(id)
		return nil
	}, func() string { return fmt.Sprintf("Material %s removed", name) })
}

// CreatePaymentRecord opens a payment record with no installments.
func (s *Service) CreatePaymentRecord(ctx context.Context, customerID string, in PaymentRecordInput) (PaymentRecord, error) {
	var out PaymentRecord
	check := func() (PaymentRecordInput, error) {
		if err := shared.ValidateStruct(in); err != nil {
			return in, err
		}
		total, err := shared.RequireAmount("totalAmount", in.TotalAmount)
		in.TotalAmount = total
		return in, err
	}
	err := mutate(ctx, s, customerID, "create_payment_record", check, func(l *Ledger, in PaymentRecordInput, id string) error {
		if err := l.requireWork(in.WorkID); err != nil {
			return err
		}
		if existing, ok := l.payments.get(id); ok {
			out = existing
			return errNoChange
		}
		out = PaymentRecord{ID: id, WorkID: in.WorkID, TotalAmount: money(in.TotalAmount), Installments: []Installment{}, CreatedDate: s.clock()}
		l.payments.insert(id, out)
		return nil
	}, func() string { return fmt.Sprintf("Payment record of %s created", out.TotalAmount.StringFixed(2)) })
	return result(out, err)
}

// DeletePaymentRecord removes a payment record and its installments.
func (s *Service) DeletePaymentRecord(ctx context.Context, customerID, id string) error {
	var total decimal.Decimal
	return mutate(ctx, s, customerID, "delete_payment_record", noInput, func(l *Ledger, _ struct{}, _ string) error {
		p, ok := l.payments.get(id)
		if !ok {
			return fmt.Errorf("ledger: payment record %s: %w", id, shared.ErrNotFound)
		}
		total = p.TotalAmount
		l.payments.remove(id)
		return nil
	}, func() string { return fmt.Sprintf("Payment record of %s deleted", total.StringFixed(2)) })
}

// AddInstallment appends a payment to a record. It fails with
// shared.ErrOverpayment, leaving the record unchanged, when the amount
// exceeds what is still owed.
func (s *Service) AddInstallment(ctx context.Context, customerID, recordID string, in InstallmentInput) (PaymentRecord, error) {
	var out PaymentRecord
	var added Installment
	err := mutate(ctx, s, customerID, "add_installment", func() (PaymentMethod, error) { return in.validate() }, func(l *Ledger, method PaymentMethod, id string) error {
		if in.ClientID != "" {
			id = in.ClientID
		}
		added = Installment{
			ID:              id,
			InstallmentName: in.InstallmentName,
			Amount:          money(in.Amount),
			PaymentDate:     in.PaymentDate,
			PaymentMethod:   method,
			AddedDate:       s.clock(),
		}
		if added.PaymentDate.IsZero() {
			added.PaymentDate = added.AddedDate
		}
		rec, changed, err := l.addInstallment(recordID, added)
		if err != nil {
			return err
		}
		out = rec
		if !changed {
			return errNoChange
		}
		return nil
	}, func() string {
		return fmt.Sprintf("Installment %q of %s received via %s", added.InstallmentName, added.Amount.StringFixed(2), added.PaymentMethod)
	})
	return result(out, err)
}

// UpdateInstallment edits an installment in place. The new amount may not
// push the record past its total.
func (s *Service) UpdateInstallment(ctx context.Context, customerID, recordID, installmentID string, in InstallmentInput) (PaymentRecord, error) {
	var out PaymentRecord
	err := mutate(ctx, s, customerID, "update_installment", func() (PaymentMethod, error) { return in.validate() }, func(l *Ledger, method PaymentMethod, _ string) error {
		rec, err := l.updateInstallment(recordID, Installment{
			ID:              installmentID,
			InstallmentName: in.InstallmentName,
			Amount:          money(in.Amount),
			PaymentDate:     in.PaymentDate,
			PaymentMethod:   method,
		})
		if err != nil {
			return err
		}
		out = rec
		return nil
	}, func() string { return fmt.Sprintf("Installment %q updated", in.InstallmentName) })
	return result(out, err)
}

// AddLedgerExpense books a cost against a work.
func (s *Service) AddLedgerExpense(ctx context.Context, customerID string, in ExpenseInput) (Expense, error) {
	var out Expense
	check := func() (ExpenseCategory, error) {
		if err := shared.ValidateStruct(in); err != nil {
			return "", err
		}
		if _, err := shared.RequireAmount("amount", in.Amount); err != nil {
			return "", err
		}
		return ParseExpenseCategory(in.Category)
	}
	err := mutate(ctx, s, customerID, "add_expense", check, func(l *Ledger, cat ExpenseCategory, id string) error {
		if err := l.requireWork(in.WorkID); err != nil {
			return err
		}
		if existing, ok := l.expenses.get(id); ok {
			out = existing
			return errNoChange
		}
		out = Expense{ID: id, WorkID: in.WorkID, ExpenseName: in.ExpenseName, Amount: money(in.Amount), Category: cat, ExpenseDate: in.ExpenseDate}
		if out.ExpenseDate.IsZero() {
			out.ExpenseDate = s.clock()
		}
		l.expenses.insert(id, out)
		return nil
	}, func() string { return fmt.Sprintf("Expense %q of %s added", out.ExpenseName, out.Amount.StringFixed(2)) })
	return result(out, err)
}

// DeleteLedgerExpense removes a work expense.
func (s *Service) DeleteLedgerExpense(ctx context.Context, customerID, id string) error {
	var name string
	return mutate(ctx, s, customerID, "delete_expense", noInput, func(l *Ledger, _ struct{}, _ string) error {
		e, ok := l.expenses.get(id)
		if !ok {
			return fmt.Errorf("ledger: expense %s: %w", id, shared.ErrNotFound)
		}
		name = e.ExpenseName
		l.expenses.remove(id)
		return nil
	}, func() string { return fmt.Sprintf("Expense %q removed", name) })
}

// Finding is one inconsistency spotted by Reconcile.
type Finding struct {
	CustomerID string `json:"customerId"`
	Kind       string `json:"kind"`
	Ref        string `json:"ref"`
}

// Reconcile scans every customer ledger for orphaned rows and overpaid
// records. It only reads and is meant for background jobs.
func (s *Service) Reconcile(ctx context.Context) ([]Finding, error) {
	docs, err := s.store.Query(ctx, CustomersCollection, store.Query{})
	if err != nil {
		return nil, fmt.Errorf("ledger: reconcile: %w", err)
	}
	var findings []Finding
	for _, doc := range docs {
		l, err := FromDocument(doc)
		if err != nil {
			return nil, err
		}
		for _, ref := range l.Orphans() {
			findings = append(findings, Finding{CustomerID: doc.ID, Kind: "orphan", Ref: ref})
		}
		for _, rec := range l.Overpaid() {
			findings = append(findings, Finding{CustomerID: doc.ID, Kind: "overpaid", Ref: fieldPayments + "/" + rec.ID})
		}
	}
	return findings, nil
}

func (s *Service) load(ctx context.Context, customerID string) (*Ledger, error) {
	doc, err := s.store.Get(ctx, CustomersCollection, customerID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load customer %s: %w", customerID, err)
	}
	return FromDocument(doc)
}

func noInput() (struct{}, error) { return struct{}{}, nil }

// mutate runs the gate, input checks, and a read-modify-write of the
// customer document. apply must be a pure function of the loaded ledger: on a
// version conflict it is re-run against a fresh copy with the same new id.
func mutate[In any](ctx context.Context, s *Service, customerID, op string,
	check func() (In, error),
	apply func(l *Ledger, in In, newID string) error,
	describe func() string,
) (err error) {
	defer func() {
		if s.observer != nil {
			s.observer.ObserveMutation("ledger", op, err)
		}
	}()
	if _, err = rbac.RequireEdit(ctx, rbac.MenuCustomers); err != nil {
		return err
	}
	in, err := check()
	if err != nil {
		return fmt.Errorf("ledger: %s: %w", op, err)
	}
	if customerID == "" {
		return fmt.Errorf("ledger: %s: %w", op, shared.Invalid("customerId", "is required"))
	}

	unlock := s.locks.Lock(shared.DocumentLockKey(CustomersCollection, customerID))
	defer unlock()

	id := s.newID()
	skipped := false
	_, err = store.Update(ctx, s.store, CustomersCollection, customerID, maxAttempts, func(doc *store.Document) error {
		l, err := FromDocument(*doc)
		if err != nil {
			return err
		}
		if err := apply(l, in, id); err != nil {
			if errors.Is(err, errNoChange) {
				skipped = true
				return store.ErrSkipWrite
			}
			return err
		}
		skipped = false
		return l.WriteTo(doc)
	})
	if err != nil {
		if errors.Is(err, shared.ErrPersistence) || errors.Is(err, shared.ErrVersionConflict) {
			s.logger.Warn("ledger write failed",
				slog.String("customer", customerID),
				slog.String("op", op),
				slog.Any("error", err))
		}
		return fmt.Errorf("ledger: %s: %w", op, err)
	}
	if !skipped {
		s.activity.Record(ctx, activity.Subject(CustomersCollection, customerID), op, describe())
	}
	return nil
}

func result[T any](v T, err error) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
