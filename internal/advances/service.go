package advances

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meshworks/backoffice/internal/activity"
	"github.com/meshworks/backoffice/internal/rbac"
	"github.com/meshworks/backoffice/internal/shared"
	"github.com/meshworks/backoffice/internal/store"
)

const (
	// EmployeesCollection holds employee records; advances live in one field.
	EmployeesCollection = "employees"
	advancesField       = "advances"
	maxAttempts         = 3
)

var errApplied = errors.New("advances: already applied")

// MutationObserver receives one call per attempted write.
type MutationObserver interface {
	ObserveMutation(scope, op string, err error)
}

// Service manages the advance ledger of each employee.
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

// WithObserver attaches a mutation observer.
func (s *Service) WithObserver(o MutationObserver) *Service {
	s.observer = o
	return s
}

// AdvanceInput opens an advance.
type AdvanceInput struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"required,notblank,max=500"`
	Date   time.Time       `json:"date"`
}

// InstallmentInput records a repayment.
type InstallmentInput struct {
	ClientID       string          `json:"clientId"`
	ReturnedAmount decimal.Decimal `json:"returnedAmount"`
	Date           time.Time       `json:"date"`
}

// List returns the employee's advances in the order they were given.
func (s *Service) List(ctx context.Context, employeeID string) ([]Balance, error) {
	if _, err := rbac.RequireView(ctx, rbac.MenuEmployees); err != nil {
		return nil, err
	}
	list, _, err := s.load(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(list))
	for _, a := range list {
		out = append(out, balanceOf(a))
	}
	return out, nil
}

// Outstanding sums the remaining balance of every open advance. Payroll
// users may read it without access to the employee screens.
func (s *Service) Outstanding(ctx context.Context, employeeID string) (decimal.Decimal, error) {
	p, ok := rbac.PrincipalFromContext(ctx)
	if !ok || !(p.CanView(rbac.MenuEmployees) || p.CanView(rbac.MenuPayroll)) {
		return decimal.Zero, fmt.Errorf("advances: outstanding for %s: %w", employeeID, shared.ErrPermissionDenied)
	}
	list, _, err := s.load(ctx, employeeID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range list {
		total = total.Add(a.Remaining())
	}
	return total.Round(2), nil
}

// AddAdvance records money given to an employee.
func (s *Service) AddAdvance(ctx context.Context, employeeID string, in AdvanceInput) (Balance, error) {
	if _, err := rbac.RequireEdit(ctx, rbac.MenuEmployees); err != nil {
		return Balance{}, err
	}
	if err := shared.ValidateStruct(in); err != nil {
		return Balance{}, fmt.Errorf("advances: add: %w", err)
	}
	amount, err := shared.RequireAmount("amount", in.Amount)
	if err != nil {
		return Balance{}, fmt.Errorf("advances: add: %w", err)
	}
	reason := strings.TrimSpace(in.Reason)
	id := s.newID()
	var out Advance
	skipped, err := s.update(ctx, "add_advance", employeeID, func(list []Advance) ([]Advance, error) {
		for _, a := range list {
			if a.ID == id {
				out = a
				return nil, errApplied
			}
		}
		out = Advance{ID: id, Amount: amount, Reason: reason, Date: in.Date, Installments: []Installment{}}
		if out.Date.IsZero() {
			out.Date = s.clock()
		}
		return append(list, out), nil
	})
	if err != nil {
		return Balance{}, fmt.Errorf("advances: add: %w", err)
	}
	if !skipped {
		s.activity.Record(ctx, activity.Subject(EmployeesCollection, employeeID), "add_advance",
			fmt.Sprintf("Advance of %s given: %s", out.Amount.StringFixed(2), out.Reason))
	}
	return balanceOf(out), nil
}

// AddInstallment records a repayment. Amounts above the remaining balance,
// including any amount on a cleared advance, fail with shared.ErrOverpayment.
func (s *Service) AddInstallment(ctx context.Context, employeeID, advanceID string, in InstallmentInput) (Balance, error) {
	if _, err := rbac.RequireEdit(ctx, rbac.MenuEmployees); err != nil {
		return Balance{}, err
	}
	returned, err := shared.RequireAmount("returnedAmount", in.ReturnedAmount)
	if err != nil {
		return Balance{}, fmt.Errorf("advances: installment: %w", err)
	}
	id := in.ClientID
	if id == "" {
		id = s.newID()
	}
	var out Advance
	skipped, err := s.update(ctx, "advance_installment", employeeID, func(list []Advance) ([]Advance, error) {
		idx := indexOf(list, advanceID)
		if idx < 0 {
			return nil, fmt.Errorf("advance %s: %w", advanceID, shared.ErrNotFound)
		}
		a := list[idx]
		if a.hasInstallment(id) {
			out = a
			return nil, errApplied
		}
		if remaining := a.Remaining(); returned.GreaterThan(remaining) {
			return nil, fmt.Errorf("returned %s exceeds remaining %s: %w",
				returned.StringFixed(2), remaining.StringFixed(2), shared.ErrOverpayment)
		}
		inst := Installment{ID: id, ReturnedAmount: returned, Date: in.Date, AddedDate: s.clock()}
		if inst.Date.IsZero() {
			inst.Date = inst.AddedDate
		}
		a.Installments = append(append([]Installment(nil), a.Installments...), inst)
		list[idx] = a
		out = a
		return list, nil
	})
	if err != nil {
		return Balance{}, fmt.Errorf("advances: installment: %w", err)
	}
	if !skipped {
		s.activity.Record(ctx, activity.Subject(EmployeesCollection, employeeID), "advance_installment",
			fmt.Sprintf("Returned %s against advance %q, %s remaining", returned.StringFixed(2), out.Reason, out.Remaining().StringFixed(2)))
	}
	return balanceOf(out), nil
}

// DeleteAdvance removes an advance and its installment history. Without
// confirm nothing is written and the preview is returned together with
// shared.ErrConfirmationRequired.
func (s *Service) DeleteAdvance(ctx context.Context, employeeID, advanceID string, confirm bool) (DeletePreview, error) {
	if _, err := rbac.RequireEdit(ctx, rbac.MenuEmployees); err != nil {
		return DeletePreview{}, err
	}
	var preview DeletePreview
	_, err := s.update(ctx, "delete_advance", employeeID, func(list []Advance) ([]Advance, error) {
		idx := indexOf(list, advanceID)
		if idx < 0 {
			return nil, fmt.Errorf("advance %s: %w", advanceID, shared.ErrNotFound)
		}
		a := list[idx]
		preview = DeletePreview{
			AdvanceID:     a.ID,
			Amount:        a.Amount,
			Reason:        a.Reason,
			Installments:  len(a.Installments),
			TotalReturned: a.TotalReturned(),
		}
		if !confirm {
			return nil, shared.ErrConfirmationRequired
		}
		return append(list[:idx:idx], list[idx+1:]...), nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrConfirmationRequired) {
			return preview, fmt.Errorf("advances: delete %s: %w", advanceID, err)
		}
		return DeletePreview{}, fmt.Errorf("advances: delete: %w", err)
	}
	s.activity.Record(ctx, activity.Subject(EmployeesCollection, employeeID), "delete_advance",
		fmt.Sprintf("Advance of %s (%s) deleted with %d installments", preview.Amount.StringFixed(2), preview.Reason, preview.Installments))
	return preview, nil
}

// Recover applies a payroll deduction to the employee's open advances,
// oldest first. ref identifies the payroll run; applying the same ref twice
// has no further effect.
func (s *Service) Recover(ctx context.Context, employeeID, ref string, amount decimal.Decimal, date time.Time) error {
	if _, err := rbac.RequireEdit(ctx, rbac.MenuPayroll); err != nil {
		return err
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil
	}
	skipped, err := s.update(ctx, "recover", employeeID, func(list []Advance) ([]Advance, error) {
		order := make([]int, len(list))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool { return list[order[i]].Date.Before(list[order[j]].Date) })

		left := amount
		for _, idx := range order {
			a := list[idx]
			if a.hasInstallment(ref + ":" + a.ID) {
				return nil, errApplied
			}
			if !left.IsPositive() {
				break
			}
			take := decimal.Min(left, a.Remaining())
			if !take.IsPositive() {
				continue
			}
			a.Installments = append(append([]Installment(nil), a.Installments...), Installment{
				ID:             ref + ":" + a.ID,
				ReturnedAmount: take,
				Date:           date,
				Note:           "payroll " + ref,
				AddedDate:      s.clock(),
			})
			list[idx] = a
			left = left.Sub(take)
		}
		if left.IsPositive() {
			return nil, fmt.Errorf("recovery exceeds outstanding by %s: %w", left.StringFixed(2), shared.ErrOverpayment)
		}
		return list, nil
	})
	if err != nil {
		return fmt.Errorf("advances: recover: %w", err)
	}
	if !skipped {
		s.activity.Record(ctx, activity.Subject(EmployeesCollection, employeeID), "advance_recovery",
			fmt.Sprintf("Recovered %s from payroll %s", amount.StringFixed(2), ref))
	}
	return nil
}

func (s *Service) load(ctx context.Context, employeeID string) ([]Advance, int64, error) {
	doc, err := s.store.Get(ctx, EmployeesCollection, employeeID)
	if err != nil {
		return nil, 0, fmt.Errorf("advances: load employee %s: %w", employeeID, err)
	}
	list, err := decode(doc)
	return list, doc.Version, err
}

// update runs fn against the stored advances under the employee lock and
// writes the result with an optimistic version check. errApplied from fn
// means the change is already present; skipped then reports that nothing was
// written.
func (s *Service) update(ctx context.Context, op, employeeID string, fn func([]Advance) ([]Advance, error)) (skipped bool, err error) {
	if s.observer != nil {
		defer func() { s.observer.ObserveMutation("advances", op, err) }()
	}
	unlock := s.locks.Lock(shared.DocumentLockKey(EmployeesCollection, employeeID))
	defer unlock()
	_, err = store.Update(ctx, s.store, EmployeesCollection, employeeID, maxAttempts, func(doc *store.Document) error {
		list, err := decode(*doc)
		if err != nil {
			return err
		}
		next, err := fn(list)
		if errors.Is(err, errApplied) {
			skipped = true
			return store.ErrSkipWrite
		}
		if err != nil {
			return err
		}
		skipped = false
		return doc.SetField(advancesField, next)
	})
	if err != nil && errors.Is(err, shared.ErrPersistence) {
		s.logger.Warn("advance write failed", slog.String("employee", employeeID), slog.Any("error", err))
	}
	return skipped, err
}

func decode(doc store.Document) ([]Advance, error) {
	var list []Advance
	if _, err := doc.Field(advancesField, &list); err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Installments == nil {
			list[i].Installments = []Installment{}
		}
	}
	return list, nil
}

func indexOf(list []Advance, id string) int {
	for i, a := range list {
		if a.ID == id {
			return i
		}
	}
	return -1
}
