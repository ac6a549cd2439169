package ledger

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/meshworks/backoffice/internal/shared"
	"github.com/meshworks/backoffice/internal/store"
)

// Document field names holding the ledger arrays on a customer record.
const (
	fieldWorks     = "works"
	fieldMaterials = "materials"
	fieldPayments  = "paymentRecords"
	fieldExpenses  = "expenses"
)

// table keeps rows by id in insertion order with an optional workId index.
type table[T any] struct {
	order  []string
	rows   map[string]T
	byWork map[string]map[string]struct{}
	workOf func(T) string
}

func newTable[T any](workOf func(T) string) *table[T] {
	return &table[T]{
		rows:   make(map[string]T),
		byWork: make(map[string]map[string]struct{}),
		workOf: workOf,
	}
}

func (t *table[T]) get(id string) (T, bool) {
	row, ok := t.rows[id]
	return row, ok
}

func (t *table[T]) insert(id string, row T) {
	if _, ok := t.rows[id]; !ok {
		t.order = append(t.order, id)
	}
	t.rows[id] = row
	t.index(id, row)
}

func (t *table[T]) replace(id string, row T) bool {
	old, ok := t.rows[id]
	if !ok {
		return false
	}
	t.unindex(id, old)
	t.rows[id] = row
	t.index(id, row)
	return true
}

func (t *table[T]) remove(id string) bool {
	old, ok := t.rows[id]
	if !ok {
		return false
	}
	t.unindex(id, old)
	delete(t.rows, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

func (t *table[T]) all() []T {
	out := make([]T, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.rows[id])
	}
	return out
}

func (t *table[T]) forWork(workID string) []T {
	ids := t.byWork[workID]
	out := make([]T, 0, len(ids))
	for _, id := range t.order {
		if _, ok := ids[id]; ok {
			out = append(out, t.rows[id])
		}
	}
	return out
}

func (t *table[T]) idsForWork(workID string) []string {
	var out []string
	for _, id := range t.order {
		if _, ok := t.byWork[workID][id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (t *table[T]) index(id string, row T) {
	if t.workOf == nil {
		return
	}
	w := t.workOf(row)
	set, ok := t.byWork[w]
	if !ok {
		set = make(map[string]struct{})
		t.byWork[w] = set
	}
	set[id] = struct{}{}
}

func (t *table[T]) unindex(id string, row T) {
	if t.workOf == nil {
		return
	}
	w := t.workOf(row)
	delete(t.byWork[w], id)
	if len(t.byWork[w]) == 0 {
		delete(t.byWork, w)
	}
}

// Ledger is the in-memory form of one customer's ledger. Rows live in
// id-keyed tables and are flattened to arrays only when written back.
type Ledger struct {
	CustomerID string

	works     *table[WorkOrder]
	materials *table[MaterialConsumption]
	payments  *table[PaymentRecord]
	expenses  *table[Expense]
}

// New returns an empty ledger for customerID.
func New(customerID string) *Ledger {
	return &Ledger{
		CustomerID: customerID,
		works:      newTable[WorkOrder](nil),
		materials:  newTable(func(m MaterialConsumption) string { return m.WorkID }),
		payments:   newTable(func(p PaymentRecord) string { return p.WorkID }),
		expenses:   newTable(func(e Expense) string { return e.WorkID }),
	}
}

// FromDocument loads the ledger arrays of a customer document. Missing arrays
// are empty; material totals are recomputed from quantity and rate.
func FromDocument(doc store.Document) (*Ledger, error) {
	l := New(doc.ID)
	var (
		works     []WorkOrder
		materials []MaterialConsumption
		payments  []PaymentRecord
		expenses  []Expense
	)
	for name, dest := range map[string]any{
		fieldWorks:     &works,
		fieldMaterials: &materials,
		fieldPayments:  &payments,
		fieldExpenses:  &expenses,
	} {
		if _, err := doc.Field(name, dest); err != nil {
			return nil, fmt.Errorf("ledger: load %s: %w", doc.ID, err)
		}
	}
	for _, w := range works {
		l.works.insert(w.ID, w)
	}
	for _, m := range materials {
		m.TotalAmount = money(m.Quantity.Mul(m.Rate))
		l.materials.insert(m.ID, m)
	}
	for _, p := range payments {
		if p.Installments == nil {
			p.Installments = []Installment{}
		}
		l.payments.insert(p.ID, p)
	}
	for _, e := range expenses {
		l.expenses.insert(e.ID, e)
	}
	return l, nil
}

// WriteTo replaces the ledger arrays on doc, leaving other customer fields as
// they are.
func (l *Ledger) WriteTo(doc *store.Document) error {
	for name, value := range map[string]any{
		fieldWorks:     l.works.all(),
		fieldMaterials: l.materials.all(),
		fieldPayments:  l.payments.all(),
		fieldExpenses:  l.expenses.all(),
	} {
		if err := doc.SetField(name, value); err != nil {
			return err
		}
	}
	return nil
}

// Works lists work orders in creation order.
func (l *Ledger) Works() []WorkOrder { return l.works.all() }

// Materials lists all material consumption rows.
func (l *Ledger) Materials() []MaterialConsumption { return l.materials.all() }

// PaymentRecords lists all payment records.
func (l *Ledger) PaymentRecords() []PaymentRecord { return l.payments.all() }

// Expenses lists all ledger expenses.
func (l *Ledger) Expenses() []Expense { return l.expenses.all() }

// Work looks up one work order.
func (l *Ledger) Work(id string) (WorkOrder, bool) { return l.works.get(id) }

// PaymentRecord looks up one payment record.
func (l *Ledger) PaymentRecord(id string) (PaymentRecord, bool) { return l.payments.get(id) }

// Orphans lists dependent row ids whose workId no longer resolves.
func (l *Ledger) Orphans() []string {
	var out []string
	for _, m := range l.materials.all() {
		if _, ok := l.works.get(m.WorkID); !ok {
			out = append(out, fieldMaterials+"/"+m.ID)
		}
	}
	for _, p := range l.payments.all() {
		if _, ok := l.works.get(p.WorkID); !ok {
			out = append(out, fieldPayments+"/"+p.ID)
		}
	}
	for _, e := range l.expenses.all() {
		if _, ok := l.works.get(e.WorkID); !ok {
			out = append(out, fieldExpenses+"/"+e.ID)
		}
	}
	return out
}

// Overpaid lists payment records whose installments exceed the total.
func (l *Ledger) Overpaid() []PaymentRecord {
	var out []PaymentRecord
	for _, p := range l.payments.all() {
		if p.Paid().GreaterThan(p.TotalAmount) {
			out = append(out, p)
		}
	}
	return out
}

func (l *Ledger) dependents(workID string) int {
	return len(l.materials.byWork[workID]) + len(l.payments.byWork[workID]) + len(l.expenses.byWork[workID])
}

func (l *Ledger) requireWork(workID string) error {
	if _, ok := l.works.get(workID); !ok {
		return fmt.Errorf("ledger: work %s: %w", workID, shared.ErrNotFound)
	}
	return nil
}

func (l *Ledger) deleteWork(workID string, cascade bool) error {
	if err := l.requireWork(workID); err != nil {
		return err
	}
	if n := l.dependents(workID); n > 0 {
		if !cascade {
			return shared.Invalid("cascade", fmt.Sprintf("work has %d dependent records", n))
		}
		for _, id := range l.materials.idsForWork(workID) {
			l.materials.remove(id)
		}
		for _, id := range l.payments.idsForWork(workID) {
			l.payments.remove(id)
		}
		for _, id := range l.expenses.idsForWork(workID) {
			l.expenses.remove(id)
		}
	}
	l.works.remove(workID)
	return nil
}

// addInstallment enforces Σ installments ≤ totalAmount. An installment whose
// id is already on the record is treated as already applied.
func (l *Ledger) addInstallment(recordID string, inst Installment) (PaymentRecord, bool, error) {
	rec, ok := l.payments.get(recordID)
	if !ok {
		return PaymentRecord{}, false, fmt.Errorf("ledger: payment record %s: %w", recordID, shared.ErrNotFound)
	}
	for _, existing := range rec.Installments {
		if existing.ID == inst.ID {
			return rec, false, nil
		}
	}
	if remaining := rec.Remaining(); inst.Amount.GreaterThan(remaining) {
		return PaymentRecord{}, false, fmt.Errorf("ledger: installment %s exceeds remaining %s: %w",
			inst.Amount.StringFixed(2), remaining.StringFixed(2), shared.ErrOverpayment)
	}
	updated := rec
	updated.Installments = append(append([]Installment(nil), rec.Installments...), inst)
	l.payments.replace(recordID, updated)
	return updated, true, nil
}

func (l *Ledger) updateInstallment(recordID string, inst Installment) (PaymentRecord, error) {
	rec, ok := l.payments.get(recordID)
	if !ok {
		return PaymentRecord{}, fmt.Errorf("ledger: payment record %s: %w", recordID, shared.ErrNotFound)
	}
	idx := -1
	others := rec.TotalAmount
	for i, existing := range rec.Installments {
		if existing.ID == inst.ID {
			idx = i
			continue
		}
		others = others.Sub(existing.Amount)
	}
	if idx < 0 {
		return PaymentRecord{}, fmt.Errorf("ledger: installment %s: %w", inst.ID, shared.ErrNotFound)
	}
	if inst.Amount.GreaterThan(others) {
		return PaymentRecord{}, fmt.Errorf("ledger: installment %s exceeds remaining %s: %w",
			inst.Amount.StringFixed(2), others.StringFixed(2), shared.ErrOverpayment)
	}
	updated := rec
	updated.Installments = append([]Installment(nil), rec.Installments...)
	inst.AddedDate = rec.Installments[idx].AddedDate
	updated.Installments[idx] = inst
	l.payments.replace(recordID, updated)
	return updated, nil
}

// normalizeCategories trims, title-cases and dedupes category tags.
func normalizeCategories(raw []string) []string {
	caser := cases.Title(language.English)
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		c = strings.Join(strings.Fields(c), " ")
		if c == "" {
			continue
		}
		c = caser.String(c)
		key := strings.ToLower(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
