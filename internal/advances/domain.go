// Package advances tracks salary advances given to employees and the
// installments repaid against them.
package advances

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is derived from the remaining balance.
type Status string

const (
	StatusOpen    Status = "Open"
	StatusCleared Status = "Cleared"
)

// Installment is one repayment.
type Installment struct {
	ID             string          `json:"id"`
	ReturnedAmount decimal.Decimal `json:"returnedAmount"`
	Date           time.Time       `json:"date"`
	Note           string          `json:"note,omitempty"`
	AddedDate      time.Time       `json:"addedDate"`
}

// Advance is money handed to an employee ahead of salary. Only the amount and
// the installments are stored; the balance is always derived.
type Advance struct {
	ID           string          `json:"id"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason"`
	Date         time.Time       `json:"date"`
	Installments []Installment   `json:"installments"`
}

// TotalReturned sums the installments.
func (a Advance) TotalReturned() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range a.Installments {
		total = total.Add(inst.ReturnedAmount)
	}
	return total
}

// Remaining is amount minus what has been returned.
func (a Advance) Remaining() decimal.Decimal {
	return a.Amount.Sub(a.TotalReturned())
}

// Status reports Cleared once nothing remains.
func (a Advance) Status() Status {
	if a.Remaining().IsPositive() {
		return StatusOpen
	}
	return StatusCleared
}

func (a Advance) hasInstallment(id string) bool {
	for _, inst := range a.Installments {
		if inst.ID == id {
			return true
		}
	}
	return false
}

// Balance is an advance with its derived figures, as returned to callers.
type Balance struct {
	Advance
	TotalReturned decimal.Decimal `json:"totalReturned"`
	Remaining     decimal.Decimal `json:"remaining"`
	Status        Status          `json:"status"`
}

func balanceOf(a Advance) Balance {
	return Balance{
		Advance:       a,
		TotalReturned: a.TotalReturned().Round(2),
		Remaining:     a.Remaining().Round(2),
		Status:        a.Status(),
	}
}

// DeletePreview describes what deleting an advance would discard.
type DeletePreview struct {
	AdvanceID     string          `json:"advanceId"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	Installments  int             `json:"installments"`
	TotalReturned decimal.Decimal `json:"totalReturned"`
}
