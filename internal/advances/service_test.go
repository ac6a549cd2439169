package advances

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshworks/backoffice/internal/activity"
	"github.com/meshworks/backoffice/internal/rbac"
	"github.com/meshworks/backoffice/internal/shared"
	"github.com/meshworks/backoffice/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore, context.Context) {
	t.Helper()
	s := store.NewMemoryStore()
	svc := NewService(s, activity.NewLog(s, nil), nil)
	seq := 0
	svc.newID = func() string { seq++; return fmt.Sprintf("adv-%d", seq) }

	emp := store.NewDocument("e1")
	require.NoError(t, emp.SetField("name", "Suresh"))
	_, err := s.Put(context.Background(), EmployeesCollection, emp, store.AnyVersion)
	require.NoError(t, err)

	ctx := rbac.ContextWithPrincipal(context.Background(), rbac.Principal{Name: "Owner", Role: rbac.RoleAdmin})
	return svc, s, ctx
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestClearedAdvanceRejectsInstallments(t *testing.T) {
	svc, _, ctx := newTestService(t)
	adv, err := svc.AddAdvance(ctx, "e1", AdvanceInput{Amount: d("5000"), Reason: "Medical"})
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, adv.Status)
	assert.Equal(t, "5000.00", adv.Remaining.StringFixed(2))

	adv, err = svc.AddInstallment(ctx, "e1", adv.ID, InstallmentInput{ReturnedAmount: d("5000")})
	require.NoError(t, err)
	assert.True(t, adv.Remaining.IsZero())
	assert.Equal(t, StatusCleared, adv.Status)

	_, err = svc.AddInstallment(ctx, "e1", adv.ID, InstallmentInput{ReturnedAmount: d("1")})
	require.ErrorIs(t, err, shared.ErrOverpayment)
}

func TestRemainingIsMonotonic(t *testing.T) {
	svc, _, ctx := newTestService(t)
	adv, err := svc.AddAdvance(ctx, "e1", AdvanceInput{Amount: d("3000"), Reason: "Festival"})
	require.NoError(t, err)

	prev := adv.Remaining
	for _, amount := range []string{"500", "1200.50", "4000", "799.50", "600"} {
		b, err := svc.AddInstallment(ctx, "e1", adv.ID, InstallmentInput{ReturnedAmount: d(amount)})
		if err != nil {
			require.ErrorIs(t, err, shared.ErrOverpayment)
			continue
		}
		assert.True(t, b.Remaining.LessThan(prev))
		assert.True(t, b.Remaining.Equal(b.Amount.Sub(b.TotalReturned)))
		prev = b.Remaining
	}
	assert.Equal(t, "500.00", prev.StringFixed(2))

	total, err := svc.Outstanding(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "500.00", total.StringFixed(2))
}

func TestAddAdvanceValidation(t *testing.T) {
	svc, _, ctx := newTestService(t)
	_, err := svc.AddAdvance(ctx, "e1", AdvanceInput{Amount: d("0"), Reason: "x"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.AddAdvance(ctx, "e1", AdvanceInput{Amount: d("10")})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.AddInstallment(ctx, "e1", "nope", InstallmentInput{ReturnedAmount: d("1")})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAddAdvanceRejectsBlankReasonAndSubCentAmounts(t *testing.T) {
	svc, _, ctx := newTestService(t)
	_, err := svc.AddAdvance(ctx, "e1", AdvanceInput{Amount: d("500"), Reason: "   "})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.AddAdvance(ctx, "e1", AdvanceInput{Amount: d("0.004"), Reason: "Tea"})
	require.ErrorIs(t, err, shared.ErrValidation)

	adv, err := svc.AddAdvance(ctx, "e1", AdvanceInput{Amount: d("500"), Reason: " Rent "})
	require.NoError(t, err)
	assert.Equal(t, "Rent", adv.Reason)
	_, err = svc.AddInstallment(ctx, "e1", adv.ID, InstallmentInput{ReturnedAmount: d("0.001")})
	require.ErrorIs(t, err, shared.ErrValidation)

	list, err := svc.List(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 0, len(list[0].Installments))
	assert.Equal(t, "500.00", list[0].Remaining.StringFixed(2))
}

func TestReplaysAreNotLogged(t *testing.T) {
	svc, _, ctx := newTestService(t)
	subject := activity.Subject(EmployeesCollection, "e1")
	trail := func() int {
		entries, err := svc.activity.List(ctx, subject)
		require.NoError(t, err)
		return len(entries)
	}

	adv, err := svc.AddAdvance(ctx, "e1", AdvanceInput{Amount: d("2000"), Reason: "Rent"})
	require.NoError(t, err)
	require.Equal(t, 1, trail())

	for i := 0; i < 2; i++ {
		_, err = svc.AddInstallment(ctx, "e1", adv.ID, InstallmentInput{ClientID: "slip-1", ReturnedAmount: d("300")})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, trail())

	march := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		require.NoError(t, svc.Recover(ctx, "e1", "payroll-2026-03", d("200"), march))
	}
	assert.Equal(t, 3, trail())

	total, err := svc.Outstanding(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "1500.00", total.StringFixed(2))
}

func TestDeleteAdvanceNeedsConfirmation(t *testing.T) {
	svc, s, ctx := newTestService(t)
	adv, err := svc.AddAdvance(ctx, "e1", AdvanceInput{Amount: d("2000"), Reason: "Rent"})
	require.NoError(t, err)
	_, err = svc.AddInstallment(ctx, "e1", adv.ID, InstallmentInput{ReturnedAmount: d("500")})
	require.NoError(t, err)

	before, err := s.Get(ctx, EmployeesCollection, "e1")
	require.NoError(t, err)

	preview, err := svc.DeleteAdvance(ctx, "e1", adv.ID, false)
	require.ErrorIs(t, err, shared.ErrConfirmationRequired)
	assert.Equal(t, 1, preview.Installments)
	assert.Equal(t, "500.00", preview.TotalReturned.StringFixed(2))

	after, err := s.Get(ctx, EmployeesCollection, "e1")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)

	_, err = svc.DeleteAdvance(ctx, "e1", adv.ID, true)
	require.NoError(t, err)
	list, err := svc.List(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRecoverOldestFirstAndOnce(t *testing.T) {
	svc, _, ctx := newTestService(t)
	jan := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)
	newer, err := svc.AddAdvance(ctx, "e1", AdvanceInput{Amount: d("1000"), Reason: "Bike repair", Date: feb})
	require.NoError(t, err)
	older, err := svc.AddAdvance(ctx, "e1", AdvanceInput{Amount: d("800"), Reason: "School fees", Date: jan})
	require.NoError(t, err)

	march := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	require.NoError(t, svc.Recover(ctx, "e1", "payroll-2026-03", d("1000"), march))
	require.NoError(t, svc.Recover(ctx, "e1", "payroll-2026-03", d("1000"), march))

	list, err := svc.List(ctx, "e1")
	require.NoError(t, err)
	byID := map[string]Balance{}
	for _, b := range list {
		byID[b.ID] = b
	}
	assert.Equal(t, StatusCleared, byID[older.ID].Status)
	assert.Equal(t, "800.00", byID[newer.ID].Remaining.StringFixed(2))

	err = svc.Recover(ctx, "e1", "payroll-2026-04", d("900"), march)
	require.ErrorIs(t, err, shared.ErrOverpayment)
}

func TestEmployeeGate(t *testing.T) {
	svc, s, _ := newTestService(t)
	payrollClerk := rbac.ContextWithPrincipal(context.Background(), rbac.Principal{
		Name:  "Clerk",
		Menus: map[string]rbac.MenuPermission{rbac.MenuPayroll: {View: true}},
	})
	_, err := svc.AddAdvance(payrollClerk, "e1", AdvanceInput{Amount: d("10"), Reason: "x"})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	_, err = svc.List(payrollClerk, "e1")
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	_, err = svc.Outstanding(payrollClerk, "e1")
	require.NoError(t, err)

	doc, err := s.Get(context.Background(), EmployeesCollection, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
}

func TestHandlerDeleteConfirmation(t *testing.T) {
	svc, _, ctx := newTestService(t)
	adv, err := svc.AddAdvance(ctx, "e1", AdvanceInput{Amount: d("100"), Reason: "Tea"})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/employees/{employeeID}/advances", NewHandler(nil, svc).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/employees/e1/advances/"+adv.ID, nil))
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), `"installments":0`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/employees/e1/advances/"+adv.ID+"?confirm=true", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/employees/e1/advances/", strings.NewReader(`{"amount":"50","reason":"Bus pass"}`)))
	assert.Equal(t, http.StatusCreated, rec.Code)
}
