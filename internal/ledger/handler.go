package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meshworks/backoffice/internal/platform/httpx"
)

// Handler exposes the customer ledger over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes below /customers/{customerID}/ledger.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.getLedger)
	r.Get("/summary", h.getSummary)

	r.Post("/works", h.addWork)
	r.Put("/works/{workID}", h.updateWork)
	r.Patch("/works/{workID}/status", h.setWorkStatus)
	r.Delete("/works/{workID}", h.deleteWork)
	r.Get("/works/{workID}/analytics", h.workAnalytics)

	r.Post("/materials", h.addMaterial)
	r.Put("/materials/{id}", h.updateMaterial)
	r.Delete("/materials/{id}", h.deleteMaterial)

	r.Post("/payments", h.createPaymentRecord)
	r.Delete("/payments/{id}", h.deletePaymentRecord)
	r.Post("/payments/{id}/installments", h.addInstallment)
	r.Put("/payments/{id}/installments/{installmentID}", h.updateInstallment)

	r.Post("/expenses", h.addExpense)
	r.Delete("/expenses/{id}", h.deleteExpense)
}

type paymentView struct {
	PaymentRecord
	Paid      decimal.Decimal `json:"paid"`
	Remaining decimal.Decimal `json:"remaining"`
}

type ledgerView struct {
	CustomerID     string                `json:"customerId"`
	Works          []WorkOrder           `json:"works"`
	Materials      []MaterialConsumption `json:"materials"`
	PaymentRecords []paymentView         `json:"paymentRecords"`
	Expenses       []Expense             `json:"expenses"`
}

func viewOf(l *Ledger) ledgerView {
	out := ledgerView{
		CustomerID: l.CustomerID,
		Works:      l.Works(),
		Materials:  l.Materials(),
		Expenses:   l.Expenses(),
	}
	out.PaymentRecords = make([]paymentView, 0, len(l.payments.order))
	for _, p := range l.PaymentRecords() {
		out.PaymentRecords = append(out.PaymentRecords, viewOfPayment(p))
	}
	return out
}

func viewOfPayment(p PaymentRecord) paymentView {
	return paymentView{PaymentRecord: p, Paid: money(p.Paid()), Remaining: money(p.Remaining())}
}

func customerID(r *http.Request) string {
	return chi.URLParam(r, "customerID")
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if h.logger != nil {
		h.logger.Debug("ledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) getLedger(w http.ResponseWriter, r *http.Request) {
	l, err := h.service.Get(r.Context(), customerID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(l))
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.CustomerSummary(r.Context(), customerID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) addWork(w http.ResponseWriter, r *http.Request) {
	var in WorkInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	work, err := h.service.AddWork(r.Context(), customerID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, work)
}

func (h *Handler) updateWork(w http.ResponseWriter, r *http.Request) {
	var in WorkInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	work, err := h.service.UpdateWork(r.Context(), customerID(r), chi.URLParam(r, "workID"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, work)
}

func (h *Handler) setWorkStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status" validate:"required"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	work, err := h.service.SetWorkStatus(r.Context(), customerID(r), chi.URLParam(r, "workID"), body.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, work)
}

func (h *Handler) deleteWork(w http.ResponseWriter, r *http.Request) {
	cascade, _ := strconv.ParseBool(r.URL.Query().Get("cascade"))
	if err := h.service.DeleteWork(r.Context(), customerID(r), chi.URLParam(r, "workID"), cascade); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) workAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.ComputeWorkAnalytics(r.Context(), customerID(r), chi.URLParam(r, "workID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) addMaterial(w http.ResponseWriter, r *http.Request) {
	var in MaterialInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.service.AddMaterialConsumption(r.Context(), customerID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) updateMaterial(w http.ResponseWriter, r *http.Request) {
	var in MaterialInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.service.UpdateMaterialConsumption(r.Context(), customerID(r), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) deleteMaterial(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteMaterialConsumption(r.Context(), customerID(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createPaymentRecord(w http.ResponseWriter, r *http.Request) {
	var in PaymentRecordInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.service.CreatePaymentRecord(r.Context(), customerID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, viewOfPayment(rec))
}

func (h *Handler) deletePaymentRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePaymentRecord(r.Context(), customerID(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addInstallment(w http.ResponseWriter, r *http.Request) {
	var in InstallmentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	if in.ClientID == "" {
		in.ClientID = r.Header.Get("Idempotency-Key")
	}
	rec, err := h.service.AddInstallment(r.Context(), customerID(r), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, viewOfPayment(rec))
}

func (h *Handler) updateInstallment(w http.ResponseWriter, r *http.Request) {
	var in InstallmentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.service.UpdateInstallment(r.Context(), customerID(r), chi.URLParam(r, "id"), chi.URLParam(r, "installmentID"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOfPayment(rec))
}

func (h *Handler) addExpense(w http.ResponseWriter, r *http.Request) {
	var in ExpenseInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.service.AddLedgerExpense(r.Context(), customerID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, e)
}

func (h *Handler) deleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteLedgerExpense(r.Context(), customerID(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
