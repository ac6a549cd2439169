package advances

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meshworks/backoffice/internal/platform/httpx"
	"github.com/meshworks/backoffice/internal/shared"
)

// Handler exposes employee advances over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers routes below /employees/{employeeID}/advances.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/outstanding", h.outstanding)
	r.Post("/", h.add)
	r.Post("/{advanceID}/installments", h.addInstallment)
	r.Delete("/{advanceID}", h.delete)
}

func employeeID(r *http.Request) string { return chi.URLParam(r, "employeeID") }

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context(), employeeID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) outstanding(w http.ResponseWriter, r *http.Request) {
	total, err := h.service.Outstanding(r.Context(), employeeID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"employeeId": employeeID(r), "outstanding": total})
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	var in AdvanceInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	b, err := h.service.AddAdvance(r.Context(), employeeID(r), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *Handler) addInstallment(w http.ResponseWriter, r *http.Request) {
	var in InstallmentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if in.ClientID == "" {
		in.ClientID = r.Header.Get("Idempotency-Key")
	}
	b, err := h.service.AddInstallment(r.Context(), employeeID(r), chi.URLParam(r, "advanceID"), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

// delete answers 428 with the preview until the caller repeats the request
// with ?confirm=true.
func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	preview, err := h.service.DeleteAdvance(r.Context(), employeeID(r), chi.URLParam(r, "advanceID"), confirm)
	if errors.Is(err, shared.ErrConfirmationRequired) {
		httpx.JSON(w, http.StatusPreconditionRequired, map[string]any{
			"title":   "Confirmation Required",
			"detail":  "repeat with confirm=true to delete this advance and its installments",
			"preview": preview,
		})
		return
	}
	if err != nil {
		if h.logger != nil {
			h.logger.Debug("delete advance failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}
