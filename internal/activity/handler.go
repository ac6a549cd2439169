package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meshworks/backoffice/internal/platform/httpx"
	"github.com/meshworks/backoffice/internal/rbac"
	"github.com/meshworks/backoffice/internal/shared"
)

// menuOf maps a subject kind to the menu guarding its trail.
var menuOf = map[string]string{
	"leads":     rbac.MenuLeads,
	"customers": rbac.MenuCustomers,
	"employees": rbac.MenuEmployees,
	"materials": rbac.MenuMaterials,
	"invoices":  rbac.MenuInvoices,
	"payroll":   rbac.MenuPayroll,
	"expenses":  rbac.MenuExpenses,
	"qrcodes":   rbac.MenuQRCodes,
}

// Trail lists the entries of one record for a principal allowed to view it.
// A record without history yields an empty trail.
func (l *Log) Trail(ctx context.Context, kind, id string) ([]Activity, error) {
	menu, ok := menuOf[kind]
	if !ok {
		return nil, fmt.Errorf("activity: kind %q: %w", kind, shared.ErrNotFound)
	}
	if _, err := rbac.RequireView(ctx, menu); err != nil {
		return nil, err
	}
	entries, err := l.List(ctx, Subject(kind, id))
	if errors.Is(err, shared.ErrNotFound) {
		return []Activity{}, nil
	}
	return entries, err
}

// Handler serves activity trails.
type Handler struct {
	logger *slog.Logger
	log    *Log
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, log *Log) *Handler {
	return &Handler{logger: logger, log: log}
}

// MountRoutes registers GET /{kind}/{id}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{kind}/{id}", h.trail)
}

func (h *Handler) trail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.log.Trail(r.Context(), chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}
