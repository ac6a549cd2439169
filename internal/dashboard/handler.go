package dashboard

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meshworks/backoffice/internal/platform/httpx"
)

// Handler serves the dashboard.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers GET /dashboard with its CSV export and trend chart.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/dashboard", h.summary)
	r.Get("/dashboard.csv", h.csv)
	r.Get("/dashboard/trend.svg", h.trendChart)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Summary(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, s)
}

func (h *Handler) csv(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Summary(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, s); err != nil {
		h.logger.Error("dashboard csv export", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Export failed", "")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="dashboard.csv"`)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) trendChart(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Summary(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := WriteTrendSVG(&buf, s.Trend); err != nil {
		h.logger.Error("dashboard trend chart", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Chart failed", "")
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}
