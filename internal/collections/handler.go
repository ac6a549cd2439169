package collections

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meshworks/backoffice/internal/platform/httpx"
)

var reservedParams = map[string]bool{"q": true, "sort": true, "desc": true, "page": true, "perPage": true}

// Handler serves CRUD for one collection.
type Handler[T any, P record[T]] struct {
	logger     *slog.Logger
	collection *Collection[T, P]
}

// NewHandler builds Handler instance.
func NewHandler[T any, P record[T]](logger *slog.Logger, c *Collection[T, P]) *Handler[T, P] {
	return &Handler[T, P]{logger: logger, collection: c}
}

// MountRoutes registers the CRUD routes.
func (h *Handler[T, P]) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

// list accepts q, sort, desc, page and perPage; any other query parameter
// filters on equality with that field.
func (h *Handler[T, P]) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := ListOptions[T]{
		Search: query.Get("q"),
		SortBy: query.Get("sort"),
	}
	opts.Desc, _ = strconv.ParseBool(query.Get("desc"))
	opts.Page, _ = strconv.Atoi(query.Get("page"))
	opts.PerPage, _ = strconv.Atoi(query.Get("perPage"))
	for key, values := range query {
		if reservedParams[key] || len(values) == 0 {
			continue
		}
		if opts.Match == nil {
			opts.Match = make(map[string]any)
		}
		opts.Match[key] = values[0]
	}
	page, err := h.collection.List(r.Context(), opts)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler[T, P]) get(w http.ResponseWriter, r *http.Request) {
	v, err := h.collection.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler[T, P]) create(w http.ResponseWriter, r *http.Request) {
	var v T
	if err := httpx.DecodeJSON(r, &v); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.collection.Create(r.Context(), v)
	if err != nil {
		h.logFailure("create", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler[T, P]) update(w http.ResponseWriter, r *http.Request) {
	var v T
	if err := httpx.DecodeJSON(r, &v); err != nil {
		httpx.RespondError(w, err)
		return
	}
	updated, err := h.collection.Update(r.Context(), chi.URLParam(r, "id"), v)
	if err != nil {
		h.logFailure("update", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler[T, P]) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.collection.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler[T, P]) logFailure(op string, err error) {
	if h.logger == nil {
		return
	}
	h.logger.Debug("collection write failed",
		slog.String("collection", h.collection.Name()),
		slog.String("op", op),
		slog.Any("error", err))
}

// MountRoutes registers every collection below r, plus the QR image route.
func (reg *Registry) MountRoutes(r chi.Router, logger *slog.Logger) {
	r.Route("/leads", NewHandler(logger, reg.Leads).MountRoutes)
	r.Route("/customers", NewHandler(logger, reg.Customers).MountRoutes)
	r.Route("/employees", NewHandler(logger, reg.Employees).MountRoutes)
	r.Route("/materials", NewHandler(logger, reg.Materials).MountRoutes)
	r.Route("/invoices", NewHandler(logger, reg.Invoices).MountRoutes)
	r.Route("/payroll", NewHandler(logger, reg.Payroll).MountRoutes)
	r.Route("/expenses", NewHandler(logger, reg.Expenses).MountRoutes)
	r.Route("/qrcodes", func(r chi.Router) {
		r.Get("/{id}.png", reg.qrImage)
		NewHandler(logger, reg.QRCodes).MountRoutes(r)
	})
}

func (reg *Registry) qrImage(w http.ResponseWriter, r *http.Request) {
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	png, err := reg.RenderQRCode(r.Context(), chi.URLParam(r, "id"), size)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	_, _ = w.Write(png)
}
