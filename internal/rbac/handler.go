package rbac

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/meshworks/backoffice/internal/platform/httpx"
	"github.com/meshworks/backoffice/internal/shared"
)

// Handler exposes operator management. Every route except /me needs an admin.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers /me and the /users routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me", h.me)
	r.Post("/users", h.createUser)
	r.Put("/users/{userID}/menus", h.setMenus)
	r.Post("/users/{userID}/keys", h.issueKey)
}

type userInput struct {
	Name  string                    `json:"name" validate:"required,notblank,max=120"`
	Role  string                    `json:"role" validate:"omitempty,oneof=admin staff"`
	Menus map[string]MenuPermission `json:"menus"`
}

type menusInput struct {
	Menus map[string]MenuPermission `json:"menus"`
}

func checkMenus(menus map[string]MenuPermission) error {
	known := Menus()
	for name := range menus {
		if !slices.Contains(known, name) {
			return shared.Invalid("menus", fmt.Sprintf("unknown menu %q", name))
		}
	}
	return nil
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var in userInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := checkMenus(in.Menus); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if in.Role == "" {
		in.Role = "staff"
	}
	user, err := h.service.CreateUser(r.Context(), in.Name, in.Role, in.Menus)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	user.APIKeyHash = ""
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) setMenus(w http.ResponseWriter, r *http.Request) {
	var in menusInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := checkMenus(in.Menus); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.SetMenus(r.Context(), chi.URLParam(r, "userID"), in.Menus)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	user.APIKeyHash = ""
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) issueKey(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	token, err := h.service.IssueAPIKey(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.logger != nil {
		h.logger.Info("api key issued", slog.String("user", userID))
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"token": token})
}
