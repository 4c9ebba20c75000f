package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/appointly/appointly/internal/platform/httpx"
	"github.com/appointly/appointly/internal/roles"
)

// PermissionsHandler exposes the fixed permission table.
type PermissionsHandler struct{}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler() *PermissionsHandler {
	return &PermissionsHandler{}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/permissions", h.listPermissions)
}

type levelView struct {
	Level roles.Level `json:"level"`
	Name  string      `json:"name"`
}

type permissionsResponse struct {
	Levels      []levelView        `json:"levels"`
	Permissions []roles.Permission `json:"permissions"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	levels := make([]levelView, 0, 4)
	for _, l := range roles.Levels() {
		levels = append(levels, levelView{Level: l, Name: l.String()})
	}
	httpx.JSON(w, http.StatusOK, permissionsResponse{Levels: levels, Permissions: roles.Permissions()})
}
