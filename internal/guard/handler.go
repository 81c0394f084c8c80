package guard

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/warden/internal/catalog"
	"github.com/odyssey-erp/warden/internal/platform/httpx"
	"github.com/odyssey-erp/warden/internal/rbac"
	"github.com/odyssey-erp/warden/internal/roles"
	"github.com/odyssey-erp/warden/internal/shared"
	"github.com/odyssey-erp/warden/internal/users"
)

// Handler wires the guarded operations onto HTTP endpoints. Reads go
// through view-permission middleware; writes carry their own guardrails
// so the handlers only decode, validate shape, and dispatch.
type Handler struct {
	logger    *slog.Logger
	guard     *Guard
	roles     *roles.Service
	catalog   *catalog.Service
	users     *users.Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, g *Guard, roleSvc *roles.Service, catalogSvc *catalog.Service, userSvc *users.Service, mw rbac.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		guard:     g,
		roles:     roleSvc,
		catalog:   catalogSvc,
		users:     userSvc,
		rbac:      mw,
		validator: validator.New(),
	}
}

// MountRoutes registers authorization routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermRolesView))
		r.Get("/roles", h.listRoles)
		r.Get("/roles/{id}", h.showRole)
		r.Get("/roles/{id}/effective", h.roleEffective)
	})
	r.Post("/roles", h.createRole)
	r.Put("/roles/{id}", h.editRole)
	r.Delete("/roles/{id}", h.deleteRole)
	r.Put("/roles/{id}/parent", h.setParent)
	r.Put("/roles/{id}/permissions", h.syncPermissions)

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPermissionsView))
		r.Get("/permissions", h.listPermissions)
	})
	r.Post("/permissions", h.createPermission)
	r.Put("/permissions/{id}", h.renamePermission)
	r.Delete("/permissions/{id}", h.deletePermission)

	r.Post("/principals/{id}/roles", h.assignRole)
	r.Delete("/principals/{id}/roles/{roleID}", h.revokeRole)
	r.Put("/principals/{id}/active", h.setPrincipalActive)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermUsersView))
		r.Get("/principals", h.findPrincipal)
		r.Get("/principals/{id}/check", h.checkPermission)
	})
	// The full effective set exposes the role structure too, so viewing
	// it needs both scopes.
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermUsersView, shared.PermRolesView))
		r.Get("/principals/{id}/permissions", h.principalEffective)
	})

	r.Post("/bulk", h.bulk)
}

// respondError logs unclassified failures before mapping the error onto a
// problem response. Classified denials are the caller's mistake, not ours.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if h.logger != nil && shared.KindOf(err) == "" {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		h.respondError(w, r, shared.Validationf("malformed request body"))
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		h.respondError(w, r, shared.Validationf("%s", err.Error()))
		return false
	}
	return true
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func actorID(r *http.Request) int64 {
	id, _ := shared.ActorFromContext(r.Context())
	return id
}

// ---- roles -----------------------------------------------------------

type createRoleRequest struct {
	Name          string  `json:"name" validate:"required,max=100"`
	DisplayName   string  `json:"display_name" validate:"required,max=100"`
	Description   string  `json:"description" validate:"max=1000"`
	ParentID      *int64  `json:"parent_id"`
	PermissionIDs []int64 `json:"permission_ids"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.guard.CreateRole(r.Context(), actorID(r), CreateRoleInput{
		Name:          req.Name,
		DisplayName:   req.DisplayName,
		Description:   req.Description,
		ParentID:      req.ParentID,
		PermissionIDs: req.PermissionIDs,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

type editRoleRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	DisplayName string `json:"display_name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
	IsActive    bool   `json:"is_active"`
}

func (h *Handler) editRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, shared.Validationf("invalid role id"))
		return
	}
	var req editRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.guard.EditRole(r.Context(), actorID(r), EditRoleInput{
		ID:          id,
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, shared.Validationf("invalid role id"))
		return
	}
	force := r.URL.Query().Get("force") == "true"
	if err := h.guard.DeleteRole(r.Context(), actorID(r), id, force); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setParentRequest struct {
	ParentID *int64 `json:"parent_id"`
}

func (h *Handler) setParent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, shared.Validationf("invalid role id"))
		return
	}
	var req setParentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.guard.SetParent(r.Context(), actorID(r), id, req.ParentID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type syncPermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"required"`
}

func (h *Handler) syncPermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, shared.Validationf("invalid role id"))
		return
	}
	var req syncPermissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.guard.SyncPermissions(r.Context(), actorID(r), id, req.PermissionIDs); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	list, err := h.roles.List(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) showRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, shared.Validationf("invalid role id"))
		return
	}
	role, err := h.roles.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) roleEffective(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, shared.Validationf("invalid role id"))
		return
	}
	perms, err := h.guard.resolver.ResolveRolePermissions(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role_id": id, "permissions": perms})
}

// ---- permissions -----------------------------------------------------

type createPermissionRequest struct {
	Name      string  `json:"name" validate:"required,max=100"`
	Label     string  `json:"label" validate:"required,max=100"`
	Module    string  `json:"module" validate:"required,max=50"`
	Risk      string  `json:"risk" validate:"required"`
	IsSystem  bool    `json:"is_system"`
	DependsOn []int64 `json:"depends_on"`
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.guard.CreatePermission(r.Context(), actorID(r), catalog.CreateInput{
		Name:      req.Name,
		Label:     req.Label,
		Module:    req.Module,
		Risk:      catalog.RiskType(req.Risk),
		IsSystem:  req.IsSystem,
		DependsOn: req.DependsOn,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

type renamePermissionRequest struct {
	Name  string `json:"name" validate:"required,max=100"`
	Label string `json:"label" validate:"required,max=100"`
}

func (h *Handler) renamePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, shared.Validationf("invalid permission id"))
		return
	}
	var req renamePermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.guard.RenamePermission(r.Context(), actorID(r), id, req.Name, req.Label)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, shared.Validationf("invalid permission id"))
		return
	}
	if err := h.guard.DeletePermission(r.Context(), actorID(r), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.List(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

// ---- principals ------------------------------------------------------

type assignRoleRequest struct {
	RoleID int64 `json:"role_id" validate:"required"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, shared.Validationf("invalid principal id"))
		return
	}
	var req assignRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.guard.AssignRole(r.Context(), actorID(r), id, req.RoleID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, shared.Validationf("invalid principal id"))
		return
	}
	roleID, err := pathID(r, "roleID")
	if err != nil {
		h.respondError(w, r, shared.Validationf("invalid role id"))
		return
	}
	if err := h.guard.RevokeRole(r.Context(), actorID(r), id, roleID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *Handler) setPrincipalActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, shared.Validationf("invalid principal id"))
		return
	}
	var req setActiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.guard.SetPrincipalActive(r.Context(), actorID(r), id, *req.Active); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) findPrincipal(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		h.respondError(w, r, shared.Validationf("email query parameter is required"))
		return
	}
	user, err := h.users.GetByEmail(r.Context(), email)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":           user.ID,
		"email":        user.Email,
		"display_name": user.DisplayName,
		"is_active":    user.IsActive,
	})
}

func (h *Handler) principalEffective(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, shared.Validationf("invalid principal id"))
		return
	}
	perms, err := h.guard.EffectivePermissions(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"principal_id": id, "permissions": perms})
}

func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, shared.Validationf("invalid principal id"))
		return
	}
	permission := r.URL.Query().Get("permission")
	if permission == "" {
		h.respondError(w, r, shared.Validationf("permission query parameter is required"))
		return
	}
	allowed, err := h.guard.CheckPermission(r.Context(), id, permission)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"principal_id": id, "permission": permission, "allowed": allowed})
}

// ---- bulk ------------------------------------------------------------

type bulkRequest struct {
	Operation string  `json:"operation" validate:"required"`
	TargetIDs []int64 `json:"target_ids" validate:"required,min=1"`
	RoleID    int64   `json:"role_id"`
	Force     bool    `json:"force"`
}

func (h *Handler) bulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.guard.Bulk(r.Context(), actorID(r), BulkInput{
		Operation: req.Operation,
		TargetIDs: req.TargetIDs,
		RoleID:    req.RoleID,
		Force:     req.Force,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
