// AngelaMos | 2026
// handler.go

package user

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/carterperez-dev/templates/crm-backend/internal/authz"
	"github.com/carterperez-dev/templates/crm-backend/internal/core"
	"github.com/carterperez-dev/templates/crm-backend/internal/policy"
	"github.com/carterperez-dev/templates/crm-backend/internal/tenant"
)

const membersResource = "members"

type Handler struct {
	service   *Service
	guard     *authz.Guard
	validator *validator.Validate
}

func NewHandler(service *Service, guard *authz.Guard) *Handler {
	return &Handler{
		service:   service,
		guard:     guard,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes mounts member management. The router must already carry
// authentication and tenant resolution.
func (h *Handler) RegisterRoutes(r chi.Router) {
	module := h.guard.Module(policy.ModuleUsers)
	manage := h.guard.Action(policy.ActionManageUsers, membersResource)
	self := h.guard.OwnerOr(func(r *http.Request) string {
		return chi.URLParam(r, "memberID")
	})

	// Own-profile routes stay outside the users module so every role can
	// reach its own record. The seat limit is checked by Service.Create.
	r.Route("/members", func(r chi.Router) {
		r.With(module, h.guard.Action(policy.ActionRead, membersResource)).Get("/", h.List)
		r.With(module, manage).Post("/", h.Create)
		r.Get("/me", h.GetMe)

		r.Route("/{memberID}", func(r chi.Router) {
			r.With(self).Get("/", h.Get)
			r.With(self).Patch("/", h.Update)

			r.Group(func(r chi.Router) {
				r.Use(module, manage)
				r.Put("/role", h.UpdateRole)
				r.Put("/permissions", h.UpdatePermissions)
				r.Post("/deactivate", h.Deactivate)
				r.Post("/reactivate", h.Reactivate)
				r.Delete("/", h.Delete)
			})
		})
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeOf(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	params := ListUsersParams{
		Page:     parseIntQuery(r, "page", 1),
		PageSize: parseIntQuery(r, "page_size", 20),
		Search:   q.Get("search"),
		Role:     q.Get("role"),
	}
	if raw := q.Get("active"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			params.Active = &v
		}
	}
	params.Normalize()

	users, total, err := h.service.List(r.Context(), scope, params)
	if err != nil {
		core.JSONError(w, err)
		return
	}

	core.Paginated(w, ToUserResponseList(users), params.Page, params.PageSize, total)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeOf(w, r)
	if !ok {
		return
	}

	var req CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.service.Create(r.Context(), scope, req)
	if err != nil {
		core.JSONError(w, err)
		return
	}
	core.Created(w, ToUserResponse(user))
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeOf(w, r)
	if !ok {
		return
	}

	user, err := h.service.Get(r.Context(), scope, scope.Principal().ID)
	if err != nil {
		core.JSONError(w, err)
		return
	}
	core.OK(w, ToUserResponse(user))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeOf(w, r)
	if !ok {
		return
	}

	user, err := h.service.Get(r.Context(), scope, chi.URLParam(r, "memberID"))
	if err != nil {
		core.JSONError(w, err)
		return
	}
	core.OK(w, ToUserResponse(user))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeOf(w, r)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), scope, chi.URLParam(r, "memberID"), req)
	if err != nil {
		core.JSONError(w, err)
		return
	}
	core.OK(w, ToUserResponse(user))
}

func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeOf(w, r)
	if !ok {
		return
	}

	var req UpdateUserRoleRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.service.ChangeRole(r.Context(), scope, chi.URLParam(r, "memberID"), req.Role)
	if err != nil {
		core.JSONError(w, err)
		return
	}
	core.OK(w, ToUserResponse(user))
}

func (h *Handler) UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeOf(w, r)
	if !ok {
		return
	}

	var req UpdatePermissionsRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.service.SetPermissions(r.Context(), scope, chi.URLParam(r, "memberID"), req.Permissions)
	if err != nil {
		core.JSONError(w, err)
		return
	}
	core.OK(w, ToUserResponse(user))
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeOf(w, r)
	if !ok {
		return
	}

	user, err := h.service.Deactivate(r.Context(), scope, chi.URLParam(r, "memberID"))
	if err != nil {
		core.JSONError(w, err)
		return
	}
	core.OK(w, ToUserResponse(user))
}

func (h *Handler) Reactivate(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeOf(w, r)
	if !ok {
		return
	}

	user, err := h.service.Reactivate(r.Context(), scope, chi.URLParam(r, "memberID"))
	if err != nil {
		core.JSONError(w, err)
		return
	}
	core.OK(w, ToUserResponse(user))
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeOf(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), scope, chi.URLParam(r, "memberID")); err != nil {
		core.JSONError(w, err)
		return
	}
	core.NoContent(w)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		core.BadRequest(w, "invalid request body")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return false
	}
	return true
}

func scopeOf(w http.ResponseWriter, r *http.Request) (*tenant.Scope, bool) {
	scope, ok := tenant.FromContext(r.Context())
	if !ok {
		core.JSONError(w, core.TenantContextMissingError())
		return nil, false
	}
	return scope, true
}

func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}

	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}

	return parsed
}
