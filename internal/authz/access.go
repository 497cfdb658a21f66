// AngelaMos | 2026
// access.go

package authz

import (
	"net/http"

	"github.com/carterperez-dev/templates/crm-backend/internal/core"
	"github.com/carterperez-dev/templates/crm-backend/internal/policy"
	"github.com/carterperez-dev/templates/crm-backend/internal/tenant"
)

type ModuleAccess struct {
	Module  string `json:"module"`
	Enabled bool   `json:"enabled"`
	Allowed bool   `json:"allowed"`
}

type LimitAccess struct {
	Limit   string `json:"limit"`
	Ceiling int64  `json:"ceiling"`
}

// Access is what the caller may do right now, for clients that hide
// unavailable features.
type Access struct {
	PrincipalID string         `json:"principal_id"`
	Role        string         `json:"role"`
	Level       int            `json:"level"`
	CompanyID   *int64         `json:"company_id"`
	Mode        string         `json:"mode"`
	Bypass      bool           `json:"bypass"`
	Plan        string         `json:"plan"`
	Features    []string       `json:"features"`
	Actions     []string       `json:"actions"`
	Modules     []ModuleAccess `json:"modules"`
	Limits      []LimitAccess  `json:"limits"`
	Permissions []string       `json:"permissions"`
}

func (g *Guard) Access(scope *tenant.Scope) Access {
	p := scope.Principal()
	snap := g.policies.Snapshot()
	plan := snap.Plan(p.TenantPlan)

	a := Access{
		PrincipalID: p.ID,
		Role:        p.Role.String(),
		Level:       snap.Level(p.Role),
		Mode:        scope.Mode().String(),
		Bypass:      scope.Bypass(),
		Plan:        string(plan.Name),
		Features:    append([]string{}, plan.Features...),
		Permissions: p.Permissions.Tokens(),
	}
	if id, ok := scope.TenantID(); ok {
		a.CompanyID = &id
	}

	for _, action := range []policy.Action{
		policy.ActionCreate, policy.ActionRead, policy.ActionUpdate,
		policy.ActionUpdateOwn, policy.ActionDelete, policy.ActionExport,
		policy.ActionImport, policy.ActionAssign, policy.ActionManageUsers,
	} {
		if g.ActionDecision(scope, action, "").Allowed {
			a.Actions = append(a.Actions, string(action))
		}
	}

	enabled := g.EnabledModules(p)
	for _, m := range policy.Modules() {
		a.Modules = append(a.Modules, ModuleAccess{
			Module:  string(m),
			Enabled: p.Role.IsTop() || m.Administrative() || enabled.Contains(m),
			Allowed: g.ModuleDecision(scope, m).Allowed,
		})
	}

	for _, l := range []policy.Limit{policy.LimitSeats, policy.LimitStorageBytes} {
		a.Limits = append(a.Limits, LimitAccess{Limit: string(l), Ceiling: plan.Ceiling(l)})
	}
	return a
}

func (g *Guard) AccessHandler(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeOrFail(w, r)
	if !ok {
		return
	}
	core.OK(w, g.Access(scope))
}
