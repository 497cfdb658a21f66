// AngelaMos | 2026
// enums.go

package policy

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleSuperAdmin   Role = "super_admin"
	RoleCompanyAdmin Role = "company_admin"
	RoleManager      Role = "manager"
	RoleUser         Role = "user"
	RoleViewer       Role = "viewer"
)

var allRoles = []Role{
	RoleSuperAdmin,
	RoleCompanyAdmin,
	RoleManager,
	RoleUser,
	RoleViewer,
}

func Roles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleCompanyAdmin, RoleManager, RoleUser, RoleViewer:
		return true
	}
	return false
}

// IsTop reports whether r is the unrestricted role that bypasses every
// guard and may override tenant scope.
func (r Role) IsTop() bool {
	return r == RoleSuperAdmin
}

func (r Role) String() string {
	return string(r)
}

type Action string

const (
	ActionCreate      Action = "create"
	ActionRead        Action = "read"
	ActionUpdate      Action = "update"
	ActionUpdateOwn   Action = "update_own"
	ActionDelete      Action = "delete"
	ActionExport      Action = "export"
	ActionImport      Action = "import"
	ActionAssign      Action = "assign"
	ActionManageUsers Action = "manage_users"
)

func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionUpdateOwn,
		ActionDelete, ActionExport, ActionImport, ActionAssign,
		ActionManageUsers:
		return true
	}
	return false
}

type Module string

const (
	ModuleLeads    Module = "leads"
	ModuleSales    Module = "sales"
	ModuleTickets  Module = "tickets"
	ModuleProducts Module = "products"
	ModuleTags     Module = "tags"
	ModuleReports  Module = "reports"
	ModuleUsers    Module = "users"
	ModuleSettings Module = "settings"
)

var allModules = []Module{
	ModuleLeads,
	ModuleSales,
	ModuleTickets,
	ModuleProducts,
	ModuleTags,
	ModuleReports,
	ModuleUsers,
	ModuleSettings,
}

func Modules() []Module {
	out := make([]Module, len(allModules))
	copy(out, allModules)
	return out
}

func ParseModule(s string) (Module, error) {
	m := Module(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown module %q", s)
	}
	return m, nil
}

// Administrative modules are part of every company regardless of plan.
// Only the module-to-roles table gates them.
func (m Module) Administrative() bool {
	return m == ModuleUsers || m == ModuleSettings
}

func (m Module) Valid() bool {
	for _, known := range allModules {
		if m == known {
			return true
		}
	}
	return false
}

type PlanName string

const (
	PlanFree         PlanName = "free"
	PlanStarter      PlanName = "starter"
	PlanProfessional PlanName = "professional"
	PlanEnterprise   PlanName = "enterprise"
)

type Limit string

const (
	LimitSeats        Limit = "seats"
	LimitStorageBytes Limit = "storage_bytes"
)

func ParseLimit(s string) (Limit, error) {
	switch l := Limit(strings.ToLower(strings.TrimSpace(s))); l {
	case LimitSeats, LimitStorageBytes:
		return l, nil
	}
	return "", fmt.Errorf("unknown limit %q", s)
}

// Unlimited disables a plan ceiling.
const Unlimited int64 = -1

const wildcard = "*"
