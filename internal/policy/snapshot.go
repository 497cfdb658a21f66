// AngelaMos | 2026
// snapshot.go

package policy

import (
	"fmt"
	"sort"
)

const (
	gib int64 = 1 << 30
)

type Plan struct {
	Name     PlanName
	Limits   map[Limit]int64
	Modules  ModuleSet
	Features []string
	// RequestsPerMinute feeds the per-company rate limiter.
	RequestsPerMinute int
}

// Ceiling returns the plan's limit for l. A limit the plan does not define
// is unlimited.
func (p Plan) Ceiling(l Limit) int64 {
	v, ok := p.Limits[l]
	if !ok {
		return Unlimited
	}
	return v
}

func (p Plan) HasFeature(feature string) bool {
	for _, f := range p.Features {
		if f == feature || f == wildcard {
			return true
		}
	}
	return false
}

type roleEntry struct {
	level   int
	actions ActionSet
}

// Snapshot is an immutable view of the role, module and plan tables.
// Build a new one to change policy; never mutate a published snapshot.
type Snapshot struct {
	roles       map[Role]roleEntry
	moduleRoles map[Module]map[Role]struct{}
	plans       map[PlanName]Plan
	defaultPlan PlanName
	source      string
}

func Default() *Snapshot {
	return &Snapshot{
		roles: map[Role]roleEntry{
			RoleSuperAdmin:   {level: 100, actions: AnyAction()},
			RoleCompanyAdmin: {level: 80, actions: AnyAction()},
			RoleManager: {level: 60, actions: NewActionSet(
				ActionCreate, ActionRead, ActionUpdate, ActionDelete,
				ActionExport, ActionImport, ActionAssign, ActionManageUsers,
			)},
			RoleUser: {level: 40, actions: NewActionSet(
				ActionCreate, ActionRead, ActionUpdateOwn,
			)},
			RoleViewer: {level: 20, actions: NewActionSet(ActionRead)},
		},
		moduleRoles: map[Module]map[Role]struct{}{
			ModuleLeads:    roleSet(RoleCompanyAdmin, RoleManager, RoleUser, RoleViewer),
			ModuleSales:    roleSet(RoleCompanyAdmin, RoleManager, RoleUser, RoleViewer),
			ModuleTickets:  roleSet(RoleCompanyAdmin, RoleManager, RoleUser, RoleViewer),
			ModuleProducts: roleSet(RoleCompanyAdmin, RoleManager, RoleUser, RoleViewer),
			ModuleTags:     roleSet(RoleCompanyAdmin, RoleManager, RoleUser),
			ModuleReports:  roleSet(RoleCompanyAdmin, RoleManager),
			ModuleUsers:    roleSet(RoleCompanyAdmin, RoleManager),
			ModuleSettings: roleSet(RoleCompanyAdmin),
		},
		plans: map[PlanName]Plan{
			PlanFree: {
				Name: PlanFree,
				Limits: map[Limit]int64{
					LimitSeats:        2,
					LimitStorageBytes: 1 * gib,
				},
				Modules:           NewModuleSet(ModuleLeads, ModuleTickets),
				Features:          []string{"basic_reports"},
				RequestsPerMinute: 60,
			},
			PlanStarter: {
				Name: PlanStarter,
				Limits: map[Limit]int64{
					LimitSeats:        5,
					LimitStorageBytes: 10 * gib,
				},
				Modules: NewModuleSet(
					ModuleLeads, ModuleSales, ModuleTickets, ModuleTags,
				),
				Features:          []string{"basic_reports", "email_integration"},
				RequestsPerMinute: 300,
			},
			PlanProfessional: {
				Name: PlanProfessional,
				Limits: map[Limit]int64{
					LimitSeats:        25,
					LimitStorageBytes: 100 * gib,
				},
				Modules: NewModuleSet(allModules...),
				Features: []string{
					"advanced_reports",
					"api_access",
					"custom_fields",
					"email_integration",
				},
				RequestsPerMinute: 1000,
			},
			PlanEnterprise: {
				Name: PlanEnterprise,
				Limits: map[Limit]int64{
					LimitSeats:        Unlimited,
					LimitStorageBytes: Unlimited,
				},
				Modules:           AnyModule(),
				Features:          []string{wildcard},
				RequestsPerMinute: 5000,
			},
		},
		defaultPlan: PlanFree,
		source:      "builtin",
	}
}

func roleSet(roles ...Role) map[Role]struct{} {
	out := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		out[r] = struct{}{}
	}
	return out
}

// Level is 0 for an unknown role, which sits below every real role.
func (s *Snapshot) Level(r Role) int {
	return s.roles[r].level
}

func (s *Snapshot) RoleAllows(r Role, a Action) bool {
	entry, ok := s.roles[r]
	if !ok {
		return false
	}
	return entry.actions.Contains(a)
}

// IsAdminEquivalent reports whether r sits at or above company_admin.
// Explicit permission lists do not narrow such roles.
func (s *Snapshot) IsAdminEquivalent(r Role) bool {
	entry, ok := s.roles[r]
	if !ok {
		return false
	}
	return entry.level >= s.roles[RoleCompanyAdmin].level
}

// IsElevated reports whether r sits at or above manager.
func (s *Snapshot) IsElevated(r Role) bool {
	entry, ok := s.roles[r]
	if !ok {
		return false
	}
	return entry.level >= s.roles[RoleManager].level
}

func (s *Snapshot) RoleCanUseModule(r Role, m Module) bool {
	if r.IsTop() {
		return true
	}
	_, ok := s.moduleRoles[m][r]
	return ok
}

// Plan falls back to the default plan for unknown names so an unrecognised
// subscription never gains more than the most restrictive tier.
func (s *Snapshot) Plan(name PlanName) Plan {
	if p, ok := s.plans[name]; ok {
		return p
	}
	return s.plans[s.defaultPlan]
}

func (s *Snapshot) KnownPlan(name PlanName) bool {
	_, ok := s.plans[name]
	return ok
}

func (s *Snapshot) Source() string {
	return s.source
}

func (s *Snapshot) validate() error {
	for _, r := range allRoles {
		if _, ok := s.roles[r]; !ok {
			return fmt.Errorf("role %s has no entry", r)
		}
	}

	top := s.roles[RoleSuperAdmin].level
	seen := make(map[int]Role, len(s.roles))
	for r, entry := range s.roles {
		if entry.level <= 0 {
			return fmt.Errorf("role %s: level must be positive", r)
		}
		if r != RoleSuperAdmin && entry.level >= top {
			return fmt.Errorf("role %s: level %d must be below %s", r, entry.level, RoleSuperAdmin)
		}
		if other, dup := seen[entry.level]; dup {
			return fmt.Errorf("roles %s and %s share level %d", r, other, entry.level)
		}
		seen[entry.level] = r
	}

	if _, ok := s.plans[s.defaultPlan]; !ok {
		return fmt.Errorf("default plan %q is not defined", s.defaultPlan)
	}
	for name, p := range s.plans {
		for l, v := range p.Limits {
			if v < 0 && v != Unlimited {
				return fmt.Errorf("plan %s: limit %s must be >= 0 or %d", name, l, Unlimited)
			}
		}
		if p.RequestsPerMinute <= 0 {
			return fmt.Errorf("plan %s: requests_per_minute must be positive", name)
		}
	}

	return nil
}

func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{
		roles:       make(map[Role]roleEntry, len(s.roles)),
		moduleRoles: make(map[Module]map[Role]struct{}, len(s.moduleRoles)),
		plans:       make(map[PlanName]Plan, len(s.plans)),
		defaultPlan: s.defaultPlan,
		source:      s.source,
	}
	for r, e := range s.roles {
		out.roles[r] = e
	}
	for m, roles := range s.moduleRoles {
		cp := make(map[Role]struct{}, len(roles))
		for r := range roles {
			cp[r] = struct{}{}
		}
		out.moduleRoles[m] = cp
	}
	for n, p := range s.plans {
		limits := make(map[Limit]int64, len(p.Limits))
		for l, v := range p.Limits {
			limits[l] = v
		}
		p.Limits = limits
		p.Features = append([]string(nil), p.Features...)
		out.plans[n] = p
	}
	return out
}

type RoleView struct {
	Level   int      `json:"level"`
	Actions []string `json:"actions"`
}

type PlanView struct {
	Limits            map[Limit]int64 `json:"limits"`
	Modules           []string        `json:"modules"`
	Features          []string        `json:"features"`
	RequestsPerMinute int             `json:"requests_per_minute"`
}

type View struct {
	Source      string                `json:"source"`
	DefaultPlan PlanName              `json:"default_plan"`
	Roles       map[Role]RoleView     `json:"roles"`
	Modules     map[Module][]string   `json:"modules"`
	Plans       map[PlanName]PlanView `json:"plans"`
}

func (s *Snapshot) View() View {
	v := View{
		Source:      s.source,
		DefaultPlan: s.defaultPlan,
		Roles:       make(map[Role]RoleView, len(s.roles)),
		Modules:     make(map[Module][]string, len(s.moduleRoles)),
		Plans:       make(map[PlanName]PlanView, len(s.plans)),
	}
	for r, e := range s.roles {
		v.Roles[r] = RoleView{Level: e.level, Actions: e.actions.List()}
	}
	for m, roles := range s.moduleRoles {
		names := make([]string, 0, len(roles))
		for r := range roles {
			names = append(names, string(r))
		}
		sort.Strings(names)
		v.Modules[m] = names
	}
	for n, p := range s.plans {
		v.Plans[n] = PlanView{
			Limits:            p.Limits,
			Modules:           p.Modules.List(),
			Features:          p.Features,
			RequestsPerMinute: p.RequestsPerMinute,
		}
	}
	return v
}
