// AngelaMos | 2026
// grants.go

package policy

import (
	"sort"
	"strings"
)

// ActionSet is a closed set of actions with an explicit "any action" flag.
type ActionSet struct {
	Any     bool
	actions map[Action]struct{}
}

func NewActionSet(actions ...Action) ActionSet {
	set := ActionSet{actions: make(map[Action]struct{}, len(actions))}
	for _, a := range actions {
		set.actions[a] = struct{}{}
	}
	return set
}

func AnyAction() ActionSet {
	return ActionSet{Any: true}
}

func (s ActionSet) Contains(a Action) bool {
	if s.Any {
		return true
	}
	_, ok := s.actions[a]
	return ok
}

func (s ActionSet) List() []string {
	if s.Any {
		return []string{wildcard}
	}
	out := make([]string, 0, len(s.actions))
	for a := range s.actions {
		out = append(out, string(a))
	}
	sort.Strings(out)
	return out
}

// ModuleSet is a closed set of modules with an explicit "any module" flag.
type ModuleSet struct {
	Any     bool
	modules map[Module]struct{}
}

func NewModuleSet(modules ...Module) ModuleSet {
	set := ModuleSet{modules: make(map[Module]struct{}, len(modules))}
	for _, m := range modules {
		set.modules[m] = struct{}{}
	}
	return set
}

func AnyModule() ModuleSet {
	return ModuleSet{Any: true}
}

// ParseModuleSet accepts module names or "*". Unknown names are returned
// separately so callers can log them; they never widen the set.
func ParseModuleSet(names []string) (ModuleSet, []string) {
	set := NewModuleSet()
	var unknown []string
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == wildcard {
			set.Any = true
			continue
		}
		m, err := ParseModule(name)
		if err != nil {
			unknown = append(unknown, raw)
			continue
		}
		set.modules[m] = struct{}{}
	}
	return set, unknown
}

func (s ModuleSet) Contains(m Module) bool {
	if s.Any {
		return true
	}
	_, ok := s.modules[m]
	return ok
}

func (s ModuleSet) List() []string {
	if s.Any {
		return []string{wildcard}
	}
	out := make([]string, 0, len(s.modules))
	for m := range s.modules {
		out = append(out, string(m))
	}
	sort.Strings(out)
	return out
}

// ScopedAction is an action granted on one resource only, written
// "resource:action" in permission lists.
type ScopedAction struct {
	Resource string
	Action   Action
}

// Grants is the parsed form of a principal's explicit permission list.
// Tokens are "*", an action, a module, "resource:action" or "resource:*".
type Grants struct {
	Any         bool
	actions     map[Action]struct{}
	modules     map[Module]struct{}
	scoped      map[ScopedAction]struct{}
	anyOn       map[string]struct{}
	raw         []string
	unparseable []string
}

func ParseGrants(perms []string) Grants {
	g := Grants{
		actions: make(map[Action]struct{}),
		modules: make(map[Module]struct{}),
		scoped:  make(map[ScopedAction]struct{}),
		anyOn:   make(map[string]struct{}),
	}

	for _, raw := range perms {
		token := strings.ToLower(strings.TrimSpace(raw))
		if token == "" {
			continue
		}
		g.raw = append(g.raw, token)

		if token == wildcard {
			g.Any = true
			continue
		}

		if resource, action, ok := strings.Cut(token, ":"); ok {
			if resource == "" {
				g.unparseable = append(g.unparseable, raw)
				continue
			}
			if action == wildcard {
				g.anyOn[resource] = struct{}{}
				continue
			}
			a, err := ParseAction(action)
			if err != nil {
				g.unparseable = append(g.unparseable, raw)
				continue
			}
			g.scoped[ScopedAction{Resource: resource, Action: a}] = struct{}{}
			continue
		}

		if a, err := ParseAction(token); err == nil {
			g.actions[a] = struct{}{}
			continue
		}
		if m, err := ParseModule(token); err == nil {
			g.modules[m] = struct{}{}
			continue
		}
		g.unparseable = append(g.unparseable, raw)
	}

	return g
}

// Empty reports whether no permission tokens were supplied. A list made
// only of unrecognised tokens is not empty and grants nothing.
func (g Grants) Empty() bool {
	return len(g.raw) == 0
}

func (g Grants) AllowsAction(a Action, resource string) bool {
	if g.Any {
		return true
	}
	if _, ok := g.actions[a]; ok {
		return true
	}
	if resource == "" {
		return false
	}
	resource = strings.ToLower(resource)
	if _, ok := g.anyOn[resource]; ok {
		return true
	}
	_, ok := g.scoped[ScopedAction{Resource: resource, Action: a}]
	return ok
}

func (g Grants) AllowsModule(m Module) bool {
	if g.Any {
		return true
	}
	_, ok := g.modules[m]
	return ok
}

func (g Grants) Unparseable() []string {
	return g.unparseable
}

func (g Grants) Tokens() []string {
	out := make([]string, len(g.raw))
	copy(out, g.raw)
	return out
}
