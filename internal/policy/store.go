// AngelaMos | 2026
// store.go

package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Store publishes the current Snapshot. Reads are a single atomic load;
// Reload swaps in a fully built replacement or leaves the old one in place.
type Store struct {
	current atomic.Pointer[Snapshot]
	path    string
	logger  *slog.Logger
	mu      sync.Mutex
}

func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{path: path, logger: logger}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func NewStaticStore(snap *Snapshot) *Store {
	s := &Store{logger: slog.Default()}
	s.current.Store(snap)
	return s
}

func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Reload rebuilds the snapshot from the builtin tables plus the override
// file, if one is configured.
func (s *Store) Reload() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Default()
	if s.path != "" {
		loaded, err := LoadFile(s.path)
		if err != nil {
			return nil, err
		}
		snap = loaded
	}

	s.current.Store(snap)
	s.logger.Info("policy loaded",
		"source", snap.Source(),
		"plans", len(snap.plans),
	)
	return snap, nil
}

// Watch reloads on every change to the override file until ctx is done.
// A bad edit is logged and the previous snapshot stays active.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("policy watch: no override file configured")
	}

	provider := file.Provider(s.path)
	err := provider.Watch(func(_ any, err error) {
		if err != nil {
			s.logger.Warn("policy watch error", "error", err)
			return
		}
		if _, err := s.Reload(); err != nil {
			s.logger.Error("policy reload rejected, keeping previous",
				"path", s.path,
				"error", err,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("policy watch: %w", err)
	}

	go func() {
		<-ctx.Done()
		if err := provider.Unwatch(); err != nil {
			s.logger.Warn("policy unwatch", "error", err)
		}
	}()

	return nil
}

type overrideFile struct {
	DefaultPlan string                  `koanf:"default_plan"`
	Roles       map[string]roleOverride `koanf:"roles"`
	Modules     map[string][]string     `koanf:"modules"`
	Plans       map[string]planOverride `koanf:"plans"`
}

type roleOverride struct {
	Level   int      `koanf:"level"`
	Actions []string `koanf:"actions"`
}

type planOverride struct {
	Limits            map[string]int64 `koanf:"limits"`
	Modules           []string         `koanf:"modules"`
	Features          []string         `koanf:"features"`
	RequestsPerMinute int              `koanf:"requests_per_minute"`
}

// LoadFile layers a YAML override onto the builtin tables. Roles, actions
// and modules stay closed: unknown names are an error, not an extension.
func LoadFile(path string) (*Snapshot, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load policy file %s: %w", path, err)
	}

	var doc overrideFile
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("decode policy file %s: %w", path, err)
	}

	snap, err := apply(Default().clone(), doc)
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	snap.source = path

	if err := snap.validate(); err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return snap, nil
}

func apply(snap *Snapshot, doc overrideFile) (*Snapshot, error) {
	for name, ro := range doc.Roles {
		role, err := ParseRole(name)
		if err != nil {
			return nil, err
		}
		entry := snap.roles[role]
		if ro.Level != 0 {
			entry.level = ro.Level
		}
		if ro.Actions != nil {
			actions, err := parseActions(ro.Actions)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", role, err)
			}
			entry.actions = actions
		}
		snap.roles[role] = entry
	}

	for name, roleNames := range doc.Modules {
		module, err := ParseModule(name)
		if err != nil {
			return nil, err
		}
		roles := make(map[Role]struct{}, len(roleNames))
		for _, rn := range roleNames {
			r, err := ParseRole(rn)
			if err != nil {
				return nil, fmt.Errorf("module %s: %w", module, err)
			}
			roles[r] = struct{}{}
		}
		snap.moduleRoles[module] = roles
	}

	for name, po := range doc.Plans {
		planName := PlanName(strings.ToLower(strings.TrimSpace(name)))
		if planName == "" {
			return nil, fmt.Errorf("plan name must not be empty")
		}

		plan, ok := snap.plans[planName]
		if !ok {
			plan = Plan{
				Name:              planName,
				Limits:            map[Limit]int64{},
				Modules:           NewModuleSet(),
				RequestsPerMinute: snap.plans[snap.defaultPlan].RequestsPerMinute,
			}
		}

		for ln, v := range po.Limits {
			l, err := ParseLimit(ln)
			if err != nil {
				return nil, fmt.Errorf("plan %s: %w", planName, err)
			}
			plan.Limits[l] = v
		}
		if po.Modules != nil {
			set, unknown := ParseModuleSet(po.Modules)
			if len(unknown) > 0 {
				return nil, fmt.Errorf("plan %s: unknown modules %v", planName, unknown)
			}
			plan.Modules = set
		}
		if po.Features != nil {
			plan.Features = po.Features
		}
		if po.RequestsPerMinute != 0 {
			plan.RequestsPerMinute = po.RequestsPerMinute
		}
		snap.plans[planName] = plan
	}

	if doc.DefaultPlan != "" {
		snap.defaultPlan = PlanName(strings.ToLower(doc.DefaultPlan))
	}

	return snap, nil
}

func parseActions(tokens []string) (ActionSet, error) {
	actions := make([]Action, 0, len(tokens))
	for _, t := range tokens {
		if strings.TrimSpace(t) == wildcard {
			return AnyAction(), nil
		}
		a, err := ParseAction(t)
		if err != nil {
			return ActionSet{}, err
		}
		actions = append(actions, a)
	}
	return NewActionSet(actions...), nil
}
