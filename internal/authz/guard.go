// AngelaMos | 2026
// guard.go

package authz

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/carterperez-dev/templates/crm-backend/internal/audit"
	"github.com/carterperez-dev/templates/crm-backend/internal/core"
	"github.com/carterperez-dev/templates/crm-backend/internal/policy"
	"github.com/carterperez-dev/templates/crm-backend/internal/tenant"
)

const (
	checkAction    = "action"
	checkModule    = "module"
	checkHierarchy = "role_hierarchy"
	checkPlanLimit = "plan_limit"
	checkOwnership = "ownership"

	outcomeAllowed          = "allowed"
	outcomeDenied           = "denied"
	outcomeExempt           = "exempt"
	outcomeUsageUnavailable = "usage_unavailable"
)

// Decision is computed per call and never cached: role, plan and grants
// may change between requests.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow(reason string) Decision {
	return Decision{Allowed: true, Reason: reason}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// UsageCounter reports how much of a plan-limited resource the scoped
// company currently consumes.
type UsageCounter interface {
	Usage(ctx context.Context, scope *tenant.Scope, limit policy.Limit) (int64, error)
}

type GuardConfig struct {
	Policies *policy.Store
	Usage    UsageCounter
	Recorder *audit.Recorder
	Metrics  *core.Metrics
	Logger   *slog.Logger
	Tracer   trace.Tracer
}

// Guard gates actions by role, explicit grants, module enablement and plan
// ceilings. Every check takes the resolved Scope; none mutate it.
type Guard struct {
	policies *policy.Store
	usage    UsageCounter
	recorder *audit.Recorder
	metrics  *core.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewGuard(cfg GuardConfig) *Guard {
	g := &Guard{
		policies: cfg.Policies,
		usage:    cfg.Usage,
		recorder: cfg.Recorder,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer("crm-backend/authz")
	}
	return g
}

func (g *Guard) ActionDecision(scope *tenant.Scope, action policy.Action, resource string) Decision {
	p := scope.Principal()
	snap := g.policies.Snapshot()

	if p.Role.IsTop() {
		return allow("top-level role")
	}
	if !snap.RoleAllows(p.Role, action) {
		return deny("role does not allow action")
	}
	if !p.Permissions.Empty() && !snap.IsAdminEquivalent(p.Role) &&
		!p.Permissions.AllowsAction(action, resource) {
		return deny("permission list does not grant action")
	}
	return allow("role allows action")
}

func (g *Guard) RequireAction(
	ctx context.Context,
	scope *tenant.Scope,
	action policy.Action,
	resource string,
) error {
	d := g.ActionDecision(scope, action, resource)
	if d.Allowed {
		g.metrics.AuthzDecision(checkAction, outcomeAllowed)
		return nil
	}

	g.denied(ctx, scope, checkAction, d, audit.Event{
		Type:     audit.EventActionDenied,
		Action:   string(action),
		Resource: resource,
	})
	return core.ActionDeniedError()
}

// EnabledModules is the company's own module list, or its plan's modules
// when the company has none configured.
func (g *Guard) EnabledModules(p *tenant.Principal) policy.ModuleSet {
	if p.TenantModules.Any || len(p.TenantModules.List()) > 0 {
		return p.TenantModules
	}
	return g.policies.Snapshot().Plan(p.TenantPlan).Modules
}

func (g *Guard) ModuleDecision(scope *tenant.Scope, module policy.Module) Decision {
	p := scope.Principal()
	snap := g.policies.Snapshot()

	if p.Role.IsTop() {
		return allow("top-level role")
	}
	if !module.Administrative() && !g.EnabledModules(p).Contains(module) {
		return deny("module not enabled for company")
	}
	if !snap.RoleCanUseModule(p.Role, module) {
		return deny("role cannot use module")
	}
	if !p.Permissions.Empty() && !snap.IsAdminEquivalent(p.Role) &&
		!p.Permissions.AllowsModule(module) {
		return deny("permission list does not grant module")
	}
	return allow("module enabled")
}

func (g *Guard) RequireModule(
	ctx context.Context,
	scope *tenant.Scope,
	module policy.Module,
) error {
	d := g.ModuleDecision(scope, module)
	if d.Allowed {
		g.metrics.AuthzDecision(checkModule, outcomeAllowed)
		return nil
	}

	g.denied(ctx, scope, checkModule, d, audit.Event{
		Type:   audit.EventModuleDenied,
		Module: string(module),
	})
	return core.ModuleDeniedError()
}

// CheckRoleHierarchy applies whenever the actor creates a principal or
// changes one's role. current is empty for a principal being created. The
// actor must outrank both the target's current and requested role.
func (g *Guard) CheckRoleHierarchy(
	ctx context.Context,
	scope *tenant.Scope,
	current, requested policy.Role,
) error {
	if !requested.Valid() {
		return core.BadRequestError("unknown role")
	}

	p := scope.Principal()
	if p.Role.IsTop() {
		g.metrics.AuthzDecision(checkHierarchy, outcomeExempt)
		return nil
	}

	snap := g.policies.Snapshot()
	actor := snap.Level(p.Role)

	d := allow("actor outranks target")
	switch {
	case snap.Level(requested) >= actor:
		d = deny("requested role is not below actor")
	case current != "" && snap.Level(current) >= actor:
		d = deny("target role is not below actor")
	}

	if d.Allowed {
		g.metrics.AuthzDecision(checkHierarchy, outcomeAllowed)
		return nil
	}

	g.denied(ctx, scope, checkHierarchy, d, audit.Event{
		Type:   audit.EventRoleHierarchyViolation,
		Action: string(policy.ActionManageUsers),
		Details: map[string]any{
			"target_role":    string(current),
			"requested_role": string(requested),
		},
	})
	return core.RoleHierarchyError()
}

// CheckPlanLimit denies when current usage plus increment would exceed the
// company's plan ceiling. If usage cannot be computed the request is
// allowed: availability wins over strict enforcement for this check only.
func (g *Guard) CheckPlanLimit(
	ctx context.Context,
	scope *tenant.Scope,
	limit policy.Limit,
	increment int64,
) error {
	p := scope.Principal()
	if p.Role.IsTop() {
		g.metrics.AuthzDecision(checkPlanLimit, outcomeExempt)
		return nil
	}

	plan := g.policies.Snapshot().Plan(p.TenantPlan)
	ceiling := plan.Ceiling(limit)
	if ceiling == policy.Unlimited {
		g.metrics.AuthzDecision(checkPlanLimit, outcomeAllowed)
		return nil
	}

	attrs := append(core.BindingAttributes(scope.Binding()),
		attribute.String("limit", string(limit)),
		attribute.String("plan", string(plan.Name)),
		attribute.Int64("ceiling", ceiling),
	)
	ctx, span := g.tracer.Start(ctx, "authz.plan_limit", trace.WithAttributes(attrs...))
	defer span.End()

	current, err := g.usage.Usage(ctx, scope, limit)
	if err != nil {
		core.FailSpan(span, "usage", err)
		g.failOpen(ctx, scope, limit, plan.Name, err)
		return nil
	}
	span.SetAttributes(attribute.Int64("current", current))

	if current+increment <= ceiling {
		g.metrics.AuthzDecision(checkPlanLimit, outcomeAllowed)
		return nil
	}

	limitErr := &PlanLimitError{
		Limit:   limit,
		Current: current,
		Ceiling: ceiling,
		Plan:    plan.Name,
	}
	g.denied(ctx, scope, checkPlanLimit, deny("plan ceiling reached"), audit.Event{
		Type:     audit.EventPlanLimitExceeded,
		Resource: string(limit),
		Details: map[string]any{
			"current":   current,
			"increment": increment,
			"limit":     ceiling,
			"plan":      string(plan.Name),
		},
	})
	return limitErr
}

// failOpen is the single place a plan check lets a request through without
// knowing usage. It is logged and counted so operators can see how often
// enforcement was skipped.
func (g *Guard) failOpen(
	ctx context.Context,
	scope *tenant.Scope,
	limit policy.Limit,
	plan policy.PlanName,
	err error,
) {
	g.metrics.AuthzDecision(checkPlanLimit, outcomeUsageUnavailable)
	g.logger.ErrorContext(ctx, "plan usage unavailable, allowing request",
		"limit", limit,
		"plan", plan,
		"scope", scope,
		"error", err,
	)
}

// RequireOwnershipOrResource lets manager and above through and limits
// lower roles to records about themselves.
func (g *Guard) RequireOwnershipOrResource(
	ctx context.Context,
	scope *tenant.Scope,
	targetID string,
) error {
	p := scope.Principal()
	if p.Role.IsTop() || g.policies.Snapshot().IsElevated(p.Role) {
		g.metrics.AuthzDecision(checkOwnership, outcomeAllowed)
		return nil
	}
	if targetID != "" && targetID == p.ID {
		g.metrics.AuthzDecision(checkOwnership, outcomeAllowed)
		return nil
	}

	g.denied(ctx, scope, checkOwnership, deny("not owner"), audit.Event{
		Type:     audit.EventActionDenied,
		Action:   string(policy.ActionUpdateOwn),
		Resource: "principal:" + targetID,
	})
	return core.ActionDeniedError()
}

func (g *Guard) denied(
	ctx context.Context,
	scope *tenant.Scope,
	check string,
	d Decision,
	e audit.Event,
) {
	p := scope.Principal()
	g.metrics.AuthzDecision(check, outcomeDenied)

	e.ActorID = p.ID
	e.ActorRole = p.Role.String()
	if id, ok := scope.TenantID(); ok {
		e.TenantID = &id
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details["reason"] = d.Reason
	e.Details["bypass"] = scope.Bypass()

	g.logger.WarnContext(ctx, "authorization denied",
		"check", check,
		"reason", d.Reason,
		"principal", p.ID,
		"role", p.Role,
		"scope", scope,
	)
	g.recorder.Record(ctx, e)
}

// PlanLimitError carries the numbers a tenant needs to act on a denial.
type PlanLimitError struct {
	Limit   policy.Limit
	Current int64
	Ceiling int64
	Plan    policy.PlanName
}

func (e *PlanLimitError) Error() string {
	return fmt.Sprintf("plan %s limit %s exceeded: %d of %d",
		e.Plan, e.Limit, e.Current, e.Ceiling)
}

func (e *PlanLimitError) Unwrap() error {
	return core.ErrPlanLimitExceeded
}

func (e *PlanLimitError) AppError() *core.AppError {
	return core.PlanLimitError(string(e.Limit), e.Current, e.Ceiling, string(e.Plan))
}

func scopeOrFail(w http.ResponseWriter, r *http.Request) (*tenant.Scope, bool) {
	scope, ok := tenant.FromContext(r.Context())
	if !ok {
		core.JSONError(w, core.TenantContextMissingError())
		return nil, false
	}
	return scope, true
}

func (g *Guard) Action(action policy.Action, resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope, ok := scopeOrFail(w, r)
			if !ok {
				return
			}
			if err := g.RequireAction(r.Context(), scope, action, resource); err != nil {
				core.JSONError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) Module(module policy.Module) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope, ok := scopeOrFail(w, r)
			if !ok {
				return
			}
			if err := g.RequireModule(r.Context(), scope, module); err != nil {
				core.JSONError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) PlanLimit(limit policy.Limit, increment int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope, ok := scopeOrFail(w, r)
			if !ok {
				return
			}
			if err := g.CheckPlanLimit(r.Context(), scope, limit, increment); err != nil {
				core.JSONError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) OwnerOr(extract func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope, ok := scopeOrFail(w, r)
			if !ok {
				return
			}
			if err := g.RequireOwnershipOrResource(r.Context(), scope, extract(r)); err != nil {
				core.JSONError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTop admits only the top-level role. Used for operator routes.
func (g *Guard) RequireTop(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := tenant.PrincipalFromContext(r.Context())
		if !ok {
			core.JSONError(w, core.UnauthorizedError(""))
			return
		}
		if !p.Role.IsTop() {
			g.metrics.AuthzDecision(checkAction, outcomeDenied)
			g.logger.WarnContext(r.Context(), "operator route denied",
				"principal", p.ID,
				"role", p.Role,
			)
			core.JSONError(w, core.ActionDeniedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}
