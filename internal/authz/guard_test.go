// AngelaMos | 2026
// guard_test.go

package authz

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/crm-backend/internal/audit"
	"github.com/carterperez-dev/templates/crm-backend/internal/core"
	"github.com/carterperez-dev/templates/crm-backend/internal/policy"
	"github.com/carterperez-dev/templates/crm-backend/internal/tenant"
)

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureSink) Emit(_ context.Context, e audit.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *captureSink) all() []audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Event(nil), c.events...)
}

type fixedUsage struct {
	n     int64
	err   error
	calls int
}

func (f *fixedUsage) Usage(context.Context, *tenant.Scope, policy.Limit) (int64, error) {
	f.calls++
	return f.n, f.err
}

type fixture struct {
	guard *Guard
	sink  *captureSink
	usage *fixedUsage
	reg   *prometheus.Registry
}

func (f *fixture) decisions(t *testing.T, check, outcome string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "crm_authz_decisions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["check"] == check && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := &captureSink{}
	usage := &fixedUsage{}
	reg := prometheus.NewRegistry()
	metrics := core.NewMetrics(reg)

	g := NewGuard(GuardConfig{
		Policies: policy.NewStaticStore(policy.Default()),
		Usage:    usage,
		Recorder: audit.NewRecorder(sink, time.Second, logger),
		Metrics:  metrics,
		Logger:   logger,
	})
	return &fixture{guard: g, sink: sink, usage: usage, reg: reg}
}

func scopeFor(t *testing.T, p *tenant.Principal) *tenant.Scope {
	t.Helper()
	rv := tenant.NewResolver(tenant.ResolverConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	scope, err := rv.Resolve(p, tenant.Signals{})
	require.NoError(t, err)
	return scope
}

func principal(role policy.Role, plan policy.PlanName, perms ...string) *tenant.Principal {
	id := int64(42)
	return &tenant.Principal{
		ID:           "user-" + string(role),
		Role:         role,
		TenantID:     &id,
		TenantStatus: tenant.StatusActive,
		TenantPlan:   plan,
		Permissions:  policy.ParseGrants(perms),
	}
}

func superAdmin() *tenant.Principal {
	return &tenant.Principal{ID: "root", Role: policy.RoleSuperAdmin}
}

func TestUserCannotDelete(t *testing.T) {
	f := newFixture(t)
	scope := scopeFor(t, principal(policy.RoleUser, policy.PlanStarter))

	err := f.guard.RequireAction(context.Background(), scope, policy.ActionDelete, "leads")
	require.ErrorIs(t, err, core.ErrActionDenied)

	events := f.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventActionDenied, events[0].Type)
	assert.Equal(t, "delete", events[0].Action)
	assert.Equal(t, "leads", events[0].Resource)
	require.NotNil(t, events[0].TenantID)
	assert.Equal(t, int64(42), *events[0].TenantID)
	assert.Equal(t, 1.0, f.decisions(t, checkAction, outcomeDenied))
}

func TestActionDecisions(t *testing.T) {
	tests := []struct {
		name     string
		p        *tenant.Principal
		action   policy.Action
		resource string
		allowed  bool
	}{
		{"super admin any action", superAdmin(), policy.ActionManageUsers, "", true},
		{"viewer reads", principal(policy.RoleViewer, policy.PlanFree), policy.ActionRead, "", true},
		{"viewer cannot create", principal(policy.RoleViewer, policy.PlanFree), policy.ActionCreate, "", false},
		{"manager deletes", principal(policy.RoleManager, policy.PlanFree), policy.ActionDelete, "sales", true},
		{
			"grant list narrows manager",
			principal(policy.RoleManager, policy.PlanFree, "read", "leads:delete"),
			policy.ActionDelete, "sales", false,
		},
		{
			"scoped grant matches resource",
			principal(policy.RoleManager, policy.PlanFree, "read", "leads:delete"),
			policy.ActionDelete, "leads", true,
		},
		{
			"grant cannot widen role",
			principal(policy.RoleUser, policy.PlanFree, "*"),
			policy.ActionDelete, "leads", false,
		},
		{
			"admin ignores grant list",
			principal(policy.RoleCompanyAdmin, policy.PlanFree, "read"),
			policy.ActionExport, "", true,
		},
		{
			"unknown tokens grant nothing",
			principal(policy.RoleManager, policy.PlanFree, "teleport"),
			policy.ActionRead, "", false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			d := f.guard.ActionDecision(scopeFor(t, tt.p), tt.action, tt.resource)
			assert.Equal(t, tt.allowed, d.Allowed, d.Reason)
		})
	}
}

func TestModuleDecisions(t *testing.T) {
	withModules := func(p *tenant.Principal, names ...string) *tenant.Principal {
		p.TenantModules, _ = policy.ParseModuleSet(names)
		return p
	}

	tests := []struct {
		name    string
		p       *tenant.Principal
		module  policy.Module
		allowed bool
	}{
		{"plan modules when company has none", principal(policy.RoleUser, policy.PlanFree), policy.ModuleLeads, true},
		{"plan excludes module", principal(policy.RoleUser, policy.PlanFree), policy.ModuleSales, false},
		{
			"company list overrides plan",
			withModules(principal(policy.RoleUser, policy.PlanFree), "sales"),
			policy.ModuleSales, true,
		},
		{
			"company list excludes plan module",
			withModules(principal(policy.RoleUser, policy.PlanProfessional), "sales"),
			policy.ModuleReports, false,
		},
		{"enterprise has every module", principal(policy.RoleCompanyAdmin, policy.PlanEnterprise), policy.ModuleSettings, true},
		{"role table excludes module", principal(policy.RoleViewer, policy.PlanProfessional), policy.ModuleSettings, false},
		{"role table excludes reports for users", principal(policy.RoleUser, policy.PlanProfessional), policy.ModuleReports, false},
		{"administrative module outside plan", principal(policy.RoleManager, policy.PlanFree), policy.ModuleUsers, true},
		{"administrative module still needs role", principal(policy.RoleUser, policy.PlanFree), policy.ModuleUsers, false},
		{"super admin needs no module", superAdmin(), policy.ModuleReports, true},
		{
			"grant list narrows modules",
			principal(policy.RoleUser, policy.PlanStarter, "leads"),
			policy.ModuleSales, false,
		},
		{
			"unknown plan falls back to free",
			principal(policy.RoleUser, policy.PlanName("platinum")),
			policy.ModuleSales, false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			d := f.guard.ModuleDecision(scopeFor(t, tt.p), tt.module)
			assert.Equal(t, tt.allowed, d.Allowed, d.Reason)
		})
	}
}

func TestRequireModuleDeniedIsAudited(t *testing.T) {
	f := newFixture(t)
	scope := scopeFor(t, principal(policy.RoleManager, policy.PlanFree))

	err := f.guard.RequireModule(context.Background(), scope, policy.ModuleReports)
	require.ErrorIs(t, err, core.ErrModuleDenied)

	events := f.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventModuleDenied, events[0].Type)
	assert.Equal(t, "reports", events[0].Module)
}

func TestRoleHierarchy(t *testing.T) {
	tests := []struct {
		name      string
		actor     *tenant.Principal
		current   policy.Role
		requested policy.Role
		wantErr   error
	}{
		{"manager creates user", principal(policy.RoleManager, policy.PlanFree), "", policy.RoleUser, nil},
		{"manager cannot create peer", principal(policy.RoleManager, policy.PlanFree), "", policy.RoleManager, core.ErrRoleHierarchy},
		{"manager cannot promote", principal(policy.RoleManager, policy.PlanFree), policy.RoleUser, policy.RoleCompanyAdmin, core.ErrRoleHierarchy},
		{"manager cannot demote admin", principal(policy.RoleManager, policy.PlanFree), policy.RoleCompanyAdmin, policy.RoleViewer, core.ErrRoleHierarchy},
		{"admin promotes to manager", principal(policy.RoleCompanyAdmin, policy.PlanFree), policy.RoleUser, policy.RoleManager, nil},
		{"super admin exempt", superAdmin(), policy.RoleSuperAdmin, policy.RoleSuperAdmin, nil},
		{"unknown role", principal(policy.RoleCompanyAdmin, policy.PlanFree), "", policy.Role("owner"), core.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.guard.CheckRoleHierarchy(context.Background(), scopeFor(t, tt.actor), tt.current, tt.requested)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSeatLimitAtCeiling(t *testing.T) {
	f := newFixture(t)
	f.usage.n = 5
	scope := scopeFor(t, principal(policy.RoleCompanyAdmin, policy.PlanStarter))

	err := f.guard.CheckPlanLimit(context.Background(), scope, policy.LimitSeats, 1)
	require.ErrorIs(t, err, core.ErrPlanLimitExceeded)

	var limitErr *PlanLimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, int64(5), limitErr.Current)
	assert.Equal(t, int64(5), limitErr.Ceiling)
	assert.Equal(t, policy.PlanStarter, limitErr.Plan)

	appErr := core.FromError(err)
	assert.Equal(t, http.StatusForbidden, appErr.StatusCode)
	assert.Equal(t, int64(5), appErr.Details["current"])
	assert.Equal(t, int64(5), appErr.Details["limit"])

	events := f.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventPlanLimitExceeded, events[0].Type)
}

func TestPlanLimitBoundary(t *testing.T) {
	f := newFixture(t)
	scope := scopeFor(t, principal(policy.RoleCompanyAdmin, policy.PlanFree))

	f.usage.n = 1
	assert.NoError(t, f.guard.CheckPlanLimit(context.Background(), scope, policy.LimitSeats, 1))

	f.usage.n = 2
	assert.ErrorIs(t,
		f.guard.CheckPlanLimit(context.Background(), scope, policy.LimitSeats, 1),
		core.ErrPlanLimitExceeded)
}

func TestUnlimitedPlanSkipsCounting(t *testing.T) {
	f := newFixture(t)
	f.usage.n = 1 << 40
	scope := scopeFor(t, principal(policy.RoleCompanyAdmin, policy.PlanEnterprise))

	assert.NoError(t, f.guard.CheckPlanLimit(context.Background(), scope, policy.LimitSeats, 1000))
	assert.Zero(t, f.usage.calls)
}

func TestPlanLimitFailsOpenWhenUsageUnavailable(t *testing.T) {
	f := newFixture(t)
	f.usage.err = errors.New("connection refused")
	scope := scopeFor(t, principal(policy.RoleCompanyAdmin, policy.PlanFree))

	assert.NoError(t, f.guard.CheckPlanLimit(context.Background(), scope, policy.LimitSeats, 1))
	assert.Empty(t, f.sink.all())
	assert.Equal(t, 1.0, f.decisions(t, checkPlanLimit, outcomeUsageUnavailable))
}

func TestOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := scopeFor(t, principal(policy.RoleUser, policy.PlanFree))
	assert.NoError(t, f.guard.RequireOwnershipOrResource(ctx, user, "user-user"))
	assert.ErrorIs(t, f.guard.RequireOwnershipOrResource(ctx, user, "someone-else"), core.ErrActionDenied)
	assert.ErrorIs(t, f.guard.RequireOwnershipOrResource(ctx, user, ""), core.ErrActionDenied)

	manager := scopeFor(t, principal(policy.RoleManager, policy.PlanFree))
	assert.NoError(t, f.guard.RequireOwnershipOrResource(ctx, manager, "someone-else"))
}

func TestDecisionsAreNotCached(t *testing.T) {
	f := newFixture(t)
	p := principal(policy.RoleViewer, policy.PlanFree)
	scope := scopeFor(t, p)

	assert.False(t, f.guard.ActionDecision(scope, policy.ActionCreate, "").Allowed)
	p.Role = policy.RoleManager
	assert.True(t, f.guard.ActionDecision(scope, policy.ActionCreate, "").Allowed)
}

func TestMiddlewareWithoutScopeFailsClosed(t *testing.T) {
	f := newFixture(t)
	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

	handlers := map[string]http.Handler{
		"action":     f.guard.Action(policy.ActionRead, "leads")(next),
		"module":     f.guard.Module(policy.ModuleLeads)(next),
		"plan limit": f.guard.PlanLimit(policy.LimitSeats, 1)(next),
		"owner":      f.guard.OwnerOr(func(*http.Request) string { return "x" })(next),
	}

	for name, h := range handlers {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/leads", nil))

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Contains(t, rec.Body.String(), "TENANT_CONTEXT_MISSING")
			assert.False(t, called)
		})
	}
}

func TestActionMiddleware(t *testing.T) {
	f := newFixture(t)
	h := f.guard.Action(policy.ActionDelete, "leads")(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	)

	serve := func(p *tenant.Principal) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/v1/leads/1", nil)
		ctx := core.WithEndpoint(req.Context(), "DELETE /v1/leads/1")
		ctx = tenant.WithScope(ctx, scopeFor(t, p))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req.WithContext(ctx))
		return rec
	}

	assert.Equal(t, http.StatusForbidden, serve(principal(policy.RoleUser, policy.PlanFree)).Code)
	assert.Equal(t, http.StatusNoContent, serve(principal(policy.RoleManager, policy.PlanFree)).Code)

	events := f.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "DELETE /v1/leads/1", events[0].Endpoint)
}

func TestRequireTop(t *testing.T) {
	f := newFixture(t)
	h := f.guard.RequireTop(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(p *tenant.Principal) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/stats", nil)
		if p != nil {
			req = req.WithContext(tenant.WithPrincipal(req.Context(), p))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve(superAdmin()))
	assert.Equal(t, http.StatusForbidden, serve(principal(policy.RoleCompanyAdmin, policy.PlanFree)))
	assert.Equal(t, http.StatusUnauthorized, serve(nil))
}
