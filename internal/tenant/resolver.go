// AngelaMos | 2026
// resolver.go

package tenant

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/carterperez-dev/templates/crm-backend/internal/audit"
	"github.com/carterperez-dev/templates/crm-backend/internal/core"
)

var ErrInvalidTarget = errors.New("invalid target company id")

// Signals are the optional override inputs a request may carry. They only
// matter for the top-level role.
type Signals struct {
	Bypass    bool
	TargetSet bool
	Target    int64
}

type ResolverConfig struct {
	BypassHeader string
	TargetHeader string
	Column       string
	Logger       *slog.Logger
	Metrics      *core.Metrics
	Recorder     *audit.Recorder
}

type Resolver struct {
	bypassHeader string
	targetHeader string
	column       string
	logger       *slog.Logger
	metrics      *core.Metrics
	recorder     *audit.Recorder
}

func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{
		bypassHeader: cfg.BypassHeader,
		targetHeader: cfg.TargetHeader,
		column:       cfg.Column,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		recorder:     cfg.Recorder,
	}
	if r.bypassHeader == "" {
		r.bypassHeader = "X-Tenant-Bypass"
	}
	if r.targetHeader == "" {
		r.targetHeader = "X-Target-Company-ID"
	}
	if r.column == "" {
		r.column = "company_id"
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Resolve computes the effective tenant for p. It has no side effects and
// returns the same answer for the same inputs.
func (rv *Resolver) Resolve(p *Principal, sig Signals) (*Scope, error) {
	if p == nil {
		return nil, core.ErrUnauthorized
	}

	scope := &Scope{
		principal:      p,
		originalTenant: p.TenantID,
		column:         rv.column,
		logger:         rv.logger,
	}

	// A bypass flag with no target, or target 0, means unscoped access.
	if p.Role.IsTop() && sig.Bypass {
		scope.bypass = true
		if !sig.TargetSet || sig.Target == 0 {
			scope.mode = ModeGlobal
			return scope, nil
		}
		scope.mode = ModeTenant
		scope.tenantID = sig.Target
		return scope, nil
	}

	if p.TenantID == nil {
		if p.Role.IsTop() {
			scope.mode = ModeGlobal
			return scope, nil
		}
		return nil, fmt.Errorf("principal %s has no company: %w", p.ID, core.ErrTenantInactive)
	}

	if p.TenantStatus != StatusActive {
		return nil, fmt.Errorf("company %d is %s: %w", *p.TenantID, p.TenantStatus, core.ErrTenantInactive)
	}

	scope.mode = ModeTenant
	scope.tenantID = *p.TenantID
	return scope, nil
}

// Signals reads the override headers. A bypass flag that is not a valid
// boolean counts as absent; a target that is not a non-negative integer is
// ErrInvalidTarget.
func (rv *Resolver) Signals(r *http.Request) (Signals, error) {
	var sig Signals

	if raw := strings.TrimSpace(r.Header.Get(rv.bypassHeader)); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			sig.Bypass = v
		}
	}

	raw := strings.TrimSpace(r.Header.Get(rv.targetHeader))
	if raw == "" {
		return sig, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return sig, fmt.Errorf("%q: %w", raw, ErrInvalidTarget)
	}
	sig.TargetSet = true
	sig.Target = id
	return sig, nil
}

// Middleware must run after authentication. A Scope already present in the
// context is reused so stacking the middleware twice is harmless.
func (rv *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if _, ok := FromContext(ctx); ok {
			next.ServeHTTP(w, r)
			return
		}

		p, ok := PrincipalFromContext(ctx)
		if !ok {
			core.JSONError(w, core.UnauthorizedError(""))
			return
		}

		sig, sigErr := rv.Signals(r)
		if sigErr != nil {
			if p.Role.IsTop() {
				core.BadRequest(w, "invalid target company id")
				return
			}
			sig = Signals{}
		}

		scope, err := rv.Resolve(p, sig)
		if err != nil {
			if errors.Is(err, core.ErrTenantInactive) {
				rv.recorder.Record(ctx, audit.Event{
					Type:      audit.EventTenantInactive,
					ActorID:   p.ID,
					ActorRole: p.Role.String(),
					TenantID:  p.TenantID,
					Endpoint:  endpoint(r),
				})
			}
			rv.logger.WarnContext(ctx, "tenant resolution rejected",
				"principal", p.ID,
				"role", p.Role,
				"error", err,
			)
			core.JSONError(w, err)
			return
		}

		rv.announce(r, scope)
		next.ServeHTTP(w, r.WithContext(WithScope(ctx, scope)))
	})
}

func (rv *Resolver) announce(r *http.Request, scope *Scope) {
	ctx := r.Context()
	p := scope.principal
	rv.metrics.TenantResolved(scope.mode.String(), scope.bypass)

	if scope.bypass {
		var target *int64
		if id, ok := scope.TenantID(); ok {
			target = &id
		}
		rv.recorder.Record(ctx, audit.Event{
			Type:           audit.EventTenantOverride,
			ActorID:        p.ID,
			ActorRole:      p.Role.String(),
			TenantID:       scope.originalTenant,
			TargetTenantID: target,
			Endpoint:       endpoint(r),
			Details:        map[string]any{"mode": scope.mode.String()},
		})
	}

	if scope.mode == ModeGlobal {
		rv.logger.WarnContext(ctx, "unscoped tenant access",
			"principal", p.ID,
			"bypass", scope.bypass,
			"endpoint", endpoint(r),
		)
	}
}

func endpoint(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}
