// AngelaMos | 2026
// audit.go

package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/carterperez-dev/templates/crm-backend/internal/core"
)

type EventType string

const (
	EventTenantOverride         EventType = "tenant.override"
	EventTenantInactive         EventType = "tenant.inactive_blocked"
	EventActionDenied           EventType = "authz.action_denied"
	EventModuleDenied           EventType = "authz.module_denied"
	EventRoleHierarchyViolation EventType = "authz.role_hierarchy_violation"
	EventPlanLimitExceeded      EventType = "authz.plan_limit_exceeded"
	EventTenantStatusChanged    EventType = "tenant.status_changed"
	EventPolicyReloaded         EventType = "policy.reloaded"
)

type Event struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	ActorID        string         `json:"actor_id"`
	ActorRole      string         `json:"actor_role"`
	TenantID       *int64         `json:"tenant_id"`
	TargetTenantID *int64         `json:"target_tenant_id,omitempty"`
	Action         string         `json:"action,omitempty"`
	Module         string         `json:"module,omitempty"`
	Resource       string         `json:"resource,omitempty"`
	Endpoint       string         `json:"endpoint,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	TraceID        string         `json:"trace_id,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

type Sink interface {
	Emit(ctx context.Context, e Event) error
}

type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Emit(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Recorder delivers events best effort. Record never fails the caller: a
// slow or broken sink costs at most the configured timeout and a log line.
type Recorder struct {
	sink    Sink
	timeout time.Duration
	logger  *slog.Logger
}

func NewRecorder(sink Sink, timeout time.Duration, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Recorder{sink: sink, timeout: timeout, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil || r.sink == nil {
		return
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.RequestID == "" {
		e.RequestID = core.RequestIDFromContext(ctx)
	}
	if e.Endpoint == "" {
		e.Endpoint = core.EndpointFromContext(ctx)
	}
	if e.TraceID == "" {
		e.TraceID = core.TraceIDFromContext(ctx)
	}

	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "audit sink panicked",
				"event_type", e.Type,
				"panic", p,
			)
		}
	}()

	if err := r.sink.Emit(emitCtx, e); err != nil {
		r.logger.ErrorContext(ctx, "audit delivery failed",
			"event_id", e.ID,
			"event_type", e.Type,
			"actor_id", e.ActorID,
			"error", err,
		)
	}
}

func Int64Ptr(v int64) *int64 {
	return &v
}
