// AngelaMos | 2026
// sinks.go

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carterperez-dev/templates/crm-backend/internal/core"
)

type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "audit")}
}

func (s *LogSink) Emit(ctx context.Context, e Event) error {
	attrs := []any{
		"event_id", e.ID,
		"event_type", e.Type,
		"actor_id", e.ActorID,
		"actor_role", e.ActorRole,
		"tenant_id", optional(e.TenantID),
		"endpoint", e.Endpoint,
		"request_id", e.RequestID,
	}
	if e.TargetTenantID != nil {
		attrs = append(attrs, "target_tenant_id", *e.TargetTenantID)
	}
	if e.Action != "" {
		attrs = append(attrs, "action", e.Action)
	}
	if e.Module != "" {
		attrs = append(attrs, "module", e.Module)
	}
	if e.Resource != "" {
		attrs = append(attrs, "resource", e.Resource)
	}
	if len(e.Details) > 0 {
		attrs = append(attrs, "details", e.Details)
	}

	s.logger.WarnContext(ctx, "audit event", attrs...)
	return nil
}

func optional(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// SQLSink appends events to the audit_logs table. Writes run unbound since
// an override event names two tenants.
type SQLSink struct {
	exec *core.Executor
}

func NewSQLSink(exec *core.Executor) *SQLSink {
	return &SQLSink{exec: exec}
}

const insertAuditLog = `
	INSERT INTO audit_logs (
		id, event_type, actor_id, actor_role, company_id, target_company_id,
		action, module, resource, endpoint, request_id, details, created_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
	)`

func (s *SQLSink) Emit(ctx context.Context, e Event) error {
	details, err := marshalDetails(e.Details)
	if err != nil {
		return err
	}

	_, err = s.exec.Exec(ctx, core.Unbound, insertAuditLog,
		e.ID,
		string(e.Type),
		nullString(e.ActorID),
		e.ActorRole,
		e.TenantID,
		e.TargetTenantID,
		nullString(e.Action),
		nullString(e.Module),
		nullString(e.Resource),
		e.Endpoint,
		nullString(e.RequestID),
		details,
		e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func marshalDetails(details map[string]any) (string, error) {
	if len(details) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("marshal audit details: %w", err)
	}
	return string(b), nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RedisStreamSink publishes each event onto a capped redis stream for
// downstream consumers.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Emit(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	values := map[string]any{
		"id":        e.ID,
		"type":      string(e.Type),
		"actor_id":  e.ActorID,
		"tenant_id": formatOptional(e.TenantID),
		"ts":        e.Timestamp.Format(time.RFC3339Nano),
		"payload":   string(payload),
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: values,
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

func formatOptional(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
