// AngelaMos | 2026
// audit_test.go

package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/crm-backend/internal/audit"
	"github.com/carterperez-dev/templates/crm-backend/internal/core"
	"github.com/carterperez-dev/templates/crm-backend/internal/core/coretest"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecorderFillsEnvelope(t *testing.T) {
	var got audit.Event
	rec := audit.NewRecorder(audit.SinkFunc(func(_ context.Context, e audit.Event) error {
		got = e
		return nil
	}), time.Second, discard())

	ctx := core.WithRequestID(context.Background(), "req-1")
	ctx = core.WithEndpoint(ctx, "GET /v1/leads")
	rec.Record(ctx, audit.Event{Type: audit.EventActionDenied, ActorID: "u-1"})

	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "GET /v1/leads", got.Endpoint)
}

func TestRecorderNeverFailsCaller(t *testing.T) {
	tests := map[string]audit.SinkFunc{
		"error": func(context.Context, audit.Event) error {
			return errors.New("sink down")
		},
		"panic": func(context.Context, audit.Event) error {
			panic("boom")
		},
		"slow": func(ctx context.Context, _ audit.Event) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}

	for name, sink := range tests {
		t.Run(name, func(t *testing.T) {
			rec := audit.NewRecorder(sink, 20*time.Millisecond, discard())
			start := time.Now()
			assert.NotPanics(t, func() {
				rec.Record(context.Background(), audit.Event{Type: audit.EventTenantOverride})
			})
			assert.Less(t, time.Since(start), time.Second)
		})
	}
}

func TestRecorderSurvivesCancelledRequest(t *testing.T) {
	var sinkErr error
	rec := audit.NewRecorder(audit.SinkFunc(func(ctx context.Context, _ audit.Event) error {
		sinkErr = ctx.Err()
		return nil
	}), time.Second, discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Record(ctx, audit.Event{Type: audit.EventTenantOverride})

	assert.NoError(t, sinkErr)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *audit.Recorder
	assert.NotPanics(t, func() {
		rec.Record(context.Background(), audit.Event{})
	})
}

func TestSQLSinkInsertsUnbound(t *testing.T) {
	exec, mock := coretest.NewExecutor(t)
	sink := audit.NewSQLSink(exec)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs(
			"evt-1", "tenant.override", "root", "super_admin",
			nil, int64(7),
			nil, nil, nil,
			"GET /v1/leads", "req-9",
			`{"mode":"tenant"}`,
			ts,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := sink.Emit(context.Background(), audit.Event{
		ID:             "evt-1",
		Type:           audit.EventTenantOverride,
		ActorID:        "root",
		ActorRole:      "super_admin",
		TargetTenantID: audit.Int64Ptr(7),
		Endpoint:       "GET /v1/leads",
		RequestID:      "req-9",
		Details:        map[string]any{"mode": "tenant"},
		Timestamp:      ts,
	})
	require.NoError(t, err)
}

func TestSQLSinkReportsFailure(t *testing.T) {
	exec, mock := coretest.NewExecutor(t)
	sink := audit.NewSQLSink(exec)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnError(errors.New("relation does not exist"))

	err := sink.Emit(context.Background(), audit.Event{ID: "e", Type: audit.EventActionDenied})
	assert.ErrorIs(t, err, core.ErrDataAccess)
}

func TestRedisStreamSink(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sink := audit.NewRedisStreamSink(client, "crm:audit", 2)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, sink.Emit(ctx, audit.Event{
			ID:        id,
			Type:      audit.EventModuleDenied,
			ActorID:   "u-1",
			TenantID:  audit.Int64Ptr(42),
			Module:    "reports",
			Timestamp: time.Now().UTC(),
		}))
	}

	msgs, err := client.XRange(ctx, "crm:audit", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	last := msgs[1].Values
	assert.Equal(t, "c", last["id"])
	assert.Equal(t, "42", last["tenant_id"])

	var decoded audit.Event
	require.NoError(t, json.Unmarshal([]byte(last["payload"].(string)), &decoded))
	assert.Equal(t, "reports", decoded.Module)
}

func TestMultiJoinsErrors(t *testing.T) {
	var delivered int
	ok := audit.SinkFunc(func(context.Context, audit.Event) error {
		delivered++
		return nil
	})
	broken := audit.SinkFunc(func(context.Context, audit.Event) error {
		return errors.New("down")
	})

	err := audit.Multi{broken, ok, broken}.Emit(context.Background(), audit.Event{})
	assert.Error(t, err)
	assert.Equal(t, 1, delivered)

	assert.NoError(t, audit.Multi{ok}.Emit(context.Background(), audit.Event{}))
}
