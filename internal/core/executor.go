// AngelaMos | 2026
// executor.go

package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	StageAcquire   = "acquire"
	StageBegin     = "begin"
	StageBind      = "bind"
	StageStatement = "statement"
	StageCommit    = "commit"
)

const bindStatement = "SELECT set_config($1, $2, true)"

// DataAccessFailure carries the stage at which a database call failed.
// It matches ErrDataAccess and the underlying driver error under errors.Is.
type DataAccessFailure struct {
	Stage string
	Err   error
}

func (e *DataAccessFailure) Error() string {
	return fmt.Sprintf("data access failed at %s: %v", e.Stage, e.Err)
}

func (e *DataAccessFailure) Unwrap() []error {
	return []error{ErrDataAccess, e.Err}
}

func wrapFailure(stage string, err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	var failure *DataAccessFailure
	if errors.As(err, &failure) {
		return err
	}
	return &DataAccessFailure{Stage: stage, Err: err}
}

// Binding is the tenant value a database call is scoped to. The zero value
// is unbound, which clears any tenant scoping for the call.
type Binding struct {
	tenantID int64
	bound    bool
}

var Unbound = Binding{}

func BindTenant(id int64) Binding {
	return Binding{tenantID: id, bound: true}
}

func (b Binding) TenantID() (int64, bool) {
	return b.tenantID, b.bound
}

func (b Binding) IsBound() bool {
	return b.bound
}

func (b Binding) LogValue() slog.Value {
	if !b.bound {
		return slog.AnyValue(nil)
	}
	return slog.Int64Value(b.tenantID)
}

// Session runs statements inside a transaction opened by RunTransaction.
type Session interface {
	Get(ctx context.Context, dest any, query string, args ...any) error
	Select(ctx context.Context, dest any, query string, args ...any) error
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

type statementRunner interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type ExecutorConfig struct {
	SessionSetting   string
	AcquireTimeout   time.Duration
	StatementTimeout time.Duration
	Logger           *slog.Logger
	Metrics          *Metrics
	Tracer           trace.Tracer
}

// Executor checks out a dedicated connection per call. A bound call runs
// inside a short transaction whose first statement sets the tenant session
// variable with transaction-local scope, so the value never outlives the
// call and never leaks to the next borrower of the connection.
type Executor struct {
	db               *sqlx.DB
	setting          string
	acquireTimeout   time.Duration
	statementTimeout time.Duration
	logger           *slog.Logger
	metrics          *Metrics
	tracer           trace.Tracer
}

func NewExecutor(db *sqlx.DB, cfg ExecutorConfig) *Executor {
	e := &Executor{
		db:               db,
		setting:          cfg.SessionSetting,
		acquireTimeout:   cfg.AcquireTimeout,
		statementTimeout: cfg.StatementTimeout,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
		tracer:           cfg.Tracer,
	}

	if e.setting == "" {
		e.setting = "app.current_company_id"
	}
	if e.acquireTimeout <= 0 {
		e.acquireTimeout = 5 * time.Second
	}
	if e.statementTimeout <= 0 {
		e.statementTimeout = 30 * time.Second
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("crm-backend/core")
	}

	return e
}

func (e *Executor) Get(
	ctx context.Context,
	b Binding,
	dest any,
	query string,
	args ...any,
) error {
	_, err := e.execute(ctx, "get", b, query,
		func(ctx context.Context, r statementRunner) (int64, error) {
			if err := r.GetContext(ctx, dest, query, args...); err != nil {
				return 0, err
			}
			return 1, nil
		})
	return err
}

func (e *Executor) Select(
	ctx context.Context,
	b Binding,
	dest any,
	query string,
	args ...any,
) error {
	_, err := e.execute(ctx, "select", b, query,
		func(ctx context.Context, r statementRunner) (int64, error) {
			if err := r.SelectContext(ctx, dest, query, args...); err != nil {
				return 0, err
			}
			return resultLen(dest), nil
		})
	return err
}

// Exec returns the number of affected rows.
func (e *Executor) Exec(
	ctx context.Context,
	b Binding,
	query string,
	args ...any,
) (int64, error) {
	return e.execute(ctx, "exec", b, query,
		func(ctx context.Context, r statementRunner) (int64, error) {
			res, err := r.ExecContext(ctx, query, args...)
			if err != nil {
				return 0, err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return 0, nil //nolint:nilerr // driver without row counts
			}
			return n, nil
		})
}

// RunTransaction runs work atomically under b. Errors returned by work are
// passed back unchanged after rollback; failures of the transaction
// machinery itself come back as *DataAccessFailure.
func (e *Executor) RunTransaction(
	ctx context.Context,
	b Binding,
	work func(ctx context.Context, s Session) error,
) error {
	start := time.Now()
	ctx, span := e.startSpan(ctx, "db.transaction", b)
	defer span.End()

	var workErr error
	stage, err := e.withConn(ctx, func(conn *sqlx.Conn) (string, error) {
		return e.transact(ctx, conn, b, func(txCtx context.Context, tx *sqlx.Tx) error {
			workErr = work(txCtx, &txSession{tx: tx, exec: e, binding: b})
			return workErr
		})
	})

	e.observe(ctx, span, "transaction", "", b, 0, start, stage, err)

	if err == nil {
		return nil
	}
	if workErr != nil && stage == StageStatement {
		return workErr
	}
	return wrapFailure(stage, err)
}

func (e *Executor) execute(
	ctx context.Context,
	op string,
	b Binding,
	query string,
	fn func(context.Context, statementRunner) (int64, error),
) (int64, error) {
	start := time.Now()
	ctx, span := e.startSpan(ctx, "db."+op, b)
	defer span.End()

	var rows int64
	stage, err := e.withConn(ctx, func(conn *sqlx.Conn) (string, error) {
		if !b.bound {
			stmtCtx, cancel := context.WithTimeout(ctx, e.statementTimeout)
			defer cancel()

			n, err := fn(stmtCtx, conn)
			rows = n
			return StageStatement, err
		}

		return e.transact(ctx, conn, b, func(txCtx context.Context, tx *sqlx.Tx) error {
			n, err := fn(txCtx, tx)
			rows = n
			return err
		})
	})

	e.observe(ctx, span, op, query, b, rows, start, stage, err)

	return rows, wrapFailure(stage, err)
}

func (e *Executor) withConn(
	ctx context.Context,
	fn func(*sqlx.Conn) (string, error),
) (string, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, e.acquireTimeout)
	conn, err := e.db.Connx(acquireCtx)
	cancel()
	if err != nil {
		return StageAcquire, err
	}

	defer func() {
		if cerr := conn.Close(); cerr != nil {
			e.logger.WarnContext(ctx, "release connection", "error", cerr)
		}
	}()

	return fn(conn)
}

// transact detaches from the caller's cancellation once BEGIN is issued;
// only the statement timeout can interrupt a started transaction.
func (e *Executor) transact(
	ctx context.Context,
	conn *sqlx.Conn,
	b Binding,
	work func(context.Context, *sqlx.Tx) error,
) (string, error) {
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.statementTimeout)
	defer cancel()

	tx, err := conn.BeginTxx(txCtx, nil)
	if err != nil {
		return StageBegin, err
	}

	defer func() {
		if p := recover(); p != nil {
			e.rollback(ctx, tx)
			panic(p)
		}
	}()

	if b.bound {
		if _, err := tx.ExecContext(txCtx, bindStatement, e.setting,
			strconv.FormatInt(b.tenantID, 10)); err != nil {
			e.rollback(ctx, tx)
			return StageBind, err
		}
	}

	if err := work(txCtx, tx); err != nil {
		e.rollback(ctx, tx)
		return StageStatement, err
	}

	if err := tx.Commit(); err != nil {
		e.rollback(ctx, tx)
		return StageCommit, err
	}

	return "", nil
}

func (e *Executor) rollback(ctx context.Context, tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		e.logger.WarnContext(ctx, "rollback failed", "error", err)
	}
}

func (e *Executor) startSpan(
	ctx context.Context,
	name string,
	b Binding,
) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(BindingAttributes(b)...))
}

func (e *Executor) observe(
	ctx context.Context,
	span trace.Span,
	op, query string,
	b Binding,
	rows int64,
	start time.Time,
	stage string,
	err error,
) {
	elapsed := time.Since(start)

	attrs := []any{
		"op", op,
		"tenant_id", b,
		"rows", rows,
		"duration_ms", elapsed.Milliseconds(),
	}
	if query != "" {
		attrs = append(attrs, "statement", RedactStatement(query))
	}

	outcome := "ok"
	switch {
	case err == nil:
		stage = ""
		e.logger.InfoContext(ctx, "db call", attrs...)
	case errors.Is(err, sql.ErrNoRows):
		outcome = "no_rows"
		stage = ""
		e.logger.InfoContext(ctx, "db call", attrs...)
	default:
		outcome = "error"
		FailSpan(span, stage, err)
		attrs = append(attrs, "stage", stage, "error", err)
		e.logger.ErrorContext(ctx, "db call failed", attrs...)
	}

	e.metrics.ObserveDB(op, outcome, stage, b.bound, elapsed)
}

type txSession struct {
	tx      *sqlx.Tx
	exec    *Executor
	binding Binding
}

func (s *txSession) Get(ctx context.Context, dest any, query string, args ...any) error {
	err := s.tx.GetContext(ctx, dest, query, args...)
	s.trace(ctx, query, err)
	return wrapFailure(StageStatement, err)
}

func (s *txSession) Select(ctx context.Context, dest any, query string, args ...any) error {
	err := s.tx.SelectContext(ctx, dest, query, args...)
	s.trace(ctx, query, err)
	return wrapFailure(StageStatement, err)
}

func (s *txSession) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.tx.ExecContext(ctx, query, args...)
	s.trace(ctx, query, err)
	if err != nil {
		return 0, wrapFailure(StageStatement, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // driver without row counts
	}
	return n, nil
}

func (s *txSession) trace(ctx context.Context, query string, err error) {
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.exec.logger.WarnContext(ctx, "transaction statement failed",
			"tenant_id", s.binding,
			"statement", RedactStatement(query),
			"error", err,
		)
		return
	}
	s.exec.logger.DebugContext(ctx, "transaction statement",
		"tenant_id", s.binding,
		"statement", RedactStatement(query),
	)
}

func resultLen(dest any) int64 {
	v := reflect.ValueOf(dest)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return 0
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Slice {
		return int64(v.Len())
	}
	return 1
}
