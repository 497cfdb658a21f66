// AngelaMos | 2026
// coretest.go

// Package coretest builds executors over go-sqlmock for package tests.
package coretest

import (
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/carterperez-dev/templates/crm-backend/internal/core"
)

const Setting = "app.current_company_id"

func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func NewExecutor(t *testing.T) (*core.Executor, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	db := sqlx.NewDb(mockDB, "pgx")

	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sql expectations: %v", err)
		}
		_ = db.Close()
	})

	exec := core.NewExecutor(db, core.ExecutorConfig{
		SessionSetting:   Setting,
		AcquireTimeout:   time.Second,
		StatementTimeout: time.Second,
		Logger:           DiscardLogger(),
	})
	return exec, mock
}

// ExpectBound queues the BEGIN and tenant binding that precede every
// statement issued under core.BindTenant(id).
func ExpectBound(mock sqlmock.Sqlmock, id string) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT set_config($1, $2, true)")).
		WithArgs(Setting, id).
		WillReturnResult(sqlmock.NewResult(0, 1))
}
