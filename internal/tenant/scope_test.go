// AngelaMos | 2026
// scope_test.go

package tenant

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carterperez-dev/templates/crm-backend/internal/core"
)

func tenantScope(id int64) *Scope {
	return &Scope{
		tenantID: id,
		mode:     ModeTenant,
		column:   "company_id",
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestApplyInjectsTenantPredicate(t *testing.T) {
	scope := tenantScope(42)

	tests := []struct {
		name     string
		fragment string
		args     []any
		want     string
	}{
		{
			name:     "no where clause",
			fragment: "SELECT id FROM leads",
			want:     "SELECT id FROM leads WHERE company_id = $1",
		},
		{
			name:     "existing where is parenthesised",
			fragment: "SELECT id FROM leads WHERE status = $1 OR owner = $2",
			args:     []any{"open", "u1"},
			want:     "SELECT id FROM leads WHERE (status = $1 OR owner = $2) AND company_id = $3",
		},
		{
			name:     "order and limit are kept after the predicate",
			fragment: "SELECT id FROM leads WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
			args:     []any{"open", 10, 0},
			want:     "SELECT id FROM leads WHERE (status = $1) AND company_id = $4 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		},
		{
			name:     "group by without where",
			fragment: "SELECT status, COUNT(*) FROM leads GROUP BY status HAVING COUNT(*) > 1",
			want:     "SELECT status, COUNT(*) FROM leads WHERE company_id = $1 GROUP BY status HAVING COUNT(*) > 1",
		},
		{
			name:     "where inside subquery is ignored",
			fragment: "SELECT id FROM (SELECT id FROM leads WHERE status = 'open') l ORDER BY id",
			want:     "SELECT id FROM (SELECT id FROM leads WHERE status = 'open') l WHERE company_id = $1 ORDER BY id",
		},
		{
			name:     "keywords in string literals are ignored",
			fragment: "SELECT id FROM notes WHERE body = 'order by where limit'",
			want:     "SELECT id FROM notes WHERE (body = 'order by where limit') AND company_id = $1",
		},
		{
			name:     "update with returning",
			fragment: "UPDATE users SET role = $1 WHERE id = $2 RETURNING updated_at",
			args:     []any{"manager", "u1"},
			want:     "UPDATE users SET role = $1 WHERE (id = $2) AND company_id = $3 RETURNING updated_at",
		},
		{
			name:     "select for update",
			fragment: "SELECT id FROM users WHERE id = $1 FOR UPDATE",
			args:     []any{"u1"},
			want:     "SELECT id FROM users WHERE (id = $1) AND company_id = $2 FOR UPDATE",
		},
		{
			name:     "bare where fragment",
			fragment: "WHERE deleted_at IS NULL",
			want:     "WHERE (deleted_at IS NULL) AND company_id = $1",
		},
		{
			name:     "multiline fragment",
			fragment: "SELECT id\n\t\tFROM users\n\t\tWHERE deleted_at IS NULL\n\t\tORDER BY created_at",
			want:     "SELECT id\n\t\tFROM users WHERE (deleted_at IS NULL) AND company_id = $1 ORDER BY created_at",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args := scope.Apply(tt.fragment, tt.args)
			assert.Equal(t, tt.want, got)
			assert.Len(t, args, len(tt.args)+1)
			assert.Equal(t, int64(42), args[len(args)-1])
		})
	}
}

func TestApplyDoesNotAliasCallerArgs(t *testing.T) {
	scope := tenantScope(1)

	base := make([]any, 1, 4)
	base[0] = "open"
	_, a := scope.Apply("SELECT 1 FROM leads WHERE status = $1", base)
	_, b := tenantScope(2).Apply("SELECT 1 FROM leads WHERE status = $1", base)

	assert.Equal(t, int64(1), a[1])
	assert.Equal(t, int64(2), b[1])
	assert.Len(t, base, 1)
}

func TestApplyColumnSupportsAlias(t *testing.T) {
	got, _ := tenantScope(7).ApplyColumn("u.company_id",
		"SELECT u.id FROM users u JOIN companies c ON c.id = u.company_id", nil)

	assert.Equal(t,
		"SELECT u.id FROM users u JOIN companies c ON c.id = u.company_id WHERE u.company_id = $1",
		got)
}

func TestApplyInGlobalModeIsUnchanged(t *testing.T) {
	scope := &Scope{
		mode:   ModeGlobal,
		bypass: true,
		column: "company_id",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	args := []any{"open"}
	got, gotArgs := scope.Apply("SELECT id FROM leads WHERE status = $1", args)

	assert.Equal(t, "SELECT id FROM leads WHERE status = $1", got)
	assert.Equal(t, args, gotArgs)

	_, ok := scope.TenantID()
	assert.False(t, ok)
	assert.Equal(t, core.Unbound, scope.Binding())
}

func TestScopeBinding(t *testing.T) {
	assert.Equal(t, core.BindTenant(42), tenantScope(42).Binding())
}
