// AngelaMos | 2026
// usage.go

package authz

import (
	"context"
	"fmt"

	"github.com/carterperez-dev/templates/crm-backend/internal/core"
	"github.com/carterperez-dev/templates/crm-backend/internal/policy"
	"github.com/carterperez-dev/templates/crm-backend/internal/tenant"
)

// SQLUsage counts seats and storage straight from the company's rows.
type SQLUsage struct {
	exec *core.Executor
}

func NewSQLUsage(exec *core.Executor) *SQLUsage {
	return &SQLUsage{exec: exec}
}

func (u *SQLUsage) Usage(
	ctx context.Context,
	scope *tenant.Scope,
	limit policy.Limit,
) (int64, error) {
	if _, ok := scope.TenantID(); !ok {
		return 0, fmt.Errorf("usage of %s needs a company scope", limit)
	}

	var query string
	var args []any

	switch limit {
	case policy.LimitSeats:
		query, args = scope.Apply(
			"SELECT COUNT(*) FROM users WHERE deleted_at IS NULL AND is_active",
			nil,
		)
	case policy.LimitStorageBytes:
		query, args = scope.ApplyColumn(
			"id",
			"SELECT storage_used_bytes FROM companies",
			nil,
		)
	default:
		return 0, fmt.Errorf("no usage counter for limit %q", limit)
	}

	var n int64
	if err := u.exec.Get(ctx, scope.Binding(), &n, query, args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", limit, err)
	}
	return n, nil
}
