// AngelaMos | 2026
// directory.go

package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/carterperez-dev/templates/crm-backend/internal/core"
	"github.com/carterperez-dev/templates/crm-backend/internal/policy"
)

// Directory looks up principals and companies. Lookups run unbound because
// they happen before any tenant has been resolved.
type Directory struct {
	exec   *core.Executor
	logger *slog.Logger
}

func NewDirectory(exec *core.Executor, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{exec: exec, logger: logger}
}

type principalRow struct {
	ID             string         `db:"id"`
	Email          string         `db:"email"`
	Role           string         `db:"role"`
	Permissions    TextList       `db:"permissions"`
	TokenVersion   int            `db:"token_version"`
	IsActive       bool           `db:"is_active"`
	CompanyID      *int64         `db:"company_id"`
	CompanyStatus  sql.NullString `db:"company_status"`
	CompanyPlan    sql.NullString `db:"company_plan"`
	CompanyModules TextList       `db:"company_modules"`
}

const selectPrincipal = `
	SELECT
		u.id, u.email, u.role, u.permissions, u.token_version, u.is_active,
		u.company_id,
		CASE WHEN c.deactivated_at IS NOT NULL THEN 'suspended'
			ELSE c.status END AS company_status,
		c.plan AS company_plan,
		c.modules AS company_modules
	FROM users u
	LEFT JOIN companies c ON c.id = u.company_id
	WHERE u.id = $1 AND u.deleted_at IS NULL`

// LoadPrincipal returns core.ErrNotFound for unknown or deactivated users.
// A soft-deactivated company reads as suspended.
func (d *Directory) LoadPrincipal(ctx context.Context, userID string) (*Principal, error) {
	var row principalRow
	err := d.exec.Get(ctx, core.Unbound, &row, selectPrincipal, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load principal: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load principal: %w", err)
	}
	if !row.IsActive {
		return nil, fmt.Errorf("load principal: inactive user: %w", core.ErrNotFound)
	}

	role, err := policy.ParseRole(row.Role)
	if err != nil {
		return nil, fmt.Errorf("load principal %s: %w", row.ID, err)
	}

	p := &Principal{
		ID:           row.ID,
		Email:        row.Email,
		Role:         role,
		TenantID:     row.CompanyID,
		Permissions:  policy.ParseGrants(row.Permissions),
		TokenVersion: row.TokenVersion,
	}

	if row.CompanyID != nil {
		p.TenantStatus = Status(row.CompanyStatus.String)
		if !row.CompanyStatus.Valid {
			p.TenantStatus = StatusSuspended
		}
		p.TenantPlan = policy.PlanName(row.CompanyPlan.String)

		modules, unknown := policy.ParseModuleSet(row.CompanyModules)
		if len(unknown) > 0 {
			d.logger.WarnContext(ctx, "company has unknown modules",
				"company_id", *row.CompanyID,
				"modules", unknown,
			)
		}
		p.TenantModules = modules
	}

	if bad := p.Permissions.Unparseable(); len(bad) > 0 {
		d.logger.WarnContext(ctx, "user has unrecognised permissions",
			"user_id", row.ID,
			"permissions", bad,
		)
	}

	return p, nil
}

const companyColumns = `
	id, name, status, plan, modules, storage_used_bytes, created_at,
	deactivated_at`

func (d *Directory) GetCompany(ctx context.Context, id int64) (*Company, error) {
	query := `SELECT` + companyColumns + ` FROM companies WHERE id = $1`

	var c Company
	err := d.exec.Get(ctx, core.Unbound, &c, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get company: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}
	return &c, nil
}

func (d *Directory) ListCompanies(
	ctx context.Context,
	limit, offset int,
) ([]Company, int, error) {
	var total int
	if err := d.exec.Get(ctx, core.Unbound, &total,
		`SELECT COUNT(*) FROM companies`); err != nil {
		return nil, 0, fmt.Errorf("count companies: %w", err)
	}

	query := `SELECT` + companyColumns + `
		FROM companies
		ORDER BY id
		LIMIT $1 OFFSET $2`

	var companies []Company
	if err := d.exec.Select(ctx, core.Unbound, &companies, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list companies: %w", err)
	}
	return companies, total, nil
}

// SetStatus changes a company's activation state. Used by operator tooling.
func (d *Directory) SetStatus(ctx context.Context, id int64, status Status) error {
	query := `
		UPDATE companies
		SET status = $2,
		    deactivated_at = CASE WHEN $2 = 'active' THEN NULL ELSE deactivated_at END
		WHERE id = $1`

	n, err := d.exec.Exec(ctx, core.Unbound, query, id, string(status))
	if err != nil {
		return fmt.Errorf("set company status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set company status: %w", core.ErrNotFound)
	}
	return nil
}
