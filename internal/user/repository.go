// AngelaMos | 2026
// repository.go

package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carterperez-dev/templates/crm-backend/internal/core"
	"github.com/carterperez-dev/templates/crm-backend/internal/tenant"
)

// Repository methods that take a Scope only ever see rows of that scope's
// company. Credential lookups run unbound: login happens before any
// company is known.
type Repository interface {
	Create(ctx context.Context, scope *tenant.Scope, user *User) error
	GetByID(ctx context.Context, scope *tenant.Scope, id string) (*User, error)
	Update(ctx context.Context, scope *tenant.Scope, user *User) error
	Deactivate(ctx context.Context, scope *tenant.Scope, user *User) error
	SoftDelete(ctx context.Context, scope *tenant.Scope, id string) error
	List(ctx context.Context, scope *tenant.Scope, params ListUsersParams) ([]User, int, error)

	GetByEmail(ctx context.Context, email string) (*User, error)
	GetForAuth(ctx context.Context, id string) (*User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	IncrementTokenVersion(ctx context.Context, id string) error
}

type repository struct {
	exec *core.Executor
}

func NewRepository(exec *core.Executor) Repository {
	return &repository{exec: exec}
}

const userColumns = `id, company_id, email, password_hash, name, role,
	permissions, is_active, token_version, created_at, updated_at, deleted_at`

func (r *repository) Create(
	ctx context.Context,
	scope *tenant.Scope,
	user *User,
) error {
	companyID, ok := scope.TenantID()
	if !ok {
		return fmt.Errorf("create user: company required: %w", core.ErrInvalidInput)
	}
	user.CompanyID = &companyID

	query := `
		INSERT INTO users (
			id, company_id, email, password_hash, name, role, permissions, is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true)
		RETURNING created_at, updated_at, token_version, is_active`

	err := r.exec.Get(ctx, scope.Binding(), user, query,
		user.ID,
		companyID,
		user.Email,
		user.PasswordHash,
		user.Name,
		user.Role,
		user.Permissions,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("create user: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *repository) GetByID(
	ctx context.Context,
	scope *tenant.Scope,
	id string,
) (*User, error) {
	query, args := scope.Apply(
		"SELECT "+userColumns+" FROM users WHERE id = $1 AND deleted_at IS NULL",
		[]any{id},
	)

	var user User
	err := r.exec.Get(ctx, scope.Binding(), &user, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get user: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func (r *repository) Update(
	ctx context.Context,
	scope *tenant.Scope,
	user *User,
) error {
	query, args := scope.Apply(`
		UPDATE users
		SET name = $2, role = $3, permissions = $4, is_active = $5, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING updated_at`,
		[]any{user.ID, user.Name, user.Role, user.Permissions, user.IsActive},
	)

	err := r.exec.Get(ctx, scope.Binding(), &user.UpdatedAt, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update user: %w", core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// Deactivate clears is_active and revokes the member's tokens in one
// transaction, so a deactivated member never keeps a usable session.
func (r *repository) Deactivate(
	ctx context.Context,
	scope *tenant.Scope,
	user *User,
) error {
	deactivate, args := scope.Apply(`
		UPDATE users
		SET is_active = false, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING updated_at`,
		[]any{user.ID},
	)
	revoke, revokeArgs := scope.Apply(`
		UPDATE users
		SET token_version = token_version + 1
		WHERE id = $1 AND deleted_at IS NULL`,
		[]any{user.ID},
	)

	return r.exec.RunTransaction(ctx, scope.Binding(), func(ctx context.Context, s core.Session) error {
		err := s.Get(ctx, &user.UpdatedAt, deactivate, args...)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("deactivate user: %w", core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("deactivate user: %w", err)
		}

		if _, err := s.Exec(ctx, revoke, revokeArgs...); err != nil {
			return fmt.Errorf("increment token version: %w", err)
		}
		user.IsActive = false
		user.TokenVersion++
		return nil
	})
}

func (r *repository) SoftDelete(
	ctx context.Context,
	scope *tenant.Scope,
	id string,
) error {
	query, args := scope.Apply(`
		UPDATE users
		SET deleted_at = NOW(), is_active = false,
			token_version = token_version + 1, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		[]any{id},
	)

	rows, err := r.exec.Exec(ctx, scope.Binding(), query, args...)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("delete user: %w", core.ErrNotFound)
	}
	return nil
}

func (r *repository) List(
	ctx context.Context,
	scope *tenant.Scope,
	params ListUsersParams,
) ([]User, int, error) {
	params.Normalize()

	conditions := []string{"deleted_at IS NULL"}
	var args []any

	if params.Search != "" {
		args = append(args, "%"+escapeLike(params.Search)+"%")
		conditions = append(conditions, fmt.Sprintf(
			"(email ILIKE $%d OR name ILIKE $%d)", len(args), len(args)))
	}
	if params.Role != "" {
		args = append(args, params.Role)
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)))
	}
	if params.Active != nil {
		args = append(args, *params.Active)
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)))
	}

	where := strings.Join(conditions, " AND ")

	countQuery, countArgs := scope.Apply("SELECT COUNT(*) FROM users WHERE "+where, args)
	var total int
	if err := r.exec.Get(ctx, scope.Binding(), &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	pageArgs := append(append([]any(nil), args...), params.PageSize, params.Offset())
	listQuery, listArgs := scope.Apply(fmt.Sprintf(`
		SELECT %s
		FROM users
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)+1, len(args)+2,
	), pageArgs)

	var users []User
	if err := r.exec.Select(ctx, scope.Binding(), &users, listQuery, listArgs...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

func (r *repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getForAuth(ctx, "email", email)
}

func (r *repository) GetForAuth(ctx context.Context, id string) (*User, error) {
	return r.getForAuth(ctx, "id", id)
}

func (r *repository) getForAuth(ctx context.Context, column, value string) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE " + column +
		" = $1 AND deleted_at IS NULL AND is_active"

	var user User
	err := r.exec.Get(ctx, core.Unbound, &user, query, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get user by %s: %w", column, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by %s: %w", column, err)
	}
	return &user, nil
}

func (r *repository) UpdatePassword(
	ctx context.Context,
	id, passwordHash string,
) error {
	rows, err := r.exec.Exec(ctx, core.Unbound, `
		UPDATE users
		SET password_hash = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update password: %w", core.ErrNotFound)
	}
	return nil
}

func (r *repository) IncrementTokenVersion(ctx context.Context, id string) error {
	rows, err := r.exec.Exec(ctx, core.Unbound, `
		UPDATE users
		SET token_version = token_version + 1, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("increment token version: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("increment token version: %w", core.ErrNotFound)
	}
	return nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}
