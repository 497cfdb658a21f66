// AngelaMos | 2026
// service.go

package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/carterperez-dev/templates/crm-backend/internal/auth"
	"github.com/carterperez-dev/templates/crm-backend/internal/authz"
	"github.com/carterperez-dev/templates/crm-backend/internal/core"
	"github.com/carterperez-dev/templates/crm-backend/internal/policy"
	"github.com/carterperez-dev/templates/crm-backend/internal/tenant"
)

type Service struct {
	repo   Repository
	guard  *authz.Guard
	logger *slog.Logger
}

func NewService(repo Repository, guard *authz.Guard, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, guard: guard, logger: logger}
}

func (s *Service) CredentialsByEmail(
	ctx context.Context,
	email string,
) (*auth.Credentials, error) {
	user, err := s.repo.GetByEmail(ctx, strings.ToLower(email))
	if err != nil {
		return nil, err
	}
	return toCredentials(user), nil
}

func (s *Service) CredentialsByID(
	ctx context.Context,
	id string,
) (*auth.Credentials, error) {
	user, err := s.repo.GetForAuth(ctx, id)
	if err != nil {
		return nil, err
	}
	return toCredentials(user), nil
}

func (s *Service) IncrementTokenVersion(ctx context.Context, userID string) error {
	return s.repo.IncrementTokenVersion(ctx, userID)
}

func (s *Service) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return s.repo.UpdatePassword(ctx, userID, passwordHash)
}

// Create adds a member to the scoped company. The actor must outrank the
// new member's role and the company must have a free seat.
func (s *Service) Create(
	ctx context.Context,
	scope *tenant.Scope,
	req CreateUserRequest,
) (*User, error) {
	role, err := policy.ParseRole(req.Role)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", core.ErrInvalidInput)
	}
	if err := s.guard.CheckRoleHierarchy(ctx, scope, "", role); err != nil {
		return nil, err
	}
	if err := s.guard.CheckPlanLimit(ctx, scope, policy.LimitSeats, 1); err != nil {
		return nil, err
	}

	passwordHash, err := core.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(req.Email),
		PasswordHash: passwordHash,
		Name:         req.Name,
		Role:         string(role),
		Permissions:  normalizePermissions(req.Permissions),
	}
	if err := s.repo.Create(ctx, scope, user); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "member created",
		"member_id", user.ID,
		"role", user.Role,
		"scope", scope,
	)
	return user, nil
}

func (s *Service) Get(ctx context.Context, scope *tenant.Scope, id string) (*User, error) {
	if err := s.guard.RequireOwnershipOrResource(ctx, scope, id); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, scope, id)
}

func (s *Service) List(
	ctx context.Context,
	scope *tenant.Scope,
	params ListUsersParams,
) ([]User, int, error) {
	return s.repo.List(ctx, scope, params)
}

func (s *Service) UpdateProfile(
	ctx context.Context,
	scope *tenant.Scope,
	id string,
	req UpdateUserRequest,
) (*User, error) {
	if err := s.guard.RequireOwnershipOrResource(ctx, scope, id); err != nil {
		return nil, err
	}

	user, err := s.repo.GetByID(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		user.Name = *req.Name
	}
	if err := s.repo.Update(ctx, scope, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) ChangeRole(
	ctx context.Context,
	scope *tenant.Scope,
	id, role string,
) (*User, error) {
	requested, err := policy.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("change role: %w", core.ErrInvalidInput)
	}

	user, err := s.managed(ctx, scope, id, requested)
	if err != nil {
		return nil, err
	}

	user.Role = string(requested)
	if err := s.repo.Update(ctx, scope, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) SetPermissions(
	ctx context.Context,
	scope *tenant.Scope,
	id string,
	permissions []string,
) (*User, error) {
	user, err := s.managed(ctx, scope, id, "")
	if err != nil {
		return nil, err
	}

	user.Permissions = normalizePermissions(permissions)
	if bad := policy.ParseGrants(user.Permissions).Unparseable(); len(bad) > 0 {
		return nil, core.BadRequestError("unrecognised permissions: " + strings.Join(bad, ", "))
	}
	if err := s.repo.Update(ctx, scope, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) Deactivate(ctx context.Context, scope *tenant.Scope, id string) (*User, error) {
	if id == scope.Principal().ID {
		return nil, core.BadRequestError("cannot deactivate yourself")
	}

	user, err := s.managed(ctx, scope, id, "")
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return user, nil
	}

	if err := s.repo.Deactivate(ctx, scope, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Reactivate takes a seat back, so the plan limit applies again.
func (s *Service) Reactivate(ctx context.Context, scope *tenant.Scope, id string) (*User, error) {
	user, err := s.managed(ctx, scope, id, "")
	if err != nil {
		return nil, err
	}
	if user.IsActive {
		return user, nil
	}
	if err := s.guard.CheckPlanLimit(ctx, scope, policy.LimitSeats, 1); err != nil {
		return nil, err
	}

	user.IsActive = true
	if err := s.repo.Update(ctx, scope, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) Delete(ctx context.Context, scope *tenant.Scope, id string) error {
	if id == scope.Principal().ID {
		return core.BadRequestError("cannot delete yourself")
	}
	if _, err := s.managed(ctx, scope, id, ""); err != nil {
		return err
	}
	return s.repo.SoftDelete(ctx, scope, id)
}

// managed loads a member the actor is about to change and checks the actor
// outranks both its current role and requested, which defaults to the
// current role.
func (s *Service) managed(
	ctx context.Context,
	scope *tenant.Scope,
	id string,
	requested policy.Role,
) (*User, error) {
	user, err := s.repo.GetByID(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	current := user.ParsedRole()
	if requested == "" {
		requested = current
	}
	if requested == "" {
		return nil, fmt.Errorf("member %s has unknown role %q: %w", user.ID, user.Role, core.ErrInvalidInput)
	}

	if err := s.guard.CheckRoleHierarchy(ctx, scope, current, requested); err != nil {
		return nil, err
	}
	return user, nil
}

func normalizePermissions(perms []string) tenant.TextList {
	out := make(tenant.TextList, 0, len(perms))
	seen := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func toCredentials(u *User) *auth.Credentials {
	return &auth.Credentials{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		CompanyID:    u.CompanyID,
		TokenVersion: u.TokenVersion,
		CreatedAt:    u.CreatedAt,
	}
}

var _ auth.CredentialStore = (*Service)(nil)
