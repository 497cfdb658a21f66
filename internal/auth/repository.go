// AngelaMos | 2026
// repository.go

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/carterperez-dev/templates/crm-backend/internal/core"
)

type Repository interface {
	Create(ctx context.Context, token *RefreshToken) error
	FindByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	FindByID(ctx context.Context, id string) (*RefreshToken, error)
	Rotate(ctx context.Context, oldID string, next *RefreshToken) error
	RevokeByID(ctx context.Context, id string) error
	RevokeByFamilyID(ctx context.Context, familyID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	GetActiveSessionsForUser(
		ctx context.Context,
		userID string,
	) ([]RefreshToken, error)
	DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Refresh tokens are looked up before any company is known, so every
// statement here runs unbound.
type repository struct {
	exec *core.Executor
}

func NewRepository(exec *core.Executor) Repository {
	return &repository{exec: exec}
}

const refreshTokenColumns = `
	id, user_id, token_hash, family_id, expires_at, created_at,
	is_used, used_at, revoked_at, replaced_by_id, user_agent, ip_address`

const insertRefreshToken = `
	INSERT INTO refresh_tokens (
		id, user_id, token_hash, family_id, expires_at,
		user_agent, ip_address
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7
	)
	RETURNING created_at`

func (r *repository) Create(ctx context.Context, token *RefreshToken) error {
	err := r.exec.Get(ctx, core.Unbound, &token.CreatedAt, insertRefreshToken,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.FamilyID,
		token.ExpiresAt,
		token.UserAgent,
		token.IPAddress,
	)
	if err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

func (r *repository) FindByHash(
	ctx context.Context,
	tokenHash string,
) (*RefreshToken, error) {
	return r.findOne(ctx, "token_hash", tokenHash)
}

func (r *repository) FindByID(
	ctx context.Context,
	id string,
) (*RefreshToken, error) {
	return r.findOne(ctx, "id", id)
}

func (r *repository) findOne(
	ctx context.Context,
	column, value string,
) (*RefreshToken, error) {
	query := "SELECT" + refreshTokenColumns +
		" FROM refresh_tokens WHERE " + column + " = $1"

	var token RefreshToken
	err := r.exec.Get(ctx, core.Unbound, &token, query, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find refresh token: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &token, nil
}

// Rotate stores next and retires oldID in one transaction. A concurrent
// rotation of the same token loses with ErrTokenRevoked.
func (r *repository) Rotate(
	ctx context.Context,
	oldID string,
	next *RefreshToken,
) error {
	return r.exec.RunTransaction(ctx, core.Unbound, func(ctx context.Context, s core.Session) error {
		err := s.Get(ctx, &next.CreatedAt, insertRefreshToken,
			next.ID,
			next.UserID,
			next.TokenHash,
			next.FamilyID,
			next.ExpiresAt,
			next.UserAgent,
			next.IPAddress,
		)
		if err != nil {
			return fmt.Errorf("insert refresh token: %w", err)
		}

		rows, err := s.Exec(ctx, `
			UPDATE refresh_tokens
			SET is_used = true, used_at = NOW(), replaced_by_id = $2
			WHERE id = $1 AND is_used = false`,
			oldID, next.ID,
		)
		if err != nil {
			return fmt.Errorf("mark refresh token as used: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("rotate refresh token: %w", core.ErrTokenRevoked)
		}
		return nil
	})
}

func (r *repository) RevokeByID(ctx context.Context, id string) error {
	rows, err := r.exec.Exec(ctx, core.Unbound, `
		UPDATE refresh_tokens
		SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("revoke refresh token: %w", core.ErrNotFound)
	}
	return nil
}

func (r *repository) RevokeByFamilyID(
	ctx context.Context,
	familyID string,
) error {
	_, err := r.exec.Exec(ctx, core.Unbound, `
		UPDATE refresh_tokens
		SET revoked_at = NOW()
		WHERE family_id = $1 AND revoked_at IS NULL`, familyID)
	if err != nil {
		return fmt.Errorf("revoke token family: %w", err)
	}
	return nil
}

func (r *repository) RevokeAllForUser(
	ctx context.Context,
	userID string,
) error {
	_, err := r.exec.Exec(ctx, core.Unbound, `
		UPDATE refresh_tokens
		SET revoked_at = NOW()
		WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	if err != nil {
		return fmt.Errorf("revoke all user tokens: %w", err)
	}
	return nil
}

func (r *repository) GetActiveSessionsForUser(
	ctx context.Context,
	userID string,
) ([]RefreshToken, error) {
	query := "SELECT" + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE user_id = $1
			AND revoked_at IS NULL
			AND is_used = false
			AND expires_at > NOW()
		ORDER BY created_at DESC`

	var tokens []RefreshToken
	if err := r.exec.Select(ctx, core.Unbound, &tokens, query, userID); err != nil {
		return nil, fmt.Errorf("get active sessions: %w", err)
	}
	return tokens, nil
}

func (r *repository) DeleteExpired(
	ctx context.Context,
	olderThan time.Duration,
) (int64, error) {
	rows, err := r.exec.Exec(ctx, core.Unbound,
		"DELETE FROM refresh_tokens WHERE expires_at < $1",
		time.Now().Add(-olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return rows, nil
}
