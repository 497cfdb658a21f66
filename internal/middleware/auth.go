// AngelaMos | 2026
// auth.go

package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/carterperez-dev/templates/crm-backend/internal/core"
	"github.com/carterperez-dev/templates/crm-backend/internal/tenant"
)

type TokenVerifier interface {
	VerifyAccessToken(
		ctx context.Context,
		token string,
	) (*AccessTokenClaims, error)
}

// PrincipalLoader resolves the live principal behind a token. Role,
// company and grants always come from storage, never from the token.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, userID string) (*tenant.Principal, error)
}

type AccessTokenClaims struct {
	UserID       string
	Role         string
	CompanyID    *int64
	TokenVersion int
}

func Authenticator(
	verifier TokenVerifier,
	loader PrincipalLoader,
	logger *slog.Logger,
) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)

			if token == "" {
				core.JSONError(
					w,
					core.UnauthorizedError("missing authorization token"),
				)
				return
			}

			claims, err := verifier.VerifyAccessToken(r.Context(), token)
			if err != nil {
				handleAuthError(w, err)
				return
			}

			p, err := loader.LoadPrincipal(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, core.ErrNotFound) {
					core.JSONError(w, core.TokenInvalidError())
					return
				}
				logger.ErrorContext(r.Context(), "load principal failed",
					"user_id", claims.UserID,
					"error", err,
				)
				core.JSONError(w, err)
				return
			}

			if p.TokenVersion != claims.TokenVersion {
				core.JSONError(w, core.TokenRevokedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(tenant.WithPrincipal(r.Context(), p)))
		})
	}
}

func ExtractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

func handleAuthError(w http.ResponseWriter, err error) {
	if core.IsAppError(err) {
		core.JSONError(w, err)
		return
	}

	switch {
	case errors.Is(err, core.ErrTokenExpired):
		core.JSONError(w, core.TokenExpiredError())
	case errors.Is(err, core.ErrTokenRevoked):
		core.JSONError(w, core.TokenRevokedError())
	default:
		core.JSONError(w, core.TokenInvalidError())
	}
}

func GetUserID(ctx context.Context) string {
	if p, ok := tenant.PrincipalFromContext(ctx); ok {
		return p.ID
	}
	return ""
}
