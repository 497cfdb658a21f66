// AngelaMos | 2026
// jwt_test.go

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/crm-backend/internal/config"
	"github.com/carterperez-dev/templates/crm-backend/internal/core"
)

func jwtConfig(t *testing.T) config.JWTConfig {
	t.Helper()

	dir := t.TempDir()
	cfg := config.JWTConfig{
		PrivateKeyPath:     filepath.Join(dir, "private.pem"),
		PublicKeyPath:      filepath.Join(dir, "public.pem"),
		AccessTokenExpire:  15 * time.Minute,
		RefreshTokenExpire: 24 * time.Hour,
		Issuer:             "crm-backend",
		Audience:           "crm-backend-api",
	}
	require.NoError(t, GenerateKeyPair(cfg.PrivateKeyPath, cfg.PublicKeyPath))
	return cfg
}

func newJWTManager(t *testing.T) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(jwtConfig(t))
	require.NoError(t, err)
	return m
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := newJWTManager(t)
	company := int64(42)

	token, err := m.CreateAccessToken(AccessTokenClaims{
		UserID:       "u-1",
		Role:         "manager",
		CompanyID:    &company,
		TokenVersion: 3,
	})
	require.NoError(t, err)

	claims, err := m.VerifyAccessToken(context.Background(), token)
	require.NoError(t, err)

	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "manager", claims.Role)
	assert.Equal(t, 3, claims.TokenVersion)
	require.NotNil(t, claims.CompanyID)
	assert.Equal(t, int64(42), *claims.CompanyID)
}

func TestAccessTokenWithoutCompany(t *testing.T) {
	m := newJWTManager(t)

	token, err := m.CreateAccessToken(AccessTokenClaims{UserID: "root", Role: "super_admin"})
	require.NoError(t, err)

	claims, err := m.VerifyAccessToken(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, claims.CompanyID)
}

func TestAccessTokenFromOtherKeyRejected(t *testing.T) {
	issuer := newJWTManager(t)
	verifier := newJWTManager(t)

	token, err := issuer.CreateAccessToken(AccessTokenClaims{UserID: "u-1", Role: "user"})
	require.NoError(t, err)

	_, err = verifier.VerifyAccessToken(context.Background(), token)
	assert.ErrorIs(t, err, core.ErrTokenInvalid)

	_, err = verifier.VerifyAccessToken(context.Background(), "not.a.jwt")
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestJWKSPublishesSigningKey(t *testing.T) {
	m := newJWTManager(t)

	rec := httptest.NewRecorder()
	m.GetJWKSHandler()(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var set struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	require.Len(t, set.Keys, 1)
	assert.Equal(t, m.GetKeyID(), set.Keys[0]["kid"])
	assert.NotContains(t, set.Keys[0], "d", "private scalar must not be published")
}

func TestRefreshTokenKeepsFamily(t *testing.T) {
	m := newJWTManager(t)

	first, err := m.CreateRefreshToken("")
	require.NoError(t, err)
	assert.NotEmpty(t, first.FamilyID)

	next, err := m.CreateRefreshToken(first.FamilyID)
	require.NoError(t, err)
	assert.Equal(t, first.FamilyID, next.FamilyID)
	assert.NotEqual(t, first.Hash, next.Hash)
	assert.True(t, m.VerifyRefreshTokenHash(next.Token, next.Hash))
}
