// AngelaMos | 2026
// requestid_test.go

package middleware_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/crm-backend/internal/config"
	"github.com/carterperez-dev/templates/crm-backend/internal/core"
	"github.com/carterperez-dev/templates/crm-backend/internal/middleware"
	"github.com/carterperez-dev/templates/crm-backend/internal/policy"
	"github.com/carterperez-dev/templates/crm-backend/internal/tenant"
)

func TestRequestIDPropagation(t *testing.T) {
	var gotID, gotEndpoint string
	h := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotID = core.RequestIDFromContext(r.Context())
		gotEndpoint = core.EndpointFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/members", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123.abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-123.abc", gotID)
	assert.Equal(t, "req-123.abc", rec.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, "POST /v1/members", gotEndpoint)
}

func TestRequestIDReplacesMalformed(t *testing.T) {
	var gotID string
	h := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotID = core.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.RequestIDHeader, "bad id\nInjected: yes")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.NotEqual(t, "bad id\nInjected: yes", gotID)
	assert.Len(t, gotID, 36)
	assert.Equal(t, gotID, rec.Header().Get(middleware.RequestIDHeader))
}

func TestSecurityHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})

	rec := httptest.NewRecorder()
	middleware.SecurityHeaders(false)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = httptest.NewRecorder()
	middleware.SecurityHeaders(true)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestCORSAllowsTenancyHeaders(t *testing.T) {
	h := middleware.CORS(config.CORSConfig{
		AllowedOrigins: []string{"https://app.crm.test"},
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"Authorization", "X-Target-Company-ID"},
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/members", nil)
	req.Header.Set("Origin", "https://app.crm.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "X-Target-Company-ID")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.crm.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t,
		strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")),
		"x-target-company-id",
	)
}

func TestLoggerCarriesScope(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	id := int64(42)
	p := &tenant.Principal{
		ID: "u-1", Role: policy.RoleUser, TenantID: &id,
		TenantStatus: tenant.StatusActive, TenantPlan: policy.PlanFree,
	}
	scope, err := tenant.NewResolver(tenant.ResolverConfig{}).Resolve(p, tenant.Signals{})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(tenant.WithScope(r.Context(), scope)))
		})
	})
	r.Use(middleware.NoteScope)
	r.Get("/v1/members", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/members", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, float64(http.StatusForbidden), line["status"])
	assert.Equal(t, "u-1", line["principal"])
	assert.NotEmpty(t, line["request_id"])
	assert.NotNil(t, line["scope"])
}

func TestRecovererReturnsInternalError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := middleware.Recoverer(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
	assert.Contains(t, buf.String(), "panic recovered")
}
