// AngelaMos | 2026
// handler_test.go

package user

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/crm-backend/internal/core"
	"github.com/carterperez-dev/templates/crm-backend/internal/core/coretest"
	"github.com/carterperez-dev/templates/crm-backend/internal/policy"
	"github.com/carterperez-dev/templates/crm-backend/internal/tenant"
)

func scopeWith(t *testing.T, id string, role policy.Role, perms ...string) *tenant.Scope {
	t.Helper()
	companyID := int64(42)
	rv := tenant.NewResolver(tenant.ResolverConfig{Logger: coretest.DiscardLogger()})
	scope, err := rv.Resolve(&tenant.Principal{
		ID:           id,
		Role:         role,
		TenantID:     &companyID,
		TenantStatus: tenant.StatusActive,
		TenantPlan:   policy.PlanFree,
		Permissions:  policy.ParseGrants(perms),
	}, tenant.Signals{})
	require.NoError(t, err)
	return scope
}

func membersRouter(env *testEnv, scope *tenant.Scope) chi.Router {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(tenant.WithScope(r.Context(), scope)))
		})
	})
	NewHandler(env.svc, env.guard).RegisterRoutes(r)
	return r
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestCreateMemberChecksSeatsOnce(t *testing.T) {
	env := newEnv(t, 1)
	r := membersRouter(env, scopeWith(t, "admin-1", policy.RoleCompanyAdmin))
	now := time.Now()

	coretest.ExpectBound(env.mock, "42")
	env.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at", "token_version", "is_active"}).
			AddRow(now, now, 0, true))
	env.mock.ExpectCommit()

	rec := serve(r, http.MethodPost, "/members",
		`{"email":"new@acme.test","password":"long enough pw","name":"New","role":"user"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int32(1), env.seats.calls.Load())
}

func TestMembersRoutesNeedUsersModule(t *testing.T) {
	env := newEnv(t, 0)
	scope := scopeWith(t, "mgr-1", policy.RoleManager, "read", "manage_users")
	r := membersRouter(env, scope)

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/members", ""},
		{http.MethodPost, "/members", `{"email":"x@acme.test","password":"long enough pw","name":"X","role":"viewer"}`},
		{http.MethodPut, "/members/u-2/role", `{"role":"viewer"}`},
		{http.MethodPost, "/members/u-2/deactivate", ""},
		{http.MethodDelete, "/members/u-2", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := serve(r, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.Equal(t, core.CodeModuleDenied, errorCode(t, rec))
		})
	}
	assert.Equal(t, int32(0), env.seats.calls.Load())
}

func TestOwnProfileSkipsUsersModule(t *testing.T) {
	env := newEnv(t, 0)
	r := membersRouter(env, scopeWith(t, "u-1", policy.RoleUser))

	coretest.ExpectBound(env.mock, "42")
	env.mock.ExpectQuery(regexp.QuoteMeta(selectMember)).
		WithArgs("u-1", int64(42)).
		WillReturnRows(memberRow("u-1", "user", true))
	env.mock.ExpectCommit()

	rec := serve(r, http.MethodGet, "/members/me", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(r, http.MethodGet, "/members", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
