// AngelaMos | 2026
// handler_test.go

package admin_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/crm-backend/internal/admin"
	"github.com/carterperez-dev/templates/crm-backend/internal/audit"
	"github.com/carterperez-dev/templates/crm-backend/internal/core"
	"github.com/carterperez-dev/templates/crm-backend/internal/policy"
	"github.com/carterperez-dev/templates/crm-backend/internal/tenant"
)

type fakeCompanies struct {
	byID map[int64]*tenant.Company
}

func (f *fakeCompanies) GetCompany(_ context.Context, id int64) (*tenant.Company, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return c, nil
}

func (f *fakeCompanies) ListCompanies(_ context.Context, limit, offset int) ([]tenant.Company, int, error) {
	out := make([]tenant.Company, 0, len(f.byID))
	for id := int64(1); id <= int64(len(f.byID)); id++ {
		out = append(out, *f.byID[id])
	}
	if offset >= len(out) {
		return nil, len(f.byID), nil
	}
	end := min(offset+limit, len(out))
	return out[offset:end], len(f.byID), nil
}

func (f *fakeCompanies) SetStatus(_ context.Context, id int64, status tenant.Status) error {
	c, ok := f.byID[id]
	if !ok {
		return core.ErrNotFound
	}
	c.Status = status
	return nil
}

type fixture struct {
	router    http.Handler
	companies *fakeCompanies
	events    []audit.Event
}

func newFixture(t *testing.T, store *policy.Store) *fixture {
	t.Helper()

	f := &fixture{companies: &fakeCompanies{byID: map[int64]*tenant.Company{
		1: {ID: 1, Name: "Acme", Status: tenant.StatusActive, Plan: "starter", CreatedAt: time.Now()},
		2: {ID: 2, Name: "Globex", Status: tenant.StatusActive, Plan: "free", CreatedAt: time.Now()},
	}}}

	recorder := audit.NewRecorder(audit.SinkFunc(func(_ context.Context, e audit.Event) error {
		f.events = append(f.events, e)
		return nil
	}), time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	h := admin.NewHandler(admin.HandlerConfig{
		DBPing:      func(context.Context) error { return nil },
		AuditLength: func(context.Context) (int64, error) { return 7, nil },
		Policies:    store,
		Companies:   f.companies,
		Recorder:    recorder,
	})

	operator := &tenant.Principal{ID: "root", Role: policy.RoleSuperAdmin}
	withOperator := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(tenant.WithPrincipal(r.Context(), operator)))
		})
	}

	r := chi.NewRouter()
	h.RegisterRoutes(r, withOperator)
	f.router = r
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, path, rd))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSystemStats(t *testing.T) {
	f := newFixture(t, policy.NewStaticStore(policy.Default()))

	rec := f.do(http.MethodGet, "/admin/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, true, data["database"].(map[string]any)["healthy"])
	assert.Equal(t, float64(7), data["audit_stream_length"])
	assert.Equal(t, "builtin", data["policy_source"])
}

func TestPolicyView(t *testing.T) {
	f := newFixture(t, policy.NewStaticStore(policy.Default()))

	rec := f.do(http.MethodGet, "/admin/policy", "")
	require.Equal(t, http.StatusOK, rec.Code)

	data := decode(t, rec)["data"].(map[string]any)
	roles := data["roles"].(map[string]any)
	assert.Equal(t, float64(100), roles["super_admin"].(map[string]any)["level"])
	assert.Contains(t, data["plans"], "enterprise")
}

func TestPolicyReloadFailureKeepsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_plan: starter\n"), 0o600))

	store, err := policy.NewStore(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	before := store.Snapshot()

	f := newFixture(t, store)

	require.NoError(t, os.WriteFile(path, []byte("roles:\n  intern:\n    level: 10\n"), 0o600))
	rec := f.do(http.MethodPost, "/admin/policy/reload", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Same(t, before, store.Snapshot())
	assert.Empty(t, f.events)
}

func TestPolicyReloadAudited(t *testing.T) {
	f := newFixture(t, policy.NewStaticStore(policy.Default()))

	rec := f.do(http.MethodPost, "/admin/policy/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.events, 1)
	assert.Equal(t, audit.EventPolicyReloaded, f.events[0].Type)
	assert.Equal(t, "root", f.events[0].ActorID)
}

func TestListCompaniesPaginated(t *testing.T) {
	f := newFixture(t, policy.NewStaticStore(policy.Default()))

	rec := f.do(http.MethodGet, "/admin/companies?page=2&page_size=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "Globex", data[0].(map[string]any)["name"])
	assert.Equal(t, float64(2), body["meta"].(map[string]any)["total"])
}

func TestSetCompanyStatus(t *testing.T) {
	f := newFixture(t, policy.NewStaticStore(policy.Default()))

	rec := f.do(http.MethodPut, "/admin/companies/2/status", `{"status":"suspended"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, tenant.StatusSuspended, f.companies.byID[2].Status)
	require.Len(t, f.events, 1)
	assert.Equal(t, audit.EventTenantStatusChanged, f.events[0].Type)
	require.NotNil(t, f.events[0].TargetTenantID)
	assert.Equal(t, int64(2), *f.events[0].TargetTenantID)
}

func TestSetCompanyStatusRejectsBadInput(t *testing.T) {
	f := newFixture(t, policy.NewStaticStore(policy.Default()))

	assert.Equal(t, http.StatusBadRequest,
		f.do(http.MethodPut, "/admin/companies/2/status", `{"status":"deleted"}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		f.do(http.MethodPut, "/admin/companies/abc/status", `{"status":"active"}`).Code)
	assert.Equal(t, http.StatusNotFound,
		f.do(http.MethodPut, "/admin/companies/99/status", `{"status":"active"}`).Code)
	assert.Empty(t, f.events)
}
