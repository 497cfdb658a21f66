// AngelaMos | 2026
// handler.go

package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/carterperez-dev/templates/crm-backend/internal/audit"
	"github.com/carterperez-dev/templates/crm-backend/internal/core"
	"github.com/carterperez-dev/templates/crm-backend/internal/policy"
	"github.com/carterperez-dev/templates/crm-backend/internal/tenant"
)

// Companies is the operator view of the company directory.
type Companies interface {
	GetCompany(ctx context.Context, id int64) (*tenant.Company, error)
	ListCompanies(ctx context.Context, limit, offset int) ([]tenant.Company, int, error)
	SetStatus(ctx context.Context, id int64, status tenant.Status) error
}

type Handler struct {
	dbStats     func() sql.DBStats
	redisStats  func() *redis.PoolStats
	redisPing   func(ctx context.Context) error
	dbPing      func(ctx context.Context) error
	auditLength func(ctx context.Context) (int64, error)
	policies    *policy.Store
	companies   Companies
	recorder    *audit.Recorder
	validator   *validator.Validate
}

type HandlerConfig struct {
	DBStats     func() sql.DBStats
	RedisStats  func() *redis.PoolStats
	RedisPing   func(ctx context.Context) error
	DBPing      func(ctx context.Context) error
	AuditLength func(ctx context.Context) (int64, error)
	Policies    *policy.Store
	Companies   Companies
	Recorder    *audit.Recorder
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		dbStats:     cfg.DBStats,
		redisStats:  cfg.RedisStats,
		redisPing:   cfg.RedisPing,
		dbPing:      cfg.DBPing,
		auditLength: cfg.AuditLength,
		policies:    cfg.Policies,
		companies:   cfg.Companies,
		recorder:    cfg.Recorder,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes mounts the operator surface. topOnly must admit nothing but
// the platform operator role.
func (h *Handler) RegisterRoutes(
	r chi.Router,
	topOnly func(http.Handler) http.Handler,
) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(topOnly)

		r.Get("/stats", h.GetSystemStats)
		r.Get("/stats/db", h.GetDatabaseStats)
		r.Get("/stats/redis", h.GetRedisStats)
		r.Get("/stats/runtime", h.GetRuntimeStats)

		r.Get("/policy", h.GetPolicy)
		r.Post("/policy/reload", h.ReloadPolicy)

		r.Get("/companies", h.ListCompanies)
		r.Get("/companies/{companyID}", h.GetCompany)
		r.Put("/companies/{companyID}/status", h.SetCompanyStatus)
	})
}

func (h *Handler) GetSystemStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbHealthy := true
	if h.dbPing != nil {
		if err := h.dbPing(ctx); err != nil {
			dbHealthy = false
		}
	}

	redisHealthy := true
	if h.redisPing != nil {
		if err := h.redisPing(ctx); err != nil {
			redisHealthy = false
		}
	}

	response := SystemStatsResponse{
		Database: DatabaseStatus{
			Healthy: dbHealthy,
			Stats:   h.getDBStats(),
		},
		Redis: RedisStatus{
			Healthy: redisHealthy,
			Stats:   h.getRedisStats(),
		},
		Runtime: runtimeStats(),
	}

	if h.auditLength != nil {
		if n, err := h.auditLength(ctx); err == nil {
			response.AuditStreamLength = &n
		}
	}

	if h.policies != nil {
		response.PolicySource = h.policies.Snapshot().Source()
	}

	core.OK(w, response)
}

func (h *Handler) GetDatabaseStats(w http.ResponseWriter, r *http.Request) {
	core.OK(w, h.getDBStats())
}

func (h *Handler) GetRedisStats(w http.ResponseWriter, r *http.Request) {
	core.OK(w, h.getRedisStats())
}

func (h *Handler) GetRuntimeStats(w http.ResponseWriter, r *http.Request) {
	core.OK(w, runtimeStats())
}

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	core.OK(w, h.policies.Snapshot().View())
}

// ReloadPolicy swaps in a fresh snapshot. A broken override file leaves the
// current snapshot in place and answers 400.
func (h *Handler) ReloadPolicy(w http.ResponseWriter, r *http.Request) {
	snap, err := h.policies.Reload()
	if err != nil {
		core.BadRequest(w, "policy reload failed: "+err.Error())
		return
	}

	h.recorder.Record(r.Context(), h.event(r, audit.Event{
		Type:    audit.EventPolicyReloaded,
		Details: map[string]any{"source": snap.Source()},
	}))

	core.OK(w, snap.View())
}

func (h *Handler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	companies, total, err := h.companies.ListCompanies(
		r.Context(), pageSize, (page-1)*pageSize,
	)
	if err != nil {
		core.JSONError(w, err)
		return
	}

	core.Paginated(w, companies, page, pageSize, total)
}

func (h *Handler) GetCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := companyID(w, r)
	if !ok {
		return
	}

	c, err := h.companies.GetCompany(r.Context(), id)
	if err != nil {
		core.JSONError(w, err)
		return
	}

	core.OK(w, c)
}

type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active suspended"`
}

func (h *Handler) SetCompanyStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := companyID(w, r)
	if !ok {
		return
	}

	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	status := tenant.Status(req.Status)
	if err := h.companies.SetStatus(r.Context(), id, status); err != nil {
		core.JSONError(w, err)
		return
	}

	h.recorder.Record(r.Context(), h.event(r, audit.Event{
		Type:           audit.EventTenantStatusChanged,
		TargetTenantID: audit.Int64Ptr(id),
		Details:        map[string]any{"status": req.Status},
	}))

	c, err := h.companies.GetCompany(r.Context(), id)
	if err != nil {
		core.JSONError(w, err)
		return
	}
	core.OK(w, c)
}

func (h *Handler) event(r *http.Request, e audit.Event) audit.Event {
	if p, ok := tenant.PrincipalFromContext(r.Context()); ok {
		e.ActorID = p.ID
		e.ActorRole = p.Role.String()
		e.TenantID = p.TenantID
	}
	return e
}

func companyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "companyID"), 10, 64)
	if err != nil || id <= 0 {
		core.BadRequest(w, "invalid company id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func runtimeStats() RuntimeStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return RuntimeStats{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     memStats.Alloc,
		MemSys:       memStats.Sys,
		NumGC:        memStats.NumGC,
	}
}

func (h *Handler) getDBStats() *DBPoolStats {
	if h.dbStats == nil {
		return nil
	}

	stats := h.dbStats()
	return &DBPoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration.String(),
		MaxIdleClosed:      stats.MaxIdleClosed,
		MaxIdleTimeClosed:  stats.MaxIdleTimeClosed,
		MaxLifetimeClosed:  stats.MaxLifetimeClosed,
	}
}

func (h *Handler) getRedisStats() *RedisPoolStats {
	if h.redisStats == nil {
		return nil
	}

	stats := h.redisStats()
	return &RedisPoolStats{
		Hits:       stats.Hits,
		Misses:     stats.Misses,
		Timeouts:   stats.Timeouts,
		TotalConns: stats.TotalConns,
		IdleConns:  stats.IdleConns,
		StaleConns: stats.StaleConns,
	}
}

type SystemStatsResponse struct {
	Database          DatabaseStatus `json:"database"`
	Redis             RedisStatus    `json:"redis"`
	Runtime           RuntimeStats   `json:"runtime"`
	PolicySource      string         `json:"policy_source,omitempty"`
	AuditStreamLength *int64         `json:"audit_stream_length,omitempty"`
}

type DatabaseStatus struct {
	Healthy bool         `json:"healthy"`
	Stats   *DBPoolStats `json:"stats,omitempty"`
}

type RedisStatus struct {
	Healthy bool            `json:"healthy"`
	Stats   *RedisPoolStats `json:"stats,omitempty"`
}

type DBPoolStats struct {
	MaxOpenConnections int    `json:"max_open_connections"`
	OpenConnections    int    `json:"open_connections"`
	InUse              int    `json:"in_use"`
	Idle               int    `json:"idle"`
	WaitCount          int64  `json:"wait_count"`
	WaitDuration       string `json:"wait_duration"`
	MaxIdleClosed      int64  `json:"max_idle_closed"`
	MaxIdleTimeClosed  int64  `json:"max_idle_time_closed"`
	MaxLifetimeClosed  int64  `json:"max_lifetime_closed"`
}

type RedisPoolStats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
}

type RuntimeStats struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc_bytes"`
	MemSys       uint64 `json:"mem_sys_bytes"`
	NumGC        uint32 `json:"num_gc"`
}
