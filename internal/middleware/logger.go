// AngelaMos | 2026
// logger.go

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/carterperez-dev/templates/crm-backend/internal/core"
	"github.com/carterperez-dev/templates/crm-backend/internal/tenant"
)

// Logger writes one line per request. Scope attributes are read after the
// handler so the line carries the resolved company.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			holder := &scopeHolder{}
			r = r.WithContext(withScopeHolder(r.Context(), holder))

			next.ServeHTTP(ww, r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", core.RequestIDFromContext(r.Context()),
			}
			if holder.principal != "" {
				attrs = append(attrs, "principal", holder.principal)
			}
			if holder.scope != nil {
				attrs = append(attrs, "scope", holder.scope)
			}

			level := slog.LevelInfo
			switch {
			case ww.Status() >= http.StatusInternalServerError:
				level = slog.LevelError
			case ww.Status() >= http.StatusBadRequest:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request", attrs...)
		})
	}
}

func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.ErrorContext(r.Context(), "panic recovered",
						"panic", rec,
						"stack", string(debug.Stack()),
					)
					core.JSONError(w, core.ErrInternalError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type scopeHolder struct {
	principal string
	scope     *tenant.Scope
}

type scopeHolderKey struct{}

func withScopeHolder(ctx context.Context, h *scopeHolder) context.Context {
	return context.WithValue(ctx, scopeHolderKey{}, h)
}

// NoteScope hands the resolved scope back to Logger. Mount it after the
// tenant resolver.
func NoteScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := r.Context().Value(scopeHolderKey{}).(*scopeHolder); ok {
			if scope, found := tenant.FromContext(r.Context()); found {
				h.scope = scope
				h.principal = scope.Principal().ID
			}
		}
		next.ServeHTTP(w, r)
	})
}
