// AngelaMos | 2026
// requestid.go

package middleware

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/carterperez-dev/templates/crm-backend/internal/core"
)

const RequestIDHeader = "X-Request-ID"

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// RequestID reuses a well-formed inbound X-Request-ID or mints a new one.
// The endpoint is stored alongside it for audit records.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !requestIDPattern.MatchString(id) {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := core.WithRequestID(r.Context(), id)
		ctx = core.WithEndpoint(ctx, r.Method+" "+r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
