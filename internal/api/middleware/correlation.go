package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type ctxKey struct{}

// CorrelationHeader carries the id between callers, this service and the
// uploader behind the publishers.
const CorrelationHeader = "X-Correlation-ID"

const maxCorrelationLen = 128

// CorrelationID accepts a caller-supplied id or mints a UUID, then stores it
// on the context and echoes it in the response. Oversized ids are replaced
// so they cannot bloat log lines.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" || len(id) > maxCorrelationLen {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// GetCorrelationID returns "" when the middleware did not run.
func GetCorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}
