package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	traceIDHeader     = "X-Request-ID"
	traceparentHeader = "traceparent"
	maxTraceIDLen     = 128
)

type traceIDKey struct{}

// Tracing assigns each request an id and echoes it on the response. A
// caller-supplied X-Request-ID wins, then the trace id of a W3C traceparent,
// then a fresh UUID.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := requestID(r)
		w.Header().Set(traceIDHeader, traceID)
		ctx := context.WithValue(r.Context(), traceIDKey{}, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(r *http.Request) string {
	if id := r.Header.Get(traceIDHeader); id != "" && len(id) <= maxTraceIDLen {
		return id
	}
	// version-traceid-parentid-flags
	if parts := strings.Split(r.Header.Get(traceparentHeader), "-"); len(parts) == 4 && len(parts[1]) == 32 {
		if parts[1] != strings.Repeat("0", 32) {
			return parts[1]
		}
	}
	return uuid.NewString()
}

func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// Chain wraps h so the first middleware is the outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
