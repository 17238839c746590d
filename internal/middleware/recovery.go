package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/josh-kwaku/supportdesk-payments/internal/handler"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
)

// Recovery turns a handler panic into a 500 envelope. A panic after the
// response started only gets logged.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				logging.FromContext(r.Context()).Error("panic recovered",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				if rec.status == 0 {
					handler.RespondAppError(w, handler.ErrInternalError, nil)
				}
			}
		}()
		next.ServeHTTP(rec, r)
	})
}
