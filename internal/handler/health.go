package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

type HealthHandler struct {
	version string
	checks  map[string]Check
}

func NewHealthHandler(version string, checks map[string]Check) *HealthHandler {
	return &HealthHandler{version: version, checks: checks}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"version":   h.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	httpStatus := http.StatusOK
	for _, name := range names {
		results[name] = "ok"
		if err := h.checks[name](ctx); err != nil {
			logging.FromContext(r.Context()).Warn("readiness check failed", "check", name, "error", err)
			results[name] = "down"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	overallStatus := "ok"
	if httpStatus != http.StatusOK {
		overallStatus = "down"
	}

	RespondJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    results,
	})
}
