package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/hilthontt/escrow/internal/infrastructure/json"
)

const checkTimeout = 2 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

type Handler struct {
	started time.Time
	checks  map[string]Check
	now     func() time.Time
}

func NewHandler(checks map[string]Check) *Handler {
	if checks == nil {
		checks = map[string]Check{}
	}
	return &Handler{
		started: time.Now(),
		checks:  checks,
		now:     time.Now,
	}
}

// GetHealth reports liveness only.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	json.Write(w, http.StatusOK, h.response("ok", nil))
}

// GetReady runs every dependency check and answers 503 if any fails.
func (h *Handler) GetReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = err.Error()
			status, code = "unhealthy", http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	json.Write(w, code, h.response(status, results))
}

func (h *Handler) response(status string, checks map[string]string) healthResponse {
	now := h.now().UTC()
	return healthResponse{
		Status:    status,
		Timestamp: now.Format(time.RFC3339),
		Uptime:    now.Sub(h.started).Round(time.Second).String(),
		Checks:    checks,
	}
}
