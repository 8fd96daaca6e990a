package handlers

import (
	"context"
	"net/http"
	"time"

	"clipmill/internal/httpkit"
)

// Health performs a health check of the service.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	health := map[string]any{
		"status":      "ok",
		"service":     "clipmill-api",
		"version":     "0.1.0",
		"queue_depth": h.batches.QueueDepth(),
	}
	if h.capacity != nil {
		health["in_flight"] = h.capacity.InFlight()
		health["max_concurrent_jobs"] = h.capacity.Max()
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for _, check := range checks {
			if check["status"] != "ok" {
				health["status"] = "degraded"
				log.Warn("health check degraded", "checks", checks)
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	checks := map[string]map[string]any{
		"storage": {"status": "ok", "provider": h.sp.Provider()},
	}
	if h.pool != nil {
		checks["postgres"] = ping(ctx, h.pool.Ping)
	}
	if h.rdb != nil {
		checks["redis"] = ping(ctx, func(ctx context.Context) error {
			return h.rdb.Ping(ctx).Err()
		})
	}
	return checks
}

func ping(ctx context.Context, fn func(context.Context) error) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := fn(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}
	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
