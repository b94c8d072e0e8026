package controller

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const readinessTimeout = 2 * time.Second

// HealthCheck pings one dependency for the readiness probe.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// ReadinessResponse lists every dependency with "ok" or "unavailable".
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type HealthController struct {
	checks  []HealthCheck
	started time.Time
}

func NewHealthController(checks ...HealthCheck) *HealthController {
	return &HealthController{checks: checks, started: time.Now()}
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(h.started).Truncate(time.Second).String(),
	})
}

func (h *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readiness pings all dependencies concurrently and reports each one.
func (h *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		resp = ReadinessResponse{Status: "ready", Checks: make(map[string]string, len(h.checks))}
		g    errgroup.Group
	)
	for _, c := range h.checks {
		g.Go(func() error {
			state := "ok"
			if err := c.Ping(ctx); err != nil {
				state = "unavailable"
			}
			mu.Lock()
			resp.Checks[c.Name] = state
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := http.StatusOK
	for _, state := range resp.Checks {
		if state != "ok" {
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, status, resp)
}
