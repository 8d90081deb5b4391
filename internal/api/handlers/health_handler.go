package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/iac-studio/dbstack/internal/api/types"
	"github.com/iac-studio/dbstack/pkg/logger"
)

// Check probes one dependency for readiness.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type HealthHandler struct {
	checks  []Check
	timeout time.Duration
}

func NewHealthHandler(checks ...Check) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: map[string]string{"status": "ok"}})
}

// Readiness runs every check and reports 503 when any fails.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := map[string]string{}
	ready := true
	for _, c := range h.checks {
		if err := c.Probe(ctx); err != nil {
			logger.L().Warn("readiness check failed", zap.String("check", c.Name), zap.Error(err))
			status[c.Name] = "unavailable"
			ready = false
			continue
		}
		status[c.Name] = "ok"
	}
	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, types.APIResponse{
			Success: false,
			Data:    status,
			Error:   &types.APIError{Code: "unavailable", Message: "dependencies not ready"},
		})
		return
	}
	status["status"] = "ready"
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: status})
}
