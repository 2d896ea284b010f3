package health

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPHandler provides HTTP endpoints for health checks
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

// NewHTTPHandler creates a new HTTP handler for health checks
func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{manager: manager, logger: logger}
}

// RegisterRoutes registers health check endpoints with an HTTP mux
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /health/ready", h.handleReadiness)
	mux.HandleFunc("GET /health/live", h.handleLiveness)
	mux.HandleFunc("GET /health/detailed", h.handleDetailedHealth)
}

func statusCode(s CheckStatus) int {
	switch s {
	case StatusHealthy, StatusDegraded:
		return http.StatusOK
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.GetOverallHealth(r.Context())
	// an empty registry is not a failure
	code := statusCode(overall.Status)
	if overall.Status == StatusUnknown {
		code = http.StatusOK
	}
	h.writeJSON(w, code, map[string]any{
		"status":    overall.Status.String(),
		"message":   overall.Message,
		"timestamp": overall.Timestamp.Unix(),
		"duration":  overall.Duration.String(),
		"degraded":  overall.Degraded,
		"ready":     overall.Ready,
		"live":      overall.Live,
	})
}

func (h *HTTPHandler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ready := h.manager.IsReady(r.Context())
	code, message := http.StatusOK, "ready"
	if !ready {
		code, message = http.StatusServiceUnavailable, "not ready"
	}
	h.writeJSON(w, code, map[string]any{
		"status":    message,
		"ready":     ready,
		"timestamp": time.Now().Unix(),
	})
}

func (h *HTTPHandler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	alive := h.manager.IsLive(r.Context())
	code, message := http.StatusOK, "alive"
	if !alive {
		code, message = http.StatusServiceUnavailable, "not alive"
	}
	h.writeJSON(w, code, map[string]any{
		"status":    message,
		"live":      alive,
		"timestamp": time.Now().Unix(),
	})
}

func (h *HTTPHandler) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	detailed := h.manager.GetDetailedHealth(r.Context())
	code := statusCode(detailed.Overall.Status)
	if detailed.Overall.Status == StatusUnknown {
		code = http.StatusOK
	}
	h.writeJSON(w, code, detailed)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
