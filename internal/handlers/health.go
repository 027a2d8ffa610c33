package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/castlepoint/sso-kernel/internal/config"
	"github.com/castlepoint/sso-kernel/internal/constants"
	"github.com/castlepoint/sso-kernel/internal/registry"
)

// HealthCheckTimeout is the default timeout for health check operations.
const HealthCheckTimeout = 5 * time.Second

// HealthHandler provides health check and monitoring endpoints.
type HealthHandler struct {
	config    *config.Config
	registry  *registry.Registry
	logger    *logrus.Logger
	startTime time.Time
}

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy HealthStatus = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy HealthStatus = "unhealthy"
	// StatusDegraded indicates the component has degraded performance.
	StatusDegraded HealthStatus = "degraded"
)

// HealthResponse represents the overall health check response.
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth represents the health of an individual component.
type ComponentHealth struct {
	Status       HealthStatus `json:"status"`
	Message      string       `json:"message,omitempty"`
	LastChecked  time.Time    `json:"last_checked"`
	ResponseTime string       `json:"response_time,omitempty"`
}

// ReadinessResponse represents the readiness check response.
type ReadinessResponse struct {
	Ready      bool                       `json:"ready"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// NewHealthHandler creates a new health check handler.
func NewHealthHandler(cfg *config.Config, reg *registry.Registry, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{
		config:    cfg,
		registry:  reg,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Health provides a health check covering the ticket stores.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	components := make(map[string]ComponentHealth)
	overallStatus := StatusHealthy

	storeHealth := h.checkStores(r.Context())
	components["ticket_stores"] = storeHealth
	if storeHealth.Status != StatusHealthy {
		overallStatus = StatusUnhealthy
	}

	response := HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.startTime).String(),
		Components: components,
	}

	statusCode := http.StatusOK
	if overallStatus == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.WithError(err).Error("Failed to encode health response")
	}

	h.logger.WithFields(logrus.Fields{
		"status":   overallStatus,
		"duration": time.Since(start).String(),
	}).Debug("Health check completed")
}

// Liveness returns 200 while the process is alive. Used by Kubernetes to
// decide whether the pod should be restarted.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
	}

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.WithError(err).Error("Failed to encode liveness response")
	}
}

// Readiness checks whether the service can reach its ticket stores. Used
// by Kubernetes to decide whether the pod should receive traffic.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]ComponentHealth)

	storeHealth := h.checkStores(r.Context())
	components["ticket_stores"] = storeHealth
	ready := storeHealth.Status == StatusHealthy

	response := ReadinessResponse{
		Ready:      ready,
		Timestamp:  time.Now(),
		Components: components,
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.WithError(err).Error("Failed to encode readiness response")
	}
}

// checkStores verifies connectivity of every configured ticket store.
func (h *HealthHandler) checkStores(ctx context.Context) ComponentHealth {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	err := h.registry.Ping(checkCtx)
	duration := time.Since(start)

	if err != nil {
		h.logger.WithError(err).Warn("Ticket store health check failed")
		return ComponentHealth{
			Status:       StatusUnhealthy,
			Message:      "ticket store connection failed: " + err.Error(),
			LastChecked:  time.Now(),
			ResponseTime: duration.String(),
		}
	}

	status := StatusHealthy
	message := "ticket stores are healthy"
	if duration > time.Second {
		status = StatusDegraded
		message = "ticket store response time is slow"
	}

	return ComponentHealth{
		Status:       status,
		Message:      message,
		LastChecked:  time.Now(),
		ResponseTime: duration.String(),
	}
}
