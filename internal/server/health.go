package server

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// Health status constants for health check responses.
const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
	healthStatusUnavailable  = "unavailable"
)

const storePingTimeout = 2 * time.Second

// pinger is implemented by session stores with a remote backend.
type pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker provides health check endpoints for Kubernetes probes.
type HealthChecker struct {
	ready         atomic.Bool
	serverContext *ServerContext
	startTime     time.Time
}

// NewHealthChecker creates a new HealthChecker. It starts ready.
func NewHealthChecker(sc *ServerContext) *HealthChecker {
	h := &HealthChecker{
		serverContext: sc,
		startTime:     time.Now(),
	}
	h.ready.Store(true)
	return h
}

// SetReady sets the readiness state of the server.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the server is ready to receive traffic.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// isServerShuttingDown returns false if serverContext is nil.
func (h *HealthChecker) isServerShuttingDown() bool {
	return h.serverContext != nil && h.serverContext.IsShutdown()
}

// checkSessionStore pings remote session stores. In-memory stores are always ok.
func (h *HealthChecker) checkSessionStore(ctx context.Context) string {
	if h.serverContext == nil {
		return healthStatusOK
	}
	p, ok := h.serverContext.Sessions().Store().(pinger)
	if !ok {
		return healthStatusOK
	}
	ctx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return healthStatusUnavailable
	}
	return healthStatusOK
}

// HealthResponse represents the JSON response for health endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DetailedHealthResponse provides comprehensive health information.
type DetailedHealthResponse struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	SessionStore  string `json:"sessionStore"`
	GeminiCircuit string `json:"geminiCircuit,omitempty"`
}

// LivenessHandler returns an HTTP handler for the /healthz endpoint.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler returns an HTTP handler for the /readyz endpoint.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string)
		allOk := true

		if !h.IsReady() {
			checks["ready"] = healthStatusNotReady
			allOk = false
		} else {
			checks["ready"] = healthStatusOK
		}

		if h.isServerShuttingDown() {
			checks["shutdown"] = healthStatusShuttingDown
			allOk = false
		} else {
			checks["shutdown"] = healthStatusOK
		}

		checks["session_store"] = h.checkSessionStore(r.Context())
		if checks["session_store"] != healthStatusOK {
			allOk = false
		}

		response := HealthResponse{Checks: checks}
		status := http.StatusOK
		if allOk {
			response.Status = healthStatusOK
		} else {
			response.Status = healthStatusNotReady
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, response)
	})
}

// RegisterHealthEndpoints registers health check endpoints on the given mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("GET /healthz", h.LivenessHandler())
	mux.Handle("GET /readyz", h.ReadinessHandler())
	mux.Handle("GET /healthz/detailed", h.DetailedHealthHandler())
}

// DetailedHealthHandler returns an HTTP handler for the /healthz/detailed endpoint.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := DetailedHealthResponse{
			Status:       healthStatusOK,
			Uptime:       time.Since(h.startTime).Truncate(time.Second).String(),
			SessionStore: h.checkSessionStore(r.Context()),
		}
		if h.serverContext != nil && h.serverContext.generator != nil {
			response.GeminiCircuit = h.serverContext.generator.BreakerState()
		}

		status := http.StatusOK
		switch {
		case !h.ready.Load():
			response.Status = healthStatusNotReady
			status = http.StatusServiceUnavailable
		case h.isServerShuttingDown():
			response.Status = healthStatusShuttingDown
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, response)
	})
}
