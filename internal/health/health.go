// Package health provides health check endpoints for both listeners.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/welldanyogia/home-iot/internal/metrics"
)

// Sweeper removes expired sessions and lockouts
type Sweeper interface {
	Sweep(ctx context.Context)
}

// SessionCounter counts admin sessions
type SessionCounter interface {
	CountActive(ctx context.Context) (int, error)
}

// LockCounter counts client IPs that are locked out at a given unix time
type LockCounter interface {
	CountLocked(ctx context.Context, now int64) (int, error)
}

// ServiceStatus represents the status of a single service
type ServiceStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status            string                   `json:"status"`
	Timestamp         string                   `json:"timestamp"`
	Services          map[string]ServiceStatus `json:"services"`
	NginxMode         bool                     `json:"nginx_mode"`
	HTTPPort          int                      `json:"http_port"`
	AdminPort         int                      `json:"admin_port"`
	SessionManagement string                   `json:"session_management"`
	ActiveSessions    int                      `json:"active_sessions"`
	LockedAccounts    int                      `json:"locked_accounts"`
	Version           string                   `json:"version,omitempty"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Ready     bool   `json:"ready"`
	Timestamp string `json:"timestamp"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Alive     bool   `json:"alive"`
	Timestamp string `json:"timestamp"`
}

// Handler handles health check requests
type Handler struct {
	db        metrics.Pinger
	sweeper   Sweeper
	sessions  SessionCounter
	locks     LockCounter
	nginxMode bool
	httpPort  int
	adminPort int
	version   string
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	ready bool
	mu    sync.RWMutex
}

// Config holds health handler configuration
type Config struct {
	DB        metrics.Pinger
	Sweeper   Sweeper
	Sessions  SessionCounter
	Locks     LockCounter
	NginxMode bool
	HTTPPort  int
	AdminPort int
	Version   string
	Timeout   time.Duration // Default: 5 seconds
	Logger    *slog.Logger
}

// NewHandler creates a new health check handler
func NewHandler(cfg Config) *Handler {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		db:        cfg.DB,
		sweeper:   cfg.Sweeper,
		sessions:  cfg.Sessions,
		locks:     cfg.Locks,
		nginxMode: cfg.NginxMode,
		httpPort:  cfg.HTTPPort,
		adminPort: cfg.AdminPort,
		version:   cfg.Version,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
		ready:     true,
	}
}

// SetReady sets the readiness state of the service. It is cleared when
// shutdown begins.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the current readiness state
func (h *Handler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Health sweeps expired auth state, then reports database connectivity and
// the session and lockout counts. Count failures are reported as 0.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if h.sweeper != nil {
		h.sweeper.Sweep(ctx)
	}

	services := make(map[string]ServiceStatus)
	overallStatus := "healthy"

	dbStatus := h.checkDatabase(ctx)
	services["database"] = dbStatus
	if dbStatus.Status != "up" {
		overallStatus = "degraded"
	}

	response := HealthResponse{
		Status:            overallStatus,
		Timestamp:         h.now().UTC().Format(time.RFC3339),
		Services:          services,
		NginxMode:         h.nginxMode,
		HTTPPort:          h.httpPort,
		AdminPort:         h.adminPort,
		SessionManagement: "database",
		ActiveSessions:    h.countSessions(ctx),
		LockedAccounts:    h.countLocks(ctx),
		Version:           h.version,
	}

	w.Header().Set("Content-Type", "application/json")
	if overallStatus == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

// Readiness handles the readiness probe endpoint
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ready := h.IsReady()
	if ready && h.checkDatabase(ctx).Status != "up" {
		ready = false
	}

	response := ReadinessResponse{
		Ready:     ready,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

// Liveness handles the liveness probe endpoint
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	response := LivenessResponse{
		Alive:     true,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// checkDatabase pings PostgreSQL
func (h *Handler) checkDatabase(ctx context.Context) ServiceStatus {
	if h.db == nil {
		return ServiceStatus{
			Status: "down",
			Error:  "database pool not configured",
		}
	}

	start := time.Now()
	err := metrics.PingDatabase(ctx, h.db)
	latency := time.Since(start)

	if err != nil {
		return ServiceStatus{
			Status:  "down",
			Latency: latency.String(),
			Error:   err.Error(),
		}
	}

	return ServiceStatus{
		Status:  "up",
		Latency: latency.String(),
	}
}

func (h *Handler) countSessions(ctx context.Context) int {
	if h.sessions == nil {
		return 0
	}
	n, err := h.sessions.CountActive(ctx)
	if err != nil {
		h.logger.Warn("Failed to count active sessions", slog.String("error", err.Error()))
		return 0
	}
	return n
}

func (h *Handler) countLocks(ctx context.Context) int {
	if h.locks == nil {
		return 0
	}
	n, err := h.locks.CountLocked(ctx, h.now().Unix())
	if err != nil {
		h.logger.Warn("Failed to count locked clients", slog.String("error", err.Error()))
		return 0
	}
	return n
}
