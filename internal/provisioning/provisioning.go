// Package provisioning assembles the provisioning gateway: the workflow
// service, its HTTP handler and the router they are served from.
package provisioning

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	platformmetrics "provisioner/internal/platform/metrics"
	"provisioner/internal/platform/middleware"
	"provisioner/internal/provisioning/handler"
	"provisioner/internal/provisioning/ports"
	"provisioner/internal/provisioning/service"
	"provisioner/pkg/platform/httputil"
)

// Service exposes the provisioning workflows.
type Service = service.Service

// Handler wires HTTP endpoints to the provisioning service.
type Handler = handler.Handler

// NewService constructs the provisioning service.
func NewService(backends ports.BackendFactory, opts ...service.Option) (*Service, error) {
	return service.New(backends, opts...)
}

// NewHandler constructs the HTTP handler for the provisioning routes.
func NewHandler(s *Service, logger *slog.Logger, opts ...handler.Option) *Handler {
	return handler.New(s, logger, opts...)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// RouterConfig carries what the router needs besides the handler.
type RouterConfig struct {
	Logger         *slog.Logger
	Metrics        *platformmetrics.Metrics
	RequestTimeout time.Duration
	TrustedProxies middleware.TrustedProxies
	Checks         map[string]HealthCheck
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewRouter mounts the provisioning routes, /health and /metrics behind
// the shared middleware chain. OPTIONS requests are answered before
// routing.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata(cfg.TrustedProxies))
	r.Use(middleware.CORS)
	r.Use(middleware.Preflight)
	r.Use(middleware.LatencyMiddleware(cfg.Metrics))
	r.Use(middleware.Logger(cfg.Logger))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	h.Register(r)
	r.Get("/health", healthHandler(cfg.Checks))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		for name, check := range checks {
			if resp.Checks == nil {
				resp.Checks = make(map[string]string, len(checks))
			}
			if err := check(r.Context()); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
