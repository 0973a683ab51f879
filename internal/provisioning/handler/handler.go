// Package handler exposes the provisioning workflows over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"provisioner/internal/platform/middleware"
	"provisioner/internal/platform/ratelimit"
	"provisioner/internal/provisioning/models"
	"provisioner/internal/provisioning/service"
	dErrors "provisioner/pkg/domain-errors"
	"provisioner/pkg/platform/httputil"
	"provisioner/pkg/requestcontext"
)

// Service defines the provisioning operations used by the handlers.
type Service interface {
	Bootstrap(ctx context.Context) ([]models.BootstrapUser, error)
	ProvisionStaff(ctx context.Context, cmd models.StaffCommand) (json.RawMessage, error)
	ProvisionStudent(ctx context.Context, cmd models.StudentCommand) (*models.StudentResult, error)
}

// Handler wires provisioning endpoints to the provisioning service.
type Handler struct {
	service Service
	logger  *slog.Logger
	limiter *ratelimit.MapLimiter
}

type Option func(*Handler)

// WithBootstrapLimiter rate limits POST /bootstrap-users per client IP.
func WithBootstrapLimiter(l *ratelimit.MapLimiter) Option {
	return func(h *Handler) {
		h.limiter = l
	}
}

// New constructs a provisioning handler.
func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the provisioning endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.With(ratelimit.ByClientIP(h.limiter, h.logger)).Post("/bootstrap-users", h.HandleBootstrap)
	r.Post("/create-staff", h.HandleCreateStaff)
	r.Post("/create-student-v2", h.HandleCreateStudent)
}

// HandleBootstrap handles POST /bootstrap-users requests.
func (h *Handler) HandleBootstrap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	users, err := h.service.Bootstrap(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "bootstrap failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "bootstrap done",
		"request_id", requestID,
		"accounts", len(users),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, BootstrapResponse{Message: msgBootstrapDone, Users: users})
}

// HandleCreateStaff handles POST /create-staff requests.
func (h *Handler) HandleCreateStaff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	token := middleware.BearerToken(r)
	if token == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, service.MsgUnauthenticated))
		return
	}

	req, err := httputil.DecodeAndValidate[StaffRequest](r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid staff request",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	record, err := h.service.ProvisionStaff(ctx, req.Command(token))
	if err != nil {
		h.logger.ErrorContext(ctx, "staff provisioning failed",
			"request_id", requestID,
			"email", req.Email,
			"role", req.Role,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "staff provisioned",
		"request_id", requestID,
		"email", req.Email,
		"role", req.Role,
		"site", req.Site,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if len(record) == 0 {
		record = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(record)
}

// HandleCreateStudent handles POST /create-student-v2 requests. Error
// bodies carry a details field pointing at the server logs.
func (h *Handler) HandleCreateStudent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	details := fmt.Sprintf("Voir les logs du serveur (request_id %s) pour plus de détails", requestID)
	start := time.Now()

	token := middleware.BearerToken(r)
	if token == "" {
		httputil.WriteErrorWithDetails(w, dErrors.New(dErrors.CodeUnauthorized, service.MsgUnauthenticated), details)
		return
	}

	req, err := httputil.DecodeAndValidate[StudentRequest](r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid student request",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteErrorWithDetails(w, err, details)
		return
	}

	result, err := h.service.ProvisionStudent(ctx, req.Command(token))
	if err != nil {
		h.logger.ErrorContext(ctx, "student provisioning failed",
			"request_id", requestID,
			"email", req.student.EmailContact,
			"error", err,
		)
		httputil.WriteErrorWithDetails(w, err, details)
		return
	}

	h.logger.InfoContext(ctx, "student provisioned",
		"request_id", requestID,
		"email", req.student.EmailContact,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, studentResponse(result))
}
