// Package service runs the provisioning workflows: authenticate the caller,
// validate through a remote procedure, create the identity, finalize the
// domain record, and delete the identity again if finalizing fails.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"provisioner/internal/platform/lock"
	"provisioner/internal/provisioning/metrics"
	"provisioner/internal/provisioning/models"
	"provisioner/internal/provisioning/ports"
	dErrors "provisioner/pkg/domain-errors"
	"provisioner/pkg/platform/audit"
	"provisioner/pkg/platform/saga"
	"provisioner/pkg/requestcontext"
)

// MsgUnauthenticated is returned for a missing or refused bearer token.
const MsgUnauthenticated = "Non authentifié"

const (
	kindStaff     = "staff"
	kindStudent   = "student"
	kindBootstrap = "bootstrap"
)

// ProfilePolicy decides what the bootstrap does when the profile update
// fails after the identity was created.
type ProfilePolicy string

const (
	// PolicyCompensate deletes the identity and aborts the run.
	PolicyCompensate ProfilePolicy = "compensate"
	// PolicyBestEffort keeps the identity and reports a warning.
	PolicyBestEffort ProfilePolicy = "best_effort"
)

// ParseProfilePolicy maps a configuration value onto a policy.
func ParseProfilePolicy(v string) (ProfilePolicy, error) {
	switch p := ProfilePolicy(v); p {
	case PolicyCompensate, PolicyBestEffort:
		return p, nil
	case "":
		return PolicyCompensate, nil
	default:
		return "", fmt.Errorf("unknown profile policy %q", v)
	}
}

// Service orchestrates account provisioning.
type Service struct {
	backends            ports.BackendFactory
	logger              *slog.Logger
	auditPublisher      ports.AuditPublisher
	metrics             *metrics.Metrics
	locker              lock.Locker
	accounts            []models.BootstrapAccount
	profilePolicy       ProfilePolicy
	compensationTimeout time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLocker serializes bootstrap runs. Defaults to an in-process lock.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

// WithBootstrapAccounts sets the accounts seeded by Bootstrap, in order.
func WithBootstrapAccounts(accounts []models.BootstrapAccount) Option {
	return func(s *Service) {
		s.accounts = accounts
	}
}

func WithProfilePolicy(p ProfilePolicy) Option {
	return func(s *Service) {
		s.profilePolicy = p
	}
}

// WithCompensationTimeout bounds the compensating delete, which runs even
// after the inbound request was cancelled.
func WithCompensationTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.compensationTimeout = d
	}
}

// New constructs a Service.
func New(backends ports.BackendFactory, opts ...Option) (*Service, error) {
	if backends == nil {
		return nil, errors.New("backend factory is required")
	}
	s := &Service{
		backends:      backends,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		locker:        lock.NewLocal(),
		profilePolicy: PolicyCompensate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) newSaga(kind string) *saga.Saga {
	return saga.New(kind,
		saga.WithLogger(s.logger),
		saga.WithObserver(s.metrics.Observer(kind)),
		saga.WithCompensationTimeout(s.compensationTimeout),
	)
}

func (s *Service) open(ctx context.Context) (*ports.Backend, error) {
	backend, err := s.backends.Open(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "backend indisponible")
	}
	return backend, nil
}

// authenticate resolves the caller. Every refusal is reported with the same
// message so the response does not reveal why the token was rejected.
func (s *Service) authenticate(ctx context.Context, backend *ports.Backend, token string) (*models.Identity, error) {
	if token == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, MsgUnauthenticated)
	}
	caller, err := backend.Identity.IdentityFromToken(ctx, token)
	if err != nil {
		s.logger.WarnContext(ctx, "caller authentication failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, MsgUnauthenticated)
	}
	if caller == nil || caller.ID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, MsgUnauthenticated)
	}
	return caller, nil
}

// finish records the outcome of a workflow run: metrics, audit and logs.
func (s *Service) finish(ctx context.Context, kind string, wf *models.Workflow, err error, event audit.Event) {
	if err == nil {
		s.metrics.IncRequest(kind, "success")
		event.Action = string(audit.EventUserProvisioned)
		s.logAudit(ctx, event)
		return
	}

	wf.Fail()
	s.metrics.IncRequest(kind, string(dErrors.CodeOf(err)))

	var failure *saga.Failure
	if errors.As(err, &failure) && len(failure.Compensated) > 0 {
		compensated := event
		compensated.Action = string(audit.EventIdentityCompensated)
		compensated.Reason = failure.Step
		if failure.CompensationErr != nil {
			compensated.Reason = failure.CompensationErr.Error()
			s.logger.ErrorContext(ctx, "identity left without domain record",
				"kind", kind,
				"identity_id", event.SubjectID,
				"error", failure.CompensationErr,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		s.logAudit(ctx, compensated)
	}

	event.Action = string(audit.EventProvisioningFailed)
	event.Reason = dErrors.MessageOf(err, err.Error())
	s.logAudit(ctx, event)
	s.logger.WarnContext(ctx, "provisioning failed",
		"kind", kind,
		"state_path", fmt.Sprint(wf.History()),
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
}

func (s *Service) logAudit(ctx context.Context, event audit.Event) {
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"error", err,
			"request_id", event.RequestID,
		)
	}
}
