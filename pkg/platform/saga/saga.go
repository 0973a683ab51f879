// Package saga runs an ordered list of forward steps where each step may
// register a compensating action. When a step fails, compensations of the
// steps that already completed run in reverse order and the original error is
// returned.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultCompensationTimeout = 10 * time.Second

// Step is one forward action. Compensate is optional and only runs when a
// later step fails.
type Step struct {
	Name       string
	Do         func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Observer is notified after each forward step and each compensation.
type Observer interface {
	StepDone(name string, elapsed time.Duration, err error)
	Compensated(name string, err error)
}

// Failure is returned by Run when a forward step fails. It unwraps to the
// step's original error so callers can keep matching on it.
type Failure struct {
	Step string
	Err  error
	// Compensated lists the steps whose compensation ran, in execution order.
	Compensated []string
	// CompensationErr joins every compensation failure, nil when all succeeded.
	CompensationErr error
}

func (f *Failure) Error() string {
	if f.CompensationErr != nil {
		return fmt.Sprintf("step %s failed: %v (compensation failed: %v)", f.Step, f.Err, f.CompensationErr)
	}
	return fmt.Sprintf("step %s failed: %v", f.Step, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Saga is an ordered set of steps. A Saga is built per request and is not
// safe for concurrent Run calls.
type Saga struct {
	name                string
	steps               []Step
	logger              *slog.Logger
	tracer              trace.Tracer
	observer            Observer
	compensationTimeout time.Duration
}

type Option func(*Saga)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Saga) {
		s.logger = logger
	}
}

func WithObserver(o Observer) Option {
	return func(s *Saga) {
		s.observer = o
	}
}

// WithCompensationTimeout bounds the time given to all compensations.
func WithCompensationTimeout(d time.Duration) Option {
	return func(s *Saga) {
		if d > 0 {
			s.compensationTimeout = d
		}
	}
}

// New creates an empty saga.
func New(name string, opts ...Option) *Saga {
	s := &Saga{
		name:                name,
		tracer:              otel.Tracer("provisioner/saga"),
		compensationTimeout: defaultCompensationTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Then appends a step and returns the saga for chaining.
func (s *Saga) Then(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Run executes the steps in order. On the first failure it compensates the
// completed steps and returns a *Failure. Compensations run on a context
// detached from ctx's cancellation so a dropped client connection cannot
// leave a half-applied saga behind.
func (s *Saga) Run(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "saga."+s.name)
	defer span.End()

	completed := make([]Step, 0, len(s.steps))
	for _, step := range s.steps {
		if err := s.runStep(ctx, step); err != nil {
			failure := &Failure{Step: step.Name, Err: err}
			s.compensate(ctx, completed, failure)
			span.RecordError(err)
			span.SetStatus(codes.Error, step.Name)
			return failure
		}
		completed = append(completed, step)
	}
	return nil
}

func (s *Saga) runStep(ctx context.Context, step Step) error {
	ctx, span := s.tracer.Start(ctx, "saga.step."+step.Name,
		trace.WithAttributes(attribute.String("saga", s.name)))
	defer span.End()

	start := time.Now()
	err := step.Do(ctx)
	if s.observer != nil {
		s.observer.StepDone(step.Name, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "step failed")
	}
	return err
}

func (s *Saga) compensate(ctx context.Context, completed []Step, failure *Failure) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	var errs []error
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}
		err := step.Compensate(cctx)
		failure.Compensated = append(failure.Compensated, step.Name)
		if s.observer != nil {
			s.observer.Compensated(step.Name, err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("compensate %s: %w", step.Name, err))
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "saga compensation failed",
					"saga", s.name,
					"step", step.Name,
					"failed_step", failure.Step,
					"error", err,
				)
			}
			continue
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "saga step compensated",
				"saga", s.name,
				"step", step.Name,
				"failed_step", failure.Step,
			)
		}
	}
	failure.CompensationErr = errors.Join(errs...)
}
