package supabase

import (
	"fmt"
	"log/slog"
	"net/http"

	"provisioner/pkg/platform/circuit"
)

// BreakerDoer fails fast while the backend keeps failing. Transport errors
// and 5xx responses count as failures; any other response is a success.
type BreakerDoer struct {
	next    HTTPDoer
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewBreakerDoer(next HTTPDoer, breaker *circuit.Breaker, logger *slog.Logger) *BreakerDoer {
	return &BreakerDoer{next: next, breaker: breaker, logger: logger}
}

func (d *BreakerDoer) Do(req *http.Request) (*http.Response, error) {
	if err := d.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("%s: %w", d.breaker.Name(), err)
	}
	resp, err := d.next.Do(req)
	if err != nil && req.Context().Err() != nil {
		// the caller gave up; says nothing about the backend
		d.breaker.Release()
		return nil, err
	}
	if err != nil || resp.StatusCode >= http.StatusInternalServerError {
		if change := d.breaker.RecordFailure(); change.Opened {
			d.logger.WarnContext(req.Context(), "backend circuit opened",
				"breaker", d.breaker.Name(),
			)
		}
		return resp, err
	}
	if change := d.breaker.RecordSuccess(); change.Closed {
		d.logger.InfoContext(req.Context(), "backend circuit closed",
			"breaker", d.breaker.Name(),
		)
	}
	return resp, nil
}
