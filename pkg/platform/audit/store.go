package audit

import "context"

// Store persists or forwards audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
