package sentinel

import "errors"

// Sentinel errors for infrastructure facts. The backend client returns these
// (wrapped) so services can translate them into domain errors without
// depending on HTTP status codes.
//
//   - ErrNotFound: the identity or record does not exist
//   - ErrConflict: the backend rejected a duplicate (e.g. email already registered)
//   - ErrUnauthorized: the presented token or service key was refused
//   - ErrUnavailable: the backend is down, overloaded or timed out
//   - ErrInvalidState: a local component was used in a state it does not allow
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidState = errors.New("invalid state")
)
