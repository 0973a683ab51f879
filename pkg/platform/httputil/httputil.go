// Package httputil renders JSON responses and coded errors consistently
// across handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "provisioner/pkg/domain-errors"
)

// MaxBodyBytes bounds every decoded request body.
const MaxBodyBytes = 1 << 20

const internalMessage = "erreur interne"

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Validatable is implemented by request bodies that normalize and check
// themselves after decoding.
type Validatable interface {
	Validate() error
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as {"error": message}.
func WriteError(w http.ResponseWriter, err error) {
	WriteErrorWithDetails(w, err, "")
}

// WriteErrorWithDetails renders err with an additional details string.
// Every coded failure maps to 400 except rate limiting; uncoded errors keep
// their cause out of the body.
func WriteErrorWithDetails(w http.ResponseWriter, err error, details string) {
	WriteJSON(w, StatusFor(dErrors.CodeOf(err)), ErrorResponse{
		Error:   dErrors.MessageOf(err, internalMessage),
		Details: details,
	})
}

// StatusFor maps an error code onto its HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}

// DecodeAndValidate decodes a bounded JSON body into T and runs its Validate.
func DecodeAndValidate[T any, PT interface {
	*T
	Validatable
}](r *http.Request) (PT, error) {
	var v T
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "corps de requête manquant")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "corps de requête invalide")
	}
	p := PT(&v)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
