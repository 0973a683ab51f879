package supabase

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"provisioner/pkg/platform/sentinel"
)

// APIError is a non-2xx answer from the auth or REST API. Error returns the
// provider message verbatim so callers can surface it to operators.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Unwrap classifies the status onto a sentinel error so callers can use
// errors.Is without knowing HTTP.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return sentinel.ErrNotFound
	case e.Status == http.StatusConflict || e.Status == http.StatusUnprocessableEntity:
		return sentinel.ErrConflict
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return sentinel.ErrUnauthorized
	case e.Status >= 500:
		return sentinel.ErrUnavailable
	default:
		return nil
	}
}

// errorBody covers both auth API and PostgREST error envelopes.
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Details          json.RawMessage `json:"details"`
	Hint             string          `json:"hint"`
}

const maxErrorBody = 64 << 10

func decodeAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	apiErr.Code = firstNonEmpty(body.ErrorCode, rawString(body.Code))
	apiErr.Message = firstNonEmpty(body.Msg, body.Message, body.ErrorDescription, body.Error, http.StatusText(resp.StatusCode))
	apiErr.Details = rawString(body.Details)
	apiErr.Hint = body.Hint
	return apiErr
}

// rawString renders a JSON scalar as text; null and absent become "".
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
