// Package email normalizes and checks email addresses supplied by callers.
package email

import (
	"errors"
	"net/mail"
	"strings"
)

// ErrInvalid is returned for an address that is not a bare addr-spec.
var ErrInvalid = errors.New("invalid email address")

// Normalize trims s and checks it is a single address without a display
// name. The domain part is lowercased; the local part is kept as given.
func Normalize(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalid
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return "", ErrInvalid
	}
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || !strings.Contains(s[at+1:], ".") {
		return "", ErrInvalid
	}
	return s[:at] + "@" + strings.ToLower(s[at+1:]), nil
}
