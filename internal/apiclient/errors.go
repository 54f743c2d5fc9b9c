package apiclient

import (
	"errors"
	"fmt"
	"net/http"

	"tutorchat/pkg/interfaces"
)

var (
	ErrNoCredential = errors.New("no credential set")
	ErrInvalidID    = errors.New("id must be positive")
)

// StatusError is returned for every non-2xx response
type StatusError struct {
	Method string
	Path   string
	Code   int
	Detail string // server-supplied reason, if any
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.Code, http.StatusText(e.Code), e.Detail)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
}

// Unwrap maps auth and lookup failures onto the shared sentinels so callers
// can use errors.Is without knowing about HTTP
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return interfaces.ErrUnauthorized
	case http.StatusNotFound:
		return interfaces.ErrNotFound
	default:
		return nil
	}
}
