package theirstack

import (
	"errors"
	"fmt"
)

// Kind classifies a failed search call.
type Kind int

const (
	// KindValidation is a local precondition failure; no request was sent.
	KindValidation Kind = iota + 1
	// KindAuthentication is a 401/403. Never retried.
	KindAuthentication
	// KindRetryable is a transport failure, timeout, 429 or 5xx.
	KindRetryable
	// KindClient is any other 4xx. Never retried.
	KindClient
	// KindMalformedResponse is a body that is not JSON or has the wrong shape.
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindRetryable:
		return "retryable"
	case KindClient:
		return "client"
	case KindMalformedResponse:
		return "malformed_response"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by Client for every failed search.
type Error struct {
	Kind       Kind
	StatusCode int    // 0 when no response was received
	Body       string // truncated response body, if any
	Msg        string
	Err        error
}

func (e *Error) Error() string {
	s := "theirstack " + e.Kind.String()
	if e.StatusCode != 0 {
		s += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsValidation(err error) bool     { return KindOf(err) == KindValidation }
func IsAuthentication(err error) bool { return KindOf(err) == KindAuthentication }
func IsRetryable(err error) bool      { return KindOf(err) == KindRetryable }
func IsClient(err error) bool         { return KindOf(err) == KindClient }
func IsMalformed(err error) bool      { return KindOf(err) == KindMalformedResponse }

// classifyStatus maps a non-2xx status code to an error kind.
func classifyStatus(code int) Kind {
	switch {
	case code == 401 || code == 403:
		return KindAuthentication
	case code == 429 || (code >= 500 && code < 600):
		return KindRetryable
	default:
		return KindClient
	}
}
