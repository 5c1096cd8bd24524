package tiktok

import (
	"context"
	"errors"
	"net"
	"strconv"
)

// Error kinds. Every error returned by Client wraps exactly one of these, so
// callers can branch with errors.Is.
var (
	ErrTimeout           = errors.New("tiktok: request timed out")
	ErrNetwork           = errors.New("tiktok: network error")
	ErrInvalidToken      = errors.New("tiktok: access token rejected")
	ErrTokenExchange     = errors.New("tiktok: token exchange failed")
	ErrStatus            = errors.New("tiktok: unexpected response status")
	ErrMalformedResponse = errors.New("tiktok: malformed response")
	ErrAPI               = errors.New("tiktok: api error")
	ErrNotFound          = errors.New("tiktok: video not found")
)

// maxErrorBody bounds how much of a provider body is kept on an Error.
const maxErrorBody = 4096

// Error describes a failed provider call.
type Error struct {
	// Kind is one of the Err* sentinels.
	Kind error
	// Op names the call, e.g. "token", "user.info", "video.list".
	Op string
	// Status is the HTTP status, or 0 if no response was received.
	Status int
	// Body is the (truncated) response body, or the provider's error message.
	Body string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}
	if e.Status != 0 {
		msg += ": HTTP " + strconv.Itoa(e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}

// transportError classifies an error from http.Client.Do.
func transportError(op string, err error) *Error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &Error{Kind: ErrTimeout, Op: op, Err: err}
	}
	return &Error{Kind: ErrNetwork, Op: op, Err: err}
}

func statusError(op string, status int, body []byte) *Error {
	return &Error{Kind: ErrStatus, Op: op, Status: status, Body: truncate(body)}
}

func malformed(op string, body []byte, err error) *Error {
	return &Error{Kind: ErrMalformedResponse, Op: op, Body: truncate(body), Err: err}
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}

// Redact shortens a credential for logging.
func Redact(token string) string {
	const keep = 8
	if len(token) <= keep {
		return "***"
	}
	return token[:keep] + "..."
}
