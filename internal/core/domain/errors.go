package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrValidation marks malformed input caught before any network call.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials means the remote API rejected identifier or secret.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUpstream covers network failures and 5xx answers. It never ends a session.
	ErrUpstream = errors.New("upstream unavailable")
	// ErrSessionExpired means the refresh credential was rejected or is missing.
	ErrSessionExpired = errors.New("session expired")
	// ErrUnauthenticated means no credential is present for a call that needs one.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrMalformedResponse means the remote API answered without an expected field.
	ErrMalformedResponse = errors.New("malformed upstream response")
	// ErrUnknownDomain is returned by Parse.
	ErrUnknownDomain = errors.New("unknown session domain")
)

// ValidationError carries one message per offending field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.Fields[k])
	}
	return strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// UpstreamError reports a transient failure talking to the remote API.
type UpstreamError struct {
	Op     string
	Status int // 0 for transport errors
	Err    error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: upstream status %d: %v", e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: upstream status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + ": " + ErrUpstream.Error()
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUpstream}
	}
	return []error{ErrUpstream, e.Err}
}

// EnvelopeError names the field missing from a response envelope.
type EnvelopeError struct {
	Op    string
	Field string
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("%s: %s: missing %s", e.Op, ErrMalformedResponse.Error(), e.Field)
}

func (e *EnvelopeError) Unwrap() error { return ErrMalformedResponse }

// EndsSession reports whether err must tear down the local session.
// Upstream outages never do.
func EndsSession(err error) bool {
	if err == nil || errors.Is(err, ErrUpstream) {
		return false
	}
	return errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrUnauthenticated)
}
