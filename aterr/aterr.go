// Package aterr defines the single error taxonomy used across atkit.
// Every failure surfaces as an *Error with one of four kinds:
//
//   - Transport: network, DNS, TLS, WebSocket, and filesystem I/O failures
//   - Auth: rejected credentials, expired or mismatched tokens
//   - Protocol: non-2xx XRPC responses and malformed server payloads
//   - InvalidInput: identifier syntax, record payload shape, URL scheme
//
// Errors carry structured context (HTTP status, XRPC error code, URL or
// path) for diagnostics but never credential, token, or hash material.
package aterr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the four taxonomy buckets.
type Kind int

// The four error kinds. There are no others.
const (
	Transport Kind = iota + 1
	Auth
	Protocol
	InvalidInput
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Auth:
		return "auth"
	case Protocol:
		return "protocol"
	case InvalidInput:
		return "invalid input"
	default:
		return "unknown"
	}
}

// Error is the structured error returned by all atkit operations.
//
// Msg is a short human-readable description and must never contain
// secrets; constructors in this package only accept non-secret context.
type Error struct {
	Kind Kind

	// Msg is the short human-readable message.
	Msg string

	// Status is the HTTP status code for protocol errors, 0 otherwise.
	Status int

	// Code is the XRPC error code (e.g. "AuthenticationRequired"), if any.
	Code string

	// Body is the raw response body for protocol errors, preserved for
	// debugging. Empty for other kinds.
	Body string

	// URL is the request URL or filesystem path the operation targeted.
	URL string

	// Err is the wrapped cause, if any.
	Err error
}

// Error renders the message in the form "<kind> error: <detail>".
func (e *Error) Error() string {
	switch e.Kind {
	case Protocol:
		s := fmt.Sprintf("protocol error: HTTP %d", e.Status)
		if e.Code != "" {
			s += fmt.Sprintf(" [%s]", e.Code)
		}
		if e.Msg != "" {
			s += ": " + e.Msg
		}
		return s
	default:
		s := fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
		if e.Err != nil && e.Msg == "" {
			s = fmt.Sprintf("%s error: %v", e.Kind, e.Err)
		}
		return s
	}
}

// Unwrap returns the wrapped cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransport wraps a network or filesystem failure. target is the URL
// or path the operation was addressing.
func NewTransport(target string, err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: Transport, Msg: msg, URL: target, Err: err}
}

// NewAuth reports an authentication failure. The message must describe
// the failure without echoing the credential that caused it.
func NewAuth(msg string) *Error {
	return &Error{Kind: Auth, Msg: msg}
}

// NewProtocol reports a non-2xx XRPC response or malformed server payload.
// code and msg come from the XRPC error envelope when it parsed; body is
// the raw response body.
func NewProtocol(status int, code, msg, body, url string) *Error {
	return &Error{Kind: Protocol, Status: status, Code: code, Msg: msg, Body: body, URL: url}
}

// NewInvalidInput reports a validation failure in caller-supplied input.
func NewInvalidInput(msg string) *Error {
	return &Error{Kind: InvalidInput, Msg: msg}
}

// Invalidf is NewInvalidInput with fmt.Sprintf formatting.
func Invalidf(format string, args ...any) *Error {
	return &Error{Kind: InvalidInput, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err if it is (or wraps) an *Error, and 0
// otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// IsAuthError reports whether a protocol error indicates an
// authentication problem the caller could address by refreshing.
func IsAuthError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Kind == Auth {
		return true
	}
	return e.Kind == Protocol && (e.Status == 401 ||
		e.Code == "AuthenticationRequired" ||
		e.Code == "ExpiredToken" ||
		e.Code == "InvalidToken")
}
