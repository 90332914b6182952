// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package apperr defines the sealed error taxonomy shared by every
// layer of the SDK. Callers differentiate failure classes by Kind
// rather than by string matching:
//
//	var appErr *apperr.Error
//	if errors.As(err, &appErr) && appErr.Kind == apperr.EntityNotFound { ... }
//
// or, equivalently, apperr.Is(err, apperr.EntityNotFound).
//
// Backend HTTP failures map onto the taxonomy at the transport
// boundary (401 → Unauthorized, 403 → Forbidden, other 4xx →
// ClientError, 5xx → ServerError). Backend errors additionally carry
// the structured label from the response body, which distinguishes
// recoverable conditions (e.g. "mls-stale-message") from generic
// client errors.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error. The set is closed: every error surfaced by
// the SDK carries exactly one of these values.
type Kind int

const (
	// Unknown is the catch-all for failures that fit no other kind.
	Unknown Kind = iota
	// Unauthorized means the backend rejected the credentials (HTTP 401).
	Unauthorized
	// Forbidden means the operation is not permitted for this client (HTTP 403).
	Forbidden
	// MissingParameter means a required argument or field was absent.
	MissingParameter
	// InvalidParameter means an argument or field was present but malformed.
	InvalidParameter
	// DatabaseError means the local entity store failed.
	DatabaseError
	// EntityNotFound means a team, conversation, or group is not known locally
	// or on the backend.
	EntityNotFound
	// ClientError is any other backend 4xx response, with the structured
	// error body preserved in Label and Message.
	ClientError
	// ServerError is a backend 5xx response.
	ServerError
	// CryptographicSystemError means the crypto layer failed structurally
	// (store cannot be opened, epoch mismatch). Fatal, never retried.
	CryptographicSystemError
)

// String returns the kind name used in logs and error text.
func (k Kind) String() string {
	switch k {
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case MissingParameter:
		return "missing-parameter"
	case InvalidParameter:
		return "invalid-parameter"
	case DatabaseError:
		return "database-error"
	case EntityNotFound:
		return "entity-not-found"
	case ClientError:
		return "client-error"
	case ServerError:
		return "server-error"
	case CryptographicSystemError:
		return "cryptographic-system-error"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carried across package boundaries.
type Error struct {
	// Kind classifies the failure.
	Kind Kind
	// Message is the human-readable description.
	Message string
	// Label is the backend's machine-readable error label, when the
	// error originated from an HTTP response (e.g. "mls-stale-message").
	// Empty for locally raised errors.
	Label string
	// StatusCode is the HTTP status for backend errors, zero otherwise.
	StatusCode int
	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// E constructs a new Error with the given kind and formatted message.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error that classifies an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain. Errors that do not
// carry an *Error report Unknown.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Unknown
}

// Is reports whether the error chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// LabelOf extracts the backend error label from an error chain, or ""
// when the error did not originate from a labelled backend response.
func LabelOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Label
	}
	return ""
}
