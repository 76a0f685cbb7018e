// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package errs defines the error kinds shared by all runtime components.
//
// Every component boundary returns a *errs.Error carrying one of the
// closed set of kinds below plus a human message and optional structured
// details. Callers branch on kind with errs.IsKind, never on message text.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error at a component boundary.
type Kind string

// The closed set of error kinds.
const (
	KindConfiguration  Kind = "ConfigurationError"
	KindDependency     Kind = "DependencyError"
	KindManagerInit    Kind = "ManagerInitializationError"
	KindManagerStop    Kind = "ManagerShutdownError"
	KindApplication    Kind = "ApplicationError"
	KindSecurity       Kind = "SecurityError"
	KindAPI            Kind = "APIError"
	KindPluginIsolation Kind = "PluginIsolationError"
	KindThreadManager  Kind = "ThreadManagerError"
	KindValidation     Kind = "ValidationError"
)

// Error is the structured error type used at component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause. A nil cause
// yields a plain error of that kind.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// WithDetail attaches a structured detail and returns the same error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, 2)
	}
	e.Details[key] = value
	return e
}

// Detail reads a structured detail; ok is false when absent.
func (e *Error) Detail(key string) (any, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// KindOf extracts the kind from an error chain. Errors that are not
// *errs.Error anywhere in the chain report an empty kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether any error in the chain is a *errs.Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
