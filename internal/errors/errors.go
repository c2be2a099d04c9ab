// Package errors provides the unified error type shared across quackcore.
// Every error carries a stable Code; callers branch on codes, never on
// message text.
package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code identifies a failure class within the framework.
type Code string

// Severity describes how serious an error is for alerting and audit purposes.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeContractViolation     Code = "CONTRACT_VIOLATION"
	CodeIncompatibleVersion   Code = "INCOMPATIBLE_VERSION"
	CodeDuplicatePlugin       Code = "DUPLICATE_PLUGIN"
	CodePluginFault           Code = "PLUGIN_FAULT"
	CodeAuthRevoked           Code = "AUTH_REVOKED"
	CodeAuthFailed            Code = "AUTH_FAILED"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeTimeout               Code = "TIMEOUT"
	CodeRetriesExhausted      Code = "RETRIES_EXHAUSTED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
)

// Attributes supplies default behaviour for a code.
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Retryable: false, Alert: true},
		CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo, Retryable: false, Alert: false},
		CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo, Retryable: false, Alert: false},
		CodeContractViolation:     {Message: "plugin does not satisfy its declared contract", Severity: SeverityWarning, Retryable: false, Alert: true},
		CodeIncompatibleVersion:   {Message: "plugin declares an incompatible contract version", Severity: SeverityWarning, Retryable: false, Alert: true},
		CodeDuplicatePlugin:       {Message: "plugin name already registered for kind", Severity: SeverityWarning, Retryable: false, Alert: false},
		CodePluginFault:           {Message: "plugin operation raised an unguarded fault", Severity: SeverityCritical, Retryable: false, Alert: true},
		CodeAuthRevoked:           {Message: "credentials revoked, re-authentication required", Severity: SeverityWarning, Retryable: false, Alert: true},
		CodeAuthFailed:            {Message: "authentication failed", Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeRateLimited:           {Message: "rate budget exhausted", Severity: SeverityInfo, Retryable: true, Alert: false},
		CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Alert: false},
		CodeRetriesExhausted:      {Message: "retries exhausted", Severity: SeverityWarning, Retryable: false, Alert: true},
		CodeInitializationFailure: {Message: "component not initialized", Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeStorageFailure:        {Message: "credential storage failure", Severity: SeverityCritical, Retryable: true, Alert: true},
	}
)

// Register lets modules add code descriptions during initialisation.
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf returns the attributes for a code, falling back to UNKNOWN.
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error is the unified error type.
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
}

// Option configures optional error fields.
type Option func(*Error)

// WithMetadata attaches a key/value pair to the error.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable overrides the code's default retryability.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// New creates an error with the given code. An empty message uses the
// code's registered default.
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap attaches a cause to a new coded error.
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches two framework errors by code so errors.Is works on codes.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code returns the error code.
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message returns the human readable message without the cause chain.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata returns a copy of the attached metadata.
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Retryable reports whether the error may be retried.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// From extracts the framework error from an error chain.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of any error, CodeUnknown for foreign errors.
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError reports whether any error is retryable.
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}
