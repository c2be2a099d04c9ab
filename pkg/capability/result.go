package capability

import (
	xerrors "quackcore/internal/errors"
)

// CallResult is the uniform envelope returned by every invocation through
// the facade. Exactly one of Payload or Failure is meaningful.
type CallResult struct {
	Payload any
	Failure *Failure
}

// Failure is the typed error half of a CallResult.
type Failure struct {
	Code             xerrors.Code `json:"code"`
	Message          string       `json:"message"`
	Retriable        bool         `json:"retriable"`
	RetriesExhausted bool         `json:"retries_exhausted,omitempty"`
}

// OK reports whether the call succeeded.
func (r CallResult) OK() bool {
	return r.Failure == nil
}

// Success wraps a payload in a successful CallResult.
func Success(payload any) CallResult {
	return CallResult{Payload: payload}
}

// Fail converts an error into a failed CallResult, preserving the code and
// retryability of framework errors.
func Fail(err error) CallResult {
	if err == nil {
		return CallResult{}
	}
	failure := &Failure{
		Code:      xerrors.CodeOf(err),
		Message:   err.Error(),
		Retriable: xerrors.RetryableError(err),
	}
	if e, ok := xerrors.From(err); ok {
		failure.Message = e.Message()
		if e.Metadata()["retries_exhausted"] == "true" || e.Code() == xerrors.CodeRetriesExhausted {
			failure.RetriesExhausted = true
		}
	}
	return CallResult{Failure: failure}
}

// Err rebuilds an error from a failed CallResult so callers can use
// errors.Is against codes. Returns nil for successful results.
func (r CallResult) Err() error {
	if r.Failure == nil {
		return nil
	}
	return xerrors.New(r.Failure.Code, r.Failure.Message, xerrors.WithRetryable(r.Failure.Retriable))
}
