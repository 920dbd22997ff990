package types

import (
	"time"

	"github.com/juju/errors"
)

var (
	_ error = &RetryError{}
	_ error = &FatalError{}
)

// Error taxonomy. Executors and the engine signal these kinds with the
// juju/errors constructors so callers can match them with errors.Is:
//
//	InvalidConfig       errors.NotValidf      terminal for the node, never retried
//	UnsupportedNodeType errors.NotSupportedf  fails run creation
//	NotFound            errors.NotFoundf      missing snapshot or node key
//	Timeout             errors.Timeoutf       retried like an execution failure
//
// Anything else returned by an executor is an execution failure and is retried
// according to the node retry policy.

func NewInvalidConfigf(format string, args ...interface{}) error {
	return errors.NotValidf(format, args...)
}

func NewUnsupportedNodeTypef(format string, args ...interface{}) error {
	return errors.NotSupportedf(format, args...)
}

func IsInvalidConfig(err error) bool {
	return errors.Is(err, errors.NotValid)
}

func IsUnsupportedNodeType(err error) bool {
	return errors.Is(err, errors.NotSupported)
}

func IsNotFound(err error) bool {
	return errors.Is(err, errors.NotFound)
}

func IsTimeout(err error) bool {
	return errors.Is(err, errors.Timeout)
}

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsRetryable reports whether a failed attempt may be re-invoked.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !IsInvalidConfig(err) && !IsUnsupportedNodeType(err) && !IsNotFound(err) && !IsFatal(err)
}

// RetryBackoff returns the backoff requested by a RetryError, if any.
func RetryBackoff(err error) (time.Duration, bool) {
	var re *RetryError
	if errors.As(err, &re) {
		return re.Backoff, true
	}
	return 0, false
}

// NewRetryError marks err as a retryable execution failure that asks for a
// specific backoff instead of the policy one.
func NewRetryError(otherErr error, backoff time.Duration) error {
	return &RetryError{baseError: newBaseErr(otherErr), Backoff: backoff}
}

func NewRetryErrorf(backoff time.Duration, format string, args ...interface{}) error {
	return NewRetryError(errors.Errorf(format, args...), backoff)
}

// NewFatalError marks err as not worth retrying.
func NewFatalError(otherErr error) error {
	return &FatalError{baseError: newBaseErr(otherErr)}
}

func NewFatalErrorf(format string, args ...interface{}) error {
	return NewFatalError(errors.Errorf(format, args...))
}

func newBaseErr(otherErr error) *baseError {
	return &baseError{otherErr}
}

type baseError struct {
	BaseErr error
}

func (e *baseError) Error() string {
	if e.BaseErr == nil {
		return "<nil>"
	}
	return e.BaseErr.Error()
}

func (e *baseError) Unwrap() error {
	return e.BaseErr
}

type RetryError struct {
	*baseError
	Backoff time.Duration
}

type FatalError struct {
	*baseError
}
