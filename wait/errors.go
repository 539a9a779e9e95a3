// Copyright 2018 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package wait

import (
	"github.com/juju/errors"
)

// StatusTimeoutError reports that no status snapshot could be fetched
// within one per-call budget.
type StatusTimeoutError struct {
	err error
}

func (e *StatusTimeoutError) Error() string {
	return "timed out reading status: " + e.err.Error()
}

// NewStatusTimeout wraps the last transport error seen before the
// budget ran out.
func NewStatusTimeout(err error) error {
	return &StatusTimeoutError{err: err}
}

// IsStatusTimeout returns whether err is a StatusTimeoutError.
func IsStatusTimeout(err error) bool {
	_, ok := errors.Cause(err).(*StatusTimeoutError)
	return ok
}

// TimeoutError is a condition-specific failure raised once a condition
// has been blocked for longer than its timeout.
type TimeoutError struct {
	err error
}

func (e *TimeoutError) Error() string {
	return e.err.Error()
}

// TimeoutErrorf creates a condition timeout error.
func TimeoutErrorf(msg string, args ...interface{}) error {
	return &TimeoutError{err: errors.Errorf(msg, args...)}
}

// IsTimeout returns whether err is a condition timeout error.
func IsTimeout(err error) bool {
	_, ok := errors.Cause(err).(*TimeoutError)
	return ok
}
