// Copyright 2017 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fake

import (
	"bytes"
	"fmt"

	"github.com/juju/errors"
)

// ProcessError mirrors a failed CLI invocation: a return code plus the
// captured output. Simulated invariant violations surface as process
// errors so that callers cannot tell them apart from the real tool's
// failures.
type ProcessError struct {
	// Command is the command that failed.
	Command string

	// ReturnCode is the simulated process exit code.
	ReturnCode int

	// Output is the captured combined output.
	Output []byte
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("command %q failed (%d): %s", e.Command, e.ReturnCode, bytes.TrimSpace(e.Output))
}

// newProcessErrorf creates a process error whose output carries the
// formatted message the way the CLI prints errors.
func newProcessErrorf(command string, code int, format string, args ...interface{}) error {
	return &ProcessError{
		Command:    command,
		ReturnCode: code,
		Output:     []byte("ERROR " + fmt.Sprintf(format, args...) + "\n"),
	}
}

// IsProcessError returns whether err is a simulated process failure.
func IsProcessError(err error) bool {
	_, ok := errors.Cause(err).(*ProcessError)
	return ok
}
