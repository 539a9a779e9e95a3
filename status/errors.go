// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package status

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/juju/errors"
)

// AgentErrorGracePeriod is how long an agent may sit in an error state
// before the error is considered unresolved rather than transient.
const AgentErrorGracePeriod = 5 * time.Minute

// ErrorKind ranks entity errors by severity, most severe first.
type ErrorKind int

const (
	MachineErrorKind ErrorKind = iota
	ProvisioningErrorKind
	StuckAllocatingErrorKind
	AppErrorKind
	InstallErrorKind
	HookFailedErrorKind
	UnitErrorKind
	AgentErrorKind
	AgentUnresolvedErrorKind
)

var errorKindNames = map[ErrorKind]string{
	MachineErrorKind:         "machine error",
	ProvisioningErrorKind:    "provisioning error",
	StuckAllocatingErrorKind: "stuck allocating",
	AppErrorKind:             "application error",
	InstallErrorKind:         "install error",
	HookFailedErrorKind:      "hook failed",
	UnitErrorKind:            "unit error",
	AgentErrorKind:           "agent error",
	AgentUnresolvedErrorKind: "agent error unresolved",
}

func (k ErrorKind) String() string {
	return errorKindNames[k]
}

// Recoverable reports whether errors of this kind may be ignored while
// waiting; machine, provisioning, allocation and application errors
// never are.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case MachineErrorKind, ProvisioningErrorKind, StuckAllocatingErrorKind, AppErrorKind:
		return false
	}
	return true
}

// Error is a classified entity error derived from one status item.
type Error struct {
	Kind ErrorKind
	Item Item
	msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Item.Name, e.msg)
}

// Recoverable reports whether this error may be ignored while waiting.
func (e *Error) Recoverable() bool {
	return e.Kind.Recoverable()
}

// IsStatusError returns whether err is a classified entity error.
func IsStatusError(err error) bool {
	_, ok := errors.Cause(err).(*Error)
	return ok
}

var (
	installHookPattern = regexp.MustCompile(`hook failed: ".*install.*"`)
	anyHookPattern     = regexp.MustCompile(`hook failed: ".*"`)
)

// AsError classifies the item, returning nil when the item does not
// indicate a failure. Classification is a pure function of the item
// and the supplied wall-clock time.
func (i Item) AsError(now time.Time) *Error {
	current := i.Status.Current
	message := i.Status.Message
	switch i.Kind {
	case KindMachine:
		switch current {
		case "error":
			return &Error{Kind: MachineErrorKind, Item: i, msg: message}
		case "provisioning error":
			return &Error{Kind: ProvisioningErrorKind, Item: i, msg: message}
		case "allocating":
			return &Error{
				Kind: StuckAllocatingErrorKind,
				Item: i,
				msg:  fmt.Sprintf("Stuck allocating. Last message: %s", message),
			}
		}
	case KindApplication:
		if current == "error" {
			return &Error{Kind: AppErrorKind, Item: i, msg: message}
		}
	case KindWorkload:
		if current == "error" {
			kind := UnitErrorKind
			switch {
			case installHookPattern.MatchString(message):
				kind = InstallErrorKind
			case anyHookPattern.MatchString(message):
				kind = HookFailedErrorKind
			}
			return &Error{Kind: kind, Item: i, msg: message}
		}
	case KindAgent:
		// Allocation is not yet failure for an agent.
		if current == "error" {
			var elapsed time.Duration
			if since, ok := i.Status.SinceTime(); ok {
				elapsed = now.Sub(since)
			}
			kind := AgentErrorKind
			if elapsed > AgentErrorGracePeriod {
				kind = AgentUnresolvedErrorKind
			}
			return &Error{Kind: kind, Item: i, msg: message}
		}
	}
	return nil
}

// CheckForErrors classifies every status item in the document and
// returns the failures sorted by severity, most severe first.
func CheckForErrors(d *Document, now time.Time) []*Error {
	var errs []*Error
	for _, item := range d.IterStatus() {
		if err := item.AsError(now); err != nil {
			errs = append(errs, err)
		}
	}
	sort.SliceStable(errs, func(i, j int) bool {
		return errs[i].Kind < errs[j].Kind
	})
	return errs
}

// HighestError returns the most severe classified error in the
// document, or nil. With ignoreRecoverable set, recoverable errors are
// skipped so only an irrecoverable failure is surfaced.
func HighestError(d *Document, now time.Time, ignoreRecoverable bool) error {
	for _, err := range CheckForErrors(d, now) {
		if ignoreRecoverable && err.Recoverable() {
			continue
		}
		return err
	}
	return nil
}
