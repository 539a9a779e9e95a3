// Copyright 2018 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package wait drives a condition against successive status snapshots
// until it is satisfied, a classified entity error aborts the wait, or
// the condition's timeout expires. The loop is synchronous and
// single-threaded; its only suspension point is the sleep between
// polls.
package wait

import (
	"io"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/retry"

	"github.com/juju/jujutest/status"
)

var logger = loggo.GetLogger("jujutest.wait")

const (
	// DefaultInterval is the fixed sleep between polls.
	DefaultInterval = 5 * time.Second

	// DefaultStatusBudget bounds each individual status fetch,
	// independently of the condition's overall timeout.
	DefaultStatusBudget = 60 * time.Second
)

// Blocker is one entity and the reason it is still blocking a
// condition.
type Blocker struct {
	Entity string
	Reason string
}

// Condition is the protocol a wait condition implements.
type Condition interface {
	// AlreadySatisfied is a fast-path probe; when true the loop
	// returns the current status without polling.
	AlreadySatisfied() bool

	// BlockingState returns the entities still blocking the
	// condition. An empty result means the condition holds.
	BlockingState(doc *status.Document) ([]Blocker, error)

	// Raise returns the condition-specific fatal error reported
	// once the timeout has expired.
	Raise(model string, doc *status.Document) error

	// Timeout is the total wall-clock time the condition may be
	// waited on.
	Timeout() time.Duration
}

// StatusFunc fetches one status snapshot. Transient failures are
// retried by the loop within the per-call budget.
type StatusFunc func() (*status.Document, error)

// Config holds the collaborators of a Wait call.
type Config struct {
	// Model names the model being waited on, for error messages.
	Model string

	// Status fetches one status snapshot.
	Status StatusFunc

	// Clock supplies wall-clock time and sleeps.
	Clock clock.Clock

	// Out receives progress output. Defaults to io.Discard.
	Out io.Writer

	// Interval overrides the sleep between polls.
	Interval time.Duration

	// StatusBudget overrides the per-fetch budget.
	StatusBudget time.Duration
}

// Validate returns an error if the config is not usable.
func (c Config) Validate() error {
	if c.Status == nil {
		return errors.NotValidf("nil Status")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Out == nil {
		c.Out = io.Discard
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.StatusBudget <= 0 {
		c.StatusBudget = DefaultStatusBudget
	}
	return c
}

// Wait polls status snapshots until the condition is satisfied. It
// returns the last status fetched, for diagnosis, along with any
// error. Entity errors take priority over the condition's own timeout
// error; the loop may overshoot the timeout by up to one status budget
// plus one sleep interval.
func Wait(cond Condition, cfg Config) (*status.Document, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	cfg = cfg.withDefaults()

	if cond.AlreadySatisfied() {
		doc, err := fetchStatus(cfg)
		return doc, errors.Trace(err)
	}

	reporter := NewGroupReporter(cfg.Out)
	defer reporter.Finish()

	start := cfg.Clock.Now()
	var doc *status.Document
	for {
		// On a fetch failure the previous snapshot is returned
		// alongside the error, for diagnosis.
		fetched, err := fetchStatus(cfg)
		if err != nil {
			return doc, errors.Trace(err)
		}
		doc = fetched
		// An in-flight irrecoverable failure aborts before the
		// condition is even evaluated.
		if err := status.HighestError(doc, cfg.Clock.Now(), true); err != nil {
			return doc, errors.Trace(err)
		}
		blockers, err := cond.BlockingState(doc)
		if err != nil {
			return doc, errors.Trace(err)
		}
		if len(blockers) == 0 {
			return doc, nil
		}
		logger.Debugf("%s: still waiting on %d entities", cfg.Model, len(blockers))
		reporter.Update(blockers)
		if cfg.Clock.Now().Sub(start) > cond.Timeout() {
			break
		}
		<-cfg.Clock.After(cfg.Interval)
	}

	// Entity errors found in the final status beat the generic
	// condition timeout, recoverable or not.
	if err := status.HighestError(doc, cfg.Clock.Now(), false); err != nil {
		return doc, errors.Trace(err)
	}
	return doc, cond.Raise(cfg.Model, doc)
}

// fetchStatus reads one snapshot, retrying transient transport errors
// silently until the per-call budget is exhausted.
func fetchStatus(cfg Config) (*status.Document, error) {
	var doc *status.Document
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			doc, err = cfg.Status()
			return err
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("status attempt %d failed: %v", attempt, err)
		},
		Attempts:    retry.UnlimitedAttempts,
		Delay:       time.Second,
		MaxDuration: cfg.StatusBudget,
		Clock:       cfg.Clock,
	})
	if err != nil {
		return nil, NewStatusTimeout(retry.LastError(err))
	}
	if logger.IsTraceEnabled() {
		if text, err := doc.Marshal(); err == nil {
			logger.Tracef("status:\n%s", text)
		}
	}
	return doc, nil
}
