// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package status_test

import (
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/jujutest/status"
)

type classifySuite struct {
	testing.IsolationSuite

	clock *testclock.Clock
}

var _ = gc.Suite(&classifySuite{})

func (s *classifySuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Date(2016, 3, 14, 12, 0, 0, 0, time.UTC))
}

func (s *classifySuite) item(kind status.Kind, info status.StatusInfo) status.Item {
	return status.Item{Kind: kind, Name: "entity", Status: info}
}

func (s *classifySuite) TestHealthyItemsClassifyClean(c *gc.C) {
	for _, item := range []status.Item{
		s.item(status.KindMachine, status.StatusInfo{Current: "running"}),
		s.item(status.KindApplication, status.StatusInfo{Current: "active"}),
		s.item(status.KindWorkload, status.StatusInfo{Current: "blocked"}),
		s.item(status.KindAgent, status.StatusInfo{Current: "idle"}),
	} {
		c.Check(item.AsError(s.clock.Now()), gc.IsNil)
	}
}

func (s *classifySuite) TestMachineError(c *gc.C) {
	item := s.item(status.KindMachine, status.StatusInfo{Current: "error", Message: "boom"})
	err := item.AsError(s.clock.Now())
	c.Assert(err, gc.NotNil)
	c.Assert(err.Kind, gc.Equals, status.MachineErrorKind)
	c.Assert(err.Recoverable(), jc.IsFalse)
}

func (s *classifySuite) TestProvisioningError(c *gc.C) {
	item := s.item(status.KindMachine, status.StatusInfo{Current: "provisioning error"})
	err := item.AsError(s.clock.Now())
	c.Assert(err, gc.NotNil)
	c.Assert(err.Kind, gc.Equals, status.ProvisioningErrorKind)
	c.Assert(err.Recoverable(), jc.IsFalse)
}

func (s *classifySuite) TestStuckAllocatingMessage(c *gc.C) {
	item := s.item(status.KindMachine, status.StatusInfo{Current: "allocating", Message: "foo"})
	err := item.AsError(s.clock.Now())
	c.Assert(err, gc.NotNil)
	c.Assert(err.Kind, gc.Equals, status.StuckAllocatingErrorKind)
	c.Assert(err, gc.ErrorMatches, `entity: Stuck allocating\. Last message: foo`)
	c.Assert(err.Recoverable(), jc.IsFalse)
}

func (s *classifySuite) TestAgentAllocatingIsNotFailure(c *gc.C) {
	item := s.item(status.KindAgent, status.StatusInfo{Current: "allocating"})
	c.Assert(item.AsError(s.clock.Now()), gc.IsNil)
}

func (s *classifySuite) TestAppError(c *gc.C) {
	item := s.item(status.KindApplication, status.StatusInfo{Current: "error"})
	err := item.AsError(s.clock.Now())
	c.Assert(err, gc.NotNil)
	c.Assert(err.Kind, gc.Equals, status.AppErrorKind)
	c.Assert(err.Recoverable(), jc.IsFalse)
}

func (s *classifySuite) TestWorkloadErrorKinds(c *gc.C) {
	for _, t := range []struct {
		message string
		kind    status.ErrorKind
	}{
		{`hook failed: "install"`, status.InstallErrorKind},
		{`hook failed: "config-changed"`, status.HookFailedErrorKind},
		{"resource limit exceeded", status.UnitErrorKind},
	} {
		item := s.item(status.KindWorkload, status.StatusInfo{Current: "error", Message: t.message})
		err := item.AsError(s.clock.Now())
		c.Assert(err, gc.NotNil)
		c.Check(err.Kind, gc.Equals, t.kind)
		c.Check(err.Recoverable(), jc.IsTrue)
	}
}

func (s *classifySuite) since(c *gc.C, ago time.Duration) string {
	return s.clock.Now().Add(-ago).Format(status.SinceFormat)
}

func (s *classifySuite) TestAgentErrorWithinGracePeriod(c *gc.C) {
	item := s.item(status.KindAgent, status.StatusInfo{
		Current: "error",
		Since:   s.since(c, 3*time.Minute),
	})
	err := item.AsError(s.clock.Now())
	c.Assert(err, gc.NotNil)
	c.Assert(err.Kind, gc.Equals, status.AgentErrorKind)
	c.Assert(err.Recoverable(), jc.IsTrue)
}

func (s *classifySuite) TestAgentErrorPastGracePeriod(c *gc.C) {
	item := s.item(status.KindAgent, status.StatusInfo{
		Current: "error",
		Since:   s.since(c, 6*time.Minute),
	})
	err := item.AsError(s.clock.Now())
	c.Assert(err, gc.NotNil)
	c.Assert(err.Kind, gc.Equals, status.AgentUnresolvedErrorKind)
}

func (s *classifySuite) TestAgentErrorNoSinceIsImmediate(c *gc.C) {
	item := s.item(status.KindAgent, status.StatusInfo{Current: "error"})
	err := item.AsError(s.clock.Now())
	c.Assert(err, gc.NotNil)
	c.Assert(err.Kind, gc.Equals, status.AgentErrorKind)
}

func (s *classifySuite) TestAsErrorIdempotent(c *gc.C) {
	item := s.item(status.KindWorkload, status.StatusInfo{Current: "error", Message: `hook failed: "install"`})
	now := s.clock.Now()
	first := item.AsError(now)
	second := item.AsError(now)
	c.Assert(second.Kind, gc.Equals, first.Kind)
	c.Assert(second.Recoverable(), gc.Equals, first.Recoverable())
	c.Assert(second.Error(), gc.Equals, first.Error())
}

const errorsFixture = `
machines:
  "0":
    juju-status:
      current: error
    machine-status:
      current: running
  "1":
    machine-status:
      current: error
      message: failed to start
applications:
  app:
    application-status:
      current: active
    units:
      app/0:
        workload-status:
          current: error
          message: 'hook failed: "config-changed"'
        juju-status:
          current: idle
        machine: "0"
`

func (s *classifySuite) TestCheckForErrorsSeverityOrder(c *gc.C) {
	doc, err := status.Parse([]byte(errorsFixture))
	c.Assert(err, jc.ErrorIsNil)
	errs := status.CheckForErrors(doc, s.clock.Now())
	c.Assert(errs, gc.HasLen, 3)
	c.Check(errs[0].Kind, gc.Equals, status.MachineErrorKind)
	c.Check(errs[1].Kind, gc.Equals, status.HookFailedErrorKind)
	c.Check(errs[2].Kind, gc.Equals, status.AgentErrorKind)
}

func (s *classifySuite) TestHighestErrorIgnoringRecoverable(c *gc.C) {
	doc, err := status.Parse([]byte(`
applications:
  app:
    units:
      app/0:
        workload-status:
          current: error
          message: 'hook failed: "config-changed"'
        juju-status:
          current: idle
`))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(status.HighestError(doc, s.clock.Now(), true), gc.IsNil)
	highest := status.HighestError(doc, s.clock.Now(), false)
	c.Assert(highest, gc.NotNil)
	c.Assert(highest, jc.Satisfies, status.IsStatusError)
}
