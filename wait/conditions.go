// Copyright 2018 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package wait

import (
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/juju/version/v2"

	"github.com/juju/jujutest/status"
)

// base carries the timeout shared by every condition.
type base struct {
	timeout time.Duration
}

// AlreadySatisfied is part of the Condition interface.
func (base) AlreadySatisfied() bool {
	return false
}

// Timeout is part of the Condition interface.
func (b base) Timeout() time.Duration {
	return b.timeout
}

// MachineNotPresent waits for a machine to disappear from status.
type MachineNotPresent struct {
	base
	machine string
}

// NewMachineNotPresent returns a condition satisfied once the given
// machine no longer appears in status.
func NewMachineNotPresent(machine string, timeout time.Duration) *MachineNotPresent {
	return &MachineNotPresent{base: base{timeout}, machine: machine}
}

// BlockingState is part of the Condition interface.
func (c *MachineNotPresent) BlockingState(doc *status.Document) ([]Blocker, error) {
	for _, e := range doc.IterMachines(true) {
		if e.Id == c.machine {
			return []Blocker{{Entity: c.machine, Reason: "still-present"}}, nil
		}
	}
	return nil, nil
}

// Raise is part of the Condition interface.
func (c *MachineNotPresent) Raise(model string, doc *status.Document) error {
	return TimeoutErrorf("timed out waiting for machine removal %s on %s", c.machine, model)
}

// agentStarted matches every agent state that counts as up: machine
// agents report "started", unit agents settle on "idle".
func agentStarted(current string) bool {
	return current == "started" || current == "idle"
}

// AgentsStarted waits for every machine and unit agent to come up.
type AgentsStarted struct {
	base
}

// NewAgentsStarted returns a condition satisfied once every agent in
// the model has started.
func NewAgentsStarted(timeout time.Duration) *AgentsStarted {
	return &AgentsStarted{base{timeout}}
}

// BlockingState is part of the Condition interface.
func (c *AgentsStarted) BlockingState(doc *status.Document) ([]Blocker, error) {
	var blockers []Blocker
	for _, item := range doc.AgentItems() {
		if !agentStarted(item.Status.Current) {
			reason := item.Status.Current
			if reason == "" {
				reason = "no-agent"
			}
			blockers = append(blockers, Blocker{Entity: item.Name, Reason: reason})
		}
	}
	return blockers, nil
}

// Raise is part of the Condition interface.
func (c *AgentsStarted) Raise(model string, doc *status.Document) error {
	return TimeoutErrorf("timed out waiting for agents to start in %s", model)
}

// VersionMatch waits for every agent to report a target version.
type VersionMatch struct {
	base
	want version.Number
}

// NewVersionMatch returns a condition satisfied once every agent
// reports the given version.
func NewVersionMatch(ver string, timeout time.Duration) (*VersionMatch, error) {
	want, err := version.Parse(ver)
	if err != nil {
		return nil, errors.Annotatef(err, "invalid target version %q", ver)
	}
	return &VersionMatch{base: base{timeout}, want: want}, nil
}

// BlockingState is part of the Condition interface.
func (c *VersionMatch) BlockingState(doc *status.Document) ([]Blocker, error) {
	var blockers []Blocker
	for _, item := range doc.AgentItems() {
		got := item.Status.Version
		if got == "" {
			blockers = append(blockers, Blocker{Entity: item.Name, Reason: "unknown"})
			continue
		}
		number, err := version.Parse(got)
		if err != nil || number.Compare(c.want) != 0 {
			blockers = append(blockers, Blocker{Entity: item.Name, Reason: got})
		}
	}
	return blockers, nil
}

// Raise is part of the Condition interface.
func (c *VersionMatch) Raise(model string, doc *status.Document) error {
	return TimeoutErrorf("timed out waiting for agents to reach %s in %s", c.want, model)
}

// votingMembers is how many controller machines must hold a vote
// before high availability is considered enabled.
const votingMembers = 3

// HAEnabled waits for the controller's HA voting set to fill.
type HAEnabled struct {
	base
}

// NewHAEnabled returns a condition satisfied once at least three
// machines report controller-member-status has-vote.
func NewHAEnabled(timeout time.Duration) *HAEnabled {
	return &HAEnabled{base{timeout}}
}

// BlockingState is part of the Condition interface.
func (c *HAEnabled) BlockingState(doc *status.Document) ([]Blocker, error) {
	voting := 0
	for _, e := range doc.IterMachines(false) {
		if e.Machine.ControllerMemberStatus == "has-vote" {
			voting++
		}
	}
	if voting >= votingMembers {
		return nil, nil
	}
	return []Blocker{{
		Entity: "controller",
		Reason: fmt.Sprintf("%d of %d voting machines", voting, votingMembers),
	}}, nil
}

// Raise is part of the Condition interface.
func (c *HAEnabled) Raise(model string, doc *status.Document) error {
	return TimeoutErrorf("timed out waiting for voting to be enabled in %s", model)
}

// workloadReady matches the workload states that count as settled.
func workloadReady(current string) bool {
	return current == "active" || current == "unknown"
}

// WorkloadsReady waits for every workload to settle.
type WorkloadsReady struct {
	base
}

// NewWorkloadsReady returns a condition satisfied once every workload
// reports active or unknown.
func NewWorkloadsReady(timeout time.Duration) *WorkloadsReady {
	return &WorkloadsReady{base{timeout}}
}

// BlockingState is part of the Condition interface.
func (c *WorkloadsReady) BlockingState(doc *status.Document) ([]Blocker, error) {
	var blockers []Blocker
	for _, item := range doc.IterStatus() {
		if item.Kind != status.KindWorkload {
			continue
		}
		if !workloadReady(item.Status.Current) {
			blockers = append(blockers, Blocker{Entity: item.Name, Reason: item.Status.Current})
		}
	}
	return blockers, nil
}

// Raise is part of the Condition interface.
func (c *WorkloadsReady) Raise(model string, doc *status.Document) error {
	return TimeoutErrorf("timed out waiting for workloads in %s", model)
}

// Noop is a condition that is always satisfied.
type Noop struct {
	base
}

// NewNoop returns a condition that never blocks.
func NewNoop() *Noop {
	return &Noop{}
}

// AlreadySatisfied is part of the Condition interface.
func (*Noop) AlreadySatisfied() bool {
	return true
}

// BlockingState is part of the Condition interface.
func (*Noop) BlockingState(*status.Document) ([]Blocker, error) {
	return nil, nil
}

// Raise is part of the Condition interface.
func (*Noop) Raise(model string, doc *status.Document) error {
	return errors.Errorf("noop condition failed on %s", model)
}
