// Copyright 2017 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fake_test

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/jujutest/fake"
)

type stateSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&stateSuite{})

func bootstrapped(c *gc.C) (*fake.ControllerState, *fake.EnvironmentState) {
	controller := fake.NewControllerState("ctrl")
	env, err := controller.Bootstrap("model-a", "aws/us-east-1", nil)
	c.Assert(err, jc.ErrorIsNil)
	return controller, env
}

func (s *stateSuite) TestNewControllerNotBootstrapped(c *gc.C) {
	controller := fake.NewControllerState("ctrl")
	c.Assert(controller.State, gc.Equals, fake.StateNotBootstrapped)
	c.Assert(controller.ControllerModel(), gc.IsNil)
}

func (s *stateSuite) TestBootstrap(c *gc.C) {
	controller, env := bootstrapped(c)
	c.Assert(controller.State, gc.Equals, fake.StateBootstrapped)
	c.Assert(env.Name, gc.Equals, "model-a")
	c.Assert(env.Controller(), gc.Equals, controller)
	c.Assert(controller.ModelNames(), gc.DeepEquals, []string{"controller", "model-a"})

	// The implicit controller model owns one state-server machine.
	controllerModel := controller.ControllerModel()
	c.Assert(controllerModel, gc.NotNil)
	c.Assert(controllerModel.Machines(), gc.DeepEquals, []string{"0"})
	c.Assert(controllerModel.StateServers(), gc.DeepEquals, []string{"0"})
}

func (s *stateSuite) TestBootstrapTwiceFails(c *gc.C) {
	controller, _ := bootstrapped(c)
	_, err := controller.Bootstrap("model-b", "aws/us-east-1", nil)
	c.Assert(err, jc.Satisfies, fake.IsProcessError)
}

func (s *stateSuite) TestDestroyRequiresBootstrap(c *gc.C) {
	controller := fake.NewControllerState("ctrl")
	err := controller.Destroy(false)
	c.Assert(err, jc.Satisfies, fake.IsProcessError)
	c.Assert(controller.State, gc.Equals, fake.StateNotBootstrapped)
}

func (s *stateSuite) TestKillSucceedsFromAnyState(c *gc.C) {
	controller := fake.NewControllerState("ctrl")
	c.Assert(controller.Destroy(true), jc.ErrorIsNil)
	c.Assert(controller.State, gc.Equals, fake.StateControllerKilled)
}

func (s *stateSuite) TestDestroyController(c *gc.C) {
	controller, _ := bootstrapped(c)
	c.Assert(controller.Destroy(false), jc.ErrorIsNil)
	c.Assert(controller.State, gc.Equals, fake.StateControllerDestroyed)
	c.Assert(controller.ModelNames(), gc.HasLen, 0)
}

func (s *stateSuite) TestDestroyModelUnregisters(c *gc.C) {
	controller, env := bootstrapped(c)
	env.DestroyModel()
	c.Assert(controller.State, gc.Equals, fake.StateModelDestroyed)
	_, err := controller.Model("model-a")
	c.Assert(err, jc.Satisfies, errors.IsNotFound)
}

func (s *stateSuite) TestMachineIdsMonotonic(c *gc.C) {
	_, env := bootstrapped(c)
	c.Assert(env.AddMachine(), gc.Equals, "0")
	c.Assert(env.AddMachine(), gc.Equals, "1")
	c.Assert(env.RemoveMachine("0", false), jc.ErrorIsNil)
	// Removed ids are never reused.
	c.Assert(env.AddMachine(), gc.Equals, "2")
}

func (s *stateSuite) TestContainerIds(c *gc.C) {
	_, env := bootstrapped(c)
	host := env.AddMachine()
	first, err := env.AddContainer("lxd", host)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(first, gc.Equals, "0/lxd/0")
	second, err := env.AddContainer("lxd", host)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(second, gc.Equals, "0/lxd/1")
	kvm, err := env.AddContainer("kvm", host)
	c.Assert(err, jc.ErrorIsNil)
	// The index counts same-type containers only.
	c.Assert(kvm, gc.Equals, "0/kvm/0")
	c.Assert(env.Containers(host), gc.DeepEquals, []string{"0/kvm/0", "0/lxd/0", "0/lxd/1"})
}

func (s *stateSuite) TestContainerIdsMonotonic(c *gc.C) {
	_, env := bootstrapped(c)
	host := env.AddMachine()
	first, err := env.AddContainer("lxd", host)
	c.Assert(err, jc.ErrorIsNil)
	second, err := env.AddContainer("lxd", host)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(env.RemoveMachine(first, false), jc.ErrorIsNil)
	// Removed ids are never reused.
	third, err := env.AddContainer("lxd", host)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(third, gc.Equals, "0/lxd/2")
	c.Assert(env.Containers(host), gc.DeepEquals, []string{second, third})
}

func (s *stateSuite) TestAddContainerUnknownHost(c *gc.C) {
	_, env := bootstrapped(c)
	_, err := env.AddContainer("lxd", "42")
	c.Assert(err, jc.Satisfies, errors.IsNotFound)
}

func (s *stateSuite) TestRemoveMachineBlockedByUnit(c *gc.C) {
	_, env := bootstrapped(c)
	unit, err := env.Deploy("app")
	c.Assert(err, jc.ErrorIsNil)
	machine, err := env.UnitMachine(unit)
	c.Assert(err, jc.ErrorIsNil)

	err = env.RemoveMachine(machine, false)
	c.Assert(err, jc.Satisfies, fake.IsProcessError)
	c.Assert(err, gc.ErrorMatches, `.*machine 0 has unit "app/0" assigned.*`)

	err = env.RemoveMachine(machine, true)
	c.Assert(err, jc.ErrorIsNil)
	// Forcing clears the unit's machine reference.
	cleared, err := env.UnitMachine(unit)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(cleared, gc.Equals, "")
	c.Assert(env.Machines(), gc.HasLen, 0)
}

func (s *stateSuite) TestEnableHAIdempotent(c *gc.C) {
	controller, _ := bootstrapped(c)
	env := controller.ControllerModel()
	env.EnableHA()
	c.Assert(env.StateServers(), gc.HasLen, 3)
	env.EnableHA()
	c.Assert(env.StateServers(), gc.HasLen, 3)
	env.EnableHA()
	c.Assert(env.StateServers(), gc.DeepEquals, []string{"0", "1", "2"})
}

func (s *stateSuite) TestDeployAndUnits(c *gc.C) {
	_, env := bootstrapped(c)
	unit, err := env.Deploy("app")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(unit, gc.Equals, "app/0")
	second, err := env.AddUnit("app")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(second, gc.Equals, "app/1")
	units, err := env.Units("app")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(units, gc.DeepEquals, []string{"app/0", "app/1"})
	// One unit per machine.
	c.Assert(env.Machines(), gc.HasLen, 2)
}

func (s *stateSuite) TestDeployTwiceFails(c *gc.C) {
	_, env := bootstrapped(c)
	_, err := env.Deploy("app")
	c.Assert(err, jc.ErrorIsNil)
	_, err = env.Deploy("app")
	c.Assert(err, jc.Satisfies, fake.IsProcessError)
}

func (s *stateSuite) TestRemoveUnitRemovesItsMachine(c *gc.C) {
	_, env := bootstrapped(c)
	unit, err := env.Deploy("app")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(env.Machines(), gc.HasLen, 1)
	c.Assert(env.RemoveUnit(unit), jc.ErrorIsNil)
	c.Assert(env.Machines(), gc.HasLen, 0)
	units, err := env.Units("app")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(units, gc.HasLen, 0)
}

func (s *stateSuite) TestRemoveApplication(c *gc.C) {
	_, env := bootstrapped(c)
	_, err := env.Deploy("app")
	c.Assert(err, jc.ErrorIsNil)
	_, err = env.AddUnit("app")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(env.RemoveApplication("app"), jc.ErrorIsNil)
	c.Assert(env.Applications(), gc.HasLen, 0)
	c.Assert(env.Machines(), gc.HasLen, 0)
}

func (s *stateSuite) TestRestoreBackupOverLiveControllerFails(c *gc.C) {
	controller, _ := bootstrapped(c)
	env := controller.ControllerModel()
	err := env.RestoreBackup()
	c.Assert(err, jc.Satisfies, fake.IsProcessError)
}

func (s *stateSuite) TestRestoreBackupAddsStateServer(c *gc.C) {
	controller, _ := bootstrapped(c)
	env := controller.ControllerModel()
	c.Assert(env.RemoveMachine("0", false), jc.ErrorIsNil)
	c.Assert(env.StateServers(), gc.HasLen, 0)
	c.Assert(env.RestoreBackup(), jc.ErrorIsNil)
	c.Assert(env.StateServers(), gc.HasLen, 1)
}

func (s *stateSuite) TestUsersAndShares(c *gc.C) {
	controller, _ := bootstrapped(c)
	c.Assert(controller.AddUser("alice"), jc.ErrorIsNil)
	c.Assert(controller.AddUser("alice"), jc.Satisfies, errors.IsAlreadyExists)
	c.Assert(controller.Grant("alice", "write"), jc.ErrorIsNil)
	permission, ok := controller.Permission("alice")
	c.Assert(ok, jc.IsTrue)
	c.Assert(permission, gc.Equals, "write")
	c.Assert(controller.Shares(), gc.DeepEquals, []string{"admin", "alice"})
	c.Assert(controller.Revoke("alice"), jc.ErrorIsNil)
	c.Assert(controller.Shares(), gc.DeepEquals, []string{"admin"})
}

func (s *stateSuite) TestAsStatusShape(c *gc.C) {
	controller, env := bootstrapped(c)
	_, err := env.Deploy("app")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(env.Machines(), gc.DeepEquals, []string{"0"})

	doc := env.AsStatus()
	c.Assert(doc.Model.Name, gc.Equals, "model-a")
	c.Assert(doc.Model.Controller, gc.Equals, controller.Name)
	c.Assert(doc.Machines, gc.HasLen, 1)
	c.Assert(doc.Applications, gc.HasLen, 1)
	unit, err := doc.Unit("app/0")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(unit.Machine, gc.Equals, "0")
	c.Assert(unit.AgentStatus().Current, gc.Equals, "idle")

	voting := controller.ControllerModel().AsStatus()
	c.Assert(voting.Machines["0"].ControllerMemberStatus, gc.Equals, "has-vote")
}
