// Copyright 2017 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package fake is an in-memory lifecycle model of a controller and its
// models, exercised through the same command-dispatch surface the real
// CLI presents. Only the subset of transitions its consumers drive is
// modelled; everything else fails closed.
//
// A fake graph is exclusively owned by whoever constructs it: there is
// no locking, and several simulated clients sharing one controller get
// last-writer-wins semantics.
package fake

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/names/v5"
	"github.com/juju/naturalsort"

	"github.com/juju/jujutest/status"
)

var logger = loggo.GetLogger("jujutest.fake")

// Controller lifecycle states.
const (
	StateNotBootstrapped     = "not-bootstrapped"
	StateCreated             = "created"
	StateBootstrapped        = "bootstrapped"
	StateRegistered          = "registered"
	StateModelDestroyed      = "model-destroyed"
	StateControllerDestroyed = "controller-destroyed"
	StateControllerKilled    = "controller-killed"
)

// ControllerModelName is the implicit model holding the controller's
// own machines.
const ControllerModelName = "controller"

// DefaultAgentVersion is reported for agents unless a model overrides
// it through its config.
const DefaultAgentVersion = "2.9.0"

// ControllerState models one controller: its lifecycle state, the
// arena of models keyed by name, and its user/permission table.
type ControllerState struct {
	// Name is the controller name.
	Name string

	// State is the current lifecycle state.
	State string

	// Version is the agent version new machines report.
	Version string

	cloud  string
	region string
	config map[string]string

	models          map[string]*EnvironmentState
	controllerModel *EnvironmentState

	users  map[string]string
	shares set.Strings
}

// NewControllerState returns a controller that has not been
// bootstrapped.
func NewControllerState(name string) *ControllerState {
	return &ControllerState{
		Name:    name,
		State:   StateNotBootstrapped,
		Version: DefaultAgentVersion,
		models:  make(map[string]*EnvironmentState),
		users:   map[string]string{"admin": "superuser"},
		shares:  set.NewStrings("admin"),
	}
}

// AddModel creates a model in the controller's arena.
func (c *ControllerState) AddModel(name string) (*EnvironmentState, error) {
	if _, ok := c.models[name]; ok {
		return nil, errors.AlreadyExistsf("model %q", name)
	}
	env := newEnvironmentState(name, c)
	c.models[name] = env
	c.State = StateCreated
	return env, nil
}

// Model returns the named model.
func (c *ControllerState) Model(name string) (*EnvironmentState, error) {
	env, ok := c.models[name]
	if !ok {
		return nil, errors.NotFoundf("model %q", name)
	}
	return env, nil
}

// ModelNames returns the models in the arena, in natural order.
func (c *ControllerState) ModelNames() []string {
	names := make([]string, 0, len(c.models))
	for name := range c.models {
		names = append(names, name)
	}
	return naturalsort.Sort(names)
}

// ControllerModel returns the implicit controller model, nil before
// bootstrap.
func (c *ControllerState) ControllerModel() *EnvironmentState {
	return c.controllerModel
}

// Bootstrap creates the default model and the implicit controller
// model with a single state-server machine. The cloudRegion token is
// the combined "cloud/region" form accepted by the CLI.
func (c *ControllerState) Bootstrap(modelName, cloudRegion string, config map[string]string) (*EnvironmentState, error) {
	if c.State == StateBootstrapped {
		return nil, newProcessErrorf("bootstrap", 1, "controller %q already bootstrapped", c.Name)
	}
	c.cloud = cloudRegion
	if i := strings.IndexByte(cloudRegion, '/'); i >= 0 {
		c.cloud, c.region = cloudRegion[:i], cloudRegion[i+1:]
	}
	c.config = make(map[string]string, len(config))
	for k, v := range config {
		c.config[k] = v
	}
	defaultModel, err := c.AddModel(modelName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	controllerModel, err := c.AddModel(ControllerModelName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	controllerModel.stateServers = append(controllerModel.stateServers, controllerModel.AddMachine())
	c.controllerModel = controllerModel
	c.State = StateBootstrapped
	return defaultModel, nil
}

// Register marks the controller as registered by the given user.
func (c *ControllerState) Register(user string) {
	if _, ok := c.users[user]; !ok {
		c.users[user] = "login"
	}
	c.State = StateRegistered
}

// AddUser creates a user with login access.
func (c *ControllerState) AddUser(user string) error {
	if _, ok := c.users[user]; ok {
		return errors.AlreadyExistsf("user %q", user)
	}
	c.users[user] = "login"
	return nil
}

// Grant raises a user's permission and records the share.
func (c *ControllerState) Grant(user, permission string) error {
	if _, ok := c.users[user]; !ok {
		return errors.NotFoundf("user %q", user)
	}
	c.users[user] = permission
	c.shares.Add(user)
	return nil
}

// Revoke drops a user back to login access and removes the share.
func (c *ControllerState) Revoke(user string) error {
	if _, ok := c.users[user]; !ok {
		return errors.NotFoundf("user %q", user)
	}
	c.users[user] = "login"
	c.shares.Remove(user)
	return nil
}

// Permission returns the recorded permission for a user.
func (c *ControllerState) Permission(user string) (string, bool) {
	permission, ok := c.users[user]
	return permission, ok
}

// Shares returns the users the controller is shared with.
func (c *ControllerState) Shares() []string {
	return c.shares.SortedValues()
}

// Destroy tears the controller down. Destroying requires a
// bootstrapped controller; killing succeeds from any state.
func (c *ControllerState) Destroy(kill bool) error {
	if !kill && c.State != StateBootstrapped {
		return newProcessErrorf("destroy-controller", 1,
			"controller %q is not bootstrapped", c.Name)
	}
	for name := range c.models {
		delete(c.models, name)
	}
	c.controllerModel = nil
	if kill {
		c.State = StateControllerKilled
	} else {
		c.State = StateControllerDestroyed
	}
	return nil
}

// EnvironmentState models one model: machines, containers, unit
// placement, relations and the HA voting set. It holds a non-owning
// back-reference to its controller; the controller's arena owns it.
type EnvironmentState struct {
	// Name is the model name.
	Name string

	controller *ControllerState

	machineID         int
	machines          set.Strings
	containers        map[string]set.Strings
	containerSequence map[string]int
	applications map[string]map[string]string
	unitSequence map[string]int
	relations    map[string]set.Strings
	exposed      set.Strings
	sshKeys      []string
	stateServers []string
	config       map[string]string
}

func newEnvironmentState(name string, controller *ControllerState) *EnvironmentState {
	env := &EnvironmentState{Name: name, controller: controller}
	env.clear()
	return env
}

func (e *EnvironmentState) clear() {
	e.machines = set.NewStrings()
	e.containers = make(map[string]set.Strings)
	e.containerSequence = make(map[string]int)
	e.applications = make(map[string]map[string]string)
	e.unitSequence = make(map[string]int)
	e.relations = make(map[string]set.Strings)
	e.exposed = set.NewStrings()
	e.sshKeys = nil
	e.stateServers = nil
	e.config = make(map[string]string)
}

// Controller returns the owning controller.
func (e *EnvironmentState) Controller() *ControllerState {
	return e.controller
}

// Machines returns the machine ids in natural order.
func (e *EnvironmentState) Machines() []string {
	return naturalsort.Sort(e.machines.Values())
}

// Containers returns the container ids hosted on the given machine.
func (e *EnvironmentState) Containers(host string) []string {
	containers, ok := e.containers[host]
	if !ok {
		return nil
	}
	return naturalsort.Sort(containers.Values())
}

// StateServers returns the machines in the HA voting set.
func (e *EnvironmentState) StateServers() []string {
	return append([]string(nil), e.stateServers...)
}

// Applications returns the deployed application names in natural
// order.
func (e *EnvironmentState) Applications() []string {
	names := make([]string, 0, len(e.applications))
	for name := range e.applications {
		names = append(names, name)
	}
	return naturalsort.Sort(names)
}

// Units returns an application's unit names in natural order.
func (e *EnvironmentState) Units(app string) ([]string, error) {
	units, ok := e.applications[app]
	if !ok {
		return nil, errors.NotFoundf("application %q", app)
	}
	names := make([]string, 0, len(units))
	for name := range units {
		names = append(names, name)
	}
	return naturalsort.Sort(names), nil
}

// UnitMachine returns the machine a unit is assigned to; the empty
// string means the unit's machine reference has been cleared.
func (e *EnvironmentState) UnitMachine(unit string) (string, error) {
	app, err := names.UnitApplication(unit)
	if err != nil {
		return "", errors.Trace(err)
	}
	units, ok := e.applications[app]
	if !ok {
		return "", errors.NotFoundf("unit %q", unit)
	}
	machine, ok := units[unit]
	if !ok {
		return "", errors.NotFoundf("unit %q", unit)
	}
	return machine, nil
}

// SSHKeys returns the model's authorized keys.
func (e *EnvironmentState) SSHKeys() []string {
	return append([]string(nil), e.sshKeys...)
}

// Config returns the model config value for a key.
func (e *EnvironmentState) Config(key string) (string, bool) {
	value, ok := e.config[key]
	return value, ok
}

// SetConfig records a model config value.
func (e *EnvironmentState) SetConfig(key, value string) {
	e.config[key] = value
}

// AddMachine allocates a machine id from the model's monotonic
// counter.
func (e *EnvironmentState) AddMachine() string {
	id := strconv.Itoa(e.machineID)
	e.machineID++
	e.machines.Add(id)
	return id
}

// AddContainer creates a container of the given type on the host. The
// container id is host/type/index; the index is a per-host, per-type
// sequence, so removed container ids are never reused.
func (e *EnvironmentState) AddContainer(containerType, host string) (string, error) {
	if !e.machines.Contains(host) {
		return "", errors.NotFoundf("machine %q", host)
	}
	containers, ok := e.containers[host]
	if !ok {
		containers = set.NewStrings()
		e.containers[host] = containers
	}
	sequence := host + "/" + containerType
	id := fmt.Sprintf("%s/%d", sequence, e.containerSequence[sequence])
	e.containerSequence[sequence]++
	containers.Add(id)
	return id, nil
}

// RemoveMachine removes a machine or container. Removal of a machine
// with units still assigned fails like the real tool does, unless
// forced; forcing clears the units' machine references.
func (e *EnvironmentState) RemoveMachine(id string, force bool) error {
	if strings.Contains(id, "/") {
		return e.removeContainer(id)
	}
	if !e.machines.Contains(id) {
		return newProcessErrorf("remove-machine", 1, "machine %s does not exist", id)
	}
	var assigned []string
	for _, app := range e.Applications() {
		for unit, machine := range e.applications[app] {
			if machine == id {
				assigned = append(assigned, unit)
			}
		}
	}
	if len(assigned) > 0 {
		if !force {
			assigned = naturalsort.Sort(assigned)
			return newProcessErrorf("remove-machine", 1,
				"machine %s has unit %q assigned", id, assigned[0])
		}
		for _, app := range e.Applications() {
			for unit, machine := range e.applications[app] {
				if machine == id {
					e.applications[app][unit] = ""
				}
			}
		}
	}
	e.machines.Remove(id)
	delete(e.containers, id)
	for i, server := range e.stateServers {
		if server == id {
			e.stateServers = append(e.stateServers[:i], e.stateServers[i+1:]...)
			break
		}
	}
	return nil
}

func (e *EnvironmentState) removeContainer(id string) error {
	host := id[:strings.IndexByte(id, '/')]
	containers, ok := e.containers[host]
	if !ok || !containers.Contains(id) {
		return newProcessErrorf("remove-machine", 1, "machine %s does not exist", id)
	}
	containers.Remove(id)
	return nil
}

// EnableHA tops the voting set up to three state servers. Each call is
// idempotent; a full voting set is left untouched.
func (e *EnvironmentState) EnableHA() {
	for len(e.stateServers) < 3 {
		e.stateServers = append(e.stateServers, e.AddMachine())
	}
}

// Deploy creates an application with one unit on a fresh machine.
func (e *EnvironmentState) Deploy(app string) (string, error) {
	if _, ok := e.applications[app]; ok {
		return "", newProcessErrorf("deploy", 1,
			"cannot add application %q: application already exists", app)
	}
	e.applications[app] = make(map[string]string)
	unit, err := e.AddUnit(app)
	if err != nil {
		return "", errors.Trace(err)
	}
	return unit, nil
}

// AddUnit adds one unit to an application, placing it on a machine of
// its own.
func (e *EnvironmentState) AddUnit(app string) (string, error) {
	units, ok := e.applications[app]
	if !ok {
		return "", newProcessErrorf("add-unit", 1, "application %q not found", app)
	}
	unit := fmt.Sprintf("%s/%d", app, e.unitSequence[app])
	e.unitSequence[app]++
	units[unit] = e.AddMachine()
	return unit, nil
}

// RemoveUnit destroys a unit, and with it the machine it was placed
// on; placement is one unit per machine.
func (e *EnvironmentState) RemoveUnit(unit string) error {
	app, err := names.UnitApplication(unit)
	if err != nil {
		return newProcessErrorf("remove-unit", 1, "invalid unit name %q", unit)
	}
	units, ok := e.applications[app]
	if !ok {
		return newProcessErrorf("remove-unit", 1, "unit %q does not exist", unit)
	}
	machine, ok := units[unit]
	if !ok {
		return newProcessErrorf("remove-unit", 1, "unit %q does not exist", unit)
	}
	delete(units, unit)
	if machine != "" {
		e.machines.Remove(machine)
		delete(e.containers, machine)
	}
	return nil
}

// RemoveApplication destroys an application and all its units.
func (e *EnvironmentState) RemoveApplication(app string) error {
	units, ok := e.applications[app]
	if !ok {
		return newProcessErrorf("remove-application", 1, "application %q not found", app)
	}
	for unit := range units {
		if err := e.RemoveUnit(unit); err != nil {
			return errors.Trace(err)
		}
	}
	delete(e.applications, app)
	delete(e.relations, app)
	e.exposed.Remove(app)
	return nil
}

// Expose marks an application as exposed.
func (e *EnvironmentState) Expose(app string) error {
	if _, ok := e.applications[app]; !ok {
		return newProcessErrorf("expose", 1, "application %q not found", app)
	}
	e.exposed.Add(app)
	return nil
}

// Unexpose clears an application's exposure.
func (e *EnvironmentState) Unexpose(app string) error {
	if _, ok := e.applications[app]; !ok {
		return newProcessErrorf("unexpose", 1, "application %q not found", app)
	}
	e.exposed.Remove(app)
	return nil
}

// AddRelation relates two applications.
func (e *EnvironmentState) AddRelation(a, b string) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		peers, ok := e.relations[pair[0]]
		if !ok {
			peers = set.NewStrings()
			e.relations[pair[0]] = peers
		}
		peers.Add(pair[1])
	}
}

// RemoveRelation breaks the relation between two applications.
func (e *EnvironmentState) RemoveRelation(a, b string) {
	if peers, ok := e.relations[a]; ok {
		peers.Remove(b)
	}
	if peers, ok := e.relations[b]; ok {
		peers.Remove(a)
	}
}

// AddSSHKey records an authorized key on the model.
func (e *EnvironmentState) AddSSHKey(key string) {
	e.sshKeys = append(e.sshKeys, key)
}

// RestoreBackup recreates a single state server from a backup. It is
// only permitted while no state server machine exists.
func (e *EnvironmentState) RestoreBackup() error {
	if len(e.stateServers) > 0 {
		return newProcessErrorf("restore-backup", 1,
			"operation not permitted: state servers still exist")
	}
	e.stateServers = append(e.stateServers, e.AddMachine())
	return nil
}

// DestroyModel clears the model and unregisters it from the
// controller's arena.
func (e *EnvironmentState) DestroyModel() {
	delete(e.controller.models, e.Name)
	if e.controller.controllerModel == e {
		e.controller.controllerModel = nil
	}
	e.clear()
	e.controller.State = StateModelDestroyed
}

func (e *EnvironmentState) agentVersion() string {
	if v, ok := e.config["agent-version"]; ok && v != "" {
		return v
	}
	return e.controller.Version
}

// AsStatus renders the model as a status document of the same shape
// the real tool emits.
func (e *EnvironmentState) AsStatus() *status.Document {
	doc := &status.Document{
		Model: status.Model{
			Name:       e.Name,
			Controller: e.controller.Name,
			Version:    e.agentVersion(),
		},
		Machines:     make(map[string]status.Machine),
		Applications: make(map[string]status.Application),
	}
	voters := set.NewStrings(e.stateServers...)
	for _, id := range e.Machines() {
		machine := status.Machine{
			JujuStatus:    status.StatusInfo{Current: "started", Version: e.agentVersion()},
			MachineStatus: status.StatusInfo{Current: "running"},
			InstanceID:    fmt.Sprintf("%s-machine-%s", e.Name, id),
			DNSName:       fmt.Sprintf("%s-machine-%s.dns", e.Name, id),
		}
		if voters.Contains(id) {
			machine.ControllerMemberStatus = "has-vote"
		}
		for _, cid := range e.Containers(id) {
			if machine.Containers == nil {
				machine.Containers = make(map[string]status.Machine)
			}
			machine.Containers[cid] = status.Machine{
				JujuStatus:    status.StatusInfo{Current: "started", Version: e.agentVersion()},
				MachineStatus: status.StatusInfo{Current: "running"},
			}
		}
		doc.Machines[id] = machine
	}
	for _, app := range e.Applications() {
		appStatus := status.Application{
			ApplicationStatus: status.StatusInfo{Current: "active"},
			Life:              "alive",
			Exposed:           e.exposed.Contains(app),
			Units:             make(map[string]status.Unit),
		}
		if peers, ok := e.relations[app]; ok && peers.Size() > 0 {
			appStatus.Relations = map[string][]string{"peers": peers.SortedValues()}
		}
		units, _ := e.Units(app)
		for _, unit := range units {
			appStatus.Units[unit] = status.Unit{
				WorkloadStatus: status.StatusInfo{Current: "active"},
				JujuStatus:     status.StatusInfo{Current: "idle", Version: e.agentVersion()},
				Machine:        e.applications[app][unit],
			}
		}
		doc.Applications[app] = appStatus
	}
	return doc
}
