// Copyright 2017 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fake

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	goyaml "gopkg.in/yaml.v2"

	"github.com/juju/jujutest/status"
)

// Backend interprets command and argument strings against a fake
// controller, mutating its state and returning the transcript the real
// tool would print. Commands form a closed handler table; anything
// outside it is unmodelled.
//
// Policy for unmodelled commands: a lenient backend logs and ignores
// them, so consumer scripts that drive commands beyond the modelled
// subset keep working; a strict backend rejects them with a process
// error instead.
type Backend struct {
	controller *ControllerState
	strict     bool
}

// NewBackend returns a lenient backend over the given controller.
func NewBackend(controller *ControllerState) *Backend {
	return &Backend{controller: controller}
}

// NewStrictBackend returns a backend rejecting unmodelled commands.
func NewStrictBackend(controller *ControllerState) *Backend {
	return &Backend{controller: controller, strict: true}
}

// Controller returns the controller the backend mutates.
func (b *Backend) Controller() *ControllerState {
	return b.controller
}

// Run dispatches one command in the context of the named model. It
// returns the command transcript; failures are *ProcessError values
// carrying the simulated return code and output.
func (b *Backend) Run(model, command string, args ...string) (string, error) {
	handler, ok := handlers[command]
	if !ok {
		if b.strict {
			return "", newProcessErrorf(command, 2, "unrecognized command: juju %s", command)
		}
		logger.Debugf("ignoring unmodelled command %q", command)
		return "", nil
	}
	transcript, err := handler(b, model, args)
	if err != nil {
		return "", errors.Trace(err)
	}
	return transcript, nil
}

// Status runs the status command and parses its transcript back into
// a document, the same round trip a client facade bound to the real
// tool makes.
func (b *Backend) Status(model string) (*status.Document, error) {
	transcript, err := b.Run(model, "status")
	if err != nil {
		return nil, errors.Trace(err)
	}
	doc, err := status.Parse([]byte(transcript))
	return doc, errors.Trace(err)
}

// env resolves the model context to its state.
func (b *Backend) env(command, model string) (*EnvironmentState, error) {
	env, err := b.controller.Model(model)
	if err != nil {
		return nil, newProcessErrorf(command, 1, "model %q not found", model)
	}
	return env, nil
}

// controllerEnv resolves the implicit controller model.
func (b *Backend) controllerEnv(command string) (*EnvironmentState, error) {
	env := b.controller.ControllerModel()
	if env == nil {
		return nil, newProcessErrorf(command, 1, "controller %q is not bootstrapped", b.controller.Name)
	}
	return env, nil
}

type handlerFunc func(b *Backend, model string, args []string) (string, error)

var handlers = map[string]handlerFunc{
	"bootstrap":          handleBootstrap,
	"add-model":          handleAddModel,
	"destroy-model":      handleDestroyModel,
	"destroy-controller": handleDestroyController,
	"kill-controller":    handleKillController,
	"register":           handleRegister,
	"add-user":           handleAddUser,
	"grant":              handleGrant,
	"revoke":             handleRevoke,
	"enable-ha":          handleEnableHA,
	"add-machine":        handleAddMachine,
	"remove-machine":     handleRemoveMachine,
	"deploy":             handleDeploy,
	"add-unit":           handleAddUnit,
	"remove-unit":        handleRemoveUnit,
	"remove-application": handleRemoveApplication,
	"expose":             handleExpose,
	"unexpose":           handleUnexpose,
	"add-relation":       handleAddRelation,
	"remove-relation":    handleRemoveRelation,
	"add-ssh-key":        handleAddSSHKey,
	"restore-backup":     handleRestoreBackup,
	"upgrade-juju":       handleUpgradeJuju,
	"model-config":       handleModelConfig,
	"status":             handleStatus,
	"show-status":        handleStatus,
	"show-controller":    handleShowController,
}

func newFlagSet(command string) *gnuflag.FlagSet {
	fs := gnuflag.NewFlagSet(command, gnuflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(command string, fs *gnuflag.FlagSet, args []string) error {
	if err := fs.Parse(true, args); err != nil {
		return newProcessErrorf(command, 2, "%v", err)
	}
	return nil
}

// configFlag collects repeated --config key=value flags.
type configFlag map[string]string

func (f configFlag) String() string {
	return ""
}

func (f configFlag) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return errors.Errorf("expected key=value, got %q", s)
	}
	f[key] = value
	return nil
}

func handleBootstrap(b *Backend, model string, args []string) (string, error) {
	fs := newFlagSet("bootstrap")
	config := configFlag{}
	fs.Var(config, "config", "model configuration")
	if err := parseFlags("bootstrap", fs, args); err != nil {
		return "", errors.Trace(err)
	}
	positional := fs.Args()
	if len(positional) < 1 {
		return "", newProcessErrorf("bootstrap", 2, "expected <cloud>[/region] [<controller name>]")
	}
	if len(positional) > 1 {
		b.controller.Name = positional[1]
	}
	if model == "" {
		model = "default"
	}
	if _, err := b.controller.Bootstrap(model, positional[0], config); err != nil {
		return "", errors.Trace(err)
	}
	return fmt.Sprintf("Bootstrap complete, controller %q is now available\n", b.controller.Name), nil
}

func handleAddModel(b *Backend, model string, args []string) (string, error) {
	if len(args) < 1 {
		return "", newProcessErrorf("add-model", 2, "expected <model name>")
	}
	if _, err := b.controller.AddModel(args[0]); err != nil {
		return "", newProcessErrorf("add-model", 1, "%v", err)
	}
	return fmt.Sprintf("Added model %q\n", args[0]), nil
}

func handleDestroyModel(b *Backend, model string, args []string) (string, error) {
	if len(args) > 0 {
		model = args[0]
	}
	env, err := b.env("destroy-model", model)
	if err != nil {
		return "", errors.Trace(err)
	}
	env.DestroyModel()
	return "", nil
}

func handleDestroyController(b *Backend, model string, args []string) (string, error) {
	return "", b.controller.Destroy(false)
}

func handleKillController(b *Backend, model string, args []string) (string, error) {
	return "", b.controller.Destroy(true)
}

func handleRegister(b *Backend, model string, args []string) (string, error) {
	user := "admin"
	if len(args) > 0 {
		user = args[0]
	}
	b.controller.Register(user)
	return "", nil
}

func handleAddUser(b *Backend, model string, args []string) (string, error) {
	if len(args) < 1 {
		return "", newProcessErrorf("add-user", 2, "expected <user name>")
	}
	if err := b.controller.AddUser(args[0]); err != nil {
		return "", newProcessErrorf("add-user", 1, "%v", err)
	}
	return "", nil
}

func handleGrant(b *Backend, model string, args []string) (string, error) {
	if len(args) < 2 {
		return "", newProcessErrorf("grant", 2, "expected <user> <permission>")
	}
	if err := b.controller.Grant(args[0], args[1]); err != nil {
		return "", newProcessErrorf("grant", 1, "%v", err)
	}
	return "", nil
}

func handleRevoke(b *Backend, model string, args []string) (string, error) {
	if len(args) < 1 {
		return "", newProcessErrorf("revoke", 2, "expected <user>")
	}
	if err := b.controller.Revoke(args[0]); err != nil {
		return "", newProcessErrorf("revoke", 1, "%v", err)
	}
	return "", nil
}

func handleEnableHA(b *Backend, model string, args []string) (string, error) {
	fs := newFlagSet("enable-ha")
	fs.Int("n", 3, "number of controller machines")
	if err := parseFlags("enable-ha", fs, args); err != nil {
		return "", errors.Trace(err)
	}
	env, err := b.controllerEnv("enable-ha")
	if err != nil {
		return "", errors.Trace(err)
	}
	env.EnableHA()
	return fmt.Sprintf("maintaining machines: %s\n", strings.Join(env.StateServers(), ", ")), nil
}

func handleAddMachine(b *Backend, model string, args []string) (string, error) {
	fs := newFlagSet("add-machine")
	count := fs.Int("n", 1, "number of machines")
	if err := parseFlags("add-machine", fs, args); err != nil {
		return "", errors.Trace(err)
	}
	env, err := b.env("add-machine", model)
	if err != nil {
		return "", errors.Trace(err)
	}
	var transcript strings.Builder
	if positional := fs.Args(); len(positional) > 0 {
		containerType, host, hasHost := strings.Cut(positional[0], ":")
		if !hasHost {
			host = env.AddMachine()
		}
		id, err := env.AddContainer(containerType, host)
		if err != nil {
			return "", newProcessErrorf("add-machine", 1, "%v", err)
		}
		fmt.Fprintf(&transcript, "created container %s\n", id)
		return transcript.String(), nil
	}
	for i := 0; i < *count; i++ {
		fmt.Fprintf(&transcript, "created machine %s\n", env.AddMachine())
	}
	return transcript.String(), nil
}

func handleRemoveMachine(b *Backend, model string, args []string) (string, error) {
	fs := newFlagSet("remove-machine")
	force := fs.Bool("force", false, "remove even with assigned units")
	if err := parseFlags("remove-machine", fs, args); err != nil {
		return "", errors.Trace(err)
	}
	env, err := b.env("remove-machine", model)
	if err != nil {
		return "", errors.Trace(err)
	}
	for _, id := range fs.Args() {
		if err := env.RemoveMachine(id, *force); err != nil {
			return "", errors.Trace(err)
		}
	}
	return "", nil
}

var charmRevisionSuffix = regexp.MustCompile(`-[0-9]+$`)

// applicationName derives the application name from a charm URL the
// way deploy defaults it: the last path element, minus any revision.
func applicationName(charm string) string {
	name := charm
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	for _, prefix := range []string{"cs:", "ch:", "local:"} {
		name = strings.TrimPrefix(name, prefix)
	}
	return charmRevisionSuffix.ReplaceAllString(name, "")
}

func handleDeploy(b *Backend, model string, args []string) (string, error) {
	if len(args) < 1 {
		return "", newProcessErrorf("deploy", 2, "expected <charm> [<application name>]")
	}
	env, err := b.env("deploy", model)
	if err != nil {
		return "", errors.Trace(err)
	}
	app := applicationName(args[0])
	if len(args) > 1 {
		app = args[1]
	}
	if _, err := env.Deploy(app); err != nil {
		return "", errors.Trace(err)
	}
	return fmt.Sprintf("Deployed %q from charm %q\n", app, args[0]), nil
}

func handleAddUnit(b *Backend, model string, args []string) (string, error) {
	fs := newFlagSet("add-unit")
	count := fs.Int("n", 1, "number of units")
	if err := parseFlags("add-unit", fs, args); err != nil {
		return "", errors.Trace(err)
	}
	if len(fs.Args()) < 1 {
		return "", newProcessErrorf("add-unit", 2, "expected <application name>")
	}
	env, err := b.env("add-unit", model)
	if err != nil {
		return "", errors.Trace(err)
	}
	var transcript strings.Builder
	for i := 0; i < *count; i++ {
		unit, err := env.AddUnit(fs.Args()[0])
		if err != nil {
			return "", errors.Trace(err)
		}
		fmt.Fprintf(&transcript, "added unit %s\n", unit)
	}
	return transcript.String(), nil
}

func handleRemoveUnit(b *Backend, model string, args []string) (string, error) {
	if len(args) < 1 {
		return "", newProcessErrorf("remove-unit", 2, "expected <unit name>")
	}
	env, err := b.env("remove-unit", model)
	if err != nil {
		return "", errors.Trace(err)
	}
	for _, unit := range args {
		if err := env.RemoveUnit(unit); err != nil {
			return "", errors.Trace(err)
		}
	}
	return "", nil
}

func handleRemoveApplication(b *Backend, model string, args []string) (string, error) {
	if len(args) < 1 {
		return "", newProcessErrorf("remove-application", 2, "expected <application name>")
	}
	env, err := b.env("remove-application", model)
	if err != nil {
		return "", errors.Trace(err)
	}
	return "", errors.Trace(env.RemoveApplication(args[0]))
}

func handleExpose(b *Backend, model string, args []string) (string, error) {
	if len(args) < 1 {
		return "", newProcessErrorf("expose", 2, "expected <application name>")
	}
	env, err := b.env("expose", model)
	if err != nil {
		return "", errors.Trace(err)
	}
	return "", errors.Trace(env.Expose(args[0]))
}

func handleUnexpose(b *Backend, model string, args []string) (string, error) {
	if len(args) < 1 {
		return "", newProcessErrorf("unexpose", 2, "expected <application name>")
	}
	env, err := b.env("unexpose", model)
	if err != nil {
		return "", errors.Trace(err)
	}
	return "", errors.Trace(env.Unexpose(args[0]))
}

// endpointApplication strips the relation interface from an endpoint,
// "wordpress:db" resolving to "wordpress".
func endpointApplication(endpoint string) string {
	app, _, _ := strings.Cut(endpoint, ":")
	return app
}

func handleAddRelation(b *Backend, model string, args []string) (string, error) {
	if len(args) < 2 {
		return "", newProcessErrorf("add-relation", 2, "expected <endpoint> <endpoint>")
	}
	env, err := b.env("add-relation", model)
	if err != nil {
		return "", errors.Trace(err)
	}
	env.AddRelation(endpointApplication(args[0]), endpointApplication(args[1]))
	return "", nil
}

func handleRemoveRelation(b *Backend, model string, args []string) (string, error) {
	if len(args) < 2 {
		return "", newProcessErrorf("remove-relation", 2, "expected <endpoint> <endpoint>")
	}
	env, err := b.env("remove-relation", model)
	if err != nil {
		return "", errors.Trace(err)
	}
	env.RemoveRelation(endpointApplication(args[0]), endpointApplication(args[1]))
	return "", nil
}

func handleAddSSHKey(b *Backend, model string, args []string) (string, error) {
	if len(args) < 1 {
		return "", newProcessErrorf("add-ssh-key", 2, "expected <key> ...")
	}
	env, err := b.env("add-ssh-key", model)
	if err != nil {
		return "", errors.Trace(err)
	}
	for _, key := range args {
		env.AddSSHKey(key)
	}
	return "", nil
}

func handleRestoreBackup(b *Backend, model string, args []string) (string, error) {
	env, err := b.controllerEnv("restore-backup")
	if err != nil {
		return "", errors.Trace(err)
	}
	if err := env.RestoreBackup(); err != nil {
		return "", errors.Trace(err)
	}
	return "restore from backup completed\n", nil
}

func handleUpgradeJuju(b *Backend, model string, args []string) (string, error) {
	fs := newFlagSet("upgrade-juju")
	agentVersion := fs.String("agent-version", "", "target agent version")
	if err := parseFlags("upgrade-juju", fs, args); err != nil {
		return "", errors.Trace(err)
	}
	if *agentVersion == "" {
		return "", newProcessErrorf("upgrade-juju", 2, "expected --agent-version")
	}
	b.controller.Version = *agentVersion
	return fmt.Sprintf("started upgrade to %s\n", *agentVersion), nil
}

func handleModelConfig(b *Backend, model string, args []string) (string, error) {
	env, err := b.env("model-config", model)
	if err != nil {
		return "", errors.Trace(err)
	}
	if len(args) == 0 {
		out, err := goyaml.Marshal(env.config)
		if err != nil {
			return "", errors.Trace(err)
		}
		return string(out), nil
	}
	var transcript strings.Builder
	for _, arg := range args {
		key, value, isSet := strings.Cut(arg, "=")
		if isSet {
			env.SetConfig(key, value)
			continue
		}
		current, ok := env.Config(key)
		if !ok {
			return "", newProcessErrorf("model-config", 1, "key %q not found in model %q", key, model)
		}
		fmt.Fprintln(&transcript, current)
	}
	return transcript.String(), nil
}

func handleStatus(b *Backend, model string, args []string) (string, error) {
	env, err := b.env("status", model)
	if err != nil {
		return "", errors.Trace(err)
	}
	out, err := env.AsStatus().Marshal()
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(out), nil
}

func handleShowController(b *Backend, model string, args []string) (string, error) {
	out, err := goyaml.Marshal(map[string]interface{}{
		b.controller.Name: map[string]interface{}{
			"state":  b.controller.State,
			"models": b.controller.ModelNames(),
			"cloud":  b.controller.cloud,
			"region": b.controller.region,
		},
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(out), nil
}
