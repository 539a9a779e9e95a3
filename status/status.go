// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package status

import (
	"time"

	"github.com/juju/errors"
	goyaml "gopkg.in/yaml.v2"
)

// SinceFormat is the layout used for the "since" field of a status
// entry, matching the format the CLI prints.
const SinceFormat = "02 Jan 2006 15:04:05Z07:00"

// StatusInfo is a single current/message/since/version block as it
// appears under juju-status, machine-status, workload-status and
// application-status keys.
type StatusInfo struct {
	Current string `yaml:"current,omitempty"`
	Message string `yaml:"message,omitempty"`
	Since   string `yaml:"since,omitempty"`
	Version string `yaml:"version,omitempty"`
}

// SinceTime parses the Since field. The bool result is false when the
// field is absent or unparseable.
func (s StatusInfo) SinceTime() (time.Time, bool) {
	if s.Since == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{SinceFormat, time.RFC3339} {
		if t, err := time.Parse(layout, s.Since); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Machine is the status record for a machine or a container.
type Machine struct {
	JujuStatus    StatusInfo `yaml:"juju-status,omitempty"`
	MachineStatus StatusInfo `yaml:"machine-status,omitempty"`

	// AgentState and AgentVersion are the legacy flat fields
	// emitted before juju-status existed.
	AgentState   string `yaml:"agent-state,omitempty"`
	AgentVersion string `yaml:"agent-version,omitempty"`

	DNSName                string             `yaml:"dns-name,omitempty"`
	InstanceID             string             `yaml:"instance-id,omitempty"`
	ControllerMemberStatus string             `yaml:"controller-member-status,omitempty"`
	Containers             map[string]Machine `yaml:"containers,omitempty"`
}

// AgentStatus resolves the machine agent's status. The legacy flat
// fields take precedence when present; real documents only ever carry
// one form.
func (m Machine) AgentStatus() StatusInfo {
	if m.AgentState != "" {
		return StatusInfo{Current: m.AgentState, Version: m.AgentVersion}
	}
	return m.JujuStatus
}

// Unit is the status record for a unit or a subordinate unit.
type Unit struct {
	WorkloadStatus StatusInfo `yaml:"workload-status,omitempty"`
	JujuStatus     StatusInfo `yaml:"juju-status,omitempty"`

	// AgentState is the legacy flat agent field.
	AgentState string `yaml:"agent-state,omitempty"`

	Machine       string          `yaml:"machine,omitempty"`
	OpenPorts     []string        `yaml:"open-ports,omitempty"`
	PublicAddress string          `yaml:"public-address,omitempty"`
	Subordinates  map[string]Unit `yaml:"subordinates,omitempty"`
}

// AgentStatus resolves the unit agent's status. The legacy flat field
// takes precedence when present.
func (u Unit) AgentStatus() StatusInfo {
	if u.AgentState != "" {
		return StatusInfo{Current: u.AgentState}
	}
	return u.JujuStatus
}

// Application is the status record for an application.
type Application struct {
	ApplicationStatus StatusInfo `yaml:"application-status,omitempty"`

	// ServiceStatus is the legacy name for ApplicationStatus.
	ServiceStatus StatusInfo `yaml:"service-status,omitempty"`

	Life      string              `yaml:"life,omitempty"`
	Exposed   bool                `yaml:"exposed,omitempty"`
	Relations map[string][]string `yaml:"relations,omitempty"`
	Units     map[string]Unit     `yaml:"units,omitempty"`
}

// Status resolves the application status, preferring the modern key.
func (a Application) Status() StatusInfo {
	if a.ApplicationStatus.Current != "" {
		return a.ApplicationStatus
	}
	return a.ServiceStatus
}

// Model is the top-level model block of a status document.
type Model struct {
	Name       string `yaml:"name,omitempty"`
	Controller string `yaml:"controller,omitempty"`
	Version    string `yaml:"version,omitempty"`
}

// Document is one parsed status snapshot. Machine and unit ids are
// unique within a document; container ids are host/type/index strings
// nested under their host machine.
type Document struct {
	Model        Model                  `yaml:"model,omitempty"`
	Machines     map[string]Machine     `yaml:"machines,omitempty"`
	Applications map[string]Application `yaml:"applications,omitempty"`

	// Services is the legacy alias for Applications.
	Services map[string]Application `yaml:"services,omitempty"`
}

// Parse decodes status YAML into a Document.
func Parse(text []byte) (*Document, error) {
	var doc Document
	if err := goyaml.Unmarshal(text, &doc); err != nil {
		return nil, errors.Annotate(err, "cannot parse status")
	}
	return &doc, nil
}

// Marshal encodes the document back to YAML. A document re-parsed from
// its own output walks identically to the original.
func (d *Document) Marshal() ([]byte, error) {
	out, err := goyaml.Marshal(d)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return out, nil
}

// applications merges the modern and legacy application maps. Both
// being present is not a shape real status output ever has, so the
// modern one simply shadows the alias key by key.
func (d *Document) applications() map[string]Application {
	if len(d.Services) == 0 {
		return d.Applications
	}
	merged := make(map[string]Application, len(d.Services)+len(d.Applications))
	for name, app := range d.Services {
		merged[name] = app
	}
	for name, app := range d.Applications {
		merged[name] = app
	}
	return merged
}
