// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package status

import (
	"github.com/juju/errors"
	"github.com/juju/names/v5"
	"github.com/juju/naturalsort"
)

// Kind identifies which sub-status of an entity a status item was
// derived from.
type Kind string

const (
	KindMachine     Kind = "machine-status"
	KindApplication Kind = "application-status"
	KindWorkload    Kind = "workload-status"
	KindAgent       Kind = "juju-status"
)

// Item is one observable sub-status of one entity.
type Item struct {
	Kind   Kind
	Name   string
	Status StatusInfo
}

// MachineEntry pairs a machine id with its record.
type MachineEntry struct {
	Id      string
	Machine Machine
}

// UnitEntry pairs a unit name with its record.
type UnitEntry struct {
	Name string
	Unit Unit
}

// IterMachines returns the top-level machines in natural id order.
// When withContainers is set, each machine is immediately followed by
// its containers; containers of one host are never interleaved with
// another host's.
func (d *Document) IterMachines(withContainers bool) []MachineEntry {
	var entries []MachineEntry
	for _, id := range naturalsort.Sort(mapKeys(d.Machines)) {
		machine := d.Machines[id]
		entries = append(entries, MachineEntry{Id: id, Machine: machine})
		if !withContainers {
			continue
		}
		for _, cid := range naturalsort.Sort(mapKeys(machine.Containers)) {
			entries = append(entries, MachineEntry{Id: cid, Machine: machine.Containers[cid]})
		}
	}
	return entries
}

// IterUnits returns every unit of every application, each unit
// immediately followed by its subordinates, recursively. The result is
// re-derived from the document on every call.
func (d *Document) IterUnits() []UnitEntry {
	var entries []UnitEntry
	apps := d.applications()
	for _, appName := range naturalsort.Sort(mapKeys(apps)) {
		entries = append(entries, iterAppUnits(apps[appName])...)
	}
	return entries
}

func iterAppUnits(app Application) []UnitEntry {
	var entries []UnitEntry
	for _, name := range naturalsort.Sort(mapKeys(app.Units)) {
		entries = appendUnit(entries, name, app.Units[name])
	}
	return entries
}

// appendUnit appends the unit and then, recursively, its subordinates.
func appendUnit(entries []UnitEntry, name string, unit Unit) []UnitEntry {
	entries = append(entries, UnitEntry{Name: name, Unit: unit})
	for _, sub := range naturalsort.Sort(mapKeys(unit.Subordinates)) {
		entries = appendUnit(entries, sub, unit.Subordinates[sub])
	}
	return entries
}

// IterStatus returns one Item per observable sub-status, in a fixed
// convention: machine before its containers, machine-status before the
// machine's agent status, application before its units, unit before
// its subordinates, workload-status before agent-status.
func (d *Document) IterStatus() []Item {
	var items []Item
	for _, e := range d.IterMachines(true) {
		items = append(items,
			Item{Kind: KindMachine, Name: e.Id, Status: e.Machine.MachineStatus},
			Item{Kind: KindAgent, Name: e.Id, Status: e.Machine.AgentStatus()},
		)
	}
	apps := d.applications()
	for _, appName := range naturalsort.Sort(mapKeys(apps)) {
		app := apps[appName]
		items = append(items, Item{Kind: KindApplication, Name: appName, Status: app.Status()})
		for _, u := range iterAppUnits(app) {
			items = append(items,
				Item{Kind: KindWorkload, Name: u.Name, Status: u.Unit.WorkloadStatus},
				Item{Kind: KindAgent, Name: u.Name, Status: u.Unit.AgentStatus()},
			)
		}
	}
	return items
}

// AgentItems returns the agent status of every machine, container,
// unit and subordinate, for aggregate-state computations.
func (d *Document) AgentItems() []Item {
	var items []Item
	for _, item := range d.IterStatus() {
		if item.Kind == KindAgent {
			items = append(items, item)
		}
	}
	return items
}

// ApplicationCount returns the number of applications in the document.
func (d *Document) ApplicationCount() int {
	return len(d.applications())
}

// Unit returns the named unit's record, searching subordinates too.
func (d *Document) Unit(name string) (Unit, error) {
	if !names.IsValidUnit(name) {
		return Unit{}, errors.NotValidf("unit name %q", name)
	}
	for _, e := range d.IterUnits() {
		if e.Name == name {
			return e.Unit, nil
		}
	}
	return Unit{}, errors.NotFoundf("unit %q", name)
}

// OpenPorts returns the ports opened by the named unit.
func (d *Document) OpenPorts(unitName string) ([]string, error) {
	unit, err := d.Unit(unitName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return unit.OpenPorts, nil
}

// SubordinateUnits returns the subordinate units found under the named
// application's units.
func (d *Document) SubordinateUnits(appName string) ([]UnitEntry, error) {
	app, ok := d.applications()[appName]
	if !ok {
		return nil, errors.NotFoundf("application %q", appName)
	}
	var entries []UnitEntry
	for _, principal := range iterAppUnits(app) {
		for _, sub := range naturalsort.Sort(mapKeys(principal.Unit.Subordinates)) {
			entries = append(entries, UnitEntry{Name: sub, Unit: principal.Unit.Subordinates[sub]})
		}
	}
	return entries, nil
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
