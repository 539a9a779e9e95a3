// Copyright 2018 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package wait

import (
	"io"
	"sort"
	"strings"

	"github.com/juju/naturalsort"
)

// reporterWidth is the column at which tick output wraps.
const reporterWidth = 79

// GroupReporter renders the evolving blocking-state groups of a wait
// loop to an append-only stream without repeating unchanged output.
// An update identical to the previous one appends a single tick to the
// current line, wrapping once the running offset fills the width; a
// changed group starts a new line. The offset arithmetic is stateful
// and exact: offsets are measured from the rendered group text, and
// each tick advances the offset by one regardless of the leading
// space on the first tick of a line.
type GroupReporter struct {
	out        io.Writer
	last       string
	haveLast   bool
	ticks      int
	wrapOffset int
}

// NewGroupReporter returns a reporter writing to out.
func NewGroupReporter(out io.Writer) *GroupReporter {
	return &GroupReporter{out: out}
}

// Update renders the given blockers if they differ from the previous
// update, or a tick if they do not.
func (r *GroupReporter) Update(blockers []Blocker) {
	rendered := renderGroup(blockers)
	if r.haveLast && rendered == r.last {
		if (r.wrapOffset+r.ticks)%reporterWidth == 0 {
			r.write("\n")
		}
		if r.ticks == 0 && r.wrapOffset != 0 {
			r.write(" .")
		} else {
			r.write(".")
		}
		r.ticks++
		return
	}
	if r.haveLast {
		r.write("\n" + rendered)
	} else {
		r.write(rendered)
	}
	r.last = rendered
	r.haveLast = true
	r.ticks = 0
	if lead := len(rendered) + 1; lead < reporterWidth {
		r.wrapOffset = lead
	} else {
		r.wrapOffset = 0
	}
}

// Finish closes any open line. Nothing is written if no group was ever
// reported.
func (r *GroupReporter) Finish() {
	if r.haveLast {
		r.write("\n")
	}
}

func (r *GroupReporter) write(s string) {
	// The stream is best-effort progress output; a write failure
	// must not abort the wait.
	_, _ = io.WriteString(r.out, s)
}

// renderGroup formats blockers as "reason: entity, ..." clauses joined
// with " | ", reasons sorted, entities in natural order.
func renderGroup(blockers []Blocker) string {
	byReason := make(map[string][]string)
	for _, b := range blockers {
		byReason[b.Reason] = append(byReason[b.Reason], b.Entity)
	}
	reasons := make([]string, 0, len(byReason))
	for reason := range byReason {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	clauses := make([]string, 0, len(reasons))
	for _, reason := range reasons {
		entities := naturalsort.Sort(byReason[reason])
		clauses = append(clauses, reason+": "+strings.Join(entities, ", "))
	}
	return strings.Join(clauses, " | ")
}
