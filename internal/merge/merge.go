// Package merge applies approved site patches onto the current canonical record.
package merge

import (
	"fmt"
	"strings"

	"filedesk/api/internal/record"
)

// Policy decides who wins when a patched field was also changed on the
// canonical record after the proposal was drafted.
type Policy string

const (
	ProposalWins Policy = "proposal-wins"
	EditorWins   Policy = "editor-wins"
)

func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.TrimSpace(value)) {
	case "", ProposalWins:
		return ProposalWins, nil
	case EditorWins:
		return EditorWins, nil
	default:
		return "", fmt.Errorf("unknown concurrent edit policy %q", value)
	}
}

type ConflictKind string

const (
	ConflictMissingSite    ConflictKind = "missing-site"
	ConflictConcurrentEdit ConflictKind = "concurrent-edit"
)

type Conflict struct {
	Kind    ConflictKind `json:"kind"`
	Site    string       `json:"site"`
	Field   record.Field `json:"field,omitempty"`
	Current any          `json:"current,omitempty"`
	Drafted any          `json:"drafted,omitempty"`
	Applied bool         `json:"applied"`
	Message string       `json:"message"`
}

type Report struct {
	Conflicts []Conflict `json:"conflicts"`
	Applied   int        `json:"applied"`
}

func (r Report) Empty() bool {
	return len(r.Conflicts) == 0
}

func (r Report) Count(kind ConflictKind) int {
	n := 0
	for _, c := range r.Conflicts {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Summary is a one-line description suitable for reviewer notes.
func (r Report) Summary() string {
	if r.Empty() {
		return ""
	}
	parts := make([]string, 0, len(r.Conflicts))
	for _, c := range r.Conflicts {
		parts = append(parts, c.Message)
	}
	return strings.Join(parts, "; ")
}

// Merge applies patches to a copy of canonical. Fields absent from a patch are
// left untouched, a patch whose site no longer exists is reported and skipped,
// and derived fields are recomputed from the merged sites. canonical itself is
// not modified.
func Merge(canonical record.Record, patches []record.SitePatch, policy Policy) (record.Record, Report) {
	merged := canonical.Clone()
	report := Report{Conflicts: []Conflict{}}

	for _, patch := range patches {
		idx := merged.SiteIndex(patch.Name)
		if idx < 0 {
			report.Conflicts = append(report.Conflicts, Conflict{
				Kind:    ConflictMissingSite,
				Site:    patch.Name,
				Message: fmt.Sprintf("site %q no longer exists; its changes were not applied", patch.Name),
			})
			continue
		}

		site := &merged.Sites[idx]
		for _, f := range patch.Fields {
			if !record.FieldEqual(f, *site, patch.Base) {
				apply := policy != EditorWins
				report.Conflicts = append(report.Conflicts, Conflict{
					Kind:    ConflictConcurrentEdit,
					Site:    patch.Name,
					Field:   f,
					Current: record.FieldValue(f, *site),
					Drafted: record.FieldValue(f, patch.Base),
					Applied: apply,
					Message: concurrentMessage(patch.Name, f, apply),
				})
				if !apply {
					continue
				}
			}
			record.CopyField(f, site, patch.Values)
			report.Applied++
		}
	}

	merged.Recompute()
	return merged, report
}

func concurrentMessage(site string, f record.Field, applied bool) string {
	if applied {
		return fmt.Sprintf("site %q field %s was changed after the proposal was drafted; proposal value applied", site, f)
	}
	return fmt.Sprintf("site %q field %s was changed after the proposal was drafted; current value kept", site, f)
}
