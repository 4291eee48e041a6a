// Package changeset extracts the authorized, actually-changed fields between
// an original record and an edited candidate.
package changeset

import (
	"errors"

	"filedesk/api/internal/rbac"
	"filedesk/api/internal/record"
)

var ErrNoChanges = errors.New("no changes detected")

// Compute returns the patch for a single site. Only fields in authorized are
// ever read; a change to any other field cannot reach the patch.
func Compute(original, candidate record.Site, authorized record.FieldSet) record.SitePatch {
	patch := record.SitePatch{Name: original.Name, Fields: []record.Field{}}
	for _, f := range authorized.Sorted() {
		if record.FieldEqual(f, original, candidate) {
			continue
		}
		patch.Fields = append(patch.Fields, f)
		record.CopyField(f, &patch.Values, candidate)
		record.CopyField(f, &patch.Base, original)
	}
	patch.Values.Name = original.Name
	patch.Base.Name = original.Name
	return patch
}

// ComputeRecord diffs every site of candidate against the site with the same
// natural key in original. Each site's authorization comes from the policy
// applied to the original site's status. Candidate sites with no counterpart
// in original are ignored. ErrNoChanges is returned when every patch is empty.
func ComputeRecord(role rbac.Role, original, candidate record.Record) ([]record.SitePatch, error) {
	patches := make([]record.SitePatch, 0)
	for _, originalSite := range original.Sites {
		candidateSite, ok := candidate.Site(originalSite.Name)
		if !ok {
			continue
		}
		authorized := rbac.EditableFields(role, originalSite.Status)
		if authorized.Empty() {
			continue
		}
		patch := Compute(originalSite, candidateSite, authorized)
		if patch.Empty() {
			continue
		}
		patches = append(patches, patch)
	}
	if len(patches) == 0 {
		return nil, ErrNoChanges
	}
	return patches, nil
}

// EditableView describes, per site, which fields a role may edit right now.
type EditableView struct {
	Site   string          `json:"site"`
	Status record.Status   `json:"status"`
	Fields record.FieldSet `json:"fields"`
}

func Editable(role rbac.Role, rec record.Record) []EditableView {
	out := make([]EditableView, 0, len(rec.Sites))
	for _, site := range rec.Sites {
		out = append(out, EditableView{
			Site:   site.Name,
			Status: site.Status,
			Fields: rbac.EditableFields(role, site.Status),
		})
	}
	return out
}
