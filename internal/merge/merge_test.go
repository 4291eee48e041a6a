package merge

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"filedesk/api/internal/changeset"
	"filedesk/api/internal/rbac"
	"filedesk/api/internal/record"
)

func canonicalFile() record.Record {
	rec := record.Record{
		Kind:             record.KindFile,
		ID:               "F-7",
		SanctionedAmount: decimal.RequireFromString("500000"),
		Sites: []record.Site{
			{
				Name:             "Canal Lining",
				Status:           record.StatusInProgress,
				BeneficiaryCount: 40,
				EstimateAmount:   decimal.RequireFromString("200000"),
				Expenditure:      decimal.RequireFromString("50000"),
				Remarks:          "phase one",
			},
			{
				Name:             "Community Hall",
				Status:           record.StatusIssued,
				BeneficiaryCount: 10,
				EstimateAmount:   decimal.RequireFromString("150000"),
				Expenditure:      decimal.RequireFromString("0"),
			},
		},
	}
	rec.Recompute()
	return rec
}

func draft(t *testing.T, original record.Record, edit func(*record.Record)) []record.SitePatch {
	t.Helper()
	candidate := original.Clone()
	edit(&candidate)
	patches, err := changeset.ComputeRecord(rbac.RoleSupervisor, original, candidate)
	require.NoError(t, err)
	return patches
}

func TestMergeAppliesPatchAndRecomputes(t *testing.T) {
	original := canonicalFile()
	patches := draft(t, original, func(r *record.Record) {
		r.Sites[0].BeneficiaryCount = 65
		r.Sites[0].Status = record.StatusCompleted
	})

	merged, report := Merge(original, patches, ProposalWins)
	require.True(t, report.Empty())
	require.Equal(t, 2, report.Applied)
	require.Equal(t, record.StatusCompleted, merged.Sites[0].Status)
	require.Equal(t, 75, merged.BeneficiaryTotal)
	require.Equal(t, 50, original.BeneficiaryTotal, "canonical input must not be mutated")
	require.Equal(t, record.StatusInProgress, original.Sites[0].Status)
}

func TestMergePreservesUntouchedFields(t *testing.T) {
	original := canonicalFile()
	patches := draft(t, original, func(r *record.Record) {
		r.Sites[0].Remarks = "phase two"
	})

	current := original.Clone()
	current.Sites[0].Contractor = "Editor Co"
	current.Sites[1].Remarks = "editor note"
	current.Recompute()

	merged, report := Merge(current, patches, ProposalWins)
	require.True(t, report.Empty())
	require.Equal(t, "phase two", merged.Sites[0].Remarks)
	require.Equal(t, "Editor Co", merged.Sites[0].Contractor)
	require.Equal(t, "editor note", merged.Sites[1].Remarks)
	for _, f := range record.AllFields {
		if f == record.FieldRemarks {
			continue
		}
		require.Truef(t, record.FieldEqual(f, current.Sites[0], merged.Sites[0]), "field %s changed", f)
	}
}

func TestMergeEditorConcurrentUnrelatedField(t *testing.T) {
	original := canonicalFile()
	patches := draft(t, original, func(r *record.Record) {
		r.Sites[0].CompletionDate = record.Date{Year: 2024, Month: 8, Day: 15}
	})

	current := original.Clone()
	current.Sites[0].EstimateAmount = decimal.RequireFromString("260000")
	current.Recompute()

	merged, report := Merge(current, patches, ProposalWins)
	require.True(t, report.Empty())
	require.True(t, merged.Sites[0].EstimateAmount.Equal(decimal.RequireFromString("260000")))
	require.Equal(t, record.Date{Year: 2024, Month: 8, Day: 15}, merged.Sites[0].CompletionDate)
	require.True(t, merged.EstimateTotal.Equal(decimal.RequireFromString("410000")))
}

func TestMergeRenamedSiteReportsOneConflict(t *testing.T) {
	original := canonicalFile()
	patches := draft(t, original, func(r *record.Record) {
		r.Sites[0].Remarks = "lining done"
		r.Sites[1].BeneficiaryCount = 25
	})
	require.Len(t, patches, 2)

	current := original.Clone()
	current.Sites[1].Name = "Community Hall (Block B)"

	merged, report := Merge(current, patches, ProposalWins)
	require.Len(t, report.Conflicts, 1)
	require.Equal(t, ConflictMissingSite, report.Conflicts[0].Kind)
	require.Equal(t, "Community Hall", report.Conflicts[0].Site)
	require.Equal(t, "lining done", merged.Sites[0].Remarks)
	require.Equal(t, 10, merged.Sites[1].BeneficiaryCount)
}

func TestMergeSameFieldPolicy(t *testing.T) {
	original := canonicalFile()
	patches := draft(t, original, func(r *record.Record) {
		r.Sites[0].Remarks = "supervisor says done"
	})

	current := original.Clone()
	current.Sites[0].Remarks = "editor says pending audit"

	merged, report := Merge(current, patches, ProposalWins)
	require.Equal(t, 1, report.Count(ConflictConcurrentEdit))
	require.True(t, report.Conflicts[0].Applied)
	require.Equal(t, "supervisor says done", merged.Sites[0].Remarks)

	merged, report = Merge(current, patches, EditorWins)
	require.Equal(t, 1, report.Count(ConflictConcurrentEdit))
	require.False(t, report.Conflicts[0].Applied)
	require.Equal(t, "editor says pending audit", merged.Sites[0].Remarks)
	require.Equal(t, 0, report.Applied)
	require.NotEmpty(t, report.Summary())
}

func TestIdempotentReDiff(t *testing.T) {
	original := canonicalFile()
	patches := draft(t, original, func(r *record.Record) {
		r.Sites[0].Latitude = record.Float(25.1)
		r.Sites[0].Remarks = "  trimmed  "
		r.Sites[1].CompletionDate = record.Date{Year: 2025, Month: 1, Day: 9}
	})

	merged, report := Merge(original, patches, ProposalWins)
	require.True(t, report.Empty())

	again, err := changeset.ComputeRecord(rbac.RoleSupervisor, original, merged)
	require.NoError(t, err)
	require.Equal(t, patches, again)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, ProposalWins, p)

	p, err = ParsePolicy("editor-wins")
	require.NoError(t, err)
	require.Equal(t, EditorWins, p)

	_, err = ParsePolicy("coin-flip")
	require.Error(t, err)
}
