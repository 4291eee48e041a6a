package search

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"filedesk/api/internal/store"
)

func newMockFTS(t *testing.T) (*PgFTS, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPgFTS(db), mock
}

func TestPgFTSBlankQuerySkipsDatabase(t *testing.T) {
	fts, _ := newMockFTS(t)
	results, total, err := fts.Search(context.Background(), Query{Text: "   "})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, results)
}

func TestPgFTSSearchAppliesFilters(t *testing.T) {
	fts, mock := newMockFTS(t)
	submitted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM proposals WHERE to_tsvector('simple', search_text) @@ plainto_tsquery('simple', $1) AND status = $2 AND submitter_id = $3")).
		WithArgs("canal", "pending", "sup-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("ts_headline('simple', search_text")).
		WithArgs("canal", "pending", "sup-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "target_id", "is_scheme", "status", "submitter_id", "submitter_name", "submitted_at", "snippet"}).
			AddRow("p-1", "F-100", false, "pending", "sup-1", "Asha Rao", submitted, "F-100 Asha Rao <b>Canal</b> Lining"))

	results, total, err := fts.Search(context.Background(), Query{Text: "canal", Status: store.StatusPending, SubmitterID: "sup-1"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, results, 1)
	require.Equal(t, "p-1", results[0].ID)
	require.Equal(t, store.StatusPending, results[0].Status)
	require.Equal(t, submitted, results[0].SubmittedAt)
}

func TestPgFTSNoMatchesSkipsDataQuery(t *testing.T) {
	fts, mock := newMockFTS(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM proposals")).
		WithArgs("nothing").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	results, total, err := fts.Search(context.Background(), Query{Text: "nothing"})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, results)
}

func TestPgFTSLoadAllDocuments(t *testing.T) {
	fts, mock := newMockFTS(t)
	submitted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, target_id, is_scheme, status, submitter_id, submitter_name, submitted_at, search_text")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "target_id", "is_scheme", "status", "submitter_id", "submitter_name", "submitted_at", "search_text"}).
			AddRow("p-1", "S-7", true, "approved", "sup-1", "Asha Rao", submitted, "S-7 Asha Rao"))

	docs, err := fts.LoadAllDocuments(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Document{{
		ID: "p-1", TargetID: "S-7", IsScheme: true, Status: "approved", SubmitterID: "sup-1",
		SubmitterName: "Asha Rao", SubmittedAt: submitted.Unix(), Text: "S-7 Asha Rao",
	}}, docs)
}
