package app

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"filedesk/api/internal/store"
	"filedesk/api/internal/workflow"
)

func TestFeedLongPoll(t *testing.T) {
	env := newTestEnv(t)
	editor := issueToken(t, "ed-1", "editor")
	created := submitRemarks(t, env)

	rr := env.do(t, http.MethodGet, "/api/proposals/feed", editor, "")
	require.Equal(t, http.StatusOK, rr.Code, "body=%s", rr.Body.String())
	var batch FeedBatch
	decodeJSON(t, rr, &batch)
	require.Len(t, batch.Events, 1)
	require.Equal(t, created.ID, batch.Events[0].ProposalID)
	require.Equal(t, store.EventSubmitted, batch.Events[0].Type)
	require.NotEmpty(t, batch.Cursor)

	// Nothing new: the wait elapses and the cursor is handed back unchanged.
	rr = env.do(t, http.MethodGet, "/api/proposals/feed?cursor="+batch.Cursor, editor, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var empty FeedBatch
	decodeJSON(t, rr, &empty)
	require.Empty(t, empty.Events)
	require.Equal(t, batch.Cursor, empty.Cursor)

	rr = env.do(t, http.MethodPost, "/api/proposals/"+created.ID+"/reject", editor, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/proposals/feed?cursor="+batch.Cursor, editor, "")
	var next FeedBatch
	decodeJSON(t, rr, &next)
	require.Len(t, next.Events, 1)
	require.Equal(t, store.EventRejected, next.Events[0].Type)
}

func TestFeedRejectsMalformedCursor(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/api/proposals/feed?cursor=abc", issueToken(t, "ed-1", "editor"), "")
	requireCode(t, rr, http.StatusBadRequest, string(workflow.CodeInvalidInput))
}
