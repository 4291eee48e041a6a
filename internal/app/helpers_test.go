package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"filedesk/api/internal/auth"
	"filedesk/api/internal/feed"
	"filedesk/api/internal/record"
	"filedesk/api/internal/search"
	"filedesk/api/internal/store"
	"filedesk/api/internal/workflow"
)

const testSecret = "test-secret"

type testEnv struct {
	handler http.Handler
	store   *store.MemoryStore
	checks  map[string]Pinger
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithChecks(t, nil)
}

func newTestEnvWithChecks(t *testing.T, extra map[string]Pinger) *testEnv {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	st := seedStore(t)

	checks := map[string]Pinger{"store": st}
	for name, p := range extra {
		checks[name] = p
	}
	searchSvc := search.NewService(nil, search.NewListSearcher(st), logger)
	wf := workflow.NewService(st, st, workflow.Options{Logger: logger, Indexer: searchSvc})
	svc := NewService(Deps{
		Workflow: wf,
		Search:   searchSvc,
		Feed:     feed.NewPollingFeed(st, 10*time.Millisecond),
		Verifier: auth.NewVerifier(testSecret),
		Checks:   checks,
		FeedWait: 80 * time.Millisecond,
		Logger:   logger,
	})
	return &testEnv{handler: NewHTTPServer(svc, "*").Handler(), store: st, checks: checks}
}

func seedStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()

	file := record.Record{
		Kind:                 record.KindFile,
		ID:                   "F-100",
		FileNumber:           "FD/2024/100",
		Applicant:            "Gram Panchayat Ward 4",
		SanctionedAmount:     decimal.RequireFromString("600000"),
		AssignedSupervisorID: "sup-1",
		Sites: []record.Site{
			{
				Name:             "Canal Lining",
				Status:           record.StatusInProgress,
				BeneficiaryCount: 40,
				EstimateAmount:   decimal.RequireFromString("200000"),
				Expenditure:      decimal.RequireFromString("50000"),
				Remarks:          "phase one",
			},
			{Name: "Old Bridge", Status: record.StatusBilled},
		},
	}
	file.Recompute()
	_, err := st.PutRecord(ctx, file)
	require.NoError(t, err)

	locked := record.Record{
		Kind:  record.KindFile,
		ID:    "F-200",
		Sites: []record.Site{{Name: "Drain", Status: record.StatusPaid}},
	}
	locked.Recompute()
	_, err = st.PutRecord(ctx, locked)
	require.NoError(t, err)

	require.NoError(t, st.GrantDelegation(ctx, store.Delegation{StaffID: "sup-1", TargetID: "F-100"}))
	require.NoError(t, st.GrantDelegation(ctx, store.Delegation{StaffID: "sup-1", TargetID: "F-200"}))
	return st
}

func issueToken(t *testing.T, id, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:  id,
		Name: id,
		Role: role,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), target), "body=%s", rr.Body.String())
}

func requireCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	require.Equal(t, status, rr.Code, "body=%s", rr.Body.String())
	var payload map[string]any
	decodeJSON(t, rr, &payload)
	require.Equal(t, code, payload["code"])
	return payload
}

const remarksEdit = `{"sites":[{"name":"Canal Lining","status":"in progress","beneficiaryCount":40,"estimateAmount":"200000","expenditure":"50000","remarks":"phase two started"}]}`
