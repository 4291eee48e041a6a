package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"filedesk/api/internal/record"
)

const seedJSON = `{
  "records": [
    {"kind": "file", "id": "F-1", "fileNumber": "FD/1", "sanctionedAmount": "1000",
     "sites": [{"name": "Well", "status": "issued", "estimateAmount": "400", "expenditure": "100"}]},
    {"kind": "scheme", "id": "F-1", "sites": []}
  ],
  "delegations": [{"staffId": "sup-1", "targetId": "F-1"}]
}`

func TestLoadSeed(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	n, err := LoadSeed(ctx, st, strings.NewReader(seedJSON))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	rec, err := st.GetRecord(ctx, record.KindFile, "F-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.Version)
	require.Equal(t, "seed", rec.UpdatedBy)
	require.Equal(t, "900", rec.Balance.String())

	active, err := st.HasActiveDelegation(ctx, "sup-1", Target{ID: "F-1"})
	require.NoError(t, err)
	require.True(t, active)
	active, err = st.HasActiveDelegation(ctx, "sup-1", Target{ID: "F-1", IsScheme: true})
	require.NoError(t, err)
	require.False(t, active)

	// Loading again leaves existing records alone.
	n, err = LoadSeed(ctx, st, strings.NewReader(seedJSON))
	require.NoError(t, err)
	require.Zero(t, n)
	rec, err = st.GetRecord(ctx, record.KindFile, "F-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.Version)
}

func TestLoadSeedRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	_, err := LoadSeed(ctx, NewMemoryStore(), strings.NewReader(`{"records":[{"kind":"folder","id":"X"}]}`))
	require.ErrorContains(t, err, "kind and id are required")

	_, err = LoadSeed(ctx, NewMemoryStore(), strings.NewReader(`not json`))
	require.ErrorContains(t, err, "decode seed")
}

func TestLoadSeedRejectsDuplicateSiteNames(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	doc := `{"records":[
	  {"kind":"file","id":"F-1","sites":[{"name":"Well"}]},
	  {"kind":"file","id":"F-2","sites":[{"name":"Well"},{"name":"Tank"},{"name":"Well"}]}
	]}`

	n, err := LoadSeed(ctx, st, strings.NewReader(doc))
	require.ErrorContains(t, err, `seed record F-2: duplicate site "Well"`)
	require.Equal(t, 1, n)

	_, err = st.GetRecord(ctx, record.KindFile, "F-1")
	require.NoError(t, err)
	_, err = st.GetRecord(ctx, record.KindFile, "F-2")
	require.ErrorIs(t, err, ErrNotFound)
}
