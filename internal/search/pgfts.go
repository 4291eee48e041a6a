package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"filedesk/api/internal/store"
)

// PgFTS implements Searcher using PostgreSQL full-text search over
// proposals.search_text.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches with plainto_tsquery, ranks with ts_rank and builds snippets
// with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	const tsQuery = "plainto_tsquery('simple', $1)"
	const tsVector = "to_tsvector('simple', search_text)"
	where := []string{tsVector + " @@ " + tsQuery}
	args := []any{q.Text}
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if q.SubmitterID != "" {
		args = append(args, q.SubmitterID)
		where = append(where, fmt.Sprintf("submitter_id = $%d", len(args)))
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	countSQL := "SELECT count(*) FROM proposals WHERE " + whereSQL
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	dataSQL := fmt.Sprintf(`SELECT id, target_id, is_scheme, status, submitter_id, submitter_name, submitted_at,
			ts_headline('simple', search_text, %s, 'MaxFragments=1,MaxWords=30') AS snippet
		FROM proposals
		WHERE %s
		ORDER BY ts_rank(%s, %s) DESC, submitted_at DESC
		LIMIT %d OFFSET %d`,
		tsQuery, whereSQL, tsVector, tsQuery, normalizeLimit(q.Limit), max(q.Offset, 0))

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var status string
		if err := rows.Scan(&r.ID, &r.TargetID, &r.IsScheme, &status, &r.SubmitterID, &r.SubmitterName, &r.SubmittedAt, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Status = store.ProposalStatus(status)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllDocuments returns every proposal as an index document for a full reindex.
func (p *PgFTS) LoadAllDocuments(ctx context.Context) ([]Document, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, target_id, is_scheme, status, submitter_id, submitter_name, submitted_at, search_text
		FROM proposals
		ORDER BY submitted_at
	`)
	if err != nil {
		return nil, fmt.Errorf("load proposals: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var d Document
		var submitted sql.NullTime
		if err := rows.Scan(&d.ID, &d.TargetID, &d.IsScheme, &d.Status, &d.SubmitterID, &d.SubmitterName, &submitted, &d.Text); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		if submitted.Valid {
			d.SubmittedAt = submitted.Time.Unix()
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return docs, nil
}
