package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"filedesk/api/internal/rbac"
	"filedesk/api/internal/record"
)

// uniqueViolation is the SQLSTATE raised by the one-pending-proposal index.
const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) GetRecord(ctx context.Context, kind record.Kind, id string) (record.Record, error) {
	var (
		data      []byte
		rec       record.Record
		updatedBy sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT data, version, updated_by, updated_at
		FROM records
		WHERE kind=$1 AND id=$2
	`, string(kind), id).Scan(&data, &rec.Version, &updatedBy, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, fmt.Errorf("record %s/%s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("get record: %w", err)
	}
	version, updatedAt := rec.Version, rec.UpdatedAt
	if err := json.Unmarshal(data, &rec); err != nil {
		return record.Record{}, fmt.Errorf("decode record %s/%s: %w", kind, id, err)
	}
	rec.Kind = kind
	rec.ID = id
	rec.Version = version
	rec.UpdatedAt = updatedAt
	rec.UpdatedBy = updatedBy.String
	return rec, nil
}

// PutRecord inserts a record when rec.Version is 0, otherwise replaces the
// stored record only if its version still equals rec.Version.
func (s *PostgresStore) PutRecord(ctx context.Context, rec record.Record) (record.Record, error) {
	return putRecord(ctx, s.db, rec)
}

func putRecord(ctx context.Context, q queryer, rec record.Record) (record.Record, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return record.Record{}, fmt.Errorf("encode record: %w", err)
	}

	stored := rec.Clone()
	if rec.Version == 0 {
		err = q.QueryRowContext(ctx, `
			INSERT INTO records (kind, id, file_number, applicant, data, version, updated_by)
			VALUES ($1, $2, $3, $4, $5::jsonb, 1, NULLIF($6, ''))
			ON CONFLICT (kind, id) DO NOTHING
			RETURNING version, updated_at
		`, string(rec.Kind), rec.ID, rec.FileNumber, rec.Applicant, data, rec.UpdatedBy).Scan(&stored.Version, &stored.UpdatedAt)
	} else {
		err = q.QueryRowContext(ctx, `
			UPDATE records
			SET file_number=$3, applicant=$4, data=$5::jsonb, version=version+1, updated_by=NULLIF($6, ''), updated_at=NOW()
			WHERE kind=$1 AND id=$2 AND version=$7
			RETURNING version, updated_at
		`, string(rec.Kind), rec.ID, rec.FileNumber, rec.Applicant, data, rec.UpdatedBy, rec.Version).Scan(&stored.Version, &stored.UpdatedAt)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, fmt.Errorf("record %s/%s at version %d: %w", rec.Kind, rec.ID, rec.Version, ErrVersionConflict)
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("put record: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) CreateProposal(ctx context.Context, proposal Proposal, event Event) (Event, error) {
	changed, err := json.Marshal(proposal.ChangedSites)
	if err != nil {
		return Event{}, fmt.Errorf("encode changed sites: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, fmt.Errorf("begin create proposal: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO proposals (id, target_id, is_scheme, changed_sites, submitter_id, submitter_name, submitter_role, submitted_at, status, search_text)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10)
	`, proposal.ID, proposal.TargetID, proposal.IsScheme, changed, proposal.SubmitterID, proposal.SubmitterName, string(proposal.SubmitterRole), proposal.SubmittedAt, string(proposal.Status), proposal.SearchText()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Event{}, ErrOutstandingProposal
		}
		return Event{}, fmt.Errorf("create proposal: %w", err)
	}
	stored, err := insertEvent(ctx, tx, event)
	if err != nil {
		return Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return Event{}, fmt.Errorf("commit create proposal: %w", err)
	}
	return stored, nil
}

const proposalColumns = `id, target_id, is_scheme, changed_sites, submitter_id, submitter_name, submitter_role, submitted_at, status, COALESCE(reviewer_id, ''), reviewed_at, COALESCE(notes, ''), COALESCE(conflicts, '[]'::jsonb)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (Proposal, error) {
	var (
		item       Proposal
		changed    []byte
		conflicts  []byte
		status     string
		role       string
		reviewedAt sql.NullTime
	)
	if err := row.Scan(
		&item.ID,
		&item.TargetID,
		&item.IsScheme,
		&changed,
		&item.SubmitterID,
		&item.SubmitterName,
		&role,
		&item.SubmittedAt,
		&status,
		&item.ReviewerID,
		&reviewedAt,
		&item.Notes,
		&conflicts,
	); err != nil {
		return Proposal{}, err
	}
	item.Status = ProposalStatus(status)
	item.SubmitterRole = rbac.Role(role)
	if reviewedAt.Valid {
		t := reviewedAt.Time
		item.ReviewedAt = &t
	}
	if err := json.Unmarshal(changed, &item.ChangedSites); err != nil {
		return Proposal{}, fmt.Errorf("decode changed sites: %w", err)
	}
	if err := json.Unmarshal(conflicts, &item.Conflicts); err != nil {
		return Proposal{}, fmt.Errorf("decode conflicts: %w", err)
	}
	if len(item.Conflicts) == 0 {
		item.Conflicts = nil
	}
	return item, nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	item, err := scanProposal(s.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=$1`, proposalID))
	if errors.Is(err, sql.ErrNoRows) {
		return Proposal{}, fmt.Errorf("proposal %s: %w", proposalID, ErrNotFound)
	}
	if err != nil {
		return Proposal{}, fmt.Errorf("get proposal: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) FindPendingProposal(ctx context.Context, target Target, submitterID string) (*Proposal, error) {
	item, err := scanProposal(s.db.QueryRowContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE target_id=$1 AND is_scheme=$2 AND submitter_id=$3 AND status='pending'
	`, target.ID, target.IsScheme, submitterID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find pending proposal: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) ListProposals(ctx context.Context, filter ProposalFilter) ([]Proposal, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("status=$%d", string(filter.Status))
	}
	if filter.TargetID != "" {
		add("target_id=$%d", filter.TargetID)
	}
	if filter.IsScheme != nil {
		add("is_scheme=$%d", *filter.IsScheme)
	}
	if filter.SubmitterID != "" {
		add("submitter_id=$%d", filter.SubmitterID)
	}

	query := `SELECT ` + proposalColumns + ` FROM proposals`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY submitted_at DESC, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	items := make([]Proposal, 0)
	for rows.Next() {
		item, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteProposal(ctx context.Context, proposalID string, event Event) (Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, fmt.Errorf("begin delete proposal: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM proposals WHERE id=$1`, proposalID)
	if err != nil {
		return Event{}, fmt.Errorf("delete proposal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Event{}, fmt.Errorf("delete proposal rows: %w", err)
	}
	if affected == 0 {
		return Event{}, fmt.Errorf("proposal %s: %w", proposalID, ErrNotFound)
	}
	stored, err := insertEvent(ctx, tx, event)
	if err != nil {
		return Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return Event{}, fmt.Errorf("commit delete proposal: %w", err)
	}
	return stored, nil
}

// CloseProposal flips the proposal out of pending and, when closure.Record is
// set, writes the record guarded by its version, all in one transaction.
func (s *PostgresStore) CloseProposal(ctx context.Context, closure Closure) (Event, error) {
	conflicts, err := json.Marshal(closure.Conflicts)
	if err != nil {
		return Event{}, fmt.Errorf("encode conflicts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, fmt.Errorf("begin close proposal: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE proposals
		SET status=$2, reviewer_id=NULLIF($3, ''), reviewed_at=$4, notes=NULLIF($5, ''), conflicts=$6::jsonb
		WHERE id=$1 AND status='pending'
	`, closure.ProposalID, string(closure.Status), closure.ReviewerID, closure.ReviewedAt, closure.Notes, conflicts)
	if err != nil {
		return Event{}, fmt.Errorf("close proposal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Event{}, fmt.Errorf("close proposal rows: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM proposals WHERE id=$1)`, closure.ProposalID).Scan(&exists); err != nil {
			return Event{}, fmt.Errorf("check proposal: %w", err)
		}
		if !exists {
			return Event{}, fmt.Errorf("proposal %s: %w", closure.ProposalID, ErrNotFound)
		}
		return Event{}, ErrProposalNotPending
	}

	if closure.Record != nil {
		if _, err := putRecord(ctx, tx, *closure.Record); err != nil {
			return Event{}, err
		}
	}
	stored, err := insertEvent(ctx, tx, closure.Event)
	if err != nil {
		return Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return Event{}, fmt.Errorf("commit close proposal: %w", err)
	}
	return stored, nil
}

// insertEvent appends event and returns it with the ID and timestamp the
// database assigned.
func insertEvent(ctx context.Context, q queryer, event Event) (Event, error) {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode event payload: %w", err)
	}
	if err := q.QueryRowContext(ctx, `
		INSERT INTO proposal_events (proposal_id, target_id, is_scheme, event_type, actor_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		RETURNING id, created_at
	`, event.ProposalID, event.TargetID, event.IsScheme, string(event.Type), event.ActorID, data).Scan(&event.ID, &event.CreatedAt); err != nil {
		return Event{}, fmt.Errorf("insert proposal event: %w", err)
	}
	return event, nil
}

const eventColumns = `id, proposal_id, target_id, is_scheme, event_type, actor_id, payload, created_at`

func (s *PostgresStore) ListEvents(ctx context.Context, proposalID string) ([]Event, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM proposal_events WHERE proposal_id=$1 ORDER BY id ASC`, proposalID)
}

func (s *PostgresStore) ListEventsAfter(ctx context.Context, afterID int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM proposal_events WHERE id > $1 ORDER BY id ASC LIMIT $2`, afterID, limit)
}

func (s *PostgresStore) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposal events: %w", err)
	}
	defer rows.Close()

	items := make([]Event, 0)
	for rows.Next() {
		var (
			item      Event
			eventType string
			payload   []byte
		)
		if err := rows.Scan(&item.ID, &item.ProposalID, &item.TargetID, &item.IsScheme, &eventType, &item.ActorID, &payload, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan proposal event: %w", err)
		}
		item.Type = EventType(eventType)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &item.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload: %w", err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposal events: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GrantDelegation(ctx context.Context, d Delegation) error {
	grantedAt := d.GrantedAt
	if grantedAt.IsZero() {
		grantedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff_delegations (staff_id, target_id, is_scheme, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (staff_id, target_id, is_scheme) DO UPDATE SET granted_at=EXCLUDED.granted_at, revoked_at=NULL
	`, d.StaffID, d.TargetID, d.IsScheme, grantedAt)
	if err != nil {
		return fmt.Errorf("grant delegation: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeDelegation(ctx context.Context, staffID string, target Target) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE staff_delegations SET revoked_at=NOW()
		WHERE staff_id=$1 AND target_id=$2 AND is_scheme=$3 AND revoked_at IS NULL
	`, staffID, target.ID, target.IsScheme)
	if err != nil {
		return fmt.Errorf("revoke delegation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke delegation rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("delegation %s -> %s: %w", staffID, target.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) HasActiveDelegation(ctx context.Context, staffID string, target Target) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM staff_delegations
			WHERE staff_id=$1 AND target_id=$2 AND is_scheme=$3 AND revoked_at IS NULL
		)
	`, staffID, target.ID, target.IsScheme).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check delegation: %w", err)
	}
	return active, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
