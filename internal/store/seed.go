package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"filedesk/api/internal/record"
)

// Seed is the JSON document `filedesk serve --seed` loads at startup.
type Seed struct {
	Records     []record.Record `json:"records"`
	Delegations []struct {
		StaffID  string `json:"staffId"`
		TargetID string `json:"targetId"`
		IsScheme bool   `json:"isScheme"`
	} `json:"delegations"`
}

type SeedWriter interface {
	GetRecord(ctx context.Context, kind record.Kind, id string) (record.Record, error)
	PutRecord(ctx context.Context, rec record.Record) (record.Record, error)
	GrantDelegation(ctx context.Context, d Delegation) error
}

// LoadSeed inserts the records that do not exist yet and grants every
// delegation. Existing records are left untouched.
func LoadSeed(ctx context.Context, w SeedWriter, r io.Reader) (int, error) {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return 0, fmt.Errorf("decode seed: %w", err)
	}

	inserted := 0
	for _, rec := range seed.Records {
		if !rec.Kind.Valid() || rec.ID == "" {
			return inserted, fmt.Errorf("seed record %q: kind and id are required", rec.ID)
		}
		if name, ok := duplicateSite(rec); ok {
			return inserted, fmt.Errorf("seed record %s: duplicate site %q", rec.ID, name)
		}
		if _, err := w.GetRecord(ctx, rec.Kind, rec.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return inserted, fmt.Errorf("check seed record %s: %w", rec.ID, err)
		}
		rec.Version = 0
		rec.Recompute()
		if rec.UpdatedBy == "" {
			rec.UpdatedBy = "seed"
		}
		if _, err := w.PutRecord(ctx, rec); err != nil {
			return inserted, fmt.Errorf("put seed record %s: %w", rec.ID, err)
		}
		inserted++
	}
	for _, d := range seed.Delegations {
		if err := w.GrantDelegation(ctx, Delegation{StaffID: d.StaffID, TargetID: d.TargetID, IsScheme: d.IsScheme}); err != nil {
			return inserted, fmt.Errorf("grant seed delegation %s/%s: %w", d.StaffID, d.TargetID, err)
		}
	}
	return inserted, nil
}

// duplicateSite returns the first site name that appears twice in rec.
// Site changes address sites by name, so names must be unique per record.
func duplicateSite(rec record.Record) (string, bool) {
	seen := make(map[string]struct{}, len(rec.Sites))
	for _, site := range rec.Sites {
		if _, ok := seen[site.Name]; ok {
			return site.Name, true
		}
		seen[site.Name] = struct{}{}
	}
	return "", false
}
