// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ProposeSplit records the hypothesis that rawArtist denotes several
// artists. An existing proposal for the same string keeps its status; only
// the parts refresh while still in the proposed state.
func (s *Store) ProposeSplit(ctx context.Context, rawArtist string, parts []string) (ProposedSplit, error) {
	if rawArtist == "" || len(parts) < 2 {
		return ProposedSplit{}, fmt.Errorf("%w: split needs a raw artist and at least two parts", ErrValidation)
	}
	encoded, err := json.Marshal(parts)
	if err != nil {
		return ProposedSplit{}, err
	}
	now := fmtTime(time.Now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposed_splits (raw_artist, parts, status, created_at, updated_at)
		VALUES (?, ?, 'proposed', ?, ?)
		ON CONFLICT(raw_artist) DO UPDATE SET
			parts = excluded.parts, updated_at = excluded.updated_at
			WHERE proposed_splits.status = 'proposed'`,
		rawArtist, string(encoded), now, now)
	if err != nil {
		return ProposedSplit{}, fmt.Errorf("propose split: %w", err)
	}
	return s.SplitByRawArtist(ctx, rawArtist)
}

// SplitByRawArtist retrieves the proposal for a raw artist string.
func (s *Store) SplitByRawArtist(ctx context.Context, rawArtist string) (ProposedSplit, error) {
	return scanSplit(s.db.QueryRowContext(ctx, `
		SELECT id, raw_artist, parts, status, created_at, updated_at
		FROM proposed_splits WHERE raw_artist = ?`, rawArtist))
}

// SplitByID retrieves a proposal by id.
func (s *Store) SplitByID(ctx context.Context, id int64) (ProposedSplit, error) {
	return scanSplit(s.db.QueryRowContext(ctx, `
		SELECT id, raw_artist, parts, status, created_at, updated_at
		FROM proposed_splits WHERE id = ?`, id))
}

func scanSplit(row *sql.Row) (ProposedSplit, error) {
	var p ProposedSplit
	var parts, status, created, updated string
	err := row.Scan(&p.ID, &p.RawArtist, &parts, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ProposedSplit{}, fmt.Errorf("%w: split", ErrNotFound)
	}
	if err != nil {
		return ProposedSplit{}, err
	}
	if err := json.Unmarshal([]byte(parts), &p.Parts); err != nil {
		return ProposedSplit{}, fmt.Errorf("%w: split parts payload: %v", ErrCorrupt, err)
	}
	p.Status = SplitStatus(status)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return p, nil
}

// ResolveSplit moves a proposal to a terminal state. Edited proposals carry
// the operator's corrected part list.
func (s *Store) ResolveSplit(ctx context.Context, id int64, status SplitStatus, editedParts []string) error {
	switch status {
	case SplitConfirmed, SplitRejected:
	case SplitEdited:
		if len(editedParts) < 2 {
			return fmt.Errorf("%w: edited split needs at least two parts", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: invalid split status %q", ErrValidation, status)
	}

	now := fmtTime(time.Now())
	var res sql.Result
	var err error
	if status == SplitEdited {
		encoded, jerr := json.Marshal(editedParts)
		if jerr != nil {
			return jerr
		}
		res, err = s.db.ExecContext(ctx,
			`UPDATE proposed_splits SET status = ?, parts = ?, updated_at = ? WHERE id = ?`,
			string(status), string(encoded), now, id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE proposed_splits SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), now, id)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: split %d", ErrNotFound, id)
	}
	return nil
}

// ListSplits returns proposals in a given state, newest first.
func (s *Store) ListSplits(ctx context.Context, status SplitStatus, limit, offset int) ([]ProposedSplit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, raw_artist, parts, status, created_at, updated_at
		FROM proposed_splits WHERE status = ?
		ORDER BY updated_at DESC LIMIT ? OFFSET ?`,
		string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var splits []ProposedSplit
	for rows.Next() {
		var p ProposedSplit
		var parts, st, created, updated string
		if err := rows.Scan(&p.ID, &p.RawArtist, &parts, &st, &created, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(parts), &p.Parts); err != nil {
			return nil, fmt.Errorf("%w: split parts payload: %v", ErrCorrupt, err)
		}
		p.Status = SplitStatus(st)
		p.CreatedAt = parseTime(created)
		p.UpdatedAt = parseTime(updated)
		splits = append(splits, p)
	}
	return splits, rows.Err()
}
