// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertArtist looks up an artist by normalized name and creates it when
// absent. Insert races resolve by re-selecting on unique-key conflict.
func (s *Store) UpsertArtist(ctx context.Context, name, displayName string) (Artist, error) {
	if name == "" {
		return Artist{}, fmt.Errorf("%w: empty artist name", ErrValidation)
	}
	if a, err := s.ArtistByName(ctx, name); err == nil {
		return a, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Artist{}, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO artists (name, display_name, created_at) VALUES (?, ?, ?)`,
		name, displayName, fmtTime(time.Now()))
	if err != nil {
		if isUniqueViolation(err) {
			return s.ArtistByName(ctx, name)
		}
		return Artist{}, fmt.Errorf("insert artist: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Artist{}, err
	}
	s.log.Debug().Str("event", "library.artist.created").Int64("artist_id", id).Str("name", name).Msg("artist created")
	return Artist{ID: id, Name: name, DisplayName: displayName}, nil
}

// ArtistByName retrieves an artist by its normalized name.
func (s *Store) ArtistByName(ctx context.Context, name string) (Artist, error) {
	return scanArtist(s.db.QueryRowContext(ctx,
		`SELECT id, name, display_name, external_id, created_at FROM artists WHERE name = ?`, name))
}

// ArtistByID retrieves an artist by id.
func (s *Store) ArtistByID(ctx context.Context, id int64) (Artist, error) {
	return scanArtist(s.db.QueryRowContext(ctx,
		`SELECT id, name, display_name, external_id, created_at FROM artists WHERE id = ?`, id))
}

func scanArtist(row *sql.Row) (Artist, error) {
	var a Artist
	var created string
	err := row.Scan(&a.ID, &a.Name, &a.DisplayName, &a.ExternalID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Artist{}, fmt.Errorf("%w: artist", ErrNotFound)
	}
	if err != nil {
		return Artist{}, err
	}
	a.CreatedAt = parseTime(created)
	return a, nil
}

// ListArtists returns all artists ordered by name. The matcher loads this
// once per batch for fuzzy artist candidates.
func (s *Store) ListArtists(ctx context.Context) ([]Artist, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, display_name, external_id, created_at FROM artists ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var artists []Artist
	for rows.Next() {
		var a Artist
		var created string
		if err := rows.Scan(&a.ID, &a.Name, &a.DisplayName, &a.ExternalID, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(created)
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

// MergeArtists retargets every reference from source to target and deletes
// the source artist, all in one transaction. Duplicate work_artists rows
// collapse onto the target.
func (s *Store) MergeArtists(ctx context.Context, sourceID, targetID int64) error {
	if sourceID == targetID {
		return fmt.Errorf("%w: cannot merge artist into itself", ErrValidation)
	}
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM artists WHERE id IN (?, ?)`, sourceID, targetID).Scan(&exists); err != nil {
			return err
		}
		if exists != 2 {
			return fmt.Errorf("%w: artist %d or %d", ErrNotFound, sourceID, targetID)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE works SET artist_id = ? WHERE artist_id = ?`, targetID, sourceID); err != nil {
			return fmt.Errorf("retarget works: %w", err)
		}
		// Drop associations that would collide with an existing target row,
		// then retarget the rest.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM work_artists WHERE artist_id = ?
			AND work_id IN (SELECT work_id FROM work_artists WHERE artist_id = ?)`, sourceID, targetID); err != nil {
			return fmt.Errorf("drop duplicate associations: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE work_artists SET artist_id = ? WHERE artist_id = ?`, targetID, sourceID); err != nil {
			return fmt.Errorf("retarget associations: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM artists WHERE id = ?`, sourceID); err != nil {
			return fmt.Errorf("delete source artist: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("event", "library.artist.merged").Int64("source_id", sourceID).Int64("target_id", targetID).Msg("artists merged")
	return nil
}

// UpsertAlias inserts or replaces an artist alias.
func (s *Store) UpsertAlias(ctx context.Context, raw, resolved string, verified bool) error {
	if raw == "" || resolved == "" {
		return fmt.Errorf("%w: alias requires raw and resolved names", ErrValidation)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artist_aliases (raw_name, resolved_name, is_verified) VALUES (?, ?, ?)
		ON CONFLICT(raw_name) DO UPDATE SET resolved_name = excluded.resolved_name, is_verified = excluded.is_verified`,
		raw, resolved, boolInt(verified))
	return err
}

// ResolveAlias maps a raw artist name through the alias table; the input is
// returned unchanged when no alias exists.
func (s *Store) ResolveAlias(ctx context.Context, raw string) (string, error) {
	var resolved string
	err := s.db.QueryRowContext(ctx,
		`SELECT resolved_name FROM artist_aliases WHERE raw_name = ?`, raw).Scan(&resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return raw, nil
	}
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// ResolveAliases maps a set of raw names in one query. Names without an
// alias are absent from the result.
func (s *Store) ResolveAliases(ctx context.Context, raws []string) (map[string]string, error) {
	out := make(map[string]string, len(raws))
	if len(raws) == 0 {
		return out, nil
	}
	query, args := inClause(`SELECT raw_name, resolved_name FROM artist_aliases WHERE raw_name IN`, raws)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var raw, resolved string
		if err := rows.Scan(&raw, &resolved); err != nil {
			return nil, err
		}
		out[raw] = resolved
	}
	return out, rows.Err()
}

// AliasByRaw fetches the alias row for a raw name, reporting presence
// explicitly; callers capturing prior state for undo need the distinction
// ResolveAlias hides.
func (s *Store) AliasByRaw(ctx context.Context, raw string) (ArtistAlias, bool, error) {
	var a ArtistAlias
	var verified int
	err := s.db.QueryRowContext(ctx,
		`SELECT raw_name, resolved_name, is_verified FROM artist_aliases WHERE raw_name = ?`, raw).
		Scan(&a.RawName, &a.ResolvedName, &verified)
	if errors.Is(err, sql.ErrNoRows) {
		return ArtistAlias{}, false, nil
	}
	if err != nil {
		return ArtistAlias{}, false, err
	}
	a.IsVerified = verified != 0
	return a, true, nil
}

// DeleteAlias removes an alias row; absent rows are a no-op.
func (s *Store) DeleteAlias(ctx context.Context, raw string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM artist_aliases WHERE raw_name = ?`, raw)
	return err
}

// ListAliases returns all aliases ordered by raw name.
func (s *Store) ListAliases(ctx context.Context) ([]ArtistAlias, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT raw_name, resolved_name, is_verified FROM artist_aliases ORDER BY raw_name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var aliases []ArtistAlias
	for rows.Next() {
		var a ArtistAlias
		var verified int
		if err := rows.Scan(&a.RawName, &a.ResolvedName, &verified); err != nil {
			return nil, err
		}
		a.IsVerified = verified != 0
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
