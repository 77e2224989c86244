// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/airwavehq/airwave/internal/normalize"
)

// FuzzyOpts bounds the fuzzy work-grouping pass of UpsertWork. Callers fill
// these from the current configuration snapshot.
type FuzzyOpts struct {
	// Threshold is the minimum similarity ratio to group two titles.
	Threshold float64
	// MaxWorks disables fuzzy grouping for artists above this work count.
	MaxWorks int
}

// earlyExitRatio short-circuits the fuzzy scan; a near-identical title wins
// immediately provided the part check still passes.
const earlyExitRatio = 0.95

// UpsertWork finds or creates the work for a normalized title under a
// primary artist. Lookup order: exact match on (title, artist), fuzzy
// grouping over the artist's works, insert. Titles whose part tokens differ
// are never grouped; they are distinct works.
func (s *Store) UpsertWork(ctx context.Context, title string, artistID int64, opts FuzzyOpts) (Work, error) {
	if title == "" {
		return Work{}, fmt.Errorf("%w: empty work title", ErrValidation)
	}

	if w, err := s.workByKey(ctx, title, artistID); err == nil {
		if !normalize.PartsDiffer(title, w.Title) {
			return w, nil
		}
		// Same key but diverging part tokens cannot happen for an exact
		// key match; kept as a guard against future key changes.
	} else if !errors.Is(err, ErrNotFound) {
		return Work{}, err
	}

	if w, ok, err := s.fuzzyWorkMatch(ctx, title, artistID, opts); err != nil {
		return Work{}, err
	} else if ok {
		return w, nil
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO works (title, artist_id) VALUES (?, ?)`, title, artistID)
	if err != nil {
		if isUniqueViolation(err) {
			return s.workByKey(ctx, title, artistID)
		}
		return Work{}, fmt.Errorf("insert work: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Work{}, err
	}
	s.log.Debug().Str("event", "library.work.created").Int64("work_id", id).Int64("artist_id", artistID).Str("title", title).Msg("work created")
	return Work{ID: id, Title: title, ArtistID: artistID}, nil
}

// fuzzyWorkMatch scans the artist's works for the best title within the
// similarity threshold. Skipped entirely for artists with more works than
// opts.MaxWorks.
func (s *Store) fuzzyWorkMatch(ctx context.Context, title string, artistID int64, opts FuzzyOpts) (Work, bool, error) {
	if opts.Threshold <= 0 {
		return Work{}, false, nil
	}
	count, err := s.CountWorksByArtist(ctx, artistID)
	if err != nil {
		return Work{}, false, err
	}
	if opts.MaxWorks > 0 && count > opts.MaxWorks {
		return Work{}, false, nil
	}

	works, err := s.WorksByArtist(ctx, artistID)
	if err != nil {
		return Work{}, false, err
	}

	var best Work
	bestRatio := 0.0
	for _, w := range works {
		if normalize.PartsDiffer(title, w.Title) {
			continue
		}
		r := normalize.Ratio(title, w.Title)
		if r > earlyExitRatio {
			return w, true, nil
		}
		if r > bestRatio {
			bestRatio, best = r, w
		}
	}
	if bestRatio >= opts.Threshold {
		return best, true, nil
	}
	return Work{}, false, nil
}

func (s *Store) workByKey(ctx context.Context, title string, artistID int64) (Work, error) {
	return scanWork(s.db.QueryRowContext(ctx,
		`SELECT id, title, artist_id, is_instrumental FROM works WHERE title = ? AND artist_id = ?`,
		title, artistID))
}

// WorkByID retrieves a work by id.
func (s *Store) WorkByID(ctx context.Context, id int64) (Work, error) {
	return scanWork(s.db.QueryRowContext(ctx,
		`SELECT id, title, artist_id, is_instrumental FROM works WHERE id = ?`, id))
}

func scanWork(row *sql.Row) (Work, error) {
	var w Work
	var instrumental int
	err := row.Scan(&w.ID, &w.Title, &w.ArtistID, &instrumental)
	if errors.Is(err, sql.ErrNoRows) {
		return Work{}, fmt.Errorf("%w: work", ErrNotFound)
	}
	if err != nil {
		return Work{}, err
	}
	w.IsInstrumental = instrumental != 0
	return w, nil
}

// WorksByArtist returns all works whose primary artist is artistID.
func (s *Store) WorksByArtist(ctx context.Context, artistID int64) ([]Work, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, artist_id, is_instrumental FROM works WHERE artist_id = ? ORDER BY id`, artistID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var works []Work
	for rows.Next() {
		var w Work
		var instrumental int
		if err := rows.Scan(&w.ID, &w.Title, &w.ArtistID, &instrumental); err != nil {
			return nil, err
		}
		w.IsInstrumental = instrumental != 0
		works = append(works, w)
	}
	return works, rows.Err()
}

// CountWorksByArtist counts the artist's works.
func (s *Store) CountWorksByArtist(ctx context.Context, artistID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM works WHERE artist_id = ?`, artistID).Scan(&n)
	return n, err
}

// LinkMultiArtists associates the secondary artists of a raw collaboration
// string with a work. The first split entry is the primary artist and is
// skipped; association order follows split order.
func (s *Store) LinkMultiArtists(ctx context.Context, workID int64, rawArtist string) error {
	names := normalize.SplitArtists(rawArtist)
	if len(names) <= 1 {
		return nil
	}
	for pos, name := range names[1:] {
		artist, err := s.UpsertArtist(ctx, name, "")
		if err != nil {
			return fmt.Errorf("upsert secondary artist %q: %w", name, err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO work_artists (work_id, artist_id, position) VALUES (?, ?, ?)
			ON CONFLICT(work_id, artist_id) DO NOTHING`,
			workID, artist.ID, pos+1)
		if err != nil {
			return fmt.Errorf("associate artist: %w", err)
		}
	}
	return nil
}

// AssociateArtist records one work/artist association at the given position.
// Existing associations are left untouched.
func (s *Store) AssociateArtist(ctx context.Context, workID, artistID int64, position int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_artists (work_id, artist_id, position) VALUES (?, ?, ?)
		ON CONFLICT(work_id, artist_id) DO NOTHING`,
		workID, artistID, position)
	if err != nil {
		return fmt.Errorf("associate artist: %w", err)
	}
	return nil
}

// WorkArtists returns the secondary artist associations of a work in
// canonical order.
func (s *Store) WorkArtists(ctx context.Context, workID int64) ([]WorkArtist, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT work_id, artist_id, position FROM work_artists WHERE work_id = ? ORDER BY position`, workID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var assocs []WorkArtist
	for rows.Next() {
		var wa WorkArtist
		if err := rows.Scan(&wa.WorkID, &wa.ArtistID, &wa.Position); err != nil {
			return nil, err
		}
		assocs = append(assocs, wa)
	}
	return assocs, rows.Err()
}

// MergeWorks retargets recordings, broadcast logs, bridges, queue
// suggestions, and preference rows from source to target, then deletes the
// source work. One transaction; weak references are never left dangling.
func (s *Store) MergeWorks(ctx context.Context, sourceID, targetID int64) error {
	if sourceID == targetID {
		return fmt.Errorf("%w: cannot merge work into itself", ErrValidation)
	}
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM works WHERE id IN (?, ?)`, sourceID, targetID).Scan(&exists); err != nil {
			return err
		}
		if exists != 2 {
			return fmt.Errorf("%w: work %d or %d", ErrNotFound, sourceID, targetID)
		}

		if err := mergeRecordings(ctx, tx, sourceID, targetID); err != nil {
			return err
		}
		for _, q := range []string{
			`UPDATE broadcast_logs SET work_id = ? WHERE work_id = ?`,
			`UPDATE identity_bridge SET work_id = ? WHERE work_id = ?`,
			`UPDATE discovery_queue SET suggested_work_id = ? WHERE suggested_work_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, targetID, sourceID); err != nil {
				return fmt.Errorf("retarget: %w", err)
			}
		}
		// Preference rows for the source work are dropped rather than
		// retargeted: their recording choices referred to the source's
		// catalogue and need re-picking.
		for _, q := range []string{
			`DELETE FROM station_preferences WHERE work_id = ?`,
			`DELETE FROM format_preferences WHERE work_id = ?`,
			`DELETE FROM work_default_recordings WHERE work_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, sourceID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM work_artists WHERE work_id = ?`, sourceID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM works WHERE id = ?`, sourceID); err != nil {
			return fmt.Errorf("delete source work: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("event", "library.work.merged").Int64("source_id", sourceID).Int64("target_id", targetID).Msg("works merged")
	return nil
}

// mergeRecordings moves the source work's recordings under the target.
// A recording colliding with a target recording on (title, version_type)
// donates its files to the target's recording and is deleted.
func mergeRecordings(ctx context.Context, tx *sql.Tx, sourceID, targetID int64) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, title, version_type FROM recordings WHERE work_id = ?`, sourceID)
	if err != nil {
		return err
	}
	type rec struct {
		id                 int64
		title, versionType string
	}
	var recs []rec
	for rows.Next() {
		var r rec
		if err := rows.Scan(&r.id, &r.title, &r.versionType); err != nil {
			_ = rows.Close()
			return err
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, r := range recs {
		var targetRec int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM recordings WHERE work_id = ? AND title = ? AND version_type = ?`,
			targetID, r.title, r.versionType).Scan(&targetRec)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `UPDATE recordings SET work_id = ? WHERE id = ?`, targetID, r.id); err != nil {
				return fmt.Errorf("move recording: %w", err)
			}
		case err != nil:
			return err
		default:
			if _, err := tx.ExecContext(ctx, `UPDATE library_files SET recording_id = ? WHERE recording_id = ?`, targetRec, r.id); err != nil {
				return fmt.Errorf("move files: %w", err)
			}
			for _, q := range []string{
				`UPDATE station_preferences SET recording_id = ? WHERE recording_id = ?`,
				`UPDATE format_preferences SET recording_id = ? WHERE recording_id = ?`,
				`UPDATE work_default_recordings SET recording_id = ? WHERE recording_id = ?`,
			} {
				if _, err := tx.ExecContext(ctx, q, targetRec, r.id); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, r.id); err != nil {
				return err
			}
		}
	}
	return nil
}
