// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// QueueScores carries the similarity pair attached to a queue suggestion.
type QueueScores struct {
	ArtistSim float64
	TitleSim  float64
}

func (q QueueScores) min() float64 {
	if q.ArtistSim < q.TitleSim {
		return q.ArtistSim
	}
	return q.TitleSim
}

// UpsertQueueItem records one more unmatched play for a signature. The
// suggestion and scores refresh only when the new match beats the stored
// min(artist_sim, title_sim). At most one row per signature.
func (s *Store) UpsertQueueItem(ctx context.Context, signature, rawArtist, rawTitle string, suggestedWorkID *int64, scores QueueScores) error {
	if signature == "" {
		return fmt.Errorf("%w: empty signature", ErrValidation)
	}
	now := fmtTime(time.Now())
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var existingArtistSim, existingTitleSim float64
		err := tx.QueryRowContext(ctx,
			`SELECT best_artist_sim, best_title_sim FROM discovery_queue WHERE signature = ?`,
			signature).Scan(&existingArtistSim, &existingTitleSim)
		switch {
		case err == sql.ErrNoRows:
			var workID any
			if suggestedWorkID != nil {
				workID = *suggestedWorkID
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO discovery_queue
					(signature, raw_artist, raw_title, count, suggested_work_id, best_artist_sim, best_title_sim, first_seen, last_seen)
				VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?)`,
				signature, rawArtist, rawTitle, workID, scores.ArtistSim, scores.TitleSim, now, now)
			return err
		case err != nil:
			return err
		}

		existing := QueueScores{ArtistSim: existingArtistSim, TitleSim: existingTitleSim}
		if suggestedWorkID != nil && scores.min() > existing.min() {
			_, err = tx.ExecContext(ctx, `
				UPDATE discovery_queue SET
					count = count + 1,
					suggested_work_id = ?,
					best_artist_sim = ?,
					best_title_sim = ?,
					last_seen = ?
				WHERE signature = ?`,
				*suggestedWorkID, scores.ArtistSim, scores.TitleSim, now, signature)
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE discovery_queue SET count = count + 1, last_seen = ? WHERE signature = ?`,
			now, signature)
		return err
	})
}

// QueueItem retrieves one queue row.
func (s *Store) QueueItem(ctx context.Context, signature string) (DiscoveryQueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT signature, raw_artist, raw_title, count, suggested_work_id,
		       best_artist_sim, best_title_sim, skip_until, first_seen, last_seen
		FROM discovery_queue WHERE signature = ?`, signature)

	var q DiscoveryQueueItem
	var suggested sql.NullInt64
	var skipUntil sql.NullString
	var first, last string
	err := row.Scan(&q.Signature, &q.RawArtist, &q.RawTitle, &q.Count, &suggested,
		&q.BestArtistSim, &q.BestTitleSim, &skipUntil, &first, &last)
	if err == sql.ErrNoRows {
		return DiscoveryQueueItem{}, fmt.Errorf("%w: queue item %s", ErrNotFound, signature)
	}
	if err != nil {
		return DiscoveryQueueItem{}, err
	}
	if suggested.Valid {
		id := suggested.Int64
		q.SuggestedWorkID = &id
	}
	q.SkipUntil = parseNullTime(skipUntil)
	q.FirstSeen = parseTime(first)
	q.LastSeen = parseTime(last)
	return q, nil
}

// QueueFilter selects which queue items a listing returns.
type QueueFilter string

const (
	QueueFilterAll       QueueFilter = "all"
	QueueFilterSuggested QueueFilter = "suggested"
	QueueFilterNoMatch   QueueFilter = "no_match"
)

// ListQueue returns queue items ordered by play count, skipping items whose
// cool-down has not expired.
func (s *Store) ListQueue(ctx context.Context, filter QueueFilter, limit, offset int) ([]DiscoveryQueueItem, error) {
	where := "WHERE (skip_until IS NULL OR skip_until <= ?)"
	switch filter {
	case QueueFilterSuggested:
		where += " AND suggested_work_id IS NOT NULL"
	case QueueFilterNoMatch:
		where += " AND suggested_work_id IS NULL"
	case QueueFilterAll, "":
	default:
		return nil, fmt.Errorf("%w: unknown queue filter %q", ErrValidation, filter)
	}

	query := fmt.Sprintf(`
		SELECT signature, raw_artist, raw_title, count, suggested_work_id,
		       best_artist_sim, best_title_sim, skip_until, first_seen, last_seen
		FROM discovery_queue %s
		ORDER BY count DESC, last_seen DESC LIMIT ? OFFSET ?`, where)

	rows, err := s.db.QueryContext(ctx, query, fmtTime(time.Now()), limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []DiscoveryQueueItem
	for rows.Next() {
		var q DiscoveryQueueItem
		var suggested sql.NullInt64
		var skipUntil sql.NullString
		var first, last string
		if err := rows.Scan(&q.Signature, &q.RawArtist, &q.RawTitle, &q.Count, &suggested,
			&q.BestArtistSim, &q.BestTitleSim, &skipUntil, &first, &last); err != nil {
			return nil, err
		}
		if suggested.Valid {
			id := suggested.Int64
			q.SuggestedWorkID = &id
		}
		q.SkipUntil = parseNullTime(skipUntil)
		q.FirstSeen = parseTime(first)
		q.LastSeen = parseTime(last)
		items = append(items, q)
	}
	return items, rows.Err()
}

// SkipQueueItem marks a queue item with a cool-down; it will not resurface
// in listings until the cool-down expires.
func (s *Store) SkipQueueItem(ctx context.Context, signature string, until time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_queue SET skip_until = ? WHERE signature = ?`,
		fmtTime(until), signature)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: queue item %s", ErrNotFound, signature)
	}
	return nil
}

// SetQueueSkipUntil overwrites the cool-down marker, nil clearing it; undo
// of a skip restores the prior value this way.
func (s *Store) SetQueueSkipUntil(ctx context.Context, signature string, until *time.Time) error {
	var v any
	if until != nil {
		v = fmtTime(*until)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_queue SET skip_until = ? WHERE signature = ?`, v, signature)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: queue item %s", ErrNotFound, signature)
	}
	return nil
}

// ListPendingSignatures returns queue signatures eligible for discovery
// processing, oldest first, bounded by limit.
func (s *Store) ListPendingSignatures(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT signature FROM discovery_queue
		WHERE skip_until IS NULL OR skip_until <= ?
		ORDER BY first_seen LIMIT ?`, fmtTime(time.Now()), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sigs []string
	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}

// QueueSize counts active (non-skipped) queue items.
func (s *Store) QueueSize(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM discovery_queue
		WHERE skip_until IS NULL OR skip_until <= ?`, fmtTime(time.Now())).Scan(&n)
	return n, err
}
