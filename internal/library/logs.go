// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertBroadcastLog appends one play-event. The signature is computed by
// the caller (after alias resolution) and stored alongside the raw strings.
func (s *Store) InsertBroadcastLog(ctx context.Context, stationID string, playedAt time.Time, rawArtist, rawTitle, signature string) (int64, error) {
	if signature == "" {
		return 0, fmt.Errorf("%w: empty signature", ErrValidation)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO broadcast_logs (station_id, played_at, raw_artist, raw_title, signature)
		VALUES (?, ?, ?, ?, ?)`,
		stationID, fmtTime(playedAt), rawArtist, rawTitle, signature)
	if err != nil {
		return 0, fmt.Errorf("insert log: %w", err)
	}
	return res.LastInsertId()
}

// SetLogWork transitions a log's work reference NULL → workID exactly once.
// A repeated write that agrees is a no-op; one that disagrees is rejected.
func (s *Store) SetLogWork(ctx context.Context, logID, workID int64, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE broadcast_logs SET work_id = ?, match_reason = ?
		WHERE id = ? AND (work_id IS NULL OR work_id = ?)`,
		workID, reason, logID, workID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var existing sql.NullInt64
		err := s.db.QueryRowContext(ctx, `SELECT work_id FROM broadcast_logs WHERE id = ?`, logID).Scan(&existing)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: log %d", ErrNotFound, logID)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: log %d already linked to work %d", ErrConflict, logID, existing.Int64)
	}
	return nil
}

// LogByID retrieves one broadcast log.
func (s *Store) LogByID(ctx context.Context, id int64) (BroadcastLog, error) {
	var l BroadcastLog
	var played string
	var workID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, station_id, played_at, raw_artist, raw_title, signature, work_id, match_reason
		FROM broadcast_logs WHERE id = ?`, id).
		Scan(&l.ID, &l.StationID, &played, &l.RawArtist, &l.RawTitle, &l.Signature, &workID, &l.MatchReason)
	if err == sql.ErrNoRows {
		return BroadcastLog{}, fmt.Errorf("%w: log %d", ErrNotFound, id)
	}
	if err != nil {
		return BroadcastLog{}, err
	}
	l.PlayedAt = parseTime(played)
	if workID.Valid {
		w := workID.Int64
		l.WorkID = &w
	}
	return l, nil
}

// LogsBySignature returns all logs sharing a signature.
func (s *Store) LogsBySignature(ctx context.Context, signature string) ([]BroadcastLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, station_id, played_at, raw_artist, raw_title, signature, work_id, match_reason
		FROM broadcast_logs WHERE signature = ? ORDER BY id`, signature)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanLogs(rows)
}

// UnmatchedLogsPage pages through unmatched logs by ascending id; afterID
// of zero starts at the beginning. Discovery jobs walk this.
func (s *Store) UnmatchedLogsPage(ctx context.Context, afterID int64, limit int) ([]BroadcastLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, station_id, played_at, raw_artist, raw_title, signature, work_id, match_reason
		FROM broadcast_logs WHERE work_id IS NULL AND id > ?
		ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanLogs(rows)
}

// UnmatchedSample draws a random sample of unmatched logs; used for
// threshold impact estimation.
func (s *Store) UnmatchedSample(ctx context.Context, limit int) ([]BroadcastLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, station_id, played_at, raw_artist, raw_title, signature, work_id, match_reason
		FROM broadcast_logs WHERE work_id IS NULL ORDER BY RANDOM() LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanLogs(rows)
}

// LogArtistFilter selects which logs feed the artist-linking queue.
type LogArtistFilter string

const (
	LogFilterAll       LogArtistFilter = "all"
	LogFilterMatched   LogArtistFilter = "matched"
	LogFilterUnmatched LogArtistFilter = "unmatched"
)

// RawArtistCount aggregates distinct raw artist strings with play counts.
type RawArtistCount struct {
	RawArtist string
	Count     int
	Matched   int
}

// ListRawArtists aggregates broadcast logs by raw artist string for the
// artist-linking queue. The filter restricts which logs are counted.
func (s *Store) ListRawArtists(ctx context.Context, filter LogArtistFilter, limit, offset int) ([]RawArtistCount, error) {
	where := ""
	switch filter {
	case LogFilterMatched:
		where = "WHERE work_id IS NOT NULL"
	case LogFilterUnmatched:
		where = "WHERE work_id IS NULL"
	case LogFilterAll, "":
	default:
		return nil, fmt.Errorf("%w: unknown filter %q", ErrValidation, filter)
	}
	query := fmt.Sprintf(`
		SELECT raw_artist, COUNT(*), SUM(CASE WHEN work_id IS NOT NULL THEN 1 ELSE 0 END)
		FROM broadcast_logs %s
		GROUP BY raw_artist ORDER BY COUNT(*) DESC LIMIT ? OFFSET ?`, where)
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []RawArtistCount
	for rows.Next() {
		var c RawArtistCount
		if err := rows.Scan(&c.RawArtist, &c.Count, &c.Matched); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LogsByRawArtist returns log ids with the given raw artist string; rematch
// jobs after an alias change start here.
func (s *Store) LogsByRawArtist(ctx context.Context, rawArtist string) ([]BroadcastLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, station_id, played_at, raw_artist, raw_title, signature, work_id, match_reason
		FROM broadcast_logs WHERE raw_artist = ? ORDER BY id`, rawArtist)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanLogs(rows)
}

func scanLogs(rows *sql.Rows) ([]BroadcastLog, error) {
	var logs []BroadcastLog
	for rows.Next() {
		var l BroadcastLog
		var played string
		var workID sql.NullInt64
		if err := rows.Scan(&l.ID, &l.StationID, &played, &l.RawArtist, &l.RawTitle, &l.Signature, &workID, &l.MatchReason); err != nil {
			return nil, err
		}
		l.PlayedAt = parseTime(played)
		if workID.Valid {
			id := workID.Int64
			l.WorkID = &id
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
