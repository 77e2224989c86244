// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"strings"
)

// inClause builds "<prefix> (?, ?, …)" with one placeholder per value.
func inClause[T any](prefix string, values []T) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return prefix + " (" + placeholders + ")", args
}

// RecordingCandidate is the denormalized row the matcher scores: a
// recording joined up to its work and primary artist.
type RecordingCandidate struct {
	RecordingID int64
	WorkID      int64
	WorkTitle   string
	VersionType string
	IsVerified  bool
	ArtistID    int64
	ArtistName  string
}

const candidateColumns = `
	SELECT r.id, w.id, w.title, r.version_type, r.is_verified, a.id, a.name
	FROM recordings r
	JOIN works w ON w.id = r.work_id
	JOIN artists a ON a.id = w.artist_id`

// ExactCandidates resolves normalized (artist, title) pairs in one query.
// The result maps "artist|title" keys to the preferred candidate:
// version_type Original first, then verified, then lowest recording id.
func (s *Store) ExactCandidates(ctx context.Context, keys []string) (map[string]RecordingCandidate, error) {
	out := make(map[string]RecordingCandidate, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	query, args := inClause(candidateColumns+`
	WHERE (a.name || '|' || w.title) IN`, keys)
	query += `
	ORDER BY (r.version_type = 'Original') DESC, r.is_verified DESC, r.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		c, err := scanCandidate(rows.Scan)
		if err != nil {
			return nil, err
		}
		key := c.ArtistName + "|" + c.WorkTitle
		if _, taken := out[key]; !taken {
			out[key] = c
		}
	}
	return out, rows.Err()
}

// CandidatesByArtistIDs returns every recording whose work's primary artist
// is in the id set; the matcher scores these for variant matching.
func (s *Store) CandidatesByArtistIDs(ctx context.Context, artistIDs []int64) ([]RecordingCandidate, error) {
	if len(artistIDs) == 0 {
		return nil, nil
	}
	query, args := inClause(candidateColumns+`
	WHERE a.id IN`, artistIDs)
	query += ` ORDER BY r.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []RecordingCandidate
	for rows.Next() {
		c, err := scanCandidate(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CandidatesByRecordingIDs hydrates vector search hits.
func (s *Store) CandidatesByRecordingIDs(ctx context.Context, recordingIDs []int64) (map[int64]RecordingCandidate, error) {
	out := make(map[int64]RecordingCandidate, len(recordingIDs))
	if len(recordingIDs) == 0 {
		return out, nil
	}
	query, args := inClause(candidateColumns+`
	WHERE r.id IN`, recordingIDs)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		c, err := scanCandidate(rows.Scan)
		if err != nil {
			return nil, err
		}
		out[c.RecordingID] = c
	}
	return out, rows.Err()
}

func scanCandidate(scan func(...any) error) (RecordingCandidate, error) {
	var c RecordingCandidate
	var verified int
	err := scan(&c.RecordingID, &c.WorkID, &c.WorkTitle, &c.VersionType, &verified, &c.ArtistID, &c.ArtistName)
	if err != nil {
		return RecordingCandidate{}, err
	}
	c.IsVerified = verified != 0
	return c, nil
}

// RecordingText is the vector index seed for one recording.
type RecordingText struct {
	RecordingID int64
	ArtistName  string
	Title       string
}

// Text is the indexed form: "<primary_artist> - <title>".
func (r RecordingText) Text() string {
	return r.ArtistName + " - " + r.Title
}

// ListRecordingTexts streams every recording's indexable text; the vector
// index rebuilds and reconciles from this.
func (s *Store) ListRecordingTexts(ctx context.Context) ([]RecordingText, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, a.name, w.title
		FROM recordings r
		JOIN works w ON w.id = r.work_id
		JOIN artists a ON a.id = w.artist_id
		ORDER BY r.id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []RecordingText
	for rows.Next() {
		var t RecordingText
		if err := rows.Scan(&t.RecordingID, &t.ArtistName, &t.Title); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Stats summarizes the knowledge base for health reporting.
type Stats struct {
	Artists       int `json:"artists"`
	Works         int `json:"works"`
	Recordings    int `json:"recordings"`
	Files         int `json:"files"`
	Logs          int `json:"logs"`
	UnmatchedLogs int `json:"unmatched_logs"`
	QueueItems    int `json:"queue_items"`
	Bridges       int `json:"bridges"`
}

// CollectStats counts the main tables.
func (s *Store) CollectStats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM artists`, &st.Artists},
		{`SELECT COUNT(*) FROM works`, &st.Works},
		{`SELECT COUNT(*) FROM recordings`, &st.Recordings},
		{`SELECT COUNT(*) FROM library_files`, &st.Files},
		{`SELECT COUNT(*) FROM broadcast_logs`, &st.Logs},
		{`SELECT COUNT(*) FROM broadcast_logs WHERE work_id IS NULL`, &st.UnmatchedLogs},
		{`SELECT COUNT(*) FROM discovery_queue`, &st.QueueItems},
		{`SELECT COUNT(*) FROM identity_bridge WHERE is_revoked = 0`, &st.Bridges},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return Stats{}, err
		}
	}
	return st, nil
}
