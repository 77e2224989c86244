// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertRecording finds or creates a recording under a work. Uniqueness is
// (work_id, title, version_type); duration and external id update in place
// when newly known.
func (s *Store) UpsertRecording(ctx context.Context, workID int64, title, versionType string, durationSeconds int, externalID string) (Recording, error) {
	if title == "" {
		return Recording{}, fmt.Errorf("%w: empty recording title", ErrValidation)
	}
	if versionType == "" {
		versionType = DefaultVersionType
	}

	if r, err := s.recordingByKey(ctx, workID, title, versionType); err == nil {
		changed := false
		if durationSeconds > 0 && r.DurationSeconds == 0 {
			r.DurationSeconds = durationSeconds
			changed = true
		}
		if externalID != "" && r.ExternalID == "" {
			r.ExternalID = externalID
			changed = true
		}
		if changed {
			_, err = s.db.ExecContext(ctx,
				`UPDATE recordings SET duration_seconds = ?, external_id = ? WHERE id = ?`,
				r.DurationSeconds, r.ExternalID, r.ID)
			if err != nil {
				return Recording{}, fmt.Errorf("update recording: %w", err)
			}
		}
		return r, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Recording{}, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings (work_id, title, version_type, duration_seconds, external_id) VALUES (?, ?, ?, ?, ?)`,
		workID, title, versionType, durationSeconds, externalID)
	if err != nil {
		if isUniqueViolation(err) {
			return s.recordingByKey(ctx, workID, title, versionType)
		}
		return Recording{}, fmt.Errorf("insert recording: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Recording{}, err
	}
	return Recording{
		ID:              id,
		WorkID:          workID,
		Title:           title,
		VersionType:     versionType,
		DurationSeconds: durationSeconds,
		ExternalID:      externalID,
	}, nil
}

func (s *Store) recordingByKey(ctx context.Context, workID int64, title, versionType string) (Recording, error) {
	return scanRecording(s.db.QueryRowContext(ctx, `
		SELECT id, work_id, title, version_type, duration_seconds, external_id, is_verified
		FROM recordings WHERE work_id = ? AND title = ? AND version_type = ?`,
		workID, title, versionType))
}

// RecordingByID retrieves a recording by id.
func (s *Store) RecordingByID(ctx context.Context, id int64) (Recording, error) {
	return scanRecording(s.db.QueryRowContext(ctx, `
		SELECT id, work_id, title, version_type, duration_seconds, external_id, is_verified
		FROM recordings WHERE id = ?`, id))
}

func scanRecording(row *sql.Row) (Recording, error) {
	var r Recording
	var verified int
	err := row.Scan(&r.ID, &r.WorkID, &r.Title, &r.VersionType, &r.DurationSeconds, &r.ExternalID, &verified)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, fmt.Errorf("%w: recording", ErrNotFound)
	}
	if err != nil {
		return Recording{}, err
	}
	r.IsVerified = verified != 0
	return r, nil
}

// RecordingsByWork returns all recordings of a work.
func (s *Store) RecordingsByWork(ctx context.Context, workID int64) ([]Recording, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_id, title, version_type, duration_seconds, external_id, is_verified
		FROM recordings WHERE work_id = ? ORDER BY id`, workID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectRecordings(rows)
}

func collectRecordings(rows *sql.Rows) ([]Recording, error) {
	var recs []Recording
	for rows.Next() {
		var r Recording
		var verified int
		if err := rows.Scan(&r.ID, &r.WorkID, &r.Title, &r.VersionType, &r.DurationSeconds, &r.ExternalID, &verified); err != nil {
			return nil, err
		}
		r.IsVerified = verified != 0
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// SetRecordingVerified flips the verification flag on a recording.
func (s *Store) SetRecordingVerified(ctx context.Context, id int64, verified bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET is_verified = ? WHERE id = ?`, boolInt(verified), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: recording %d", ErrNotFound, id)
	}
	return nil
}

// UpsertFile inserts or updates the file row for a path. Unchanged paths
// refresh hash/size/mtime in place.
func (s *Store) UpsertFile(ctx context.Context, recordingID int64, path, contentHash string, sizeBytes int64, modTime time.Time) (LibraryFile, error) {
	if path == "" {
		return LibraryFile{}, fmt.Errorf("%w: empty file path", ErrValidation)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO library_files (recording_id, path, content_hash, size_bytes, mod_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			recording_id = excluded.recording_id,
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			mod_time = excluded.mod_time`,
		recordingID, path, contentHash, sizeBytes, fmtTime(modTime))
	if err != nil {
		return LibraryFile{}, fmt.Errorf("upsert file: %w", err)
	}
	return s.FileByPath(ctx, path)
}

// FileByPath retrieves a file row by its unique path.
func (s *Store) FileByPath(ctx context.Context, path string) (LibraryFile, error) {
	return scanFile(s.db.QueryRowContext(ctx, `
		SELECT id, recording_id, path, content_hash, size_bytes, mod_time
		FROM library_files WHERE path = ?`, path))
}

// FileByHash retrieves one file row with the given content hash; used for
// move detection.
func (s *Store) FileByHash(ctx context.Context, contentHash string) (LibraryFile, error) {
	return scanFile(s.db.QueryRowContext(ctx, `
		SELECT id, recording_id, path, content_hash, size_bytes, mod_time
		FROM library_files WHERE content_hash = ? LIMIT 1`, contentHash))
}

func scanFile(row *sql.Row) (LibraryFile, error) {
	var f LibraryFile
	var mod string
	err := row.Scan(&f.ID, &f.RecordingID, &f.Path, &f.ContentHash, &f.SizeBytes, &mod)
	if errors.Is(err, sql.ErrNoRows) {
		return LibraryFile{}, fmt.Errorf("%w: file", ErrNotFound)
	}
	if err != nil {
		return LibraryFile{}, err
	}
	f.ModTime = parseTime(mod)
	return f, nil
}

// MoveFile repoints an existing file row at a new path, preserving its
// recording link. Used when a scan finds the same content hash at a new
// location while the old path has vanished.
func (s *Store) MoveFile(ctx context.Context, id int64, newPath string, sizeBytes int64, modTime time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE library_files SET path = ?, size_bytes = ?, mod_time = ? WHERE id = ?`,
		newPath, sizeBytes, fmtTime(modTime), id)
	if err != nil {
		return fmt.Errorf("move file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: file %d", ErrNotFound, id)
	}
	return nil
}

// AllFiles streams every file row; the scanner uses this for orphan
// detection at the end of a walk.
func (s *Store) AllFiles(ctx context.Context) ([]LibraryFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recording_id, path, content_hash, size_bytes, mod_time
		FROM library_files ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var files []LibraryFile
	for rows.Next() {
		var f LibraryFile
		var mod string
		if err := rows.Scan(&f.ID, &f.RecordingID, &f.Path, &f.ContentHash, &f.SizeBytes, &mod); err != nil {
			return nil, err
		}
		f.ModTime = parseTime(mod)
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFile removes a file row. Recordings left without files are
// retained as metadata-only.
func (s *Store) DeleteFile(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM library_files WHERE id = ?`, id)
	return err
}

// FilesByRecording returns the file rows of a recording.
func (s *Store) FilesByRecording(ctx context.Context, recordingID int64) ([]LibraryFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recording_id, path, content_hash, size_bytes, mod_time
		FROM library_files WHERE recording_id = ? ORDER BY path`, recordingID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var files []LibraryFile
	for rows.Next() {
		var f LibraryFile
		var mod string
		if err := rows.Scan(&f.ID, &f.RecordingID, &f.Path, &f.ContentHash, &f.SizeBytes, &mod); err != nil {
			return nil, err
		}
		f.ModTime = parseTime(mod)
		files = append(files, f)
	}
	return files, rows.Err()
}
