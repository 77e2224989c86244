// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// SetStationPreference pins a recording for a work on one station.
func (s *Store) SetStationPreference(ctx context.Context, p StationPreference) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO station_preferences (station_id, work_id, recording_id, priority)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(station_id, work_id, recording_id) DO UPDATE SET priority = excluded.priority`,
		p.StationID, p.WorkID, p.RecordingID, p.Priority)
	return err
}

// DeleteStationPreference removes one station pin.
func (s *Store) DeleteStationPreference(ctx context.Context, stationID string, workID, recordingID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM station_preferences WHERE station_id = ? AND work_id = ? AND recording_id = ?`,
		stationID, workID, recordingID)
	return err
}

// StationPreferences lists a station's pins for a work, best priority
// first.
func (s *Store) StationPreferences(ctx context.Context, stationID string, workID int64) ([]StationPreference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT station_id, work_id, recording_id, priority
		FROM station_preferences WHERE station_id = ? AND work_id = ?
		ORDER BY priority, recording_id`, stationID, workID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var prefs []StationPreference
	for rows.Next() {
		var p StationPreference
		if err := rows.Scan(&p.StationID, &p.WorkID, &p.RecordingID, &p.Priority); err != nil {
			return nil, err
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// SetFormatPreference pins a recording per broadcast format. ExcludeTags
// persist comma-joined.
func (s *Store) SetFormatPreference(ctx context.Context, p FormatPreference) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO format_preferences (format_code, work_id, recording_id, exclude_tags)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(format_code, work_id) DO UPDATE SET
			recording_id = excluded.recording_id,
			exclude_tags = excluded.exclude_tags`,
		p.FormatCode, p.WorkID, p.RecordingID, strings.Join(p.ExcludeTags, ","))
	return err
}

// FormatPreferenceFor returns the format pin for a work, if any.
func (s *Store) FormatPreferenceFor(ctx context.Context, formatCode string, workID int64) (FormatPreference, bool, error) {
	var p FormatPreference
	var tags string
	err := s.db.QueryRowContext(ctx, `
		SELECT format_code, work_id, recording_id, exclude_tags
		FROM format_preferences WHERE format_code = ? AND work_id = ?`,
		formatCode, workID).Scan(&p.FormatCode, &p.WorkID, &p.RecordingID, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return FormatPreference{}, false, nil
	}
	if err != nil {
		return FormatPreference{}, false, err
	}
	if tags != "" {
		p.ExcludeTags = strings.Split(tags, ",")
	}
	return p, true, nil
}

// SetWorkDefaultRecording sets the station-independent fallback recording.
func (s *Store) SetWorkDefaultRecording(ctx context.Context, workID, recordingID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_default_recordings (work_id, recording_id) VALUES (?, ?)
		ON CONFLICT(work_id) DO UPDATE SET recording_id = excluded.recording_id`,
		workID, recordingID)
	return err
}

// WorkDefaultRecordingFor returns the fallback recording for a work, if
// set.
func (s *Store) WorkDefaultRecordingFor(ctx context.Context, workID int64) (int64, bool, error) {
	var recordingID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT recording_id FROM work_default_recordings WHERE work_id = ?`, workID).Scan(&recordingID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return recordingID, true, nil
}
