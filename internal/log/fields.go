// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldTaskID    = "task_id"
	FieldSignature = "signature"
	FieldStationID = "station_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Library fields
	FieldArtistID    = "artist_id"
	FieldWorkID      = "work_id"
	FieldRecordingID = "recording_id"
	FieldPath        = "path"

	// Matching fields
	FieldCategory  = "category"
	FieldReason    = "reason"
	FieldArtistSim = "artist_sim"
	FieldTitleSim  = "title_sim"
	FieldDistance  = "distance"

	// Counters
	FieldCount     = "count"
	FieldProcessed = "processed"
	FieldTotal     = "total"
)
