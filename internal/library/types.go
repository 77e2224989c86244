// SPDX-License-Identifier: MIT

package library

import (
	"strings"
	"time"
)

// DefaultVersionType is the version tag assigned when no marker is present.
const DefaultVersionType = "Original"

// Artist is the top level of the Artist → Work → Recording → File hierarchy.
// Name is the normalized form and unique; DisplayName preserves the raw
// spelling first seen.
type Artist struct {
	ID          int64
	Name        string
	DisplayName string
	ExternalID  string
	CreatedAt   time.Time
}

// Work is an abstract composition, the identity layer of the model.
// (Title, ArtistID) is the exact-match key.
type Work struct {
	ID             int64
	Title          string
	ArtistID       int64
	IsInstrumental bool
}

// WorkArtist associates additional artists with a Work. Position preserves
// the split order of the raw collaboration string.
type WorkArtist struct {
	WorkID   int64
	ArtistID int64
	Position int
}

// Recording is a specific performed version of a Work. Within a Work,
// (Title, VersionType) is unique. VersionType is a " / "-joined tag set.
type Recording struct {
	ID              int64
	WorkID          int64
	Title           string
	VersionType     string
	DurationSeconds int
	ExternalID      string
	IsVerified      bool
}

// VersionTags splits the VersionType into its individual tags.
func (r Recording) VersionTags() []string {
	if r.VersionType == "" {
		return nil
	}
	return strings.Split(r.VersionType, " / ")
}

// LibraryFile ties a Recording to a concrete audio file on disk. Path is
// unique; ContentHash enables move detection.
type LibraryFile struct {
	ID          int64
	RecordingID int64
	Path        string
	ContentHash string
	SizeBytes   int64
	ModTime     time.Time
}

// BroadcastLog is one play-event from a station log. Immutable except for
// WorkID/MatchReason, which transition NULL → set exactly once.
type BroadcastLog struct {
	ID          int64
	StationID   string
	PlayedAt    time.Time
	RawArtist   string
	RawTitle    string
	Signature   string
	WorkID      *int64
	MatchReason string
}

// DiscoveryQueueItem aggregates unmatched plays by signature. At most one
// row exists per signature.
type DiscoveryQueueItem struct {
	Signature       string
	RawArtist       string
	RawTitle        string
	Count           int
	SuggestedWorkID *int64
	BestArtistSim   float64
	BestTitleSim    float64
	SkipUntil       *time.Time
	FirstSeen       time.Time
	LastSeen        time.Time
}

// Skipped reports whether the item is inside an operator-set cool-down.
func (q DiscoveryQueueItem) Skipped(now time.Time) bool {
	return q.SkipUntil != nil && now.Before(*q.SkipUntil)
}

// IdentityBridge is a verified signature → work mapping. Unique on
// Signature; revocation flips IsRevoked without deleting the row.
type IdentityBridge struct {
	Signature       string
	ReferenceArtist string
	ReferenceTitle  string
	WorkID          int64
	Confidence      float64
	IsRevoked       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ArtistAlias canonicalizes a raw artist spelling before signature
// generation.
type ArtistAlias struct {
	RawName      string
	ResolvedName string
	IsVerified   bool
}

// SplitStatus is the lifecycle state of a ProposedSplit.
type SplitStatus string

const (
	SplitProposed  SplitStatus = "proposed"
	SplitConfirmed SplitStatus = "confirmed"
	SplitRejected  SplitStatus = "rejected"
	SplitEdited    SplitStatus = "edited"
)

// ProposedSplit is a heuristic hypothesis that a raw artist string denotes
// several distinct artists.
type ProposedSplit struct {
	ID        int64
	RawArtist string
	Parts     []string
	Status    SplitStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StationPreference pins a Recording for a Work on one station. Lower
// Priority wins.
type StationPreference struct {
	StationID   string
	WorkID      int64
	RecordingID int64
	Priority    int
}

// FormatPreference pins a Recording per broadcast format; Recordings whose
// version tags intersect ExcludeTags are skipped during resolution.
type FormatPreference struct {
	FormatCode  string
	WorkID      int64
	RecordingID int64
	ExcludeTags []string
}

// WorkDefaultRecording is the station-independent fallback choice.
type WorkDefaultRecording struct {
	WorkID      int64
	RecordingID int64
}
