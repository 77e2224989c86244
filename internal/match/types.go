// SPDX-License-Identifier: MIT

// Package match resolves raw (artist, title) queries against the knowledge
// base with four strategies in order: identity bridge, exact lookup,
// variant (fuzzy) scoring, and vector fallback. Matching is pure over a
// snapshot: the same queries against the same data yield the same output.
package match

import (
	"context"

	"github.com/airwavehq/airwave/internal/config"
	"github.com/airwavehq/airwave/internal/library"
	"github.com/airwavehq/airwave/internal/vector"
)

// Category is the three-range decision outcome for one query.
type Category string

const (
	CategoryAutoLink Category = "auto_link"
	CategoryReview   Category = "review"
	CategoryReject   Category = "reject"
	// CategoryNoMatch marks a query that failed internally; the error is
	// carried in Reason instead of being raised.
	CategoryNoMatch Category = "no_match"
)

// Match reasons, persisted on broadcast logs.
const (
	ReasonBridge      = "identity_bridge"
	ReasonExact       = "exact_match"
	ReasonVariant     = "variant_match"
	ReasonVector      = "vector_candidate"
	ReasonNoCandidate = "no_candidate"
)

// Quality flags surfaced for operators; they never change decisions.
const (
	FlagTruncationRisk = "truncation_risk"
	FlagLengthMismatch = "length_mismatch"
	FlagExtraText      = "extra_text"
	FlagCaseOnly       = "case_only"
	FlagNearAuto       = "near_auto"
	FlagNearReview     = "near_review"
)

// Query is one raw play-event to resolve.
type Query struct {
	LogID     int64
	RawArtist string
	RawTitle  string
}

// Scores carries the similarity pair and, for vector hits, the cosine
// distance.
type Scores struct {
	ArtistSim      float64  `json:"artist_sim"`
	TitleSim       float64  `json:"title_sim"`
	VectorDistance *float64 `json:"vector_distance,omitempty"`
}

// Match is the resolution of one query.
type Match struct {
	Query       Query
	Signature   string
	WorkID      *int64
	RecordingID *int64
	Category    Category
	Reason      string
	Scores      Scores
	Flags       []string
}

// Options snapshots the tunables for one batch.
type Options struct {
	Thresholds config.Thresholds
	VectorTopK int
}

// KB is the slice of the library store the matcher reads.
type KB interface {
	ResolveAliases(ctx context.Context, raws []string) (map[string]string, error)
	BridgesBySignatures(ctx context.Context, signatures []string) (map[string]library.IdentityBridge, error)
	ExactCandidates(ctx context.Context, keys []string) (map[string]library.RecordingCandidate, error)
	ListArtists(ctx context.Context) ([]library.Artist, error)
	CandidatesByArtistIDs(ctx context.Context, artistIDs []int64) ([]library.RecordingCandidate, error)
	CandidatesByRecordingIDs(ctx context.Context, recordingIDs []int64) (map[int64]library.RecordingCandidate, error)
}

// Searcher is the vector index capability the matcher uses.
type Searcher interface {
	SearchBatch(ctx context.Context, queries []string, topK int) ([][]vector.Hit, error)
}
