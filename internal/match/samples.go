// SPDX-License-Identifier: MIT

package match

import (
	"context"
	"fmt"

	"github.com/airwavehq/airwave/internal/library"
)

// LogSampler draws random unmatched logs; satisfied by the library store.
type LogSampler interface {
	UnmatchedSample(ctx context.Context, limit int) ([]library.BroadcastLog, error)
}

// MaxImpactSample bounds the sample drawn for impact estimation. At 1000
// the per-category counts are accurate to about ±3%.
const MaxImpactSample = 5000

// Sample is one stratified example for threshold tuning.
type Sample struct {
	Match    Match  `json:"match"`
	Stratum  string `json:"stratum"`
}

// Samples draws unmatched logs, matches them under the given options, and
// returns examples stratified across auto_link, review, reject, and
// identity_bridge outcomes — at most limit in total.
func (m *Matcher) Samples(ctx context.Context, sampler LogSampler, limit int, opts Options) ([]Sample, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: sample limit must be positive", library.ErrValidation)
	}
	logs, err := sampler.UnmatchedSample(ctx, limit*4)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, nil
	}

	queries := make([]Query, len(logs))
	for i, l := range logs {
		queries[i] = Query{LogID: l.ID, RawArtist: l.RawArtist, RawTitle: l.RawTitle}
	}
	matches, err := m.MatchBatch(ctx, queries, opts)
	if err != nil {
		return nil, err
	}

	perStratum := limit / 4
	if perStratum == 0 {
		perStratum = 1
	}
	buckets := map[string][]Match{}
	for _, match := range matches {
		buckets[stratumOf(match)] = append(buckets[stratumOf(match)], match)
	}

	var out []Sample
	for _, stratum := range []string{string(CategoryAutoLink), string(CategoryReview), string(CategoryReject), ReasonBridge} {
		for _, match := range buckets[stratum] {
			if len(out) >= limit {
				return out, nil
			}
			out = append(out, Sample{Match: match, Stratum: stratum})
			if n := countStratum(out, stratum); n >= perStratum {
				break
			}
		}
	}
	return out, nil
}

func stratumOf(m Match) string {
	if m.Reason == ReasonBridge {
		return ReasonBridge
	}
	return string(m.Category)
}

func countStratum(samples []Sample, stratum string) int {
	n := 0
	for _, s := range samples {
		if s.Stratum == stratum {
			n++
		}
	}
	return n
}

// Impact is the projected per-category distribution of a threshold set over
// a random sample of unmatched logs.
type Impact struct {
	SampleSize int `json:"sample_size"`
	AutoLink   int `json:"auto_link"`
	Review     int `json:"review"`
	Reject     int `json:"reject"`
	Bridge     int `json:"identity_bridge"`
	NoMatch    int `json:"no_match"`
}

// EstimateImpact runs the matcher over a random unmatched sample and counts
// outcomes. sampleSize is clamped to MaxImpactSample.
func (m *Matcher) EstimateImpact(ctx context.Context, sampler LogSampler, sampleSize int, opts Options) (Impact, error) {
	if sampleSize <= 0 {
		sampleSize = 1000
	}
	if sampleSize > MaxImpactSample {
		sampleSize = MaxImpactSample
	}
	logs, err := sampler.UnmatchedSample(ctx, sampleSize)
	if err != nil {
		return Impact{}, err
	}
	queries := make([]Query, len(logs))
	for i, l := range logs {
		queries[i] = Query{LogID: l.ID, RawArtist: l.RawArtist, RawTitle: l.RawTitle}
	}
	matches, err := m.MatchBatch(ctx, queries, opts)
	if err != nil {
		return Impact{}, err
	}

	impact := Impact{SampleSize: len(matches)}
	for _, match := range matches {
		switch {
		case match.Reason == ReasonBridge:
			impact.Bridge++
		case match.Category == CategoryAutoLink:
			impact.AutoLink++
		case match.Category == CategoryReview:
			impact.Review++
		case match.Category == CategoryNoMatch:
			impact.NoMatch++
		default:
			impact.Reject++
		}
	}
	return impact, nil
}
