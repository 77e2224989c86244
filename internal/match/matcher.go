// SPDX-License-Identifier: MIT

package match

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/airwavehq/airwave/internal/log"
	"github.com/airwavehq/airwave/internal/normalize"
)

// Matcher resolves query batches against the knowledge base and the vector
// index.
type Matcher struct {
	kb     KB
	index  Searcher
	logger zerolog.Logger
}

// New builds a matcher over a knowledge base and a vector index.
func New(kb KB, index Searcher) *Matcher {
	return &Matcher{kb: kb, index: index, logger: log.WithComponent("match")}
}

// query carries the per-query derived state threaded through the strategy
// pipeline.
type query struct {
	pos       int
	raw       Query
	artist    string // normalized, alias-resolved
	title     string // normalized, version markers stripped
	signature string
	resolved  bool
}

type scoredCandidate struct {
	candidate candidateRef
	scores    Scores
}

type candidateRef struct {
	RecordingID int64
	WorkID      int64
	WorkTitle   string
	ArtistName  string
	IsVerified  bool
}

// MatchBatch resolves all queries with the strategy chain
// bridge → exact → variant → vector. Strategies run batched: each stage
// issues one round of I/O for the whole batch. Per-query failures degrade
// to no_match; the batch never fails on one bad query.
func (m *Matcher) MatchBatch(ctx context.Context, queries []Query, opts Options) ([]Match, error) {
	ctx, span := otel.Tracer("airwave/match").Start(ctx, "match.batch",
		trace.WithAttributes(attribute.Int("match.batch_size", len(queries))))
	defer span.End()

	matches := make([]Match, len(queries))
	state := make([]*query, len(queries))

	// Normalize and alias-resolve the whole batch up front.
	rawArtists := make([]string, 0, len(queries))
	seen := map[string]struct{}{}
	for _, q := range queries {
		if _, dup := seen[q.RawArtist]; !dup {
			seen[q.RawArtist] = struct{}{}
			rawArtists = append(rawArtists, q.RawArtist)
		}
	}
	aliases, err := m.kb.ResolveAliases(ctx, rawArtists)
	if err != nil {
		return nil, err
	}
	for i, q := range queries {
		rawArtist := q.RawArtist
		if resolved, ok := aliases[rawArtist]; ok {
			rawArtist = resolved
		}
		title, _ := normalize.CleanTitle(q.RawTitle)
		cleanStripped, _ := normalize.ExtractVersion(title, "")
		state[i] = &query{
			pos:       i,
			raw:       q,
			artist:    normalize.CleanArtist(rawArtist),
			title:     cleanStripped,
			signature: normalize.Signature(rawArtist, q.RawTitle),
		}
		matches[i] = Match{
			Query:     q,
			Signature: state[i].signature,
			Category:  CategoryReject,
			Reason:    ReasonNoCandidate,
		}
	}

	if err := m.bridgeStage(ctx, state, matches); err != nil {
		return nil, err
	}
	if err := m.exactStage(ctx, state, matches, opts); err != nil {
		return nil, err
	}
	if err := m.variantStage(ctx, state, matches, opts); err != nil {
		return nil, err
	}
	if err := m.vectorStage(ctx, state, matches, opts); err != nil {
		return nil, err
	}

	return matches, nil
}

// bridgeStage resolves queries whose signature carries a verified,
// non-revoked bridge.
func (m *Matcher) bridgeStage(ctx context.Context, state []*query, matches []Match) error {
	sigs := make([]string, 0, len(state))
	for _, q := range state {
		sigs = append(sigs, q.signature)
	}
	bridges, err := m.kb.BridgesBySignatures(ctx, sigs)
	if err != nil {
		return err
	}
	for _, q := range state {
		b, ok := bridges[q.signature]
		if !ok {
			continue
		}
		workID := b.WorkID
		q.resolved = true
		matches[q.pos] = Match{
			Query:     q.raw,
			Signature: q.signature,
			WorkID:    &workID,
			Category:  CategoryAutoLink,
			Reason:    ReasonBridge,
			Scores:    Scores{ArtistSim: 1.0, TitleSim: 1.0},
		}
	}
	return nil
}

// exactStage resolves queries whose normalized pair hits a recording
// directly.
func (m *Matcher) exactStage(ctx context.Context, state []*query, matches []Match, opts Options) error {
	var keys []string
	seen := map[string]struct{}{}
	for _, q := range state {
		if q.resolved {
			continue
		}
		key := q.artist + "|" + q.title
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	hits, err := m.kb.ExactCandidates(ctx, keys)
	if err != nil {
		return err
	}
	for _, q := range state {
		if q.resolved {
			continue
		}
		c, ok := hits[q.artist+"|"+q.title]
		if !ok {
			continue
		}
		workID, recID := c.WorkID, c.RecordingID
		scores := Scores{ArtistSim: 1.0, TitleSim: 1.0}
		q.resolved = true
		matches[q.pos] = Match{
			Query:       q.raw,
			Signature:   q.signature,
			WorkID:      &workID,
			RecordingID: &recID,
			Category:    CategoryAutoLink,
			Reason:      ReasonExact,
			Scores:      scores,
			Flags:       qualityFlags(q.raw.RawTitle, c.WorkTitle, scores, opts.Thresholds),
		}
	}
	return nil
}

// variantStage scores recordings of exact and fuzzy artist matches with the
// three-range decision. Artist candidate lookup is deduplicated across the
// batch.
func (m *Matcher) variantStage(ctx context.Context, state []*query, matches []Match, opts Options) error {
	pending := unresolvedQueries(state)
	if len(pending) == 0 {
		return nil
	}

	artists, err := m.kb.ListArtists(ctx)
	if err != nil {
		return err
	}

	// Artist candidates per distinct query artist: exact name match plus
	// names within the review threshold.
	type artistHit struct {
		id   int64
		name string
		sim  float64
	}
	candidatesFor := map[string][]artistHit{}
	idSet := map[int64]struct{}{}
	for _, q := range pending {
		if _, done := candidatesFor[q.artist]; done {
			continue
		}
		var hits []artistHit
		for _, a := range artists {
			sim := normalize.Ratio(q.artist, a.Name)
			if a.Name == q.artist {
				sim = 1.0
			}
			if sim >= opts.Thresholds.ArtistReview {
				hits = append(hits, artistHit{id: a.ID, name: a.Name, sim: sim})
				idSet[a.ID] = struct{}{}
			}
		}
		candidatesFor[q.artist] = hits
	}

	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	recs, err := m.kb.CandidatesByArtistIDs(ctx, ids)
	if err != nil {
		return err
	}
	recsByArtist := map[int64][]candidateRef{}
	for _, r := range recs {
		recsByArtist[r.ArtistID] = append(recsByArtist[r.ArtistID], candidateRef{
			RecordingID: r.RecordingID,
			WorkID:      r.WorkID,
			WorkTitle:   r.WorkTitle,
			ArtistName:  r.ArtistName,
			IsVerified:  r.IsVerified,
		})
	}

	for _, q := range pending {
		var best *scoredCandidate
		var bestCategory Category
		for _, ah := range candidatesFor[q.artist] {
			for _, cand := range recsByArtist[ah.id] {
				scores := Scores{
					ArtistSim: ah.sim,
					TitleSim:  normalize.Ratio(q.title, cand.WorkTitle),
				}
				category := Decide(scores.ArtistSim, scores.TitleSim, opts.Thresholds)
				if category == CategoryReject {
					continue
				}
				sc := scoredCandidate{candidate: cand, scores: scores}
				switch {
				case best == nil:
					best, bestCategory = &sc, category
				case category == CategoryAutoLink && bestCategory != CategoryAutoLink:
					best, bestCategory = &sc, category
				case category == bestCategory && better(sc, *best):
					best = &sc
				}
			}
		}
		if best == nil {
			continue
		}
		workID, recID := best.candidate.WorkID, best.candidate.RecordingID
		q.resolved = true
		matches[q.pos] = Match{
			Query:       q.raw,
			Signature:   q.signature,
			WorkID:      &workID,
			RecordingID: &recID,
			Category:    bestCategory,
			Reason:      ReasonVariant,
			Scores:      best.scores,
			Flags:       qualityFlags(q.raw.RawTitle, best.candidate.WorkTitle, best.scores, opts.Thresholds),
		}
	}
	return nil
}

// vectorStage is the last resort: semantic neighbours guarded by the title
// review threshold. Vector hits never auto-link.
func (m *Matcher) vectorStage(ctx context.Context, state []*query, matches []Match, opts Options) error {
	pending := unresolvedQueries(state)
	if len(pending) == 0 || m.index == nil {
		return nil
	}
	topK := opts.VectorTopK
	if topK <= 0 {
		topK = 5
	}

	texts := make([]string, len(pending))
	for i, q := range pending {
		texts[i] = q.artist + " - " + q.title
	}
	results, err := m.index.SearchBatch(ctx, texts, topK)
	if err != nil {
		// Vector unavailability degrades the stage, not the batch.
		m.logger.Warn().Str("event", "match.vector.unavailable").Err(err).Msg("vector stage skipped")
		return nil
	}

	idSet := map[int64]struct{}{}
	for _, hits := range results {
		for _, h := range hits {
			idSet[h.RecordingID] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	refs, err := m.kb.CandidatesByRecordingIDs(ctx, ids)
	if err != nil {
		return err
	}

	for i, q := range pending {
		for _, h := range results[i] {
			ref, ok := refs[h.RecordingID]
			if !ok {
				continue
			}
			titleSim := normalize.Ratio(q.title, ref.WorkTitle)
			if titleSim < opts.Thresholds.TitleReview {
				continue
			}
			distance := h.Distance
			scores := Scores{
				ArtistSim:      normalize.Ratio(q.artist, ref.ArtistName),
				TitleSim:       titleSim,
				VectorDistance: &distance,
			}
			workID, recID := ref.WorkID, ref.RecordingID
			q.resolved = true
			matches[q.pos] = Match{
				Query:       q.raw,
				Signature:   q.signature,
				WorkID:      &workID,
				RecordingID: &recID,
				Category:    CategoryReview,
				Reason:      ReasonVector,
				Scores:      scores,
				Flags:       qualityFlags(q.raw.RawTitle, ref.WorkTitle, scores, opts.Thresholds),
			}
			break
		}
	}
	return nil
}

func unresolvedQueries(state []*query) []*query {
	var out []*query
	for _, q := range state {
		if !q.resolved {
			out = append(out, q)
		}
	}
	return out
}
