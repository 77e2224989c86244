// SPDX-License-Identifier: MIT

// Package discovery feeds the verification queue: unmatched broadcast logs
// are matched in batches, auto-link results are applied, and everything
// else is aggregated per signature with the best suggestion seen so far.
// Initial discovery and post-alias rematch run the exact same batch path.
package discovery

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave/internal/library"
	"github.com/airwavehq/airwave/internal/log"
	"github.com/airwavehq/airwave/internal/match"
	"github.com/airwavehq/airwave/internal/metrics"
	"github.com/airwavehq/airwave/internal/normalize"
)

// Engine drives batched matching over unmatched logs.
type Engine struct {
	store   *library.Store
	matcher *match.Matcher
	logger  zerolog.Logger
}

// New builds a discovery engine.
func New(store *library.Store, matcher *match.Matcher) *Engine {
	return &Engine{store: store, matcher: matcher, logger: log.WithComponent("discovery")}
}

// BatchStats summarizes one processed batch.
type BatchStats struct {
	Processed  int `json:"processed"`
	AutoLinked int `json:"auto_linked"`
	Queued     int `json:"queued"`
	Errors     int `json:"errors"`
}

func (s *BatchStats) add(o BatchStats) {
	s.Processed += o.Processed
	s.AutoLinked += o.AutoLinked
	s.Queued += o.Queued
	s.Errors += o.Errors
}

// ProcessBatch matches the given unmatched logs and applies the results:
// auto_link writes the log's work reference; review and reject upsert the
// discovery queue. Already-linked logs are skipped. This is the single code
// path shared by ingestion, discovery, and rematch.
func (e *Engine) ProcessBatch(ctx context.Context, logs []library.BroadcastLog, opts match.Options) (BatchStats, error) {
	var stats BatchStats

	queries := make([]match.Query, 0, len(logs))
	for _, l := range logs {
		if l.WorkID != nil {
			continue
		}
		queries = append(queries, match.Query{LogID: l.ID, RawArtist: l.RawArtist, RawTitle: l.RawTitle})
	}
	if len(queries) == 0 {
		return stats, nil
	}

	matches, err := e.matcher.MatchBatch(ctx, queries, opts)
	if err != nil {
		return stats, err
	}

	for _, m := range matches {
		stats.Processed++
		metrics.MatchDecisionsTotal.WithLabelValues(string(m.Category), m.Reason).Inc()
		switch m.Category {
		case match.CategoryAutoLink:
			if err := e.store.SetLogWork(ctx, m.Query.LogID, *m.WorkID, m.Reason); err != nil {
				// A concurrent linker won the race; the log is resolved
				// either way.
				if !errors.Is(err, library.ErrConflict) {
					stats.Errors++
					e.logger.Warn().Str("event", "discovery.link.failed").
						Int64("log_id", m.Query.LogID).Err(err).Msg("auto-link not applied")
					continue
				}
			}
			stats.AutoLinked++
		case match.CategoryReview, match.CategoryReject:
			scores := library.QueueScores{ArtistSim: m.Scores.ArtistSim, TitleSim: m.Scores.TitleSim}
			if err := e.store.UpsertQueueItem(ctx, m.Signature, m.Query.RawArtist, m.Query.RawTitle, m.WorkID, scores); err != nil {
				stats.Errors++
				e.logger.Warn().Str("event", "discovery.queue.failed").
					Str("signature", m.Signature).Err(err).Msg("queue upsert failed")
				continue
			}
			stats.Queued++
			e.proposeSplit(ctx, m.Query.RawArtist)
		default:
			stats.Errors++
		}
	}
	return stats, nil
}

// proposeSplit files a collaboration-split hypothesis when a queued raw
// artist string looks like several artists. Proposals are advisory; failures
// never affect the batch outcome.
func (e *Engine) proposeSplit(ctx context.Context, rawArtist string) {
	parts := normalize.SplitArtists(rawArtist)
	if len(parts) < 2 {
		return
	}
	if _, err := e.store.ProposeSplit(ctx, rawArtist, parts); err != nil {
		e.logger.Debug().Str("event", "discovery.split.skipped").
			Str("raw_artist", rawArtist).Err(err).Msg("split proposal not recorded")
	}
}

// ProgressFunc receives (current, total, message) updates; total is -1 when
// unknown.
type ProgressFunc func(current, total int, message string)

// Run walks all unmatched logs in fixed-size batches. batchSize bounds both
// the page size and the matcher's per-batch I/O. Cancellation is observed
// between batches; an in-flight batch always completes.
func (e *Engine) Run(ctx context.Context, batchSize int, opts match.Options, progress ProgressFunc) (BatchStats, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	var total BatchStats
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		logs, err := e.store.UnmatchedLogsPage(ctx, afterID, batchSize)
		if err != nil {
			return total, err
		}
		if len(logs) == 0 {
			break
		}
		afterID = logs[len(logs)-1].ID

		stats, err := e.ProcessBatch(ctx, logs, opts)
		total.add(stats)
		if err != nil {
			return total, err
		}
		if progress != nil {
			progress(total.Processed, -1, "matching unmatched logs")
		}
	}

	e.logger.Info().Str("event", "discovery.completed").
		Int("processed", total.Processed).Int("auto_linked", total.AutoLinked).
		Int("queued", total.Queued).Int("errors", total.Errors).
		Msg("discovery pass finished")
	return total, nil
}

// Rematch reruns matching over every log carrying the given raw artist
// string, typically after an alias change. Linked logs keep their decision;
// only unmatched ones flow through the shared batch path.
func (e *Engine) Rematch(ctx context.Context, rawArtist string, batchSize int, opts match.Options, progress ProgressFunc) (BatchStats, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	logs, err := e.store.LogsByRawArtist(ctx, rawArtist)
	if err != nil {
		return BatchStats{}, err
	}

	var total BatchStats
	for start := 0; start < len(logs); start += batchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := start + batchSize
		if end > len(logs) {
			end = len(logs)
		}
		stats, err := e.ProcessBatch(ctx, logs[start:end], opts)
		total.add(stats)
		if err != nil {
			return total, err
		}
		if progress != nil {
			progress(end, len(logs), "rematching "+rawArtist)
		}
	}

	e.logger.Info().Str("event", "discovery.rematch.completed").
		Str("raw_artist", rawArtist).Int("processed", total.Processed).
		Int("auto_linked", total.AutoLinked).Int("queued", total.Queued).
		Msg("rematch finished")
	return total, nil
}
