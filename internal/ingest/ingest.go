// SPDX-License-Identifier: MIT

// Package ingest accepts station broadcast logs: each play is stored with
// its identity signature, then the batch flows through the same matching
// path discovery uses, so submissions auto-link or queue immediately.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave/internal/discovery"
	"github.com/airwavehq/airwave/internal/library"
	"github.com/airwavehq/airwave/internal/log"
	"github.com/airwavehq/airwave/internal/match"
	"github.com/airwavehq/airwave/internal/normalize"
)

// Play is one submitted play-event.
type Play struct {
	PlayedAt  time.Time `json:"played_at"`
	RawArtist string    `json:"raw_artist"`
	RawTitle  string    `json:"raw_title"`
}

// Result summarizes one submission.
type Result struct {
	Inserted   int `json:"inserted"`
	AutoLinked int `json:"auto_linked"`
	Queued     int `json:"queued"`
}

// Service turns submissions into stored, matched logs.
type Service struct {
	store  *library.Store
	engine *discovery.Engine
	logger zerolog.Logger
}

// New builds the ingestion service.
func New(store *library.Store, engine *discovery.Engine) *Service {
	return &Service{store: store, engine: engine, logger: log.WithComponent("ingest")}
}

// SubmitLogs stores the plays and runs the match batch over them.
// Signatures are computed after alias resolution so known raw-name variants
// collapse immediately.
func (s *Service) SubmitLogs(ctx context.Context, stationID string, plays []Play, opts match.Options) (Result, error) {
	if strings.TrimSpace(stationID) == "" {
		return Result{}, fmt.Errorf("%w: empty station id", library.ErrValidation)
	}
	if len(plays) == 0 {
		return Result{}, nil
	}

	raws := make([]string, 0, len(plays))
	for _, p := range plays {
		raws = append(raws, p.RawArtist)
	}
	resolved, err := s.store.ResolveAliases(ctx, raws)
	if err != nil {
		return Result{}, err
	}

	var result Result
	logs := make([]library.BroadcastLog, 0, len(plays))
	for _, p := range plays {
		if strings.TrimSpace(p.RawArtist) == "" || strings.TrimSpace(p.RawTitle) == "" {
			return result, fmt.Errorf("%w: play with empty artist or title", library.ErrValidation)
		}
		artist := p.RawArtist
		if r, ok := resolved[p.RawArtist]; ok && r != "" {
			artist = r
		}
		sig := normalize.Signature(artist, p.RawTitle)
		id, err := s.store.InsertBroadcastLog(ctx, stationID, p.PlayedAt, p.RawArtist, p.RawTitle, sig)
		if err != nil {
			return result, err
		}
		result.Inserted++
		logs = append(logs, library.BroadcastLog{
			ID:        id,
			StationID: stationID,
			PlayedAt:  p.PlayedAt,
			RawArtist: p.RawArtist,
			RawTitle:  p.RawTitle,
			Signature: sig,
		})
	}

	stats, err := s.engine.ProcessBatch(ctx, logs, opts)
	if err != nil {
		return result, err
	}
	result.AutoLinked = stats.AutoLinked
	result.Queued = stats.Queued

	s.logger.Info().Str("event", "ingest.submitted").
		Str("station_id", stationID).Int("inserted", result.Inserted).
		Int("auto_linked", result.AutoLinked).Int("queued", result.Queued).
		Msg("logs submitted")
	return result, nil
}
