// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"

	"github.com/airwavehq/airwave/internal/ingest"
	"github.com/airwavehq/airwave/internal/library"
	"github.com/airwavehq/airwave/internal/match"
	"github.com/airwavehq/airwave/internal/metrics"
)

type submitLogsRequest struct {
	StationID string        `json:"station_id"`
	Plays     []ingest.Play `json:"plays"`
}

func (s *Server) handleSubmitLogs(w http.ResponseWriter, r *http.Request) {
	var req submitLogsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.deps.Ingest.SubmitLogs(r.Context(), req.StationID, req.Plays, s.matchOptions())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	metrics.LogsIngestedTotal.WithLabelValues(req.StationID).Add(float64(result.Inserted))
	respondJSON(w, http.StatusOK, result)
}

// handleSamples returns stratified match examples; candidate thresholds may
// be passed as query parameters to preview without installing them.
func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	opts := s.matchOptions()
	opts.Thresholds.ArtistAuto = queryFloat(r, "artist_auto", opts.Thresholds.ArtistAuto)
	opts.Thresholds.ArtistReview = queryFloat(r, "artist_review", opts.Thresholds.ArtistReview)
	opts.Thresholds.TitleAuto = queryFloat(r, "title_auto", opts.Thresholds.TitleAuto)
	opts.Thresholds.TitleReview = queryFloat(r, "title_review", opts.Thresholds.TitleReview)
	if err := opts.Thresholds.Validate(); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	samples, err := s.deps.Matcher.Samples(r.Context(), s.deps.Store, limit, opts)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"samples": samples})
}

type impactRequest struct {
	Thresholds struct {
		ArtistAuto   float64 `json:"artist_auto"`
		ArtistReview float64 `json:"artist_review"`
		TitleAuto    float64 `json:"title_auto"`
		TitleReview  float64 `json:"title_review"`
	} `json:"thresholds"`
	SampleSize int `json:"sample_size"`
}

// handleImpact previews a candidate threshold set against a random sample of
// unmatched logs without installing it.
func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	var req impactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	opts := s.matchOptions()
	opts.Thresholds.ArtistAuto = req.Thresholds.ArtistAuto
	opts.Thresholds.ArtistReview = req.Thresholds.ArtistReview
	opts.Thresholds.TitleAuto = req.Thresholds.TitleAuto
	opts.Thresholds.TitleReview = req.Thresholds.TitleReview
	if err := opts.Thresholds.Validate(); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	impact, err := s.deps.Matcher.EstimateImpact(r.Context(), s.deps.Store, req.SampleSize, opts)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, impact)
}

// handleArtistQueue feeds the artist-linking view: distinct raw artist
// strings with play and match counts.
func (s *Server) handleArtistQueue(w http.ResponseWriter, r *http.Request) {
	filter := library.LogArtistFilter(r.URL.Query().Get("filter"))
	if filter == "" {
		filter = library.LogFilterAll
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	artists, err := s.deps.Store.ListRawArtists(r.Context(), filter, limit, offset)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"artists": artists})
}

func (s *Server) matchOptions() match.Options {
	app := s.deps.Config.Current().App
	return match.Options{Thresholds: app.Match, VectorTopK: app.VectorTopK}
}

func queryFloat(r *http.Request, name string, fallback float64) float64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
