// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/airwavehq/airwave/internal/audit"
	"github.com/airwavehq/airwave/internal/config"
	"github.com/airwavehq/airwave/internal/jobs"
	"github.com/airwavehq/airwave/internal/library"
	"github.com/airwavehq/airwave/internal/metrics"
	"github.com/airwavehq/airwave/internal/scanner"
	"github.com/airwavehq/airwave/internal/vector"
)

// handleScan starts a library scan task.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	app := s.deps.Config.Current().App
	opts := scanner.Options{
		Root:       app.LibraryRoot,
		Extensions: app.ScanExtensions,
		MaxFileMB:  app.ScanMaxFileMB,
		Workers:    app.ScanWorkers,
		Fuzzy:      library.FuzzyOpts{Threshold: app.WorkFuzzyThreshold, MaxWorks: app.WorkFuzzyMaxWorks},
	}
	if opts.Root == "" {
		respondError(w, r, http.StatusBadRequest, "no library root configured")
		return
	}

	taskID, err := s.deps.Jobs.Run(r.Context(), "scan", func(ctx context.Context, report func(jobs.Progress)) error {
		start := time.Now()
		stats, err := s.deps.Scanner.Scan(ctx, opts, func(current, total int, msg string) {
			report(jobs.Progress{Current: current, Total: total, Message: msg})
		})
		metrics.ScanDuration.Observe(time.Since(start).Seconds())
		metrics.ScanFilesTotal.WithLabelValues("added").Add(float64(stats.Added))
		metrics.ScanFilesTotal.WithLabelValues("updated").Add(float64(stats.Updated))
		metrics.ScanFilesTotal.WithLabelValues("moved").Add(float64(stats.Moved))
		metrics.ScanFilesTotal.WithLabelValues("corrupt").Add(float64(stats.Corrupt))
		metrics.VectorIndexSize.Set(float64(s.deps.Index.Size()))
		return err
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// handleRebuildIndex re-derives every vector from the knowledge base.
func (s *Server) handleRebuildIndex(w http.ResponseWriter, r *http.Request) {
	taskID, err := s.deps.Jobs.Run(r.Context(), "rebuild-index", func(ctx context.Context, report func(jobs.Progress)) error {
		texts, err := s.deps.Store.ListRecordingTexts(ctx)
		if err != nil {
			return err
		}
		seeds := make([]vector.Seed, len(texts))
		for i, t := range texts {
			seeds[i] = vector.Seed{RecordingID: t.RecordingID, Text: t.Text()}
		}
		report(jobs.Progress{Current: 0, Total: len(seeds), Message: "rebuilding vector index"})
		if err := s.deps.Index.Rebuild(ctx, seeds); err != nil {
			return err
		}
		metrics.VectorIndexSize.Set(float64(s.deps.Index.Size()))
		report(jobs.Progress{Current: len(seeds), Total: len(seeds), Message: "rebuilt"})
		return nil
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// runRematch starts the post-alias rematch task.
func (s *Server) runRematch(r *http.Request, rawArtist string) (string, error) {
	app := s.deps.Config.Current().App
	opts := s.matchOptions()
	return s.deps.Jobs.Run(r.Context(), "rematch:"+rawArtist, func(ctx context.Context, report func(jobs.Progress)) error {
		_, err := s.deps.Engine.Rematch(ctx, rawArtist, app.DiscoveryBatchSize, opts, func(current, total int, msg string) {
			report(jobs.Progress{Current: current, Total: total, Message: msg})
		})
		return err
	})
}

type mergeRequest struct {
	SourceID int64 `json:"source_id"`
	TargetID int64 `json:"target_id"`
}

func (s *Server) handleMergeArtists(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Store.MergeArtists(r.Context(), req.SourceID, req.TargetID); err != nil {
		respondDomainError(w, r, err)
		return
	}
	s.auditMerge(r, audit.ActionMergeArtists, req)
	respondJSON(w, http.StatusOK, map[string]any{"merged_into": req.TargetID})
}

func (s *Server) handleMergeWorks(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Store.MergeWorks(r.Context(), req.SourceID, req.TargetID); err != nil {
		respondDomainError(w, r, err)
		return
	}
	if err := s.deps.Resolver.Invalidate(r.Context(), req.TargetID); err != nil {
		s.logger.Warn().Str("event", "resolver.invalidate.failed").Err(err).Msg("merge target not invalidated")
	}
	s.auditMerge(r, audit.ActionMergeWorks, req)
	respondJSON(w, http.StatusOK, map[string]any{"merged_into": req.TargetID})
}

func (s *Server) auditMerge(r *http.Request, action audit.Action, req mergeRequest) {
	payload, _ := json.Marshal(req)
	entry := audit.Entry{
		Actor:   actor(r),
		Action:  action,
		Subject: fmt.Sprintf("%d -> %d", req.SourceID, req.TargetID),
		Payload: payload,
	}
	if _, err := s.deps.Audit.Record(r.Context(), entry); err != nil {
		s.logger.Warn().Str("event", "audit.record.failed").Err(err).Msg("merge not audited")
	}
}

func (s *Server) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Config.Current().App.Match)
}

func (s *Server) handleSetThresholds(w http.ResponseWriter, r *http.Request) {
	var t config.Thresholds
	if !decodeBody(w, r, &t) {
		return
	}
	if err := s.deps.Config.SetThresholds(t); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	payload, _ := json.Marshal(t)
	entry := audit.Entry{Actor: actor(r), Action: audit.ActionThresholds, Subject: "matcher thresholds", Payload: payload}
	if _, err := s.deps.Audit.Record(r.Context(), entry); err != nil {
		s.logger.Warn().Str("event", "audit.record.failed").Err(err).Msg("threshold change not audited")
	}
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	workID := int64(queryInt(r, "work_id", 0))
	if workID == 0 {
		respondError(w, r, http.StatusBadRequest, "work_id is required")
		return
	}
	res, err := s.deps.Resolver.Resolve(r.Context(), workID, r.URL.Query().Get("station_id"), r.URL.Query().Get("format"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	metrics.ResolveTotal.WithLabelValues(string(res.Source)).Inc()
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"tasks": s.deps.Jobs.List()})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Jobs.Status(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Jobs.Cancel(chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleTaskEvents streams task snapshots as server-sent events until the
// task finishes or the client disconnects.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	ch, stop, err := s.deps.Jobs.Subscribe(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	defer stop()

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case task, open := <-ch:
			if !open {
				return
			}
			raw, err := json.Marshal(task)
			if err != nil {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", raw)
			flusher.Flush()
			if task.State.Terminal() {
				return
			}
		}
	}
}
