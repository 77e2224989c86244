// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/airwavehq/airwave/internal/library"
	"github.com/airwavehq/airwave/internal/metrics"
)

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	filter := library.QueueFilter(r.URL.Query().Get("filter"))
	if filter == "" {
		filter = library.QueueFilterAll
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	items, err := s.deps.Store.ListQueue(r.Context(), filter, limit, offset)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	size, err := s.deps.Store.QueueSize(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	metrics.QueueDepth.Set(float64(size))
	respondJSON(w, http.StatusOK, map[string]any{"items": items, "total": size})
}

type linkRequest struct {
	Signature   string `json:"signature"`
	WorkID      int64  `json:"work_id"`
	RecordingID int64  `json:"recording_id,omitempty"`
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.deps.Identity.Link(r.Context(), req.Signature, req.WorkID, actor(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	metrics.VerificationsTotal.WithLabelValues("link").Inc()
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.deps.Identity.Promote(r.Context(), req.Signature, req.WorkID, req.RecordingID, actor(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	metrics.VerificationsTotal.WithLabelValues("promote").Inc()
	respondJSON(w, http.StatusOK, result)
}

type skipRequest struct {
	Signature string `json:"signature"`
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	var req skipRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cooldown := s.deps.Config.Current().App.QueueSkipCooldown
	auditID, err := s.deps.Identity.Skip(r.Context(), req.Signature, cooldown, actor(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	metrics.VerificationsTotal.WithLabelValues("skip").Inc()
	respondJSON(w, http.StatusOK, map[string]any{
		"signature":  req.Signature,
		"skip_until": time.Now().Add(cooldown).UTC(),
		"audit_id":   auditID,
	})
}

type bulkLinkRequest struct {
	Links []struct {
		Signature string `json:"signature"`
		WorkID    int64  `json:"work_id"`
	} `json:"links"`
}

func (s *Server) handleBulkLink(w http.ResponseWriter, r *http.Request) {
	var req bulkLinkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	results, err := s.deps.Identity.BulkLink(r.Context(), req.Links, actor(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	metrics.VerificationsTotal.WithLabelValues("bulk_link").Inc()
	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req skipRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Identity.Revoke(r.Context(), req.Signature, actor(r)); err != nil {
		respondDomainError(w, r, err)
		return
	}
	metrics.VerificationsTotal.WithLabelValues("revoke").Inc()
	respondJSON(w, http.StatusOK, map[string]string{"signature": req.Signature, "status": "revoked"})
}

type aliasRequest struct {
	RawName      string `json:"raw_name"`
	ResolvedName string `json:"resolved_name"`
}

// handleAlias records the mapping and schedules the rematch pass over all
// logs carrying the raw name.
func (s *Server) handleAlias(w http.ResponseWriter, r *http.Request) {
	var req aliasRequest
	if !decodeBody(w, r, &req) {
		return
	}
	auditID, err := s.deps.Identity.Alias(r.Context(), req.RawName, req.ResolvedName, actor(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	metrics.VerificationsTotal.WithLabelValues("alias").Inc()

	taskID, err := s.runRematch(r, req.RawName)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"audit_id":        auditID,
		"rematch_task_id": taskID,
	})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "malformed audit id")
		return
	}
	if err := s.deps.Identity.Undo(r.Context(), id, actor(r)); err != nil {
		respondDomainError(w, r, err)
		return
	}
	metrics.VerificationsTotal.WithLabelValues("undo").Inc()
	respondJSON(w, http.StatusOK, map[string]any{"audit_id": id, "status": "undone"})
}

func (s *Server) handleListSplits(w http.ResponseWriter, r *http.Request) {
	status := library.SplitStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = library.SplitProposed
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	splits, err := s.deps.Store.ListSplits(r.Context(), status, limit, offset)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"splits": splits})
}

type resolveSplitRequest struct {
	Status library.SplitStatus `json:"status"`
	Parts  []string            `json:"parts,omitempty"`
}

func (s *Server) handleResolveSplit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "malformed split id")
		return
	}
	var req resolveSplitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	split, err := s.deps.Identity.ResolveSplit(r.Context(), id, req.Status, req.Parts, actor(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, split)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	entries, err := s.deps.Audit.ListRecent(r.Context(), limit)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
