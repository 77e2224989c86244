// SPDX-License-Identifier: MIT

// Package identity owns the verified signature → work mappings. Every
// operator decision runs in one transaction covering the bridge write, the
// historical back-fill, the queue retirement, and the audit entry, so no
// observer sees a signature with both an active queue item and a bridge.
package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave/internal/audit"
	"github.com/airwavehq/airwave/internal/library"
	"github.com/airwavehq/airwave/internal/log"
)

// Service applies and reverses verification decisions.
type Service struct {
	store      *library.Store
	recorder   *audit.Recorder
	retainDays int
	logger     zerolog.Logger
}

// New builds the identity service. retainDays bounds the undo window.
func New(store *library.Store, recorder *audit.Recorder, retainDays int) *Service {
	return &Service{
		store:      store,
		recorder:   recorder,
		retainDays: retainDays,
		logger:     log.WithComponent("identity"),
	}
}

// LinkResult summarizes one applied link.
type LinkResult struct {
	Signature  string `json:"signature"`
	WorkID     int64  `json:"work_id"`
	Backfilled int    `json:"backfilled"`
	AuditID    int64  `json:"audit_id"`
}

// linkPayload is the undo state for link/promote actions.
type linkPayload struct {
	Signature     string                       `json:"signature"`
	WorkID        int64                        `json:"work_id"`
	BackfilledIDs []int64                      `json:"backfilled_ids,omitempty"`
	PriorBridge   *library.IdentityBridge      `json:"prior_bridge,omitempty"`
	QueueItem     *library.DiscoveryQueueItem  `json:"queue_item,omitempty"`
	RecordingID   int64                        `json:"recording_id,omitempty"`
	WasVerified   bool                         `json:"was_verified,omitempty"`
}

// Link records a verified signature → work decision: bridge upsert,
// back-fill of all unlinked logs sharing the signature, queue retirement,
// and an audit entry — one transaction.
func (s *Service) Link(ctx context.Context, signature string, workID int64, actor string) (LinkResult, error) {
	return s.link(ctx, signature, workID, actor, audit.ActionLink, 0)
}

// Promote is Link plus flipping the chosen recording's verified flag. A
// zero recordingID picks the first recording of the work.
func (s *Service) Promote(ctx context.Context, signature string, workID, recordingID int64, actor string) (LinkResult, error) {
	if recordingID == 0 {
		recs, err := s.store.RecordingsByWork(ctx, workID)
		if err != nil {
			return LinkResult{}, err
		}
		if len(recs) == 0 {
			return LinkResult{}, fmt.Errorf("%w: work %d has no recordings to promote", library.ErrNotFound, workID)
		}
		recordingID = recs[0].ID
	}
	return s.link(ctx, signature, workID, actor, audit.ActionPromote, recordingID)
}

func (s *Service) link(ctx context.Context, signature string, workID int64, actor string, action audit.Action, recordingID int64) (LinkResult, error) {
	if signature == "" {
		return LinkResult{}, fmt.Errorf("%w: empty signature", library.ErrValidation)
	}
	work, err := s.store.WorkByID(ctx, workID)
	if err != nil {
		return LinkResult{}, err
	}

	refArtist, refTitle, err := s.referenceStrings(ctx, signature)
	if err != nil {
		return LinkResult{}, err
	}

	var prior *library.IdentityBridge
	if existing, err := s.store.BridgeBySignature(ctx, signature); err == nil {
		prior = &existing
	} else if !errors.Is(err, library.ErrNotFound) {
		return LinkResult{}, err
	}

	var wasVerified bool
	if recordingID != 0 {
		rec, err := s.store.RecordingByID(ctx, recordingID)
		if err != nil {
			return LinkResult{}, err
		}
		if rec.WorkID != workID {
			return LinkResult{}, fmt.Errorf("%w: recording %d does not belong to work %d", library.ErrValidation, recordingID, workID)
		}
		wasVerified = rec.IsVerified
	}

	var result LinkResult
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.store.UpsertBridgeTx(ctx, tx, library.IdentityBridge{
			Signature:       signature,
			ReferenceArtist: refArtist,
			ReferenceTitle:  refTitle,
			WorkID:          work.ID,
			Confidence:      1.0,
		}); err != nil {
			return err
		}
		backfilled, err := s.store.BackfillSignatureTx(ctx, tx, signature, work.ID, "identity_bridge")
		if err != nil {
			return err
		}
		queueItem, err := s.store.DeleteQueueItemTx(ctx, tx, signature)
		if err != nil {
			return err
		}
		if recordingID != 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE recordings SET is_verified = 1 WHERE id = ?`, recordingID); err != nil {
				return err
			}
		}

		payload, err := json.Marshal(linkPayload{
			Signature:     signature,
			WorkID:        work.ID,
			BackfilledIDs: backfilled,
			PriorBridge:   prior,
			QueueItem:     queueItem,
			RecordingID:   recordingID,
			WasVerified:   wasVerified,
		})
		if err != nil {
			return err
		}
		auditID, err := s.recorder.RecordTx(ctx, tx, audit.Entry{
			Actor:   actor,
			Action:  action,
			Subject: signature,
			Payload: payload,
		})
		if err != nil {
			return err
		}
		result = LinkResult{
			Signature:  signature,
			WorkID:     work.ID,
			Backfilled: len(backfilled),
			AuditID:    auditID,
		}
		return nil
	})
	if err != nil {
		return LinkResult{}, err
	}

	s.logger.Info().Str("event", "identity.linked").
		Str("signature", signature).Int64("work_id", work.ID).
		Int("backfilled", result.Backfilled).Str("actor", actor).
		Msg("signature linked")
	return result, nil
}

// referenceStrings finds raw artist/title for the bridge row: the queue
// item if present, otherwise any log with the signature.
func (s *Service) referenceStrings(ctx context.Context, signature string) (string, string, error) {
	if item, err := s.store.QueueItem(ctx, signature); err == nil {
		return item.RawArtist, item.RawTitle, nil
	} else if !errors.Is(err, library.ErrNotFound) {
		return "", "", err
	}
	logs, err := s.store.LogsBySignature(ctx, signature)
	if err != nil {
		return "", "", err
	}
	if len(logs) == 0 {
		return "", "", fmt.Errorf("%w: no log or queue item carries signature %s", library.ErrNotFound, signature)
	}
	return logs[0].RawArtist, logs[0].RawTitle, nil
}

// BulkLink applies Link to a set of pairs in one transaction with one audit
// entry.
func (s *Service) BulkLink(ctx context.Context, pairs []struct {
	Signature string `json:"signature"`
	WorkID    int64  `json:"work_id"`
}, actor string) ([]LinkResult, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: empty bulk link", library.ErrValidation)
	}

	var payloads []linkPayload
	var results []LinkResult
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		payloads = payloads[:0]
		results = results[:0]
		for _, p := range pairs {
			refArtist, refTitle, err := s.referenceStrings(ctx, p.Signature)
			if err != nil {
				return err
			}
			var prior *library.IdentityBridge
			if existing, err := s.store.BridgeBySignature(ctx, p.Signature); err == nil {
				prior = &existing
			} else if !errors.Is(err, library.ErrNotFound) {
				return err
			}

			if err := s.store.UpsertBridgeTx(ctx, tx, library.IdentityBridge{
				Signature:       p.Signature,
				ReferenceArtist: refArtist,
				ReferenceTitle:  refTitle,
				WorkID:          p.WorkID,
				Confidence:      1.0,
			}); err != nil {
				return err
			}
			backfilled, err := s.store.BackfillSignatureTx(ctx, tx, p.Signature, p.WorkID, "identity_bridge")
			if err != nil {
				return err
			}
			queueItem, err := s.store.DeleteQueueItemTx(ctx, tx, p.Signature)
			if err != nil {
				return err
			}
			payloads = append(payloads, linkPayload{
				Signature:     p.Signature,
				WorkID:        p.WorkID,
				BackfilledIDs: backfilled,
				PriorBridge:   prior,
				QueueItem:     queueItem,
			})
			results = append(results, LinkResult{
				Signature:  p.Signature,
				WorkID:     p.WorkID,
				Backfilled: len(backfilled),
			})
		}

		payload, err := json.Marshal(payloads)
		if err != nil {
			return err
		}
		auditID, err := s.recorder.RecordTx(ctx, tx, audit.Entry{
			Actor:   actor,
			Action:  audit.ActionBulkLink,
			Subject: fmt.Sprintf("%d signatures", len(pairs)),
			Payload: payload,
		})
		if err != nil {
			return err
		}
		for i := range results {
			results[i].AuditID = auditID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Revoke soft-disables a bridge. Historical back-fills keep their
// decisions.
func (s *Service) Revoke(ctx context.Context, signature, actor string) error {
	if err := s.store.RevokeBridge(ctx, signature); err != nil {
		return err
	}
	_, err := s.recorder.Record(ctx, audit.Entry{
		Actor:   actor,
		Action:  audit.ActionRevoke,
		Subject: signature,
	})
	return err
}

// skipPayload is the undo state for queue skips.
type skipPayload struct {
	Signature      string     `json:"signature"`
	PriorSkipUntil *time.Time `json:"prior_skip_until,omitempty"`
}

// Skip puts a queue item into a cool-down.
func (s *Service) Skip(ctx context.Context, signature string, cooldown time.Duration, actor string) (int64, error) {
	item, err := s.store.QueueItem(ctx, signature)
	if err != nil {
		return 0, err
	}
	if err := s.store.SkipQueueItem(ctx, signature, time.Now().Add(cooldown)); err != nil {
		return 0, err
	}
	payload, err := json.Marshal(skipPayload{Signature: signature, PriorSkipUntil: item.SkipUntil})
	if err != nil {
		return 0, err
	}
	return s.recorder.Record(ctx, audit.Entry{
		Actor:   actor,
		Action:  audit.ActionSkip,
		Subject: signature,
		Payload: payload,
	})
}

// aliasPayload is the undo state for alias writes.
type aliasPayload struct {
	RawName    string              `json:"raw_name"`
	Resolved   string              `json:"resolved"`
	PriorAlias *library.ArtistAlias `json:"prior_alias,omitempty"`
}

// Alias records a raw → resolved artist mapping. The caller schedules the
// rematch job over logs with the affected raw artist.
func (s *Service) Alias(ctx context.Context, raw, resolved, actor string) (int64, error) {
	var prior *library.ArtistAlias
	if existing, ok, err := s.store.AliasByRaw(ctx, raw); err != nil {
		return 0, err
	} else if ok {
		prior = &existing
	}

	if err := s.store.UpsertAlias(ctx, raw, resolved, true); err != nil {
		return 0, err
	}
	payload, err := json.Marshal(aliasPayload{RawName: raw, Resolved: resolved, PriorAlias: prior})
	if err != nil {
		return 0, err
	}
	return s.recorder.Record(ctx, audit.Entry{
		Actor:   actor,
		Action:  audit.ActionAlias,
		Subject: raw,
		Payload: payload,
	})
}
