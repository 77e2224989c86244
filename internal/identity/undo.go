// SPDX-License-Identifier: MIT

package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/airwavehq/airwave/internal/audit"
	"github.com/airwavehq/airwave/internal/library"
)

// Undo reverses an audited verification action. Each kind restores the
// exact prior state captured in the entry's payload; the undo itself is
// audited and an entry can be undone at most once.
func (s *Service) Undo(ctx context.Context, auditID int64, actor string) error {
	entry, err := s.recorder.Get(ctx, auditID)
	if err != nil {
		return err
	}
	if entry.Undone {
		return fmt.Errorf("%w: entry %d already undone", audit.ErrNotUndoable, auditID)
	}
	if !audit.Retainable(entry, s.retainDays, time.Now()) {
		return fmt.Errorf("%w: entry %d outside the %d-day retention window", audit.ErrNotUndoable, auditID, s.retainDays)
	}

	switch entry.Action {
	case audit.ActionLink, audit.ActionPromote:
		var payload linkPayload
		if err := entry.DecodePayload(&payload); err != nil {
			return err
		}
		err = s.undoLink(ctx, entry, []linkPayload{payload}, actor)
	case audit.ActionBulkLink:
		var payloads []linkPayload
		if err := entry.DecodePayload(&payloads); err != nil {
			return err
		}
		err = s.undoLink(ctx, entry, payloads, actor)
	case audit.ActionSkip:
		err = s.undoSkip(ctx, entry, actor)
	case audit.ActionAlias:
		err = s.undoAlias(ctx, entry, actor)
	default:
		return fmt.Errorf("%w: action %s has no reverse operation", audit.ErrNotUndoable, entry.Action)
	}
	if err != nil {
		return err
	}

	s.logger.Info().Str("event", "identity.undone").
		Int64("audit_id", auditID).Str("action", string(entry.Action)).
		Str("actor", actor).Msg("verification action undone")
	return nil
}

func (s *Service) undoLink(ctx context.Context, entry audit.Entry, payloads []linkPayload, actor string) error {
	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, p := range payloads {
			// Bridge: restore the prior row, or remove ours entirely.
			if p.PriorBridge != nil {
				if err := s.store.UpsertBridgeTx(ctx, tx, *p.PriorBridge); err != nil {
					return err
				}
				if p.PriorBridge.IsRevoked {
					if _, err := tx.ExecContext(ctx,
						`UPDATE identity_bridge SET is_revoked = 1 WHERE signature = ?`, p.Signature); err != nil {
						return err
					}
				}
			} else {
				if err := s.store.DeleteBridgeTx(ctx, tx, p.Signature); err != nil {
					return err
				}
			}

			if err := s.store.ClearLogWorksTx(ctx, tx, p.BackfilledIDs, p.WorkID); err != nil {
				return err
			}
			if p.QueueItem != nil {
				if err := s.store.RestoreQueueItemTx(ctx, tx, *p.QueueItem); err != nil {
					return err
				}
			}
			if p.RecordingID != 0 && !p.WasVerified {
				if _, err := tx.ExecContext(ctx,
					`UPDATE recordings SET is_verified = 0 WHERE id = ?`, p.RecordingID); err != nil {
					return err
				}
			}
		}
		return s.finishUndo(ctx, tx, entry, actor)
	})
}

func (s *Service) undoSkip(ctx context.Context, entry audit.Entry, actor string) error {
	var payload skipPayload
	if err := entry.DecodePayload(&payload); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		// Restore the prior cool-down (usually none). The queue item may
		// have been retired by a later link; that is fine.
		if err := s.store.SetQueueSkipUntil(ctx, payload.Signature, payload.PriorSkipUntil); err != nil &&
			!isNotFound(err) {
			return err
		}
		return s.finishUndo(ctx, tx, entry, actor)
	})
}

func (s *Service) undoAlias(ctx context.Context, entry audit.Entry, actor string) error {
	var payload aliasPayload
	if err := entry.DecodePayload(&payload); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if payload.PriorAlias != nil {
			if err := s.store.UpsertAlias(ctx, payload.PriorAlias.RawName,
				payload.PriorAlias.ResolvedName, payload.PriorAlias.IsVerified); err != nil {
				return err
			}
		} else {
			if err := s.store.DeleteAlias(ctx, payload.RawName); err != nil {
				return err
			}
		}
		return s.finishUndo(ctx, tx, entry, actor)
	})
}

func (s *Service) finishUndo(ctx context.Context, tx *sql.Tx, entry audit.Entry, actor string) error {
	if err := s.recorder.MarkUndoneTx(ctx, tx, entry.ID); err != nil {
		return err
	}
	_, err := s.recorder.RecordTx(ctx, tx, audit.Entry{
		Actor:   actor,
		Action:  audit.ActionUndo,
		Subject: fmt.Sprintf("entry %d (%s)", entry.ID, entry.Action),
	})
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, library.ErrNotFound)
}
