// SPDX-License-Identifier: MIT

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/airwavehq/airwave/internal/audit"
	"github.com/airwavehq/airwave/internal/library"
	"github.com/airwavehq/airwave/internal/normalize"
)

// splitPayload is the audit record for a resolved split proposal.
type splitPayload struct {
	SplitID     int64    `json:"split_id"`
	RawArtist   string   `json:"raw_artist"`
	Status      string   `json:"status"`
	Parts       []string `json:"parts"`
	LinkedWorks []int64  `json:"linked_works,omitempty"`
}

// ResolveSplit settles a collaboration-split proposal. Confirming (or
// confirming with edited parts) creates the member artists and associates
// them with every work currently attributed to the collaboration name;
// rejecting just closes the proposal. Split resolutions are not undoable.
func (s *Service) ResolveSplit(ctx context.Context, id int64, status library.SplitStatus, editedParts []string, actor string) (library.ProposedSplit, error) {
	split, err := s.store.SplitByID(ctx, id)
	if err != nil {
		return library.ProposedSplit{}, err
	}
	if split.Status != library.SplitProposed {
		return library.ProposedSplit{}, fmt.Errorf("%w: split already %s", library.ErrConflict, split.Status)
	}
	if err := s.store.ResolveSplit(ctx, id, status, editedParts); err != nil {
		return library.ProposedSplit{}, err
	}

	parts := split.Parts
	if status == library.SplitEdited {
		parts = editedParts
	}

	var linked []int64
	if status == library.SplitConfirmed || status == library.SplitEdited {
		linked, err = s.applySplit(ctx, split.RawArtist, parts)
		if err != nil {
			return library.ProposedSplit{}, err
		}
	}

	payload, _ := json.Marshal(splitPayload{
		SplitID:     split.ID,
		RawArtist:   split.RawArtist,
		Status:      string(status),
		Parts:       parts,
		LinkedWorks: linked,
	})
	auditID, err := s.recorder.Record(ctx, audit.Entry{
		Actor:   actor,
		Action:  audit.ActionSplit,
		Subject: split.RawArtist,
		Payload: payload,
	})
	if err != nil {
		return library.ProposedSplit{}, err
	}

	s.logger.Info().Str("event", "identity.split.resolved").
		Str("raw_artist", split.RawArtist).Str("status", string(status)).
		Int("linked_works", len(linked)).Int64("audit_id", auditID).
		Str("actor", actor).Msg("split proposal resolved")
	return s.store.SplitByID(ctx, id)
}

// applySplit materializes the member artists and links them to the works of
// the collaboration artist, if one exists in the knowledge base.
func (s *Service) applySplit(ctx context.Context, rawArtist string, parts []string) ([]int64, error) {
	for _, part := range parts {
		if _, err := s.store.UpsertArtist(ctx, normalize.CleanArtist(part), part); err != nil {
			return nil, err
		}
	}

	collab, err := s.store.ArtistByName(ctx, normalize.CleanArtist(rawArtist))
	if errors.Is(err, library.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	members := make([]library.Artist, 0, len(parts))
	for _, part := range parts {
		artist, err := s.store.ArtistByName(ctx, normalize.CleanArtist(part))
		if err != nil {
			return nil, err
		}
		members = append(members, artist)
	}

	works, err := s.store.WorksByArtist(ctx, collab.ID)
	if err != nil {
		return nil, err
	}
	linked := make([]int64, 0, len(works))
	for _, w := range works {
		for pos, member := range members {
			if err := s.store.AssociateArtist(ctx, w.ID, member.ID, pos+1); err != nil {
				return nil, err
			}
		}
		linked = append(linked, w.ID)
	}
	return linked, nil
}
