// SPDX-License-Identifier: MIT

package identity

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwavehq/airwave/internal/audit"
	"github.com/airwavehq/airwave/internal/library"
)

type splitFixture struct {
	store   *library.Store
	service *Service
	splitID int64
	workID  int64
}

// setupSplit seeds a collaboration artist with one work and a proposed
// split of its raw name.
func setupSplit(t *testing.T) splitFixture {
	t.Helper()
	ctx := context.Background()

	store, err := library.NewStore(filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	collab, err := store.UpsertArtist(ctx, "simon & garfunkel", "Simon & Garfunkel")
	require.NoError(t, err)
	work, err := store.UpsertWork(ctx, "the boxer", collab.ID, library.FuzzyOpts{})
	require.NoError(t, err)

	split, err := store.ProposeSplit(ctx, "Simon & Garfunkel", []string{"simon", "garfunkel"})
	require.NoError(t, err)

	service := New(store, audit.NewRecorder(store.DB()), 30)
	return splitFixture{store: store, service: service, splitID: split.ID, workID: work.ID}
}

func TestResolveSplitConfirmLinksMembers(t *testing.T) {
	f := setupSplit(t)
	ctx := context.Background()

	split, err := f.service.ResolveSplit(ctx, f.splitID, library.SplitConfirmed, nil, "operator")
	require.NoError(t, err)
	assert.Equal(t, library.SplitConfirmed, split.Status)

	assocs, err := f.store.WorkArtists(ctx, f.workID)
	require.NoError(t, err)
	require.Len(t, assocs, 2)

	var names []string
	for _, a := range assocs {
		artist, err := f.store.ArtistByID(ctx, a.ArtistID)
		require.NoError(t, err)
		names = append(names, artist.Name)
	}
	assert.ElementsMatch(t, []string{"simon", "garfunkel"}, names)
}

func TestResolveSplitEditedUsesCorrectedParts(t *testing.T) {
	f := setupSplit(t)
	ctx := context.Background()

	split, err := f.service.ResolveSplit(ctx, f.splitID, library.SplitEdited,
		[]string{"paul simon", "art garfunkel"}, "operator")
	require.NoError(t, err)
	assert.Equal(t, library.SplitEdited, split.Status)
	assert.Equal(t, []string{"paul simon", "art garfunkel"}, split.Parts)

	_, err = f.store.ArtistByName(ctx, "paul simon")
	require.NoError(t, err)
	assocs, err := f.store.WorkArtists(ctx, f.workID)
	require.NoError(t, err)
	assert.Len(t, assocs, 2)
}

func TestResolveSplitRejectTouchesNothing(t *testing.T) {
	f := setupSplit(t)
	ctx := context.Background()

	split, err := f.service.ResolveSplit(ctx, f.splitID, library.SplitRejected, nil, "operator")
	require.NoError(t, err)
	assert.Equal(t, library.SplitRejected, split.Status)

	assocs, err := f.store.WorkArtists(ctx, f.workID)
	require.NoError(t, err)
	assert.Empty(t, assocs)
	_, err = f.store.ArtistByName(ctx, "simon")
	assert.ErrorIs(t, err, library.ErrNotFound)
}

func TestResolveSplitTwiceConflicts(t *testing.T) {
	f := setupSplit(t)
	ctx := context.Background()

	_, err := f.service.ResolveSplit(ctx, f.splitID, library.SplitRejected, nil, "operator")
	require.NoError(t, err)
	_, err = f.service.ResolveSplit(ctx, f.splitID, library.SplitConfirmed, nil, "operator")
	assert.ErrorIs(t, err, library.ErrConflict)
}
