// SPDX-License-Identifier: MIT

package ingest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwavehq/airwave/internal/config"
	"github.com/airwavehq/airwave/internal/discovery"
	"github.com/airwavehq/airwave/internal/library"
	"github.com/airwavehq/airwave/internal/match"
	"github.com/airwavehq/airwave/internal/normalize"
	"github.com/airwavehq/airwave/internal/vector"
)

var testOpts = match.Options{
	Thresholds: config.DefaultThresholds(),
	VectorTopK: 5,
}

func newFixture(t *testing.T) (*library.Store, *Service) {
	t.Helper()
	store, err := library.NewStore(filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	idx, err := vector.Open(filepath.Join(t.TempDir(), "vectors"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	matcher := match.New(store, idx)
	return store, New(store, discovery.New(store, matcher))
}

func seedWork(t *testing.T, store *library.Store, artist, title string) library.Work {
	t.Helper()
	ctx := context.Background()
	a, err := store.UpsertArtist(ctx, artist, "")
	require.NoError(t, err)
	w, err := store.UpsertWork(ctx, title, a.ID, library.FuzzyOpts{})
	require.NoError(t, err)
	_, err = store.UpsertRecording(ctx, w.ID, title, "Original", 0, "")
	require.NoError(t, err)
	return w
}

func TestSubmitLogsLinksAndQueues(t *testing.T) {
	store, svc := newFixture(t)
	ctx := context.Background()

	work := seedWork(t, store, "the beatles", "hey jude")

	result, err := svc.SubmitLogs(ctx, "st1", []Play{
		{PlayedAt: time.Now(), RawArtist: "The Beatles", RawTitle: "Hey Jude"},
		{PlayedAt: time.Now(), RawArtist: "Unknown Act", RawTitle: "Unknown Song"},
	}, testOpts)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 1, result.AutoLinked)
	assert.Equal(t, 1, result.Queued)

	linked, err := store.LogsBySignature(ctx, logs(t, store)[0].Signature)
	require.NoError(t, err)
	require.NotEmpty(t, linked)
	require.NotNil(t, linked[0].WorkID)
	assert.Equal(t, work.ID, *linked[0].WorkID)
}

// logs fetches all broadcast logs in id order.
func logs(t *testing.T, store *library.Store) []library.BroadcastLog {
	t.Helper()
	l, err := store.LogsByRawArtist(context.Background(), "The Beatles")
	require.NoError(t, err)
	return l
}

func TestSubmitLogsAliasChangesSignature(t *testing.T) {
	store, svc := newFixture(t)
	ctx := context.Background()

	seedWork(t, store, "the beatles", "hey jude")
	require.NoError(t, store.UpsertAlias(ctx, "BTLS", "The Beatles", true))

	result, err := svc.SubmitLogs(ctx, "st1", []Play{
		{PlayedAt: time.Now(), RawArtist: "BTLS", RawTitle: "Hey Jude"},
	}, testOpts)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AutoLinked)

	stored, err := store.LogsByRawArtist(ctx, "BTLS")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	// Signature reflects the resolved name while raw strings are preserved.
	assert.Equal(t, "BTLS", stored[0].RawArtist)
	byResolved, err := store.LogsBySignature(ctx, stored[0].Signature)
	require.NoError(t, err)
	assert.Len(t, byResolved, 1)
}

func TestSubmitLogsValidation(t *testing.T) {
	_, svc := newFixture(t)
	ctx := context.Background()

	_, err := svc.SubmitLogs(ctx, "  ", []Play{{RawArtist: "a", RawTitle: "b"}}, testOpts)
	assert.ErrorIs(t, err, library.ErrValidation)

	_, err = svc.SubmitLogs(ctx, "st1", []Play{{RawArtist: "", RawTitle: "b", PlayedAt: time.Now()}}, testOpts)
	assert.ErrorIs(t, err, library.ErrValidation)

	result, err := svc.SubmitLogs(ctx, "st1", nil, testOpts)
	require.NoError(t, err)
	assert.Zero(t, result.Inserted)
}

// A bridge from a prior verification short-circuits matching entirely.
func TestSubmitLogsUsesBridge(t *testing.T) {
	store, svc := newFixture(t)
	ctx := context.Background()

	// A work reachable only via the bridge: no recording, garbled strings.
	artist, err := store.UpsertArtist(ctx, "the beatles", "")
	require.NoError(t, err)
	work, err := store.UpsertWork(ctx, "hey jude", artist.ID, library.FuzzyOpts{})
	require.NoError(t, err)

	play := Play{PlayedAt: time.Now(), RawArtist: "B3ATLES", RawTitle: "H3Y JUD3"}
	sig := normalize.Signature(play.RawArtist, play.RawTitle)
	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.UpsertBridgeTx(ctx, tx, library.IdentityBridge{
			Signature:       sig,
			ReferenceArtist: play.RawArtist,
			ReferenceTitle:  play.RawTitle,
			WorkID:          work.ID,
			Confidence:      1.0,
		})
	})
	require.NoError(t, err)

	result, err := svc.SubmitLogs(ctx, "st1", []Play{play}, testOpts)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AutoLinked)

	stored, err := store.LogsBySignature(ctx, sig)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].WorkID)
	assert.Equal(t, work.ID, *stored[0].WorkID)
	assert.Equal(t, match.ReasonBridge, stored[0].MatchReason)
}
