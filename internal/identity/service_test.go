// SPDX-License-Identifier: MIT

package identity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwavehq/airwave/internal/audit"
	"github.com/airwavehq/airwave/internal/library"
	"github.com/airwavehq/airwave/internal/normalize"
)

type fixture struct {
	store   *library.Store
	service *Service
	workID  int64
	sig     string
	logIDs  []int64
}

// setup seeds: one work, three unlinked logs sharing a signature, and the
// queue item aggregating them.
func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	store, err := library.NewStore(filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	artist, err := store.UpsertArtist(ctx, "the beatles", "")
	require.NoError(t, err)
	work, err := store.UpsertWork(ctx, "hey jude", artist.ID, library.FuzzyOpts{})
	require.NoError(t, err)

	sig := normalize.Signature("BEATLES", "HEY JUDE")
	var logIDs []int64
	for range 3 {
		id, err := store.InsertBroadcastLog(ctx, "st1", time.Now(), "BEATLES", "HEY JUDE", sig)
		require.NoError(t, err)
		logIDs = append(logIDs, id)
	}
	require.NoError(t, store.UpsertQueueItem(ctx, sig, "BEATLES", "HEY JUDE", nil, library.QueueScores{}))

	service := New(store, audit.NewRecorder(store.DB()), 30)
	return fixture{store: store, service: service, workID: work.ID, sig: sig, logIDs: logIDs}
}

func TestLinkBackfillsAndRetiresQueue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	result, err := f.service.Link(ctx, f.sig, f.workID, "operator")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Backfilled)

	// All logs with the signature acquired the work.
	for _, id := range f.logIDs {
		l, err := f.store.LogByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, l.WorkID)
		assert.Equal(t, f.workID, *l.WorkID)
		assert.Equal(t, "identity_bridge", l.MatchReason)
	}

	// Queue item retired; bridge active.
	_, err = f.store.QueueItem(ctx, f.sig)
	assert.ErrorIs(t, err, library.ErrNotFound)
	bridge, err := f.store.BridgeBySignature(ctx, f.sig)
	require.NoError(t, err)
	assert.False(t, bridge.IsRevoked)
	assert.Equal(t, f.workID, bridge.WorkID)
	assert.Equal(t, "BEATLES", bridge.ReferenceArtist)
}

// Linking the same pair twice is a no-op after the first success.
func TestLinkIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.service.Link(ctx, f.sig, f.workID, "operator")
	require.NoError(t, err)
	assert.Equal(t, 3, first.Backfilled)

	second, err := f.service.Link(ctx, f.sig, f.workID, "operator")
	require.NoError(t, err)
	assert.Zero(t, second.Backfilled, "nothing left to backfill")

	bridge, err := f.store.BridgeBySignature(ctx, f.sig)
	require.NoError(t, err)
	assert.Equal(t, f.workID, bridge.WorkID)
}

func TestUndoReversesLink(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	result, err := f.service.Link(ctx, f.sig, f.workID, "operator")
	require.NoError(t, err)

	require.NoError(t, f.service.Undo(ctx, result.AuditID, "operator"))

	// Logs unlinked again.
	for _, id := range f.logIDs {
		l, err := f.store.LogByID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, l.WorkID)
	}
	// Bridge gone, queue item restored.
	_, err = f.store.BridgeBySignature(ctx, f.sig)
	assert.ErrorIs(t, err, library.ErrNotFound)
	item, err := f.store.QueueItem(ctx, f.sig)
	require.NoError(t, err)
	assert.Equal(t, "BEATLES", item.RawArtist)

	// Undo is single-shot.
	assert.ErrorIs(t, f.service.Undo(ctx, result.AuditID, "operator"), audit.ErrNotUndoable)
}

// Undo then Link returns to the post-Link state.
func TestUndoThenRelink(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.service.Link(ctx, f.sig, f.workID, "operator")
	require.NoError(t, err)
	require.NoError(t, f.service.Undo(ctx, first.AuditID, "operator"))

	second, err := f.service.Link(ctx, f.sig, f.workID, "operator")
	require.NoError(t, err)
	assert.Equal(t, first.Backfilled, second.Backfilled)

	bridge, err := f.store.BridgeBySignature(ctx, f.sig)
	require.NoError(t, err)
	assert.Equal(t, f.workID, bridge.WorkID)
	assert.False(t, bridge.IsRevoked)
}

func TestPromoteFlipsVerifiedAndUndoRestores(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rec, err := f.store.UpsertRecording(ctx, f.workID, "hey jude", "Original", 0, "")
	require.NoError(t, err)
	require.False(t, rec.IsVerified)

	result, err := f.service.Promote(ctx, f.sig, f.workID, rec.ID, "operator")
	require.NoError(t, err)

	promoted, err := f.store.RecordingByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, promoted.IsVerified)

	require.NoError(t, f.service.Undo(ctx, result.AuditID, "operator"))
	restored, err := f.store.RecordingByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, restored.IsVerified)
}

func TestRevokeKeepsBackfill(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.Link(ctx, f.sig, f.workID, "operator")
	require.NoError(t, err)
	require.NoError(t, f.service.Revoke(ctx, f.sig, "operator"))

	bridge, err := f.store.BridgeBySignature(ctx, f.sig)
	require.NoError(t, err)
	assert.True(t, bridge.IsRevoked)

	// Historical logs keep their decisions.
	for _, id := range f.logIDs {
		l, err := f.store.LogByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, l.WorkID)
	}
}

func TestSkipAndUndo(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	auditID, err := f.service.Skip(ctx, f.sig, 14*24*time.Hour, "operator")
	require.NoError(t, err)

	item, err := f.store.QueueItem(ctx, f.sig)
	require.NoError(t, err)
	assert.True(t, item.Skipped(time.Now()))

	require.NoError(t, f.service.Undo(ctx, auditID, "operator"))
	item, err = f.store.QueueItem(ctx, f.sig)
	require.NoError(t, err)
	assert.False(t, item.Skipped(time.Now()))
}

func TestAliasAndUndo(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	auditID, err := f.service.Alias(ctx, "BEATLES", "the beatles", "operator")
	require.NoError(t, err)

	resolved, err := f.store.ResolveAlias(ctx, "BEATLES")
	require.NoError(t, err)
	assert.Equal(t, "the beatles", resolved)

	require.NoError(t, f.service.Undo(ctx, auditID, "operator"))
	resolved, err = f.store.ResolveAlias(ctx, "BEATLES")
	require.NoError(t, err)
	assert.Equal(t, "BEATLES", resolved, "alias removed again")
}

func TestBulkLinkSingleAuditEntry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Second signature with its own log.
	sig2 := normalize.Signature("QUEEN", "ONE VISION")
	artist, err := f.store.UpsertArtist(ctx, "queen", "")
	require.NoError(t, err)
	work2, err := f.store.UpsertWork(ctx, "one vision", artist.ID, library.FuzzyOpts{})
	require.NoError(t, err)
	_, err = f.store.InsertBroadcastLog(ctx, "st1", time.Now(), "QUEEN", "ONE VISION", sig2)
	require.NoError(t, err)

	results, err := f.service.BulkLink(ctx, []struct {
		Signature string `json:"signature"`
		WorkID    int64  `json:"work_id"`
	}{
		{Signature: f.sig, WorkID: f.workID},
		{Signature: sig2, WorkID: work2.ID},
	}, "operator")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, results[0].AuditID, results[1].AuditID, "one audit entry covers the batch")
	assert.Equal(t, 3, results[0].Backfilled)
	assert.Equal(t, 1, results[1].Backfilled)

	// Undoing the shared entry reverses both links.
	require.NoError(t, f.service.Undo(ctx, results[0].AuditID, "operator"))
	_, err = f.store.BridgeBySignature(ctx, f.sig)
	assert.ErrorIs(t, err, library.ErrNotFound)
	_, err = f.store.BridgeBySignature(ctx, sig2)
	assert.ErrorIs(t, err, library.ErrNotFound)
}

func TestUndoOutsideRetentionWindow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Retention window of zero days is treated as unlimited; use a
	// service with a 1-day window and a backdated entry instead.
	recorder := audit.NewRecorder(f.store.DB())
	shortService := New(f.store, recorder, 1)

	id, err := recorder.Record(ctx, audit.Entry{
		Action:    audit.ActionSkip,
		Subject:   f.sig,
		Payload:   []byte(`{"signature":"` + f.sig + `"}`),
		CreatedAt: time.Now().AddDate(0, 0, -3),
	})
	require.NoError(t, err)

	assert.ErrorIs(t, shortService.Undo(ctx, id, "operator"), audit.ErrNotUndoable)
}
