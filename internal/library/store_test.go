// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "airwave.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var testFuzzy = FuzzyOpts{Threshold: 0.85, MaxWorks: 500}

func TestUpsertArtistIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.UpsertArtist(ctx, "the beatles", "The Beatles")
	require.NoError(t, err)
	second, err := store.UpsertArtist(ctx, "the beatles", "THE BEATLES")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "The Beatles", second.DisplayName, "first sighting wins")

	_, err = store.UpsertArtist(ctx, "", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpsertWorkExactAndFuzzy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	artist, err := store.UpsertArtist(ctx, "10000 maniacs", "")
	require.NoError(t, err)

	base, err := store.UpsertWork(ctx, "candy everybody wants", artist.ID, testFuzzy)
	require.NoError(t, err)

	// Exact repeat.
	again, err := store.UpsertWork(ctx, "candy everybody wants", artist.ID, testFuzzy)
	require.NoError(t, err)
	assert.Equal(t, base.ID, again.ID)

	// Near-identical title groups fuzzily.
	fuzzy, err := store.UpsertWork(ctx, "candy everybody want", artist.ID, testFuzzy)
	require.NoError(t, err)
	assert.Equal(t, base.ID, fuzzy.ID)

	// Distant title creates a new work.
	other, err := store.UpsertWork(ctx, "trouble me", artist.ID, testFuzzy)
	require.NoError(t, err)
	assert.NotEqual(t, base.ID, other.ID)
}

// Titles differing only in part number are distinct works even above the
// fuzzy threshold.
func TestUpsertWorkPartDiscrimination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	artist, err := store.UpsertArtist(ctx, "van beethoven", "")
	require.NoError(t, err)

	part1, err := store.UpsertWork(ctx, "symphony no. 5 (part 1)", artist.ID, testFuzzy)
	require.NoError(t, err)
	part2, err := store.UpsertWork(ctx, "symphony no. 5 (part 2)", artist.ID, testFuzzy)
	require.NoError(t, err)

	assert.NotEqual(t, part1.ID, part2.ID)

	// Re-upserting either lands on the existing row.
	again, err := store.UpsertWork(ctx, "symphony no. 5 (part 2)", artist.ID, testFuzzy)
	require.NoError(t, err)
	assert.Equal(t, part2.ID, again.ID)
}

func TestUpsertWorkFuzzySkippedAboveMaxWorks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	artist, err := store.UpsertArtist(ctx, "prolific", "")
	require.NoError(t, err)

	opts := FuzzyOpts{Threshold: 0.85, MaxWorks: 1}
	_, err = store.UpsertWork(ctx, "song alpha", artist.ID, opts)
	require.NoError(t, err)
	_, err = store.UpsertWork(ctx, "song beta", artist.ID, opts)
	require.NoError(t, err)

	// Two works exceed MaxWorks; a near-duplicate now inserts instead of
	// grouping.
	third, err := store.UpsertWork(ctx, "song betas", artist.ID, opts)
	require.NoError(t, err)

	count, err := store.CountWorksByArtist(ctx, artist.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, "song betas", third.Title)
}

func TestUpsertRecordingUniqueness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	artist, err := store.UpsertArtist(ctx, "queen", "")
	require.NoError(t, err)
	work, err := store.UpsertWork(ctx, "one vision", artist.ID, testFuzzy)
	require.NoError(t, err)

	first, err := store.UpsertRecording(ctx, work.ID, "one vision", "Original", 0, "")
	require.NoError(t, err)
	second, err := store.UpsertRecording(ctx, work.ID, "one vision", "Original", 243, "mbid-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 243, second.DurationSeconds, "duration fills in when newly known")
	assert.Equal(t, "mbid-1", second.ExternalID)

	live, err := store.UpsertRecording(ctx, work.ID, "one vision", "Live", 0, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, live.ID)

	recs, err := store.RecordingsByWork(ctx, work.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestUpsertFileAndMoveDetection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	artist, err := store.UpsertArtist(ctx, "royksopp", "")
	require.NoError(t, err)
	work, err := store.UpsertWork(ctx, "eple", artist.ID, testFuzzy)
	require.NoError(t, err)
	rec, err := store.UpsertRecording(ctx, work.ID, "eple", "Original", 0, "")
	require.NoError(t, err)

	mod := time.Now().Truncate(time.Second)
	f, err := store.UpsertFile(ctx, rec.ID, "/music/a/eple.flac", "hash-1", 1000, mod)
	require.NoError(t, err)

	// Same hash at a different path: the scanner repoints the row.
	found, err := store.FileByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.NoError(t, store.MoveFile(ctx, found.ID, "/music/b/eple.flac", 1000, mod))

	moved, err := store.FileByPath(ctx, "/music/b/eple.flac")
	require.NoError(t, err)
	assert.Equal(t, f.ID, moved.ID)
	assert.Equal(t, rec.ID, moved.RecordingID)

	_, err = store.FileByPath(ctx, "/music/a/eple.flac")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMergeArtists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	source, err := store.UpsertArtist(ctx, "beatles", "")
	require.NoError(t, err)
	target, err := store.UpsertArtist(ctx, "the beatles", "")
	require.NoError(t, err)

	w, err := store.UpsertWork(ctx, "hey jude", source.ID, testFuzzy)
	require.NoError(t, err)

	require.NoError(t, store.MergeArtists(ctx, source.ID, target.ID))

	merged, err := store.WorkByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, merged.ArtistID)

	_, err = store.ArtistByID(ctx, source.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.MergeArtists(ctx, target.ID, target.ID), ErrValidation)
}

func TestMergeWorksRetargetsWeakRefs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	artist, err := store.UpsertArtist(ctx, "new order", "")
	require.NoError(t, err)
	source, err := store.UpsertWork(ctx, "blue monday 88", artist.ID, FuzzyOpts{})
	require.NoError(t, err)
	target, err := store.UpsertWork(ctx, "blue monday", artist.ID, FuzzyOpts{})
	require.NoError(t, err)

	// Colliding recording on both sides plus one unique to the source.
	srcRec, err := store.UpsertRecording(ctx, source.ID, "blue monday", "Original", 0, "")
	require.NoError(t, err)
	tgtRec, err := store.UpsertRecording(ctx, target.ID, "blue monday", "Original", 0, "")
	require.NoError(t, err)
	_, err = store.UpsertRecording(ctx, source.ID, "blue monday", "Remix", 0, "")
	require.NoError(t, err)

	_, err = store.UpsertFile(ctx, srcRec.ID, "/music/bm88.mp3", "h88", 10, time.Now())
	require.NoError(t, err)

	logID, err := store.InsertBroadcastLog(ctx, "st1", time.Now(), "New Order", "Blue Monday 88", "sig-bm")
	require.NoError(t, err)
	require.NoError(t, store.SetLogWork(ctx, logID, source.ID, "auto_link"))

	require.NoError(t, store.MergeWorks(ctx, source.ID, target.ID))

	// The colliding recording donated its file to the target's recording.
	files, err := store.FilesByRecording(ctx, tgtRec.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)

	// The log follows the merge.
	merged, err := store.LogByID(ctx, logID)
	require.NoError(t, err)
	require.NotNil(t, merged.WorkID)
	assert.Equal(t, target.ID, *merged.WorkID)

	_, err = store.WorkByID(ctx, source.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	recs, err := store.RecordingsByWork(ctx, target.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 2, "original plus moved remix")
}

func TestSetLogWorkExactlyOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	artist, err := store.UpsertArtist(ctx, "abba", "")
	require.NoError(t, err)
	w1, err := store.UpsertWork(ctx, "sos", artist.ID, FuzzyOpts{})
	require.NoError(t, err)
	w2, err := store.UpsertWork(ctx, "waterloo", artist.ID, FuzzyOpts{})
	require.NoError(t, err)

	logID, err := store.InsertBroadcastLog(ctx, "st1", time.Now(), "ABBA", "SOS", "sig-sos")
	require.NoError(t, err)

	require.NoError(t, store.SetLogWork(ctx, logID, w1.ID, "auto_link"))
	// Agreeing rewrite is a no-op.
	require.NoError(t, store.SetLogWork(ctx, logID, w1.ID, "auto_link"))
	// Disagreeing rewrite is rejected.
	assert.ErrorIs(t, store.SetLogWork(ctx, logID, w2.ID, "auto_link"), ErrConflict)
}

func TestQueueUpsertRefreshRules(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	work := int64(7)
	better := int64(9)

	require.NoError(t, store.UpsertQueueItem(ctx, "sig-q", "Artist", "Title", &work, QueueScores{ArtistSim: 0.72, TitleSim: 0.80}))
	require.NoError(t, store.UpsertQueueItem(ctx, "sig-q", "Artist", "Title", &better, QueueScores{ArtistSim: 0.78, TitleSim: 0.60}))

	item, err := store.QueueItem(ctx, "sig-q")
	require.NoError(t, err)
	assert.Equal(t, 2, item.Count)
	// min(0.78, 0.60) < min(0.72, 0.80): suggestion must not refresh.
	require.NotNil(t, item.SuggestedWorkID)
	assert.Equal(t, work, *item.SuggestedWorkID)
	assert.InDelta(t, 0.72, item.BestArtistSim, 1e-9)

	require.NoError(t, store.UpsertQueueItem(ctx, "sig-q", "Artist", "Title", &better, QueueScores{ArtistSim: 0.95, TitleSim: 0.90}))
	item, err = store.QueueItem(ctx, "sig-q")
	require.NoError(t, err)
	assert.Equal(t, 3, item.Count)
	assert.Equal(t, better, *item.SuggestedWorkID)
	assert.InDelta(t, 0.90, item.BestTitleSim, 1e-9)
}

func TestQueueSkipCooldown(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertQueueItem(ctx, "sig-skip", "A", "T", nil, QueueScores{}))
	require.NoError(t, store.SkipQueueItem(ctx, "sig-skip", time.Now().Add(time.Hour)))

	items, err := store.ListQueue(ctx, QueueFilterAll, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, items, "skipped item must not resurface before cool-down")

	require.NoError(t, store.SkipQueueItem(ctx, "sig-skip", time.Now().Add(-time.Minute)))
	items, err = store.ListQueue(ctx, QueueFilterAll, 10, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestBridgeBackfillTx(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	artist, err := store.UpsertArtist(ctx, "the beatles", "")
	require.NoError(t, err)
	work, err := store.UpsertWork(ctx, "hey jude", artist.ID, FuzzyOpts{})
	require.NoError(t, err)

	var logIDs []int64
	for range 3 {
		id, err := store.InsertBroadcastLog(ctx, "st1", time.Now(), "BEATLES", "HEY JUDE", "sig-hj")
		require.NoError(t, err)
		logIDs = append(logIDs, id)
	}
	// One log with a different signature stays untouched.
	otherID, err := store.InsertBroadcastLog(ctx, "st1", time.Now(), "ABBA", "SOS", "sig-other")
	require.NoError(t, err)

	var backfilled []int64
	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.UpsertBridgeTx(ctx, tx, IdentityBridge{
			Signature: "sig-hj", ReferenceArtist: "BEATLES", ReferenceTitle: "HEY JUDE",
			WorkID: work.ID, Confidence: 1.0,
		}); err != nil {
			return err
		}
		ids, err := store.BackfillSignatureTx(ctx, tx, "sig-hj", work.ID, "identity_bridge")
		backfilled = ids
		return err
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, logIDs, backfilled)

	for _, id := range logIDs {
		l, err := store.LogByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, l.WorkID)
		assert.Equal(t, work.ID, *l.WorkID)
		assert.Equal(t, "identity_bridge", l.MatchReason)
	}
	other, err := store.LogByID(ctx, otherID)
	require.NoError(t, err)
	assert.Nil(t, other.WorkID)

	bridges, err := store.BridgesBySignatures(ctx, []string{"sig-hj", "sig-other"})
	require.NoError(t, err)
	require.Len(t, bridges, 1)
	assert.Equal(t, work.ID, bridges["sig-hj"].WorkID)

	// Revoked bridges disappear from batched lookups.
	require.NoError(t, store.RevokeBridge(ctx, "sig-hj"))
	bridges, err = store.BridgesBySignatures(ctx, []string{"sig-hj"})
	require.NoError(t, err)
	assert.Empty(t, bridges)
}

func TestAliases(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertAlias(ctx, "BEATLES", "the beatles", true))
	resolved, err := store.ResolveAlias(ctx, "BEATLES")
	require.NoError(t, err)
	assert.Equal(t, "the beatles", resolved)

	// Unknown names pass through unchanged.
	resolved, err = store.ResolveAlias(ctx, "queen")
	require.NoError(t, err)
	assert.Equal(t, "queen", resolved)

	batch, err := store.ResolveAliases(ctx, []string{"BEATLES", "queen"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"BEATLES": "the beatles"}, batch)
}

func TestProposedSplitLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	split, err := store.ProposeSplit(ctx, "Simon & Garfunkel", []string{"simon", "garfunkel"})
	require.NoError(t, err)
	assert.Equal(t, SplitProposed, split.Status)

	require.NoError(t, store.ResolveSplit(ctx, split.ID, SplitEdited, []string{"paul simon", "art garfunkel"}))
	edited, err := store.SplitByID(ctx, split.ID)
	require.NoError(t, err)
	assert.Equal(t, SplitEdited, edited.Status)
	assert.Equal(t, []string{"paul simon", "art garfunkel"}, edited.Parts)

	assert.ErrorIs(t, store.ResolveSplit(ctx, split.ID, SplitStatus("bogus"), nil), ErrValidation)

	_, err = store.ProposeSplit(ctx, "solo", []string{"solo"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestExactCandidatesPreference(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	artist, err := store.UpsertArtist(ctx, "david bowie", "")
	require.NoError(t, err)
	work, err := store.UpsertWork(ctx, "heroes", artist.ID, FuzzyOpts{})
	require.NoError(t, err)

	live, err := store.UpsertRecording(ctx, work.ID, "heroes", "Live", 0, "")
	require.NoError(t, err)
	original, err := store.UpsertRecording(ctx, work.ID, "heroes", "Original", 0, "")
	require.NoError(t, err)
	_ = live

	hits, err := store.ExactCandidates(ctx, []string{"david bowie|heroes", "nobody|nothing"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, original.ID, hits["david bowie|heroes"].RecordingID, "Original preferred over Live")
}

func TestCollectStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	artist, err := store.UpsertArtist(ctx, "m83", "")
	require.NoError(t, err)
	_, err = store.UpsertWork(ctx, "midnight city", artist.ID, FuzzyOpts{})
	require.NoError(t, err)
	_, err = store.InsertBroadcastLog(ctx, "st1", time.Now(), "M83", "Midnight City", "sig-mc")
	require.NoError(t, err)

	stats, err := store.CollectStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Artists)
	assert.Equal(t, 1, stats.Works)
	assert.Equal(t, 1, stats.Logs)
	assert.Equal(t, 1, stats.UnmatchedLogs)
}
