// SPDX-License-Identifier: MIT

package scanner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwavehq/airwave/internal/library"
	"github.com/airwavehq/airwave/internal/vector"
)

// id3v2 builds a minimal ID3v2.3 tag followed by fake audio payload.
func id3v2(artist, title, album string, payload []byte) []byte {
	frame := func(id, text string) []byte {
		body := append([]byte{0}, []byte(text)...) // latin-1 encoding marker
		var b bytes.Buffer
		b.WriteString(id)
		size := len(body)
		b.Write([]byte{byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size)})
		b.Write([]byte{0, 0})
		b.Write(body)
		return b.Bytes()
	}

	var frames bytes.Buffer
	frames.Write(frame("TPE1", artist))
	frames.Write(frame("TIT2", title))
	if album != "" {
		frames.Write(frame("TALB", album))
	}

	var out bytes.Buffer
	out.WriteString("ID3")
	out.Write([]byte{3, 0, 0})
	size := frames.Len()
	// syncsafe size: 7 bits per byte
	out.Write([]byte{
		byte(size >> 21 & 0x7f), byte(size >> 14 & 0x7f),
		byte(size >> 7 & 0x7f), byte(size & 0x7f),
	})
	out.Write(frames.Bytes())
	out.Write(payload)
	return out.Bytes()
}

func writeTrack(t *testing.T, dir, name, artist, title, album string, payload []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, id3v2(artist, title, album, payload), 0o644))
	return path
}

func newFixture(t *testing.T) (*library.Store, *vector.Index, *Scanner, string) {
	t.Helper()
	store, err := library.NewStore(filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	idx, err := vector.Open(filepath.Join(t.TempDir(), "vectors"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	root := t.TempDir()
	return store, idx, New(store, idx), root
}

func testOpts(root string) Options {
	return Options{
		Root:       root,
		Extensions: []string{".mp3"},
		MaxFileMB:  64,
		Workers:    2,
		Fuzzy:      library.FuzzyOpts{Threshold: 0.85, MaxWorks: 500},
	}
}

func TestScanIngestsLibrary(t *testing.T) {
	store, idx, sc, root := newFixture(t)
	ctx := context.Background()

	writeTrack(t, root, "beatles/hey-jude.mp3", "The Beatles", "Hey Jude", "", []byte("audio-1"))
	writeTrack(t, root, "queen/one-vision.mp3", "Queen", "One Vision", "", []byte("audio-2"))
	// Non-audio files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	stats, err := sc.Scan(ctx, testOpts(root), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 2, stats.Added)
	assert.Zero(t, stats.Corrupt)

	artist, err := store.ArtistByName(ctx, "the beatles")
	require.NoError(t, err)
	works, err := store.WorksByArtist(ctx, artist.ID)
	require.NoError(t, err)
	require.Len(t, works, 1)
	assert.Equal(t, "hey jude", works[0].Title)

	recs, err := store.RecordingsByWork(ctx, works[0].ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	files, err := store.FilesByRecording(ctx, recs[0].ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.NotEmpty(t, files[0].ContentHash)

	// The index learned both recordings.
	assert.Equal(t, 2, idx.Size())
}

func TestScanIdempotent(t *testing.T) {
	_, _, sc, root := newFixture(t)
	ctx := context.Background()

	writeTrack(t, root, "a/track.mp3", "Queen", "One Vision", "", []byte("audio"))

	_, err := sc.Scan(ctx, testOpts(root), nil)
	require.NoError(t, err)

	stats, err := sc.Scan(ctx, testOpts(root), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Zero(t, stats.Added)
	assert.Zero(t, stats.Updated)
	assert.Zero(t, stats.Moved)
}

func TestScanDetectsContentChange(t *testing.T) {
	_, _, sc, root := newFixture(t)
	ctx := context.Background()

	path := writeTrack(t, root, "a/track.mp3", "Queen", "One Vision", "", []byte("v1"))
	_, err := sc.Scan(ctx, testOpts(root), nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, id3v2("Queen", "One Vision", "", []byte("v2-remaster")), 0o644))
	stats, err := sc.Scan(ctx, testOpts(root), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
}

func TestScanDetectsMove(t *testing.T) {
	store, _, sc, root := newFixture(t)
	ctx := context.Background()

	old := writeTrack(t, root, "a/track.mp3", "Queen", "One Vision", "", []byte("same-bytes"))
	_, err := sc.Scan(ctx, testOpts(root), nil)
	require.NoError(t, err)
	before, err := store.AllFiles(ctx)
	require.NoError(t, err)
	require.Len(t, before, 1)

	moved := filepath.Join(root, "b", "renamed.mp3")
	require.NoError(t, os.MkdirAll(filepath.Dir(moved), 0o755))
	require.NoError(t, os.Rename(old, moved))

	stats, err := sc.Scan(ctx, testOpts(root), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Moved)
	assert.Zero(t, stats.Added)
	assert.Zero(t, stats.Orphaned, "a moved file is never collected as an orphan")

	files, err := store.AllFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1, "one row survives the move")
	assert.Equal(t, before[0].ID, files[0].ID, "the row is re-pathed, not replaced")
	assert.Equal(t, moved, files[0].Path)
}

func TestScanCountsCorruptAndContinues(t *testing.T) {
	store, _, sc, root := newFixture(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "garbage.mp3"), []byte("not audio at all"), 0o644))
	writeTrack(t, root, "good.mp3", "Queen", "One Vision", "", []byte("audio"))

	stats, err := sc.Scan(ctx, testOpts(root), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 1, stats.Corrupt)
	assert.Equal(t, 1, stats.Added)

	files, err := store.AllFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestScanRemovesOrphans(t *testing.T) {
	store, _, sc, root := newFixture(t)
	ctx := context.Background()

	path := writeTrack(t, root, "a/track.mp3", "Queen", "One Vision", "", []byte("audio"))
	_, err := sc.Scan(ctx, testOpts(root), nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	stats, err := sc.Scan(ctx, testOpts(root), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Orphaned)

	files, err := store.AllFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)

	// The recording itself survives without files.
	artist, err := store.ArtistByName(ctx, "queen")
	require.NoError(t, err)
	works, err := store.WorksByArtist(ctx, artist.ID)
	require.NoError(t, err)
	require.Len(t, works, 1)
}

// A "(Live)" suffix becomes the recording's version type while the work
// keeps the base title.
func TestScanExtractsVersion(t *testing.T) {
	store, _, sc, root := newFixture(t)
	ctx := context.Background()

	writeTrack(t, root, "a/studio.mp3", "Queen", "One Vision", "", []byte("audio-a"))
	writeTrack(t, root, "a/live.mp3", "Queen", "One Vision (Live)", "", []byte("audio-b"))

	_, err := sc.Scan(ctx, testOpts(root), nil)
	require.NoError(t, err)

	artist, err := store.ArtistByName(ctx, "queen")
	require.NoError(t, err)
	works, err := store.WorksByArtist(ctx, artist.ID)
	require.NoError(t, err)
	require.Len(t, works, 1, "both versions group under one work")

	recs, err := store.RecordingsByWork(ctx, works[0].ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	versions := []string{recs[0].VersionType, recs[1].VersionType}
	assert.Contains(t, versions, "Live")
}

func TestScanRefusesConcurrentRun(t *testing.T) {
	_, _, sc, root := newFixture(t)

	sc.mu.Lock()
	sc.running = true
	sc.mu.Unlock()

	_, err := sc.Scan(context.Background(), testOpts(root), nil)
	assert.ErrorIs(t, err, library.ErrConflict)
}

func TestScanCollaborationLinksAllArtists(t *testing.T) {
	store, _, sc, root := newFixture(t)
	ctx := context.Background()

	writeTrack(t, root, "a/duet.mp3", "Queen & David Bowie", "Under Pressure", "", []byte("audio"))

	_, err := sc.Scan(ctx, testOpts(root), nil)
	require.NoError(t, err)

	primary, err := store.ArtistByName(ctx, "queen")
	require.NoError(t, err)
	works, err := store.WorksByArtist(ctx, primary.ID)
	require.NoError(t, err)
	require.Len(t, works, 1)

	linked, err := store.WorkArtists(ctx, works[0].ID)
	require.NoError(t, err)
	names := make([]string, 0, len(linked))
	for _, wa := range linked {
		a, err := store.ArtistByID(ctx, wa.ArtistID)
		require.NoError(t, err)
		names = append(names, a.Name)
	}
	assert.Contains(t, names, "david bowie")
}
