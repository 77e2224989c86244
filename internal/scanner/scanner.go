// SPDX-License-Identifier: MIT

// Package scanner walks the music library on disk and feeds the knowledge
// base: tags become artist → work → recording rows, file rows track paths
// and content hashes, and the vector index learns every recording text.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dhowden/tag"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/airwavehq/airwave/internal/library"
	"github.com/airwavehq/airwave/internal/log"
	"github.com/airwavehq/airwave/internal/normalize"
	"github.com/airwavehq/airwave/internal/vector"
)

// Options bound one scan run.
type Options struct {
	Root       string
	Extensions []string
	MaxFileMB  int
	Workers    int
	Fuzzy      library.FuzzyOpts
}

// Stats summarizes one completed scan.
type Stats struct {
	Scanned  int `json:"scanned"`
	Added    int `json:"added"`
	Updated  int `json:"updated"`
	Moved    int `json:"moved"`
	Corrupt  int `json:"corrupt"`
	Orphaned int `json:"orphaned"`
}

// ProgressFunc receives (current, total, message) updates during a scan.
type ProgressFunc func(current, total int, message string)

// Scanner ingests audio files into the knowledge base.
type Scanner struct {
	store  *library.Store
	index  *vector.Index
	logger zerolog.Logger

	mu      sync.Mutex
	running bool

	// per-artist locks serialize KB writes touching the same artist, so
	// concurrent workers never race the artist/work upsert chain.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	statsMu sync.Mutex
}

// New builds a scanner.
func New(store *library.Store, index *vector.Index) *Scanner {
	return &Scanner{
		store:  store,
		index:  index,
		logger: log.WithComponent("scanner"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Running reports whether a scan is in flight; the watcher uses this to
// avoid piling rescans on top of each other.
func (s *Scanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

type candidate struct {
	path    string
	size    int64
	modTime int64
}

// Scan walks the root, ingests every matching audio file, and garbage
// collects file rows whose paths vanished. Unreadable files count as corrupt
// and are skipped; they never abort the scan.
func (s *Scanner) Scan(ctx context.Context, opts Options, progress ProgressFunc) (Stats, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Stats{}, fmt.Errorf("%w: scan already running", library.ErrConflict)
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, span := otel.Tracer("airwave/scanner").Start(ctx, "scan.root",
		trace.WithAttributes(attribute.String("scan.root", opts.Root)))
	defer span.End()

	root, err := filepath.EvalSymlinks(opts.Root)
	if err != nil {
		return Stats{}, fmt.Errorf("resolve scan root: %w", err)
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 4
	}
	maxBytes := int64(opts.MaxFileMB) * 1024 * 1024

	candidates, err := s.collect(ctx, root, opts.Extensions, maxBytes)
	if err != nil {
		return Stats{}, err
	}
	s.logger.Info().Str("event", "scan.started").
		Str("root", root).Int("files", len(candidates)).Msg("library scan started")

	var stats Stats
	seen := make(map[string]struct{}, len(candidates))
	var seenMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	var done int
	for _, c := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, err := s.ingest(gctx, c, opts.Fuzzy)
			s.statsMu.Lock()
			stats.Scanned++
			done++
			current := done
			switch {
			case err != nil:
				stats.Corrupt++
			case outcome == outcomeAdded:
				stats.Added++
			case outcome == outcomeUpdated:
				stats.Updated++
			case outcome == outcomeMoved:
				stats.Moved++
			}
			s.statsMu.Unlock()
			if err != nil {
				s.logger.Warn().Str("event", "scan.file.corrupt").
					Str("path", c.path).Err(err).Msg("file skipped")
			} else {
				seenMu.Lock()
				seen[c.path] = struct{}{}
				seenMu.Unlock()
			}
			if progress != nil {
				progress(current, len(candidates), "scanning library")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	orphaned, err := s.collectOrphans(ctx, root, seen)
	if err != nil {
		return stats, err
	}
	stats.Orphaned = orphaned

	s.index.Flush()
	s.logger.Info().Str("event", "scan.completed").
		Int("scanned", stats.Scanned).Int("added", stats.Added).
		Int("updated", stats.Updated).Int("moved", stats.Moved).
		Int("corrupt", stats.Corrupt).Int("orphaned", stats.Orphaned).
		Msg("library scan finished")
	return stats, nil
}

// collect walks the tree and returns the files worth ingesting. Symlinks
// escaping the root are refused.
func (s *Scanner) collect(ctx context.Context, root string, extensions []string, maxBytes int64) ([]candidate, error) {
	extSet := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		extSet[strings.ToLower(e)] = struct{}{}
	}

	var out []candidate
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := extSet[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if rel, err := filepath.Rel(root, resolved); err != nil || strings.HasPrefix(rel, "..") {
			s.logger.Warn().Str("event", "scan.symlink.escaped").
				Str("path", path).Msg("symlink target outside root, skipped")
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if maxBytes > 0 && info.Size() > maxBytes {
			return nil
		}
		out = append(out, candidate{path: path, size: info.Size(), modTime: info.ModTime().Unix()})
		return nil
	})
	return out, err
}

type ingestOutcome int

const (
	outcomeUnchanged ingestOutcome = iota
	outcomeAdded
	outcomeUpdated
	outcomeMoved
)

// ingest reads one file's tags and hash and upserts the KB chain. Writes
// for the same primary artist are serialized.
func (s *Scanner) ingest(ctx context.Context, c candidate, fuzzy library.FuzzyOpts) (ingestOutcome, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return outcomeUnchanged, fmt.Errorf("%w: %v", library.ErrCorrupt, err)
	}
	defer func() { _ = f.Close() }()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return outcomeUnchanged, fmt.Errorf("%w: unreadable tags: %v", library.ErrCorrupt, err)
	}
	rawArtist := strings.TrimSpace(meta.Artist())
	rawTitle := strings.TrimSpace(meta.Title())
	if rawArtist == "" || rawTitle == "" {
		return outcomeUnchanged, fmt.Errorf("%w: missing artist or title tag", library.ErrCorrupt)
	}
	album := strings.TrimSpace(meta.Album())

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return outcomeUnchanged, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return outcomeUnchanged, fmt.Errorf("%w: hashing: %v", library.ErrCorrupt, err)
	}
	contentHash := hex.EncodeToString(h.Sum(nil))

	// Unchanged fast path: same path, same content.
	pathKnown := false
	if existing, err := s.store.FileByPath(ctx, c.path); err == nil {
		if existing.ContentHash == contentHash {
			return outcomeUnchanged, nil
		}
		pathKnown = true
	}

	// The first split name is the primary artist; the rest attach to the
	// work as collaborators below.
	artistName := normalize.CleanArtist(rawArtist)
	if names := normalize.SplitArtists(rawArtist); len(names) > 1 {
		artistName = names[0]
	}

	unlock := s.lockArtist(artistName)
	defer unlock()

	fi, err := f.Stat()
	if err != nil {
		return outcomeUnchanged, err
	}

	artist, err := s.store.UpsertArtist(ctx, artistName, rawArtist)
	if err != nil {
		return outcomeUnchanged, err
	}
	workTitle, versionType := normalize.ExtractVersion(rawTitle, album)
	work, err := s.store.UpsertWork(ctx, workTitle, artist.ID, fuzzy)
	if err != nil {
		return outcomeUnchanged, err
	}
	if err := s.store.LinkMultiArtists(ctx, work.ID, rawArtist); err != nil {
		return outcomeUnchanged, err
	}
	recording, err := s.store.UpsertRecording(ctx, work.ID, workTitle, versionType, 0, "")
	if err != nil {
		return outcomeUnchanged, err
	}

	outcome := outcomeAdded
	if pathKnown {
		outcome = outcomeUpdated
	} else if prior, err := s.store.FileByHash(ctx, contentHash); err == nil {
		// Same content at a new path: a move, if the old path is gone.
		if _, statErr := os.Stat(prior.Path); os.IsNotExist(statErr) {
			if err := s.store.MoveFile(ctx, prior.ID, c.path, fi.Size(), fi.ModTime()); err != nil {
				return outcomeUnchanged, err
			}
			s.index.Upsert(recording.ID, artistName+" - "+workTitle)
			return outcomeMoved, nil
		}
	}
	if _, err := s.store.UpsertFile(ctx, recording.ID, c.path, contentHash, fi.Size(), fi.ModTime()); err != nil {
		return outcomeUnchanged, err
	}

	s.index.Upsert(recording.ID, artistName+" - "+workTitle)
	return outcome, nil
}

// collectOrphans removes file rows under root whose path no longer exists on
// disk. Recordings keep their rows; only the file link dies.
func (s *Scanner) collectOrphans(ctx context.Context, root string, seen map[string]struct{}) (int, error) {
	files, err := s.store.AllFiles(ctx)
	if err != nil {
		return 0, err
	}
	var removed int
	for _, f := range files {
		if _, ok := seen[f.Path]; ok {
			continue
		}
		if rel, err := filepath.Rel(root, f.Path); err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if _, err := os.Stat(f.Path); err == nil {
			continue
		}
		if err := s.store.DeleteFile(ctx, f.ID); err != nil {
			return removed, err
		}
		removed++
		s.logger.Debug().Str("event", "scan.orphan.removed").Str("path", f.Path).Msg("stale file row removed")
	}
	return removed, nil
}

func (s *Scanner) lockArtist(name string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	s.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}
