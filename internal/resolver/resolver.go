// SPDX-License-Identifier: MIT

// Package resolver answers "which audio file should play for this work on
// this station in this format". The policy walks a fixed priority chain and
// only ever returns recordings with a playable file. Answers are cached per
// (work, station, format) with a TTL; writers invalidate per work.
package resolver

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/airwavehq/airwave/internal/library"
	"github.com/airwavehq/airwave/internal/log"
)

// Source names the rule that produced a resolution.
type Source string

const (
	SourceStation Source = "station_preference"
	SourceFormat  Source = "format_preference"
	SourceDefault Source = "work_default"
	SourceAnyFile Source = "any_file"
	// SourceNone means no recording of the work has a file on disk.
	SourceNone Source = "none"
)

// Resolution is the playback answer for one (work, station, format) triple.
type Resolution struct {
	WorkID      int64  `json:"work_id"`
	RecordingID int64  `json:"recording_id,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
	Source      Source `json:"source"`
}

// Playable reports whether the resolution points at an actual file.
func (r Resolution) Playable() bool { return r.Source != SourceNone }

// Service resolves works to files through the preference chain.
type Service struct {
	store  *library.Store
	cache  Cache
	ttl    time.Duration
	group  singleflight.Group
	logger zerolog.Logger
}

// New builds a resolver. ttl bounds cache staleness when a writer forgets to
// invalidate.
func New(store *library.Store, cache Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{store: store, cache: cache, ttl: ttl, logger: log.WithComponent("resolver")}
}

// Resolve walks the priority chain: station pin, format pin, work default,
// any recording with a file, none. Concurrent lookups of the same key are
// collapsed into one chain walk.
func (s *Service) Resolve(ctx context.Context, workID int64, stationID, formatCode string) (Resolution, error) {
	key := cacheKey(workID, stationID, formatCode)
	if cached, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.logger.Warn().Str("event", "resolver.cache.get_failed").Err(err).Msg("cache read failed, resolving directly")
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		res, err := s.resolve(ctx, workID, stationID, formatCode)
		if err != nil {
			return Resolution{}, err
		}
		if err := s.cache.Set(ctx, key, res, s.ttl); err != nil {
			s.logger.Warn().Str("event", "resolver.cache.set_failed").Err(err).Msg("cache write failed")
		}
		return res, nil
	})
	if err != nil {
		return Resolution{}, err
	}
	return v.(Resolution), nil
}

// Invalidate drops every cached answer for a work. File and preference
// writers call this after committing.
func (s *Service) Invalidate(ctx context.Context, workID int64) error {
	return s.cache.InvalidateWork(ctx, workID)
}

func (s *Service) resolve(ctx context.Context, workID int64, stationID, formatCode string) (Resolution, error) {
	if _, err := s.store.WorkByID(ctx, workID); err != nil {
		return Resolution{}, err
	}

	if stationID != "" {
		prefs, err := s.store.StationPreferences(ctx, stationID, workID)
		if err != nil {
			return Resolution{}, err
		}
		for _, p := range prefs {
			if path, ok, err := s.firstFile(ctx, p.RecordingID); err != nil {
				return Resolution{}, err
			} else if ok {
				return Resolution{WorkID: workID, RecordingID: p.RecordingID, FilePath: path, Source: SourceStation}, nil
			}
		}
	}

	// The format pin carries exclude tags that bind uniformly: they veto the
	// pinned recording itself and constrain the fallback scan below.
	var excludeTags []string
	if formatCode != "" {
		pref, ok, err := s.store.FormatPreferenceFor(ctx, formatCode, workID)
		if err != nil {
			return Resolution{}, err
		}
		if ok {
			excludeTags = pref.ExcludeTags
			pinned, err := s.store.RecordingByID(ctx, pref.RecordingID)
			if err != nil {
				return Resolution{}, err
			}
			if !tagsIntersect(pinned.VersionTags(), excludeTags) {
				if path, found, err := s.firstFile(ctx, pref.RecordingID); err != nil {
					return Resolution{}, err
				} else if found {
					return Resolution{WorkID: workID, RecordingID: pref.RecordingID, FilePath: path, Source: SourceFormat}, nil
				}
			}
		}
	}

	if recID, ok, err := s.store.WorkDefaultRecordingFor(ctx, workID); err != nil {
		return Resolution{}, err
	} else if ok {
		if path, found, err := s.firstFile(ctx, recID); err != nil {
			return Resolution{}, err
		} else if found {
			return Resolution{WorkID: workID, RecordingID: recID, FilePath: path, Source: SourceDefault}, nil
		}
	}

	recs, err := s.store.RecordingsByWork(ctx, workID)
	if err != nil {
		return Resolution{}, err
	}
	for _, rec := range recs {
		if tagsIntersect(rec.VersionTags(), excludeTags) {
			continue
		}
		if path, ok, err := s.firstFile(ctx, rec.ID); err != nil {
			return Resolution{}, err
		} else if ok {
			return Resolution{WorkID: workID, RecordingID: rec.ID, FilePath: path, Source: SourceAnyFile}, nil
		}
	}

	return Resolution{WorkID: workID, Source: SourceNone}, nil
}

func (s *Service) firstFile(ctx context.Context, recordingID int64) (string, bool, error) {
	files, err := s.store.FilesByRecording(ctx, recordingID)
	if err != nil {
		return "", false, err
	}
	if len(files) == 0 {
		return "", false, nil
	}
	return files[0].Path, true, nil
}

func tagsIntersect(tags, exclude []string) bool {
	if len(tags) == 0 || len(exclude) == 0 {
		return false
	}
	for _, t := range tags {
		for _, e := range exclude {
			if t == e {
				return true
			}
		}
	}
	return false
}
