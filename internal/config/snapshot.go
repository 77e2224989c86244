// SPDX-License-Identifier: MIT

package config

import (
	"sync/atomic"

	"github.com/airwavehq/airwave/internal/log"
)

// Snapshot is the immutable, effective runtime configuration.
// Callers read it by value; a new snapshot replaces the old one atomically so
// a match batch never observes torn threshold values.
type Snapshot struct {
	App AppConfig
}

// Manager holds the current configuration snapshot and swaps it atomically.
type Manager struct {
	current atomic.Pointer[Snapshot]
	loader  *Loader
}

// NewManager creates a manager seeded with the given configuration.
func NewManager(cfg AppConfig, loader *Loader) *Manager {
	m := &Manager{loader: loader}
	snap := Snapshot{App: cfg}
	m.current.Store(&snap)
	return m
}

// Current returns the active snapshot.
func (m *Manager) Current() Snapshot {
	return *m.current.Load()
}

// SetThresholds validates and installs new matcher thresholds, preserving the
// rest of the active snapshot.
func (m *Manager) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	for {
		old := m.current.Load()
		next := *old
		next.App.Match = t
		if m.current.CompareAndSwap(old, &next) {
			lg := log.WithComponent("config")
			lg.Info().
				Str("event", "config.thresholds").
				Float64("artist_auto", t.ArtistAuto).
				Float64("artist_review", t.ArtistReview).
				Float64("title_auto", t.TitleAuto).
				Float64("title_review", t.TitleReview).
				Msg("matcher thresholds updated")
			return nil
		}
	}
}

// Reload re-runs the loader and installs the result, keeping any threshold
// overrides that were applied through SetThresholds since the last load.
func (m *Manager) Reload() error {
	if m.loader == nil {
		return nil
	}
	cfg, err := m.loader.Load()
	if err != nil {
		lg := log.WithComponent("config")
		lg.Error().
			Err(err).
			Str("event", "config.reload.error").
			Msg("config reload failed, keeping previous snapshot")
		return err
	}
	for {
		old := m.current.Load()
		next := Snapshot{App: cfg}
		next.App.Match = old.App.Match // API overrides win over file/env
		if m.current.CompareAndSwap(old, &next) {
			lg := log.WithComponent("config")
			lg.Info().
				Str("event", "config.reload").
				Msg("configuration reloaded")
			return nil
		}
	}
}
