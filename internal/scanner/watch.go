// SPDX-License-Identifier: MIT

package scanner

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the library root and calls trigger after the tree has been
// quiet for delay. New directories are added to the watch as they appear.
// Watch blocks until ctx is cancelled.
func (s *Scanner) Watch(ctx context.Context, root string, delay time.Duration, trigger func()) error {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	addTree := func(dir string) {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			_ = watcher.Add(path)
			return nil
		})
	}
	addTree(root)
	s.logger.Info().Str("event", "scan.watch.started").Str("root", root).Msg("watching library")

	timer := time.NewTimer(delay)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				// A new directory needs its own watch before files land in
				// it.
				addTree(event.Name)
			}
			if !pending {
				pending = true
			} else if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(delay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Str("event", "scan.watch.error").Err(err).Msg("watch error")
		case <-timer.C:
			pending = false
			if s.Running() {
				// A scan is already in flight; the next event re-arms.
				s.logger.Debug().Str("event", "scan.watch.busy").Msg("rescan deferred, scan running")
				continue
			}
			s.logger.Info().Str("event", "scan.watch.triggered").Msg("quiet period elapsed, rescan")
			trigger()
		}
	}
}
