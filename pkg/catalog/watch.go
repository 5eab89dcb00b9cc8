// Copyright 2024-2026 Aiku AI

package catalog

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of fsnotify events editors emit for a
// single save into one reload.
const watchDebounce = 250 * time.Millisecond

// Watch reloads dialect files as they change on disk. It blocks until ctx is
// cancelled or the watcher fails. Editors that write via rename are covered
// by watching the directory rather than individual files.
func (c *Catalog) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}

	c.log.Info().Str("dir", dir).Msg("Watching pattern dir for changes")

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending[event.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			timerC = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn().Err(err).Msg("Pattern watcher error")
		case <-timerC:
			timerC = nil
			for path := range pending {
				if err := c.LoadFile(path); err != nil {
					c.log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("Hot reload failed")
				}
			}
			pending = make(map[string]struct{})
		}
	}
}
