// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/chatrelay/internal/util"
)

// DefaultWatchDebounce coalesces bursts of file events.
const DefaultWatchDebounce = 150 * time.Millisecond

// ErrWatchUnsupported is returned by Watch for backends without a file.
var ErrWatchUnsupported = errors.New("backend does not support watching")

// Watch reloads the archive when another process rewrites it and then calls
// onChange. Writes made through this Archive are recognized and ignored.
// Watching stops when ctx is done. Only the file backend can be watched.
func (a *Archive) Watch(ctx context.Context, onChange func()) error {
	fkv, ok := a.kv.(*FileKV)
	if !ok {
		return ErrWatchUnsupported
	}
	target := filepath.Clean(fkv.Path(a.key))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: atomic writes replace the file by rename.
	if err := watcher.Add(fkv.Dir()); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", fkv.Dir(), err)
	}

	go a.processEvents(ctx, watcher, target, onChange)
	return nil
}

func (a *Archive) processEvents(ctx context.Context, watcher *fsnotify.Watcher, target string, onChange func()) {
	defer watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		a.mu.Lock()
		changed, err := a.loadLocked()
		a.mu.Unlock()
		if err != nil {
			a.logger.Warn("ARCHIVE_RELOAD_FAILED", "error", err)
			return
		}
		if changed {
			a.logger.Info("ARCHIVE_RELOADED", "key", a.key)
			onChange()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if util.IsTempFile(event.Name) || filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.AfterFunc(DefaultWatchDebounce, fire)
			} else {
				debounce.Reset(DefaultWatchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			a.logger.Warn("ARCHIVE_WATCH_ERROR", "error", err)
		}
	}
}
