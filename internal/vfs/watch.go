package vfs

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/cogmem/engine/internal/config"
)

// WatchExternal mirrors filesystem changes under root into the workspace
// as they happen, implementing the `local_watcher` sync-source kind
// (spec.md §3: SyncSource). It runs until ctx is cancelled.
func (v *VFS) WatchExternal(ctx context.Context, wsID, root string, cfg config.ImportConfig) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil
		}
		return watcher.Add(p)
	}); err != nil {
		watcher.Close()
		return err
	}

	go v.runWatchLoop(ctx, watcher, wsID, root, cfg)
	return nil
}

func (v *VFS) runWatchLoop(ctx context.Context, watcher *fsnotify.Watcher, wsID, root string, cfg config.ImportConfig) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			v.handleWatchEvent(ctx, watcher, wsID, root, ev, cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			v.log.Warn("fsnotify watcher error", zap.Error(err))
		}
	}
}

func (v *VFS) handleWatchEvent(ctx context.Context, watcher *fsnotify.Watcher, wsID, root string, ev fsnotify.Event, cfg config.ImportConfig) {
	rel, err := filepath.Rel(root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	switch {
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		if err := v.Delete(ctx, wsID, rel, true); err != nil {
			v.log.Debug("watch delete propagation skipped", zap.String("path", rel), zap.Error(err))
		}
	case ev.Op&fsnotify.Write != 0, ev.Op&fsnotify.Create != 0:
		if isDir {
			if ev.Op&fsnotify.Create != 0 {
				_ = watcher.Add(ev.Name)
			}
			return
		}
		if statErr != nil || !matchesImportFilters(rel, info, cfg, nil) {
			return
		}
		data, err := os.ReadFile(ev.Name)
		if err != nil {
			return
		}
		if _, err := v.Write(ctx, wsID, rel, data); err != nil {
			v.log.Warn("watch write propagation failed", zap.String("path", rel), zap.Error(err))
		}
	}
}
