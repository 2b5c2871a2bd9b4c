// Package watch feeds external filesystem changes into the content graph
// store. It only applies in local-backend mode, where files can change
// underneath the service.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/holt/lattice/internal/backend"
	"github.com/holt/lattice/internal/store"
)

const reconcileDelay = 200 * time.Millisecond

// Run starts an fsnotify watcher on root and folds file change events
// into st until ctx is cancelled.
//
// New directories created at runtime are automatically added to the
// watch list. Remove and rename events schedule a debounced
// reconciliation pass that diffs the backend listing against the live
// snapshot, since fsnotify only reports the old path of a rename.
func Run(ctx context.Context, st *store.Store, adapter backend.Adapter, root string, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcile(ctx, st, adapter, logger)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					// The new container and anything already inside it
					// enter the graph through the reconcile pass.
					scheduleReconcile()
					continue
				}
			}

			// Only document files from here on.
			if !strings.HasSuffix(absPath, ".md") {
				continue
			}

			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if refErr := st.RefreshEntry(ctx, rel); refErr != nil {
					logger.Warn("watcher: refresh failed",
						slog.String("path", rel),
						slog.String("error", refErr.Error()))
					continue
				}
				logger.Debug("watcher: refreshed", slog.String("path", rel))

			case ev.Op&fsnotify.Remove != 0:
				if dropErr := st.DropEntry(rel); dropErr != nil {
					logger.Warn("watcher: drop failed",
						slog.String("path", rel),
						slog.String("error", dropErr.Error()))
					continue
				}
				logger.Debug("watcher: dropped", slog.String("path", rel))
				scheduleReconcile()

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only. The new
				// path arrives as a separate Create event when it stays
				// inside a watched dir. Drop the old entry now and let
				// the reconcile pass catch stragglers.
				_ = st.DropEntry(rel)
				logger.Debug("watcher: rename old dropped", slog.String("path", rel))
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// reconcile diffs the backend listing against the live snapshot: stale
// snapshot entries are dropped, unseen backend entries ingested.
func reconcile(ctx context.Context, st *store.Store, adapter backend.Adapter, logger *slog.Logger) {
	entries, err := adapter.List(ctx, "")
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	onDisk := make(map[string]backend.Entry, len(entries))
	for _, e := range entries {
		onDisk[e.Path] = e
	}

	live := make(map[string]bool)
	for _, p := range st.Paths() {
		live[p] = true
		if _, ok := onDisk[p]; !ok {
			_ = st.DropEntry(p)
			logger.Debug("reconcile: dropped stale", slog.String("path", p))
		}
	}

	// Content changes arrive through Write events; only unseen paths
	// need ingestion here.
	for _, e := range entries {
		if live[e.Path] {
			continue
		}
		if e.IsContainer {
			st.RefreshContainer(e.Path)
			continue
		}
		if refErr := st.RefreshEntry(ctx, e.Path); refErr != nil {
			logger.Warn("reconcile: refresh failed",
				slog.String("path", e.Path),
				slog.String("error", refErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
