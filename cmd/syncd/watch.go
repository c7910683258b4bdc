package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/shelfline/shelfline/internal/models"
	"github.com/shelfline/shelfline/internal/notify"
	syncpkg "github.com/shelfline/shelfline/internal/sync"
)

// watchConfig hot-reloads the re-check cadence when the config file changes.
// Origin and listener changes still require a restart.
func watchConfig(ctx context.Context, path string, orch *syncpkg.Orchestrator, store *notify.Store) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors typically replace the file, which
	// would orphan a watch on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := LoadConfig(path)
			if err != nil {
				log.Printf("config reload failed: %v", err)
				store.AddNotification(notify.NotificationSpec{
					Kind:    models.NotificationWarning,
					Title:   "Config reload failed",
					Message: err.Error(),
				})
				continue
			}
			orch.SetRecheckIntervals(cfg.Recheck.Connected, cfg.Recheck.Disconnected)
			log.Printf("config reloaded: recheck %v connected / %v disconnected",
				cfg.Recheck.Connected, cfg.Recheck.Disconnected)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config watcher: %v", err)
		}
	}
}
