package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/spyglass-apm/spyglass/internal/logging"
)

// WatchDocument monitors the store's config document for edits made by other
// processes. The store ignores on-disk changes while it is open, so a foreign
// edit only earns a warning telling the operator to restart. The store's own
// atomic writes are recognized by checksum and skipped. Runs until ctx is
// cancelled.
//
// The parent directory is watched rather than the file itself: the store
// replaces the file by rename, which would orphan a watch on the old inode.
func WatchDocument(ctx context.Context, store *Store, log *logging.Logger) error {
	if log == nil {
		log = logging.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	path := store.Path()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	log.Info("watching config document", "path", path)

	var lastWarnedSum string
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			data, err := os.ReadFile(path)
			if err != nil {
				// The file may be mid-replace; the next event will catch it.
				continue
			}
			sum := sha256.Sum256(data)
			checksum := hex.EncodeToString(sum[:])
			if checksum == store.PersistedChecksum() {
				continue
			}
			if checksum == lastWarnedSum {
				continue
			}
			lastWarnedSum = checksum
			log.Warn("config document modified outside the agent; on-disk changes are ignored until restart",
				"path", path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("config watcher error", "error", err)
		}
	}
}
