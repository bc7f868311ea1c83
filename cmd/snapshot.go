package cmd

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/luma/relay/storage"
)

// restoreSnapshot loads the user store from path. A missing file is not an
// error, the store simply starts empty.
func restoreSnapshot(store storage.Store, path string, log *zap.Logger) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("No snapshot to restore", zap.String("path", path))
			return nil
		}

		return fmt.Errorf("Failed to read snapshot %s: %w", path, err)
	}

	if err := store.Restore(data); err != nil {
		return fmt.Errorf("Failed to restore snapshot %s: %w", path, err)
	}

	log.Info("Restored snapshot", zap.String("path", path))
	return nil
}

// saveSnapshot writes the store to a temporary file and renames it over path.
func saveSnapshot(store storage.Store, path string, log *zap.Logger) error {
	if path == "" {
		return nil
	}

	data, err := store.Backup()
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	log.Info("Saved snapshot", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}
