// Package checkpoint persists enumeration cursors to disk, independent of
// the record store's transaction boundary.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/fictionharvest/harvester/internal/harvest"
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// FileStore keeps one JSON file per enumeration name. Saves are atomic
// (write to a temp file, fsync, rename) so a crash mid-write never leaves a
// torn checkpoint behind.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore returns a store rooted at dir, creating it if needed.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Load reads the checkpoint for name. A missing file yields the zero
// checkpoint. An unreadable or corrupt file is logged as a warning and also
// yields the zero checkpoint: enumeration restarts from the beginning rather
// than failing the run.
func (s *FileStore) Load(name string) (harvest.CatalogCheckpoint, error) {
	path, err := s.path(name)
	if err != nil {
		return harvest.CatalogCheckpoint{}, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return harvest.CatalogCheckpoint{}, nil
	}
	if err != nil {
		s.logger.Warn("checkpoint unreadable, starting fresh",
			zap.String("name", name), zap.Error(err))
		return harvest.CatalogCheckpoint{}, nil
	}
	var cp harvest.CatalogCheckpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		s.logger.Warn("checkpoint corrupt, starting fresh",
			zap.String("name", name), zap.Error(err))
		return harvest.CatalogCheckpoint{}, nil
	}
	return cp, nil
}

// Save durably writes the checkpoint for name.
func (s *FileStore) Save(name string, cp harvest.CatalogCheckpoint) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace checkpoint %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) path(name string) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("invalid checkpoint name %q", name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}
