package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roadwatch/roadwatch/internal/report"
)

// PhotoStore parks validated photo uploads on disk between the photo
// step and the final submission. Photos are keyed by UUID; the key is
// the only thing clients ever see, so path traversal is off the
// table.
type PhotoStore struct {
	dir string
	log *zap.Logger

	mu    sync.RWMutex
	names map[string]string // id -> original file name
}

// NewPhotoStore creates a store under dataDir.
func NewPhotoStore(dataDir string, log *zap.Logger) *PhotoStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &PhotoStore{
		dir:   filepath.Join(dataDir, "photos"),
		log:   log.Named("photostore"),
		names: make(map[string]string),
	}
}

// Save stages photo bytes and returns the staged photo handle.
func (s *PhotoStore) Save(name string, data []byte, meta report.PhotoMeta) (report.Photo, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return report.Photo{}, fmt.Errorf("creating photos dir: %w", err)
	}

	id := uuid.NewString()
	path := filepath.Join(s.dir, id+"."+ext(meta.Format))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return report.Photo{}, fmt.Errorf("writing photo: %w", err)
	}

	s.mu.Lock()
	s.names[id] = name
	s.mu.Unlock()

	s.log.Debug("photo staged",
		zap.String("id", id), zap.String("name", name), zap.Int("bytes", meta.Bytes))
	return report.Photo{ID: id, Name: name, PhotoMeta: meta}, nil
}

// Open returns the staged bytes for a photo ID.
func (s *PhotoStore) Open(id string) ([]byte, error) {
	path, err := s.resolve(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading photo %s: %w", id, err)
	}
	return data, nil
}

// Delete removes a staged photo. Deleting an unknown ID is a no-op.
func (s *PhotoStore) Delete(id string) error {
	path, err := s.resolve(id)
	if err != nil {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing photo %s: %w", id, err)
	}
	s.mu.Lock()
	delete(s.names, id)
	s.mu.Unlock()
	return nil
}

// List returns all staged photos, newest first.
func (s *PhotoStore) List() ([]PhotoFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []PhotoFile{}, nil
		}
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var files []PhotoFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		name := s.names[id]
		if name == "" {
			name = entry.Name()
		}
		files = append(files, PhotoFile{
			ID:     id,
			Name:   name,
			Size:   formatSize(info.Size()),
			Format: formatFromExt(filepath.Ext(entry.Name())),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

// Dir returns the photos directory.
func (s *PhotoStore) Dir() string {
	return s.dir
}

// resolve maps an ID to its on-disk path, rejecting anything that is
// not a bare UUID.
func (s *PhotoStore) resolve(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid photo id %q", id)
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, id+".*"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("photo %s not found", id)
	}
	return matches[0], nil
}

func ext(format string) string {
	if format == "png" {
		return "png"
	}
	return "jpg"
}

func formatFromExt(e string) string {
	if strings.EqualFold(e, ".png") {
		return "png"
	}
	return "jpeg"
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
