package service

import (
	"os"
	"path/filepath"
)

// ExportStore tracks generated PMTiles archives.
type ExportStore struct {
	dir string
}

// NewExportStore creates a store under dataDir.
func NewExportStore(dataDir string) *ExportStore {
	return &ExportStore{
		dir: filepath.Join(dataDir, "exports"),
	}
}

// List returns all PMTiles exports.
func (s *ExportStore) List() ([]ExportFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ExportFile{}, nil
		}
		return nil, err
	}

	var files []ExportFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) != ".pmtiles" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, ExportFile{
			Name: entry.Name(),
			Size: formatSize(info.Size()),
		})
	}

	return files, nil
}

// Path returns the full path for an export name.
func (s *ExportStore) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Dir returns the exports directory.
func (s *ExportStore) Dir() string {
	return s.dir
}
