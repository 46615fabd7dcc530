package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// fileStore persists the whole feed map as one JSON document, written to
// a temp file and atomically renamed into place. The state is small
// enough (hundreds of feeds) that snapshot-per-mutation is cheap.
type fileStore struct {
	path string
}

type fileSnapshot struct {
	Feeds []*Feed `json:"feeds"`
}

func openFile(cfg Config) (persister, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{path: path}, nil
}

func (s *fileStore) load() (map[string]*Feed, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]*Feed{}, nil
		}
		return nil, err
	}
	var snap fileSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	feeds := make(map[string]*Feed, len(snap.Feeds))
	for _, f := range snap.Feeds {
		if f != nil && f.Link != "" {
			feeds[f.Link] = f
		}
	}
	return feeds, nil
}

func (s *fileStore) save(feeds []*Feed) error {
	b, err := json.Marshal(fileSnapshot{Feeds: feeds})
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Close() error { return nil }
