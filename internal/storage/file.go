package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"chathub/internal/models"
)

const groupAuthFileName = "group_auth_file.json"

// FileStore keeps one JSON file per session in a single directory, plus one
// file for the group auth map. File names are derived from the session
// identity, so a rename deletes the old file and writes a new one.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("history dir must be configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id models.SessionIdentity) string {
	return filepath.Join(s.dir, id.FileName())
}

func (s *FileStore) Save(rec models.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	if err := os.WriteFile(s.path(rec.Identity()), data, 0o644); err != nil {
		return fmt.Errorf("write session record: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(id models.SessionIdentity) error {
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}

func (s *FileStore) LoadAll() ([]models.SessionRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read history dir: %w", err)
	}
	var records []models.SessionRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || name == groupAuthFileName {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			log.Printf("read session file %s: %v", name, err)
			continue
		}
		var rec models.SessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Printf("skip corrupt session file %s: %v", name, err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *FileStore) SaveGroupAuth(auth map[string]bool) error {
	data, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("marshal group auth: %w", err)
	}
	path := filepath.Join(s.dir, groupAuthFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write group auth: %w", err)
	}
	return nil
}

func (s *FileStore) LoadGroupAuth() (map[string]bool, error) {
	auth := make(map[string]bool)
	data, err := os.ReadFile(filepath.Join(s.dir, groupAuthFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return auth, nil
		}
		return nil, fmt.Errorf("read group auth: %w", err)
	}
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("decode group auth: %w", err)
	}
	return auth, nil
}
