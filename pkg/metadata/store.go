package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists document records and artifacts on disk.
//
// Directory layout:
//
//	<dataDir>/exports/<doc_id>/meta.json
//	<dataDir>/exports/<doc_id>/output.md
//	<dataDir>/exports/<doc_id>/output.json
type Store struct {
	dataDir string
}

func NewStore(dataDir string) *Store {
	return &Store{dataDir: strings.TrimSpace(dataDir)}
}

func (s *Store) DataDir() string {
	return s.dataDir
}

func (s *Store) ExportDir(docID string) string {
	return filepath.Join(s.dataDir, "exports", docID)
}

func (s *Store) MetaPath(docID string) string {
	return filepath.Join(s.ExportDir(docID), "meta.json")
}

func (s *Store) ensureExportDir(docID string) (string, error) {
	if strings.TrimSpace(s.dataDir) == "" {
		return "", fmt.Errorf("data dir is empty")
	}
	dir := s.ExportDir(docID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	return dir, nil
}

// Write persists the record atomically. A crash mid-write leaves the
// previous record intact; readers never see a torn file.
func (s *Store) Write(record *Record) error {
	if record == nil {
		return fmt.Errorf("document record is nil")
	}
	docID := strings.TrimSpace(record.ID)
	if docID == "" {
		return fmt.Errorf("doc_id is required")
	}
	dir, err := s.ensureExportDir(docID)
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, "meta.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp meta file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp meta file: %w", err)
	}

	if err := os.Rename(tmpName, s.MetaPath(docID)); err != nil {
		return fmt.Errorf("rename meta file: %w", err)
	}
	return nil
}

// Read loads the record for a document.
func (s *Store) Read(docID string) (*Record, error) {
	docID = strings.TrimSpace(docID)
	if docID == "" {
		return nil, fmt.Errorf("doc_id is required")
	}
	b, err := os.ReadFile(s.MetaPath(docID))
	if err != nil {
		return nil, err
	}

	var record Record
	if err := json.Unmarshal(b, &record); err != nil {
		return nil, fmt.Errorf("parse meta.json: %w", err)
	}
	return &record, nil
}

// WriteArtifact writes an output artifact next to the record and returns its
// absolute path.
func (s *Store) WriteArtifact(docID, name string, data []byte) (string, error) {
	dir, err := s.ensureExportDir(docID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", name, err)
	}
	return path, nil
}
