package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ProtocolStore keeps protocol records in a single JSON object file keyed by id
type ProtocolStore struct {
	mu     sync.RWMutex
	fs     afero.Fs
	path   string
	logger *zap.Logger
}

// NewProtocolStore creates a store backed by the JSON file at path
func NewProtocolStore(fsys afero.Fs, path string, logger *zap.Logger) *ProtocolStore {
	return &ProtocolStore{
		fs:     fsys,
		path:   path,
		logger: logger,
	}
}

// Save persists a new record; records are never overwritten
func (s *ProtocolStore) Save(rec ProtocolRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := records[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, rec.ID)
	}
	records[rec.ID] = rec

	if err := s.write(records); err != nil {
		return err
	}

	s.logger.Info("protocol saved",
		zap.String("protocol_id", rec.ID),
		zap.String("status", string(rec.Status)))
	return nil
}

// Get returns the record with the given id
func (s *ProtocolStore) Get(id string) (ProtocolRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.load()
	if err != nil {
		return ProtocolRecord{}, err
	}
	rec, ok := records[id]
	if !ok {
		return ProtocolRecord{}, fmt.Errorf("protocol %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

// Delete removes the record with the given id
func (s *ProtocolStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := records[id]; !ok {
		return fmt.Errorf("protocol %s: %w", id, ErrNotFound)
	}
	delete(records, id)

	if err := s.write(records); err != nil {
		return err
	}

	s.logger.Info("protocol deleted", zap.String("protocol_id", id))
	return nil
}

// List returns summaries of completed records, newest first
func (s *ProtocolStore) List() ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(records))
	for _, rec := range records {
		if rec.Status != StatusCompleted {
			continue
		}
		summaries = append(summaries, rec.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

func (s *ProtocolStore) load() (map[string]ProtocolRecord, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]ProtocolRecord), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read protocols file: %w", err)
	}
	if len(data) == 0 {
		return make(map[string]ProtocolRecord), nil
	}

	records := make(map[string]ProtocolRecord)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse protocols file: %w", err)
	}
	return records, nil
}

// write replaces the file atomically through a temporary sibling
func (s *ProtocolStore) write(records map[string]ProtocolRecord) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal protocols: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write protocols file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to rename protocols file: %w", err)
	}
	return nil
}
