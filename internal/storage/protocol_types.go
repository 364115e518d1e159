package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// ProtocolType describes a kind of protocol and the assistant that writes it
type ProtocolType struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	ExternalServiceID string `json:"external_service_id"`
	AssistantID       string `json:"assistant_id"`
}

// ProtocolTypes is the read-only catalog of protocol types
type ProtocolTypes struct {
	types map[string]ProtocolType
}

// LoadProtocolTypes reads the catalog from a JSON object keyed by type id
func LoadProtocolTypes(fsys afero.Fs, path string) (*ProtocolTypes, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read protocol types %s: %w", path, err)
	}

	types := make(map[string]ProtocolType)
	if err := json.Unmarshal(data, &types); err != nil {
		return nil, fmt.Errorf("failed to parse protocol types: %w", err)
	}
	for id, t := range types {
		if t.ID == "" {
			t.ID = id
			types[id] = t
		}
	}
	return &ProtocolTypes{types: types}, nil
}

// Get returns the type with the given id, ignoring surrounding whitespace
func (p *ProtocolTypes) Get(id string) (ProtocolType, error) {
	t, ok := p.types[strings.TrimSpace(id)]
	if !ok {
		return ProtocolType{}, fmt.Errorf("protocol type %q: %w", strings.TrimSpace(id), ErrNotFound)
	}
	return t, nil
}

// IDs returns the known type ids, sorted
func (p *ProtocolTypes) IDs() []string {
	ids := make([]string, 0, len(p.types))
	for id := range p.types {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns all types ordered by id
func (p *ProtocolTypes) List() []ProtocolType {
	list := make([]ProtocolType, 0, len(p.types))
	for _, id := range p.IDs() {
		list = append(list, p.types[id])
	}
	return list
}
