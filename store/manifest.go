package store

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestEntry is one version record's metadata as persisted between CLI
// invocations. Bytes themselves are not kept in the manifest; only the
// hash and timestamp, so the manifest stays small even for large
// artifacts.
type ManifestEntry struct {
	Hash      string    `yaml:"hash"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Manifest is the on-disk index of which versions a Store last held for
// one named artifact, keyed by artifact id.
type Manifest struct {
	Artifacts map[string][]ManifestEntry `yaml:"artifacts"`
}

// Snapshot builds a Manifest entry list for id from s's current order.
func (s *Store) Snapshot(id string, m *Manifest) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m.Artifacts == nil {
		m.Artifacts = make(map[string][]ManifestEntry)
	}
	entries := make([]ManifestEntry, 0, len(s.order))
	for _, h := range s.order {
		r := s.records[h]
		entries = append(entries, ManifestEntry{Hash: h.String(), CreatedAt: r.CreatedAt})
	}
	m.Artifacts[id] = entries
}

// LoadManifest reads and parses a manifest file written by SaveManifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("htip store: read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("htip store: parse manifest: %w", err)
	}
	return &m, nil
}

// SaveManifest writes m to path as YAML, overwriting any existing file.
func SaveManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("htip store: marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("htip store: write manifest: %w", err)
	}
	return nil
}
