// Package configfile manages metadata.json, the small JSON file recording an
// installation root's identity, alongside the YAML messages.yaml layer in
// the config package.
package configfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const FileName = "metadata.json"

// Metadata is the persisted identity of one .messages installation root.
type Metadata struct {
	InstallID string    `json:"install_id"`
	CreatedAt time.Time `json:"created_at"`
	Version   string    `json:"version,omitempty"`
}

func Path(messagesDir string) string {
	return filepath.Join(messagesDir, FileName)
}

// Load reads metadata.json under messagesDir. A missing file returns
// (nil, nil): not yet initialized is a normal state, not an error.
func Load(messagesDir string) (*Metadata, error) {
	data, err := os.ReadFile(Path(messagesDir)) // #nosec G304 - controlled path under resolved root
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("configfile: reading %s: %w", Path(messagesDir), err)
	}

	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("configfile: parsing %s: %w", Path(messagesDir), err)
	}
	return &m, nil
}

// Save writes metadata.json under messagesDir.
func (m *Metadata) Save(messagesDir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("configfile: marshaling metadata: %w", err)
	}
	if err := os.WriteFile(Path(messagesDir), data, 0o600); err != nil {
		return fmt.Errorf("configfile: writing %s: %w", Path(messagesDir), err)
	}
	return nil
}

// EnsureInitialized loads existing metadata or creates and persists a fresh
// one, returning whether it was newly created.
func EnsureInitialized(messagesDir, installID, version string) (m *Metadata, created bool, err error) {
	existing, err := Load(messagesDir)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	fresh := &Metadata{InstallID: installID, CreatedAt: time.Now().UTC(), Version: version}
	if err := fresh.Save(messagesDir); err != nil {
		return nil, false, err
	}
	return fresh, true, nil
}
