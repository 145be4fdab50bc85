package manifest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mdouchement/modelsync/internal/model"
	"github.com/mdouchement/modelsync/internal/syncerror"
	"github.com/mdouchement/modelsync/internal/xpath"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// A Manifest is the declarative list of model files to download.
type Manifest struct {
	Name    string        `yaml:"name"`
	Entries []model.Entry `yaml:"entries"`
}

// Load reads and parses the manifest at the given path.
func Load(path string) (*Manifest, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, syncerror.Wrap(syncerror.Parse, err, "could not read manifest")
	}

	m, err := Parse(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "manifest %s", path)
	}

	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return m, nil
}

// Parse parses a manifest payload and validates it.
// Entries are returned in file order.
func Parse(payload []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(payload, &m); err != nil {
		return nil, syncerror.Wrap(syncerror.Parse, err, "malformed manifest")
	}

	if len(m.Entries) == 0 {
		return nil, syncerror.New(syncerror.Parse, "manifest has no entries")
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Write serializes the manifest to the given path.
func Write(path string, m *Manifest) error {
	payload, err := yaml.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "could not serialize manifest")
	}

	err = os.WriteFile(path, payload, 0644)
	return syncerror.Wrap(syncerror.Filesystem, err, "could not write manifest")
}

func (m *Manifest) validate() error {
	seen := make(map[string]bool, len(m.Entries))

	for i, entry := range m.Entries {
		if entry.Name == "" {
			return syncerror.Newf(syncerror.Parse, "entry %d: missing name", i)
		}
		if entry.SourceID == "" {
			return syncerror.Newf(syncerror.Parse, "entry %s: missing id", entry.Name)
		}
		if entry.Path == "" {
			return syncerror.Newf(syncerror.Parse, "entry %s: missing path", entry.Name)
		}

		if !entry.Source.Valid() {
			return syncerror.Newf(syncerror.Validation, "entry %s: unknown source %q", entry.Name, entry.Source)
		}
		if seen[entry.Name] {
			return syncerror.Newf(syncerror.Validation, "duplicate entry name %q", entry.Name)
		}
		seen[entry.Name] = true

		if _, err := xpath.Sanitize(entry.Path); err != nil {
			return errors.Wrapf(err, "entry %s", entry.Name)
		}
	}
	return nil
}
