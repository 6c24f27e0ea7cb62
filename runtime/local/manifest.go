package local

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"sigs.k8s.io/yaml"

	"ocm.software/open-component-model/pluginhub/internal/failure"
)

const (
	// ManifestPath is the location of the plugin manifest inside an archive.
	ManifestPath = "plugin.yaml"
	// ScriptPath is the location of the console script inside an archive.
	ScriptPath = "console/main.js"
	// StylePath is the location of the console stylesheet inside an archive.
	StylePath = "console/style.css"

	maxManifestSize = 1 << 20
)

var validName = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// Manifest describes a plugin archive.
type Manifest struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	DisplayName   string `json:"displayName,omitempty"`
	Description   string `json:"description,omitempty"`
	ConfigMapName string `json:"configMapName,omitempty"`
	SettingName   string `json:"settingName,omitempty"`
}

// Validate checks the manifest name and version.
func (m *Manifest) Validate() error {
	if !validName.MatchString(m.Name) {
		return fmt.Errorf("invalid plugin name %q", m.Name)
	}
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return fmt.Errorf("invalid version %q of plugin %q: %w", m.Version, m.Name, err)
	}
	m.Version = v.String()
	return nil
}

// ReadManifest reads and validates the manifest of the archive at path.
func ReadManifest(path string) (*Manifest, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, failure.InvalidInput("%s is not a plugin archive: %v", path, err)
	}
	defer archive.Close()

	data, err := readEntry(&archive.Reader, ManifestPath, maxManifestSize)
	if err != nil {
		return nil, failure.InvalidInput("plugin archive %s has no readable %s: %v", path, ManifestPath, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, failure.InvalidInput("malformed %s in %s: %v", ManifestPath, path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, failure.InvalidInput("%s in %s: %v", ManifestPath, path, err)
	}
	return &m, nil
}

// readAsset returns the content of name in the archive at path, or nil if the archive
// does not carry it.
func readAsset(path, name string) ([]byte, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin archive %s: %w", path, err)
	}
	defer archive.Close()

	data, err := readEntry(&archive.Reader, name, -1)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to read %s from %s: %w", name, path, err)
	}
}

func readEntry(r *zip.Reader, name string, limit int64) ([]byte, error) {
	f, err := r.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var src io.Reader = f
	if limit > 0 {
		src = io.LimitReader(f, limit)
	}
	return io.ReadAll(src)
}
