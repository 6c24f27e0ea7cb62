package plugin

import (
	"context"
	"path/filepath"
	"strings"

	slogcontext "github.com/veqryn/slog-context"
	"ocm.software/open-component-model/bindings/go/blob"

	"ocm.software/open-component-model/pluginhub/api/v1alpha1"
	"ocm.software/open-component-model/pluginhub/internal/failure"
	"ocm.software/open-component-model/pluginhub/internal/staging"
)

// SourceType says where the archive of an install or upgrade comes from.
type SourceType string

const (
	SourceFile   SourceType = "file"
	SourcePreset SourceType = "preset"
	SourceURL    SourceType = "url"
)

// ParseSourceType parses s case-insensitively. An empty value means SourceFile.
func ParseSourceType(s string) (SourceType, error) {
	switch t := SourceType(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return SourceFile, nil
	case SourceFile, SourcePreset, SourceURL:
		return t, nil
	default:
		return "", failure.InvalidInput("unsupported install source %q", s)
	}
}

// Source is the archive of an install or upgrade.
type Source struct {
	Type SourceType
	// File and FileName are set for SourceFile.
	File     blob.ReadOnlyBlob
	FileName string
	// PresetName is set for SourcePreset.
	PresetName string
	// URI is set for SourceURL.
	URI string
}

// Install installs a new plugin from src.
func (s *Service) Install(ctx context.Context, src Source) (*v1alpha1.Plugin, error) {
	plugin, err := s.withArchive(ctx, src, s.runtime.Install)
	if err != nil {
		return nil, err
	}
	slogcontext.FromCtx(ctx).InfoContext(ctx, "plugin installed",
		"plugin", plugin.Metadata.Name, "version", plugin.Spec.Version, "source", src.Type)
	return plugin, nil
}

// Upgrade replaces the archive of the plugin name with src.
func (s *Service) Upgrade(ctx context.Context, name string, src Source) (*v1alpha1.Plugin, error) {
	if _, err := s.Get(ctx, name); err != nil {
		return nil, err
	}
	plugin, err := s.withArchive(ctx, src, func(ctx context.Context, path string) (*v1alpha1.Plugin, error) {
		return s.runtime.Upgrade(ctx, name, path)
	})
	if err != nil {
		return nil, err
	}
	slogcontext.FromCtx(ctx).InfoContext(ctx, "plugin upgraded",
		"plugin", name, "version", plugin.Spec.Version, "source", src.Type)
	return plugin, nil
}

// Reload makes the runtime re-read the archive of the plugin name.
func (s *Service) Reload(ctx context.Context, name string) (*v1alpha1.Plugin, error) {
	return s.runtime.Reload(ctx, name)
}

// Presets lists the plugins shipped with the installation.
func (s *Service) Presets(ctx context.Context) ([]*v1alpha1.Plugin, error) {
	return s.runtime.Presets(ctx)
}

// withArchive resolves src to an archive on disk and passes its path to use. Uploaded
// and downloaded archives live in a staged file only for the duration of use.
func (s *Service) withArchive(ctx context.Context, src Source, use staging.Consumer[*v1alpha1.Plugin]) (*v1alpha1.Plugin, error) {
	switch src.Type {
	case SourceFile, "":
		if src.File == nil {
			return nil, failure.InvalidInput("form field file is required")
		}
		if !strings.HasSuffix(filepath.Base(src.FileName), ".jar") {
			return nil, failure.InvalidInput("invalid file type %q, only jar is supported", src.FileName)
		}
		return staging.WithTempFile(ctx, s.staging, src.File, use)

	case SourcePreset:
		name := strings.TrimSpace(src.PresetName)
		if name == "" {
			return nil, failure.InvalidInput("presetName must not be blank")
		}
		preset, err := s.preset(ctx, name)
		if err != nil {
			return nil, err
		}
		return use(ctx, preset.Status.LoadLocation)

	case SourceURL:
		if s.fetcher == nil {
			return nil, failure.InvalidInput("installing from a URI is not enabled")
		}
		if strings.TrimSpace(src.URI) == "" {
			return nil, failure.InvalidInput("uri must not be blank")
		}
		content, err := s.fetcher.Fetch(ctx, src.URI)
		if err != nil {
			return nil, err
		}
		return staging.WithTempFile(ctx, s.staging, content, use)

	default:
		return nil, failure.InvalidInput("unsupported install source %q", src.Type)
	}
}

func (s *Service) preset(ctx context.Context, name string) (*v1alpha1.Plugin, error) {
	presets, err := s.runtime.Presets(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range presets {
		if p.Metadata.Name == name {
			return p, nil
		}
	}
	return nil, failure.NotFound("PluginPreset", name)
}
