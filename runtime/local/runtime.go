// Package local is a plugin runtime that keeps plugin archives in a directory and drives
// the lifecycle phase of every Plugin record from a reconcile loop.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	slogcontext "github.com/veqryn/slog-context"
	"ocm.software/open-component-model/bindings/go/blob/filesystem"

	"ocm.software/open-component-model/pluginhub/api/v1alpha1"
	"ocm.software/open-component-model/pluginhub/internal/failure"
	"ocm.software/open-component-model/pluginhub/internal/plugin"
	"ocm.software/open-component-model/pluginhub/internal/retry"
	"ocm.software/open-component-model/pluginhub/internal/staging"
	"ocm.software/open-component-model/pluginhub/internal/store"
	"ocm.software/open-component-model/pluginhub/internal/workerpool"
)

// DefaultReconcileInterval is the period of the full reconcile pass.
const DefaultReconcileInterval = 30 * time.Second

// Options configure a Runtime.
type Options struct {
	Client *store.Client
	// PluginsDirectory holds the installed archives.
	PluginsDirectory string
	// PresetsDirectory holds archives shipped with the installation. Empty disables presets.
	PresetsDirectory string
	// ReconcileInterval is the period of the full reconcile pass.
	ReconcileInterval time.Duration
	// Policy bounds the optimistic updates of Plugin records.
	Policy retry.Policy
	// Executor runs archive copies.
	Executor workerpool.Executor
}

// Runtime is the local plugin runtime.
type Runtime struct {
	client     *store.Client
	pluginsDir string
	presetsDir string
	interval   time.Duration
	policy     retry.Policy
	exec       workerpool.Executor
	notify     chan string
}

var _ plugin.Runtime = (*Runtime)(nil)

// New creates a Runtime and its plugins directory.
func New(opts Options) (*Runtime, error) {
	if opts.Client == nil {
		return nil, errors.New("a store client is required")
	}
	if opts.PluginsDirectory == "" {
		return nil, errors.New("a plugins directory is required")
	}
	if err := os.MkdirAll(opts.PluginsDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plugins directory: %w", err)
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = DefaultReconcileInterval
	}
	if opts.Policy.Attempts == 0 {
		opts.Policy = retry.Fixed(10, 100*time.Millisecond)
	}
	if opts.Executor == nil {
		opts.Executor = workerpool.Inline{}
	}
	return &Runtime{
		client:     opts.Client,
		pluginsDir: opts.PluginsDirectory,
		presetsDir: opts.PresetsDirectory,
		interval:   opts.ReconcileInterval,
		policy:     opts.Policy,
		exec:       opts.Executor,
		notify:     make(chan string, 64),
	}, nil
}

// Install copies the archive at path into the plugins directory and registers it as a
// new, disabled plugin.
func (r *Runtime) Install(ctx context.Context, path string) (*v1alpha1.Plugin, error) {
	manifest, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}
	switch _, err := store.Get[v1alpha1.Plugin](ctx, r.client, manifest.Name); {
	case err == nil:
		return nil, failure.AlreadyExists(v1alpha1.KindPlugin, manifest.Name)
	case !failure.IsNotFound(err):
		return nil, err
	}

	location, err := r.importArchive(ctx, path, manifest)
	if err != nil {
		return nil, err
	}

	p := &v1alpha1.Plugin{Metadata: v1alpha1.ObjectMeta{Name: manifest.Name}}
	applyManifest(p, manifest, location)
	if err := r.client.Create(ctx, p); err != nil {
		r.discard(ctx, location)
		return nil, err
	}
	r.Notify(p.Metadata.Name)
	return p, nil
}

// Upgrade replaces the archive of the plugin name. The new archive must carry the
// same plugin name.
func (r *Runtime) Upgrade(ctx context.Context, name, path string) (*v1alpha1.Plugin, error) {
	manifest, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}
	if manifest.Name != name {
		return nil, failure.InvalidInput("archive contains plugin %q, expected %q", manifest.Name, name)
	}

	location, err := r.importArchive(ctx, path, manifest)
	if err != nil {
		return nil, err
	}

	var previous string
	p, err := retry.OnConflict(ctx, r.policy, func(ctx context.Context) (*v1alpha1.Plugin, error) {
		p, err := store.Get[v1alpha1.Plugin](ctx, r.client, name)
		if err != nil {
			return nil, err
		}
		previous = p.Status.LoadLocation
		applyManifest(p, manifest, location)
		if err := r.client.Update(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		if previous != location {
			r.discard(ctx, location)
		}
		return nil, err
	}
	if previous != location {
		r.discard(ctx, previous)
	}
	r.Notify(name)
	return p, nil
}

// Reload re-reads the manifest of the installed archive of the plugin name.
func (r *Runtime) Reload(ctx context.Context, name string) (*v1alpha1.Plugin, error) {
	p, err := retry.OnConflict(ctx, r.policy, func(ctx context.Context) (*v1alpha1.Plugin, error) {
		p, err := store.Get[v1alpha1.Plugin](ctx, r.client, name)
		if err != nil {
			return nil, err
		}
		manifest, err := ReadManifest(p.Status.LoadLocation)
		if err != nil {
			return nil, err
		}
		applyManifest(p, manifest, p.Status.LoadLocation)
		if err := r.client.Update(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	r.Notify(name)
	return p, nil
}

// Presets lists the readable archives of the presets directory. Unreadable archives
// are skipped.
func (r *Runtime) Presets(ctx context.Context) ([]*v1alpha1.Plugin, error) {
	if r.presetsDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(r.presetsDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}

	var presets []*v1alpha1.Plugin
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jar") {
			continue
		}
		path := filepath.Join(r.presetsDir, entry.Name())
		manifest, err := ReadManifest(path)
		if err != nil {
			slogcontext.FromCtx(ctx).WarnContext(ctx, "skipping unreadable preset", "path", path, "error", err)
			continue
		}
		p := &v1alpha1.Plugin{Metadata: v1alpha1.ObjectMeta{Name: manifest.Name}}
		applyManifest(p, manifest, path)
		p.Status.Phase = ""
		presets = append(presets, p)
	}
	return presets, nil
}

// Notify schedules a reconcile of the plugin name. It never blocks; if the queue is
// full the next periodic pass picks the plugin up.
func (r *Runtime) Notify(name string) {
	select {
	case r.notify <- name:
	default:
	}
}

// importArchive copies the archive at path into a file of the plugins directory that
// no other install or upgrade shares. A caller that fails to record the returned
// location therefore only ever discards its own copy.
func (r *Runtime) importArchive(ctx context.Context, path string, m *Manifest) (string, error) {
	src, err := filesystem.GetBlobFromOSPath(path)
	if err != nil {
		return "", failure.Staging(path, err)
	}
	return staging.Stage(ctx, staging.Options{
		Dir:      r.pluginsDir,
		Pattern:  m.Name + "-" + m.Version + "-*.jar",
		Executor: r.exec,
	}, src)
}

// discard removes an archive this runtime imported.
func (r *Runtime) discard(ctx context.Context, location string) {
	if location == "" || filepath.Dir(location) != filepath.Clean(r.pluginsDir) {
		return
	}
	staging.Release(ctx, location)
}

func applyManifest(p *v1alpha1.Plugin, m *Manifest, location string) {
	p.Spec.Version = m.Version
	p.Spec.DisplayName = m.DisplayName
	p.Spec.Description = m.Description
	p.Spec.ConfigMapName = m.ConfigMapName
	p.Spec.SettingName = m.SettingName
	p.Status.LoadLocation = location
	p.Status.Phase = v1alpha1.PhasePending
	p.Status.Reason = ""
}
