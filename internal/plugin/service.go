// Package plugin implements the plugin management operations: running state, config,
// install and upgrade, listing and the merged console bundles.
package plugin

import (
	"context"
	"time"

	"ocm.software/open-component-model/bindings/go/blob"

	"ocm.software/open-component-model/pluginhub/api/v1alpha1"
	"ocm.software/open-component-model/pluginhub/internal/bundle"
	"ocm.software/open-component-model/pluginhub/internal/convergence"
	"ocm.software/open-component-model/pluginhub/internal/retry"
	"ocm.software/open-component-model/pluginhub/internal/staging"
	"ocm.software/open-component-model/pluginhub/internal/store"
)

// Runtime loads plugin archives and reports their phase asynchronously through the
// Plugin records in the store.
type Runtime interface {
	// Install registers the archive at path as a new plugin.
	Install(ctx context.Context, path string) (*v1alpha1.Plugin, error)
	// Upgrade replaces the archive of the plugin name with the one at path.
	Upgrade(ctx context.Context, name, path string) (*v1alpha1.Plugin, error)
	// Reload re-reads the archive of the plugin name.
	Reload(ctx context.Context, name string) (*v1alpha1.Plugin, error)
	// Presets lists the archives shipped with the installation.
	Presets(ctx context.Context) ([]*v1alpha1.Plugin, error)
	// Notify asks the runtime to reconcile the plugin name soon.
	Notify(name string)
	// BundleVersion identifies the current content of the merged bundles.
	BundleVersion(ctx context.Context) (string, error)
	// ScriptBundle renders the merged script bundle of all enabled plugins.
	ScriptBundle(ctx context.Context) (blob.ReadOnlyBlob, error)
	// StyleBundle renders the merged stylesheet bundle of all enabled plugins.
	StyleBundle(ctx context.Context) (blob.ReadOnlyBlob, error)
}

// Fetcher downloads remote content.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (blob.ReadOnlyBlob, error)
}

// Policies are the retry budgets of the service operations.
type Policies struct {
	// Convergence bounds the wait for a plugin to reach the requested running state.
	Convergence retry.Policy
	// StateToggle bounds the optimistic update of spec.enabled.
	StateToggle retry.Policy
	// ConfigUpdate bounds the optimistic update of a plugin config map.
	ConfigUpdate retry.Policy
	// ConfigReset bounds the optimistic reset of a plugin config map to its defaults.
	ConfigReset retry.Policy
}

// DefaultPolicies returns the budgets used when none are configured.
func DefaultPolicies() Policies {
	return Policies{
		Convergence:  convergence.DefaultPolicy,
		StateToggle:  retry.Fixed(10, 100*time.Millisecond),
		ConfigUpdate: retry.Exponential(5, 300*time.Millisecond),
		ConfigReset:  retry.Fixed(10, 100*time.Millisecond),
	}
}

// Options configure a Service.
type Options struct {
	Client   *store.Client
	Runtime  Runtime
	Fetcher  Fetcher
	Bundles  *bundle.Cache
	Staging  staging.Options
	Policies Policies
}

// Service implements the plugin operations on top of a store, a runtime and the
// bundle cache.
type Service struct {
	client   *store.Client
	runtime  Runtime
	fetcher  Fetcher
	bundles  *bundle.Cache
	staging  staging.Options
	policies Policies
}

// New creates a Service. Zero policies fall back to DefaultPolicies.
func New(opts Options) *Service {
	defaults := DefaultPolicies()
	p := opts.Policies
	if p.Convergence.Attempts == 0 {
		p.Convergence = defaults.Convergence
	}
	if p.StateToggle.Attempts == 0 {
		p.StateToggle = defaults.StateToggle
	}
	if p.ConfigUpdate.Attempts == 0 {
		p.ConfigUpdate = defaults.ConfigUpdate
	}
	if p.ConfigReset.Attempts == 0 {
		p.ConfigReset = defaults.ConfigReset
	}
	if opts.Bundles == nil {
		opts.Bundles = bundle.New(bundle.Options{})
	}

	return &Service{
		client:   opts.Client,
		runtime:  opts.Runtime,
		fetcher:  opts.Fetcher,
		bundles:  opts.Bundles,
		staging:  opts.Staging,
		policies: p,
	}
}

// Get returns the plugin name.
func (s *Service) Get(ctx context.Context, name string) (*v1alpha1.Plugin, error) {
	return store.Get[v1alpha1.Plugin](ctx, s.client, name)
}
