package plugin_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"ocm.software/open-component-model/bindings/go/blob"

	"ocm.software/open-component-model/pluginhub/api/v1alpha1"
	"ocm.software/open-component-model/pluginhub/internal/failure"
	"ocm.software/open-component-model/pluginhub/internal/plugin"
	"ocm.software/open-component-model/pluginhub/internal/staging"
	"ocm.software/open-component-model/pluginhub/internal/store"
)

type mockRuntime struct {
	mock.Mock
}

func pluginArg(args mock.Arguments, i int) *v1alpha1.Plugin {
	p := args.Get(i)
	if p == nil {
		return nil
	}
	return p.(*v1alpha1.Plugin)
}

func blobArg(args mock.Arguments, i int) blob.ReadOnlyBlob {
	b := args.Get(i)
	if b == nil {
		return nil
	}
	return b.(blob.ReadOnlyBlob)
}

func (m *mockRuntime) Install(ctx context.Context, path string) (*v1alpha1.Plugin, error) {
	args := m.Called(ctx, path)
	return pluginArg(args, 0), args.Error(1)
}

func (m *mockRuntime) Upgrade(ctx context.Context, name, path string) (*v1alpha1.Plugin, error) {
	args := m.Called(ctx, name, path)
	return pluginArg(args, 0), args.Error(1)
}

func (m *mockRuntime) Reload(ctx context.Context, name string) (*v1alpha1.Plugin, error) {
	args := m.Called(ctx, name)
	return pluginArg(args, 0), args.Error(1)
}

func (m *mockRuntime) Presets(ctx context.Context) ([]*v1alpha1.Plugin, error) {
	args := m.Called(ctx)
	presets, _ := args.Get(0).([]*v1alpha1.Plugin)
	return presets, args.Error(1)
}

func (m *mockRuntime) Notify(name string) {
	m.Called(name)
}

func (m *mockRuntime) BundleVersion(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockRuntime) ScriptBundle(ctx context.Context) (blob.ReadOnlyBlob, error) {
	args := m.Called(ctx)
	return blobArg(args, 0), args.Error(1)
}

func (m *mockRuntime) StyleBundle(ctx context.Context) (blob.ReadOnlyBlob, error) {
	args := m.Called(ctx)
	return blobArg(args, 0), args.Error(1)
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, uri string) (blob.ReadOnlyBlob, error) {
	args := m.Called(ctx, uri)
	return blobArg(args, 0), args.Error(1)
}

// contendedStore rejects the next n updates of a kind as if another writer got in first.
// It also counts reads and updates per kind.
type contendedStore struct {
	store.Store
	mu        sync.Mutex
	conflicts map[string]int
	updates   map[string]int
	gets      map[string]int
}

func newContendedStore() *contendedStore {
	return &contendedStore{
		Store:     store.NewMemory(),
		conflicts: map[string]int{},
		updates:   map[string]int{},
		gets:      map[string]int{},
	}
}

func (c *contendedStore) getCalls(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets[kind]
}

func (c *contendedStore) Get(ctx context.Context, kind, name string) (store.Record, error) {
	c.mu.Lock()
	c.gets[kind]++
	c.mu.Unlock()
	return c.Store.Get(ctx, kind, name)
}

func (c *contendedStore) contend(kind string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts[kind] = n
}

func (c *contendedStore) updateCalls(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates[kind]
}

func (c *contendedStore) Update(ctx context.Context, rec store.Record) (store.Record, error) {
	c.mu.Lock()
	c.updates[rec.Kind]++
	if c.conflicts[rec.Kind] > 0 {
		c.conflicts[rec.Kind]--
		c.mu.Unlock()
		// bump the stored version behind the caller's back
		current, err := c.Store.Get(ctx, rec.Kind, rec.Name)
		if err != nil {
			return store.Record{}, err
		}
		if _, err := c.Store.Update(ctx, current); err != nil {
			return store.Record{}, err
		}
		return store.Record{}, failure.Conflict(rec.Kind, rec.Name, rec.Version)
	}
	c.mu.Unlock()
	return c.Store.Update(ctx, rec)
}

type env struct {
	store   *contendedStore
	client  *store.Client
	runtime *mockRuntime
	fetcher *mockFetcher
	service *plugin.Service
	staging string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := newContendedStore()
	e := &env{
		store:   s,
		client:  store.NewClient(s),
		runtime: &mockRuntime{},
		fetcher: &mockFetcher{},
		staging: t.TempDir(),
	}
	e.service = plugin.New(plugin.Options{
		Client:  e.client,
		Runtime: e.runtime,
		Fetcher: e.fetcher,
		Staging: staging.Options{Dir: e.staging},
	})
	t.Cleanup(func() {
		e.runtime.AssertExpectations(t)
		e.fetcher.AssertExpectations(t)
	})
	return e
}

func (e *env) create(t *testing.T, obj store.Object) {
	t.Helper()
	require.NoError(t, e.client.Create(t.Context(), obj))
}

// setPhase records the phase the runtime reports for the plugin name.
func (e *env) setPhase(t *testing.T, name string, phase v1alpha1.PluginPhase) {
	t.Helper()
	p, err := store.Get[v1alpha1.Plugin](context.Background(), e.client, name)
	require.NoError(t, err)
	p.Status.Phase = phase
	require.NoError(t, e.client.Update(context.Background(), p))
}

func newPlugin(name string, enabled bool) *v1alpha1.Plugin {
	return &v1alpha1.Plugin{
		Metadata: v1alpha1.ObjectMeta{Name: name},
		Spec:     v1alpha1.PluginSpec{Enabled: enabled, Version: "1.0.0", DisplayName: name},
	}
}
