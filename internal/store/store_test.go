package store_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/pluginhub/api/v1alpha1"
	"ocm.software/open-component-model/pluginhub/internal/failure"
	"ocm.software/open-component-model/pluginhub/internal/store"
)

// runStoreSuite exercises the versioning contract shared by every Store.
func runStoreSuite(t *testing.T, s store.Store) {
	t.Run("create and get", func(t *testing.T) {
		r := require.New(t)
		created, err := s.Create(t.Context(), store.Record{Kind: "Plugin", Name: "search", Data: json.RawMessage(`{"a":1}`)})
		r.NoError(err)
		r.EqualValues(1, created.Version)
		r.False(created.CreatedAt.IsZero())

		got, err := s.Get(t.Context(), "Plugin", "search")
		r.NoError(err)
		r.EqualValues(1, got.Version)
		r.JSONEq(`{"a":1}`, string(got.Data))

		_, err = s.Create(t.Context(), store.Record{Kind: "Plugin", Name: "search", Data: json.RawMessage(`{}`)})
		r.ErrorIs(err, failure.ErrAlreadyExists)
	})

	t.Run("kinds are separate", func(t *testing.T) {
		r := require.New(t)
		_, err := s.Create(t.Context(), store.Record{Kind: "ConfigMap", Name: "search", Data: json.RawMessage(`{}`)})
		r.NoError(err)
		_, err = s.Get(t.Context(), "Setting", "search")
		r.True(failure.IsNotFound(err))
	})

	t.Run("update checks version", func(t *testing.T) {
		r := require.New(t)
		rec, err := s.Create(t.Context(), store.Record{Kind: "Plugin", Name: "comments", Data: json.RawMessage(`{"v":1}`)})
		r.NoError(err)

		rec.Data = json.RawMessage(`{"v":2}`)
		updated, err := s.Update(t.Context(), rec)
		r.NoError(err)
		r.EqualValues(2, updated.Version)
		r.Equal(rec.CreatedAt.Unix(), updated.CreatedAt.Unix())

		// the same stale snapshot cannot be written twice
		rec.Data = json.RawMessage(`{"v":3}`)
		_, err = s.Update(t.Context(), rec)
		r.True(failure.IsConflict(err))

		got, err := s.Get(t.Context(), "Plugin", "comments")
		r.NoError(err)
		r.JSONEq(`{"v":2}`, string(got.Data))
	})

	t.Run("update of missing record", func(t *testing.T) {
		_, err := s.Update(t.Context(), store.Record{Kind: "Plugin", Name: "ghost", Version: 1, Data: json.RawMessage(`{}`)})
		assert.True(t, failure.IsNotFound(err))
	})

	t.Run("list is ordered by name", func(t *testing.T) {
		r := require.New(t)
		for _, name := range []string{"zeta", "alpha", "mid"} {
			_, err := s.Create(t.Context(), store.Record{Kind: "Setting", Name: name, Data: json.RawMessage(`{}`)})
			r.NoError(err)
		}
		recs, err := s.List(t.Context(), "Setting")
		r.NoError(err)
		var names []string
		for _, rec := range recs {
			names = append(names, rec.Name)
		}
		r.Equal([]string{"alpha", "mid", "zeta"}, names)
	})

	t.Run("concurrent updates admit one winner per version", func(t *testing.T) {
		r := require.New(t)
		base, err := s.Create(t.Context(), store.Record{Kind: "Plugin", Name: "race", Data: json.RawMessage(`{}`)})
		r.NoError(err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins, conflicts := 0, 0
		for range 8 {
			wg.Go(func() {
				_, err := s.Update(t.Context(), base)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					wins++
				} else if failure.IsConflict(err) {
					conflicts++
				}
			})
		}
		wg.Wait()
		r.Equal(1, wins)
		r.Equal(7, conflicts)
	})
}

func TestMemory(t *testing.T) {
	runStoreSuite(t, store.NewMemory())
}

func TestMemory_ReturnsCopies(t *testing.T) {
	r := require.New(t)
	s := store.NewMemory()
	data := json.RawMessage(`{"a":1}`)
	_, err := s.Create(t.Context(), store.Record{Kind: "Plugin", Name: "p", Data: data})
	r.NoError(err)
	data[2] = 'b'

	got, err := s.Get(t.Context(), "Plugin", "p")
	r.NoError(err)
	r.JSONEq(`{"a":1}`, string(got.Data))
}

func TestClient_RoundTripsTypedResources(t *testing.T) {
	r := require.New(t)
	c := store.NewClient(store.NewMemory())

	plugin := &v1alpha1.Plugin{
		Metadata: v1alpha1.ObjectMeta{Name: "search", Version: 42},
		Spec:     v1alpha1.PluginSpec{Enabled: true, Version: "1.2.0", DisplayName: "Search"},
	}
	r.NoError(c.Create(t.Context(), plugin))
	r.EqualValues(1, plugin.Metadata.Version, "version comes from the store")
	r.False(plugin.Metadata.CreationTimestamp.IsZero())

	got, err := store.Get[v1alpha1.Plugin](t.Context(), c, "search")
	r.NoError(err)
	r.Equal(plugin.Spec, got.Spec)
	r.EqualValues(1, got.Metadata.Version)

	got.Status.Phase = v1alpha1.PhaseStarted
	r.NoError(c.Update(t.Context(), got))
	r.EqualValues(2, got.Metadata.Version)

	// plugin still carries version 1
	plugin.Spec.Enabled = false
	r.True(failure.IsConflict(c.Update(t.Context(), plugin)))

	_, err = store.Get[v1alpha1.ConfigMap](t.Context(), c, "search")
	r.True(failure.IsNotFound(err))

	r.NoError(c.Create(t.Context(), &v1alpha1.Plugin{Metadata: v1alpha1.ObjectMeta{Name: "analytics"}}))
	all, err := store.List[v1alpha1.Plugin](t.Context(), c)
	r.NoError(err)
	r.Len(all, 2)
	r.Equal("analytics", all[0].Metadata.Name)
	r.Equal(v1alpha1.PhaseStarted, all[1].Status.Phase)
}
