package plugin_test

import (
	"encoding/json"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/pluginhub/api/v1alpha1"
	"ocm.software/open-component-model/pluginhub/internal/failure"
	"ocm.software/open-component-model/pluginhub/internal/retry"
	"ocm.software/open-component-model/pluginhub/internal/store"
)

func configurable(name string) *v1alpha1.Plugin {
	p := newPlugin(name, true)
	p.Spec.ConfigMapName = name + "-configmap"
	p.Spec.SettingName = name + "-settings"
	return p
}

func desired(name string, data map[string]string) *v1alpha1.ConfigMap {
	return &v1alpha1.ConfigMap{Metadata: v1alpha1.ObjectMeta{Name: name}, Data: data}
}

func TestUpdateConfig_CreatesMissingConfigMap(t *testing.T) {
	r := require.New(t)
	e := newEnv(t)
	e.create(t, configurable("search"))

	got, err := e.service.UpdateConfig(t.Context(), "search", desired("search-configmap", map[string]string{"basic": `{"size":10}`}))
	r.NoError(err)
	r.EqualValues(1, got.Metadata.Version)

	stored, err := e.service.FetchConfig(t.Context(), "search")
	r.NoError(err)
	r.Equal(map[string]string{"basic": `{"size":10}`}, stored.Data)
}

func TestUpdateConfig_UpdatesLatestVersion(t *testing.T) {
	r := require.New(t)
	e := newEnv(t)
	e.create(t, configurable("search"))
	e.create(t, desired("search-configmap", map[string]string{"basic": "{}"}))

	// the request carries no version, the stored one is used
	got, err := e.service.UpdateConfig(t.Context(), "search", desired("search-configmap", map[string]string{"basic": `{"size":20}`}))
	r.NoError(err)
	r.EqualValues(2, got.Metadata.Version)
	r.Equal(`{"size":20}`, got.Data["basic"])
}

func TestUpdateConfig_FourConflictsThenSuccess(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		r := require.New(t)
		e := newEnv(t)
		e.create(t, configurable("search"))
		e.create(t, desired("search-configmap", map[string]string{"basic": "{}"}))
		e.store.contend(v1alpha1.KindConfigMap, 4)

		start := time.Now()
		got, err := e.service.UpdateConfig(t.Context(), "search", desired("search-configmap", map[string]string{"basic": `{"a":1}`}))
		r.NoError(err)
		r.Equal(`{"a":1}`, got.Data["basic"])
		r.Equal(5, e.store.updateCalls(v1alpha1.KindConfigMap), "no sixth attempt")
		// 300ms, 600ms, 1.2s and 2.4s between the five attempts
		r.Equal(4500*time.Millisecond, time.Since(start))

		// four foreign bumps plus our write
		stored, err := store.Get[v1alpha1.ConfigMap](t.Context(), e.client, "search-configmap")
		r.NoError(err)
		r.EqualValues(6, stored.Metadata.Version)
	})
}

func TestUpdateConfig_ExhaustedConflicts(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		r := require.New(t)
		e := newEnv(t)
		e.create(t, configurable("search"))
		e.create(t, desired("search-configmap", nil))
		e.store.contend(v1alpha1.KindConfigMap, 5)

		_, err := e.service.UpdateConfig(t.Context(), "search", desired("search-configmap", nil))
		r.True(failure.IsConflict(err))
		r.ErrorIs(err, retry.ErrExhausted)
		r.Equal(5, e.store.updateCalls(v1alpha1.KindConfigMap))
	})
}

func TestUpdateConfig_RejectsInvalidRequests(t *testing.T) {
	r := require.New(t)
	e := newEnv(t)
	e.create(t, newPlugin("plain", true))
	e.create(t, configurable("search"))

	_, err := e.service.UpdateConfig(t.Context(), "plain", desired("plain-configmap", nil))
	r.ErrorIs(err, failure.ErrInvalidInput)

	_, err = e.service.UpdateConfig(t.Context(), "search", desired("other-configmap", nil))
	r.ErrorIs(err, failure.ErrInvalidInput)

	_, err = e.service.UpdateConfig(t.Context(), "ghost", desired("x", nil))
	r.True(failure.IsNotFound(err))
	r.Zero(e.store.updateCalls(v1alpha1.KindConfigMap))
}

func TestResetConfig_WritesSettingDefaults(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		r := require.New(t)
		e := newEnv(t)
		e.create(t, configurable("search"))
		e.create(t, desired("search-configmap", map[string]string{"basic": `{"size":99}`, "stale": "{}"}))
		e.create(t, &v1alpha1.Setting{
			Metadata: v1alpha1.ObjectMeta{Name: "search-settings"},
			Spec: v1alpha1.SettingSpec{Forms: []v1alpha1.SettingForm{{
				Group: "basic",
				Fields: []v1alpha1.FormField{
					{Name: "size", Value: json.RawMessage(`10`)},
					{Name: "title", Value: json.RawMessage(`"Search"`)},
					{Name: "noDefault"},
				},
			}}},
		})
		e.store.contend(v1alpha1.KindConfigMap, 2)
		pluginReads := e.store.getCalls(v1alpha1.KindPlugin)

		got, err := e.service.ResetConfig(t.Context(), "search")
		r.NoError(err)
		r.Len(got.Data, 1)
		r.JSONEq(`{"size":10,"title":"Search"}`, got.Data["basic"])
		r.Equal(3, e.store.updateCalls(v1alpha1.KindConfigMap))
		r.Equal(pluginReads+1, e.store.getCalls(v1alpha1.KindPlugin), "the plugin is read once")
	})
}

func TestResetConfig_WithoutSetting(t *testing.T) {
	e := newEnv(t)
	e.create(t, newPlugin("plain", true))

	_, err := e.service.ResetConfig(t.Context(), "plain")
	require.True(t, failure.IsNotFound(err))
}

func TestFetchSetting(t *testing.T) {
	r := require.New(t)
	e := newEnv(t)
	e.create(t, configurable("search"))

	_, err := e.service.FetchSetting(t.Context(), "search")
	r.True(failure.IsNotFound(err), "declared but not stored")

	e.create(t, &v1alpha1.Setting{Metadata: v1alpha1.ObjectMeta{Name: "search-settings"}})
	got, err := e.service.FetchSetting(t.Context(), "search")
	r.NoError(err)
	r.Equal("search-settings", got.Metadata.Name)

	e.create(t, newPlugin("plain", true))
	_, err = e.service.FetchConfig(t.Context(), "plain")
	r.True(failure.IsNotFound(err))
}
