package plugin

import (
	"context"
	"maps"

	"ocm.software/open-component-model/pluginhub/api/v1alpha1"
	"ocm.software/open-component-model/pluginhub/internal/failure"
	"ocm.software/open-component-model/pluginhub/internal/retry"
	"ocm.software/open-component-model/pluginhub/internal/store"
)

// FetchConfig returns the config map of the plugin name.
func (s *Service) FetchConfig(ctx context.Context, name string) (*v1alpha1.ConfigMap, error) {
	plugin, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if plugin.Spec.ConfigMapName == "" {
		return nil, failure.NotFound("ConfigMap of Plugin", name)
	}
	return store.Get[v1alpha1.ConfigMap](ctx, s.client, plugin.Spec.ConfigMapName)
}

// FetchSetting returns the setting of the plugin name.
func (s *Service) FetchSetting(ctx context.Context, name string) (*v1alpha1.Setting, error) {
	plugin, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.settingOf(ctx, plugin)
}

func (s *Service) settingOf(ctx context.Context, plugin *v1alpha1.Plugin) (*v1alpha1.Setting, error) {
	if plugin.Spec.SettingName == "" {
		return nil, failure.NotFound("Setting of Plugin", plugin.Metadata.Name)
	}
	return store.Get[v1alpha1.Setting](ctx, s.client, plugin.Spec.SettingName)
}

// UpdateConfig writes desired as the config map of the plugin name, creating it if it
// does not exist yet. The write is retried on version conflicts against the latest
// stored version.
func (s *Service) UpdateConfig(ctx context.Context, name string, desired *v1alpha1.ConfigMap) (*v1alpha1.ConfigMap, error) {
	plugin, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	configMapName := plugin.Spec.ConfigMapName
	if configMapName == "" {
		return nil, failure.InvalidInput("plugin %q does not declare a config map", name)
	}
	if desired == nil || desired.Metadata.Name != configMapName {
		return nil, failure.InvalidInput("config map name does not match %q declared by plugin %q", configMapName, name)
	}

	return retry.OnConflict(ctx, s.policies.ConfigUpdate, func(ctx context.Context) (*v1alpha1.ConfigMap, error) {
		next := &v1alpha1.ConfigMap{
			Metadata: v1alpha1.ObjectMeta{Name: configMapName},
			Data:     maps.Clone(desired.Data),
		}

		persisted, err := store.Get[v1alpha1.ConfigMap](ctx, s.client, configMapName)
		switch {
		case failure.IsNotFound(err):
			if err := s.client.Create(ctx, next); err != nil {
				return nil, createRace(err, configMapName)
			}
			return next, nil
		case err != nil:
			return nil, err
		}

		next.Metadata.Version = persisted.Metadata.Version
		if err := s.client.Update(ctx, next); err != nil {
			return nil, err
		}
		return next, nil
	})
}

// ResetConfig overwrites the config map of the plugin name with the default values of
// its setting.
func (s *Service) ResetConfig(ctx context.Context, name string) (*v1alpha1.ConfigMap, error) {
	plugin, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	setting, err := s.settingOf(ctx, plugin)
	if err != nil {
		return nil, err
	}
	defaults, err := setting.DefaultValues()
	if err != nil {
		return nil, failure.InvalidInput("setting %q has invalid default values: %v", setting.Metadata.Name, err)
	}

	configMapName := plugin.Spec.ConfigMapName
	if configMapName == "" {
		return nil, failure.InvalidInput("plugin %q does not declare a config map", name)
	}

	return retry.OnConflict(ctx, s.policies.ConfigReset, func(ctx context.Context) (*v1alpha1.ConfigMap, error) {
		configMap, err := store.Get[v1alpha1.ConfigMap](ctx, s.client, configMapName)
		if err != nil {
			return nil, err
		}
		configMap.Data = maps.Clone(defaults)
		if err := s.client.Update(ctx, configMap); err != nil {
			return nil, err
		}
		return configMap, nil
	})
}

// createRace turns a lost create race into a conflict so that the caller re-reads.
func createRace(err error, name string) error {
	if failure.IsAlreadyExists(err) {
		return failure.Conflict(v1alpha1.KindConfigMap, name, 0)
	}
	return err
}
