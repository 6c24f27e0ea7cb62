package plugin

import (
	"context"

	slogcontext "github.com/veqryn/slog-context"

	"ocm.software/open-component-model/pluginhub/api/v1alpha1"
	"ocm.software/open-component-model/pluginhub/internal/convergence"
	"ocm.software/open-component-model/pluginhub/internal/retry"
)

// ChangeRunningState sets spec.enabled of the plugin name. Unless async is set it then
// waits until the runtime reports the plugin as started or failed when enabling, or as
// anything but started when disabling.
func (s *Service) ChangeRunningState(ctx context.Context, name string, enable, async bool) (*v1alpha1.Plugin, error) {
	ctx = slogcontext.With(ctx, "plugin", name, "enable", enable)

	updated, err := retry.OnConflict(ctx, s.policies.StateToggle, func(ctx context.Context) (*v1alpha1.Plugin, error) {
		plugin, err := s.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if plugin.Spec.Enabled == enable {
			return plugin, nil
		}
		plugin.Spec.Enabled = enable
		if err := s.client.Update(ctx, plugin); err != nil {
			return nil, err
		}
		return plugin, nil
	})
	if err != nil {
		return nil, err
	}
	s.runtime.Notify(name)

	if async {
		return updated, nil
	}

	slogcontext.FromCtx(ctx).DebugContext(ctx, "waiting for plugin to reach running state")
	return convergence.Await(ctx, name, s.Get, expectedState(enable), s.policies.Convergence)
}

func expectedState(enable bool) convergence.Predicate[*v1alpha1.Plugin] {
	if enable {
		return func(p *v1alpha1.Plugin) bool { return p.IsStarted() || p.IsFailed() }
	}
	return func(p *v1alpha1.Plugin) bool { return !p.IsStarted() }
}
