package local

import (
	"context"
	"time"

	slogcontext "github.com/veqryn/slog-context"

	"ocm.software/open-component-model/pluginhub/api/v1alpha1"
	"ocm.software/open-component-model/pluginhub/internal/failure"
	"ocm.software/open-component-model/pluginhub/internal/retry"
	"ocm.software/open-component-model/pluginhub/internal/store"
)

// Run reconciles notified plugins as they come in and all plugins every interval, until
// ctx is done.
func (r *Runtime) Run(ctx context.Context) error {
	logger := slogcontext.FromCtx(ctx)
	logger.InfoContext(ctx, "starting plugin runtime", "pluginsDirectory", r.pluginsDir, "interval", r.interval)

	r.reconcileAll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "plugin runtime stopped")
			return nil
		case name := <-r.notify:
			if err := r.Reconcile(ctx, name); err != nil && !failure.IsNotFound(err) {
				logger.ErrorContext(ctx, "failed to reconcile plugin", "plugin", name, "error", err)
			}
		case <-ticker.C:
			r.reconcileAll(ctx)
		}
	}
}

func (r *Runtime) reconcileAll(ctx context.Context) {
	plugins, err := store.List[v1alpha1.Plugin](ctx, r.client)
	if err != nil {
		slogcontext.FromCtx(ctx).ErrorContext(ctx, "failed to list plugins", "error", err)
		return
	}
	for _, p := range plugins {
		if err := r.Reconcile(ctx, p.Metadata.Name); err != nil && !failure.IsNotFound(err) {
			slogcontext.FromCtx(ctx).ErrorContext(ctx, "failed to reconcile plugin", "plugin", p.Metadata.Name, "error", err)
		}
	}
}

// Reconcile moves the phase of the plugin name towards its spec: an enabled plugin
// is Started if its archive is readable and Failed otherwise, a disabled one is Stopped.
func (r *Runtime) Reconcile(ctx context.Context, name string) error {
	ctx = slogcontext.With(ctx, "plugin", name)
	_, err := retry.OnConflict(ctx, r.policy, func(ctx context.Context) (*v1alpha1.Plugin, error) {
		p, err := store.Get[v1alpha1.Plugin](ctx, r.client, name)
		if err != nil {
			return nil, err
		}
		phase, reason := r.observe(p)
		if p.Status.Phase == phase && p.Status.Reason == reason {
			return p, nil
		}
		from := p.Status.Phase
		p.Status.Phase, p.Status.Reason = phase, reason
		if err := r.client.Update(ctx, p); err != nil {
			return nil, err
		}
		slogcontext.FromCtx(ctx).InfoContext(ctx, "plugin phase changed", "from", from, "to", phase, "reason", reason)
		return p, nil
	})
	return err
}

func (r *Runtime) observe(p *v1alpha1.Plugin) (v1alpha1.PluginPhase, string) {
	if !p.Spec.Enabled {
		return v1alpha1.PhaseStopped, ""
	}
	if _, err := ReadManifest(p.Status.LoadLocation); err != nil {
		return v1alpha1.PhaseFailed, err.Error()
	}
	return v1alpha1.PhaseStarted, ""
}
