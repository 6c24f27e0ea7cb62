package plugin

import (
	"context"

	"ocm.software/open-component-model/pluginhub/internal/bundle"
)

// BundleVersion returns the version tag of the current merged bundles.
func (s *Service) BundleVersion(ctx context.Context) (string, error) {
	return s.runtime.BundleVersion(ctx)
}

// Bundle returns the merged bundle of kind for version, rendering it only when the
// cache does not hold that version yet.
func (s *Service) Bundle(ctx context.Context, kind bundle.Kind, version string) (*bundle.Handle, error) {
	producer := bundle.Producer(s.runtime.ScriptBundle)
	if kind == bundle.KindStyle {
		producer = s.runtime.StyleBundle
	}
	return s.bundles.Get(ctx, kind, version, producer)
}
