package local

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/opencontainers/go-digest"
	"ocm.software/open-component-model/bindings/go/blob"
	"ocm.software/open-component-model/bindings/go/blob/direct"

	"ocm.software/open-component-model/pluginhub/api/v1alpha1"
	"ocm.software/open-component-model/pluginhub/internal/store"
)

// BundleVersion digests the name, version and record version of every enabled plugin.
// It changes whenever a plugin is enabled, disabled, upgraded or changes phase.
func (r *Runtime) BundleVersion(ctx context.Context) (string, error) {
	plugins, err := r.enabled(ctx)
	if err != nil {
		return "", err
	}
	d := digest.Canonical.Digester()
	for _, p := range plugins {
		_, _ = fmt.Fprintf(d.Hash(), "%s\x00%s\x00%d\n", p.Metadata.Name, p.Spec.Version, p.Metadata.Version)
	}
	return d.Digest().Encoded(), nil
}

// ScriptBundle concatenates the console scripts of the enabled plugins in name order.
func (r *Runtime) ScriptBundle(ctx context.Context) (blob.ReadOnlyBlob, error) {
	return r.concat(ctx, ScriptPath)
}

// StyleBundle concatenates the console stylesheets of the enabled plugins in name order.
func (r *Runtime) StyleBundle(ctx context.Context) (blob.ReadOnlyBlob, error) {
	return r.concat(ctx, StylePath)
}

func (r *Runtime) concat(ctx context.Context, asset string) (blob.ReadOnlyBlob, error) {
	plugins, err := r.enabled(ctx)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, p := range plugins {
		data, err := readAsset(p.Status.LoadLocation, asset)
		if err != nil {
			return nil, err
		}
		if data == nil {
			continue
		}
		fmt.Fprintf(&buf, "/* %s@%s */\n", p.Metadata.Name, p.Spec.Version)
		buf.Write(data)
		if !bytes.HasSuffix(data, []byte("\n")) {
			buf.WriteByte('\n')
		}
	}
	return direct.NewFromBytes(buf.Bytes()), nil
}

// enabled returns the enabled plugins ordered by name.
func (r *Runtime) enabled(ctx context.Context) ([]*v1alpha1.Plugin, error) {
	plugins, err := store.List[v1alpha1.Plugin](ctx, r.client)
	if err != nil {
		return nil, err
	}
	plugins = slices.DeleteFunc(plugins, func(p *v1alpha1.Plugin) bool { return !p.Spec.Enabled })
	slices.SortFunc(plugins, func(a, b *v1alpha1.Plugin) int { return strings.Compare(a.Metadata.Name, b.Metadata.Name) })
	return plugins, nil
}
