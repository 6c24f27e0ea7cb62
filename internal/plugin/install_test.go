package plugin_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"ocm.software/open-component-model/bindings/go/blob/direct"

	"ocm.software/open-component-model/pluginhub/api/v1alpha1"
	"ocm.software/open-component-model/pluginhub/internal/failure"
	"ocm.software/open-component-model/pluginhub/internal/plugin"
)

func TestParseSourceType(t *testing.T) {
	r := require.New(t)
	for in, want := range map[string]plugin.SourceType{
		"":       plugin.SourceFile,
		"FILE":   plugin.SourceFile,
		"preset": plugin.SourcePreset,
		" Url ":  plugin.SourceURL,
	} {
		got, err := plugin.ParseSourceType(in)
		r.NoError(err)
		r.Equal(want, got, in)
	}
	_, err := plugin.ParseSourceType("ftp")
	r.ErrorIs(err, failure.ErrInvalidInput)
}

func TestInstall_FromFileStagesArchive(t *testing.T) {
	r := require.New(t)
	e := newEnv(t)

	var staged string
	e.runtime.On("Install", mock.Anything, mock.AnythingOfType("string")).Once().
		Run(func(args mock.Arguments) {
			staged = args.String(1)
			data, err := os.ReadFile(staged)
			r.NoError(err)
			r.Equal("PK-archive", string(data))
		}).
		Return(newPlugin("search", false), nil)

	p, err := e.service.Install(t.Context(), plugin.Source{
		Type:     plugin.SourceFile,
		File:     direct.NewFromBytes([]byte("PK-archive")),
		FileName: "search-1.0.0.jar",
	})
	r.NoError(err)
	r.Equal("search", p.Metadata.Name)
	r.NoFileExists(staged, "staged archive is removed after install")
	entries, err := os.ReadDir(e.staging)
	r.NoError(err)
	r.Empty(entries)
}

func TestInstall_StagedArchiveRemovedOnFailure(t *testing.T) {
	r := require.New(t)
	e := newEnv(t)
	e.runtime.On("Install", mock.Anything, mock.Anything).Once().
		Return(nil, failure.AlreadyExists(v1alpha1.KindPlugin, "search"))

	_, err := e.service.Install(t.Context(), plugin.Source{
		File:     direct.NewFromBytes([]byte("PK")),
		FileName: "search.jar",
	})
	r.ErrorIs(err, failure.ErrAlreadyExists)
	entries, err := os.ReadDir(e.staging)
	r.NoError(err)
	r.Empty(entries)
}

func TestInstall_RejectsNonJarUpload(t *testing.T) {
	r := require.New(t)
	e := newEnv(t)

	_, err := e.service.Install(t.Context(), plugin.Source{
		Type:     plugin.SourceFile,
		File:     direct.NewFromBytes([]byte("x")),
		FileName: "search.zip",
	})
	r.ErrorIs(err, failure.ErrInvalidInput)

	_, err = e.service.Install(t.Context(), plugin.Source{Type: plugin.SourceFile})
	r.ErrorIs(err, failure.ErrInvalidInput)
	e.runtime.AssertNotCalled(t, "Install", mock.Anything, mock.Anything)
}

func TestInstall_FromPreset(t *testing.T) {
	r := require.New(t)
	e := newEnv(t)
	preset := newPlugin("comments", false)
	preset.Status.LoadLocation = "/opt/presets/comments-1.0.0.jar"
	e.runtime.On("Presets", mock.Anything).Return([]*v1alpha1.Plugin{preset}, nil)
	e.runtime.On("Install", mock.Anything, "/opt/presets/comments-1.0.0.jar").Once().Return(newPlugin("comments", false), nil)

	p, err := e.service.Install(t.Context(), plugin.Source{Type: plugin.SourcePreset, PresetName: "comments"})
	r.NoError(err)
	r.Equal("comments", p.Metadata.Name)

	_, err = e.service.Install(t.Context(), plugin.Source{Type: plugin.SourcePreset, PresetName: "missing"})
	r.True(failure.IsNotFound(err))

	_, err = e.service.Install(t.Context(), plugin.Source{Type: plugin.SourcePreset, PresetName: "  "})
	r.ErrorIs(err, failure.ErrInvalidInput)
}

func TestInstall_FromURI(t *testing.T) {
	r := require.New(t)
	e := newEnv(t)
	e.fetcher.On("Fetch", mock.Anything, "https://plugins.example.com/search.jar").Once().
		Return(direct.NewFromBytes([]byte("remote")), nil)
	e.runtime.On("Install", mock.Anything, mock.AnythingOfType("string")).Once().
		Run(func(args mock.Arguments) {
			data, err := os.ReadFile(args.String(1))
			r.NoError(err)
			r.Equal("remote", string(data))
		}).
		Return(newPlugin("search", false), nil)

	_, err := e.service.Install(t.Context(), plugin.Source{Type: plugin.SourceURL, URI: "https://plugins.example.com/search.jar"})
	r.NoError(err)

	e.fetcher.On("Fetch", mock.Anything, "https://down.example.com/x.jar").Once().
		Return(nil, failure.Fetch("https://down.example.com/x.jar", context.DeadlineExceeded))
	_, err = e.service.Install(t.Context(), plugin.Source{Type: plugin.SourceURL, URI: "https://down.example.com/x.jar"})
	r.ErrorIs(err, failure.ErrFetch)
}

func TestUpgrade(t *testing.T) {
	r := require.New(t)
	e := newEnv(t)
	e.create(t, newPlugin("search", true))

	upgraded := newPlugin("search", true)
	upgraded.Spec.Version = "2.0.0"
	e.runtime.On("Upgrade", mock.Anything, "search", mock.AnythingOfType("string")).Once().Return(upgraded, nil)

	p, err := e.service.Upgrade(t.Context(), "search", plugin.Source{File: direct.NewFromBytes([]byte("v2")), FileName: "search-2.0.0.jar"})
	r.NoError(err)
	r.Equal("2.0.0", p.Spec.Version)

	_, err = e.service.Upgrade(t.Context(), "ghost", plugin.Source{File: direct.NewFromBytes([]byte("v2")), FileName: "ghost.jar"})
	r.True(failure.IsNotFound(err))
}

func TestReloadAndPresetsDelegate(t *testing.T) {
	r := require.New(t)
	e := newEnv(t)
	e.runtime.On("Reload", mock.Anything, "search").Once().Return(newPlugin("search", true), nil)
	e.runtime.On("Presets", mock.Anything).Once().Return([]*v1alpha1.Plugin{newPlugin("a", false)}, nil)

	p, err := e.service.Reload(t.Context(), "search")
	r.NoError(err)
	r.Equal("search", p.Metadata.Name)

	presets, err := e.service.Presets(t.Context())
	r.NoError(err)
	r.Len(presets, 1)
}
