package v1alpha1_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/pluginhub/api/v1alpha1"
)

func TestSetting_DefaultValues(t *testing.T) {
	r := require.New(t)
	var s v1alpha1.Setting
	r.NoError(json.Unmarshal([]byte(`{
		"metadata": {"name": "search-settings"},
		"spec": {"forms": [
			{"group": "basic", "formSchema": [
				{"name": "size", "value": 10},
				{"name": "title", "value": "Search"},
				{"name": "tags", "value": ["a", "b"]},
				{"name": "empty"}
			]},
			{"group": "advanced", "formSchema": [{"name": "noDefault"}]}
		]}
	}`), &s))

	defaults, err := s.DefaultValues()
	r.NoError(err)
	r.Len(defaults, 1)
	r.JSONEq(`{"size":10,"title":"Search","tags":["a","b"]}`, defaults["basic"])
}

func TestPlugin_Phases(t *testing.T) {
	r := require.New(t)
	p := &v1alpha1.Plugin{}
	r.False(p.IsStarted())
	r.False(p.IsFailed())

	p.Status.Phase = v1alpha1.PhaseStarted
	r.True(p.IsStarted())
	p.Status.Phase = v1alpha1.PhaseFailed
	r.True(p.IsFailed())
}
