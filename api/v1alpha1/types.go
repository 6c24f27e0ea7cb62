// Package v1alpha1 contains the resources managed by pluginhub.
package v1alpha1

import (
	"encoding/json"
	"time"
)

// GroupVersion identifies this API version in URLs.
const GroupVersion = "api.console.ocm.software/v1alpha1"

const (
	KindPlugin    = "Plugin"
	KindConfigMap = "ConfigMap"
	KindSetting   = "Setting"
)

// ObjectMeta is the metadata every stored resource carries. Version and
// CreationTimestamp are maintained by the store.
type ObjectMeta struct {
	Name              string    `json:"name"`
	Version           int64     `json:"version,omitempty"`
	CreationTimestamp time.Time `json:"creationTimestamp,omitzero"`
}

// PluginPhase is the lifecycle phase reported by the plugin runtime.
type PluginPhase string

const (
	PhasePending  PluginPhase = "Pending"
	PhaseStarting PluginPhase = "Starting"
	PhaseStarted  PluginPhase = "Started"
	PhaseStopping PluginPhase = "Stopping"
	PhaseStopped  PluginPhase = "Stopped"
	PhaseFailed   PluginPhase = "Failed"
)

// Plugin is an installed plugin.
type Plugin struct {
	Metadata ObjectMeta   `json:"metadata"`
	Spec     PluginSpec   `json:"spec"`
	Status   PluginStatus `json:"status"`
}

// PluginSpec is the desired state of a plugin.
type PluginSpec struct {
	Enabled       bool   `json:"enabled"`
	DisplayName   string `json:"displayName,omitempty"`
	Description   string `json:"description,omitempty"`
	Version       string `json:"version"`
	ConfigMapName string `json:"configMapName,omitempty"`
	SettingName   string `json:"settingName,omitempty"`
}

// PluginStatus is the observed state of a plugin.
type PluginStatus struct {
	Phase        PluginPhase `json:"phase,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	LoadLocation string      `json:"loadLocation,omitempty"`
}

func (*Plugin) Kind() string {
	return KindPlugin
}

func (p *Plugin) GetObjectMeta() *ObjectMeta {
	return &p.Metadata
}

// IsStarted reports whether the runtime reports the plugin as running.
func (p *Plugin) IsStarted() bool { return p.Status.Phase == PhaseStarted }

// IsFailed reports whether the runtime gave up on the plugin.
func (p *Plugin) IsFailed() bool { return p.Status.Phase == PhaseFailed }

// ConfigMap holds the configuration values of a plugin, one JSON document per group.
type ConfigMap struct {
	Metadata ObjectMeta        `json:"metadata"`
	Data     map[string]string `json:"data,omitempty"`
}

func (*ConfigMap) Kind() string {
	return KindConfigMap
}

func (c *ConfigMap) GetObjectMeta() *ObjectMeta {
	return &c.Metadata
}

// Setting describes the configuration forms of a plugin.
type Setting struct {
	Metadata ObjectMeta  `json:"metadata"`
	Spec     SettingSpec `json:"spec"`
}

// SettingSpec is a list of form groups.
type SettingSpec struct {
	Forms []SettingForm `json:"forms"`
}

// SettingForm is one group of fields. Each field may carry a default value.
type SettingForm struct {
	Group  string      `json:"group"`
	Label  string      `json:"label,omitempty"`
	Fields []FormField `json:"formSchema,omitempty"`
}

// FormField is one input of a setting form.
type FormField struct {
	Name  string          `json:"name"`
	Label string          `json:"label,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (*Setting) Kind() string {
	return KindSetting
}

func (s *Setting) GetObjectMeta() *ObjectMeta {
	return &s.Metadata
}

// DefaultValues returns the default configuration of every form group, encoded as a
// JSON object of field name to default value. Groups without defaults are skipped.
func (s *Setting) DefaultValues() (map[string]string, error) {
	out := map[string]string{}
	for _, form := range s.Spec.Forms {
		defaults := map[string]json.RawMessage{}
		for _, field := range form.Fields {
			if field.Name == "" || len(field.Value) == 0 {
				continue
			}
			defaults[field.Name] = field.Value
		}
		if len(defaults) == 0 {
			continue
		}
		data, err := json.Marshal(defaults)
		if err != nil {
			return nil, err
		}
		out[form.Group] = string(data)
	}
	return out, nil
}
