// Package v1 contains the pluginhub configuration file format.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

const (
	// ConfigFlag names the configuration file flag.
	ConfigFlag = "config"
	// DatabaseURLEnv overrides store.dsn.
	DatabaseURLEnv = "PLUGINHUB_DATABASE_URL"

	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Duration is a time.Duration that is written as a Go duration string.
type Duration time.Duration

func (d Duration) Value() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"250ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config is the pluginhub configuration.
type Config struct {
	Server      Server        `json:"server"`
	Store       Store         `json:"store"`
	Bundle      Bundle        `json:"bundle"`
	Staging     Staging       `json:"staging"`
	IOPool      IOPool        `json:"ioPool"`
	Convergence Retry         `json:"convergence"`
	Retry       RetryPolicies `json:"retry"`
	Fetch       Fetch         `json:"fetch"`
	Runtime     Runtime       `json:"runtime"`
}

type Server struct {
	Address         string   `json:"address"`
	ShutdownTimeout Duration `json:"shutdownTimeout"`
}

type Store struct {
	// Driver is memory or postgres.
	Driver   string `json:"driver"`
	DSN      string `json:"dsn,omitempty"`
	MaxConns int32  `json:"maxConns,omitempty"`
}

type Bundle struct {
	// Directory holds the bundle files. Empty means a new temporary directory.
	Directory        string `json:"directory,omitempty"`
	RetainSuperseded int    `json:"retainSuperseded"`
}

type Staging struct {
	// Directory holds staged uploads. Empty means the system temporary directory.
	Directory string `json:"directory,omitempty"`
	Pattern   string `json:"pattern"`
}

type IOPool struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queueSize"`
}

// Retry is a bounded retry budget.
type Retry struct {
	Attempts   int      `json:"attempts"`
	Delay      Duration `json:"delay"`
	Multiplier float64  `json:"multiplier,omitempty"`
}

type RetryPolicies struct {
	StateToggle  Retry `json:"stateToggle"`
	ConfigUpdate Retry `json:"configUpdate"`
	ConfigReset  Retry `json:"configReset"`
}

type Fetch struct {
	Timeout Duration `json:"timeout"`
}

type Runtime struct {
	PluginsDirectory  string   `json:"pluginsDirectory"`
	PresetsDirectory  string   `json:"presetsDirectory,omitempty"`
	ReconcileInterval Duration `json:"reconcileInterval"`
}

// Default returns the configuration used for everything a file does not set.
func Default() *Config {
	return &Config{
		Server:      Server{Address: ":8080", ShutdownTimeout: Duration(15 * time.Second)},
		Store:       Store{Driver: DriverMemory, MaxConns: 10},
		Bundle:      Bundle{RetainSuperseded: 2},
		Staging:     Staging{Pattern: "plugin-*.jar"},
		IOPool:      IOPool{Workers: 4, QueueSize: 64},
		Convergence: Retry{Attempts: 10, Delay: Duration(100 * time.Millisecond)},
		Retry: RetryPolicies{
			StateToggle:  Retry{Attempts: 10, Delay: Duration(100 * time.Millisecond)},
			ConfigUpdate: Retry{Attempts: 5, Delay: Duration(300 * time.Millisecond), Multiplier: 2},
			ConfigReset:  Retry{Attempts: 10, Delay: Duration(100 * time.Millisecond)},
		},
		Fetch: Fetch{Timeout: Duration(30 * time.Second)},
		Runtime: Runtime{
			PluginsDirectory:  "plugins",
			ReconcileInterval: Duration(30 * time.Second),
		},
	}
}

// Load reads the file at path over the defaults and applies the environment
// overrides. An empty path only applies the defaults and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration %s: %w", path, err)
		}
	}
	if dsn, ok := os.LookupEnv(DatabaseURLEnv); ok && dsn != "" {
		cfg.Store.DSN = dsn
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for the postgres driver, set it or %s", DatabaseURLEnv))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.IOPool.Workers < 1 {
		errs = append(errs, errors.New("ioPool.workers must be positive"))
	}
	if c.IOPool.QueueSize < 1 {
		errs = append(errs, errors.New("ioPool.queueSize must be positive"))
	}
	if c.Bundle.RetainSuperseded < 1 {
		errs = append(errs, errors.New("bundle.retainSuperseded must be positive"))
	}
	for name, r := range map[string]Retry{
		"convergence":        c.Convergence,
		"retry.stateToggle":  c.Retry.StateToggle,
		"retry.configUpdate": c.Retry.ConfigUpdate,
		"retry.configReset":  c.Retry.ConfigReset,
	} {
		if r.Attempts < 1 {
			errs = append(errs, fmt.Errorf("%s.attempts must be positive", name))
		}
		if r.Delay < 0 {
			errs = append(errs, fmt.Errorf("%s.delay must not be negative", name))
		}
	}
	if c.Runtime.PluginsDirectory == "" {
		errs = append(errs, errors.New("runtime.pluginsDirectory is required"))
	}
	return errors.Join(errs...)
}

// RegisterConfigFlag adds the configuration file flag to cmd and its children.
func RegisterConfigFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().String(ConfigFlag, "", "path to the pluginhub configuration file")
}

// GetConfigForCommand loads the configuration named by the config flag of cmd.
func GetConfigForCommand(cmd *cobra.Command) (*Config, error) {
	path, err := cmd.Flags().GetString(ConfigFlag)
	if err != nil {
		return nil, fmt.Errorf("could not read %s flag: %w", ConfigFlag, err)
	}
	return Load(path)
}
