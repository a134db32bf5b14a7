// Package config provides configuration loading for hostshim.
//
// Configuration comes from a single optional file (YAML, or JSON with
// comments when the extension is .jsonc/.json), then HOSTSHIM_* environment
// overrides are applied on top. Missing values fall back to defaults that
// reproduce the packaged desktop layout: the backend lives in the resource
// directory, logs go to <host-exe-dir>/logs.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/mbrock/hostshim/internal/dirs"
)

// Readiness probe kinds.
const (
	ProbeHTTP   = "http"
	ProbeTCP    = "tcp"
	ProbeFile   = "file"
	ProbeNotify = "notify"
	ProbeDelay  = "delay"
	ProbeNone   = "none"
)

// Child lifecycle policies applied when the host exits.
const (
	OnExitTerminate = "terminate"
	OnExitDetach    = "detach"
)

// Config is the complete hostshim configuration.
type Config struct {
	// Backend describes the bundled executable.
	Backend BackendConfig `yaml:"backend"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Readiness configures how the host decides the backend is up.
	Readiness ReadinessConfig `yaml:"readiness"`

	// Lifecycle configures what happens to the child when the host exits.
	Lifecycle LifecycleConfig `yaml:"lifecycle"`

	// Control configures the local HTTP surface used by the UI layer.
	Control ControlConfig `yaml:"control"`

	// Present configures how launch outcomes are shown to the user.
	Present PresentConfig `yaml:"present"`
}

// BackendConfig describes the backend executable and its environment.
type BackendConfig struct {
	// Name is the resource name of the executable, relative to the
	// resource directory. ".exe" is appended on Windows when missing.
	Name string `yaml:"name"`

	// Args are passed to the backend.
	Args []string `yaml:"args"`

	// Env holds extra variables for the backend.
	Env map[string]string `yaml:"env"`

	// ResourceDirEnv names the variable carrying the resource directory.
	ResourceDirEnv string `yaml:"resource_dir_env"`

	// LogsDirEnv names the variable carrying the logs directory.
	LogsDirEnv string `yaml:"logs_dir_env"`

	// AutoStart launches the backend when the host starts.
	AutoStart bool `yaml:"auto_start"`
}

// PathsConfig configures directory locations. Empty values are derived
// from the host executable location.
type PathsConfig struct {
	HostDir     string `yaml:"host_dir"`
	ResourceDir string `yaml:"resource_dir"`
	LogsDir     string `yaml:"logs_dir"`
}

// ReadinessConfig configures the readiness probe.
type ReadinessConfig struct {
	// Kind is one of http, tcp, file, notify, delay, none.
	Kind string `yaml:"kind"`

	URL     string `yaml:"url"`
	Address string `yaml:"address"`
	File    string `yaml:"file"`

	// Delay is the fixed warm-up used by the delay probe.
	Delay time.Duration `yaml:"delay"`

	// Timeout bounds the whole wait.
	Timeout time.Duration `yaml:"timeout"`

	// Interval is the polling period.
	Interval time.Duration `yaml:"interval"`
}

// LifecycleConfig configures child ownership.
type LifecycleConfig struct {
	// OnExit is terminate (default) or detach.
	OnExit string `yaml:"on_exit"`

	// StopTimeout is the grace period between SIGTERM and SIGKILL.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// ControlConfig configures the control server.
type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Socket  string `yaml:"socket"`
}

// PresentConfig configures outcome presentation.
type PresentConfig struct {
	Terminal bool   `yaml:"terminal"`
	Desktop  bool   `yaml:"desktop"`
	AppName  string `yaml:"app_name"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Name:           "backend",
			ResourceDirEnv: "HOSTSHIM_RESOURCE_DIR",
			LogsDirEnv:     "HOSTSHIM_LOGS_DIR",
			AutoStart:      true,
		},
		Readiness: ReadinessConfig{
			Kind:     ProbeHTTP,
			URL:      "http://127.0.0.1:5000/",
			Delay:    3 * time.Second,
			Timeout:  30 * time.Second,
			Interval: 200 * time.Millisecond,
		},
		Lifecycle: LifecycleConfig{
			OnExit:      OnExitTerminate,
			StopTimeout: 5 * time.Second,
		},
		Control: ControlConfig{
			Enabled: true,
			Address: "127.0.0.1:5180",
		},
		Present: PresentConfig{
			Terminal: true,
			Desktop:  true,
			AppName:  "hostshim",
		},
	}
}

// Load reads the config file at path (if non-empty), applies environment
// overrides, fills path defaults from hostDir and validates the result.
func Load(path, hostDir string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := Decode(cfg, data, filepath.Ext(path)); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.fillPaths(hostDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode merges data into cfg. JSON and JSONC are normalised to plain JSON
// first; JSON is valid YAML, so a single decoder handles both and
// durations like "5s" parse the same way in either format.
func Decode(cfg *Config, data []byte, ext string) error {
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HOSTSHIM_BACKEND_NAME"); v != "" {
		c.Backend.Name = v
	}
	if v := os.Getenv("HOSTSHIM_RESOURCES"); v != "" {
		c.Paths.ResourceDir = v
	}
	if v := os.Getenv("HOSTSHIM_LOGS"); v != "" {
		c.Paths.LogsDir = v
	}
	if v := os.Getenv("HOSTSHIM_READY_URL"); v != "" {
		c.Readiness.Kind = ProbeHTTP
		c.Readiness.URL = v
	}
	if v := os.Getenv("HOSTSHIM_ON_EXIT"); v != "" {
		c.Lifecycle.OnExit = v
	}
	if v := os.Getenv("HOSTSHIM_LISTEN"); v != "" {
		c.Control.Address = v
	}
}

func (c *Config) fillPaths(hostDir string) {
	if c.Paths.HostDir == "" {
		c.Paths.HostDir = hostDir
	}
	if c.Paths.LogsDir == "" && c.Paths.HostDir != "" {
		c.Paths.LogsDir = dirs.LogsDir(c.Paths.HostDir)
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Backend.Name == "" {
		errs = append(errs, errors.New("backend.name is required"))
	}
	if c.Backend.ResourceDirEnv == "" || c.Backend.LogsDirEnv == "" {
		errs = append(errs, errors.New("backend.resource_dir_env and backend.logs_dir_env are required"))
	}
	if c.Paths.LogsDir == "" {
		errs = append(errs, errors.New("paths.logs_dir could not be determined"))
	}

	r := c.Readiness
	switch r.Kind {
	case ProbeHTTP:
		if u, err := url.Parse(r.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("readiness.url %q is not an http(s) URL", r.URL))
		}
	case ProbeTCP:
		if r.Address == "" {
			errs = append(errs, errors.New("readiness.address is required for tcp probe"))
		}
	case ProbeFile:
		if r.File == "" {
			errs = append(errs, errors.New("readiness.file is required for file probe"))
		}
	case ProbeDelay:
		if r.Delay <= 0 {
			errs = append(errs, errors.New("readiness.delay must be positive for delay probe"))
		}
	case ProbeNotify, ProbeNone:
	default:
		errs = append(errs, fmt.Errorf("readiness.kind %q is not one of http, tcp, file, notify, delay, none", r.Kind))
	}
	if r.Kind != ProbeNone && r.Kind != ProbeDelay {
		if r.Timeout <= 0 {
			errs = append(errs, errors.New("readiness.timeout must be positive"))
		}
		if r.Interval <= 0 {
			errs = append(errs, errors.New("readiness.interval must be positive"))
		}
	}

	switch c.Lifecycle.OnExit {
	case OnExitTerminate, OnExitDetach:
	default:
		errs = append(errs, fmt.Errorf("lifecycle.on_exit %q is not one of terminate, detach", c.Lifecycle.OnExit))
	}
	if c.Lifecycle.StopTimeout < 0 {
		errs = append(errs, errors.New("lifecycle.stop_timeout must not be negative"))
	}

	if c.Control.Enabled && c.Control.Address == "" && c.Control.Socket == "" {
		errs = append(errs, errors.New("control.address or control.socket is required when control is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Marshal renders the effective configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
