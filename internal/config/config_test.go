package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HOSTSHIM_BACKEND_NAME", "HOSTSHIM_RESOURCES", "HOSTSHIM_LOGS",
		"HOSTSHIM_READY_URL", "HOSTSHIM_ON_EXIT", "HOSTSHIM_LISTEN",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	host := t.TempDir()

	cfg, err := Load("", host)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.HostDir != host {
		t.Errorf("HostDir = %q, want %q", cfg.Paths.HostDir, host)
	}
	if cfg.Paths.LogsDir != filepath.Join(host, "logs") {
		t.Errorf("LogsDir = %q, want <host>/logs", cfg.Paths.LogsDir)
	}
	if cfg.Readiness.Kind != ProbeHTTP {
		t.Errorf("Readiness.Kind = %q, want http", cfg.Readiness.Kind)
	}
	if cfg.Lifecycle.OnExit != OnExitTerminate {
		t.Errorf("OnExit = %q, want terminate", cfg.Lifecycle.OnExit)
	}
	if !cfg.Backend.AutoStart {
		t.Error("AutoStart should default to true")
	}
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "hostshim.yaml")
	data := `
backend:
  name: server
  args: ["--quiet"]
  env:
    PORT: "5000"
readiness:
  kind: tcp
  address: 127.0.0.1:5000
  timeout: 10s
  interval: 50ms
lifecycle:
  on_exit: detach
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.Name != "server" {
		t.Errorf("Backend.Name = %q", cfg.Backend.Name)
	}
	if len(cfg.Backend.Args) != 1 || cfg.Backend.Args[0] != "--quiet" {
		t.Errorf("Backend.Args = %v", cfg.Backend.Args)
	}
	if cfg.Backend.Env["PORT"] != "5000" {
		t.Errorf("Backend.Env = %v", cfg.Backend.Env)
	}
	if cfg.Readiness.Timeout != 10*time.Second || cfg.Readiness.Interval != 50*time.Millisecond {
		t.Errorf("Readiness durations = %v / %v", cfg.Readiness.Timeout, cfg.Readiness.Interval)
	}
	if cfg.Lifecycle.OnExit != OnExitDetach {
		t.Errorf("OnExit = %q", cfg.Lifecycle.OnExit)
	}
	// Untouched sections keep their defaults.
	if cfg.Backend.ResourceDirEnv != "HOSTSHIM_RESOURCE_DIR" {
		t.Errorf("ResourceDirEnv = %q", cfg.Backend.ResourceDirEnv)
	}
}

func TestLoad_JSONC(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "hostshim.jsonc")
	data := `{
  // packaged next to the host
  "backend": {"name": "backend.bin", "auto_start": false},
  "readiness": {
    "kind": "delay",
    "delay": "1500ms", /* legacy warm-up */
  },
}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.Name != "backend.bin" || cfg.Backend.AutoStart {
		t.Errorf("Backend = %+v", cfg.Backend)
	}
	if cfg.Readiness.Kind != ProbeDelay || cfg.Readiness.Delay != 1500*time.Millisecond {
		t.Errorf("Readiness = %+v", cfg.Readiness)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOSTSHIM_LOGS", "/var/log/app")
	t.Setenv("HOSTSHIM_READY_URL", "http://127.0.0.1:9999/health")
	t.Setenv("HOSTSHIM_ON_EXIT", "detach")

	cfg, err := Load("", t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.LogsDir != "/var/log/app" {
		t.Errorf("LogsDir = %q", cfg.Paths.LogsDir)
	}
	if cfg.Readiness.URL != "http://127.0.0.1:9999/health" {
		t.Errorf("URL = %q", cfg.Readiness.URL)
	}
	if cfg.Lifecycle.OnExit != OnExitDetach {
		t.Errorf("OnExit = %q", cfg.Lifecycle.OnExit)
	}
}

func TestLoad_UnknownField(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "hostshim.yaml")
	if err := os.WriteFile(path, []byte("backend:\n  nmae: typo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, dir); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Backend.Name = ""
	cfg.Readiness.Kind = "ping"
	cfg.Lifecycle.OnExit = "explode"
	cfg.Paths.LogsDir = "/tmp/logs"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"backend.name", "readiness.kind", "lifecycle.on_exit"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %s", msg, want)
		}
	}
}

func TestValidate_ProbeRequirements(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*ReadinessConfig)
	}{
		{"http bad url", func(r *ReadinessConfig) { r.Kind = ProbeHTTP; r.URL = "localhost:5000" }},
		{"tcp no address", func(r *ReadinessConfig) { r.Kind = ProbeTCP; r.Address = "" }},
		{"file no path", func(r *ReadinessConfig) { r.Kind = ProbeFile; r.File = "" }},
		{"delay zero", func(r *ReadinessConfig) { r.Kind = ProbeDelay; r.Delay = 0 }},
		{"zero timeout", func(r *ReadinessConfig) { r.Kind = ProbeNotify; r.Timeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Paths.LogsDir = "/tmp/logs"
			tc.mod(&cfg.Readiness)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Paths.LogsDir = "/tmp/logs"
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), "timeout: 30s") {
		t.Fatalf("expected human-readable duration, got:\n%s", data)
	}

	back := &Config{}
	if err := Decode(back, data, ".yaml"); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.Readiness.Timeout != cfg.Readiness.Timeout {
		t.Fatalf("Timeout = %v, want %v", back.Readiness.Timeout, cfg.Readiness.Timeout)
	}
}
