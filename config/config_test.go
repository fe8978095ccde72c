package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/filesystem"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
event_loops: 4
event_bus:
  reply_timeout: 1m30s
http:
  allowed_hosts: [api.example.com]
  request_timeout: 10s
file_system:
  mounts:
    - virtual: /data
      host: ./data
      mode: rwc
log:
  level: debug
  format: json
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.EventLoops != 4 {
		t.Errorf("EventLoops = %d", cfg.EventLoops)
	}
	if cfg.EventBus.ReplyTimeout.Std() != 90*time.Second {
		t.Errorf("ReplyTimeout = %v", cfg.EventBus.ReplyTimeout.Std())
	}
	// untouched keys keep their defaults
	if cfg.EventBus.MaxBufferedMessages != Default().EventBus.MaxBufferedMessages {
		t.Errorf("MaxBufferedMessages = %d", cfg.EventBus.MaxBufferedMessages)
	}
	w := cfg.HTTP.Web()
	if len(w.AllowedHosts) != 1 || w.RequestTimeout != 10*time.Second {
		t.Errorf("Web() = %+v", w)
	}
	mounts := cfg.FileSystem.MountList()
	if len(mounts) != 1 || mounts[0].VirtualPath != "/data" || mounts[0].Mode != filesystem.MountReadWriteCreate {
		t.Errorf("MountList() = %+v", mounts)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestMountList(t *testing.T) {
	cfg := Default()
	cfg.FileSystem.Mounts = []MountConfig{
		{Virtual: "/ro", Host: "/srv/ro", Mode: "ro"},
		{Virtual: "/rw", Host: "/srv/rw", Mode: "rw"},
		{Virtual: "/rwc", Host: "/srv/rwc", Mode: "rwc"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	want := []filesystem.MountMode{filesystem.MountReadOnly, filesystem.MountReadWrite, filesystem.MountReadWriteCreate}
	mounts := cfg.FileSystem.MountList()
	if len(mounts) != len(want) {
		t.Fatalf("MountList() = %+v", mounts)
	}
	for i, m := range mounts {
		if m.Mode != want[i] || m.VirtualPath != cfg.FileSystem.Mounts[i].Virtual || m.HostPath != cfg.FileSystem.Mounts[i].Host {
			t.Errorf("mount %d = %+v", i, m)
		}
	}

	cfg.FileSystem.Mounts[0].Mode = "100%"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "mode must be ro, rw or rwc") || strings.Contains(err.Error(), "%!") {
		t.Errorf("Validate() = %v", err)
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Workers != Default().Workers {
		t.Errorf("Workers = %d", cfg.Workers)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		path string
	}{
		{"unknown key", "event_loop: 2", ""},
		{"bad duration", "dns:\n  timeout: soon", ""},
		{"negative", "workers: -1", "workers"},
		{"bad mode", "file_system:\n  mounts:\n    - {virtual: /a, host: /tmp, mode: rx}", "file_system.mounts.0.mode"},
		{"relative mount", "file_system:\n  mounts:\n    - {virtual: a, host: /tmp, mode: ro}", "file_system.mounts.0.virtual"},
		{"bad level", "log:\n  level: loud", "log.level"},
		{"bad format", "log:\n  format: xml", "log.format"},
		{"bad dns server", "dns:\n  server: '::1::53'", "dns.server"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			var e *errors.Error
			if !errors.As(err, &e) || e.Phase != errors.PhaseConfig {
				t.Fatalf("err = %v, want a config error", err)
			}
			if tt.path != "" && !strings.Contains(err.Error(), tt.path) {
				t.Errorf("err = %v, want path %s", err, tt.path)
			}
		})
	}
}

func TestValidateCombinesErrors(t *testing.T) {
	cfg := Default()
	cfg.Workers = -1
	cfg.EventLoops = -1
	cfg.Log.Format = "xml"
	errs := multierr.Errors(cfg.Validate())
	if len(errs) != 3 {
		t.Fatalf("got %d errors: %v", len(errs), errs)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vertigo.yaml")
	if err := os.WriteFile(path, []byte("workers: 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 3 {
		t.Errorf("Workers = %d", cfg.Workers)
	}

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("missing file err = %v", err)
	}
}

func TestDurationRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{Duration(1500 * time.Millisecond)})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(out)); got != "d: 1.5s" {
		t.Errorf("Marshal = %q", got)
	}
}

func TestLogBuild(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := LogConfig{Level: "warn", Format: format}.Build()
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if l.Core().Enabled(-1) {
			t.Errorf("%s: debug enabled at warn level", format)
		}
	}
	if _, err := (LogConfig{Level: "info", Format: "xml"}).Build(); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestDeployOptions(t *testing.T) {
	c := DeployConfig{DiskCache: true, CacheDir: "/tmp/x", MemoryLimitPages: 16, AllowedModuleHosts: []string{"a"}}
	if n := len(c.Options()); n != 4 {
		t.Errorf("Options() = %d options", n)
	}
	if n := len(DeployConfig{}.Options()); n != 0 {
		t.Errorf("empty Options() = %d options", n)
	}
}
