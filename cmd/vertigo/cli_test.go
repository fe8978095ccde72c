package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/vertigo/bind"
	"github.com/caffeineduck/vertigo/config"
	"github.com/caffeineduck/vertigo/vertx"
	"github.com/spf13/cobra"
)

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func newRuntime(t *testing.T) *bind.Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.EventLoops = 2
	cfg.Deploy.CacheDir = t.TempDir()
	vx, err := vertx.New(vertx.WithConfig(cfg))
	if err != nil {
		t.Fatalf("vertx.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		vx.Close().Await(ctx)
	})
	return bind.New(vx)
}

func TestCLIHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedPhrases := []string{
		"vertigo",
		"newline-delimited JSON",
		"serve",
		"repl",
		"run",
		"version",
		"--config",
		"--log-level",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("help output should contain %q", phrase)
		}
	}
}

func TestCLIServeHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "serve", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"--stdio", "--listen", "/session", "/health"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("serve help output should contain %q", phrase)
		}
	}
}

func TestCLIReplHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "repl", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"--history", "Command history", "Line editing", ".methods"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("repl help output should contain %q", phrase)
		}
	}
}

func TestCLIRunHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "run", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"--instances", "--conf", "--env", "--disk-cache"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("run help output should contain %q", phrase)
		}
	}
}

func TestCLIVersion(t *testing.T) {
	output, err := executeCommand(rootCmd, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(output, "vertigo ") {
		t.Errorf("version output = %q", output)
	}
}

func TestCLIRunMissingModule(t *testing.T) {
	_, err := executeCommand(rootCmd, "run", "--log-level", "error", filepath.Join(t.TempDir(), "missing.wasm"))
	if err == nil {
		t.Fatal("expected an error deploying a missing module")
	}
}

func TestParseMount(t *testing.T) {
	tests := []struct {
		spec    string
		want    config.MountConfig
		wantErr bool
	}{
		{spec: "/data:./data:ro", want: config.MountConfig{Virtual: "/data", Host: "./data", Mode: "ro"}},
		{spec: "/data:C:\\data:rwc", want: config.MountConfig{Virtual: "/data", Host: "C:\\data", Mode: "rwc"}},
		{spec: "/data:./data", wantErr: true},
		{spec: "/data", wantErr: true},
		{spec: "/data:./data:rx", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := parseMount(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseMount(%q) = %+v, want %+v", tt.spec, got, tt.want)
			}
		})
	}
}

// configFrom runs loadConfig under a fresh command with args.
func configFrom(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	var cfg *config.Config
	var loadErr error
	cmd := &cobra.Command{
		Use: "test",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, loadErr = loadConfig(cmd)
		},
	}
	addConfigFlags(cmd)
	cmd.SetArgs(args)
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	return cfg, loadErr
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vertigo.yaml")
	data := "event_loops: 3\nlog:\n  level: warn\nhttp:\n  allowed_hosts: [api.example.com]\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	t.Run("defaults", func(t *testing.T) {
		cfg, err := configFrom(t)
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.Log.Level != "info" || cfg.EventLoops != 0 {
			t.Errorf("defaults changed: %+v", cfg)
		}
	})

	t.Run("file", func(t *testing.T) {
		cfg, err := configFrom(t, "--config", path)
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.EventLoops != 3 || cfg.Log.Level != "warn" {
			t.Errorf("file not applied: loops=%d level=%s", cfg.EventLoops, cfg.Log.Level)
		}
	})

	t.Run("flags override file", func(t *testing.T) {
		cfg, err := configFrom(t, "--config", path,
			"--log-level", "debug",
			"--event-loops", "1",
			"--allow-host", "a.example.com",
			"--allow-host", "b.example.com",
			"--mount", "/tmp:"+t.TempDir()+":rw")
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.Log.Level != "debug" || cfg.EventLoops != 1 {
			t.Errorf("flags not applied: loops=%d level=%s", cfg.EventLoops, cfg.Log.Level)
		}
		if len(cfg.HTTP.AllowedHosts) != 2 || cfg.HTTP.AllowedHosts[0] != "a.example.com" {
			t.Errorf("allowed hosts = %v", cfg.HTTP.AllowedHosts)
		}
		if len(cfg.FileSystem.Mounts) != 1 || cfg.FileSystem.Mounts[0].Mode != "rw" {
			t.Errorf("mounts = %+v", cfg.FileSystem.Mounts)
		}
	})

	t.Run("invalid level", func(t *testing.T) {
		if _, err := configFrom(t, "--log-level", "loud"); err == nil {
			t.Error("expected a validation error")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := configFrom(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected an error for a missing file")
		}
	})
}

func TestDeploymentOptions(t *testing.T) {
	confFile := filepath.Join(t.TempDir(), "conf.json")
	if err := os.WriteFile(confFile, []byte(`{"port":8081,"name":"svc"}`), 0644); err != nil {
		t.Fatal(err)
	}

	parse := func(args ...string) error {
		cmd := &cobra.Command{Use: "test", RunE: func(cmd *cobra.Command, args []string) error {
			o, err := deploymentOptions(cmd)
			if err != nil {
				return err
			}
			if o.Config != nil {
				if port, _ := o.Config.GetInteger("port"); port != 8081 {
					t.Errorf("port = %d", port)
				}
			}
			return nil
		}}
		addRunFlags(cmd)
		cmd.SetArgs(args)
		cmd.SetOut(new(bytes.Buffer))
		cmd.SetErr(new(bytes.Buffer))
		return cmd.Execute()
	}

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"no config", nil, false},
		{"inline", []string{"--conf", `{"port":8081}`}, false},
		{"file", []string{"--conf", confFile}, false},
		{"env", []string{"--env", "A=1", "--env", "B=2"}, false},
		{"not an object", []string{"--conf", `[1]`}, true},
		{"missing file", []string{"--conf", filepath.Join(t.TempDir(), "none.json")}, true},
		{"zero instances", []string{"--instances", "0"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parse(tt.args...)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
