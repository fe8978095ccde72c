package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caffeineduck/vertigo/bind"
	"github.com/caffeineduck/vertigo/config"
	"github.com/caffeineduck/vertigo/filesystem"
	"github.com/caffeineduck/vertigo/vertx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "vertigo",
	Short: "Asynchronous I/O toolkit for dynamically typed callers",
	Long: `vertigo - Event loops, an event bus, TCP, UDP, HTTP, DNS and file I/O,
exposed to callers in other runtimes.

A caller talks to vertigo over newline-delimited JSON, either on stdio or
over a WebSocket. Every call names a target and a method; vertigo picks
the matching overload, converts the arguments and reports asynchronous
results back as (result, error) callback events.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	addConfigFlags(rootCmd)
}

// addConfigFlags adds the flags loadConfig reads, for cmd and its
// subcommands.
func addConfigFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "YAML configuration file")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	cmd.PersistentFlags().String("log-format", "", "Log format: json, console (overrides config)")
	cmd.PersistentFlags().Int("event-loops", 0, "Number of event loops (overrides config)")
	cmd.PersistentFlags().StringSlice("allow-host", nil, "Allow HTTP to host (repeatable, overrides config)")
	cmd.PersistentFlags().StringSlice("mount", nil, "Mount filesystem virtual:host:mode (repeatable)")
}

// loadConfig reads --config and applies the flags the user set on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	cfg := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("event-loops") {
		cfg.EventLoops, _ = flags.GetInt("event-loops")
	}
	if flags.Changed("allow-host") {
		cfg.HTTP.AllowedHosts, _ = flags.GetStringSlice("allow-host")
	}
	mounts, _ := flags.GetStringSlice("mount")
	for _, spec := range mounts {
		m, err := parseMount(spec)
		if err != nil {
			return nil, err
		}
		cfg.FileSystem.Mounts = append(cfg.FileSystem.Mounts, m)
	}
	return cfg, cfg.Validate()
}

func parseMount(spec string) (config.MountConfig, error) {
	var m config.MountConfig
	parts := splitMount(spec)
	if len(parts) != 3 {
		return m, fmt.Errorf("invalid mount spec %q (expected virtual:host:mode)", spec)
	}
	if _, err := filesystem.MountModes.Parse(parts[2]); err != nil {
		return m, fmt.Errorf("invalid mount mode %q (expected ro, rw, or rwc)", parts[2])
	}
	m.Virtual, m.Host, m.Mode = parts[0], parts[1], parts[2]
	return m, nil
}

// splitMount splits on the first and last colon so host paths may contain
// colons.
func splitMount(spec string) []string {
	first := strings.Index(spec, ":")
	last := strings.LastIndex(spec, ":")
	if first < 0 || first == last {
		return nil
	}
	return []string{spec[:first], spec[first+1 : last], spec[last+1:]}
}

// instance is a running Vertx with its binding runtime.
type instance struct {
	vx  *vertx.Vertx
	rt  *bind.Runtime
	log *zap.Logger
}

func start(cmd *cobra.Command, overrides ...func(*config.Config)) (*instance, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	log, err := cfg.Log.Build()
	if err != nil {
		return nil, err
	}
	bind.SetLogger(log.Named("bind"))
	vx, err := vertx.New(vertx.WithConfig(cfg), vertx.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return &instance{vx: vx, rt: bind.New(vx), log: log}, nil
}

func (in *instance) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := in.vx.Close().Await(ctx); err != nil {
		in.log.Warn("shutdown incomplete", zap.Error(err))
	}
	_ = in.log.Sync()
}
