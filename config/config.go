// Package config loads vertigo's YAML configuration.
//
// A file only needs the keys it changes; everything else keeps the value
// from Default:
//
//	event_loops: 4
//	http:
//	  allowed_hosts: [api.example.com]
//	  request_timeout: 10s
//	file_system:
//	  mounts:
//	    - virtual: /data
//	      host: ./data
//	      mode: rw
package config

import (
	stderrors "errors"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/caffeineduck/vertigo/deploy"
	"github.com/caffeineduck/vertigo/dns"
	"github.com/caffeineduck/vertigo/errors"
	"github.com/caffeineduck/vertigo/eventbus"
	"github.com/caffeineduck/vertigo/eventloop"
	"github.com/caffeineduck/vertigo/filesystem"
	"github.com/caffeineduck/vertigo/shareddata"
	"github.com/caffeineduck/vertigo/stream"
	"github.com/caffeineduck/vertigo/web"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config is the whole configuration file.
type Config struct {
	// EventLoops is the number of event-loop contexts. Zero means twice
	// the number of CPUs.
	EventLoops           int      `yaml:"event_loops"`
	Workers              int      `yaml:"workers"`
	MaxWorkerExecuteTime Duration `yaml:"max_worker_execute_time"`

	EventBus   EventBusConfig   `yaml:"event_bus"`
	Stream     StreamConfig     `yaml:"stream"`
	FileSystem FileSystemConfig `yaml:"file_system"`
	HTTP       HTTPConfig       `yaml:"http"`
	SharedData SharedDataConfig `yaml:"shared_data"`
	DNS        DNSConfig        `yaml:"dns"`
	Deploy     DeployConfig     `yaml:"deploy"`
	Log        LogConfig        `yaml:"log"`
}

type EventBusConfig struct {
	ReplyTimeout        Duration `yaml:"reply_timeout"`
	MaxBufferedMessages int      `yaml:"max_buffered_messages"`
}

type StreamConfig struct {
	WriteQueueMaxSize int `yaml:"write_queue_max_size"`
	ReadBufferSize    int `yaml:"read_buffer_size"`
}

type FileSystemConfig struct {
	Mounts        []MountConfig `yaml:"mounts"`
	MaxFileSize   int64         `yaml:"max_file_size"`
	MaxWriteSize  int64         `yaml:"max_write_size"`
	MaxPathLength int           `yaml:"max_path_length"`
}

// MountConfig maps a virtual path to a host directory. Mode is ro, rw or
// rwc.
type MountConfig struct {
	Virtual string `yaml:"virtual"`
	Host    string `yaml:"host"`
	Mode    string `yaml:"mode"`
}

type HTTPConfig struct {
	// AllowedHosts limits the hosts the HTTP client may reach. Empty or
	// "*" allows every host.
	AllowedHosts   []string `yaml:"allowed_hosts"`
	MaxBodySize    int64    `yaml:"max_body_size"`
	MaxURLLength   int      `yaml:"max_url_length"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

type SharedDataConfig struct {
	MaxKeySize   int      `yaml:"max_key_size"`
	MaxValueSize int      `yaml:"max_value_size"`
	MaxEntries   int      `yaml:"max_entries"`
	LockTimeout  Duration `yaml:"lock_timeout"`
}

type DNSConfig struct {
	// Server is host or host:port. Empty uses the system resolver.
	Server  string   `yaml:"server"`
	Timeout Duration `yaml:"timeout"`
}

type DeployConfig struct {
	DiskCache          bool     `yaml:"disk_cache"`
	CacheDir           string   `yaml:"cache_dir"`
	MemoryLimitPages   uint32   `yaml:"memory_limit_pages"`
	AllowedModuleHosts []string `yaml:"allowed_module_hosts"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	sd := shareddata.DefaultMapConfig()
	fs := filesystem.DefaultLimits()
	return &Config{
		Workers:              eventloop.DefaultWorkerPoolSize,
		MaxWorkerExecuteTime: Duration(eventloop.DefaultMaxExecuteTime),
		EventBus: EventBusConfig{
			ReplyTimeout:        Duration(eventbus.DefaultReplyTimeout),
			MaxBufferedMessages: eventbus.DefaultMaxBufferedMessages,
		},
		Stream: StreamConfig{
			WriteQueueMaxSize: stream.DefaultWriteQueueMaxSize,
			ReadBufferSize:    filesystem.DefaultReadBufferSize,
		},
		FileSystem: FileSystemConfig{
			MaxFileSize:   fs.MaxFileSize,
			MaxWriteSize:  fs.MaxWriteSize,
			MaxPathLength: fs.MaxPathLength,
		},
		HTTP: HTTPConfig{
			MaxBodySize:    web.DefaultMaxBodySize,
			MaxURLLength:   web.DefaultMaxURLLength,
			RequestTimeout: Duration(web.DefaultRequestTimeout),
		},
		SharedData: SharedDataConfig{
			MaxKeySize:   sd.MaxKeySize,
			MaxValueSize: sd.MaxValueSize,
			MaxEntries:   sd.MaxEntries,
			LockTimeout:  Duration(shareddata.DefaultLockTimeout),
		},
		DNS: DNSConfig{
			Timeout: Duration(dns.DefaultTimeout),
		},
		Deploy: DeployConfig{
			MemoryLimitPages: deploy.MemoryLimit256MB,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(errors.PhaseConfig, "config file "+path)
		}
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindOperationFailed, err, "open "+path)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid value, combined.
func (c *Config) Validate() error {
	var err error
	check := func(ok bool, detail string, path ...string) {
		if !ok {
			err = multierr.Append(err, errors.New(errors.PhaseConfig, errors.KindInvalidData).
				Path(path...).Detail("%s", detail).Build())
		}
	}

	check(c.EventLoops >= 0, "must not be negative", "event_loops")
	check(c.Workers >= 0, "must not be negative", "workers")
	check(c.MaxWorkerExecuteTime >= 0, "must not be negative", "max_worker_execute_time")
	check(c.EventBus.ReplyTimeout >= 0, "must not be negative", "event_bus", "reply_timeout")
	check(c.EventBus.MaxBufferedMessages >= 0, "must not be negative", "event_bus", "max_buffered_messages")
	check(c.Stream.WriteQueueMaxSize >= 0, "must not be negative", "stream", "write_queue_max_size")
	check(c.Stream.ReadBufferSize >= 0, "must not be negative", "stream", "read_buffer_size")
	check(c.FileSystem.MaxFileSize >= 0, "must not be negative", "file_system", "max_file_size")
	check(c.FileSystem.MaxWriteSize >= 0, "must not be negative", "file_system", "max_write_size")
	check(c.FileSystem.MaxPathLength >= 0, "must not be negative", "file_system", "max_path_length")
	for i, m := range c.FileSystem.Mounts {
		at := []string{"file_system", "mounts", itoa(i)}
		check(strings.HasPrefix(m.Virtual, "/"), "virtual path must be absolute", append(at, "virtual")...)
		check(m.Host != "", "host path is required", append(at, "host")...)
		_, perr := filesystem.MountModes.Parse(m.Mode)
		check(perr == nil, "mode must be ro, rw or rwc", append(at, "mode")...)
	}
	check(c.HTTP.MaxBodySize >= 0, "must not be negative", "http", "max_body_size")
	check(c.HTTP.MaxURLLength >= 0, "must not be negative", "http", "max_url_length")
	check(c.HTTP.RequestTimeout >= 0, "must not be negative", "http", "request_timeout")
	check(c.SharedData.MaxKeySize >= 0, "must not be negative", "shared_data", "max_key_size")
	check(c.SharedData.MaxValueSize >= 0, "must not be negative", "shared_data", "max_value_size")
	check(c.SharedData.MaxEntries >= 0, "must not be negative", "shared_data", "max_entries")
	check(c.SharedData.LockTimeout >= 0, "must not be negative", "shared_data", "lock_timeout")
	check(c.DNS.Timeout >= 0, "must not be negative", "dns", "timeout")
	check(validServer(c.DNS.Server), "must be host or host:port", "dns", "server")
	if lerr := c.Log.validate(); lerr != nil {
		err = multierr.Append(err, lerr)
	}
	return err
}

// MountList converts the configured mounts. Call after Validate.
func (c FileSystemConfig) MountList() []filesystem.Mount {
	out := make([]filesystem.Mount, 0, len(c.Mounts))
	for _, m := range c.Mounts {
		mode, _ := filesystem.MountModes.Parse(m.Mode)
		out = append(out, filesystem.Mount{VirtualPath: m.Virtual, HostPath: m.Host, Mode: mode})
	}
	return out
}

// Limits returns the file system limits.
func (c FileSystemConfig) Limits() filesystem.Limits {
	return filesystem.Limits{
		MaxFileSize:   c.MaxFileSize,
		MaxWriteSize:  c.MaxWriteSize,
		MaxPathLength: c.MaxPathLength,
	}
}

// Web returns the HTTP client configuration.
func (c HTTPConfig) Web() web.Config {
	return web.Config{
		AllowedHosts:   c.AllowedHosts,
		MaxBodySize:    c.MaxBodySize,
		MaxURLLength:   c.MaxURLLength,
		RequestTimeout: c.RequestTimeout.Std(),
	}
}

// MapConfig returns the async map limits.
func (c SharedDataConfig) MapConfig() shareddata.MapConfig {
	return shareddata.MapConfig{
		MaxKeySize:   c.MaxKeySize,
		MaxValueSize: c.MaxValueSize,
		MaxEntries:   c.MaxEntries,
	}
}

// Options returns the deployer options.
func (c DeployConfig) Options() []deploy.Option {
	var opts []deploy.Option
	if c.CacheDir != "" {
		opts = append(opts, deploy.WithCacheDir(c.CacheDir))
	}
	if c.DiskCache {
		opts = append(opts, deploy.WithDiskCache())
	}
	if c.MemoryLimitPages > 0 {
		opts = append(opts, deploy.WithMemoryLimit(c.MemoryLimitPages))
	}
	if len(c.AllowedModuleHosts) > 0 {
		opts = append(opts, deploy.WithAllowedModuleHosts(c.AllowedModuleHosts...))
	}
	return opts
}

func validServer(s string) bool {
	if s == "" {
		return true
	}
	if _, _, err := net.SplitHostPort(s); err == nil {
		return true
	}
	return !strings.Contains(s, ":") || net.ParseIP(s) != nil
}

// Duration is a time.Duration written as "30s" or "1m30s" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "line "+itoa(n.Line))
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
