// Package config loads the operational configuration for a RAID-PIR server
// process: which shard it is, how its database is sourced, how its seed
// queue is backed, and how its admin HTTP surface behaves. It follows the
// teacher stack's convention of a YAML file overridable by environment
// variables, with optional hot-reload via fsnotify.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig describes where a server's database elements come from.
type DatabaseConfig struct {
	// Source is "local" or "s3".
	Source string `yaml:"source"`
	// Path is a local file path when Source is "local".
	Path string `yaml:"path"`
	// ElementSize is the fixed byte width of each element, used when
	// decoding a flat database file into discrete elements.
	ElementSize int `yaml:"element_size"`

	S3 S3Config `yaml:"s3"`
}

// S3Config configures the S3-compatible remote database loader.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Key      string `yaml:"key"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // non-empty for non-AWS S3-compatible providers
}

// QueueConfig configures the preprocessed seed queue.
type QueueConfig struct {
	// Size is the configured seed-queue depth (default 32). It is loaded
	// and overridable from the environment, but nothing passes it to
	// raidpir.Server, which always fills its queue to raidpir.QueueSize.
	Size int `yaml:"size"`
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the optional distributed seed queue backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ShardConfig describes this process's position in the k-server replication
// group.
type ShardConfig struct {
	ID          int  `yaml:"id"`
	Servers     int  `yaml:"servers"`
	Redundancy  int  `yaml:"redundancy"`
	UseRussians bool `yaml:"use_russians"`
}

// MetricsConfig configures the admin HTTP surface.
type MetricsConfig struct {
	ListenAddr        string `yaml:"listen_addr"`
	EnableServerLabel bool   `yaml:"enable_server_label"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TracingConfig configures OpenTelemetry span export for Preprocess and
// Response calls.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout", "otlp", or "jaeger"
}

// Config is the full configuration for a single RAID-PIR server process.
type Config struct {
	Shard    ShardConfig    `yaml:"shard"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// Default returns a Config with the same defaults the library itself would
// use if left unconfigured.
func Default() Config {
	return Config{
		Shard: ShardConfig{
			Servers:    4,
			Redundancy: 2,
		},
		Database: DatabaseConfig{
			Source: "local",
		},
		Queue: QueueConfig{
			Size:    32,
			Backend: "memory",
		},
		Metrics: MetricsConfig{
			ListenAddr:        ":9090",
			EnableServerLabel: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Exporter: "stdout",
		},
	}
}

// Load reads a YAML config file at path, falling back to Default() field
// values for anything the file omits, then applies environment overrides
// (see ApplyEnv).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	ApplyEnv(&cfg)
	return &cfg, nil
}

// ApplyEnv overrides cfg fields from RAIDPIR_*-prefixed environment
// variables. Only the fields operators most commonly need to override
// per-deployment (without rebuilding the YAML) are covered.
func ApplyEnv(cfg *Config) {
	if v, ok := lookupEnv("RAIDPIR_SHARD_ID"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Shard.ID = n
		}
	}
	if v, ok := lookupEnv("RAIDPIR_SHARD_SERVERS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Shard.Servers = n
		}
	}
	if v, ok := lookupEnv("RAIDPIR_SHARD_REDUNDANCY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Shard.Redundancy = n
		}
	}
	if v, ok := lookupEnv("RAIDPIR_QUEUE_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Size = n
		}
	}
	if v, ok := lookupEnv("RAIDPIR_QUEUE_BACKEND"); ok {
		cfg.Queue.Backend = v
	}
	if v, ok := lookupEnv("RAIDPIR_REDIS_ADDR"); ok {
		cfg.Queue.Redis.Addr = v
	}
	if v, ok := lookupEnv("RAIDPIR_METRICS_LISTEN_ADDR"); ok {
		cfg.Metrics.ListenAddr = v
	}
	if v, ok := lookupEnv("RAIDPIR_LOG_LEVEL"); ok {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Watch reloads the config at path whenever it changes on disk, invoking
// onChange with the newly parsed Config. It returns a closer that stops the
// watch. Parse errors on reload are swallowed (the previous Config keeps
// serving) apart from being returned to onErr if non-nil.
func Watch(path string, onChange func(*Config), onErr func(error)) (close func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watching %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					if onErr != nil {
						onErr(err)
					}
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onErr != nil {
					onErr(err)
				}
			}
		}
	}()

	return watcher.Close, nil
}
