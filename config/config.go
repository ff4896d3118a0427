// Package config loads the handful of settings a Mycelia host (worker
// pool, client, storage backend) needs to start: where the durable
// store lives and how much concurrency the worker pool is allowed.
// Per-node execution timeouts are not a host-level setting: they ride
// along on each NodeCall's ExecutorParams, set by the caller that
// builds the call graph.
//
// Grounded on am/load.go's layered Viper setup (env vars override a
// discovered file override built-in defaults), trimmed down: no CLI,
// no plugin config, no TOML file search across /etc, ~/.mycelia and a
// project directory — a single optional config file plus environment
// variables is enough for a scheduler host with no subcommands of its
// own.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mycelia/mycelia/errors"
)

// Config is every setting a host process needs to construct a
// storage.Storage, a broker.Broker and a worker.Pool.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Worker  WorkerConfig  `mapstructure:"worker"`
}

// StorageConfig selects and configures the durable backend.
type StorageConfig struct {
	// Driver is "memory" or "postgres". memory needs nothing further;
	// postgres reads DSN.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// WorkerConfig mirrors worker.Config.
type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EnvPrefix is the prefix every environment variable override carries,
// e.g. MYCELIA_STORAGE_DSN for Storage.DSN.
const EnvPrefix = "MYCELIA"

// SetDefaults installs the built-in defaults onto v, applied before
// any config file or environment variable is read.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.shutdown_timeout", 30*time.Second)
}

// Load reads Config from an optional file at path (skipped entirely
// when path is empty) layered under environment variables prefixed
// EnvPrefix, which always win — matching am.Load's "env vars are the
// highest-precedence layer" stance, minus the multi-file system/user/
// project search that a single-binary scheduler host has no use for.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}
