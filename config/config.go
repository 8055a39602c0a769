// Package config loads the bridge configuration from a YAML file, with
// BRIDGE_ prefixed environment variables taking precedence.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"Shopify/parquet-arrow-bridge/bridge"
	"Shopify/parquet-arrow-bridge/schema"
	"Shopify/parquet-arrow-bridge/storage"
)

const envPrefix = "BRIDGE"

type Config struct {
	Bridge  BridgeConfig         `mapstructure:"bridge"`
	Engine  EngineConfig         `mapstructure:"engine"`
	Storage storage.BucketConfig `mapstructure:"storage"`
	Log     LogConfig            `mapstructure:"log"`
	// Schema is optional; when empty it is taken from the input.
	Schema []FieldConfig `mapstructure:"schema"`
}

type BridgeConfig struct {
	MaxRecordsPerBatch int    `mapstructure:"max_records_per_batch"`
	MaxBatchBytes      int64  `mapstructure:"max_batch_bytes"`
	TimeZone           string `mapstructure:"time_zone"`
	TaskMemoryLimit    int64  `mapstructure:"task_memory_limit"`
	MemoryLimit        int64  `mapstructure:"memory_limit"`
}

type EngineConfig struct {
	Parallelism int `mapstructure:"parallelism"`
	Partitions  int `mapstructure:"partitions"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type FieldConfig struct {
	Name     string `mapstructure:"name"`
	Type     string `mapstructure:"type"`
	Nullable bool   `mapstructure:"nullable"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bridge.max_records_per_batch", bridge.DefaultMaxRecordsPerBatch)
	v.SetDefault("bridge.max_batch_bytes", 0)
	v.SetDefault("bridge.time_zone", "UTC")
	v.SetDefault("bridge.task_memory_limit", 0)
	v.SetDefault("bridge.memory_limit", 0)
	v.SetDefault("engine.parallelism", 0)
	v.SetDefault("engine.partitions", 1)
	v.SetDefault("storage.provider", storage.ProviderFilesystem)
	v.SetDefault("storage.directory", ".")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "logfmt")
}

// Load reads the configuration at path. An empty path yields the defaults
// with environment overrides applied.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := schema.ValidateTimeZone(c.Bridge.TimeZone); err != nil {
		return errors.Wrap(err, "bridge.time_zone")
	}
	if c.Engine.Parallelism < 0 {
		return errors.Errorf("engine.parallelism must not be negative, got %d", c.Engine.Parallelism)
	}
	if c.Engine.Partitions < 1 {
		return errors.Errorf("engine.partitions must be positive, got %d", c.Engine.Partitions)
	}
	switch c.Storage.Provider {
	case storage.ProviderFilesystem, storage.ProviderMemory:
	case storage.ProviderGCS:
		if c.Storage.GCS.Bucket == "" {
			return errors.New("storage.gcs.bucket is required for the gcs provider")
		}
	default:
		return errors.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "logfmt", "json":
	default:
		return errors.Errorf("unknown log.format %q", c.Log.Format)
	}
	if _, err := c.ParseSchema(); err != nil {
		return errors.Wrap(err, "schema")
	}
	return nil
}

func (c *Config) BridgeOptions() bridge.Options {
	return bridge.Options{
		MaxRecordsPerBatch: c.Bridge.MaxRecordsPerBatch,
		MaxBatchBytes:      c.Bridge.MaxBatchBytes,
		TimeZoneID:         c.Bridge.TimeZone,
		TaskArenaLimit:     c.Bridge.TaskMemoryLimit,
		MemoryLimit:        c.Bridge.MemoryLimit,
	}
}

// ParseSchema returns the configured schema, or an empty schema if none is
// configured.
func (c *Config) ParseSchema() (schema.Schema, error) {
	if len(c.Schema) == 0 {
		return schema.Schema{}, nil
	}
	fields := make([]schema.Field, 0, len(c.Schema))
	for _, fc := range c.Schema {
		t, err := schema.ParseType(fc.Type)
		if err != nil {
			return schema.Schema{}, errors.Wrapf(err, "field %q", fc.Name)
		}
		fields = append(fields, schema.Field{Name: fc.Name, Type: t, Nullable: fc.Nullable})
	}
	return schema.New(fields...)
}
