package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"Shopify/parquet-arrow-bridge/bridge"
	"Shopify/parquet-arrow-bridge/schema"
	"Shopify/parquet-arrow-bridge/storage"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, bridge.DefaultMaxRecordsPerBatch, cfg.Bridge.MaxRecordsPerBatch)
	require.Equal(t, "UTC", cfg.Bridge.TimeZone)
	require.Equal(t, 1, cfg.Engine.Partitions)
	require.Equal(t, storage.ProviderFilesystem, cfg.Storage.Provider)
	require.Equal(t, "info", cfg.Log.Level)

	s, err := cfg.ParseSchema()
	require.NoError(t, err)
	require.Equal(t, 0, s.Len())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
bridge:
  max_records_per_batch: 128
  max_batch_bytes: 1048576
  time_zone: Europe/Paris
  task_memory_limit: 67108864
engine:
  parallelism: 4
  partitions: 8
storage:
  provider: gcs
  gcs:
    bucket: arrow-streams
log:
  level: debug
schema:
  - name: id
    type: int64
  - name: name
    type: string
    nullable: true
  - name: at
    type: timestamp
    nullable: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, bridge.Options{
		MaxRecordsPerBatch: 128,
		MaxBatchBytes:      1048576,
		TimeZoneID:         "Europe/Paris",
		TaskArenaLimit:     67108864,
	}, cfg.BridgeOptions())
	require.Equal(t, 4, cfg.Engine.Parallelism)
	require.Equal(t, 8, cfg.Engine.Partitions)
	require.Equal(t, "arrow-streams", cfg.Storage.GCS.Bucket)
	require.Equal(t, "logfmt", cfg.Log.Format)

	s, err := cfg.ParseSchema()
	require.NoError(t, err)
	expected := schema.MustNew(
		schema.Field{Name: "id", Type: schema.Int64},
		schema.Field{Name: "name", Type: schema.String, Nullable: true},
		schema.Field{Name: "at", Type: schema.Timestamp, Nullable: true},
	)
	require.True(t, expected.Equal(s))
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
bridge:
  max_records_per_batch: 128
`)
	t.Setenv("BRIDGE_BRIDGE_MAX_RECORDS_PER_BATCH", "16")
	t.Setenv("BRIDGE_ENGINE_PARTITIONS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Bridge.MaxRecordsPerBatch)
	require.Equal(t, 3, cfg.Engine.Partitions)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"time zone":        "bridge:\n  time_zone: Mars/Olympus\n",
		"partitions":       "engine:\n  partitions: 0\n",
		"parallelism":      "engine:\n  parallelism: -1\n",
		"provider":         "storage:\n  provider: s3\n",
		"gcs bucket":       "storage:\n  provider: gcs\n",
		"log level":        "log:\n  level: loud\n",
		"log format":       "log:\n  format: xml\n",
		"field type":       "schema:\n  - name: id\n    type: decimal\n",
		"duplicate fields": "schema:\n  - name: id\n    type: int32\n  - name: id\n    type: int64\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
