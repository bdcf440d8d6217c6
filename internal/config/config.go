package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EngineConfig holds all configuration recognized by the storage engine.
type EngineConfig struct {
	// DataDirectory is the directory the segment store persists segment
	// files into. Required; created on construction if absent.
	DataDirectory string

	// EnableCompression toggles the codec for newly written segments.
	// Existing segments keep whatever compressed flag they were written
	// with; this only affects future writes.
	EnableCompression bool

	// MemoryCacheSizeMB is an advisory hint; the engine does not enforce
	// a byte budget on the memory tier, only a point-count threshold.
	MemoryCacheSizeMB int

	// BatchSize is a hint used when callers group points for write_batch;
	// the engine itself accepts batches of any size.
	BatchSize int

	// MaxSegmentSizeMB is an advisory hint for segment sizing; the
	// authoritative chunking rule is segment.CompactionChunk.
	MaxSegmentSizeMB int

	// MaxMemoryPoints is the total (across all symbols) point count in the
	// memory tier that triggers an automatic flush.
	MaxMemoryPoints int64

	Log       LogConfig
	Scheduler SchedulerConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulerConfig controls the optional background optimizer.
type SchedulerConfig struct {
	// OptimizeSchedule is a 5-field cron expression. Empty disables the
	// background optimizer; callers can still invoke Engine.Optimize
	// manually.
	OptimizeSchedule string
	Enabled          bool
}

// Load builds an EngineConfig from defaults, an optional config file named
// "tsengine.yaml"/"tsengine.toml"/etc. on the search path, and TSENGINE_*
// environment variables, in that order of increasing precedence.
func Load() (*EngineConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TSENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("tsengine")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tsengine/")
	v.AddConfigPath("$HOME/.tsengine/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &EngineConfig{
		DataDirectory:     v.GetString("engine.data_directory"),
		EnableCompression: v.GetBool("engine.enable_compression"),
		MemoryCacheSizeMB: v.GetInt("engine.memory_cache_size_mb"),
		BatchSize:         v.GetInt("engine.batch_size"),
		MaxSegmentSizeMB:  v.GetInt("engine.max_segment_size_mb"),
		MaxMemoryPoints:   v.GetInt64("engine.max_memory_points"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Scheduler: SchedulerConfig{
			OptimizeSchedule: v.GetString("scheduler.optimize_schedule"),
			Enabled:          v.GetBool("scheduler.enabled"),
		},
	}

	if cfg.DataDirectory == "" {
		return nil, fmt.Errorf("engine.data_directory is required")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.data_directory", "./data/tsengine")
	v.SetDefault("engine.enable_compression", true)
	v.SetDefault("engine.memory_cache_size_mb", 256)
	v.SetDefault("engine.batch_size", 1000)
	v.SetDefault("engine.max_segment_size_mb", 64)
	v.SetDefault("engine.max_memory_points", 1_000_000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.optimize_schedule", "5 * * * *")
}

// Default returns a usable EngineConfig for the given data directory with
// every other field at its documented default. Callers that don't need
// viper-driven configuration (tests, embedders) can use this directly.
func Default(dataDirectory string) *EngineConfig {
	return &EngineConfig{
		DataDirectory:     dataDirectory,
		EnableCompression: true,
		MemoryCacheSizeMB: 256,
		BatchSize:         1000,
		MaxSegmentSizeMB:  64,
		MaxMemoryPoints:   1_000_000,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Scheduler: SchedulerConfig{
			OptimizeSchedule: "5 * * * *",
		},
	}
}
