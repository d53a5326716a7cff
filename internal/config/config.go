// Package config loads pipeline tuning knobs from config file and
// environment. Every knob has a documented default; correctness never
// depends on the chosen values.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Defaults for every knob.
const (
	DefaultPromoteBatchSize    = 5000
	DefaultFormulaBatchSize    = 1000
	DefaultConversionBatchSize = 50000
	DefaultYieldDelay          = 10 * time.Millisecond
	DefaultLargeFileThreshold  = 100000
	DefaultMaxParallelJobs     = 4
)

// Config carries the resolved knob values.
type Config struct {
	// DBPath is the document-store location.
	DBPath string
	// Backend selects the docstore backend (sqlite).
	Backend string
	// PromoteBatchSize is rows per promotion batch.
	PromoteBatchSize int
	// FormulaBatchSize is rows per evaluation batch; smaller than promotion
	// because each row pays expression-evaluation cost.
	FormulaBatchSize int
	// ConversionBatchSize is rows per raw-ingest batch for very large files.
	ConversionBatchSize int
	// YieldDelay is the cooperative sleep between batches.
	YieldDelay time.Duration
	// LargeFileThreshold is the row count above which ingest must stream.
	LargeFileThreshold int
	// MaxParallelJobs caps concurrently running jobs.
	MaxParallelJobs int
}

// Load reads ~/.recona/config.yaml (if present) and RECONA_* env overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".recona"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("RECONA")
	v.AutomaticEnv()

	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("backend", "sqlite")
	v.SetDefault("promote_batch_size", DefaultPromoteBatchSize)
	v.SetDefault("formula_batch_size", DefaultFormulaBatchSize)
	v.SetDefault("conversion_batch_size", DefaultConversionBatchSize)
	v.SetDefault("yield_delay_ms", int(DefaultYieldDelay/time.Millisecond))
	v.SetDefault("large_file_threshold", DefaultLargeFileThreshold)
	v.SetDefault("max_parallel_jobs", DefaultMaxParallelJobs)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; env and defaults apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{
		DBPath:              v.GetString("db_path"),
		Backend:             v.GetString("backend"),
		PromoteBatchSize:    v.GetInt("promote_batch_size"),
		FormulaBatchSize:    v.GetInt("formula_batch_size"),
		ConversionBatchSize: v.GetInt("conversion_batch_size"),
		YieldDelay:          time.Duration(v.GetInt("yield_delay_ms")) * time.Millisecond,
		LargeFileThreshold:  v.GetInt("large_file_threshold"),
		MaxParallelJobs:     v.GetInt("max_parallel_jobs"),
	}
	cfg.normalize()
	return cfg, nil
}

// Default returns the built-in defaults without touching disk or env.
func Default() *Config {
	cfg := &Config{
		DBPath:              defaultDBPath(),
		Backend:             "sqlite",
		PromoteBatchSize:    DefaultPromoteBatchSize,
		FormulaBatchSize:    DefaultFormulaBatchSize,
		ConversionBatchSize: DefaultConversionBatchSize,
		YieldDelay:          DefaultYieldDelay,
		LargeFileThreshold:  DefaultLargeFileThreshold,
		MaxParallelJobs:     DefaultMaxParallelJobs,
	}
	return cfg
}

func (c *Config) normalize() {
	if c.PromoteBatchSize <= 0 {
		c.PromoteBatchSize = DefaultPromoteBatchSize
	}
	if c.FormulaBatchSize <= 0 {
		c.FormulaBatchSize = DefaultFormulaBatchSize
	}
	if c.ConversionBatchSize <= 0 {
		c.ConversionBatchSize = DefaultConversionBatchSize
	}
	if c.YieldDelay < 0 {
		c.YieldDelay = DefaultYieldDelay
	}
	if c.LargeFileThreshold <= 0 {
		c.LargeFileThreshold = DefaultLargeFileThreshold
	}
	if c.MaxParallelJobs <= 0 {
		c.MaxParallelJobs = DefaultMaxParallelJobs
	}
}

func defaultDBPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".recona", "recona.db")
	}
	return "recona.db"
}
