// Package config builds the ambient construction parameters for a Region
// from the environment, the way the wider repo this module's teacher
// package lives in uses github.com/caarlos0/env rather than hand-rolled
// flag parsing for its services.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config covers the Buffer's construction parameters (§6) plus this
// module's ambient worker-pool, backing-store, and logging knobs.
type Config struct {
	// Capacity is the fixed maximum number of resident pages.
	Capacity int `env:"CAPACITY" envDefault:"256"`
	// LowWaterPercentage and HighWaterPercentage are integers in [0,100];
	// LowWaterPercentage must be <= HighWaterPercentage.
	LowWaterPercentage  int `env:"LOW_WATER_PERCENTAGE" envDefault:"50"`
	HighWaterPercentage int `env:"HIGH_WATER_PERCENTAGE" envDefault:"90"`

	FillWorkers  int `env:"FILL_WORKERS" envDefault:"4"`
	EvictWorkers int `env:"EVICT_WORKERS" envDefault:"2"`

	// BackingStoreKind selects which backingstore.Store implementation a
	// Region wires up. region.Open opens only "file"; for "gcs" it returns
	// an error, because an ObjectStore needs an already-built
	// *storage.Client.
	BackingStoreKind string `env:"BACKING_STORE_KIND" envDefault:"file"`
	BackingFilePath  string `env:"BACKING_FILE_PATH" envDefault:"pagebuffer.img"`
	BackingFileSize  int64  `env:"BACKING_FILE_SIZE" envDefault:"16777216"`
	GCSBucket        string `env:"GCS_BUCKET"`
	GCSObjectPath    string `env:"GCS_OBJECT_PATH"`

	ReadRetries  int `env:"READ_RETRIES" envDefault:"3"`
	WriteRetries int `env:"WRITE_RETRIES" envDefault:"5"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses a Config from the process environment.
func Load() (Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config from environment: %w", err)
	}

	return cfg, nil
}
