// Package config loads and validates engine configuration from environment
// variables, and parses the pipeline definition file (stations, edges,
// cost table, playbook actions) supplied by the surrounding application.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all engine tuning knobs.
type Config struct {
	// History store settings. DatabaseURL points at the read-only permit
	// event history; SQLitePath selects the local fixture backend instead
	// when set.
	DatabaseURL string
	SQLitePath  string

	// PipelinePath is the JSON pipeline definition (stations, edges,
	// handoff codes, cost table, playbook actions).
	PipelinePath string

	// Model settings.
	MinBaselineSamples     int     // below this a baseline group is low-confidence
	MinNeighborhoodSamples int     // below this a neighborhood transition row is discarded
	StallThreshold         float64 // self-transition probability that flags stall risk
	PredictionHorizon      int     // default multi-step horizon

	// Orchestrator settings.
	ScenarioTimeout time.Duration

	// Refresh settings. The engine is re-fit by an external scheduler;
	// RefitInterval is the cadence cmd/permitflow uses when run as that
	// scheduler.
	RefitInterval time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	LogLevel string
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:            envStr("DATABASE_URL", ""),
		SQLitePath:             envStr("PERMITFLOW_SQLITE_PATH", ""),
		PipelinePath:           envStr("PERMITFLOW_PIPELINE", "pipeline.json"),
		MinBaselineSamples:     envInt("PERMITFLOW_MIN_BASELINE_SAMPLES", 20),
		MinNeighborhoodSamples: envInt("PERMITFLOW_MIN_NEIGHBORHOOD_SAMPLES", 30),
		StallThreshold:         envFloat("PERMITFLOW_STALL_THRESHOLD", 0.5),
		PredictionHorizon:      envInt("PERMITFLOW_PREDICTION_HORIZON", 3),
		ScenarioTimeout:        envDuration("PERMITFLOW_SCENARIO_TIMEOUT", 10*time.Second),
		RefitInterval:          envDuration("PERMITFLOW_REFIT_INTERVAL", 15*time.Minute),
		OTELEndpoint:           envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:           envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:            envStr("OTEL_SERVICE_NAME", "permitflow"),
		LogLevel:               envStr("PERMITFLOW_LOG_LEVEL", "info"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.MinBaselineSamples <= 0 {
		return fmt.Errorf("config: PERMITFLOW_MIN_BASELINE_SAMPLES must be positive")
	}
	if c.StallThreshold <= 0 || c.StallThreshold >= 1 {
		return fmt.Errorf("config: PERMITFLOW_STALL_THRESHOLD must be in (0, 1)")
	}
	if c.PredictionHorizon <= 0 {
		return fmt.Errorf("config: PERMITFLOW_PREDICTION_HORIZON must be positive")
	}
	if c.ScenarioTimeout <= 0 {
		return fmt.Errorf("config: PERMITFLOW_SCENARIO_TIMEOUT must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
