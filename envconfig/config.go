// Package envconfig reads meshgen configuration from the environment.
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/meshforge/meshgen/logutil"
)

var (
	// Set via MESHGEN_DEBUG in the environment
	Debug bool
	// Set via MESHGEN_SEED in the environment; default seed for the
	// shared sampling/augmentation random stream
	Seed uint64
	// Set via MESHGEN_NUM_WORKERS in the environment; bounds batch-level
	// parallelism in model forward passes (0 means one goroutine per
	// batch element)
	NumWorkers int
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"MESHGEN_DEBUG":       {"MESHGEN_DEBUG", Debug, "Show additional debug information (e.g. MESHGEN_DEBUG=1)"},
		"MESHGEN_SEED":        {"MESHGEN_SEED", Seed, "Seed for the shared random stream (reproducible sampling)"},
		"MESHGEN_NUM_WORKERS": {"MESHGEN_NUM_WORKERS", NumWorkers, "Maximum goroutines per batched forward pass"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// LogLevel returns the slog level implied by MESHGEN_DEBUG.
func LogLevel() slog.Level {
	if Debug {
		return logutil.LevelTrace
	}
	return slog.LevelInfo
}

// LoadConfig reads the MESHGEN_* environment variables. Invalid values are
// logged and ignored.
func LoadConfig() {
	if debug := os.Getenv("MESHGEN_DEBUG"); debug != "" {
		if b, err := strconv.ParseBool(debug); err == nil {
			Debug = b
		} else {
			Debug = true
		}
	}

	if seed := os.Getenv("MESHGEN_SEED"); seed != "" {
		if s, err := strconv.ParseUint(seed, 10, 64); err == nil {
			Seed = s
		} else {
			slog.Error("invalid setting", "MESHGEN_SEED", seed, "error", err)
		}
	}

	if workers := os.Getenv("MESHGEN_NUM_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil && n >= 0 {
			NumWorkers = n
		} else {
			slog.Error("invalid setting", "MESHGEN_NUM_WORKERS", workers, "error", err)
		}
	}

	slog.Debug("environment", "config", Values())
}

func init() {
	LoadConfig()
}
