package machine

import (
	"github.com/caarlos0/env/v6"
)

// Config carries the machine's tunables. The zero value is a usable
// default; ConfigFromEnv populates it from the environment.
type Config struct {
	// GCStress runs a collection on every allocation, surfacing missing
	// reachability bugs deterministically.
	GCStress bool `env:"CALAMUS_GC_STRESS"`

	// GCLog traces collections to the machine's stderr.
	GCLog bool `env:"CALAMUS_GC_LOG"`

	// GCInitialNext is the heap size in bytes that triggers the first
	// collection; after each collection the threshold is twice the
	// surviving heap.
	GCInitialNext int `env:"CALAMUS_GC_NEXT" envDefault:"1048576"`

	// SuppressPrint silences the print opcode, for tests that only care
	// about side effects or errors.
	SuppressPrint bool `env:"CALAMUS_SUPPRESS_PRINT"`
}

// ConfigFromEnv returns the configuration read from CALAMUS_* environment
// variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
