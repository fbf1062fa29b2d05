package bepu

import (
	"errors"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// DebugChecks gates programmer-error assertions, following the teacher's
// B2DEBUG constant (CommonB2Settings.go) except as a variable rather than a
// compile-time constant, so tests can flip it (spec §7).
var DebugChecks = true

// assertf panics with a formatted message when cond is false and
// DebugChecks is enabled; release builds are expected to set DebugChecks
// to false and skip the check entirely, per spec §7's "checked on entry...
// in release they are assumed".
func assertf(cond bool, format string, args ...any) {
	if cond || !DebugChecks {
		return
	}
	panic(fmt.Sprintf(format, args...))
}

// Global tuning constants, MKS units, ported from CommonB2Settings.go and
// retargeted at 3D constraint solving.
const (
	maxFloat = math.MaxFloat64
	epsilon  = 1e-12
	pi       = math.Pi

	// linearSlop is a small length used as a constraint tolerance.
	linearSlop = 0.005
	// angularSlop is a small angle used as a constraint tolerance.
	angularSlop = 2.0 / 180.0 * pi

	// baumgarte scales how fast positional error bleeds into velocity bias.
	baumgarte = 0.2

	// timeToSleep is how long a body must be quiescent before its island sleeps.
	timeToSleep = 0.5
	// linearSleepTolerance/angularSleepTolerance bound the velocities below
	// which a body is considered quiescent.
	linearSleepTolerance  = 0.01
	angularSleepTolerance = 2.0 / 180.0 * pi
)

// Config holds every tuning knob named in spec §6, loaded from YAML the
// way pthm-soup/config loads its Config (embedded defaults + yaml.Unmarshal),
// since the teacher itself has no configuration layer to adapt.
type Config struct {
	// IterationCount is the solver iteration count per sub-step.
	IterationCount int `yaml:"iteration_count"`
	// FallbackBatchThreshold is the maximum non-fallback batch count; bodies
	// referenced by more constraints than this overflow into the fallback batch.
	FallbackBatchThreshold int `yaml:"fallback_batch_threshold"`
	// SubstepCount is the number of sub-steps per call to Step.
	SubstepCount int `yaml:"substep_count"`
	// InitialCapacity sizes the initial active-body arrays.
	InitialCapacity int `yaml:"initial_capacity"`
	// InitialIslandCapacity is loaded and defaulted, but nothing in the
	// solver reads it; the sleeping-island list grows on demand.
	InitialIslandCapacity int `yaml:"initial_island_capacity"`
	// MinimumCapacityPerTypeBatch is the initial capacity, in constraints,
	// of every type batch a constraint batch creates; type batches only
	// grow, never shrink.
	MinimumCapacityPerTypeBatch int `yaml:"minimum_capacity_per_type_batch"`
	// BlockBundles is the target number of bundles per scheduler block
	// (spec §4.6 targets ~4-16).
	BlockBundles int `yaml:"block_bundles"`
	// WorkerCount is the number of worker goroutines the scheduler starts.
	WorkerCount int `yaml:"worker_count"`
}

// DefaultConfig returns the module's baked-in defaults, the values used
// when a caller does not load a YAML document (mirrors pthm-soup's
// defaults.yaml, inlined here since this module embeds no external file).
func DefaultConfig() Config {
	return Config{
		IterationCount:              4,
		FallbackBatchThreshold:      16,
		SubstepCount:                4,
		InitialCapacity:             4096,
		InitialIslandCapacity:       64,
		MinimumCapacityPerTypeBatch: 64,
		BlockBundles:                8,
		WorkerCount:                 4,
	}
}

// LoadConfig parses a YAML document into a Config seeded with
// DefaultConfig, so a partial document only overrides the fields it sets.
func LoadConfig(yamlDoc []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(yamlDoc) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(yamlDoc, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing solver config: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SubstepCount < 1 {
		return errors.New("substep_count must be >= 1")
	}
	if c.IterationCount < 1 {
		return errors.New("iteration_count must be >= 1")
	}
	if c.FallbackBatchThreshold < 1 {
		return errors.New("fallback_batch_threshold must be >= 1")
	}
	return nil
}
