package roadgraph

import (
	"fmt"
	"math"
)

// Config tunes the graph builder. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	ConnectThresholdMeters float64 `yaml:"connectThresholdMeters" json:"connectThresholdMeters"`
	MinAngleDegrees        float64 `yaml:"minAngleDegrees" json:"minAngleDegrees"`
	RailCellMeters         float64 `yaml:"railCellMeters" json:"railCellMeters"`
	BearingBinDegrees      float64 `yaml:"bearingBinDegrees" json:"bearingBinDegrees"`
}

// DefaultConfig returns the thresholds used for walking/cycling surveys
func DefaultConfig() Config {
	return Config{
		ConnectThresholdMeters: 200,
		MinAngleDegrees:        100,
		RailCellMeters:         8,
		BearingBinDegrees:      12,
	}
}

// ConfigError reports an unusable builder threshold
type ConfigError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("roadgraph: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Validate checks every threshold and returns a *ConfigError for the first
// bad one
func (c Config) Validate() error {
	checks := []struct {
		field    string
		value    float64
		positive bool // zero not allowed
		max      float64
	}{
		{"connectThresholdMeters", c.ConnectThresholdMeters, false, 0},
		{"minAngleDegrees", c.MinAngleDegrees, false, 180},
		{"railCellMeters", c.RailCellMeters, true, 0},
		{"bearingBinDegrees", c.BearingBinDegrees, true, 180},
	}

	for _, ch := range checks {
		switch {
		case math.IsNaN(ch.value) || math.IsInf(ch.value, 0):
			return &ConfigError{Field: ch.field, Value: ch.value, Reason: "must be finite"}
		case ch.value < 0:
			return &ConfigError{Field: ch.field, Value: ch.value, Reason: "must not be negative"}
		case ch.positive && ch.value == 0:
			return &ConfigError{Field: ch.field, Value: ch.value, Reason: "must be greater than zero"}
		case ch.max > 0 && ch.value > ch.max:
			return &ConfigError{Field: ch.field, Value: ch.value, Reason: fmt.Sprintf("must be at most %v", ch.max)}
		}
	}
	return nil
}
