package survey

import (
	"fmt"
	"os"

	"github.com/kwv/roadmesh/pose"
	"github.com/kwv/roadmesh/roadgraph"
	"gopkg.in/yaml.v3"
)

const (
	defaultToleranceMs = 5000
	defaultTickSeconds = 10
	defaultCapturesDB  = "captures.db"
	defaultKeysCache   = ".dedup-keys.json"
)

// DefaultConfig returns a configuration with every optional field set and
// no broker or sources
func DefaultConfig() *Config {
	cfg := &Config{Graph: GraphConfig{PersistKeys: true}}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig loads the unified configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Pre-fill so omitted graph thresholds keep their defaults; the persist
	// flag defaults to on.
	config := Config{Graph: GraphConfig{Config: roadgraph.DefaultConfig(), PersistKeys: true}}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks required fields and graph thresholds
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be defined")
	}

	seen := make(map[string]bool)
	for i, sc := range c.Sources {
		if sc.ID == "" {
			return fmt.Errorf("sources[%d].id is required", i)
		}
		if sc.Topic == "" {
			return fmt.Errorf("sources[%d].topic is required for %s", i, sc.ID)
		}
		if seen[sc.ID] {
			return fmt.Errorf("sources[%d].id %q is duplicated", i, sc.ID)
		}
		seen[sc.ID] = true
	}

	if c.Pose.ToleranceMs < 0 {
		return fmt.Errorf("pose.toleranceMs must not be negative")
	}
	if err := c.Graph.Config.Validate(); err != nil {
		return fmt.Errorf("graph: %w", err)
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// applyDefaults fills zero values. Graph thresholds are only defaulted when
// the whole block is empty; an explicit zero threshold is a config error
// reported by Validate.
func applyDefaults(c *Config) {
	if c.MQTT.PublishPrefix == "" {
		c.MQTT.PublishPrefix = "roadmesh"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "roadmesh"
	}
	if c.Pose.Capacity <= 0 {
		c.Pose.Capacity = pose.DefaultCapacity
	}
	if c.Pose.ToleranceMs == 0 {
		c.Pose.ToleranceMs = defaultToleranceMs
	}
	if c.Graph.Config == (roadgraph.Config{}) {
		c.Graph.Config = roadgraph.DefaultConfig()
	}
	if c.Graph.TickSeconds <= 0 {
		c.Graph.TickSeconds = defaultTickSeconds
	}
	if c.Storage.CapturesDB == "" {
		c.Storage.CapturesDB = defaultCapturesDB
	}
	if c.Storage.KeysCache == "" {
		c.Storage.KeysCache = defaultKeysCache
	}
}
