package survey

import (
	"time"

	"github.com/kwv/roadmesh/pose"
	"github.com/kwv/roadmesh/roadgraph"
)

// SourceConfig defines a survey device from the config file
type SourceConfig struct {
	ID    string `yaml:"id" json:"id"`
	Topic string `yaml:"topic" json:"topic"` // base topic; /position, /orientation and /capture are appended
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
}

// PositionTopic returns the topic carrying GNSS fixes
func (sc SourceConfig) PositionTopic() string { return sc.Topic + "/position" }

// OrientationTopic returns the topic carrying rotation-vector samples
func (sc SourceConfig) OrientationTopic() string { return sc.Topic + "/orientation" }

// CaptureTopic returns the topic carrying classified captures
func (sc SourceConfig) CaptureTopic() string { return sc.Topic + "/capture" }

// PoseConfig holds pose store settings
type PoseConfig struct {
	Capacity    int   `yaml:"capacity" json:"capacity"`
	ToleranceMs int64 `yaml:"toleranceMs" json:"toleranceMs"`
}

// ToleranceNs returns the matching window in capture-clock nanoseconds
func (pc PoseConfig) ToleranceNs() int64 {
	return pc.ToleranceMs * int64(time.Millisecond)
}

// GraphConfig holds road graph settings
type GraphConfig struct {
	roadgraph.Config `yaml:",inline"`
	TickSeconds      int  `yaml:"tickSeconds" json:"tickSeconds"`
	PersistKeys      bool `yaml:"persistKeys" json:"persistKeys"`
}

// Tick returns the rebuild interval
func (gc GraphConfig) Tick() time.Duration {
	return time.Duration(gc.TickSeconds) * time.Second
}

// StorageConfig holds file locations
type StorageConfig struct {
	CapturesDB string `yaml:"capturesDB" json:"capturesDB"`
	KeysCache  string `yaml:"keysCache" json:"keysCache"`
}

// Config represents the full configuration file
type Config struct {
	MQTT    MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Sources []SourceConfig `yaml:"sources" json:"sources"`
	Pose    PoseConfig     `yaml:"pose" json:"pose"`
	Graph   GraphConfig    `yaml:"graph" json:"graph"`
	Storage StorageConfig  `yaml:"storage" json:"storage"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// GetSourceByID returns the source config for the given ID
func (c *Config) GetSourceByID(id string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].ID == id {
			return &c.Sources[i]
		}
	}
	return nil
}

// Capture is a classified image announced by a device. Its pose is not yet
// known; the tracker resolves it against the device's store.
type Capture struct {
	ID         string  `json:"id,omitempty"`
	CaptureNs  int64   `json:"captureNs" validate:"gte=0"`
	Label      string  `json:"label" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	ImageRef   string  `json:"imageRef,omitempty"`
}

// CaptureRecord is a capture with its resolved pose, as stored upstream of
// the graph builder
type CaptureRecord struct {
	ID         string         `json:"id"`
	SourceID   string         `json:"sourceId"`
	Label      string         `json:"label"`
	Confidence float64        `json:"confidence"`
	ImageRef   string         `json:"imageRef,omitempty"`
	Pose       pose.FusedPose `json:"pose"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// RoadPoint converts the record into a graph input with the given batch index
func (r CaptureRecord) RoadPoint(index int) roadgraph.RoadPoint {
	return roadgraph.RoadPoint{
		Index:       index,
		Lat:         r.Pose.Lat,
		Lon:         r.Pose.Lon,
		Label:       r.Label,
		Confidence:  r.Confidence,
		Orientation: r.Pose.Orientation,
		ImageRef:    r.ImageRef,
	}
}

// RoadPoints converts records into a batch indexed by position
func RoadPoints(records []CaptureRecord) []roadgraph.RoadPoint {
	points := make([]roadgraph.RoadPoint, len(records))
	for i, r := range records {
		points[i] = r.RoadPoint(i)
	}
	return points
}
