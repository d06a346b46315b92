package pose

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	GeoPoseStandard       = "OGC.GeoPose.1.0"
	GeoPoseReferenceFrame = "EPSG:4979" // WGS84 lat/lon/ellipsoidal height

	// DefaultOrientationStdDevDeg is the attitude uncertainty reported for
	// phone rotation-vector sensors
	DefaultOrientationStdDevDeg = 2.0

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// GeoPosition is the position block of a GeoPose document
type GeoPosition struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	H   float64 `json:"h"`
}

// GeoAccuracy carries optional one-sigma uncertainties
type GeoAccuracy struct {
	PosStdDevM   *float64 `json:"posStdDevM,omitempty"`
	OriStdDevDeg *float64 `json:"oriStdDevDeg,omitempty"`
}

// QuaternionGeoPose is an OGC GeoPose 1.0 Basic-Quaternion document
type QuaternionGeoPose struct {
	Standard       string       `json:"standard"`
	ReferenceFrame string       `json:"referenceFrame"`
	ID             string       `json:"id,omitempty"`
	Timestamp      string       `json:"timestamp,omitempty"`
	Position       GeoPosition  `json:"position"`
	Quaternion     Quaternion   `json:"quaternion"`
	Accuracy       *GeoAccuracy `json:"accuracy,omitempty"`
}

// YPRGeoPose is an OGC GeoPose 1.0 Basic-YPR document, handy for eyeballing
// headings during QA
type YPRGeoPose struct {
	Standard       string       `json:"standard"`
	ReferenceFrame string       `json:"referenceFrame"`
	ID             string       `json:"id,omitempty"`
	Timestamp      string       `json:"timestamp,omitempty"`
	Position       GeoPosition  `json:"position"`
	YPRAngles      Euler        `json:"yprAngles"`
	Accuracy       *GeoAccuracy `json:"accuracy,omitempty"`
}

// FormatTimestamp renders t as RFC-3339 UTC with millisecond precision
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// NewQuaternionGeoPose builds a Basic-Quaternion document for a fused pose.
// A missing height is written as 0.
func NewQuaternionGeoPose(id string, fp FusedPose, oriStdDevDeg *float64) QuaternionGeoPose {
	return QuaternionGeoPose{
		Standard:       GeoPoseStandard,
		ReferenceFrame: GeoPoseReferenceFrame,
		ID:             id,
		Timestamp:      timestampOf(fp),
		Position:       positionOf(fp),
		Quaternion:     fp.Orientation,
		Accuracy:       accuracyOf(fp.AccuracyM, oriStdDevDeg),
	}
}

// NewYPRGeoPose builds a Basic-YPR document for a fused pose
func NewYPRGeoPose(id string, fp FusedPose, oriStdDevDeg *float64) YPRGeoPose {
	return YPRGeoPose{
		Standard:       GeoPoseStandard,
		ReferenceFrame: GeoPoseReferenceFrame,
		ID:             id,
		Timestamp:      timestampOf(fp),
		Position:       positionOf(fp),
		YPRAngles:      fp.Orientation.Euler(),
		Accuracy:       accuracyOf(fp.AccuracyM, oriStdDevDeg),
	}
}

// WriteGeoPose writes doc as indented JSON, creating parent directories
func WriteGeoPose(path string, doc any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating geopose directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling geopose: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing geopose %s: %w", path, err)
	}
	return nil
}

func timestampOf(fp FusedPose) string {
	if fp.WallTime.IsZero() {
		return ""
	}
	return FormatTimestamp(fp.WallTime)
}

func positionOf(fp FusedPose) GeoPosition {
	pos := GeoPosition{Lat: fp.Lat, Lon: fp.Lon}
	if fp.Height != nil {
		pos.H = *fp.Height
	}
	return pos
}

func accuracyOf(posStd, oriStd *float64) *GeoAccuracy {
	if posStd == nil && oriStd == nil {
		return nil
	}
	return &GeoAccuracy{PosStdDevM: posStd, OriStdDevDeg: oriStd}
}
