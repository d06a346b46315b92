package survey

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kwv/roadmesh/pose"
)

var errEmptyPayload = errors.New("empty payload")

// positionPayload is the wire form of a GNSS fix
type positionPayload struct {
	CaptureNs  *int64   `json:"captureNs" validate:"required"`
	WallTimeMs int64    `json:"wallTimeMs,omitempty"`
	Lat        *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon        *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
	Height     *float64 `json:"height,omitempty"`
	Accuracy   *float64 `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
}

// orientationPayload is the wire form of a rotation-vector sample. Either
// the x/y/z/w fields or the Android-ordered q array [w, x, y, z] is set.
type orientationPayload struct {
	CaptureNs *int64    `json:"captureNs" validate:"required"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	W         float64   `json:"w"`
	Q         []float64 `json:"q,omitempty" validate:"omitempty,len=4"`
}

// DecodePosition parses a position message
func DecodePosition(data []byte) (pose.PositionSample, error) {
	if len(data) == 0 {
		return pose.PositionSample{}, errEmptyPayload
	}

	var p positionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return pose.PositionSample{}, fmt.Errorf("parsing position: %w", err)
	}
	if err := Validate(p); err != nil {
		return pose.PositionSample{}, fmt.Errorf("invalid position: %w", err)
	}

	sample := pose.PositionSample{
		CaptureNs: *p.CaptureNs,
		Lat:       *p.Lat,
		Lon:       *p.Lon,
		Height:    p.Height,
		AccuracyM: p.Accuracy,
	}
	if p.WallTimeMs != 0 {
		sample.WallTime = time.UnixMilli(p.WallTimeMs).UTC()
	}
	return sample, nil
}

// DecodeOrientation parses an orientation message
func DecodeOrientation(data []byte) (pose.OrientationSample, error) {
	if len(data) == 0 {
		return pose.OrientationSample{}, errEmptyPayload
	}

	var o orientationPayload
	if err := json.Unmarshal(data, &o); err != nil {
		return pose.OrientationSample{}, fmt.Errorf("parsing orientation: %w", err)
	}
	if err := Validate(o); err != nil {
		return pose.OrientationSample{}, fmt.Errorf("invalid orientation: %w", err)
	}

	q := pose.Quaternion{X: o.X, Y: o.Y, Z: o.Z, W: o.W}
	if len(o.Q) == 4 {
		q = pose.Quaternion{W: o.Q[0], X: o.Q[1], Y: o.Q[2], Z: o.Q[3]}
	}

	return pose.OrientationSample{CaptureNs: *o.CaptureNs, Q: q}, nil
}

// DecodeCapture parses a capture announcement
func DecodeCapture(data []byte) (Capture, error) {
	if len(data) == 0 {
		return Capture{}, errEmptyPayload
	}

	var c Capture
	if err := json.Unmarshal(data, &c); err != nil {
		return Capture{}, fmt.Errorf("parsing capture: %w", err)
	}
	if err := Validate(c); err != nil {
		return Capture{}, fmt.Errorf("invalid capture: %w", err)
	}
	return c, nil
}
