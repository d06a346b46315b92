package pose

import (
	"errors"
	"time"
)

var (
	// ErrNoData is returned when the buffer needed to answer a query is empty
	ErrNoData = errors.New("pose: no samples recorded")

	// ErrOutOfTolerance is returned when samples exist but the closest one is
	// further from the query instant than the caller allows
	ErrOutOfTolerance = errors.New("pose: nearest sample outside tolerance")
)

// PositionSample is a single GNSS fix stamped with the capture clock
type PositionSample struct {
	CaptureNs int64     `json:"captureNs"`
	WallTime  time.Time `json:"wallTime"` // display only
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Height    *float64  `json:"height,omitempty"`   // ellipsoidal, meters
	AccuracyM *float64  `json:"accuracy,omitempty"` // horizontal, meters
}

// OrientationSample is a device attitude stamped with the capture clock
type OrientationSample struct {
	CaptureNs int64      `json:"captureNs"`
	Q         Quaternion `json:"q"`
}

// Provenance records how the orientation of a FusedPose was obtained
type Provenance string

const (
	ProvenanceInterpolated Provenance = "interpolated"
	ProvenanceNearest      Provenance = "nearest"
)

// FusedPose is the best-estimate pose for a query instant.
// Position always comes from the nearest raw fix; orientation is either
// interpolated between two samples or taken from the nearest one.
type FusedPose struct {
	CaptureNs          int64      `json:"captureNs"`
	WallTime           time.Time  `json:"wallTime"`
	Lat                float64    `json:"lat"`
	Lon                float64    `json:"lon"`
	Height             *float64   `json:"height,omitempty"`
	AccuracyM          *float64   `json:"accuracy,omitempty"`
	Orientation        Quaternion `json:"orientation"`
	Provenance         Provenance `json:"provenance"`
	PositionDeltaNs    int64      `json:"positionDeltaNs"`
	OrientationDeltaNs int64      `json:"orientationDeltaNs"`
}

// Float64 returns a pointer to v, for optional sample fields
func Float64(v float64) *float64 {
	return &v
}

func absDelta(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
