package pose

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// SampleRecord is one line of a recorded sensor log. Type selects which of
// the remaining fields are meaningful.
type SampleRecord struct {
	Type       string   `json:"type"` // "position" or "orientation"
	CaptureNs  int64    `json:"captureNs"`
	WallTimeMs int64    `json:"wallTimeMs,omitempty"`
	Lat        float64  `json:"lat,omitempty"`
	Lon        float64  `json:"lon,omitempty"`
	Height     *float64 `json:"height,omitempty"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	X          float64  `json:"x,omitempty"`
	Y          float64  `json:"y,omitempty"`
	Z          float64  `json:"z,omitempty"`
	W          float64  `json:"w,omitempty"`
}

// PositionRecord converts a position sample into a log record
func PositionRecord(p PositionSample) SampleRecord {
	rec := SampleRecord{
		Type:      "position",
		CaptureNs: p.CaptureNs,
		Lat:       p.Lat,
		Lon:       p.Lon,
		Height:    p.Height,
		Accuracy:  p.AccuracyM,
	}
	if !p.WallTime.IsZero() {
		rec.WallTimeMs = p.WallTime.UnixMilli()
	}
	return rec
}

// OrientationRecord converts an orientation sample into a log record
func OrientationRecord(o OrientationSample) SampleRecord {
	return SampleRecord{
		Type:      "orientation",
		CaptureNs: o.CaptureNs,
		X:         o.Q.X,
		Y:         o.Q.Y,
		Z:         o.Q.Z,
		W:         o.Q.W,
	}
}

// LoadSampleLog replays a JSON-lines sensor log into store. Blank lines are
// ignored; an unknown record type is an error.
func LoadSampleLog(r io.Reader, store *Store) (positions, orientations int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var rec SampleRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return positions, orientations, fmt.Errorf("line %d: parsing sample: %w", line, err)
		}

		switch rec.Type {
		case "position":
			p := PositionSample{
				CaptureNs: rec.CaptureNs,
				Lat:       rec.Lat,
				Lon:       rec.Lon,
				Height:    rec.Height,
				AccuracyM: rec.Accuracy,
			}
			if rec.WallTimeMs != 0 {
				p.WallTime = time.UnixMilli(rec.WallTimeMs).UTC()
			}
			store.AddPosition(p)
			positions++
		case "orientation":
			store.AddOrientation(OrientationSample{
				CaptureNs: rec.CaptureNs,
				Q:         Quaternion{X: rec.X, Y: rec.Y, Z: rec.Z, W: rec.W},
			})
			orientations++
		default:
			return positions, orientations, fmt.Errorf("line %d: unknown sample type %q", line, rec.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return positions, orientations, fmt.Errorf("reading sample log: %w", err)
	}
	return positions, orientations, nil
}
