package survey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/roadmesh/pose"
)

func TestDecodePosition(t *testing.T) {
	s, err := DecodePosition([]byte(`{"captureNs": 1500, "wallTimeMs": 1700000000000,
		"lat": 47.5, "lon": 19.04, "height": 120.5, "accuracy": 3}`))
	require.NoError(t, err)

	assert.Equal(t, int64(1500), s.CaptureNs)
	assert.Equal(t, 47.5, s.Lat)
	assert.Equal(t, 19.04, s.Lon)
	require.NotNil(t, s.Height)
	assert.Equal(t, 120.5, *s.Height)
	require.NotNil(t, s.AccuracyM)
	assert.Equal(t, 3.0, *s.AccuracyM)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), s.WallTime)
}

func TestDecodePosition_OptionalFieldsAbsent(t *testing.T) {
	s, err := DecodePosition([]byte(`{"captureNs": 0, "lat": 0, "lon": 0}`))
	require.NoError(t, err)
	assert.Nil(t, s.Height)
	assert.Nil(t, s.AccuracyM)
	assert.True(t, s.WallTime.IsZero())
}

func TestDecodePosition_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"not json", "lat=1"},
		{"missing captureNs", `{"lat": 1, "lon": 2}`},
		{"missing lat", `{"captureNs": 1, "lon": 2}`},
		{"lat out of range", `{"captureNs": 1, "lat": 91, "lon": 2}`},
		{"lon out of range", `{"captureNs": 1, "lat": 1, "lon": -181}`},
		{"negative accuracy", `{"captureNs": 1, "lat": 1, "lon": 2, "accuracy": -1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePosition([]byte(tt.payload))
			assert.Error(t, err)
		})
	}
}

func TestDecodeOrientation_Fields(t *testing.T) {
	s, err := DecodeOrientation([]byte(`{"captureNs": 42, "x": 0, "y": 0, "z": 0.7071, "w": 0.7071}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), s.CaptureNs)
	assert.Equal(t, pose.Quaternion{Z: 0.7071, W: 0.7071}, s.Q)
}

func TestDecodeOrientation_AndroidOrder(t *testing.T) {
	// rotation vector order is [w, x, y, z]
	s, err := DecodeOrientation([]byte(`{"captureNs": 42, "q": [1, 0.1, 0.2, 0.3]}`))
	require.NoError(t, err)
	assert.Equal(t, pose.Quaternion{W: 1, X: 0.1, Y: 0.2, Z: 0.3}, s.Q)
}

func TestDecodeOrientation_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"missing captureNs", `{"w": 1}`},
		{"short q", `{"captureNs": 1, "q": [1, 0, 0]}`},
		{"bad json", `{"captureNs": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeOrientation([]byte(tt.payload))
			assert.Error(t, err)
		})
	}
}

func TestDecodeCapture(t *testing.T) {
	c, err := DecodeCapture([]byte(`{"id": "c1", "captureNs": 900, "label": "cobblestone", "confidence": 0.8, "imageRef": "img/1.jpg"}`))
	require.NoError(t, err)
	assert.Equal(t, Capture{ID: "c1", CaptureNs: 900, Label: "cobblestone", Confidence: 0.8, ImageRef: "img/1.jpg"}, c)
}

func TestDecodeCapture_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"empty", "", "empty payload"},
		{"no label", `{"captureNs": 1, "confidence": 0.5}`, "Label must satisfy required"},
		{"confidence above one", `{"captureNs": 1, "label": "x", "confidence": 1.5}`, "Confidence must satisfy lte=1"},
		{"negative time", `{"captureNs": -1, "label": "x"}`, "CaptureNs must satisfy gte=0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCapture([]byte(tt.payload))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
