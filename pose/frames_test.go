package pose

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFPS(t *testing.T) {
	tests := []struct {
		expr    string
		want    float64
		wantErr bool
	}{
		{"1", 1, false},
		{"2", 2, false},
		{" 30 ", 30, false},
		{"1/3", 1.0 / 3, false},
		{"30000/1001", 30000.0 / 1001, false},
		{"", 0, true},
		{"abc", 0, true},
		{"1/0", 0, true},
		{"0", 0, true},
		{"-2", 0, true},
		{"x/2", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseFPS(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestFrameIntervalNs(t *testing.T) {
	assert.Equal(t, int64(1_000_000_000), FrameIntervalNs(1))
	assert.Equal(t, int64(500_000_000), FrameIntervalNs(2))
	assert.Equal(t, int64(3_000_000_000), FrameIntervalNs(1.0/3))
	assert.Equal(t, int64(1), FrameIntervalNs(1e12))
}

func TestFrameID(t *testing.T) {
	assert.Equal(t, "ride_000001", FrameID("ride", 0))
	assert.Equal(t, "ride_000124", FrameID("ride", 123))
}

func TestTagFrames(t *testing.T) {
	dir := t.TempDir()
	var frames []string
	for _, name := range []string{"f003.jpg", "f001.jpg", "f002.jpg", "f004.jpg"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0644))
		frames = append(frames, p)
	}

	start := int64(1_000 * time.Second)
	wall := time.Date(2025, 3, 1, 12, 0, 0, 250_000_000, time.UTC)
	acc := 3.5

	s := NewStore(16)
	s.AddPosition(PositionSample{CaptureNs: start, WallTime: wall, Lat: 47.1, Lon: 8.5, AccuracyM: &acc})
	s.AddPosition(PositionSample{CaptureNs: start + 2*second, WallTime: wall.Add(2 * time.Second), Lat: 47.2, Lon: 8.6})
	s.AddOrientation(OrientationSample{CaptureNs: start, Q: FromYaw(0)})
	s.AddOrientation(OrientationSample{CaptureNs: start + 2*second, Q: FromYaw(20)})

	outDir := filepath.Join(dir, "out")
	summary, err := TagFrames(s, FrameJob{
		VideoBase:   "ride",
		Frames:      frames,
		StartNs:     start,
		FPS:         1,
		ToleranceNs: second,
		OutputDir:   outDir,
		WriteYPR:    true,
	})
	require.NoError(t, err)

	// Frame 4 lands at start+3s, one second past the last fix: still inside
	// tolerance. Nothing is skipped.
	assert.Equal(t, 4, summary.FramesTotal)
	assert.Equal(t, 4, summary.GeoPoseWritten)
	assert.Equal(t, 0, summary.Skipped)

	first := summary.Results[0]
	assert.Equal(t, "ride_000001", first.ID)
	img, err := os.ReadFile(first.ImagePath)
	require.NoError(t, err)
	assert.Equal(t, "f001.jpg", string(img), "frames are ordered by file name")

	data, err := os.ReadFile(filepath.Join(outDir, "ride_000001.geopose.json"))
	require.NoError(t, err)

	var doc QuaternionGeoPose
	require.NoError(t, json.Unmarshal(data, &doc))
	want := QuaternionGeoPose{
		Standard:       "OGC.GeoPose.1.0",
		ReferenceFrame: "EPSG:4979",
		ID:             "ride_000001",
		Timestamp:      "2025-03-01T12:00:00.250Z",
		Position:       GeoPosition{Lat: 47.1, Lon: 8.5, H: 0},
		Quaternion:     Identity(),
		Accuracy:       &GeoAccuracy{PosStdDevM: Float64(3.5), OriStdDevDeg: Float64(2)},
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("geopose mismatch (-want +got):\n%s", diff)
	}

	_, err = os.Stat(filepath.Join(outDir, "ride_000001.ypr.json"))
	assert.NoError(t, err)
}

func TestTagFrames_SkipsFramesWithoutPose(t *testing.T) {
	dir := t.TempDir()
	var frames []string
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, nil, 0644))
		frames = append(frames, p)
	}

	s := NewStore(8)
	s.AddPosition(PositionSample{CaptureNs: 0})
	s.AddOrientation(OrientationSample{CaptureNs: 0, Q: Identity()})

	summary, err := TagFrames(s, FrameJob{
		VideoBase:   "clip",
		Frames:      frames,
		StartNs:     0,
		FPS:         0.5,
		ToleranceNs: second,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.FramesTotal)
	assert.Equal(t, 1, summary.GeoPoseWritten)
	assert.Equal(t, 2, summary.Skipped)

	_, err = os.Stat(filepath.Join(dir, "clip_000001.png"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "clip_000002.geopose.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestLoadSampleLog(t *testing.T) {
	log := strings.Join([]string{
		`{"type":"position","captureNs":0,"wallTimeMs":1700000000000,"lat":1,"lon":2,"height":5}`,
		``,
		`{"type":"orientation","captureNs":0,"x":0,"y":0,"z":0,"w":2}`,
		`{"type":"position","captureNs":100,"lat":3,"lon":4}`,
	}, "\n")

	s := NewStore(8)
	np, no, err := LoadSampleLog(strings.NewReader(log), s)
	require.NoError(t, err)
	assert.Equal(t, 2, np)
	assert.Equal(t, 1, no)

	p, ok := s.NearestPosition(0)
	require.True(t, ok)
	require.NotNil(t, p.Height)
	assert.Equal(t, 5.0, *p.Height)
	assert.Equal(t, int64(1700000000000), p.WallTime.UnixMilli())

	o, ok := s.NearestOrientation(0)
	require.True(t, ok)
	assert.Equal(t, Identity(), o.Q)
}

func TestLoadSampleLog_Errors(t *testing.T) {
	_, _, err := LoadSampleLog(strings.NewReader(`{"type":"gyro","captureNs":1}`), NewStore(4))
	assert.ErrorContains(t, err, "unknown sample type")

	_, _, err = LoadSampleLog(strings.NewReader(`not json`), NewStore(4))
	assert.ErrorContains(t, err, "line 1")
}

func TestSampleRecordRoundTrip(t *testing.T) {
	s := NewStore(4)
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	require.NoError(t, enc.Encode(PositionRecord(PositionSample{CaptureNs: 5, Lat: 1, Lon: 2})))
	require.NoError(t, enc.Encode(OrientationRecord(OrientationSample{CaptureNs: 5, Q: FromYaw(45)})))

	np, no, err := LoadSampleLog(strings.NewReader(sb.String()), s)
	require.NoError(t, err)
	assert.Equal(t, 1, np)
	assert.Equal(t, 1, no)

	fp, err := s.Resolve(5, 0)
	require.NoError(t, err)
	assert.InDelta(t, 45.0, fp.Orientation.Euler().Yaw, 1e-9)
}
