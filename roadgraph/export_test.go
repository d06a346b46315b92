package roadgraph

import (
	"bytes"
	"encoding/json"
	"image/png"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/roadmesh/pose"
)

func sampleGraph(t *testing.T) ([]GraphEdge, []RoadPoint) {
	t.Helper()
	points := []RoadPoint{
		rp(0, at(0, 0), "asphalt_good", 0.9),
		rp(1, at(90, 50), "asphalt_good", 0.7),
		rp(2, at(270, 60), "asphalt_good", 0.5),
		rp(3, at(0, 300), "unpaved_bad", 0.4),
		rp(4, at(5, 340), "unpaved_bad", 0.6),
	}
	points[1].Orientation = pose.FromYaw(90)
	points[3].ImageRef = "captures/3.jpg"

	res, err := Build(points, KeySet{}, DefaultConfig(), nil)
	require.NoError(t, err)
	require.Len(t, res.Edges, 3)
	return res.Edges, points
}

// ---------------------------------------------------------------------------
// GeoJSON
// ---------------------------------------------------------------------------

func TestToGeoJSON_EdgesOnly(t *testing.T) {
	edges, points := sampleGraph(t)

	fc := ToGeoJSON(edges, points, nil, ExportOptions{})
	require.Len(t, fc.Features, 3)

	f := fc.Features[0]
	ls, ok := f.Geometry.(orb.LineString)
	require.True(t, ok)
	assert.Len(t, ls, 2)
	assert.Equal(t, "edge", f.Properties["kind"])
	assert.Equal(t, AsphaltGood, f.Properties["label"])
	assert.Equal(t, "Asphalt - Good", f.Properties["name"])
	assert.Equal(t, LabelHex(AsphaltGood), f.Properties["color"])
}

func TestToGeoJSON_PointsAndHeadings(t *testing.T) {
	edges, points := sampleGraph(t)

	fc := ToGeoJSON(edges, points, nil, ExportOptions{Points: true, Headings: true})
	assert.Len(t, fc.Features, len(edges)+2*len(points))

	data, err := json.Marshal(fc)
	require.NoError(t, err)

	decoded, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)

	var kinds = map[string]int{}
	for _, f := range decoded.Features {
		kinds[f.Properties.MustString("kind")]++
	}
	assert.Equal(t, map[string]int{"edge": 3, "point": 5, "heading": 5}, kinds)

	// Point 1 faces east: its arrow ends ~10 m east
	for _, f := range decoded.Features {
		if f.Properties.MustString("kind") != "heading" || f.Properties.MustInt("index") != 1 {
			continue
		}
		ls := f.Geometry.(orb.LineString)
		assert.InDelta(t, HeadingArrowMeters, Distance(ls[0], ls[1]), 0.01)
		assert.InDelta(t, 90, Bearing(ls[0], ls[1]), 0.01)
	}
}

func TestBounds(t *testing.T) {
	_, ok := Bounds(nil, nil)
	assert.False(t, ok)

	edges, points := sampleGraph(t)
	b, ok := Bounds(edges, points)
	require.True(t, ok)
	for _, p := range points {
		assert.True(t, b.Contains(p.Point()))
	}
}

// ---------------------------------------------------------------------------
// Polylines
// ---------------------------------------------------------------------------

func TestEncodePolylines(t *testing.T) {
	edges, _ := sampleGraph(t)

	groups := EncodePolylines(edges)
	require.Len(t, groups, 2)
	assert.Equal(t, AsphaltGood, groups[0].Label)
	assert.Len(t, groups[0].Polylines, 2)
	assert.Equal(t, UnpavedBad, groups[1].Label)
	assert.Len(t, groups[1].Polylines, 1)

	coords, err := decodePolyline(groups[1].Polylines[0])
	require.NoError(t, err)
	require.Len(t, coords, 2)

	var e GraphEdge
	for _, candidate := range edges {
		if candidate.Label == UnpavedBad {
			e = candidate
		}
	}
	assert.InDelta(t, e.From.Lat(), coords[0][0], 1e-5)
	assert.InDelta(t, e.From.Lon(), coords[0][1], 1e-5)
	assert.InDelta(t, e.To.Lat(), coords[1][0], 1e-5)
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

func TestMapRenderer_SVG(t *testing.T) {
	edges, points := sampleGraph(t)

	var buf bytes.Buffer
	require.NoError(t, NewMapRenderer(edges, points).RenderToSVG(&buf))
	out := buf.String()
	assert.True(t, strings.Contains(out, "<svg"), "output is not SVG")
	assert.Contains(t, out, "</svg>")
}

func TestMapRenderer_PNG(t *testing.T) {
	edges, points := sampleGraph(t)

	r := NewMapRenderer(edges, points)
	r.MaxSize = 200

	var buf bytes.Buffer
	require.NoError(t, r.RenderToPNG(&buf))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 50)
	assert.Greater(t, img.Bounds().Dy(), 50)
}

func TestMapRenderer_Empty(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, NewMapRenderer(nil, nil).RenderToSVG(&buf), ErrNothingToRender)
	assert.ErrorIs(t, NewMapRenderer(nil, nil).RenderToPNG(&buf), ErrNothingToRender)
}

func TestLabelsInUse(t *testing.T) {
	edges, points := sampleGraph(t)
	r := NewMapRenderer(edges, points)
	assert.Equal(t, []string{AsphaltGood, UnpavedBad}, r.labelsInUse())
}
