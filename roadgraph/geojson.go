package roadgraph

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// HeadingArrowMeters is the length of the per-point heading indicator
const HeadingArrowMeters = 10.0

// ExportOptions selects what ToGeoJSON includes besides the edges
type ExportOptions struct {
	Points   bool // one Point feature per road point
	Headings bool // a short LineString along each point's yaw
}

// ToGeoJSON converts edges, and optionally their source points, into a
// FeatureCollection. Feature properties carry the canonical label, its
// display name and color so any map client can style them.
func ToGeoJSON(edges []GraphEdge, points []RoadPoint, normalize Normalizer, opts ExportOptions) *geojson.FeatureCollection {
	if normalize == nil {
		normalize = CanonicalLabel
	}

	fc := geojson.NewFeatureCollection()
	for _, e := range edges {
		f := geojson.NewFeature(orb.LineString{e.From, e.To})
		f.Properties["kind"] = "edge"
		f.Properties["label"] = e.Label
		f.Properties["name"] = PrettyLabel(e.Label)
		f.Properties["color"] = LabelHex(e.Label)
		f.Properties["confidence"] = e.Confidence
		f.Properties["a"] = e.A
		f.Properties["b"] = e.B
		f.Properties["lengthM"] = e.LengthM
		f.Properties["key"] = e.Key.String()
		fc.Append(f)
	}

	if !opts.Points && !opts.Headings {
		return fc
	}

	for _, p := range points {
		label := normalize(p.Label)
		if opts.Points {
			f := geojson.NewFeature(p.Point())
			f.Properties["kind"] = "point"
			f.Properties["index"] = p.Index
			f.Properties["label"] = label
			f.Properties["name"] = PrettyLabel(label)
			f.Properties["color"] = LabelHex(label)
			f.Properties["confidence"] = p.Confidence
			if p.ImageRef != "" {
				f.Properties["imageRef"] = p.ImageRef
			}
			fc.Append(f)
		}
		if opts.Headings {
			yaw := p.Orientation.Euler().Yaw
			end := HeadingArrow(p.Point(), yaw, HeadingArrowMeters)
			f := geojson.NewFeature(orb.LineString{p.Point(), end})
			f.Properties["kind"] = "heading"
			f.Properties["index"] = p.Index
			f.Properties["color"] = LabelHex(label)
			f.Properties["yaw"] = yaw
			fc.Append(f)
		}
	}
	return fc
}

// Bounds returns the bounding box of all edge endpoints and points
func Bounds(edges []GraphEdge, points []RoadPoint) (orb.Bound, bool) {
	var (
		b     orb.Bound
		found bool
	)
	extend := func(p orb.Point) {
		if !found {
			b = p.Bound()
			found = true
			return
		}
		b = b.Extend(p)
	}
	for _, e := range edges {
		extend(e.From)
		extend(e.To)
	}
	for _, p := range points {
		extend(p.Point())
	}
	return b, found
}
