package roadgraph

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/tidwall/rtree"
)

// searchMargin widens query boxes so rounding never drops a point that is
// exactly on the threshold
const searchMargin = 1.01

// candidate is a neighbor of a point within its label group
type candidate struct {
	pos      int // position in the group slice
	distance float64
	bearing  float64
}

// pointIndex is an R-tree over one label group. Boxes are only a prefilter;
// every hit is checked against the exact great-circle distance.
type pointIndex struct {
	tr     rtree.RTreeG[int]
	points []RoadPoint
}

func newPointIndex(points []RoadPoint) *pointIndex {
	idx := &pointIndex{points: points}
	for i, p := range points {
		pt := [2]float64{p.Lon, p.Lat}
		idx.tr.Insert(pt, pt, i)
	}
	return idx
}

// neighbors returns the points of the group within radiusM of points[i],
// nearest first. Equal distances keep group order.
func (idx *pointIndex) neighbors(i int, radiusM float64) []candidate {
	origin := idx.points[i].Point()

	var hits []int
	if lo, hi, ok := searchBox(origin, radiusM); ok {
		idx.tr.Search(lo, hi, func(_, _ [2]float64, j int) bool {
			hits = append(hits, j)
			return true
		})
	} else {
		hits = make([]int, len(idx.points))
		for j := range hits {
			hits[j] = j
		}
	}

	out := make([]candidate, 0, len(hits))
	for _, j := range hits {
		if j == i {
			continue
		}
		p := idx.points[j].Point()
		d := Distance(origin, p)
		if d > radiusM {
			continue
		}
		out = append(out, candidate{pos: j, distance: d, bearing: Bearing(origin, p)})
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].distance != out[b].distance {
			return out[a].distance < out[b].distance
		}
		return out[a].pos < out[b].pos
	})
	return out
}

// searchBox returns a lon/lat box containing every point within radiusM of
// p. ok is false near the poles or the antimeridian, where a single box
// cannot be built and the caller must scan everything.
func searchBox(p orb.Point, radiusM float64) (lo, hi [2]float64, ok bool) {
	dLat := radiusM / (orb.EarthRadius * math.Pi / 180) * searchMargin
	cosLat := math.Cos(p.Lat() * math.Pi / 180)
	if math.Abs(p.Lat())+dLat >= 89 || cosLat < 1e-6 {
		return lo, hi, false
	}
	dLon := dLat / cosLat

	lo = [2]float64{p.Lon() - dLon, p.Lat() - dLat}
	hi = [2]float64{p.Lon() + dLon, p.Lat() + dLat}
	if lo[0] < -180 || hi[0] > 180 {
		return lo, hi, false
	}
	return lo, hi, true
}
