package roadgraph

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// metersPerDegLat is the flat-earth scale used to size dedup grid cells
const metersPerDegLat = 111_320.0

// Distance returns the great-circle distance in meters
func Distance(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b)
}

// Bearing returns the initial bearing from a to b in degrees, [-180, 180]
func Bearing(a, b orb.Point) float64 {
	return geo.Bearing(a, b)
}

// AngleSeparation returns the smaller angle between two bearings, [0, 180]
func AngleSeparation(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		return 360 - d
	}
	return d
}

// AxisBearing returns the magnitude of a bearing on [0, 180]; a heading
// and its mirror across the meridian share a value
func AxisBearing(bearing float64) float64 {
	h := math.Abs(bearing)
	if h > 180 {
		h = 360 - h
	}
	return h
}

// dedupKey snaps the midpoint of a-b to a railCell grid and the magnitude of
// its bearing to bearingBin-degree bins; 0 and 180 stay in separate bins
func dedupKey(a, b orb.Point, label string, cfg Config) DedupKey {
	midLat := (a.Lat() + b.Lat()) / 2
	midLon := (a.Lon() + b.Lon()) / 2

	cellDegLat := cfg.RailCellMeters / metersPerDegLat
	gy := int64(math.Round(midLat / cellDegLat))

	var gx int64
	metersPerDegLon := metersPerDegLat * math.Cos(midLat*math.Pi/180)
	if metersPerDegLon > 1e-9 {
		cellDegLon := cfg.RailCellMeters / metersPerDegLon
		gx = int64(math.Round(midLon / cellDegLon))
	}

	bin := int(math.Round(AxisBearing(Bearing(a, b)) / cfg.BearingBinDegrees))

	return DedupKey{Label: label, BearingBin: bin, CellX: gx, CellY: gy}
}

// HeadingArrow returns the end of a lengthM segment starting at p and
// pointing along the compass heading headingDeg
func HeadingArrow(p orb.Point, headingDeg, lengthM float64) orb.Point {
	return geo.PointAtBearingAndDistance(p, headingDeg, lengthM)
}
