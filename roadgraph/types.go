package roadgraph

import (
	"github.com/kwv/roadmesh/pose"
	"github.com/paulmach/orb"
)

// RoadPoint is a classified, geolocated capture. Index must be unique within
// a batch; edges refer to points by it.
type RoadPoint struct {
	Index       int             `json:"index"`
	Lat         float64         `json:"lat"`
	Lon         float64         `json:"lon"`
	Label       string          `json:"label"`
	Confidence  float64         `json:"confidence"`
	Orientation pose.Quaternion `json:"orientation"`
	ImageRef    string          `json:"imageRef,omitempty"`
}

// Point returns the location as an orb point (lon, lat)
func (p RoadPoint) Point() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// GraphEdge is an undirected road segment between two points of the same
// canonical label. A is always the smaller index.
type GraphEdge struct {
	A          int       `json:"a"`
	B          int       `json:"b"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"` // mean of both endpoints
	Key        DedupKey  `json:"key"`
	From       orb.Point `json:"from"`
	To         orb.Point `json:"to"`
	LengthM    float64   `json:"lengthM"`
}

// Result is the output of one Build call
type Result struct {
	Edges []GraphEdge
	// Keys is the caller's key set plus every key emitted by this call
	Keys KeySet
	// Suppressed counts edges dropped because their dedup key was already known
	Suppressed int
}
