package roadgraph

import "github.com/twpayne/go-polyline"

// EncodedEdges groups edges of one label as Google encoded polylines, the
// format most mobile map SDKs accept directly
type EncodedEdges struct {
	Label     string   `json:"label"`
	Name      string   `json:"name"`
	Color     string   `json:"color"`
	Polylines []string `json:"polylines"`
}

// EncodePolylines encodes every edge as a two-vertex polyline, grouped by
// label in legend order
func EncodePolylines(edges []GraphEdge) []EncodedEdges {
	byLabel := make(map[string][]string)
	for _, e := range edges {
		coords := [][]float64{
			{e.From.Lat(), e.From.Lon()},
			{e.To.Lat(), e.To.Lon()},
		}
		byLabel[e.Label] = append(byLabel[e.Label], string(polyline.EncodeCoords(coords)))
	}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sortLabels(labels)

	out := make([]EncodedEdges, 0, len(labels))
	for _, label := range labels {
		out = append(out, EncodedEdges{
			Label:     label,
			Name:      PrettyLabel(label),
			Color:     LabelHex(label),
			Polylines: byLabel[label],
		})
	}
	return out
}

// decodePolyline returns the [lat, lon] vertices of an encoded polyline
func decodePolyline(s string) ([][]float64, error) {
	coords, _, err := polyline.DecodeCoords([]byte(s))
	return coords, err
}
