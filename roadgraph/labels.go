package roadgraph

import (
	"fmt"
	"image/color"
	"sort"
	"strings"
)

// Canonical surface categories
const (
	AsphaltGood    = "asphalt_good"
	AsphaltRegular = "asphalt_regular"
	AsphaltBad     = "asphalt_bad"
	PavedRegular   = "paved_regular"
	PavedBad       = "paved_bad"
	UnpavedRegular = "unpaved_regular"
	UnpavedBad     = "unpaved_bad"

	// FallbackLabel is assigned to empty or unrecognized labels
	FallbackLabel = AsphaltRegular
)

// Normalizer maps a raw classifier label to a canonical label
type Normalizer func(raw string) string

// Labels lists the canonical categories in legend order
var Labels = []string{
	AsphaltGood,
	AsphaltRegular,
	AsphaltBad,
	PavedRegular,
	PavedBad,
	UnpavedRegular,
	UnpavedBad,
}

// Longer prefixes come first so "asphalt_bad" is not swallowed by "asphalt".
var labelPrefixes = []struct {
	prefix    string
	canonical string
}{
	{AsphaltGood, AsphaltGood},
	{AsphaltRegular, AsphaltRegular},
	{AsphaltBad, AsphaltBad},
	{PavedRegular, PavedRegular},
	{PavedBad, PavedBad},
	{UnpavedRegular, UnpavedRegular},
	{UnpavedBad, UnpavedBad},
	{"asphalt", AsphaltRegular},
	{"paved", PavedRegular},
	{"unpaved", UnpavedRegular},
}

// CanonicalLabel is the default Normalizer. It trims and lower-cases raw and
// matches it against the known category prefixes, so classifier outputs
// such as "asphalt_bad_v2" map onto "asphalt_bad".
func CanonicalLabel(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, lp := range labelPrefixes {
		if strings.HasPrefix(s, lp.prefix) {
			return lp.canonical
		}
	}
	return FallbackLabel
}

var prettyLabels = map[string]string{
	AsphaltGood:    "Asphalt - Good",
	AsphaltRegular: "Asphalt - Regular",
	AsphaltBad:     "Asphalt - Bad",
	PavedRegular:   "Paved - Regular",
	PavedBad:       "Paved - Bad",
	UnpavedRegular: "Unpaved - Regular",
	UnpavedBad:     "Unpaved - Bad",
}

// PrettyLabel returns the human readable name of a canonical label
func PrettyLabel(canonical string) string {
	if name, ok := prettyLabels[canonical]; ok {
		return name
	}
	return "Unclassified"
}

var labelColors = map[string]color.NRGBA{
	AsphaltGood:    {R: 46, G: 125, B: 50, A: 255},  // green
	AsphaltRegular: {R: 249, G: 168, B: 37, A: 255}, // amber
	AsphaltBad:     {R: 198, G: 40, B: 40, A: 255},  // red
	PavedRegular:   {R: 21, G: 101, B: 192, A: 255}, // blue
	PavedBad:       {R: 106, G: 27, B: 154, A: 255}, // purple
	UnpavedRegular: {R: 141, G: 110, B: 99, A: 255}, // brown
	UnpavedBad:     {R: 78, G: 52, B: 46, A: 255},   // dark brown
}

// LabelColor returns the rendering color of a canonical label. Unknown
// labels share the fallback category's color.
func LabelColor(canonical string) color.NRGBA {
	if c, ok := labelColors[canonical]; ok {
		return c
	}
	return labelColors[FallbackLabel]
}

// LabelHex returns LabelColor as a #RRGGBB string
func LabelHex(canonical string) string {
	c := LabelColor(canonical)
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// sortLabels orders labels as in the legend, unknown labels last and
// alphabetically
func sortLabels(labels []string) {
	sort.Slice(labels, func(i, j int) bool {
		ri, rj := legendRank(labels[i]), legendRank(labels[j])
		if ri != rj {
			return ri < rj
		}
		return labels[i] < labels[j]
	})
}

func legendRank(label string) int {
	for i, l := range Labels {
		if l == label {
			return i
		}
	}
	return len(Labels)
}
