package roadgraph

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ErrNothingToRender is returned when there are neither edges nor points
var ErrNothingToRender = errors.New("roadgraph: nothing to render")

// MapRenderer draws a road graph as a north-up vector map
type MapRenderer struct {
	Edges  []GraphEdge
	Points []RoadPoint

	Normalize  Normalizer
	MaxSize    float64           // canvas units (mm) of the longer side
	Padding    float64           // canvas units around the drawing
	EdgeWidth  float64           // canvas units
	DotRadius  float64           // canvas units; 0 hides points
	Headings   bool              // draw a heading arrow per point
	Resolution canvas.Resolution // PNG only
	Legend     bool              // PNG only
}

// NewMapRenderer creates a renderer with defaults suited to a city-block
// sized survey
func NewMapRenderer(edges []GraphEdge, points []RoadPoint) *MapRenderer {
	return &MapRenderer{
		Edges:      edges,
		Points:     points,
		Normalize:  CanonicalLabel,
		MaxSize:    800,
		Padding:    20,
		EdgeWidth:  3,
		DotRadius:  2.5,
		Headings:   true,
		Resolution: canvas.DPMM(1),
		Legend:     true,
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// projection maps lon/lat onto canvas units with an equirectangular
// projection around the center of the drawing
type projection struct {
	bound  orb.Bound
	kx, ky float64 // canvas units per degree
	pad    float64
}

func (r *MapRenderer) project() (projection, float64, float64, error) {
	b, ok := Bounds(r.Edges, r.Points)
	if !ok {
		return projection{}, 0, 0, ErrNothingToRender
	}

	midLat := (b.Min.Lat() + b.Max.Lat()) / 2
	mx := metersPerDegLat * math.Cos(midLat*math.Pi/180)
	my := metersPerDegLat

	wM := (b.Max.Lon() - b.Min.Lon()) * mx
	hM := (b.Max.Lat() - b.Min.Lat()) * my
	extent := math.Max(wM, hM)
	if extent < 1 {
		extent = 1
	}
	scale := r.MaxSize / extent

	p := projection{bound: b, kx: mx * scale, ky: my * scale, pad: r.Padding}
	width := wM*scale + 2*r.Padding
	height := hM*scale + 2*r.Padding
	return p, width, height, nil
}

func (p projection) xy(pt orb.Point) (float64, float64) {
	return (pt.Lon()-p.bound.Min.Lon())*p.kx + p.pad,
		(pt.Lat()-p.bound.Min.Lat())*p.ky + p.pad
}

// RenderToSVG writes the map as SVG
func (r *MapRenderer) RenderToSVG(w io.Writer) error {
	proj, width, height, err := r.project()
	if err != nil {
		return err
	}

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, proj, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the map as PNG, with a label legend in the top-left
// corner when Legend is set
func (r *MapRenderer) RenderToPNG(w io.Writer) error {
	proj, width, height, err := r.project()
	if err != nil {
		return err
	}

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, proj, width, height)

	if r.Legend {
		drawLegend(rast, r.labelsInUse())
	}
	return png.Encode(w, rast)
}

func (r *MapRenderer) renderToCanvas(renderer canvasRenderer, proj projection, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	for _, e := range r.Edges {
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: canvas.Transparent}
		style.Stroke = canvas.Paint{Color: nrgbaToRGBA(LabelColor(e.Label))}
		style.StrokeWidth = r.EdgeWidth

		x0, y0 := proj.xy(e.From)
		x1, y1 := proj.xy(e.To)
		path := &canvas.Path{}
		path.MoveTo(x0, y0)
		path.LineTo(x1, y1)
		renderer.RenderPath(path, style, canvas.Identity)
	}

	normalize := r.Normalize
	if normalize == nil {
		normalize = CanonicalLabel
	}

	for _, p := range r.Points {
		c := LabelColor(normalize(p.Label))
		x, y := proj.xy(p.Point())

		if r.Headings {
			end := HeadingArrow(p.Point(), p.Orientation.Euler().Yaw, HeadingArrowMeters)
			ex, ey := proj.xy(end)

			style := canvas.DefaultStyle
			style.Fill = canvas.Paint{Color: canvas.Transparent}
			style.Stroke = canvas.Paint{Color: nrgbaToRGBA(c)}
			style.StrokeWidth = r.EdgeWidth / 3

			path := &canvas.Path{}
			path.MoveTo(x, y)
			path.LineTo(ex, ey)
			renderer.RenderPath(path, style, canvas.Identity)
		}

		if r.DotRadius > 0 {
			fill := c
			fill.A = 0x66
			style := canvas.DefaultStyle
			style.Fill = canvas.Paint{Color: nrgbaToRGBA(fill)}
			style.Stroke = canvas.Paint{Color: nrgbaToRGBA(c)}
			style.StrokeWidth = r.DotRadius / 3

			renderer.RenderPath(canvas.Circle(r.DotRadius), style, canvas.Identity.Translate(x, y))
		}
	}
}

// labelsInUse returns the canonical labels present in the drawing, in
// legend order
func (r *MapRenderer) labelsInUse() []string {
	normalize := r.Normalize
	if normalize == nil {
		normalize = CanonicalLabel
	}

	seen := make(map[string]bool)
	for _, e := range r.Edges {
		seen[e.Label] = true
	}
	for _, p := range r.Points {
		seen[normalize(p.Label)] = true
	}

	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sortLabels(labels)
	return labels
}

// drawLegend adds a color swatch and name per label
func drawLegend(img draw.Image, labels []string) {
	y := 15
	for _, label := range labels {
		c := LabelColor(label)
		for dy := 0; dy < 12; dy++ {
			for dx := 0; dx < 12; dx++ {
				img.Set(10+dx, y+dy-9, c)
			}
		}
		drawText(img, 28, y, PrettyLabel(label), color.RGBA{0, 0, 0, 255})
		y += 18
	}
}

// drawText renders text onto an image at the specified position
func drawText(img draw.Image, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// nrgbaToRGBA premultiplies alpha, which canvas expects
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}
