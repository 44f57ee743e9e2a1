package track

import (
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/logging"
	"github.com/fogleman/gg"
)

// Options controls the animation.
type Options struct {
	Title  string
	Width  int
	Height int

	// FPS is frames per second; GIF delays are whole hundredths of a second.
	FPS int
}

// DefaultOptions returns 1200x800 frames at 2 fps.
func DefaultOptions() Options {
	return Options{
		Title:  "Hazard track",
		Width:  1200,
		Height: 800,
		FPS:    2,
	}
}

const (
	marginLeft   = 80.0
	marginRight  = 40.0
	marginTop    = 70.0
	marginBottom = 60.0
	gridLines    = 6
)

var (
	trackGrey = color.RGBA{R: 211, G: 211, B: 211, A: 255}
	black     = color.Black
	white     = color.White
)

// projection maps lon/lat to pixel coordinates inside the plot area.
type projection struct {
	minLon, maxLon, minLat, maxLat float64
	x0, y0, w, h                   float64
}

func newProjection(points []Point, width, height int) projection {
	minLon, maxLon := points[0].Lon, points[0].Lon
	minLat, maxLat := points[0].Lat, points[0].Lat
	for _, p := range points[1:] {
		minLon, maxLon = math.Min(minLon, p.Lon), math.Max(maxLon, p.Lon)
		minLat, maxLat = math.Min(minLat, p.Lat), math.Max(maxLat, p.Lat)
	}

	lonPad := (maxLon - minLon) * 0.1
	latPad := (maxLat - minLat) * 0.1
	if lonPad == 0 {
		lonPad = 1
	}
	if latPad == 0 {
		latPad = 1
	}

	return projection{
		minLon: minLon - lonPad,
		maxLon: maxLon + lonPad,
		minLat: minLat - latPad,
		maxLat: maxLat + latPad,
		x0:     marginLeft,
		y0:     marginTop,
		w:      float64(width) - marginLeft - marginRight,
		h:      float64(height) - marginTop - marginBottom,
	}
}

func (p projection) xy(lon, lat float64) (float64, float64) {
	x := p.x0 + (lon-p.minLon)/(p.maxLon-p.minLon)*p.w
	y := p.y0 + (p.maxLat-lat)/(p.maxLat-p.minLat)*p.h
	return x, y
}

// Render writes an animated GIF with one frame per point to w. The GIF loops
// forever.
func Render(w io.Writer, points []Point, opts Options) error {
	if len(points) == 0 {
		return ErrNoPoints
	}
	def := DefaultOptions()
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = def.Width, def.Height
	}
	if opts.FPS <= 0 {
		opts.FPS = def.FPS
	}

	logger := logging.NewLogger("track")
	logger.Info().Int("frames", len(points)).Int("fps", opts.FPS).Msg("Rendering track animation")

	proj := newProjection(points, opts.Width, opts.Height)
	delay := 100 / opts.FPS
	if delay < 1 {
		delay = 1
	}

	anim := &gif.GIF{LoopCount: 0}
	for i := range points {
		img := renderFrame(points, i, proj, opts)
		bounds := img.Bounds()
		frame := image.NewPaletted(bounds, palette.Plan9)
		draw.Draw(frame, bounds, img, bounds.Min, draw.Src)

		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, delay)

		if (i+1)%10 == 0 {
			logger.Info().Int("completed", i+1).Int("total", len(points)).Msg("Rendered frames")
		}
	}

	if err := gif.EncodeAll(w, anim); err != nil {
		return fmt.Errorf("encode gif: %w", err)
	}
	return nil
}

// RenderFile renders to path, creating parent directories.
func RenderFile(path string, points []Point, opts Options) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create gif file: %w", err)
	}
	if err := Render(f, points, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func renderFrame(points []Point, current int, proj projection, opts Options) image.Image {
	dc := gg.NewContext(opts.Width, opts.Height)
	dc.SetColor(white)
	dc.Clear()

	drawAxes(dc, proj, opts)

	// full track for context
	dc.SetColor(trackGrey)
	dc.SetLineWidth(1)
	for i, p := range points {
		x, y := proj.xy(p.Lon, p.Lat)
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
	dc.Stroke()

	// coloured segments up to the current point
	dc.SetLineWidth(3)
	for j := 1; j <= current; j++ {
		x1, y1 := proj.xy(points[j-1].Lon, points[j-1].Lat)
		x2, y2 := proj.xy(points[j].Lon, points[j].Lat)
		dc.SetColor(CategoryFor(points[j].Wind).Color)
		dc.DrawLine(x1, y1, x2, y2)
		dc.Stroke()
	}

	for j := 0; j <= current; j++ {
		x, y := proj.xy(points[j].Lon, points[j].Lat)
		r := 5.0
		if j == current {
			r = 7
		}
		dc.DrawCircle(x, y, r)
		dc.SetColor(CategoryFor(points[j].Wind).Color)
		dc.FillPreserve()
		dc.SetColor(black)
		dc.SetLineWidth(1.5)
		dc.Stroke()
	}

	cx, cy := proj.xy(points[current].Lon, points[current].Lat)
	drawStar(dc, cx, cy, 14, 6)

	drawInfoBox(dc, points[current], current, len(points))
	drawLegend(dc, opts.Width)

	return dc.Image()
}

func drawAxes(dc *gg.Context, proj projection, opts Options) {
	dc.SetColor(black)
	dc.DrawStringAnchored(opts.Title, float64(opts.Width)/2, marginTop/2, 0.5, 0.5)
	dc.DrawStringAnchored("Longitude", proj.x0+proj.w/2, float64(opts.Height)-marginBottom/3, 0.5, 0.5)

	dc.Push()
	dc.RotateAbout(gg.Radians(-90), marginLeft/4, proj.y0+proj.h/2)
	dc.DrawStringAnchored("Latitude", marginLeft/4, proj.y0+proj.h/2, 0.5, 0.5)
	dc.Pop()

	dc.SetRGBA(0, 0, 0, 0.3)
	dc.SetLineWidth(1)
	dc.SetDash(4, 4)
	for i := 0; i <= gridLines; i++ {
		f := float64(i) / gridLines
		x := proj.x0 + f*proj.w
		y := proj.y0 + f*proj.h
		dc.DrawLine(x, proj.y0, x, proj.y0+proj.h)
		dc.DrawLine(proj.x0, y, proj.x0+proj.w, y)
	}
	dc.Stroke()
	dc.SetDash()

	dc.SetColor(black)
	for i := 0; i <= gridLines; i++ {
		f := float64(i) / gridLines
		lon := proj.minLon + f*(proj.maxLon-proj.minLon)
		lat := proj.maxLat - f*(proj.maxLat-proj.minLat)
		dc.DrawStringAnchored(fmt.Sprintf("%.1f", lon), proj.x0+f*proj.w, proj.y0+proj.h+12, 0.5, 0.5)
		dc.DrawStringAnchored(fmt.Sprintf("%.1f", lat), proj.x0-6, proj.y0+f*proj.h, 1, 0.5)
	}
	dc.DrawRectangle(proj.x0, proj.y0, proj.w, proj.h)
	dc.Stroke()
}

// drawStar draws a five-pointed white star with a black outline.
func drawStar(dc *gg.Context, x, y, outer, inner float64) {
	for i := 0; i < 10; i++ {
		r := outer
		if i%2 == 1 {
			r = inner
		}
		a := gg.Radians(float64(i)*36 - 90)
		px, py := x+r*math.Cos(a), y+r*math.Sin(a)
		if i == 0 {
			dc.MoveTo(px, py)
		} else {
			dc.LineTo(px, py)
		}
	}
	dc.ClosePath()
	dc.SetColor(white)
	dc.FillPreserve()
	dc.SetColor(black)
	dc.SetLineWidth(2)
	dc.Stroke()
}

func drawInfoBox(dc *gg.Context, p Point, current, total int) {
	lines := []string{
		p.Time.UTC().Format("2006-01-02 15:04 UTC"),
		fmt.Sprintf("Wind Speed: %g knots", p.Wind),
		fmt.Sprintf("Frame %d/%d", current+1, total),
	}

	const pad, lineH = 8.0, 16.0
	width := 0.0
	for _, l := range lines {
		if w, _ := dc.MeasureString(l); w > width {
			width = w
		}
	}

	x, y := marginLeft+10, marginTop+10
	dc.DrawRoundedRectangle(x, y, width+2*pad, float64(len(lines))*lineH+2*pad, 6)
	dc.SetRGBA(1, 1, 1, 0.9)
	dc.FillPreserve()
	dc.SetColor(black)
	dc.SetLineWidth(1.5)
	dc.Stroke()

	for i, l := range lines {
		dc.DrawStringAnchored(l, x+pad, y+pad+float64(i)*lineH+lineH/2, 0, 0.5)
	}
}

func drawLegend(dc *gg.Context, width int) {
	const pad, lineH, swatch = 8.0, 16.0, 10.0

	labelW := 0.0
	for _, c := range Categories {
		if w, _ := dc.MeasureString(c.Label); w > labelW {
			labelW = w
		}
	}
	boxW := swatch + 6 + labelW + 2*pad
	boxH := float64(len(Categories))*lineH + 2*pad
	x := float64(width) - marginRight - boxW - 10
	y := marginTop + 10

	dc.DrawRectangle(x, y, boxW, boxH)
	dc.SetRGBA(1, 1, 1, 0.9)
	dc.FillPreserve()
	dc.SetColor(black)
	dc.SetLineWidth(1)
	dc.Stroke()

	for i, c := range Categories {
		cy := y + pad + float64(i)*lineH + lineH/2
		dc.DrawRectangle(x+pad, cy-swatch/2, swatch, swatch)
		dc.SetColor(c.Color)
		dc.Fill()
		dc.SetColor(black)
		dc.DrawStringAnchored(c.Label, x+pad+swatch+6, cy, 0, 0.5)
	}
}
