// Package track renders a hazard track (a time-ordered series of points with
// wind speeds) as an animated GIF, one frame per point.
package track

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"sort"
	"time"

	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/stac"
)

var (
	// ErrNoPoints is returned when there is nothing to render.
	ErrNoPoints = errors.New("track has no points")

	// ErrGeometry is returned for a feature whose geometry has no usable position.
	ErrGeometry = errors.New("unsupported geometry")
)

// Point is one observation along a track.
type Point struct {
	Lon  float64
	Lat  float64
	Time time.Time

	// Wind is the sustained wind speed in knots.
	Wind float64
}

// Category is a Saffir-Simpson wind band.
type Category struct {
	Label   string
	MinWind float64
	Color   color.RGBA
}

// Categories are ordered from strongest to weakest.
var Categories = []Category{
	{Label: "Cat 5 (>=137 kn)", MinWind: 137, Color: color.RGBA{R: 139, A: 255}},
	{Label: "Cat 4 (113-136 kn)", MinWind: 113, Color: color.RGBA{R: 255, A: 255}},
	{Label: "Cat 3 (96-112 kn)", MinWind: 96, Color: color.RGBA{R: 255, G: 165, A: 255}},
	{Label: "Cat 2 (83-95 kn)", MinWind: 83, Color: color.RGBA{R: 255, G: 255, A: 255}},
	{Label: "Cat 1 (64-82 kn)", MinWind: 64, Color: color.RGBA{G: 128, A: 255}},
	{Label: "Trop. Storm (34-63 kn)", MinWind: 34, Color: color.RGBA{B: 255, A: 255}},
	{Label: "Trop. Dep. (<34 kn)", MinWind: 0, Color: color.RGBA{R: 173, G: 216, B: 230, A: 255}},
}

// CategoryFor returns the band for a wind speed in knots.
func CategoryFor(wind float64) Category {
	for _, c := range Categories {
		if wind >= c.MinWind {
			return c
		}
	}
	return Categories[len(Categories)-1]
}

// SortByTime orders points by time, keeping the input order for equal times.
func SortByTime(points []Point) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Time.Before(points[j].Time)
	})
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// PointFromFeature reads position, time and wind speed from a hazard item.
// Line geometries use their last vertex. Wind is read from
// monty:hazard_detail.severity_value and defaults to 0.
func PointFromFeature(f *stac.Feature) (Point, error) {
	if f == nil || len(f.Geometry) == 0 {
		return Point{}, fmt.Errorf("%w: missing geometry", ErrGeometry)
	}

	var g geometry
	if err := json.Unmarshal(f.Geometry, &g); err != nil {
		return Point{}, fmt.Errorf("%w: %v", ErrGeometry, err)
	}

	var pos []float64
	switch g.Type {
	case "Point":
		if err := json.Unmarshal(g.Coordinates, &pos); err != nil {
			return Point{}, fmt.Errorf("%w: %v", ErrGeometry, err)
		}
	case "LineString", "MultiPoint":
		var line [][]float64
		if err := json.Unmarshal(g.Coordinates, &line); err != nil {
			return Point{}, fmt.Errorf("%w: %v", ErrGeometry, err)
		}
		if len(line) > 0 {
			pos = line[len(line)-1]
		}
	default:
		return Point{}, fmt.Errorf("%w: %q", ErrGeometry, g.Type)
	}
	if len(pos) < 2 {
		return Point{}, fmt.Errorf("%w: position needs lon and lat", ErrGeometry)
	}

	p := Point{Lon: pos[0], Lat: pos[1]}
	p.Time, _ = f.Datetime()

	if detail, ok := f.Properties[stac.PropertyHazardDetail].(map[string]any); ok {
		if v, ok := detail["severity_value"].(float64); ok {
			p.Wind = v
		}
	}
	return p, nil
}

// FromFeatures converts items to points sorted by time. Items without a usable
// geometry are skipped and counted in skipped.
func FromFeatures(features []*stac.Feature) (points []Point, skipped int) {
	for _, f := range features {
		p, err := PointFromFeature(f)
		if err != nil {
			skipped++
			continue
		}
		points = append(points, p)
	}
	SortByTime(points)
	return points, skipped
}

// LoadGeoJSON reads a GeoJSON FeatureCollection of hazard items.
func LoadGeoJSON(r io.Reader) ([]Point, int, error) {
	var fc stac.ItemPage
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, 0, fmt.Errorf("decode feature collection: %w", err)
	}
	points, skipped := FromFeatures(fc.Features)
	if len(points) == 0 {
		return nil, skipped, ErrNoPoints
	}
	return points, skipped, nil
}
