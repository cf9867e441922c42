// Package zone builds safe-zone buffer polygons around clustered points.
package zone

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/safezone-cli/internal/failure"
	"github.com/sells-group/safezone-cli/internal/model"
)

// Units is the unit Builder.Distance is expressed in.
type Units string

const (
	// Degrees applies the distance directly in WGS84 degrees. Real-world
	// size shrinks east-west as latitude grows.
	Degrees Units = "degrees"
	// Meters converts the distance to degrees at each point's latitude,
	// giving an ellipse in degree space.
	Meters Units = "meters"
)

// MetersPerDegreeLat is the length of one degree of latitude.
const MetersPerDegreeLat = 111320.0

// DefaultSegments is the number of segments per quarter circle.
const DefaultSegments = 16

// minCosLat keeps meter buffers finite near the poles.
const minCosLat = 0.01

// Builder buffers each clustered point into one polygon.
type Builder struct {
	Distance       float64
	Segments       int // per quarter circle
	Units          Units
	SkipUnassigned bool
}

// Build returns one zone per kept point, in input order. Empty input yields
// an empty, non-nil slice.
func (b Builder) Build(points []model.ClusteredPoint) ([]model.SafeZone, error) {
	if err := b.validate(); err != nil {
		return nil, failure.NewConfig(err)
	}

	zones := make([]model.SafeZone, 0, len(points))
	for i, p := range points {
		if b.SkipUnassigned && !p.Assigned() {
			continue
		}
		rx, ry := b.radii(p.Lat)
		zones = append(zones, model.SafeZone{
			Source:   i,
			Distance: b.Distance,
			Geometry: Circle(p.Lon, p.Lat, rx, ry, b.segments()),
		})
	}
	return zones, nil
}

func (b Builder) validate() error {
	if b.Distance <= 0 || math.IsNaN(b.Distance) || math.IsInf(b.Distance, 0) {
		return eris.Errorf("zone: buffer distance must be a positive number, got %v", b.Distance)
	}
	if b.Segments < 0 {
		return eris.Errorf("zone: segments must be positive, got %d", b.Segments)
	}
	switch b.Units {
	case "", Degrees, Meters:
	default:
		return eris.Errorf("zone: unknown units %q", b.Units)
	}
	return nil
}

func (b Builder) segments() int {
	if b.Segments == 0 {
		return DefaultSegments
	}
	return b.Segments
}

// radii returns the east-west and north-south radius in degrees.
func (b Builder) radii(lat float64) (float64, float64) {
	if b.Units != Meters {
		return b.Distance, b.Distance
	}
	ry := b.Distance / MetersPerDegreeLat
	cos := math.Max(math.Cos(lat*math.Pi/180), minCosLat)
	return ry / cos, ry
}

// Circle approximates an ellipse centred on (x, y) with 4*quadSegs vertices,
// counter-clockwise from due east, closed. rx == ry gives a circle.
func Circle(x, y, rx, ry float64, quadSegs int) *geom.Polygon {
	n := 4 * quadSegs
	flat := make([]float64, 0, (n+1)*2)
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n)
		flat = append(flat, x+rx*math.Cos(theta), y+ry*math.Sin(theta))
	}
	flat = append(flat, flat[0], flat[1])

	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}).SetSRID(model.SRIDWGS84)
}
