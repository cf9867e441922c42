// Package render draws the cluster and safe-zone maps as PNG images.
package render

import (
	"image/color"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/sells-group/safezone-cli/internal/failure"
	"github.com/sells-group/safezone-cli/internal/model"
)

// Output file names, relative to Plotter.Dir.
const (
	ClustersFile  = "clusters.png"
	SafeZonesFile = "safe_zones.png"
)

var (
	boundaryFill = color.RGBA{R: 211, G: 211, B: 211, A: 255}
	boundaryEdge = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	zoneFill     = color.NRGBA{R: 173, G: 216, B: 230, A: 128}
	zoneEdge     = color.Black
	unassigned   = color.RGBA{R: 128, G: 128, B: 128, A: 255}
)

// Plotter renders map images into Dir. Width and Height are in inches.
type Plotter struct {
	Dir    string
	Width  float64
	Height float64
}

// New returns a Plotter writing into dir.
func New(dir string, width, height float64) *Plotter {
	return &Plotter{Dir: dir, Width: width, Height: height}
}

// Clusters draws the boundary with the points colored by cluster and
// returns the written path.
func (p *Plotter) Clusters(boundary []model.BoundaryRegion, points []model.ClusteredPoint, k int) (string, error) {
	pl := newMap("Landslide Clusters on Map")
	if err := addBoundary(pl, boundary); err != nil {
		return "", err
	}
	if err := addClusters(pl, points, k); err != nil {
		return "", err
	}
	return p.save(pl, ClustersFile)
}

// SafeZones draws the boundary, the zones beneath the points, and the
// points colored by cluster, and returns the written path.
func (p *Plotter) SafeZones(boundary []model.BoundaryRegion, points []model.ClusteredPoint, zones []model.SafeZone) (string, error) {
	pl := newMap("Safe Evacuation Zones and Landslide Clusters")
	if err := addBoundary(pl, boundary); err != nil {
		return "", err
	}
	if err := addZones(pl, zones); err != nil {
		return "", err
	}
	if err := addClusters(pl, points, labelCount(points)); err != nil {
		return "", err
	}
	return p.save(pl, SafeZonesFile)
}

func newMap(title string) *plot.Plot {
	pl := plot.New()
	pl.Title.Text = title
	pl.X.Label.Text = "Longitude"
	pl.Y.Label.Text = "Latitude"
	pl.Legend.Top = true
	pl.Legend.Left = false
	pl.Legend.XOffs = -10
	pl.Legend.YOffs = -10
	return pl
}

func (p *Plotter) save(pl *plot.Plot, name string) (string, error) {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return "", failure.NewFileAccess(eris.Wrapf(err, "render: create plot dir %s", p.Dir))
	}
	w, h := p.Width, p.Height
	if w <= 0 {
		w = 12
	}
	if h <= 0 {
		h = 8
	}
	path := filepath.Join(p.Dir, name)
	if err := pl.Save(vg.Length(w)*vg.Inch, vg.Length(h)*vg.Inch, path); err != nil {
		return "", failure.NewFileAccess(eris.Wrapf(err, "render: save %s", path))
	}
	zap.L().Info("render: saved plot", zap.String("path", path))
	return path, nil
}

func addBoundary(pl *plot.Plot, boundary []model.BoundaryRegion) error {
	for _, r := range boundary {
		if r.Geometry == nil {
			continue
		}
		for i := 0; i < r.Geometry.NumPolygons(); i++ {
			poly, err := polygon(r.Geometry.Polygon(i))
			if err != nil {
				return eris.Wrapf(err, "render: boundary %q", r.Name)
			}
			if poly == nil {
				continue
			}
			poly.Color = boundaryFill
			poly.LineStyle.Color = boundaryEdge
			poly.LineStyle.Width = vg.Points(0.5)
			pl.Add(poly)
		}
	}
	return nil
}

func addZones(pl *plot.Plot, zones []model.SafeZone) error {
	var first *plotter.Polygon
	for i, z := range zones {
		poly, err := polygon(z.Geometry)
		if err != nil {
			return eris.Wrapf(err, "render: zone %d", i)
		}
		if poly == nil {
			continue
		}
		poly.Color = zoneFill
		poly.LineStyle.Color = zoneEdge
		poly.LineStyle.Width = vg.Points(0.5)
		pl.Add(poly)
		if first == nil {
			first = poly
		}
	}
	if first != nil {
		pl.Legend.Add("Safe zone", first)
	}
	return nil
}

func addClusters(pl *plot.Plot, points []model.ClusteredPoint, k int) error {
	groups := make(map[int]plotter.XYs)
	for _, pt := range points {
		groups[pt.Cluster] = append(groups[pt.Cluster], plotter.XY{X: pt.Lon, Y: pt.Lat})
	}
	colors := generateColors(k)

	add := func(label int, name string, c color.Color) error {
		xys, ok := groups[label]
		if !ok {
			return nil
		}
		s, err := plotter.NewScatter(xys)
		if err != nil {
			return eris.Wrapf(err, "render: scatter for %s", name)
		}
		s.GlyphStyle.Color = c
		s.GlyphStyle.Radius = vg.Points(2.5)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		pl.Add(s)
		pl.Legend.Add(name, s)
		return nil
	}

	for i := 0; i < k; i++ {
		if err := add(i, "Cluster "+strconv.Itoa(i), colors[i]); err != nil {
			return err
		}
	}
	return add(model.Unassigned, "Unassigned", unassigned)
}

// polygon converts a go-geom polygon into a filled plotter polygon, one XYs
// per ring. It returns nil for empty input.
func polygon(g *geom.Polygon) (*plotter.Polygon, error) {
	if g == nil || g.Empty() {
		return nil, nil
	}
	rings := make([]plotter.XYer, 0, g.NumLinearRings())
	for i := 0; i < g.NumLinearRings(); i++ {
		ring := g.LinearRing(i)
		xys := make(plotter.XYs, 0, ring.NumCoords())
		for j := 0; j < ring.NumCoords(); j++ {
			c := ring.Coord(j)
			xys = append(xys, plotter.XY{X: c.X(), Y: c.Y()})
		}
		rings = append(rings, xys)
	}
	return plotter.NewPolygon(rings...)
}

// labelCount returns one more than the largest assigned label.
func labelCount(points []model.ClusteredPoint) int {
	k := 0
	for _, pt := range points {
		if pt.Cluster >= k {
			k = pt.Cluster + 1
		}
	}
	return k
}
