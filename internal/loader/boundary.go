// Package loader reads the boundary layer and the event table from disk.
package loader

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/safezone-cli/internal/failure"
	"github.com/sells-group/safezone-cli/internal/fetcher"
	"github.com/sells-group/safezone-cli/internal/model"
)

// nameFields are tried in order when picking a display name for a region.
var nameFields = []string{"name", "st_nm", "name_1", "name_0", "admin", "country"}

// LoadBoundary reads a polygon shapefile, or a ZIP archive holding one, into
// boundary regions. Non-polygon shapes are skipped.
func LoadBoundary(path string) ([]model.BoundaryRegion, error) {
	if err := checkReadable(path); err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return readShapefile(path)
	case ".zip":
		return readZippedShapefile(path)
	default:
		return nil, failure.NewFileAccess(eris.Errorf("loader: unrecognized boundary format %q", filepath.Ext(path)))
	}
}

func readZippedShapefile(zipPath string) ([]model.BoundaryRegion, error) {
	dir, err := os.MkdirTemp("", "safezone-boundary-*")
	if err != nil {
		return nil, failure.NewFileAccess(eris.Wrap(err, "loader: create extract dir"))
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	files, err := fetcher.ExtractZIP(zipPath, dir)
	if err != nil {
		return nil, failure.NewFileAccess(eris.Wrapf(err, "loader: extract %s", zipPath))
	}

	shpPath, err := fetcher.FindByExt(files, ".shp")
	if err != nil {
		return nil, failure.NewFileAccess(eris.Wrapf(err, "loader: find shapefile in %s", zipPath))
	}

	return readShapefile(shpPath)
}

func readShapefile(shpPath string) ([]model.BoundaryRegion, error) {
	dbfPath := strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".dbf"
	if err := checkReadable(dbfPath); err != nil {
		return nil, err
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, failure.NewFileAccess(eris.Wrapf(err, "loader: open shapefile %s", shpPath))
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}
	nameIdx := pickNameField(names)

	var regions []model.BoundaryRegion
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		parts, points, ok := polygonRings(shape)
		if !ok {
			skipped++
			continue
		}

		mp := polygonToMultiPolygon(parts, points)
		if mp == nil {
			skipped++
			continue
		}

		attrs := make(map[string]string, len(names))
		for i, name := range names {
			attrs[name] = strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
		}

		region := model.BoundaryRegion{Attributes: attrs, Geometry: mp}
		if nameIdx >= 0 {
			region.Name = attrs[names[nameIdx]]
		}
		regions = append(regions, region)
	}

	if skipped > 0 {
		zap.L().Debug("loader: skipped boundary records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	if len(regions) == 0 {
		return nil, failure.NewFileAccess(eris.Errorf("loader: no polygon features in %s", shpPath))
	}

	return regions, nil
}

func pickNameField(names []string) int {
	for _, want := range nameFields {
		for i, n := range names {
			if strings.EqualFold(n, want) {
				return i
			}
		}
	}
	return -1
}

// polygonRings returns the part offsets and vertices of Polygon, PolygonZ
// and PolygonM shapes. Z and M values are dropped.
func polygonRings(shape shp.Shape) ([]int32, []shp.Point, bool) {
	switch p := shape.(type) {
	case *shp.Polygon:
		if p != nil {
			return p.Parts, p.Points, true
		}
	case *shp.PolygonZ:
		if p != nil {
			return p.Parts, p.Points, true
		}
	case *shp.PolygonM:
		if p != nil {
			return p.Parts, p.Points, true
		}
	}
	return nil, nil, false
}

// polygonToMultiPolygon converts shapefile polygon rings to a
// geom.MultiPolygon. Clockwise rings start a new polygon; counter-clockwise
// rings are holes of the polygon before them.
func polygonToMultiPolygon(parts []int32, points []shp.Point) *geom.MultiPolygon {
	if len(parts) == 0 || len(points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(model.SRIDWGS84)
	var current *geom.Polygon

	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("loader: skipping malformed polygon", zap.Error(err))
		}
		current = nil
	}

	n := int32(len(parts))
	for i := int32(0); i < n; i++ {
		start := parts[i]
		end := int32(len(points))
		if i+1 < n {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || end-start < 4 {
			continue
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, points[j].X, points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if signedArea(flat) > 0 && current != nil {
			if err := current.Push(ring); err != nil {
				zap.L().Debug("loader: skipping malformed hole", zap.Int32("part", i), zap.Error(err))
			}
			continue
		}

		flush()
		current = geom.NewPolygon(geom.XY)
		if err := current.Push(ring); err != nil {
			zap.L().Debug("loader: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			current = nil
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// signedArea is positive for counter-clockwise rings.
func signedArea(flat []float64) float64 {
	var sum float64
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return sum / 2
}

func checkReadable(path string) error {
	if path == "" {
		return failure.NewFileAccess(eris.New("loader: empty path"))
	}
	info, err := os.Stat(path)
	if err != nil {
		return failure.NewFileAccess(eris.Wrapf(err, "loader: stat %s", path))
	}
	if info.IsDir() {
		return failure.NewFileAccess(eris.Errorf("loader: %s is a directory", path))
	}
	return nil
}
