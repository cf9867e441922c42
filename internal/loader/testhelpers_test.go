package loader

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/require"
)

// square returns a clockwise closed ring with its lower-left corner at (x, y).
func square(x, y, size float64) []shp.Point {
	return []shp.Point{
		{X: x, Y: y},
		{X: x, Y: y + size},
		{X: x + size, Y: y + size},
		{X: x + size, Y: y},
		{X: x, Y: y},
	}
}

// reversed returns the ring in the opposite winding order.
func reversed(ring []shp.Point) []shp.Point {
	out := make([]shp.Point, len(ring))
	for i, p := range ring {
		out[len(ring)-1-i] = p
	}
	return out
}

// newPolygon builds a shapefile Polygon from rings, one part per ring.
func newPolygon(parts [][]shp.Point) *shp.Polygon {
	return (*shp.Polygon)(shp.NewPolyLine(parts))
}

// writeTestShapefile writes a polygon shapefile with a NAME attribute and
// returns the .shp path.
func writeTestShapefile(t *testing.T, dir string, names []string, polygons [][][]shp.Point) string {
	t.Helper()
	path := filepath.Join(dir, "boundary.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME", 32)}))

	for i, parts := range polygons {
		idx := w.Write(newPolygon(parts))
		require.NoError(t, w.WriteAttribute(int(idx), 0, names[i]))
	}
	w.Close()
	return path
}

// zipShapefile packs the .shp/.shx/.dbf siblings of shpPath into a ZIP.
func zipShapefile(t *testing.T, shpPath string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "boundary.zip")
	out, err := os.Create(zipPath)
	require.NoError(t, err)
	defer out.Close() //nolint:errcheck

	zw := zip.NewWriter(out)
	base := shpPath[:len(shpPath)-len(filepath.Ext(shpPath))]
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		src, err := os.Open(base + ext)
		require.NoError(t, err)
		dst, err := zw.Create("India Shape/" + filepath.Base(base+ext))
		require.NoError(t, err)
		_, err = io.Copy(dst, src)
		require.NoError(t, err)
		require.NoError(t, src.Close())
	}
	require.NoError(t, zw.Close())
	return zipPath
}
