package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/safezone-cli/internal/failure"
	"github.com/sells-group/safezone-cli/internal/model"
)

func TestLoadBoundary_Shapefile(t *testing.T) {
	path := writeTestShapefile(t, t.TempDir(),
		[]string{"Kerala", "Goa"},
		[][][]shp.Point{
			{square(76, 8, 2)},
			{square(73.7, 14.9, 0.8)},
		},
	)

	regions, err := LoadBoundary(path)
	require.NoError(t, err)
	require.Len(t, regions, 2)

	assert.Equal(t, "Kerala", regions[0].Name)
	assert.Equal(t, "Goa", regions[1].Name)
	assert.Equal(t, "Kerala", regions[0].Attributes["NAME"])

	require.NotNil(t, regions[0].Geometry)
	assert.Equal(t, model.SRIDWGS84, regions[0].Geometry.SRID())
	assert.Equal(t, 1, regions[0].Geometry.NumPolygons())

	b := model.Bounds(regions)
	require.NotNil(t, b)
	assert.InDelta(t, 73.7, b.Min(0), 1e-9)
	assert.InDelta(t, 8.0, b.Min(1), 1e-9)
	assert.InDelta(t, 78.0, b.Max(0), 1e-9)
	assert.InDelta(t, 15.7, b.Max(1), 1e-9)
}

func TestLoadBoundary_MultiPartAndHoles(t *testing.T) {
	path := writeTestShapefile(t, t.TempDir(),
		[]string{"Islands"},
		[][][]shp.Point{{
			square(0, 0, 10),
			reversed(square(2, 2, 2)), // hole in the first polygon
			square(20, 20, 5),         // second island
		}},
	)

	regions, err := LoadBoundary(path)
	require.NoError(t, err)
	require.Len(t, regions, 1)

	mp := regions[0].Geometry
	require.Equal(t, 2, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings())
	assert.Equal(t, 1, mp.Polygon(1).NumLinearRings())
}

func TestLoadBoundary_Zip(t *testing.T) {
	shpPath := writeTestShapefile(t, t.TempDir(),
		[]string{"India"},
		[][][]shp.Point{{square(68, 6, 30)}},
	)

	regions, err := LoadBoundary(zipShapefile(t, shpPath))
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "India", regions[0].Name)
}

func TestLoadBoundary_Errors(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "boundary.geojson")
	require.NoError(t, os.WriteFile(txt, []byte("{}"), 0o644))
	badShp := filepath.Join(dir, "broken.shp")
	require.NoError(t, os.WriteFile(badShp, []byte("nope"), 0o644))
	badZip := filepath.Join(dir, "broken.zip")
	require.NoError(t, os.WriteFile(badZip, []byte("nope"), 0o644))

	tests := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"missing file", filepath.Join(dir, "missing.shp")},
		{"directory", dir},
		{"unknown extension", txt},
		{"corrupt shapefile", badShp},
		{"corrupt zip", badZip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBoundary(tt.path)
			require.Error(t, err)
			assert.True(t, failure.Is(err, failure.FileAccess), "want file access error, got %v", err)
		})
	}
}

func TestPickNameField(t *testing.T) {
	assert.Equal(t, 1, pickNameField([]string{"ID", "ST_NM"}))
	assert.Equal(t, 0, pickNameField([]string{"Name", "ST_NM"}))
	assert.Equal(t, -1, pickNameField([]string{"ID", "AREA"}))
}

func TestSignedArea(t *testing.T) {
	cw := []float64{0, 0, 0, 1, 1, 1, 1, 0, 0, 0}
	ccw := []float64{0, 0, 1, 0, 1, 1, 0, 1, 0, 0}
	assert.InDelta(t, -1.0, signedArea(cw), 1e-12)
	assert.InDelta(t, 1.0, signedArea(ccw), 1e-12)
}

func TestLoadBoundary_PolygonZ(t *testing.T) {
	ring := square(76, 8, 2)
	flat := newPolygon([][]shp.Point{ring})
	path := filepath.Join(t.TempDir(), "terrain.shp")

	w, err := shp.Create(path, shp.POLYGONZ)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME", 32)}))
	idx := w.Write(&shp.PolygonZ{
		Box:       flat.Box,
		NumParts:  flat.NumParts,
		NumPoints: flat.NumPoints,
		Parts:     flat.Parts,
		Points:    flat.Points,
		ZArray:    make([]float64, len(ring)),
		MArray:    make([]float64, len(ring)),
	})
	require.NoError(t, w.WriteAttribute(int(idx), 0, "Kerala"))
	w.Close()

	regions, err := LoadBoundary(path)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "Kerala", regions[0].Name)
	assert.Equal(t, 1, regions[0].Geometry.NumPolygons())
}

func TestPolygonRings(t *testing.T) {
	flat := newPolygon([][]shp.Point{square(0, 0, 1)})

	tests := []struct {
		name  string
		shape shp.Shape
		ok    bool
	}{
		{"polygon", flat, true},
		{"polygon z", &shp.PolygonZ{Parts: flat.Parts, Points: flat.Points}, true},
		{"polygon m", &shp.PolygonM{Parts: flat.Parts, Points: flat.Points}, true},
		{"polyline", shp.NewPolyLine([][]shp.Point{square(0, 0, 1)}), false},
		{"point", &shp.Point{X: 1, Y: 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts, points, ok := polygonRings(tt.shape)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, flat.Parts, parts)
				assert.Len(t, points, 5)
			}
		})
	}
}
