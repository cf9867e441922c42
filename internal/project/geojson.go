package project

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/safezone-cli/internal/failure"
	"github.com/sells-group/safezone-cli/internal/model"
)

// WriteGeoJSON writes both layers as GeoJSON FeatureCollections into dir,
// one file per layer named after its table. It returns the written paths.
func WriteGeoJSON(dir, pointsLayer, zonesLayer string, points []model.ClusteredPoint, zones []model.SafeZone) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, failure.NewPersistence(eris.Wrapf(err, "project: create geojson dir %s", dir))
	}

	pfc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(points))}
	for _, pt := range points {
		props := make(map[string]interface{}, len(pt.Record.Columns)+1)
		for _, c := range pt.Record.Columns {
			if v, ok := pt.Record.Get(c); ok {
				props[c] = v
			}
		}
		props["cluster"] = pt.Cluster
		pfc.Features = append(pfc.Features, &geojson.Feature{Geometry: pt.Geometry, Properties: props})
	}

	zfc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(zones))}
	for _, z := range zones {
		zfc.Features = append(zfc.Features, &geojson.Feature{
			Geometry:   z.Geometry,
			Properties: map[string]interface{}{"source": z.Source, "distance": z.Distance},
		})
	}

	var paths []string
	for _, out := range []struct {
		layer string
		fc    *geojson.FeatureCollection
	}{
		{pointsLayer, pfc},
		{zonesLayer, zfc},
	} {
		data, err := json.Marshal(out.fc)
		if err != nil {
			return paths, failure.NewPersistence(eris.Wrapf(err, "project: encode geojson for %s", out.layer))
		}
		path := filepath.Join(dir, TableName(out.layer)+".geojson")
		if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
			return paths, failure.NewPersistence(eris.Wrapf(err, "project: write %s", path))
		}
		paths = append(paths, path)
	}
	return paths, nil
}
