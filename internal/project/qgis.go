package project

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/safezone-cli/internal/failure"
)

// qgisVersion is the project format version written into stored projects.
const qgisVersion = "3.34.0-Prizren"

type qgsDocument struct {
	XMLName     xml.Name      `xml:"qgis"`
	ProjectName string        `xml:"projectname,attr"`
	Version     string        `xml:"version,attr"`
	Title       string        `xml:"title"`
	ProjectCRS  qgsCRS        `xml:"projectCrs"`
	LayerTree   qgsTreeGroup  `xml:"layer-tree-group"`
	Layers      []qgsMapLayer `xml:"projectlayers>maplayer"`
	Order       []qgsLayerRef `xml:"layerorder>layer"`
}

type qgsCRS struct {
	SRS qgsSRS `xml:"spatialrefsys"`
}

type qgsSRS struct {
	AuthID      string `xml:"authid"`
	SRID        int    `xml:"srid"`
	Description string `xml:"description"`
	Geographic  bool   `xml:"geographicflag"`
}

type qgsTreeGroup struct {
	Layers []qgsTreeLayer `xml:"layer-tree-layer"`
}

type qgsTreeLayer struct {
	ID          string `xml:"id,attr"`
	Name        string `xml:"name,attr"`
	Source      string `xml:"source,attr"`
	ProviderKey string `xml:"providerKey,attr"`
	Checked     string `xml:"checked,attr"`
	Expanded    string `xml:"expanded,attr"`
}

type qgsMapLayer struct {
	Type       string      `xml:"type,attr"`
	Geometry   string      `xml:"geometry,attr"`
	ID         string      `xml:"id"`
	DataSource string      `xml:"datasource"`
	LayerName  string      `xml:"layername"`
	SRS        qgsCRS      `xml:"srs"`
	Provider   qgsProvider `xml:"provider"`
	Opacity    float64     `xml:"layerOpacity"`
}

type qgsProvider struct {
	Encoding string `xml:"encoding,attr"`
	Name     string `xml:",chardata"`
}

type qgsLayerRef struct {
	ID string `xml:"id,attr"`
}

var wgs84 = qgsCRS{SRS: qgsSRS{
	AuthID:      "EPSG:4326",
	SRID:        4326,
	Description: "WGS 84",
	Geographic:  true,
}}

// SaveQGISProject stores a QGIS project named name inside the container,
// referencing every feature layer. Point layers are stacked above polygon
// layers and polygons are drawn half transparent. QGIS lists it under
// Project > Open From > GeoPackage.
func (p *Project) SaveQGISProject(ctx context.Context, name string) error {
	if p.readOnly {
		return failure.NewPersistence(eris.New("project: cannot save QGIS project in a read-only container"))
	}
	if strings.TrimSpace(name) == "" {
		return failure.NewPersistence(eris.New("project: empty QGIS project name"))
	}
	layers, err := p.Layers(ctx)
	if err != nil {
		return err
	}

	doc := qgsDocument{
		ProjectName: name,
		Version:     qgisVersion,
		Title:       name,
		ProjectCRS:  wgs84,
	}
	for _, pass := range []func(string) bool{isPointType, func(t string) bool { return !isPointType(t) }} {
		for _, l := range layers {
			if !pass(l.GeometryType) {
				continue
			}
			id := l.Table + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")
			source := p.path + "|layername=" + l.Table
			opacity := 1.0
			if !isPointType(l.GeometryType) {
				opacity = 0.5
			}
			doc.LayerTree.Layers = append(doc.LayerTree.Layers, qgsTreeLayer{
				ID: id, Name: l.Identifier, Source: source, ProviderKey: "ogr",
				Checked: "Qt::Checked", Expanded: "1",
			})
			doc.Layers = append(doc.Layers, qgsMapLayer{
				Type:       "vector",
				Geometry:   qgsGeometry(l.GeometryType),
				ID:         id,
				DataSource: source,
				LayerName:  l.Identifier,
				SRS:        wgs84,
				Provider:   qgsProvider{Encoding: "UTF-8", Name: "ogr"},
				Opacity:    opacity,
			})
			doc.Order = append(doc.Order, qgsLayerRef{ID: id})
		}
	}

	qgs, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return failure.NewPersistence(eris.Wrap(err, "project: marshal QGIS project"))
	}

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	w, err := zw.Create(name + ".qgs")
	if err != nil {
		return failure.NewPersistence(eris.Wrap(err, "project: create qgs entry"))
	}
	if _, err := w.Write(append([]byte(xml.Header+"<!DOCTYPE qgis PUBLIC 'http://mrcc.com/qgis.dtd' 'SYSTEM'>\n"), qgs...)); err != nil {
		return failure.NewPersistence(eris.Wrap(err, "project: write qgs entry"))
	}
	if err := zw.Close(); err != nil {
		return failure.NewPersistence(eris.Wrap(err, "project: finish qgz archive"))
	}

	meta, err := json.Marshal(map[string]string{
		"last_modified_time": time.Now().UTC().Format(time.RFC3339),
		"last_modified_user": "safezone",
	})
	if err != nil {
		return failure.NewPersistence(eris.Wrap(err, "project: marshal project metadata"))
	}

	if _, err := p.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO qgis_projects (name, metadata, content) VALUES (?, ?, ?)`,
		name, meta, archive.Bytes(),
	); err != nil {
		return failure.NewPersistence(eris.Wrap(err, "project: store QGIS project"))
	}

	zap.L().Debug("project: stored QGIS project", zap.String("name", name), zap.Int("layers", len(doc.Layers)))
	return nil
}

// QGISProjects lists the names of the stored QGIS projects.
func (p *Project) QGISProjects(ctx context.Context) ([]string, error) {
	if ok, err := p.hasTable(ctx, "qgis_projects"); err != nil || !ok {
		return nil, failure.NewPersistence(err)
	}
	rows, err := p.db.QueryContext(ctx, `SELECT name FROM qgis_projects ORDER BY name`)
	if err != nil {
		return nil, failure.NewPersistence(eris.Wrap(err, "project: list QGIS projects"))
	}
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, failure.NewPersistence(eris.Wrap(err, "project: scan QGIS project"))
		}
		names = append(names, n)
	}
	return names, eris.Wrap(rows.Err(), "project: iterate QGIS projects")
}

func isPointType(t string) bool {
	return strings.Contains(strings.ToUpper(t), "POINT")
}

func qgsGeometry(t string) string {
	switch u := strings.ToUpper(t); {
	case strings.Contains(u, "POINT"):
		return "Point"
	case strings.Contains(u, "LINE"):
		return "Line"
	default:
		return "Polygon"
	}
}
