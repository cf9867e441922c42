package model

import (
	"github.com/twpayne/go-geom"
)

// SRIDWGS84 is the EPSG code stamped on every geometry the pipeline produces.
const SRIDWGS84 = 4326

// Unassigned marks a point that a clustering strategy left out of every cluster.
// The k-means clusterer never emits it.
const Unassigned = -1

// EventRecord is one row of the tabular event dataset.
type EventRecord struct {
	Row     int               `json:"row"` // 1-based data row, header excluded
	Columns []string          `json:"columns"`
	Values  map[string]string `json:"values"`
}

// Get returns the value of a column and whether the row has it.
func (r EventRecord) Get(column string) (string, bool) {
	v, ok := r.Values[column]
	return v, ok
}

// GeoPoint is an EventRecord with a WGS84 point geometry built from its
// longitude and latitude fields.
type GeoPoint struct {
	Record   EventRecord `json:"record"`
	Lon      float64     `json:"longitude"`
	Lat      float64     `json:"latitude"`
	Geometry *geom.Point `json:"-"`
}

// NewGeoPoint builds a GeoPoint whose geometry mirrors lon/lat exactly.
func NewGeoPoint(rec EventRecord, lon, lat float64) GeoPoint {
	return GeoPoint{
		Record:   rec,
		Lon:      lon,
		Lat:      lat,
		Geometry: geom.NewPointFlat(geom.XY, []float64{lon, lat}).SetSRID(SRIDWGS84),
	}
}

// ClusteredPoint is a GeoPoint with its cluster label.
type ClusteredPoint struct {
	GeoPoint
	Cluster int `json:"cluster"`
}

// Assigned reports whether the point belongs to a cluster.
func (p ClusteredPoint) Assigned() bool {
	return p.Cluster != Unassigned
}
