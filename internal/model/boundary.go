package model

import (
	"github.com/twpayne/go-geom"
)

// BoundaryRegion is one feature of the administrative boundary layer. It is
// only ever drawn as a backdrop.
type BoundaryRegion struct {
	Name       string             `json:"name,omitempty"`
	Attributes map[string]string  `json:"attributes,omitempty"`
	Geometry   *geom.MultiPolygon `json:"-"`
}

// Bounds returns the envelope of all regions, or nil when there is no geometry.
func Bounds(regions []BoundaryRegion) *geom.Bounds {
	var b *geom.Bounds
	for _, r := range regions {
		if r.Geometry == nil || r.Geometry.Empty() {
			continue
		}
		if b == nil {
			b = geom.NewBounds(geom.XY)
		}
		b.Extend(r.Geometry)
	}
	return b
}
