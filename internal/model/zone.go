package model

import (
	"github.com/twpayne/go-geom"
)

// SafeZone is the buffer polygon around one clustered point. Source is the
// index of that point in the clustered slice; no other link is kept.
type SafeZone struct {
	Source   int           `json:"source"`
	Distance float64       `json:"distance"`
	Geometry *geom.Polygon `json:"-"`
}
