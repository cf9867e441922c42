package model

import "time"

// Stage names a step of the safe-zone pipeline.
type Stage string

const (
	StageLoad    Stage = "load"
	StagePoints  Stage = "points"
	StageCluster Stage = "cluster"
	StageZones   Stage = "zones"
	StageRender  Stage = "render"
	StageExport  Stage = "export"
)

// Run records the parameters and outcome of one pipeline invocation.
type Run struct {
	ID             string    `json:"id"`
	BoundaryPath   string    `json:"boundary_path"`
	EventsPath     string    `json:"events_path"`
	ClusterCount   int       `json:"cluster_count"`
	Seed           uint64    `json:"seed"`
	BufferDistance float64   `json:"buffer_distance"`
	BufferUnits    string    `json:"buffer_units"`
	Points         int       `json:"points"`
	Zones          int       `json:"zones"`
	Inertia        float64   `json:"inertia"`
	CreatedAt      time.Time `json:"created_at"`
}
