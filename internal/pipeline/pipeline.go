// Package pipeline runs the safe-zone stages in order: load, points,
// cluster, zones, render and export.
package pipeline

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/safezone-cli/internal/cluster"
	"github.com/sells-group/safezone-cli/internal/config"
	"github.com/sells-group/safezone-cli/internal/failure"
	"github.com/sells-group/safezone-cli/internal/loader"
	"github.com/sells-group/safezone-cli/internal/model"
	"github.com/sells-group/safezone-cli/internal/monitoring"
	"github.com/sells-group/safezone-cli/internal/points"
	"github.com/sells-group/safezone-cli/internal/project"
	"github.com/sells-group/safezone-cli/internal/render"
	"github.com/sells-group/safezone-cli/internal/zone"
)

// QGISProjectName is the name of the QGIS project stored in the container.
const QGISProjectName = "safezones"

// Result is everything a run produced. Empty is set when the event table
// had no rows and the run stopped before clustering.
type Result struct {
	Run      model.Run
	Boundary []model.BoundaryRegion
	Points   []model.ClusteredPoint
	Zones    []model.SafeZone
	Rejected []points.RowError
	Cluster  cluster.Result
	Plots    []string
	GeoJSON  []string
	Metrics  monitoring.RunSnapshot
	Empty    bool
}

// Pipeline runs the stages with one configuration. A Pipeline holds no
// state between runs.
type Pipeline struct {
	cfg *config.Config
}

// New creates a Pipeline. cfg should already be validated.
func New(cfg *config.Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Run executes every stage once. The first failing stage aborts the run and
// its error carries the stage name and failure kind.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	cfg := p.cfg
	log := zap.L().With(
		zap.String("boundary", cfg.Input.BoundaryPath),
		zap.String("events", cfg.Input.EventsPath),
		zap.String("project", cfg.Output.ProjectPath),
	)
	log.Info("pipeline: starting run")

	metrics := monitoring.NewRecorder()
	result := &Result{
		Run: model.Run{
			BoundaryPath:   cfg.Input.BoundaryPath,
			EventsPath:     cfg.Input.EventsPath,
			ClusterCount:   cfg.Cluster.Count,
			BufferDistance: cfg.Zone.BufferDistance,
			BufferUnits:    cfg.Zone.Units,
		},
	}

	stage := func(name model.Stage, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return failure.WithStage(string(name), eris.Wrap(err, "pipeline: cancelled"))
		}
		start := time.Now()
		err := fn()
		d := time.Since(start)
		metrics.ObserveStage(name, d)
		if err != nil {
			err = failure.WithStage(string(name), err)
			log.Error("pipeline: stage failed",
				zap.String("stage", string(name)),
				zap.Int64("duration_ms", d.Milliseconds()),
				zap.Error(err),
			)
			return err
		}
		log.Info("pipeline: stage complete",
			zap.String("stage", string(name)),
			zap.Int64("duration_ms", d.Milliseconds()),
		)
		return nil
	}

	var records []model.EventRecord
	if err := stage(model.StageLoad, func() error {
		var err error
		result.Boundary, err = loader.LoadBoundary(cfg.Input.BoundaryPath)
		if err != nil {
			return err
		}
		records, err = loader.LoadEvents(ctx, cfg.Input.EventsPath, loader.EventOptions{
			Delimiter: delimiter(cfg.Input.Delimiter),
			Sheet:     cfg.Input.Sheet,
		})
		return err
	}); err != nil {
		return nil, err
	}

	var geoPoints []model.GeoPoint
	if err := stage(model.StagePoints, func() error {
		built, err := points.Build(records, points.Options{
			LongitudeColumn: cfg.Input.LongitudeColumn,
			LatitudeColumn:  cfg.Input.LatitudeColumn,
			Policy:          points.RowPolicy(cfg.Input.RowPolicy),
		})
		if err != nil {
			return err
		}
		geoPoints = built.Points
		result.Rejected = built.Rejected
		metrics.SetPoints(len(built.Points), len(built.Rejected))
		return nil
	}); err != nil {
		return nil, err
	}

	if len(geoPoints) == 0 {
		log.Warn("pipeline: event table has no rows, nothing to cluster")
		result.Empty = true
		result.Metrics = metrics.Snapshot()
		return result, nil
	}

	if err := stage(model.StageCluster, func() error {
		km := cluster.KMeans{
			K:             cfg.Cluster.Count,
			Seed:          cfg.Cluster.Seed,
			MaxIterations: cfg.Cluster.MaxIterations,
			Tolerance:     cfg.Cluster.Tolerance,
			Restarts:      cfg.Cluster.Restarts,
		}
		var err error
		result.Points, result.Cluster, err = km.Fit(geoPoints)
		if err != nil {
			return err
		}
		result.Run.Seed = result.Cluster.Seed
		result.Run.Inertia = result.Cluster.Inertia
		metrics.SetClusters(cfg.Cluster.Count, result.Cluster.Inertia)
		log.Info("pipeline: clustered points",
			zap.Int("points", len(result.Points)),
			zap.Ints("sizes", result.Cluster.Sizes),
			zap.Uint64("seed", result.Cluster.Seed),
			zap.Float64("inertia", result.Cluster.Inertia),
		)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := stage(model.StageZones, func() error {
		b := zone.Builder{
			Distance:       cfg.Zone.BufferDistance,
			Segments:       cfg.Zone.Segments,
			Units:          zone.Units(cfg.Zone.Units),
			SkipUnassigned: cfg.Zone.SkipUnassigned,
		}
		var err error
		result.Zones, err = b.Build(result.Points)
		if err != nil {
			return err
		}
		metrics.SetZones(len(result.Zones))
		return nil
	}); err != nil {
		return nil, err
	}
	result.Run.Points = len(result.Points)
	result.Run.Zones = len(result.Zones)

	if cfg.Output.PlotDir != "" {
		if err := stage(model.StageRender, func() error {
			pl := render.New(cfg.Output.PlotDir, cfg.Plot.Width, cfg.Plot.Height)
			clusters, err := pl.Clusters(result.Boundary, result.Points, cfg.Cluster.Count)
			if err != nil {
				return err
			}
			zones, err := pl.SafeZones(result.Boundary, result.Points, result.Zones)
			if err != nil {
				return err
			}
			result.Plots = []string{clusters, zones}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if err := stage(model.StageExport, func() error {
		err := project.Export(ctx, project.ExportOptions{
			Path:        cfg.Output.ProjectPath,
			PointsLayer: cfg.Output.PointsLayer,
			ZonesLayer:  cfg.Output.ZonesLayer,
			QGISProject: QGISProjectName,
		}, result.Points, result.Zones, &result.Run)
		if err != nil {
			return err
		}
		if cfg.Output.GeoJSONDir == "" {
			return nil
		}
		result.GeoJSON, err = project.WriteGeoJSON(cfg.Output.GeoJSONDir,
			cfg.Output.PointsLayer, cfg.Output.ZonesLayer, result.Points, result.Zones)
		return err
	}); err != nil {
		return nil, err
	}

	if cfg.Output.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			log.Warn("pipeline: failed to write metrics textfile", zap.Error(err))
		}
	}
	result.Metrics = metrics.Snapshot()

	log.Info("pipeline: run complete",
		zap.String("run_id", result.Run.ID),
		zap.Int("points", result.Run.Points),
		zap.Int("zones", result.Run.Zones),
		zap.Int("rejected_rows", len(result.Rejected)),
	)
	return result, nil
}

// delimiter returns the first rune of s, or 0 for the extension default.
func delimiter(s string) rune {
	if s == "" {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r
}
