package project

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/safezone-cli/internal/failure"
	"github.com/sells-group/safezone-cli/internal/model"
)

// ExportOptions names the container and its layers.
type ExportOptions struct {
	Path        string
	PointsLayer string
	ZonesLayer  string
	// QGISProject is the name of the stored QGIS project; empty skips it.
	QGISProject string
}

// Export opens the container at opts.Path, writes both layers, records the
// run and closes the container again. run.ID is filled in when empty.
func Export(ctx context.Context, opts ExportOptions, points []model.ClusteredPoint, zones []model.SafeZone, run *model.Run) (err error) {
	if TableName(opts.PointsLayer) == TableName(opts.ZonesLayer) {
		return failure.NewConfig(eris.Errorf("project: layers %q and %q share table %q",
			opts.PointsLayer, opts.ZonesLayer, TableName(opts.PointsLayer)))
	}

	p, err := Open(ctx, opts.Path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := p.WritePoints(ctx, opts.PointsLayer, points); err != nil {
		return err
	}
	if err := p.WriteZones(ctx, opts.ZonesLayer, zones); err != nil {
		return err
	}
	if run != nil {
		if err := p.RecordRun(ctx, run); err != nil {
			return err
		}
	}
	if opts.QGISProject != "" {
		if err := p.SaveQGISProject(ctx, opts.QGISProject); err != nil {
			return err
		}
	}

	zap.L().Info("project: export complete",
		zap.String("path", p.Path()),
		zap.Int("points", len(points)),
		zap.Int("zones", len(zones)),
	)
	return nil
}
