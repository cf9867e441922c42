package project

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/safezone-cli/internal/failure"
	"github.com/sells-group/safezone-cli/internal/model"
)

const geometryColumn = "geom"

// reserved columns that event attributes may not shadow.
var reserved = map[string]bool{"fid": true, geometryColumn: true, "cluster": true}

// WritePoints writes the clustered points as a POINT layer. Every source
// attribute becomes a TEXT column next to an INTEGER cluster column. An
// existing layer of the same name is replaced.
func (p *Project) WritePoints(ctx context.Context, layer string, points []model.ClusteredPoint) error {
	table := TableName(layer)
	attrs, colNames := attributeColumns(points)

	cols := []string{
		"fid INTEGER PRIMARY KEY AUTOINCREMENT",
		quoteIdent(geometryColumn) + " POINT",
	}
	for _, c := range colNames {
		cols = append(cols, quoteIdent(c)+" TEXT")
	}
	cols = append(cols, "cluster INTEGER")

	insertCols := append([]string{quoteIdent(geometryColumn)}, quoteAll(colNames)...)
	insertCols = append(insertCols, "cluster")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(insertCols, ", "), placeholders(len(insertCols)))

	var ext extent
	err := p.replaceLayer(ctx, layer, table, "POINT", cols, func(tx *sql.Tx) (*extent, error) {
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			return nil, eris.Wrapf(err, "project: prepare insert into %s", table)
		}
		defer stmt.Close() //nolint:errcheck

		for i, pt := range points {
			if pt.Geometry == nil {
				return nil, eris.Errorf("project: point %d has no geometry", i)
			}
			blob, err := EncodeGeometry(pt.Geometry)
			if err != nil {
				return nil, err
			}
			args := make([]any, 0, len(insertCols))
			args = append(args, blob)
			for _, src := range attrs {
				v, ok := pt.Record.Get(src)
				if !ok {
					args = append(args, nil)
					continue
				}
				args = append(args, v)
			}
			args = append(args, pt.Cluster)
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return nil, eris.Wrapf(err, "project: insert point %d", i)
			}
			ext.extend(pt.Geometry)
		}
		return &ext, nil
	})
	if err != nil {
		return failure.NewPersistence(err)
	}

	zap.L().Info("project: wrote point layer",
		zap.String("layer", layer),
		zap.String("table", table),
		zap.Int("features", len(points)),
		zap.Int("attributes", len(colNames)),
	)
	return nil
}

// WriteZones writes the safe zones as a geometry-only POLYGON layer. An
// existing layer of the same name is replaced.
func (p *Project) WriteZones(ctx context.Context, layer string, zones []model.SafeZone) error {
	table := TableName(layer)
	cols := []string{
		"fid INTEGER PRIMARY KEY AUTOINCREMENT",
		quoteIdent(geometryColumn) + " POLYGON",
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?)", quoteIdent(table), quoteIdent(geometryColumn))

	var ext extent
	err := p.replaceLayer(ctx, layer, table, "POLYGON", cols, func(tx *sql.Tx) (*extent, error) {
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			return nil, eris.Wrapf(err, "project: prepare insert into %s", table)
		}
		defer stmt.Close() //nolint:errcheck

		for i, z := range zones {
			if z.Geometry == nil {
				return nil, eris.Errorf("project: zone %d has no geometry", i)
			}
			blob, err := EncodeGeometry(z.Geometry)
			if err != nil {
				return nil, err
			}
			if _, err := stmt.ExecContext(ctx, blob); err != nil {
				return nil, eris.Wrapf(err, "project: insert zone %d", i)
			}
			ext.extend(z.Geometry)
		}
		return &ext, nil
	})
	if err != nil {
		return failure.NewPersistence(err)
	}

	zap.L().Info("project: wrote zone layer",
		zap.String("layer", layer),
		zap.String("table", table),
		zap.Int("features", len(zones)),
	)
	return nil
}

// replaceLayer drops any previous incarnation of the layer, recreates its
// table and metadata rows, and fills it, all in one transaction.
func (p *Project) replaceLayer(
	ctx context.Context,
	layer, table, geomType string,
	cols []string,
	fill func(*sql.Tx) (*extent, error),
) error {
	if strings.TrimSpace(layer) == "" {
		return eris.New("project: empty layer name")
	}
	return p.withTx(ctx, func(tx *sql.Tx) error {
		var stale []string
		rows, err := tx.QueryContext(ctx,
			`SELECT table_name FROM gpkg_contents WHERE table_name = ? OR identifier = ?`, table, layer)
		if err != nil {
			return eris.Wrap(err, "project: find existing layer")
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close() //nolint:errcheck,gosec
				return eris.Wrap(err, "project: scan existing layer")
			}
			stale = append(stale, name)
		}
		rows.Close() //nolint:errcheck,gosec
		if !slices.Contains(stale, table) {
			stale = append(stale, table)
		}

		for _, name := range stale {
			if _, err := tx.ExecContext(ctx, `DELETE FROM gpkg_geometry_columns WHERE table_name = ?`, name); err != nil {
				return eris.Wrapf(err, "project: drop geometry column row for %s", name)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM gpkg_contents WHERE table_name = ?`, name); err != nil {
				return eris.Wrapf(err, "project: drop contents row for %s", name)
			}
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
				return eris.Wrapf(err, "project: drop table %s", name)
			}
		}

		create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
		if _, err := tx.ExecContext(ctx, create); err != nil {
			return eris.Wrapf(err, "project: create table %s", table)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO gpkg_contents (table_name, data_type, identifier, description, last_change, srs_id)
			VALUES (?, 'features', ?, ?, ?, ?)`,
			table, layer, layer, time.Now().UTC().Format("2006-01-02T15:04:05.000Z"), model.SRIDWGS84,
		); err != nil {
			return eris.Wrapf(err, "project: register %s in gpkg_contents", table)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m)
			VALUES (?, ?, ?, ?, 0, 0)`,
			table, geometryColumn, geomType, model.SRIDWGS84,
		); err != nil {
			return eris.Wrapf(err, "project: register %s in gpkg_geometry_columns", table)
		}

		ext, err := fill(tx)
		if err != nil {
			return err
		}

		args := append(ext.values(), table)
		if _, err := tx.ExecContext(ctx,
			`UPDATE gpkg_contents SET min_x = ?, min_y = ?, max_x = ?, max_y = ? WHERE table_name = ?`,
			args...,
		); err != nil {
			return eris.Wrapf(err, "project: update extent of %s", table)
		}
		return nil
	})
}

// attributeColumns returns the source attribute names in first-seen order
// together with the column names they are stored under.
func attributeColumns(points []model.ClusteredPoint) (src, cols []string) {
	seen := make(map[string]bool)
	used := make(map[string]bool)
	for k := range reserved {
		used[k] = true
	}
	for _, pt := range points {
		for _, c := range pt.Record.Columns {
			if seen[c] {
				continue
			}
			seen[c] = true
			name := c
			for used[strings.ToLower(name)] {
				name += "_src"
			}
			used[strings.ToLower(name)] = true
			src = append(src, c)
			cols = append(cols, name)
		}
	}
	return src, cols
}

// Features decodes every geometry of a layer, in fid order.
func (p *Project) Features(ctx context.Context, layer string) ([]geom.T, error) {
	table := TableName(layer)
	rows, err := p.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s ORDER BY fid", quoteIdent(geometryColumn), quoteIdent(table)))
	if err != nil {
		return nil, failure.NewPersistence(eris.Wrapf(err, "project: read layer %s", layer))
	}
	defer rows.Close() //nolint:errcheck

	var out []geom.T
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, failure.NewPersistence(eris.Wrap(err, "project: scan geometry"))
		}
		g, err := DecodeGeometry(blob)
		if err != nil {
			return nil, failure.NewPersistence(err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, failure.NewPersistence(eris.Wrap(err, "project: iterate geometries"))
	}
	return out, nil
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
