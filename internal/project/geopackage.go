// Package project persists the pipeline layers into a GeoPackage, the
// SQLite-based container QGIS opens natively.
package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/safezone-cli/internal/failure"
	"github.com/sells-group/safezone-cli/internal/model"
)

const (
	// applicationID is "GPKG" as a big-endian int32.
	applicationID = 0x47504B47
	userVersion   = 10300
)

// Project is an open GeoPackage. It is not safe for concurrent use.
type Project struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// Open opens the GeoPackage at path, creating it and its core tables if
// absent. An existing file that is not a GeoPackage is rejected.
func Open(ctx context.Context, path string) (*Project, error) {
	if path == "" {
		return nil, failure.NewPersistence(eris.New("project: empty path"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, failure.NewPersistence(eris.Wrapf(err, "project: resolve %s", path))
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, failure.NewPersistence(eris.Wrap(err, "project: create parent directory"))
	}

	db, err := sql.Open("sqlite", abs)
	if err != nil {
		return nil, failure.NewPersistence(eris.Wrap(err, "project: open"))
	}
	db.SetMaxOpenConns(1)

	p := &Project{db: db, path: abs}
	if err := p.init(ctx); err != nil {
		_ = db.Close()
		return nil, failure.NewPersistence(err)
	}
	return p, nil
}

// OpenReadOnly opens an existing GeoPackage without creating or altering
// anything. Tables this package adds may be absent.
func OpenReadOnly(ctx context.Context, path string) (*Project, error) {
	if path == "" {
		return nil, failure.NewPersistence(eris.New("project: empty path"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, failure.NewPersistence(eris.Wrapf(err, "project: resolve %s", path))
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, failure.NewPersistence(eris.Wrapf(err, "project: stat %s", abs))
	}
	if info.IsDir() {
		return nil, failure.NewPersistence(eris.Errorf("project: %s is a directory", abs))
	}

	dsn := (&url.URL{Scheme: "file", Path: abs, RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, failure.NewPersistence(eris.Wrap(err, "project: open"))
	}
	db.SetMaxOpenConns(1)

	p := &Project{db: db, path: abs, readOnly: true}
	if err := p.check(ctx); err != nil {
		_ = db.Close()
		return nil, failure.NewPersistence(err)
	}
	return p, nil
}

// check confirms a read-only container is a GeoPackage.
func (p *Project) check(ctx context.Context) error {
	var appID int64
	if err := p.db.QueryRowContext(ctx, "PRAGMA application_id").Scan(&appID); err != nil {
		return eris.Wrapf(err, "project: %s is not a readable SQLite container", p.path)
	}
	if appID == applicationID {
		return nil
	}
	ok, err := p.hasTable(ctx, "gpkg_contents")
	if err != nil {
		return err
	}
	if !ok {
		return eris.Errorf("project: %s is not a GeoPackage", p.path)
	}
	return nil
}

func (p *Project) hasTable(ctx context.Context, name string) (bool, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "project: look up table %s", name)
	}
	return n > 0, nil
}

// Path returns the absolute path of the container.
func (p *Project) Path() string { return p.path }

// Close releases the database handle.
func (p *Project) Close() error {
	if err := p.db.Close(); err != nil {
		return failure.NewPersistence(eris.Wrap(err, "project: close"))
	}
	return nil
}

const coreSchema = `
CREATE TABLE IF NOT EXISTS gpkg_spatial_ref_sys (
	srs_name                 TEXT NOT NULL,
	srs_id                   INTEGER NOT NULL PRIMARY KEY,
	organization             TEXT NOT NULL,
	organization_coordsys_id INTEGER NOT NULL,
	definition               TEXT NOT NULL,
	description              TEXT
);

CREATE TABLE IF NOT EXISTS gpkg_contents (
	table_name  TEXT NOT NULL PRIMARY KEY,
	data_type   TEXT NOT NULL,
	identifier  TEXT UNIQUE,
	description TEXT DEFAULT '',
	last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	min_x       DOUBLE,
	min_y       DOUBLE,
	max_x       DOUBLE,
	max_y       DOUBLE,
	srs_id      INTEGER,
	CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);

CREATE TABLE IF NOT EXISTS gpkg_geometry_columns (
	table_name         TEXT NOT NULL,
	column_name        TEXT NOT NULL,
	geometry_type_name TEXT NOT NULL,
	srs_id             INTEGER NOT NULL,
	z                  TINYINT NOT NULL,
	m                  TINYINT NOT NULL,
	CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
	CONSTRAINT uk_gc_table_name UNIQUE (table_name),
	CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
	CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);

INSERT OR IGNORE INTO gpkg_spatial_ref_sys VALUES
	('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', 'undefined cartesian coordinate reference system'),
	('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', 'undefined geographic coordinate reference system'),
	('WGS 84 geodetic', 4326, 'EPSG', 4326,
	 'GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]',
	 'longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid');

CREATE TABLE IF NOT EXISTS safezone_runs (
	id              TEXT PRIMARY KEY,
	boundary_path   TEXT NOT NULL,
	events_path     TEXT NOT NULL,
	cluster_count   INTEGER NOT NULL,
	seed            TEXT NOT NULL,
	buffer_distance DOUBLE NOT NULL,
	buffer_units    TEXT NOT NULL,
	points          INTEGER NOT NULL,
	zones           INTEGER NOT NULL,
	inertia         DOUBLE NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS qgis_projects (
	name     TEXT PRIMARY KEY,
	metadata BLOB,
	content  BLOB
);
`

func (p *Project) init(ctx context.Context) error {
	for _, pragma := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := p.db.ExecContext(ctx, pragma); err != nil {
			return eris.Wrapf(err, "project: exec %s", pragma)
		}
	}

	var appID int64
	if err := p.db.QueryRowContext(ctx, "PRAGMA application_id").Scan(&appID); err != nil {
		return eris.Wrapf(err, "project: %s is not a readable SQLite container", p.path)
	}
	if appID != applicationID {
		var tables int
		if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master").Scan(&tables); err != nil {
			return eris.Wrap(err, "project: inspect schema")
		}
		if tables > 0 {
			return eris.Errorf("project: %s is a SQLite database but not a GeoPackage", p.path)
		}
	}

	if _, err := p.db.ExecContext(ctx, coreSchema); err != nil {
		return eris.Wrap(err, "project: create core tables")
	}
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf("PRAGMA application_id = %d", applicationID)); err != nil {
		return eris.Wrap(err, "project: set application_id")
	}
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", userVersion)); err != nil {
		return eris.Wrap(err, "project: set user_version")
	}
	return nil
}

// LayerInfo describes one feature layer in the container.
type LayerInfo struct {
	Table        string
	Identifier   string
	GeometryType string
	Features     int
	MinX, MinY   float64
	MaxX, MaxY   float64
	LastChange   string
}

// Layers lists the feature layers, ordered by table name.
func (p *Project) Layers(ctx context.Context) ([]LayerInfo, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT c.table_name, COALESCE(c.identifier, c.table_name), g.geometry_type_name,
		       COALESCE(c.min_x, 0), COALESCE(c.min_y, 0), COALESCE(c.max_x, 0), COALESCE(c.max_y, 0),
		       c.last_change
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name`)
	if err != nil {
		return nil, failure.NewPersistence(eris.Wrap(err, "project: list layers"))
	}
	defer rows.Close() //nolint:errcheck

	var layers []LayerInfo
	for rows.Next() {
		var l LayerInfo
		if err := rows.Scan(&l.Table, &l.Identifier, &l.GeometryType, &l.MinX, &l.MinY, &l.MaxX, &l.MaxY, &l.LastChange); err != nil {
			return nil, failure.NewPersistence(eris.Wrap(err, "project: scan layer"))
		}
		layers = append(layers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, failure.NewPersistence(eris.Wrap(err, "project: iterate layers"))
	}

	for i := range layers {
		q := "SELECT COUNT(*) FROM " + quoteIdent(layers[i].Table)
		if err := p.db.QueryRowContext(ctx, q).Scan(&layers[i].Features); err != nil {
			return nil, failure.NewPersistence(eris.Wrapf(err, "project: count %s", layers[i].Table))
		}
	}
	return layers, nil
}

// RecordRun appends the run to safezone_runs, assigning an ID if needed.
func (p *Project) RecordRun(ctx context.Context, run *model.Run) error {
	if p.readOnly {
		return failure.NewPersistence(eris.New("project: cannot record run in a read-only container"))
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO safezone_runs (id, boundary_path, events_path, cluster_count, seed,
			buffer_distance, buffer_units, points, zones, inertia, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.BoundaryPath, run.EventsPath, run.ClusterCount, formatSeed(run.Seed),
		run.BufferDistance, run.BufferUnits, run.Points, run.Zones, run.Inertia,
		run.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return failure.NewPersistence(eris.Wrap(err, "project: insert run"))
	}
	return nil
}

// Runs returns the recorded runs, oldest first.
func (p *Project) Runs(ctx context.Context) ([]model.Run, error) {
	if ok, err := p.hasTable(ctx, "safezone_runs"); err != nil || !ok {
		return nil, failure.NewPersistence(err)
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, boundary_path, events_path, cluster_count, seed, buffer_distance,
		       buffer_units, points, zones, inertia, created_at
		FROM safezone_runs ORDER BY created_at, id`)
	if err != nil {
		return nil, failure.NewPersistence(eris.Wrap(err, "project: list runs"))
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		var (
			r       model.Run
			seed    string
			created string
		)
		if err := rows.Scan(&r.ID, &r.BoundaryPath, &r.EventsPath, &r.ClusterCount, &seed,
			&r.BufferDistance, &r.BufferUnits, &r.Points, &r.Zones, &r.Inertia, &created); err != nil {
			return nil, failure.NewPersistence(eris.Wrap(err, "project: scan run"))
		}
		r.Seed = parseSeed(seed)
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = t
		} else {
			zap.L().Debug("project: unparseable run timestamp", zap.String("id", r.ID), zap.String("value", created))
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "project: iterate runs")
}

// withTx runs fn inside a transaction and commits it.
func (p *Project) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	if p.readOnly {
		return eris.New("project: container opened read-only")
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "project: begin transaction")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			zap.L().Warn("project: rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return eris.Wrap(tx.Commit(), "project: commit")
}

var nonIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// TableName derives the SQLite table name for a display layer name.
func TableName(layer string) string {
	t := nonIdent.ReplaceAllString(strings.ToLower(strings.TrimSpace(layer)), "_")
	t = strings.Trim(t, "_")
	if t == "" {
		t = "layer"
	}
	if t[0] >= '0' && t[0] <= '9' {
		t = "l_" + t
	}
	if strings.HasPrefix(t, "gpkg_") || strings.HasPrefix(t, "sqlite_") {
		t = "l_" + t
	}
	return t
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
