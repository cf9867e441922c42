// Package points turns event rows into WGS84 point records.
package points

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/sells-group/safezone-cli/internal/failure"
	"github.com/sells-group/safezone-cli/internal/model"
)

// RowPolicy decides what happens to rows that fail validation.
type RowPolicy string

const (
	// Strict rejects the whole collection on the first bad row.
	Strict RowPolicy = "strict"
	// Skip drops bad rows and keeps the rest.
	Skip RowPolicy = "skip"
)

// Options configures Build.
type Options struct {
	LongitudeColumn string
	LatitudeColumn  string
	Policy          RowPolicy
}

// DefaultOptions matches the column names of the landslide catalogue.
func DefaultOptions() Options {
	return Options{LongitudeColumn: "longitude", LatitudeColumn: "latitude", Policy: Strict}
}

// RowError describes one rejected row.
type RowError struct {
	Row    int
	Column string
	Value  string
	Reason string
}

func (e RowError) Error() string {
	return "row " + strconv.Itoa(e.Row) + ": column " + strconv.Quote(e.Column) + " " + e.Reason
}

// Result is the output of Build. Rejected is only populated under Skip.
type Result struct {
	Points   []model.GeoPoint
	Rejected []RowError
}

// Build converts records into GeoPoints with EPSG:4326 geometry whose
// coordinates are exactly the parsed longitude/latitude values.
func Build(records []model.EventRecord, opts Options) (Result, error) {
	if opts.LongitudeColumn == "" {
		opts.LongitudeColumn = "longitude"
	}
	if opts.LatitudeColumn == "" {
		opts.LatitudeColumn = "latitude"
	}
	if opts.Policy == "" {
		opts.Policy = Strict
	}

	var res Result
	if len(records) == 0 {
		return res, nil
	}

	lonCol, latCol, err := resolveColumns(records[0].Columns, opts)
	if err != nil {
		return res, failure.NewSchema(err)
	}

	res.Points = make([]model.GeoPoint, 0, len(records))
	for _, rec := range records {
		lon, lat, rowErr := parseRow(rec, lonCol, latCol)
		if rowErr != nil {
			if opts.Policy == Strict {
				return Result{}, failure.NewSchema(eris.Wrap(rowErr, "points: invalid row"))
			}
			zap.L().Warn("points: skipping invalid row",
				zap.Int("row", rowErr.Row),
				zap.String("column", rowErr.Column),
				zap.String("value", rowErr.Value),
				zap.String("reason", rowErr.Reason),
			)
			res.Rejected = append(res.Rejected, *rowErr)
			continue
		}
		res.Points = append(res.Points, model.NewGeoPoint(rec, lon, lat))
	}

	if len(res.Points) == 0 && len(res.Rejected) > 0 {
		return res, failure.NewSchema(eris.Errorf("points: all %d rows rejected, first: %v", len(res.Rejected), res.Rejected[0]))
	}

	return res, nil
}

// resolveColumns finds the configured columns in the header, ignoring case.
func resolveColumns(columns []string, opts Options) (string, string, error) {
	fold := cases.Fold()
	byFolded := make(map[string]string, len(columns))
	for _, c := range columns {
		key := fold.String(strings.TrimSpace(c))
		if _, ok := byFolded[key]; !ok {
			byFolded[key] = c
		}
	}

	lon, ok := byFolded[fold.String(opts.LongitudeColumn)]
	if !ok {
		return "", "", eris.Errorf("points: missing required column %q", opts.LongitudeColumn)
	}
	lat, ok := byFolded[fold.String(opts.LatitudeColumn)]
	if !ok {
		return "", "", eris.Errorf("points: missing required column %q", opts.LatitudeColumn)
	}
	return lon, lat, nil
}

func parseRow(rec model.EventRecord, lonCol, latCol string) (float64, float64, *RowError) {
	lon, err := parseCoord(rec, lonCol, 180)
	if err != nil {
		return 0, 0, err
	}
	lat, err := parseCoord(rec, latCol, 90)
	if err != nil {
		return 0, 0, err
	}
	return lon, lat, nil
}

func parseCoord(rec model.EventRecord, col string, limit float64) (float64, *RowError) {
	raw, ok := rec.Get(col)
	if !ok {
		return 0, &RowError{Row: rec.Row, Column: col, Reason: "is missing"}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, &RowError{Row: rec.Row, Column: col, Reason: "is empty"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &RowError{Row: rec.Row, Column: col, Value: raw, Reason: "is not a finite number"}
	}
	if math.Abs(v) > limit {
		return 0, &RowError{Row: rec.Row, Column: col, Value: raw, Reason: "is out of range"}
	}
	return v, nil
}
