package points

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/safezone-cli/internal/failure"
	"github.com/sells-group/safezone-cli/internal/model"
)

func records(columns []string, rows ...[]string) []model.EventRecord {
	out := make([]model.EventRecord, 0, len(rows))
	for i, row := range rows {
		values := make(map[string]string, len(columns))
		for j, c := range columns {
			if j < len(row) {
				values[c] = row[j]
			}
		}
		out = append(out, model.EventRecord{Row: i + 1, Columns: columns, Values: values})
	}
	return out
}

func TestBuild_CoordinatesMirrorSource(t *testing.T) {
	recs := records([]string{"id", "longitude", "latitude"},
		[]string{"a", "77.1", "28.6"},
		[]string{"b", "77.2", "28.7"},
		[]string{"c", "72.8", "19.0"},
		[]string{"d", "-0.000001", "-89.999999"},
	)

	res, err := Build(recs, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Points, 4)
	assert.Empty(t, res.Rejected)

	want := [][2]float64{{77.1, 28.6}, {77.2, 28.7}, {72.8, 19.0}, {-0.000001, -89.999999}}
	for i, p := range res.Points {
		assert.Equal(t, want[i][0], p.Lon)
		assert.Equal(t, want[i][1], p.Lat)
		assert.Equal(t, p.Lon, p.Geometry.X(), "x must equal longitude")
		assert.Equal(t, p.Lat, p.Geometry.Y(), "y must equal latitude")
		assert.Equal(t, model.SRIDWGS84, p.Geometry.SRID())
		assert.Equal(t, recs[i].Values["id"], p.Record.Values["id"])
	}
}

func TestBuild_Empty(t *testing.T) {
	res, err := Build(nil, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, res.Points)
	assert.Empty(t, res.Rejected)
}

func TestBuild_CaseInsensitiveColumns(t *testing.T) {
	recs := records([]string{"Longitude", "LATITUDE"}, []string{"77.1", "28.6"})

	res, err := Build(recs, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Points, 1)
	assert.Equal(t, 77.1, res.Points[0].Lon)
}

func TestBuild_CustomColumns(t *testing.T) {
	recs := records([]string{"lon", "lat"}, []string{"77.1", "28.6"})

	res, err := Build(recs, Options{LongitudeColumn: "lon", LatitudeColumn: "lat"})
	require.NoError(t, err)
	require.Len(t, res.Points, 1)
	assert.Equal(t, 28.6, res.Points[0].Lat)
}

func TestBuild_MissingColumn(t *testing.T) {
	for _, policy := range []RowPolicy{Strict, Skip} {
		t.Run(string(policy), func(t *testing.T) {
			recs := records([]string{"longitude", "lat"}, []string{"77.1", "28.6"})
			_, err := Build(recs, Options{Policy: policy})
			require.Error(t, err)
			assert.True(t, failure.Is(err, failure.Schema))
			assert.Contains(t, err.Error(), `missing required column "latitude"`)
		})
	}
}

func TestBuild_StrictRejectsWholeCollection(t *testing.T) {
	tests := []struct {
		name    string
		lon     string
		lat     string
		wantMsg string
	}{
		{"non-numeric", "77.1", "north", "is not a finite number"},
		{"empty", "", "28.6", "is empty"},
		{"nan", "NaN", "28.6", "is not a finite number"},
		{"infinite", "77.1", "+Inf", "is not a finite number"},
		{"longitude out of range", "181", "28.6", "is out of range"},
		{"latitude out of range", "77.1", "-90.5", "is out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := records([]string{"longitude", "latitude"},
				[]string{"72.8", "19.0"},
				[]string{tt.lon, tt.lat},
			)
			res, err := Build(recs, DefaultOptions())
			require.Error(t, err)
			assert.True(t, failure.Is(err, failure.Schema))
			assert.Contains(t, err.Error(), "row 2")
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Empty(t, res.Points, "strict policy must not return partial output")
		})
	}
}

func TestBuild_SkipKeepsValidRows(t *testing.T) {
	recs := records([]string{"longitude", "latitude"},
		[]string{"77.1", "28.6"},
		[]string{"bad", "28.7"},
		[]string{"72.8", ""},
		[]string{"72.9", "19.1"},
	)

	res, err := Build(recs, Options{Policy: Skip})
	require.NoError(t, err)
	require.Len(t, res.Points, 2)
	require.Len(t, res.Rejected, 2)

	assert.Equal(t, 1, res.Points[0].Record.Row)
	assert.Equal(t, 4, res.Points[1].Record.Row)
	assert.Equal(t, 2, res.Rejected[0].Row)
	assert.Equal(t, "longitude", res.Rejected[0].Column)
	assert.Equal(t, "bad", res.Rejected[0].Value)
	assert.Equal(t, 3, res.Rejected[1].Row)
	assert.Equal(t, "latitude", res.Rejected[1].Column)
}

func TestBuild_SkipAllRejected(t *testing.T) {
	recs := records([]string{"longitude", "latitude"}, []string{"x", "y"})

	res, err := Build(recs, Options{Policy: Skip})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.Schema))
	assert.Len(t, res.Rejected, 1)
}

func TestBuild_MissingValueInShortRow(t *testing.T) {
	recs := records([]string{"longitude", "latitude"}, []string{"77.1"})

	_, err := Build(recs, DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is missing")
}

func TestRowError_Error(t *testing.T) {
	e := RowError{Row: 7, Column: "latitude", Value: "x", Reason: "is not a finite number"}
	assert.Equal(t, `row 7: column "latitude" is not a finite number`, e.Error())
}
