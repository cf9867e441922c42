package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/safezone-cli/internal/failure"
	"github.com/sells-group/safezone-cli/internal/fetcher"
	"github.com/sells-group/safezone-cli/internal/model"
)

// EventOptions configures how the event table is read.
type EventOptions struct {
	Delimiter rune   // overrides the extension default
	Sheet     string // XLSX sheet name; first sheet when empty
}

// LoadEvents reads a delimited text or XLSX table. The first row is the
// header. Column presence is not checked here.
func LoadEvents(ctx context.Context, path string, opts EventOptions) ([]model.EventRecord, error) {
	if err := checkReadable(path); err != nil {
		return nil, err
	}

	var (
		rows [][]string
		err  error
	)

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".txt", ".tsv":
		delim := opts.Delimiter
		if delim == 0 {
			delim = ','
			if ext == ".tsv" {
				delim = '\t'
			}
		}
		rows, err = fetcher.ReadCSVFile(ctx, path, fetcher.CSVOptions{
			Delimiter:  delim,
			LazyQuotes: true,
			TrimSpace:  true,
		})
	case ".xlsx":
		rows, err = fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: opts.Sheet})
	default:
		return nil, failure.NewFileAccess(eris.Errorf("loader: unrecognized event table format %q", filepath.Ext(path)))
	}
	if err != nil {
		return nil, failure.NewFileAccess(eris.Wrapf(err, "loader: read %s", path))
	}

	records := toRecords(rows)
	zap.L().Debug("loader: read event table",
		zap.String("path", path),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// toRecords turns header + data rows into records. Blank header cells get a
// positional name and duplicate names keep their first column.
func toRecords(rows [][]string) []model.EventRecord {
	if len(rows) == 0 {
		return nil
	}

	header := make([]string, len(rows[0]))
	seen := make(map[string]bool, len(header))
	for i, h := range rows[0] {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		if seen[h] {
			h = ""
		} else {
			seen[h] = true
		}
		header[i] = h
	}

	columns := make([]string, 0, len(header))
	for _, h := range header {
		if h != "" {
			columns = append(columns, h)
		}
	}

	records := make([]model.EventRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		values := make(map[string]string, len(columns))
		for j, h := range header {
			if h == "" {
				continue
			}
			if j < len(row) {
				values[h] = row[j]
			} else {
				values[h] = ""
			}
		}
		records = append(records, model.EventRecord{
			Row:     i + 1,
			Columns: columns,
			Values:  values,
		})
	}
	return records
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
