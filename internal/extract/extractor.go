// Package extract pulls table rows from the source into compressed CSV
// spool files, one file per table per run. Spool files are handed to the
// stage uploader and deleted after a successful upload.
package extract

import (
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xerdata/dwhsync/internal/logging"
	"github.com/xerdata/dwhsync/internal/plan"
	"github.com/xerdata/dwhsync/internal/source"
)

// Result describes one completed extraction.
type Result struct {
	Table     string
	Mode      plan.Mode
	Rows      int64
	SpoolPath string

	// MaxWatermark is the highest watermark-column value observed, in its
	// textual form. Empty for full extractions of tables without a
	// watermark column, or when no rows matched.
	MaxWatermark string

	Elapsed time.Duration
}

// Extractor runs directives against the source pool.
type Extractor struct {
	db       *sql.DB
	spoolDir string
}

// NewExtractor creates an Extractor that writes spool files under spoolDir.
func NewExtractor(db *sql.DB, spoolDir string) *Extractor {
	return &Extractor{db: db, spoolDir: spoolDir}
}

// Extract runs one directive and spools the result. The CSV carries a header
// row with the source column names; NULLs are written as empty fields and
// the warehouse copy declares them back to NULL.
func (e *Extractor) Extract(ctx context.Context, t *source.Table, d plan.Directive) (*Result, error) {
	start := time.Now()

	query, args := BuildQuery(t, d)
	logging.Debug("extract %s: %s", t.Name, query)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ExtractionError{Table: t.Name, Err: err}
	}
	defer rows.Close()

	if err := os.MkdirAll(e.spoolDir, 0o755); err != nil {
		return nil, &ExtractionError{Table: t.Name, Err: err}
	}
	path := filepath.Join(e.spoolDir, fmt.Sprintf("%s_%s_%s.csv.gz",
		t.Name, d.Mode, start.UTC().Format("20060102T150405Z")))

	f, err := os.Create(path)
	if err != nil {
		return nil, &ExtractionError{Table: t.Name, Err: err}
	}

	res, err := e.spool(ctx, rows, f, t, d)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, &ExtractionError{Table: t.Name, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, &ExtractionError{Table: t.Name, Err: err}
	}

	res.Table = t.Name
	res.Mode = d.Mode
	res.SpoolPath = path
	res.Elapsed = time.Since(start)
	logging.Info("Extracted %s: %d rows (%s) in %v", t.Name, res.Rows, d.Mode, res.Elapsed.Round(time.Millisecond))
	return res, nil
}

func (e *Extractor) spool(ctx context.Context, rows *sql.Rows, f *os.File, t *source.Table, d plan.Directive) (*Result, error) {
	gz := gzip.NewWriter(f)
	w := csv.NewWriter(gz)

	names := t.ColumnNames()
	if err := w.Write(names); err != nil {
		return nil, err
	}

	// Track the watermark column's maximum on full directives too, so a
	// baseline extraction seeds the store for the next run.
	wmIdx := -1
	if d.WatermarkColumn != "" {
		for i, name := range names {
			if strings.EqualFold(name, d.WatermarkColumn) {
				wmIdx = i
				break
			}
		}
	}

	res := &Result{}
	values := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range values {
		ptrs[i] = &values[i]
	}
	record := make([]string, len(names))

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			record[i] = FormatValue(v)
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
		if wmIdx >= 0 && record[wmIdx] > res.MaxWatermark {
			res.MaxWatermark = record[wmIdx]
		}
		res.Rows++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return res, gz.Close()
}

// FormatValue renders one scanned value for the CSV spool. NULL becomes the
// empty field; byte slices are the driver's textual form; times use the
// source's DATETIME layout so watermark comparisons stay lexicographic.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	case bool:
		if x {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", x)
	}
}
