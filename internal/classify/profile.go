// Package classify inspects source table schemas and decides a loading
// strategy per table: whether a table can be loaded incrementally and which
// column should drive the incremental watermark.
package classify

import (
	"context"
	"strings"

	"github.com/xerdata/dwhsync/internal/source"
)

// DetectionMethod records how a timestamp column was identified.
type DetectionMethod string

const (
	// DetectedByType means the declared column type is date/time-like.
	DetectedByType DetectionMethod = "type"
	// DetectedByName means the column name matched a known naming pattern.
	DetectedByName DetectionMethod = "name_pattern"
)

// timestampDataTypes are the declared types that qualify a column as a
// timestamp candidate regardless of its name.
var timestampDataTypes = map[string]bool{
	"timestamp": true,
	"datetime":  true,
	"date":      true,
}

// timestampNamePatterns qualify a column by name when its declared type does
// not. Case-insensitive substring match.
var timestampNamePatterns = []string{
	"created_at", "updated_at", "modified_at", "last_modified", "last_update",
	"created_date", "updated_date", "modification_date", "modify_date",
	"fecha_modificacion", "fecha_creacion", "fecha_actualizacion",
	"timestamp", "date_created", "date_modified", "date_updated",
	"create_time", "update_time", "mod_time", "change_date",
	"insert_date", "insert_time", "changed_on", "modified_on",
}

// TimestampColumn is a column that may serve as an incremental watermark.
type TimestampColumn struct {
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Nullable       bool            `json:"nullable"`
	Default        string          `json:"default,omitempty"`
	Detection      DetectionMethod `json:"detection_method"`
	MatchedPattern string          `json:"matched_pattern,omitempty"`
}

// TableProfile is the classification input for one source table. It is
// recomputed on every run; profiling is cheap next to extraction.
type TableProfile struct {
	Name                 string            `json:"table_name"`
	RowCount             int64             `json:"row_count"`
	PrimaryKeyColumns    []string          `json:"primary_key_columns"`
	TimestampColumns     []TimestampColumn `json:"timestamp_columns"`
	AutoIncrementColumns []string          `json:"auto_increment_columns"`
}

// Catalog provides table metadata lookups. Satisfied by source.Pool.
type Catalog interface {
	DescribeTable(ctx context.Context, name string) (*source.Table, error)
}

// Classifier turns catalog metadata into TableProfiles and LoadingDecisions.
type Classifier struct {
	catalog Catalog
}

// New creates a Classifier backed by the given catalog.
func New(catalog Catalog) *Classifier {
	return &Classifier{catalog: catalog}
}

// Classify loads a table's metadata and builds its profile. Catalog failures
// surface unchanged (a source.SchemaLookupError); they are never converted
// into an empty profile.
func (c *Classifier) Classify(ctx context.Context, tableName string) (*TableProfile, error) {
	t, err := c.catalog.DescribeTable(ctx, tableName)
	if err != nil {
		return nil, err
	}
	return BuildProfile(t), nil
}

// BuildProfile derives a TableProfile from catalog metadata. Pure function;
// split out from Classify so it can be tested without a catalog.
func BuildProfile(t *source.Table) *TableProfile {
	p := &TableProfile{
		Name:              t.Name,
		RowCount:          t.RowCount,
		PrimaryKeyColumns: append([]string(nil), t.PrimaryKey...),
	}

	for _, col := range t.Columns {
		if col.IsAutoIncrement() {
			p.AutoIncrementColumns = append(p.AutoIncrementColumns, col.Name)
		}

		// Type-based detection first: it is the more reliable signal, and
		// recording it first means a later name-pattern match on the same
		// column is dropped by the dedup below.
		if timestampDataTypes[strings.ToLower(col.DataType)] {
			p.TimestampColumns = append(p.TimestampColumns, TimestampColumn{
				Name:      col.Name,
				Type:      col.ColumnType,
				Nullable:  col.IsNullable,
				Default:   col.Default,
				Detection: DetectedByType,
			})
			continue
		}

		lower := strings.ToLower(col.Name)
		for _, pattern := range timestampNamePatterns {
			if strings.Contains(lower, pattern) {
				if !p.hasTimestampColumn(col.Name) {
					p.TimestampColumns = append(p.TimestampColumns, TimestampColumn{
						Name:           col.Name,
						Type:           col.ColumnType,
						Nullable:       col.IsNullable,
						Default:        col.Default,
						Detection:      DetectedByName,
						MatchedPattern: pattern,
					})
				}
				break
			}
		}
	}

	return p
}

func (p *TableProfile) hasTimestampColumn(name string) bool {
	for _, tc := range p.TimestampColumns {
		if tc.Name == name {
			return true
		}
	}
	return false
}
