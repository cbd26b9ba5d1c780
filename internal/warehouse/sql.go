package warehouse

import (
	"fmt"
	"strings"
)

// ColumnSpec is one destination column.
type ColumnSpec struct {
	Name string
	Type string
}

// TableSpec describes a destination table: columns in source order plus the
// metadata the strategy SQL needs.
type TableSpec struct {
	Name       string
	Columns    []ColumnSpec
	PrimaryKey []string

	// EventTimestamp is the column whose date clusters the destination and
	// bounds replace-partition deletes.
	EventTimestamp string
	ClusterBy      []string
}

func (s TableSpec) columnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// nonKeyColumns returns the columns outside the primary key, in order.
func (s TableSpec) nonKeyColumns() []string {
	keys := make(map[string]bool, len(s.PrimaryKey))
	for _, k := range s.PrimaryKey {
		keys[strings.ToLower(k)] = true
	}
	var cols []string
	for _, c := range s.Columns {
		if !keys[strings.ToLower(c.Name)] {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}

// BuildCreateTable renders the idempotent destination DDL. Clustering uses
// the event timestamp's date when one is known, so partition-shaped queries
// and replace-partition deletes prune well.
func BuildCreateTable(s TableSpec) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (", quoteIdent(s.Name))
	for i, c := range s.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s %s", quoteIdent(c.Name), c.Type)
	}
	if len(s.PrimaryKey) > 0 {
		fmt.Fprintf(&sb, ", PRIMARY KEY (%s)", strings.Join(quoteAll(s.PrimaryKey), ", "))
	}
	sb.WriteString(")")

	switch {
	case len(s.ClusterBy) > 0:
		fmt.Fprintf(&sb, " CLUSTER BY (%s)", strings.Join(quoteAll(s.ClusterBy), ", "))
	case s.EventTimestamp != "":
		fmt.Fprintf(&sb, " CLUSTER BY (TO_DATE(%s))", quoteIdent(s.EventTimestamp))
	}
	return sb.String()
}

// BuildCreateStagingTable renders the per-load scratch table. CREATE OR
// REPLACE because a crashed load may have left one behind on this session's
// name.
func BuildCreateStagingTable(staging, target string) string {
	return fmt.Sprintf("CREATE OR REPLACE TEMPORARY TABLE %s LIKE %s",
		quoteIdent(staging), quoteIdent(target))
}

// BuildCopyInto renders the COPY from the external stage into a table. The
// CSV options mirror how spool files are written: header row, quoted
// fields, empty field means NULL, gzip.
func BuildCopyInto(table, stageName, artifactKey string) string {
	return fmt.Sprintf("COPY INTO %s FROM '@%s/%s'"+
		" FILE_FORMAT = (TYPE = CSV SKIP_HEADER = 1 FIELD_OPTIONALLY_ENCLOSED_BY = '\"'"+
		" EMPTY_FIELD_AS_NULL = TRUE COMPRESSION = GZIP)",
		quoteIdent(table), stageName, artifactKey)
}

// BuildMerge renders the upsert from staging into the destination: matched
// rows overwritten column by column, unmatched rows inserted.
func BuildMerge(s TableSpec, staging string) string {
	pk := quoteAll(s.PrimaryKey)
	all := quoteAll(s.columnNames())
	other := quoteAll(s.nonKeyColumns())

	onParts := make([]string, len(pk))
	for i, k := range pk {
		onParts[i] = fmt.Sprintf("a.%s = b.%s", k, k)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "MERGE INTO %s a USING (SELECT %s FROM %s) b ON %s",
		quoteIdent(s.Name), strings.Join(all, ", "), quoteIdent(staging),
		strings.Join(onParts, " AND "))

	if len(other) > 0 {
		setParts := make([]string, len(other))
		for i, c := range other {
			setParts[i] = fmt.Sprintf("a.%s = b.%s", c, c)
		}
		fmt.Fprintf(&sb, " WHEN MATCHED THEN UPDATE SET %s", strings.Join(setParts, ", "))
	}

	insertVals := make([]string, len(all))
	for i, c := range all {
		insertVals[i] = "b." + c
	}
	fmt.Fprintf(&sb, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
		strings.Join(all, ", "), strings.Join(insertVals, ", "))
	return sb.String()
}

// BuildReplacePartitionDelete renders the delete of every partition day
// present in the staged batch.
func BuildReplacePartitionDelete(s TableSpec, staging string) string {
	col := quoteIdent(s.EventTimestamp)
	return fmt.Sprintf("DELETE FROM %s WHERE TO_DATE(%s) IN (SELECT DISTINCT TO_DATE(%s) FROM %s)",
		quoteIdent(s.Name), col, col, quoteIdent(staging))
}

// BuildReplacePartitionInsert renders the insert that follows the delete.
func BuildReplacePartitionInsert(s TableSpec, staging string) string {
	cols := strings.Join(quoteAll(s.columnNames()), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		quoteIdent(s.Name), cols, cols, quoteIdent(staging))
}

// BuildTruncate renders the full-replace pre-load truncate.
func BuildTruncate(table string) string {
	return fmt.Sprintf("TRUNCATE TABLE IF EXISTS %s", quoteIdent(table))
}
