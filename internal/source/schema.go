package source

import "strings"

// Table represents a source table's catalog metadata.
type Table struct {
	Schema     string   `json:"schema"`
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	PrimaryKey []string `json:"primary_key"`
	RowCount   int64    `json:"row_count"`
}

// ColumnNames returns the ordered column names.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column represents a table column's catalog metadata.
type Column struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`   // base type, e.g. "datetime"
	ColumnType string `json:"column_type"` // full declared type, e.g. "datetime(6)"
	IsNullable bool   `json:"is_nullable"`
	Default    string `json:"default"`
	Key        string `json:"key"`   // PRI, UNI, MUL or empty
	Extra      string `json:"extra"` // e.g. "auto_increment"
	OrdinalPos int    `json:"ordinal_position"`
}

// IsAutoIncrement reports whether the column auto-generates sequential ids.
func (c *Column) IsAutoIncrement() bool {
	return strings.Contains(strings.ToLower(c.Extra), "auto_increment")
}
