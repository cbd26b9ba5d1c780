// Package typemap converts source column types to their warehouse
// equivalents when destination tables are created on first load.
package typemap

import (
	"fmt"
	"strings"
)

// MySQLToSnowflake converts a MySQL data type to its Snowflake equivalent.
// dataType is information_schema DATA_TYPE; columnType is the full
// COLUMN_TYPE (carries length, precision and the tinyint(1) boolean
// convention).
func MySQLToSnowflake(dataType, columnType string) string {
	dataType = strings.ToLower(dataType)
	columnType = strings.ToLower(columnType)

	switch dataType {
	// Integer types. Snowflake stores them all as NUMBER(38,0); the only
	// distinction worth keeping is the tinyint(1) boolean convention.
	case "tinyint":
		if strings.HasPrefix(columnType, "tinyint(1)") {
			return "BOOLEAN"
		}
		return "NUMBER(38,0)"
	case "smallint", "mediumint", "int", "integer", "bigint":
		return "NUMBER(38,0)"

	case "decimal", "numeric":
		if p, s, ok := precisionScale(columnType); ok {
			return fmt.Sprintf("NUMBER(%d,%d)", p, s)
		}
		return "NUMBER(38,0)"

	case "float", "double", "real":
		return "FLOAT"

	case "char", "varchar":
		if n, ok := length(columnType); ok {
			return fmt.Sprintf("VARCHAR(%d)", n)
		}
		return "VARCHAR"
	case "tinytext", "text", "mediumtext", "longtext", "enum", "set":
		return "VARCHAR"

	case "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob":
		return "BINARY"

	case "date":
		return "DATE"
	case "time":
		return "TIME"
	case "datetime", "timestamp":
		return "TIMESTAMP_NTZ"
	case "year":
		return "NUMBER(4,0)"

	case "json":
		return "VARIANT"

	default:
		return "VARCHAR"
	}
}

// precisionScale parses "(p,s)" out of a column type like "decimal(10,2)".
func precisionScale(columnType string) (precision, scale int, ok bool) {
	open := strings.IndexByte(columnType, '(')
	close := strings.IndexByte(columnType, ')')
	if open < 0 || close <= open {
		return 0, 0, false
	}
	if n, err := fmt.Sscanf(columnType[open:close+1], "(%d,%d)", &precision, &scale); err == nil && n == 2 {
		return precision, scale, true
	}
	if n, err := fmt.Sscanf(columnType[open:close+1], "(%d)", &precision); err == nil && n == 1 {
		return precision, 0, true
	}
	return 0, 0, false
}

// length parses "(n)" out of a column type like "varchar(64)".
func length(columnType string) (int, bool) {
	var n int
	open := strings.IndexByte(columnType, '(')
	close := strings.IndexByte(columnType, ')')
	if open < 0 || close <= open {
		return 0, false
	}
	if c, err := fmt.Sscanf(columnType[open:close+1], "(%d)", &n); err == nil && c == 1 {
		return n, true
	}
	return 0, false
}
