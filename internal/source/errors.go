package source

import "fmt"

// SchemaLookupError indicates a table's catalog metadata could not be read:
// the table does not exist or the catalog is unreachable. It is fatal for
// that table's classification but never aborts the run.
type SchemaLookupError struct {
	Table string
	Err   error
}

func (e *SchemaLookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema lookup for %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("schema lookup for %s: table not found", e.Table)
}

func (e *SchemaLookupError) Unwrap() error { return e.Err }
