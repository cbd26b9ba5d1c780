package extract

import "fmt"

// ExtractionError marks a failure while pulling a table's rows from the
// source. The orchestrator uses it to attribute the failure to the extract
// phase in run reports.
type ExtractionError struct {
	Table string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s: %v", e.Table, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
