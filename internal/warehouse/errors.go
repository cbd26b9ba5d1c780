package warehouse

import "fmt"

// IngestionError marks a failure while loading a staged artifact into the
// warehouse. One table's ingestion failure never aborts its siblings; the
// orchestrator records it and moves on.
type IngestionError struct {
	Table string
	Err   error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingesting %s: %v", e.Table, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}
