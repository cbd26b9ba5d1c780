package classify

import (
	"fmt"
	"strings"
)

// Strategy is the loading strategy derived from a table's score.
type Strategy string

const (
	FullReplace            Strategy = "FULL_REPLACE"
	IncrementalPreferred   Strategy = "INCREMENTAL_PREFERRED"
	IncrementalPossible    Strategy = "INCREMENTAL_POSSIBLE"
	IncrementalChallenging Strategy = "INCREMENTAL_CHALLENGING"
)

// Confidence labels how certain the scorer is about its strategy choice.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
)

// LoadingDecision is the scorer's output for one table. Rationale is kept for
// audit output only; nothing downstream branches on it.
type LoadingDecision struct {
	Strategy        Strategy   `json:"strategy"`
	Confidence      Confidence `json:"confidence"`
	Score           int        `json:"score"`
	WatermarkColumn string     `json:"watermark_column,omitempty"`
	Rationale       []string   `json:"rationale"`
}

// Watermark column name priorities: modification beats creation beats
// whatever timestamp column comes first.
var (
	modificationKeywords = []string{"updated", "modified", "last_modified", "update_time"}
	creationKeywords     = []string{"created", "insert", "create_time"}
)

// Table-name heuristics. Independent checks; more than one may apply.
var (
	lookupTableKeywords        = []string{"config", "tipos", "estados", "categorias"}
	historicalTableKeywords    = []string{"his", "hist", "log", "audit"}
	transactionalTableKeywords = []string{"fac", "alb", "ped", "mov"}
)

// Strategy thresholds on the accumulated score.
const (
	scorePreferred   = 70
	scorePossible    = 40
	scoreChallenging = 20
)

// Score produces the LoadingDecision for a profile. The point system is
// deterministic: same profile and table name, same decision.
func Score(p *TableProfile) LoadingDecision {
	var d LoadingDecision

	if len(p.TimestampColumns) > 0 {
		d.Score += 50
		d.Rationale = append(d.Rationale, fmt.Sprintf("found %d timestamp column(s)", len(p.TimestampColumns)))

		// Search in priority order. The first matching column wins so the
		// choice does not depend on anything but declared column order.
		for _, tc := range p.TimestampColumns {
			if matchesAny(tc.Name, modificationKeywords) {
				d.WatermarkColumn = tc.Name
				d.Score += 30
				d.Rationale = append(d.Rationale, fmt.Sprintf("%q tracks modifications", tc.Name))
				break
			}
		}
		if d.WatermarkColumn == "" {
			for _, tc := range p.TimestampColumns {
				if matchesAny(tc.Name, creationKeywords) {
					d.WatermarkColumn = tc.Name
					d.Score += 20
					d.Rationale = append(d.Rationale, fmt.Sprintf("%q tracks new records", tc.Name))
					break
				}
			}
		}
		if d.WatermarkColumn == "" {
			d.WatermarkColumn = p.TimestampColumns[0].Name
			d.Score += 10
			d.Rationale = append(d.Rationale, fmt.Sprintf("falling back to %q as watermark", d.WatermarkColumn))
		}
	}

	if len(p.AutoIncrementColumns) > 0 {
		d.Score += 25
		d.Rationale = append(d.Rationale, "auto-increment column available")
	}

	switch n := len(p.PrimaryKeyColumns); {
	case n == 1:
		d.Score += 15
		d.Rationale = append(d.Rationale, "single-column primary key")
	case n > 1:
		d.Score += 5
		d.Rationale = append(d.Rationale, "composite primary key")
	default:
		d.Score -= 20
		d.Rationale = append(d.Rationale, "no primary key")
	}

	if matchesAny(p.Name, lookupTableKeywords) {
		d.Score -= 15
		d.Rationale = append(d.Rationale, "configuration/lookup table naming")
	}
	if matchesAny(p.Name, historicalTableKeywords) {
		d.Score += 20
		d.Rationale = append(d.Rationale, "historical/audit table naming")
	}
	if matchesAny(p.Name, transactionalTableKeywords) {
		d.Score += 15
		d.Rationale = append(d.Rationale, "transactional table naming")
	}

	switch {
	case d.Score >= scorePreferred:
		d.Strategy = IncrementalPreferred
		d.Confidence = ConfidenceHigh
	case d.Score >= scorePossible:
		d.Strategy = IncrementalPossible
		d.Confidence = ConfidenceMedium
	case d.Score >= scoreChallenging:
		d.Strategy = IncrementalChallenging
		d.Confidence = ConfidenceMedium
	default:
		d.Strategy = FullReplace
		d.Confidence = ConfidenceHigh
	}

	return d
}

// matchesAny reports whether name contains any keyword, case-insensitive.
func matchesAny(name string, keywords []string) bool {
	lower := strings.ToLower(name)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
