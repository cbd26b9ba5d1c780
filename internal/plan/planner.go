// Package plan turns a table's classification into a concrete extraction
// directive: full or incremental, with the predicate and row limit the
// extractor should apply.
package plan

import (
	"fmt"

	"github.com/xerdata/dwhsync/internal/classify"
	"github.com/xerdata/dwhsync/internal/watermark"
)

// Mode is the extraction mode for one table in one run.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Directive tells the extractor exactly what to pull for one table.
type Directive struct {
	Table string
	Mode  Mode

	// WatermarkColumn is the column whose maximum value the extractor
	// tracks. On incremental directives it also forms the predicate
	// "WatermarkColumn > LowerBound"; on full directives it is set whenever
	// the classifier chose one, so a baseline run can seed the store.
	WatermarkColumn string
	LowerBound      string

	// RowLimit caps oversized full extractions. Zero means unlimited.
	RowLimit int64

	// DiscardWatermark is set when the stored entry references a column the
	// classifier no longer chose; the caller drops it before extracting.
	DiscardWatermark bool

	Reason string
}

// WatermarkLookup is the read side of the watermark store the planner needs.
type WatermarkLookup interface {
	Get(table string) (watermark.Watermark, bool)
}

// Planner builds directives from classification results and stored
// watermarks.
type Planner struct {
	store          WatermarkLookup
	largeTableRows int64
	fullLoadRowCap int64
}

// New creates a Planner. largeTableRows is the row count above which a full
// extraction is capped; fullLoadRowCap is the cap applied.
func New(store WatermarkLookup, largeTableRows, fullLoadRowCap int64) *Planner {
	return &Planner{store: store, largeTableRows: largeTableRows, fullLoadRowCap: fullLoadRowCap}
}

// Plan decides how a table is extracted this run. The decision tree:
// full-replace strategy, a missing baseline, or a watermark column mismatch
// all force a full extraction; everything else goes incremental from the
// stored value.
func (p *Planner) Plan(profile *classify.TableProfile, decision classify.LoadingDecision) Directive {
	d := Directive{Table: profile.Name, Mode: ModeFull, WatermarkColumn: decision.WatermarkColumn}

	if decision.Strategy == classify.FullReplace || decision.WatermarkColumn == "" {
		d.Reason = fmt.Sprintf("strategy %s requires full extraction", decision.Strategy)
		p.applyRowCap(&d, profile)
		return d
	}

	stored, ok := p.store.Get(profile.Name)
	if !ok {
		d.Reason = "no stored watermark, establishing baseline"
		p.applyRowCap(&d, profile)
		return d
	}

	if stored.WatermarkColumn != decision.WatermarkColumn {
		d.DiscardWatermark = true
		d.Reason = fmt.Sprintf("watermark column changed from %q to %q, stored value discarded",
			stored.WatermarkColumn, decision.WatermarkColumn)
		p.applyRowCap(&d, profile)
		return d
	}

	d.Mode = ModeIncremental
	d.LowerBound = stored.LastValue
	d.Reason = fmt.Sprintf("incremental from %s > %q", decision.WatermarkColumn, stored.LastValue)
	return d
}

// applyRowCap limits full extractions of oversized tables so a first run
// against a huge table cannot blow the spool or the run window.
func (p *Planner) applyRowCap(d *Directive, profile *classify.TableProfile) {
	if p.largeTableRows > 0 && p.fullLoadRowCap > 0 && profile.RowCount > p.largeTableRows {
		d.RowLimit = p.fullLoadRowCap
	}
}
