package extract

import (
	"fmt"
	"strings"

	"github.com/xerdata/dwhsync/internal/plan"
	"github.com/xerdata/dwhsync/internal/source"
)

// BuildQuery renders the SELECT for one directive. Incremental directives
// filter on the watermark predicate and order by the watermark column so the
// highest value lands last; the lower bound is bound as an argument, never
// spliced into the SQL.
func BuildQuery(t *source.Table, d plan.Directive) (string, []any) {
	var sb strings.Builder
	var args []any

	sb.WriteString("SELECT ")
	for i, name := range t.ColumnNames() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(source.QuoteIdentifier(name))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(source.QualifyTable(t.Schema, t.Name))

	if d.Mode == plan.ModeIncremental {
		fmt.Fprintf(&sb, " WHERE %s > ?", source.QuoteIdentifier(d.WatermarkColumn))
		args = append(args, d.LowerBound)
		fmt.Fprintf(&sb, " ORDER BY %s", source.QuoteIdentifier(d.WatermarkColumn))
	}

	if d.RowLimit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", d.RowLimit)
	}

	return sb.String(), args
}
