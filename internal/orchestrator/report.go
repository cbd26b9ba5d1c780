package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xerdata/dwhsync/internal/classify"
	"github.com/xerdata/dwhsync/internal/logging"
	"github.com/xerdata/dwhsync/internal/state"
)

// Analyze classifies every selected table and prints the strategy report
// without touching the source data, the bronze layer or the warehouse.
func (o *Orchestrator) Analyze(ctx context.Context) error {
	tables, err := o.selectTables(ctx)
	if err != nil {
		return fmt.Errorf("discovering tables: %w", err)
	}

	fmt.Printf("Analyzing %s in %s\n\n", fmtCount(len(tables), "table"), o.cfg.Source.Database)
	fmt.Printf("%-30s %12s %6s %-24s %-6s %s\n",
		"TABLE", "ROWS", "SCORE", "STRATEGY", "CONF", "WATERMARK")
	fmt.Println(strings.Repeat("-", 100))

	counts := map[classify.Strategy]int{}
	for _, name := range tables {
		tbl, err := o.catalog.DescribeTable(ctx, name)
		if err != nil {
			fmt.Printf("%-30s %s\n", name, err)
			continue
		}

		profile := classify.BuildProfile(tbl)
		decision := classify.Score(profile)
		counts[decision.Strategy]++

		fmt.Printf("%-30s %12d %6d %-24s %-6s %s\n",
			name, profile.RowCount, decision.Score, decision.Strategy, decision.Confidence, decision.WatermarkColumn)
		if logging.IsDebug() {
			for _, r := range decision.Rationale {
				fmt.Printf("    - %s\n", r)
			}
		}
	}

	fmt.Println()
	for _, s := range []classify.Strategy{
		classify.IncrementalPreferred, classify.IncrementalPossible,
		classify.IncrementalChallenging, classify.FullReplace,
	} {
		if counts[s] > 0 {
			fmt.Printf("%-24s %d\n", s, counts[s])
		}
	}
	return nil
}

// LoadOnly replays the newest staged artifact of each selected table into
// the warehouse without extracting anything new.
func (o *Orchestrator) LoadOnly(ctx context.Context, only []string) error {
	tables := only
	if len(tables) == 0 {
		var err error
		if tables, err = o.selectTables(ctx); err != nil {
			return fmt.Errorf("discovering tables: %w", err)
		}
	}

	runID := newRunID()
	startedAt := time.Now()
	if err := o.history.CreateRun(runID, startedAt); err != nil {
		return err
	}
	logging.Info("Run %s: loading latest artifacts for %s", runID, fmtCount(len(tables), "table"))

	var outcomes []*tableOutcome
	for _, name := range tables {
		tbl, err := o.catalog.DescribeTable(ctx, name)
		if err != nil {
			outcomes = append(outcomes, &tableOutcome{name: name, failPhase: state.PhaseLoad, err: err})
			logging.Error("Table %s: %v", name, err)
			continue
		}

		decision, directive, strategy, err := o.classifyTable(tbl)
		if err != nil {
			outcomes = append(outcomes, &tableOutcome{name: name, failPhase: state.PhaseLoad, err: err})
			logging.Error("Table %s: %v", name, err)
			continue
		}

		key, err := o.uploader.LatestArtifact(ctx, o.cfg.Source.Database, name)
		if err != nil {
			outcomes = append(outcomes, &tableOutcome{name: name, failPhase: state.PhaseLoad, err: err})
			logging.Error("Table %s: %v", name, err)
			continue
		}
		if key == "" {
			logging.Warn("Table %s: no staged artifact, skipping", name)
			continue
		}

		outcomes = append(outcomes, &tableOutcome{
			name:          name,
			table:         tbl,
			decision:      decision,
			directive:     directive,
			strategy:      strategy,
			artifactKey:   key,
			rowsExtracted: -1, // unknown; artifact predates this run
		})
	}

	o.runLoadPhase(ctx, runID, outcomes, startedAt)

	summary := summarize(runID, startedAt, outcomes)
	summary.RowsExtracted = 0
	var errMsg string
	if summary.TablesFailed > 0 {
		errMsg = fmt.Sprintf("%s failed", fmtCount(summary.TablesFailed, "table"))
	}
	if err := o.history.CompleteRun(runID, runStatus(summary.TablesFailed),
		summary.TablesTotal, summary.TablesSucceeded, summary.TablesFailed, errMsg); err != nil {
		logging.Warn("Recording run completion: %v", err)
	}

	logging.Info("Run %s finished: %d loaded, %d failed", runID, summary.TablesSucceeded, summary.TablesFailed)
	if summary.TablesFailed > 0 {
		return fmt.Errorf("%s failed to load", fmtCount(summary.TablesFailed, "table"))
	}
	return nil
}

// ShowStatus prints the latest run and its per-table outcomes.
func (o *Orchestrator) ShowStatus() error {
	run, err := o.history.LatestRun()
	if errors.Is(err, state.ErrNoRuns) {
		fmt.Println("No runs recorded yet.")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Run %s  status=%s  started=%s\n",
		run.ID, run.Status, run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Printf("Completed %s (%s)\n",
			run.CompletedAt.Format(time.RFC3339), run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
	}
	fmt.Printf("Tables: %d total, %d succeeded, %d failed\n\n",
		run.TablesTotal, run.TablesSuccess, run.TablesFailed)

	results, err := o.history.GetTableResults(run.ID)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return nil
	}

	fmt.Printf("%-30s %-8s %-8s %-20s %10s  %s\n", "TABLE", "PHASE", "STATUS", "MODE/STRATEGY", "ROWS", "ERROR")
	fmt.Println(strings.Repeat("-", 100))
	for _, r := range results {
		how := r.Mode
		if how == "" {
			how = r.Strategy
		}
		fmt.Printf("%-30s %-8s %-8s %-20s %10d  %s\n", r.Table, r.Phase, r.Status, how, r.Rows, r.Error)
	}
	return nil
}

// ShowHistory prints recent runs, newest first.
func (o *Orchestrator) ShowHistory(limit int) error {
	runs, err := o.history.GetAllRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	fmt.Printf("%-10s %-22s %-22s %-10s %8s %8s\n", "RUN", "STARTED", "STATUS", "DURATION", "OK", "FAILED")
	fmt.Println(strings.Repeat("-", 84))
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Printf("%-10s %-22s %-22s %-10s %8d %8d\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, duration, r.TablesSuccess, r.TablesFailed)
	}
	return nil
}

// ShowWatermarks prints the stored incremental cursors.
func (o *Orchestrator) ShowWatermarks() error {
	tables := o.marks.Tables()
	if len(tables) == 0 {
		fmt.Println("No watermarks stored yet.")
		return nil
	}
	sort.Strings(tables)

	fmt.Printf("%-30s %-20s %-22s %s\n", "TABLE", "COLUMN", "LAST VALUE", "LAST RUN")
	fmt.Println(strings.Repeat("-", 96))
	for _, name := range tables {
		w, ok := o.marks.Get(name)
		if !ok {
			continue
		}
		fmt.Printf("%-30s %-20s %-22s %s\n",
			name, w.WatermarkColumn, w.LastValue, w.LastRunTimestamp.Format(time.RFC3339))
	}
	return nil
}
