package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/xerdata/dwhsync/internal/classify"
	"github.com/xerdata/dwhsync/internal/logging"
	"github.com/xerdata/dwhsync/internal/plan"
	"github.com/xerdata/dwhsync/internal/progress"
	"github.com/xerdata/dwhsync/internal/source"
	"github.com/xerdata/dwhsync/internal/state"
	"github.com/xerdata/dwhsync/internal/warehouse"
)

// TableFailure is one table's terminal error in a run.
type TableFailure struct {
	Table string
	Phase string
	Err   error
}

// RunSummary is what a completed run reports. Partial failure is a normal
// outcome: failed tables are listed, successful ones have already synced.
type RunSummary struct {
	RunID           string
	StartedAt       time.Time
	Duration        time.Duration
	TablesTotal     int
	TablesSucceeded int
	TablesFailed    int
	RowsExtracted   int64
	RowsLoaded      int64
	Failures        []TableFailure
}

// tableOutcome carries one table through the run's phases.
type tableOutcome struct {
	name      string
	table     *source.Table
	decision  classify.LoadingDecision
	directive plan.Directive
	strategy  warehouse.LoadStrategy

	rowsExtracted int64
	maxWatermark  string
	artifactKey   string
	rowsLoaded    int64
	loadSkipped   bool

	failPhase string
	err       error
}

// Run executes one full sync. Each extraction worker owns its table end to
// end; the load phase then runs with its own pool over everything that
// staged successfully.
func (o *Orchestrator) Run(ctx context.Context) (*RunSummary, error) {
	if o.cfg.Pipeline.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Pipeline.RunTimeout)
		defer cancel()
	}

	runID := newRunID()
	startedAt := time.Now()

	tables, err := o.selectTables(ctx)
	if err != nil {
		err = fmt.Errorf("discovering tables: %w", err)
		if nerr := o.notifier.RunFailed(runID, err, time.Since(startedAt)); nerr != nil {
			logging.Warn("Slack notification failed: %v", nerr)
		}
		return nil, err
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables selected")
	}

	if err := o.history.CreateRun(runID, startedAt); err != nil {
		return nil, err
	}
	if err := o.notifier.RunStarted(runID, o.cfg.Source.Database, len(tables)); err != nil {
		logging.Warn("Slack notification failed: %v", err)
	}
	logging.Info("Run %s: syncing %s from %s", runID, fmtCount(len(tables), "table"), o.cfg.Source.Database)

	outcomes := o.runExtractPhase(ctx, runID, tables, startedAt)

	o.runLoadPhase(ctx, runID, outcomes, startedAt)

	if err := o.marks.Persist(); err != nil {
		logging.Error("Persisting watermarks: %v", err)
	}

	summary := summarize(runID, startedAt, outcomes)
	status := runStatus(summary.TablesFailed)

	var errMsg string
	if summary.TablesFailed > 0 {
		errMsg = fmt.Sprintf("%s failed", fmtCount(summary.TablesFailed, "table"))
	}
	if err := o.history.CompleteRun(runID, status, summary.TablesTotal, summary.TablesSucceeded, summary.TablesFailed, errMsg); err != nil {
		logging.Warn("Recording run completion: %v", err)
	}

	o.notifyCompletion(summary)
	logging.Info("Run %s finished in %v: %d succeeded, %d failed",
		runID, summary.Duration.Round(time.Second), summary.TablesSucceeded, summary.TablesFailed)
	return summary, nil
}

func (o *Orchestrator) runExtractPhase(ctx context.Context, runID string, tables []string, runTS time.Time) []*tableOutcome {
	tracker := progress.New("Extracting", len(tables))
	outcomes := make([]*tableOutcome, len(tables))

	sem := make(chan struct{}, o.cfg.Pipeline.Workers)
	var wg sync.WaitGroup

	for i, name := range tables {
		select {
		case <-ctx.Done():
			out := &tableOutcome{name: name, failPhase: state.PhaseExtract, err: ctx.Err()}
			outcomes[i] = out
			o.recordExtract(runID, out, state.StatusFailed, time.Now())
			tracker.TableDone()
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			defer func() { <-sem }()
			defer tracker.TableDone()

			outcomes[i] = o.syncTable(ctx, runID, name, runTS)
		}(i, name)
	}

	wg.Wait()
	tracker.Finish()
	return outcomes
}

// syncTable runs one table through classify, plan, extract, stage and the
// watermark update. Every failure is caught here; nothing propagates to
// sibling workers.
func (o *Orchestrator) syncTable(ctx context.Context, runID, name string, runTS time.Time) *tableOutcome {
	out := &tableOutcome{name: name}
	start := time.Now()

	fail := func(phase string, err error) *tableOutcome {
		out.failPhase = phase
		out.err = err
		logging.Error("Table %s: %v", name, err)
		o.recordExtract(runID, out, state.StatusFailed, start)
		if nerr := o.notifier.TableSyncFailed(runID, name, err); nerr != nil {
			logging.Warn("Slack notification failed: %v", nerr)
		}
		return out
	}

	tbl, err := o.catalog.DescribeTable(ctx, name)
	if err != nil {
		return fail(state.PhaseExtract, err)
	}
	out.table = tbl

	decision, directive, strategy, err := o.classifyTable(tbl)
	if err != nil {
		return fail(state.PhaseExtract, err)
	}
	out.decision = decision
	out.directive = directive
	out.strategy = strategy

	if directive.DiscardWatermark {
		o.marks.Discard(name)
		logging.Warn("Table %s: %s", name, directive.Reason)
	}

	res, key, err := o.extractAndStage(ctx, tbl, directive, runTS)
	if err != nil {
		return fail(state.PhaseExtract, err)
	}
	out.rowsExtracted = res.Rows
	out.maxWatermark = res.MaxWatermark
	out.artifactKey = key

	o.recordExtract(runID, out, state.StatusSuccess, start)
	return out
}

// extractAndStage extracts into the spool and uploads, retrying with
// exponential backoff.
func (o *Orchestrator) extractAndStage(ctx context.Context, tbl *source.Table, directive plan.Directive, runTS time.Time) (res *extractResult, key string, err error) {
	maxRetries := o.cfg.Pipeline.MaxRetries
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			logging.Warn("Retry %d/%d for %s after %v (error: %v)", attempt, maxRetries, tbl.Name, backoff, err)
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		res, key, err = o.extractAndStageOnce(ctx, tbl, directive, runTS)
		if err == nil || ctx.Err() != nil {
			return res, key, err
		}
	}
	return nil, "", err
}

type extractResult struct {
	Rows         int64
	MaxWatermark string
}

func (o *Orchestrator) extractAndStageOnce(ctx context.Context, tbl *source.Table, directive plan.Directive, runTS time.Time) (*extractResult, string, error) {
	res, err := o.extractor.Extract(ctx, tbl, directive)
	if err != nil {
		return nil, "", err
	}

	// Nothing to stage: drop the empty spool file instead of uploading it.
	if res.Rows == 0 {
		if err := os.Remove(res.SpoolPath); err != nil && !os.IsNotExist(err) {
			logging.Warn("Removing spool file %s: %v", res.SpoolPath, err)
		}
		return &extractResult{}, "", nil
	}

	key := o.uploader.ObjectKey(o.cfg.Source.Database, tbl.Name, string(directive.Mode), runTS)
	if err := o.uploader.Upload(ctx, tbl.Name, res.SpoolPath, key); err != nil {
		return nil, "", err
	}
	if err := os.Remove(res.SpoolPath); err != nil && !os.IsNotExist(err) {
		logging.Warn("Removing spool file %s: %v", res.SpoolPath, err)
	}
	return &extractResult{Rows: res.Rows, MaxWatermark: res.MaxWatermark}, key, nil
}

func (o *Orchestrator) runLoadPhase(ctx context.Context, runID string, outcomes []*tableOutcome, runTS time.Time) {
	var loadable []*tableOutcome
	for _, out := range outcomes {
		if out == nil || out.err != nil {
			continue
		}
		if out.rowsExtracted == 0 {
			out.loadSkipped = true
			o.recordLoad(runID, out, state.StatusSkipped, time.Now())
			continue
		}
		loadable = append(loadable, out)
	}
	if len(loadable) == 0 {
		return
	}

	tracker := progress.New("Loading", len(loadable))
	sem := make(chan struct{}, o.cfg.Pipeline.LoadWorkers)
	var wg sync.WaitGroup

	for _, out := range loadable {
		select {
		case <-ctx.Done():
			out.failPhase = state.PhaseLoad
			out.err = ctx.Err()
			o.recordLoad(runID, out, state.StatusFailed, time.Now())
			tracker.TableDone()
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(out *tableOutcome) {
			defer wg.Done()
			defer func() { <-sem }()
			defer tracker.TableDone()

			o.loadTable(ctx, runID, out, runTS)
		}(out)
	}

	wg.Wait()
	tracker.Finish()
}

func (o *Orchestrator) loadTable(ctx context.Context, runID string, out *tableOutcome, runTS time.Time) {
	start := time.Now()

	fail := func(err error) {
		out.failPhase = state.PhaseLoad
		out.err = err
		logging.Error("Table %s: %v", out.name, err)
		o.recordLoad(runID, out, state.StatusFailed, start)
		if nerr := o.notifier.TableSyncFailed(runID, out.name, err); nerr != nil {
			logging.Warn("Slack notification failed: %v", nerr)
		}
	}

	spec := warehouse.SpecFromSource(out.table, out.decision.WatermarkColumn, o.cfg.Overrides[out.name])

	maxRetries := o.cfg.Pipeline.MaxRetries
	var rows int64
	var err error
retryLoop:
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			logging.Warn("Retry %d/%d for %s after %v (error: %v)", attempt, maxRetries, out.name, backoff, err)
			select {
			case <-ctx.Done():
				err = ctx.Err()
				break retryLoop
			case <-time.After(backoff):
			}
		}

		rows, err = o.loader.Apply(ctx, spec, out.strategy, out.artifactKey)
		if err == nil || ctx.Err() != nil {
			break
		}
	}

	if err != nil {
		fail(err)
		return
	}
	out.rowsLoaded = rows

	// The batch is in the warehouse; only now may the cursor advance. A
	// failed merge must leave the watermark where it was so the next run
	// re-extracts the same rows.
	if out.directive.WatermarkColumn != "" && out.maxWatermark != "" {
		if err := o.marks.Update(out.name, out.directive.WatermarkColumn, out.maxWatermark, runTS); err != nil {
			fail(err)
			return
		}
	}

	o.recordLoad(runID, out, state.StatusSuccess, start)
}

func (o *Orchestrator) recordExtract(runID string, out *tableOutcome, status string, start time.Time) {
	r := state.TableResult{
		RunID:       runID,
		Table:       out.name,
		Phase:       state.PhaseExtract,
		Status:      status,
		Mode:        string(out.directive.Mode),
		Rows:        out.rowsExtracted,
		ArtifactKey: out.artifactKey,
		Duration:    time.Since(start),
	}
	if out.err != nil {
		r.Error = out.err.Error()
	}
	r.Watermark = out.maxWatermark
	if err := o.history.RecordTableResult(r); err != nil {
		logging.Warn("Recording extract result for %s: %v", out.name, err)
	}
}

func (o *Orchestrator) recordLoad(runID string, out *tableOutcome, status string, start time.Time) {
	r := state.TableResult{
		RunID:       runID,
		Table:       out.name,
		Phase:       state.PhaseLoad,
		Status:      status,
		Strategy:    string(out.strategy),
		Rows:        out.rowsLoaded,
		ArtifactKey: out.artifactKey,
		Duration:    time.Since(start),
	}
	if out.err != nil && status == state.StatusFailed {
		r.Error = out.err.Error()
	}
	if err := o.history.RecordTableResult(r); err != nil {
		logging.Warn("Recording load result for %s: %v", out.name, err)
	}
}

func summarize(runID string, startedAt time.Time, outcomes []*tableOutcome) *RunSummary {
	s := &RunSummary{
		RunID:     runID,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
	}
	for _, out := range outcomes {
		if out == nil {
			continue
		}
		s.TablesTotal++
		s.RowsExtracted += out.rowsExtracted
		s.RowsLoaded += out.rowsLoaded
		if out.err != nil {
			s.TablesFailed++
			s.Failures = append(s.Failures, TableFailure{Table: out.name, Phase: out.failPhase, Err: out.err})
			continue
		}
		s.TablesSucceeded++
	}
	return s
}

func (o *Orchestrator) notifyCompletion(s *RunSummary) {
	var err error
	if s.TablesFailed > 0 {
		names := make([]string, len(s.Failures))
		for i, f := range s.Failures {
			names[i] = f.Table
		}
		err = o.notifier.RunCompletedWithErrors(s.RunID, s.StartedAt, s.Duration,
			s.TablesSucceeded, s.TablesFailed, s.RowsExtracted, s.RowsLoaded, names)
	} else {
		err = o.notifier.RunCompleted(s.RunID, s.StartedAt, s.Duration,
			s.TablesSucceeded, s.RowsExtracted, s.RowsLoaded)
	}
	if err != nil {
		logging.Warn("Slack notification failed: %v", err)
	}
}
