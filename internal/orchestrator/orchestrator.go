// Package orchestrator drives a sync run end to end: table discovery,
// classification, extraction into the bronze layer, and warehouse loading.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/xerdata/dwhsync/internal/classify"
	"github.com/xerdata/dwhsync/internal/config"
	"github.com/xerdata/dwhsync/internal/extract"
	"github.com/xerdata/dwhsync/internal/logging"
	"github.com/xerdata/dwhsync/internal/notify"
	"github.com/xerdata/dwhsync/internal/plan"
	"github.com/xerdata/dwhsync/internal/source"
	"github.com/xerdata/dwhsync/internal/stage"
	"github.com/xerdata/dwhsync/internal/state"
	"github.com/xerdata/dwhsync/internal/warehouse"
	"github.com/xerdata/dwhsync/internal/watermark"
)

// Dependency seams. Production wiring is the concrete types from the
// sibling packages; tests swap in fakes.
type catalog interface {
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, name string) (*source.Table, error)
}

type extractor interface {
	Extract(ctx context.Context, t *source.Table, d plan.Directive) (*extract.Result, error)
}

type uploader interface {
	ObjectKey(database, table, mode string, runTS time.Time) string
	Upload(ctx context.Context, table, localPath, key string) error
	LatestArtifact(ctx context.Context, database, table string) (string, error)
}

type loader interface {
	Apply(ctx context.Context, spec warehouse.TableSpec, strategy warehouse.LoadStrategy, artifactKey string) (int64, error)
}

type watermarkStore interface {
	Get(table string) (watermark.Watermark, bool)
	Update(table, column, newValue string, runTimestamp time.Time) error
	Discard(table string)
	Persist() error
	Tables() []string
}

type historyStore interface {
	CreateRun(id string, startedAt time.Time) error
	CompleteRun(id, status string, total, success, failed int, errMsg string) error
	RecordTableResult(r state.TableResult) error
	LatestRun() (*state.Run, error)
	GetAllRuns(limit int) ([]state.Run, error)
	GetTableResults(runID string) ([]state.TableResult, error)
}

type notifier interface {
	RunStarted(runID, database string, tableCount int) error
	RunCompleted(runID string, startTime time.Time, duration time.Duration, tables int, rowsExtracted, rowsLoaded int64) error
	RunCompletedWithErrors(runID string, startTime time.Time, duration time.Duration, succeeded, failed int, rowsExtracted, rowsLoaded int64, failures []string) error
	RunFailed(runID string, err error, duration time.Duration) error
	TableSyncFailed(runID, table string, err error) error
}

// Orchestrator owns a run's shared resources and configuration.
type Orchestrator struct {
	cfg *config.Config

	catalog   catalog
	extractor extractor
	uploader  uploader
	loader    loader
	marks     watermarkStore
	history   historyStore
	notifier  notifier

	// held for Close; nil when constructed for tests
	sourcePool *source.Pool
	stateStore *state.Store
	closeFns   []func() error
}

// New wires an Orchestrator from configuration, connecting to the source,
// the object store and the warehouse.
func New(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	pool, err := source.NewPool(cfg)
	if err != nil {
		return nil, err
	}

	marks := watermark.NewStore(cfg.Pipeline.WatermarkFile)
	if err := marks.Load(); err != nil {
		pool.Close()
		return nil, err
	}

	history, err := state.Open(cfg.Pipeline.StateFile)
	if err != nil {
		pool.Close()
		return nil, err
	}

	whDB, err := warehouse.NewDB(ctx, cfg)
	if err != nil {
		pool.Close()
		history.Close()
		return nil, err
	}

	o := &Orchestrator{
		cfg:        cfg,
		catalog:    pool,
		extractor:  extract.NewExtractor(pool.DB(), cfg.Stage.SpoolDir),
		uploader:   stage.NewClient(cfg.Stage),
		loader:     warehouse.NewApplier(whDB, cfg.Warehouse.StageName),
		marks:      marks,
		history:    history,
		notifier:   notify.New(&cfg.Notifications.Slack),
		sourcePool: pool,
		stateStore: history,
	}
	o.closeFns = []func() error{pool.Close, history.Close, whDB.Close}
	return o, nil
}

// Close releases every connection the orchestrator holds.
func (o *Orchestrator) Close() {
	for _, fn := range o.closeFns {
		if err := fn(); err != nil {
			logging.Warn("Close: %v", err)
		}
	}
}

// selectTables applies the include/exclude filters to the discovered set.
func (o *Orchestrator) selectTables(ctx context.Context) ([]string, error) {
	names, err := o.catalog.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	include := make(map[string]bool, len(o.cfg.Pipeline.IncludeTables))
	for _, t := range o.cfg.Pipeline.IncludeTables {
		include[t] = true
	}
	exclude := make(map[string]bool, len(o.cfg.Pipeline.ExcludeTables))
	for _, t := range o.cfg.Pipeline.ExcludeTables {
		exclude[t] = true
	}

	var selected []string
	for _, name := range names {
		if len(include) > 0 && !include[name] {
			continue
		}
		if exclude[name] {
			continue
		}
		selected = append(selected, name)
	}
	sort.Strings(selected)
	return selected, nil
}

// classifyTable profiles one table and resolves its directive and load
// strategy, honoring any config override.
func (o *Orchestrator) classifyTable(t *source.Table) (classify.LoadingDecision, plan.Directive, warehouse.LoadStrategy, error) {
	profile := classify.BuildProfile(t)
	decision := classify.Score(profile)

	planner := plan.New(o.marks, o.cfg.Pipeline.LargeTableRows, o.cfg.Pipeline.FullLoadRowCap)
	directive := planner.Plan(profile, decision)

	override := o.cfg.Overrides[t.Name]
	strategy, err := warehouse.ResolveStrategy(decision, len(t.PrimaryKey) > 0 || len(override.PrimaryKey) > 0, override.Strategy)
	if err != nil {
		return decision, directive, "", err
	}
	return decision, directive, strategy, nil
}

func newRunID() string {
	return uuid.New().String()[:8]
}

func runStatus(failed int) string {
	if failed > 0 {
		return state.RunStatusCompletedWithErrors
	}
	return state.RunStatusCompleted
}

func fmtCount(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
