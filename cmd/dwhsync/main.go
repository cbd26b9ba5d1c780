package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/xerdata/dwhsync/internal/config"
	"github.com/xerdata/dwhsync/internal/logging"
	"github.com/xerdata/dwhsync/internal/orchestrator"
	"github.com/xerdata/dwhsync/internal/util"
	"github.com/xerdata/dwhsync/internal/version"
)

func main() {
	app := &cli.App{
		Name:    version.Name,
		Usage:   version.Description,
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "analyze",
				Usage:  "Classify tables and print the loading-strategy report",
				Action: analyzeTables,
			},
			{
				Name:   "run",
				Usage:  "Run a full sync: extract, stage and load",
				Action: runSync,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "tables",
						Usage: "Comma-separated table names (overrides config include list)",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of parallel extraction workers",
					},
				},
			},
			{
				Name:   "load",
				Usage:  "Load the newest staged artifacts without extracting",
				Action: loadArtifacts,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "tables",
						Usage: "Comma-separated table names (defaults to all)",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show the latest run and its per-table outcomes",
				Action: showStatus,
			},
			{
				Name:  "history",
				Usage: "List recent runs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Maximum number of runs to show (0 for all)",
					},
				},
				Action: showHistory,
			},
			{
				Name:   "watermarks",
				Usage:  "Show the stored incremental watermarks",
				Action: showWatermarks,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if lvl, err := logging.ParseLevel(cfg.Pipeline.LogLevel); err == nil {
		logging.SetLevel(lvl)
	}
	logging.SetFormat(cfg.Pipeline.LogFormat)
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted. Finishing in-flight tables...")
		cancel()
	}()
	return ctx, cancel
}

func runSync(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("tables") {
		cfg.Pipeline.IncludeTables = util.SplitCSV(c.String("tables"))
	}
	if c.IsSet("workers") {
		cfg.Pipeline.Workers = c.Int("workers")
	}

	ctx, cancel := signalContext()
	defer cancel()

	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	summary, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\nRun %s: %d/%d tables synced, %d rows extracted, %d rows loaded\n",
		summary.RunID, summary.TablesSucceeded, summary.TablesTotal,
		summary.RowsExtracted, summary.RowsLoaded)
	for _, f := range summary.Failures {
		fmt.Printf("  FAILED %s (%s): %v\n", f.Table, f.Phase, f.Err)
	}
	if summary.TablesFailed > 0 {
		return fmt.Errorf("%d of %d tables failed", summary.TablesFailed, summary.TablesTotal)
	}
	return nil
}

func analyzeTables(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	return orch.Analyze(ctx)
}

func loadArtifacts(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	return orch.LoadOnly(ctx, util.SplitCSV(c.String("tables")))
}

func showStatus(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	return orch.ShowStatus()
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	return orch.ShowHistory(c.Int("limit"))
}

func showWatermarks(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	return orch.ShowWatermarks()
}
