// Package warehouse loads staged bronze artifacts into Snowflake and applies
// the per-table load strategy.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/snowflakedb/gosnowflake"

	"github.com/xerdata/dwhsync/internal/config"
	"github.com/xerdata/dwhsync/internal/logging"
)

// NewDB opens a Snowflake connection pool from the warehouse configuration.
func NewDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("snowflake", cfg.BuildSnowflakeDSN())
	if err != nil {
		return nil, fmt.Errorf("opening snowflake connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.Pipeline.LoadWorkers + 1)
	db.SetMaxIdleConns(cfg.Pipeline.LoadWorkers)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to snowflake account %s: %w", cfg.Warehouse.Account, err)
	}

	logging.Info("Connected to Snowflake (%s.%s)", cfg.Warehouse.Database, cfg.Warehouse.Schema)
	return db, nil
}
