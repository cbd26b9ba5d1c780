package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/xerdata/dwhsync/internal/config"
	"github.com/xerdata/dwhsync/internal/logging"
)

// Pool manages a pool of MySQL connections shared by extraction workers.
type Pool struct {
	db     *sql.DB
	config *config.SourceConfig
}

// NewPool opens a connection pool against the source database.
func NewPool(cfg *config.Config) (*Pool, error) {
	db, err := sql.Open("mysql", cfg.BuildMySQLDSN())
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.Source.MaxConns)
	db.SetMaxIdleConns(max(cfg.Source.MaxConns/4, 1))
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Log whether we're talking to MySQL or MariaDB; behavior is identical
	// for the catalog queries we issue.
	var version string
	if err := db.QueryRow("SELECT VERSION()").Scan(&version); err != nil {
		logging.Debug("SELECT VERSION() failed: %v", err)
	}
	logging.Info("Connected to %s source: %s:%d/%s", dbFlavor(version), cfg.Source.Host, cfg.Source.Port, cfg.Source.Database)

	return &Pool{db: db, config: &cfg.Source}, nil
}

// Close closes all connections in the pool.
func (p *Pool) Close() error {
	return p.db.Close()
}

// DB returns the underlying database handle.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// ListTables returns the base table names in the source database.
func (p *Pool) ListTables(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT TABLE_NAME
		FROM information_schema.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME
	`, p.config.Database)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// DescribeTable loads full catalog metadata for one table. A missing table or
// an unreachable catalog surfaces as a SchemaLookupError; it is never folded
// into an empty result.
func (p *Pool) DescribeTable(ctx context.Context, name string) (*Table, error) {
	t := &Table{Schema: p.config.Database, Name: name}

	if err := p.loadColumns(ctx, t); err != nil {
		return nil, &SchemaLookupError{Table: name, Err: err}
	}
	if len(t.Columns) == 0 {
		return nil, &SchemaLookupError{Table: name}
	}
	if err := p.loadPrimaryKey(ctx, t); err != nil {
		return nil, &SchemaLookupError{Table: name, Err: err}
	}
	if err := p.loadRowCount(ctx, t); err != nil {
		// TABLE_ROWS can be momentarily unavailable; a zero estimate only
		// affects the large-table cap, not correctness.
		logging.Warn("Row count unavailable for %s: %v", name, err)
	}

	return t, nil
}

func (p *Pool) loadColumns(ctx context.Context, t *Table) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			COLUMN_TYPE,
			CASE WHEN IS_NULLABLE = 'YES' THEN true ELSE false END,
			COALESCE(COLUMN_DEFAULT, ''),
			COLUMN_KEY,
			EXTRA,
			ORDINAL_POSITION
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`, t.Schema, t.Name)
	if err != nil {
		return fmt.Errorf("querying columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.ColumnType, &c.IsNullable,
			&c.Default, &c.Key, &c.Extra, &c.OrdinalPos); err != nil {
			return fmt.Errorf("scanning column: %w", err)
		}
		t.Columns = append(t.Columns, c)
	}
	return rows.Err()
}

func (p *Pool) loadPrimaryKey(ctx context.Context, t *Table) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION
	`, t.Schema, t.Name)
	if err != nil {
		return fmt.Errorf("querying primary key: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return fmt.Errorf("scanning pk column: %w", err)
		}
		t.PrimaryKey = append(t.PrimaryKey, col)
	}
	return rows.Err()
}

func (p *Pool) loadRowCount(ctx context.Context, t *Table) error {
	return p.db.QueryRowContext(ctx,
		`SELECT COALESCE(TABLE_ROWS, 0) FROM information_schema.TABLES WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`,
		t.Schema, t.Name).Scan(&t.RowCount)
}

// dbFlavor names the server behind a VERSION() string. MariaDB embeds its
// name in the version; anything else is treated as stock MySQL.
func dbFlavor(version string) string {
	if strings.Contains(strings.ToLower(version), "mariadb") {
		return "MariaDB"
	}
	return "MySQL"
}

// QuoteIdentifier quotes a MySQL identifier with backticks.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QualifyTable returns the backtick-quoted schema.table form.
func QualifyTable(schema, table string) string {
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(table)
}
