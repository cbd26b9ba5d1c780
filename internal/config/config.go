// Package config loads and validates the pipeline configuration file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xerdata/dwhsync/internal/logging"
	"github.com/xerdata/dwhsync/internal/secrets"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Source        SourceConfig              `yaml:"source"`
	Stage         StageConfig               `yaml:"stage"`
	Warehouse     WarehouseConfig           `yaml:"warehouse"`
	Pipeline      PipelineConfig            `yaml:"pipeline"`
	Overrides     map[string]TableOverride  `yaml:"table_overrides"`
	Notifications NotificationsConfig       `yaml:"notifications"`
}

// SourceConfig describes the MySQL/MariaDB source database.
type SourceConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// MaxConns bounds the connection pool shared by extraction workers.
	MaxConns int `yaml:"max_conns"`
}

// StageConfig describes the S3 bronze layer and the local spool directory
// artifacts pass through before upload.
type StageConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	SpoolDir string `yaml:"spool_dir"`
}

// WarehouseConfig describes the Snowflake destination.
type WarehouseConfig struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
	Role      string `yaml:"role"`
	// StageName is the external stage that exposes the S3 bucket to COPY INTO.
	StageName string `yaml:"stage_name"`
}

// PipelineConfig holds run-level tuning knobs.
type PipelineConfig struct {
	Workers     int `yaml:"workers"`
	LoadWorkers int `yaml:"load_workers"`
	MaxRetries  int `yaml:"max_retries"`

	// LargeTableRows is the row count above which a first-ever full load is
	// capped at FullLoadRowCap rows.
	LargeTableRows int64 `yaml:"large_table_rows"`
	FullLoadRowCap int64 `yaml:"full_load_row_cap"`

	RunTimeout time.Duration `yaml:"run_timeout"`

	IncludeTables []string `yaml:"include_tables"`
	ExcludeTables []string `yaml:"exclude_tables"`

	WatermarkFile string `yaml:"watermark_file"`
	StateFile     string `yaml:"state_file"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// TableOverride forces a load strategy and its parameters for one table,
// bypassing the classifier's decision.
type TableOverride struct {
	Strategy       string   `yaml:"strategy"` // incremental_merge, replace_partition, upsert_scd1
	PrimaryKey     []string `yaml:"pk"`
	EventTimestamp string   `yaml:"event_ts"`
	PartitionField string   `yaml:"partition_field"`
	ClusterBy      []string `yaml:"cluster_by"`
}

// NotificationsConfig wraps optional notification providers.
type NotificationsConfig struct {
	Slack SlackConfig `yaml:"slack"`
}

// SlackConfig configures the Slack webhook notifier.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// Load reads, parses and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.hasLiteralCredentials() {
		if err := secrets.CheckFileMode(path); err != nil {
			logging.Warn("Config carries literal credentials: %v", err)
		}
	}
	cfg.resolveSecrets()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// hasLiteralCredentials reports whether any credential field holds an inline
// value rather than a secret reference.
func (c *Config) hasLiteralCredentials() bool {
	for _, v := range []string{c.Source.Password, c.Warehouse.Password, c.Notifications.Slack.WebhookURL} {
		if v != "" && !secrets.IsReference(v) {
			return true
		}
	}
	return false
}

// resolveSecrets expands env references in credential fields, so config
// files can carry "env:MYSQL_PASSWORD" instead of the password itself.
func (c *Config) resolveSecrets() {
	c.Source.Password = secrets.Resolve(c.Source.Password)
	c.Warehouse.Password = secrets.Resolve(c.Warehouse.Password)
	c.Notifications.Slack.WebhookURL = secrets.Resolve(c.Notifications.Slack.WebhookURL)
}

func (c *Config) applyDefaults() {
	if c.Source.Port == 0 {
		c.Source.Port = 3306
	}
	if c.Source.MaxConns == 0 {
		c.Source.MaxConns = 8
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.LoadWorkers == 0 {
		c.Pipeline.LoadWorkers = 2
	}
	if c.Pipeline.MaxRetries == 0 {
		c.Pipeline.MaxRetries = 3
	}
	if c.Pipeline.LargeTableRows == 0 {
		c.Pipeline.LargeTableRows = 5_000_000
	}
	if c.Pipeline.FullLoadRowCap == 0 {
		c.Pipeline.FullLoadRowCap = 10_000_000
	}
	if c.Pipeline.WatermarkFile == "" {
		c.Pipeline.WatermarkFile = "watermarks.json"
	}
	if c.Pipeline.StateFile == "" {
		c.Pipeline.StateFile = "dwhsync.db"
	}
	if c.Stage.SpoolDir == "" {
		c.Stage.SpoolDir = "spool"
	}
	if c.Stage.Prefix == "" {
		c.Stage.Prefix = "bronze"
	}
	if c.Pipeline.LogLevel == "" {
		c.Pipeline.LogLevel = "info"
	}
	if c.Pipeline.LogFormat == "" {
		c.Pipeline.LogFormat = "text"
	}
}

// validate rejects incomplete configuration up front. Running with placeholder
// values would only fail later inside an SDK call with a worse message.
func (c *Config) validate() error {
	if c.Source.Host == "" {
		return fmt.Errorf("source.host is required")
	}
	if c.Source.Database == "" {
		return fmt.Errorf("source.database is required")
	}
	if c.Source.User == "" {
		return fmt.Errorf("source.user is required")
	}
	if c.Source.Password == "" {
		return fmt.Errorf("source.password is required")
	}
	if c.Stage.Bucket == "" {
		return fmt.Errorf("stage.bucket is required")
	}
	if c.Stage.Region == "" {
		return fmt.Errorf("stage.region is required")
	}
	if c.Warehouse.Account == "" {
		return fmt.Errorf("warehouse.account is required")
	}
	if c.Warehouse.User == "" {
		return fmt.Errorf("warehouse.user is required")
	}
	if c.Warehouse.Password == "" {
		return fmt.Errorf("warehouse.password is required")
	}
	if c.Warehouse.Database == "" {
		return fmt.Errorf("warehouse.database is required")
	}
	if c.Warehouse.Schema == "" {
		return fmt.Errorf("warehouse.schema is required")
	}
	if c.Warehouse.StageName == "" {
		return fmt.Errorf("warehouse.stage_name is required")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	if c.Pipeline.LoadWorkers < 1 {
		return fmt.Errorf("pipeline.load_workers must be at least 1")
	}
	for table, ov := range c.Overrides {
		switch ov.Strategy {
		case "", "full_replace", "incremental_merge", "replace_partition", "upsert_scd1":
		default:
			return fmt.Errorf("table_overrides.%s: unknown strategy %q", table, ov.Strategy)
		}
	}
	return nil
}

// BuildMySQLDSN returns the go-sql-driver DSN for the source database.
// Credentials are used verbatim; the driver handles escaping of the DSN
// parameters itself, but the database name is path-escaped.
func (c *Config) BuildMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		c.Source.User, c.Source.Password, c.Source.Host, c.Source.Port,
		url.PathEscape(c.Source.Database))
}

// BuildSnowflakeDSN returns the gosnowflake DSN for the warehouse.
func (c *Config) BuildSnowflakeDSN() string {
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s",
		url.QueryEscape(c.Warehouse.User),
		url.QueryEscape(c.Warehouse.Password),
		c.Warehouse.Account,
		url.PathEscape(c.Warehouse.Database),
		url.PathEscape(c.Warehouse.Schema))

	params := url.Values{}
	if c.Warehouse.Warehouse != "" {
		params.Set("warehouse", c.Warehouse.Warehouse)
	}
	if c.Warehouse.Role != "" {
		params.Set("role", c.Warehouse.Role)
	}
	if len(params) > 0 {
		dsn += "?" + params.Encode()
	}
	return dsn
}
