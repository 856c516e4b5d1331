// Package config loads and validates the auditor's YAML configuration.
// Credentials are supplied through environment variable references in the
// config file (${VAR}), expanded at load time; a missing required value is a
// fatal startup error.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"

	"github.com/lmwafulirwa/emr-dqa/internal/notify"
)

// Duration wraps time.Duration for YAML strings like "5m" or "90s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Config is the full auditor configuration.
type Config struct {
	Source        SourceConfig        `yaml:"source"`
	Warehouse     WarehouseConfig     `yaml:"warehouse"`
	Sink          SinkConfig          `yaml:"sink"`
	Audit         AuditConfig         `yaml:"audit"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// SourceConfig holds the facility-instance MySQL connection settings. The
// instance hosts every facility schema; per-schema connections reuse these
// credentials with a database name appended.
type SourceConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// WarehouseConfig holds the OHDL warehouse MySQL connection settings.
type WarehouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	// ExcludeVoided applies a voided = 0 filter to warehouse counts on tables
	// that carry the soft-delete flag.
	ExcludeVoided bool `yaml:"exclude_voided"`
}

// SinkConfig holds the report destination settings.
type SinkConfig struct {
	Type     string `yaml:"type"` // "postgres" (default) or "mysql"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"` // postgres only
}

// AuditConfig holds scan behavior settings.
type AuditConfig struct {
	// SchemaPrefix selects facility schemas from the instance listing.
	SchemaPrefix string `yaml:"schema_prefix"`

	// Denylist adds schema names to the built-in exclusion set.
	Denylist []string `yaml:"denylist"`

	// Workers caps simultaneous per-schema collections. 1 (the default)
	// scans sequentially.
	Workers int `yaml:"workers"`

	// QueryTimeout bounds each schema's collection. A timeout aborts the
	// run; an unreachable facility is an infrastructure problem, not a skip.
	QueryTimeout Duration `yaml:"query_timeout"`

	// DataDir is where the run-history database lives.
	DataDir string `yaml:"data_dir"`
}

// NotificationsConfig holds notification settings.
type NotificationsConfig struct {
	Slack notify.SlackConfig `yaml:"slack"`
}

// Load reads, expands and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand ${VAR} references so credentials stay in the environment.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Source.Port == 0 {
		c.Source.Port = 3306
	}
	if c.Warehouse.Port == 0 {
		c.Warehouse.Port = 3306
	}
	if c.Sink.Type == "" {
		c.Sink.Type = "postgres"
	}
	if c.Sink.Port == 0 {
		if c.Sink.Type == "mysql" {
			c.Sink.Port = 3306
		} else {
			c.Sink.Port = 5432
		}
	}
	if c.Sink.SSLMode == "" {
		c.Sink.SSLMode = "disable"
	}
	if c.Audit.SchemaPrefix == "" {
		c.Audit.SchemaPrefix = "openmrs_"
	}
	if c.Audit.Workers == 0 {
		c.Audit.Workers = 1
	}
	if c.Audit.QueryTimeout.Duration == 0 {
		c.Audit.QueryTimeout.Duration = 5 * time.Minute
	}
	if c.Audit.DataDir == "" {
		c.Audit.DataDir = "."
	}
}

// Validate checks that all required settings are present.
func (c *Config) Validate() error {
	if c.Source.Host == "" {
		return fmt.Errorf("source.host is required")
	}
	if c.Source.User == "" {
		return fmt.Errorf("source.user is required")
	}
	if c.Source.Password == "" {
		return fmt.Errorf("source.password is required")
	}
	if c.Warehouse.Host == "" {
		return fmt.Errorf("warehouse.host is required")
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
	if c.Sink.Type != "postgres" && c.Sink.Type != "mysql" {
		return fmt.Errorf("sink.type must be postgres or mysql, got %q", c.Sink.Type)
	}
	if c.Sink.Host == "" {
		return fmt.Errorf("sink.host is required")
	}
	if c.Sink.User == "" {
		return fmt.Errorf("sink.user is required")
	}
	if c.Sink.Password == "" {
		return fmt.Errorf("sink.password is required")
	}
	if c.Sink.Database == "" {
		return fmt.Errorf("sink.database is required")
	}
	if c.Audit.Workers < 1 {
		return fmt.Errorf("audit.workers must be at least 1")
	}
	if c.Audit.QueryTimeout.Duration <= 0 {
		return fmt.Errorf("audit.query_timeout must be positive")
	}
	return nil
}

// SourceDSN builds a MySQL DSN for the facility instance. An empty database
// name connects at the instance level (for listing schemas); a schema name
// scopes the connection to that facility.
func (c *Config) SourceDSN(database string) string {
	return buildMySQLDSN(c.Source.Host, c.Source.Port, database, c.Source.User, c.Source.Password)
}

// WarehouseDSN builds a MySQL DSN for the OHDL warehouse.
func (c *Config) WarehouseDSN() string {
	return buildMySQLDSN(c.Warehouse.Host, c.Warehouse.Port, c.Warehouse.Database, c.Warehouse.User, c.Warehouse.Password)
}

// SinkDSN builds the report-sink DSN for the configured sink type.
func (c *Config) SinkDSN() string {
	if c.Sink.Type == "mysql" {
		return buildMySQLDSN(c.Sink.Host, c.Sink.Port, c.Sink.Database, c.Sink.User, c.Sink.Password)
	}
	return buildPostgresDSN(c.Sink.Host, c.Sink.Port, c.Sink.Database, c.Sink.User, c.Sink.Password, c.Sink.SSLMode)
}

// buildMySQLDSN formats a go-sql-driver DSN. The driver's own formatter
// handles credential escaping; parseTime is required so DATE/DATETIME columns
// scan into time.Time.
func buildMySQLDSN(host string, port int, database, user, password string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host, port)
	cfg.DBName = database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// buildPostgresDSN formats a postgres:// URL with URL-escaped credentials.
func buildPostgresDSN(host string, port int, database, user, password, sslmode string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(user), url.QueryEscape(password),
		host, port, url.PathEscape(database), sslmode)
}
