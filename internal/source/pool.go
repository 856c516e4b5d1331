// Package source connects to the facility MySQL instance, discovers facility
// schemas and collects per-schema data-quality metrics.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"github.com/lmwafulirwa/emr-dqa/internal/config"
	"github.com/lmwafulirwa/emr-dqa/internal/logging"
)

// Pool holds the instance-level connection used for schema discovery.
type Pool struct {
	db  *sql.DB
	cfg *config.Config
}

// NewPool opens an instance-level connection (no database selected) and
// verifies it with a ping. The caller owns Close.
func NewPool(ctx context.Context, cfg *config.Config) (*Pool, error) {
	db, err := sql.Open("mysql", cfg.SourceDSN(""))
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging instance: %w", err)
	}

	logging.Info("Connected to %s instance: %s:%d", serverType(ctx, db), cfg.Source.Host, cfg.Source.Port)

	return &Pool{db: db, cfg: cfg}, nil
}

// serverType probes VERSION() to distinguish MariaDB mirrors from stock MySQL.
// The probe is informational only; a failed probe falls back to "MySQL".
func serverType(ctx context.Context, db *sql.DB) string {
	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		logging.Debug("VERSION() probe failed: %v", err)
		return "MySQL"
	}
	if strings.Contains(strings.ToLower(version), "mariadb") {
		return "MariaDB"
	}
	return "MySQL"
}

// Close closes the instance connection.
func (p *Pool) Close() error {
	return p.db.Close()
}

// DB returns the underlying database handle.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// ListDatabases returns every database name on the instance, in the server's
// listing order.
func (p *Pool) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("listing databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning database name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
