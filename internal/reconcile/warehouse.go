// Package reconcile collects warehouse-side record counts and joins them
// against the facility-side counts to surface ETL loss or duplication.
package reconcile

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"github.com/lmwafulirwa/emr-dqa/internal/config"
	"github.com/lmwafulirwa/emr-dqa/internal/dqa"
	"github.com/lmwafulirwa/emr-dqa/internal/logging"
	"github.com/lmwafulirwa/emr-dqa/internal/source"
)

// Warehouse wraps the OHDL warehouse connection.
type Warehouse struct {
	db  *sql.DB
	cfg *config.Config
}

// NewWarehouse opens and pings the warehouse connection. The caller owns Close.
func NewWarehouse(ctx context.Context, cfg *config.Config) (*Warehouse, error) {
	db, err := sql.Open("mysql", cfg.WarehouseDSN())
	if err != nil {
		return nil, fmt.Errorf("opening warehouse connection: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging warehouse: %w", err)
	}

	logging.Info("Connected to warehouse: %s:%d/%s", cfg.Warehouse.Host, cfg.Warehouse.Port, cfg.Warehouse.Database)
	return &Warehouse{db: db, cfg: cfg}, nil
}

// Close closes the warehouse connection.
func (w *Warehouse) Close() error {
	return w.db.Close()
}

// CollectCounts gathers per-site record counts for every reconciliation table,
// across all sites in one pass. A table missing from the warehouse is reported
// as a skip: every facility row for it will surface unmatched, which is the
// finding the operator needs to see.
func (w *Warehouse) CollectCounts(ctx context.Context) ([]dqa.CountRow, []dqa.Skip, error) {
	return w.countsForDB(ctx, w.db)
}

func (w *Warehouse) countsForDB(ctx context.Context, db *sql.DB) ([]dqa.CountRow, []dqa.Skip, error) {
	var rows []dqa.CountRow
	var skips []dqa.Skip

	for _, t := range dqa.ReconciliationTables {
		query := fmt.Sprintf("SELECT site_id, COALESCE(COUNT(*),0) FROM `%s`", t.Name)
		if w.cfg.Warehouse.ExcludeVoided && t.HasVoided {
			query += " WHERE voided = 0"
		}
		query += " GROUP BY site_id ORDER BY site_id"

		result, err := db.QueryContext(ctx, query)
		if source.IsMissingTable(err) {
			logging.Warn("Skipping warehouse.%s: table does not exist", t.Name)
			skips = append(skips, dqa.Skip{Schema: w.cfg.Warehouse.Database, Table: t.Name})
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("collecting warehouse.%s: %w", t.Name, err)
		}

		for result.Next() {
			var siteID sql.NullInt64
			var count int64
			if err := result.Scan(&siteID, &count); err != nil {
				result.Close()
				return nil, nil, fmt.Errorf("scanning warehouse.%s: %w", t.Name, err)
			}
			row := dqa.CountRow{TableName: t.Name, RecordCount: count}
			if siteID.Valid {
				row.SiteID = &siteID.Int64
			} else {
				// GROUP BY site_id yields a NULL group for unattributed records.
				logging.Warn("warehouse.%s has %d records with no site_id; they will surface unmatched", t.Name, count)
			}
			rows = append(rows, row)
		}
		if err := result.Err(); err != nil {
			result.Close()
			return nil, nil, fmt.Errorf("reading warehouse.%s: %w", t.Name, err)
		}
		result.Close()
	}

	logging.Info("Warehouse counts collected: %d rows", len(rows))
	return rows, skips, nil
}
