package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/lmwafulirwa/emr-dqa/internal/config"
	"github.com/lmwafulirwa/emr-dqa/internal/dqa"
	"github.com/lmwafulirwa/emr-dqa/internal/logging"
)

// erNoSuchTable is the MySQL error code for a missing relation. It is the one
// recoverable per-schema condition: the schema is structurally behind, which is
// a finding, not a failure.
const erNoSuchTable = 1146

// Outcome is the result of collecting one facility schema: the rows it
// contributed and the tables it was missing. A schema with skips still
// participates in the run for the tables it does possess.
type Outcome struct {
	Schema  string
	Metrics []dqa.MetricRow
	Counts  []dqa.CountRow
	Skips   []dqa.Skip
}

// Collector runs the fixed per-table aggregate queries against one facility
// schema at a time.
type Collector struct {
	cfg     *config.Config
	timeout time.Duration
}

// NewCollector creates a collector using the configured credentials and
// per-schema query timeout.
func NewCollector(cfg *config.Config) *Collector {
	return &Collector{cfg: cfg, timeout: cfg.Audit.QueryTimeout.Duration}
}

// CollectFreshness gathers count/max-date metrics for the freshness table set
// from one schema. Missing tables become Skips; every other database error is
// returned and aborts the run, including a deadline hit (an unreachable
// facility warrants operator attention, not a silent skip).
func (c *Collector) CollectFreshness(ctx context.Context, schema string) (*Outcome, error) {
	return c.collect(ctx, schema, true)
}

// CollectCounts gathers record counts for the reconciliation table set from
// one schema, keyed by the site id the schema reports for itself.
func (c *Collector) CollectCounts(ctx context.Context, schema string) (*Outcome, error) {
	return c.collect(ctx, schema, false)
}

func (c *Collector) collect(ctx context.Context, schema string, freshness bool) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	db, err := sql.Open("mysql", c.cfg.SourceDSN(schema))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", schema, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging %s: %w", schema, err)
	}

	if freshness {
		return c.freshnessForDB(ctx, db, schema)
	}
	return c.countsForDB(ctx, db, schema)
}

func (c *Collector) freshnessForDB(ctx context.Context, db *sql.DB, schema string) (*Outcome, error) {
	identity := resolveIdentity(ctx, db, schema)
	period := dqa.ReportingPeriod(time.Now())

	out := &Outcome{Schema: schema}
	for _, t := range dqa.FreshnessTables {
		query := fmt.Sprintf(
			"SELECT COALESCE(COUNT(*),0), MAX(DATE(%s)) FROM `%s` WHERE %s < NOW()",
			t.DateColumn, t.Name, t.DateColumn)

		var count int64
		var maxDate sql.NullTime
		err := db.QueryRowContext(ctx, query).Scan(&count, &maxDate)
		if IsMissingTable(err) {
			logging.Warn("Skipping %s.%s: table does not exist", schema, t.Name)
			out.Skips = append(out.Skips, dqa.Skip{Schema: schema, Table: t.Name})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("collecting %s.%s: %w", schema, t.Name, err)
		}

		row := dqa.MetricRow{
			Schema:          schema,
			FacilityID:      identity.FacilityID,
			FacilityName:    identity.FacilityName,
			TableName:       t.Name,
			RecordCount:     count,
			ReportingPeriod: period,
		}
		if maxDate.Valid {
			d := maxDate.Time
			row.MaxDate = &d
		}
		logging.Debug("%s.%s: %d records, reporting period %d", schema, t.Name, count, period)
		out.Metrics = append(out.Metrics, row)
	}
	return out, nil
}

func (c *Collector) countsForDB(ctx context.Context, db *sql.DB, schema string) (*Outcome, error) {
	identity := resolveIdentity(ctx, db, schema)
	siteID := identity.SiteID()
	if siteID == nil {
		logging.Warn("Schema %s has no numeric site id; its counts will not reconcile against the warehouse", schema)
	}

	out := &Outcome{Schema: schema}
	for _, t := range dqa.ReconciliationTables {
		query := fmt.Sprintf("SELECT COALESCE(COUNT(*),0) FROM `%s`", t.Name)

		var count int64
		err := db.QueryRowContext(ctx, query).Scan(&count)
		if IsMissingTable(err) {
			logging.Warn("Skipping %s.%s: table does not exist", schema, t.Name)
			out.Skips = append(out.Skips, dqa.Skip{Schema: schema, Table: t.Name})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("collecting %s.%s: %w", schema, t.Name, err)
		}

		out.Counts = append(out.Counts, dqa.CountRow{
			SiteID:      siteID,
			SiteName:    identity.FacilityName,
			TableName:   t.Name,
			RecordCount: count,
		})
	}
	return out, nil
}

// identityQuery resolves the facility's self-reported identity. The health
// center id lives in global_property; its display name in location.
const identityQuery = `
	SELECT gp.property_value, l.name
	FROM global_property gp
	LEFT JOIN location l ON l.location_id = gp.property_value
	WHERE gp.property = 'current_health_center_id'`

// resolveIdentity looks up the facility's configured identity. Misconfigured
// site metadata is common in the wild, so every failure mode here degrades to
// a null identity with a warning instead of aborting the scan: a missing
// configuration table, no configured id, or conflicting rows.
func resolveIdentity(ctx context.Context, db *sql.DB, schema string) dqa.Identity {
	rows, err := db.QueryContext(ctx, identityQuery)
	if IsMissingTable(err) {
		logging.Warn("Schema %s is missing its site configuration tables; reporting a null identity", schema)
		return dqa.Identity{}
	}
	if err != nil {
		logging.Warn("Schema %s: identity lookup failed (%v); reporting a null identity", schema, err)
		return dqa.Identity{}
	}
	defer rows.Close()

	var ids, names []string
	for rows.Next() {
		var id, name sql.NullString
		if err := rows.Scan(&id, &name); err != nil {
			logging.Warn("Schema %s: scanning identity row: %v", schema, err)
			return dqa.Identity{}
		}
		if id.Valid {
			ids = appendDistinct(ids, id.String)
		}
		if name.Valid {
			names = appendDistinct(names, name.String)
		}
	}
	if err := rows.Err(); err != nil {
		logging.Warn("Schema %s: reading identity rows: %v", schema, err)
		return dqa.Identity{}
	}

	switch {
	case len(ids) == 0:
		logging.Warn("Schema %s has no current_health_center_id configured", schema)
		return dqa.Identity{}
	case len(ids) > 1:
		logging.Warn("Schema %s reports conflicting facility ids %v; reporting a null identity", schema, ids)
		return dqa.Identity{}
	}

	identity := dqa.Identity{FacilityID: &ids[0]}
	switch {
	case len(names) == 1:
		identity.FacilityName = &names[0]
	case len(names) > 1:
		// Surface the conflict instead of silently picking one name.
		logging.Warn("Schema %s (facility %s) reports conflicting facility names %v; reporting a null name",
			schema, ids[0], names)
	}
	return identity
}

func appendDistinct(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

// IsMissingTable reports whether err is MySQL's "table doesn't exist" error,
// checked by error code rather than message text.
func IsMissingTable(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == erNoSuchTable
}
