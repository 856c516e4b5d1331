// Package sink persists the two report tables. Destinations are replaced
// wholesale each run: drop, recreate, insert, verify the inserted row count.
// Any failure here is fatal; a partially written report is worse than none.
package sink

import (
	"context"
	"fmt"

	"github.com/lmwafulirwa/emr-dqa/internal/config"
	"github.com/lmwafulirwa/emr-dqa/internal/dqa"
	"github.com/lmwafulirwa/emr-dqa/internal/reconcile"
	"github.com/lmwafulirwa/emr-dqa/internal/reshape"
)

const (
	// FreshnessTable is the destination for the wide freshness report.
	FreshnessTable = "freshness_report"

	// ReconciliationTable is the destination for the reconciliation report.
	ReconciliationTable = "reconciliation_report"
)

// Sink writes report tables to the configured destination.
type Sink interface {
	WriteFreshness(ctx context.Context, rows []reshape.WideRow) error
	WriteReconciliation(ctx context.Context, rows []reconcile.Row) error
	Close() error
}

// New opens a sink for the configured destination type.
func New(ctx context.Context, cfg *config.Config) (Sink, error) {
	switch cfg.Sink.Type {
	case "mysql":
		return newMySQLSink(ctx, cfg)
	case "postgres":
		return newPostgresSink(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported sink type %q", cfg.Sink.Type)
	}
}

// freshnessColumns returns the report's column names in output order:
// identity, one max-date column per audited table, then the statistic.
func freshnessColumns() []string {
	cols := []string{"facility_id", "facility_name"}
	for _, t := range dqa.FreshnessTables {
		cols = append(cols, t.Name+"_max_date")
	}
	return append(cols, "std_dev")
}

// freshnessValues flattens a wide row into insert values matching
// freshnessColumns order. Nil pointers become SQL NULLs.
func freshnessValues(w reshape.WideRow) []any {
	values := []any{ptrValue(w.FacilityID), ptrValue(w.FacilityName)}
	for _, t := range dqa.FreshnessTables {
		values = append(values, ptrValue(w.MaxDates[t.Name]))
	}
	return append(values, ptrValue(w.StdDev))
}

var reconciliationColumns = []string{
	"site_id", "site_name", "table_name",
	"record_count_source", "record_count_ohdl", "variance", "date_created",
}

func reconciliationValues(r reconcile.Row) []any {
	return []any{
		ptrValue(r.SiteID), ptrValue(r.SiteName), r.TableName,
		ptrValue(r.CountSource), ptrValue(r.CountOHDL), ptrValue(r.Variance), r.DateCreated,
	}
}

// ptrValue unwraps a pointer into its value or a typed nil for NULL.
func ptrValue[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
