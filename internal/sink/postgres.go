package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lmwafulirwa/emr-dqa/internal/config"
	"github.com/lmwafulirwa/emr-dqa/internal/dqa"
	"github.com/lmwafulirwa/emr-dqa/internal/logging"
	"github.com/lmwafulirwa/emr-dqa/internal/reconcile"
	"github.com/lmwafulirwa/emr-dqa/internal/reshape"
)

type postgresSink struct {
	pool *pgxpool.Pool
}

// reportTx is the slice of pgx.Tx the writer uses.
type reportTx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

func newPostgresSink(ctx context.Context, cfg *config.Config) (*postgresSink, error) {
	pool, err := pgxpool.New(ctx, cfg.SinkDSN())
	if err != nil {
		return nil, fmt.Errorf("opening sink pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging sink: %w", err)
	}

	logging.Info("Connected to sink: postgres %s:%d/%s", cfg.Sink.Host, cfg.Sink.Port, cfg.Sink.Database)
	return &postgresSink{pool: pool}, nil
}

func (s *postgresSink) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresSink) WriteFreshness(ctx context.Context, rows []reshape.WideRow) error {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = freshnessValues(r)
	}
	return s.replace(ctx, FreshnessTable, postgresFreshnessDDL(), freshnessColumns(), values)
}

func (s *postgresSink) WriteReconciliation(ctx context.Context, rows []reconcile.Row) error {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = reconciliationValues(r)
	}
	return s.replace(ctx, ReconciliationTable, postgresReconciliationDDL(), reconciliationColumns, values)
}

func (s *postgresSink) replace(ctx context.Context, table, ddl string, columns []string, values [][]any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction for %s: %w", table, err)
	}
	return replaceInTx(ctx, tx, table, ddl, columns, values)
}

// replaceInTx drops and recreates the destination table inside the given
// transaction, bulk-loads every row with COPY, and verifies the copied count
// against the in-memory count before committing.
func replaceInTx(ctx context.Context, tx reportTx, table, ddl string, columns []string, values [][]any) error {
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("dropping %s: %w", table, err)
	}
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating %s: %w", table, err)
	}

	copied, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(values))
	if err != nil {
		return fmt.Errorf("copying into %s: %w", table, err)
	}
	if copied != int64(len(values)) {
		return fmt.Errorf("%s row count mismatch: copied %d, expected %d", table, copied, len(values))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing %s: %w", table, err)
	}

	logging.Info("%s replaced: %d rows", table, copied)
	return nil
}

func postgresFreshnessDDL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", FreshnessTable)
	b.WriteString("  facility_id VARCHAR(50),\n")
	b.WriteString("  facility_name VARCHAR(255),\n")
	for _, t := range dqa.FreshnessTables {
		fmt.Fprintf(&b, "  %s_max_date DATE,\n", t.Name)
	}
	b.WriteString("  std_dev DOUBLE PRECISION\n)")
	return b.String()
}

func postgresReconciliationDDL() string {
	return fmt.Sprintf("CREATE TABLE %s (\n"+
		"  site_id BIGINT,\n"+
		"  site_name VARCHAR(255),\n"+
		"  table_name VARCHAR(64) NOT NULL,\n"+
		"  record_count_source BIGINT,\n"+
		"  record_count_ohdl BIGINT,\n"+
		"  variance BIGINT,\n"+
		"  date_created TIMESTAMPTZ NOT NULL\n)", ReconciliationTable)
}
