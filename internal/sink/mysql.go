package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"github.com/lmwafulirwa/emr-dqa/internal/config"
	"github.com/lmwafulirwa/emr-dqa/internal/dqa"
	"github.com/lmwafulirwa/emr-dqa/internal/logging"
	"github.com/lmwafulirwa/emr-dqa/internal/reconcile"
	"github.com/lmwafulirwa/emr-dqa/internal/reshape"
)

type mysqlSink struct {
	db *sql.DB
}

func newMySQLSink(ctx context.Context, cfg *config.Config) (*mysqlSink, error) {
	db, err := sql.Open("mysql", cfg.SinkDSN())
	if err != nil {
		return nil, fmt.Errorf("opening sink connection: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sink: %w", err)
	}

	logging.Info("Connected to sink: mysql %s:%d/%s", cfg.Sink.Host, cfg.Sink.Port, cfg.Sink.Database)
	return &mysqlSink{db: db}, nil
}

func (s *mysqlSink) Close() error {
	return s.db.Close()
}

func (s *mysqlSink) WriteFreshness(ctx context.Context, rows []reshape.WideRow) error {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = freshnessValues(r)
	}
	return s.replace(ctx, FreshnessTable, mysqlFreshnessDDL(), freshnessColumns(), values)
}

func (s *mysqlSink) WriteReconciliation(ctx context.Context, rows []reconcile.Row) error {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = reconciliationValues(r)
	}
	return s.replace(ctx, ReconciliationTable, mysqlReconciliationDDL(), reconciliationColumns, values)
}

// replace drops and recreates the destination table, then inserts every row in
// a single transaction and verifies the inserted count against the in-memory
// count. A mismatch aborts the run rather than publishing a short report.
func (s *mysqlSink) replace(ctx context.Context, table, ddl string, columns []string, values [][]any) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS `"+table+"`"); err != nil {
		return fmt.Errorf("dropping %s: %w", table, err)
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating %s: %w", table, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction for %s: %w", table, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, mysqlInsert(table, columns))
	if err != nil {
		return fmt.Errorf("preparing insert for %s: %w", table, err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range values {
		result, err := stmt.ExecContext(ctx, row...)
		if err != nil {
			return fmt.Errorf("inserting into %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("reading rows affected for %s: %w", table, err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", table, err)
	}

	if inserted != int64(len(values)) {
		return fmt.Errorf("%s row count mismatch: inserted %d, expected %d", table, inserted, len(values))
	}

	logging.Info("%s replaced: %d rows", table, inserted)
	return nil
}

func mysqlInsert(table string, columns []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",")
	return fmt.Sprintf("INSERT INTO `%s` (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders)
}

func mysqlFreshnessDDL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE `%s` (\n", FreshnessTable)
	b.WriteString("  facility_id VARCHAR(50) NULL,\n")
	b.WriteString("  facility_name VARCHAR(255) NULL,\n")
	for _, t := range dqa.FreshnessTables {
		fmt.Fprintf(&b, "  %s_max_date DATE NULL,\n", t.Name)
	}
	b.WriteString("  std_dev DOUBLE NULL\n)")
	return b.String()
}

func mysqlReconciliationDDL() string {
	return fmt.Sprintf("CREATE TABLE `%s` (\n"+
		"  site_id BIGINT NULL,\n"+
		"  site_name VARCHAR(255) NULL,\n"+
		"  table_name VARCHAR(64) NOT NULL,\n"+
		"  record_count_source BIGINT NULL,\n"+
		"  record_count_ohdl BIGINT NULL,\n"+
		"  variance BIGINT NULL,\n"+
		"  date_created DATETIME NOT NULL\n)", ReconciliationTable)
}
