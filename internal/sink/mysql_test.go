package sink

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmwafulirwa/emr-dqa/internal/config"
	"github.com/lmwafulirwa/emr-dqa/internal/dqa"
	"github.com/lmwafulirwa/emr-dqa/internal/reconcile"
	"github.com/lmwafulirwa/emr-dqa/internal/reshape"
)

func float64Ptr(f float64) *float64 { return &f }

func wideRow(id, name string) reshape.WideRow {
	d := time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC)
	return reshape.WideRow{
		FacilityID:   dqa.StringPtr(id),
		FacilityName: dqa.StringPtr(name),
		MaxDates: map[string]*time.Time{
			"obs":       &d,
			"encounter": &d,
			"orders":    nil,
		},
		StdDev: float64Ptr(1.5),
	}
}

func TestMySQLWriteFreshness(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE IF EXISTS `freshness_report`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE `freshness_report`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(mysqlInsert(FreshnessTable, freshnessColumns())))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	s := &mysqlSink{db: db}
	rows := []reshape.WideRow{wideRow("1000", "Site A"), wideRow("1001", "Site B")}
	require.NoError(t, s.WriteFreshness(context.Background(), rows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLWriteReconciliation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE IF EXISTS `reconciliation_report`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE `reconciliation_report`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(mysqlInsert(ReconciliationTable, reconciliationColumns)))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	s := &mysqlSink{db: db}
	rows := []reconcile.Row{{
		SiteID:      dqa.Int64Ptr(1000),
		SiteName:    dqa.StringPtr("Site A"),
		TableName:   "obs",
		CountSource: dqa.Int64Ptr(100),
		CountOHDL:   dqa.Int64Ptr(97),
		Variance:    dqa.Int64Ptr(3),
		DateCreated: time.Date(2024, 4, 1, 6, 0, 0, 0, time.UTC),
	}}
	require.NoError(t, s.WriteReconciliation(context.Background(), rows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLRowCountMismatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE IF EXISTS `freshness_report`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE `freshness_report`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(mysqlInsert(FreshnessTable, freshnessColumns())))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	s := &mysqlSink{db: db}
	err = s.WriteFreshness(context.Background(), []reshape.WideRow{wideRow("1000", "Site A")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row count mismatch")
}

func TestMySQLInsertFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE IF EXISTS `freshness_report`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE `freshness_report`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(mysqlInsert(FreshnessTable, freshnessColumns())))
	prep.ExpectExec().WillReturnError(assert.AnError)
	mock.ExpectRollback()

	s := &mysqlSink{db: db}
	err = s.WriteFreshness(context.Background(), []reshape.WideRow{wideRow("1000", "Site A")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserting into freshness_report")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRejectsUnknownSinkType(t *testing.T) {
	cfg := &config.Config{Sink: config.SinkConfig{Type: "oracle"}}
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported sink type")
}

func TestFreshnessColumnsOrder(t *testing.T) {
	want := []string{
		"facility_id", "facility_name",
		"obs_max_date", "encounter_max_date", "orders_max_date",
		"std_dev",
	}
	assert.Equal(t, want, freshnessColumns())
}

func TestFreshnessValuesNullHandling(t *testing.T) {
	w := reshape.WideRow{MaxDates: map[string]*time.Time{}}
	values := freshnessValues(w)
	require.Len(t, values, len(freshnessColumns()))
	for i, v := range values {
		assert.Nil(t, v, "column %d should be NULL", i)
	}
}
