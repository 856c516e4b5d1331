package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmwafulirwa/emr-dqa/internal/config"
	"github.com/lmwafulirwa/emr-dqa/internal/dqa"
	"github.com/lmwafulirwa/emr-dqa/internal/reconcile"
	"github.com/lmwafulirwa/emr-dqa/internal/reshape"
	"github.com/lmwafulirwa/emr-dqa/internal/source"
)

func testOrchestrator(workers int) *Orchestrator {
	return &Orchestrator{cfg: &config.Config{
		Audit: config.AuditConfig{Workers: workers},
	}}
}

func schemaNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("openmrs_site_%02d", i)
	}
	return names
}

func TestScanPreservesDiscoveryOrder(t *testing.T) {
	o := testOrchestrator(4)
	schemas := schemaNames(8)

	collect := func(ctx context.Context, schema string) (*source.Outcome, error) {
		// Finish out of order to exercise the index mapping.
		time.Sleep(time.Duration(schema[len(schema)-1]%3) * time.Millisecond)
		return &source.Outcome{Schema: schema}, nil
	}

	outcomes, err := o.scan(context.Background(), schemas, collect)
	require.NoError(t, err)
	require.Len(t, outcomes, len(schemas))
	for i, out := range outcomes {
		require.NotNil(t, out)
		assert.Equal(t, schemas[i], out.Schema)
	}
}

func TestScanStopsOnFirstError(t *testing.T) {
	o := testOrchestrator(2)
	schemas := schemaNames(6)

	var calls atomic.Int32
	collect := func(ctx context.Context, schema string) (*source.Outcome, error) {
		calls.Add(1)
		if schema == schemas[0] {
			return nil, fmt.Errorf("collecting %s.obs: access denied", schema)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
		return &source.Outcome{Schema: schema}, nil
	}

	_, err := o.scan(context.Background(), schemas, collect)
	require.Error(t, err)
	assert.Contains(t, err.Error(), schemas[0], "the lowest-index error is reported")
	assert.Less(t, calls.Load(), int32(len(schemas)), "remaining schemas should be cancelled")
}

func TestScanDefaultsToOneWorker(t *testing.T) {
	o := testOrchestrator(0)
	schemas := schemaNames(5)

	var inFlight, maxInFlight atomic.Int32
	collect := func(ctx context.Context, schema string) (*source.Outcome, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		return &source.Outcome{Schema: schema}, nil
	}

	_, err := o.scan(context.Background(), schemas, collect)
	require.NoError(t, err)
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestScanHonorsCancellation(t *testing.T) {
	o := testOrchestrator(2)
	ctx, cancel := context.WithCancel(context.Background())

	collect := func(ctx context.Context, schema string) (*source.Outcome, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := o.scan(ctx, schemaNames(4), collect)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeCollector struct {
	metrics map[string][]dqa.MetricRow
	skips   map[string][]dqa.Skip
}

func (f *fakeCollector) CollectFreshness(ctx context.Context, schema string) (*source.Outcome, error) {
	return &source.Outcome{Schema: schema, Metrics: f.metrics[schema], Skips: f.skips[schema]}, nil
}

func (f *fakeCollector) CollectCounts(ctx context.Context, schema string) (*source.Outcome, error) {
	return &source.Outcome{Schema: schema}, nil
}

type captureSink struct {
	freshness      []reshape.WideRow
	reconciliation []reconcile.Row
}

func (c *captureSink) WriteFreshness(ctx context.Context, rows []reshape.WideRow) error {
	c.freshness = rows
	return nil
}

func (c *captureSink) WriteReconciliation(ctx context.Context, rows []reconcile.Row) error {
	c.reconciliation = rows
	return nil
}

func (c *captureSink) Close() error { return nil }

func metric(schema, id, table string, day int) dqa.MetricRow {
	d := time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC)
	return dqa.MetricRow{
		Schema:       schema,
		FacilityID:   dqa.StringPtr(id),
		FacilityName: dqa.StringPtr("Facility " + id),
		TableName:    table,
		RecordCount:  10,
		MaxDate:      &d,
	}
}

func TestAuditFreshnessPivotsAndWrites(t *testing.T) {
	o := testOrchestrator(1)
	o.collector = &fakeCollector{
		metrics: map[string][]dqa.MetricRow{
			"openmrs_a": {
				metric("openmrs_a", "1000", "obs", 10),
				metric("openmrs_a", "1000", "encounter", 11),
				metric("openmrs_a", "1000", "orders", 12),
			},
			"openmrs_b": {
				metric("openmrs_b", "1001", "obs", 20),
			},
		},
		skips: map[string][]dqa.Skip{
			"openmrs_b": {
				{Schema: "openmrs_b", Table: "encounter"},
				{Schema: "openmrs_b", Table: "orders"},
			},
		},
	}

	dest := &captureSink{}
	var st stats
	err := o.auditFreshness(context.Background(), []string{"openmrs_a", "openmrs_b"}, dest, &st)
	require.NoError(t, err)

	require.Len(t, dest.freshness, 2)
	assert.Equal(t, "1000", *dest.freshness[0].FacilityID)
	assert.NotNil(t, dest.freshness[0].StdDev)
	assert.Equal(t, "1001", *dest.freshness[1].FacilityID)
	assert.Nil(t, dest.freshness[1].StdDev, "missing tables leave the std dev null")

	assert.Equal(t, 2, st.skips)
	assert.Equal(t, 2, st.rows)
}
