// Package orchestrator drives the audit: discover facility schemas, fan the
// collectors out over them, reshape the results and replace the report tables.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lmwafulirwa/emr-dqa/internal/config"
	"github.com/lmwafulirwa/emr-dqa/internal/dqa"
	"github.com/lmwafulirwa/emr-dqa/internal/history"
	"github.com/lmwafulirwa/emr-dqa/internal/logging"
	"github.com/lmwafulirwa/emr-dqa/internal/notify"
	"github.com/lmwafulirwa/emr-dqa/internal/progress"
	"github.com/lmwafulirwa/emr-dqa/internal/reconcile"
	"github.com/lmwafulirwa/emr-dqa/internal/reshape"
	"github.com/lmwafulirwa/emr-dqa/internal/sink"
	"github.com/lmwafulirwa/emr-dqa/internal/source"
)

// Run kinds recorded in history and notifications.
const (
	KindFreshness = "freshness"
	KindReconcile = "reconcile"
	KindFull      = "full"
)

type schemaCollector interface {
	CollectFreshness(ctx context.Context, schema string) (*source.Outcome, error)
	CollectCounts(ctx context.Context, schema string) (*source.Outcome, error)
}

// Orchestrator owns the shared run state: configuration, run history and the
// notifier. Database connections are opened per run.
type Orchestrator struct {
	cfg       *config.Config
	store     *history.Store
	notifier  *notify.Notifier
	collector schemaCollector
	exclude   []string
}

// New creates an orchestrator and opens the run-history store.
func New(cfg *config.Config, exclude []string) (*Orchestrator, error) {
	store, err := history.Open(cfg.Audit.DataDir)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		notifier:  notify.New(&cfg.Notifications.Slack),
		collector: source.NewCollector(cfg),
		exclude:   exclude,
	}, nil
}

// Close releases the orchestrator's resources.
func (o *Orchestrator) Close() error {
	return o.store.Close()
}

// History returns the run-history store.
func (o *Orchestrator) History() *history.Store {
	return o.store
}

// ShowHistory prints the most recent runs to stdout.
func (o *Orchestrator) ShowHistory(limit int) error {
	runs, err := o.store.ListRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	fmt.Printf("%-36s  %-10s  %-8s  %-20s  %8s  %6s  %6s\n",
		"RUN ID", "KIND", "STATUS", "STARTED", "SCHEMAS", "SKIPS", "ROWS")
	for _, r := range runs {
		fmt.Printf("%-36s  %-10s  %-8s  %-20s  %8d  %6d  %6d\n",
			r.ID, r.Kind, r.Status, r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.SchemasFound, r.SchemasSkipped, r.RowsCollected)
		if r.Error != "" {
			fmt.Printf("    error: %s\n", r.Error)
		}
	}
	return nil
}

// RunFreshness produces only the freshness report.
func (o *Orchestrator) RunFreshness(ctx context.Context) error {
	return o.execute(ctx, KindFreshness)
}

// RunReconciliation produces only the reconciliation report.
func (o *Orchestrator) RunReconciliation(ctx context.Context) error {
	return o.execute(ctx, KindReconcile)
}

// Run produces both reports from a single schema discovery pass.
func (o *Orchestrator) Run(ctx context.Context) error {
	return o.execute(ctx, KindFull)
}

// stats summarizes a run for history and notification.
type stats struct {
	schemas int
	skips   int
	rows    int
}

func (o *Orchestrator) execute(ctx context.Context, kind string) error {
	start := time.Now()

	runID, err := o.store.StartRun(kind)
	if err != nil {
		return err
	}

	st, err := o.audit(ctx, kind)
	if err != nil {
		if ferr := o.store.FinishRun(runID, history.StatusFailed, st.schemas, st.skips, st.rows, err); ferr != nil {
			logging.Warn("Recording failed run: %v", ferr)
		}
		o.notifier.NotifyFailure(kind, err)
		return err
	}

	if err := o.store.FinishRun(runID, history.StatusSuccess, st.schemas, st.skips, st.rows, nil); err != nil {
		logging.Warn("Recording finished run: %v", err)
	}
	o.notifier.NotifySuccess(kind, st.schemas, st.skips, st.rows, time.Since(start))
	logging.Info("Audit %s complete in %s", kind, time.Since(start).Round(time.Second))
	return nil
}

func (o *Orchestrator) audit(ctx context.Context, kind string) (stats, error) {
	var st stats

	pool, err := source.NewPool(ctx, o.cfg)
	if err != nil {
		return st, err
	}
	schemas, err := pool.Discover(ctx, o.exclude)
	pool.Close()
	if err != nil {
		return st, err
	}
	st.schemas = len(schemas)
	if len(schemas) == 0 {
		return st, fmt.Errorf("no facility schemas matched prefix %q", o.cfg.Audit.SchemaPrefix)
	}

	dest, err := sink.New(ctx, o.cfg)
	if err != nil {
		return st, err
	}
	defer dest.Close()

	if kind == KindFreshness || kind == KindFull {
		if err := o.auditFreshness(ctx, schemas, dest, &st); err != nil {
			return st, err
		}
	}
	if kind == KindReconcile || kind == KindFull {
		if err := o.auditReconciliation(ctx, schemas, dest, &st); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (o *Orchestrator) auditFreshness(ctx context.Context, schemas []string, dest sink.Sink, st *stats) error {
	logging.Info("Collecting freshness metrics from %d schemas", len(schemas))
	outcomes, err := o.scan(ctx, schemas, o.collector.CollectFreshness)
	if err != nil {
		return err
	}

	var metrics []dqa.MetricRow
	for _, out := range outcomes {
		metrics = append(metrics, out.Metrics...)
		st.skips += len(out.Skips)
	}
	logging.Info("Collected %d freshness metrics", len(metrics))

	wide := reshape.Pivot(metrics, dqa.FreshnessTables)
	logging.Info("Pivoted into %d facility rows", len(wide))
	st.rows += len(wide)

	return dest.WriteFreshness(ctx, wide)
}

func (o *Orchestrator) auditReconciliation(ctx context.Context, schemas []string, dest sink.Sink, st *stats) error {
	logging.Info("Collecting record counts from %d schemas", len(schemas))
	outcomes, err := o.scan(ctx, schemas, o.collector.CollectCounts)
	if err != nil {
		return err
	}

	var counts []dqa.CountRow
	for _, out := range outcomes {
		counts = append(counts, out.Counts...)
		st.skips += len(out.Skips)
	}
	logging.Info("Collected %d facility count rows", len(counts))

	warehouse, err := reconcile.NewWarehouse(ctx, o.cfg)
	if err != nil {
		return err
	}
	whCounts, whSkips, err := warehouse.CollectCounts(ctx)
	warehouse.Close()
	if err != nil {
		return err
	}
	st.skips += len(whSkips)

	rows := reconcile.OuterJoin(counts, whCounts, time.Now().UTC())
	logging.Info("Reconciled into %d (site, table) rows", len(rows))
	st.rows += len(rows)

	return dest.WriteReconciliation(ctx, rows)
}

// scan runs collect over every schema with a bounded worker pool. Results land
// in a slice indexed by discovery order so output ordering does not depend on
// worker scheduling. The first error cancels the remaining work; errors are
// reported in discovery order so reruns fail on the same schema.
func (o *Orchestrator) scan(ctx context.Context, schemas []string,
	collect func(context.Context, string) (*source.Outcome, error)) ([]*source.Outcome, error) {

	workers := o.cfg.Audit.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(schemas) {
		workers = len(schemas)
	}

	tracker := progress.New()
	tracker.SetTotal(int64(len(schemas)))

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make([]*source.Outcome, len(schemas))
	errs := make([]error, len(schemas))
	indexes := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				out, err := collect(scanCtx, schemas[i])
				if err != nil {
					errs[i] = err
					cancel()
					return
				}
				outcomes[i] = out
				tracker.Add(1)
			}
		}()
	}

feed:
	for i := range schemas {
		select {
		case indexes <- i:
		case <-scanCtx.Done():
			break feed
		}
	}
	close(indexes)
	wg.Wait()
	tracker.Finish()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
