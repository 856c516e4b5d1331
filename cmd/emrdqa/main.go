package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/lmwafulirwa/emr-dqa/internal/config"
	"github.com/lmwafulirwa/emr-dqa/internal/logging"
	"github.com/lmwafulirwa/emr-dqa/internal/orchestrator"
	"github.com/lmwafulirwa/emr-dqa/internal/version"
)

func main() {
	app := &cli.App{
		Name:    version.Name,
		Usage:   version.Description,
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format (text, json)",
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Produce both reports from one discovery pass",
				Action: runFull,
				Flags:  auditFlags(),
			},
			{
				Name:   "freshness",
				Usage:  "Produce only the freshness report",
				Action: runFreshness,
				Flags:  auditFlags(),
			},
			{
				Name:   "reconcile",
				Usage:  "Produce only the source-vs-warehouse reconciliation report",
				Action: runReconcile,
				Flags:  auditFlags(),
			},
			{
				Name:  "history",
				Usage: "List recent audit runs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Number of runs to show",
					},
				},
				Action: showHistory,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func auditFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Number of schemas scanned in parallel",
		},
		&cli.StringFlag{
			Name:  "exclude",
			Usage: "Comma-separated schema names to skip",
		},
	}
}

func setupLogging(c *cli.Context) error {
	level, err := logging.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	logging.SetLevel(level)
	logging.SetFormat(c.String("log-format"))
	return nil
}

func newOrchestrator(c *cli.Context) (*orchestrator.Orchestrator, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if c.IsSet("workers") {
		cfg.Audit.Workers = c.Int("workers")
	}

	orch, err := orchestrator.New(cfg, splitExclusions(c.String("exclude")))
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return orch, nil
}

// splitExclusions parses the --exclude flag's comma-separated schema names,
// dropping empty entries.
func splitExclusions(s string) []string {
	var names []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nInterrupted. Aborting audit...")
		cancel()
	}()

	return ctx, cancel
}

func runFull(c *cli.Context) error {
	orch, err := newOrchestrator(c)
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, cancel := signalContext()
	defer cancel()

	return orch.Run(ctx)
}

func runFreshness(c *cli.Context) error {
	orch, err := newOrchestrator(c)
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, cancel := signalContext()
	defer cancel()

	return orch.RunFreshness(ctx)
}

func runReconcile(c *cli.Context) error {
	orch, err := newOrchestrator(c)
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, cancel := signalContext()
	defer cancel()

	return orch.RunReconciliation(ctx)
}

func showHistory(c *cli.Context) error {
	orch, err := newOrchestrator(c)
	if err != nil {
		return err
	}
	defer orch.Close()

	return orch.ShowHistory(c.Int("limit"))
}
