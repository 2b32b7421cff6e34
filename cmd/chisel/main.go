// Command chisel issues a staggered batch of processing requests against a
// remote service, polls each one for features with decaying backoff, and
// writes a JSON report of every flow's trace.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/tensorflight/chisel/internal/config"
	"github.com/tensorflight/chisel/internal/feeder"
	"github.com/tensorflight/chisel/internal/flow"
	"github.com/tensorflight/chisel/internal/httpclient"
	"github.com/tensorflight/chisel/internal/metrics"
	"github.com/tensorflight/chisel/internal/output"
	"github.com/tensorflight/chisel/internal/runner"
	"github.com/tensorflight/chisel/internal/schedule"
	"github.com/tensorflight/chisel/internal/threshold"
	"github.com/tensorflight/chisel/internal/tracing"
)

const (
	progressInterval = time.Second

	// Exit codes: 2 for threshold breach, 123/124 for declined
	// confirmation prompts.
	exitThresholdBreached = 2
	exitScheduleDeclined  = 123
	exitReportDeclined    = 124
)

func main() {
	code, err := run(os.Args[1:], os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run(args []string, stdin io.Reader, stdout io.Writer) (int, error) {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return 0, nil
		}
		return 0, err
	}
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return 0, err
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "chisel",
		Level:  hclog.LevelFromString(cfg.LogLevel),
		Output: os.Stderr,
	})

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(seed))

	addresses, err := feeder.LoadAddresses(cfg.AddressesFile)
	if err != nil {
		return 0, err
	}
	fmt.Fprintf(stdout, "Got %d addresses\n", len(addresses))

	entries := schedule.Plan(addresses, schedule.Options{
		Stagger:   cfg.Stagger,
		Deviation: cfg.Deviation,
		Shuffle:   cfg.Shuffle,
		Limit:     cfg.Limit,
		Rand:      rnd,
	})
	fmt.Fprintf(stdout, "Keeping %d addresses\n", len(entries))

	// Create the report target up front so an unwritable path surfaces
	// before any load is generated.
	report, reportErr := output.CreateReportFile(cfg.ReportFile)
	if reportErr != nil {
		logger.Warn("unable to create report file", "error", reportErr)
		if cfg.Yes {
			return 0, reportErr
		}
		if !confirm(stdin, stdout, fmt.Sprintf("Unable to create report file (%v), continue? [y/n] ", reportErr)) {
			fmt.Fprintln(stdout, "Aborting.")
			return exitReportDeclined, nil
		}
	} else {
		defer report.Close()
	}

	printSchedule(stdout, entries)
	if !cfg.Yes {
		if !confirm(stdin, stdout, "Does this look ok? [y/n] ") {
			fmt.Fprintln(stdout, "Aborting.")
			return exitScheduleDeclined, nil
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tracer, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return 0, err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	client := httpclient.NewClient(cfg.Timeout)
	collector := metrics.NewCollector()

	executor := flow.NewRunner(flow.Options{
		Client:    client,
		Logger:    logger,
		Collector: collector,
		Tracing:   tracer,
		Rand:      rnd,
	})

	requests := make([]flow.Request, len(entries))
	for i, entry := range entries {
		requests[i] = flow.Request{
			ID:     entry.Index,
			Domain: cfg.Domain,
			Payload: flow.Payload{
				Address: entry.Address,
				APIKey:  cfg.APIKey,
			},
			Offset: entry.Offset,
		}
	}

	r := runner.New(runner.Options{
		Executor:    executor,
		MaxInFlight: cfg.MaxInFlight,
		LaunchRate:  cfg.Rate,
	})

	progress := output.NewProgressReporter(r.Completed, len(requests), progressInterval, os.Stderr)
	progress.Start()

	logger.Info("starting run", "flows", len(requests), "seed", seed)
	fmt.Fprintf(stdout, "Starting at %s\n", time.Now().Format(time.RFC3339))

	res := r.Run(ctx, requests)

	progress.Stop()
	fmt.Fprintf(stdout, "Done at %s\n", time.Now().Format(time.RFC3339))

	stats := collector.Stats(res.Duration)
	var reportPath string
	if report != nil {
		reportPath = report.Path()
	}
	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, res, stats, reportPath); err != nil {
			return 0, err
		}
	} else {
		output.PrintReport(stdout, res, stats)
	}
	fmt.Fprintf(stdout, "%d/%d OK\n", res.Succeeded, res.Total)

	if report != nil {
		if err := report.Write(output.BuildReports(res.Flows)); err != nil {
			return 0, err
		}
		fmt.Fprintf(stdout, "Saved traces to %s\n", report.Path())
	}

	if len(thresholds) > 0 {
		results := threshold.NewEvaluator(thresholds).Evaluate(threshold.RunStats{
			FlowsTotal:     res.Total,
			FlowsSucceeded: res.Succeeded,
			Stats:          stats,
		})
		for _, tr := range results {
			fmt.Fprintln(stdout, tr.Message)
		}
		if !threshold.AllPassed(results) {
			return exitThresholdBreached, nil
		}
	}
	return 0, nil
}

// printSchedule summarizes the computed schedule before the confirmation gate.
func printSchedule(w io.Writer, entries []schedule.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "Nothing to schedule.")
		return
	}
	first := entries[0].Offset
	last := entries[len(entries)-1].Offset
	fmt.Fprintf(w, "About to schedule %d flows.\n", len(entries))
	fmt.Fprintf(w, "The first starts at %s, the last at %s.\n", first, last)
	if len(entries) > 10 && last > time.Microsecond {
		rate := float64(len(entries)) / last.Seconds()
		fmt.Fprintf(w, "This leads to a combined rate of %.2f requests per second.\n", rate)
	}
}

// confirm loops on stdin until the user answers y or n.
func confirm(stdin io.Reader, stdout io.Writer, prompt string) bool {
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, prompt)
		if !scanner.Scan() {
			return false
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "y", "Y":
			return true
		case "n", "N":
			return false
		}
	}
}
