package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chisel DOMAIN API_KEY ADDRESSES_FILE",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Scheduling flags
	flags.BoolP("shuffle", "s", false, "Shuffle addresses before scheduling")
	flags.IntP("limit", "l", 0, "Keep at most this many addresses after shuffling (0 means all)")
	flags.Float64P("stagger", "S", 0, "Base delay in seconds between successive flow starts")
	flags.Float64P("deviation", "d", 0, "Stddev in seconds; when > 0, stagger increments are normally distributed")
	flags.Int64("seed", 0, "Random seed (0 means time-based)")

	// Launch control flags
	flags.IntP("rate", "r", 0, "Cap on flow launches per second, applied on top of offsets (0 means none)")
	flags.Int("max-inflight", 0, "Cap on concurrently executing flows (0 means unbounded)")
	flags.Duration("timeout", 30*time.Second, "Per-request HTTP timeout")

	// Output flags
	flags.String("report", "", "Report file path (default chisel-report-<ulid>.json)")
	flags.Bool("json-output", false, "Emit the run summary as JSON")
	flags.String("log-level", "info", "Log level: trace, debug, info, warn, or error")
	flags.StringSlice("threshold", nil, "Pass/fail assertion over run stats (repeatable, e.g. 'success:rate >= 0.9')")

	// Run control flags
	flags.BoolP("yes", "y", false, "Skip the interactive confirmation prompts")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Tracing flags
	flags.String("trace-endpoint", "", "OTLP endpoint for span export (empty disables tracing)")
	flags.String("trace-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.Float64("trace-sample-rate", 1.0, "Trace sampling ratio between 0.0 and 1.0")
	flags.Bool("trace-insecure", false, "Skip TLS for the OTLP exporter")
	flags.Bool("trace-propagate", false, "Inject W3C trace context headers into outgoing requests")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nPositional arguments:\n", cmd.UseLine())
	fmt.Fprintln(out, "  DOMAIN          Target base URL, e.g. https://api.example.com")
	fmt.Fprintln(out, "  API_KEY         API key sent in every request body")
	fmt.Fprintln(out, "  ADDRESSES_FILE  Newline-delimited file of addresses, one per flow")
	fmt.Fprintln(out, "\nFlags:")
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("shuffle") {
		val, err := fs.GetBool("shuffle")
		if err != nil {
			return err
		}
		cfg.Shuffle = val
	}
	if fs.Changed("limit") {
		val, err := fs.GetInt("limit")
		if err != nil {
			return err
		}
		cfg.Limit = val
	}
	if fs.Changed("stagger") {
		val, err := fs.GetFloat64("stagger")
		if err != nil {
			return err
		}
		cfg.Stagger = val
	}
	if fs.Changed("deviation") {
		val, err := fs.GetFloat64("deviation")
		if err != nil {
			return err
		}
		cfg.Deviation = val
	}
	if fs.Changed("seed") {
		val, err := fs.GetInt64("seed")
		if err != nil {
			return err
		}
		cfg.Seed = val
	}
	if fs.Changed("rate") {
		val, err := fs.GetInt("rate")
		if err != nil {
			return err
		}
		cfg.Rate = val
	}
	if fs.Changed("max-inflight") {
		val, err := fs.GetInt("max-inflight")
		if err != nil {
			return err
		}
		cfg.MaxInFlight = val
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("report") {
		val, err := fs.GetString("report")
		if err != nil {
			return err
		}
		cfg.ReportFile = val
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}
	if fs.Changed("yes") {
		val, err := fs.GetBool("yes")
		if err != nil {
			return err
		}
		cfg.Yes = val
	}
	if fs.Changed("trace-endpoint") {
		val, err := fs.GetString("trace-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = val
	}
	if fs.Changed("trace-protocol") {
		val, err := fs.GetString("trace-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = val
	}
	if fs.Changed("trace-sample-rate") {
		val, err := fs.GetFloat64("trace-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("trace-insecure") {
		val, err := fs.GetBool("trace-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("trace-propagate") {
		val, err := fs.GetBool("trace-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = val
	}
	return nil
}
