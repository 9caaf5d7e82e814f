package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/justpaid/adapters/remote"
	"github.com/artpar/justpaid/app"
	"github.com/artpar/justpaid/config"
	"github.com/artpar/justpaid/core/formatter"
	"github.com/artpar/justpaid/ports"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "justpaid",
	Short: "Client for the JustPaid usage-billing API",
	Long: `justpaid submits usage events to JustPaid and reads billing data back.

Configuration is read from the file given with --config, or from JUSTPAID_*
environment variables when the file does not exist.

Quick start:
  justpaid sandbox                        # Local imitation of the API
  justpaid items --customer=<id>          # Billable items per customer
  justpaid ingest --file=events.json      # Submit a batch of usage events
  justpaid ingest --file=events.json --wait
  justpaid invoices --limit=20

Long-running:
  justpaid relay                          # Kafka topic -> JustPaid`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Interrupts cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "justpaid.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table",
		"output format ("+strings.Join(formatter.List(), ", ")+")")
}

// env is what most commands need: configuration, a logger, an API client and
// the output formatter.
type env struct {
	cfg    *config.Config
	logger zerolog.Logger
	api    *remote.JustPaid
	out    formatter.Formatter
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	out, err := formatter.Lookup(outputFormat)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Logging, cmd.ErrOrStderr())
	return &env{
		cfg:    cfg,
		logger: logger,
		api:    newAPI(cfg.API, logger, nil),
		out:    out,
	}, nil
}

// newAPI creates the API client. metrics may be nil.
func newAPI(c config.APIConfig, logger zerolog.Logger, metrics ports.Metrics) *remote.JustPaid {
	return remote.New(remote.ClientConfig{
		BaseURL: c.BaseURL,
		Token:   c.Token,
		Timeout: c.Timeout,
		Headers: c.Headers,
		Logger:  logger,
		Metrics: metrics,
	})
}

// newLogger builds the process logger. Logs go to w (stderr) so that command
// output on stdout stays machine readable.
func newLogger(c config.LoggingConfig, w io.Writer) zerolog.Logger {
	setLogLevel(c.Level)
	if c.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// setLogLevel applies level process-wide, so a reloaded level reaches every
// logger already handed out.
func setLogLevel(level string) {
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || l == zerolog.NoLevel {
		l = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(l)
}

func pollConfig(p config.PollingConfig) app.PollConfig {
	return app.PollConfig{
		Interval:    p.Interval,
		MaxInterval: p.MaxInterval,
		Multiplier:  p.Multiplier,
		MaxWait:     p.MaxWait,
	}
}

func formatOptions(cmd *cobra.Command) formatter.FormatOptions {
	var opts formatter.FormatOptions
	if cmd.Flags().Lookup("columns") != nil {
		opts.Columns, _ = cmd.Flags().GetStringSlice("columns")
	}
	if cmd.Flags().Lookup("no-header") != nil {
		opts.NoHeader, _ = cmd.Flags().GetBool("no-header")
	}
	return opts
}

func addFormatFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("columns", nil, "columns to show")
	cmd.Flags().Bool("no-header", false, "omit the table header")
}

// printRecords renders vs as a list through the selected formatter.
func printRecords[T any](e *env, cmd *cobra.Command, view formatter.View, vs []T) error {
	records, err := formatter.ToRecords(vs)
	if err != nil {
		return err
	}
	return e.out.FormatList(cmd.OutOrStdout(), view, records, formatOptions(cmd))
}

func printRecord(e *env, cmd *cobra.Command, view formatter.View, v any) error {
	record, err := formatter.ToRecord(v)
	if err != nil {
		return err
	}
	return e.out.FormatRecord(cmd.OutOrStdout(), view, record, formatOptions(cmd))
}
