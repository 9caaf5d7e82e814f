package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/justpaid/adapters/sandbox"
	"github.com/artpar/justpaid/config"
	"github.com/artpar/justpaid/domain/usage"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Serve an in-memory imitation of the JustPaid API",
	Long: `Serve an in-memory imitation of the JustPaid API for local development.

Events are kept in memory until the process exits. Async jobs report each
of --job-steps on successive status polls before finishing.

Point the client at it with:
  JUSTPAID_BASE_URL=http://localhost:8090/api/v1 JUSTPAID_API_TOKEN=<token>

Examples:
  justpaid sandbox
  justpaid sandbox --addr=:9000 --token=sk_test --fixtures=catalog.json
  justpaid sandbox --job-steps=PENDING,RUNNING,RUNNING --fail-on-errors`,
	RunE: runSandbox,
}

var (
	sandboxAddr         string
	sandboxToken        string
	sandboxFixtures     string
	sandboxJobSteps     []string
	sandboxFailOnErrors bool
)

func init() {
	rootCmd.AddCommand(sandboxCmd)

	f := sandboxCmd.Flags()
	f.StringVar(&sandboxAddr, "addr", "", "listen address (default from config, :8090)")
	f.StringVar(&sandboxToken, "token", "", "bearer token to require (default from config; empty accepts any)")
	f.StringVar(&sandboxFixtures, "fixtures", "", "JSON file with customers and invoices (default demo catalog)")
	f.StringSliceVar(&sandboxJobSteps, "job-steps", nil, "statuses an async job reports before finishing")
	f.BoolVar(&sandboxFailOnErrors, "fail-on-errors", false, "end jobs with rejected events as FAILED")
}

func runSandbox(cmd *cobra.Command, args []string) error {
	cfg, err := loadSandboxConfig()
	if err != nil {
		return err
	}
	sc := cfg.Sandbox
	flags := cmd.Flags()
	if flags.Changed("addr") {
		sc.Addr = sandboxAddr
	}
	if flags.Changed("token") {
		sc.Token = sandboxToken
	}
	if flags.Changed("fixtures") {
		sc.Fixtures = sandboxFixtures
	}
	if flags.Changed("job-steps") {
		sc.JobSteps = sandboxJobSteps
	}
	if flags.Changed("fail-on-errors") {
		sc.FailOnErrors = sandboxFailOnErrors
	}

	logger := newLogger(cfg.Logging, cmd.ErrOrStderr()).With().Str("component", "sandbox").Logger()

	fixtures, err := sandbox.LoadFixtures(sc.Fixtures)
	if err != nil {
		return err
	}
	steps, err := jobSteps(sc.JobSteps)
	if err != nil {
		return err
	}

	server := sandbox.New(sandbox.Config{
		Token:        sc.Token,
		Customers:    fixtures.Customers,
		Invoices:     fixtures.Invoices,
		JobSteps:     steps,
		FailOnErrors: sc.FailOnErrors,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              sc.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", sc.Addr).
			Str("base_path", sandbox.BasePath).
			Int("customers", len(fixtures.Customers)).
			Int("invoices", len(fixtures.Invoices)).
			Bool("auth", sc.Token != "").
			Msg("sandbox listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-cmd.Context().Done():
	}

	logger.Info().Int("events", len(server.Accepted())).Msg("shutting down sandbox")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// loadSandboxConfig reads the config file when there is one. The sandbox
// needs no API token, so a missing file is not an error.
func loadSandboxConfig() (*config.Config, error) {
	if _, err := os.Stat(cfgFile); err == nil {
		return config.Load(cfgFile)
	}
	if config.HasEnvConfig() {
		return config.LoadFromEnv()
	}
	return config.Defaults(), nil
}

// jobSteps converts configured status names. Nil keeps the sandbox default.
func jobSteps(names []string) ([]usage.JobStatus, error) {
	if names == nil {
		return nil, nil
	}
	steps := make([]usage.JobStatus, 0, len(names))
	for _, name := range names {
		s := usage.JobStatus(strings.ToUpper(strings.TrimSpace(name)))
		switch s {
		case usage.JobSubmitted, usage.JobPending, usage.JobRunning:
			steps = append(steps, s)
		default:
			return nil, fmt.Errorf("job step %q must be SUBMITTED, PENDING or RUNNING", name)
		}
	}
	return steps, nil
}
