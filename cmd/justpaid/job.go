package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/justpaid/adapters/clock"
	"github.com/artpar/justpaid/adapters/remote"
	"github.com/artpar/justpaid/app"
	"github.com/artpar/justpaid/core/formatter"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect background ingestion jobs",
	Long: `Inspect background ingestion jobs submitted with ingest --async.

Examples:
  justpaid job status 3f0c...
  justpaid job wait 3f0c... --max-wait=5m`,
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the current status of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobStatus,
}

var jobWaitCmd = &cobra.Command{
	Use:   "wait <job-id>",
	Short: "Poll a job until it succeeds or fails",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobWait,
}

var jobMaxWait time.Duration

var jobView = formatter.View{
	Kind:    "job",
	Columns: []string{"job_id", "status", "total_events", "created_at", "updated_at", "info", "errors"},
}

func init() {
	rootCmd.AddCommand(jobCmd)

	jobCmd.AddCommand(jobStatusCmd)
	jobCmd.AddCommand(jobWaitCmd)

	jobWaitCmd.Flags().DurationVar(&jobMaxWait, "max-wait", 0, "give up waiting after this long (default from config)")
	addFormatFlags(jobStatusCmd)
	addFormatFlags(jobWaitCmd)
}

func runJobStatus(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	resp, err := e.api.JobStatus(cmd.Context(), args[0])
	if remote.IsNotFound(err) {
		return fmt.Errorf("job %s not found", args[0])
	}
	if err != nil {
		return err
	}
	return printRecord(e, cmd, jobView, resp)
}

func runJobWait(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	poll := pollConfig(e.cfg.Polling)
	if jobMaxWait > 0 {
		poll.MaxWait = jobMaxWait
	}
	waiter := app.NewJobWaiter(app.JobWaiterConfig{
		Jobs:   e.api,
		Clock:  clock.Real{},
		Logger: e.logger,
		Poll:   poll,
	})

	res, err := waiter.Wait(cmd.Context(), args[0])
	switch {
	case remote.IsNotFound(err):
		return fmt.Errorf("job %s not found", args[0])
	case errors.Is(err, app.ErrWaitTimeout):
		if perr := printRecord(e, cmd, jobView, res.Response); perr != nil {
			return perr
		}
		return err
	case err != nil:
		return err
	}
	return printRecord(e, cmd, jobView, res.Response)
}
