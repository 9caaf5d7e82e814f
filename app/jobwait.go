// Package app contains the services that orchestrate the JustPaid adapters:
// waiting on async ingestion jobs, ingesting usage and relaying usage batches
// from a message broker.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/justpaid/domain/usage"
	"github.com/artpar/justpaid/ports"
)

// MinPollInterval is the smallest interval between two status polls.
const MinPollInterval = 10 * time.Millisecond

// ErrWaitTimeout is returned when a job is still running at the end of the
// wait. The job itself is unaffected and may still complete.
var ErrWaitTimeout = errors.New("timed out waiting for job")

// PollConfig controls how a job is polled.
type PollConfig struct {
	// Interval is the wait before the second poll. The first poll is immediate.
	Interval time.Duration
	// MaxInterval caps the wait between polls.
	MaxInterval time.Duration
	// Multiplier grows the wait after every poll. 1 or less polls at a fixed
	// Interval.
	Multiplier float64
	// MaxWait bounds the whole wait.
	MaxWait time.Duration
}

// DefaultPollConfig returns the default polling settings.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:    100 * time.Millisecond,
		MaxInterval: 5 * time.Second,
		Multiplier:  1.5,
		MaxWait:     10 * time.Minute,
	}
}

// normalize fills unset fields and enforces MinPollInterval.
func (c PollConfig) normalize() PollConfig {
	def := DefaultPollConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.Interval < MinPollInterval {
		c.Interval = MinPollInterval
	}
	if c.MaxInterval < c.Interval {
		c.MaxInterval = c.Interval
	}
	if c.Multiplier < 1 {
		c.Multiplier = 1
	}
	if c.MaxWait <= 0 {
		c.MaxWait = def.MaxWait
	}
	return c
}

// WaitResult describes how a wait ended.
type WaitResult struct {
	JobID string
	// Status is the last status observed; empty if no poll succeeded.
	Status usage.JobStatus
	// Response is the last status report received.
	Response usage.JobStatusResponse
	Polls    int
	Elapsed  time.Duration
	TimedOut bool
}

// JobWaiter polls an async ingestion job until it reaches a terminal status.
type JobWaiter struct {
	jobs    ports.JobStatusFetcher
	clock   ports.Clock
	logger  zerolog.Logger
	metrics ports.Metrics
	poll    PollConfig
}

// JobWaiterConfig configures a JobWaiter. Clock is required.
type JobWaiterConfig struct {
	Jobs    ports.JobStatusFetcher
	Clock   ports.Clock
	Logger  zerolog.Logger
	Metrics ports.Metrics
	Poll    PollConfig
}

// NewJobWaiter creates a waiter.
func NewJobWaiter(cfg JobWaiterConfig) *JobWaiter {
	return &JobWaiter{
		jobs:    cfg.Jobs,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		poll:    cfg.Poll.normalize(),
	}
}

// Wait polls jobID with the waiter's settings. See WaitWith.
func (w *JobWaiter) Wait(ctx context.Context, jobID string) (WaitResult, error) {
	return w.WaitWith(ctx, jobID, w.poll)
}

// WaitWith polls jobID until it is SUCCESS or FAILED.
//
// A FAILED job is a normal outcome and returns a nil error. When MaxWait
// elapses first the result has TimedOut set and the error is ErrWaitTimeout.
// Cancelling ctx stops polling and returns ctx.Err(). A failed poll is
// returned as is; polls are never retried.
func (w *JobWaiter) WaitWith(ctx context.Context, jobID string, poll PollConfig) (WaitResult, error) {
	poll = poll.normalize()
	start := w.clock.Now()
	deadline := start.Add(poll.MaxWait)
	interval := poll.Interval

	res := WaitResult{JobID: jobID}
	log := w.logger.With().Str("job_id", jobID).Logger()

	for {
		resp, err := w.jobs.JobStatus(ctx, jobID)
		if err != nil {
			res.Elapsed = w.clock.Now().Sub(start)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			return res, err
		}

		res.Polls++
		if w.metrics != nil {
			w.metrics.IncJobPoll(resp.Status)
		}
		if resp.Status != res.Status {
			log.Debug().Str("status", string(resp.Status)).Int("poll", res.Polls).Msg("job status changed")
		}
		res.Status = resp.Status
		res.Response = resp

		now := w.clock.Now()
		res.Elapsed = now.Sub(start)

		if resp.Status.IsTerminal() {
			event := log.Info().Str("status", string(resp.Status)).Int("polls", res.Polls).Dur("elapsed", res.Elapsed)
			if resp.Info != nil {
				event = event.Int("created_events", resp.Info.CreatedEvents).Int("duplicates", len(resp.Info.Duplicates))
			}
			event.Int("errors", len(resp.Errors)).Msg("job finished")
			w.completed(string(resp.Status), res.Elapsed)
			return res, nil
		}

		remaining := deadline.Sub(now)
		if remaining <= 0 {
			res.TimedOut = true
			log.Warn().Str("status", string(resp.Status)).Int("polls", res.Polls).Dur("elapsed", res.Elapsed).Msg("gave up waiting for job")
			w.completed("timeout", res.Elapsed)
			return res, fmt.Errorf("%w: job %s still %s after %s", ErrWaitTimeout, jobID, resp.Status, res.Elapsed)
		}

		// The last wait is cut to the deadline but never below MinPollInterval.
		if err := w.clock.Sleep(ctx, max(min(interval, remaining), MinPollInterval)); err != nil {
			res.Elapsed = w.clock.Now().Sub(start)
			return res, err
		}
		interval = nextInterval(interval, poll)
	}
}

func (w *JobWaiter) completed(outcome string, d time.Duration) {
	if w.metrics != nil {
		w.metrics.ObserveJobCompleted(outcome, d)
	}
}

func nextInterval(current time.Duration, poll PollConfig) time.Duration {
	next := time.Duration(float64(current) * poll.Multiplier)
	if next > poll.MaxInterval || next <= 0 {
		return poll.MaxInterval
	}
	return next
}
