package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/justpaid/core/schema"
	"github.com/artpar/justpaid/domain/usage"
	"github.com/artpar/justpaid/ports"
)

// Relay results, used in logs and metrics.
const (
	RelaySuccess = "success"
	RelayFailed  = "failed"
	RelayInvalid = "invalid"
	RelayTimeout = "timeout"
	RelayError   = "error"
)

// Relay moves usage batches from a message source into JustPaid.
//
// Each message value is an EventRequest document. It is submitted as an async
// job and its offset is committed once the job is terminal. Messages that can
// never succeed are sent to the dead-letter sink, when there is one, and
// committed. Transport failures leave the message uncommitted and it is retried
// after RetryDelay; idempotency keys make the resubmission safe.
type Relay struct {
	source     ports.MessageSource
	ingester   ports.UsageIngester
	waiter     *JobWaiter
	deadLetter ports.DeadLetterSink
	poll       func() PollConfig
	clock      ports.Clock
	retryDelay time.Duration
	logger     zerolog.Logger
	metrics    ports.Metrics
}

// RelayConfig configures a Relay.
type RelayConfig struct {
	Source   ports.MessageSource
	Ingester ports.UsageIngester
	Waiter   *JobWaiter
	// DeadLetter is optional.
	DeadLetter ports.DeadLetterSink
	// Poll returns the polling settings for the next job. It is called once
	// per message so reloaded settings apply without a restart.
	Poll       func() PollConfig
	Clock      ports.Clock
	RetryDelay time.Duration
	Logger     zerolog.Logger
	Metrics    ports.Metrics
}

// NewRelay creates a relay.
func NewRelay(cfg RelayConfig) *Relay {
	retry := cfg.RetryDelay
	if retry <= 0 {
		retry = 5 * time.Second
	}
	poll := cfg.Poll
	if poll == nil {
		poll = DefaultPollConfig
	}
	return &Relay{
		source:     cfg.Source,
		ingester:   cfg.Ingester,
		waiter:     cfg.Waiter,
		deadLetter: cfg.DeadLetter,
		poll:       poll,
		clock:      cfg.Clock,
		retryDelay: retry,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Run relays messages until ctx is cancelled. It returns nil on cancellation.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info().Msg("relay started")
	defer r.logger.Info().Msg("relay stopped")

	for {
		msg, err := r.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error().Err(err).Msg("fetch message")
			if r.clock.Sleep(ctx, r.retryDelay) != nil {
				return nil
			}
			continue
		}

		if !r.handleUntilDone(ctx, msg) {
			return nil
		}

		if err := r.source.Commit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error().Err(err).Msg("commit message")
		}
	}
}

// handleUntilDone retries msg until it no longer needs retrying. It reports
// false when ctx was cancelled first.
func (r *Relay) handleUntilDone(ctx context.Context, msg ports.Message) bool {
	for {
		result, err := r.Handle(ctx, msg)
		if r.metrics != nil {
			r.metrics.IncRelayMessage(result)
		}
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		r.logger.Warn().Err(err).
			Str("topic", msg.Topic).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Dur("retry_in", r.retryDelay).
			Msg("relay failed, will retry")
		if r.clock.Sleep(ctx, r.retryDelay) != nil {
			return false
		}
	}
}

// Handle processes one message and reports its result. A non-nil error means
// the message must not be committed.
func (r *Relay) Handle(ctx context.Context, msg ports.Message) (string, error) {
	log := r.logger.With().
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()

	req, err := usage.ParseEventRequest(msg.Value)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		return r.reject(ctx, log, msg, err)
	}

	ack, err := r.ingester.IngestAsync(ctx, req)
	if err != nil {
		if isPermanent(err) {
			return r.reject(ctx, log, msg, err)
		}
		return RelayError, err
	}

	res, err := r.waiter.WaitWith(ctx, ack.JobID, r.poll())
	switch {
	case errors.Is(err, ErrWaitTimeout):
		log.Warn().Str("job_id", ack.JobID).Str("status", string(res.Status)).Msg("job still running, committing")
		return RelayTimeout, nil
	case err != nil && ctx.Err() == nil && isPermanentJobError(err):
		return r.reject(ctx, log, msg, fmt.Errorf("job %s: %w", ack.JobID, err))
	case err != nil:
		return RelayError, err
	}

	event := log.Info().
		Str("job_id", ack.JobID).
		Str("status", string(res.Status)).
		Int("total_events", ack.TotalEvents).
		Int("errors", len(res.Response.Errors))
	if info := res.Response.Info; info != nil {
		event = event.Int("created_events", info.CreatedEvents).Int("duplicates", len(info.Duplicates))
	}
	event.Msg("usage batch relayed")

	if res.Status == usage.JobFailed {
		return RelayFailed, nil
	}
	return RelaySuccess, nil
}

func (r *Relay) reject(ctx context.Context, log zerolog.Logger, msg ports.Message, cause error) (string, error) {
	log.Warn().Err(cause).Msg("skipping invalid message")
	if r.deadLetter != nil {
		if err := r.deadLetter.Publish(ctx, msg, cause.Error()); err != nil {
			return RelayError, err
		}
	}
	return RelayInvalid, nil
}

// isPermanent reports whether resubmitting would fail the same way: the
// request is invalid, the platform rejected it as malformed, or its answer
// could not be parsed.
func isPermanent(err error) bool {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return true
	}
	var status interface{ HTTPStatus() int }
	if errors.As(err, &status) {
		code := status.HTTPStatus()
		return code == 400 || code == 422
	}
	return false
}

// isPermanentJobError reports whether a failed job lookup will keep failing.
// A job the platform no longer knows cannot finish, so the batch is rejected
// rather than resubmitted.
func isPermanentJobError(err error) bool {
	if isPermanent(err) {
		return true
	}
	var status interface{ HTTPStatus() int }
	return errors.As(err, &status) && status.HTTPStatus() == http.StatusNotFound
}
