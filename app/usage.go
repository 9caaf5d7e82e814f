package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artpar/justpaid/domain/usage"
	"github.com/artpar/justpaid/ports"
)

// UsageService ingests usage events and reports what the platform did with
// them.
type UsageService struct {
	ingester ports.UsageIngester
	waiter   *JobWaiter
	logger   zerolog.Logger
}

// NewUsageService creates a usage service. waiter may be nil when only
// synchronous ingestion is used.
func NewUsageService(ingester ports.UsageIngester, waiter *JobWaiter, logger zerolog.Logger) *UsageService {
	return &UsageService{
		ingester: ingester,
		waiter:   waiter,
		logger:   logger,
	}
}

// Ingest submits req synchronously.
func (s *UsageService) Ingest(ctx context.Context, req usage.EventRequest) (usage.EventResponse, error) {
	resp, err := s.ingester.Ingest(ctx, req)
	if err != nil {
		return usage.EventResponse{}, err
	}

	s.logger.Info().
		Int("events", len(req.Events)).
		Int("created_events", resp.Info.CreatedEvents).
		Int("duplicates", len(resp.Info.Duplicates)).
		Int("errors", len(resp.Errors)).
		Msg("usage ingested")
	for _, e := range resp.Errors {
		s.logger.Warn().Str("idempotency_key", e.IdempotencyKey).Str("error", e.Error).Msg("usage event rejected")
	}
	return resp, nil
}

// IngestAsync submits req as a background job.
func (s *UsageService) IngestAsync(ctx context.Context, req usage.EventRequest) (usage.AsyncResponse, error) {
	ack, err := s.ingester.IngestAsync(ctx, req)
	if err != nil {
		return usage.AsyncResponse{}, err
	}
	s.logger.Info().Str("job_id", ack.JobID).Int("total_events", ack.TotalEvents).Msg("usage job submitted")
	return ack, nil
}

// IngestAndWait submits req as a background job and waits for it. The
// acknowledgement is returned even when the wait fails, so the caller can
// still report the job id.
func (s *UsageService) IngestAndWait(ctx context.Context, req usage.EventRequest) (usage.AsyncResponse, WaitResult, error) {
	if s.waiter == nil {
		return usage.AsyncResponse{}, WaitResult{}, fmt.Errorf("usage service: no job waiter configured")
	}

	ack, err := s.IngestAsync(ctx, req)
	if err != nil {
		return usage.AsyncResponse{}, WaitResult{}, err
	}

	res, err := s.waiter.Wait(ctx, ack.JobID)
	return ack, res, err
}
