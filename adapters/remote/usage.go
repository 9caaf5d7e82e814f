package remote

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/artpar/justpaid/domain/usage"
	"github.com/artpar/justpaid/ports"
)

// UsageAPI ingests usage events.
//
// API Contract:
//
//	POST /usage/ingest
//	Request:  {"events": [...]}
//	Response: {"info": {"created_events": 2, "duplicates": []}, "errors": [...]}
//
//	POST /usage/ingest/async
//	Request:  {"events": [...]}
//	Response: {"job_id": "...", "status": "SUBMITTED", "created_at": "...", "total_events": 2}
//
//	GET /usage/ingest/async/{job_id}
//	Response: {"job_id": "...", "status": "SUCCESS", "info": {...}, "errors": [...], ...}
type UsageAPI struct {
	client *Client
}

// NewUsageAPI creates the usage API adapter.
func NewUsageAPI(client *Client) *UsageAPI {
	return &UsageAPI{client: client}
}

// Ingest submits events synchronously. The request is validated first and an
// invalid request is never sent. Duplicates and per-event errors come back on
// the response.
func (u *UsageAPI) Ingest(ctx context.Context, req usage.EventRequest) (usage.EventResponse, error) {
	if err := req.Validate(); err != nil {
		return usage.EventResponse{}, err
	}

	body, err := u.client.Request(ctx, OpIngest, http.MethodPost, "/usage/ingest", nil, req)
	if err != nil {
		return usage.EventResponse{}, err
	}
	return decode(u.client, OpIngest, body, usage.ParseEventResponse)
}

// IngestAsync submits events for background processing. The acknowledgement
// says nothing about the validity of individual events; poll JobStatus.
func (u *UsageAPI) IngestAsync(ctx context.Context, req usage.EventRequest) (usage.AsyncResponse, error) {
	if err := req.Validate(); err != nil {
		return usage.AsyncResponse{}, err
	}

	body, err := u.client.Request(ctx, OpIngestAsync, http.MethodPost, "/usage/ingest/async", nil, req)
	if err != nil {
		return usage.AsyncResponse{}, err
	}
	return decode(u.client, OpIngestAsync, body, usage.ParseAsyncResponse)
}

// JobStatus fetches the status of an async ingestion job.
func (u *UsageAPI) JobStatus(ctx context.Context, jobID string) (usage.JobStatusResponse, error) {
	if strings.TrimSpace(jobID) == "" {
		return usage.JobStatusResponse{}, requiredError("JobStatusRequest", "job_id")
	}

	path := "/usage/ingest/async/" + url.PathEscape(jobID)
	body, err := u.client.Request(ctx, OpJobStatus, http.MethodGet, path, nil, nil)
	if err != nil {
		return usage.JobStatusResponse{}, err
	}
	return decode(u.client, OpJobStatus, body, usage.ParseJobStatusResponse)
}

var _ ports.UsageIngester = (*UsageAPI)(nil)
