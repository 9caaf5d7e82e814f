// Package ports defines interfaces (contracts) between layers.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/artpar/justpaid/domain/billing"
	"github.com/artpar/justpaid/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// JustPaid API Ports
// -----------------------------------------------------------------------------

// UsageIngester submits usage events to the platform.
//
// Per-event rejections and duplicates are data on the returned responses, not
// errors. Errors are local validation failures, transport failures and
// responses that do not match the documented schema.
type UsageIngester interface {
	Ingest(ctx context.Context, req usage.EventRequest) (usage.EventResponse, error)
	IngestAsync(ctx context.Context, req usage.EventRequest) (usage.AsyncResponse, error)
	JobStatusFetcher
}

// JobStatusFetcher reads the status of an async ingestion job.
type JobStatusFetcher interface {
	JobStatus(ctx context.Context, jobID string) (usage.JobStatusResponse, error)
}

// BillableItemsQuery filters a billable items lookup. Both fields are
// optional; empty values are not sent.
type BillableItemsQuery struct {
	CustomerID         string
	ExternalCustomerID string
}

// InvoiceListParams pages through invoices. Zero values are not sent and the
// platform defaults apply.
type InvoiceListParams struct {
	Limit  int
	Offset int
}

// BillingReader reads billing data from the platform.
type BillingReader interface {
	BillableItems(ctx context.Context, q BillableItemsQuery) (billing.BillableItemsResponse, error)
	Invoices(ctx context.Context, p InvoiceListParams) (billing.InvoiceListResponse, error)
}

// -----------------------------------------------------------------------------
// Event Source Ports
// -----------------------------------------------------------------------------

// Message is a record read from an event source.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// MessageSource delivers messages at least once. A message is redelivered
// until it is committed.
type MessageSource interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
	Close() error
}

// DeadLetterSink receives messages that can never be processed.
type DeadLetterSink interface {
	Publish(ctx context.Context, msg Message, reason string) error
}

// -----------------------------------------------------------------------------
// Metrics Ports
// -----------------------------------------------------------------------------

// Metrics records client-side telemetry. Implementations must be safe for
// concurrent use.
type Metrics interface {
	// ObserveRequest records one API call. status is the HTTP status code, or
	// 0 when no response was received.
	ObserveRequest(operation string, status int, d time.Duration)
	// IncSchemaDrift counts responses that failed to parse.
	IncSchemaDrift(operation string)
	// IncJobPoll counts one job status poll.
	IncJobPoll(status usage.JobStatus)
	// ObserveJobCompleted records how a waited-on job ended and how long the
	// wait took. outcome is a terminal status or "timeout".
	ObserveJobCompleted(outcome string, d time.Duration)
	// IncRelayMessage counts a relayed message by result.
	IncRelayMessage(result string)
}
