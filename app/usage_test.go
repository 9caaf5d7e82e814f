package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/justpaid/adapters/clock"
	"github.com/artpar/justpaid/domain/usage"
)

// fakeIngester records submitted batches and answers from canned values.
type fakeIngester struct {
	*scriptedJobs

	syncResp  usage.EventResponse
	syncErr   error
	asyncResp usage.AsyncResponse
	asyncErrs []error

	synced []usage.EventRequest
	queued []usage.EventRequest
}

func (f *fakeIngester) Ingest(_ context.Context, req usage.EventRequest) (usage.EventResponse, error) {
	f.synced = append(f.synced, req)
	return f.syncResp, f.syncErr
}

func (f *fakeIngester) IngestAsync(_ context.Context, req usage.EventRequest) (usage.AsyncResponse, error) {
	f.queued = append(f.queued, req)
	if len(f.asyncErrs) > 0 {
		err := f.asyncErrs[0]
		f.asyncErrs = f.asyncErrs[1:]
		if err != nil {
			return usage.AsyncResponse{}, err
		}
	}
	return f.asyncResp, nil
}

func sampleRequest(keys ...string) usage.EventRequest {
	events := make([]usage.Event, 0, len(keys))
	for _, k := range keys {
		events = append(events, usage.Event{
			CustomerID:     "cust-1",
			EventName:      "api_call",
			Timestamp:      "2024-03-01T12:00:00Z",
			IdempotencyKey: k,
			EventValue:     1,
		})
	}
	return usage.NewEventRequest(events...)
}

func TestUsageService_Ingest(t *testing.T) {
	var buf bytes.Buffer
	ing := &fakeIngester{
		syncResp: usage.EventResponse{
			Info:   usage.EventInfo{CreatedEvents: 1, Duplicates: []string{"k2"}},
			Errors: []usage.ErrorInfo{{IdempotencyKey: "k3", Error: "unknown item_id"}},
		},
	}
	svc := NewUsageService(ing, nil, zerolog.New(&buf))

	resp, err := svc.Ingest(context.Background(), sampleRequest("k1", "k2", "k3"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if resp.Info.CreatedEvents != 1 || !resp.Info.IsDuplicate("k2") {
		t.Errorf("response = %+v", resp)
	}
	if len(ing.synced) != 1 || len(ing.synced[0].Events) != 3 {
		t.Errorf("submitted = %+v", ing.synced)
	}

	out := buf.String()
	if !strings.Contains(out, `"created_events":1`) {
		t.Errorf("log missing counts: %s", out)
	}
	if !strings.Contains(out, `"idempotency_key":"k3"`) {
		t.Errorf("log missing rejected event: %s", out)
	}
}

func TestUsageService_IngestError(t *testing.T) {
	boom := errors.New("boom")
	svc := NewUsageService(&fakeIngester{syncErr: boom}, nil, zerolog.Nop())

	if _, err := svc.Ingest(context.Background(), sampleRequest("k1")); !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
}

func TestUsageService_IngestAndWait(t *testing.T) {
	jobs := newScriptedJobs(usage.JobPending, usage.JobSuccess)
	ing := &fakeIngester{
		scriptedJobs: jobs,
		asyncResp:    usage.AsyncResponse{JobID: "job-9", Status: usage.JobSubmitted, TotalEvents: 2},
	}
	waiter := NewJobWaiter(JobWaiterConfig{Jobs: ing, Clock: clock.NewFake(epoch)})
	svc := NewUsageService(ing, waiter, zerolog.Nop())

	ack, res, err := svc.IngestAndWait(context.Background(), sampleRequest("k1", "k2"))
	if err != nil {
		t.Fatalf("IngestAndWait() error = %v", err)
	}
	if ack.JobID != "job-9" || res.JobID != "job-9" {
		t.Errorf("ack = %+v, result = %+v", ack, res)
	}
	if res.Status != usage.JobSuccess || res.Polls != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestUsageService_IngestAndWaitTimeoutKeepsAck(t *testing.T) {
	ing := &fakeIngester{
		scriptedJobs: newScriptedJobs(usage.JobRunning),
		asyncResp:    usage.AsyncResponse{JobID: "job-9", Status: usage.JobSubmitted},
	}
	waiter := NewJobWaiter(JobWaiterConfig{
		Jobs:  ing,
		Clock: clock.NewFake(epoch),
		Poll:  PollConfig{Interval: 100 * time.Millisecond, MaxWait: 300 * time.Millisecond},
	})
	svc := NewUsageService(ing, waiter, zerolog.Nop())

	ack, res, err := svc.IngestAndWait(context.Background(), sampleRequest("k1"))
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("error = %v, want ErrWaitTimeout", err)
	}
	if ack.JobID != "job-9" || !res.TimedOut {
		t.Errorf("ack = %+v, result = %+v", ack, res)
	}
}

func TestUsageService_IngestAndWaitNeedsWaiter(t *testing.T) {
	ing := &fakeIngester{}
	svc := NewUsageService(ing, nil, zerolog.Nop())

	if _, _, err := svc.IngestAndWait(context.Background(), sampleRequest("k1")); err == nil {
		t.Fatal("expected error without a waiter")
	}
	if len(ing.queued) != 0 {
		t.Error("request submitted without a waiter")
	}
}
