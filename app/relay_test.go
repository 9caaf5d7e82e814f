package app

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/justpaid/adapters/clock"
	"github.com/artpar/justpaid/adapters/remote"
	"github.com/artpar/justpaid/domain/usage"
	"github.com/artpar/justpaid/ports"
)

// fakeSource hands out queued messages and cancels the run once drained.
type fakeSource struct {
	msgs      []ports.Message
	fetchErrs []error
	committed []int64
	cancel    context.CancelFunc
}

func (s *fakeSource) Fetch(ctx context.Context) (ports.Message, error) {
	if len(s.fetchErrs) > 0 {
		err := s.fetchErrs[0]
		s.fetchErrs = s.fetchErrs[1:]
		return ports.Message{}, err
	}
	if len(s.msgs) == 0 {
		s.cancel()
		return ports.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func (s *fakeSource) Commit(_ context.Context, msg ports.Message) error {
	s.committed = append(s.committed, msg.Offset)
	return nil
}

func (s *fakeSource) Close() error { return nil }

type deadLettered struct {
	offset int64
	reason string
}

type fakeDeadLetter struct {
	published []deadLettered
}

func (d *fakeDeadLetter) Publish(_ context.Context, msg ports.Message, reason string) error {
	d.published = append(d.published, deadLettered{msg.Offset, reason})
	return nil
}

// statusError mimics a transport error carrying an HTTP status.
type statusError int

func (e statusError) Error() string   { return http.StatusText(int(e)) }
func (e statusError) HTTPStatus() int { return int(e) }

const validBatch = `{"events":[{"customer_id":"cust-1","event_name":"api_call","timestamp":"2024-03-01T12:00:00Z","idempotency_key":"k1","event_value":1}]}`

type relayFixture struct {
	ctx        context.Context
	source     *fakeSource
	ingester   *fakeIngester
	deadLetter *fakeDeadLetter
	clock      *clock.Fake
	metrics    *recordingMetrics
	relay      *Relay
}

func newRelayFixture(t *testing.T, values ...string) *relayFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &relayFixture{
		ctx:        ctx,
		source:     &fakeSource{cancel: cancel},
		ingester:   &fakeIngester{scriptedJobs: newScriptedJobs(usage.JobPending, usage.JobSuccess)},
		deadLetter: &fakeDeadLetter{},
		clock:      clock.NewFake(epoch),
		metrics:    &recordingMetrics{},
	}
	f.ingester.asyncResp = usage.AsyncResponse{JobID: "job-1", Status: usage.JobSubmitted, TotalEvents: 1}
	for i, v := range values {
		f.source.msgs = append(f.source.msgs, ports.Message{Topic: "usage", Offset: int64(i), Value: []byte(v)})
	}

	waiter := NewJobWaiter(JobWaiterConfig{Jobs: f.ingester, Clock: f.clock, Metrics: f.metrics})
	f.relay = NewRelay(RelayConfig{
		Source:     f.source,
		Ingester:   f.ingester,
		Waiter:     waiter,
		DeadLetter: f.deadLetter,
		Clock:      f.clock,
		RetryDelay: time.Second,
		Logger:     zerolog.Nop(),
		Metrics:    f.metrics,
	})
	return f
}

func (f *relayFixture) run(t *testing.T) {
	t.Helper()
	if err := f.relay.Run(f.ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRelay_Success(t *testing.T) {
	f := newRelayFixture(t, validBatch)
	f.run(t)

	if len(f.ingester.queued) != 1 || f.ingester.queued[0].Events[0].IdempotencyKey != "k1" {
		t.Errorf("queued = %+v", f.ingester.queued)
	}
	if len(f.source.committed) != 1 || f.source.committed[0] != 0 {
		t.Errorf("committed = %v, want [0]", f.source.committed)
	}
	if !equalStrings(f.metrics.relayed, []string{RelaySuccess}) {
		t.Errorf("relayed = %v", f.metrics.relayed)
	}
	if len(f.deadLetter.published) != 0 {
		t.Errorf("dead-lettered = %+v", f.deadLetter.published)
	}
}

func TestRelay_FailedJobIsCommitted(t *testing.T) {
	f := newRelayFixture(t, validBatch)
	f.ingester.scriptedJobs = newScriptedJobs(usage.JobFailed)
	f.run(t)

	if len(f.source.committed) != 1 {
		t.Errorf("committed = %v", f.source.committed)
	}
	if !equalStrings(f.metrics.relayed, []string{RelayFailed}) {
		t.Errorf("relayed = %v", f.metrics.relayed)
	}
}

func TestRelay_InvalidMessages(t *testing.T) {
	f := newRelayFixture(t,
		`not json`,
		`{"events":[{"event_name":"api_call"}]}`,
		validBatch,
	)
	f.run(t)

	if len(f.deadLetter.published) != 2 {
		t.Fatalf("dead-lettered = %+v, want 2", f.deadLetter.published)
	}
	if f.deadLetter.published[0].offset != 0 || f.deadLetter.published[1].offset != 1 {
		t.Errorf("dead-lettered offsets = %+v", f.deadLetter.published)
	}
	if f.deadLetter.published[1].reason == "" {
		t.Error("dead letter has no reason")
	}
	if len(f.source.committed) != 3 {
		t.Errorf("committed = %v, want all three", f.source.committed)
	}
	if len(f.ingester.queued) != 1 {
		t.Errorf("invalid messages were submitted: %d", len(f.ingester.queued))
	}
	want := []string{RelayInvalid, RelayInvalid, RelaySuccess}
	if !equalStrings(f.metrics.relayed, want) {
		t.Errorf("relayed = %v, want %v", f.metrics.relayed, want)
	}
}

func TestRelay_TransportErrorRetried(t *testing.T) {
	f := newRelayFixture(t, validBatch)
	f.ingester.asyncErrs = []error{statusError(http.StatusServiceUnavailable), errors.New("connection refused")}
	f.run(t)

	if len(f.ingester.queued) != 3 {
		t.Errorf("submissions = %d, want 3", len(f.ingester.queued))
	}
	want := []string{RelayError, RelayError, RelaySuccess}
	if !equalStrings(f.metrics.relayed, want) {
		t.Errorf("relayed = %v, want %v", f.metrics.relayed, want)
	}
	if len(f.source.committed) != 1 {
		t.Errorf("committed = %v", f.source.committed)
	}
	// Two retry delays, then one job poll interval.
	sleeps := f.clock.Sleeps()
	if len(sleeps) < 2 || sleeps[0] != time.Second || sleeps[1] != time.Second {
		t.Errorf("sleeps = %v, want two 1s retry delays first", sleeps)
	}
}

func TestRelay_RejectedByPlatform(t *testing.T) {
	f := newRelayFixture(t, validBatch)
	f.ingester.asyncErrs = []error{statusError(http.StatusUnprocessableEntity)}
	f.run(t)

	if len(f.ingester.queued) != 1 {
		t.Errorf("submissions = %d, want 1", len(f.ingester.queued))
	}
	if len(f.deadLetter.published) != 1 || len(f.source.committed) != 1 {
		t.Errorf("dead-lettered = %+v, committed = %v", f.deadLetter.published, f.source.committed)
	}
	if !equalStrings(f.metrics.relayed, []string{RelayInvalid}) {
		t.Errorf("relayed = %v", f.metrics.relayed)
	}
}

func TestRelay_WaitTimeoutCommits(t *testing.T) {
	f := newRelayFixture(t, validBatch)
	f.ingester.scriptedJobs = newScriptedJobs(usage.JobRunning)
	f.relay.poll = func() PollConfig {
		return PollConfig{Interval: time.Second, MaxWait: 3 * time.Second}
	}
	f.run(t)

	if len(f.source.committed) != 1 {
		t.Errorf("committed = %v", f.source.committed)
	}
	if !equalStrings(f.metrics.relayed, []string{RelayTimeout}) {
		t.Errorf("relayed = %v", f.metrics.relayed)
	}
	if len(f.ingester.queued) != 1 {
		t.Errorf("submissions = %d, want 1", len(f.ingester.queued))
	}
}

func TestRelay_JobLookupFailsPermanently(t *testing.T) {
	_, parseErr := usage.ParseEventRequest([]byte(`{}`))

	tests := []struct {
		name string
		err  error
	}{
		{"job not found", statusError(http.StatusNotFound)},
		{"schema drift", &remote.SchemaDriftError{Operation: "job status", Err: parseErr}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRelayFixture(t, validBatch)
			for i := 0; i < 5; i++ {
				f.ingester.scriptedJobs.errs[i] = tt.err
			}
			f.run(t)

			if len(f.ingester.queued) != 1 {
				t.Errorf("submissions = %d, want 1", len(f.ingester.queued))
			}
			if len(f.source.committed) != 1 || f.source.committed[0] != 0 {
				t.Errorf("committed = %v, want [0]", f.source.committed)
			}
			if len(f.deadLetter.published) != 1 || f.deadLetter.published[0].reason == "" {
				t.Errorf("dead-lettered = %+v, want one with a reason", f.deadLetter.published)
			}
			if !equalStrings(f.metrics.relayed, []string{RelayInvalid}) {
				t.Errorf("relayed = %v", f.metrics.relayed)
			}
		})
	}
}

func TestRelay_JobLookupTransientErrorRetried(t *testing.T) {
	f := newRelayFixture(t, validBatch)
	f.ingester.scriptedJobs.errs[0] = statusError(http.StatusServiceUnavailable)
	f.run(t)

	if len(f.ingester.queued) != 2 {
		t.Errorf("submissions = %d, want 2", len(f.ingester.queued))
	}
	want := []string{RelayError, RelaySuccess}
	if !equalStrings(f.metrics.relayed, want) {
		t.Errorf("relayed = %v, want %v", f.metrics.relayed, want)
	}
	if len(f.deadLetter.published) != 0 {
		t.Errorf("dead-lettered = %+v", f.deadLetter.published)
	}
}

func TestRelay_FetchErrorRetried(t *testing.T) {
	f := newRelayFixture(t, validBatch)
	f.source.fetchErrs = []error{errors.New("broker unavailable")}
	f.run(t)

	if len(f.source.committed) != 1 {
		t.Errorf("committed = %v", f.source.committed)
	}
	if s := f.clock.Sleeps(); len(s) == 0 || s[0] != time.Second {
		t.Errorf("sleeps = %v, want retry delay first", s)
	}
}

func TestRelay_NoDeadLetterStillCommits(t *testing.T) {
	f := newRelayFixture(t, `{"events":"nope"}`)
	f.relay.deadLetter = nil
	f.run(t)

	if len(f.source.committed) != 1 {
		t.Errorf("committed = %v", f.source.committed)
	}
}

func TestIsPermanent(t *testing.T) {
	_, parseErr := usage.ParseEventRequest([]byte(`{}`))

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation", parseErr, true},
		{"bad request", statusError(http.StatusBadRequest), true},
		{"unprocessable", statusError(http.StatusUnprocessableEntity), true},
		{"unavailable", statusError(http.StatusServiceUnavailable), false},
		{"unauthorized", statusError(http.StatusUnauthorized), false},
		{"network", errors.New("dial tcp: refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPermanent(tt.err); got != tt.want {
				t.Errorf("isPermanent(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
