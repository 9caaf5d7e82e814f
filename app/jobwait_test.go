package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/justpaid/adapters/clock"
	"github.com/artpar/justpaid/domain/usage"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// scriptedJobs returns statuses from a script, repeating the last entry.
type scriptedJobs struct {
	mu     sync.Mutex
	script []usage.JobStatusResponse
	errs   map[int]error
	calls  int
	before func(call int)
}

func newScriptedJobs(statuses ...usage.JobStatus) *scriptedJobs {
	s := &scriptedJobs{errs: map[int]error{}}
	for _, st := range statuses {
		s.script = append(s.script, usage.JobStatusResponse{JobID: "job-1", Status: st, TotalEvents: 3})
	}
	return s
}

func (s *scriptedJobs) JobStatus(ctx context.Context, jobID string) (usage.JobStatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.calls
	s.calls++
	if s.before != nil {
		s.before(call)
	}
	if err := ctx.Err(); err != nil {
		return usage.JobStatusResponse{}, err
	}
	if err, ok := s.errs[call]; ok {
		return usage.JobStatusResponse{}, err
	}
	i := call
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	resp := s.script[i]
	resp.JobID = jobID
	return resp, nil
}

func (s *scriptedJobs) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingMetrics captures job and relay metric calls.
type recordingMetrics struct {
	mu        sync.Mutex
	polls     []usage.JobStatus
	completed []string
	relayed   []string
}

func (m *recordingMetrics) ObserveRequest(string, int, time.Duration) {}
func (m *recordingMetrics) IncSchemaDrift(string)                     {}

func (m *recordingMetrics) IncJobPoll(status usage.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls = append(m.polls, status)
}

func (m *recordingMetrics) ObserveJobCompleted(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, outcome)
}

func (m *recordingMetrics) IncRelayMessage(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relayed = append(m.relayed, result)
}

func newTestWaiter(jobs *scriptedJobs, clk *clock.Fake, poll PollConfig) (*JobWaiter, *recordingMetrics) {
	m := &recordingMetrics{}
	return NewJobWaiter(JobWaiterConfig{
		Jobs:    jobs,
		Clock:   clk,
		Logger:  zerolog.Nop(),
		Metrics: m,
		Poll:    poll,
	}), m
}

func TestPollConfig_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   PollConfig
		want PollConfig
	}{
		{
			name: "zero uses defaults",
			in:   PollConfig{},
			want: PollConfig{Interval: 100 * time.Millisecond, MaxInterval: 100 * time.Millisecond, Multiplier: 1, MaxWait: 10 * time.Minute},
		},
		{
			name: "interval raised to minimum",
			in:   PollConfig{Interval: time.Millisecond, MaxInterval: time.Second, Multiplier: 2, MaxWait: time.Minute},
			want: PollConfig{Interval: MinPollInterval, MaxInterval: time.Second, Multiplier: 2, MaxWait: time.Minute},
		},
		{
			name: "max interval not below interval",
			in:   PollConfig{Interval: time.Second, MaxInterval: time.Millisecond, Multiplier: 1.5, MaxWait: time.Minute},
			want: PollConfig{Interval: time.Second, MaxInterval: time.Second, Multiplier: 1.5, MaxWait: time.Minute},
		},
		{
			name: "negative max wait uses default",
			in:   PollConfig{Interval: time.Second, MaxInterval: time.Second, Multiplier: 1, MaxWait: -time.Second},
			want: PollConfig{Interval: time.Second, MaxInterval: time.Second, Multiplier: 1, MaxWait: 10 * time.Minute},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.normalize(); got != tt.want {
				t.Errorf("normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestJobWaiter_PendingPendingSuccess(t *testing.T) {
	jobs := newScriptedJobs(usage.JobPending, usage.JobPending, usage.JobSuccess)
	clk := clock.NewFake(epoch)
	w, m := newTestWaiter(jobs, clk, PollConfig{
		Interval: 100 * time.Millisecond, MaxInterval: time.Second, Multiplier: 1.5, MaxWait: time.Minute,
	})

	res, err := w.Wait(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if res.Polls != 3 || jobs.Calls() != 3 {
		t.Errorf("Polls = %d, calls = %d, want 3", res.Polls, jobs.Calls())
	}
	if res.Status != usage.JobSuccess || res.TimedOut {
		t.Errorf("result = %+v", res)
	}
	if res.Elapsed != 250*time.Millisecond {
		t.Errorf("Elapsed = %v, want 250ms", res.Elapsed)
	}

	sleeps := clk.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 100*time.Millisecond || sleeps[1] != 150*time.Millisecond {
		t.Errorf("sleeps = %v, want [100ms 150ms]", sleeps)
	}
	if len(m.polls) != 3 || len(m.completed) != 1 || m.completed[0] != "SUCCESS" {
		t.Errorf("metrics polls=%v completed=%v", m.polls, m.completed)
	}
}

func TestJobWaiter_ImmediateTerminal(t *testing.T) {
	jobs := newScriptedJobs(usage.JobSuccess)
	clk := clock.NewFake(epoch)
	w, _ := newTestWaiter(jobs, clk, DefaultPollConfig())

	res, err := w.Wait(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if res.Polls != 1 || len(clk.Sleeps()) != 0 {
		t.Errorf("Polls = %d, sleeps = %v; want one poll and no sleep", res.Polls, clk.Sleeps())
	}
}

func TestJobWaiter_FailedIsData(t *testing.T) {
	jobs := newScriptedJobs(usage.JobRunning, usage.JobFailed)
	jobs.script[1].Info = &usage.EventInfo{CreatedEvents: 2, Duplicates: []string{}}
	jobs.script[1].Errors = []usage.ErrorInfo{{IdempotencyKey: "k3", Error: "unknown item_id"}}
	w, m := newTestWaiter(jobs, clock.NewFake(epoch), DefaultPollConfig())

	res, err := w.Wait(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Wait() error = %v, FAILED should not be an error", err)
	}
	if res.Status != usage.JobFailed {
		t.Errorf("Status = %s, want FAILED", res.Status)
	}
	if res.Response.Info == nil || res.Response.Info.CreatedEvents != 2 {
		t.Errorf("partial success lost: %+v", res.Response.Info)
	}
	if e, ok := res.Response.ErrorFor("k3"); !ok || e.Error != "unknown item_id" {
		t.Errorf("errors = %+v", res.Response.Errors)
	}
	if m.completed[0] != "FAILED" {
		t.Errorf("completed = %v", m.completed)
	}
}

func TestJobWaiter_Timeout(t *testing.T) {
	jobs := newScriptedJobs(usage.JobPending)
	clk := clock.NewFake(epoch)
	w, m := newTestWaiter(jobs, clk, PollConfig{
		Interval: 400 * time.Millisecond, MaxInterval: 400 * time.Millisecond, Multiplier: 1, MaxWait: time.Second,
	})

	res, err := w.Wait(context.Background(), "job-1")

	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("error = %v, want ErrWaitTimeout", err)
	}
	if !res.TimedOut || res.Status != usage.JobPending {
		t.Errorf("result = %+v", res)
	}
	// Polls at 0, 400ms, 800ms and a final one at the 1s deadline.
	if res.Polls != 4 {
		t.Errorf("Polls = %d, want 4", res.Polls)
	}
	sleeps := clk.Sleeps()
	if len(sleeps) != 3 || sleeps[2] != 200*time.Millisecond {
		t.Errorf("sleeps = %v, want last sleep clamped to 200ms", sleeps)
	}
	if res.Elapsed != time.Second {
		t.Errorf("Elapsed = %v, want 1s", res.Elapsed)
	}
	if m.completed[0] != "timeout" {
		t.Errorf("completed = %v", m.completed)
	}
}

func TestJobWaiter_LastSleepNotBelowMinimum(t *testing.T) {
	jobs := newScriptedJobs(usage.JobPending)
	clk := clock.NewFake(epoch)
	w, _ := newTestWaiter(jobs, clk, PollConfig{
		Interval: 400 * time.Millisecond, Multiplier: 1, MaxWait: 403 * time.Millisecond,
	})

	res, err := w.Wait(context.Background(), "job-1")

	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("error = %v, want ErrWaitTimeout", err)
	}
	// Only 3ms are left after the second poll; the wait still lasts the minimum.
	want := []time.Duration{400 * time.Millisecond, MinPollInterval}
	got := clk.Sleeps()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("sleeps = %v, want %v", got, want)
	}
	for _, d := range got {
		if d < MinPollInterval {
			t.Errorf("sleep %v below MinPollInterval", d)
		}
	}
	if res.Polls != 3 {
		t.Errorf("Polls = %d, want 3", res.Polls)
	}
}

func TestJobWaiter_BackoffCapped(t *testing.T) {
	jobs := newScriptedJobs(usage.JobPending, usage.JobPending, usage.JobPending, usage.JobPending, usage.JobPending, usage.JobSuccess)
	clk := clock.NewFake(epoch)
	w, _ := newTestWaiter(jobs, clk, PollConfig{
		Interval: 100 * time.Millisecond, MaxInterval: 300 * time.Millisecond, Multiplier: 2, MaxWait: time.Minute,
	})

	if _, err := w.Wait(context.Background(), "job-1"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	got := clk.Sleeps()
	if len(got) != len(want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestJobWaiter_FixedInterval(t *testing.T) {
	jobs := newScriptedJobs(usage.JobPending, usage.JobPending, usage.JobSuccess)
	clk := clock.NewFake(epoch)
	w, _ := newTestWaiter(jobs, clk, PollConfig{Interval: 50 * time.Millisecond, Multiplier: 0, MaxWait: time.Minute})

	if _, err := w.Wait(context.Background(), "job-1"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	for _, d := range clk.Sleeps() {
		if d != 50*time.Millisecond {
			t.Errorf("sleep = %v, want fixed 50ms", d)
		}
	}
}

func TestJobWaiter_TransportErrorStopsWait(t *testing.T) {
	boom := errors.New("connection reset")
	jobs := newScriptedJobs(usage.JobPending)
	jobs.errs[1] = boom
	w, _ := newTestWaiter(jobs, clock.NewFake(epoch), DefaultPollConfig())

	res, err := w.Wait(context.Background(), "job-1")

	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if jobs.Calls() != 2 {
		t.Errorf("calls = %d, want 2 (no retry)", jobs.Calls())
	}
	if res.Polls != 1 || res.Status != usage.JobPending {
		t.Errorf("result = %+v", res)
	}
}

func TestJobWaiter_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	jobs := newScriptedJobs(usage.JobPending)
	jobs.before = func(call int) {
		if call == 2 {
			cancel()
		}
	}
	w, _ := newTestWaiter(jobs, clock.NewFake(epoch), DefaultPollConfig())

	res, err := w.Wait(ctx, "job-1")

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if res.TimedOut {
		t.Error("cancellation reported as timeout")
	}
	if res.Polls != 2 {
		t.Errorf("Polls = %d, want 2", res.Polls)
	}
}

func TestJobWaiter_RealClock(t *testing.T) {
	jobs := newScriptedJobs(usage.JobPending, usage.JobSuccess)
	w := NewJobWaiter(JobWaiterConfig{
		Jobs:  jobs,
		Clock: clock.Real{},
		Poll:  PollConfig{Interval: MinPollInterval, Multiplier: 1, MaxWait: 5 * time.Second},
	})

	res, err := w.Wait(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if res.Polls != 2 || res.Elapsed < MinPollInterval {
		t.Errorf("result = %+v", res)
	}
}
