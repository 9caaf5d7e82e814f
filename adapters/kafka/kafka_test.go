package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	skafka "github.com/segmentio/kafka-go"

	"github.com/artpar/justpaid/ports"
)

// fakeReader serves queued messages and records commits.
type fakeReader struct {
	queue     []skafka.Message
	committed []skafka.Message
	commitErr error
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (skafka.Message, error) {
	if len(f.queue) == 0 {
		<-ctx.Done()
		return skafka.Message{}, ctx.Err()
	}
	m := f.queue[0]
	f.queue = f.queue[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...skafka.Message) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

// fakeWriter records messages written.
type fakeWriter struct {
	msgs []skafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...skafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestNewSource_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  SourceConfig
	}{
		{"no brokers", SourceConfig{Topic: "usage", GroupID: "g"}},
		{"no topic", SourceConfig{Brokers: []string{"localhost:9092"}, GroupID: "g"}},
		{"no group", SourceConfig{Brokers: []string{"localhost:9092"}, Topic: "usage"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSource(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSource_FetchAndCommit(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := &fakeReader{queue: []skafka.Message{
		{Topic: "usage", Partition: 2, Offset: 41, Key: []byte("k"), Value: []byte(`{"events":[]}`), Time: at},
	}}
	s := NewSourceWithReader(r)

	msg, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if msg.Topic != "usage" || msg.Partition != 2 || msg.Offset != 41 || string(msg.Key) != "k" || !msg.Time.Equal(at) {
		t.Errorf("message = %+v", msg)
	}

	if err := s.Commit(context.Background(), msg); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(r.committed) != 1 || r.committed[0].Offset != 41 || r.committed[0].Partition != 2 {
		t.Errorf("committed = %+v", r.committed)
	}

	if err := s.Close(); err != nil || !r.closed {
		t.Errorf("Close() = %v, closed = %v", err, r.closed)
	}
}

func TestSource_FetchCancelled(t *testing.T) {
	s := NewSourceWithReader(&fakeReader{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Fetch(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() error = %v, want context.Canceled", err)
	}
}

func TestSource_CommitError(t *testing.T) {
	boom := errors.New("rebalance in progress")
	s := NewSourceWithReader(&fakeReader{commitErr: boom})

	err := s.Commit(context.Background(), ports.Message{Topic: "usage", Partition: 1, Offset: 7})
	if !errors.Is(err, boom) {
		t.Errorf("Commit() error = %v, want wrapped %v", err, boom)
	}
}

func TestDeadLetter_Publish(t *testing.T) {
	w := &fakeWriter{}
	d := NewDeadLetterWithWriter(w)

	err := d.Publish(context.Background(), ports.Message{
		Topic: "usage", Partition: 3, Offset: 99, Key: []byte("k"), Value: []byte("garbage"),
	}, "invalid UsageEventRequest")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}
	out := w.msgs[0]
	if string(out.Value) != "garbage" || string(out.Key) != "k" {
		t.Errorf("message = %+v", out)
	}
	headers := map[string]string{}
	for _, h := range out.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["x-relay-reason"] != "invalid UsageEventRequest" || headers["x-source-offset"] != "99" || headers["x-source-partition"] != "3" {
		t.Errorf("headers = %v", headers)
	}
}

func TestDeadLetter_PublishError(t *testing.T) {
	d := NewDeadLetterWithWriter(&fakeWriter{err: errors.New("no leader")})

	if err := d.Publish(context.Background(), ports.Message{}, "x"); err == nil {
		t.Error("expected error")
	}
}
