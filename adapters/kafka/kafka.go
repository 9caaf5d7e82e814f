// Package kafka adapts segmentio/kafka-go readers and writers to the relay's
// message source and dead-letter ports.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	skafka "github.com/segmentio/kafka-go"

	"github.com/artpar/justpaid/ports"
)

const (
	minBytes = 1
	maxBytes = 10 << 20
)

// Reader is the subset of *kafka.Reader the source needs.
type Reader interface {
	FetchMessage(ctx context.Context) (skafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Writer is the subset of *kafka.Writer the dead-letter publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// SourceConfig configures a consumer-group source.
type SourceConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// MaxWait bounds how long a fetch waits for new data.
	MaxWait time.Duration
}

// Source reads messages from a Kafka topic as part of a consumer group.
// Offsets are committed explicitly, so an uncommitted message is redelivered
// after a restart or rebalance.
type Source struct {
	reader Reader
}

// NewSource connects a consumer-group reader.
func NewSource(cfg SourceConfig) (*Source, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("kafka: topic and group id are required")
	}
	maxWait := cfg.MaxWait
	if maxWait == 0 {
		maxWait = 500 * time.Millisecond
	}

	return &Source{reader: skafka.NewReader(skafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: minBytes,
		MaxBytes: maxBytes,
		MaxWait:  maxWait,
	})}, nil
}

// NewSourceWithReader wraps an existing reader (used in tests).
func NewSourceWithReader(r Reader) *Source {
	return &Source{reader: r}
}

// Fetch blocks until the next message is available or ctx is done.
func (s *Source) Fetch(ctx context.Context) (ports.Message, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return ports.Message{}, err
	}
	return toMessage(m), nil
}

// Commit marks msg, and everything before it on its partition, as processed.
func (s *Source) Commit(ctx context.Context, msg ports.Message) error {
	if err := s.reader.CommitMessages(ctx, fromMessage(msg)); err != nil {
		return fmt.Errorf("commit %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	return nil
}

// Close leaves the consumer group.
func (s *Source) Close() error {
	return s.reader.Close()
}

// DeadLetter publishes messages the relay cannot process to a side topic,
// annotated with the reason and their original coordinates.
type DeadLetter struct {
	writer Writer
}

// NewDeadLetter creates a publisher writing to topic.
func NewDeadLetter(brokers []string, topic string) *DeadLetter {
	return &DeadLetter{writer: &skafka.Writer{
		Addr:                   skafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &skafka.Hash{},
		RequiredAcks:           skafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

// NewDeadLetterWithWriter wraps an existing writer (used in tests).
func NewDeadLetterWithWriter(w Writer) *DeadLetter {
	return &DeadLetter{writer: w}
}

// Publish writes msg with its original key and value.
func (d *DeadLetter) Publish(ctx context.Context, msg ports.Message, reason string) error {
	out := skafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []skafka.Header{
			{Key: "x-relay-reason", Value: []byte(reason)},
			{Key: "x-source-topic", Value: []byte(msg.Topic)},
			{Key: "x-source-partition", Value: []byte(strconv.Itoa(msg.Partition))},
			{Key: "x-source-offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		},
	}
	if err := d.writer.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("dead letter: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (d *DeadLetter) Close() error {
	return d.writer.Close()
}

func toMessage(m skafka.Message) ports.Message {
	return ports.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
	}
}

// fromMessage rebuilds the coordinates kafka-go needs to commit.
func fromMessage(m ports.Message) skafka.Message {
	return skafka.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
	}
}

var (
	_ ports.MessageSource  = (*Source)(nil)
	_ ports.DeadLetterSink = (*DeadLetter)(nil)
)
