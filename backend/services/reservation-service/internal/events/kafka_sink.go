package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer keyed by station id.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// KafkaSink streams events to a topic keyed by station id. Publish enqueues;
// Run drains the queue.
type KafkaSink struct {
	writer       MessageWriter
	queue        chan Event
	writeTimeout time.Duration
	logger       *zap.Logger
	closeOnce    sync.Once
}

// NewKafkaSink builds a sink with a bounded queue.
func NewKafkaSink(writer MessageWriter, buffer int, writeTimeout time.Duration, logger *zap.Logger) *KafkaSink {
	if buffer <= 0 {
		buffer = 256
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &KafkaSink{
		writer:       writer,
		queue:        make(chan Event, buffer),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Publish implements Publisher. A full queue drops the event.
func (s *KafkaSink) Publish(_ context.Context, ev Event) {
	select {
	case s.queue <- ev:
	default:
		s.logger.Warn("dropping event, kafka queue full",
			zap.String("kind", string(ev.Kind)),
			zap.String("station_id", ev.StationID),
		)
	}
}

// Run writes queued events until ctx is done, then flushes what is left.
func (s *KafkaSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case ev := <-s.queue:
			s.write(context.Background(), ev)
		}
	}
}

func (s *KafkaSink) drain() {
	for {
		select {
		case ev := <-s.queue:
			s.write(context.Background(), ev)
		default:
			return
		}
	}
}

func (s *KafkaSink) write(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("failed to encode event", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(ev.StationID),
		Value: payload,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Warn("failed to write event to kafka",
			zap.String("kind", string(ev.Kind)),
			zap.String("station_id", ev.StationID),
			zap.Error(err),
		)
	}
}

// Close closes the writer.
func (s *KafkaSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.writer.Close()
	})
	return err
}

// SplitBrokers parses "host:port,host:port".
func SplitBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
