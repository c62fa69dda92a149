package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sandeepkv93/pos-trust-core/internal/observability"
)

const (
	kafkaQueueSize = 1024
	kafkaBatchMax  = 100
)

// ErrStreamBacklogged is returned when the publish queue is full and the
// event was dropped.
var ErrStreamBacklogged = errors.New("event stream backlogged")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON to a topic, keyed by actor so a
// consumer sees one actor's events in order. Record only enqueues; a single
// publisher goroutine writes batches off the request path.
type KafkaSink struct {
	writer  messageWriter
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan kafka.Message
	done   chan struct{}
	once   sync.Once
}

type kafkaEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Severity   string         `json:"severity"`
	ActorID    string         `json:"actor_id,omitempty"`
	Origin     string         `json:"origin,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewKafkaSink returns nil when brokers or topic are empty.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) *KafkaSink {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaSink(writer, 5*time.Second, kafkaQueueSize, logger)
}

func newKafkaSink(w messageWriter, timeout time.Duration, queueSize int, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &KafkaSink{
		writer:  w,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan kafka.Message, queueSize),
		done:    make(chan struct{}),
	}
	go s.publish()
	return s
}

func (s *KafkaSink) Name() string { return "kafka" }

// Record enqueues the event without waiting for the broker. A full queue
// drops the event and reports ErrStreamBacklogged.
func (s *KafkaSink) Record(_ context.Context, event Event) error {
	payload, err := json.Marshal(kafkaEvent{
		ID:         event.ID,
		Type:       string(event.Type),
		Severity:   string(event.Severity),
		ActorID:    event.ActorID,
		Origin:     event.Origin,
		UserAgent:  event.UserAgent,
		Reason:     event.Reason,
		ResourceID: event.ResourceID,
		Metadata:   event.Metadata,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(event.ActorID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "severity", Value: []byte(event.Severity)},
		},
		Time: event.OccurredAt,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStreamBacklogged
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		return ErrStreamBacklogged
	}
}

func (s *KafkaSink) publish() {
	defer close(s.done)
	batch := make([]kafka.Message, 0, kafkaBatchMax)
	for msg := range s.queue {
		batch = append(batch[:0], msg)
	fill:
		for len(batch) < kafkaBatchMax {
			select {
			case next, ok := <-s.queue:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		s.write(batch)
	}
}

func (s *KafkaSink) write(batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, batch...); err != nil {
		for range batch {
			observability.RecordSecurityEventSinkFailure(ctx, s.Name())
		}
		s.logger.WarnContext(ctx, "security event publish failed", "messages", len(batch), "error", err)
	}
}

// Close stops accepting events, drains the queue and closes the writer. Safe
// on a nil sink and safe to call more than once.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		<-s.done
		err = s.writer.Close()
	})
	return err
}
