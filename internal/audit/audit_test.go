package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sandeepkv93/pos-trust-core/internal/domain"
)

type failingSink struct{ panics bool }

func (f failingSink) Name() string { return "failing" }

func (f failingSink) Record(context.Context, Event) error {
	if f.panics {
		panic("sink exploded")
	}
	return errors.New("sink unavailable")
}

func TestRecorderSwallowsSinkFailuresAndStillDelivers(t *testing.T) {
	var logs bytes.Buffer
	mem := NewMemorySink()
	r := NewRecorder(slog.New(slog.NewJSONHandler(&logs, nil)), failingSink{}, failingSink{panics: true}, mem)

	r.Record(context.Background(), Event{Type: EventLoginFailed, ActorID: "alice", Reason: "bad password"})

	events := mem.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(events))
	}
	got := events[0]
	if got.ID == "" || got.OccurredAt.IsZero() {
		t.Fatal("expected id and timestamp to be filled")
	}
	if got.Severity != SeverityWarning {
		t.Fatalf("expected default warning severity, got %q", got.Severity)
	}
	if c := strings.Count(logs.String(), "security event sink failed"); c != 2 {
		t.Fatalf("expected 2 sink failure logs, got %d: %s", c, logs.String())
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), Event{Type: EventTokenRejected})
}

func TestSlogSinkWritesAuditRecord(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	err := sink.Record(context.Background(), Event{
		ID:       "e1",
		Type:     EventIntegrityMismatch,
		Severity: SeverityCritical,
		Reason:   "line 2 hash mismatch",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["msg"] != "audit" || rec["event"] != "integrity_mismatch" || rec["level"] != "ERROR" {
		t.Fatalf("unexpected record %v", rec)
	}
}

type fakeEventStore struct{ created []*domain.AuditEvent }

func (f *fakeEventStore) Create(_ context.Context, e *domain.AuditEvent) error {
	f.created = append(f.created, e)
	return nil
}

func TestRepositorySinkSkipsPersistedEvents(t *testing.T) {
	store := &fakeEventStore{}
	sink := NewRepositorySink(store)
	ctx := context.Background()

	_ = sink.Record(ctx, Event{ID: "a", Type: EventTransactionCompleted, Persisted: true})
	_ = sink.Record(ctx, Event{ID: "b", Type: EventAccountLocked, ActorID: "alice", UserAgent: strings.Repeat("x", 600)})

	if len(store.created) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(store.created))
	}
	row := store.created[0]
	if row.ID != "b" || row.Severity != string(SeverityCritical) || len(row.UserAgent) != 512 {
		t.Fatalf("unexpected row %+v", row)
	}
}

type fakeWriter struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	err     error
	release chan struct{}
	closed  bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) written() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.msgs...)
}

func TestKafkaSinkPublishesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, time.Second, 8, slog.New(slog.DiscardHandler))

	err := sink.Record(context.Background(), Event{
		ID:       "e1",
		Type:     EventTransactionBlocked,
		Severity: SeverityWarning,
		ActorID:  "cashier-1",
		Metadata: map[string]any{"score": 90},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	msgs := w.written()
	if len(msgs) != 1 || !w.closed {
		t.Fatalf("expected 1 flushed message and a closed writer, got %d closed=%v", len(msgs), w.closed)
	}
	msg := msgs[0]
	if string(msg.Key) != "cashier-1" {
		t.Fatalf("expected actor key, got %q", msg.Key)
	}
	var body map[string]any
	if err := json.Unmarshal(msg.Value, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["type"] != "transaction_blocked" || body["id"] != "e1" {
		t.Fatalf("unexpected body %v", body)
	}
	if len(msg.Headers) != 2 || string(msg.Headers[0].Value) != "transaction_blocked" {
		t.Fatalf("unexpected headers %v", msg.Headers)
	}
}

func TestKafkaSinkDoesNotBlockOnSlowBroker(t *testing.T) {
	w := &fakeWriter{release: make(chan struct{})}
	sink := newKafkaSink(w, time.Second, 2, slog.New(slog.DiscardHandler))

	start := time.Now()
	var dropped int
	for i := 0; i < 10; i++ {
		if err := sink.Record(context.Background(), Event{Type: EventLoginFailed, ActorID: "u1"}); errors.Is(err, ErrStreamBacklogged) {
			dropped++
		} else if err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("record blocked on the broker for %v", elapsed)
	}
	if dropped == 0 {
		t.Fatal("expected a full queue to drop events")
	}

	close(w.release)
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(w.written()); got != 10-dropped {
		t.Fatalf("expected %d queued events flushed on close, got %d", 10-dropped, got)
	}
	if err := sink.Record(context.Background(), Event{Type: EventLoginFailed}); err == nil {
		t.Fatal("expected record after close to fail")
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestKafkaSinkWriterErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	w := &fakeWriter{err: errors.New("broker down")}
	sink := newKafkaSink(w, time.Second, 8, slog.New(slog.NewJSONHandler(&buf, nil)))
	if err := sink.Record(context.Background(), Event{Type: EventLoginFailed}); err != nil {
		t.Fatalf("record must not surface broker errors: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !strings.Contains(buf.String(), "broker down") {
		t.Fatalf("expected publish failure logged, got %q", buf.String())
	}
}

func TestNewKafkaSinkDisabledWithoutBrokers(t *testing.T) {
	if NewKafkaSink(nil, "topic", nil) != nil {
		t.Fatal("expected nil sink without brokers")
	}
	var s *KafkaSink
	if err := s.Close(); err != nil {
		t.Fatalf("close nil sink: %v", err)
	}
}
