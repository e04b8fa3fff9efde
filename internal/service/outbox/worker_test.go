package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
)

func paidEvent(id, orderID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     "payment.paid",
		Payload:       []byte(`{"payment_status":"paid"}`),
	}
}

func TestWorker_ProcessOnce_MarksSent(t *testing.T) {
	t.Parallel()

	repo := &fakeOutboxRepo{pending: []domain.OutboxMessage{paidEvent("msg-1", "order-1")}}
	publisher := &fakePublisher{}

	worker := NewWorker(repo, publisher, Config{RetryBaseDelay: -1, MaxAttempts: 3})
	worker.ProcessOnce(context.Background())

	if got := repo.sentIDs; len(got) != 1 || got[0] != "msg-1" {
		t.Fatalf("unexpected sent marks: %v", got)
	}
	if len(repo.failedIDs) != 0 {
		t.Fatalf("unexpected failed marks: %v", repo.failedIDs)
	}
	if got := publisher.calls(); got != 1 {
		t.Fatalf("expected 1 publish call, got %d", got)
	}
}

func TestWorker_ProcessOnce_FailedEventGoesToDLQ(t *testing.T) {
	t.Parallel()

	repo := &fakeOutboxRepo{pending: []domain.OutboxMessage{paidEvent("msg-2", "order-2")}}
	publisher := &fakePublisher{err: errors.New("broker unavailable")}
	dlq := &fakePublisher{}

	worker := NewWorker(repo, publisher, Config{
		DLQPublisher:   dlq,
		RetryBaseDelay: -1,
		MaxAttempts:    3,
	})
	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if len(repo.sentIDs) != 0 {
		t.Fatalf("unexpected sent marks: %v", repo.sentIDs)
	}
	if got := repo.failedIDs; len(got) != 1 || got[0] != "msg-2" {
		t.Fatalf("unexpected failed marks: %v", got)
	}
	if got := dlq.calls(); got != 1 {
		t.Fatalf("expected 1 DLQ publish, got %d", got)
	}

	// DLQ-запись сохраняет исходное событие и причину отказа.
	var record struct {
		OutboxID     string          `json:"outbox_id"`
		AggregateID  string          `json:"aggregate_id"`
		EventType    string          `json:"event_type"`
		Payload      json.RawMessage `json:"payload"`
		PublishError string          `json:"publish_error"`
	}
	if err := json.Unmarshal(dlq.last().Payload, &record); err != nil {
		t.Fatalf("decode dlq payload: %v", err)
	}
	if record.OutboxID != "msg-2" || record.AggregateID != "order-2" {
		t.Fatalf("unexpected dlq record: %+v", record)
	}
	if record.EventType != "payment.paid" {
		t.Fatalf("unexpected dlq event type: %s", record.EventType)
	}
	if record.PublishError == "" || len(record.Payload) == 0 {
		t.Fatalf("dlq record lost context: %+v", record)
	}
}

func TestWorker_ProcessOnce_SucceedsAfterRetry(t *testing.T) {
	t.Parallel()

	repo := &fakeOutboxRepo{pending: []domain.OutboxMessage{paidEvent("msg-3", "order-3")}}
	publisher := &fakePublisher{
		sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil},
	}

	worker := NewWorker(repo, publisher, Config{RetryBaseDelay: -1, MaxAttempts: 3})
	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if got := repo.sentIDs; len(got) != 1 || got[0] != "msg-3" {
		t.Fatalf("unexpected sent marks: %v", got)
	}
	if len(repo.failedIDs) != 0 {
		t.Fatalf("unexpected failed marks: %v", repo.failedIDs)
	}
}

func TestWorker_ProcessOnce_FailedEventDoesNotBlockBatch(t *testing.T) {
	t.Parallel()

	repo := &fakeOutboxRepo{pending: []domain.OutboxMessage{
		paidEvent("msg-4", "order-4"),
		paidEvent("msg-5", "order-5"),
	}}
	publisher := &fakePublisher{
		// Все попытки первого события падают, второе уходит сразу.
		sequenceErrors: []error{
			errors.New("attempt 1"),
			errors.New("attempt 2"),
			errors.New("attempt 3"),
			nil,
		},
	}

	worker := NewWorker(repo, publisher, Config{RetryBaseDelay: -1, MaxAttempts: 3})
	worker.ProcessOnce(context.Background())

	if got := repo.failedIDs; len(got) != 1 || got[0] != "msg-4" {
		t.Fatalf("unexpected failed marks: %v", got)
	}
	if got := repo.sentIDs; len(got) != 1 || got[0] != "msg-5" {
		t.Fatalf("unexpected sent marks: %v", got)
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	if got := backoff(0, 3); got != 0 {
		t.Fatalf("expected zero delay without base, got %v", got)
	}
	if got := backoff(50*time.Millisecond, 1); got != 50*time.Millisecond {
		t.Fatalf("unexpected first delay: %v", got)
	}
	if got := backoff(50*time.Millisecond, 3); got != 200*time.Millisecond {
		t.Fatalf("unexpected third delay: %v", got)
	}
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&fakeOutboxRepo{}, &fakePublisher{}, Config{
		PollInterval:   5 * time.Millisecond,
		RetryBaseDelay: -1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

type fakeOutboxRepo struct {
	pending   []domain.OutboxMessage
	sentIDs   []string
	failedIDs []string
}

func (s *fakeOutboxRepo) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (s *fakeOutboxRepo) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 || limit >= len(s.pending) {
		return append([]domain.OutboxMessage(nil), s.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), s.pending[:limit]...), nil
}

func (s *fakeOutboxRepo) Stats() (domain.OutboxStats, error) {
	stats := domain.OutboxStats{PendingCount: len(s.pending)}
	if len(s.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (s *fakeOutboxRepo) MarkSent(id string) error {
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *fakeOutboxRepo) MarkFailed(id string) error {
	s.failedIDs = append(s.failedIDs, id)
	return nil
}

type fakePublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	published      []domain.OutboxMessage
}

func (s *fakePublisher) Publish(msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.published = append(s.published, msg)
	if len(s.sequenceErrors) > 0 {
		err := s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
		return err
	}
	return s.err
}

func (s *fakePublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.published)
}

func (s *fakePublisher) last() domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.published) == 0 {
		return domain.OutboxMessage{}
	}
	return s.published[len(s.published)-1]
}

var _ domain.OutboxRepository = (*fakeOutboxRepo)(nil)
var _ domain.OutboxPublisher = (*fakePublisher)(nil)
