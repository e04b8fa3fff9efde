package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/candleshop/internal/messaging/kafka"
)

func TestParseFlags_Defaults(t *testing.T) {
	opts, err := parseFlags([]string{"-brokers", "kafka-1:9092, kafka-2:9092"})
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, opts.brokers)
	assert.Equal(t, kafka.TopicDeadLetterQueue, opts.sourceTopic)
	assert.Equal(t, kafka.TopicOrderEvents, opts.targetTopic)
	assert.Equal(t, defaultScanLimit, opts.limit)
	assert.False(t, opts.execute)
	assert.Empty(t, opts.orderID)
	assert.Empty(t, opts.eventPrefix)
}

func TestParseFlags_BrokersFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "env-broker:9092")

	opts, err := parseFlags([]string{"-order", "order-42", "-events", "payment."})
	require.NoError(t, err)

	assert.Equal(t, []string{"env-broker:9092"}, opts.brokers)
	assert.Equal(t, "order-42", opts.orderID)
	assert.Equal(t, "payment.", opts.eventPrefix)
}

func TestParseFlags_Invalid(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")

	_, err := parseFlags(nil)
	assert.Error(t, err)

	_, err = parseFlags([]string{"-brokers", "b:9092", "-limit", "0"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"-brokers", "b:9092", "-idle-timeout", "0s"})
	assert.Error(t, err)
}

func orderEventJSON(t *testing.T, eventType kafka.EventType, orderID string) []byte {
	t.Helper()

	event := kafka.NewOrderEvent(eventType, orderID, "customer-1", "submitted", "created", nil)
	encoded, err := json.Marshal(event)
	require.NoError(t, err)
	return encoded
}

func consumerDLQValue(t *testing.T, topic, key string, eventValue []byte) []byte {
	t.Helper()

	encoded, err := json.Marshal(map[string]any{
		"original_topic": topic,
		"original_key":   key,
		"original_value": string(eventValue),
		"error_message":  "handler failed",
	})
	require.NoError(t, err)
	return encoded
}

func outboxDLQValue(t *testing.T, outboxID, orderID, eventType string, eventValue []byte) []byte {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"outbox_id":        outboxID,
		"aggregate_type":   "order",
		"aggregate_id":     orderID,
		"event_type":       eventType,
		"payload":          json.RawMessage(eventValue),
		"publish_error":    "kafka unreachable",
		"dlq_published_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	envelope, err := json.Marshal(map[string]any{
		"id":             outboxID,
		"aggregate_type": "order",
		"aggregate_id":   orderID,
		"event_type":     eventType,
		"payload":        json.RawMessage(payload),
	})
	require.NoError(t, err)
	return envelope
}

func TestDecodeCandidate_ConsumerRecord(t *testing.T) {
	eventValue := orderEventJSON(t, kafka.EventTypePaymentRejected, "order-7")
	value := consumerDLQValue(t, "candleshop.order.events", "order-7", eventValue)

	cand, ok, err := decodeCandidate(value, "fallback-topic")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "candleshop.order.events", cand.topic)
	assert.Equal(t, "order-7", cand.key)
	assert.Equal(t, eventValue, cand.value)
	require.NotNil(t, cand.event)
	assert.Equal(t, kafka.EventTypePaymentRejected, cand.event.EventType)
	assert.Equal(t, "order-7", cand.event.OrderID)
}

func TestDecodeCandidate_ConsumerRecordFallbackTopic(t *testing.T) {
	eventValue := orderEventJSON(t, kafka.EventTypeOrderCreated, "order-8")
	value := consumerDLQValue(t, "", "order-8", eventValue)

	cand, ok, err := decodeCandidate(value, kafka.TopicOrderEvents)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, kafka.TopicOrderEvents, cand.topic)
}

func TestDecodeCandidate_OutboxRecord(t *testing.T) {
	eventValue := orderEventJSON(t, kafka.EventTypeOrderCancelled, "order-11")
	value := outboxDLQValue(t, "outbox-1", "order-11", "order.cancelled", eventValue)

	cand, ok, err := decodeCandidate(value, kafka.TopicOrderEvents)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, kafka.TopicOrderEvents, cand.topic)
	assert.Equal(t, "order-11", cand.key)
	require.NotNil(t, cand.event)
	assert.Equal(t, kafka.EventTypeOrderCancelled, cand.event.EventType)

	// Пересобранный envelope не тащит за собой служебные поля DLQ.
	var rebuilt map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(cand.value, &rebuilt))
	assert.Contains(t, rebuilt, "payload")
	assert.NotContains(t, rebuilt, "publish_error")
	assert.NotContains(t, rebuilt, "dlq_published_at")
}

func TestDecodeCandidate_Unrecognized(t *testing.T) {
	_, ok, err := decodeCandidate([]byte(`{"foo":"bar"}`), kafka.TopicOrderEvents)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = decodeCandidate([]byte("not json"), kafka.TopicOrderEvents)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeCandidate_OutboxRecordWithoutEvent(t *testing.T) {
	envelope, err := json.Marshal(map[string]any{
		"id":         "outbox-2",
		"event_type": "order.created",
		"payload":    json.RawMessage(`{"outbox_id":"outbox-2"}`),
	})
	require.NoError(t, err)

	_, _, decodeErr := decodeCandidate(envelope, kafka.TopicOrderEvents)
	assert.Error(t, decodeErr)
}

func TestCandidateMatches(t *testing.T) {
	event := kafka.NewOrderEvent(kafka.EventTypePaymentPaid, "order-1", "customer-1", "paid", "created", nil)
	cand := candidate{event: event}

	assert.True(t, cand.matches(options{}))
	assert.True(t, cand.matches(options{orderID: "order-1"}))
	assert.False(t, cand.matches(options{orderID: "order-2"}))
	assert.True(t, cand.matches(options{eventPrefix: "payment."}))
	assert.False(t, cand.matches(options{eventPrefix: "order."}))

	unknown := candidate{}
	assert.True(t, unknown.matches(options{}))
	assert.False(t, unknown.matches(options{orderID: "order-1"}))
	assert.False(t, unknown.matches(options{eventPrefix: "payment."}))
}

type fakeOffsets struct {
	partitions []int32
	oldest     map[int32]int64
	newest     map[int32]int64
}

func (f *fakeOffsets) Partitions(string) ([]int32, error) { return f.partitions, nil }

func (f *fakeOffsets) GetOffset(_ string, partition int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return f.oldest[partition], nil
	}
	return f.newest[partition], nil
}

func (f *fakeOffsets) Close() error { return nil }

type fakeStream struct {
	messages chan *sarama.ConsumerMessage
}

func (f *fakeStream) Messages() <-chan *sarama.ConsumerMessage { return f.messages }
func (f *fakeStream) Errors() <-chan *sarama.ConsumerError     { return nil }
func (f *fakeStream) Close() error                             { return nil }

type fakeOpener struct {
	streams map[int32]*fakeStream
}

func (f *fakeOpener) OpenStream(_ string, partition int32, _ int64) (messageStream, error) {
	return f.streams[partition], nil
}

func (f *fakeOpener) Close() error { return nil }

type fakeSink struct {
	sent []*sarama.ProducerMessage
}

func (f *fakeSink) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	f.sent = append(f.sent, msg)
	return 0, int64(len(f.sent)), nil
}

func (f *fakeSink) Close() error { return nil }

func dlqPartition(values ...[]byte) *fakeStream {
	messages := make(chan *sarama.ConsumerMessage, len(values))
	for offset, value := range values {
		messages <- &sarama.ConsumerMessage{
			Topic:     kafka.TopicDeadLetterQueue,
			Partition: 0,
			Offset:    int64(offset),
			Value:     value,
		}
	}
	return &fakeStream{messages: messages}
}

func TestRun_DryRunCountsEventsWithoutPublishing(t *testing.T) {
	stream := dlqPartition(
		consumerDLQValue(t, kafka.TopicOrderEvents, "order-1", orderEventJSON(t, kafka.EventTypePaymentRejected, "order-1")),
		outboxDLQValue(t, "outbox-1", "order-2", "order.cancelled", orderEventJSON(t, kafka.EventTypeOrderCancelled, "order-2")),
		[]byte(`{"foo":"bar"}`),
	)

	p := &reprocessor{
		opts: options{
			sourceTopic: kafka.TopicDeadLetterQueue,
			targetTopic: kafka.TopicOrderEvents,
			limit:       10,
			idleTimeout: 50 * time.Millisecond,
		},
		offsets: &fakeOffsets{partitions: []int32{0}, oldest: map[int32]int64{0: 0}, newest: map[int32]int64{0: 3}},
		streams: &fakeOpener{streams: map[int32]*fakeStream{0: stream}},
		report:  newTriageReport(),
	}

	require.NoError(t, p.run(context.Background()))

	assert.Equal(t, 3, p.report.scanned)
	assert.Equal(t, 2, p.report.republished)
	assert.Equal(t, 1, p.report.skipped)
	assert.Equal(t, 0, p.report.filtered)
	assert.Equal(t, 1, p.report.byEvent["payment.rejected"])
	assert.Equal(t, 1, p.report.byEvent["order.cancelled"])
}

func TestRun_ExecuteRepublishesToTargetTopic(t *testing.T) {
	stream := dlqPartition(
		consumerDLQValue(t, "", "order-5", orderEventJSON(t, kafka.EventTypePaymentSubmitted, "order-5")),
	)
	sink := &fakeSink{}

	p := &reprocessor{
		opts: options{
			sourceTopic: kafka.TopicDeadLetterQueue,
			targetTopic: kafka.TopicOrderEvents,
			limit:       10,
			execute:     true,
			idleTimeout: 50 * time.Millisecond,
		},
		offsets: &fakeOffsets{partitions: []int32{0}, oldest: map[int32]int64{0: 0}, newest: map[int32]int64{0: 1}},
		streams: &fakeOpener{streams: map[int32]*fakeStream{0: stream}},
		sink:    sink,
		report:  newTriageReport(),
	}

	require.NoError(t, p.run(context.Background()))

	require.Len(t, sink.sent, 1)
	assert.Equal(t, kafka.TopicOrderEvents, sink.sent[0].Topic)
	key, err := sink.sent[0].Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "order-5", string(key))
	assert.Equal(t, 1, p.report.republished)
}

func TestRun_OrderFilter(t *testing.T) {
	stream := dlqPartition(
		consumerDLQValue(t, kafka.TopicOrderEvents, "order-1", orderEventJSON(t, kafka.EventTypePaymentRejected, "order-1")),
		consumerDLQValue(t, kafka.TopicOrderEvents, "order-2", orderEventJSON(t, kafka.EventTypePaymentRejected, "order-2")),
	)
	sink := &fakeSink{}

	p := &reprocessor{
		opts: options{
			sourceTopic: kafka.TopicDeadLetterQueue,
			targetTopic: kafka.TopicOrderEvents,
			orderID:     "order-2",
			limit:       10,
			execute:     true,
			idleTimeout: 50 * time.Millisecond,
		},
		offsets: &fakeOffsets{partitions: []int32{0}, oldest: map[int32]int64{0: 0}, newest: map[int32]int64{0: 2}},
		streams: &fakeOpener{streams: map[int32]*fakeStream{0: stream}},
		sink:    sink,
		report:  newTriageReport(),
	}

	require.NoError(t, p.run(context.Background()))

	require.Len(t, sink.sent, 1)
	key, err := sink.sent[0].Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "order-2", string(key))
	assert.Equal(t, 1, p.report.filtered)
}

func TestRun_LimitBoundsScan(t *testing.T) {
	stream := dlqPartition(
		consumerDLQValue(t, kafka.TopicOrderEvents, "order-1", orderEventJSON(t, kafka.EventTypeOrderCreated, "order-1")),
		consumerDLQValue(t, kafka.TopicOrderEvents, "order-2", orderEventJSON(t, kafka.EventTypeOrderCreated, "order-2")),
		consumerDLQValue(t, kafka.TopicOrderEvents, "order-3", orderEventJSON(t, kafka.EventTypeOrderCreated, "order-3")),
	)

	p := &reprocessor{
		opts: options{
			sourceTopic: kafka.TopicDeadLetterQueue,
			targetTopic: kafka.TopicOrderEvents,
			limit:       2,
			idleTimeout: 50 * time.Millisecond,
		},
		offsets: &fakeOffsets{partitions: []int32{0}, oldest: map[int32]int64{0: 0}, newest: map[int32]int64{0: 3}},
		streams: &fakeOpener{streams: map[int32]*fakeStream{0: stream}},
		report:  newTriageReport(),
	}

	require.NoError(t, p.run(context.Background()))
	assert.Equal(t, 2, p.report.scanned)
}

func TestRun_RequiresSinkInExecuteMode(t *testing.T) {
	p := &reprocessor{
		opts:    options{execute: true, limit: 1, idleTimeout: time.Millisecond},
		offsets: &fakeOffsets{},
		streams: &fakeOpener{},
		report:  newTriageReport(),
	}
	assert.Error(t, p.run(context.Background()))
}
