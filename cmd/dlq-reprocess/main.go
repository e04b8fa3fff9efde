// Command dlq-reprocess разбирает candleshop.dlq и возвращает застрявшие
// события заказов в рабочий topic.
//
// По умолчанию инструмент работает в режиме dry-run: сканирует DLQ,
// печатает сводку по типам событий (payment.rejected, order.cancelled
// и т.д.) и ничего не публикует. Флаг -execute включает публикацию
// кандидатов в -target-topic. Фильтры -order и -events позволяют вернуть
// события одного заказа или одного семейства событий.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/candleshop/internal/messaging/kafka"
)

const (
	defaultScanLimit   = 100
	defaultIdleTimeout = 2 * time.Second
)

type options struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	orderID     string
	eventPrefix string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)

	opts := options{}
	var brokersRaw string
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers, comma-separated (fallback: KAFKA_BROKERS)")
	fs.StringVar(&opts.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	fs.StringVar(&opts.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic to republish order events to")
	fs.StringVar(&opts.orderID, "order", "", "republish only events of this order id")
	fs.StringVar(&opts.eventPrefix, "events", "", "republish only event types with this prefix, e.g. payment.")
	fs.IntVar(&opts.limit, "limit", defaultScanLimit, "max number of DLQ records to scan")
	fs.BoolVar(&opts.execute, "execute", false, "publish candidates; default is dry-run")
	fs.BoolVar(&opts.fromNewest, "from-newest", false, "scan the newest records first (bounded by limit)")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop scanning a partition after this idle period")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}
	for _, chunk := range strings.Split(brokersRaw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			opts.brokers = append(opts.brokers, broker)
		}
	}
	if len(opts.brokers) == 0 {
		return options{}, fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	}
	if strings.TrimSpace(opts.sourceTopic) == "" {
		return options{}, fmt.Errorf("source-topic is required")
	}
	if strings.TrimSpace(opts.targetTopic) == "" {
		return options{}, fmt.Errorf("target-topic is required")
	}
	if opts.limit <= 0 {
		return options{}, fmt.Errorf("limit must be > 0")
	}
	if opts.idleTimeout <= 0 {
		return options{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return opts, nil
}

// candidate — восстановленное из DLQ событие заказа, готовое к повторной
// публикации. event заполняется, когда payload распознан как OrderEvent.
type candidate struct {
	topic string
	key   string
	value []byte
	event *kafka.OrderEvent
}

// consumerRecord — форма, в которой consumer кладёт необработанное
// сообщение в DLQ (см. kafka.Consumer).
type consumerRecord struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
	ErrorMessage  string `json:"error_message"`
}

// outboxRecord — форма, в которой outbox worker кладёт неопубликованное
// событие в DLQ: envelope, payload которого содержит исходное событие.
type outboxRecord struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

type outboxRecordPayload struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

// decodeCandidate восстанавливает publish-кандидата из DLQ-записи.
// Вторая форма — outbox envelope — пересобирается в обычный envelope
// событий заказа без служебных полей publish_error/dlq_published_at.
func decodeCandidate(value []byte, fallbackTopic string) (candidate, bool, error) {
	var record consumerRecord
	if err := json.Unmarshal(value, &record); err == nil && record.OriginalValue != "" {
		topic := strings.TrimSpace(record.OriginalTopic)
		if topic == "" {
			topic = fallbackTopic
		}
		return candidate{
			topic: topic,
			key:   record.OriginalKey,
			value: []byte(record.OriginalValue),
			event: decodeOrderEvent([]byte(record.OriginalValue)),
		}, true, nil
	}

	var envelope outboxRecord
	if err := json.Unmarshal(value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return candidate{}, false, nil
	}

	var inner outboxRecordPayload
	if err := json.Unmarshal(envelope.Payload, &inner); err != nil {
		return candidate{}, false, fmt.Errorf("decode outbox dlq record: %w", err)
	}
	if len(inner.Payload) == 0 {
		return candidate{}, false, fmt.Errorf("outbox dlq record has no original event payload")
	}

	rebuilt := struct {
		ID            string          `json:"id"`
		AggregateType string          `json:"aggregate_type"`
		AggregateID   string          `json:"aggregate_id"`
		EventType     string          `json:"event_type"`
		Payload       json.RawMessage `json:"payload"`
		PublishedAt   time.Time       `json:"published_at"`
	}{
		ID:            coalesce(inner.OutboxID, envelope.ID),
		AggregateType: coalesce(inner.AggregateType, envelope.AggregateType),
		AggregateID:   coalesce(inner.AggregateID, envelope.AggregateID),
		EventType:     coalesce(inner.EventType, envelope.EventType),
		Payload:       inner.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(rebuilt)
	if err != nil {
		return candidate{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	key := rebuilt.AggregateID
	if key == "" {
		key = rebuilt.ID
	}

	return candidate{
		topic: fallbackTopic,
		key:   key,
		value: encoded,
		event: decodeOrderEvent(inner.Payload),
	}, true, nil
}

// decodeOrderEvent пытается узнать в payload событие заказа. DLQ может
// содержать и чужие сообщения, поэтому отсутствие event_type — не ошибка.
func decodeOrderEvent(payload []byte) *kafka.OrderEvent {
	var event kafka.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil
	}
	if event.EventType == "" {
		return nil
	}
	return &event
}

func (c candidate) matches(opts options) bool {
	if opts.orderID != "" {
		if c.event == nil || c.event.OrderID != opts.orderID {
			return false
		}
	}
	if opts.eventPrefix != "" {
		if c.event == nil || !strings.HasPrefix(string(c.event.EventType), opts.eventPrefix) {
			return false
		}
	}
	return true
}

func (c candidate) eventLabel() string {
	if c.event == nil {
		return "unknown"
	}
	return string(c.event.EventType)
}

func coalesce(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// triageReport накапливает итоги прохода по DLQ.
type triageReport struct {
	scanned     int
	republished int
	filtered    int
	skipped     int
	byEvent     map[string]int
}

func newTriageReport() *triageReport {
	return &triageReport{byEvent: make(map[string]int)}
}

func (r *triageReport) fields(mode string) log.Fields {
	fields := log.Fields{
		"mode":        mode,
		"scanned":     r.scanned,
		"republished": r.republished,
		"filtered":    r.filtered,
		"skipped":     r.skipped,
	}
	for event, count := range r.byEvent {
		fields["event."+event] = count
	}
	return fields
}

// Интерфейсы kafka-обвязки выделены, чтобы прогонять triage в тестах
// без реального брокера.
type offsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
	Close() error
}

type messageStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type streamOpener interface {
	OpenStream(topic string, partition int32, offset int64) (messageStream, error)
	Close() error
}

type messageSink interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaStreamOpener struct {
	consumer sarama.Consumer
}

func (o saramaStreamOpener) OpenStream(topic string, partition int32, offset int64) (messageStream, error) {
	return o.consumer.ConsumePartition(topic, partition, offset)
}

func (o saramaStreamOpener) Close() error {
	if o.consumer == nil {
		return nil
	}
	return o.consumer.Close()
}

var newKafkaPipeline = func(opts options) (offsetReader, streamOpener, messageSink, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	opener := saramaStreamOpener{consumer: consumer}

	if !opts.execute {
		return client, opener, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Compression = sarama.CompressionSnappy
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(opts.brokers, producerConfig)
	if err != nil {
		_ = opener.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, opener, producer, nil
}

type reprocessor struct {
	opts    options
	offsets offsetReader
	streams streamOpener
	sink    messageSink
	report  *triageReport
}

func (p *reprocessor) run(ctx context.Context) error {
	if p.offsets == nil || p.streams == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if p.opts.execute && p.sink == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := p.offsets.Partitions(p.opts.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", p.opts.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", p.opts.sourceTopic).Warn("dlq topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		remaining := p.opts.limit - p.report.scanned
		if remaining <= 0 {
			break
		}
		if err := p.scanPartition(ctx, partition, remaining); err != nil {
			return err
		}
	}

	mode := "dry-run"
	if p.opts.execute {
		mode = "execute"
	}
	log.WithFields(p.report.fields(mode)).Info("dlq triage finished")

	return nil
}

func (p *reprocessor) scanPartition(ctx context.Context, partition int32, budget int) error {
	oldest, err := p.offsets.GetOffset(p.opts.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := p.offsets.GetOffset(p.opts.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return nil
	}

	start := oldest
	if p.opts.fromNewest {
		if start = newest - int64(budget); start < oldest {
			start = oldest
		}
	}

	stream, err := p.streams.OpenStream(p.opts.sourceTopic, partition, start)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(p.opts.idleTimeout)
	defer idle.Stop()

	for scanned := 0; scanned < budget; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-stream.Errors():
			if err != nil {
				return fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil {
				return nil
			}
			if msg.Offset >= newest {
				return nil
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.opts.idleTimeout)

			scanned++
			if err := p.handle(msg); err != nil {
				return err
			}

			if msg.Offset+1 >= newest {
				return nil
			}
		case <-idle.C:
			return nil
		}
	}

	return nil
}

func (p *reprocessor) handle(msg *sarama.ConsumerMessage) error {
	p.report.scanned++

	cand, ok, err := decodeCandidate(msg.Value, p.opts.targetTopic)
	if err != nil {
		p.report.skipped++
		log.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("skip malformed dlq record")
		return nil
	}
	if !ok {
		p.report.skipped++
		return nil
	}
	if !cand.matches(p.opts) {
		p.report.filtered++
		return nil
	}

	p.report.byEvent[cand.eventLabel()]++

	fields := log.Fields{
		"partition":    msg.Partition,
		"offset":       msg.Offset,
		"target_topic": cand.topic,
		"key":          cand.key,
		"event_type":   cand.eventLabel(),
	}
	if cand.event != nil {
		fields["order_id"] = cand.event.OrderID
	}

	if !p.opts.execute {
		log.WithFields(fields).Info("dlq replay candidate")
		p.report.republished++
		return nil
	}

	if _, _, err := p.sink.SendMessage(&sarama.ProducerMessage{
		Topic:     cand.topic,
		Key:       sarama.StringEncoder(cand.key),
		Value:     sarama.ByteEncoder(cand.value),
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("republish dlq record: %w", err)
	}
	log.WithFields(fields).Info("dlq record republished")
	p.report.republished++

	return nil
}

func run(ctx context.Context, opts options) error {
	log.WithFields(log.Fields{
		"source_topic": opts.sourceTopic,
		"target_topic": opts.targetTopic,
		"limit":        opts.limit,
		"execute":      opts.execute,
		"order":        opts.orderID,
		"events":       opts.eventPrefix,
	}).Info("starting dlq triage")

	offsets, streams, sink, err := newKafkaPipeline(opts)
	if err != nil {
		return err
	}
	defer func() {
		if sink != nil {
			_ = sink.Close()
		}
		if streams != nil {
			_ = streams.Close()
		}
		if offsets != nil {
			_ = offsets.Close()
		}
	}()

	p := &reprocessor{
		opts:    opts,
		offsets: offsets,
		streams: streams,
		sink:    sink,
		report:  newTriageReport(),
	}
	return p.run(ctx)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			return
		}
		_, _ = fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(2)
	}

	if err := run(context.Background(), opts); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "dlq triage failed: %v\n", err)
		os.Exit(1)
	}
}
