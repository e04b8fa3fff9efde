package lifecycle

import (
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
	"github.com/vladislavdragonenkov/candleshop/internal/metrics"
)

const (
	saveMaxRetries = 3
	saveBaseDelay  = 10 * time.Millisecond
)

// Emitter записывает события перехода заказа в transactional outbox и timeline.
// Ошибки записи логируются и не откатывают сам переход.
type Emitter struct {
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
}

// NewEmitter создаёт Emitter. Любая из зависимостей может быть nil.
func NewEmitter(outbox domain.OutboxRepository, timeline domain.TimelineRepository, orderMetrics *metrics.OrderMetrics, logger *log.Entry) *Emitter {
	if logger == nil {
		logger = log.WithField("component", "lifecycle")
	}
	return &Emitter{
		outbox:   outbox,
		timeline: timeline,
		metrics:  orderMetrics,
		logger:   logger,
	}
}

// Emit сохраняет событие в outbox и timeline.
func (e *Emitter) Emit(order *domain.Order, eventType string, payload map[string]interface{}) {
	if e == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = order.ID

	occurred := time.Now().UTC()
	if _, ok := payload["ts"]; !ok {
		payload["ts"] = occurred.Format(time.RFC3339Nano)
	}

	if e.outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			e.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Error("marshal event failed")
			return
		}

		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     eventType,
			Payload:       data,
		}
		if _, err := e.outbox.Enqueue(msg); err != nil {
			e.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Error("enqueue event failed")
		} else if e.metrics != nil {
			e.metrics.RecordOutboxEvent()
		}
	}

	if e.timeline != nil {
		var reason string
		if r, ok := payload["reason"].(string); ok {
			reason = r
		}
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Reason:   reason,
			Occurred: occurred,
		}
		if err := e.timeline.Append(event); err != nil {
			e.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Warn("append timeline event failed")
		} else if e.metrics != nil {
			e.metrics.RecordTimelineEvent()
		}
	}
}

// UpdateWithRetry применяет apply к заказу и сохраняет его с optimistic locking.
// При version conflict заказ перечитывается и apply выполняется заново поверх
// свежего состояния: проигравший конкурирующий апдейт перепроверяет свои
// предусловия и получает state conflict вместо второго применения.
func UpdateWithRetry(orders domain.OrderRepository, logger *log.Entry, order *domain.Order, apply func(*domain.Order) error) error {
	if logger == nil {
		logger = log.WithField("component", "lifecycle")
	}

	for attempt := 0; attempt < saveMaxRetries; attempt++ {
		if err := apply(order); err != nil {
			return err
		}
		order.UpdatedAt = time.Now().UTC()
		prevVersion := order.Version

		err := orders.Save(*order)
		if err == nil {
			order.Version = prevVersion + 1
			return nil
		}

		if domain.IsVersionConflict(err) && attempt < saveMaxRetries-1 {
			logger.WithFields(log.Fields{
				"order_id": order.ID,
				"attempt":  attempt + 1,
				"version":  order.Version,
			}).Warn("version conflict detected, retrying")

			fresh, loadErr := orders.Get(order.ID)
			if loadErr != nil {
				logger.WithError(loadErr).WithField("order_id", order.ID).Error("failed to reload order after conflict")
				return loadErr
			}
			*order = fresh

			time.Sleep(saveBaseDelay * time.Duration(1<<uint(attempt)))
			continue
		}

		logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"attempt":  attempt + 1,
		}).Error("failed to persist order")
		return err
	}

	return domain.ErrOrderVersionConflict
}
