package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// События оплаты
	EventTypePaymentSubmitted EventType = "payment.submitted"
	EventTypePaymentPaid      EventType = "payment.paid"
	EventTypePaymentRejected  EventType = "payment.rejected"
	EventTypePaymentCompleted EventType = "payment.completed"
	EventTypePaymentFailed    EventType = "payment.failed"

	// События заказа
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
	EventTypeOrderCancelled     EventType = "order.cancelled"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "candleshop.order.events"
	TopicDeadLetterQueue = "candleshop.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие жизненного цикла заказа
type OrderEvent struct {
	EventType     EventType              `json:"event_type"`
	OrderID       string                 `json:"order_id"`
	UserID        string                 `json:"user_id"`
	PaymentStatus string                 `json:"payment_status"`
	OrderStatus   string                 `json:"order_status"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, userID, paymentStatus, orderStatus string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType:     eventType,
		OrderID:       orderID,
		UserID:        userID,
		PaymentStatus: paymentStatus,
		OrderStatus:   orderStatus,
		Timestamp:     time.Now(),
		Metadata:      metadata,
	}
}
