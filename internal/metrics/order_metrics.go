package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики жизненного цикла заказа.
type OrderMetrics struct {
	// Счётчики checkout
	checkoutStarted   prometheus.Counter
	checkoutCompleted prometheus.Counter
	checkoutFailed    prometheus.Counter

	// Счётчики верификации оплаты
	paymentsSubmitted prometheus.Counter
	paymentsApproved  prometheus.Counter
	paymentsRejected  prometheus.Counter
	paymentsVerified  prometheus.Counter

	// Счётчики исполнения
	statusTransitions *prometheus.CounterVec
	ordersCancelled   prometheus.Counter

	// Гистограмма времени checkout
	checkoutDuration prometheus.Histogram

	// Счётчики событий timeline и outbox
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Gauge очереди ручной верификации
	pendingVerifications prometheus.Gauge
}

// NewOrderMetrics создаёт новый экземпляр метрик заказов.
func NewOrderMetrics() *OrderMetrics {
	return newOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		checkoutStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "candleshop_checkout_started_total",
			Help: "Total number of checkout attempts started",
		}),
		checkoutCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "candleshop_checkout_completed_total",
			Help: "Total number of checkouts that produced an order",
		}),
		checkoutFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "candleshop_checkout_failed_total",
			Help: "Total number of checkouts rejected or rolled back",
		}),
		paymentsSubmitted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "candleshop_payments_submitted_total",
			Help: "Total number of manual payment submissions",
		}),
		paymentsApproved: registerCounter(registerer, prometheus.CounterOpts{
			Name: "candleshop_payments_approved_total",
			Help: "Total number of payments approved by admins",
		}),
		paymentsRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "candleshop_payments_rejected_total",
			Help: "Total number of payments rejected by admins",
		}),
		paymentsVerified: registerCounter(registerer, prometheus.CounterOpts{
			Name: "candleshop_payments_gateway_verified_total",
			Help: "Total number of payments verified via gateway callback",
		}),
		statusTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "candleshop_order_status_transitions_total",
			Help: "Total number of fulfillment status transitions grouped by target status",
		}, []string{"status"}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "candleshop_orders_cancelled_total",
			Help: "Total number of cancelled orders",
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "candleshop_checkout_duration_seconds",
			Help:    "Duration of checkout operations in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "candleshop_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "candleshop_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		pendingVerifications: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "candleshop_pending_payment_verifications",
			Help: "Number of orders waiting for manual payment verification",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordCheckoutStarted увеличивает счётчик начатых checkout.
func (m *OrderMetrics) RecordCheckoutStarted() {
	m.checkoutStarted.Inc()
}

// RecordCheckoutCompleted увеличивает счётчик успешных checkout.
func (m *OrderMetrics) RecordCheckoutCompleted() {
	m.checkoutCompleted.Inc()
}

// RecordCheckoutFailed увеличивает счётчик неудачных checkout.
func (m *OrderMetrics) RecordCheckoutFailed() {
	m.checkoutFailed.Inc()
}

// RecordCheckoutDuration записывает время выполнения checkout.
func (m *OrderMetrics) RecordCheckoutDuration(duration time.Duration) {
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordPaymentSubmitted увеличивает счётчик поданных оплат и очередь верификации.
func (m *OrderMetrics) RecordPaymentSubmitted() {
	m.paymentsSubmitted.Inc()
	m.pendingVerifications.Inc()
}

// RecordPaymentApproved увеличивает счётчик подтверждённых оплат.
func (m *OrderMetrics) RecordPaymentApproved() {
	m.paymentsApproved.Inc()
	m.pendingVerifications.Dec()
}

// RecordPaymentRejected увеличивает счётчик отклонённых оплат.
func (m *OrderMetrics) RecordPaymentRejected() {
	m.paymentsRejected.Inc()
	m.pendingVerifications.Dec()
}

// RecordPaymentGatewayVerified увеличивает счётчик оплат, подтверждённых callback'ом шлюза.
func (m *OrderMetrics) RecordPaymentGatewayVerified() {
	m.paymentsVerified.Inc()
}

// RecordStatusTransition фиксирует переход исполнения в новый статус.
func (m *OrderMetrics) RecordStatusTransition(status string) {
	m.statusTransitions.WithLabelValues(status).Inc()
}

// RecordOrderCancelled увеличивает счётчик отменённых заказов.
func (m *OrderMetrics) RecordOrderCancelled() {
	m.ordersCancelled.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
