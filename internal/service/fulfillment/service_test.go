package fulfillment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
	"github.com/vladislavdragonenkov/candleshop/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/candleshop/internal/storage/memory"
)

type sentEmail struct {
	To       string
	Template string
	Vars     domain.NotificationVars
}

type stubNotifier struct {
	sent []sentEmail
}

func (s *stubNotifier) SendOrderStatusEmail(to, templateKey string, vars domain.NotificationVars) error {
	s.sent = append(s.sent, sentEmail{To: to, Template: templateKey, Vars: vars})
	return nil
}

func (s *stubNotifier) SendPaymentNotification(to, templateKey string, vars domain.NotificationVars) error {
	s.sent = append(s.sent, sentEmail{To: to, Template: templateKey, Vars: vars})
	return nil
}

type fulfillmentFixture struct {
	service  Service
	orders   domain.OrderRepository
	products domain.ProductRepository
	notifier *stubNotifier
	outbox   interface {
		AllPending() []domain.OutboxMessage
	}
}

func newFulfillmentFixture(t *testing.T) (*fulfillmentFixture, func(order domain.Order)) {
	t.Helper()

	orders := memory.NewOrderRepository()
	products := memory.NewProductRepository()
	users := memory.NewUserRepository()
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()
	notifier := &stubNotifier{}

	users.Put(domain.User{ID: "user-1", Name: "Alice", Email: "alice@example.com"})
	products.Put(domain.Product{ID: "candle-rose", Name: "Rose Candle", PriceMinor: 19900, Stock: 3, Active: true})

	emitter := lifecycle.NewEmitter(outbox, timeline, nil, nil)
	svc := NewService(orders, products, users, timeline, notifier, emitter, nil, nil)

	fixture := &fulfillmentFixture{
		service:  svc,
		orders:   orders,
		products: products,
		notifier: notifier,
		outbox:   outbox,
	}
	seed := func(order domain.Order) {
		t.Helper()
		require.NoError(t, orders.Create(order))
	}
	return fixture, seed
}

func paidOrder(id string) domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:            id,
		UserID:        "user-1",
		SubtotalMinor: 39800,
		TotalMinor:    39800,
		PaymentStatus: domain.PaymentStatusPaid,
		OrderStatus:   domain.OrderStatusCreated,
		Items: []domain.OrderItem{
			{ID: id + "-item-1", ProductID: "candle-rose", Name: "Rose Candle", PriceMinor: 19900, Qty: 2, CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSetStatus_ProgressesAndNotifies(t *testing.T) {
	f, seed := newFulfillmentFixture(t)
	seed(paidOrder("order-1"))

	order, err := f.service.SetStatus("order-1", domain.OrderStatusPacked)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPacked, order.OrderStatus)

	order, err = f.service.SetStatus("order-1", domain.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, order.OrderStatus)

	order, err = f.service.SetStatus("order-1", domain.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, order.OrderStatus)

	// Каждый переход сопровождается письмом со своим шаблоном.
	require.Len(t, f.notifier.sent, 3)
	assert.Equal(t, domain.TemplateOrderPacked, f.notifier.sent[0].Template)
	assert.Equal(t, domain.TemplateOrderShipped, f.notifier.sent[1].Template)
	assert.Equal(t, domain.TemplateOrderDelivered, f.notifier.sent[2].Template)

	events := f.outbox.AllPending()
	require.Len(t, events, 3)
	assert.Equal(t, "order.status_changed", events[0].EventType)
}

func TestSetStatus_RequiresSettledPayment(t *testing.T) {
	f, seed := newFulfillmentFixture(t)

	for _, status := range []domain.PaymentStatus{
		domain.PaymentStatusPending,
		domain.PaymentStatusSubmitted,
		domain.PaymentStatusRejected,
		domain.PaymentStatusFailed,
	} {
		order := paidOrder("order-" + string(status))
		order.PaymentStatus = status
		seed(order)

		_, err := f.service.SetStatus(order.ID, domain.OrderStatusPacked)
		assert.ErrorIs(t, err, domain.ErrPaymentNotConfirmed, "payment status %s", status)
	}

	assert.Empty(t, f.notifier.sent)
}

func TestSetStatus_ForwardOnly(t *testing.T) {
	f, seed := newFulfillmentFixture(t)
	order := paidOrder("order-1")
	order.OrderStatus = domain.OrderStatusShipped
	seed(order)

	// Попятный переход запрещён.
	_, err := f.service.SetStatus("order-1", domain.OrderStatusPacked)
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	// Из терминального статуса переходов нет.
	_, err = f.service.SetStatus("order-1", domain.OrderStatusDelivered)
	require.NoError(t, err)
	_, err = f.service.SetStatus("order-1", domain.OrderStatusShipped)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestSetStatus_SameStatusIsNoop(t *testing.T) {
	f, seed := newFulfillmentFixture(t)
	order := paidOrder("order-1")
	order.OrderStatus = domain.OrderStatusPacked
	seed(order)

	result, err := f.service.SetStatus("order-1", domain.OrderStatusPacked)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPacked, result.OrderStatus)

	// Без письма и без события.
	assert.Empty(t, f.notifier.sent)
	assert.Empty(t, f.outbox.AllPending())
}

func TestSetStatus_InvalidStatus(t *testing.T) {
	f, seed := newFulfillmentFixture(t)
	seed(paidOrder("order-1"))

	_, err := f.service.SetStatus("order-1", domain.OrderStatus("teleported"))
	assert.ErrorIs(t, err, domain.ErrInvalidOrderStatus)

	// Отмена идёт через собственную операцию с компенсацией.
	_, err = f.service.SetStatus("order-1", domain.OrderStatusCancelled)
	assert.ErrorIs(t, err, domain.ErrInvalidOrderStatus)

	_, err = f.service.SetStatus("missing", domain.OrderStatusPacked)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestCancel_RestoresStockAndNotifies(t *testing.T) {
	f, seed := newFulfillmentFixture(t)
	seed(paidOrder("order-1"))

	order, err := f.service.Cancel("order-1", "customer request")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.OrderStatus)
	assert.Equal(t, "Cancelled: customer request", order.AdminNote)

	product, err := f.products.Get("candle-rose")
	require.NoError(t, err)
	assert.Equal(t, int32(5), product.Stock)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, domain.TemplateOrderCancelled, f.notifier.sent[0].Template)
	assert.Equal(t, "Cancelled: customer request", f.notifier.sent[0].Vars.Reason)

	events := f.outbox.AllPending()
	require.Len(t, events, 1)
	assert.Equal(t, "order.cancelled", events[0].EventType)
}

func TestCancel_DefaultNote(t *testing.T) {
	f, seed := newFulfillmentFixture(t)
	seed(paidOrder("order-1"))

	order, err := f.service.Cancel("order-1", "   ")
	require.NoError(t, err)
	assert.Equal(t, DefaultCancelNote, order.AdminNote)
}

func TestCancel_TerminalStatusRejected(t *testing.T) {
	f, seed := newFulfillmentFixture(t)

	delivered := paidOrder("order-1")
	delivered.OrderStatus = domain.OrderStatusDelivered
	seed(delivered)
	_, err := f.service.Cancel("order-1", "too late")
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	cancelled := paidOrder("order-2")
	cancelled.OrderStatus = domain.OrderStatusCancelled
	seed(cancelled)
	_, err = f.service.Cancel("order-2", "again")
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	// Остатки не трогались.
	product, err := f.products.Get("candle-rose")
	require.NoError(t, err)
	assert.Equal(t, int32(3), product.Stock)
}

func TestCancel_SkipsRestoreAfterRejection(t *testing.T) {
	f, seed := newFulfillmentFixture(t)
	order := paidOrder("order-1")
	order.PaymentStatus = domain.PaymentStatusRejected
	order.StockRestored = true
	seed(order)

	_, err := f.service.Cancel("order-1", "rejected payment cleanup")
	require.NoError(t, err)

	// Отклонение оплаты уже вернуло остатки, повторный возврат не выполняется.
	product, err := f.products.Get("candle-rose")
	require.NoError(t, err)
	assert.Equal(t, int32(3), product.Stock)
}

// Повторная подача после отклонения резервирует остатки заново и снимает
// флаг компенсации, поэтому отмена после неё возвращает остатки ровно один раз.
func TestCancel_RestoresOnceAfterResubmission(t *testing.T) {
	f, seed := newFulfillmentFixture(t)
	order := paidOrder("order-1")
	order.PaymentStatus = domain.PaymentStatusSubmitted
	order.StockRestored = false // повторная подача вернула резерв
	seed(order)

	_, err := f.service.Cancel("order-1", "customer changed mind")
	require.NoError(t, err)

	product, err := f.products.Get("candle-rose")
	require.NoError(t, err)
	assert.Equal(t, int32(5), product.Stock)
}

func TestGet_OwnerScoped(t *testing.T) {
	f, seed := newFulfillmentFixture(t)
	seed(paidOrder("order-1"))

	order, err := f.service.Get("order-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", order.ID)

	// Админский доступ без владельца.
	_, err = f.service.Get("order-1", "")
	require.NoError(t, err)

	// Чужой заказ неотличим от несуществующего.
	_, err = f.service.Get("order-1", "user-2")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestList_RequiresUser(t *testing.T) {
	f, seed := newFulfillmentFixture(t)
	seed(paidOrder("order-1"))
	seed(paidOrder("order-2"))

	orders, err := f.service.List("user-1", 0)
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	_, err = f.service.List("", 0)
	assert.ErrorIs(t, err, domain.ErrUserRequired)
}

func TestTimeline_OwnerScoped(t *testing.T) {
	f, seed := newFulfillmentFixture(t)
	seed(paidOrder("order-1"))

	_, err := f.service.SetStatus("order-1", domain.OrderStatusPacked)
	require.NoError(t, err)

	events, err := f.service.Timeline("order-1", "user-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "order.status_changed", events[0].Type)

	_, err = f.service.Timeline("order-1", "user-2")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}
