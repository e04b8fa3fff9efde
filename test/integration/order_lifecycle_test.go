package integration

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
	"github.com/vladislavdragonenkov/candleshop/internal/notify"
	"github.com/vladislavdragonenkov/candleshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/candleshop/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/candleshop/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/candleshop/internal/service/payment"
	"github.com/vladislavdragonenkov/candleshop/internal/storage/memory"
)

// OrderLifecycleTestSuite прогоняет полный жизненный цикл заказа через
// реальные сервисы поверх in-memory хранилища.
type OrderLifecycleTestSuite struct {
	suite.Suite

	orders   domain.OrderRepository
	products domain.ProductRepository
	timeline domain.TimelineRepository
	gateway  *payment.MockGateway

	checkout    checkout.Orchestrator
	payments    payment.Workflow
	fulfillment fulfillment.Service
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	products := memory.NewProductRepository()
	s.orders = memory.NewOrderRepository()
	s.products = products
	s.timeline = memory.NewTimelineRepository()
	coupons := memory.NewCouponRepository()
	users := memory.NewUserRepository()
	outbox := memory.NewOutboxRepository()
	templates := memory.NewTemplateRepository()
	s.gateway = payment.NewMockGateway()

	users.Put(domain.User{ID: "customer-123", Name: "Priya", Email: "priya@example.com"})
	users.PutAddress("customer-123", domain.Address{
		Line1:      "7 Lakeview Road",
		City:       "Pune",
		State:      "MH",
		PostalCode: "411001",
		Phone:      "+919800011122",
	})
	products.Put(domain.Product{ID: "candle-lavender", Name: "Lavender Candle", PriceMinor: 29900, Stock: 10, Active: true})
	products.Put(domain.Product{ID: "candle-vanilla", Name: "Vanilla Candle", PriceMinor: 14900, Stock: 4, Active: true})
	coupons.Put(domain.Coupon{Code: "FEST15", Type: domain.DiscountPercentage, Value: 15, Active: true})

	notifier := notify.NewNotifier(notify.NewLogSender(logger), templates, logger)
	emitter := lifecycle.NewEmitter(outbox, s.timeline, nil, logger)

	s.checkout = checkout.NewOrchestrator(s.orders, s.products, coupons, users, s.gateway, emitter, nil, logger)
	s.payments = payment.NewWorkflow(s.orders, s.products, coupons, users, s.gateway, notifier, emitter, nil, logger)
	s.fulfillment = fulfillment.NewService(s.orders, s.products, users, s.timeline, notifier, emitter, nil, logger)
}

func (s *OrderLifecycleTestSuite) placeOrder() domain.Order {
	s.T().Helper()

	result, err := s.checkout.Checkout(checkout.Input{
		UserID: "customer-123",
		Items: []checkout.ItemInput{
			{ProductID: "candle-lavender", Qty: 1},
			{ProductID: "candle-vanilla", Qty: 2},
		},
		CouponCode: "FEST15",
	})
	require.NoError(s.T(), err)
	return result.Order
}

func (s *OrderLifecycleTestSuite) stockOf(productID string) int32 {
	s.T().Helper()

	product, err := s.products.Get(productID)
	require.NoError(s.T(), err)
	return product.Stock
}

// TestSuccessfulOrderLifecycle: оформление → ручная верификация оплаты →
// исполнение до доставки.
func (s *OrderLifecycleTestSuite) TestSuccessfulOrderLifecycle() {
	order := s.placeOrder()

	s.Equal(int64(59700), order.SubtotalMinor)
	s.Equal(int64(8955), order.DiscountMinor)
	s.Equal(int64(50745), order.TotalMinor)
	s.Equal(domain.PaymentStatusPending, order.PaymentStatus)
	s.Equal(domain.OrderStatusCreated, order.OrderStatus)
	s.Equal(int32(9), s.stockOf("candle-lavender"))
	s.Equal(int32(2), s.stockOf("candle-vanilla"))

	// Покупатель подаёт UPI-референс.
	submitted, err := s.payments.Submit(payment.SubmitInput{
		OrderID:      order.ID,
		UserID:       "customer-123",
		UPIReference: "UPI4567890123",
	})
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusSubmitted, submitted.PaymentStatus)

	// Админ подтверждает платёж.
	approved, err := s.payments.Approve(order.ID, "verified against bank statement")
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusPaid, approved.PaymentStatus)

	// После оплаты заказ проходит все стадии исполнения.
	for _, next := range []domain.OrderStatus{
		domain.OrderStatusPacked,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	} {
		updated, err := s.fulfillment.SetStatus(order.ID, next)
		s.Require().NoError(err)
		s.Equal(next, updated.OrderStatus)
	}

	final, err := s.orders.Get(order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusDelivered, final.OrderStatus)
	s.True(final.OrderStatus.Terminal())

	events, err := s.timeline.List(order.ID)
	s.Require().NoError(err)
	s.GreaterOrEqual(len(events), 5)
}

// TestRejectionRestoresStockAndAllowsResubmit: отказ возвращает резерв,
// повторная подача снова возможна.
func (s *OrderLifecycleTestSuite) TestRejectionRestoresStockAndAllowsResubmit() {
	order := s.placeOrder()

	_, err := s.payments.Submit(payment.SubmitInput{
		OrderID:      order.ID,
		UserID:       "customer-123",
		UPIReference: "UPI0000000001",
	})
	s.Require().NoError(err)

	rejected, err := s.payments.Reject(order.ID, "")
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusRejected, rejected.PaymentStatus)
	s.Equal(payment.DefaultRejectNote, rejected.AdminNote)
	s.Equal(int32(10), s.stockOf("candle-lavender"))
	s.Equal(int32(4), s.stockOf("candle-vanilla"))

	// Исполнение недоступно без подтверждённой оплаты.
	_, err = s.fulfillment.SetStatus(order.ID, domain.OrderStatusPacked)
	s.Require().ErrorIs(err, domain.ErrPaymentNotConfirmed)

	// Из rejected допустима повторная подача.
	resubmitted, err := s.payments.Submit(payment.SubmitInput{
		OrderID:      order.ID,
		UserID:       "customer-123",
		UPIReference: "UPI0000000002",
	})
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusSubmitted, resubmitted.PaymentStatus)
	s.Equal("UPI0000000002", resubmitted.UPIReference)
}

// TestRejectResubmitCancelRestoresOnce: после отказа резерв возвращён,
// повторная подача резервирует заново, и отмена компенсирует ровно один раз.
func (s *OrderLifecycleTestSuite) TestRejectResubmitCancelRestoresOnce() {
	order := s.placeOrder()
	s.Equal(int32(9), s.stockOf("candle-lavender"))
	s.Equal(int32(2), s.stockOf("candle-vanilla"))

	_, err := s.payments.Submit(payment.SubmitInput{
		OrderID:      order.ID,
		UserID:       "customer-123",
		UPIReference: "UPI3333333333",
	})
	s.Require().NoError(err)

	_, err = s.payments.Reject(order.ID, "amount mismatch")
	s.Require().NoError(err)
	s.Equal(int32(10), s.stockOf("candle-lavender"))
	s.Equal(int32(4), s.stockOf("candle-vanilla"))

	_, err = s.payments.Submit(payment.SubmitInput{
		OrderID:      order.ID,
		UserID:       "customer-123",
		UPIReference: "UPI4444444444",
	})
	s.Require().NoError(err)
	s.Equal(int32(9), s.stockOf("candle-lavender"))
	s.Equal(int32(2), s.stockOf("candle-vanilla"))

	cancelled, err := s.fulfillment.Cancel(order.ID, "customer request")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, cancelled.OrderStatus)
	s.Equal(int32(10), s.stockOf("candle-lavender"))
	s.Equal(int32(4), s.stockOf("candle-vanilla"))
}

// TestGatewayCallbackCompletesPayment: подписанный callback шлюза
// завершает оплату без ручной верификации.
func (s *OrderLifecycleTestSuite) TestGatewayCallbackCompletesPayment() {
	order := s.placeOrder()

	stored, err := s.orders.Get(order.ID)
	s.Require().NoError(err)
	s.Require().NotEmpty(stored.GatewayOrderID)

	verified, err := s.payments.VerifyGateway(payment.GatewayVerifyInput{
		OrderID:        order.ID,
		UserID:         "customer-123",
		GatewayOrderID: stored.GatewayOrderID,
		PaymentID:      "pay_lifecycle_1",
		Signature:      s.gateway.Sign(stored.GatewayOrderID, "pay_lifecycle_1"),
	})
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusCompleted, verified.PaymentStatus)
	s.Equal("pay_lifecycle_1", verified.PaymentID)

	// После completed исполнение разрешено.
	packed, err := s.fulfillment.SetStatus(order.ID, domain.OrderStatusPacked)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPacked, packed.OrderStatus)
}

// TestCancellationAfterApproval: отмена из оплаченного заказа возвращает
// резерв и закрывает заказ.
func (s *OrderLifecycleTestSuite) TestCancellationAfterApproval() {
	order := s.placeOrder()

	_, err := s.payments.Submit(payment.SubmitInput{
		OrderID:      order.ID,
		UserID:       "customer-123",
		UPIReference: "UPI7777777777",
	})
	s.Require().NoError(err)
	_, err = s.payments.Approve(order.ID, "ok")
	s.Require().NoError(err)

	cancelled, err := s.fulfillment.Cancel(order.ID, "address unreachable")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, cancelled.OrderStatus)
	s.Equal("Cancelled: address unreachable", cancelled.AdminNote)
	s.Equal(int32(10), s.stockOf("candle-lavender"))
	s.Equal(int32(4), s.stockOf("candle-vanilla"))

	// Терминальный заказ не отменяется повторно.
	_, err = s.fulfillment.Cancel(order.ID, "again")
	s.Require().ErrorIs(err, domain.ErrStateConflict)
}

func TestOrderLifecycle(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
