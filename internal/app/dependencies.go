package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
	"github.com/vladislavdragonenkov/candleshop/internal/metrics"
	"github.com/vladislavdragonenkov/candleshop/internal/notify"
	"github.com/vladislavdragonenkov/candleshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/candleshop/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/candleshop/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/candleshop/internal/service/payment"
	"github.com/vladislavdragonenkov/candleshop/internal/storage/memory"
	"github.com/vladislavdragonenkov/candleshop/internal/storage/postgres"
)

// Dependencies содержит собранный граф зависимостей приложения.
type Dependencies struct {
	Orders      domain.OrderRepository
	Products    domain.ProductRepository
	Coupons     domain.CouponRepository
	Users       domain.UserRepository
	Templates   domain.TemplateRepository
	Outbox      domain.OutboxRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository

	Gateway  domain.PaymentGateway
	Notifier domain.Notifier
	Metrics  *metrics.OrderMetrics
	Emitter  *lifecycle.Emitter

	Checkout    checkout.Orchestrator
	Payments    payment.Workflow
	Fulfillment fulfillment.Service

	// Store заполнен только при PostgreSQL-хранении.
	Store  *postgres.Store
	Logger *log.Entry
}

// NewDependencies создаёт зависимости согласно конфигурации: хранилище
// памяти или PostgreSQL, боевой Razorpay или mock-шлюз, SMTP или
// подавленная отправка писем.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{Logger: logger}

	switch cfg.Storage {
	case StoragePostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("init postgres storage: %w", err)
		}
		deps.Store = store
		deps.Orders = postgres.NewOrderRepository(store)
		deps.Products = postgres.NewProductRepository(store)
		deps.Coupons = postgres.NewCouponRepository(store)
		deps.Users = postgres.NewUserRepository(store)
		deps.Templates = postgres.NewTemplateRepository(store)
		deps.Outbox = postgres.NewOutboxRepository(store)
		deps.Timeline = postgres.NewTimelineRepository(store)
		deps.Idempotency = postgres.NewIdempotencyRepository(store)
		logger.Info("postgres storage initialized")
	case StorageMemory, "":
		deps.Orders = memory.NewOrderRepository()
		deps.Products = memory.NewProductRepository()
		deps.Coupons = memory.NewCouponRepository()
		deps.Users = memory.NewUserRepository()
		deps.Templates = memory.NewTemplateRepository()
		deps.Outbox = memory.NewOutboxRepository()
		deps.Timeline = memory.NewTimelineRepository()
		deps.Idempotency = memory.NewIdempotencyRepository()
		logger.Info("in-memory storage initialized")
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage)
	}

	if cfg.RazorpayKeyID != "" && cfg.RazorpayKeySecret != "" {
		deps.Gateway = payment.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
		logger.Info("razorpay gateway initialized")
	} else {
		deps.Gateway = payment.NewMockGateway()
		logger.Warn("razorpay credentials are not set, using mock payment gateway")
	}

	var sender notify.Sender
	if cfg.SMTP.Host != "" {
		sender = notify.NewSMTPSender(cfg.SMTP)
		logger.WithField("host", cfg.SMTP.Host).Info("smtp sender initialized")
	} else {
		sender = notify.NewLogSender(logger)
	}
	deps.Notifier = notify.NewNotifier(sender, deps.Templates, logger.WithField("component", "notify"))

	deps.Metrics = metrics.NewOrderMetrics()
	deps.Emitter = lifecycle.NewEmitter(deps.Outbox, deps.Timeline, deps.Metrics, logger.WithField("component", "lifecycle"))

	deps.Checkout = checkout.NewOrchestrator(
		deps.Orders, deps.Products, deps.Coupons, deps.Users,
		deps.Gateway, deps.Emitter, deps.Metrics,
		logger.WithField("component", "checkout"),
	)
	deps.Payments = payment.NewWorkflow(
		deps.Orders, deps.Products, deps.Coupons, deps.Users,
		deps.Gateway, deps.Notifier, deps.Emitter, deps.Metrics,
		logger.WithField("component", "payment-workflow"),
	)
	deps.Fulfillment = fulfillment.NewService(
		deps.Orders, deps.Products, deps.Users, deps.Timeline,
		deps.Notifier, deps.Emitter, deps.Metrics,
		logger.WithField("component", "fulfillment"),
	)

	return deps, nil
}

// Close освобождает ресурсы, удерживаемые зависимостями.
func (d *Dependencies) Close() error {
	if d.Store != nil {
		return d.Store.Close()
	}
	return nil
}
