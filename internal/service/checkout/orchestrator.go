package checkout

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
	"github.com/vladislavdragonenkov/candleshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/candleshop/internal/metrics"
	"github.com/vladislavdragonenkov/candleshop/internal/service/lifecycle"
)

// Currency платежей. Мультивалютность не поддерживается.
const Currency = "INR"

// ItemInput — позиция корзины.
type ItemInput struct {
	ProductID string
	Qty       int32
}

// Input — запрос на оформление заказа.
type Input struct {
	UserID     string
	Items      []ItemInput
	CouponCode string
}

// Result — результат оформления заказа.
type Result struct {
	Order          domain.Order
	GatewayOrderID string
}

// CouponQuote — результат строгой проверки купона на корзине.
type CouponQuote struct {
	Code          string
	SubtotalMinor int64
	DiscountMinor int64
	TotalMinor    int64
}

// Orchestrator оформляет заказ: резервирует остатки, применяет купон,
// снимает snapshot цен и адреса и создаёт заказ в ожидании оплаты.
type Orchestrator interface {
	Checkout(in Input) (Result, error)
	QuoteCoupon(code string, items []ItemInput) (CouponQuote, error)
}

type orchestrator struct {
	orders   domain.OrderRepository
	products domain.ProductRepository
	coupons  domain.CouponRepository
	users    domain.UserRepository
	gateway  domain.PaymentGateway
	emitter  *lifecycle.Emitter
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора checkout.
func NewOrchestrator(
	orders domain.OrderRepository,
	products domain.ProductRepository,
	coupons domain.CouponRepository,
	users domain.UserRepository,
	gateway domain.PaymentGateway,
	emitter *lifecycle.Emitter,
	orderMetrics *metrics.OrderMetrics,
	logger *log.Entry,
) Orchestrator {
	if logger == nil {
		logger = log.WithField("component", "checkout")
	}
	return &orchestrator{
		orders:   orders,
		products: products,
		coupons:  coupons,
		users:    users,
		gateway:  gateway,
		emitter:  emitter,
		metrics:  orderMetrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Checkout выполняет шаги оформления строго по порядку, каждый —
// fail-fast предусловие для следующего.
func (o *orchestrator) Checkout(in Input) (Result, error) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordCheckoutStarted()
		defer func() {
			o.metrics.RecordCheckoutDuration(time.Since(start))
		}()
	}

	if err := validateInput(in); err != nil {
		o.recordFailure()
		return Result{}, err
	}

	// 1. Загружаем товары; любой отсутствующий или неактивный — отказ.
	loaded, err := o.loadProducts(in.Items)
	if err != nil {
		o.recordFailure()
		return Result{}, err
	}

	// 2. Резервируем остатки целиком: либо списаны все позиции, либо ни одна.
	adjustments := make([]domain.StockAdjustment, 0, len(in.Items))
	for _, item := range in.Items {
		adjustments = append(adjustments, domain.StockAdjustment{ProductID: item.ProductID, Qty: item.Qty})
	}
	if err := o.products.ReserveStock(adjustments); err != nil {
		o.recordFailure()
		return Result{}, err
	}

	now := o.now()
	orderID := uuid.NewString()

	// 3. Snapshot позиций: имя и цена фиксируются на момент заказа.
	items := make([]domain.OrderItem, 0, len(in.Items))
	var subtotal int64
	for _, item := range in.Items {
		product := loaded[item.ProductID]
		items = append(items, domain.OrderItem{
			ID:         uuid.NewString(),
			ProductID:  product.ID,
			Name:       product.Name,
			PriceMinor: product.PriceMinor,
			ImageURL:   product.ImageURL,
			Qty:        item.Qty,
			CreatedAt:  now,
		})
		subtotal += product.PriceMinor * int64(item.Qty)
	}

	// 4. Купон применяется best-effort: непригодный купон игнорируется,
	// заказ оформляется по полной цене.
	var discount int64
	var couponCode string
	if in.CouponCode != "" {
		couponCode, discount = o.applyCouponBestEffort(in.CouponCode, subtotal, now)
	}

	// 5. Snapshot сохранённого адреса доставки; пустой, если адреса нет.
	address := o.loadAddress(in.UserID)

	order := domain.Order{
		ID:              orderID,
		UserID:          in.UserID,
		SubtotalMinor:   subtotal,
		DiscountMinor:   discount,
		TotalMinor:      subtotal - discount,
		CouponCode:      couponCode,
		PaymentStatus:   domain.PaymentStatusPending,
		OrderStatus:     domain.OrderStatusCreated,
		ShippingAddress: address,
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		o.rollbackReservation(adjustments, orderID)
		o.recordFailure()
		return Result{}, errors.Join(errs...)
	}

	// 6. Создаём заказ в ожидании оплаты. При сбое персиста резерв
	// возвращается — заказа не существует, удерживать остатки нечем.
	if err := o.orders.Create(order); err != nil {
		o.rollbackReservation(adjustments, orderID)
		o.recordFailure()
		return Result{}, fmt.Errorf("create order: %w", err)
	}

	// 7. Регистрируем заказ у платёжного провайдера. Сбой шлюза не
	// откатывает ни заказ, ни резерв: заказ остаётся в pending и может
	// быть оплачен вручную или отменён админом.
	gatewayOrderID, err := o.gateway.CreateOrder(order.TotalMinor, Currency, order.ID)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("gateway order creation failed")
		o.recordFailure()
		return Result{}, fmt.Errorf("create gateway order: %w", err)
	}

	if saveErr := lifecycle.UpdateWithRetry(o.orders, o.logger, &order, func(or *domain.Order) error {
		or.GatewayOrderID = gatewayOrderID
		return nil
	}); saveErr != nil {
		o.logger.WithError(saveErr).WithField("order_id", order.ID).Error("failed to record gateway order id")
	}

	o.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"user_id":     order.UserID,
		"total_minor": order.TotalMinor,
		"coupon":      order.CouponCode,
	}).Info("order created")

	if o.metrics != nil {
		o.metrics.RecordCheckoutCompleted()
	}
	o.emitter.Emit(&order, string(kafka.EventTypeOrderCreated), map[string]interface{}{
		"total_minor":    order.TotalMinor,
		"discount_minor": order.DiscountMinor,
		"items_count":    len(order.Items),
	})

	return Result{Order: order, GatewayOrderID: gatewayOrderID}, nil
}

// QuoteCoupon — строгая проверка купона (validate-эндпоинт): любой
// непройденный предикат — ошибка, в отличие от best-effort при checkout.
func (o *orchestrator) QuoteCoupon(code string, items []ItemInput) (CouponQuote, error) {
	if len(items) == 0 {
		return CouponQuote{}, domain.ErrItemsRequired
	}
	for _, item := range items {
		if item.Qty <= 0 {
			return CouponQuote{}, domain.ErrItemQtyInvalid
		}
	}

	loaded, err := o.loadProducts(items)
	if err != nil {
		return CouponQuote{}, err
	}

	var subtotal int64
	for _, item := range items {
		subtotal += loaded[item.ProductID].PriceMinor * int64(item.Qty)
	}

	coupon, err := o.coupons.GetByCode(code)
	if err != nil {
		return CouponQuote{}, err
	}

	evaluation := domain.EvaluateCoupon(&coupon, subtotal, o.now())
	if !evaluation.Applicable {
		return CouponQuote{}, evaluation.Reason.Err()
	}

	return CouponQuote{
		Code:          coupon.Code,
		SubtotalMinor: subtotal,
		DiscountMinor: evaluation.DiscountMinor,
		TotalMinor:    subtotal - evaluation.DiscountMinor,
	}, nil
}

func validateInput(in Input) error {
	if in.UserID == "" {
		return domain.ErrUserRequired
	}
	if len(in.Items) == 0 {
		return domain.ErrItemsRequired
	}
	for _, item := range in.Items {
		if item.ProductID == "" || item.Qty <= 0 {
			return domain.ErrItemQtyInvalid
		}
	}
	return nil
}

func (o *orchestrator) loadProducts(items []ItemInput) (map[string]domain.Product, error) {
	loaded := make(map[string]domain.Product, len(items))
	for _, item := range items {
		if _, ok := loaded[item.ProductID]; ok {
			continue
		}
		product, err := o.products.Get(item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, err)
		}
		if !product.Active {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, domain.ErrProductNotFound)
		}
		loaded[item.ProductID] = product
	}
	return loaded, nil
}

func (o *orchestrator) applyCouponBestEffort(code string, subtotal int64, now time.Time) (string, int64) {
	coupon, err := o.coupons.GetByCode(code)
	if err != nil {
		if !errors.Is(err, domain.ErrCouponNotFound) {
			o.logger.WithError(err).WithField("coupon", code).Warn("coupon lookup failed, proceeding without discount")
		}
		return "", 0
	}

	evaluation := domain.EvaluateCoupon(&coupon, subtotal, now)
	if !evaluation.Applicable {
		o.logger.WithFields(log.Fields{
			"coupon": coupon.Code,
			"reason": evaluation.Reason,
		}).Info("coupon not applicable, proceeding without discount")
		return "", 0
	}

	return coupon.Code, evaluation.DiscountMinor
}

func (o *orchestrator) loadAddress(userID string) domain.Address {
	address, err := o.users.GetAddress(userID)
	if err != nil {
		if !errors.Is(err, domain.ErrAddressNotFound) {
			o.logger.WithError(err).WithField("user_id", userID).Warn("load address failed")
		}
		return domain.Address{}
	}
	return address
}

func (o *orchestrator) rollbackReservation(adjustments []domain.StockAdjustment, orderID string) {
	if err := o.products.RestoreStock(adjustments); err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).Error("reservation rollback failed")
	}
}

func (o *orchestrator) recordFailure() {
	if o.metrics != nil {
		o.metrics.RecordCheckoutFailed()
	}
}

var _ Orchestrator = (*orchestrator)(nil)
