package payment

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
	"github.com/vladislavdragonenkov/candleshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/candleshop/internal/metrics"
	"github.com/vladislavdragonenkov/candleshop/internal/service/lifecycle"
)

// DefaultRejectNote записывается в заказ, когда админ отклонил оплату без комментария.
const DefaultRejectNote = "Payment verification failed"

// SubmitInput — подача ручного UPI-подтверждения оплаты покупателем.
type SubmitInput struct {
	OrderID      string
	UserID       string
	UPIReference string
	Screenshot   string
}

// GatewayVerifyInput — callback платёжного шлюза с подписью.
type GatewayVerifyInput struct {
	OrderID        string
	UserID         string
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// Workflow управляет верификацией оплаты заказа: ручной UPI-цикл
// submit → approve/reject и альтернативный gateway-callback путь.
type Workflow interface {
	Submit(in SubmitInput) (domain.Order, error)
	Approve(orderID, adminNote string) (domain.Order, error)
	Reject(orderID, adminNote string) (domain.Order, error)
	VerifyGateway(in GatewayVerifyInput) (domain.Order, error)
	ListPending(limit int) ([]domain.Order, error)
}

type workflow struct {
	orders   domain.OrderRepository
	products domain.ProductRepository
	coupons  domain.CouponRepository
	users    domain.UserRepository
	gateway  domain.PaymentGateway
	notifier domain.Notifier
	emitter  *lifecycle.Emitter
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
}

// NewWorkflow создаёт рабочий экземпляр workflow верификации оплаты.
func NewWorkflow(
	orders domain.OrderRepository,
	products domain.ProductRepository,
	coupons domain.CouponRepository,
	users domain.UserRepository,
	gateway domain.PaymentGateway,
	notifier domain.Notifier,
	emitter *lifecycle.Emitter,
	orderMetrics *metrics.OrderMetrics,
	logger *log.Entry,
) Workflow {
	if logger == nil {
		logger = log.WithField("component", "payment-workflow")
	}
	return &workflow{
		orders:   orders,
		products: products,
		coupons:  coupons,
		users:    users,
		gateway:  gateway,
		notifier: notifier,
		emitter:  emitter,
		metrics:  orderMetrics,
		logger:   logger,
	}
}

// Submit переводит заказ в submitted и записывает UPI-реквизиты.
// Допустим из pending и из rejected (повторная подача после отказа);
// повторная подача при уже ожидающей верификации — конфликт.
func (w *workflow) Submit(in SubmitInput) (domain.Order, error) {
	reference := strings.TrimSpace(in.UPIReference)
	if !domain.ValidUPIReference(reference) {
		return domain.Order{}, domain.ErrInvalidUPIReference
	}

	order, err := w.loadOwnedOrder(in.OrderID, in.UserID)
	if err != nil {
		return domain.Order{}, err
	}

	// Повторная подача после отклонения: компенсация вернула остатки,
	// резервируем их заново до смены статуса. Если товар успели раскупить,
	// подача завершается ErrInsufficientStock.
	reserved := false
	if order.StockRestored {
		if reserveErr := w.products.ReserveStock(stockAdjustments(&order)); reserveErr != nil {
			return domain.Order{}, fmt.Errorf("re-reserve stock for order %s: %w", order.ID, reserveErr)
		}
		reserved = true
	}

	err = lifecycle.UpdateWithRetry(w.orders, w.logger, &order, func(o *domain.Order) error {
		if o.OrderStatus.Terminal() {
			return fmt.Errorf("%w: order is %s", domain.ErrStateConflict, o.OrderStatus)
		}
		if o.PaymentStatus == domain.PaymentStatusSubmitted {
			return domain.ErrPaymentAlreadySubmitted
		}
		if o.PaymentStatus.Settled() {
			return domain.ErrPaymentAlreadySettled
		}
		if !o.PaymentStatus.CanTransition(domain.PaymentStatusSubmitted) {
			return fmt.Errorf("%w: payment is %s", domain.ErrStateConflict, o.PaymentStatus)
		}

		now := time.Now().UTC()
		o.PaymentStatus = domain.PaymentStatusSubmitted
		o.UPIReference = reference
		o.PaymentScreenshot = in.Screenshot
		o.PaymentSubmitted = &now
		if reserved {
			o.StockRestored = false
		}
		return nil
	})
	if err != nil {
		if reserved {
			w.restoreStock(&order)
		}
		return domain.Order{}, err
	}

	w.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"user_id":  order.UserID,
	}).Info("payment submitted for verification")

	if w.metrics != nil {
		w.metrics.RecordPaymentSubmitted()
	}
	w.emitter.Emit(&order, string(kafka.EventTypePaymentSubmitted), map[string]interface{}{
		"upi_reference": reference,
	})
	w.notify(&order, domain.TemplatePaymentSubmitted, "")

	return order, nil
}

// Approve подтверждает оплату: submitted → paid. Предусловие перепроверяется
// при повторной попытке сохранения, поэтому из двух гонящихся админов
// выигрывает ровно один.
func (w *workflow) Approve(orderID, adminNote string) (domain.Order, error) {
	order, err := w.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	err = lifecycle.UpdateWithRetry(w.orders, w.logger, &order, func(o *domain.Order) error {
		if o.PaymentStatus.Settled() {
			return domain.ErrPaymentAlreadySettled
		}
		if o.PaymentStatus != domain.PaymentStatusSubmitted {
			return fmt.Errorf("%w: payment is %s, approval requires submitted", domain.ErrStateConflict, o.PaymentStatus)
		}
		o.PaymentStatus = domain.PaymentStatusPaid
		if adminNote != "" {
			o.AdminNote = adminNote
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	w.logger.WithField("order_id", order.ID).Info("payment approved")

	if w.metrics != nil {
		w.metrics.RecordPaymentApproved()
	}
	w.settleCoupon(&order)
	w.emitter.Emit(&order, string(kafka.EventTypePaymentPaid), nil)
	w.notify(&order, domain.TemplateOrderConfirmation, "")

	return order, nil
}

// Reject отклоняет оплату: submitted → rejected, с компенсацией остатков.
func (w *workflow) Reject(orderID, adminNote string) (domain.Order, error) {
	if strings.TrimSpace(adminNote) == "" {
		adminNote = DefaultRejectNote
	}

	order, err := w.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	err = lifecycle.UpdateWithRetry(w.orders, w.logger, &order, func(o *domain.Order) error {
		if o.PaymentStatus.Settled() {
			return domain.ErrPaymentAlreadySettled
		}
		if o.PaymentStatus != domain.PaymentStatusSubmitted {
			return fmt.Errorf("%w: payment is %s, rejection requires submitted", domain.ErrStateConflict, o.PaymentStatus)
		}
		o.PaymentStatus = domain.PaymentStatusRejected
		o.AdminNote = adminNote
		o.StockRestored = true
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	w.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"reason":   adminNote,
	}).Info("payment rejected")

	w.restoreStock(&order)

	if w.metrics != nil {
		w.metrics.RecordPaymentRejected()
	}
	w.emitter.Emit(&order, string(kafka.EventTypePaymentRejected), map[string]interface{}{
		"reason": adminNote,
	})
	w.notify(&order, domain.TemplatePaymentRejected, adminNote)

	return order, nil
}

// VerifyGateway обрабатывает callback шлюза: проверяет подпись и переводит
// оплату в completed.
func (w *workflow) VerifyGateway(in GatewayVerifyInput) (domain.Order, error) {
	order, err := w.loadOwnedOrder(in.OrderID, in.UserID)
	if err != nil {
		return domain.Order{}, err
	}

	if order.GatewayOrderID != "" && order.GatewayOrderID != in.GatewayOrderID {
		return domain.Order{}, domain.ErrInvalidSignature
	}
	if err := w.gateway.VerifySignature(in.GatewayOrderID, in.PaymentID, in.Signature); err != nil {
		return domain.Order{}, err
	}

	err = lifecycle.UpdateWithRetry(w.orders, w.logger, &order, func(o *domain.Order) error {
		if o.PaymentStatus.Settled() {
			return domain.ErrPaymentAlreadySettled
		}
		if !o.PaymentStatus.CanTransition(domain.PaymentStatusCompleted) {
			return fmt.Errorf("%w: payment is %s", domain.ErrStateConflict, o.PaymentStatus)
		}
		o.PaymentStatus = domain.PaymentStatusCompleted
		o.PaymentID = in.PaymentID
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	w.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"payment_id": in.PaymentID,
	}).Info("payment verified via gateway callback")

	if w.metrics != nil {
		w.metrics.RecordPaymentGatewayVerified()
	}
	w.settleCoupon(&order)
	w.emitter.Emit(&order, string(kafka.EventTypePaymentCompleted), map[string]interface{}{
		"payment_id": in.PaymentID,
	})
	w.notify(&order, domain.TemplateOrderConfirmation, "")

	return order, nil
}

// ListPending возвращает очередь заказов, ожидающих ручной верификации.
func (w *workflow) ListPending(limit int) ([]domain.Order, error) {
	return w.orders.ListByPaymentStatus(domain.PaymentStatusSubmitted, limit)
}

func (w *workflow) loadOwnedOrder(orderID, userID string) (domain.Order, error) {
	order, err := w.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	// Чужой заказ неотличим от несуществующего.
	if userID != "" && order.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// settleCoupon атомарно увеличивает used_count купона при первом переходе
// заказа в settled-статус. Переходы в paid/completed достижимы не более
// одного раза, поэтому двойной инкремент невозможен.
func (w *workflow) settleCoupon(order *domain.Order) {
	if order.CouponCode == "" || w.coupons == nil {
		return
	}
	if err := w.coupons.IncrementUsage(order.CouponCode); err != nil {
		w.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"coupon":   order.CouponCode,
		}).Warn("failed to increment coupon usage")
	}
}

func stockAdjustments(order *domain.Order) []domain.StockAdjustment {
	adjustments := make([]domain.StockAdjustment, 0, len(order.Items))
	for _, item := range order.Items {
		adjustments = append(adjustments, domain.StockAdjustment{ProductID: item.ProductID, Qty: item.Qty})
	}
	return adjustments
}

func (w *workflow) restoreStock(order *domain.Order) {
	if err := w.products.RestoreStock(stockAdjustments(order)); err != nil {
		w.logger.WithError(err).WithField("order_id", order.ID).Error("stock restore failed")
	}
}

// notify отправляет письмо после коммита перехода; сбой логируется и не
// влияет на результат операции.
func (w *workflow) notify(order *domain.Order, templateKey, reason string) {
	if w.notifier == nil || w.users == nil {
		return
	}

	user, err := w.users.Get(order.UserID)
	if err != nil {
		w.logger.WithError(err).WithField("order_id", order.ID).Warn("load user for notification failed")
		return
	}

	vars := domain.NotificationVarsFor(order, user.Name)
	vars.Reason = reason
	if err := w.notifier.SendPaymentNotification(user.Email, templateKey, vars); err != nil {
		w.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"template": templateKey,
		}).Warn("payment notification failed")
	}
}

var _ Workflow = (*workflow)(nil)
