package fulfillment

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
	"github.com/vladislavdragonenkov/candleshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/candleshop/internal/metrics"
	"github.com/vladislavdragonenkov/candleshop/internal/service/lifecycle"
)

// DefaultCancelNote записывается в заказ при отмене без указания причины.
const DefaultCancelNote = "Cancelled by admin"

// Service управляет исполнением оплаченного заказа: продвижением по
// стадиям доставки и отменой с компенсацией остатков.
type Service interface {
	SetStatus(orderID string, next domain.OrderStatus) (domain.Order, error)
	Cancel(orderID, reason string) (domain.Order, error)

	Get(orderID, userID string) (domain.Order, error)
	List(userID string, limit int) ([]domain.Order, error)
	Timeline(orderID, userID string) ([]domain.TimelineEvent, error)
}

type service struct {
	orders   domain.OrderRepository
	products domain.ProductRepository
	users    domain.UserRepository
	timeline domain.TimelineRepository
	notifier domain.Notifier
	emitter  *lifecycle.Emitter
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
}

// NewService создаёт рабочий экземпляр сервиса исполнения заказов.
func NewService(
	orders domain.OrderRepository,
	products domain.ProductRepository,
	users domain.UserRepository,
	timeline domain.TimelineRepository,
	notifier domain.Notifier,
	emitter *lifecycle.Emitter,
	orderMetrics *metrics.OrderMetrics,
	logger *log.Entry,
) Service {
	if logger == nil {
		logger = log.WithField("component", "fulfillment")
	}
	return &service{
		orders:   orders,
		products: products,
		users:    users,
		timeline: timeline,
		notifier: notifier,
		emitter:  emitter,
		metrics:  orderMetrics,
		logger:   logger,
	}
}

// errNoChange помечает переход в уже текущий статус: сохранение и
// уведомление не выполняются.
var errNoChange = errors.New("order already in requested status")

// SetStatus продвигает исполнение заказа вперёд: created → packed →
// shipped → delivered. Требует подтверждённой оплаты; попятные переходы
// и переходы из терминальных статусов запрещены. Повторная установка
// текущего статуса — no-op без уведомления.
func (s *service) SetStatus(orderID string, next domain.OrderStatus) (domain.Order, error) {
	if !next.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidOrderStatus, next)
	}
	if next == domain.OrderStatusCancelled {
		return domain.Order{}, fmt.Errorf("%w: cancellation has a dedicated operation", domain.ErrInvalidOrderStatus)
	}

	order, err := s.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var previous domain.OrderStatus
	err = lifecycle.UpdateWithRetry(s.orders, s.logger, &order, func(o *domain.Order) error {
		if !o.PaymentStatus.Settled() {
			return fmt.Errorf("%w: payment is %s", domain.ErrPaymentNotConfirmed, o.PaymentStatus)
		}
		if o.OrderStatus == next {
			return errNoChange
		}
		if !o.OrderStatus.CanProgressTo(next) {
			return fmt.Errorf("%w: cannot progress from %s to %s", domain.ErrStateConflict, o.OrderStatus, next)
		}
		previous = o.OrderStatus
		o.OrderStatus = next
		return nil
	})
	if errors.Is(err, errNoChange) {
		return order, nil
	}
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"from":     previous,
		"to":       next,
	}).Info("order status advanced")

	if s.metrics != nil {
		s.metrics.RecordStatusTransition(string(next))
	}
	s.emitter.Emit(&order, string(kafka.EventTypeOrderStatusChanged), map[string]interface{}{
		"status":   string(next),
		"previous": string(previous),
	})
	s.notify(&order, domain.StatusTemplateKey(next), "")

	return order, nil
}

// Cancel отменяет заказ из любого нетерминального статуса исполнения,
// возвращает остатки на склад и записывает причину в заметку заказа.
func (s *service) Cancel(orderID, reason string) (domain.Order, error) {
	reason = strings.TrimSpace(reason)
	note := DefaultCancelNote
	if reason != "" {
		note = "Cancelled: " + reason
	}

	order, err := s.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var restoreNeeded bool
	err = lifecycle.UpdateWithRetry(s.orders, s.logger, &order, func(o *domain.Order) error {
		if o.OrderStatus.Terminal() {
			return fmt.Errorf("%w: order is %s", domain.ErrStateConflict, o.OrderStatus)
		}
		// Компенсация выполняется не более одного раза на заказ:
		// после отклонения оплаты остатки уже возвращены, а повторная
		// подача (которая резервирует заново) снимает флаг.
		restoreNeeded = !o.StockRestored
		if restoreNeeded {
			o.StockRestored = true
		}
		o.OrderStatus = domain.OrderStatusCancelled
		o.AdminNote = note
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	if restoreNeeded {
		s.restoreStock(&order)
	}

	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"reason":   note,
	}).Info("order cancelled")

	if s.metrics != nil {
		s.metrics.RecordOrderCancelled()
	}
	s.emitter.Emit(&order, string(kafka.EventTypeOrderCancelled), map[string]interface{}{
		"reason": note,
	})
	s.notify(&order, domain.TemplateOrderCancelled, note)

	return order, nil
}

// Get возвращает заказ покупателю-владельцу; пустой userID — админский доступ.
func (s *service) Get(orderID, userID string) (domain.Order, error) {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	// Чужой заказ неотличим от несуществующего.
	if userID != "" && order.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// List возвращает заказы пользователя от новых к старым.
func (s *service) List(userID string, limit int) ([]domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUserRequired
	}
	return s.orders.ListByUser(userID, limit)
}

// Timeline возвращает хронологию событий заказа.
func (s *service) Timeline(orderID, userID string) ([]domain.TimelineEvent, error) {
	if _, err := s.Get(orderID, userID); err != nil {
		return nil, err
	}
	return s.timeline.List(orderID)
}

func (s *service) restoreStock(order *domain.Order) {
	adjustments := make([]domain.StockAdjustment, 0, len(order.Items))
	for _, item := range order.Items {
		adjustments = append(adjustments, domain.StockAdjustment{ProductID: item.ProductID, Qty: item.Qty})
	}
	if err := s.products.RestoreStock(adjustments); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("stock restore failed")
	}
}

func (s *service) notify(order *domain.Order, templateKey, reason string) {
	if s.notifier == nil || s.users == nil {
		return
	}

	user, err := s.users.Get(order.UserID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("load user for notification failed")
		return
	}

	vars := domain.NotificationVarsFor(order, user.Name)
	vars.Reason = reason
	if err := s.notifier.SendOrderStatusEmail(user.Email, templateKey, vars); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"template": templateKey,
		}).Warn("status notification failed")
	}
}

var _ Service = (*service)(nil)
