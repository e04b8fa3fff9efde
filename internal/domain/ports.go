package domain

import (
	"errors"
	"time"
)

// ErrTemplateNotFound возвращается, если для ключа нет настроенного шаблона;
// вызывающий обязан использовать дефолтный шаблон.
var ErrTemplateNotFound = errors.New("email template not found")

// StockAdjustment — списание или возврат остатков по одному товару.
type StockAdjustment struct {
	ProductID string
	Qty       int32
}

// ProductRepository описывает доступ к каталогу и складской леджер.
type ProductRepository interface {
	// Get возвращает товар или ErrProductNotFound.
	Get(id string) (Product, error)
	// ReserveStock атомарно списывает остатки по всем позициям.
	// Всё или ничего: при нехватке любого товара возвращается
	// ErrInsufficientStock (или ErrProductNotFound для неактивных),
	// и ни один остаток не меняется.
	ReserveStock(items []StockAdjustment) error
	// RestoreStock безусловно возвращает остатки на склад (компенсация).
	// Дедупликация повторных вызовов — ответственность вызывающего.
	RestoreStock(items []StockAdjustment) error
}

// CouponRepository описывает хранилище купонов.
type CouponRepository interface {
	// GetByCode ищет купон по нормализованному коду или возвращает ErrCouponNotFound.
	GetByCode(code string) (Coupon, error)
	// IncrementUsage атомарно увеличивает used_count купона.
	IncrementUsage(code string) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByUser возвращает заказы пользователя (новые первыми) с опциональным лимитом.
	ListByUser(userID string, limit int) ([]Order, error)
	// ListByPaymentStatus возвращает заказы в заданном статусе оплаты (очередь проверки).
	ListByPaymentStatus(status PaymentStatus, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking:
	// несовпадение версии даёт ErrOrderVersionConflict. Проверка предусловия
	// и сохранение под одной версией дают compare-and-swap по статусу оплаты.
	Save(order Order) error
}

// UserRepository отдаёт профиль покупателя и его сохранённый адрес.
type UserRepository interface {
	Get(id string) (User, error)
	// GetAddress возвращает сохранённый адрес доставки или ErrAddressNotFound.
	GetAddress(userID string) (Address, error)
}

// TemplateRepository хранит настроенные админом email-шаблоны.
type TemplateRepository interface {
	Get(key string) (EmailTemplate, error)
}

// Notifier отправляет email-уведомления о заказах. Отправка выполняется
// после коммита перехода состояния; ошибки логируются и не откатывают переход.
type Notifier interface {
	SendOrderStatusEmail(to string, templateKey string, vars NotificationVars) error
	SendPaymentNotification(to string, templateKey string, vars NotificationVars) error
}

// PaymentGateway описывает внешний платёжный провайдер.
type PaymentGateway interface {
	// CreateOrder регистрирует заказ у провайдера и возвращает его идентификатор.
	CreateOrder(amountMinor int64, currency, receiptID string) (string, error)
	// VerifySignature сверяет подпись callback'а; возвращает ErrInvalidSignature при несовпадении.
	VerifySignature(gatewayOrderID, paymentID, signature string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
