package domain

import "time"

// OrderStatus описывает стадию исполнения заказа.
type OrderStatus string

const (
	// OrderStatusCreated — заказ создан, ожидает оплаты и сборки.
	OrderStatusCreated OrderStatus = "created"
	// OrderStatusPacked — заказ собран и упакован.
	OrderStatusPacked OrderStatus = "packed"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен; терминальный статус.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён до доставки; терминальный статус.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// orderStatusRank задаёт линейный порядок стадий исполнения.
var orderStatusRank = map[OrderStatus]int{
	OrderStatusCreated:   0,
	OrderStatusPacked:    1,
	OrderStatusShipped:   2,
	OrderStatusDelivered: 3,
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusPacked, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, является ли статус конечным.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanProgressTo проверяет допустимость перехода исполнения заказа.
// Движение только вперёд по цепочке created → packed → shipped → delivered;
// cancelled достижим из любого нетерминального статуса.
func (s OrderStatus) CanProgressTo(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == OrderStatusCancelled {
		return true
	}
	from, okFrom := orderStatusRank[s]
	to, okTo := orderStatusRank[next]
	if !okFrom || !okTo {
		return false
	}
	return to > from
}

// PaymentStatus — единый enum статусов оплаты, покрывающий оба потока:
// ручную UPI-проверку (pending → submitted → paid|rejected) и
// автоматический gateway-callback (pending → completed|failed).
type PaymentStatus string

const (
	// PaymentStatusPending — заказ создан, оплата не подтверждена.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusSubmitted — клиент прислал UPI-референс, ждём проверку админом.
	PaymentStatusSubmitted PaymentStatus = "submitted"
	// PaymentStatusPaid — админ подтвердил ручной платёж; терминальный успех.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusRejected — админ отклонил подтверждение; допускается повторная отправка.
	PaymentStatusRejected PaymentStatus = "rejected"
	// PaymentStatusCompleted — платёж подтверждён подписью шлюза; терминальный успех.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed — шлюз сообщил о неуспехе платежа.
	PaymentStatusFailed PaymentStatus = "failed"
)

// paymentTransitions — явная таблица допустимых переходов статуса оплаты.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusSubmitted, PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusSubmitted: {PaymentStatusPaid, PaymentStatusRejected},
	PaymentStatusRejected:  {PaymentStatusSubmitted},
	PaymentStatusFailed:    {PaymentStatusCompleted},
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSubmitted, PaymentStatusPaid,
		PaymentStatusRejected, PaymentStatusCompleted, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// Settled сообщает, подтверждена ли оплата любым из потоков.
func (s PaymentStatus) Settled() bool {
	return s == PaymentStatusPaid || s == PaymentStatusCompleted
}

// CanTransition проверяет допустимость перехода статуса оплаты.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OrderItem — позиция заказа со снапшотом товара.
// Name/PriceMinor/ImageURL копируются в момент оформления,
// поэтому последующие правки каталога не меняют историю заказов.
type OrderItem struct {
	ID         string
	ProductID  string
	Name       string
	PriceMinor int64
	ImageURL   string
	Qty        int32
	CreatedAt  time.Time
}

// Address — снапшот адреса доставки на момент оформления заказа.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Phone      string
}

// Empty сообщает, заполнен ли адрес хоть чем-то.
func (a Address) Empty() bool {
	return a == Address{}
}

// Order агрегирует позиции, суммы, состояние оплаты и состояние исполнения.
type Order struct {
	ID     string
	UserID string
	Items  []OrderItem

	SubtotalMinor int64
	DiscountMinor int64
	TotalMinor    int64
	CouponCode    string

	PaymentStatus PaymentStatus
	OrderStatus   OrderStatus

	ShippingAddress Address

	// Поля ручного UPI-потока.
	UPIReference      string
	PaymentScreenshot string
	PaymentSubmitted  *time.Time
	AdminNote         string

	// Поля gateway-потока.
	GatewayOrderID string
	PaymentID      string

	// StockRestored — остатки по заказу возвращены на склад (компенсация
	// отклонения или отмены). Повторная подача оплаты резервирует их заново
	// и снимает флаг; пока флаг взведён, повторная компенсация не выполняется.
	StockRestored bool

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет денежные и структурные инварианты заказа.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	var subtotal int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		subtotal += int64(item.Qty) * item.PriceMinor
	}
	if subtotal != o.SubtotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}
	if o.DiscountMinor < 0 || o.DiscountMinor > o.SubtotalMinor {
		errs = append(errs, ErrDiscountOutOfRange)
	}
	if o.TotalMinor != o.SubtotalMinor-o.DiscountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// ValidUPIReference проверяет, что строка похожа на банковский UTR:
// только латинские буквы и цифры, длина не меньше 10 символов.
func ValidUPIReference(ref string) bool {
	if len(ref) < 10 {
		return false
	}
	for _, r := range ref {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
