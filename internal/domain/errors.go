package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия итоговой суммы: total != subtotal - discount.
	ErrAmountMismatch = errors.New("order total does not match subtotal minus discount")
	// Ошибка, если скидка выходит за пределы [0, subtotal].
	ErrDiscountOutOfRange = errors.New("discount must be within [0, subtotal]")

	// ErrProductNotFound возвращается, если товар не найден или деактивирован.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock — бизнес-отказ: запрошенное количество превышает остаток.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrCouponNotFound возвращается, если купон с таким кодом не существует.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrUserNotFound возвращается, если профиль пользователя не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrAddressNotFound возвращается, если у пользователя нет сохранённого адреса.
	ErrAddressNotFound = errors.New("address not found")

	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrStateConflict — операция запрошена в недопустимом состоянии заказа/платежа.
	ErrStateConflict = errors.New("operation not allowed in current state")
	// ErrPaymentAlreadySubmitted — повторная отправка подтверждения, пока платёж на проверке.
	ErrPaymentAlreadySubmitted = errors.New("payment proof already submitted")
	// ErrPaymentAlreadySettled — платёж уже подтверждён, повторные операции запрещены.
	ErrPaymentAlreadySettled = errors.New("payment already settled")
	// ErrPaymentNotConfirmed — продвижение доставки возможно только после оплаты.
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	// ErrInvalidOrderStatus — запрошенный статус исполнения не существует
	// или недоступен этой операции.
	ErrInvalidOrderStatus = errors.New("invalid order status")

	// ErrInvalidSignature — подпись платёжного шлюза не прошла проверку.
	ErrInvalidSignature = errors.New("payment signature verification failed")
	// ErrInvalidUPIReference — UPI-референс не похож на банковский UTR.
	ErrInvalidUPIReference = errors.New("upi reference must be alphanumeric and at least 10 characters")

	// ErrCouponInactive и далее — причины неприменимости купона (см. CouponReason).
	ErrCouponInactive     = errors.New("coupon is inactive")
	ErrCouponNotYetValid  = errors.New("coupon is not valid yet")
	ErrCouponExpired      = errors.New("coupon has expired")
	ErrCouponLimitReached = errors.New("coupon usage limit reached")
	ErrCouponBelowMinimum = errors.New("order subtotal is below coupon minimum")

	// ErrNotificationSend — отправка письма не удалась; никогда не роняет транзакцию.
	ErrNotificationSend = errors.New("notification send failed")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsStateConflict проверяет, относится ли ошибка к конфликтам состояния.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrPaymentAlreadySubmitted) ||
		errors.Is(err, ErrPaymentAlreadySettled) ||
		errors.Is(err, ErrPaymentNotConfirmed)
}

// IsNotFound проверяет, относится ли ошибка к отсутствующим сущностям.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrCouponNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrAddressNotFound)
}
