package domain

import "time"

// Product описывает товар каталога.
// Остаток (Stock) меняется только побочными эффектами заказов:
// списание внутри checkout-транзакции, возврат — компенсацией
// при отклонении платежа или отмене заказа.
type Product struct {
	ID string
	// Name — название для витрины и снапшотов позиций заказа.
	Name string
	// PriceMinor — цена за единицу в минимальных денежных единицах (пайсы).
	PriceMinor int64
	// ImageURL копируется в снапшот позиции заказа.
	ImageURL string
	// Stock — доступный остаток; инвариант: всегда >= 0.
	Stock int32
	// Active — деактивированные товары не участвуют в checkout.
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет базовые инварианты товара.
func (p *Product) Validate() []error {
	var errs []error

	if p.PriceMinor < 0 {
		errs = append(errs, ErrItemPriceInvalid)
	}
	if p.Stock < 0 {
		errs = append(errs, ErrInsufficientStock)
	}

	return errs
}
