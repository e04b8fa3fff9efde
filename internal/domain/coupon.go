package domain

import (
	"strings"
	"time"
)

// DiscountType задаёт способ расчёта скидки купона.
type DiscountType string

const (
	// DiscountPercentage — скидка в процентах от подытога.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFlat — фиксированная скидка в минимальных денежных единицах.
	DiscountFlat DiscountType = "flat"
)

// CouponReason объясняет, почему купон неприменим к корзине.
type CouponReason string

const (
	CouponReasonNone         CouponReason = ""
	CouponReasonNotFound     CouponReason = "not_found"
	CouponReasonInactive     CouponReason = "inactive"
	CouponReasonNotYetValid  CouponReason = "not_yet_valid"
	CouponReasonExpired      CouponReason = "expired"
	CouponReasonLimitReached CouponReason = "usage_limit_reached"
	CouponReasonBelowMinimum CouponReason = "below_minimum"
)

// Err переводит причину неприменимости в sentinel-ошибку для строгих вызовов.
func (r CouponReason) Err() error {
	switch r {
	case CouponReasonNotFound:
		return ErrCouponNotFound
	case CouponReasonInactive:
		return ErrCouponInactive
	case CouponReasonNotYetValid:
		return ErrCouponNotYetValid
	case CouponReasonExpired:
		return ErrCouponExpired
	case CouponReasonLimitReached:
		return ErrCouponLimitReached
	case CouponReasonBelowMinimum:
		return ErrCouponBelowMinimum
	default:
		return nil
	}
}

// Coupon описывает скидочный купон. Код хранится в верхнем регистре,
// сопоставление кодов регистронезависимое.
type Coupon struct {
	Code  string
	Type  DiscountType
	Value int64
	// ValidFrom/ValidTo — опциональное окно действия; nil означает "без границы".
	ValidFrom *time.Time
	ValidTo   *time.Time
	// MinSubtotalMinor — минимальный подытог корзины для применения (0 = нет порога).
	MinSubtotalMinor int64
	// MaxDiscountMinor — потолок скидки для процентного типа (0 = без потолка).
	MaxDiscountMinor int64
	// UsageLimit ограничивает число применений (0 = без лимита), UsedCount — счётчик.
	UsageLimit int32
	UsedCount  int32
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NormalizeCouponCode приводит код купона к каноничному виду.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CouponEvaluation — результат чистой оценки купона против корзины.
type CouponEvaluation struct {
	Applicable    bool
	DiscountMinor int64
	Reason        CouponReason
}

// EvaluateCoupon вычисляет скидку купона для подытога на момент now.
// Функция чистая и детерминированная: без I/O и побочных эффектов.
// При любом нарушении условий применимости скидка равна нулю,
// а Reason указывает первую непройденную проверку.
func EvaluateCoupon(coupon *Coupon, subtotalMinor int64, now time.Time) CouponEvaluation {
	if coupon == nil {
		return CouponEvaluation{Reason: CouponReasonNotFound}
	}
	if !coupon.Active {
		return CouponEvaluation{Reason: CouponReasonInactive}
	}
	if coupon.ValidFrom != nil && now.Before(*coupon.ValidFrom) {
		return CouponEvaluation{Reason: CouponReasonNotYetValid}
	}
	if coupon.ValidTo != nil && now.After(*coupon.ValidTo) {
		return CouponEvaluation{Reason: CouponReasonExpired}
	}
	if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
		return CouponEvaluation{Reason: CouponReasonLimitReached}
	}
	if coupon.MinSubtotalMinor > 0 && subtotalMinor < coupon.MinSubtotalMinor {
		return CouponEvaluation{Reason: CouponReasonBelowMinimum}
	}

	var discount int64
	switch coupon.Type {
	case DiscountPercentage:
		// Целочисленное деление даёт floor(subtotal * value / 100).
		discount = subtotalMinor * coupon.Value / 100
		if coupon.MaxDiscountMinor > 0 && discount > coupon.MaxDiscountMinor {
			discount = coupon.MaxDiscountMinor
		}
	case DiscountFlat:
		discount = coupon.Value
	default:
		return CouponEvaluation{Reason: CouponReasonInactive}
	}

	// Скидка всегда зажата в [0, subtotal].
	if discount < 0 {
		discount = 0
	}
	if discount > subtotalMinor {
		discount = subtotalMinor
	}

	return CouponEvaluation{
		Applicable:    true,
		DiscountMinor: discount,
	}
}
