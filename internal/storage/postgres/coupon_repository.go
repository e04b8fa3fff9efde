package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
)

type couponRepository struct {
	db *sql.DB
}

// NewCouponRepository создаёт PostgreSQL-реализацию CouponRepository.
func NewCouponRepository(store *Store) domain.CouponRepository {
	return &couponRepository{db: store.DB()}
}

func (r *couponRepository) GetByCode(code string) (domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		coupon    domain.Coupon
		dtype     string
		validFrom sql.NullTime
		validTo   sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT code, discount_type, value_minor, valid_from, valid_to,
		       min_subtotal_minor, max_discount_minor, usage_limit, used_count,
		       active, created_at, updated_at
		FROM coupons
		WHERE code = $1
	`, domain.NormalizeCouponCode(code)).Scan(
		&coupon.Code, &dtype, &coupon.Value, &validFrom, &validTo,
		&coupon.MinSubtotalMinor, &coupon.MaxDiscountMinor, &coupon.UsageLimit, &coupon.UsedCount,
		&coupon.Active, &coupon.CreatedAt, &coupon.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return domain.Coupon{}, fmt.Errorf("select coupon: %w", err)
	}

	coupon.Type = domain.DiscountType(dtype)
	if validFrom.Valid {
		ts := validFrom.Time.UTC()
		coupon.ValidFrom = &ts
	}
	if validTo.Valid {
		ts := validTo.Time.UTC()
		coupon.ValidTo = &ts
	}

	return coupon, nil
}

// IncrementUsage атомарно увеличивает used_count; конкурирующие заказы
// сериализуются на уровне строки.
func (r *couponRepository) IncrementUsage(code string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1,
		    updated_at = $2
		WHERE code = $1
	`, domain.NormalizeCouponCode(code), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("coupon rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCouponNotFound
	}

	return nil
}

var _ domain.CouponRepository = (*couponRepository)(nil)
