package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
)

func TestCouponRepository_PostgresGetAndIncrement(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewCouponRepository(store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC().Round(time.Microsecond)
	validTo := now.Add(24 * time.Hour)
	_, err := store.DB().ExecContext(ctx, `
		INSERT INTO coupons (code, discount_type, value_minor, valid_from, valid_to,
		                     min_subtotal_minor, max_discount_minor, usage_limit, used_count,
		                     active, created_at, updated_at)
		VALUES ('DIWALI20', 'percentage', 20, $1, $2, 50000, 10000, 100, 0, TRUE, $1, $1)
	`, now, validTo)
	if err != nil {
		t.Fatalf("insert coupon: %v", err)
	}

	// Код нормализуется: поиск не зависит от регистра и пробелов.
	coupon, err := repo.GetByCode("  diwali20 ")
	if err != nil {
		t.Fatalf("get coupon: %v", err)
	}
	if coupon.Code != "DIWALI20" || coupon.Type != domain.DiscountPercentage || coupon.Value != 20 {
		t.Fatalf("unexpected coupon payload: %+v", coupon)
	}
	if coupon.ValidTo == nil || !coupon.ValidTo.Equal(validTo) {
		t.Fatalf("unexpected valid_to: %v", coupon.ValidTo)
	}

	if _, err := repo.GetByCode("NOPE"); !errors.Is(err, domain.ErrCouponNotFound) {
		t.Fatalf("expected ErrCouponNotFound, got %v", err)
	}

	if err := repo.IncrementUsage("diwali20"); err != nil {
		t.Fatalf("increment usage: %v", err)
	}
	if err := repo.IncrementUsage("DIWALI20"); err != nil {
		t.Fatalf("increment usage twice: %v", err)
	}

	coupon, err = repo.GetByCode("DIWALI20")
	if err != nil {
		t.Fatalf("get coupon after increments: %v", err)
	}
	if coupon.UsedCount != 2 {
		t.Fatalf("unexpected used count: %d", coupon.UsedCount)
	}

	if err := repo.IncrementUsage("NOPE"); !errors.Is(err, domain.ErrCouponNotFound) {
		t.Fatalf("expected ErrCouponNotFound on increment, got %v", err)
	}
}
