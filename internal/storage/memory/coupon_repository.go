package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
)

// couponRepositoryInMemory — in-memory хранилище купонов.
type couponRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Coupon
}

// NewCouponRepository возвращает in-memory реализацию CouponRepository.
func NewCouponRepository() *couponRepositoryInMemory {
	return &couponRepositoryInMemory{
		items: make(map[string]domain.Coupon),
	}
}

// Put добавляет или заменяет купон; код нормализуется.
func (r *couponRepositoryInMemory) Put(coupon domain.Coupon) {
	r.mu.Lock()
	defer r.mu.Unlock()

	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	r.items[coupon.Code] = coupon
}

// GetByCode ищет купон по нормализованному коду.
func (r *couponRepositoryInMemory) GetByCode(code string) (domain.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	coupon, ok := r.items[domain.NormalizeCouponCode(code)]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return coupon, nil
}

// IncrementUsage атомарно увеличивает счётчик применений купона.
func (r *couponRepositoryInMemory) IncrementUsage(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := domain.NormalizeCouponCode(code)
	coupon, ok := r.items[key]
	if !ok {
		return domain.ErrCouponNotFound
	}
	coupon.UsedCount++
	r.items[key] = coupon
	return nil
}

var _ domain.CouponRepository = (*couponRepositoryInMemory)(nil)
