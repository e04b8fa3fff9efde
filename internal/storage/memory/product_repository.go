package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
)

// productRepositoryInMemory — in-memory каталог со складским леджером.
// Вся сериализация конкурирующих checkout'ов идёт через один мьютекс,
// что повторяет семантику атомарного условного UPDATE в PostgreSQL.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository возвращает in-memory реализацию ProductRepository.
func NewProductRepository() *productRepositoryInMemory {
	return &productRepositoryInMemory{
		items: make(map[string]domain.Product),
	}
}

// Put добавляет или заменяет товар (seed для разработки и тестов).
func (r *productRepositoryInMemory) Put(product domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[product.ID] = product
}

// Get возвращает товар или ErrProductNotFound.
func (r *productRepositoryInMemory) Get(id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// ReserveStock атомарно списывает остатки по всем позициям: сначала
// проверяются все товары, затем применяются все списания. При любой
// ошибке ни один остаток не меняется. Количества суммируются по товару,
// поэтому корзина с несколькими строками одного товара проверяется
// против суммарного запроса, а не построчно.
func (r *productRepositoryInMemory) ReserveStock(items []domain.StockAdjustment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	requested := make(map[string]int32, len(items))
	for _, adj := range items {
		requested[adj.ProductID] += adj.Qty
	}

	for productID, qty := range requested {
		product, ok := r.items[productID]
		if !ok || !product.Active {
			return domain.ErrProductNotFound
		}
		if product.Stock < qty {
			return domain.ErrInsufficientStock
		}
	}

	for productID, qty := range requested {
		product := r.items[productID]
		product.Stock -= qty
		r.items[productID] = product
	}

	return nil
}

// RestoreStock безусловно возвращает остатки (компенсация отклонения/отмены).
func (r *productRepositoryInMemory) RestoreStock(items []domain.StockAdjustment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, adj := range items {
		product, ok := r.items[adj.ProductID]
		if !ok {
			return domain.ErrProductNotFound
		}
		product.Stock += adj.Qty
		r.items[adj.ProductID] = product
	}

	return nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
