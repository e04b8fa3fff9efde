package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
)

// templateRepositoryInMemory хранит настроенные email-шаблоны в памяти.
type templateRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.EmailTemplate
}

// NewTemplateRepository возвращает in-memory реализацию TemplateRepository.
func NewTemplateRepository() *templateRepositoryInMemory {
	return &templateRepositoryInMemory{
		items: make(map[string]domain.EmailTemplate),
	}
}

// Put сохраняет шаблон (seed для разработки и тестов).
func (r *templateRepositoryInMemory) Put(tpl domain.EmailTemplate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[tpl.Key] = tpl
}

// Get возвращает шаблон или ErrTemplateNotFound (вызывающий берёт дефолт).
func (r *templateRepositoryInMemory) Get(key string) (domain.EmailTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tpl, ok := r.items[key]
	if !ok {
		return domain.EmailTemplate{}, domain.ErrTemplateNotFound
	}
	return tpl, nil
}

var _ domain.TemplateRepository = (*templateRepositoryInMemory)(nil)
