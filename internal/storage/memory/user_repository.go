package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
)

// userRepositoryInMemory хранит профили и адреса пользователей в памяти.
type userRepositoryInMemory struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	addresses map[string]domain.Address
}

// NewUserRepository возвращает in-memory реализацию UserRepository.
func NewUserRepository() *userRepositoryInMemory {
	return &userRepositoryInMemory{
		users:     make(map[string]domain.User),
		addresses: make(map[string]domain.Address),
	}
}

// Put добавляет или заменяет профиль пользователя.
func (r *userRepositoryInMemory) Put(user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
}

// PutAddress сохраняет адрес доставки пользователя.
func (r *userRepositoryInMemory) PutAddress(userID string, addr domain.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addresses[userID] = addr
}

// Get возвращает профиль пользователя.
func (r *userRepositoryInMemory) Get(id string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

// GetAddress возвращает сохранённый адрес или ErrAddressNotFound.
func (r *userRepositoryInMemory) GetAddress(userID string) (domain.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addr, ok := r.addresses[userID]
	if !ok {
		return domain.Address{}, domain.ErrAddressNotFound
	}
	return addr, nil
}

var _ domain.UserRepository = (*userRepositoryInMemory)(nil)
