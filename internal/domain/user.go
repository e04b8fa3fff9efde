package domain

import "time"

// User — минимальный профиль покупателя, нужный ядру:
// адресат уведомлений и владелец сохранённого адреса доставки.
// Аутентификация и выпуск сессий живут вне этого сервиса.
type User struct {
	ID        string
	Name      string
	Email     string
	IsAdmin   bool
	CreatedAt time.Time
}
