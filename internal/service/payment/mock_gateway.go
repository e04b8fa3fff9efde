package payment

import (
	"github.com/vladislavdragonenkov/candleshop/internal/domain"
)

// MockGateway — детерминированная заглушка PaymentGateway для тестов и
// окружений без ключей Razorpay. Подписи генерируются тем же алгоритмом,
// что и у реального шлюза, на фиксированном секрете.
type MockGateway struct {
	KeySecret string

	CreateErr   error
	CreateCalls int
	VerifyCalls int
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{KeySecret: "mock-secret"}
}

// CreateOrder возвращает предсказуемый идентификатор "order_mock_<receiptID>".
func (m *MockGateway) CreateOrder(_ int64, _ string, receiptID string) (string, error) {
	m.CreateCalls++
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	return "order_mock_" + receiptID, nil
}

// VerifySignature сверяет подпись по тому же алгоритму, что и реальный шлюз.
func (m *MockGateway) VerifySignature(gatewayOrderID, paymentID, signature string) error {
	m.VerifyCalls++
	return verifyHMACSignature(m.KeySecret, gatewayOrderID, paymentID, signature)
}

// Sign генерирует валидную подпись для тестов.
func (m *MockGateway) Sign(gatewayOrderID, paymentID string) string {
	return signHMAC(m.KeySecret, gatewayOrderID, paymentID)
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
