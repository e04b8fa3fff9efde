package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
)

type razorpayGateway struct {
	client    *razorpay.Client
	keySecret string
}

// NewRazorpayGateway создаёт PaymentGateway поверх Razorpay API.
func NewRazorpayGateway(keyID, keySecret string) domain.PaymentGateway {
	return &razorpayGateway{
		client:    razorpay.NewClient(keyID, keySecret),
		keySecret: keySecret,
	}
}

func (g *razorpayGateway) CreateOrder(amountMinor int64, currency, receiptID string) (string, error) {
	data := map[string]interface{}{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  "receipt_" + receiptID,
	}

	order, err := g.client.Order.Create(data, nil)
	if err != nil {
		return "", fmt.Errorf("create gateway order: %w", err)
	}

	id, ok := order["id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("gateway order response has no id")
	}
	return id, nil
}

func (g *razorpayGateway) VerifySignature(gatewayOrderID, paymentID, signature string) error {
	return verifyHMACSignature(g.keySecret, gatewayOrderID, paymentID, signature)
}

// verifyHMACSignature сверяет подпись callback'а: HMAC-SHA256 от
// "<gateway_order_id>|<payment_id>" на секретном ключе, hex-кодировка.
func verifyHMACSignature(keySecret, gatewayOrderID, paymentID, signature string) error {
	expected := signHMAC(keySecret, gatewayOrderID, paymentID)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func signHMAC(keySecret, gatewayOrderID, paymentID string) string {
	h := hmac.New(sha256.New, []byte(keySecret))
	h.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hex.EncodeToString(h.Sum(nil))
}

var _ domain.PaymentGateway = (*razorpayGateway)(nil)
