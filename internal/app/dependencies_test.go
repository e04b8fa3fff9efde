package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestNewDependencies_Memory(t *testing.T) {
	cfg := DefaultConfig()

	deps, err := NewDependencies(context.Background(), cfg, log.WithField("test", "deps"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() {
		if closeErr := deps.Close(); closeErr != nil {
			t.Errorf("close returned error: %v", closeErr)
		}
	}()

	if deps.Orders == nil || deps.Products == nil || deps.Coupons == nil || deps.Users == nil {
		t.Fatal("expected all repositories to be initialized")
	}
	if deps.Outbox == nil || deps.Timeline == nil || deps.Idempotency == nil || deps.Templates == nil {
		t.Fatal("expected infrastructure repositories to be initialized")
	}
	if deps.Checkout == nil || deps.Payments == nil || deps.Fulfillment == nil {
		t.Fatal("expected all services to be initialized")
	}
	if deps.Gateway == nil {
		t.Fatal("expected payment gateway to be initialized")
	}
	if deps.Store != nil {
		t.Error("expected nil postgres store for memory storage")
	}

	// Без Razorpay-ключей заказы регистрируются в mock-шлюзе.
	gatewayOrderID, err := deps.Gateway.CreateOrder(19900, "INR", "order-1")
	if err != nil {
		t.Fatalf("mock gateway create order: %v", err)
	}
	if gatewayOrderID != "order_mock_order-1" {
		t.Errorf("expected mock gateway order id, got %s", gatewayOrderID)
	}
}

func TestNewDependencies_UnknownStorage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage = "cassandra"

	if _, err := NewDependencies(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unknown storage engine")
	}
}
