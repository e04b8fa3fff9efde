package domain_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:     "order-1",
		UserID: "user-1",
		Items: []domain.OrderItem{
			{
				ID:         "item-1",
				ProductID:  "product-1",
				Name:       "Vanilla Jar Candle",
				PriceMinor: 10000,
				Qty:        2,
				CreatedAt:  now,
			},
		},
		SubtotalMinor: 20000,
		DiscountMinor: 0,
		TotalMinor:    20000,
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusCreated,
		Version:       0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{
			name: "no user",
			mut: func(o *domain.Order) {
				o.UserID = ""
			},
		},
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
			},
		},
		{
			name: "qty invalid",
			mut: func(o *domain.Order) {
				o.Items[0].Qty = 0
			},
		},
		{
			name: "price invalid",
			mut: func(o *domain.Order) {
				o.Items[0].PriceMinor = -5
			},
		},
		{
			name: "subtotal mismatch",
			mut: func(o *domain.Order) {
				o.SubtotalMinor = 999
			},
		},
		{
			name: "discount above subtotal",
			mut: func(o *domain.Order) {
				o.DiscountMinor = 30000
			},
		},
		{
			name: "total mismatch",
			mut: func(o *domain.Order) {
				o.TotalMinor = 1
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			if errs := order.ValidateInvariants(); len(errs) == 0 {
				t.Fatalf("expected validation errors, got none")
			}
		})
	}
}

func TestPaymentStatusTransitions(t *testing.T) {
	cases := []struct {
		from    domain.PaymentStatus
		to      domain.PaymentStatus
		allowed bool
	}{
		{domain.PaymentStatusPending, domain.PaymentStatusSubmitted, true},
		{domain.PaymentStatusPending, domain.PaymentStatusCompleted, true},
		{domain.PaymentStatusPending, domain.PaymentStatusPaid, false},
		{domain.PaymentStatusSubmitted, domain.PaymentStatusPaid, true},
		{domain.PaymentStatusSubmitted, domain.PaymentStatusRejected, true},
		{domain.PaymentStatusSubmitted, domain.PaymentStatusSubmitted, false},
		{domain.PaymentStatusRejected, domain.PaymentStatusSubmitted, true},
		{domain.PaymentStatusRejected, domain.PaymentStatusPaid, false},
		{domain.PaymentStatusPaid, domain.PaymentStatusRejected, false},
		{domain.PaymentStatusPaid, domain.PaymentStatusSubmitted, false},
		{domain.PaymentStatusCompleted, domain.PaymentStatusPaid, false},
		{domain.PaymentStatusFailed, domain.PaymentStatusCompleted, true},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.allowed {
			t.Fatalf("transition %s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestPaymentStatusSettled(t *testing.T) {
	if !domain.PaymentStatusPaid.Settled() {
		t.Fatal("paid must be settled")
	}
	if !domain.PaymentStatusCompleted.Settled() {
		t.Fatal("completed must be settled")
	}
	if domain.PaymentStatusSubmitted.Settled() {
		t.Fatal("submitted must not be settled")
	}
}

func TestOrderStatusProgression(t *testing.T) {
	cases := []struct {
		from    domain.OrderStatus
		to      domain.OrderStatus
		allowed bool
	}{
		{domain.OrderStatusCreated, domain.OrderStatusPacked, true},
		{domain.OrderStatusCreated, domain.OrderStatusShipped, true},
		{domain.OrderStatusCreated, domain.OrderStatusDelivered, true},
		{domain.OrderStatusCreated, domain.OrderStatusCancelled, true},
		{domain.OrderStatusPacked, domain.OrderStatusCreated, false},
		{domain.OrderStatusPacked, domain.OrderStatusShipped, true},
		{domain.OrderStatusShipped, domain.OrderStatusCancelled, true},
		{domain.OrderStatusDelivered, domain.OrderStatusCancelled, false},
		{domain.OrderStatusDelivered, domain.OrderStatusShipped, false},
		{domain.OrderStatusCancelled, domain.OrderStatusPacked, false},
		{domain.OrderStatusCancelled, domain.OrderStatusCancelled, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanProgressTo(tc.to); got != tc.allowed {
			t.Fatalf("progression %s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestValidUPIReference(t *testing.T) {
	cases := []struct {
		ref   string
		valid bool
	}{
		{"ABCD1234567", true},
		{"1234567890", true},
		{"abc123xyz9", true},
		{"short1", false},
		{"ABCD 123456", false},
		{"ABCD-123456", false},
		{"", false},
	}

	for _, tc := range cases {
		if got := domain.ValidUPIReference(tc.ref); got != tc.valid {
			t.Fatalf("ref %q: expected %v, got %v", tc.ref, tc.valid, got)
		}
	}
}

func TestAddressEmpty(t *testing.T) {
	var addr domain.Address
	if !addr.Empty() {
		t.Fatal("zero address must be empty")
	}
	addr.City = "Jaipur"
	if addr.Empty() {
		t.Fatal("address with city must not be empty")
	}
}
