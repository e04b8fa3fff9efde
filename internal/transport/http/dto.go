package http

import (
	"time"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
	"github.com/vladislavdragonenkov/candleshop/internal/service/checkout"
)

type itemRequest struct {
	ProductID string `json:"product_id"`
	Qty       int32  `json:"qty"`
}

type checkoutRequest struct {
	Items      []itemRequest `json:"items"`
	CouponCode string        `json:"coupon_code,omitempty"`
}

type validateCouponRequest struct {
	Code  string        `json:"code"`
	Items []itemRequest `json:"items"`
}

type submitPaymentRequest struct {
	OrderID      string `json:"order_id"`
	UPIReference string `json:"upi_reference"`
	Screenshot   string `json:"screenshot,omitempty"`
}

type verifyPaymentRequest struct {
	OrderID        string `json:"order_id"`
	GatewayOrderID string `json:"razorpay_order_id"`
	PaymentID      string `json:"razorpay_payment_id"`
	Signature      string `json:"razorpay_signature"`
}

type paymentDecisionRequest struct {
	Action string `json:"action"`
	Note   string `json:"note,omitempty"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

type addressResponse struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

type orderItemResponse struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
	ImageURL   string `json:"image_url,omitempty"`
	Qty        int32  `json:"qty"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	UserID          string              `json:"user_id"`
	SubtotalMinor   int64               `json:"subtotal_minor"`
	DiscountMinor   int64               `json:"discount_minor"`
	TotalMinor      int64               `json:"total_minor"`
	CouponCode      string              `json:"coupon_code,omitempty"`
	PaymentStatus   string              `json:"payment_status"`
	OrderStatus     string              `json:"order_status"`
	UPIReference    string              `json:"upi_reference,omitempty"`
	PaymentID       string              `json:"payment_id,omitempty"`
	GatewayOrderID  string              `json:"gateway_order_id,omitempty"`
	AdminNote       string              `json:"admin_note,omitempty"`
	ShippingAddress *addressResponse    `json:"shipping_address,omitempty"`
	Items           []orderItemResponse `json:"items"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type checkoutResponse struct {
	Order          orderResponse `json:"order"`
	GatewayOrderID string        `json:"gateway_order_id,omitempty"`
}

type couponQuoteResponse struct {
	Code          string `json:"code"`
	SubtotalMinor int64  `json:"subtotal_minor"`
	DiscountMinor int64  `json:"discount_minor"`
	TotalMinor    int64  `json:"total_minor"`
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred_at"`
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ProductID:  item.ProductID,
			Name:       item.Name,
			PriceMinor: item.PriceMinor,
			ImageURL:   item.ImageURL,
			Qty:        item.Qty,
		})
	}

	resp := orderResponse{
		ID:             order.ID,
		UserID:         order.UserID,
		SubtotalMinor:  order.SubtotalMinor,
		DiscountMinor:  order.DiscountMinor,
		TotalMinor:     order.TotalMinor,
		CouponCode:     order.CouponCode,
		PaymentStatus:  string(order.PaymentStatus),
		OrderStatus:    string(order.OrderStatus),
		UPIReference:   order.UPIReference,
		PaymentID:      order.PaymentID,
		GatewayOrderID: order.GatewayOrderID,
		AdminNote:      order.AdminNote,
		Items:          items,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
	if !order.ShippingAddress.Empty() {
		resp.ShippingAddress = &addressResponse{
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Phone:      order.ShippingAddress.Phone,
		}
	}
	return resp
}

func toOrderListResponse(orders []domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, toOrderResponse(order))
	}
	return out
}

func toCheckoutItems(items []itemRequest) []checkout.ItemInput {
	out := make([]checkout.ItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, checkout.ItemInput{ProductID: item.ProductID, Qty: item.Qty})
	}
	return out
}

func toTimelineResponse(events []domain.TimelineEvent) []timelineEventResponse {
	out := make([]timelineEventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, timelineEventResponse{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	return out
}
