package domain

// Ключи email-шаблонов. Для каждого ключа в коде есть дефолтный
// subject/body; админ может переопределить шаблон в хранилище.
const (
	TemplatePaymentSubmitted  = "PAYMENT_SUBMITTED"
	TemplateOrderConfirmation = "ORDER_CONFIRMATION"
	TemplatePaymentRejected   = "PAYMENT_REJECTED"
	TemplateOrderPacked       = "ORDER_PACKED"
	TemplateOrderShipped      = "ORDER_SHIPPED"
	TemplateOrderDelivered    = "ORDER_DELIVERED"
	TemplateOrderCancelled    = "ORDER_CANCELLED"
)

// StatusTemplateKey выбирает ключ шаблона для уведомления о смене статуса исполнения.
func StatusTemplateKey(status OrderStatus) string {
	switch status {
	case OrderStatusPacked:
		return TemplateOrderPacked
	case OrderStatusShipped:
		return TemplateOrderShipped
	case OrderStatusDelivered:
		return TemplateOrderDelivered
	case OrderStatusCancelled:
		return TemplateOrderCancelled
	default:
		return TemplateOrderConfirmation
	}
}

// EmailTemplate — настраиваемый шаблон письма с плейсхолдерами
// {{orderId}}, {{userName}}, {{status}}, {{totalAmount}}, {{products}}.
type EmailTemplate struct {
	Key     string
	Subject string
	Body    string
}

// ProductLine — строка таблицы товаров в письме.
type ProductLine struct {
	Name           string
	Qty            int32
	LineTotalMinor int64
}

// NotificationVars — значения подстановки для шаблонов писем.
type NotificationVars struct {
	OrderID    string
	UserName   string
	Status     string
	TotalMinor int64
	Products   []ProductLine
	// Reason добавляется в тело письма при отклонении платежа и отмене заказа.
	Reason string
}

// NotificationVarsFor собирает значения подстановки из заказа.
func NotificationVarsFor(order *Order, userName string) NotificationVars {
	lines := make([]ProductLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, ProductLine{
			Name:           item.Name,
			Qty:            item.Qty,
			LineTotalMinor: int64(item.Qty) * item.PriceMinor,
		})
	}
	return NotificationVars{
		OrderID:    order.ID,
		UserName:   userName,
		Status:     string(order.OrderStatus),
		TotalMinor: order.TotalMinor,
		Products:   lines,
	}
}
