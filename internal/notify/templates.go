package notify

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
)

// Дефолтные шаблоны писем. Используются, когда админ не настроил
// собственный шаблон для ключа в хранилище.
var defaultTemplates = map[string]domain.EmailTemplate{
	domain.TemplatePaymentSubmitted: {
		Key:     domain.TemplatePaymentSubmitted,
		Subject: "Payment received for order {{orderId}}",
		Body: "<p>Hi {{userName}},</p>" +
			"<p>We received your payment details for order <b>{{orderId}}</b> and will verify them shortly.</p>" +
			"{{products}}" +
			"<p>Total: <b>{{totalAmount}}</b></p>",
	},
	domain.TemplateOrderConfirmation: {
		Key:     domain.TemplateOrderConfirmation,
		Subject: "Order {{orderId}} confirmed",
		Body: "<p>Hi {{userName}},</p>" +
			"<p>Your payment was verified and order <b>{{orderId}}</b> is confirmed.</p>" +
			"{{products}}" +
			"<p>Total: <b>{{totalAmount}}</b></p>",
	},
	domain.TemplatePaymentRejected: {
		Key:     domain.TemplatePaymentRejected,
		Subject: "Payment for order {{orderId}} was rejected",
		Body: "<p>Hi {{userName}},</p>" +
			"<p>We could not verify the payment for order <b>{{orderId}}</b>.</p>" +
			"<p>{{reason}}</p>" +
			"<p>You can submit the payment details again from your orders page.</p>",
	},
	domain.TemplateOrderPacked: {
		Key:     domain.TemplateOrderPacked,
		Subject: "Order {{orderId}} is packed",
		Body: "<p>Hi {{userName}},</p>" +
			"<p>Your order <b>{{orderId}}</b> is packed and waiting for pickup.</p>",
	},
	domain.TemplateOrderShipped: {
		Key:     domain.TemplateOrderShipped,
		Subject: "Order {{orderId}} is on its way",
		Body: "<p>Hi {{userName}},</p>" +
			"<p>Your order <b>{{orderId}}</b> has been shipped.</p>",
	},
	domain.TemplateOrderDelivered: {
		Key:     domain.TemplateOrderDelivered,
		Subject: "Order {{orderId}} delivered",
		Body: "<p>Hi {{userName}},</p>" +
			"<p>Your order <b>{{orderId}}</b> was delivered. Enjoy your candles!</p>",
	},
	domain.TemplateOrderCancelled: {
		Key:     domain.TemplateOrderCancelled,
		Subject: "Order {{orderId}} cancelled",
		Body: "<p>Hi {{userName}},</p>" +
			"<p>Your order <b>{{orderId}}</b> was cancelled.</p>" +
			"<p>{{reason}}</p>",
	},
}

// DefaultTemplate возвращает встроенный шаблон для ключа.
func DefaultTemplate(key string) (domain.EmailTemplate, bool) {
	tpl, ok := defaultTemplates[key]
	return tpl, ok
}

// Render подставляет значения в subject и body шаблона.
func Render(tpl domain.EmailTemplate, vars domain.NotificationVars) (subject, body string) {
	replacer := strings.NewReplacer(
		"{{orderId}}", vars.OrderID,
		"{{userName}}", vars.UserName,
		"{{status}}", vars.Status,
		"{{totalAmount}}", FormatAmountMinor(vars.TotalMinor),
		"{{products}}", productsTable(vars.Products),
		"{{reason}}", vars.Reason,
	)
	return replacer.Replace(tpl.Subject), replacer.Replace(tpl.Body)
}

// FormatAmountMinor форматирует сумму в минорных единицах (пайсах) как рупии.
func FormatAmountMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s₹%d.%02d", sign, minor/100, minor%100)
}

func productsTable(lines []domain.ProductLine) string {
	if len(lines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(`<table border="1" cellpadding="4" cellspacing="0">`)
	b.WriteString("<tr><th>Product</th><th>Qty</th><th>Amount</th></tr>")
	for _, line := range lines {
		b.WriteString("<tr><td>")
		b.WriteString(line.Name)
		b.WriteString("</td><td>")
		b.WriteString(fmt.Sprintf("%d", line.Qty))
		b.WriteString("</td><td>")
		b.WriteString(FormatAmountMinor(line.LineTotalMinor))
		b.WriteString("</td></tr>")
	}
	b.WriteString("</table>")
	return b.String()
}
