package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
)

// errorStatusCode переводит доменную ошибку в HTTP-статус. Конфликты
// состояния и версии — 409, отсутствие сущности — 404, нарушения
// валидации — 400, всё остальное — 500.
func errorStatusCode(err error) int {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsStateConflict(err), domain.IsVersionConflict(err):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidUPIReference),
		errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrInvalidOrderStatus),
		errors.Is(err, domain.ErrUserRequired),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrCouponInactive),
		errors.Is(err, domain.ErrCouponNotYetValid),
		errors.Is(err, domain.ErrCouponExpired),
		errors.Is(err, domain.ErrCouponLimitReached),
		errors.Is(err, domain.ErrCouponBelowMinimum):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorPayload собирает тело ответа об ошибке. Детали внутренних сбоев
// наружу не выдаются.
func errorPayload(err error) (int, []byte) {
	status := errorStatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	body, marshalErr := json.Marshal(map[string]string{"error": message})
	if marshalErr != nil {
		body = []byte(`{"error":"internal server error"}`)
	}
	return status, body
}

// respondError пишет доменную ошибку в ответ в виде {"error": "..."}.
func respondError(c echo.Context, err error) error {
	status, body := errorPayload(err)
	return c.JSONBlob(status, body)
}
