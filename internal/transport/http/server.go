package http

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
	"github.com/vladislavdragonenkov/candleshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/candleshop/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/candleshop/internal/service/payment"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyTTL       = 24 * time.Hour
)

// Server содержит HTTP-ручки магазина поверх прикладных сервисов.
type Server struct {
	checkout    checkout.Orchestrator
	payments    payment.Workflow
	fulfillment fulfillment.Service
	idemRepo    domain.IdempotencyRepository
	jwtSecret   string
	logger      *log.Entry
}

// NewServer создаёт HTTP-слой. idemRepo может быть nil, тогда
// checkout выполняется без дедупликации повторных запросов.
func NewServer(
	checkoutSvc checkout.Orchestrator,
	payments payment.Workflow,
	fulfillmentSvc fulfillment.Service,
	idemRepo domain.IdempotencyRepository,
	jwtSecret string,
	logger *log.Entry,
) *Server {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	return &Server{
		checkout:    checkoutSvc,
		payments:    payments,
		fulfillment: fulfillmentSvc,
		idemRepo:    idemRepo,
		jwtSecret:   jwtSecret,
		logger:      logger,
	}
}

// Register вешает маршруты API на echo-приложение.
func (s *Server) Register(e *echo.Echo) {
	// Проверка купона доступна без авторизации: корзина на витрине
	// показывает скидку до входа покупателя.
	e.POST("/api/coupons/validate", s.handleValidateCoupon)

	api := e.Group("/api", AuthMiddleware(s.jwtSecret))

	api.POST("/checkout", s.handleCheckout)
	api.POST("/payment/submit", s.handleSubmitPayment)
	api.POST("/payment/verify", s.handleVerifyPayment)
	api.GET("/orders", s.handleListOrders)
	api.GET("/orders/:id", s.handleGetOrder)
	api.GET("/orders/:id/timeline", s.handleOrderTimeline)

	admin := api.Group("/admin", RequireAdmin)
	admin.GET("/payments", s.handleListPendingPayments)
	admin.PUT("/payments/:id", s.handlePaymentDecision)
	admin.PUT("/orders/:id", s.handleSetOrderStatus)
	admin.POST("/orders/:id/cancel", s.handleCancelOrder)
}

func (s *Server) handleCheckout(c echo.Context) error {
	var req checkoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request format"})
	}

	userID := currentUserID(c)
	run := func() (int, interface{}, error) {
		result, err := s.checkout.Checkout(checkout.Input{
			UserID:     userID,
			Items:      toCheckoutItems(req.Items),
			CouponCode: req.CouponCode,
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, checkoutResponse{
			Order:          toOrderResponse(result.Order),
			GatewayOrderID: result.GatewayOrderID,
		}, nil
	}

	idemKey := c.Request().Header.Get(idempotencyKeyHeader)
	if s.idemRepo == nil || idemKey == "" {
		status, body, err := run()
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(status, body)
	}
	return s.withIdempotency(c, idemKey, userID, req, run)
}

// withIdempotency выполняет run не более одного раза на idempotency-key:
// повтор с тем же телом получает сохранённый ответ, повтор с другим телом —
// конфликт.
func (s *Server) withIdempotency(
	c echo.Context,
	key, userID string,
	req interface{},
	run func() (int, interface{}, error),
) error {
	reqHash, err := requestHash(userID, req)
	if err != nil {
		s.logger.WithError(err).Warn("failed to build idempotency request hash")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}

	record, createErr := s.idemRepo.CreateProcessing(key, reqHash, time.Now().UTC().Add(idempotencyTTL))
	if createErr != nil {
		return s.replayIdempotency(c, createErr, record)
	}

	status, body, runErr := run()
	if runErr != nil {
		s.cacheFailure(key, runErr)
		return respondError(c, runErr)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotency response")
		return c.JSON(status, body)
	}
	if err := s.idemRepo.MarkDone(key, payload, status); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
	}
	return c.JSONBlob(status, payload)
}

func (s *Server) replayIdempotency(c echo.Context, createErr error, record domain.IdempotencyRecord) error {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return c.JSON(http.StatusConflict, map[string]string{
			"error": "idempotency key is already used with different request payload",
		})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			if len(record.ResponseBody) == 0 {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "idempotency cache is empty"})
			}
			return c.JSONBlob(record.HTTPStatus, record.ResponseBody)
		case domain.IdempotencyStatusProcessing:
			return c.JSON(http.StatusConflict, map[string]string{
				"error": "request with the same idempotency key is already processing",
			})
		default:
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "unknown idempotency record status"})
		}
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func (s *Server) cacheFailure(key string, runErr error) {
	status, body := errorPayload(runErr)
	if err := s.idemRepo.MarkFailed(key, body, status); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent failure response")
	}
}

func requestHash(userID string, req interface{}) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(userID+"\n"), data...))
	return hex.EncodeToString(sum[:]), nil
}

func (s *Server) handleValidateCoupon(c echo.Context) error {
	var req validateCouponRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request format"})
	}

	quote, err := s.checkout.QuoteCoupon(req.Code, toCheckoutItems(req.Items))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, couponQuoteResponse{
		Code:          quote.Code,
		SubtotalMinor: quote.SubtotalMinor,
		DiscountMinor: quote.DiscountMinor,
		TotalMinor:    quote.TotalMinor,
	})
}

func (s *Server) handleSubmitPayment(c echo.Context) error {
	var req submitPaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request format"})
	}

	order, err := s.payments.Submit(payment.SubmitInput{
		OrderID:      req.OrderID,
		UserID:       currentUserID(c),
		UPIReference: req.UPIReference,
		Screenshot:   req.Screenshot,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toOrderResponse(order))
}

func (s *Server) handleVerifyPayment(c echo.Context) error {
	var req verifyPaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request format"})
	}

	order, err := s.payments.VerifyGateway(payment.GatewayVerifyInput{
		OrderID:        req.OrderID,
		UserID:         currentUserID(c),
		GatewayOrderID: req.GatewayOrderID,
		PaymentID:      req.PaymentID,
		Signature:      req.Signature,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toOrderResponse(order))
}

func (s *Server) handleListOrders(c echo.Context) error {
	orders, err := s.fulfillment.List(currentUserID(c), queryLimit(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toOrderListResponse(orders))
}

func (s *Server) handleGetOrder(c echo.Context) error {
	order, err := s.fulfillment.Get(c.Param("id"), scopeUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toOrderResponse(order))
}

func (s *Server) handleOrderTimeline(c echo.Context) error {
	events, err := s.fulfillment.Timeline(c.Param("id"), scopeUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toTimelineResponse(events))
}

func (s *Server) handleListPendingPayments(c echo.Context) error {
	orders, err := s.payments.ListPending(queryLimit(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toOrderListResponse(orders))
}

func (s *Server) handlePaymentDecision(c echo.Context) error {
	var req paymentDecisionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request format"})
	}

	var (
		order domain.Order
		err   error
	)
	switch req.Action {
	case "approve":
		order, err = s.payments.Approve(c.Param("id"), req.Note)
	case "reject":
		order, err = s.payments.Reject(c.Param("id"), req.Note)
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "action must be approve or reject"})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toOrderResponse(order))
}

func (s *Server) handleSetOrderStatus(c echo.Context) error {
	var req setStatusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request format"})
	}

	order, err := s.fulfillment.SetStatus(c.Param("id"), domain.OrderStatus(req.Status))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toOrderResponse(order))
}

func (s *Server) handleCancelOrder(c echo.Context) error {
	var req cancelOrderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request format"})
	}

	order, err := s.fulfillment.Cancel(c.Param("id"), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toOrderResponse(order))
}

func queryLimit(c echo.Context) int {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
