package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PaymentUseCaseInterface define a interface para o use case
type PaymentUseCaseInterface interface {
	CreateOrder(ctx context.Context, user *CurrentUser, in CreateOrderInput) (*CreateOrderResult, error)
	VerifyPayment(ctx context.Context, user *CurrentUser, in VerifyPaymentInput) (*VerifyPaymentResult, error)
	ReportFailure(ctx context.Context, user *CurrentUser, in ReportFailureInput) (*Order, error)
	PurchaseStatus(ctx context.Context, user *CurrentUser, product string) (*PurchaseStatusResult, error)
	PaymentHistory(ctx context.Context, user *CurrentUser, limit int) ([]Order, error)
}

// createOrderRequest allows currency and productName to be omitted by the checkout page.
type createOrderRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	ProductName string `json:"productName"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type purchaseResponse struct {
	ProductName  string      `json:"productName"`
	Amount       int64       `json:"amount"`
	Currency     string      `json:"currency"`
	PaymentID    string      `json:"paymentId,omitempty"`
	OrderID      string      `json:"orderId"`
	PurchaseDate time.Time   `json:"purchaseDate"`
	Status       OrderStatus `json:"status"`
}

// PaymentHandler contém os handlers HTTP de pagamentos
type PaymentHandler struct {
	useCase         PaymentUseCaseInterface
	tracer          trace.Tracer
	logger          *zap.Logger
	defaultCurrency string
	defaultProduct  string
}

// NewPaymentHandler cria uma nova instância de PaymentHandler
func NewPaymentHandler(useCase PaymentUseCaseInterface, tracer trace.Tracer, logger *zap.Logger, cfg PaymentsConfig) *PaymentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentHandler{
		useCase:         useCase,
		tracer:          tracer,
		logger:          logger,
		defaultCurrency: cfg.DefaultCurrency,
		defaultProduct:  cfg.DefaultProduct,
	}
}

// CreateOrder abre um pedido de pagamento para o usuário autenticado
func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "payments.create_order")
	defer span.End()

	user, err := currentUser(c)
	if err != nil {
		h.fail(c, span, err)
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, span, &ValidationError{Fields: map[string]string{"body": "must be valid JSON"}})
		return
	}
	if req.Currency == "" {
		req.Currency = h.defaultCurrency
	}
	if req.ProductName == "" {
		req.ProductName = h.defaultProduct
	}

	span.SetAttributes(
		attribute.String("user_id", user.ID),
		attribute.String("product_name", req.ProductName),
		attribute.Int64("amount", req.Amount),
		attribute.String("currency", req.Currency),
	)

	res, err := h.useCase.CreateOrder(ctx, user, CreateOrderInput(req))
	if err != nil {
		h.fail(c, span, err)
		return
	}

	span.SetAttributes(attribute.String("order_id", res.OrderID))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order": orderResponse{
			ID:       res.OrderID,
			Amount:   res.Amount,
			Currency: res.Currency,
			Receipt:  res.Receipt,
		},
		"key": res.Key,
	})
}

// VerifyPayment valida a assinatura do provedor e conclui o pedido
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "payments.verify_payment")
	defer span.End()

	user, err := currentUser(c)
	if err != nil {
		h.fail(c, span, err)
		return
	}

	var req VerifyPaymentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, span, &ValidationError{Fields: map[string]string{"body": "must be valid JSON"}})
		return
	}

	span.SetAttributes(
		attribute.String("user_id", user.ID),
		attribute.String("order_id", req.OrderID),
		attribute.String("payment_id", req.PaymentID),
	)

	res, err := h.useCase.VerifyPayment(ctx, user, req)
	if err != nil {
		h.fail(c, span, err)
		return
	}

	span.SetAttributes(
		attribute.String("order_status", string(res.Order.Status)),
		attribute.Bool("replayed", res.Replayed),
	)

	if !res.Success {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"status":  res.Order.Status,
			"message": "Payment was not completed for this order",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Payment verified successfully",
		"purchase": toPurchaseResponse(*res.Purchase),
	})
}

// ReportFailure registra a falha de pagamento informada pelo checkout
func (h *PaymentHandler) ReportFailure(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "payments.report_failure")
	defer span.End()

	user, err := currentUser(c)
	if err != nil {
		h.fail(c, span, err)
		return
	}

	var req ReportFailureInput
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, span, &ValidationError{Fields: map[string]string{"body": "must be valid JSON"}})
		return
	}

	span.SetAttributes(attribute.String("order_id", req.OrderID))

	order, err := h.useCase.ReportFailure(ctx, user, req)
	if err != nil {
		h.fail(c, span, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"orderId": order.ID,
		"status":  order.Status,
	})
}

// PurchaseStatus retorna os direitos de compra do usuário
func (h *PaymentHandler) PurchaseStatus(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "payments.purchase_status")
	defer span.End()

	user, err := currentUser(c)
	if err != nil {
		h.fail(c, span, err)
		return
	}

	res, err := h.useCase.PurchaseStatus(ctx, user, c.Query("product"))
	if err != nil {
		h.fail(c, span, err)
		return
	}

	purchases := make([]purchaseResponse, 0, len(res.Purchases))
	for _, p := range res.Purchases {
		purchases = append(purchases, toPurchaseResponse(p))
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"hasPurchased": res.HasPurchased,
		"purchases":    purchases,
		"lastPayment":  res.LastPayment,
	})
}

// PaymentHistory lista os últimos pedidos do usuário
func (h *PaymentHandler) PaymentHistory(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "payments.payment_history")
	defer span.End()

	user, err := currentUser(c)
	if err != nil {
		h.fail(c, span, err)
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			h.fail(c, span, &ValidationError{Fields: map[string]string{"limit": "must be an integer"}})
			return
		}
	}

	orders, err := h.useCase.PaymentHistory(ctx, user, limit)
	if err != nil {
		h.fail(c, span, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"payments": orders,
	})
}

// Me retorna a identidade resolvida da sessão
func (h *PaymentHandler) Me(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// HealthCheck verifica a saúde do serviço
func (h *PaymentHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "payments-service",
	})
}

func (h *PaymentHandler) fail(c *gin.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	status := writeError(c, err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("❌ Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
}

func toPurchaseResponse(p Purchase) purchaseResponse {
	return purchaseResponse{
		ProductName:  p.ProductName,
		Amount:       p.Amount,
		Currency:     p.Currency,
		PaymentID:    p.PaymentID,
		OrderID:      p.OrderID,
		PurchaseDate: p.PurchaseDate,
		Status:       p.Status,
	}
}

type apiError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Details   string            `json:"details,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
}

// writeError maps the error taxonomy to a status and the JSON error envelope.
func writeError(c *gin.Context, err error) int {
	status, body := errorResponse(err)
	c.JSON(status, gin.H{"success": false, "error": body})
	return status
}

func errorResponse(err error) (int, apiError) {
	var (
		verr  *ValidationError
		perr  *ProviderError
		vferr *VerificationError
	)

	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, apiError{Code: "UNAUTHORIZED", Message: "Authentication required"}
	case errors.As(err, &verr):
		return http.StatusBadRequest, apiError{Code: "VALIDATION_FAILED", Message: "Invalid request", Fields: verr.Fields}
	case errors.As(err, &perr):
		return http.StatusBadGateway, apiError{
			Code:      "ORDER_CREATION_FAILED",
			Message:   "Failed to create payment order",
			Details:   perr.Description,
			Retryable: perr.Retryable(),
		}
	case errors.As(err, &vferr):
		switch vferr.Reason {
		case ReasonOrderNotFound:
			return http.StatusNotFound, apiError{Code: "ORDER_NOT_FOUND", Message: "Order not found"}
		case ReasonOrderNotOwned:
			return http.StatusForbidden, apiError{Code: "ORDER_NOT_OWNED", Message: "Order does not belong to current user"}
		default:
			return http.StatusBadRequest, apiError{Code: "INVALID_SIGNATURE", Message: "Payment verification failed"}
		}
	default:
		return http.StatusInternalServerError, apiError{Code: "INTERNAL_ERROR", Message: "Internal server error"}
	}
}
