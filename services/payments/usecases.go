package main

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

// CreateOrderInput é o pedido de compra enviado pelo cliente
type CreateOrderInput struct {
	Amount      int64  `json:"amount" validate:"gt=0"`
	Currency    string `json:"currency" validate:"required,iso4217"`
	ProductName string `json:"productName" validate:"required,max=120"`
}

// CreateOrderResult is what the browser needs to open the provider checkout.
type CreateOrderResult struct {
	OrderID  string
	Amount   int64
	Currency string
	Receipt  string
	Key      string
}

// VerifyPaymentInput carries the three fields the provider checkout hands back to the client.
type VerifyPaymentInput struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

// VerifyPaymentResult reports the order's terminal state after verification.
// Replayed is set when the order was already terminal before this call.
type VerifyPaymentResult struct {
	Success  bool
	Replayed bool
	Order    *Order
	Purchase *Purchase
}

// ReportFailureInput carries a failure the provider checkout reported to the client.
type ReportFailureInput struct {
	OrderID string `json:"razorpay_order_id" validate:"required"`
	Reason  string `json:"reason" validate:"max=500"`
}

// PurchaseStatusResult é a visão de direitos do usuário
type PurchaseStatusResult struct {
	HasPurchased bool
	Purchases    []Purchase
	LastPayment  *PaymentSummary
}

// PaymentUseCaseConfig holds the settings the use case needs at construction time.
type PaymentUseCaseConfig struct {
	SignatureSecret string
	NotifyTimeout   time.Duration
}

// PaymentUseCase contém a lógica de negócio de pagamentos
type PaymentUseCase struct {
	repository    Repository
	provider      PaymentProvider
	notifier      Notifier
	secret        string
	notifyTimeout time.Duration
	logger        *zap.Logger
	validate      *validator.Validate
	now           func() time.Time

	ordersCreated metric.Int64Counter
	verifications metric.Int64Counter
	failures      metric.Int64Counter
}

// NewPaymentUseCase cria uma nova instância de PaymentUseCase
func NewPaymentUseCase(
	repository Repository,
	provider PaymentProvider,
	notifier Notifier,
	cfg PaymentUseCaseConfig,
	logger *zap.Logger,
) *PaymentUseCase {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	meter := otel.Meter("payments-service")
	ordersCreated, _ := meter.Int64Counter("payments.orders.created",
		metric.WithDescription("Pending orders opened with the payment provider"))
	verifications, _ := meter.Int64Counter("payments.verifications",
		metric.WithDescription("Payment verification attempts by result"))
	failures, _ := meter.Int64Counter("payments.orders.failed",
		metric.WithDescription("Orders moved to failed"))

	return &PaymentUseCase{
		repository:    repository,
		provider:      provider,
		notifier:      notifier,
		secret:        cfg.SignatureSecret,
		notifyTimeout: cfg.NotifyTimeout,
		logger:        logger,
		validate:      newValidator(),
		now:           func() time.Time { return time.Now().UTC() },
		ordersCreated: ordersCreated,
		verifications: verifications,
		failures:      failures,
	}
}

// CreateOrder abre um pedido no provedor e persiste o pedido pendente
func (uc *PaymentUseCase) CreateOrder(ctx context.Context, user *CurrentUser, in CreateOrderInput) (*CreateOrderResult, error) {
	if user == nil || user.ID == "" {
		return nil, ErrUnauthenticated
	}

	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.ProductName = strings.TrimSpace(in.ProductName)
	if err := uc.validateStruct(in); err != nil {
		return nil, err
	}

	now := uc.now()
	receipt := newReceipt(user.ID, now)

	uc.logger.Info("➡️ [CREATE ORDER] Opening provider order",
		zap.String("user_id", user.ID),
		zap.String("product", in.ProductName),
		zap.Int64("amount", in.Amount),
		zap.String("currency", in.Currency),
	)

	providerOrder, err := uc.provider.OpenOrder(ctx, ProviderOrderRequest{
		Amount:   in.Amount,
		Currency: in.Currency,
		Receipt:  receipt,
		Notes: map[string]string{
			"userId":      user.ID,
			"userEmail":   user.Email,
			"userName":    user.Name,
			"productName": in.ProductName,
			"paymentType": "one-time",
		},
	})
	if err != nil {
		uc.logger.Error("❌ Failed to open provider order", zap.String("user_id", user.ID), zap.Error(err))
		var perr *ProviderError
		if errors.As(err, &perr) {
			return nil, err
		}
		return nil, &ProviderError{Op: "open order", Err: err}
	}

	order := NewOrder(providerOrder.ID, *user, in.ProductName, in.Amount, in.Currency, receipt, now)
	if err := uc.repository.CreateOrder(ctx, order); err != nil {
		uc.logger.Error("❌ Failed to persist order", zap.String("order_id", order.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	uc.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("currency", in.Currency)))
	uc.logger.Info("✅ Order created", zap.String("order_id", order.ID), zap.String("user_id", user.ID))

	return &CreateOrderResult{
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Receipt:  order.Receipt,
		Key:      uc.provider.PublicKey(),
	}, nil
}

// VerifyPayment checks the provider signature and completes the order exactly once.
// Ownership is checked before the signature is trusted. Re-verifying a terminal order
// returns its existing state without side effects.
func (uc *PaymentUseCase) VerifyPayment(ctx context.Context, user *CurrentUser, in VerifyPaymentInput) (*VerifyPaymentResult, error) {
	if user == nil || user.ID == "" {
		return nil, ErrUnauthenticated
	}

	in.OrderID = strings.TrimSpace(in.OrderID)
	in.PaymentID = strings.TrimSpace(in.PaymentID)
	in.Signature = strings.TrimSpace(in.Signature)
	if err := uc.validateStruct(in); err != nil {
		return nil, err
	}

	uc.logger.Info("➡️ [VERIFY PAYMENT] Verifying",
		zap.String("order_id", in.OrderID),
		zap.String("payment_id", in.PaymentID),
		zap.String("user_id", user.ID),
	)

	order, err := uc.ownedOrder(ctx, user, in.OrderID)
	if err != nil {
		uc.countVerification(ctx, "rejected")
		return nil, err
	}

	if !VerifySignature(uc.secret, in.OrderID, in.PaymentID, in.Signature) {
		uc.countVerification(ctx, "invalid_signature")
		uc.logger.Warn("❌ Invalid payment signature", zap.String("order_id", in.OrderID), zap.String("user_id", user.ID))
		return nil, &VerificationError{OrderID: in.OrderID, Reason: ReasonInvalidSignature}
	}

	if order.IsTerminal() {
		uc.countVerification(ctx, "replayed")
		uc.logger.Info("ℹ️ [IDEMPOTENCY] Order already terminal",
			zap.String("order_id", order.ID), zap.String("status", string(order.Status)))
		return verifyResult(order, true), nil
	}

	now := uc.now()
	transitioned, err := uc.repository.CompleteOrder(ctx, order.ID, in.PaymentID, in.Signature, now)
	if err != nil {
		uc.logger.Error("❌ Failed to complete order", zap.String("order_id", order.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to complete order: %w", err)
	}

	if !transitioned {
		// Another request reached a terminal state first.
		current, err := uc.repository.GetOrder(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload order: %w", err)
		}
		uc.countVerification(ctx, "replayed")
		uc.logger.Info("ℹ️ [IDEMPOTENCY] Concurrent verification already settled order",
			zap.String("order_id", current.ID), zap.String("status", string(current.Status)))
		return verifyResult(current, true), nil
	}

	if err := order.Complete(in.PaymentID, in.Signature, now); err != nil {
		return nil, err
	}

	uc.countVerification(ctx, "completed")
	uc.logger.Info("✅ Payment verified, order completed", zap.String("order_id", order.ID), zap.String("user_id", user.ID))

	uc.notify(ctx, order)

	return verifyResult(order, false), nil
}

// ReportFailure marca como falho um pedido pendente cujo pagamento o provedor recusou
func (uc *PaymentUseCase) ReportFailure(ctx context.Context, user *CurrentUser, in ReportFailureInput) (*Order, error) {
	if user == nil || user.ID == "" {
		return nil, ErrUnauthenticated
	}

	in.OrderID = strings.TrimSpace(in.OrderID)
	in.Reason = strings.TrimSpace(in.Reason)
	if err := uc.validateStruct(in); err != nil {
		return nil, err
	}
	if in.Reason == "" {
		in.Reason = "payment_failed"
	}

	order, err := uc.ownedOrder(ctx, user, in.OrderID)
	if err != nil {
		return nil, err
	}
	if order.IsTerminal() {
		return order, nil
	}

	now := uc.now()
	transitioned, err := uc.repository.FailOrder(ctx, order.ID, in.Reason, now)
	if err != nil {
		return nil, fmt.Errorf("failed to fail order: %w", err)
	}
	if !transitioned {
		return uc.repository.GetOrder(ctx, order.ID)
	}

	if err := order.Fail(in.Reason, now); err != nil {
		return nil, err
	}

	uc.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "provider_reported")))
	uc.logger.Info("↩️ Order marked as failed", zap.String("order_id", order.ID), zap.String("reason", in.Reason))
	return order, nil
}

// PurchaseStatus derives the user's entitlements from completed orders only.
// When product is not empty, HasPurchased answers for that product alone.
func (uc *PaymentUseCase) PurchaseStatus(ctx context.Context, user *CurrentUser, product string) (*PurchaseStatusResult, error) {
	if user == nil || user.ID == "" {
		return nil, ErrUnauthenticated
	}

	orders, err := uc.repository.ListCompletedOrders(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}

	product = strings.TrimSpace(product)
	result := &PurchaseStatusResult{Purchases: make([]Purchase, 0, len(orders))}
	for i := range orders {
		o := &orders[i]
		if o.Status != OrderStatusCompleted {
			continue
		}
		result.Purchases = append(result.Purchases, o.Purchase())
		if product == "" || o.ProductName == product {
			result.HasPurchased = true
		}
		if result.LastPayment == nil || isMoreRecent(o, result.LastPayment) {
			result.LastPayment = &PaymentSummary{
				Amount:      o.Amount,
				Currency:    o.Currency,
				PaymentID:   o.PaymentID,
				OrderID:     o.ID,
				ProductName: o.ProductName,
				Date:        completedAt(o),
			}
		}
	}
	return result, nil
}

// PaymentHistory lista os pedidos mais recentes do usuário, de qualquer status
func (uc *PaymentUseCase) PaymentHistory(ctx context.Context, user *CurrentUser, limit int) ([]Order, error) {
	if user == nil || user.ID == "" {
		return nil, ErrUnauthenticated
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	orders, err := uc.repository.ListOrders(ctx, user.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment history: %w", err)
	}
	return orders, nil
}

// ownedOrder loads the order and checks it belongs to user.
func (uc *PaymentUseCase) ownedOrder(ctx context.Context, user *CurrentUser, orderID string) (*Order, error) {
	order, err := uc.repository.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, &VerificationError{OrderID: orderID, Reason: ReasonOrderNotFound}
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order.UserID != user.ID {
		uc.logger.Warn("❌ Order does not belong to current user",
			zap.String("order_id", orderID), zap.String("user_id", user.ID))
		return nil, &VerificationError{OrderID: orderID, Reason: ReasonOrderNotOwned}
	}
	return order, nil
}

// notify runs the confirmation side effect with its own deadline. Its failure never
// touches the completed order.
func (uc *PaymentUseCase) notify(ctx context.Context, order *Order) {
	nctx := context.WithoutCancel(ctx)
	if uc.notifyTimeout > 0 {
		var cancel context.CancelFunc
		nctx, cancel = context.WithTimeout(nctx, uc.notifyTimeout)
		defer cancel()
	}

	if err := uc.notifier.PurchaseConfirmed(nctx, confirmationFromOrder(order)); err != nil {
		uc.logger.Error("❌ Failed to send purchase confirmation", zap.String("order_id", order.ID), zap.Error(err))
	}
}

func (uc *PaymentUseCase) countVerification(ctx context.Context, result string) {
	uc.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (uc *PaymentUseCase) validateStruct(v any) error {
	err := uc.validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate request: %w", err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = validationMessage(fe)
	}
	return &ValidationError{Fields: fields}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "iso4217":
		return "must be an ISO 4217 currency code"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}

func verifyResult(order *Order, replayed bool) *VerifyPaymentResult {
	res := &VerifyPaymentResult{
		Success:  order.Status == OrderStatusCompleted,
		Replayed: replayed,
		Order:    order,
	}
	if res.Success {
		p := order.Purchase()
		res.Purchase = &p
	}
	return res
}

func completedAt(o *Order) time.Time {
	if o.CompletedAt == nil {
		return time.Time{}
	}
	return *o.CompletedAt
}

func isMoreRecent(o *Order, last *PaymentSummary) bool {
	return completedAt(o).After(last.Date)
}
