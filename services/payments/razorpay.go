package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PaymentProvider abstrai o gateway de pagamento externo
type PaymentProvider interface {
	OpenOrder(ctx context.Context, req ProviderOrderRequest) (ProviderOrder, error)
	// PublicKey is the key the browser checkout needs to open the provider UI.
	PublicKey() string
}

// ProviderOrderRequest is the payload sent to the provider to open an order.
type ProviderOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// ProviderOrder is the provider's view of an opened order.
type ProviderOrder struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
	Status   string
}

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrderResponse struct {
	ID       string `json:"id"`
	Entity   string `json:"entity"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// RazorpayClient implementa PaymentProvider usando a API REST do Razorpay
type RazorpayClient struct {
	client *resty.Client
	keyID  string
}

// NewRazorpayClient builds a client with basic auth and a hard request timeout.
// Requests are never retried here; retry policy belongs to the caller.
func NewRazorpayClient(cfg RazorpayConfig) *RazorpayClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.KeyID, cfg.KeySecret).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(0)

	return &RazorpayClient{
		client: client,
		keyID:  cfg.KeyID,
	}
}

func (r *RazorpayClient) PublicKey() string {
	return r.keyID
}

// OpenOrder cria um pedido no Razorpay
func (r *RazorpayClient) OpenOrder(ctx context.Context, req ProviderOrderRequest) (ProviderOrder, error) {
	ctx, span := otel.Tracer("razorpay").Start(ctx, "razorpay.orders.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("razorpay.receipt", req.Receipt),
		attribute.String("razorpay.currency", req.Currency),
		attribute.Int64("razorpay.amount", req.Amount),
	)

	var out razorpayOrderResponse
	var apiErr razorpayErrorResponse

	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(razorpayOrderRequest{
			Amount:   req.Amount,
			Currency: req.Currency,
			Receipt:  req.Receipt,
			Notes:    req.Notes,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/orders")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "razorpay unreachable")
		return ProviderOrder{}, &ProviderError{Op: "open order", Err: err}
	}

	if resp.IsError() {
		perr := &ProviderError{
			Op:          "open order",
			StatusCode:  resp.StatusCode(),
			Code:        apiErr.Error.Code,
			Description: apiErr.Error.Description,
		}
		span.RecordError(perr)
		span.SetStatus(codes.Error, "razorpay rejected order")
		return ProviderOrder{}, perr
	}

	if out.ID == "" {
		perr := &ProviderError{
			Op:         "open order",
			StatusCode: resp.StatusCode(),
			Err:        errors.New("response without order id"),
		}
		span.RecordError(perr)
		span.SetStatus(codes.Error, "razorpay returned no order id")
		return ProviderOrder{}, perr
	}

	span.SetAttributes(attribute.String("razorpay.order_id", out.ID))

	return ProviderOrder{
		ID:       out.ID,
		Amount:   out.Amount,
		Currency: out.Currency,
		Receipt:  out.Receipt,
		Status:   out.Status,
	}, nil
}

// newReceipt builds rcpt_<last 8 digits of unix millis>_<last 8 chars of user id>,
// which stays under the provider's 40 character receipt limit.
func newReceipt(userID string, now time.Time) string {
	return fmt.Sprintf("rcpt_%s_%s", lastN(strconv.FormatInt(now.UnixMilli(), 10), 8), lastN(userID, 8))
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
