package main

import (
	"errors"
	"time"
)

// OrderStatus representa os estados possíveis de uma tentativa de pagamento
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// ErrOrderNotPending is returned when a terminal order is asked to transition again.
var ErrOrderNotPending = errors.New("only pending orders can transition")

// Order is a single payment attempt against the provider, keyed by the provider's order id.
// Rows are never deleted.
type Order struct {
	ID            string      `json:"id" db:"id"`
	UserID        string      `json:"userId" db:"user_id"`
	UserEmail     string      `json:"-" db:"user_email"`
	UserName      string      `json:"-" db:"user_name"`
	ProductName   string      `json:"productName" db:"product_name"`
	Amount        int64       `json:"amount" db:"amount"`
	Currency      string      `json:"currency" db:"currency"`
	Receipt       string      `json:"receipt" db:"receipt"`
	Status        OrderStatus `json:"status" db:"status"`
	PaymentID     string      `json:"paymentId,omitempty" db:"payment_id"`
	Signature     string      `json:"-" db:"signature"`
	FailureReason string      `json:"failureReason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time   `json:"createdAt" db:"created_at"`
	CompletedAt   *time.Time  `json:"completedAt,omitempty" db:"completed_at"`
	UpdatedAt     time.Time   `json:"updatedAt" db:"updated_at"`
}

// NewOrder cria um pedido pendente para o usuário
func NewOrder(id string, user CurrentUser, productName string, amount int64, currency, receipt string, now time.Time) *Order {
	return &Order{
		ID:          id,
		UserID:      user.ID,
		UserEmail:   user.Email,
		UserName:    user.Name,
		ProductName: productName,
		Amount:      amount,
		Currency:    currency,
		Receipt:     receipt,
		Status:      OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsTerminal reports whether the order reached completed or failed.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusFailed
}

// Complete marca o pedido como pago
func (o *Order) Complete(paymentID, signature string, at time.Time) error {
	if o.Status != OrderStatusPending {
		return ErrOrderNotPending
	}

	o.Status = OrderStatusCompleted
	o.PaymentID = paymentID
	o.Signature = signature
	o.CompletedAt = &at
	o.UpdatedAt = at
	return nil
}

// Fail marca o pedido como falho
func (o *Order) Fail(reason string, at time.Time) error {
	if o.Status != OrderStatusPending {
		return ErrOrderNotPending
	}

	o.Status = OrderStatusFailed
	o.FailureReason = reason
	o.UpdatedAt = at
	return nil
}

// Purchase derives the user-facing entitlement of a completed order.
func (o *Order) Purchase() Purchase {
	p := Purchase{
		OrderID:     o.ID,
		PaymentID:   o.PaymentID,
		ProductName: o.ProductName,
		Amount:      o.Amount,
		Currency:    o.Currency,
		Status:      o.Status,
	}
	if o.CompletedAt != nil {
		p.PurchaseDate = *o.CompletedAt
	}
	return p
}

// Purchase é a visão denormalizada de um pedido completado
type Purchase struct {
	ProductName  string      `json:"productName"`
	Amount       int64       `json:"amount"`
	Currency     string      `json:"currency"`
	PaymentID    string      `json:"paymentId"`
	OrderID      string      `json:"orderId"`
	PurchaseDate time.Time   `json:"purchaseDate"`
	Status       OrderStatus `json:"status"`
}

// PaymentSummary describes the most recent completed payment of a user.
type PaymentSummary struct {
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	PaymentID   string    `json:"paymentId"`
	OrderID     string    `json:"orderId"`
	ProductName string    `json:"productName"`
	Date        time.Time `json:"date"`
}

// CurrentUser is the identity resolved from the caller's session.
type CurrentUser struct {
	ID    string `json:"uid"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}
