package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnauthenticated means the caller has no valid session and must log in again.
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderAlreadyExists = errors.New("order already exists")
)

// ValidationError carries field-level detail for malformed requests.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+e.Fields[name])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ProviderError means the payment provider was unreachable or rejected the call.
// Nothing was persisted, so the caller may retry.
type ProviderError struct {
	Op          string
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("payment provider %s: %v", e.Op, e.Err)
	case e.Code != "":
		return fmt.Sprintf("payment provider %s: status %d: %s: %s", e.Op, e.StatusCode, e.Code, e.Description)
	default:
		return fmt.Sprintf("payment provider %s: status %d", e.Op, e.StatusCode)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable is always true: provider failures happen before any state is written.
func (e *ProviderError) Retryable() bool { return true }

// VerificationReason explains why a payment confirmation was rejected.
type VerificationReason string

const (
	ReasonInvalidSignature VerificationReason = "invalid_signature"
	ReasonOrderNotFound    VerificationReason = "order_not_found"
	ReasonOrderNotOwned    VerificationReason = "order_not_owned"
)

// VerificationError rejects a payment confirmation. No entitlement is granted.
type VerificationError struct {
	OrderID string
	Reason  VerificationReason
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("payment verification failed for order %s: %s", e.OrderID, e.Reason)
}
