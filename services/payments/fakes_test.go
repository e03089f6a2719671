package main

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// memoryRepository é um Repository em memória com a mesma guarda de status do Postgres
type memoryRepository struct {
	mu     sync.Mutex
	orders map[string]Order

	completeCalls int
	err           error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{orders: map[string]Order{}}
}

func (r *memoryRepository) CreateOrder(_ context.Context, order *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.orders[order.ID]; ok {
		return ErrOrderAlreadyExists
	}
	r.orders[order.ID] = *order
	return nil
}

func (r *memoryRepository) GetOrder(_ context.Context, orderID string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	o, ok := r.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &o, nil
}

func (r *memoryRepository) CompleteOrder(_ context.Context, orderID, paymentID, signature string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completeCalls++
	if r.err != nil {
		return false, r.err
	}
	o, ok := r.orders[orderID]
	if !ok || o.Status != OrderStatusPending {
		return false, nil
	}
	_ = o.Complete(paymentID, signature, at)
	r.orders[orderID] = o
	return true, nil
}

func (r *memoryRepository) FailOrder(_ context.Context, orderID, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	o, ok := r.orders[orderID]
	if !ok || o.Status != OrderStatusPending {
		return false, nil
	}
	_ = o.Fail(reason, at)
	r.orders[orderID] = o
	return true, nil
}

func (r *memoryRepository) ListCompletedOrders(_ context.Context, userID string) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := []Order{}
	for _, o := range r.orders {
		if o.UserID == userID && o.Status == OrderStatusCompleted {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(*out[j].CompletedAt) })
	return out, nil
}

func (r *memoryRepository) ListOrders(_ context.Context, userID string, limit int) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := []Order{}
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) FailStalePendingOrders(_ context.Context, olderThan time.Time, reason string, at time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	ids := []string{}
	for id, o := range r.orders {
		if o.Status == OrderStatusPending && o.CreatedAt.Before(olderThan) {
			_ = o.Fail(reason, at)
			r.orders[id] = o
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memoryRepository) put(o *Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = *o
}

func (r *memoryRepository) status(id string) OrderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id].Status
}

func (r *memoryRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

// MockProvider simula o gateway de pagamento
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) OpenOrder(ctx context.Context, req ProviderOrderRequest) (ProviderOrder, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ProviderOrder), args.Error(1)
}

func (m *MockProvider) PublicKey() string {
	return "rzp_test_key"
}

// MockNotifier registra as confirmações enviadas
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) PurchaseConfirmed(ctx context.Context, c PurchaseConfirmation) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

// MockPaymentUseCase simula o caso de uso para os testes de handler
type MockPaymentUseCase struct {
	mock.Mock
}

func (m *MockPaymentUseCase) CreateOrder(ctx context.Context, user *CurrentUser, in CreateOrderInput) (*CreateOrderResult, error) {
	args := m.Called(ctx, user, in)
	res, _ := args.Get(0).(*CreateOrderResult)
	return res, args.Error(1)
}

func (m *MockPaymentUseCase) VerifyPayment(ctx context.Context, user *CurrentUser, in VerifyPaymentInput) (*VerifyPaymentResult, error) {
	args := m.Called(ctx, user, in)
	res, _ := args.Get(0).(*VerifyPaymentResult)
	return res, args.Error(1)
}

func (m *MockPaymentUseCase) ReportFailure(ctx context.Context, user *CurrentUser, in ReportFailureInput) (*Order, error) {
	args := m.Called(ctx, user, in)
	res, _ := args.Get(0).(*Order)
	return res, args.Error(1)
}

func (m *MockPaymentUseCase) PurchaseStatus(ctx context.Context, user *CurrentUser, product string) (*PurchaseStatusResult, error) {
	args := m.Called(ctx, user, product)
	res, _ := args.Get(0).(*PurchaseStatusResult)
	return res, args.Error(1)
}

func (m *MockPaymentUseCase) PaymentHistory(ctx context.Context, user *CurrentUser, limit int) ([]Order, error) {
	args := m.Called(ctx, user, limit)
	res, _ := args.Get(0).([]Order)
	return res, args.Error(1)
}
