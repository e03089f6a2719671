package main

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPool connects to TEST_DATABASE_URL and skips when Postgres is not available.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.MaxConns = 8

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skipping Postgres integration tests: %v", err)
	}
	t.Cleanup(pool.Close)

	_, err = applyMigrations(ctx, pool)
	require.NoError(t, err)
	return pool
}

func newOrderID() string {
	return "order_" + uuid.NewString()[:14]
}

func TestNewOrderRepository(t *testing.T) {
	var db *pgxpool.Pool

	repo := NewOrderRepository(db)

	assert.NotNil(t, repo)
	assert.IsType(t, &OrderRepository{}, repo)
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	// Arrange
	pool := newTestPool(t)
	repo := NewOrderRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	order := NewOrder(newOrderID(), CurrentUser{ID: "u-" + uuid.NewString(), Email: "a@example.com", Name: "Asha"}, "LiveEazy", 200, "INR", "rcpt_1", now)

	// Act
	require.NoError(t, repo.CreateOrder(ctx, order))
	got, err := repo.GetOrder(ctx, order.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	assert.Equal(t, order.UserID, got.UserID)
	assert.Equal(t, "a@example.com", got.UserEmail)
	assert.Equal(t, OrderStatusPending, got.Status)
	assert.Equal(t, int64(200), got.Amount)
	assert.True(t, now.Equal(got.CreatedAt))
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, got.PaymentID)

	assert.ErrorIs(t, repo.CreateOrder(ctx, order), ErrOrderAlreadyExists)

	_, err = repo.GetOrder(ctx, "order_missing_"+uuid.NewString())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderRepository_CompleteOrderOnce(t *testing.T) {
	// Arrange
	pool := newTestPool(t)
	repo := NewOrderRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	order := NewOrder(newOrderID(), CurrentUser{ID: "u-" + uuid.NewString()}, "LiveEazy", 200, "INR", "rcpt_1", now)
	require.NoError(t, repo.CreateOrder(ctx, order))

	// Act
	const workers = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.CompleteOrder(ctx, order.ID, "pay_1", "sig", now.Add(time.Minute))
			if !assert.NoError(t, err) {
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Assert
	assert.Equal(t, 1, wins)
	got, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusCompleted, got.Status)
	assert.Equal(t, "pay_1", got.PaymentID)
	require.NotNil(t, got.CompletedAt)

	failed, err := repo.FailOrder(ctx, order.ID, "late", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, failed, "completed orders cannot fail")
}

func TestOrderRepository_Listings(t *testing.T) {
	pool := newTestPool(t)
	repo := NewOrderRepository(pool)
	ctx := context.Background()
	userID := "u-" + uuid.NewString()
	base := time.Now().UTC().Truncate(time.Microsecond)

	ids := make([]string, 3)
	for i := range ids {
		o := NewOrder(newOrderID(), CurrentUser{ID: userID}, "LiveEazy", 200, "INR", "rcpt", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.CreateOrder(ctx, o))
		ids[i] = o.ID
	}
	ok, err := repo.CompleteOrder(ctx, ids[0], "pay_0", "sig", base.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.FailOrder(ctx, ids[1], "card_declined", base.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	completed, err := repo.ListCompletedOrders(ctx, userID)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, ids[0], completed[0].ID)

	history, err := repo.ListOrders(ctx, userID, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ids[2], history[0].ID)
	assert.Equal(t, ids[1], history[1].ID)
	assert.Equal(t, "card_declined", history[1].FailureReason)
}

func TestOrderRepository_FailStalePendingOrders(t *testing.T) {
	pool := newTestPool(t)
	repo := NewOrderRepository(pool)
	ctx := context.Background()
	userID := "u-" + uuid.NewString()
	// Far in the past so orders from other tests are never swept.
	stale := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

	old := NewOrder(newOrderID(), CurrentUser{ID: userID}, "LiveEazy", 200, "INR", "rcpt", stale)
	fresh := NewOrder(newOrderID(), CurrentUser{ID: userID}, "LiveEazy", 200, "INR", "rcpt", stale.Add(48*time.Hour))
	require.NoError(t, repo.CreateOrder(ctx, old))
	require.NoError(t, repo.CreateOrder(ctx, fresh))

	ids, err := repo.FailStalePendingOrders(ctx, stale.Add(time.Hour), expiredReason, time.Now().UTC())

	require.NoError(t, err)
	assert.Contains(t, ids, old.ID)
	assert.NotContains(t, ids, fresh.ID)

	got, err := repo.GetOrder(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFailed, got.Status)
	assert.Equal(t, expiredReason, got.FailureReason)
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	pool := newTestPool(t)

	applied, err := applyMigrations(context.Background(), pool)

	require.NoError(t, err)
	assert.Empty(t, applied)
}
