package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const expiredReason = "expired"

// ReconcileUseCase fails pending orders whose provider callback never arrived.
// It runs once per invocation; scheduling belongs to the operator.
type ReconcileUseCase struct {
	repository Repository
	pendingTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
	swept      metric.Int64Counter
}

// NewReconcileUseCase cria o caso de uso de reconciliação
func NewReconcileUseCase(repository Repository, pendingTTL time.Duration, logger *zap.Logger) *ReconcileUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	swept, _ := otel.Meter("payments-service").Int64Counter("payments.orders.failed",
		metric.WithDescription("Orders moved to failed"))

	return &ReconcileUseCase{
		repository: repository,
		pendingTTL: pendingTTL,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		swept:      swept,
	}
}

// Run sweeps stale pending orders to failed and returns their ids.
func (uc *ReconcileUseCase) Run(ctx context.Context) ([]string, error) {
	if uc.pendingTTL <= 0 {
		return nil, errors.New("reconcile: pending ttl must be positive")
	}

	now := uc.now()
	cutoff := now.Add(-uc.pendingTTL)

	uc.logger.Info("🧹 [RECONCILE] Sweeping stale pending orders", zap.Time("created_before", cutoff))

	ids, err := uc.repository.FailStalePendingOrders(ctx, cutoff, expiredReason, now)
	if err != nil {
		uc.logger.Error("❌ Reconciliation failed", zap.Error(err))
		return nil, fmt.Errorf("failed to reconcile pending orders: %w", err)
	}

	if len(ids) > 0 {
		uc.swept.Add(ctx, int64(len(ids)), metric.WithAttributes(attribute.String("reason", expiredReason)))
	}
	uc.logger.Info("✅ [RECONCILE] Done", zap.Int("failed_orders", len(ids)), zap.Strings("order_ids", ids))
	return ids, nil
}
