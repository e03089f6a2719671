package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository define a interface para operações de banco de dados de pedidos
type Repository interface {
	// CreateOrder insere um pedido pendente; ErrOrderAlreadyExists se o id já existir
	CreateOrder(ctx context.Context, order *Order) error

	// GetOrder busca um pedido pelo ID do provedor
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// CompleteOrder moves a pending order to completed. It reports false when the
	// order was no longer pending, leaving the row untouched.
	CompleteOrder(ctx context.Context, orderID, paymentID, signature string, at time.Time) (bool, error)

	// FailOrder moves a pending order to failed, with the same guard as CompleteOrder.
	FailOrder(ctx context.Context, orderID, reason string, at time.Time) (bool, error)

	// ListCompletedOrders returns the user's completed orders, latest completion first.
	ListCompletedOrders(ctx context.Context, userID string) ([]Order, error)

	// ListOrders returns the user's orders of any status, newest first.
	ListOrders(ctx context.Context, userID string, limit int) ([]Order, error)

	// FailStalePendingOrders fails every pending order created before olderThan.
	FailStalePendingOrders(ctx context.Context, olderThan time.Time, reason string, at time.Time) ([]string, error)
}

// OrderRepository implementa Repository usando PostgreSQL
type OrderRepository struct {
	db *pgxpool.Pool
}

// NewOrderRepository cria uma nova instância de OrderRepository
func NewOrderRepository(db *pgxpool.Pool) Repository {
	return &OrderRepository{
		db: db,
	}
}

const orderColumns = `id, user_id, user_email, user_name, product_name, amount, currency, receipt,
	status, payment_id, signature, failure_reason, created_at, completed_at, updated_at`

func (r *OrderRepository) CreateOrder(ctx context.Context, order *Order) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO payment_orders (id, user_id, user_email, user_name, product_name, amount, currency,
			receipt, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, order.ID, order.UserID, order.UserEmail, order.UserName, order.ProductName, order.Amount,
		order.Currency, order.Receipt, order.Status, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrOrderAlreadyExists
		}
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM payment_orders WHERE id = $1`, orderID)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

func (r *OrderRepository) CompleteOrder(ctx context.Context, orderID, paymentID, signature string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE payment_orders
		SET status = 'completed', payment_id = $2, signature = $3, completed_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'pending'
	`, orderID, paymentID, signature, at)
	if err != nil {
		return false, fmt.Errorf("complete order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepository) FailOrder(ctx context.Context, orderID, reason string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE payment_orders
		SET status = 'failed', failure_reason = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`, orderID, reason, at)
	if err != nil {
		return false, fmt.Errorf("fail order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepository) ListCompletedOrders(ctx context.Context, userID string) ([]Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM payment_orders
		WHERE user_id = $1 AND status = 'completed'
		ORDER BY completed_at DESC, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list completed orders: %w", err)
	}
	return collectOrders(rows)
}

func (r *OrderRepository) ListOrders(ctx context.Context, userID string, limit int) ([]Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM payment_orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return collectOrders(rows)
}

func (r *OrderRepository) FailStalePendingOrders(ctx context.Context, olderThan time.Time, reason string, at time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE payment_orders
		SET status = 'failed', failure_reason = $2, updated_at = $3
		WHERE status = 'pending' AND created_at < $1
		RETURNING id
	`, olderThan, reason, at)
	if err != nil {
		return nil, fmt.Errorf("fail stale orders: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("fail stale orders: %w", err)
	}
	return ids, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status string
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.UserEmail,
		&o.UserName,
		&o.ProductName,
		&o.Amount,
		&o.Currency,
		&o.Receipt,
		&status,
		&o.PaymentID,
		&o.Signature,
		&o.FailureReason,
		&o.CreatedAt,
		&o.CompletedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = OrderStatus(status)
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()

	orders := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
