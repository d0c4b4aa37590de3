package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commercekit/inventory-core/internal/storage"
)

// Repository defines the database operations for orders.
type Repository interface {
	BeginTx(ctx context.Context) (storage.Tx, error)

	CreateOrder(ctx context.Context, tx storage.Tx, order *Order) error
	GetOrder(ctx context.Context, tenantID, orderID string) (*Order, error)
	// GetOrderForUpdate locks the order row so status transitions serialize.
	GetOrderForUpdate(ctx context.Context, tx storage.Tx, tenantID, orderID string) (*Order, error)
	UpdateOrderStatus(ctx context.Context, tx storage.Tx, orderID, status, cancelReason string) error

	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	UpsertCustomer(ctx context.Context, customer *Customer) error
}

// ErrOrderNotFound is returned for absent order rows.
var ErrOrderNotFound = errors.New("order not found")

// ErrCustomerNotFound is returned for absent customer rows.
var ErrCustomerNotFound = errors.New("customer not found")

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgresRepository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &PostgresRepository{db: db}
}

// BeginTx starts a new transaction.
func (r *PostgresRepository) BeginTx(ctx context.Context) (storage.Tx, error) {
	return storage.Begin(ctx, r.db)
}

// CreateOrder inserts an order with its items.
func (r *PostgresRepository) CreateOrder(ctx context.Context, tx storage.Tx, order *Order) error {
	pgTx := tx.(*storage.PostgresTx).Pgx()

	_, err := pgTx.Exec(ctx, `
		INSERT INTO orders (id, tenant_id, customer_id, status, subtotal, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
	`, order.ID, order.TenantID, order.CustomerID, order.Status, order.Subtotal, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	for _, it := range order.Items {
		_, err = pgTx.Exec(ctx, `
			INSERT INTO order_items (order_id, item_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
		`, order.ID, it.ItemID, it.Quantity, it.UnitPrice)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}
	return nil
}

// GetOrder fetches an order with its items, without locking.
func (r *PostgresRepository) GetOrder(ctx context.Context, tenantID, orderID string) (*Order, error) {
	var order Order
	var customerID, cancelReason *string
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, customer_id, status, subtotal, cancel_reason, created_at, updated_at
		FROM orders
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, orderID).Scan(
		&order.ID, &order.TenantID, &customerID, &order.Status,
		&order.Subtotal, &cancelReason, &order.CreatedAt, &order.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if customerID != nil {
		order.CustomerID = *customerID
	}
	if cancelReason != nil {
		order.CancelReason = *cancelReason
	}

	rows, err := r.db.Query(ctx, `
		SELECT item_id, quantity, unit_price
		FROM order_items WHERE order_id = $1 ORDER BY item_id
	`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ItemID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderForUpdate fetches an order with a pessimistic lock (FOR UPDATE).
func (r *PostgresRepository) GetOrderForUpdate(ctx context.Context, tx storage.Tx, tenantID, orderID string) (*Order, error) {
	pgTx := tx.(*storage.PostgresTx).Pgx()

	var order Order
	var customerID, cancelReason *string
	err := pgTx.QueryRow(ctx, `
		SELECT id, tenant_id, customer_id, status, subtotal, cancel_reason, created_at, updated_at
		FROM orders
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, orderID).Scan(
		&order.ID, &order.TenantID, &customerID, &order.Status,
		&order.Subtotal, &cancelReason, &order.CreatedAt, &order.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order with lock: %w", err)
	}
	if customerID != nil {
		order.CustomerID = *customerID
	}
	if cancelReason != nil {
		order.CancelReason = *cancelReason
	}

	rows, err := pgTx.Query(ctx, `
		SELECT item_id, quantity, unit_price
		FROM order_items WHERE order_id = $1 ORDER BY item_id
	`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ItemID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus updates the status (and optional cancel reason).
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, tx storage.Tx, orderID, status, cancelReason string) error {
	pgTx := tx.(*storage.PostgresTx).Pgx()

	_, err := pgTx.Exec(ctx, `
		UPDATE orders
		SET status = $1, cancel_reason = COALESCE(NULLIF($2, ''), cancel_reason), updated_at = NOW()
		WHERE id = $3
	`, status, cancelReason, orderID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

// GetCustomer fetches a customer by id, across tenants; the usecase compares
// the tenant itself so a mismatch surfaces as a validation failure rather
// than an empty join.
func (r *PostgresRepository) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	var customer Customer
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, name FROM customers WHERE id = $1
	`, customerID).Scan(&customer.ID, &customer.TenantID, &customer.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// UpsertCustomer creates or updates a customer record.
func (r *PostgresRepository) UpsertCustomer(ctx context.Context, customer *Customer) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO customers (id, tenant_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, customer.ID, customer.TenantID, customer.Name)
	if err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	return nil
}
