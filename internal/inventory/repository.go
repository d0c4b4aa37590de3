package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commercekit/inventory-core/internal/storage"
)

// Repository defines the database operations for the stock ledger and the
// reservations held against it. All mutating operations run inside a Tx so
// that check-then-decrement is a single atomic unit.
type Repository interface {
	BeginTx(ctx context.Context) (storage.Tx, error)

	GetItem(ctx context.Context, tenantID, itemID string) (*StockItem, error)
	// GetItemForUpdate locks the stock row (SELECT ... FOR UPDATE) so
	// concurrent reservations against the same item serialize.
	GetItemForUpdate(ctx context.Context, tx storage.Tx, tenantID, itemID string) (*StockItem, error)
	UpsertItem(ctx context.Context, tenantID, itemID string, quantity int) (*StockItem, error)
	RetireItem(ctx context.Context, tenantID, itemID string) error
	// AdjustStock applies a signed delta to a locked row. The schema-level
	// CHECK constraint is the backstop against a negative result.
	AdjustStock(ctx context.Context, tx storage.Tx, tenantID, itemID string, delta int) error

	InsertMovement(ctx context.Context, tx storage.Tx, m *StockMovement) error
	// HasDecrementMovementForItem reports whether a decrementing movement
	// (reserve hold, confirm, manual resync) is already recorded for the
	// order/item pair. Used as the exactly-once guard.
	HasDecrementMovementForItem(ctx context.Context, tx storage.Tx, orderID, itemID string) (bool, error)
	// NetMovementForItem sums the recorded deltas for the order/item
	// pair. The negated sum is the order's outstanding decrement, which
	// is exactly what a cancel restores.
	NetMovementForItem(ctx context.Context, tx storage.Tx, orderID, itemID string) (int, error)

	InsertReservation(ctx context.Context, tx storage.Tx, r *Reservation) error
	GetReservationForUpdate(ctx context.Context, tx storage.Tx, tenantID, reservationID string) (*Reservation, error)
	// GetPendingReservationForUpdate returns the order's pending
	// reservation, locked, or nil when none exists.
	GetPendingReservationForUpdate(ctx context.Context, tx storage.Tx, tenantID, orderID string) (*Reservation, error)
	UpdateReservationStatus(ctx context.Context, tx storage.Tx, reservationID, status string) error
	// SelectExpiredForUpdate selects pending reservations past their
	// deadline with FOR UPDATE SKIP LOCKED, so concurrent sweeps neither
	// block each other nor double-process a row.
	SelectExpiredForUpdate(ctx context.Context, tx storage.Tx, limit int) ([]*Reservation, error)
}

// ErrItemNotFound is returned for absent stock rows.
var ErrItemNotFound = errors.New("stock item not found")

// ErrReservationNotFound is returned for absent reservation rows.
var ErrReservationNotFound = errors.New("reservation not found")

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

// GetItem fetches a stock row without locking it.
func (r *PostgresRepository) GetItem(ctx context.Context, tenantID, itemID string) (*StockItem, error) {
	var item StockItem
	err := r.db.QueryRow(ctx, `
		SELECT tenant_id, item_id, on_hand_quantity, retired_at, created_at, updated_at
		FROM stock_items
		WHERE tenant_id = $1 AND item_id = $2
	`, tenantID, itemID).Scan(
		&item.TenantID, &item.ItemID, &item.OnHandQuantity,
		&item.RetiredAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetItemForUpdate fetches a stock row with a pessimistic lock (FOR UPDATE).
// The lock scope is one item row, so unrelated items reserve in parallel.
func (r *PostgresRepository) GetItemForUpdate(ctx context.Context, tx storage.Tx, tenantID, itemID string) (*StockItem, error) {
	pgTx := tx.(*storage.PostgresTx).Pgx()

	var item StockItem
	err := pgTx.QueryRow(ctx, `
		SELECT tenant_id, item_id, on_hand_quantity, retired_at, created_at, updated_at
		FROM stock_items
		WHERE tenant_id = $1 AND item_id = $2
		FOR UPDATE
	`, tenantID, itemID).Scan(
		&item.TenantID, &item.ItemID, &item.OnHandQuantity,
		&item.RetiredAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock item with lock: %w", err)
	}
	return &item, nil
}

// UpsertItem creates a stock row or adds to an existing one (initial stocking).
func (r *PostgresRepository) UpsertItem(ctx context.Context, tenantID, itemID string, quantity int) (*StockItem, error) {
	var item StockItem
	err := r.db.QueryRow(ctx, `
		INSERT INTO stock_items (tenant_id, item_id, on_hand_quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, item_id) DO UPDATE
		SET on_hand_quantity = stock_items.on_hand_quantity + EXCLUDED.on_hand_quantity,
		    updated_at = NOW()
		RETURNING tenant_id, item_id, on_hand_quantity, retired_at, created_at, updated_at
	`, tenantID, itemID, quantity).Scan(
		&item.TenantID, &item.ItemID, &item.OnHandQuantity,
		&item.RetiredAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert stock item: %w", err)
	}
	return &item, nil
}

// RetireItem soft-retires an item. Rows referenced by historical orders are
// never deleted.
func (r *PostgresRepository) RetireItem(ctx context.Context, tenantID, itemID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE stock_items
		SET retired_at = NOW(), updated_at = NOW()
		WHERE tenant_id = $1 AND item_id = $2 AND retired_at IS NULL
	`, tenantID, itemID)
	if err != nil {
		return fmt.Errorf("failed to retire stock item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// AdjustStock applies a signed delta to the on-hand quantity.
func (r *PostgresRepository) AdjustStock(ctx context.Context, tx storage.Tx, tenantID, itemID string, delta int) error {
	pgTx := tx.(*storage.PostgresTx).Pgx()

	_, err := pgTx.Exec(ctx, `
		UPDATE stock_items
		SET on_hand_quantity = on_hand_quantity + $3,
		    updated_at = NOW()
		WHERE tenant_id = $1 AND item_id = $2
	`, tenantID, itemID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust stock: %w", err)
	}
	return nil
}

// InsertMovement appends an audit record for a ledger mutation.
func (r *PostgresRepository) InsertMovement(ctx context.Context, tx storage.Tx, m *StockMovement) error {
	pgTx := tx.(*storage.PostgresTx).Pgx()

	_, err := pgTx.Exec(ctx, `
		INSERT INTO stock_movements
			(id, tenant_id, item_id, order_id, reservation_id, change_quantity, movement_type, reason, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9)
	`, m.ID, m.TenantID, m.ItemID, m.OrderID, m.ReservationID, m.ChangeQuantity, m.MovementType, m.Reason, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert movement record: %w", err)
	}
	return nil
}

// HasDecrementMovementForItem checks whether a decrementing movement already
// exists for the order/item pair.
func (r *PostgresRepository) HasDecrementMovementForItem(ctx context.Context, tx storage.Tx, orderID, itemID string) (bool, error) {
	pgTx := tx.(*storage.PostgresTx).Pgx()

	var exists bool
	err := pgTx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM stock_movements
			WHERE order_id = $1 AND item_id = $2
			  AND movement_type IN ($3, $4, $5)
		)
	`, orderID, itemID, MovementTypeReserveHold, MovementTypeOrderConfirmed, MovementTypeManualResync).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// NetMovementForItem sums every recorded movement delta for the order/item
// pair.
func (r *PostgresRepository) NetMovementForItem(ctx context.Context, tx storage.Tx, orderID, itemID string) (int, error) {
	pgTx := tx.(*storage.PostgresTx).Pgx()

	var net int
	err := pgTx.QueryRow(ctx, `
		SELECT COALESCE(SUM(change_quantity), 0)
		FROM stock_movements
		WHERE order_id = $1 AND item_id = $2
	`, orderID, itemID).Scan(&net)
	if err != nil {
		return 0, err
	}
	return net, nil
}

// InsertReservation persists a reservation with its items.
func (r *PostgresRepository) InsertReservation(ctx context.Context, tx storage.Tx, res *Reservation) error {
	pgTx := tx.(*storage.PostgresTx).Pgx()

	_, err := pgTx.Exec(ctx, `
		INSERT INTO reservations (id, tenant_id, order_id, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, res.ID, res.TenantID, res.OrderID, res.Status, res.ExpiresAt, res.CreatedAt, res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}

	for _, it := range res.Items {
		_, err = pgTx.Exec(ctx, `
			INSERT INTO reservation_items (reservation_id, item_id, quantity)
			VALUES ($1, $2, $3)
		`, res.ID, it.ItemID, it.Quantity)
		if err != nil {
			return fmt.Errorf("failed to insert reservation item: %w", err)
		}
	}
	return nil
}

// GetReservationForUpdate fetches a reservation with a pessimistic lock.
func (r *PostgresRepository) GetReservationForUpdate(ctx context.Context, tx storage.Tx, tenantID, reservationID string) (*Reservation, error) {
	pgTx := tx.(*storage.PostgresTx).Pgx()

	var res Reservation
	err := pgTx.QueryRow(ctx, `
		SELECT id, tenant_id, order_id, status, expires_at, created_at, updated_at
		FROM reservations
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, reservationID).Scan(
		&res.ID, &res.TenantID, &res.OrderID, &res.Status,
		&res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation with lock: %w", err)
	}

	if err := r.loadReservationItems(ctx, pgTx, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetPendingReservationForUpdate returns the order's pending reservation,
// locked, or nil when the order has none.
func (r *PostgresRepository) GetPendingReservationForUpdate(ctx context.Context, tx storage.Tx, tenantID, orderID string) (*Reservation, error) {
	pgTx := tx.(*storage.PostgresTx).Pgx()

	var res Reservation
	err := pgTx.QueryRow(ctx, `
		SELECT id, tenant_id, order_id, status, expires_at, created_at, updated_at
		FROM reservations
		WHERE tenant_id = $1 AND order_id = $2 AND status = $3
		FOR UPDATE
	`, tenantID, orderID, ReservationStatusPending).Scan(
		&res.ID, &res.TenantID, &res.OrderID, &res.Status,
		&res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending reservation: %w", err)
	}

	if err := r.loadReservationItems(ctx, pgTx, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// UpdateReservationStatus updates the status of a reservation.
func (r *PostgresRepository) UpdateReservationStatus(ctx context.Context, tx storage.Tx, reservationID, status string) error {
	pgTx := tx.(*storage.PostgresTx).Pgx()

	_, err := pgTx.Exec(ctx, `
		UPDATE reservations
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, reservationID)
	if err != nil {
		return fmt.Errorf("failed to update reservation status: %w", err)
	}
	return nil
}

// SelectExpiredForUpdate selects expired pending reservations using lock-skip
// selection, so a long sweep never stalls concurrent reservation creation and
// two sweeps never both claim the same row.
func (r *PostgresRepository) SelectExpiredForUpdate(ctx context.Context, tx storage.Tx, limit int) ([]*Reservation, error) {
	pgTx := tx.(*storage.PostgresTx).Pgx()

	rows, err := pgTx.Query(ctx, `
		SELECT id, tenant_id, order_id, status, expires_at, created_at, updated_at
		FROM reservations
		WHERE status = $1 AND expires_at < NOW()
		ORDER BY expires_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, ReservationStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select expired reservations: %w", err)
	}
	defer rows.Close()

	var out []*Reservation
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(
			&res.ID, &res.TenantID, &res.OrderID, &res.Status,
			&res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, res := range out {
		if err := r.loadReservationItems(ctx, pgTx, res); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *PostgresRepository) loadReservationItems(ctx context.Context, pgTx pgx.Tx, res *Reservation) error {
	rows, err := pgTx.Query(ctx, `
		SELECT item_id, quantity
		FROM reservation_items
		WHERE reservation_id = $1
		ORDER BY item_id
	`, res.ID)
	if err != nil {
		return fmt.Errorf("failed to load reservation items: %w", err)
	}
	defer rows.Close()

	res.Items = nil
	for rows.Next() {
		var it ReservationItem
		if err := rows.Scan(&it.ItemID, &it.Quantity); err != nil {
			return err
		}
		res.Items = append(res.Items, it)
	}
	return rows.Err()
}
