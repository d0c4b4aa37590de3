package inventory

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/commercekit/inventory-core/pkg/errors"
)

// StockItem is the authoritative per-tenant, per-item quantity record.
type StockItem struct {
	TenantID       string     `json:"tenant_id" db:"tenant_id"`
	ItemID         string     `json:"item_id" db:"item_id"`
	OnHandQuantity int        `json:"on_hand_quantity" db:"on_hand_quantity"`
	RetiredAt      *time.Time `json:"retired_at,omitempty" db:"retired_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Retired reports whether the item has been soft-retired. Retired items are
// kept for historical orders and reject new reservations.
func (s *StockItem) Retired() bool {
	return s.RetiredAt != nil
}

// ReservationStatus represents the possible states of a reservation
const (
	ReservationStatusPending   = "pending"
	ReservationStatusExpired   = "expired"
	ReservationStatusReleased  = "released"
	ReservationStatusFulfilled = "fulfilled"
)

// ReservationItem is one held line of a reservation.
type ReservationItem struct {
	ItemID   string `json:"item_id" db:"item_id"`
	Quantity int    `json:"quantity" db:"quantity"`
}

// Reservation is a time-bounded hold against the stock ledger for an
// in-progress order. While pending, its quantities are already reflected in
// on_hand_quantity; terminal states are immutable.
type Reservation struct {
	ID        string            `json:"id" db:"id"`
	TenantID  string            `json:"tenant_id" db:"tenant_id"`
	OrderID   string            `json:"order_id" db:"order_id"`
	Status    string            `json:"status" db:"status"`
	Items     []ReservationItem `json:"items"`
	ExpiresAt time.Time         `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

// NewReservation creates a pending reservation for an order.
func NewReservation(tenantID, orderID string, items []ReservationItem, ttl time.Duration) *Reservation {
	return &Reservation{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		OrderID:   orderID,
		Status:    ReservationStatusPending,
		Items:     items,
		ExpiresAt: time.Now().Add(ttl),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// IsTerminal reports whether the reservation reached a terminal state.
func (r *Reservation) IsTerminal() bool {
	return r.Status != ReservationStatusPending
}

// Fulfill marks the reservation as fulfilled by its owning order.
func (r *Reservation) Fulfill() error {
	if r.IsTerminal() {
		return apperrors.NewInvalidStateTransition(r.Status, ReservationStatusFulfilled)
	}
	r.Status = ReservationStatusFulfilled
	r.UpdatedAt = time.Now()
	return nil
}

// Release marks the reservation as released on explicit cancellation.
func (r *Reservation) Release() error {
	if r.IsTerminal() {
		return apperrors.NewInvalidStateTransition(r.Status, ReservationStatusReleased)
	}
	r.Status = ReservationStatusReleased
	r.UpdatedAt = time.Now()
	return nil
}

// Expire marks the reservation as reclaimed by the expiry sweep.
func (r *Reservation) Expire() error {
	if r.IsTerminal() {
		return apperrors.NewInvalidStateTransition(r.Status, ReservationStatusExpired)
	}
	r.Status = ReservationStatusExpired
	r.UpdatedAt = time.Now()
	return nil
}

// HeldQuantity returns the quantity held for one item, 0 if absent.
func (r *Reservation) HeldQuantity(itemID string) int {
	for _, it := range r.Items {
		if it.ItemID == itemID {
			return it.Quantity
		}
	}
	return 0
}

// MovementType enumerates the audited ledger mutations. Reserve holds,
// confirm decrements and manual resyncs all count as decrement movements for
// the per-order idempotency check.
const (
	MovementTypeReserveHold    = "reserve_hold"
	MovementTypeReleaseRestore = "release_restore"
	MovementTypeExpiryRestore  = "expiry_restore"
	MovementTypeOrderConfirmed = "order_confirmed"
	MovementTypeCancelRestore  = "cancel_restore"
	MovementTypeManualResync   = "manual_resync"
)

// StockMovement is the audit record appended on every effectful ledger write.
type StockMovement struct {
	ID             string    `json:"id" db:"id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	ItemID         string    `json:"item_id" db:"item_id"`
	OrderID        string    `json:"order_id,omitempty" db:"order_id"`
	ReservationID  string    `json:"reservation_id,omitempty" db:"reservation_id"`
	ChangeQuantity int       `json:"change_quantity" db:"change_quantity"`
	MovementType   string    `json:"movement_type" db:"movement_type"`
	Reason         string    `json:"reason,omitempty" db:"reason"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// NewStockMovement creates a movement record.
func NewStockMovement(tenantID, itemID, orderID, reservationID string, change int, movementType, reason string) *StockMovement {
	return &StockMovement{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		ItemID:         itemID,
		OrderID:        orderID,
		ReservationID:  reservationID,
		ChangeQuantity: change,
		MovementType:   movementType,
		Reason:         reason,
		CreatedAt:      time.Now(),
	}
}
