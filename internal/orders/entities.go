package orders

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus represents the possible states of an order
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusCancelled = "cancelled"
	OrderStatusFulfilled = "fulfilled"
)

// OrderItem is one line of an order. Lines are immutable once the order is
// confirmed; nothing in this package updates them after creation.
type OrderItem struct {
	ItemID    string `json:"item_id" db:"item_id"`
	Quantity  int    `json:"quantity" db:"quantity"`
	UnitPrice int64  `json:"unit_price" db:"unit_price"`
}

// Order represents a customer order, scoped to a tenant. Orders are never
// physically deleted (audit retention).
type Order struct {
	ID           string      `json:"id" db:"id"`
	TenantID     string      `json:"tenant_id" db:"tenant_id"`
	CustomerID   string      `json:"customer_id,omitempty" db:"customer_id"`
	Status       string      `json:"status" db:"status"`
	Subtotal     int64       `json:"subtotal" db:"subtotal"`
	CancelReason string      `json:"cancel_reason,omitempty" db:"cancel_reason"`
	Items        []OrderItem `json:"items"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// NewOrder creates a new order with a computed subtotal.
func NewOrder(tenantID, customerID string, items []OrderItem, confirmed bool) *Order {
	status := OrderStatusPending
	if confirmed {
		status = OrderStatusConfirmed
	}
	var subtotal int64
	for _, it := range items {
		subtotal += it.UnitPrice * int64(it.Quantity)
	}
	return &Order{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		CustomerID: customerID,
		Status:     status,
		Subtotal:   subtotal,
		Items:      items,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

// validTransitions is the closed order state machine. Ledger side effects
// hang off specific edges in the synchronizer, not off storage triggers.
var validTransitions = map[string][]string{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusCancelled, OrderStatusFulfilled},
}

// CanTransition reports whether from → to is a legal order transition.
func CanTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status allows no further transitions.
func IsTerminal(status string) bool {
	return len(validTransitions[status]) == 0
}

// Customer is the minimal customer record the core needs for tenant
// validation. The full profile lives outside this core.
type Customer struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Name     string `json:"name" db:"name"`
}
