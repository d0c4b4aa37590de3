package inventory

import (
	"testing"
	"time"

	apperrors "github.com/commercekit/inventory-core/pkg/errors"
)

func TestNewReservation(t *testing.T) {
	// Arrange
	tenantID := "tenant-1"
	orderID := "order-123"
	items := []ReservationItem{{ItemID: "sku-1", Quantity: 3}}
	ttl := 15 * time.Minute

	// Act
	res := NewReservation(tenantID, orderID, items, ttl)

	// Assert
	if res.ID == "" {
		t.Error("Expected ID to be set")
	}
	if res.TenantID != tenantID {
		t.Errorf("Expected TenantID %s, got %s", tenantID, res.TenantID)
	}
	if res.OrderID != orderID {
		t.Errorf("Expected OrderID %s, got %s", orderID, res.OrderID)
	}
	if res.Status != ReservationStatusPending {
		t.Errorf("Expected Status %s, got %s", ReservationStatusPending, res.Status)
	}
	if len(res.Items) != 1 || res.Items[0].Quantity != 3 {
		t.Errorf("Expected items to be carried, got %+v", res.Items)
	}

	now := time.Now()
	if res.ExpiresAt.Before(now.Add(ttl-time.Second)) || res.ExpiresAt.After(now.Add(ttl+time.Second)) {
		t.Error("ExpiresAt is not within expected time range")
	}
}

func TestReservationStatusConstants(t *testing.T) {
	if ReservationStatusPending != "pending" {
		t.Errorf("Expected ReservationStatusPending to be 'pending', got %s", ReservationStatusPending)
	}
	if ReservationStatusExpired != "expired" {
		t.Errorf("Expected ReservationStatusExpired to be 'expired', got %s", ReservationStatusExpired)
	}
	if ReservationStatusReleased != "released" {
		t.Errorf("Expected ReservationStatusReleased to be 'released', got %s", ReservationStatusReleased)
	}
	if ReservationStatusFulfilled != "fulfilled" {
		t.Errorf("Expected ReservationStatusFulfilled to be 'fulfilled', got %s", ReservationStatusFulfilled)
	}
}

func TestReservationTransitions(t *testing.T) {
	res := NewReservation("tenant-1", "order-1", []ReservationItem{{ItemID: "sku-1", Quantity: 1}}, time.Minute)

	if res.IsTerminal() {
		t.Error("Expected pending reservation not to be terminal")
	}
	if err := res.Fulfill(); err != nil {
		t.Errorf("Expected Fulfill on pending to succeed, got %v", err)
	}
	if res.Status != ReservationStatusFulfilled {
		t.Errorf("Expected Status %s, got %s", ReservationStatusFulfilled, res.Status)
	}
	if !res.IsTerminal() {
		t.Error("Expected fulfilled reservation to be terminal")
	}
}

func TestReservationTerminalStatesAreImmutable(t *testing.T) {
	for _, terminal := range []string{ReservationStatusExpired, ReservationStatusReleased, ReservationStatusFulfilled} {
		res := NewReservation("tenant-1", "order-1", nil, time.Minute)
		res.Status = terminal

		for name, transition := range map[string]func() error{
			"Fulfill": res.Fulfill,
			"Release": res.Release,
			"Expire":  res.Expire,
		} {
			err := transition()
			if err == nil {
				t.Errorf("Expected %s on %s reservation to fail", name, terminal)
				continue
			}
			if !apperrors.HasCode(err, apperrors.CodeInvalidStateTransition) {
				t.Errorf("Expected invalid state transition error, got %v", err)
			}
			if res.Status != terminal {
				t.Errorf("Expected status to remain %s, got %s", terminal, res.Status)
			}
		}
	}
}

func TestReservationHeldQuantity(t *testing.T) {
	res := NewReservation("tenant-1", "order-1", []ReservationItem{
		{ItemID: "sku-1", Quantity: 4},
		{ItemID: "sku-2", Quantity: 2},
	}, time.Minute)

	if got := res.HeldQuantity("sku-1"); got != 4 {
		t.Errorf("Expected held quantity 4, got %d", got)
	}
	if got := res.HeldQuantity("sku-9"); got != 0 {
		t.Errorf("Expected held quantity 0 for absent item, got %d", got)
	}
}

func TestStockItemRetired(t *testing.T) {
	item := &StockItem{TenantID: "tenant-1", ItemID: "sku-1", OnHandQuantity: 10}
	if item.Retired() {
		t.Error("Expected item without retired_at not to be retired")
	}

	now := time.Now()
	item.RetiredAt = &now
	if !item.Retired() {
		t.Error("Expected item with retired_at to be retired")
	}
}

func TestNewStockMovement(t *testing.T) {
	// Arrange / Act
	m := NewStockMovement("tenant-1", "sku-1", "order-1", "res-1", -5, MovementTypeReserveHold, "reservation hold")

	// Assert
	if m.ID == "" {
		t.Error("Expected ID to be set")
	}
	if m.ChangeQuantity != -5 {
		t.Errorf("Expected ChangeQuantity -5, got %d", m.ChangeQuantity)
	}
	if m.MovementType != MovementTypeReserveHold {
		t.Errorf("Expected MovementType %s, got %s", MovementTypeReserveHold, m.MovementType)
	}
	if m.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}
}
