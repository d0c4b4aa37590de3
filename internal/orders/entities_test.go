package orders

import (
	"testing"
	"time"
)

func TestNewOrder(t *testing.T) {
	// Arrange
	tenantID := "tenant-1"
	customerID := "customer-456"
	items := []OrderItem{
		{ItemID: "sku-1", Quantity: 2, UnitPrice: 1500},
		{ItemID: "sku-2", Quantity: 1, UnitPrice: 250},
	}

	// Act
	order := NewOrder(tenantID, customerID, items, false)

	// Assert
	if order.ID == "" {
		t.Error("Expected ID to be set")
	}
	if order.TenantID != tenantID {
		t.Errorf("Expected TenantID %s, got %s", tenantID, order.TenantID)
	}
	if order.CustomerID != customerID {
		t.Errorf("Expected CustomerID %s, got %s", customerID, order.CustomerID)
	}
	if order.Status != OrderStatusPending {
		t.Errorf("Expected Status %s, got %s", OrderStatusPending, order.Status)
	}
	if order.Subtotal != 3250 {
		t.Errorf("Expected Subtotal 3250, got %d", order.Subtotal)
	}
	if order.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}

	now := time.Now()
	if order.CreatedAt.After(now) || order.CreatedAt.Before(now.Add(-time.Second)) {
		t.Error("CreatedAt is not within expected time range")
	}
}

func TestNewOrderAutoConfirm(t *testing.T) {
	order := NewOrder("tenant-1", "", []OrderItem{{ItemID: "sku-1", Quantity: 1, UnitPrice: 100}}, true)

	if order.Status != OrderStatusConfirmed {
		t.Errorf("Expected Status %s, got %s", OrderStatusConfirmed, order.Status)
	}
}

func TestOrderStatusConstants(t *testing.T) {
	if OrderStatusPending != "pending" {
		t.Errorf("Expected OrderStatusPending to be 'pending', got %s", OrderStatusPending)
	}
	if OrderStatusConfirmed != "confirmed" {
		t.Errorf("Expected OrderStatusConfirmed to be 'confirmed', got %s", OrderStatusConfirmed)
	}
	if OrderStatusCancelled != "cancelled" {
		t.Errorf("Expected OrderStatusCancelled to be 'cancelled', got %s", OrderStatusCancelled)
	}
	if OrderStatusFulfilled != "fulfilled" {
		t.Errorf("Expected OrderStatusFulfilled to be 'fulfilled', got %s", OrderStatusFulfilled)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to string }{
		{OrderStatusPending, OrderStatusConfirmed},
		{OrderStatusPending, OrderStatusCancelled},
		{OrderStatusConfirmed, OrderStatusCancelled},
		{OrderStatusConfirmed, OrderStatusFulfilled},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("Expected %s -> %s to be allowed", tr.from, tr.to)
		}
	}

	rejected := []struct{ from, to string }{
		{OrderStatusPending, OrderStatusFulfilled},
		{OrderStatusCancelled, OrderStatusConfirmed},
		{OrderStatusCancelled, OrderStatusPending},
		{OrderStatusFulfilled, OrderStatusCancelled},
		{OrderStatusConfirmed, OrderStatusPending},
	}
	for _, tr := range rejected {
		if CanTransition(tr.from, tr.to) {
			t.Errorf("Expected %s -> %s to be rejected", tr.from, tr.to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if IsTerminal(OrderStatusPending) {
		t.Error("Expected pending not to be terminal")
	}
	if IsTerminal(OrderStatusConfirmed) {
		t.Error("Expected confirmed not to be terminal")
	}
	if !IsTerminal(OrderStatusCancelled) {
		t.Error("Expected cancelled to be terminal")
	}
	if !IsTerminal(OrderStatusFulfilled) {
		t.Error("Expected fulfilled to be terminal")
	}
}
