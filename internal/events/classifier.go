package events

import "fmt"

// Operation is the raw mutation kind reported by the store.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// The closed set of invalidation event names. Subscribers key on these;
// nothing outside this list is ever emitted.
const (
	EventOrderCreated               = "order-created"
	EventOrderStatusChanged         = "order-status-changed"
	EventOrderUpdated               = "order-updated"
	EventOrderDeleted               = "order-deleted"
	EventProductUpdated             = "product-updated"
	EventInventoryAdjusted          = "inventory-adjusted"
	EventInventoryTransferCompleted = "inventory-transfer-completed"
	EventCustomerCreated            = "customer-created"
	EventCustomerUpdated            = "customer-updated"
	EventCustomerDeleted            = "customer-deleted"
	EventRefundProcessed            = "refund-processed"
	EventCourierStatusChanged       = "courier-status-changed"
	EventMenuPublished              = "menu-published"
	EventMenuUpdated                = "menu-updated"
	EventShiftStarted               = "shift-started"
	EventShiftEnded                 = "shift-ended"
)

// Event is a typed invalidation event with id-bearing metadata. It is
// transient: produced by Classify, delivered to subscribers, never persisted.
type Event struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Classify maps a raw mutation to an invalidation event, or reports false for
// mutations that carry no invalidation meaning. It is a pure function: it
// reads no external state, so identical inputs always produce identical
// output. Untracked tables, including the deprecated invoices and deliveries
// integrations, deterministically produce no event.
func Classify(table, operation string, before, after map[string]any) (Event, bool) {
	switch table {
	case "orders":
		return classifyOrder(operation, before, after)
	case "stock_items":
		switch operation {
		case OpInsert, OpUpdate:
			return event(EventInventoryAdjusted, after, "tenant_id", "item_id"), true
		}
		return Event{}, false
	case "products":
		switch operation {
		case OpInsert, OpUpdate:
			return event(EventProductUpdated, after, "tenant_id", "product_id"), true
		}
		return Event{}, false
	case "stock_transfers":
		if operation == OpUpdate && str(after, "status") == "completed" && str(before, "status") != "completed" {
			return event(EventInventoryTransferCompleted, after, "tenant_id", "transfer_id"), true
		}
		return Event{}, false
	case "customers":
		switch operation {
		case OpInsert:
			return event(EventCustomerCreated, after, "tenant_id", "customer_id"), true
		case OpUpdate:
			return event(EventCustomerUpdated, after, "tenant_id", "customer_id"), true
		case OpDelete:
			return event(EventCustomerDeleted, before, "tenant_id", "customer_id"), true
		}
		return Event{}, false
	case "refunds":
		if operation == OpInsert {
			return event(EventRefundProcessed, after, "tenant_id", "refund_id", "order_id"), true
		}
		return Event{}, false
	case "couriers":
		if operation == OpUpdate && str(before, "status") != str(after, "status") {
			ev := event(EventCourierStatusChanged, after, "tenant_id", "courier_id")
			ev.Metadata["old_status"] = str(before, "status")
			ev.Metadata["new_status"] = str(after, "status")
			return ev, true
		}
		return Event{}, false
	case "menus":
		switch operation {
		case OpInsert:
			return event(EventMenuPublished, after, "tenant_id", "menu_id"), true
		case OpUpdate:
			if str(before, "published") != "true" && str(after, "published") == "true" {
				return event(EventMenuPublished, after, "tenant_id", "menu_id"), true
			}
			return event(EventMenuUpdated, after, "tenant_id", "menu_id"), true
		}
		return Event{}, false
	case "shifts":
		switch operation {
		case OpInsert:
			return event(EventShiftStarted, after, "tenant_id", "shift_id"), true
		case OpUpdate:
			if str(before, "ended_at") == "" && str(after, "ended_at") != "" {
				return event(EventShiftEnded, after, "tenant_id", "shift_id"), true
			}
		}
		return Event{}, false
	}
	// Untracked or deprecated tables (invoices, deliveries, ...): no event.
	return Event{}, false
}

func classifyOrder(operation string, before, after map[string]any) (Event, bool) {
	switch operation {
	case OpInsert:
		return event(EventOrderCreated, after, "tenant_id", "order_id", "customer_id", "status"), true
	case OpUpdate:
		// A status transition outranks a generic field change.
		if str(before, "status") != str(after, "status") {
			ev := event(EventOrderStatusChanged, after, "tenant_id", "order_id")
			ev.Metadata["old_status"] = str(before, "status")
			ev.Metadata["new_status"] = str(after, "status")
			return ev, true
		}
		return event(EventOrderUpdated, after, "tenant_id", "order_id"), true
	case OpDelete:
		return event(EventOrderDeleted, before, "tenant_id", "order_id"), true
	}
	return Event{}, false
}

// event builds an Event, copying the named id fields out of the record.
func event(name string, record map[string]any, keys ...string) Event {
	meta := make(map[string]string, len(keys))
	for _, k := range keys {
		if v := str(record, k); v != "" {
			meta[k] = v
		}
	}
	return Event{Name: name, Metadata: meta}
}

func str(record map[string]any, key string) string {
	if record == nil {
		return ""
	}
	v, ok := record[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case bool:
		if s {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(v)
	}
}
