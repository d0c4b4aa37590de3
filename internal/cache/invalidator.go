package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/commercekit/inventory-core/internal/events"
)

// Invalidator subscribes to invalidation events and evicts the matching
// read-cache keys. It is the concrete consumer of the classifier's output:
// mutation → classified event → key-pattern delete.
type Invalidator struct {
	cache  Cache
	logger *zap.Logger
}

// NewInvalidator creates an Invalidator over a cache.
func NewInvalidator(cache Cache, logger *zap.Logger) *Invalidator {
	return &Invalidator{cache: cache, logger: logger}
}

// Register subscribes the invalidator to the registry. The returned func
// removes every subscription (teardown).
func (inv *Invalidator) Register(registry *events.Registry) func() {
	type rule struct {
		event   string
		pattern func(meta map[string]string) string
	}

	byTenant := func(segment string) func(map[string]string) string {
		return func(meta map[string]string) string {
			return fmt.Sprintf("tenant:%s:%s:*", meta["tenant_id"], segment)
		}
	}

	rules := []rule{
		{events.EventOrderCreated, byTenant("orders")},
		{events.EventOrderStatusChanged, byTenant("orders")},
		{events.EventOrderUpdated, byTenant("orders")},
		{events.EventOrderDeleted, byTenant("orders")},
		{events.EventInventoryAdjusted, byTenant("stock")},
		{events.EventInventoryTransferCompleted, byTenant("stock")},
		{events.EventProductUpdated, byTenant("products")},
		{events.EventCustomerCreated, byTenant("customers")},
		{events.EventCustomerUpdated, byTenant("customers")},
		{events.EventCustomerDeleted, byTenant("customers")},
		{events.EventRefundProcessed, byTenant("orders")},
		{events.EventCourierStatusChanged, byTenant("couriers")},
		{events.EventMenuPublished, byTenant("menus")},
		{events.EventMenuUpdated, byTenant("menus")},
		{events.EventShiftStarted, byTenant("shifts")},
		{events.EventShiftEnded, byTenant("shifts")},
	}

	unsubs := make([]func(), 0, len(rules))
	for _, rl := range rules {
		pattern := rl.pattern
		unsubs = append(unsubs, registry.Subscribe(rl.event, func(ev events.Event) {
			inv.evict(pattern(ev.Metadata), ev.Name)
		}))
	}

	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (inv *Invalidator) evict(pattern, eventName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := inv.cache.DeleteByPattern(ctx, pattern); err != nil {
		// Cache eviction is best-effort; the source of truth is the store.
		inv.logger.Warn("cache invalidation failed",
			zap.String("event", eventName),
			zap.String("pattern", pattern),
			zap.Error(err),
		)
		return
	}
	inv.logger.Debug("cache invalidated",
		zap.String("event", eventName),
		zap.String("pattern", pattern),
	)
}
