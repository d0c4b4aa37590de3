package orders

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/commercekit/inventory-core/internal/inventory"
	"github.com/commercekit/inventory-core/internal/storage"
	apperrors "github.com/commercekit/inventory-core/pkg/errors"
)

// ChangeSink receives raw mutations for classification and fan-out.
type ChangeSink interface {
	PublishChange(table, operation string, before, after map[string]any)
}

// CreateOrderInput is the input for CreateOrder.
type CreateOrderInput struct {
	TenantID    string
	CustomerRef string
	AutoConfirm bool
	// ReserveTTL > 0 creates a stock reservation for a pending order.
	ReserveTTL time.Duration
	Items      []OrderItem
}

// UseCase contains the order business logic, including the order-inventory
// synchronizer: ledger side effects are explicit transition functions invoked
// from the order-update code path, never storage-layer hooks.
type UseCase struct {
	repository Repository
	ledger     inventory.Repository
	reserver   *inventory.UseCase
	changes    ChangeSink
	tracer     trace.Tracer
	logger     *zap.Logger
}

// NewUseCase creates a new order UseCase.
func NewUseCase(
	repository Repository,
	ledger inventory.Repository,
	reserver *inventory.UseCase,
	changes ChangeSink,
	tracer trace.Tracer,
	logger *zap.Logger,
) *UseCase {
	return &UseCase{
		repository: repository,
		ledger:     ledger,
		reserver:   reserver,
		changes:    changes,
		tracer:     tracer,
		logger:     logger,
	}
}

// CreateOrder validates the customer tenant match, computes the subtotal and
// inserts the order at pending or confirmed per AutoConfirm. The
// direct-confirm path runs the confirm-side ledger decrement at creation.
// With ReserveTTL set, a reservation is created for the pending order; an
// InsufficientStock failure leaves the order pending and is returned together
// with the order id.
func (uc *UseCase) CreateOrder(ctx context.Context, in CreateOrderInput) (string, error) {
	ctx, span := uc.tracer.Start(ctx, "orders.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", in.TenantID),
		attribute.Bool("auto_confirm", in.AutoConfirm),
		attribute.Int("item_count", len(in.Items)),
	)

	if len(in.Items) == 0 {
		return "", apperrors.NewValidationError("order requires at least one item", "items")
	}
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return "", apperrors.NewValidationError("quantity must be positive", "items.quantity")
		}
	}

	// Cross-tenant customer references are a hard validation failure,
	// rejected before any mutation.
	if in.CustomerRef != "" {
		customer, err := uc.repository.GetCustomer(ctx, in.CustomerRef)
		if err != nil {
			if err == ErrCustomerNotFound {
				return "", apperrors.NewValidationError("customer does not exist", "customer_ref")
			}
			return "", apperrors.NewDatabaseError("get customer", err)
		}
		if customer.TenantID != in.TenantID {
			return "", apperrors.NewInvalidTenantReference("Customer", in.CustomerRef, in.TenantID)
		}
	}

	order := NewOrder(in.TenantID, in.CustomerRef, in.Items, in.AutoConfirm)

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return "", apperrors.NewDatabaseError("begin create order", err)
	}
	defer tx.Rollback()

	if err := uc.repository.CreateOrder(ctx, tx, order); err != nil {
		return "", apperrors.NewDatabaseError("create order", err)
	}

	if in.AutoConfirm {
		if err := uc.applyConfirmDecrement(ctx, tx, order); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", apperrors.NewDatabaseError("commit create order", err)
	}

	uc.logger.Info("order created",
		zap.String("tenant_id", order.TenantID),
		zap.String("order_id", order.ID),
		zap.String("status", order.Status),
		zap.Int64("subtotal", order.Subtotal),
	)
	if uc.changes != nil {
		uc.changes.PublishChange("orders", "insert", nil, orderRecord(order))
	}

	if !in.AutoConfirm && in.ReserveTTL > 0 {
		items := make([]inventory.ReservationItem, 0, len(order.Items))
		for _, it := range order.Items {
			items = append(items, inventory.ReservationItem{ItemID: it.ItemID, Quantity: it.Quantity})
		}
		if _, err := uc.reserver.Reserve(ctx, order.TenantID, order.ID, items, in.ReserveTTL); err != nil {
			// The order stays pending and unconfirmed; the caller sees
			// the stock failure together with the created order id.
			return order.ID, err
		}
	}

	return order.ID, nil
}

// ConfirmOrder drives the pending → confirmed transition. Confirming an
// already-confirmed order is a no-op; any other starting state is rejected
// with no mutation.
func (uc *UseCase) ConfirmOrder(ctx context.Context, tenantID, orderID string) error {
	ctx, span := uc.tracer.Start(ctx, "orders.confirm")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("order_id", orderID),
	)

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return apperrors.NewDatabaseError("begin confirm", err)
	}
	defer tx.Rollback()

	order, err := uc.repository.GetOrderForUpdate(ctx, tx, tenantID, orderID)
	if err != nil {
		if err == ErrOrderNotFound {
			return apperrors.NewOrderNotFound(orderID)
		}
		return apperrors.NewDatabaseError("lock order", err)
	}

	if order.Status == OrderStatusConfirmed {
		// Idempotent against replays: the decrement already fired.
		uc.logger.Info("confirm skipped, order already confirmed", zap.String("order_id", orderID))
		return nil
	}
	if !CanTransition(order.Status, OrderStatusConfirmed) {
		return apperrors.NewInvalidStateTransition(order.Status, OrderStatusConfirmed)
	}

	// A pending reservation already holds the stock: fulfill it and leave
	// the ledger untouched. Without one, this is the direct-confirm
	// decrement path.
	reservation, err := uc.ledger.GetPendingReservationForUpdate(ctx, tx, tenantID, orderID)
	if err != nil {
		return apperrors.NewDatabaseError("get pending reservation", err)
	}
	if reservation != nil {
		if err := uc.ledger.UpdateReservationStatus(ctx, tx, reservation.ID, inventory.ReservationStatusFulfilled); err != nil {
			return apperrors.NewDatabaseError("fulfill reservation", err)
		}
	} else {
		if err := uc.applyConfirmDecrement(ctx, tx, order); err != nil {
			return err
		}
	}

	before := orderRecord(order)
	if err := uc.repository.UpdateOrderStatus(ctx, tx, order.ID, OrderStatusConfirmed, ""); err != nil {
		return apperrors.NewDatabaseError("update order status", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("commit confirm", err)
	}

	uc.logger.Info("order confirmed",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", orderID),
		zap.Bool("via_reservation", reservation != nil),
	)
	order.Status = OrderStatusConfirmed
	if uc.changes != nil {
		uc.changes.PublishChange("orders", "update", before, orderRecord(order))
	}
	return nil
}

// CancelOrder cancels an order. A confirmed order restores the quantities
// its movement records show as decremented; a pending order never touched
// the ledger, so the synchronizer leaves it alone and only the pending
// reservation (if any) is released through the reservation manager.
func (uc *UseCase) CancelOrder(ctx context.Context, tenantID, orderID, reason string) error {
	ctx, span := uc.tracer.Start(ctx, "orders.cancel")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("order_id", orderID),
	)

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return apperrors.NewDatabaseError("begin cancel", err)
	}
	defer tx.Rollback()

	order, err := uc.repository.GetOrderForUpdate(ctx, tx, tenantID, orderID)
	if err != nil {
		if err == ErrOrderNotFound {
			return apperrors.NewOrderNotFound(orderID)
		}
		return apperrors.NewDatabaseError("lock order", err)
	}

	if order.Status == OrderStatusCancelled {
		uc.logger.Info("cancel skipped, order already cancelled", zap.String("order_id", orderID))
		return nil
	}
	if !CanTransition(order.Status, OrderStatusCancelled) {
		return apperrors.NewInvalidStateTransition(order.Status, OrderStatusCancelled)
	}

	wasConfirmed := order.Status == OrderStatusConfirmed

	if wasConfirmed {
		for _, it := range order.Items {
			// A clamped confirm decremented less than the ordered
			// quantity; restore only what the movements record, not
			// the item quantity.
			net, err := uc.ledger.NetMovementForItem(ctx, tx, order.ID, it.ItemID)
			if err != nil {
				return apperrors.NewDatabaseError("sum movements", err)
			}
			restore := -net
			if restore <= 0 {
				continue
			}
			if err := uc.ledger.AdjustStock(ctx, tx, tenantID, it.ItemID, restore); err != nil {
				return apperrors.NewDatabaseError("restore stock", err)
			}
			movement := inventory.NewStockMovement(tenantID, it.ItemID, order.ID, "",
				restore, inventory.MovementTypeCancelRestore, reason)
			if err := uc.ledger.InsertMovement(ctx, tx, movement); err != nil {
				return apperrors.NewDatabaseError("insert movement", err)
			}
		}
	} else {
		reservation, err := uc.ledger.GetPendingReservationForUpdate(ctx, tx, tenantID, orderID)
		if err != nil {
			return apperrors.NewDatabaseError("get pending reservation", err)
		}
		if reservation != nil {
			for _, it := range reservation.Items {
				if err := uc.ledger.AdjustStock(ctx, tx, tenantID, it.ItemID, it.Quantity); err != nil {
					return apperrors.NewDatabaseError("restore held stock", err)
				}
				movement := inventory.NewStockMovement(tenantID, it.ItemID, order.ID, reservation.ID,
					it.Quantity, inventory.MovementTypeReleaseRestore, reason)
				if err := uc.ledger.InsertMovement(ctx, tx, movement); err != nil {
					return apperrors.NewDatabaseError("insert movement", err)
				}
			}
			if err := uc.ledger.UpdateReservationStatus(ctx, tx, reservation.ID, inventory.ReservationStatusReleased); err != nil {
				return apperrors.NewDatabaseError("release reservation", err)
			}
		}
	}

	before := orderRecord(order)
	if err := uc.repository.UpdateOrderStatus(ctx, tx, order.ID, OrderStatusCancelled, reason); err != nil {
		return apperrors.NewDatabaseError("update order status", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("commit cancel", err)
	}

	uc.logger.Info("order cancelled",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", orderID),
		zap.Bool("restored_ledger", wasConfirmed),
		zap.String("reason", reason),
	)
	order.Status = OrderStatusCancelled
	if uc.changes != nil {
		uc.changes.PublishChange("orders", "update", before, orderRecord(order))
	}
	return nil
}

// ManualResync re-applies the confirm decrement for an order suspected to
// have missed automatic synchronization. The movement record doubles as an
// idempotency marker, so repeated invocations converge: items whose decrement
// is already on record are skipped. Returns the number of items processed.
func (uc *UseCase) ManualResync(ctx context.Context, tenantID, orderID string) (int, error) {
	ctx, span := uc.tracer.Start(ctx, "orders.manual_resync")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("order_id", orderID),
	)

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return 0, apperrors.NewDatabaseError("begin resync", err)
	}
	defer tx.Rollback()

	order, err := uc.repository.GetOrderForUpdate(ctx, tx, tenantID, orderID)
	if err != nil {
		if err == ErrOrderNotFound {
			return 0, apperrors.NewOrderNotFound(orderID)
		}
		return 0, apperrors.NewDatabaseError("lock order", err)
	}
	if order.Status != OrderStatusConfirmed && order.Status != OrderStatusFulfilled {
		return 0, apperrors.NewInvalidStateTransition(order.Status, "resync")
	}

	processed := 0
	for _, it := range order.Items {
		synced, err := uc.ledger.HasDecrementMovementForItem(ctx, tx, order.ID, it.ItemID)
		if err != nil {
			return 0, apperrors.NewDatabaseError("check movement", err)
		}
		if synced {
			continue
		}
		if err := uc.decrementClamped(ctx, tx, tenantID, order.ID, "", it.ItemID, it.Quantity,
			inventory.MovementTypeManualResync, "manual resync"); err != nil {
			return 0, err
		}
		processed++
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.NewDatabaseError("commit resync", err)
	}

	uc.logger.Info("order resynced",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", orderID),
		zap.Int("items_processed", processed),
	)
	if processed > 0 && uc.changes != nil {
		uc.changes.PublishChange("orders", "update", orderRecord(order), orderRecord(order))
	}
	return processed, nil
}

// GetOrder returns an order with its items.
func (uc *UseCase) GetOrder(ctx context.Context, tenantID, orderID string) (*Order, error) {
	order, err := uc.repository.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		if err == ErrOrderNotFound {
			return nil, apperrors.NewOrderNotFound(orderID)
		}
		return nil, apperrors.NewDatabaseError("get order", err)
	}
	return order, nil
}

// applyConfirmDecrement runs the direct-confirm ledger decrement for every
// order item, guarded exactly-once by the movement record.
func (uc *UseCase) applyConfirmDecrement(ctx context.Context, tx storage.Tx, order *Order) error {
	for _, it := range order.Items {
		synced, err := uc.ledger.HasDecrementMovementForItem(ctx, tx, order.ID, it.ItemID)
		if err != nil {
			return apperrors.NewDatabaseError("check movement", err)
		}
		if synced {
			continue
		}
		if err := uc.decrementClamped(ctx, tx, order.TenantID, order.ID, "", it.ItemID, it.Quantity,
			inventory.MovementTypeOrderConfirmed, "order confirmed"); err != nil {
			return err
		}
	}
	return nil
}

// decrementClamped decrements one item under a row lock, clamping at zero.
// The clamp is a last-resort safety net: this path should only run after a
// successful reservation or with verified stock, so a clamp is logged as a
// defect signal.
func (uc *UseCase) decrementClamped(ctx context.Context, tx storage.Tx, tenantID, orderID, reservationID, itemID string, qty int, movementType, reason string) error {
	stock, err := uc.ledger.GetItemForUpdate(ctx, tx, tenantID, itemID)
	if err != nil {
		if err == inventory.ErrItemNotFound {
			return apperrors.NewItemNotFound(tenantID, itemID)
		}
		return apperrors.NewDatabaseError("lock stock item", err)
	}

	delta := qty
	if stock.OnHandQuantity < qty {
		uc.logger.Error("confirm decrement clamped at zero",
			zap.String("tenant_id", tenantID),
			zap.String("order_id", orderID),
			zap.String("item_id", itemID),
			zap.Int("on_hand", stock.OnHandQuantity),
			zap.Int("requested", qty),
		)
		delta = stock.OnHandQuantity
	}
	if delta > 0 {
		if err := uc.ledger.AdjustStock(ctx, tx, tenantID, itemID, -delta); err != nil {
			return apperrors.NewDatabaseError("decrement stock", err)
		}
	}

	movement := inventory.NewStockMovement(tenantID, itemID, orderID, reservationID,
		-delta, movementType, reason)
	if err := uc.ledger.InsertMovement(ctx, tx, movement); err != nil {
		return apperrors.NewDatabaseError("insert movement", err)
	}
	return nil
}

func orderRecord(order *Order) map[string]any {
	return map[string]any{
		"order_id":    order.ID,
		"tenant_id":   order.TenantID,
		"customer_id": order.CustomerID,
		"status":      order.Status,
		"subtotal":    order.Subtotal,
	}
}
