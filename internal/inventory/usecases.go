package inventory

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/commercekit/inventory-core/internal/storage"
	apperrors "github.com/commercekit/inventory-core/pkg/errors"
)

// ChangeSink receives raw mutations for classification and fan-out.
// Implemented by the events registry; a nil sink disables propagation.
type ChangeSink interface {
	PublishChange(table, operation string, before, after map[string]any)
}

// UseCase contains the stock ledger and reservation manager business logic.
type UseCase struct {
	repository Repository
	changes    ChangeSink
	tracer     trace.Tracer
	logger     *zap.Logger
}

// NewUseCase creates a new inventory UseCase.
func NewUseCase(repository Repository, changes ChangeSink, tracer trace.Tracer, logger *zap.Logger) *UseCase {
	return &UseCase{
		repository: repository,
		changes:    changes,
		tracer:     tracer,
		logger:     logger,
	}
}

// Reserve creates a time-bounded hold for an order. For each item it
// atomically checks on_hand_quantity >= quantity and decrements it, all under
// per-row exclusive locks, or fails the whole reservation with no partial
// decrement.
func (uc *UseCase) Reserve(ctx context.Context, tenantID, orderID string, items []ReservationItem, ttl time.Duration) (*Reservation, error) {
	ctx, span := uc.tracer.Start(ctx, "inventory.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("order_id", orderID),
		attribute.Int("item_count", len(items)),
	)

	if len(items) == 0 {
		return nil, apperrors.NewValidationError("reservation requires at least one item", "items")
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, apperrors.NewValidationError("quantity must be positive", "items.quantity")
		}
	}

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("begin reserve", err)
	}
	defer tx.Rollback()

	// Stable lock order across concurrent reservations.
	sorted := make([]ReservationItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ItemID < sorted[j].ItemID })

	reservation := NewReservation(tenantID, orderID, items, ttl)

	for _, it := range sorted {
		stock, err := uc.repository.GetItemForUpdate(ctx, tx, tenantID, it.ItemID)
		if err != nil {
			if err == ErrItemNotFound {
				return nil, apperrors.NewItemNotFound(tenantID, it.ItemID)
			}
			return nil, apperrors.NewDatabaseError("lock stock item", err)
		}
		if stock.Retired() {
			return nil, apperrors.NewValidationError("item is retired", "items.item_id")
		}
		if stock.OnHandQuantity < it.Quantity {
			uc.logger.Info("reservation rejected",
				zap.String("tenant_id", tenantID),
				zap.String("order_id", orderID),
				zap.String("item_id", it.ItemID),
				zap.Int("available", stock.OnHandQuantity),
				zap.Int("requested", it.Quantity),
			)
			return nil, apperrors.NewInsufficientStock(it.ItemID, stock.OnHandQuantity, it.Quantity)
		}

		if err := uc.repository.AdjustStock(ctx, tx, tenantID, it.ItemID, -it.Quantity); err != nil {
			return nil, apperrors.NewDatabaseError("decrement stock", err)
		}
		movement := NewStockMovement(tenantID, it.ItemID, orderID, reservation.ID,
			-it.Quantity, MovementTypeReserveHold, "reservation hold")
		if err := uc.repository.InsertMovement(ctx, tx, movement); err != nil {
			return nil, apperrors.NewDatabaseError("insert movement", err)
		}
	}

	if err := uc.repository.InsertReservation(ctx, tx, reservation); err != nil {
		return nil, apperrors.NewDatabaseError("insert reservation", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewDatabaseError("commit reserve", err)
	}

	uc.logger.Info("reservation created",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", orderID),
		zap.String("reservation_id", reservation.ID),
		zap.Time("expires_at", reservation.ExpiresAt),
	)
	uc.publishAdjustments(tenantID, items, -1)

	return reservation, nil
}

// Release restores exactly the quantities recorded on the reservation and
// marks it released. Releasing a reservation already in a terminal state is a
// logged no-op, never a double-restore.
func (uc *UseCase) Release(ctx context.Context, tenantID, reservationID string) error {
	ctx, span := uc.tracer.Start(ctx, "inventory.release")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("reservation_id", reservationID),
	)

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return apperrors.NewDatabaseError("begin release", err)
	}
	defer tx.Rollback()

	reservation, err := uc.repository.GetReservationForUpdate(ctx, tx, tenantID, reservationID)
	if err != nil {
		if err == ErrReservationNotFound {
			return apperrors.NewReservationNotFound(reservationID)
		}
		return apperrors.NewDatabaseError("lock reservation", err)
	}

	if reservation.IsTerminal() {
		uc.logger.Info("release skipped, reservation already terminal",
			zap.String("reservation_id", reservationID),
			zap.String("status", reservation.Status),
		)
		return nil
	}

	if err := uc.restoreHeld(ctx, tx, reservation, MovementTypeReleaseRestore, "explicit release"); err != nil {
		return err
	}
	if err := uc.repository.UpdateReservationStatus(ctx, tx, reservation.ID, ReservationStatusReleased); err != nil {
		return apperrors.NewDatabaseError("update reservation status", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("commit release", err)
	}

	uc.logger.Info("reservation released",
		zap.String("tenant_id", tenantID),
		zap.String("reservation_id", reservationID),
	)
	uc.publishAdjustments(tenantID, reservation.Items, 1)
	return nil
}

// StockItem stocks an item (creating it on first use) and returns the row.
func (uc *UseCase) StockItem(ctx context.Context, tenantID, itemID string, quantity int) (*StockItem, error) {
	ctx, span := uc.tracer.Start(ctx, "inventory.stock_item")
	defer span.End()

	if quantity < 0 {
		return nil, apperrors.NewValidationError("quantity must be non-negative", "quantity")
	}
	item, err := uc.repository.UpsertItem(ctx, tenantID, itemID, quantity)
	if err != nil {
		return nil, apperrors.NewDatabaseError("upsert stock item", err)
	}

	if uc.changes != nil {
		uc.changes.PublishChange("stock_items", "update", nil, map[string]any{
			"tenant_id":        item.TenantID,
			"item_id":          item.ItemID,
			"on_hand_quantity": item.OnHandQuantity,
		})
	}
	return item, nil
}

// GetItem returns the current ledger row for an item.
func (uc *UseCase) GetItem(ctx context.Context, tenantID, itemID string) (*StockItem, error) {
	item, err := uc.repository.GetItem(ctx, tenantID, itemID)
	if err != nil {
		if err == ErrItemNotFound {
			return nil, apperrors.NewItemNotFound(tenantID, itemID)
		}
		return nil, apperrors.NewDatabaseError("get stock item", err)
	}
	return item, nil
}

// RetireItem soft-retires an item so new reservations reject it.
func (uc *UseCase) RetireItem(ctx context.Context, tenantID, itemID string) error {
	err := uc.repository.RetireItem(ctx, tenantID, itemID)
	if err != nil {
		if err == ErrItemNotFound {
			return apperrors.NewItemNotFound(tenantID, itemID)
		}
		return apperrors.NewDatabaseError("retire stock item", err)
	}
	return nil
}

// restoreHeld puts a reservation's held quantities back on the ledger and
// writes the matching movements. Caller owns the transaction.
func (uc *UseCase) restoreHeld(ctx context.Context, tx storage.Tx, reservation *Reservation, movementType, reason string) error {
	for _, it := range reservation.Items {
		if err := uc.repository.AdjustStock(ctx, tx, reservation.TenantID, it.ItemID, it.Quantity); err != nil {
			return apperrors.NewDatabaseError("restore stock", err)
		}
		movement := NewStockMovement(reservation.TenantID, it.ItemID, reservation.OrderID,
			reservation.ID, it.Quantity, movementType, reason)
		if err := uc.repository.InsertMovement(ctx, tx, movement); err != nil {
			return apperrors.NewDatabaseError("insert movement", err)
		}
	}
	return nil
}

// publishAdjustments emits one inventory change per item after commit.
// sign is -1 for holds and +1 for restores.
func (uc *UseCase) publishAdjustments(tenantID string, items []ReservationItem, sign int) {
	if uc.changes == nil {
		return
	}
	for _, it := range items {
		uc.changes.PublishChange("stock_items", "update", nil, map[string]any{
			"tenant_id": tenantID,
			"item_id":   it.ItemID,
			"delta":     sign * it.Quantity,
		})
	}
}
