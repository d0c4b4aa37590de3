package inventory

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	apperrors "github.com/commercekit/inventory-core/pkg/errors"
)

// Reaper reclaims reservations past their deadline. Selection uses
// FOR UPDATE SKIP LOCKED, so concurrent sweeps never block each other or
// double-process a reservation, and a sweep never stalls new reservations.
type Reaper struct {
	usecase   *UseCase
	batchSize int
	expired   metric.Int64Counter
	logger    *zap.Logger
}

// NewReaper creates a Reaper over the inventory use case.
func NewReaper(usecase *UseCase, batchSize int, logger *zap.Logger) *Reaper {
	if batchSize <= 0 {
		batchSize = 100
	}
	meter := otel.Meter("inventory-core")
	expired, _ := meter.Int64Counter("reservations.expired",
		metric.WithDescription("reservations reclaimed by the expiry sweep"))
	return &Reaper{
		usecase:   usecase,
		batchSize: batchSize,
		expired:   expired,
		logger:    logger,
	}
}

// Sweep expires every pending reservation whose deadline has passed and
// restores its held quantities. Returns the number of reservations expired.
// Re-entrant: processed reservations are terminal and skipped next run;
// a crash mid-sweep leaves unprocessed rows pending and eligible again.
func (rp *Reaper) Sweep(ctx context.Context) (int, error) {
	uc := rp.usecase
	total := 0

	for {
		ctx, span := uc.tracer.Start(ctx, "inventory.expiry_sweep_batch")

		tx, err := uc.repository.BeginTx(ctx)
		if err != nil {
			span.End()
			return total, apperrors.NewDatabaseError("begin sweep", err)
		}

		batch, err := uc.repository.SelectExpiredForUpdate(ctx, tx, rp.batchSize)
		if err != nil {
			tx.Rollback()
			span.End()
			return total, apperrors.NewDatabaseError("select expired reservations", err)
		}
		if len(batch) == 0 {
			tx.Rollback()
			span.End()
			return total, nil
		}

		for _, reservation := range batch {
			if err := uc.restoreHeld(ctx, tx, reservation, MovementTypeExpiryRestore, "reservation expired"); err != nil {
				tx.Rollback()
				span.End()
				return total, err
			}
			if err := uc.repository.UpdateReservationStatus(ctx, tx, reservation.ID, ReservationStatusExpired); err != nil {
				tx.Rollback()
				span.End()
				return total, apperrors.NewDatabaseError("mark reservation expired", err)
			}
			rp.logger.Info("reservation expired",
				zap.String("tenant_id", reservation.TenantID),
				zap.String("reservation_id", reservation.ID),
				zap.String("order_id", reservation.OrderID),
			)
		}

		if err := tx.Commit(); err != nil {
			span.End()
			return total, apperrors.NewDatabaseError("commit sweep", err)
		}

		for _, reservation := range batch {
			uc.publishAdjustments(reservation.TenantID, reservation.Items, 1)
		}
		total += len(batch)
		rp.expired.Add(ctx, int64(len(batch)), metric.WithAttributes(
			attribute.Int("batch_size", len(batch)),
		))
		span.End()

		if len(batch) < rp.batchSize {
			return total, nil
		}
	}
}
