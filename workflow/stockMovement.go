package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/fieldfocus/fieldops_backend/config"
	"github.com/fieldfocus/fieldops_backend/models"
	"github.com/fieldfocus/fieldops_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ReceiptInput struct {
	ItemId              int             `json:"item_id" binding:"required"`
	LocationId          int             `json:"location_id" binding:"required"`
	Qty                 decimal.Decimal `json:"qty"`
	PurchaseOrderId     *int            `json:"purchase_order_id"`
	PurchaseOrderLineId *int            `json:"purchase_order_line_id"`
	Notes               string          `json:"notes"`
}

type TransferInput struct {
	ItemId         int             `json:"item_id" binding:"required"`
	FromLocationId int             `json:"from_location_id" binding:"required"`
	ToLocationId   int             `json:"to_location_id" binding:"required"`
	Qty            decimal.Decimal `json:"qty"`
	Notes          string          `json:"notes"`
}

type AdjustmentInput struct {
	ItemId     int             `json:"item_id" binding:"required"`
	LocationId int             `json:"location_id" binding:"required"`
	Delta      decimal.Decimal `json:"delta"`
	Source     string          `json:"source"`
	Reason     string          `json:"reason"`
	Notes      string          `json:"notes"`
}

// physicalLocation fetches a location and rejects non-physical ones; every
// movement endpoint goes through the registry's predicate.
func physicalLocation(ctx context.Context, locationId int) (*models.Location, error) {
	location, err := models.GetLocation(ctx, locationId)
	if err != nil {
		return nil, errors.New("location not found")
	}
	if !location.IsPhysicalLocation() {
		return nil, &models.ValidationError{Field: "location_id", Reason: "location is not an active physical location"}
	}
	return location, nil
}

// RecordReceipt increments a location's balance and appends a receipt
// movement, one atomic unit. When a purchase order line is referenced, its
// received quantity advances with the same transaction.
func RecordReceipt(ctx context.Context, logger *logrus.Logger, actor models.Actor, input *ReceiptInput) (*models.Movement, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if !input.Qty.IsPositive() {
		return nil, &models.ValidationError{Field: "qty", Reason: "receipt qty must be positive"}
	}

	item, err := models.GetItem(ctx, input.ItemId)
	if err != nil {
		return nil, errors.New("item not found")
	}
	location, err := physicalLocation(ctx, input.LocationId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var movement *models.Movement
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireBusinessPostingLock(tx, businessId); err != nil {
			return err
		}
		defer ReleaseBusinessPostingLock(tx, businessId)

		quantity, err := models.FirstOrCreateQuantity(tx, businessId, input.ItemId, input.LocationId, item.Name, location.Name)
		if err != nil {
			return err
		}
		if _, err := models.ApplyQuantityDelta(tx, quantity, input.Qty); err != nil {
			return err
		}

		referenceId := 0
		if input.PurchaseOrderId != nil {
			referenceId = *input.PurchaseOrderId
		}
		movement = &models.Movement{
			BusinessId:    businessId,
			ItemId:        input.ItemId,
			ToLocationId:  &input.LocationId,
			Qty:           input.Qty,
			Source:        models.MovementSourceReceipt,
			ReferenceType: models.MovementReferencePurchaseOrder,
			ReferenceId:   referenceId,
			ActorId:       actor.Id,
			ActorName:     actor.Name,
			Notes:         input.Notes,
			ItemName:      item.Name,
			CorrelationId: correlationIdFromContext(ctx),
		}
		if _, err := models.AppendMovement(tx, logger, movement); err != nil {
			return err
		}

		if input.PurchaseOrderLineId != nil {
			if err := tx.Model(&models.PurchaseOrderLine{}).
				Where("business_id = ? AND id = ?", businessId, *input.PurchaseOrderLineId).
				Update("received_qty", gorm.Expr("received_qty + ?", input.Qty)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		config.LogError(logger, "stockMovement.go", "RecordReceipt", "Transaction", input, err)
		return nil, err
	}
	return movement, nil
}

// RecordTransfer moves quantity between two physical locations: both
// balance rows locked in deterministic order, one movement appended, all in
// one transaction. Fails with InsufficientStock when the source is short.
func RecordTransfer(ctx context.Context, logger *logrus.Logger, actor models.Actor, input *TransferInput) (*models.Movement, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if !input.Qty.IsPositive() {
		return nil, &models.ValidationError{Field: "qty", Reason: "transfer qty must be positive"}
	}
	if input.FromLocationId == input.ToLocationId {
		return nil, &models.ValidationError{Field: "to_location_id", Reason: "source and destination must differ"}
	}

	item, err := models.GetItem(ctx, input.ItemId)
	if err != nil {
		return nil, errors.New("item not found")
	}
	source, err := physicalLocation(ctx, input.FromLocationId)
	if err != nil {
		return nil, err
	}
	destination, err := physicalLocation(ctx, input.ToLocationId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var movement *models.Movement
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireBusinessPostingLock(tx, businessId); err != nil {
			return err
		}
		defer ReleaseBusinessPostingLock(tx, businessId)

		// Lock both rows in ascending location order so two opposing
		// transfers cannot deadlock.
		first, second := source, destination
		if second.ID < first.ID {
			first, second = second, first
		}
		firstQty, err := models.FirstOrCreateQuantity(tx, businessId, input.ItemId, first.ID, item.Name, first.Name)
		if err != nil {
			return err
		}
		secondQty, err := models.FirstOrCreateQuantity(tx, businessId, input.ItemId, second.ID, item.Name, second.Name)
		if err != nil {
			return err
		}
		sourceQty, destQty := firstQty, secondQty
		if first.ID != source.ID {
			sourceQty, destQty = secondQty, firstQty
		}

		if _, err := models.ApplyQuantityDelta(tx, sourceQty, input.Qty.Neg()); err != nil {
			return err
		}
		if _, err := models.ApplyQuantityDelta(tx, destQty, input.Qty); err != nil {
			return err
		}

		movement = &models.Movement{
			BusinessId:     businessId,
			ItemId:         input.ItemId,
			FromLocationId: &source.ID,
			ToLocationId:   &destination.ID,
			Qty:            input.Qty,
			Source:         models.MovementSourceTransfer,
			ReferenceType:  models.MovementReferenceTransfer,
			ActorId:        actor.Id,
			ActorName:      actor.Name,
			Notes:          input.Notes,
			ItemName:       item.Name,
			CorrelationId:  correlationIdFromContext(ctx),
		}
		if _, err := models.AppendMovement(tx, logger, movement); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		config.LogError(logger, "stockMovement.go", "RecordTransfer", "Transaction", input, err)
		return nil, err
	}
	return movement, nil
}

// RecordAdjustment applies a signed delta with a mandatory reason. Source
// must be adjustment or correction; returns of consumed stock come through
// here as corrections, never as negative consumptions.
func RecordAdjustment(ctx context.Context, logger *logrus.Logger, actor models.Actor, input *AdjustmentInput) (*models.Movement, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if input.Delta.IsZero() {
		return nil, &models.ValidationError{Field: "delta", Reason: "adjustment delta must be non-zero"}
	}
	if strings.TrimSpace(input.Reason) == "" {
		return nil, &models.ValidationError{Field: "reason", Reason: "adjustment reason is required"}
	}
	source := models.MovementSource(input.Source)
	if source != models.MovementSourceAdjustment && source != models.MovementSourceCorrection {
		return nil, &models.ValidationError{Field: "source", Reason: "source must be adjustment or correction"}
	}

	item, err := models.GetItem(ctx, input.ItemId)
	if err != nil {
		return nil, errors.New("item not found")
	}
	location, err := physicalLocation(ctx, input.LocationId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var movement *models.Movement
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireBusinessPostingLock(tx, businessId); err != nil {
			return err
		}
		defer ReleaseBusinessPostingLock(tx, businessId)

		quantity, err := models.FirstOrCreateQuantity(tx, businessId, input.ItemId, input.LocationId, item.Name, location.Name)
		if err != nil {
			return err
		}
		if _, err := models.ApplyQuantityDelta(tx, quantity, input.Delta); err != nil {
			return err
		}

		movement = &models.Movement{
			BusinessId:    businessId,
			ItemId:        input.ItemId,
			Qty:           input.Delta.Abs(),
			Source:        source,
			ReferenceType: models.MovementReferenceManual,
			ActorId:       actor.Id,
			ActorName:     actor.Name,
			Notes:         joinNotes(input.Reason, input.Notes),
			ItemName:      item.Name,
			CorrelationId: correlationIdFromContext(ctx),
		}
		if input.Delta.IsPositive() {
			movement.ToLocationId = &input.LocationId
		} else {
			movement.FromLocationId = &input.LocationId
		}
		if _, err := models.AppendMovement(tx, logger, movement); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		config.LogError(logger, "stockMovement.go", "RecordAdjustment", "Transaction", input, err)
		return nil, err
	}
	return movement, nil
}

func joinNotes(reason string, notes string) string {
	if strings.TrimSpace(notes) == "" {
		return reason
	}
	return reason + "; " + notes
}

func correlationIdFromContext(ctx context.Context) string {
	if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
		return v
	}
	return uuid.NewString()
}
