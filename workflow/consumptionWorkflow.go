package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/fieldfocus/fieldops_backend/config"
	"github.com/fieldfocus/fieldops_backend/models"
	"github.com/fieldfocus/fieldops_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConsumeInput struct {
	JobId         int             `json:"job_id" binding:"required"`
	AllocationId  *int            `json:"allocation_id"`
	ItemId        *int            `json:"item_id"`
	Description   string          `json:"description"`
	LocationId    int             `json:"location_id" binding:"required"`
	Qty           decimal.Decimal `json:"qty"`
	AllowOverride bool            `json:"allow_override"`
	OverrideNote  string          `json:"override_note"`
	Notes         string          `json:"notes"`
}

// ConsumeStock records actual usage on a job and, when the consumed item is
// tracked, decrements the consuming location through a job-usage movement.
// The consumption row, the movement, and the quantity update commit as one
// transaction.
// Drawing more than an allocation's remainder is a soft block with the same
// override contract as Allocate.
func ConsumeStock(ctx context.Context, logger *logrus.Logger, actor models.Actor, input *ConsumeInput) (*models.Consumption, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if !input.Qty.IsPositive() {
		return nil, &models.ValidationError{Field: "qty", Reason: "consumption qty must be positive"}
	}
	if input.AllocationId == nil {
		hasItem := input.ItemId != nil && *input.ItemId > 0
		hasDescription := strings.TrimSpace(input.Description) != ""
		if hasItem == hasDescription {
			return nil, &models.ValidationError{Field: "item_id", Reason: "unallocated usage needs exactly one of item_id and description"}
		}
	}
	if input.AllowOverride && strings.TrimSpace(input.OverrideNote) == "" {
		return nil, &models.ValidationError{Field: "override_note", Reason: "override confirmation note is required"}
	}

	location, err := physicalLocation(ctx, input.LocationId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var consumption *models.Consumption
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireBusinessPostingLock(tx, businessId); err != nil {
			return err
		}
		defer ReleaseBusinessPostingLock(tx, businessId)

		itemId := input.ItemId
		description := input.Description
		if input.AllocationId != nil {
			var allocation models.Allocation
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("business_id = ? AND id = ?", businessId, *input.AllocationId).
				First(&allocation).Error; err != nil {
				return errors.New("allocation not found")
			}
			if allocation.Status == models.AllocationStatusReleased {
				return &models.ValidationError{Field: "allocation_id", Reason: "allocation is released"}
			}

			consumed, err := models.ConsumedSum(tx, businessId, allocation.ID)
			if err != nil {
				return err
			}
			attempted := consumed.Add(input.Qty)
			if attempted.GreaterThan(allocation.Qty) && !input.AllowOverride {
				return &models.OverConsumption{
					AllocationId:   allocation.ID,
					Allocated:      allocation.Qty,
					AttemptedTotal: attempted,
				}
			}
			itemId = allocation.ItemId
			if description == "" {
				description = allocation.Description
			}
		}

		consumption = &models.Consumption{
			BusinessId:   businessId,
			JobId:        input.JobId,
			AllocationId: input.AllocationId,
			ItemId:       itemId,
			Description:  description,
			Qty:          input.Qty,
			ActorId:      actor.Id,
			ActorName:    actor.Name,
			Notes:        input.Notes,
		}
		if input.AllowOverride {
			note := input.OverrideNote
			consumption.OverrideNote = &note
		}
		if err := tx.Create(consumption).Error; err != nil {
			return err
		}

		// Ad-hoc free-text consumption has no tracked balance to decrement.
		if itemId == nil {
			return nil
		}

		item, err := utils.FetchModel[models.Item](ctx, businessId, *itemId)
		if err != nil {
			return errors.New("item not found")
		}
		quantity, err := models.FirstOrCreateQuantity(tx, businessId, *itemId, input.LocationId, item.Name, location.Name)
		if err != nil {
			return err
		}
		if _, err := models.ApplyQuantityDelta(tx, quantity, input.Qty.Neg()); err != nil {
			return err
		}

		movement := &models.Movement{
			BusinessId:     businessId,
			ItemId:         *itemId,
			FromLocationId: &input.LocationId,
			Qty:            input.Qty,
			Source:         models.MovementSourceJobUsage,
			ReferenceType:  models.MovementReferenceJob,
			ReferenceId:    input.JobId,
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
		return nil, err
	}
	return consumption, nil
}
