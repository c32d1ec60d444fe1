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

type AllocateInput struct {
	RequirementLineId *int            `json:"requirement_line_id"`
	JobId             int             `json:"job_id" binding:"required"`
	VisitId           *int            `json:"visit_id"`
	VehicleId         *int            `json:"vehicle_id"`
	ItemId            *int            `json:"item_id"`
	Description       string          `json:"description"`
	Qty               decimal.Decimal `json:"qty"`
	AllowOverride     bool            `json:"allow_override"`
	OverrideNote      string          `json:"override_note"`
}

// Allocate reserves quantity against a requirement line (or ad-hoc). The
// active-allocation sum is read under the line's row lock in the same
// transaction as the insert, so two concurrent callers cannot both see room
// under the limit. Exceeding the requirement is a soft block: re-invoke with
// allow_override and a note, and the note is persisted on the allocation.
func Allocate(ctx context.Context, logger *logrus.Logger, actor models.Actor, input *AllocateInput) (*models.Allocation, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if !input.Qty.IsPositive() {
		return nil, &models.ValidationError{Field: "qty", Reason: "allocation qty must be positive"}
	}
	if input.RequirementLineId == nil {
		hasItem := input.ItemId != nil && *input.ItemId > 0
		hasDescription := strings.TrimSpace(input.Description) != ""
		if hasItem == hasDescription {
			return nil, &models.ValidationError{Field: "item_id", Reason: "ad-hoc allocations need exactly one of item_id and description"}
		}
	}
	if input.AllowOverride && strings.TrimSpace(input.OverrideNote) == "" {
		return nil, &models.ValidationError{Field: "override_note", Reason: "override confirmation note is required"}
	}

	db := config.GetDB()
	var allocation *models.Allocation
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		itemId := input.ItemId
		if input.RequirementLineId != nil {
			var line models.RequirementLine
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("business_id = ? AND id = ?", businessId, *input.RequirementLineId).
				First(&line).Error; err != nil {
				return errors.New("requirement line not found")
			}
			if line.Status == models.RequirementStatusRemoved {
				return &models.ValidationError{Field: "requirement_line_id", Reason: "requirement line is removed"}
			}

			activeSum, err := models.ActiveAllocationSum(tx, businessId, line.ID)
			if err != nil {
				return err
			}
			attempted := activeSum.Add(input.Qty)
			if attempted.GreaterThan(line.QtyRequired) && !input.AllowOverride {
				return &models.OverAllocation{
					RequirementLineId: line.ID,
					Required:          line.QtyRequired,
					AttemptedTotal:    attempted,
				}
			}
			itemId = line.ItemId
		}

		allocation = &models.Allocation{
			BusinessId:        businessId,
			RequirementLineId: input.RequirementLineId,
			JobId:             input.JobId,
			VisitId:           input.VisitId,
			VehicleId:         input.VehicleId,
			ItemId:            itemId,
			Description:       input.Description,
			Qty:               input.Qty,
			Status:            models.AllocationStatusReserved,
			ActorId:           actor.Id,
			ActorName:         actor.Name,
		}
		if input.AllowOverride {
			note := input.OverrideNote
			allocation.OverrideNote = &note
		}
		return tx.Create(allocation).Error
	})
	if err != nil {
		return nil, err
	}
	return allocation, nil
}

// AdvanceAllocation moves an allocation forward: reserved -> loaded, and
// -> released from any non-terminal state. Backward transitions are
// rejected.
func AdvanceAllocation(ctx context.Context, logger *logrus.Logger, actor models.Actor, allocationId int, newStatus models.AllocationStatus) (*models.Allocation, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if !newStatus.IsValid() {
		return nil, &models.ValidationError{Field: "status", Reason: "unknown allocation status"}
	}

	db := config.GetDB()
	var allocation models.Allocation
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ? AND id = ?", businessId, allocationId).
			First(&allocation).Error; err != nil {
			return utils.ErrorRecordNotFound
		}
		if !models.CanAdvanceAllocationStatus(allocation.Status, newStatus) {
			return &models.ValidationError{
				Field:  "status",
				Reason: "cannot advance from " + string(allocation.Status) + " to " + string(newStatus),
			}
		}
		if err := tx.Model(&models.Allocation{}).Where("id = ?", allocation.ID).
			Update("status", newStatus).Error; err != nil {
			return err
		}
		allocation.Status = newStatus
		return nil
	})
	if err != nil {
		config.LogError(logger, "allocationWorkflow.go", "AdvanceAllocation", "Transaction", allocationId, err)
		return nil, err
	}
	return &allocation, nil
}
