package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fieldfocus/fieldops_backend/config"
	"github.com/fieldfocus/fieldops_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RequirementLine is a project's declared need for an item (or an ad-hoc
// free-text need). Exactly one of ItemId / Description is set.
type RequirementLine struct {
	ID          int                 `gorm:"primary_key" json:"id"`
	BusinessId  string              `gorm:"index;not null" json:"business_id"`
	ProjectId   int                 `gorm:"index;not null" json:"project_id"`
	ItemId      *int                `gorm:"index" json:"item_id"`
	Description *string             `gorm:"size:255" json:"description"`
	QtyRequired decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"qty_required"`
	IsBlocking  *bool               `gorm:"not null;default:false" json:"is_blocking"`
	Priority    RequirementPriority `gorm:"size:20;not null;default:standard" json:"priority"`
	Status      RequirementStatus   `gorm:"size:20;not null;default:open;index" json:"status"`
	// denormalized for display
	ItemName  string    `gorm:"size:100" json:"item_name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r RequirementLine) GetBusinessId() string {
	return r.BusinessId
}

type NewRequirementLine struct {
	ProjectId   int             `json:"project_id" binding:"required"`
	ItemId      *int            `json:"item_id"`
	Description *string         `json:"description"`
	QtyRequired decimal.Decimal `json:"qty_required"`
	IsBlocking  bool            `json:"is_blocking"`
	Priority    string          `json:"priority"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewRequirementLine) validate(ctx context.Context, businessId string, id int) error {
	hasItem := input.ItemId != nil && *input.ItemId > 0
	hasDescription := input.Description != nil && strings.TrimSpace(*input.Description) != ""
	if hasItem == hasDescription {
		return &ValidationError{Field: "item_id", Reason: "exactly one of item_id and description must be set"}
	}
	if input.QtyRequired.IsNegative() {
		return &ValidationError{Field: "qty_required", Reason: "quantity required must not be negative"}
	}
	if hasItem {
		if err := utils.ValidateResourceId[Item](ctx, businessId, *input.ItemId); err != nil {
			return errors.New("item not found")
		}
	}
	if input.Priority != "" && !RequirementPriority(input.Priority).IsValid() {
		return &ValidationError{Field: "priority", Reason: "unknown priority tier"}
	}
	return nil
}

func CreateRequirementLine(ctx context.Context, input *NewRequirementLine) (*RequirementLine, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	priority := RequirementPriority(input.Priority)
	if input.Priority == "" {
		priority = RequirementPriorityStandard
	}

	line := RequirementLine{
		BusinessId:  businessId,
		ProjectId:   input.ProjectId,
		ItemId:      input.ItemId,
		Description: input.Description,
		QtyRequired: input.QtyRequired,
		IsBlocking:  &input.IsBlocking,
		Priority:    priority,
		Status:      RequirementStatusOpen,
	}
	if input.ItemId != nil {
		item, err := utils.FetchModel[Item](ctx, businessId, *input.ItemId)
		if err != nil {
			return nil, err
		}
		line.ItemName = item.Name
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&line).Error
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func UpdateRequirementLine(ctx context.Context, id int, input *NewRequirementLine) (*RequirementLine, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	line, err := utils.FetchModel[RequirementLine](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	if line.Status == RequirementStatusRemoved {
		return nil, &ValidationError{Field: "status", Reason: "requirement line is removed"}
	}

	priority := RequirementPriority(input.Priority)
	if input.Priority == "" {
		priority = RequirementPriorityStandard
	}
	itemName := ""
	if input.ItemId != nil {
		item, err := utils.FetchModel[Item](ctx, businessId, *input.ItemId)
		if err != nil {
			return nil, err
		}
		itemName = item.Name
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&line).Updates(map[string]interface{}{
		"ProjectId":   input.ProjectId,
		"ItemId":      input.ItemId,
		"Description": input.Description,
		"QtyRequired": input.QtyRequired,
		"IsBlocking":  input.IsBlocking,
		"Priority":    priority,
		"ItemName":    itemName,
	}).Error
	if err != nil {
		return nil, err
	}
	line.ProjectId = input.ProjectId
	line.ItemId = input.ItemId
	line.Description = input.Description
	line.QtyRequired = input.QtyRequired
	line.IsBlocking = &input.IsBlocking
	line.Priority = priority
	line.ItemName = itemName

	return line, nil
}

// RemoveRequirementLine soft-removes; lines with allocations are never
// physically deleted.
func RemoveRequirementLine(ctx context.Context, id int) (*RequirementLine, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	line, err := utils.FetchModel[RequirementLine](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&line).
		Update("status", RequirementStatusRemoved).Error
	if err != nil {
		return nil, err
	}
	return line, nil
}

func GetRequirementLine(ctx context.Context, id int) (*RequirementLine, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[RequirementLine](ctx, businessId, id)
}

func ListRequirementLines(ctx context.Context, projectId int) ([]*RequirementLine, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*RequirementLine
	err := db.WithContext(ctx).
		Where("business_id = ? AND project_id = ? AND status = ?", businessId, projectId, RequirementStatusOpen).
		Order("priority, id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ActiveAllocationSum totals non-released allocations against a requirement
// line. Call inside a transaction holding the line's row lock when the
// result feeds an over-allocation decision.
func ActiveAllocationSum(tx *gorm.DB, businessId string, requirementLineId int) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := tx.Model(&Allocation{}).
		Select("SUM(qty)").
		Where("business_id = ? AND requirement_line_id = ? AND status <> ?",
			businessId, requirementLineId, AllocationStatusReleased).
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}
