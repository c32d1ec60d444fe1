package models

import (
	"context"
	"errors"
	"time"

	"github.com/fieldfocus/fieldops_backend/config"
	"github.com/fieldfocus/fieldops_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Consumption records actual usage of stock on a job, optionally drawn from
// an allocation. Rows are immutable: corrections are new movements with
// source correction, never edits here. Qty is strictly positive; returns are
// not modeled as negative consumption.
type Consumption struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"index;not null" json:"business_id"`
	JobId        int             `gorm:"index;not null" json:"job_id"`
	AllocationId *int            `gorm:"index" json:"allocation_id"`
	ItemId       *int            `gorm:"index" json:"item_id"`
	Description  string          `gorm:"size:255" json:"description"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	OverrideNote *string         `gorm:"type:text" json:"override_note"`
	ActorId      int             `gorm:"not null" json:"actor_id"`
	ActorName    string          `gorm:"size:100" json:"actor_name"`
	Notes        string          `gorm:"type:text" json:"notes"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (c Consumption) GetBusinessId() string {
	return c.BusinessId
}

// BeforeUpdate blocks edits; consumption records are immutable.
func (c *Consumption) BeforeUpdate(tx *gorm.DB) error {
	_ = tx
	return errors.New("consumptions are immutable")
}

func ListConsumptionsByJob(ctx context.Context, jobId int) ([]*Consumption, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Consumption
	err := db.WithContext(ctx).
		Where("business_id = ? AND job_id = ?", businessId, jobId).
		Order("created_at DESC, id DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
