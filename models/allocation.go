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

// Allocation reserves quantity against a requirement line (or ad-hoc),
// scoped to a job and optionally a visit/vehicle. Released allocations are
// excluded from active sums but kept for audit.
type Allocation struct {
	ID                int              `gorm:"primary_key" json:"id"`
	BusinessId        string           `gorm:"index;not null" json:"business_id"`
	RequirementLineId *int             `gorm:"index" json:"requirement_line_id"`
	JobId             int              `gorm:"index;not null" json:"job_id"`
	VisitId           *int             `gorm:"index" json:"visit_id"`
	VehicleId         *int             `gorm:"index" json:"vehicle_id"`
	ItemId            *int             `gorm:"index" json:"item_id"`
	Description       string           `gorm:"size:255" json:"description"`
	Qty               decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"qty"`
	Status            AllocationStatus `gorm:"size:20;not null;default:reserved;index" json:"status"`
	// OverrideNote carries the privileged confirmation when the reservation
	// exceeded the requirement; audit lives on the record, not in control flow.
	OverrideNote *string   `gorm:"type:text" json:"override_note"`
	ActorId      int       `gorm:"not null" json:"actor_id"`
	ActorName    string    `gorm:"size:100" json:"actor_name"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a Allocation) GetBusinessId() string {
	return a.BusinessId
}

func GetAllocation(ctx context.Context, id int) (*Allocation, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Allocation](ctx, businessId, id)
}

func ListAllocationsByJob(ctx context.Context, jobId int) ([]*Allocation, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Allocation
	err := db.WithContext(ctx).
		Where("business_id = ? AND job_id = ?", businessId, jobId).
		Order("id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// EligibleAllocations returns the non-released allocations for a dispatch
// context. The dispatcher derives its intent key from this exact set.
func EligibleAllocations(tx *gorm.DB, businessId string, jobId int, visitId *int, vehicleId *int) ([]*Allocation, error) {
	dbCtx := tx.
		Where("business_id = ? AND job_id = ? AND status <> ?", businessId, jobId, AllocationStatusReleased)
	if visitId != nil {
		dbCtx = dbCtx.Where("visit_id = ?", *visitId)
	}
	if vehicleId != nil {
		dbCtx = dbCtx.Where("vehicle_id = ?", *vehicleId)
	}
	var results []*Allocation
	if err := dbCtx.Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ConsumedSum totals consumption drawn from one allocation. Call inside a
// transaction holding the allocation's row lock when the result feeds an
// over-consumption decision.
func ConsumedSum(tx *gorm.DB, businessId string, allocationId int) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := tx.Model(&Consumption{}).
		Select("SUM(qty)").
		Where("business_id = ? AND allocation_id = ?", businessId, allocationId).
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}
