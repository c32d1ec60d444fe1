package models

import (
	"context"
	"errors"
	"time"

	"github.com/fieldfocus/fieldops_backend/config"
	"github.com/fieldfocus/fieldops_backend/utils"
)

// LogisticsRun is the downstream unit of field transport created from a set
// of allocations. This service owns only its idempotent creation; the run's
// lifecycle belongs to the logistics collaborator.
//
// IntentKey is derived from the run context plus a digest of the sorted
// allocation id set. Unique constraint: (business_id, intent_key). The
// constraint is what makes concurrent getOrCreate converge on one row.
type LogisticsRun struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"size:64;not null;index:uniq_run_intent,unique" json:"business_id"`
	IntentKey  string    `gorm:"size:191;not null;index:uniq_run_intent,unique" json:"intent_key"`
	Kind       RunKind   `gorm:"size:20;not null" json:"kind"`
	JobId      int       `gorm:"index;not null" json:"job_id"`
	VisitId    *int      `gorm:"index" json:"visit_id"`
	VehicleId  *int      `gorm:"index" json:"vehicle_id"`
	LocationId *int      `gorm:"index" json:"location_id"`
	Status     RunStatus `gorm:"size:20;not null;default:planned" json:"status"`
	Notes      string    `gorm:"type:text" json:"notes"`
	ActorId    int       `gorm:"not null" json:"actor_id"`
	ActorName  string    `gorm:"size:100" json:"actor_name"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Stops []LogisticsRunStop `gorm:"foreignKey:RunId" json:"stops"`
}

func (r LogisticsRun) GetBusinessId() string {
	return r.BusinessId
}

type LogisticsRunStop struct {
	ID           int       `gorm:"primary_key" json:"id"`
	BusinessId   string    `gorm:"index;not null" json:"business_id"`
	RunId        int       `gorm:"index;not null" json:"run_id"`
	Seq          int       `gorm:"not null" json:"seq"`
	AllocationId *int      `gorm:"index" json:"allocation_id"`
	Address      string    `gorm:"type:text" json:"address"`
	Notes        string    `gorm:"type:text" json:"notes"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// NewRunStop is the caller-supplied draft; persisted only when the intent
// key does not already exist.
type NewRunStop struct {
	AllocationId *int   `json:"allocation_id"`
	Address      string `json:"address"`
	Notes        string `json:"notes"`
}

func GetLogisticsRun(ctx context.Context, id int) (*LogisticsRun, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[LogisticsRun](ctx, businessId, id, "Stops")
}

func FindRunByIntentKey(ctx context.Context, intentKey string) (*LogisticsRun, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var run LogisticsRun
	err := db.WithContext(ctx).Preload("Stops").
		Where("business_id = ? AND intent_key = ?", businessId, intentKey).
		First(&run).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &run, nil
}
