package models

import (
	"context"
	"errors"
	"time"

	"github.com/fieldfocus/fieldops_backend/config"
	"github.com/fieldfocus/fieldops_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Movement is one immutable entry in the append-only inventory ledger.
// Qty is a positive magnitude; direction is encoded by the from/to location
// fields (nil from = inbound, nil to = outbound, both set = transfer).
// Rows are never updated or deleted: corrections are new movements.
type Movement struct {
	ID             string                `gorm:"size:36;primary_key" json:"id"` // uuid
	BusinessId     string                `gorm:"index:idx_move_biz_item,priority:1;not null" json:"business_id"`
	ItemId         int                   `gorm:"index:idx_move_biz_item,priority:2;not null" json:"item_id"`
	FromLocationId *int                  `gorm:"index" json:"from_location_id"`
	ToLocationId   *int                  `gorm:"index" json:"to_location_id"`
	Qty            decimal.Decimal       `gorm:"type:decimal(20,4);not null" json:"qty"`
	Source         MovementSource        `gorm:"size:20;not null" json:"source"`
	ReferenceType  MovementReferenceType `gorm:"size:20" json:"reference_type"`
	ReferenceId    int                   `gorm:"index" json:"reference_id"`
	ActorId        int                   `gorm:"not null" json:"actor_id"`
	ActorName      string                `gorm:"size:100" json:"actor_name"`
	Notes          string                `gorm:"type:text" json:"notes"`
	// denormalized for display
	ItemName      string    `gorm:"size:100" json:"item_name"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BeforeUpdate blocks updates at the ORM layer; the ledger is append-only.
func (m *Movement) BeforeUpdate(tx *gorm.DB) error {
	_ = tx
	return errors.New("movements are immutable")
}

// BeforeDelete blocks deletes at the ORM layer; the ledger is append-only.
func (m *Movement) BeforeDelete(tx *gorm.DB) error {
	_ = tx
	return errors.New("movements are immutable")
}

// AppendMovement writes one ledger entry inside the caller's transaction.
// The same transaction must carry the matching quantity update.
func AppendMovement(tx *gorm.DB, logger *logrus.Logger, movement *Movement) (string, error) {
	if movement.ID == "" {
		movement.ID = uuid.NewString()
	}
	if movement.Qty.IsNegative() || movement.Qty.IsZero() {
		return "", &ValidationError{Field: "qty", Reason: "movement qty must be positive"}
	}
	if movement.FromLocationId == nil && movement.ToLocationId == nil {
		return "", &ValidationError{Field: "location", Reason: "movement needs a from or to location"}
	}
	if err := tx.Create(movement).Error; err != nil {
		config.LogError(logger, "movement.go", "AppendMovement", "Create", movement.ItemId, err)
		return "", err
	}
	return movement.ID, nil
}

const maxHistoryLimit = 500

// historyLimit defaults a missing limit and clamps an oversized one.
func historyLimit(limit int) int {
	if limit <= 0 {
		return config.SearchLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

// MovementHistory returns ledger entries for an item, newest first. When
// locationId is set, only entries touching that location are returned.
func MovementHistory(ctx context.Context, itemId int, locationId *int, limit int) ([]*Movement, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	limit = historyLimit(limit)

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).
		Where("business_id = ? AND item_id = ?", businessId, itemId)
	if locationId != nil {
		dbCtx = dbCtx.Where("from_location_id = ? OR to_location_id = ?", *locationId, *locationId)
	}
	var results []*Movement
	err := dbCtx.Order("created_at DESC, id DESC").Limit(limit).Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// RecomputeBalance folds the full ledger for one (item, location) pair.
// Integrity checking only; routine reads go to the Quantity store.
func RecomputeBalance(tx *gorm.DB, businessId string, itemId int, locationId int) (decimal.Decimal, error) {
	var movements []Movement
	err := tx.
		Where("business_id = ? AND item_id = ? AND (from_location_id = ? OR to_location_id = ?)",
			businessId, itemId, locationId, locationId).
		Order("created_at, id").
		Find(&movements).Error
	if err != nil {
		return decimal.Zero, err
	}

	balance := decimal.Zero
	for _, m := range movements {
		if m.ToLocationId != nil && *m.ToLocationId == locationId {
			balance = balance.Add(m.Qty)
		}
		if m.FromLocationId != nil && *m.FromLocationId == locationId {
			balance = balance.Sub(m.Qty)
		}
	}
	return balance, nil
}
