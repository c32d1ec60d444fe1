package models

import (
	"context"
	"errors"
	"time"

	"github.com/fieldfocus/fieldops_backend/config"
	"github.com/fieldfocus/fieldops_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Quantity is the current on-hand balance for one (item, location) pair.
// It is the authoritative fast path; the movement ledger is the source of
// truth it must always replay to. Rows are created on first movement into a
// location and never deleted (a balance may sit at zero).
type Quantity struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index:uniq_qty,unique;not null" json:"business_id"`
	ItemId     int             `gorm:"index:uniq_qty,unique;not null" json:"item_id"`
	LocationId int             `gorm:"index:uniq_qty,unique;not null" json:"location_id"`
	Qty        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	// denormalized for display
	ItemName     string    `gorm:"size:100" json:"item_name"`
	LocationName string    `gorm:"size:100" json:"location_name"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FirstOrCreateQuantity finds-or-creates the balance row and takes a row
// lock on it. All balance mutation in the same transaction must go through
// this first so concurrent writers to one (item, location) serialize.
func FirstOrCreateQuantity(tx *gorm.DB, businessId string, itemId int, locationId int, itemName string, locationName string) (*Quantity, error) {
	quantity := Quantity{
		BusinessId:   businessId,
		ItemId:       itemId,
		LocationId:   locationId,
		ItemName:     itemName,
		LocationName: locationName,
	}
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND item_id = ? AND location_id = ?", businessId, itemId, locationId).
		FirstOrCreate(&quantity)
	if result.Error != nil {
		return nil, result.Error
	}
	return &quantity, nil
}

// ApplyQuantityDelta adjusts a locked balance row. The caller must hold the
// row lock (FirstOrCreateQuantity) and must append the matching Movement in
// the same transaction. A delta that would drive the balance negative is
// rejected with InsufficientStock before anything is written.
func ApplyQuantityDelta(tx *gorm.DB, quantity *Quantity, delta decimal.Decimal) (decimal.Decimal, error) {
	newQty := quantity.Qty.Add(delta)
	if newQty.IsNegative() {
		return quantity.Qty, &InsufficientStock{
			ItemId:     quantity.ItemId,
			LocationId: quantity.LocationId,
			Available:  quantity.Qty,
			Requested:  delta.Neg(),
		}
	}
	if err := tx.Model(&Quantity{}).Where("id = ?", quantity.ID).
		Update("qty", newQty).Error; err != nil {
		return quantity.Qty, err
	}
	quantity.Qty = newQty
	return newQty, nil
}

// GetQuantity returns the stored balance, zero if no row exists yet.
func GetQuantity(ctx context.Context, itemId int, locationId int) (decimal.Decimal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return decimal.Zero, errors.New("business id is required")
	}

	db := config.GetDB()
	var quantity Quantity
	err := db.WithContext(ctx).
		Where("business_id = ? AND item_id = ? AND location_id = ?", businessId, itemId, locationId).
		First(&quantity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return quantity.Qty, nil
}

// OnHand sums an item's balances across physical locations only. A nonzero
// balance parked at a supplier or in-transit location does not count.
func OnHand(ctx context.Context, itemId int) (decimal.Decimal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return decimal.Zero, errors.New("business id is required")
	}

	locationIds, err := PhysicalLocationIds(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if len(locationIds) == 0 {
		return decimal.Zero, nil
	}

	db := config.GetDB()
	var quantities []Quantity
	err = db.WithContext(ctx).
		Where("business_id = ? AND item_id = ? AND location_id IN ?", businessId, itemId, locationIds).
		Find(&quantities).Error
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, q := range quantities {
		total = total.Add(q.Qty)
	}
	return total, nil
}

// AllQuantities returns every balance row for the business, including rows
// at inactive or non-physical locations. Integrity checks need the full
// set; display paths go through ListQuantities instead.
func AllQuantities(ctx context.Context) ([]*Quantity, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Quantity
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("item_id, location_id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ListQuantities returns per-location balances for display, physical
// locations only.
func ListQuantities(ctx context.Context, itemId *int) ([]*Quantity, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	locationIds, err := PhysicalLocationIds(ctx)
	if err != nil {
		return nil, err
	}
	if len(locationIds) == 0 {
		return []*Quantity{}, nil
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).
		Where("business_id = ? AND location_id IN ?", businessId, locationIds)
	if itemId != nil {
		dbCtx = dbCtx.Where("item_id = ?", *itemId)
	}
	var results []*Quantity
	if err := dbCtx.Order("item_name, location_name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
