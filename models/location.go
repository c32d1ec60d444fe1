package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fieldfocus/fieldops_backend/config"
	"github.com/fieldfocus/fieldops_backend/utils"
)

// Location is a place stock can sit: a warehouse, a vehicle, or a
// non-physical bucket (supplier, in-transit). Only active warehouse/vehicle
// locations participate in on-hand and transfers.
type Location struct {
	ID         int          `gorm:"primary_key" json:"id"`
	BusinessId string       `gorm:"index;not null" json:"business_id"`
	Name       string       `gorm:"size:100;not null" json:"name" binding:"required"`
	Type       LocationType `gorm:"size:20;not null;default:other" json:"type"`
	VehicleId  *int         `gorm:"index" json:"vehicle_id"`
	Address    string       `gorm:"type:text" json:"address"`
	IsActive   *bool        `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (l Location) GetBusinessId() string {
	return l.BusinessId
}

type NewLocation struct {
	Name      string `json:"name" binding:"required"`
	Type      string `json:"type"`
	VehicleId *int   `json:"vehicle_id"`
	Address   string `json:"address"`
}

// NormalizeLocationType trims and lower-cases a raw type value. Unknown or
// missing types collapse to "other" so the physical predicate stays total.
func NormalizeLocationType(raw string) LocationType {
	t := LocationType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.IsValid() || t == "" {
		return LocationTypeOther
	}
	return t
}

// IsPhysicalLocation is the single predicate for "counts as stock on hand".
// Every on-hand, transfer, and dropdown computation must go through this (or
// ListPhysicalLocations) rather than re-implementing the check.
func (l *Location) IsPhysicalLocation() bool {
	if l == nil {
		return false
	}
	if l.IsActive == nil || !*l.IsActive {
		return false
	}
	t := NormalizeLocationType(string(l.Type))
	return t == LocationTypeWarehouse || t == LocationTypeVehicle
}

// validate input for both create & update. (id = 0 for create)
func (input *NewLocation) validate(ctx context.Context, businessId string, id int) error {
	// name
	if err := utils.ValidateUnique[Location](ctx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	if input.VehicleId != nil && NormalizeLocationType(input.Type) != LocationTypeVehicle {
		return &ValidationError{Field: "vehicle_id", Reason: "only vehicle locations may reference a vehicle"}
	}
	return nil
}

func CreateLocation(ctx context.Context, input *NewLocation) (*Location, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	location := Location{
		BusinessId: businessId,
		Name:       input.Name,
		Type:       NormalizeLocationType(input.Type),
		VehicleId:  input.VehicleId,
		Address:    input.Address,
		IsActive:   utils.NewTrue(),
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&location).Error
	if err != nil {
		return nil, err
	}
	return &location, nil
}

func UpdateLocation(ctx context.Context, id int, input *NewLocation) (*Location, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	location, err := utils.FetchModel[Location](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	// db action
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&location).Updates(map[string]interface{}{
		"Name":      input.Name,
		"Type":      NormalizeLocationType(input.Type),
		"VehicleId": input.VehicleId,
		"Address":   input.Address,
	}).Error
	if err != nil {
		return nil, err
	}
	if err := utils.RemoveRedis[Location](id); err != nil {
		return nil, err
	}

	return location, nil
}

// DeleteLocation hard-deletes only when no quantity row references the
// location; otherwise soft-disable via ToggleActiveLocation.
func DeleteLocation(ctx context.Context, id int) (*Location, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	result, err := utils.FetchModel[Location](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	// check if location is used
	var count int64
	if err := db.WithContext(ctx).Model(&Quantity{}).
		Where("location_id = ?", id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("location has stock")
	}

	// db action
	err = db.WithContext(ctx).Delete(&result).Error
	if err != nil {
		return nil, err
	}
	if err := utils.RemoveRedis[Location](id); err != nil {
		return nil, err
	}
	return result, nil
}

func GetLocation(ctx context.Context, id int) (*Location, error) {
	return GetResource[Location](ctx, id)
}

func ListLocation(ctx context.Context, name *string) ([]*Location, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Location

	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	// db query
	err := dbCtx.Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ListPhysicalLocations returns the active warehouse/vehicle locations only.
func ListPhysicalLocations(ctx context.Context) ([]*Location, error) {
	all, err := ListLocation(ctx, nil)
	if err != nil {
		return nil, err
	}
	physical := make([]*Location, 0, len(all))
	for _, l := range all {
		if l.IsPhysicalLocation() {
			physical = append(physical, l)
		}
	}
	return physical, nil
}

// PhysicalLocationIds is a convenience over ListPhysicalLocations for
// queries that filter by location id.
func PhysicalLocationIds(ctx context.Context) ([]int, error) {
	physical, err := ListPhysicalLocations(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(physical))
	for _, l := range physical {
		ids = append(ids, l.ID)
	}
	return ids, nil
}

func ToggleActiveLocation(ctx context.Context, id int, isActive bool) (*Location, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return ToggleActiveModel[Location](ctx, businessId, id, isActive)
}
