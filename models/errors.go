package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError reports malformed input. Nothing has been written when it
// is returned.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// InsufficientStock is returned when a decrement would drive a quantity
// below zero. The caller can retry with a smaller quantity or another
// location; the balance is never clamped.
type InsufficientStock struct {
	ItemId     int             `json:"item_id"`
	LocationId int             `json:"location_id"`
	Available  decimal.Decimal `json:"available"`
	Requested  decimal.Decimal `json:"requested"`
}

func (e *InsufficientStock) Error() string {
	return fmt.Sprintf("insufficient stock for item %d at location %d: available %s, requested %s",
		e.ItemId, e.LocationId, e.Available.String(), e.Requested.String())
}

// OverAllocation is a soft block: the caller may re-invoke with
// allowOverride and an override note to proceed.
type OverAllocation struct {
	RequirementLineId int             `json:"requirement_line_id"`
	Required          decimal.Decimal `json:"required"`
	AttemptedTotal    decimal.Decimal `json:"attempted_total"`
}

func (e *OverAllocation) Error() string {
	return fmt.Sprintf("allocation would exceed requirement %d: attempted total %s over required %s",
		e.RequirementLineId, e.AttemptedTotal.String(), e.Required.String())
}

// OverConsumption is a soft block, same override contract as OverAllocation.
type OverConsumption struct {
	AllocationId   int             `json:"allocation_id"`
	Allocated      decimal.Decimal `json:"allocated"`
	AttemptedTotal decimal.Decimal `json:"attempted_total"`
}

func (e *OverConsumption) Error() string {
	return fmt.Sprintf("consumption would exceed allocation %d: attempted total %s over allocated %s",
		e.AllocationId, e.AttemptedTotal.String(), e.Allocated.String())
}

// IntegrityMismatch means the stored quantity disagrees with the ledger
// replay. It is an operator alarm, never auto-corrected.
type IntegrityMismatch struct {
	ItemId     int             `json:"item_id"`
	LocationId int             `json:"location_id"`
	Stored     decimal.Decimal `json:"stored"`
	Recomputed decimal.Decimal `json:"recomputed"`
}

func (e *IntegrityMismatch) Error() string {
	return fmt.Sprintf("quantity mismatch for item %d at location %d: stored %s, ledger %s",
		e.ItemId, e.LocationId, e.Stored.String(), e.Recomputed.String())
}
