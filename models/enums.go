package models

// LocationType classifies where stock can sit. Only warehouse/vehicle
// locations are "physical" and count toward on-hand.
type LocationType string

const (
	LocationTypeWarehouse LocationType = "warehouse"
	LocationTypeVehicle   LocationType = "vehicle"
	LocationTypeSupplier  LocationType = "supplier"
	LocationTypeInTransit LocationType = "in-transit"
	LocationTypeOther     LocationType = "other"
)

// MovementSource classifies a ledger entry by what caused it.
type MovementSource string

const (
	MovementSourceReceipt    MovementSource = "receipt"
	MovementSourceTransfer   MovementSource = "transfer"
	MovementSourceJobUsage   MovementSource = "job-usage"
	MovementSourceAdjustment MovementSource = "adjustment"
	MovementSourceCorrection MovementSource = "correction"
)

// MovementReferenceType links a ledger entry back to the document that caused it.
type MovementReferenceType string

const (
	MovementReferencePurchaseOrder MovementReferenceType = "purchase-order"
	MovementReferenceJob           MovementReferenceType = "job"
	MovementReferenceTransfer      MovementReferenceType = "transfer"
	MovementReferenceManual        MovementReferenceType = "manual"
)

type RequirementStatus string

const (
	RequirementStatusOpen    RequirementStatus = "open"
	RequirementStatusRemoved RequirementStatus = "removed"
)

type RequirementPriority string

const (
	RequirementPriorityUrgent   RequirementPriority = "urgent"
	RequirementPriorityStandard RequirementPriority = "standard"
	RequirementPriorityDeferred RequirementPriority = "deferred"
)

// AllocationStatus advances forward only: reserved -> loaded -> released.
// released is terminal and excluded from all active sums.
type AllocationStatus string

const (
	AllocationStatusReserved AllocationStatus = "reserved"
	AllocationStatusLoaded   AllocationStatus = "loaded"
	AllocationStatusReleased AllocationStatus = "released"
)

// CanAdvanceAllocationStatus reports whether an allocation may move from
// `from` to `to`. Backward transitions are never allowed; released can be
// entered from any non-terminal state.
func CanAdvanceAllocationStatus(from AllocationStatus, to AllocationStatus) bool {
	switch to {
	case AllocationStatusLoaded:
		return from == AllocationStatusReserved
	case AllocationStatusReleased:
		return from == AllocationStatusReserved || from == AllocationStatusLoaded
	default:
		return false
	}
}

type RunKind string

const (
	RunKindDelivery RunKind = "delivery"
	RunKindPickup   RunKind = "pickup"
)

type RunStatus string

const (
	RunStatusPlanned    RunStatus = "planned"
	RunStatusDispatched RunStatus = "dispatched"
	RunStatusCompleted  RunStatus = "completed"
)

type PurchaseOrderStatus string

const (
	PurchaseOrderStatusOpen      PurchaseOrderStatus = "open"
	PurchaseOrderStatusClosed    PurchaseOrderStatus = "closed"
	PurchaseOrderStatusCancelled PurchaseOrderStatus = "cancelled"
)

func (e LocationType) IsValid() bool {
	switch e {
	case LocationTypeWarehouse, LocationTypeVehicle, LocationTypeSupplier, LocationTypeInTransit, LocationTypeOther:
		return true
	}
	return false
}

func (e LocationType) String() string {
	return string(e)
}

func (e MovementSource) IsValid() bool {
	switch e {
	case MovementSourceReceipt, MovementSourceTransfer, MovementSourceJobUsage, MovementSourceAdjustment, MovementSourceCorrection:
		return true
	}
	return false
}

func (e AllocationStatus) IsValid() bool {
	switch e {
	case AllocationStatusReserved, AllocationStatusLoaded, AllocationStatusReleased:
		return true
	}
	return false
}

func (e RequirementPriority) IsValid() bool {
	switch e {
	case RequirementPriorityUrgent, RequirementPriorityStandard, RequirementPriorityDeferred:
		return true
	}
	return false
}
