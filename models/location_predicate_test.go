package models

import (
	"testing"

	"github.com/fieldfocus/fieldops_backend/utils"
)

func TestNormalizeLocationType(t *testing.T) {
	cases := []struct {
		raw  string
		want LocationType
	}{
		{"warehouse", LocationTypeWarehouse},
		{"  Warehouse ", LocationTypeWarehouse},
		{"VEHICLE", LocationTypeVehicle},
		{"supplier", LocationTypeSupplier},
		{"in-transit", LocationTypeInTransit},
		{"", LocationTypeOther},
		{"van", LocationTypeOther},
		{"WAREHOUSE2", LocationTypeOther},
	}
	for _, c := range cases {
		if got := NormalizeLocationType(c.raw); got != c.want {
			t.Errorf("NormalizeLocationType(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestIsPhysicalLocation(t *testing.T) {
	warehouse := &Location{Type: LocationTypeWarehouse, IsActive: utils.NewTrue()}
	if !warehouse.IsPhysicalLocation() {
		t.Fatalf("active warehouse must be physical")
	}

	vehicle := &Location{Type: LocationTypeVehicle, IsActive: utils.NewTrue()}
	if !vehicle.IsPhysicalLocation() {
		t.Fatalf("active vehicle must be physical")
	}

	supplier := &Location{Type: LocationTypeSupplier, IsActive: utils.NewTrue()}
	if supplier.IsPhysicalLocation() {
		t.Fatalf("supplier bucket must not count toward on-hand")
	}

	inTransit := &Location{Type: LocationTypeInTransit, IsActive: utils.NewTrue()}
	if inTransit.IsPhysicalLocation() {
		t.Fatalf("in-transit bucket must not count toward on-hand")
	}

	inactive := &Location{Type: LocationTypeWarehouse, IsActive: utils.NewFalse()}
	if inactive.IsPhysicalLocation() {
		t.Fatalf("deactivated warehouse must not count toward on-hand")
	}

	var nilLocation *Location
	if nilLocation.IsPhysicalLocation() {
		t.Fatalf("nil location must not be physical")
	}
}

func TestCanAdvanceAllocationStatus(t *testing.T) {
	allowed := []struct{ from, to AllocationStatus }{
		{AllocationStatusReserved, AllocationStatusLoaded},
		{AllocationStatusReserved, AllocationStatusReleased},
		{AllocationStatusLoaded, AllocationStatusReleased},
	}
	for _, c := range allowed {
		if !CanAdvanceAllocationStatus(c.from, c.to) {
			t.Errorf("expected %s -> %s to be allowed", c.from, c.to)
		}
	}

	denied := []struct{ from, to AllocationStatus }{
		{AllocationStatusLoaded, AllocationStatusReserved},
		{AllocationStatusReleased, AllocationStatusReserved},
		{AllocationStatusReleased, AllocationStatusLoaded},
		{AllocationStatusReleased, AllocationStatusReleased},
		{AllocationStatusReserved, AllocationStatusReserved},
	}
	for _, c := range denied {
		if CanAdvanceAllocationStatus(c.from, c.to) {
			t.Errorf("expected %s -> %s to be rejected", c.from, c.to)
		}
	}
}
