package models

import (
	"log"

	"github.com/fieldfocus/fieldops_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Item{}, &Location{},
		&Quantity{}, &Movement{},
		&RequirementLine{}, &Allocation{}, &Consumption{},
		&LogisticsRun{}, &LogisticsRunStop{},
		&PurchaseOrder{}, &PurchaseOrderLine{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
