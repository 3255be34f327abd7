package models

import (
	"log"

	"github.com/padaukcraft/beads_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Purchase{}, &Material{}, &MaterialUsage{},
		&ProductSku{}, &SkuRecipeLine{}, &SkuInventoryLog{},
		&AuditMessageRecord{}, &IdempotencyKey{}, &ReconciliationReport{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
