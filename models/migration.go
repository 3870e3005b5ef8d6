package models

import (
	"log"

	"github.com/Gouzman/PharmaGo/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Pharmacy{},
		&PharmacyHistory{},
		&SyncRun{}, &SyncIssue{},
		&DataSnapshot{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
