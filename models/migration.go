package models

import (
	"log"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{},
		&Customer{}, &CustomerTransaction{},
		&Manifest{}, &ManifestAudit{},
		&Package{}, &PackageStatusHistory{},
		&PackageDistribution{}, &PackageDistributionItem{},
		&BroadcastMessage{}, &BroadcastDelivery{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
