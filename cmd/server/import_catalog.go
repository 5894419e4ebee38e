package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/maelstrand/winetrade/internal/db"
	"github.com/maelstrand/winetrade/internal/importer"
)

// runCatalogImport is the maintenance entry point behind -import-catalog:
// loads a Systembolaget-style JSON dump into a supplier's catalog.
func runCatalogImport(path string, supplierID uint) {
	if supplierID == 0 {
		logrus.Fatal("-import-catalog requires -supplier")
	}
	dbConn, err := db.ConnectAndMigrate()
	if err != nil {
		logrus.WithError(err).Fatal("database connection failed")
	}
	f, err := os.Open(path)
	if err != nil {
		logrus.WithError(err).Fatal("cannot open catalog dump")
	}
	defer f.Close()
	res, err := importer.ImportCatalog(dbConn, f, supplierID)
	if err != nil {
		logrus.WithError(err).Fatal("catalog import failed")
	}
	logrus.WithFields(logrus.Fields{
		"created": res.Created, "updated": res.Updated, "skipped": res.Skipped,
	}).Info("catalog import done")
}
