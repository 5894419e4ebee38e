package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/maelstrand/winetrade/internal/config"
	"github.com/maelstrand/winetrade/internal/db"
	"github.com/maelstrand/winetrade/internal/server"
	"github.com/maelstrand/winetrade/internal/winecheck"
)

var (
	migrateOnlyFlag   = flag.Bool("migrate-only", false, "Run DB migrations and exit")
	importCatalogFlag = flag.String("import-catalog", "", "Import a catalog JSON dump and exit (requires -supplier)")
	supplierFlag      = flag.Uint("supplier", 0, "Supplier company id for -import-catalog")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	if *migrateOnlyFlag {
		if _, err := db.ConnectAndMigrate(); err != nil {
			logrus.WithError(err).Fatal("migrate-only failed")
		}
		logrus.Info("migrations completed; exiting as requested")
		return
	}
	if *importCatalogFlag != "" {
		runCatalogImport(*importCatalogFlag, *supplierFlag)
		return
	}

	cfg := config.Load()
	dbConn, err := db.ConnectAndMigrate()
	if err != nil {
		logrus.WithError(err).Fatal("database connection failed")
	}
	logrus.WithFields(logrus.Fields{"env": cfg.Env, "port": cfg.Port}).Info("starting server")

	var checker winecheck.Client
	if cfg.WineCheckURL != "" {
		checker = winecheck.NewHTTPClient(cfg.WineCheckURL, cfg.WineCheckKey)
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: server.New(dbConn, checker)}

	go func() {
		logrus.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("error during shutdown")
	}
	logrus.Info("server gracefully stopped")
}
