package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"excursion/pkg/auth"
	"excursion/pkg/config"
	"excursion/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log, os.Args[1:]); err != nil {
		log.Fatal("exiting", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger, args []string) error {
	if cfg.UsingDevSecret {
		log.Warn("JWT_SECRET is not set, using the development secret")
	}

	db, err := openDB(cfg, log)
	if err != nil {
		return err
	}
	hasher := auth.BcryptHasher{}
	if err := seedAdmin(db, cfg, hasher, log); err != nil {
		log.Warn("admin seed failed", zap.Error(err))
	}

	// `excursion migrate` prepares the schema and exits. Useful for CI or manual DB setup.
	if len(args) > 0 && args[0] == "migrate" {
		fmt.Println("migration and seeding completed")
		return nil
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gin.SetMode(gin.ReleaseMode)
	srv, err := newServer(serverDeps{
		DB:       db,
		Config:   cfg,
		Logger:   log,
		Registry: registry,
		Hasher:   hasher,
	})
	if err != nil {
		return err
	}

	addr := ":" + cfg.Port
	log.Info("listening", zap.String("addr", addr))
	if err := srv.routes().Run(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
