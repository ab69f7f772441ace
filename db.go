package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"excursion/models"
	"excursion/pkg/auth"
	"excursion/pkg/config"
	"excursion/pkg/repository"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openDB(cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return nil, errors.New("DB_DSN is not set; a Postgres DSN is required")
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.AutoMigrate {
		autoMigrate(db, log)
	}
	return db, nil
}

// autoMigrate migrates each table on its own so a failure on one (typically a
// permissions problem) is logged and does not block the others.
func autoMigrate(db *gorm.DB, log *zap.Logger) {
	for _, model := range repository.Models() {
		if err := db.AutoMigrate(model); err != nil {
			log.Warn("migration warning", zap.String("model", fmt.Sprintf("%T", model)), zap.Error(err))
		}
	}
}

// seedAdmin creates a verified administrator from ADMIN_EMAIL/ADMIN_PASSWORD
// when both are set and no account uses that email yet.
func seedAdmin(db *gorm.DB, cfg config.Config, hasher auth.PasswordHasher, log *zap.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}
	ctx := context.Background()
	users := repository.NewUsers(db)
	if _, err := users.FindByEmail(ctx, cfg.AdminEmail); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	hash, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return err
	}
	email := repository.NormalizeEmail(cfg.AdminEmail)
	now := time.Now().UTC()
	admin := &models.User{
		Username:     strings.SplitN(email, "@", 2)[0],
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		VerifiedAt:   &now,
	}
	if err := users.Create(ctx, admin); err != nil {
		return err
	}
	log.Info("seeded admin account", zap.Uint("user_id", admin.ID), zap.String("email", email))
	return nil
}
