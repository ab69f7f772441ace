package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"excursion/pkg/auth"
	"excursion/pkg/config"
	"excursion/pkg/logging"
	"excursion/pkg/repository"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	email := flag.String("email", "", "email of the account to reset")
	password := flag.String("password", "", "new plaintext password (min 6 chars)")
	revoke := flag.Bool("revoke-sessions", true, "revoke every active refresh token of the account")
	flag.Parse()
	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "--email and --password are required")
		os.Exit(2)
	}
	if len(*password) < 6 {
		fmt.Fprintln(os.Stderr, "password too short (min 6)")
		os.Exit(2)
	}

	cfg := config.Load()
	log := logging.New(cfg.LogLevel, "console")
	if cfg.DatabaseDSN == "" {
		log.Fatal("DB_DSN not set in env")
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}

	users := repository.NewUsers(db)
	store := auth.NewRefreshStore(users, auth.WithRefreshTTL(cfg.RefreshTokenTTL))
	revoked, err := resetPassword(context.Background(), users, store, auth.BcryptHasher{}, *email, *password, *revoke)
	if err != nil {
		log.Fatal("password reset failed", zap.String("email", *email), zap.Error(err))
	}
	log.Info("password reset", zap.String("email", *email), zap.Int("sessions_revoked", revoked))
}

// resetPassword sets a new password and, when revoke is set, revokes every
// active refresh token of the account before pruning. It reports how many
// tokens were revoked.
func resetPassword(ctx context.Context, users *repository.Users, store *auth.RefreshStore, hasher auth.PasswordHasher, email, password string, revoke bool) (int, error) {
	user, err := users.FindByEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("find account: %w", err)
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = hash

	revoked := 0
	if revoke {
		now := store.Now()
		for i := range user.RefreshTokens {
			if user.RefreshTokens[i].IsActive(now) {
				store.Revoke(&user.RefreshTokens[i], "", auth.ReasonRevoked, "")
				revoked++
			}
		}
		store.Prune(user)
	}
	if err := users.Save(ctx, user); err != nil {
		return 0, fmt.Errorf("save account: %w", err)
	}
	return revoked, nil
}
