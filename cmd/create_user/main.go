package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"excursion/models"
	"excursion/pkg/auth"
	"excursion/pkg/config"
	"excursion/pkg/logging"
	"excursion/pkg/repository"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	role := flag.String("role", string(models.RoleUser), "role for the new account (Admin or User)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: go run ./cmd/create_user [-role Admin] <username> <email> <password>")
	}
	flag.Parse()
	if flag.NArg() < 3 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	log := logging.New(cfg.LogLevel, "console")
	if cfg.DatabaseDSN == "" {
		log.Fatal("DB_DSN not set in environment")
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to open db", zap.Error(err))
	}

	accounts, err := auth.NewAccounts(auth.AccountsConfig{Store: repository.NewUsers(db), Logger: log})
	if err != nil {
		log.Fatal("accounts", zap.Error(err))
	}
	user, err := accounts.Create(context.Background(), auth.CreateRequest{
		Username: flag.Arg(0),
		Email:    flag.Arg(1),
		Password: flag.Arg(2),
		Role:     *role,
	})
	if auth.HasTextCode(err, auth.CodeEmailTaken) {
		fmt.Printf("account %s already exists\n", flag.Arg(1))
		return
	}
	if err != nil {
		log.Fatal("failed to create account", zap.Error(err))
	}
	fmt.Printf("created %s account %s id=%d\n", user.Role, user.Email, user.ID)
}
