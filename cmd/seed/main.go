package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/ireporter/api/internal/auth"
	"github.com/ireporter/api/internal/config"
	"github.com/ireporter/api/internal/database"
	"github.com/ireporter/api/internal/log"
	"github.com/ireporter/api/internal/model"
	"github.com/ireporter/api/internal/store"
)

// seed creates a development admin and citizen account and prints a bearer
// token for each, so the records API can be exercised without a login flow.
func main() {
	adminEmail := flag.String("admin", "admin@ireporter.dev", "Email of the admin account")
	userEmail := flag.String("user", "citizen@ireporter.dev", "Email of the citizen account")
	ttl := flag.Duration("ttl", 24*time.Hour, "Lifetime of the printed tokens")
	flag.Parse()

	cfg := config.Load()
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "ireporter-seed"})
	logger := log.WithComponent("seed")

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	users := store.NewUserStore(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	accounts := []*model.User{
		{Email: *adminEmail, Name: "Admin", Role: model.RoleAdmin},
		{Email: *userEmail, Name: "Citizen", Role: model.RoleUser},
	}
	for _, u := range accounts {
		if err := users.Upsert(ctx, u); err != nil {
			logger.Fatal().Err(err).Str("email", u.Email).Msg("failed to upsert user")
		}

		token, err := auth.GenerateAccessToken(u, cfg.JWTSecret, *ttl)
		if err != nil {
			logger.Fatal().Err(err).Str("email", u.Email).Msg("failed to sign token")
		}

		logger.Info().Int64("user_id", u.ID).Str("email", u.Email).Str("role", u.Role).Msg("seeded user")
		fmt.Printf("%s (%s)\n  Authorization: Bearer %s\n", u.Email, u.Role, token)
	}
}
