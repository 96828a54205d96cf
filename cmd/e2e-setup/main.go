package main

import (
	"context"
	"flag"
	"log"
	"time"

	"korean-tutor-billing/internal/config"
	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/infra/auth"
	"korean-tutor-billing/internal/infra/db/postgres"
	"korean-tutor-billing/internal/infra/redis"
)

// Resets Postgres and Redis to a known state for manual end-to-end runs and
// prints a session token for the seeded user.
func main() {
	ctx := context.Background()

	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	userID := flag.String("user", "e2e-user", "id of the seeded user")
	email := flag.String("email", "e2e@example.com", "email of the seeded user")
	devMode := flag.Bool("dev", false, "skip production config validation")
	flag.Parse()

	cfg, err := config.Load(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	if cfg.Database.URL == "" || cfg.Redis.URL == "" {
		log.Fatalf("database.url and redis.url are required")
	}
	if cfg.Auth.SessionSecret == "" {
		log.Fatalf("auth.session_secret is required to mint a token")
	}

	// --- Connect to Postgres ---
	pool, err := postgres.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("postgres connection failed: %v", err)
	}
	defer pool.Close()

	// --- Connect to Redis ---
	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisClient.Close()

	log.Println("--- Starting E2E Environment Setup ---")

	log.Println("[1/4] Wiping Redis cache...")
	if err := redisClient.FlushDB(ctx); err != nil {
		log.Fatalf("failed to flush redis: %v", err)
	}

	log.Println("[2/4] Wiping all existing database data...")
	_, err = pool.Exec(ctx, `
		TRUNCATE
			subscription_history, subscriptions, payment_transactions, payment_orders, users
		RESTART IDENTITY CASCADE;
	`)
	if err != nil {
		log.Fatalf("failed to truncate tables: %v", err)
	}

	log.Println("[3/4] Seeding test user...")
	u, err := model.NewUser(*userID, "E2E Learner", *email, "+919999999999")
	if err != nil {
		log.Fatalf("invalid user: %v", err)
	}
	if err := postgres.NewPostgresUserRepo(pool).Save(ctx, nil, u); err != nil {
		log.Fatalf("failed to save user: %v", err)
	}

	log.Println("[4/4] Minting session token...")
	tok, err := auth.NewSessionManager(cfg.Auth.SessionSecret, 12*time.Hour).Mint(u.ID, u.Email)
	if err != nil {
		log.Fatalf("failed to mint token: %v", err)
	}
	log.Printf("Authorization: Bearer %s", tok)

	log.Println("--- E2E Environment Setup Complete ---")
}
