// seed inserts a bootstrap account for local testing. Idempotent: skips the
// insert if the account email already exists. Email and password come from
// SEED_EMAIL and SEED_PASSWORD (defaults suit local development only).
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	accountdomain "authguard/core/internal/account/domain"
	accountrepo "authguard/core/internal/account/repository"
	"authguard/core/internal/config"
	"authguard/core/internal/db"
	"authguard/core/internal/security"
)

const (
	defaultSeedEmail    = "dev@example.com"
	defaultSeedPassword = "Dev-Password-123!"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	email := os.Getenv("SEED_EMAIL")
	if email == "" {
		email = defaultSeedEmail
	}
	password := os.Getenv("SEED_PASSWORD")
	if password == "" {
		password = defaultSeedPassword
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	accounts := accountrepo.NewPostgresRepository(conn)
	existing, err := accounts.GetByEmail(ctx, email)
	if err != nil {
		log.Fatalf("seed: lookup: %v", err)
	}
	if existing != nil {
		log.Printf("seed: account %s already exists, skipping", email)
		return
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	hash, err := hasher.Hash([]byte(password))
	if err != nil {
		log.Fatalf("seed: hash: %v", err)
	}
	now := time.Now().UTC()
	account := &accountdomain.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := account.Validate(); err != nil {
		log.Fatalf("seed: validate: %v", err)
	}
	if err := accounts.Create(ctx, account); err != nil {
		log.Fatalf("seed: create: %v", err)
	}
	log.Printf("seed: created account %s (%s)", email, account.ID)
}
