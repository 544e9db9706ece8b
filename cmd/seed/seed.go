package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/nulzo/chat-gateway/internal/config"
	"github.com/nulzo/chat-gateway/internal/store/model"
	"github.com/nulzo/chat-gateway/internal/store/sqlite"
	"github.com/nulzo/chat-gateway/internal/supplier"
)

// seed stores one supplier credential so the gateway picks it up on its next warm-up.
func main() {
	id := flag.Int64("id", 1, "token id, unique per supplier")
	name := flag.String("supplier", "openai", "anthropic, openai or stability")
	secret := flag.String("secret", "", "supplier API key")
	baseURL := flag.String("base-url", "", "override the supplier endpoint")
	weight := flag.Int("weight", 1, "selection weight")
	flag.Parse()

	if *secret == "" {
		log.Fatal("-secret is required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	repo, err := sqlite.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = repo.Close()
	}()

	token := supplier.Token{
		ID:       *id,
		Supplier: supplier.Name(*name),
		Secret:   *secret,
		BaseURL:  *baseURL,
		Weight:   *weight,
		Status:   supplier.StatusActive,
	}
	if err := repo.Tokens().Upsert(context.Background(), model.TokenFromDomain(token)); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Seeded token %s (%s)\n", token, token.SecretPrefix())
}
