package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nulzo/chat-gateway/internal/config"
	"github.com/nulzo/chat-gateway/internal/pool"
	"github.com/nulzo/chat-gateway/internal/store"
	"github.com/nulzo/chat-gateway/internal/store/model"
	"github.com/nulzo/chat-gateway/internal/supplier"
)

// SeedTokens writes the credentials declared in configuration to the store, so pool warm-up picks
// them up with the rest. Existing rows with the same supplier and id are replaced.
func SeedTokens(ctx context.Context, repo store.Repository, tokens []config.TokenConfig, log *zap.Logger) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}

	err := repo.WithTx(ctx, func(tx store.Repository) error {
		for _, t := range tokens {
			row := model.TokenFromDomain(supplier.Token{
				ID:       t.ID,
				Supplier: supplier.Name(t.Supplier),
				Secret:   t.Secret,
				BaseURL:  t.BaseURL,
				Weight:   t.Weight,
				Status:   supplier.Status(t.Status),
			})
			if err := tx.Tokens().Upsert(ctx, row); err != nil {
				return fmt.Errorf("failed to seed token %s#%d: %w", t.Supplier, t.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info("Bootstrap tokens seeded", zap.Int("count", len(tokens)))
	return len(tokens), nil
}

// NewPools builds one pool per routed supplier, all warming up from the same store.
func NewPools(routes *RouteTable, opts ...pool.Option) (map[supplier.Name]ClientPool, error) {
	pools := make(map[supplier.Name]ClientPool)
	for _, name := range routes.Suppliers() {
		p, err := pool.New(name, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s pool: %w", name, err)
		}
		pools[name] = p
	}
	return pools, nil
}
