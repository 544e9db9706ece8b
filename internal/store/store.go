package store

import (
	"context"
	"errors"

	"github.com/nulzo/chat-gateway/internal/store/model"
	"github.com/nulzo/chat-gateway/internal/supplier"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("record not found")

// Repository is the main contract for the data layer.
type Repository interface {
	Tokens() TokenRepository
	Requests() RequestRepository

	// transaction support
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}

type TokenRepository interface {
	// ListActive returns the active credentials of one supplier ordered by id.
	ListActive(ctx context.Context, supplier string) ([]model.Token, error)
	// List returns every stored credential.
	List(ctx context.Context) ([]model.Token, error)
	Get(ctx context.Context, supplier string, id int64) (*model.Token, error)
	// Upsert inserts the credential or replaces the stored one with the same supplier and id.
	Upsert(ctx context.Context, token *model.Token) error
	Delete(ctx context.Context, supplier string, id int64) error
}

type RequestRepository interface {
	// Log stores the metadata of a completed chat stream.
	Log(ctx context.Context, log *model.RequestLog) error
	// GetRecent returns the last N logs, newest first.
	GetRecent(ctx context.Context, limit int) ([]model.RequestLog, error)
	// GetDailyStats returns aggregated stats grouped by day.
	GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error)
}

// ActiveTokens exposes the repository as a warm-up source for client pools.
type ActiveTokens struct {
	Repo Repository
}

func (a ActiveTokens) ListActive(ctx context.Context, name supplier.Name) ([]supplier.Token, error) {
	rows, err := a.Repo.Tokens().ListActive(ctx, string(name))
	if err != nil {
		return nil, err
	}
	tokens := make([]supplier.Token, 0, len(rows))
	for _, r := range rows {
		tokens = append(tokens, r.Domain())
	}
	return tokens, nil
}
