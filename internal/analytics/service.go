package analytics

import (
	"context"

	"github.com/nulzo/chat-gateway/internal/store"
	"github.com/nulzo/chat-gateway/internal/store/model"
)

const (
	defaultDays   = 7
	maxDays       = 90
	defaultRecent = 20
	maxRecent     = 200
)

type Service interface {
	GetUsageOverview(ctx context.Context, days int) ([]model.DailyStats, error)
	GetRecent(ctx context.Context, limit int) ([]model.RequestLog, error)
}

type service struct {
	repo store.Repository
}

func NewService(repo store.Repository) Service {
	return &service{
		repo: repo,
	}
}

func (s *service) GetUsageOverview(ctx context.Context, days int) ([]model.DailyStats, error) {
	if days <= 0 {
		days = defaultDays
	}
	if days > maxDays {
		days = maxDays
	}
	return s.repo.Requests().GetDailyStats(ctx, days)
}

func (s *service) GetRecent(ctx context.Context, limit int) ([]model.RequestLog, error) {
	if limit <= 0 {
		limit = defaultRecent
	}
	if limit > maxRecent {
		limit = maxRecent
	}
	return s.repo.Requests().GetRecent(ctx, limit)
}
