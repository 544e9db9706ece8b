package model

import (
	"database/sql"
	"time"

	"github.com/nulzo/chat-gateway/internal/supplier"
)

// Token is a persisted supplier credential.
type Token struct {
	ID        int64     `db:"id" json:"id"`
	Supplier  string    `db:"supplier" json:"supplier"`
	Secret    string    `db:"secret" json:"-"`
	BaseURL   string    `db:"base_url" json:"base_url"`
	Weight    int       `db:"weight" json:"weight"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (t Token) Domain() supplier.Token {
	return supplier.Token{
		ID:       t.ID,
		Supplier: supplier.Name(t.Supplier),
		Secret:   t.Secret,
		BaseURL:  t.BaseURL,
		Weight:   t.Weight,
		Status:   supplier.Status(t.Status),
	}
}

func TokenFromDomain(t supplier.Token) *Token {
	status := t.Status
	if status == "" {
		status = supplier.StatusActive
	}
	return &Token{
		ID:       t.ID,
		Supplier: string(t.Supplier),
		Secret:   t.Secret,
		BaseURL:  t.BaseURL,
		Weight:   t.Weight,
		Status:   string(status),
	}
}

// RequestLog captures the metadata of one streamed completion. Message content is never stored.
type RequestLog struct {
	ID              string        `db:"id" json:"id"`
	UserID          sql.NullInt64 `db:"user_id" json:"user_id"`
	Supplier        string        `db:"supplier" json:"supplier"`
	TokenID         int64         `db:"token_id" json:"token_id"`
	ModelID         string        `db:"model_id" json:"model_id"`
	ParentMessageID string        `db:"parent_message_id" json:"parent_message_id"`
	Status          string        `db:"status" json:"status"`
	MessageCount    int           `db:"message_count" json:"message_count"`
	OutputChars     int           `db:"output_chars" json:"output_chars"`
	LatencyMS       int64         `db:"latency_ms" json:"latency_ms"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

const (
	RequestCompleted = "completed"
	RequestFailed    = "failed"
)

// DailyStats represents aggregated usage data for a specific day.
type DailyStats struct {
	Date             string  `db:"date" json:"date"`
	TotalRequests    int     `db:"total_requests" json:"total_requests"`
	FailedRequests   int     `db:"failed_requests" json:"failed_requests"`
	TotalOutputChars int64   `db:"total_output_chars" json:"total_output_chars"`
	AverageLatency   float64 `db:"avg_latency" json:"avg_latency"`
}
