package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nulzo/chat-gateway/internal/store"
	"github.com/nulzo/chat-gateway/internal/store/model"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB and *sqlx.Tx)
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SqliteRepository implements store.Repository
type SqliteRepository struct {
	db       *sqlx.DB // Required for starting new transactions
	executor DB       // Used for actual queries (can be *sqlx.DB or *sqlx.Tx)
}

func NewSqliteRepository(db *sqlx.DB) *SqliteRepository {
	return &SqliteRepository{
		db:       db,
		executor: db,
	}
}

func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

func (r *SqliteRepository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txRepo := &SqliteRepository{
		db:       r.db,
		executor: tx,
	}

	if err := fn(txRepo); err != nil {
		// attempt rollback, but prioritize original error
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *SqliteRepository) Tokens() store.TokenRepository {
	return &tokenRepo{db: r.executor}
}

func (r *SqliteRepository) Requests() store.RequestRepository {
	return &requestRepo{db: r.executor}
}

type tokenRepo struct {
	db DB
}

func (r *tokenRepo) ListActive(ctx context.Context, supplier string) ([]model.Token, error) {
	tokens := []model.Token{}
	query := `SELECT * FROM tokens WHERE supplier = ? AND status = 'active' ORDER BY id`
	err := r.db.SelectContext(ctx, &tokens, query, supplier)
	return tokens, err
}

func (r *tokenRepo) List(ctx context.Context) ([]model.Token, error) {
	tokens := []model.Token{}
	err := r.db.SelectContext(ctx, &tokens, `SELECT * FROM tokens ORDER BY supplier, id`)
	return tokens, err
}

func (r *tokenRepo) Get(ctx context.Context, supplier string, id int64) (*model.Token, error) {
	var t model.Token
	err := r.db.GetContext(ctx, &t, `SELECT * FROM tokens WHERE supplier = ? AND id = ?`, supplier, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: token %s#%d", store.ErrNotFound, supplier, id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tokenRepo) Upsert(ctx context.Context, token *model.Token) error {
	now := time.Now().UTC()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	query := `
	INSERT INTO tokens (id, supplier, secret, base_url, weight, status, created_at, updated_at)
	VALUES (:id, :supplier, :secret, :base_url, :weight, :status, :created_at, :updated_at)
	ON CONFLICT(supplier, id) DO UPDATE SET
		secret = excluded.secret,
		base_url = excluded.base_url,
		weight = excluded.weight,
		status = excluded.status,
		updated_at = excluded.updated_at`
	_, err := r.db.NamedExecContext(ctx, query, token)
	return err
}

func (r *tokenRepo) Delete(ctx context.Context, supplier string, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tokens WHERE supplier = ? AND id = ?`, supplier, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: token %s#%d", store.ErrNotFound, supplier, id)
	}
	return nil
}

type requestRepo struct {
	db DB
}

func (r *requestRepo) Log(ctx context.Context, log *model.RequestLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO request_logs (
		id, user_id, supplier, token_id, model_id, parent_message_id,
		status, message_count, output_chars, latency_ms, created_at
	) VALUES (
		:id, :user_id, :supplier, :token_id, :model_id, :parent_message_id,
		:status, :message_count, :output_chars, :latency_ms, :created_at
	)`
	_, err := r.db.NamedExecContext(ctx, query, log)
	return err
}

func (r *requestRepo) GetRecent(ctx context.Context, limit int) ([]model.RequestLog, error) {
	logs := []model.RequestLog{}
	query := `SELECT * FROM request_logs ORDER BY created_at DESC LIMIT ?`
	err := r.db.SelectContext(ctx, &logs, query, limit)
	return logs, err
}

func (r *requestRepo) GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error) {
	stats := []model.DailyStats{}
	query := `
		SELECT
			substr(created_at, 1, 10) as date,
			COUNT(*) as total_requests,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) as failed_requests,
			SUM(output_chars) as total_output_chars,
			AVG(latency_ms) as avg_latency
		FROM request_logs
		WHERE created_at >= ?
		GROUP BY date
		ORDER BY date DESC
	`
	since := time.Now().UTC().AddDate(0, 0, -days)
	err := r.db.SelectContext(ctx, &stats, query, since)
	return stats, err
}
