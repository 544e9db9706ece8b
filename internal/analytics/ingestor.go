package analytics

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nulzo/chat-gateway/internal/chat"
	"github.com/nulzo/chat-gateway/internal/platform/metrics"
	"github.com/nulzo/chat-gateway/internal/store"
	"github.com/nulzo/chat-gateway/internal/store/model"
	"github.com/nulzo/chat-gateway/internal/supplier"
	"github.com/nulzo/chat-gateway/pkg/api"
)

// Ingestor handles the asynchronous persistence of request logs.
type Ingestor interface {
	Log(log *model.RequestLog)
	// Recorder returns a FinishHandler that logs the finished turn described by meta.
	Recorder(meta Meta) chat.FinishHandler
	Start(ctx context.Context)
	Stop()
}

// Meta identifies one chat stream for logging.
type Meta struct {
	Supplier        supplier.Name
	TokenID         int64
	Caller          *supplier.Caller
	ParentMessageID string
	Started         time.Time
}

// Failed builds the log row for a stream that ended in err.
func (m Meta) Failed(modelID string, messages int) *model.RequestLog {
	log := m.row(modelID, messages)
	log.Status = model.RequestFailed
	return log
}

func (m Meta) row(modelID string, messages int) *model.RequestLog {
	log := &model.RequestLog{
		ID:              uuid.NewString(),
		Supplier:        string(m.Supplier),
		TokenID:         m.TokenID,
		ModelID:         modelID,
		ParentMessageID: m.ParentMessageID,
		MessageCount:    messages,
		LatencyMS:       time.Since(m.Started).Milliseconds(),
	}
	if m.Caller.HasUser() {
		log.UserID = sql.NullInt64{Int64: *m.Caller.UserID, Valid: true}
	}
	return log
}

type Option func(*ingestor)

func WithBatch(size int, flush time.Duration) Option {
	return func(i *ingestor) {
		if size > 0 {
			i.batchSize = size
		}
		if flush > 0 {
			i.flushTime = flush
		}
	}
}

func WithBuffer(n int) Option {
	return func(i *ingestor) {
		i.logChan = make(chan *model.RequestLog, n)
	}
}

type ingestor struct {
	logger    *zap.Logger
	repo      store.Repository
	logChan   chan *model.RequestLog
	batchSize int
	flushTime time.Duration

	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

func NewIngestor(logger *zap.Logger, repo store.Repository, opts ...Option) Ingestor {
	i := &ingestor{
		logger:    logger,
		repo:      repo,
		logChan:   make(chan *model.RequestLog, 10000),
		batchSize: 50,
		flushTime: 5 * time.Second,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *ingestor) Log(log *model.RequestLog) {
	select {
	case i.logChan <- log:
	default:
		metrics.AnalyticsDroppedTotal.Inc()
		i.logger.Warn("Analytics buffer full, dropping log", zap.String("request_id", log.ID))
	}
}

func (i *ingestor) Recorder(meta Meta) chat.FinishHandler {
	return func(_ context.Context, history []api.Message, modelID string) {
		log := meta.row(modelID, len(history))
		log.Status = model.RequestCompleted
		if n := len(history); n > 0 && history[n-1].Role == api.Assistant {
			log.OutputChars = len(history[n-1].Content)
		}
		i.Log(log)
	}
}

func (i *ingestor) Start(ctx context.Context) {
	if i.started.CompareAndSwap(false, true) {
		go i.worker(ctx)
	}
}

// Stop closes the buffer and waits for the worker to flush what it holds.
func (i *ingestor) Stop() {
	i.stopOnce.Do(func() {
		close(i.logChan)
	})
	if i.started.Load() {
		<-i.done
	}
}

func (i *ingestor) worker(ctx context.Context) {
	defer close(i.done)

	batch := make([]*model.RequestLog, 0, i.batchSize)
	ticker := time.NewTicker(i.flushTime)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		err := i.repo.WithTx(context.Background(), func(repo store.Repository) error {
			for _, log := range batch {
				if err := repo.Requests().Log(context.Background(), log); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			i.logger.Error("Failed to persist request logs", zap.Int("count", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case log, ok := <-i.logChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, log)
			if len(batch) >= i.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}
