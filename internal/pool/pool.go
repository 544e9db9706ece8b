package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/internal/platform/metrics"
	"github.com/nulzo/chat-gateway/internal/store/cache"
	"github.com/nulzo/chat-gateway/internal/supplier"
	"github.com/nulzo/chat-gateway/pkg/api"
)

const defaultModelsTTL = 10 * time.Minute

// TokenSource yields the persisted credentials a pool re-establishes on warm-up.
type TokenSource interface {
	ListActive(ctx context.Context, name supplier.Name) ([]supplier.Token, error)
}

type entry struct {
	token  supplier.Token
	client llm.Client
}

// Pool holds the live clients of one supplier, keyed by token id.
type Pool struct {
	name    supplier.Name
	factory llm.Factory
	source  TokenSource
	cache   cache.CacheService
	ttl     time.Duration
	logger  *zap.Logger
	intn    func(n int) int

	mu      sync.RWMutex
	entries map[int64]entry
	// ids is kept sorted so selection walks tokens in a stable order.
	ids []int64
	// gen advances on every membership change; a listing fetched under an older gen is not cached.
	gen uint64
}

type Option func(*Pool)

func WithSource(src TokenSource) Option {
	return func(p *Pool) { p.source = src }
}

// WithCache caches model listings for ttl.
func WithCache(c cache.CacheService, ttl time.Duration) Option {
	return func(p *Pool) {
		p.cache = c
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithFactory overrides the registered client factory of the supplier.
func WithFactory(f llm.Factory) Option {
	return func(p *Pool) { p.factory = f }
}

// WithRand replaces the random source used for selection.
func WithRand(intn func(n int) int) Option {
	return func(p *Pool) { p.intn = intn }
}

func New(name supplier.Name, opts ...Option) (*Pool, error) {
	p := &Pool{
		name:    name,
		ttl:     defaultModelsTTL,
		logger:  zap.NewNop(),
		intn:    rand.IntN,
		entries: make(map[int64]entry),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.factory == nil {
		f, err := llm.Get(name)
		if err != nil {
			return nil, err
		}
		p.factory = f
	}
	p.logger = p.logger.With(zap.String("supplier", string(name)))
	metrics.PoolClients.WithLabelValues(string(name)).Set(0)

	return p, nil
}

func (p *Pool) Name() supplier.Name { return p.name }

// InitClients loads the active credentials from the token source and makes each one live.
// Tokens that fail to build are skipped; the returned error joins their failures.
func (p *Pool) InitClients(ctx context.Context) error {
	if p.source == nil {
		return nil
	}

	tokens, err := p.source.ListActive(ctx, p.name)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", supplier.ErrSupplierInit, p.name, err)
	}

	var errs []error
	for _, t := range tokens {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.PutClient(t); err != nil {
			errs = append(errs, err)
			continue
		}
	}

	p.logger.Info("Client pool warmed up",
		zap.Int("tokens", len(tokens)),
		zap.Int("live", p.Len()),
	)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s: %w", supplier.ErrSupplierInit, p.name, errors.Join(errs...))
	}
	return nil
}

// PutClient makes token live, replacing any client already held under its id.
// A disabled token is taken out of rotation instead.
func (p *Pool) PutClient(token supplier.Token) error {
	if token.Supplier != p.name {
		return fmt.Errorf("%w: %s offered to the %s pool", supplier.ErrUnknownSupplier, token, p.name)
	}

	if !token.Active() {
		p.mu.Lock()
		p.remove(token.ID)
		p.mu.Unlock()
		p.invalidateModels()
		return nil
	}

	client, err := p.factory(token)
	if err != nil {
		return fmt.Errorf("failed to build client for %s: %w", token, err)
	}

	p.mu.Lock()
	if _, exists := p.entries[token.ID]; !exists {
		i, _ := slices.BinarySearch(p.ids, token.ID)
		p.ids = slices.Insert(p.ids, i, token.ID)
	}
	p.entries[token.ID] = entry{token: token, client: client}
	p.gen++
	size := len(p.ids)
	p.mu.Unlock()

	metrics.PoolClients.WithLabelValues(string(p.name)).Set(float64(size))
	p.invalidateModels()
	p.logger.Debug("Client registered", zap.Int64("token_id", token.ID))
	return nil
}

// RemoveClient drops the client held under id. An absent id is reported as supplier.ErrNotFound.
func (p *Pool) RemoveClient(id int64) error {
	p.mu.Lock()
	removed := p.remove(id)
	p.mu.Unlock()

	if !removed {
		return fmt.Errorf("%w: %s#%d", supplier.ErrNotFound, p.name, id)
	}
	p.invalidateModels()
	p.logger.Debug("Client removed", zap.Int64("token_id", id))
	return nil
}

// remove must be called with mu held.
func (p *Pool) remove(id int64) bool {
	if _, exists := p.entries[id]; !exists {
		return false
	}
	delete(p.entries, id)
	p.gen++
	if i, found := slices.BinarySearch(p.ids, id); found {
		p.ids = slices.Delete(p.ids, i, i+1)
	}
	metrics.PoolClients.WithLabelValues(string(p.name)).Set(float64(len(p.ids)))
	return true
}

func (p *Pool) GetClient(id int64) (supplier.Token, llm.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[id]
	if !ok {
		return supplier.Token{}, nil, fmt.Errorf("%w: %s#%d", supplier.ErrNotFound, p.name, id)
	}
	return e.token, e.client, nil
}

// GetRandomClient picks a live client, weighted by token weight. A caller with a user id is pinned to
// the same token for as long as the live set does not change.
func (p *Pool) GetRandomClient(model string, caller *supplier.Caller) (supplier.Token, llm.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.ids) == 0 {
		return supplier.Token{}, nil, fmt.Errorf("%w: %s has no live clients for %s", supplier.ErrPoolEmpty, p.name, model)
	}

	total := 0
	for _, id := range p.ids {
		total += p.entries[id].token.EffectiveWeight()
	}

	var point int
	if caller.HasUser() {
		point = int(xxhash.Sum64String(strconv.FormatInt(*caller.UserID, 10)) % uint64(total))
	} else {
		point = p.intn(total)
	}

	for _, id := range p.ids {
		e := p.entries[id]
		point -= e.token.EffectiveWeight()
		if point < 0 {
			return e.token, e.client, nil
		}
	}

	// unreachable while weights are positive
	e := p.entries[p.ids[len(p.ids)-1]]
	return e.token, e.client, nil
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.ids)
}

// Tokens returns the live credentials in id order.
func (p *Pool) Tokens() []supplier.Token {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]supplier.Token, 0, len(p.ids))
	for _, id := range p.ids {
		out = append(out, p.entries[id].token)
	}
	return out
}

func (p *Pool) modelsKey(liveOnly bool) string {
	if liveOnly {
		return "models:" + string(p.name) + ":live"
	}
	return "models:" + string(p.name) + ":all"
}

func (p *Pool) invalidateModels() {
	if p.cache == nil {
		return
	}
	ctx := context.Background()
	_ = p.cache.Delete(ctx, p.modelsKey(true))
	_ = p.cache.Delete(ctx, p.modelsKey(false))
}

// ListModels returns the supplier's models in its native order. With liveOnly the listing comes from a
// live client and an empty pool has no models; otherwise the static catalog backs a failed or
// impossible live listing.
func (p *Pool) ListModels(ctx context.Context, liveOnly bool) ([]api.Model, error) {
	key := p.modelsKey(liveOnly)
	if p.cache != nil {
		var cached []api.Model
		if err := p.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	models, gen, err := p.liveModels(ctx)
	if err != nil {
		if liveOnly {
			return nil, err
		}
		p.logger.Warn("Live model listing failed, serving catalog", zap.Error(err))
		models = nil
	}
	if models == nil && !liveOnly {
		models = llm.Catalog(p.name)
	}
	if models == nil {
		models = []api.Model{}
	}

	if p.cache != nil {
		p.storeModels(ctx, key, models, gen)
	}
	return models, nil
}

// storeModels caches models unless the membership changed since they were fetched. The write happens
// under the read lock so no change lands between the check and the Set.
func (p *Pool) storeModels(ctx context.Context, key string, models []api.Model, gen uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.gen != gen {
		p.logger.Debug("Pool changed during model listing, not caching")
		return
	}
	if err := p.cache.Set(ctx, key, models, p.ttl); err != nil {
		p.logger.Warn("Failed to cache model listing", zap.Error(err))
	}
}

// liveModels returns nil without error when the pool has no live client. gen is the membership
// generation the listing was taken from.
func (p *Pool) liveModels(ctx context.Context) ([]api.Model, uint64, error) {
	p.mu.RLock()
	gen := p.gen
	var client llm.Client
	if len(p.ids) > 0 {
		client = p.entries[p.ids[0]].client
	}
	p.mu.RUnlock()

	if client == nil {
		return nil, gen, nil
	}
	models, err := client.Models(ctx)
	return models, gen, err
}
