package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/internal/platform/metrics"
	"github.com/nulzo/chat-gateway/internal/supplier"
	"github.com/nulzo/chat-gateway/pkg/api"
)

// ClientPool is the per-supplier set of live clients the agent delegates to.
type ClientPool interface {
	// InitClients re-establishes live clients from persisted credentials.
	InitClients(ctx context.Context) error
	PutClient(token supplier.Token) error
	RemoveClient(id int64) error
	GetClient(id int64) (supplier.Token, llm.Client, error)
	GetRandomClient(model string, caller *supplier.Caller) (supplier.Token, llm.Client, error)
	ListModels(ctx context.Context, liveOnly bool) ([]api.Model, error)
}

// modelSuppliers is the fixed key list ListModels aggregates, independent of which pools exist.
var modelSuppliers = []supplier.Name{supplier.Anthropic, supplier.OpenAI, supplier.Stability}

// Agent routes model names to supplier pools. Build one with New at process start and share it.
type Agent struct {
	routes  *RouteTable
	pools   map[supplier.Name]ClientPool
	logger  *zap.Logger
	tracer  trace.Tracer
	breaker BreakerConfig

	breakers  sync.Map // tokenKey -> *gobreaker.TwoStepCircuitBreaker
	startOnce sync.Once
}

type tokenKey struct {
	supplier supplier.Name
	id       int64
}

type Option func(*Agent)

func WithRoutes(t *RouteTable) Option {
	return func(a *Agent) { a.routes = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(a *Agent) { a.tracer = t }
}

func WithBreaker(cfg BreakerConfig) Option {
	return func(a *Agent) { a.breaker = cfg }
}

// New builds the agent over a fixed set of pools. Every routed supplier must have a pool.
func New(pools map[supplier.Name]ClientPool, opts ...Option) (*Agent, error) {
	a := &Agent{
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("github.com/nulzo/chat-gateway/internal/gateway"),
		breaker: DefaultBreakerConfig(),
		pools:   make(map[supplier.Name]ClientPool, len(pools)),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.routes == nil {
		t, err := NewRouteTable(DefaultRoutes)
		if err != nil {
			return nil, err
		}
		a.routes = t
	}

	for name, p := range pools {
		if p == nil {
			return nil, fmt.Errorf("nil pool for supplier %s", name)
		}
		a.pools[name] = p
	}
	for _, name := range a.routes.Suppliers() {
		if _, ok := a.pools[name]; !ok {
			return nil, fmt.Errorf("%w: %s is routed but has no pool", supplier.ErrUnknownSupplier, name)
		}
	}

	return a, nil
}

// Start warms up every pool in the background. Only the first call has an effect. Warm-up failures
// are logged; callers must not assume warm-up has finished when Start returns.
func (a *Agent) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		for _, name := range a.routes.Suppliers() {
			go a.warmUp(ctx, name, a.pools[name])
		}
	})
}

func (a *Agent) warmUp(ctx context.Context, name supplier.Name, p ClientPool) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Supplier init panicked", zap.String("supplier", string(name)), zap.Any("panic", r))
		}
	}()

	if err := p.InitClients(ctx); err != nil {
		a.logger.Warn("Supplier init failed", zap.String("supplier", string(name)), zap.Error(err))
		return
	}
	a.logger.Info("Supplier pool ready", zap.String("supplier", string(name)))
}

func (a *Agent) pool(name supplier.Name) (ClientPool, error) {
	p, ok := a.pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", supplier.ErrUnknownSupplier, name)
	}
	return p, nil
}

func (a *Agent) PutClient(token supplier.Token) error {
	p, err := a.pool(token.Supplier)
	if err != nil {
		return err
	}
	if err := p.PutClient(token); err != nil {
		return err
	}
	// a replaced credential starts with a clean breaker
	a.breakers.Delete(tokenKey{token.Supplier, token.ID})
	return nil
}

// RemoveClient takes token.ID out of its supplier's pool. An absent id is supplier.ErrNotFound.
func (a *Agent) RemoveClient(token supplier.Token) error {
	p, err := a.pool(token.Supplier)
	if err != nil {
		return err
	}
	if err := p.RemoveClient(token.ID); err != nil {
		return err
	}
	a.breakers.Delete(tokenKey{token.Supplier, token.ID})
	return nil
}

func (a *Agent) GetClient(name supplier.Name, id int64) (supplier.Token, llm.Client, error) {
	p, err := a.pool(name)
	if err != nil {
		return supplier.Token{}, nil, err
	}
	return p.GetClient(id)
}

// GetSupplierClient returns the pool serving model.
func (a *Agent) GetSupplierClient(model string) (ClientPool, error) {
	name, err := a.routes.Resolve(model)
	if err != nil {
		return nil, err
	}
	return a.pool(name)
}

// GetRandomClient selects a client for model, honoring the caller's affinity. An empty pool is
// reported as supplier.ErrPoolEmpty; selection is never retried.
func (a *Agent) GetRandomClient(ctx context.Context, model string, caller *supplier.Caller) (supplier.Token, *Proxy, error) {
	name, err := a.routes.Resolve(model)
	if err != nil {
		metrics.SelectionsTotal.WithLabelValues("none", "no_route").Inc()
		return supplier.Token{}, nil, err
	}
	p, err := a.pool(name)
	if err != nil {
		return supplier.Token{}, nil, err
	}

	token, client, err := p.GetRandomClient(model, caller)
	if err != nil {
		metrics.SelectionsTotal.WithLabelValues(string(name), "error").Inc()
		return supplier.Token{}, nil, err
	}
	metrics.SelectionsTotal.WithLabelValues(string(name), "ok").Inc()

	fields := []zap.Field{zap.String("model", model), zap.Stringer("token", token)}
	if caller.HasUser() {
		fields = append(fields, zap.String("user_id", strconv.FormatInt(*caller.UserID, 10)))
	}
	a.logger.Debug("Client selected", fields...)

	return token, a.proxy(token, client), nil
}

func (a *Agent) proxy(token supplier.Token, client llm.Client) *Proxy {
	key := tokenKey{token.Supplier, token.ID}
	b, ok := a.breakers.Load(key)
	if !ok {
		b, _ = a.breakers.LoadOrStore(key, newBreaker(token, a.breaker))
	}
	return &Proxy{
		token:   token,
		client:  client,
		breaker: b.(*gobreaker.TwoStepCircuitBreaker),
		tracer:  a.tracer,
	}
}

// ListModels aggregates the live models of the anthropic, openai and stability suppliers, in that
// order. A supplier that fails, panics or has no pool contributes nothing; the call itself never fails.
func (a *Agent) ListModels(ctx context.Context) []api.Model {
	results := make([][]api.Model, len(modelSuppliers))

	var wg sync.WaitGroup
	for i, name := range modelSuppliers {
		p, ok := a.pools[name]
		if !ok {
			a.logger.Debug("No pool for supplier, skipping model listing", zap.String("supplier", string(name)))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("Model listing panicked", zap.String("supplier", string(name)), zap.Any("panic", r))
				}
			}()

			models, err := p.ListModels(ctx, true)
			if err != nil {
				a.logger.Warn("Model listing failed", zap.String("supplier", string(name)), zap.Error(err))
				return
			}
			results[i] = models
		}()
	}
	wg.Wait()

	all := []api.Model{}
	for _, models := range results {
		all = append(all, models...)
	}
	return all
}
