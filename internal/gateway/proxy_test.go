package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/internal/llm/llmtest"
	"github.com/nulzo/chat-gateway/internal/supplier"
	"github.com/nulzo/chat-gateway/pkg/api"
)

func newTestProxy(client *llmtest.Client, cfg BreakerConfig) *Proxy {
	return &Proxy{
		token:   client.Token,
		client:  client,
		breaker: newBreaker(client.Token, cfg),
		tracer:  noop.NewTracerProvider().Tracer("test"),
	}
}

func drain(ch <-chan llm.Chunk) []llm.Chunk {
	var out []llm.Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestProxy_ForwardsChunks(t *testing.T) {
	client := &llmtest.Client{
		Token:  supplier.Token{ID: 1, Supplier: supplier.OpenAI},
		Chunks: llmtest.Data(`{"content":"a"}`, `{"content":"b"}`),
	}
	p := newTestProxy(client, DefaultBreakerConfig())

	ch, err := p.Stream(context.Background(), &llm.Request{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, client.Chunks, drain(ch))
}

func TestProxy_BreakerOpensOnStreamFailures(t *testing.T) {
	client := &llmtest.Client{
		Token:  supplier.Token{ID: 1, Supplier: supplier.OpenAI},
		Chunks: []llm.Chunk{{Err: api.ProviderError("overloaded", errors.New("503"))}},
	}
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 2
	p := newTestProxy(client, cfg)

	for i := 0; i < 2; i++ {
		ch, err := p.Stream(context.Background(), &llm.Request{Model: "gpt-4o"})
		require.NoError(t, err)
		drain(ch)
	}

	_, err := p.Stream(context.Background(), &llm.Request{Model: "gpt-4o"})
	assert.ErrorIs(t, err, supplier.ErrClientUnavailable)
	assert.Equal(t, int64(2), client.Streams())
}

func TestProxy_StreamErrorCounts(t *testing.T) {
	client := &llmtest.Client{
		Token:     supplier.Token{ID: 1, Supplier: supplier.OpenAI},
		StreamErr: errors.New("dial tcp: refused"),
	}
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 1
	p := newTestProxy(client, cfg)

	_, err := p.Stream(context.Background(), &llm.Request{})
	assert.EqualError(t, err, "dial tcp: refused")

	_, err = p.Stream(context.Background(), &llm.Request{})
	assert.ErrorIs(t, err, supplier.ErrClientUnavailable)
}

func TestCountsAsFailure(t *testing.T) {
	assert.False(t, countsAsFailure(nil))
	assert.False(t, countsAsFailure(context.Canceled))
	assert.False(t, countsAsFailure(api.BadRequestError("bad model")))
	assert.True(t, countsAsFailure(api.NewError(http.StatusUnauthorized, "Unauthorized", "bad key")))
	assert.True(t, countsAsFailure(api.NewError(http.StatusTooManyRequests, "Too Many Requests", "slow down")))
	assert.True(t, countsAsFailure(api.ProviderError("x", nil)))
	assert.True(t, countsAsFailure(errors.New("eof")))
}

func TestAgent_ProxySharesBreakerPerToken(t *testing.T) {
	f := newFixture(t)
	token := supplier.Token{ID: 1, Supplier: supplier.OpenAI}
	client := &llmtest.Client{Token: token}

	first := f.agent.proxy(token, client)
	second := f.agent.proxy(token, client)
	assert.Same(t, first.breaker, second.breaker)

	f.openai.On("RemoveClient", int64(1)).Return(nil)
	require.NoError(t, f.agent.RemoveClient(token))

	third := f.agent.proxy(token, client)
	assert.NotSame(t, first.breaker, third.breaker)
}
