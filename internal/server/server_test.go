package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nulzo/chat-gateway/internal/analytics"
	"github.com/nulzo/chat-gateway/internal/config"
	"github.com/nulzo/chat-gateway/internal/gateway"
	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/internal/llm/llmtest"
	"github.com/nulzo/chat-gateway/internal/pool"
	"github.com/nulzo/chat-gateway/internal/store"
	"github.com/nulzo/chat-gateway/internal/store/sqlite"
	"github.com/nulzo/chat-gateway/internal/supplier"
	"github.com/nulzo/chat-gateway/pkg/api"
)

const (
	apiKey   = "test-key"
	adminKey = "admin-key"
)

type harness struct {
	t        *testing.T
	cfg      *config.Config
	server   *Server
	agent    *gateway.Agent
	repo     *sqlite.SqliteRepository
	ingestor analytics.Ingestor
	chunks   []llm.Chunk
	sendErr  error
	models   []api.Model
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &harness{t: t}

	repo, err := sqlite.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	h.repo = repo

	factory := func(token supplier.Token) (llm.Client, error) {
		return &llmtest.Client{Token: token, Chunks: h.chunks, StreamErr: h.sendErr, ModelList: h.models}, nil
	}
	pools, err := gateway.NewPools(gateway.MustRouteTable(gateway.DefaultRoutes), pool.WithFactory(factory))
	require.NoError(t, err)

	agent, err := gateway.New(pools)
	require.NoError(t, err)
	h.agent = agent

	ingestor := analytics.NewIngestor(zap.NewNop(), repo, analytics.WithBatch(1, time.Hour))
	ingestor.Start(context.Background())
	t.Cleanup(ingestor.Stop)
	h.ingestor = ingestor

	cfg := &config.Config{
		Server: config.ServerConfig{Port: "0", Env: "test", APIKeys: []string{apiKey}, AdminKeys: []string{adminKey}},
	}
	for _, m := range mutate {
		m(cfg)
	}
	h.cfg = cfg

	h.serve(repo)
	return h
}

// serve rebuilds the server on top of repo.
func (h *harness) serve(repo store.Repository) {
	h.server = New(h.cfg, zap.NewNop(), Deps{
		Agent:     h.agent,
		Repo:      repo,
		Ingestor:  h.ingestor,
		Analytics: analytics.NewService(h.repo),
	})
}

// commitFailRepo runs transactions to completion and then fails them as a commit would, leaving
// nothing written.
type commitFailRepo struct {
	*sqlite.SqliteRepository
}

var errCommit = errors.New("database is locked")

func (r commitFailRepo) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	return r.SqliteRepository.WithTx(ctx, func(repo store.Repository) error {
		if err := fn(repo); err != nil {
			return err
		}
		return errCommit
	})
}

func (h *harness) do(method, path, key string, body any, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func (h *harness) putToken(name supplier.Name, id int64) {
	h.t.Helper()
	require.NoError(h.t, h.agent.PutClient(supplier.Token{ID: id, Supplier: name, Secret: "sk-test-secret"}))
}

func events(t *testing.T, body string) []api.Message {
	t.Helper()
	var out []api.Message
	for _, block := range strings.Split(body, "\n\n") {
		if block == "" {
			continue
		}
		var msg api.Message
		require.NoError(t, json.Unmarshal([]byte(block), &msg), block)
		out = append(out, msg)
	}
	return out
}

func problem(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func chatBody(model string) api.ChatRequest {
	return api.ChatRequest{
		Model:           model,
		ParentMessageID: "parent-1",
		Messages:        []api.ChatMessage{{Role: api.User, Content: "hello?"}},
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"chat-gateway"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/metrics", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chat_gateway_")
}

func TestChat_Unauthorized(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/v1/chat/completions", "wrong", chatBody("gpt-4o"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.EqualValues(t, 401, problem(t, w)["status"])
}

func TestChat_XAPIKeyHeader(t *testing.T) {
	h := newHarness(t)
	h.chunks = llmtest.Data(`{"content":"ok"}`, "[DONE]")
	h.putToken(supplier.OpenAI, 1)

	w := h.do(http.MethodPost, "/v1/chat/completions", "", chatBody("gpt-4o"), "X-API-Key", apiKey)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChat_Validation(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/v1/chat/completions", apiKey, api.ChatRequest{Model: "gpt-4o"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	errs, ok := problem(t, w)["errors"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, errs, "messages")
}

func TestChat_NoProviderForModel(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/v1/chat/completions", apiKey, chatBody("llama-3"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, problem(t, w)["detail"], "no provider for model")
}

func TestChat_EmptyPool(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/v1/chat/completions", apiKey, chatBody("claude-3-5-sonnet-20241022"))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestChat_BadUserID(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/v1/chat/completions", apiKey, chatBody("gpt-4o"), "X-User-ID", "abc")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_Stream(t *testing.T) {
	h := newHarness(t)
	h.chunks = llmtest.Data(`{"role":"assistant","content":"He"}`, `{"content":"l`, `lo"}`, "[DONE]")
	h.putToken(supplier.OpenAI, 1)

	w := h.do(http.MethodPost, "/v1/chat/completions", apiKey, chatBody("gpt-4o"), "X-User-ID", "7")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	evs := events(t, w.Body.String())
	require.Len(t, evs, 3)
	assert.Equal(t, "He", evs[0].Content)
	assert.Equal(t, "Hello", evs[1].Content)
	assert.Equal(t, api.SegmentStop, evs[2].Segment)
	assert.Equal(t, "Hello", evs[2].Content)
	for _, e := range evs {
		assert.Equal(t, "parent-1", e.ParentMessageID)
		assert.Equal(t, evs[0].ID, e.ID)
	}
	assert.NotEmpty(t, evs[0].ID)

	assert.Eventually(t, func() bool {
		logs, err := h.repo.Requests().GetRecent(context.Background(), 5)
		return err == nil && len(logs) == 1 && logs[0].OutputChars == 5 && logs[0].UserID.Int64 == 7
	}, time.Second, 10*time.Millisecond)
}

func TestChat_StreamErrorIsInBand(t *testing.T) {
	h := newHarness(t)
	h.chunks = []llm.Chunk{{Data: `{"content":"par"}`}, {Err: errors.New("connection reset by peer")}}
	h.putToken(supplier.OpenAI, 1)

	w := h.do(http.MethodPost, "/v1/chat/completions", apiKey, chatBody("gpt-4o"))

	require.Equal(t, http.StatusOK, w.Code)
	evs := events(t, w.Body.String())
	require.Len(t, evs, 2)
	assert.Equal(t, "par", evs[0].Content)
	assert.Equal(t, api.SegmentError, evs[1].Segment)
	assert.Equal(t, "connection reset by peer", evs[1].Content)
}

func TestChat_TruncatedRecord(t *testing.T) {
	h := newHarness(t)
	h.chunks = llmtest.Data(`{"content":"ok"}`, `{"content":"cut`)
	h.putToken(supplier.OpenAI, 1)

	w := h.do(http.MethodPost, "/v1/chat/completions", apiKey, chatBody("gpt-4o"))

	evs := events(t, w.Body.String())
	require.Len(t, evs, 3)
	assert.Equal(t, api.SegmentStop, evs[1].Segment)
	assert.Equal(t, api.SegmentError, evs[2].Segment)
	assert.Contains(t, evs[2].Content, "truncated record")
}

func TestChat_UpstreamCredentialFailure(t *testing.T) {
	h := newHarness(t)
	h.sendErr = api.NewError(http.StatusUnauthorized, "Upstream Provider Error", "invalid api key")
	h.putToken(supplier.OpenAI, 1)

	w := h.do(http.MethodPost, "/v1/chat/completions", apiKey, chatBody("gpt-4o"))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "invalid api key", problem(t, w)["detail"])
}

func TestModels(t *testing.T) {
	h := newHarness(t)
	h.models = []api.Model{{ID: "gpt-4o", Object: "model", Supplier: "openai"}}
	h.putToken(supplier.OpenAI, 1)

	w := h.do(http.MethodGet, "/v1/models", apiKey, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var list api.ModelList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "gpt-4o", list.Data[0].ID)
}

func TestAdmin_Disabled(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Server.AdminKeys = nil })
	w := h.do(http.MethodGet, "/v1/admin/tokens", adminKey, nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdmin_RejectsAPIKey(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/v1/admin/tokens", apiKey, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdmin_TokenLifecycle(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/v1/admin/tokens", adminKey, api.TokenRequest{
		ID: 4, Supplier: "anthropic", Secret: "sk-ant-secret", Weight: 2,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "sk-ant-secret")

	w = h.do(http.MethodGet, "/v1/admin/tokens/anthropic/4", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got api.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, api.TokenResponse{ID: 4, Supplier: "anthropic", Weight: 2, Status: "active", SecretPrefix: "sk-ant..."}, got)

	stored, err := h.repo.Tokens().Get(context.Background(), "anthropic", 4)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-secret", stored.Secret)

	w = h.do(http.MethodGet, "/v1/admin/tokens", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"supplier":"anthropic"`)

	w = h.do(http.MethodDelete, "/v1/admin/tokens/anthropic/4", adminKey, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(http.MethodGet, "/v1/admin/tokens/anthropic/4", adminKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodDelete, "/v1/admin/tokens/anthropic/4", adminKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_DisabledTokenLeavesRotation(t *testing.T) {
	h := newHarness(t)
	h.putToken(supplier.OpenAI, 1)

	w := h.do(http.MethodPost, "/v1/admin/tokens", adminKey, api.TokenRequest{
		ID: 1, Supplier: "openai", Secret: "sk-test-secret", Status: "disabled",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = h.do(http.MethodPost, "/v1/chat/completions", apiKey, chatBody("gpt-4o"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdmin_FailedCommitLeavesPoolUnchanged(t *testing.T) {
	h := newHarness(t)
	h.putToken(supplier.OpenAI, 1)
	h.serve(commitFailRepo{h.repo})

	w := h.do(http.MethodPost, "/v1/admin/tokens", adminKey, api.TokenRequest{
		ID: 2, Supplier: "openai", Secret: "sk-new-secret",
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	_, _, err := h.agent.GetClient(supplier.OpenAI, 2)
	assert.ErrorIs(t, err, supplier.ErrNotFound)

	w = h.do(http.MethodPost, "/v1/admin/tokens", adminKey, api.TokenRequest{
		ID: 1, Supplier: "openai", Secret: "sk-rotated-secret",
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	token, _, err := h.agent.GetClient(supplier.OpenAI, 1)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-secret", token.Secret)

	_, err = h.repo.Tokens().Get(context.Background(), "openai", 2)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAdmin_BadTokenID(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/v1/admin/tokens/openai/abc", adminKey, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_Usage(t *testing.T) {
	h := newHarness(t)
	h.chunks = llmtest.Data(`{"content":"hi"}`, "[DONE]")
	h.putToken(supplier.OpenAI, 1)
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/chat/completions", apiKey, chatBody("gpt-4o")).Code)

	assert.Eventually(t, func() bool {
		w := h.do(http.MethodGet, "/v1/admin/usage?days=1", adminKey, nil)
		return w.Code == http.StatusOK && strings.Contains(w.Body.String(), `"total_requests":1`)
	}, time.Second, 10*time.Millisecond)

	w := h.do(http.MethodGet, "/v1/admin/usage?days=x", adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodGet, "/v1/admin/requests", adminKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"model_id":"gpt-4o"`)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	})

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/models", apiKey, nil).Code)
	w := h.do(http.MethodGet, "/v1/models", apiKey, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRecovery(t *testing.T) {
	h := newHarness(t)
	h.server.router.GET("/boom", func(*gin.Context) { panic("boom") })

	w := h.do(http.MethodGet, "/boom", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
