package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nulzo/chat-gateway/internal/analytics"
	"github.com/nulzo/chat-gateway/internal/chat"
	"github.com/nulzo/chat-gateway/internal/gateway"
	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/internal/platform/metrics"
	"github.com/nulzo/chat-gateway/internal/server/middleware"
	"github.com/nulzo/chat-gateway/internal/server/validator"
	"github.com/nulzo/chat-gateway/pkg/api"
)

type ChatHandler struct {
	agent    *gateway.Agent
	ingestor analytics.Ingestor
	logger   *zap.Logger
}

func NewChatHandler(agent *gateway.Agent, ingestor analytics.Ingestor, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		agent:    agent,
		ingestor: ingestor,
		logger:   logger,
	}
}

// CreateCompletion streams one assistant turn as framed wire events.
//
// POST /v1/chat/completions
func (h *ChatHandler) CreateCompletion(c *gin.Context) {
	var req api.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}

	ctx := c.Request.Context()
	caller := middleware.CallerFrom(c)

	token, proxy, err := h.agent.GetRandomClient(ctx, req.Model, caller)
	if err != nil {
		_ = c.Error(err)
		return
	}

	sink := chat.NewGinSink(c)
	defer sink.Close()

	session := chat.NewSession(sink, chat.Options{
		Model:           req.Model,
		ParentMessageID: req.ParentMessageID,
		Converter:       proxy.Converter(),
		Logger:          h.logger,
	})
	for _, m := range req.Messages {
		session.Chat(api.Message{Role: m.Role, Content: m.Content})
	}

	meta := analytics.Meta{
		Supplier:        token.Supplier,
		TokenID:         token.ID,
		Caller:          caller,
		ParentMessageID: req.ParentMessageID,
		Started:         time.Now(),
	}
	session.OnFinish(h.ingestor.Recorder(meta))

	chunks, err := proxy.Stream(ctx, &llm.Request{
		Model:       req.Model,
		Messages:    session.Outbound(),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		h.ingestor.Log(meta.Failed(req.Model, len(req.Messages)))
		_ = c.Error(upstreamFailure(err))
		return
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	err = session.Relay(ctx, uuid.NewString(), proxy.Decoder(), chunks)
	if err == nil {
		return
	}

	if !errors.Is(err, chat.ErrTruncatedRecord) {
		// the turn finished and was recorded before the leftover bytes were reported
		h.ingestor.Log(meta.Failed(req.Model, len(req.Messages)))
	}
	if errors.Is(err, context.Canceled) {
		h.logger.Debug("Client went away mid-stream", zap.Stringer("token", token))
		return
	}
	h.logger.Warn("Chat stream failed", zap.Stringer("token", token), zap.String("model", req.Model), zap.Error(err))
	_ = session.WriteError(errors.New(errorText(err)))
}

// upstreamFailure hides supplier credential and quota problems behind a 502; the caller cannot fix them.
func upstreamFailure(err error) error {
	var problem *api.Problem
	if !errors.As(err, &problem) {
		return err
	}
	switch {
	case problem.Status == http.StatusUnauthorized,
		problem.Status == http.StatusForbidden,
		problem.Status == http.StatusTooManyRequests,
		problem.Status >= http.StatusInternalServerError:
		return api.ProviderError(problem.Detail, err)
	}
	return problem
}

func errorText(err error) string {
	var problem *api.Problem
	if errors.As(err, &problem) && problem.Detail != "" {
		return problem.Detail
	}
	return err.Error()
}
