package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/internal/platform/metrics"
	"github.com/nulzo/chat-gateway/internal/supplier"
	"github.com/nulzo/chat-gateway/pkg/api"
)

// BreakerConfig tunes the per-token circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         3,
		Interval:            5 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 3,
	}
}

func newBreaker(token supplier.Token, cfg BreakerConfig) *gobreaker.TwoStepCircuitBreaker {
	return gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        token.String(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerStateChangesTotal.WithLabelValues(string(token.Supplier), to.String()).Inc()
		},
	})
}

// countsAsFailure reports whether err says something about the health of the credential, as opposed
// to a bad request or a caller that went away.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var problem *api.Problem
	if errors.As(err, &problem) {
		switch problem.Status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
			return true
		}
		return problem.Status >= http.StatusInternalServerError
	}
	return true
}

// Proxy wraps one selected client for the duration of a request.
type Proxy struct {
	token   supplier.Token
	client  llm.Client
	breaker *gobreaker.TwoStepCircuitBreaker
	tracer  trace.Tracer
}

var _ llm.Client = (*Proxy)(nil)

func (p *Proxy) Token() supplier.Token { return p.token }

func (p *Proxy) Supplier() supplier.Name { return p.client.Supplier() }

func (p *Proxy) Decoder() llm.Decoder { return p.client.Decoder() }

func (p *Proxy) Converter() llm.Converter { return p.client.Converter() }

func (p *Proxy) Models(ctx context.Context) ([]api.Model, error) {
	return p.client.Models(ctx)
}

// Stream issues the call through the token's breaker. The breaker learns the outcome when the stream
// ends, so failures reported mid-stream count as well.
func (p *Proxy) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	name := string(p.token.Supplier)
	ctx, span := p.tracer.Start(ctx, "gateway.Stream", trace.WithAttributes(
		attribute.String("supplier", name),
		attribute.String("token", strconv.FormatInt(p.token.ID, 10)),
		attribute.String("model", req.Model),
	))

	done, err := p.breaker.Allow()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.End()
		metrics.UpstreamStreamsTotal.WithLabelValues(name, "rejected").Inc()
		return nil, fmt.Errorf("%w: %s: %w", supplier.ErrClientUnavailable, p.token, err)
	}

	start := time.Now()
	ch, err := p.client.Stream(ctx, req)
	if err != nil {
		done(!countsAsFailure(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		metrics.UpstreamStreamsTotal.WithLabelValues(name, "error").Inc()
		return nil, err
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		defer span.End()

		var streamErr error
		chunks := 0
		for c := range ch {
			if c.Err != nil {
				streamErr = c.Err
			} else {
				chunks++
			}
			if err := llm.Send(ctx, out, c); err != nil {
				streamErr = err
				break
			}
		}

		done(!countsAsFailure(streamErr))
		metrics.UpstreamStreamDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		span.SetAttributes(attribute.Int("chunks", chunks))

		status := "ok"
		if streamErr != nil {
			status = "error"
			span.RecordError(streamErr)
			span.SetStatus(codes.Error, streamErr.Error())
		}
		metrics.UpstreamStreamsTotal.WithLabelValues(name, status).Inc()
	}()

	return out, nil
}
