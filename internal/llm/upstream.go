package llm

import (
	"context"
	"errors"

	"github.com/tidwall/gjson"

	"github.com/nulzo/chat-gateway/internal/httpclient"
	"github.com/nulzo/chat-gateway/pkg/api"
)

// UpstreamProblem converts an httpclient.UpstreamError into an RFC 9457 problem carrying the supplier's
// own error message. Other errors pass through unchanged.
func UpstreamProblem(err error) error {
	var upstreamErr *httpclient.UpstreamError
	if !errors.As(err, &upstreamErr) {
		return err
	}

	body := string(upstreamErr.Body)
	if !gjson.Valid(body) || !gjson.Get(body, "error").Exists() {
		return api.NewError(
			upstreamErr.StatusCode,
			"Upstream Error",
			body,
			api.WithLog(err),
		)
	}

	e := gjson.Get(body, "error")
	message := e.Get("message").String()
	if message == "" {
		message = e.String()
	}
	return api.NewError(
		upstreamErr.StatusCode,
		"Upstream Provider Error",
		message,
		api.WithExtension("upstream_code", e.Get("code").Value()),
		api.WithExtension("upstream_type", e.Get("type").Value()),
		api.WithLog(err),
	)
}

// Send delivers a chunk unless ctx is done first.
func Send(ctx context.Context, ch chan<- Chunk, c Chunk) error {
	select {
	case ch <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
