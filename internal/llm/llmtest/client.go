// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"sync/atomic"

	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/internal/supplier"
	"github.com/nulzo/chat-gateway/pkg/api"
)

// Client replays Chunks on every Stream call.
type Client struct {
	Token     supplier.Token
	Chunks    []llm.Chunk
	StreamErr error
	ModelList []api.Model
	ModelsErr error
	Dec       llm.Decoder
	Conv      llm.Converter

	// LastRequest is the most recent request passed to Stream.
	LastRequest *llm.Request
	streams     atomic.Int64
}

func (c *Client) Supplier() supplier.Name { return c.Token.Supplier }

func (c *Client) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	c.streams.Add(1)
	c.LastRequest = req
	if c.StreamErr != nil {
		return nil, c.StreamErr
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, chunk := range c.Chunks {
			if err := llm.Send(ctx, ch, chunk); err != nil {
				return
			}
		}
	}()
	return ch, nil
}

// Streams reports how many times Stream was called.
func (c *Client) Streams() int64 {
	return c.streams.Load()
}

func (c *Client) Models(ctx context.Context) ([]api.Model, error) {
	return c.ModelList, c.ModelsErr
}

func (c *Client) Decoder() llm.Decoder {
	if c.Dec == nil {
		return llm.PartDecoder
	}
	return c.Dec
}

func (c *Client) Converter() llm.Converter {
	if c.Conv == nil {
		return llm.IdentityConverter{}
	}
	return c.Conv
}

// Factory builds a bare Client for every token.
func Factory(token supplier.Token) (llm.Client, error) {
	return &Client{Token: token}, nil
}

// Data turns raw records into chunks.
func Data(records ...string) []llm.Chunk {
	out := make([]llm.Chunk, 0, len(records))
	for _, r := range records {
		out = append(out, llm.Chunk{Data: r})
	}
	return out
}
