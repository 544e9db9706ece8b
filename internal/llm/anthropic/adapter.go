package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nulzo/chat-gateway/internal/httpclient"
	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/internal/supplier"
	"github.com/nulzo/chat-gateway/pkg/api"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

func init() {
	llm.Register(supplier.Anthropic, NewClient)
	llm.RegisterCatalog(supplier.Anthropic, catalog)
}

// Anthropic has no model listing we rely on, the catalog is the source of truth.
var catalog = []api.Model{
	{ID: "claude-3-5-sonnet-20241022", Object: "model", OwnedBy: "anthropic", Supplier: string(supplier.Anthropic), Name: "Claude 3.5 Sonnet", ContextLength: 200000},
	{ID: "claude-3-5-haiku-20241022", Object: "model", OwnedBy: "anthropic", Supplier: string(supplier.Anthropic), Name: "Claude 3.5 Haiku", ContextLength: 200000},
	{ID: "claude-3-opus-20240229", Object: "model", OwnedBy: "anthropic", Supplier: string(supplier.Anthropic), Name: "Claude 3 Opus", ContextLength: 200000},
}

type Client struct {
	token   supplier.Token
	baseURL string
	client  httpclient.HTTPClient
}

func NewClient(token supplier.Token) (llm.Client, error) {
	if token.Secret == "" {
		return nil, fmt.Errorf("%w: %s has no secret", supplier.ErrSupplierInit, token)
	}
	baseURL := token.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (c *Client) Supplier() supplier.Name { return supplier.Anthropic }

func (c *Client) Decoder() llm.Decoder { return Decoder }

func (c *Client) Converter() llm.Converter { return Converter{} }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
}

func toRequest(req *llm.Request) messagesRequest {
	mr := messagesRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if mr.MaxTokens == 0 {
		mr.MaxTokens = defaultMaxTokens
	}

	var system []string
	for _, m := range req.Messages {
		if m.Role == api.System {
			system = append(system, m.Content)
			continue
		}
		mr.Messages = append(mr.Messages, message{Role: string(m.Role), Content: m.Content})
	}
	mr.System = strings.Join(system, "\n")
	return mr
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"x-api-key":         c.token.Secret,
		"anthropic-version": apiVersion,
	}
}

// Stream posts a streaming messages request and yields every SSE data payload.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	url := c.baseURL + "/messages"
	body := toRequest(req)

	go func() {
		defer close(ch)

		err := httpclient.StreamRequest(ctx, c.client, http.MethodPost, url, c.headers(), body, func(line string) error {
			data, ok := httpclient.SSEData(line)
			if !ok {
				return nil
			}
			return llm.Send(ctx, ch, llm.Chunk{Data: data})
		})

		if err != nil && ctx.Err() == nil {
			_ = llm.Send(ctx, ch, llm.Chunk{Err: llm.UpstreamProblem(err)})
		}
	}()

	return ch, nil
}

func (c *Client) Models(ctx context.Context) ([]api.Model, error) {
	return llm.Catalog(supplier.Anthropic), nil
}
