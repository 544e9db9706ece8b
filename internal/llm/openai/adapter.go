package openai

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

const defaultBaseURL = "https://api.openai.com/v1"

func init() {
	llm.Register(supplier.OpenAI, NewClient)
	llm.RegisterCatalog(supplier.OpenAI, catalog)
}

// catalog is served when the live /models listing is unavailable.
var catalog = []api.Model{
	{ID: "gpt-4o", Object: "model", OwnedBy: "openai", Supplier: string(supplier.OpenAI), ContextLength: 128000},
	{ID: "gpt-4o-mini", Object: "model", OwnedBy: "openai", Supplier: string(supplier.OpenAI), ContextLength: 128000},
	{ID: "gpt-3.5-turbo", Object: "model", OwnedBy: "openai", Supplier: string(supplier.OpenAI), ContextLength: 16385},
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

func (c *Client) Supplier() supplier.Name { return supplier.OpenAI }

func (c *Client) Decoder() llm.Decoder { return Decoder }

func (c *Client) Converter() llm.Converter { return Converter{} }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Stream      bool      `json:"stream"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.token.Secret,
	}
}

func toRequest(req *llm.Request) chatRequest {
	cr := chatRequest{
		Model:       req.Model,
		Stream:      true,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	for _, m := range req.Messages {
		cr.Messages = append(cr.Messages, message{Role: string(m.Role), Content: m.Content})
	}
	return cr
}

// Stream posts a streaming chat completion and yields every SSE data payload, "[DONE]" included.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	url := c.baseURL + "/chat/completions"
	body := toRequest(req)

	go func() {
		defer close(ch)

		err := httpclient.StreamRequest(ctx, c.client, http.MethodPost, url, c.headers(), body, func(line string) error {
			data, ok := httpclient.SSEData(line)
			if !ok {
				return nil
			}
			if err := llm.Send(ctx, ch, llm.Chunk{Data: data}); err != nil {
				return err
			}
			if data == "[DONE]" {
				return httpclient.ErrStop
			}
			return nil
		})

		if err != nil && ctx.Err() == nil {
			_ = llm.Send(ctx, ch, llm.Chunk{Err: llm.UpstreamProblem(err)})
		}
	}()

	return ch, nil
}

type modelList struct {
	Data []struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

// Models lists the models this credential can use.
func (c *Client) Models(ctx context.Context) ([]api.Model, error) {
	var list modelList
	if err := httpclient.SendRequest(ctx, c.client, http.MethodGet, c.baseURL+"/models", c.headers(), nil, &list); err != nil {
		return nil, llm.UpstreamProblem(err)
	}

	models := make([]api.Model, 0, len(list.Data))
	for _, m := range list.Data {
		models = append(models, api.Model{
			ID:       m.ID,
			Object:   "model",
			Created:  m.Created,
			OwnedBy:  m.OwnedBy,
			Supplier: string(supplier.OpenAI),
		})
	}
	return models, nil
}
