package stability

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nulzo/chat-gateway/internal/httpclient"
	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/internal/supplier"
	"github.com/nulzo/chat-gateway/pkg/api"
)

const (
	defaultBaseURL = "https://api.stability.ai/v1"
	// readSize is deliberately small next to a base64 image, so one response spans many reads.
	readSize = 32 * 1024
)

func init() {
	llm.Register(supplier.Stability, NewClient)
	llm.RegisterCatalog(supplier.Stability, catalog)
}

var catalog = []api.Model{
	{ID: "stable-diffusion-xl-1024-v1-0", Object: "model", OwnedBy: "stability", Supplier: string(supplier.Stability), Name: "SDXL 1.0"},
	{ID: "stable-diffusion-v1-6", Object: "model", OwnedBy: "stability", Supplier: string(supplier.Stability), Name: "Stable Diffusion 1.6"},
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

func (c *Client) Supplier() supplier.Name { return supplier.Stability }

func (c *Client) Decoder() llm.Decoder { return Decoder }

func (c *Client) Converter() llm.Converter { return llm.IdentityConverter{} }

type textPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type generationRequest struct {
	TextPrompts []textPrompt `json:"text_prompts"`
	Samples     int          `json:"samples"`
}

// prompt is the most recent user turn.
func prompt(messages []api.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == api.User && messages[i].HasContent() {
			return messages[i].Content
		}
	}
	return ""
}

// Stream runs a text-to-image generation. The single JSON response is yielded as raw body reads.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	text := prompt(req.Messages)
	if text == "" {
		return nil, api.BadRequestError("image generation needs a user prompt")
	}

	ch := make(chan llm.Chunk)
	endpoint := fmt.Sprintf("%s/generation/%s/text-to-image", c.baseURL, url.PathEscape(req.Model))
	headers := map[string]string{
		"Authorization": "Bearer " + c.token.Secret,
		"Accept":        "application/json",
	}
	body := generationRequest{
		TextPrompts: []textPrompt{{Text: text, Weight: 1}},
		Samples:     1,
	}

	go func() {
		defer close(ch)

		err := httpclient.StreamBody(ctx, c.client, http.MethodPost, endpoint, headers, body, readSize, func(chunk []byte) error {
			return llm.Send(ctx, ch, llm.Chunk{Data: string(chunk)})
		})

		if err != nil && ctx.Err() == nil {
			_ = llm.Send(ctx, ch, llm.Chunk{Err: llm.UpstreamProblem(err)})
		}
	}()

	return ch, nil
}

func (c *Client) Models(ctx context.Context) ([]api.Model, error) {
	return llm.Catalog(supplier.Stability), nil
}
