package stability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/internal/llm/stability"
	"github.com/nulzo/chat-gateway/internal/supplier"
	"github.com/nulzo/chat-gateway/pkg/api"
)

func TestStabilityStream(t *testing.T) {
	image := strings.Repeat("A", 100*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generation/stable-diffusion-v1-6/text-to-image", r.URL.Path)
		assert.Equal(t, "Bearer sk-stab", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"artifacts":[{"base64":"` + image + `","seed":42,"finishReason":"SUCCESS"}]}`))
	}))
	defer server.Close()

	client, err := stability.NewClient(supplier.Token{ID: 3, Supplier: supplier.Stability, Secret: "sk-stab", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	ch, err := client.Stream(context.Background(), &llm.Request{
		Model:    "stable-diffusion-v1-6",
		Messages: []api.Message{{Role: api.User, Content: "a red fox"}},
	})
	require.NoError(t, err)

	var chunks []string
	for c := range ch {
		require.NoError(t, c.Err)
		chunks = append(chunks, c.Data)
	}
	require.Greater(t, len(chunks), 1)

	_, err = client.Decoder().Decode(chunks[0])
	assert.ErrorIs(t, err, llm.ErrIncomplete)

	frame, err := client.Decoder().Decode(strings.Join(chunks, ""))
	require.NoError(t, err)
	assert.True(t, frame.Stop)
	require.Len(t, frame.Parts, 1)
	assert.Equal(t, "![42](data:image/png;base64,"+image+")", frame.Parts[0].Content)
}

func TestStabilityStream_NoPrompt(t *testing.T) {
	client, err := stability.NewClient(supplier.Token{ID: 3, Supplier: supplier.Stability, Secret: "k"})
	require.NoError(t, err)

	_, err = client.Stream(context.Background(), &llm.Request{Model: "stable-diffusion-v1-6"})
	assert.Error(t, err)
}

func TestDecoder_ErrorBody(t *testing.T) {
	_, err := stability.Decoder.Decode(`{"id":"x","name":"bad_request","message":"prompt rejected"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt rejected")
}

func TestDecoder_Filtered(t *testing.T) {
	frame, err := stability.Decoder.Decode(`{"artifacts":[{"base64":"","seed":1,"finishReason":"CONTENT_FILTERED"}]}`)
	require.NoError(t, err)
	assert.True(t, frame.Stop)
	assert.Empty(t, frame.Parts)
}
