package openai_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/internal/llm/openai"
	"github.com/nulzo/chat-gateway/pkg/api"
)

func TestDecoder(t *testing.T) {
	tests := []struct {
		name   string
		record string
		want   llm.Frame
	}{
		{
			name:   "role and content",
			record: `{"choices":[{"delta":{"role":"assistant","content":"hi"},"finish_reason":null}]}`,
			want:   llm.Frame{Parts: []api.PartMessage{{Role: api.Assistant, Content: "hi"}}},
		},
		{
			name:   "finish reason",
			record: `{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			want:   llm.Frame{Stop: true},
		},
		{
			name:   "done marker",
			record: "[DONE]",
			want:   llm.Frame{Stop: true},
		},
		{
			name:   "tool call",
			record: `{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"f"}}]}}]}`,
			want:   llm.Frame{FunctionCall: true},
		},
		{
			name:   "legacy function call",
			record: `{"choices":[{"delta":{"function_call":{"name":"f","arguments":""}}}]}`,
			want:   llm.Frame{FunctionCall: true},
		},
		{
			name:   "null tool calls",
			record: `{"choices":[{"delta":{"content":"x","tool_calls":null}}]}`,
			want:   llm.Frame{Parts: []api.PartMessage{{Content: "x"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := openai.Decoder.Decode(tt.record)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecoder_Incomplete(t *testing.T) {
	_, err := openai.Decoder.Decode(`{"choices":[{"delta":{"con`)
	assert.ErrorIs(t, err, llm.ErrIncomplete)
}

func TestDecoder_StreamError(t *testing.T) {
	_, err := openai.Decoder.Decode(`{"error":{"message":"overloaded"}}`)
	require.Error(t, err)
	assert.NotErrorIs(t, err, llm.ErrIncomplete)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestConverter(t *testing.T) {
	c := openai.Converter{}
	history := []api.Message{
		{Role: api.User, Content: "hi"},
		{Role: api.Assistant, Segment: api.SegmentError, Content: "boom"},
	}
	assert.Equal(t, history[:1], c.ConvertSupplier(history))
	assert.Equal(t, api.Assistant, c.ConvertCustom(api.Message{Content: "x"}).Role)
}
