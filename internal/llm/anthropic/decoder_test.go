package anthropic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/internal/llm/anthropic"
	"github.com/nulzo/chat-gateway/pkg/api"
)

func TestDecoder(t *testing.T) {
	tests := []struct {
		name   string
		record string
		want   llm.Frame
	}{
		{"message start", `{"type":"message_start","message":{"role":"assistant"}}`, llm.Frame{Parts: []api.PartMessage{{Role: api.Assistant}}}},
		{"text delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"hi"}}`, llm.Frame{Parts: []api.PartMessage{{Content: "hi"}}}},
		{"tool use", `{"type":"content_block_start","content_block":{"type":"tool_use","id":"t1","name":"f"}}`, llm.Frame{FunctionCall: true}},
		{"tool input", `{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{"}}`, llm.Frame{FunctionCall: true}},
		{"ping", `{"type":"ping"}`, llm.Frame{}},
		{"stop", `{"type":"message_stop"}`, llm.Frame{Stop: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := anthropic.Decoder.Decode(tt.record)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecoder_Incomplete(t *testing.T) {
	_, err := anthropic.Decoder.Decode(`{"type":"content_block_delta","delta":{"ty`)
	assert.ErrorIs(t, err, llm.ErrIncomplete)
}

func TestDecoder_Error(t *testing.T) {
	_, err := anthropic.Decoder.Decode(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Overloaded")
}

func TestConverter_MergesTurns(t *testing.T) {
	history := []api.Message{
		{Role: api.User, Content: "a"},
		{Role: api.Function, Content: "b"},
		{Role: api.Assistant, Segment: api.SegmentError, Content: "boom"},
		{Role: api.Assistant, Content: "c"},
	}

	got := anthropic.Converter{}.ConvertSupplier(history)
	require.Len(t, got, 2)
	assert.Equal(t, "a\n\nb", got[0].Content)
	assert.Equal(t, api.User, got[0].Role)
	assert.Equal(t, "c", got[1].Content)
	assert.Equal(t, "a", history[0].Content)
}
