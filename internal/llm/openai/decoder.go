package openai

import (
	"fmt"
	"strings"

	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/pkg/api"
)

// Decoder reads chat.completion.chunk records.
var Decoder = llm.DecoderFunc(decode)

func decode(record string) (llm.Frame, error) {
	record = strings.TrimSpace(record)
	if record == "[DONE]" {
		return llm.Frame{Stop: true}, nil
	}
	res, err := llm.ParseRecord(record)
	if err != nil {
		return llm.Frame{}, err
	}
	if e := res.Get("error"); e.Exists() {
		return llm.Frame{}, fmt.Errorf("openai stream error: %s", e.Get("message").String())
	}

	var frame llm.Frame
	for _, choice := range res.Get("choices").Array() {
		delta := choice.Get("delta")
		if llm.Truthy(delta.Get("function_call")) || llm.Truthy(delta.Get("tool_calls")) {
			frame.FunctionCall = true
		}

		role := delta.Get("role").String()
		content := delta.Get("content").String()
		if role != "" || content != "" {
			frame.Parts = append(frame.Parts, api.PartMessage{Role: api.Role(role), Content: content})
		}

		if choice.Get("finish_reason").String() != "" {
			frame.Stop = true
		}
	}
	return frame, nil
}

// Converter drops gateway error segments and fills in the assistant role on outbound messages.
type Converter struct{}

func (Converter) ConvertSupplier(history []api.Message) []api.Message {
	return llm.WithoutErrors(history)
}

func (Converter) ConvertCustom(msg api.Message) api.Message {
	if msg.Role == "" {
		msg.Role = api.Assistant
	}
	return msg
}
