package anthropic

import (
	"fmt"
	"strings"

	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/pkg/api"
)

// Decoder reads Messages API stream events.
var Decoder = llm.DecoderFunc(decode)

func decode(record string) (llm.Frame, error) {
	record = strings.TrimSpace(record)
	res, err := llm.ParseRecord(record)
	if err != nil {
		return llm.Frame{}, err
	}
	var frame llm.Frame

	switch res.Get("type").String() {
	case "message_start":
		if role := res.Get("message.role").String(); role != "" {
			frame.Parts = append(frame.Parts, api.PartMessage{Role: api.Role(role)})
		}
	case "content_block_start":
		block := res.Get("content_block")
		switch block.Get("type").String() {
		case "tool_use":
			frame.FunctionCall = true
		case "text":
			if text := block.Get("text").String(); text != "" {
				frame.Parts = append(frame.Parts, api.PartMessage{Content: text})
			}
		}
	case "content_block_delta":
		delta := res.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			if text := delta.Get("text").String(); text != "" {
				frame.Parts = append(frame.Parts, api.PartMessage{Content: text})
			}
		case "input_json_delta":
			frame.FunctionCall = true
		}
	case "message_stop":
		frame.Stop = true
	case "error":
		return llm.Frame{}, fmt.Errorf("anthropic stream error: %s", res.Get("error.message").String())
	}

	return frame, nil
}

// Converter shapes history for the Messages API, which requires alternating user and assistant turns.
type Converter struct{}

func (Converter) ConvertSupplier(history []api.Message) []api.Message {
	out := make([]api.Message, 0, len(history))
	for _, m := range llm.WithoutErrors(history) {
		if m.Role == api.Function {
			m.Role = api.User
		}
		if n := len(out); n > 0 && m.Role != api.System && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}

func (Converter) ConvertCustom(msg api.Message) api.Message {
	if msg.Role == "" {
		msg.Role = api.Assistant
	}
	return msg
}
