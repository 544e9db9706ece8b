package llm

import (
	"context"
	"errors"

	"github.com/nulzo/chat-gateway/internal/supplier"
	"github.com/nulzo/chat-gateway/pkg/api"
)

// ErrIncomplete means a record could not be decoded yet; more bytes may complete it.
var ErrIncomplete = errors.New("incomplete record")

// Client is one credential-bearing connection to a supplier.
type Client interface {
	Supplier() supplier.Name
	// Stream issues the request and yields raw record payloads in arrival order.
	// The channel is closed when the upstream response ends.
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)
	Models(ctx context.Context) ([]api.Model, error)
	Decoder() Decoder
	Converter() Converter
}

type Request struct {
	Model       string
	Messages    []api.Message
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Chunk is one raw write from the upstream stream. A record may span several chunks.
type Chunk struct {
	Data string
	Err  error
}

// Frame is what a decoder extracts from one complete record.
type Frame struct {
	Parts []api.PartMessage
	// Stop is the supplier's end-of-response marker.
	Stop bool
	// FunctionCall is set while the supplier streams a structured function or tool call.
	FunctionCall bool
}

type Decoder interface {
	Decode(record string) (Frame, error)
}

type DecoderFunc func(record string) (Frame, error)

func (f DecoderFunc) Decode(record string) (Frame, error) {
	return f(record)
}

// Converter translates between the internal Message shape and a supplier's conversation shape.
type Converter interface {
	// ConvertSupplier shapes session history for an outbound supplier request.
	ConvertSupplier(history []api.Message) []api.Message
	// ConvertCustom normalizes a message before it is written to the caller.
	ConvertCustom(msg api.Message) api.Message
}

type IdentityConverter struct{}

func (IdentityConverter) ConvertSupplier(history []api.Message) []api.Message {
	return history
}

func (IdentityConverter) ConvertCustom(msg api.Message) api.Message {
	return msg
}

// WithoutErrors drops error segments, which are gateway output and never sent upstream.
func WithoutErrors(history []api.Message) []api.Message {
	out := make([]api.Message, 0, len(history))
	for _, m := range history {
		if m.Segment == api.SegmentError {
			continue
		}
		out = append(out, m)
	}
	return out
}
