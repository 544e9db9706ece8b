package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/internal/platform/metrics"
	"github.com/nulzo/chat-gateway/pkg/api"
)

// ErrTruncatedRecord is returned by Close when the stream ended inside a record.
var ErrTruncatedRecord = errors.New("stream ended with a truncated record")

// DataHandler receives the parts decoded from one unit.
type DataHandler func(ctx context.Context, parts []api.PartMessage) error

// StopHandler receives the completed assistant turn. It runs at most once per Transform.
type StopHandler func(ctx context.Context, completed api.Message) error

// Transform reassembles raw supplier chunks into one completed message.
// It is not safe for concurrent use; each request owns its own.
type Transform struct {
	decoder llm.Decoder
	onData  DataHandler
	onStop  StopHandler

	completed    api.Message
	stop         bool
	cache        string
	functionCall bool
	stopped      bool
}

func NewTransform(decoder llm.Decoder, onData DataHandler, onStop StopHandler) *Transform {
	if decoder == nil {
		decoder = llm.PartDecoder
	}
	return &Transform{
		decoder: decoder,
		onData:  onData,
		onStop:  onStop,
	}
}

// Completed returns the message accumulated so far.
func (t *Transform) Completed() api.Message {
	return t.completed
}

// Write processes one chunk. It returns after the unit's handlers have returned.
func (t *Transform) Write(ctx context.Context, data string) error {
	if t.stopped {
		return nil
	}

	frame, ok, err := t.decode(data)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	for _, part := range frame.Parts {
		t.fold(part)
	}
	if frame.FunctionCall {
		t.functionCall = true
	}
	if frame.Stop {
		t.stop = true
	}

	if len(frame.Parts) > 0 && !t.functionCall && t.onData != nil {
		if err := t.onData(ctx, frame.Parts); err != nil {
			return err
		}
	}
	if t.stop {
		return t.runStop(ctx)
	}
	return nil
}

// Run feeds chunks to Write in arrival order and closes the transform when the channel ends.
func (t *Transform) Run(ctx context.Context, chunks <-chan llm.Chunk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return t.Close(ctx)
			}
			if chunk.Err != nil {
				if t.stopped {
					return nil
				}
				return chunk.Err
			}
			if err := t.Write(ctx, chunk.Data); err != nil {
				return err
			}
		}
	}
}

// Close ends the stream. The stop handler runs if it has not yet, and a leftover
// partial record is reported as ErrTruncatedRecord.
func (t *Transform) Close(ctx context.Context) error {
	var truncated error
	if t.cache != "" {
		metrics.RecordRepairsTotal.WithLabelValues(metrics.RepairTruncated).Inc()
		truncated = fmt.Errorf("%w: %d bytes", ErrTruncatedRecord, len(t.cache))
		t.cache = ""
	}
	if err := t.runStop(ctx); err != nil {
		return err
	}
	return truncated
}

func (t *Transform) decode(data string) (llm.Frame, bool, error) {
	frame, err := t.decoder.Decode(data)
	if err == nil {
		return frame, true, nil
	}
	if !errors.Is(err, llm.ErrIncomplete) {
		return llm.Frame{}, false, err
	}

	if t.cache == "" {
		t.cache = data
		metrics.RecordRepairsTotal.WithLabelValues(metrics.RepairBuffered).Inc()
		return llm.Frame{}, false, nil
	}

	joined := t.cache + data
	frame, err = t.decoder.Decode(joined)
	switch {
	case err == nil:
		t.cache = ""
		metrics.RecordRepairsTotal.WithLabelValues(metrics.RepairRecovered).Inc()
		return frame, true, nil
	case errors.Is(err, llm.ErrIncomplete):
		t.cache = joined
		return llm.Frame{}, false, nil
	default:
		return llm.Frame{}, false, err
	}
}

func (t *Transform) fold(part api.PartMessage) {
	if t.completed.Role == "" && part.Role != "" {
		t.completed.Role = part.Role
	}
	if part.Content != "" {
		t.completed.Content += part.Content
	}
}

func (t *Transform) runStop(ctx context.Context) error {
	if t.stopped {
		return nil
	}
	t.stopped = true
	if t.onStop == nil {
		return nil
	}
	return t.onStop(ctx, t.completed)
}
