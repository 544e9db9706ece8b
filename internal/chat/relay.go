package chat

import (
	"context"

	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/pkg/api"
)

// Relay streams one supplier response to the sink. Each data unit is written as the
// reply accumulated so far under id. The stop unit finishes the session and then writes
// the final reply with a stop segment. A returned error has not been written to the sink.
func (s *Session) Relay(ctx context.Context, id string, decoder llm.Decoder, chunks <-chan llm.Chunk) error {
	var t *Transform

	onData := func(ctx context.Context, _ []api.PartMessage) error {
		msg := s.reply(id, t.Completed())
		return s.Write(&msg)
	}
	onStop := func(ctx context.Context, completed api.Message) error {
		msg := s.reply(id, completed)
		var err error
		s.Finish(ctx, func() {
			final := msg
			final.Segment = api.SegmentStop
			err = s.Write(&final)
		}, msg)
		return err
	}

	t = NewTransform(decoder, onData, onStop)
	return t.Run(ctx, chunks)
}

func (s *Session) reply(id string, completed api.Message) api.Message {
	msg := completed
	msg.ID = id
	msg.ParentMessageID = s.opts.ParentMessageID
	msg.Segment = api.SegmentNormal
	if msg.Role == "" {
		msg.Role = api.Assistant
	}
	return msg
}
