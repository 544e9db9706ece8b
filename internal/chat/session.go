package chat

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/pkg/api"
)

const eventStream = "text/event-stream"

// FinishHandler observes a finished turn. history is a copy the handler may keep.
type FinishHandler func(ctx context.Context, history []api.Message, model string)

type Options struct {
	Model           string
	ParentMessageID string
	Converter       llm.Converter
	Logger          *zap.Logger
}

// Session owns one conversation's history and its output sink.
type Session struct {
	sink      Sink
	opts      Options
	logger    *zap.Logger
	history   []api.Message
	finishers []FinishHandler
}

func NewSession(sink Sink, opts Options) *Session {
	if opts.Converter == nil {
		opts.Converter = llm.IdentityConverter{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		sink:   sink,
		opts:   opts,
		logger: logger,
	}
}

func (s *Session) Model() string {
	return s.opts.Model
}

// OnFinish registers a handler. Handlers run in registration order.
func (s *Session) OnFinish(h FinishHandler) {
	s.finishers = append(s.finishers, h)
}

// Chat appends a message to the history.
func (s *Session) Chat(msg api.Message) {
	s.history = append(s.history, msg)
}

// Messages returns a copy of the history.
func (s *Session) Messages() []api.Message {
	out := make([]api.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Outbound is the history shaped for the supplier request.
func (s *Session) Outbound() []api.Message {
	return s.opts.Converter.ConvertSupplier(s.Messages())
}

// Finish appends the messages that carry content, runs every FinishHandler with the
// full history, then calls done. It may be called more than once.
func (s *Session) Finish(ctx context.Context, done func(), msgs ...api.Message) {
	for _, m := range msgs {
		if !m.HasContent() {
			continue
		}
		s.history = append(s.history, m)
	}

	for _, h := range s.finishers {
		h(ctx, s.Messages(), s.opts.Model)
	}

	if done != nil {
		done()
	}
}

// Write frames msg as one wire event. A finished sink or a nil msg is a no-op.
func (s *Session) Write(msg *api.Message) error {
	if msg == nil || s.sink.Finished() {
		return nil
	}

	out := s.opts.Converter.ConvertCustom(*msg)
	if out.ParentMessageID == "" {
		out.ParentMessageID = s.opts.ParentMessageID
	}
	if out.Segment == "" {
		out.Segment = api.SegmentNormal
	}

	body, err := json.Marshal(out)
	if err != nil {
		return err
	}

	if !s.sink.HeadersSent() {
		s.sink.Header().Set("Content-Type", eventStream)
	}

	frame := make([]byte, 0, len(body)+4)
	frame = append(frame, "\n\n"...)
	frame = append(frame, body...)
	frame = append(frame, "\n\n"...)
	if _, err := s.sink.Write(frame); err != nil {
		s.logger.Debug("dropping write to closed sink", zap.Error(err))
	}
	return nil
}

// WriteError reports err to the caller as an error segment.
func (s *Session) WriteError(err error) error {
	if err == nil {
		return nil
	}
	return s.Write(&api.Message{
		Role:    api.Assistant,
		Segment: api.SegmentError,
		Content: err.Error(),
	})
}
