package chat_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulzo/chat-gateway/internal/chat"
	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/internal/llm/anthropic"
	"github.com/nulzo/chat-gateway/internal/llm/llmtest"
	"github.com/nulzo/chat-gateway/pkg/api"
)

type memSink struct {
	buf      bytes.Buffer
	header   http.Header
	writes   int
	finished bool
	err      error
}

func newMemSink() *memSink {
	return &memSink{header: http.Header{}}
}

func (s *memSink) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.writes++
	return s.buf.Write(p)
}

func (s *memSink) Header() http.Header { return s.header }
func (s *memSink) HeadersSent() bool   { return s.writes > 0 }
func (s *memSink) Finished() bool      { return s.finished }

// events splits the sink output into decoded wire messages.
func (s *memSink) events(t *testing.T) []api.Message {
	t.Helper()
	var out []api.Message
	for _, block := range strings.Split(s.buf.String(), "\n\n") {
		if block == "" {
			continue
		}
		var msg api.Message
		require.NoError(t, json.Unmarshal([]byte(block), &msg))
		out = append(out, msg)
	}
	return out
}

func TestSession_ChatAndMessages(t *testing.T) {
	s := chat.NewSession(newMemSink(), chat.Options{Model: "gpt-4o"})
	s.Chat(api.Message{Role: api.User, Content: "hi"})
	s.Chat(api.Message{Role: api.User})

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	msgs[0].Content = "mutated"
	assert.Equal(t, "hi", s.Messages()[0].Content)
	assert.Equal(t, "gpt-4o", s.Model())
}

func TestSession_FinishFiltersEmpty(t *testing.T) {
	s := chat.NewSession(newMemSink(), chat.Options{})
	s.Chat(api.Message{Role: api.User, Content: "q"})

	called := false
	s.Finish(context.Background(), func() { called = true },
		api.Message{Role: api.Assistant},
		api.Message{Role: api.Assistant, Content: "a"},
	)

	assert.True(t, called)
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[1].Content)
}

func TestSession_FinishHandlersInOrder(t *testing.T) {
	s := chat.NewSession(newMemSink(), chat.Options{Model: "claude-3-5-haiku-20241022"})
	s.Chat(api.Message{Role: api.User, Content: "q"})

	var order []string
	var seen [][]api.Message
	var models []string
	record := func(name string) chat.FinishHandler {
		return func(_ context.Context, history []api.Message, model string) {
			order = append(order, name)
			seen = append(seen, history)
			models = append(models, model)
		}
	}
	s.OnFinish(record("A"))
	s.OnFinish(record("B"))

	s.Finish(context.Background(), nil, api.Message{Role: api.Assistant, Content: "a"})

	assert.Equal(t, []string{"A", "B"}, order)
	require.Len(t, seen, 2)
	assert.Equal(t, seen[0], seen[1])
	assert.Len(t, seen[0], 2)
	assert.Equal(t, []string{"claude-3-5-haiku-20241022", "claude-3-5-haiku-20241022"}, models)
}

func TestSession_FinishTwice(t *testing.T) {
	s := chat.NewSession(newMemSink(), chat.Options{})
	calls := 0
	s.OnFinish(func(context.Context, []api.Message, string) { calls++ })

	s.Finish(context.Background(), nil, api.Message{Content: "one"})
	s.Finish(context.Background(), nil, api.Message{Content: "two"})

	assert.Equal(t, 2, calls)
	assert.Len(t, s.Messages(), 2)
}

func TestSession_Write(t *testing.T) {
	sink := newMemSink()
	s := chat.NewSession(sink, chat.Options{ParentMessageID: "parent-1"})

	require.NoError(t, s.Write(&api.Message{ID: "m1", Role: api.Assistant, Content: "he"}))
	sink.header.Set("Content-Type", "application/json")
	require.NoError(t, s.Write(&api.Message{ID: "m1", Role: api.Assistant, Content: "hey"}))

	assert.Equal(t, "application/json", sink.header.Get("Content-Type"), "content type is only set before the first write")
	assert.True(t, strings.HasPrefix(sink.buf.String(), "\n\n{"))
	assert.True(t, strings.HasSuffix(sink.buf.String(), "}\n\n"))

	events := sink.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, api.Message{
		ID:              "m1",
		ParentMessageID: "parent-1",
		Role:            api.Assistant,
		Segment:         api.SegmentNormal,
		Content:         "hey",
	}, events[1])
}

func TestSession_WriteSetsEventStream(t *testing.T) {
	sink := newMemSink()
	s := chat.NewSession(sink, chat.Options{})
	require.NoError(t, s.Write(&api.Message{Content: "x"}))
	assert.Equal(t, "text/event-stream", sink.header.Get("Content-Type"))
}

func TestSession_WriteNoop(t *testing.T) {
	sink := newMemSink()
	s := chat.NewSession(sink, chat.Options{})

	require.NoError(t, s.Write(nil))
	sink.finished = true
	require.NoError(t, s.Write(&api.Message{Content: "x"}))

	assert.Zero(t, sink.writes)
	assert.Empty(t, sink.header.Get("Content-Type"))
}

func TestSession_WriteClosedSink(t *testing.T) {
	sink := newMemSink()
	sink.err = errors.New("broken pipe")
	s := chat.NewSession(sink, chat.Options{})

	assert.NotPanics(t, func() {
		assert.NoError(t, s.Write(&api.Message{Content: "x"}))
	})
}

func TestSession_WriteError(t *testing.T) {
	sink := newMemSink()
	s := chat.NewSession(sink, chat.Options{ParentMessageID: "p"})

	require.NoError(t, s.WriteError(errors.New("upstream timeout")))
	require.NoError(t, s.WriteError(nil))

	events := sink.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, api.SegmentError, events[0].Segment)
	assert.Equal(t, "upstream timeout", events[0].Content)
	assert.Equal(t, "p", events[0].ParentMessageID)
}

func TestSession_Outbound(t *testing.T) {
	s := chat.NewSession(newMemSink(), chat.Options{Converter: anthropic.Converter{}})
	s.Chat(api.Message{Role: api.User, Content: "a"})
	s.Chat(api.Message{Role: api.User, Content: "b"})
	s.Chat(api.Message{Role: api.Assistant, Segment: api.SegmentError, Content: "boom"})

	out := s.Outbound()
	require.Len(t, out, 1)
	assert.Equal(t, "a\n\nb", out[0].Content)
	assert.Len(t, s.Messages(), 3)
}

func TestSession_Relay(t *testing.T) {
	sink := newMemSink()
	s := chat.NewSession(sink, chat.Options{Model: "gpt-4o", ParentMessageID: "p"})
	s.Chat(api.Message{Role: api.User, Content: "q"})

	var finished []api.Message
	s.OnFinish(func(_ context.Context, history []api.Message, _ string) { finished = history })

	client := &llmtest.Client{Chunks: llmtest.Data(`{"content":"He"}`, `{"content":"l`, `lo"}`, "[DONE]")}
	ch, err := client.Stream(context.Background(), &llm.Request{})
	require.NoError(t, err)

	require.NoError(t, s.Relay(context.Background(), "r1", client.Decoder(), ch))

	events := sink.events(t)
	require.Len(t, events, 3)
	assert.Equal(t, "He", events[0].Content)
	assert.Equal(t, "Hello", events[1].Content)
	assert.Equal(t, api.SegmentStop, events[2].Segment)
	assert.Equal(t, "Hello", events[2].Content)
	for _, e := range events {
		assert.Equal(t, "r1", e.ID)
		assert.Equal(t, "p", e.ParentMessageID)
		assert.Equal(t, api.Assistant, e.Role)
	}

	require.Len(t, finished, 2)
	assert.Equal(t, "Hello", finished[1].Content)
}

func TestSession_RelayEmptyReply(t *testing.T) {
	sink := newMemSink()
	s := chat.NewSession(sink, chat.Options{})
	ch := make(chan llm.Chunk)
	close(ch)

	require.NoError(t, s.Relay(context.Background(), "r1", llm.PartDecoder, ch))
	assert.Empty(t, s.Messages())

	events := sink.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, api.SegmentStop, events[0].Segment)
}

func TestGinSink(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	sink := chat.NewGinSink(c)
	s := chat.NewSession(sink, chat.Options{})

	assert.False(t, sink.HeadersSent())
	require.NoError(t, s.Write(&api.Message{Role: api.Assistant, Content: "x"}))
	assert.True(t, sink.HeadersSent())
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.True(t, w.Flushed)

	sink.Close()
	assert.True(t, sink.Finished())
	require.NoError(t, s.Write(&api.Message{Content: "late"}))
	assert.NotContains(t, w.Body.String(), "late")
}

func TestGinSink_ClientGone(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx, cancel := context.WithCancel(context.Background())
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx)

	sink := chat.NewGinSink(c)
	assert.False(t, sink.Finished())
	cancel()
	assert.True(t, sink.Finished())
}
