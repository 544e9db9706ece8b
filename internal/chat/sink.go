package chat

import (
	"io"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// Sink is the transport a Session writes wire events to.
type Sink interface {
	io.Writer
	Header() http.Header
	HeadersSent() bool
	Finished() bool
}

// GinSink streams to a gin response, flushing after every write.
type GinSink struct {
	c      *gin.Context
	closed atomic.Bool
}

func NewGinSink(c *gin.Context) *GinSink {
	return &GinSink{c: c}
}

func (s *GinSink) Write(p []byte) (int, error) {
	n, err := s.c.Writer.Write(p)
	if err != nil {
		return n, err
	}
	s.c.Writer.Flush()
	return n, nil
}

func (s *GinSink) Header() http.Header {
	return s.c.Writer.Header()
}

func (s *GinSink) HeadersSent() bool {
	return s.c.Writer.Written()
}

// Finished reports whether the response was closed or the client went away.
func (s *GinSink) Finished() bool {
	if s.closed.Load() {
		return true
	}
	return s.c.Request.Context().Err() != nil
}

// Close marks the sink finished; later writes are dropped by the Session.
func (s *GinSink) Close() {
	s.closed.Store(true)
}
