package api

type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
	System    Role = "system"
	Function  Role = "function"
)

// Segment tags what kind of payload a Message carries on the wire.
type Segment string

const (
	SegmentNormal Segment = "normal"
	SegmentError  Segment = "error"
	SegmentStop   Segment = "stop"
)

// Message is one conversation turn. It is also the wire event written to the output sink.
type Message struct {
	ID              string  `json:"id,omitempty"`
	ParentMessageID string  `json:"parentMessageId,omitempty"`
	Role            Role    `json:"role"`
	Segment         Segment `json:"segment,omitempty"`
	Content         string  `json:"content"`
}

// HasContent reports whether the message carries any text.
func (m Message) HasContent() bool {
	return m.Content != ""
}

// PartMessage is an incremental fragment of an in-flight assistant turn.
type PartMessage struct {
	Role    Role   `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}
