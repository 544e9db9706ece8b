package api

type ChatRequest struct {
	// message array is required, dive in and deep validate
	Messages []ChatMessage `json:"messages" binding:"required,min=1,dive"`

	// the model to send request to, the supplier is derived from its prefix
	Model string `json:"model" binding:"required"`

	// id of the assistant message this turn continues, echoed on every wire event
	ParentMessageID string `json:"parentMessageId,omitempty"`

	// LLM Parameters
	MaxTokens   int     `json:"max_tokens,omitempty" binding:"omitempty,min=1"`
	Temperature float64 `json:"temperature,omitempty" binding:"omitempty,min=0,max=2"`
	TopP        float64 `json:"top_p,omitempty" binding:"omitempty,min=0,max=1"`
}

type ChatMessage struct {
	Role    Role   `json:"role" binding:"required,oneof=user assistant system function"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// TokenRequest registers or replaces a supplier credential.
type TokenRequest struct {
	ID       int64  `json:"id" binding:"required,min=1"`
	Supplier string `json:"supplier" binding:"required,oneof=anthropic openai stability"`
	Secret   string `json:"secret" binding:"required"`
	BaseURL  string `json:"base_url,omitempty" binding:"omitempty,url"`
	Weight   int    `json:"weight,omitempty" binding:"omitempty,min=0"`
	Status   string `json:"status,omitempty" binding:"omitempty,oneof=active disabled"`
}
