// Package supplier holds the credential and caller types shared by the router, the client pools
// and the supplier adapters.
package supplier

import "strconv"

// Name identifies one upstream AI provider.
type Name string

const (
	Anthropic Name = "anthropic"
	OpenAI    Name = "openai"
	Stability Name = "stability"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Token is one credential. Pools replace tokens wholesale, they never mutate them.
type Token struct {
	ID       int64
	Supplier Name
	Secret   string
	BaseURL  string
	Weight   int
	Status   Status
}

// EffectiveWeight is the selection weight, never below 1.
func (t Token) EffectiveWeight() int {
	if t.Weight <= 0 {
		return 1
	}
	return t.Weight
}

func (t Token) Active() bool {
	return t.Status == "" || t.Status == StatusActive
}

// SecretPrefix returns a display-safe prefix of the secret.
func (t Token) SecretPrefix() string {
	if len(t.Secret) <= 6 {
		return "***"
	}
	return t.Secret[:6] + "..."
}

func (t Token) String() string {
	return string(t.Supplier) + "#" + strconv.FormatInt(t.ID, 10)
}

// Caller is an optional selection hint. A set UserID pins the caller to one credential.
type Caller struct {
	UserID *int64
}

// NewCaller returns a caller pinned to userID.
func NewCaller(userID int64) *Caller {
	return &Caller{UserID: &userID}
}

func (c *Caller) HasUser() bool {
	return c != nil && c.UserID != nil
}
