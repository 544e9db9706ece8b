package supplier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenEffectiveWeight(t *testing.T) {
	assert.Equal(t, 1, Token{}.EffectiveWeight())
	assert.Equal(t, 1, Token{Weight: -3}.EffectiveWeight())
	assert.Equal(t, 5, Token{Weight: 5}.EffectiveWeight())
}

func TestTokenActive(t *testing.T) {
	assert.True(t, Token{}.Active())
	assert.True(t, Token{Status: StatusActive}.Active())
	assert.False(t, Token{Status: StatusDisabled}.Active())
}

func TestTokenSecretPrefix(t *testing.T) {
	assert.Equal(t, "***", Token{Secret: "abc"}.SecretPrefix())
	assert.Equal(t, "sk-ant...", Token{Secret: "sk-ant-123456"}.SecretPrefix())
}

func TestCaller(t *testing.T) {
	var nilCaller *Caller
	assert.False(t, nilCaller.HasUser())
	assert.False(t, (&Caller{}).HasUser())

	c := NewCaller(42)
	assert.True(t, c.HasUser())
	assert.Equal(t, int64(42), *c.UserID)
}
