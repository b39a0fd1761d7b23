package dialog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScriptLookup(t *testing.T) {
	s := DefaultScript()

	t.Run("Known language", func(t *testing.T) {
		text := s.Lookup("hi", PromptReprompt)
		assert.Contains(t, text, "dobara")
	})

	t.Run("Unknown language falls back to default", func(t *testing.T) {
		text := s.Lookup("fr", PromptGreeting)
		assert.Equal(t, s.Lookup("en", PromptGreeting), text)
		assert.NotEmpty(t, text)
	})

	t.Run("All prompt kinds present in default language", func(t *testing.T) {
		kinds := []PromptKind{
			PromptGreeting, PromptInfo, PromptAgentQuestion,
			PromptReprompt, PromptEscalation, PromptTransfer, PromptClosing,
		}
		for _, kind := range kinds {
			assert.NotEmpty(t, s.Lookup("en", kind), kind.String())
		}
	})
}
