package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

func TestParseScope(t *testing.T) {
	scope, err := memory.ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, memory.ScopeFacts, scope)

	for _, s := range []string{"prefs", "facts", "persona", "constraints"} {
		scope, err := memory.ParseScope(s)
		require.NoError(t, err)
		assert.Equal(t, memory.Scope(s), scope)
	}

	_, err = memory.ParseScope("secrets")
	assert.ErrorIs(t, err, memory.ErrInvalidScope)
}

func TestShouldPersist(t *testing.T) {
	engine := memory.NewWritePolicyEngine(config.WritePolicy{
		EnabledScopes: []string{"prefs", "facts"},
		MinChars:      12,
	})

	tests := []struct {
		name  string
		text  string
		scope memory.Scope
		want  bool
	}{
		{name: "long enough enabled scope", text: "prefers dark roast coffee", scope: memory.ScopeFacts, want: true},
		{name: "too short", text: "hi", scope: memory.ScopeFacts, want: false},
		{name: "padding does not count", text: "   hi         ", scope: memory.ScopeFacts, want: false},
		{name: "exactly min chars", text: "abcdefghijkl", scope: memory.ScopePrefs, want: true},
		{name: "disabled scope", text: "never mention the project codename", scope: memory.ScopeConstraints, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.ShouldPersist(tt.text, tt.scope))
		})
	}
}

func TestAddRequestTexts(t *testing.T) {
	req := memory.AddRequest{
		Text: "free text first",
		Messages: []memory.Message{
			{Role: "user", Content: "message one"},
			{Role: "assistant", Content: ""},
			{Role: "user", Content: "message two"},
		},
	}
	assert.Equal(t, []string{"free text first", "message one", "message two"}, req.Texts())
}
