package utils

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellQuote(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "'hello'"},
		{"spaces", "hello world", "'hello world'"},
		{"single quote", "it's", `'it'\''s'`},
		{"empty", "", "''"},
		{"injection attempt", "; rm -rf /", "'; rm -rf /'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShellQuote(tt.input))
		})
	}
}

func TestShellQuoteAll(t *testing.T) {
	assert.Equal(t, "'a' 'b c'", ShellQuoteAll([]string{"a", "b c"}))
}

func TestIsValidAgentID(t *testing.T) {
	assert.True(t, IsValidAgentID("backend-1"))
	assert.True(t, IsValidAgentID("agent_2"))
	assert.False(t, IsValidAgentID(""))
	assert.False(t, IsValidAgentID("bad id"))
	assert.False(t, IsValidAgentID("bad/id"))
	assert.False(t, IsValidAgentID("bad.id"))
}

func TestGenerateShortID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateShortID()
		require.NoError(t, err)
		assert.Len(t, id, 8)
		assert.False(t, seen[id], "duplicate short id %s", id)
		seen[id] = true
	}
}

func TestIsValidPID(t *testing.T) {
	assert.False(t, IsValidPID(0))
	assert.False(t, IsValidPID(-1))
	assert.False(t, IsValidPID(maxPID+1))
	assert.True(t, IsValidPID(1))
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()), "own process should be alive")
	assert.False(t, ProcessAlive(maxPID), "near-max pid should not exist")
	assert.False(t, ProcessAlive(0))
}
