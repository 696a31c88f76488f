package logx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebugDomainFiltering(t *testing.T) {
	SetDebug(true, []string{"msgqueue"})
	defer SetDebug(false, nil)

	assert.True(t, IsDebugEnabledForDomain("msgqueue"))
	assert.False(t, IsDebugEnabledForDomain("taskqueue"))

	SetDebug(true, nil)
	assert.True(t, IsDebugEnabledForDomain("taskqueue"), "nil domain set enables all domains")
}

func TestDebugDisabled(t *testing.T) {
	SetDebug(false, nil)
	assert.False(t, IsDebugEnabled())
	assert.False(t, IsDebugEnabledForDomain("anything"))
}

func TestRecentEntries(t *testing.T) {
	logger := NewLogger("test-agent")
	logger.Info("hello %s", "colony")

	entries := RecentEntries()
	if assert.NotEmpty(t, entries) {
		last := entries[len(entries)-1]
		assert.Equal(t, "test-agent", last.Scope)
		assert.Equal(t, "INFO", last.Level)
		assert.Equal(t, "hello colony", last.Message)
	}
}

func TestWithScope(t *testing.T) {
	logger := NewLogger("a")
	scoped := logger.WithScope("b")
	assert.Equal(t, "b", scoped.Scope())
	assert.Equal(t, "a", logger.Scope())
}

func TestErrorfReturnsError(t *testing.T) {
	err := Errorf("boom: %d", 42)
	assert.EqualError(t, err, "boom: 42")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "context"))
}
