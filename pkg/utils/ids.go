package utils

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

// AgentIDPattern is the allowed shape for agent ids and message recipients.
// "all" is additionally reserved as the broadcast sentinel.
var AgentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// IsValidAgentID reports whether id matches the agent id pattern.
func IsValidAgentID(id string) bool {
	return AgentIDPattern.MatchString(id)
}

// GenerateShortID generates an 8-character hex id (like a short git commit
// hash). Short random ids keep JSONL merge conflicts rare across agents
// creating entities concurrently.
func GenerateShortID() (string, error) {
	bytes := make([]byte, 4) // 4 bytes = 8 hex characters
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return fmt.Sprintf("%x", bytes), nil
}
