// Package config provides loading and validation of colony.yml, the single
// declaration of a colony: its agents, shared-state backend, and telemetry
// settings.
//
// Configuration is strictly separated from state: runtime facts (status,
// pids, worktree paths) live in .colony/state.json and the cache database,
// never here. colony.yml is owned by the CLI; every other component only
// reads it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"colony/pkg/utils"
)

// DefaultModel is the assistant model launched when an agent does not pin one.
const DefaultModel = "claude-sonnet-4-5"

// ColonyDirName is the on-disk root for all colony state, relative to the
// repository root.
const ColonyDirName = ".colony"

// DefaultStatePath is the default shared-state location inside the colony root.
const DefaultStatePath = ".colony/state"

// BroadcastRecipient is the reserved recipient id for broadcast messages.
// It is forbidden as an agent id: a directory named "all" would shadow the
// broadcast inbox.
const BroadcastRecipient = "all"

// ConfigError reports an invalid or unloadable colony.yml.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
	}
	return "config: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// AgentConfig declares one agent of the colony.
type AgentConfig struct {
	ID            string            `yaml:"id"`
	Role          string            `yaml:"role"`
	Focus         string            `yaml:"focus"`
	Model         string            `yaml:"model,omitempty"`
	Directory     string            `yaml:"directory,omitempty"` // if set, skip worktree creation
	Worktree      string            `yaml:"worktree,omitempty"`  // branch name for the worktree
	Env           map[string]string `yaml:"env,omitempty"`
	MCPServers    map[string]any    `yaml:"mcp_servers,omitempty"`
	Instructions  string            `yaml:"instructions,omitempty"`
	StartupPrompt string            `yaml:"startup_prompt,omitempty"`
}

// SharedStateConfig declares the git-backed shared-state layer.
type SharedStateConfig struct {
	Backend       string `yaml:"backend,omitempty"`  // git-backed | memory
	Location      string `yaml:"location,omitempty"` // in-repo | external
	Path          string `yaml:"path,omitempty"`
	Repository    string `yaml:"repository,omitempty"`
	Branch        string `yaml:"branch,omitempty"`
	AutoCommit    bool   `yaml:"auto_commit,omitempty"`
	AutoPush      bool   `yaml:"auto_push,omitempty"`
	CommitMessage string `yaml:"commit_message,omitempty"` // may contain {schema}
}

// TelemetryConfig declares the event-emission boundary. Only the boundary
// is part of this system; nothing here phones home.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	AnonymousID string `yaml:"anonymous_id,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
}

// Config is the in-memory form of colony.yml.
type Config struct {
	Name        string             `yaml:"name,omitempty"`
	Agents      []AgentConfig      `yaml:"agents"`
	Executor    *AgentConfig       `yaml:"executor,omitempty"`
	SharedState *SharedStateConfig `yaml:"shared_state,omitempty"`
	Telemetry   *TelemetryConfig   `yaml:"telemetry,omitempty"`
}

// Validate checks agent ids for shape, uniqueness, and the reserved
// broadcast id, and confirms that pinned custom directories exist.
// An empty agent list is valid here: read-only commands like status still
// work on an empty colony, and start rejects it separately.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Agents))
	for i := range c.Agents {
		agent := &c.Agents[i]
		if !utils.IsValidAgentID(agent.ID) {
			return &ConfigError{Msg: fmt.Sprintf("invalid agent id %q (must match [A-Za-z0-9_-]+)", agent.ID)}
		}
		if agent.ID == BroadcastRecipient {
			return &ConfigError{Msg: `agent id "all" is reserved for broadcasts`}
		}
		if seen[agent.ID] {
			return &ConfigError{Msg: fmt.Sprintf("duplicate agent id %q", agent.ID)}
		}
		seen[agent.ID] = true

		if agent.Directory != "" {
			if _, err := os.Stat(agent.Directory); err != nil {
				return &ConfigError{Msg: fmt.Sprintf("custom directory for agent %q does not exist: %s", agent.ID, agent.Directory)}
			}
		}
	}
	return nil
}

// Agent returns the configuration for the given agent id.
func (c *Config) Agent(id string) (*AgentConfig, bool) {
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			return &c.Agents[i], true
		}
	}
	return nil, false
}

// ModelFor returns the model an agent should run, falling back to the default.
func (c *Config) ModelFor(agent *AgentConfig) string {
	if agent.Model != "" {
		return agent.Model
	}
	return DefaultModel
}

// SessionName derives the multiplexer session name: colony-<name> when the
// colony is named, else colony-<sanitized basename of dir>.
func (c *Config) SessionName(dir string) string {
	name := c.Name
	if name == "" {
		name = filepath.Base(dir)
	}
	return "colony-" + sanitizeSessionName(name)
}

// sanitizeSessionName maps every character outside [A-Za-z0-9_-] to '-'.
func sanitizeSessionName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// SharedStateOrDefault returns the shared-state settings with defaults
// applied (git-backed, in-repo, .colony/state, branch main).
func (c *Config) SharedStateOrDefault() SharedStateConfig {
	ss := SharedStateConfig{
		Backend:       "git-backed",
		Location:      "in-repo",
		Path:          DefaultStatePath,
		Branch:        "main",
		AutoCommit:    true,
		CommitMessage: "colony: update {schema}",
	}
	if c.SharedState == nil {
		return ss
	}
	if c.SharedState.Backend != "" {
		ss.Backend = c.SharedState.Backend
	}
	if c.SharedState.Location != "" {
		ss.Location = c.SharedState.Location
	}
	if c.SharedState.Path != "" {
		ss.Path = c.SharedState.Path
	}
	if c.SharedState.Branch != "" {
		ss.Branch = c.SharedState.Branch
	}
	if c.SharedState.CommitMessage != "" {
		ss.CommitMessage = c.SharedState.CommitMessage
	}
	ss.Repository = c.SharedState.Repository
	ss.AutoCommit = c.SharedState.AutoCommit
	ss.AutoPush = c.SharedState.AutoPush
	return ss
}
