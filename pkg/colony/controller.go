// Package colony is the controller: it owns the .colony/ directory, starts
// and stops agents in multiplexer panes, and ties the queues, the shared
// state, and the relay together.
package colony

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"colony/pkg/config"
	"colony/pkg/git"
	"colony/pkg/logx"
	"colony/pkg/msgqueue"
	"colony/pkg/state"
	"colony/pkg/taskqueue"
	"colony/pkg/tmux"
)

// AgentStatus is the runtime status of one agent process.
type AgentStatus string

const (
	StatusIdle      AgentStatus = "idle"
	StatusRunning   AgentStatus = "running"
	StatusCompleted AgentStatus = "completed"
	StatusFailed    AgentStatus = "failed"
)

// AgentRecord is the controller's view of one agent: its configuration
// plus the paths and runtime attributes the start sequence fills in.
type AgentRecord struct {
	Config       config.AgentConfig `json:"config"`
	WorktreePath string             `json:"worktree_path,omitempty"`
	ProjectPath  string             `json:"project_path"`
	LogPath      string             `json:"log_path"`
	Status       AgentStatus        `json:"status,omitempty"`
	PID          int                `json:"pid,omitempty"`
}

// Controller coordinates a colony rooted at one repository directory.
type Controller struct {
	repoDir string
	rootDir string // repoDir/.colony
	cfg     *config.Config
	session string

	mux   *tmux.Driver
	trees *git.Manager
	msgs  *msgqueue.Queue
	queue *taskqueue.Queue

	logger *logx.Logger

	mu      sync.Mutex
	records map[string]*AgentRecord

	stateOnce sync.Once
	stateEng  *state.Engine
	stateErr  error
}

// New loads colony.yml from repoDir and builds a controller. The .colony
// subtree is created lazily by Start; New only reads.
func New(repoDir string) (*Controller, error) {
	cfg, err := config.Load(repoDir)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(repoDir, cfg)
}

// NewWithConfig builds a controller from an already-loaded configuration.
func NewWithConfig(repoDir string, cfg *config.Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rootDir := filepath.Join(repoDir, config.ColonyDirName)
	queue, err := taskqueue.New(filepath.Join(rootDir, "tasks"))
	if err != nil {
		return nil, err
	}

	c := &Controller{
		repoDir: repoDir,
		rootDir: rootDir,
		cfg:     cfg,
		session: cfg.SessionName(repoDir),
		mux:     tmux.NewDriver(),
		trees:   git.NewManager(repoDir),
		msgs:    msgqueue.New(filepath.Join(rootDir, "messages")),
		queue:   queue,
		logger:  logx.NewLogger("colony"),
		records: make(map[string]*AgentRecord, len(cfg.Agents)),
	}

	for i := range cfg.Agents {
		agent := cfg.Agents[i]
		c.records[agent.ID] = &AgentRecord{
			Config:      agent,
			ProjectPath: filepath.Join(rootDir, "projects", agent.ID),
			LogPath:     filepath.Join(rootDir, "logs", agent.ID+".log"),
			Status:      StatusIdle,
		}
	}
	c.loadState()
	return c, nil
}

// Session returns the multiplexer session name for this colony.
func (c *Controller) Session() string { return c.session }

// Root returns the .colony directory path.
func (c *Controller) Root() string { return c.rootDir }

// Config returns the loaded configuration.
func (c *Controller) Config() *config.Config { return c.cfg }

// Messages returns the colony's message queue.
func (c *Controller) Messages() *msgqueue.Queue { return c.msgs }

// Tasks returns the colony's file-based task queue.
func (c *Controller) Tasks() *taskqueue.Queue { return c.queue }

// Mux returns the multiplexer driver.
func (c *Controller) Mux() *tmux.Driver { return c.mux }

// Worktrees returns the worktree manager.
func (c *Controller) Worktrees() *git.Manager { return c.trees }

// SharedState opens the shared-state engine on first use. The engine stays
// open for the life of the controller; Close releases it.
func (c *Controller) SharedState() (*state.Engine, error) {
	c.stateOnce.Do(func() {
		c.stateEng, c.stateErr = state.New(c.repoDir, c.cfg.SharedStateOrDefault())
	})
	return c.stateEng, c.stateErr
}

// Close releases the shared-state engine if it was opened.
func (c *Controller) Close() error {
	if c.stateEng != nil {
		return c.stateEng.Close()
	}
	return nil
}

// record returns the agent record, or a NotFound-shaped error for ids not
// declared in colony.yml.
func (c *Controller) record(agentID string) (*AgentRecord, error) {
	rec, ok := c.records[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %q is not declared in %s", agentID, config.ConfigFileName)
	}
	return rec, nil
}

// Records returns the agent records in declaration order.
func (c *Controller) Records() []*AgentRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*AgentRecord, 0, len(c.cfg.Agents))
	for i := range c.cfg.Agents {
		out = append(out, c.records[c.cfg.Agents[i].ID])
	}
	return out
}

// ensureLayout creates the .colony subtree.
func (c *Controller) ensureLayout() error {
	dirs := []string{
		c.rootDir,
		filepath.Join(c.rootDir, "worktrees"),
		filepath.Join(c.rootDir, "projects"),
		filepath.Join(c.rootDir, "logs"),
		filepath.Join(c.rootDir, "messages"),
	}
	for _, rec := range c.records {
		dirs = append(dirs, rec.ProjectPath)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func removeColonyDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return nil
}

// createWorktrees materializes a working directory for every agent. Agents
// with a pinned custom directory skip worktree creation.
func (c *Controller) createWorktrees(ctx context.Context) error {
	for _, agent := range c.cfg.Agents {
		rec := c.records[agent.ID]
		if agent.Directory != "" {
			rec.WorktreePath = agent.Directory
			continue
		}
		path, err := c.trees.EnsureWorktree(ctx, agent.ID, agent.Worktree)
		if err != nil {
			return fmt.Errorf("failed to prepare worktree for %s: %w", agent.ID, err)
		}
		rec.WorktreePath = path
	}
	return nil
}
