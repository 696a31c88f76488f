package colony

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"colony/pkg/config"
	"colony/pkg/metrics"
	"colony/pkg/tmux"
	"colony/pkg/utils"
)

// assistantBinary launches the coding assistant inside each pane.
const assistantBinary = "claude"

const paneTitlePrefix = "Agent: "

// StartOptions controls the start sequence.
type StartOptions struct {
	NoAttach bool
}

// Start brings the whole colony up: worktrees, helper scripts, one pane
// per agent, then attach (unless NoAttach). A failure before the session
// exists aborts; a per-agent pane failure stops the sequence and reports
// which agent failed.
func (c *Controller) Start(ctx context.Context, opts StartOptions) error {
	if len(c.cfg.Agents) == 0 {
		return &config.ConfigError{Msg: "no agents defined in colony.yml"}
	}
	if !c.mux.Available() {
		return &config.ConfigError{Msg: "tmux is not installed; install it and retry"}
	}

	if err := c.ensureLayout(); err != nil {
		return err
	}
	if err := c.createWorktrees(ctx); err != nil {
		return err
	}
	if err := c.EmitScripts(); err != nil {
		return err
	}

	// A stale session from a previous run would collide with pane indices.
	if err := c.mux.KillSession(ctx, c.session); err != nil {
		return err
	}
	if err := c.mux.CreateSession(ctx, c.session, c.repoDir); err != nil {
		return err
	}

	for i, agent := range c.cfg.Agents {
		if err := c.launchPane(ctx, agent.ID, i); err != nil {
			return fmt.Errorf("failed to start agent %s: %w", agent.ID, err)
		}
	}

	if err := c.mux.ApplyLayout(ctx, c.session, tmux.LayoutTiled); err != nil {
		c.logger.Warn("failed to apply layout: %v", err)
	}

	c.setRunningGauge()
	if err := c.saveState(); err != nil {
		return err
	}
	c.logger.Info("🐜 colony %s is up with %d agents", c.session, len(c.cfg.Agents))

	if opts.NoAttach {
		return nil
	}
	return c.mux.Attach(c.session)
}

// launchPane runs one agent's launch command in a pane. Ordinal 0 reuses
// the session's initial pane; later agents split the window, alternating
// direction so the layout stays roughly balanced.
func (c *Controller) launchPane(ctx context.Context, agentID string, ordinal int) error {
	rec, err := c.record(agentID)
	if err != nil {
		return err
	}

	paneIndex := 0
	if ordinal > 0 {
		dir := tmux.SplitHorizontal
		if ordinal%2 == 0 {
			dir = tmux.SplitVertical
		}
		paneIndex, err = c.mux.SplitWindow(ctx, c.session, dir)
		if err != nil {
			return err
		}
	}
	target := fmt.Sprintf("%s:0.%d", c.session, paneIndex)

	if err := c.mux.SendCommand(ctx, target, c.launchCommand(rec)); err != nil {
		return err
	}
	if err := c.mux.SetPaneTitle(ctx, target, paneTitlePrefix+agentID); err != nil {
		return err
	}
	if runtime.GOOS != "windows" {
		if err := c.mux.PipePane(ctx, target, rec.LogPath); err != nil {
			c.logger.Warn("failed to pipe %s output to %s: %v", agentID, rec.LogPath, err)
		}
	}
	pid, err := c.mux.PanePID(ctx, target)
	if err != nil {
		c.logger.Warn("failed to read pane pid for %s: %v", agentID, err)
	}

	c.mu.Lock()
	rec.Status = StatusRunning
	rec.PID = pid
	c.mu.Unlock()
	return nil
}

// launchCommand builds the shell line sent into the pane. Everything that
// came from configuration is single-quote escaped.
func (c *Controller) launchCommand(rec *AgentRecord) string {
	workDir := rec.WorktreePath
	if workDir == "" {
		workDir = c.repoDir
	}

	var b strings.Builder
	b.WriteString("cd " + utils.ShellQuote(workDir) + " && ")
	b.WriteString("export COLONY_AGENT_ID=" + utils.ShellQuote(rec.Config.ID))
	b.WriteString(" COLONY_ROOT=" + utils.ShellQuote(c.rootDir))
	for key, value := range rec.Config.Env {
		b.WriteString(" " + key + "=" + utils.ShellQuote(value))
	}
	b.WriteString(" && " + assistantBinary)
	b.WriteString(" --model " + utils.ShellQuote(c.cfg.ModelFor(&rec.Config)))
	b.WriteString(" --project " + utils.ShellQuote(rec.ProjectPath))
	b.WriteString(" --dangerously-skip-permissions")
	return b.String()
}

// StartAgent starts one declared agent in a new pane of the running
// session. Used by the CLI and by relay start_agent commands.
func (c *Controller) StartAgent(ctx context.Context, agentID string) error {
	rec, err := c.record(agentID)
	if err != nil {
		return err
	}
	if !c.mux.HasSession(ctx, c.session) {
		return fmt.Errorf("session %s is not running; run start first", c.session)
	}
	if _, found := c.mux.FindPaneByTitle(ctx, c.session, paneTitlePrefix+agentID); found {
		return fmt.Errorf("agent %s already has a pane", agentID)
	}

	if err := c.ensureLayout(); err != nil {
		return err
	}
	if rec.WorktreePath == "" && rec.Config.Directory == "" {
		path, err := c.trees.EnsureWorktree(ctx, agentID, rec.Config.Worktree)
		if err != nil {
			return err
		}
		c.mu.Lock()
		rec.WorktreePath = path
		c.mu.Unlock()
	}

	index, err := c.mux.SplitWindow(ctx, c.session, tmux.SplitHorizontal)
	if err != nil {
		return err
	}
	target := fmt.Sprintf("%s:0.%d", c.session, index)
	if err := c.mux.SendCommand(ctx, target, c.launchCommand(rec)); err != nil {
		return err
	}
	if err := c.mux.SetPaneTitle(ctx, target, paneTitlePrefix+agentID); err != nil {
		return err
	}
	if runtime.GOOS != "windows" {
		if err := c.mux.PipePane(ctx, target, rec.LogPath); err != nil {
			c.logger.Warn("failed to pipe %s output: %v", agentID, err)
		}
	}
	pid, err := c.mux.PanePID(ctx, target)
	if err != nil {
		c.logger.Warn("failed to read pane pid for %s: %v", agentID, err)
	}
	if err := c.mux.ApplyLayout(ctx, c.session, tmux.LayoutTiled); err != nil {
		c.logger.Warn("failed to apply layout: %v", err)
	}

	c.mu.Lock()
	rec.Status = StatusRunning
	rec.PID = pid
	c.mu.Unlock()
	c.setRunningGauge()
	return c.saveState()
}

// StopAgent terminates one agent: signal its recorded pid if it looks
// alive, kill its pane, clear the runtime fields. Signal failures are not
// fatal; the record is cleared either way.
func (c *Controller) StopAgent(ctx context.Context, agentID string) error {
	rec, err := c.record(agentID)
	if err != nil {
		return err
	}

	if utils.IsValidPID(rec.PID) && utils.ProcessAlive(rec.PID) {
		if err := utils.TerminateProcess(rec.PID); err != nil {
			c.logger.Warn("failed to signal pid %d for %s: %v", rec.PID, agentID, err)
		}
	}

	if index, found := c.mux.FindPaneByTitle(ctx, c.session, paneTitlePrefix+agentID); found {
		target := fmt.Sprintf("%s:0.%d", c.session, index)
		if err := c.mux.KillPane(ctx, target); err != nil {
			c.logger.Warn("failed to kill pane for %s: %v", agentID, err)
		}
	}

	c.mu.Lock()
	rec.Status = StatusIdle
	rec.PID = 0
	c.mu.Unlock()
	c.setRunningGauge()
	return c.saveState()
}

// Stop stops every agent and kills the session.
func (c *Controller) Stop(ctx context.Context) error {
	for _, agent := range c.cfg.Agents {
		if err := c.StopAgent(ctx, agent.ID); err != nil {
			c.logger.Warn("failed to stop %s: %v", agent.ID, err)
		}
	}
	return c.mux.KillSession(ctx, c.session)
}

// Destroy stops everything, removes the worktrees, and deletes .colony/.
// colony.yml is preserved. Worktree removal is best-effort; only the final
// directory removal can refuse.
func (c *Controller) Destroy(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil {
		c.logger.Warn("failed to stop cleanly: %v", err)
	}

	for _, rec := range c.Records() {
		if rec.WorktreePath == "" || rec.Config.Directory != "" {
			continue
		}
		if err := c.trees.RemoveWorktree(ctx, rec.WorktreePath); err != nil {
			c.logger.Warn("failed to remove worktree %s: %v", rec.WorktreePath, err)
		}
	}

	if c.stateEng != nil {
		_ = c.stateEng.Close()
	}
	return removeColonyDir(c.rootDir)
}

// AgentRow is one line of the status table.
type AgentRow struct {
	ID     string
	Role   string
	Model  string
	Status AgentStatus
	PID    int
}

// Status derives per-agent liveness from the multiplexer: an agent with a
// titled pane is running, everything else reports its saved status.
func (c *Controller) Status(ctx context.Context) []AgentRow {
	sessionUp := c.mux.HasSession(ctx, c.session)

	rows := make([]AgentRow, 0, len(c.cfg.Agents))
	for _, rec := range c.Records() {
		row := AgentRow{
			ID:     rec.Config.ID,
			Role:   rec.Config.Role,
			Model:  c.cfg.ModelFor(&rec.Config),
			Status: rec.Status,
			PID:    rec.PID,
		}
		if row.Status == "" {
			row.Status = StatusIdle
		}
		if sessionUp {
			if _, found := c.mux.FindPaneByTitle(ctx, c.session, paneTitlePrefix+rec.Config.ID); found {
				row.Status = StatusRunning
			} else if row.Status == StatusRunning {
				row.Status = StatusIdle
			}
		} else if row.Status == StatusRunning {
			row.Status = StatusIdle
		}
		rows = append(rows, row)
	}
	return rows
}

// Attach hands the terminal to the session.
func (c *Controller) Attach() error {
	return c.mux.Attach(c.session)
}

func (c *Controller) setRunningGauge() {
	c.mu.Lock()
	running := 0
	for _, rec := range c.records {
		if rec.Status == StatusRunning {
			running++
		}
	}
	c.mu.Unlock()
	metrics.Default().SetAgentsRunning(running)
}
