package colony

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"colony/pkg/config"
)

//go:embed templates/*.sh templates/COLONY_COMMUNICATION.md
var scriptFS embed.FS

//nolint:gochecknoglobals // Parsed once at startup.
var scriptTemplates = template.Must(template.ParseFS(scriptFS, "templates/*"))

type scriptData struct {
	AgentID     string
	MessagesDir string
	AgentList   string
	BinaryPath  string
	RepoDir     string
	Agents      []config.AgentConfig
}

// EmitScripts writes the per-agent helper scripts and the colony-wide
// communication guide. Existing files are overwritten so edits to
// colony.yml propagate on the next start.
func (c *Controller) EmitScripts() error {
	binaryPath, err := os.Executable()
	if err != nil {
		binaryPath = "colony" // fall back to PATH lookup inside the script
	}

	agentList := ""
	for i, agent := range c.cfg.Agents {
		if i > 0 {
			agentList += " "
		}
		agentList += agent.ID
	}

	guide := scriptData{Agents: c.cfg.Agents}
	if err := c.renderTo(filepath.Join(c.rootDir, "COLONY_COMMUNICATION.md"),
		"COLONY_COMMUNICATION.md", &guide, 0644); err != nil {
		return err
	}

	for _, rec := range c.Records() {
		data := scriptData{
			AgentID:     rec.Config.ID,
			MessagesDir: c.msgs.Root(),
			AgentList:   agentList,
			BinaryPath:  binaryPath,
			RepoDir:     c.repoDir,
		}
		if err := os.MkdirAll(rec.ProjectPath, 0755); err != nil {
			return err
		}

		messageScript := filepath.Join(rec.ProjectPath, "colony_message.sh")
		if err := c.renderTo(messageScript, "colony_message.sh", &data, 0755); err != nil {
			return err
		}
		if err := c.renderTo(filepath.Join(rec.ProjectPath, "colony_state.sh"),
			"colony_state.sh", &data, 0755); err != nil {
			return err
		}

		if rec.WorktreePath != "" {
			c.linkIntoWorktree(messageScript, rec.WorktreePath, "colony_message.sh")
			c.linkIntoWorktree(messageScript, rec.WorktreePath,
				"colony_message_"+rec.Config.ID+".sh")
		}
	}
	return nil
}

func (c *Controller) renderTo(path, templateName string, data *scriptData, mode os.FileMode) error {
	var buf bytes.Buffer
	if err := scriptTemplates.ExecuteTemplate(&buf, templateName, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", templateName, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// linkIntoWorktree symlinks a helper script into the agent's worktree so
// the agent can call it without knowing the project path. Failures are
// warnings; the canonical copy in projects/ always exists.
func (c *Controller) linkIntoWorktree(target, worktree, name string) {
	link := filepath.Join(worktree, name)
	if _, err := os.Lstat(link); err == nil {
		_ = os.Remove(link)
	}
	if err := os.Symlink(target, link); err != nil {
		c.logger.Warn("failed to link %s: %v", link, err)
	}
}
