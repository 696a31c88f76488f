package colony

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// colonyState is the on-disk shape of state.json. Readers tolerate its
// absence; writers rewrite the whole file.
type colonyState struct {
	Name      string        `json:"name"`
	Session   string        `json:"session"`
	UpdatedAt time.Time     `json:"updated_at"`
	Agents    []AgentRecord `json:"agents"`
}

func (c *Controller) statePath() string {
	return filepath.Join(c.rootDir, "state.json")
}

// saveState writes the current records as pretty JSON to state.json.
func (c *Controller) saveState() error {
	c.mu.Lock()
	snapshot := colonyState{
		Name:      c.cfg.Name,
		Session:   c.session,
		UpdatedAt: time.Now().UTC(),
	}
	for _, agent := range c.cfg.Agents {
		snapshot.Agents = append(snapshot.Agents, *c.records[agent.ID])
	}
	c.mu.Unlock()

	data, err := json.MarshalIndent(&snapshot, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.rootDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(c.statePath(), data, 0644)
}

// loadState merges previously saved status and pid back into the records.
// A missing or unreadable file is a silent no-op; the snapshot is advisory.
func (c *Controller) loadState() {
	data, err := os.ReadFile(c.statePath())
	if err != nil {
		return
	}
	var saved colonyState
	if err := json.Unmarshal(data, &saved); err != nil {
		c.logger.Warn("ignoring unreadable state.json: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range saved.Agents {
		rec, ok := c.records[saved.Agents[i].Config.ID]
		if !ok {
			continue // agent removed from colony.yml since the last save
		}
		rec.Status = saved.Agents[i].Status
		rec.PID = saved.Agents[i].PID
		if saved.Agents[i].WorktreePath != "" {
			rec.WorktreePath = saved.Agents[i].WorktreePath
		}
	}
}
