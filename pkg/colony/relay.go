package colony

import (
	"context"
	"os"

	"colony/pkg/msgqueue"
	"colony/pkg/relay"
	"colony/pkg/state"
)

// relaySender is the synthetic sender id for messages created by remote
// commands.
const relaySender = "relay"

var _ relay.Handler = (*Controller)(nil)

// Snapshot builds the periodic state_update payload. Agent status comes
// from pane titles, deliberately not from state.json, so there is a single
// source of truth for liveness.
func (c *Controller) Snapshot(ctx context.Context) (*relay.StateUpdate, error) {
	update := &relay.StateUpdate{
		Agents:   []relay.AgentSnapshot{},
		Tasks:    []relay.TaskSnapshot{},
		Messages: []relay.MessageSnapshot{},
	}

	sessionUp := c.mux.HasSession(ctx, c.session)
	for _, rec := range c.Records() {
		status := "stopped"
		if sessionUp {
			if _, found := c.mux.FindPaneByTitle(ctx, c.session, paneTitlePrefix+rec.Config.ID); found {
				status = "running"
			}
		}
		snapshot := relay.AgentSnapshot{
			ID:     rec.Config.ID,
			Role:   rec.Config.Role,
			Status: status,
		}
		if info, err := os.Stat(rec.LogPath); err == nil {
			snapshot.LastActivity = info.ModTime().UTC()
		}
		update.Agents = append(update.Agents, snapshot)
	}

	tasks, err := c.queue.LoadAll()
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		update.Tasks = append(update.Tasks, relay.TaskSnapshot{
			ID:       task.ID,
			Title:    task.Title,
			Status:   string(task.Status),
			Assigned: task.AssignedTo,
			Progress: task.Progress,
		})
	}

	messages, err := c.msgs.LoadAll()
	if err != nil {
		return nil, err
	}
	if len(messages) > 50 {
		messages = messages[len(messages)-50:]
	}
	for _, msg := range messages {
		update.Messages = append(update.Messages, relay.MessageSnapshot{
			ID:        msg.ID,
			From:      msg.From,
			To:        msg.To,
			Content:   msg.Content,
			Type:      string(msg.MessageType),
			Timestamp: msg.Timestamp,
		})
	}
	return update, nil
}

// SendMessage creates a message on behalf of the remote, sender "relay".
// An empty messageType defaults to info. Returns the message id.
func (c *Controller) SendMessage(_ context.Context, to, content, messageType string) (string, error) {
	msg := msgqueue.NewMessage(relaySender, to, content, msgqueue.MessageType(messageType))
	if err := c.msgs.Send(msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// CreateTask creates a shared-state task with a synthetic id. Returns the
// id. Priority has no column in the shared-task model; it rides in the
// metadata map.
func (c *Controller) CreateTask(ctx context.Context, title, description, assignedTo, priority string) (string, error) {
	engine, err := c.SharedState()
	if err != nil {
		return "", err
	}
	task := &state.Task{
		Title:       title,
		Description: description,
		Assigned:    assignedTo,
	}
	if priority != "" {
		task.Metadata = map[string]any{"priority": priority}
	}
	if err := engine.AddTask(ctx, task); err != nil {
		return "", err
	}
	return task.ID, nil
}
