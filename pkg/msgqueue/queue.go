package msgqueue

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"colony/pkg/logx"
	"colony/pkg/metrics"
	"colony/pkg/utils"
)

// BroadcastRecipient addresses a message to every agent.
const BroadcastRecipient = "all"

// broadcastDir is the on-disk folder holding broadcast messages.
const broadcastDir = "broadcast"

// ValidationError reports a malformed recipient or message type.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// Queue reads and writes messages under a messages/ directory.
type Queue struct {
	root   string // the messages/ directory
	logger *logx.Logger
}

// New creates a queue rooted at the given messages directory. Directories
// are created lazily on first write.
func New(root string) *Queue {
	return &Queue{
		root:   root,
		logger: logx.NewLogger("msgqueue"),
	}
}

// Root returns the messages directory.
func (q *Queue) Root() string { return q.root }

// Send validates the recipient, then writes the message to the recipient
// inbox (or the broadcast folder) and to the sender's outbox. Each write is
// atomic at the single-file level; a failure between the two leaves the
// authoritative inbox copy in place.
func (q *Queue) Send(msg *Message) error {
	if msg.To != BroadcastRecipient && !utils.IsValidAgentID(msg.To) {
		return &ValidationError{Msg: fmt.Sprintf("invalid recipient %q", msg.To)}
	}
	if !ValidMessageType(msg.MessageType) {
		return &ValidationError{Msg: fmt.Sprintf("invalid message type %q", msg.MessageType)}
	}

	inboxDir := filepath.Join(q.root, msg.To)
	if msg.To == BroadcastRecipient {
		inboxDir = filepath.Join(q.root, broadcastDir)
	}

	if err := q.writeMessage(inboxDir, msg); err != nil {
		return err
	}

	outboxDir := filepath.Join(q.root, msg.From, "sent")
	if err := q.writeMessage(outboxDir, msg); err != nil {
		// Inbox copy is authoritative; an outbox failure is not fatal.
		q.logger.Warn("outbox copy failed for %s: %v", msg.ID, err)
	}

	metrics.Default().MessageSent(string(msg.MessageType))
	q.logger.DebugDomain("msgqueue", "sent %s -> %s (%s)", msg.From, msg.To, msg.MessageType)
	return nil
}

func (q *Queue) writeMessage(dir string, msg *Message) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create message directory: %w", err)
	}

	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	path := filepath.Join(dir, msg.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write message file: %w", err)
	}
	return nil
}

// LoadForAgent returns the agent's inbox messages plus broadcasts, sorted
// by timestamp ascending. Unparsable files are skipped: a reader may race a
// writer mid-file and the write will complete momentarily.
func (q *Queue) LoadForAgent(agentID string) ([]*Message, error) {
	var messages []*Message

	for _, dir := range []string{
		filepath.Join(q.root, agentID),
		filepath.Join(q.root, broadcastDir),
	} {
		loaded, err := q.loadDir(dir)
		if err != nil {
			return nil, err
		}
		messages = append(messages, loaded...)
	}

	sortMessages(messages)
	return messages, nil
}

// LoadAll walks the whole messages tree, dedups by id (inbox and outbox
// hold the same message twice), and sorts by timestamp.
func (q *Queue) LoadAll() ([]*Message, error) {
	seen := make(map[string]bool)
	var messages []*Message

	err := filepath.WalkDir(q.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		msg, parseErr := q.parseFile(path)
		if parseErr != nil || seen[msg.ID] {
			return nil
		}
		seen[msg.ID] = true
		messages = append(messages, msg)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to walk messages directory: %w", err)
	}

	sortMessages(messages)
	return messages, nil
}

func (q *Queue) loadDir(dir string) ([]*Message, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read message directory: %w", err)
	}

	var messages []*Message
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		msg, parseErr := q.parseFile(filepath.Join(dir, entry.Name()))
		if parseErr != nil {
			q.logger.DebugDomain("msgqueue", "skipping unparsable message %s: %v", entry.Name(), parseErr)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (q *Queue) parseFile(path string) (*Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("message without id")
	}
	return &msg, nil
}

// sortMessages orders by timestamp ascending, ties broken by id so the
// order is total and stable across readers.
func sortMessages(messages []*Message) {
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].Timestamp.Equal(messages[j].Timestamp) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}
