package msgqueue

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch streams new messages for an agent as they arrive, covering both the
// agent inbox and the broadcast folder. The channel closes when ctx is
// cancelled. Used by `colony messages --follow`.
func (q *Queue) Watch(ctx context.Context, agentID string) (<-chan *Message, error) {
	inbox := filepath.Join(q.root, agentID)
	broadcast := filepath.Join(q.root, broadcastDir)

	// The watcher needs existing directories.
	for _, dir := range []string{inbox, broadcast} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(inbox); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	if err := watcher.Add(broadcast); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	out := make(chan *Message)
	go func() {
		defer close(out)
		defer watcher.Close()

		seen := make(map[string]bool)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				if filepath.Ext(event.Name) != ".json" {
					continue
				}
				msg, parseErr := q.parseFile(event.Name)
				if parseErr != nil || seen[msg.ID] {
					// Partial write; the follow-up Write event will deliver it.
					continue
				}
				seen[msg.ID] = true
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				q.logger.Warn("message watcher error: %v", watchErr)
			}
		}
	}()

	return out, nil
}
