package msgqueue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "messages"))
}

func TestSendWritesInboxAndOutbox(t *testing.T) {
	q := newTestQueue(t)

	msg := NewMessage("backend-1", "frontend-1", "API is ready", TypeInfo)
	require.NoError(t, q.Send(msg))

	assert.FileExists(t, filepath.Join(q.Root(), "frontend-1", msg.ID+".json"))
	assert.FileExists(t, filepath.Join(q.Root(), "backend-1", "sent", msg.ID+".json"))
}

func TestSendBroadcast(t *testing.T) {
	q := newTestQueue(t)

	msg := NewMessage("operator", BroadcastRecipient, "deploy freeze at 5pm", TypeInfo)
	require.NoError(t, q.Send(msg))

	assert.FileExists(t, filepath.Join(q.Root(), "broadcast", msg.ID+".json"))

	loaded, err := q.LoadForAgent("backend-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "operator", loaded[0].From)
	assert.Equal(t, "all", loaded[0].To)
	assert.Equal(t, "deploy freeze at 5pm", loaded[0].Content)
	assert.Equal(t, TypeInfo, loaded[0].MessageType)
}

func TestSendRejectsInvalidRecipient(t *testing.T) {
	q := newTestQueue(t)

	for _, to := range []string{"", "bad id", "../escape", "x/y"} {
		msg := NewMessage("a", to, "content", TypeInfo)
		err := q.Send(msg)
		require.Error(t, err, "recipient %q", to)
		var valErr *ValidationError
		assert.ErrorAs(t, err, &valErr)
	}
}

func TestSendRejectsInvalidType(t *testing.T) {
	q := newTestQueue(t)
	msg := NewMessage("a", "b", "content", TypeInfo)
	msg.MessageType = "bogus"
	assert.Error(t, q.Send(msg))
}

func TestNewMessageDefaultsToInfo(t *testing.T) {
	msg := NewMessage("a", "b", "c", "")
	assert.Equal(t, TypeInfo, msg.MessageType)
}

func TestMessageIDsUnique(t *testing.T) {
	// A sequence of sends produces as many distinct ids as sends.
	q := newTestQueue(t)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		msg := NewMessage("sender", "receiver", "n", TypeInfo)
		require.NoError(t, q.Send(msg))
		assert.False(t, seen[msg.ID], "duplicate id %s", msg.ID)
		seen[msg.ID] = true
	}
	assert.Len(t, seen, 200)
}

func TestLoadForAgentSortsByTimestamp(t *testing.T) {
	q := newTestQueue(t)

	base := time.Now().UTC()
	for i, offset := range []time.Duration{2 * time.Second, 0, time.Second} {
		msg := NewMessage("s", "agent-1", "m", TypeInfo)
		msg.ID = msg.ID + "-" + string(rune('a'+i))
		msg.Timestamp = base.Add(offset)
		require.NoError(t, q.Send(msg))
	}

	loaded, err := q.LoadForAgent("agent-1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i := 1; i < len(loaded); i++ {
		assert.False(t, loaded[i].Timestamp.Before(loaded[i-1].Timestamp))
	}
}

func TestLoadSkipsUnparsableFiles(t *testing.T) {
	q := newTestQueue(t)

	msg := NewMessage("a", "agent-1", "good", TypeInfo)
	require.NoError(t, q.Send(msg))

	// A partial write from a crashed sender.
	junk := filepath.Join(q.Root(), "agent-1", "broken.json")
	require.NoError(t, os.WriteFile(junk, []byte(`{"id": "trunc`), 0644))

	loaded, err := q.LoadForAgent("agent-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "good", loaded[0].Content)
}

func TestLoadAllDedupsByID(t *testing.T) {
	q := newTestQueue(t)

	// Inbox and outbox hold the same message twice.
	require.NoError(t, q.Send(NewMessage("a", "b", "one", TypeInfo)))
	require.NoError(t, q.Send(NewMessage("b", "a", "two", TypeTask)))

	all, err := q.LoadAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLoadForAgentEmptyQueue(t *testing.T) {
	q := newTestQueue(t)
	loaded, err := q.LoadForAgent("nobody")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestWatchDeliversNewMessages(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := q.Watch(ctx, "agent-1")
	require.NoError(t, err)

	sent := NewMessage("sender", "agent-1", "ping", TypeQuestion)
	require.NoError(t, q.Send(sent))

	select {
	case got := <-ch:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, "ping", got.Content)
	case <-ctx.Done():
		t.Fatal("timed out waiting for watched message")
	}
}
