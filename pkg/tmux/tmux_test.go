package tmux

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colony/pkg/exec"
)

// fakeExec records commands and replays canned results keyed by subcommand.
type fakeExec struct {
	calls   [][]string
	results map[string]exec.Result
}

func (f *fakeExec) Run(_ context.Context, cmd []string, _ exec.Opts) (exec.Result, error) {
	f.calls = append(f.calls, cmd)
	if result, ok := f.results[cmd[1]]; ok {
		return result, nil
	}
	return exec.Result{}, nil
}

func (f *fakeExec) lastCall() []string {
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func newFakeDriver(results map[string]exec.Result) (*Driver, *fakeExec) {
	fake := &fakeExec{results: results}
	return NewDriver().WithExecutor(fake), fake
}

func TestCreateSession(t *testing.T) {
	d, fake := newFakeDriver(nil)
	require.NoError(t, d.CreateSession(context.Background(), "colony-demo", "/work"))
	assert.Equal(t, []string{"tmux", "new-session", "-d", "-s", "colony-demo", "-c", "/work"}, fake.lastCall())
}

func TestSplitWindowParsesPaneIndex(t *testing.T) {
	d, fake := newFakeDriver(map[string]exec.Result{
		"split-window": {Stdout: "3\n"},
	})

	index, err := d.SplitWindow(context.Background(), "colony-demo", SplitVertical)
	require.NoError(t, err)
	assert.Equal(t, 3, index)
	assert.Contains(t, fake.lastCall(), "-v")
}

func TestSplitWindowHorizontalFlag(t *testing.T) {
	d, fake := newFakeDriver(map[string]exec.Result{
		"split-window": {Stdout: "1"},
	})

	_, err := d.SplitWindow(context.Background(), "s", SplitHorizontal)
	require.NoError(t, err)
	assert.Contains(t, fake.lastCall(), "-h")
}

func TestSendCommandAppendsEnter(t *testing.T) {
	d, fake := newFakeDriver(nil)
	require.NoError(t, d.SendCommand(context.Background(), "s:0.1", "echo hi"))
	call := fake.lastCall()
	assert.Equal(t, "Enter", call[len(call)-1])
	assert.Contains(t, call, "echo hi")
}

func TestMuxErrorWrapsStderr(t *testing.T) {
	d, _ := newFakeDriver(map[string]exec.Result{
		"kill-pane": {ExitCode: 1, Stderr: "can't find pane: 9\n"},
	})

	err := d.KillPane(context.Background(), "s:0.9")
	require.Error(t, err)
	var muxErr *MuxError
	require.ErrorAs(t, err, &muxErr)
	assert.Contains(t, muxErr.Error(), "can't find pane")
}

func TestListPanes(t *testing.T) {
	d, _ := newFakeDriver(map[string]exec.Result{
		"list-panes": {Stdout: "0\tAgent: backend-1\n1\tAgent: frontend-1\n2\tmonitor\n"},
	})

	panes, err := d.ListPanes(context.Background(), "colony-demo")
	require.NoError(t, err)
	require.Len(t, panes, 3)
	assert.Equal(t, Pane{Index: 0, Title: "Agent: backend-1"}, panes[0])

	index, ok := d.FindPaneByTitle(context.Background(), "colony-demo", "Agent: frontend-1")
	assert.True(t, ok)
	assert.Equal(t, 1, index)

	_, ok = d.FindPaneByTitle(context.Background(), "colony-demo", "Agent: nobody")
	assert.False(t, ok)
}

func TestPanePID(t *testing.T) {
	d, fake := newFakeDriver(map[string]exec.Result{
		"display-message": {Stdout: "28841\n"},
	})

	pid, err := d.PanePID(context.Background(), "s:0.1")
	require.NoError(t, err)
	assert.Equal(t, 28841, pid)
	assert.Contains(t, fake.lastCall(), "#{pane_pid}")
}

func TestKillSessionMissingIsNoop(t *testing.T) {
	d, fake := newFakeDriver(map[string]exec.Result{
		"has-session": {ExitCode: 1, Stderr: "no server running"},
	})

	require.NoError(t, d.KillSession(context.Background(), "colony-none"))
	for _, call := range fake.calls {
		assert.NotEqual(t, "kill-session", call[1])
	}
}

func TestPipePaneQuotesLogPath(t *testing.T) {
	d, fake := newFakeDriver(nil)
	require.NoError(t, d.PipePane(context.Background(), "s:0.0", "/tmp/a b.log"))
	call := fake.lastCall()
	assert.True(t, strings.Contains(call[len(call)-1], `"/tmp/a b.log"`))
}

func TestResizePane(t *testing.T) {
	d, fake := newFakeDriver(nil)
	require.NoError(t, d.ResizePane(context.Background(), "s:0.1", SplitVertical, 30))
	assert.Contains(t, fake.lastCall(), "30%")
	assert.Contains(t, fake.lastCall(), "-y")
}
