package exec

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExecEcho(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell test")
	}

	e := NewLocalExec()
	result, err := e.Run(context.Background(), []string{"echo", "hello"}, Opts{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Stdout)
}

func TestLocalExecNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell test")
	}

	e := NewLocalExec()
	result, err := e.Run(context.Background(), []string{"sh", "-c", "echo oops >&2; exit 3"}, Opts{})
	require.NoError(t, err, "non-zero exit is not an execution error")
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "oops\n", result.Stderr)
}

func TestLocalExecEmptyCommand(t *testing.T) {
	e := NewLocalExec()
	_, err := e.Run(context.Background(), nil, Opts{})
	assert.Error(t, err)
}

func TestLocalExecMissingWorkDir(t *testing.T) {
	e := NewLocalExec()
	_, err := e.Run(context.Background(), []string{"true"}, Opts{WorkDir: "/nonexistent/path/xyz"})
	assert.Error(t, err)
}

func TestLocalExecWorkDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell test")
	}

	dir := t.TempDir()
	e := NewLocalExec()
	result, err := e.Run(context.Background(), []string{"pwd"}, Opts{WorkDir: dir})
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, dir)
}

func TestLocalExecTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell test")
	}

	e := NewLocalExec()
	result, _ := e.Run(context.Background(), []string{"sleep", "5"}, Opts{Timeout: 50 * time.Millisecond})
	assert.NotEqual(t, 0, result.ExitCode, "timed-out command must not report success")
}
