// Package state implements the git-backed shared-state engine: tasks,
// workflows, and memory stored as JSONL files, committed on change, and
// mirrored into a local SQLite cache for indexed queries.
package state

import (
	"fmt"
	"time"
)

// TaskStatus is the shared-task vocabulary. It is deliberately distinct
// from the file-queue vocabulary: shared tasks are cross-machine and derive
// "ready" from blockers instead of folder residency.
type TaskStatus string

const (
	TaskReady      TaskStatus = "ready"
	TaskBlocked    TaskStatus = "blocked"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// ValidTaskStatus reports whether s is a known shared-task status.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskReady, TaskBlocked, TaskInProgress, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

// Task is one shared-state task, one JSONL line.
type Task struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Status      TaskStatus     `json:"status"`
	Created     time.Time      `json:"created"`
	Assigned    string         `json:"assigned,omitempty"`
	Blockers    []string       `json:"blockers"`
	Completed   *time.Time     `json:"completed,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// WorkflowStatus is the lifecycle of a workflow run.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// StepStatus is the lifecycle of one workflow step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepRetrying  StepStatus = "retrying"
)

// WorkflowStep records one named step inside a workflow.
type WorkflowStep struct {
	Status    StepStatus `json:"status"`
	Started   *time.Time `json:"started,omitempty"`
	Completed *time.Time `json:"completed,omitempty"`
	Agent     string     `json:"agent,omitempty"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Workflow is one multi-step run, one JSONL line.
type Workflow struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Status      WorkflowStatus          `json:"status"`
	Started     time.Time               `json:"started"`
	Completed   *time.Time              `json:"completed,omitempty"`
	CurrentStep string                  `json:"current_step,omitempty"`
	Steps       map[string]WorkflowStep `json:"steps"`
	Input       string                  `json:"input,omitempty"`
	Output      string                  `json:"output,omitempty"`
}

// MemoryType classifies a memory entry.
type MemoryType string

const (
	MemoryContext  MemoryType = "context"
	MemoryLearned  MemoryType = "learned"
	MemoryDecision MemoryType = "decision"
	MemoryNote     MemoryType = "note"
)

// ValidMemoryType reports whether t is a known memory type.
func ValidMemoryType(t MemoryType) bool {
	switch t {
	case MemoryContext, MemoryLearned, MemoryDecision, MemoryNote:
		return true
	}
	return false
}

// MemoryEntry is one line of the append-only memory log.
type MemoryEntry struct {
	Timestamp time.Time  `json:"timestamp"`
	Type      MemoryType `json:"type"`
	Key       string     `json:"key,omitempty"`
	Value     string     `json:"value,omitempty"`
	Content   string     `json:"content,omitempty"`
}

// ValidationError reports a malformed entity or status string.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// NotFoundError reports an entity id absent from its schema.
type NotFoundError struct {
	Schema string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Schema, e.ID)
}

// GitError wraps a failed git invocation in the state repository.
type GitError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("state git %s: %s", e.Op, e.Stderr)
	}
	return fmt.Sprintf("state git %s: %v", e.Op, e.Err)
}

func (e *GitError) Unwrap() error { return e.Err }
