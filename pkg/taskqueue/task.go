// Package taskqueue implements the file-based task queue: tasks live as
// JSON files in one of six status folders, and the folder name is the
// current status. Transitions write the new file before removing the old
// one, so readers never observe a vanished task.
package taskqueue

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a task; it maps 1:1 to a folder name.
type Status string

const (
	StatusPending    Status = "pending"
	StatusClaimed    Status = "claimed"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// AllStatuses lists every status folder, in creation order.
//
//nolint:gochecknoglobals // Static enumeration of status folders.
var AllStatuses = []Status{
	StatusPending, StatusClaimed, StatusInProgress,
	StatusBlocked, StatusCompleted, StatusCancelled,
}

// Terminal reports whether a status has no outgoing transitions other than
// none at all.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// residencyRank breaks ties when a crash leaves a task in two folders:
// the load path prefers the folder with the newer updated_at, and on equal
// timestamps the rank below.
func residencyRank(s Status) int {
	switch s {
	case StatusInProgress:
		return 5
	case StatusClaimed:
		return 4
	case StatusPending:
		return 3
	case StatusBlocked:
		return 2
	case StatusCompleted:
		return 1
	case StatusCancelled:
		return 0
	}
	return -1
}

// Priority orders tasks: low < medium < high < critical.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns the sort weight of a priority.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	}
	return -1
}

// ParsePriority validates a priority string.
func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if p.Rank() < 0 {
		return "", &ValidationError{Msg: fmt.Sprintf("invalid priority %q", s)}
	}
	return p, nil
}

// Timestamps records the task lifecycle times.
type Timestamps struct {
	CreatedAt   time.Time  `json:"created_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Task is a unit of work. AssignedTo restricts who may claim it: empty or
// "auto" means any agent.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	AssignedTo   string     `json:"assigned_to,omitempty"`
	ClaimedBy    string     `json:"claimed_by,omitempty"`
	Status       Status     `json:"status"`
	Priority     Priority   `json:"priority"`
	Progress     int        `json:"progress"`
	Dependencies []string   `json:"dependencies"`
	Blockers     []string   `json:"blockers"`
	Tags         []string   `json:"tags"`
	Timestamps   Timestamps `json:"timestamps"`
}

// ValidationError reports a malformed task field.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// NotFoundError reports a task id that exists in no status folder.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("task %s not found", e.ID) }

// StateConflictError reports a transition attempted from an incompatible
// state, including why a claim was refused.
type StateConflictError struct {
	ID     string
	Status Status
	Reason string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("task %s (%s): %s", e.ID, e.Status, e.Reason)
}
