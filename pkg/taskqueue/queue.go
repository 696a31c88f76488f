package taskqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"colony/pkg/logx"
	"colony/pkg/metrics"
	"colony/pkg/utils"
)

// Queue manages task files under a tasks/ directory with one folder per
// status.
type Queue struct {
	root   string
	logger *logx.Logger
}

// New creates a queue rooted at the given tasks directory and ensures the
// six status folders exist.
func New(root string) (*Queue, error) {
	q := &Queue{
		root:   root,
		logger: logx.NewLogger("taskqueue"),
	}
	for _, status := range AllStatuses {
		if err := os.MkdirAll(q.statusDir(status), 0755); err != nil {
			return nil, fmt.Errorf("failed to create status folder %s: %w", status, err)
		}
	}
	return q, nil
}

// Root returns the tasks directory.
func (q *Queue) Root() string { return q.root }

func (q *Queue) statusDir(status Status) string {
	return filepath.Join(q.root, string(status))
}

func (q *Queue) taskPath(status Status, id string) string {
	return filepath.Join(q.statusDir(status), id+".json")
}

// Create validates and writes a new pending task. An empty id gets a short
// generated one; an empty priority defaults to medium.
func (q *Queue) Create(task *Task) error {
	if task.Title == "" {
		return &ValidationError{Msg: "task title must not be empty"}
	}
	if task.AssignedTo == "all" {
		return &ValidationError{Msg: `assigned_to "all" is not a valid assignee`}
	}
	if task.AssignedTo != "" && task.AssignedTo != "auto" && !utils.IsValidAgentID(task.AssignedTo) {
		return &ValidationError{Msg: fmt.Sprintf("invalid assignee %q", task.AssignedTo)}
	}
	if task.ID == "" {
		id, err := utils.GenerateShortID()
		if err != nil {
			return err
		}
		task.ID = id
	}
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}
	if task.Priority.Rank() < 0 {
		return &ValidationError{Msg: fmt.Sprintf("invalid priority %q", task.Priority)}
	}

	now := time.Now().UTC()
	task.Status = StatusPending
	task.Progress = 0
	task.Timestamps.CreatedAt = now
	task.Timestamps.UpdatedAt = now

	if err := q.writeTask(task); err != nil {
		return err
	}
	metrics.Default().TaskTransition(string(StatusPending))
	return nil
}

// Get loads a task by id. After a crash the task may exist in more than one
// folder; the copy with the newest updated_at wins, residency rank breaking
// ties.
func (q *Queue) Get(id string) (*Task, error) {
	var best *Task
	for _, status := range AllStatuses {
		task, err := q.readTask(status, id)
		if err != nil {
			continue
		}
		if best == nil || newerResidency(task, best) {
			best = task
		}
	}
	if best == nil {
		return nil, &NotFoundError{ID: id}
	}
	return best, nil
}

func newerResidency(a, b *Task) bool {
	if !a.Timestamps.UpdatedAt.Equal(b.Timestamps.UpdatedAt) {
		return a.Timestamps.UpdatedAt.After(b.Timestamps.UpdatedAt)
	}
	return residencyRank(a.Status) > residencyRank(b.Status)
}

// LoadAll returns every task, one logical task per id, sorted by priority
// descending then created_at ascending.
func (q *Queue) LoadAll() ([]*Task, error) {
	byID := make(map[string]*Task)
	for _, status := range AllStatuses {
		entries, err := os.ReadDir(q.statusDir(status))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read status folder %s: %w", status, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			id := strings.TrimSuffix(entry.Name(), ".json")
			task, readErr := q.readTask(status, id)
			if readErr != nil {
				q.logger.DebugDomain("taskqueue", "skipping unparsable task %s/%s: %v", status, id, readErr)
				continue
			}
			if existing, ok := byID[task.ID]; !ok || newerResidency(task, existing) {
				byID[task.ID] = task
			}
		}
	}

	tasks := make([]*Task, 0, len(byID))
	for _, task := range byID {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority.Rank() != tasks[j].Priority.Rank() {
			return tasks[i].Priority.Rank() > tasks[j].Priority.Rank()
		}
		return tasks[i].Timestamps.CreatedAt.Before(tasks[j].Timestamps.CreatedAt)
	})
	return tasks, nil
}

// completedIDs returns the set of task ids currently in completed/.
func (q *Queue) completedIDs() (map[string]bool, error) {
	entries, err := os.ReadDir(q.statusDir(StatusCompleted))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	ids := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if name, ok := strings.CutSuffix(entry.Name(), ".json"); ok {
			ids[name] = true
		}
	}
	return ids, nil
}

// claimable applies the claim rule: pending, assignee allows the agent, and
// every dependency is completed. The returned reason explains a refusal.
func claimable(task *Task, agent string, completed map[string]bool) (bool, string) {
	if task.Status != StatusPending {
		return false, fmt.Sprintf("cannot claim task in status %q", task.Status)
	}
	if task.AssignedTo != "" && task.AssignedTo != "auto" && task.AssignedTo != agent {
		return false, fmt.Sprintf("assigned to %q", task.AssignedTo)
	}
	var missing []string
	for _, dep := range task.Dependencies {
		if !completed[dep] {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return false, "uncompleted dependencies: " + strings.Join(missing, ", ")
	}
	return true, ""
}

// Claim moves a pending task to claimed for the given agent, enforcing the
// claim rule.
func (q *Queue) Claim(id, agent string) (*Task, error) {
	if agent == "all" || !utils.IsValidAgentID(agent) {
		return nil, &ValidationError{Msg: fmt.Sprintf("invalid claiming agent %q", agent)}
	}

	unlock := q.tryLock()
	defer unlock()

	task, err := q.Get(id)
	if err != nil {
		return nil, err
	}

	completed, err := q.completedIDs()
	if err != nil {
		return nil, err
	}
	if ok, reason := claimable(task, agent, completed); !ok {
		return nil, &StateConflictError{ID: id, Status: task.Status, Reason: reason}
	}

	now := time.Now().UTC()
	task.ClaimedBy = agent
	task.Timestamps.ClaimedAt = &now
	if err := q.transition(task, StatusClaimed); err != nil {
		return nil, err
	}
	return task, nil
}

// FindClaimable returns the pending tasks the agent could claim right now,
// in LoadAll order.
func (q *Queue) FindClaimable(agent string) ([]*Task, error) {
	tasks, err := q.LoadAll()
	if err != nil {
		return nil, err
	}
	completed, err := q.completedIDs()
	if err != nil {
		return nil, err
	}

	var out []*Task
	for _, task := range tasks {
		if ok, _ := claimable(task, agent, completed); ok {
			out = append(out, task)
		}
	}
	return out, nil
}

// Start moves a claimed task to in_progress.
func (q *Queue) Start(id string) (*Task, error) {
	return q.move(id, StatusInProgress, StatusClaimed)
}

// Complete moves an in_progress task to completed and sets progress to 100.
func (q *Queue) Complete(id string) (*Task, error) {
	task, err := q.Get(id)
	if err != nil {
		return nil, err
	}
	if task.Status != StatusInProgress {
		return nil, &StateConflictError{ID: id, Status: task.Status, Reason: "only in_progress tasks can be completed"}
	}

	now := time.Now().UTC()
	task.Progress = 100
	task.Timestamps.CompletedAt = &now
	if err := q.transition(task, StatusCompleted); err != nil {
		return nil, err
	}
	return task, nil
}

// Block moves an in_progress task to blocked, recording the blockers.
func (q *Queue) Block(id string, blockers []string) (*Task, error) {
	task, err := q.Get(id)
	if err != nil {
		return nil, err
	}
	if task.Status != StatusInProgress {
		return nil, &StateConflictError{ID: id, Status: task.Status, Reason: "only in_progress tasks can be blocked"}
	}
	task.Blockers = blockers
	if err := q.transition(task, StatusBlocked); err != nil {
		return nil, err
	}
	return task, nil
}

// Unblock moves a blocked task back to in_progress and clears blockers.
func (q *Queue) Unblock(id string) (*Task, error) {
	task, err := q.Get(id)
	if err != nil {
		return nil, err
	}
	if task.Status != StatusBlocked {
		return nil, &StateConflictError{ID: id, Status: task.Status, Reason: "only blocked tasks can be unblocked"}
	}
	task.Blockers = nil
	if err := q.transition(task, StatusInProgress); err != nil {
		return nil, err
	}
	return task, nil
}

// Cancel moves any non-terminal task to cancelled.
func (q *Queue) Cancel(id string) (*Task, error) {
	task, err := q.Get(id)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return nil, &StateConflictError{ID: id, Status: task.Status, Reason: "cannot cancel a terminal task"}
	}
	if err := q.transition(task, StatusCancelled); err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateProgress sets progress (clamped to [0,100]). A claimed task moves
// to in_progress; progress on other states just updates the file in place.
// An in_progress task may report 100 without being done: only Complete
// records completion, and Complete is what stamps the durable 100.
func (q *Queue) UpdateProgress(id string, progress int) (*Task, error) {
	task, err := q.Get(id)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return nil, &StateConflictError{ID: id, Status: task.Status, Reason: "cannot update progress of a terminal task"}
	}

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	task.Progress = progress

	if task.Status == StatusClaimed {
		now := time.Now().UTC()
		task.Timestamps.StartedAt = &now
		if err := q.transition(task, StatusInProgress); err != nil {
			return nil, err
		}
		return task, nil
	}

	task.Timestamps.UpdatedAt = time.Now().UTC()
	if err := q.writeTask(task); err != nil {
		return nil, err
	}
	return task, nil
}

// move is the generic guarded transition used by Start.
func (q *Queue) move(id string, to Status, from ...Status) (*Task, error) {
	task, err := q.Get(id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, status := range from {
		if task.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, &StateConflictError{
			ID:     id,
			Status: task.Status,
			Reason: fmt.Sprintf("cannot transition to %s", to),
		}
	}
	if to == StatusInProgress && task.Timestamps.StartedAt == nil {
		now := time.Now().UTC()
		task.Timestamps.StartedAt = &now
	}
	if err := q.transition(task, to); err != nil {
		return nil, err
	}
	return task, nil
}

// transition writes the task into the target folder, then removes the id
// from every other folder. Target-write before source-remove means readers
// never see the task vanish; a crash in between leaves a duplicate that the
// load path resolves by updated_at.
func (q *Queue) transition(task *Task, to Status) error {
	task.Status = to
	task.Timestamps.UpdatedAt = time.Now().UTC()

	if err := q.writeTask(task); err != nil {
		return err
	}

	for _, status := range AllStatuses {
		if status == to {
			continue
		}
		stale := q.taskPath(status, task.ID)
		if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
			q.logger.Warn("failed to remove stale task copy %s: %v", stale, err)
		}
	}

	metrics.Default().TaskTransition(string(to))
	q.logger.DebugDomain("taskqueue", "task %s -> %s", task.ID, to)
	return nil
}

func (q *Queue) writeTask(task *Task) error {
	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	path := q.taskPath(task.Status, task.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write task file: %w", err)
	}
	return nil
}

func (q *Queue) readTask(status Status, id string) (*Task, error) {
	data, err := os.ReadFile(q.taskPath(status, id))
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	// The folder is authoritative for status.
	task.Status = status
	return &task, nil
}
