package state

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"colony/pkg/utils"
)

// readTasks re-syncs and returns all shared tasks from the JSONL file.
func (e *Engine) readTasks(ctx context.Context) ([]Task, error) {
	if err := e.syncSchema(ctx, SchemaTasks); err != nil {
		return nil, err
	}
	lines, err := e.readLines(SchemaTasks)
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(lines))
	for _, line := range lines {
		var t Task
		if json.Unmarshal([]byte(line), &t) != nil || t.ID == "" {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// ListTasks returns all shared tasks ordered by creation time.
func (e *Engine) ListTasks(ctx context.Context) ([]Task, error) {
	tasks, err := e.readTasks(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Created.Before(tasks[j].Created) })
	return tasks, nil
}

// GetTask returns one shared task by id.
func (e *Engine) GetTask(ctx context.Context, id string) (*Task, error) {
	tasks, err := e.readTasks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].ID == id {
			return &tasks[i], nil
		}
	}
	return nil, &NotFoundError{Schema: SchemaTasks, ID: id}
}

// TasksByStatus queries the cache table for tasks in one status. The sync
// happens first, so the query and the file agree.
func (e *Engine) TasksByStatus(ctx context.Context, status TaskStatus) ([]Task, error) {
	if !ValidTaskStatus(status) {
		return nil, &ValidationError{Msg: "unknown task status: " + string(status)}
	}
	if err := e.syncSchema(ctx, SchemaTasks); err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx,
		"SELECT raw FROM tasks WHERE status = ? ORDER BY created", string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var t Task
		if json.Unmarshal([]byte(raw), &t) == nil {
			tasks = append(tasks, t)
		}
	}
	return tasks, rows.Err()
}

// AddTask appends a shared task. Blockers must name existing tasks and must
// not introduce a dependency cycle; both are checked at insert time because
// nothing downstream re-validates the graph.
func (e *Engine) AddTask(ctx context.Context, task *Task) error {
	if task.Title == "" {
		return &ValidationError{Msg: "task title is required"}
	}
	if task.Status == "" {
		task.Status = TaskReady
	}
	if !ValidTaskStatus(task.Status) {
		return &ValidationError{Msg: "unknown task status: " + string(task.Status)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tasks, err := e.readTasks(ctx)
	if err != nil {
		return err
	}

	if task.ID == "" {
		shortID, err := utils.GenerateShortID()
		if err != nil {
			return err
		}
		task.ID = "task-" + shortID
	}
	byID := make(map[string]*Task, len(tasks))
	for i := range tasks {
		if tasks[i].ID == task.ID {
			return &ValidationError{Msg: "task id already exists: " + task.ID}
		}
		byID[tasks[i].ID] = &tasks[i]
	}
	for _, blocker := range task.Blockers {
		if blocker == task.ID {
			return &ValidationError{Msg: "task cannot block on itself"}
		}
		if _, ok := byID[blocker]; !ok {
			return &ValidationError{Msg: "unknown blocker id: " + blocker}
		}
	}
	if hasBlockerCycle(task, byID) {
		return &ValidationError{Msg: "blocker cycle detected for task " + task.ID}
	}

	if task.Created.IsZero() {
		task.Created = time.Now().UTC()
	}
	if task.Blockers == nil {
		task.Blockers = []string{}
	}

	tasks = append(tasks, *task)
	return e.writeTasks(ctx, tasks)
}

// hasBlockerCycle walks the transitive closure of the new task's blockers.
// Existing tasks are acyclic by induction, so a cycle can only pass through
// the task being inserted.
func hasBlockerCycle(task *Task, byID map[string]*Task) bool {
	seen := map[string]bool{}
	stack := append([]string{}, task.Blockers...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == task.ID {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if t, ok := byID[id]; ok {
			stack = append(stack, t.Blockers...)
		}
	}
	return false
}

// UpdateTaskStatus moves a shared task to a new status. Completing a task
// stamps the completion time.
func (e *Engine) UpdateTaskStatus(ctx context.Context, id string, status TaskStatus) (*Task, error) {
	if !ValidTaskStatus(status) {
		return nil, &ValidationError{Msg: "unknown task status: " + string(status)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tasks, err := e.readTasks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].ID != id {
			continue
		}
		tasks[i].Status = status
		if status == TaskCompleted {
			now := time.Now().UTC()
			tasks[i].Completed = &now
		}
		if err := e.writeTasks(ctx, tasks); err != nil {
			return nil, err
		}
		return &tasks[i], nil
	}
	return nil, &NotFoundError{Schema: SchemaTasks, ID: id}
}

// AssignTask records which agent a shared task is assigned to.
func (e *Engine) AssignTask(ctx context.Context, id, agentID string) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tasks, err := e.readTasks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].ID != id {
			continue
		}
		tasks[i].Assigned = agentID
		if err := e.writeTasks(ctx, tasks); err != nil {
			return nil, err
		}
		return &tasks[i], nil
	}
	return nil, &NotFoundError{Schema: SchemaTasks, ID: id}
}

// ReadyTasks derives the runnable subset: every blocker completed and the
// task itself not completed. Computed here, never materialized in the file.
func (e *Engine) ReadyTasks(ctx context.Context) ([]Task, error) {
	tasks, err := e.ListTasks(ctx)
	if err != nil {
		return nil, err
	}

	completed := map[string]bool{}
	for _, t := range tasks {
		if t.Status == TaskCompleted {
			completed[t.ID] = true
		}
	}

	var ready []Task
	for _, t := range tasks {
		if t.Status == TaskCompleted {
			continue
		}
		blocked := false
		for _, blocker := range t.Blockers {
			if !completed[blocker] {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, t)
		}
	}
	return ready, nil
}

func (e *Engine) writeTasks(ctx context.Context, tasks []Task) error {
	entities := make([]any, len(tasks))
	for i := range tasks {
		entities[i] = &tasks[i]
	}
	return e.writeLines(ctx, SchemaTasks, entities)
}
