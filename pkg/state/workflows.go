package state

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"colony/pkg/utils"
)

func (e *Engine) readWorkflows(ctx context.Context) ([]Workflow, error) {
	if err := e.syncSchema(ctx, SchemaWorkflows); err != nil {
		return nil, err
	}
	lines, err := e.readLines(SchemaWorkflows)
	if err != nil {
		return nil, err
	}
	workflows := make([]Workflow, 0, len(lines))
	for _, line := range lines {
		var w Workflow
		if json.Unmarshal([]byte(line), &w) != nil || w.ID == "" {
			continue
		}
		workflows = append(workflows, w)
	}
	return workflows, nil
}

// ListWorkflows returns all workflows ordered by start time.
func (e *Engine) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	workflows, err := e.readWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].Started.Before(workflows[j].Started)
	})
	return workflows, nil
}

// GetWorkflow returns one workflow by id.
func (e *Engine) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	workflows, err := e.readWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	for i := range workflows {
		if workflows[i].ID == id {
			return &workflows[i], nil
		}
	}
	return nil, &NotFoundError{Schema: SchemaWorkflows, ID: id}
}

// AddWorkflow appends a new workflow run.
func (e *Engine) AddWorkflow(ctx context.Context, workflow *Workflow) error {
	if workflow.Name == "" {
		return &ValidationError{Msg: "workflow name is required"}
	}
	if workflow.Status == "" {
		workflow.Status = WorkflowPending
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	workflows, err := e.readWorkflows(ctx)
	if err != nil {
		return err
	}

	if workflow.ID == "" {
		shortID, err := utils.GenerateShortID()
		if err != nil {
			return err
		}
		workflow.ID = "wf-" + shortID
	}
	for _, existing := range workflows {
		if existing.ID == workflow.ID {
			return &ValidationError{Msg: "workflow id already exists: " + workflow.ID}
		}
	}
	if workflow.Started.IsZero() {
		workflow.Started = time.Now().UTC()
	}
	if workflow.Steps == nil {
		workflow.Steps = map[string]WorkflowStep{}
	}

	workflows = append(workflows, *workflow)
	return e.writeWorkflows(ctx, workflows)
}

// UpdateWorkflowStatus moves a workflow to a new overall status. Terminal
// statuses stamp the completion time.
func (e *Engine) UpdateWorkflowStatus(ctx context.Context, id string, status WorkflowStatus) (*Workflow, error) {
	switch status {
	case WorkflowPending, WorkflowRunning, WorkflowCompleted, WorkflowFailed:
	default:
		return nil, &ValidationError{Msg: "unknown workflow status: " + string(status)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	workflows, err := e.readWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	for i := range workflows {
		if workflows[i].ID != id {
			continue
		}
		workflows[i].Status = status
		if status == WorkflowCompleted || status == WorkflowFailed {
			now := time.Now().UTC()
			workflows[i].Completed = &now
		}
		if err := e.writeWorkflows(ctx, workflows); err != nil {
			return nil, err
		}
		return &workflows[i], nil
	}
	return nil, &NotFoundError{Schema: SchemaWorkflows, ID: id}
}

// UpdateWorkflowStep replaces one named step and marks it current.
func (e *Engine) UpdateWorkflowStep(ctx context.Context, id, stepName string, step WorkflowStep) (*Workflow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	workflows, err := e.readWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	for i := range workflows {
		if workflows[i].ID != id {
			continue
		}
		if workflows[i].Steps == nil {
			workflows[i].Steps = map[string]WorkflowStep{}
		}
		workflows[i].Steps[stepName] = step
		workflows[i].CurrentStep = stepName
		if err := e.writeWorkflows(ctx, workflows); err != nil {
			return nil, err
		}
		return &workflows[i], nil
	}
	return nil, &NotFoundError{Schema: SchemaWorkflows, ID: id}
}

func (e *Engine) writeWorkflows(ctx context.Context, workflows []Workflow) error {
	entities := make([]any, len(workflows))
	for i := range workflows {
		entities[i] = &workflows[i]
	}
	return e.writeLines(ctx, SchemaWorkflows, entities)
}
