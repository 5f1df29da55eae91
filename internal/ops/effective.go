package ops

import (
	"context"

	"github.com/hpungsan/brief/internal/errors"
	"github.com/hpungsan/brief/internal/sixw"
)

// EffectiveInput contains parameters for the Effective operation.
type EffectiveInput struct {
	TaskID int64 // required
}

// EffectiveOutput is the merged 6W view of a task.
type EffectiveOutput struct {
	TaskID        int64                  `json:"task_id"`
	TaskTitle     string                 `json:"task_title"`
	WorkItemID    int64                  `json:"work_item_id"`
	WorkItemTitle string                 `json:"work_item_title"`
	ProjectID     int64                  `json:"project_id"`
	ProjectTitle  string                 `json:"project_title"`
	Context       *sixw.EffectiveContext `json:"context"`
	Warnings      []string               `json:"warnings,omitempty"`
}

// Effective resolves a task and merges its context without building history.
func Effective(ctx context.Context, rt *Runtime, input EffectiveInput) (*EffectiveOutput, error) {
	if input.TaskID <= 0 {
		return nil, errors.NewInvalidRequest("task_id is required")
	}

	chain, ec, warnings, err := rt.Assembler.Effective(ctx, input.TaskID)
	if err != nil {
		return nil, err
	}

	return &EffectiveOutput{
		TaskID:        chain.Task.ID,
		TaskTitle:     chain.Task.Title,
		WorkItemID:    chain.WorkItem.ID,
		WorkItemTitle: chain.WorkItem.Title,
		ProjectID:     chain.Project.ID,
		ProjectTitle:  chain.Project.Title,
		Context:       ec,
		Warnings:      warnings,
	}, nil
}
