package ops

import (
	"context"

	"github.com/hpungsan/brief/internal/assembly"
	"github.com/hpungsan/brief/internal/errors"
)

// AssembleInput contains parameters for the Assemble operation.
type AssembleInput struct {
	TaskID    int64  // required
	Capacity  int    // default: config default_capacity
	AgentRole string // optional; empty means every section
}

// Assemble builds the context bundle for a task.
func Assemble(ctx context.Context, rt *Runtime, input AssembleInput) (*assembly.Bundle, error) {
	if input.TaskID <= 0 {
		return nil, errors.NewInvalidRequest("task_id is required")
	}
	if input.Capacity < 0 {
		return nil, errors.NewInvalidRequest("capacity must not be negative")
	}
	if input.Capacity == 0 {
		input.Capacity = rt.Config.DefaultCapacity
	}

	return rt.Assembler.Assemble(ctx, assembly.Request{
		TaskID:    input.TaskID,
		Capacity:  input.Capacity,
		AgentRole: input.AgentRole,
	})
}
