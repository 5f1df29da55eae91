package ops

import (
	"fmt"

	"github.com/hpungsan/brief/internal/budget"
	"github.com/hpungsan/brief/internal/config"
	"github.com/hpungsan/brief/internal/errors"
)

// AllocateInput contains parameters for the Allocate operation.
type AllocateInput struct {
	Capacity int // default: config default_capacity
}

// AllocateOutput is the token plan for a capacity.
type AllocateOutput struct {
	budget.Allocation
	Warnings []string `json:"warnings,omitempty"`
}

// Allocate returns the budget split for a model capacity.
func Allocate(cfg *config.Config, input AllocateInput) (*AllocateOutput, error) {
	if input.Capacity < 0 {
		return nil, errors.NewInvalidRequest("capacity must not be negative")
	}
	if input.Capacity == 0 && cfg != nil {
		input.Capacity = cfg.DefaultCapacity
	}
	if input.Capacity == 0 {
		return nil, errors.NewInvalidRequest("capacity is required")
	}

	out := &AllocateOutput{Allocation: budget.Allocate(input.Capacity)}
	if out.BelowMinimum {
		out.Warnings = append(out.Warnings, fmt.Sprintf(
			"capacity %d is below the %d-token minimum; overhead floor applied",
			input.Capacity, budget.MinViableCapacity))
	}
	return out, nil
}
