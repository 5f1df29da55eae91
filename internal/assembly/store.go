// Package assembly builds the context bundle an agent receives when it picks
// up a task: merged 6W context, budgeted history, embedded files, and project
// facts, cached against changes to the records that produced it.
package assembly

import (
	"context"
	"time"

	"github.com/hpungsan/brief/internal/history"
	"github.com/hpungsan/brief/internal/sixw"
)

// Chain is a task together with its work item and project.
type Chain struct {
	Project  sixw.Entity `json:"project"`
	WorkItem sixw.Entity `json:"work_item"`
	Task     sixw.Entity `json:"task"`
}

// RecordStore reads the work hierarchy and its 6W records.
type RecordStore interface {
	// ResolveTask returns the chain for taskID, or a NOT_FOUND error.
	ResolveTask(ctx context.Context, taskID int64) (*Chain, error)

	// ContextRecord returns the 6W record for an entity, or nil when none
	// has been recorded.
	ContextRecord(ctx context.Context, entityType sixw.EntityType, entityID int64) (*sixw.ContextRecord, error)
}

// ActivityStore reads recorded session activity.
type ActivityStore interface {
	// Activities returns every activity recorded for a work item.
	Activities(ctx context.Context, workItemID int64) ([]history.SessionActivity, error)

	// ActivityWatermark returns the newest recorded_at for a work item, or the
	// zero time when there is none.
	ActivityWatermark(ctx context.Context, workItemID int64) (time.Time, error)
}
