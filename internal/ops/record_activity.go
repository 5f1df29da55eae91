package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hpungsan/brief/internal/db"
	"github.com/hpungsan/brief/internal/errors"
	"github.com/hpungsan/brief/internal/history"
	"github.com/hpungsan/brief/internal/sixw"
)

// RecordActivityInput contains parameters for the RecordActivity operation.
type RecordActivityInput struct {
	WorkItemID      int64  // required
	SessionID       string // default: new ULID
	AgentRole       string // required
	Summary         string // required, at most history.MaxSummaryChars
	FilesReferenced []string
	FilesModified   []string

	// Snapshots maps a path to the content this session saw.
	Snapshots map[string]string

	// Timestamp defaults to now. An explicit value must be later than the
	// session's previous activity.
	Timestamp *time.Time
}

// RecordActivityOutput identifies the stored activity.
type RecordActivityOutput struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	WorkItemID int64     `json:"work_item_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// RecordActivity appends one session activity to a work item.
func RecordActivity(ctx context.Context, database *sql.DB, input RecordActivityInput) (*RecordActivityOutput, error) {
	a, err := validateActivity(input)
	if err != nil {
		return nil, err
	}

	var id int64
	err = withTx(database, func(tx *sql.Tx) error {
		var err error
		id, a, err = appendActivity(ctx, tx, a, input.Timestamp, time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}

	return &RecordActivityOutput{
		ID:         id,
		SessionID:  a.SessionID,
		WorkItemID: a.WorkItemID,
		Timestamp:  a.Timestamp,
	}, nil
}

func validateActivity(input RecordActivityInput) (history.SessionActivity, error) {
	if input.WorkItemID <= 0 {
		return history.SessionActivity{}, errors.NewInvalidRequest("work_item_id is required")
	}
	role := strings.TrimSpace(input.AgentRole)
	if role == "" {
		return history.SessionActivity{}, errors.NewInvalidRequest("agent_role is required")
	}
	summary := strings.TrimSpace(input.Summary)
	if summary == "" {
		return history.SessionActivity{}, errors.NewInvalidRequest("summary is required")
	}
	if n := utf8.RuneCountInString(summary); n > history.MaxSummaryChars {
		return history.SessionActivity{}, errors.NewInvalidRequest(
			fmt.Sprintf("summary is %d characters; the limit is %d", n, history.MaxSummaryChars))
	}

	var snapshots map[string]string
	for path, content := range input.Snapshots {
		path = strings.TrimSpace(path)
		if path == "" {
			return history.SessionActivity{}, errors.NewInvalidRequest("snapshot path must not be empty")
		}
		if snapshots == nil {
			snapshots = make(map[string]string, len(input.Snapshots))
		}
		snapshots[path] = content
	}

	return history.SessionActivity{
		SessionID:       strings.TrimSpace(input.SessionID),
		WorkItemID:      input.WorkItemID,
		AgentRole:       role,
		Summary:         summary,
		FilesReferenced: cleanPaths(input.FilesReferenced),
		FilesModified:   cleanPaths(input.FilesModified),
		Snapshots:       snapshots,
	}, nil
}

// appendActivity stores a validated activity and advances the work item's
// updated_at. A session stays on one work item and its timestamps strictly
// increase.
func appendActivity(ctx context.Context, q db.Querier, a history.SessionActivity, at *time.Time, now time.Time) (int64, history.SessionActivity, error) {
	if _, err := db.GetEntity(ctx, q, sixw.EntityWorkItem, a.WorkItemID); err != nil {
		return 0, a, err
	}

	if a.SessionID == "" {
		a.SessionID = newSessionID(now)
	}

	latest, workItemID, ok, err := db.LatestSessionActivity(ctx, q, a.SessionID)
	if err != nil {
		return 0, a, err
	}
	if ok && workItemID != a.WorkItemID {
		return 0, a, errors.NewInvalidRequest(fmt.Sprintf(
			"session %s belongs to work item #%d", a.SessionID, workItemID))
	}

	switch {
	case at != nil && !at.IsZero():
		a.Timestamp = at.UTC()
		if ok && !a.Timestamp.After(latest) {
			return 0, a, errors.NewInvalidRequest(fmt.Sprintf(
				"timestamp %s is not after the session's last activity at %s",
				a.Timestamp.Format(time.RFC3339Nano), latest.Format(time.RFC3339Nano)))
		}
	case ok:
		a.Timestamp = db.NextStamp(latest, now)
	default:
		a.Timestamp = now.UTC()
	}

	id, err := db.InsertActivity(ctx, q, a)
	if err != nil {
		return 0, a, err
	}
	// A backfilled activity can sit below the watermark; the work item
	// stamp still moves so cached bundles see it.
	if err := db.TouchEntity(ctx, q, sixw.EntityWorkItem, a.WorkItemID, now); err != nil {
		return 0, a, err
	}
	return id, a, nil
}
