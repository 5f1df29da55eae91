package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hpungsan/brief/internal/errors"
	"github.com/hpungsan/brief/internal/history"
)

// InsertActivity appends a session activity and returns its row id.
func InsertActivity(ctx context.Context, q Querier, a history.SessionActivity) (int64, error) {
	referenced, err := toNullJSON(a.FilesReferenced)
	if err != nil {
		return 0, err
	}
	modified, err := toNullJSON(a.FilesModified)
	if err != nil {
		return 0, err
	}
	var snapshots sql.NullString
	if len(a.Snapshots) > 0 {
		if snapshots, err = toNullJSON(a.Snapshots); err != nil {
			return 0, err
		}
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO session_activities (
			work_item_id, session_id, agent_role, summary,
			files_referenced_json, files_modified_json, snapshots_json, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.WorkItemID, a.SessionID, a.AgentRole, a.Summary,
		referenced, modified, snapshots, a.Timestamp.UnixNano(),
	)
	if err != nil {
		return 0, errors.NewInternal(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return id, nil
}

// ListActivities returns every activity for a work item, oldest first.
func ListActivities(ctx context.Context, q Querier, workItemID int64) ([]history.SessionActivity, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT work_item_id, session_id, agent_role, summary,
			files_referenced_json, files_modified_json, snapshots_json, recorded_at
		FROM session_activities
		WHERE work_item_id = ?
		ORDER BY recorded_at ASC, id ASC
	`, workItemID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []history.SessionActivity
	for rows.Next() {
		var (
			a                               history.SessionActivity
			referenced, modified, snapshots sql.NullString
			recordedAt                      int64
		)
		if err := rows.Scan(&a.WorkItemID, &a.SessionID, &a.AgentRole, &a.Summary,
			&referenced, &modified, &snapshots, &recordedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		if err := fromNullJSON(referenced, &a.FilesReferenced); err != nil {
			return nil, err
		}
		if err := fromNullJSON(modified, &a.FilesModified); err != nil {
			return nil, err
		}
		if err := fromNullJSON(snapshots, &a.Snapshots); err != nil {
			return nil, err
		}
		a.Timestamp = fromStamp(recordedAt)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// ActivityWatermark returns the newest recorded_at for a work item, or the
// zero time when it has no activity.
func ActivityWatermark(ctx context.Context, q Querier, workItemID int64) (time.Time, error) {
	var stamp sql.NullInt64
	err := q.QueryRowContext(ctx,
		`SELECT MAX(recorded_at) FROM session_activities WHERE work_item_id = ?`, workItemID,
	).Scan(&stamp)
	if err != nil {
		return time.Time{}, errors.NewInternal(err)
	}
	if !stamp.Valid {
		return time.Time{}, nil
	}
	return fromStamp(stamp.Int64), nil
}

// LatestSessionActivity returns the newest activity timestamp and work item
// of a session. ok is false when the session has no activity yet.
func LatestSessionActivity(ctx context.Context, q Querier, sessionID string) (at time.Time, workItemID int64, ok bool, err error) {
	var stamp int64
	err = q.QueryRowContext(ctx, `
		SELECT recorded_at, work_item_id FROM session_activities
		WHERE session_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`, sessionID).Scan(&stamp, &workItemID)
	if err == sql.ErrNoRows {
		return time.Time{}, 0, false, nil
	}
	if err != nil {
		return time.Time{}, 0, false, errors.NewInternal(err)
	}
	return fromStamp(stamp), workItemID, true, nil
}

func toNullJSON(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case []string:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]string:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, errors.NewInternal(err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func fromNullJSON(ns sql.NullString, dst any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(ns.String), dst); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}
