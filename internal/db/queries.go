package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/brief/internal/assembly"
	"github.com/hpungsan/brief/internal/errors"
	"github.com/hpungsan/brief/internal/sixw"
)

// table maps an entity type to its table.
func table(t sixw.EntityType) (string, error) {
	switch t {
	case sixw.EntityProject:
		return "projects", nil
	case sixw.EntityWorkItem:
		return "work_items", nil
	case sixw.EntityTask:
		return "tasks", nil
	}
	return "", errors.NewMalformed(fmt.Sprintf("unknown entity type %q", t), map[string]any{"entity_type": string(t)})
}

// parentOf returns the parent type and the column that references it.
func parentOf(t sixw.EntityType) (sixw.EntityType, string) {
	switch t {
	case sixw.EntityWorkItem:
		return sixw.EntityProject, "project_id"
	case sixw.EntityTask:
		return sixw.EntityWorkItem, "work_item_id"
	}
	return "", ""
}

// InsertEntity creates a project, work item or task. parentID is ignored for
// projects and must name an existing parent otherwise.
func InsertEntity(ctx context.Context, q Querier, t sixw.EntityType, parentID int64, title string, now time.Time) (sixw.Entity, error) {
	tbl, err := table(t)
	if err != nil {
		return sixw.Entity{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return sixw.Entity{}, errors.NewInvalidRequest(t.Label() + " title is required")
	}

	stamp := now.UnixNano()
	var res sql.Result
	parentType, parentCol := parentOf(t)
	if parentCol == "" {
		res, err = q.ExecContext(ctx,
			`INSERT INTO projects (title, created_at, updated_at) VALUES (?, ?, ?)`,
			title, stamp, stamp)
		parentID = 0
	} else {
		if _, err := GetEntity(ctx, q, parentType, parentID); err != nil {
			return sixw.Entity{}, err
		}
		res, err = q.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (%s, title, created_at, updated_at) VALUES (?, ?, ?, ?)`, tbl, parentCol),
			parentID, title, stamp, stamp)
	}
	if err != nil {
		return sixw.Entity{}, errors.NewInternal(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return sixw.Entity{}, errors.NewInternal(err)
	}

	return sixw.Entity{Type: t, ID: id, ParentID: parentID, Title: title, UpdatedAt: fromStamp(stamp)}, nil
}

// GetEntity retrieves a project, work item or task by id.
func GetEntity(ctx context.Context, q Querier, t sixw.EntityType, id int64) (sixw.Entity, error) {
	tbl, err := table(t)
	if err != nil {
		return sixw.Entity{}, err
	}

	parentExpr := "0"
	if _, col := parentOf(t); col != "" {
		parentExpr = col
	}

	var (
		e     = sixw.Entity{Type: t}
		stamp int64
	)
	err = q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, %s, title, updated_at FROM %s WHERE id = ?`, parentExpr, tbl), id,
	).Scan(&e.ID, &e.ParentID, &e.Title, &stamp)
	if err == sql.ErrNoRows {
		return sixw.Entity{}, errors.NewNotFound(t.Label(), id)
	}
	if err != nil {
		return sixw.Entity{}, errors.NewInternal(err)
	}
	e.UpdatedAt = fromStamp(stamp)
	return e, nil
}

// TouchEntity advances an entity's updated_at.
func TouchEntity(ctx context.Context, q Querier, t sixw.EntityType, id int64, now time.Time) error {
	tbl, err := table(t)
	if err != nil {
		return err
	}
	current, err := GetEntity(ctx, q, t, id)
	if err != nil {
		return err
	}
	stamp := NextStamp(current.UpdatedAt, now)
	if _, err := q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET updated_at = ? WHERE id = ?`, tbl), stamp.UnixNano(), id,
	); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ResolveTask loads a task with its work item and project in one query.
func ResolveTask(ctx context.Context, q Querier, taskID int64) (*assembly.Chain, error) {
	query := `
		SELECT t.id, t.title, t.updated_at,
			w.id, w.title, w.updated_at,
			p.id, p.title, p.updated_at
		FROM tasks t
		JOIN work_items w ON w.id = t.work_item_id
		JOIN projects p ON p.id = w.project_id
		WHERE t.id = ?
	`

	var c assembly.Chain
	var tStamp, wStamp, pStamp int64
	err := q.QueryRowContext(ctx, query, taskID).Scan(
		&c.Task.ID, &c.Task.Title, &tStamp,
		&c.WorkItem.ID, &c.WorkItem.Title, &wStamp,
		&c.Project.ID, &c.Project.Title, &pStamp,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("task", taskID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	c.Project.Type = sixw.EntityProject
	c.Project.UpdatedAt = fromStamp(pStamp)
	c.WorkItem.Type = sixw.EntityWorkItem
	c.WorkItem.ParentID = c.Project.ID
	c.WorkItem.UpdatedAt = fromStamp(wStamp)
	c.Task.Type = sixw.EntityTask
	c.Task.ParentID = c.WorkItem.ID
	c.Task.UpdatedAt = fromStamp(tStamp)

	return &c, nil
}

// GetContextRecord returns the 6W record for an entity, or nil when none exists.
func GetContextRecord(ctx context.Context, q Querier, t sixw.EntityType, id int64) (*sixw.ContextRecord, error) {
	var (
		raw   string
		stamp int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT six_w_json, updated_at FROM context_records WHERE entity_type = ? AND entity_id = ?`,
		string(t), id,
	).Scan(&raw, &stamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	rec := &sixw.ContextRecord{EntityType: t, EntityID: id, UpdatedAt: fromStamp(stamp)}
	if err := json.Unmarshal([]byte(raw), &rec.Values); err != nil {
		return nil, errors.NewMalformed(
			fmt.Sprintf("stored 6W record for %s %d is not valid JSON", t.Label(), id),
			map[string]any{"entity_type": string(t), "entity_id": id},
		)
	}
	return rec, nil
}

// UpsertContextRecord merges values into an entity's 6W record. Fields
// absent from values keep their stored text; an empty string clears a field.
// updated_at always moves forward, even within one clock tick.
func UpsertContextRecord(ctx context.Context, q Querier, t sixw.EntityType, id int64, values map[sixw.Field]string, now time.Time) (*sixw.ContextRecord, error) {
	if _, err := GetEntity(ctx, q, t, id); err != nil {
		return nil, err
	}

	current, err := GetContextRecord(ctx, q, t, id)
	if err != nil {
		return nil, err
	}

	merged := make(map[sixw.Field]string, len(sixw.Fields))
	var prev time.Time
	if current != nil {
		for f, v := range current.Values {
			merged[f] = v
		}
		prev = current.UpdatedAt
	}
	for f, v := range values {
		if v = strings.TrimSpace(v); v == "" {
			delete(merged, f)
			continue
		}
		merged[f] = v
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	stamp := NextStamp(prev, now)
	if _, err := q.ExecContext(ctx, `
		INSERT INTO context_records (entity_type, entity_id, six_w_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			six_w_json = excluded.six_w_json,
			updated_at = excluded.updated_at
	`, string(t), id, string(raw), stamp.UnixNano()); err != nil {
		return nil, errors.NewInternal(err)
	}

	return &sixw.ContextRecord{EntityType: t, EntityID: id, Values: merged, UpdatedAt: stamp}, nil
}

// NextStamp returns now, or one nanosecond past prev when now does not
// advance it.
func NextStamp(prev, now time.Time) time.Time {
	now = fromStamp(now.UnixNano())
	if !prev.IsZero() && !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}

func fromStamp(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
