package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/brief/internal/assembly"
	"github.com/hpungsan/brief/internal/history"
	"github.com/hpungsan/brief/internal/sixw"
)

// Store adapts the database to the assembler's collaborator interfaces.
type Store struct {
	db *sql.DB
}

var (
	_ assembly.RecordStore   = (*Store)(nil)
	_ assembly.ActivityStore = (*Store)(nil)
)

// NewStore wraps an initialized database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) ResolveTask(ctx context.Context, taskID int64) (*assembly.Chain, error) {
	return ResolveTask(ctx, s.db, taskID)
}

func (s *Store) ContextRecord(ctx context.Context, t sixw.EntityType, id int64) (*sixw.ContextRecord, error) {
	return GetContextRecord(ctx, s.db, t, id)
}

func (s *Store) Activities(ctx context.Context, workItemID int64) ([]history.SessionActivity, error) {
	return ListActivities(ctx, s.db, workItemID)
}

func (s *Store) ActivityWatermark(ctx context.Context, workItemID int64) (time.Time, error) {
	return ActivityWatermark(ctx, s.db, workItemID)
}
