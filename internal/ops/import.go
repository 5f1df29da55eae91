package ops

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hpungsan/brief/internal/config"
	"github.com/hpungsan/brief/internal/db"
	"github.com/hpungsan/brief/internal/errors"
	"github.com/hpungsan/brief/internal/sixw"
)

// MaxSeedBytes caps the size of an import file.
const MaxSeedBytes = 16 << 20

// Seed is the import document. JSON documents use the same field names.
type Seed struct {
	Projects []SeedProject `yaml:"projects" json:"projects"`
}

// SeedProject is a project with its context and work items.
type SeedProject struct {
	Title     string         `yaml:"title" json:"title"`
	Context   map[string]any `yaml:"context" json:"context"`
	WorkItems []SeedWorkItem `yaml:"work_items" json:"work_items"`
}

// SeedWorkItem is a work item with its context, tasks and session history.
type SeedWorkItem struct {
	Title      string         `yaml:"title" json:"title"`
	Context    map[string]any `yaml:"context" json:"context"`
	Tasks      []SeedTask     `yaml:"tasks" json:"tasks"`
	Activities []SeedActivity `yaml:"activities" json:"activities"`
}

// SeedTask is a task with its context.
type SeedTask struct {
	Title   string         `yaml:"title" json:"title"`
	Context map[string]any `yaml:"context" json:"context"`
}

// SeedActivity is one recorded session step.
type SeedActivity struct {
	SessionID       string            `yaml:"session_id" json:"session_id"`
	AgentRole       string            `yaml:"agent_role" json:"agent_role"`
	Timestamp       time.Time         `yaml:"timestamp" json:"timestamp"`
	Summary         string            `yaml:"summary" json:"summary"`
	FilesReferenced []string          `yaml:"files_referenced" json:"files_referenced"`
	FilesModified   []string          `yaml:"files_modified" json:"files_modified"`
	Snapshots       map[string]string `yaml:"snapshots" json:"snapshots"`
}

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string // required
}

// ImportOutput summarizes what was created.
type ImportOutput struct {
	Projects   int     `json:"projects"`
	WorkItems  int     `json:"work_items"`
	Tasks      int     `json:"tasks"`
	Contexts   int     `json:"contexts"`
	Activities int     `json:"activities"`
	TaskIDs    []int64 `json:"task_ids"`
	Message    string  `json:"message"`
}

// Import loads a seed tree from a YAML or JSON file. The whole file is
// applied in one transaction: any invalid entry aborts the import.
func Import(ctx context.Context, database *sql.DB, cfg *config.Config, input ImportInput) (*ImportOutput, error) {
	if err := ValidatePath(input.Path, cfg); err != nil {
		return nil, err
	}

	file, err := openFileNoFollowRead(input.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxSeedBytes+1))
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to read import file: %w", err))
	}
	if len(data) > MaxSeedBytes {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("import file exceeds %d bytes", MaxSeedBytes))
	}

	seed, err := ParseSeed(data, filepath.Ext(input.Path))
	if err != nil {
		return nil, err
	}
	return ImportSeed(ctx, database, seed)
}

// ParseSeed decodes a seed document. ext selects JSON (".json") or YAML
// (anything else). Unknown keys are rejected in both formats.
func ParseSeed(data []byte, ext string) (*Seed, error) {
	var seed Seed
	var err error
	if strings.EqualFold(ext, ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&seed)
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&seed)
	}
	if err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.NewMalformed(fmt.Sprintf("invalid seed document: %v", err), nil)
	}
	if len(seed.Projects) == 0 {
		return nil, errors.NewInvalidRequest("seed document has no projects")
	}
	return &seed, nil
}

// ImportSeed writes a parsed seed tree in one transaction.
func ImportSeed(ctx context.Context, database *sql.DB, seed *Seed) (*ImportOutput, error) {
	out := &ImportOutput{}
	now := time.Now()

	err := withTx(database, func(tx *sql.Tx) error {
		for pi, p := range seed.Projects {
			at := fmt.Sprintf("projects[%d]", pi)
			project, err := db.InsertEntity(ctx, tx, sixw.EntityProject, 0, p.Title, now)
			if err != nil {
				return seedError(at, err)
			}
			out.Projects++
			if err := importContext(ctx, tx, out, at, sixw.EntityProject, project.ID, p.Context, now); err != nil {
				return err
			}

			for wi, w := range p.WorkItems {
				at := fmt.Sprintf("%s.work_items[%d]", at, wi)
				item, err := db.InsertEntity(ctx, tx, sixw.EntityWorkItem, project.ID, w.Title, now)
				if err != nil {
					return seedError(at, err)
				}
				out.WorkItems++
				if err := importContext(ctx, tx, out, at, sixw.EntityWorkItem, item.ID, w.Context, now); err != nil {
					return err
				}

				for ti, task := range w.Tasks {
					at := fmt.Sprintf("%s.tasks[%d]", at, ti)
					created, err := db.InsertEntity(ctx, tx, sixw.EntityTask, item.ID, task.Title, now)
					if err != nil {
						return seedError(at, err)
					}
					out.Tasks++
					out.TaskIDs = append(out.TaskIDs, created.ID)
					if err := importContext(ctx, tx, out, at, sixw.EntityTask, created.ID, task.Context, now); err != nil {
						return err
					}
				}

				for ai, act := range w.Activities {
					at := fmt.Sprintf("%s.activities[%d]", at, ai)
					if err := importActivity(ctx, tx, item.ID, act, now); err != nil {
						return seedError(at, err)
					}
					out.Activities++
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.Message = fmt.Sprintf("Imported %d %s, %d %s, %d %s and %d %s",
		out.Projects, plural(out.Projects, "project"),
		out.WorkItems, plural(out.WorkItems, "work item"),
		out.Tasks, plural(out.Tasks, "task"),
		out.Activities, plural(out.Activities, "activity record"))
	return out, nil
}

func importContext(ctx context.Context, tx *sql.Tx, out *ImportOutput, at string, t sixw.EntityType, id int64, raw map[string]any, now time.Time) error {
	if len(raw) == 0 {
		return nil
	}
	values, err := parseValues(raw)
	if err != nil {
		return seedError(at+".context", err)
	}
	if _, err := db.UpsertContextRecord(ctx, tx, t, id, values, now); err != nil {
		return seedError(at+".context", err)
	}
	out.Contexts++
	return nil
}

func importActivity(ctx context.Context, tx *sql.Tx, workItemID int64, act SeedActivity, now time.Time) error {
	a, err := validateActivity(RecordActivityInput{
		WorkItemID:      workItemID,
		SessionID:       act.SessionID,
		AgentRole:       act.AgentRole,
		Summary:         act.Summary,
		FilesReferenced: act.FilesReferenced,
		FilesModified:   act.FilesModified,
		Snapshots:       act.Snapshots,
	})
	if err != nil {
		return err
	}
	var at *time.Time
	if !act.Timestamp.IsZero() {
		at = &act.Timestamp
	}
	_, _, err = appendActivity(ctx, tx, a, at, now)
	return err
}

// seedError prefixes err with the location of the offending seed entry,
// keeping its code.
func seedError(at string, err error) error {
	return errors.Annotate(err, at, map[string]any{"at": at})
}
