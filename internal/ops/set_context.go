package ops

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/brief/internal/db"
	"github.com/hpungsan/brief/internal/errors"
	"github.com/hpungsan/brief/internal/sixw"
)

// SetContextInput contains parameters for the SetContext operation.
type SetContextInput struct {
	EntityType string // required: project, work_item or task
	EntityID   int64  // required

	// Values maps field names to text. Lists and maps are flattened to
	// canonical text; an empty value clears the field.
	Values map[string]any
}

// SetContextOutput contains the stored record and its derived score.
type SetContextOutput struct {
	Record     *sixw.ContextRecord `json:"record"`
	Confidence float64             `json:"confidence_score"`
	Band       sixw.Band           `json:"confidence_band"`
}

// SetContext updates the 6W record of a project, work item or task. Fields
// not named in Values keep their stored text.
func SetContext(ctx context.Context, database *sql.DB, input SetContextInput) (*SetContextOutput, error) {
	t, err := sixw.ParseEntityType(input.EntityType)
	if err != nil {
		return nil, err
	}
	if input.EntityID <= 0 {
		return nil, errors.NewInvalidRequest("entity_id is required")
	}
	values, err := parseValues(input.Values)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errors.NewInvalidRequest("at least one of who, what, when, where, why, how is required")
	}

	var rec *sixw.ContextRecord
	err = withTx(database, func(tx *sql.Tx) error {
		var err error
		rec, err = db.UpsertContextRecord(ctx, tx, t, input.EntityID, values, time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}

	score := rec.Confidence()
	return &SetContextOutput{
		Record:     rec,
		Confidence: score,
		Band:       sixw.BandFor(score),
	}, nil
}

// parseValues validates field names and flattens structured values.
func parseValues(in map[string]any) (map[sixw.Field]string, error) {
	out := make(map[sixw.Field]string, len(in))
	for name, v := range in {
		f, err := sixw.ParseField(name)
		if err != nil {
			return nil, err
		}
		out[f] = sixw.Flatten(v)
	}
	return out, nil
}
