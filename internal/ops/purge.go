package ops

import (
	"context"
	"fmt"

	"github.com/hpungsan/brief/internal/assembly"
	"github.com/hpungsan/brief/internal/cache"
	"github.com/hpungsan/brief/internal/errors"
)

// PurgeCacheOutput contains the result of the PurgeCache operation.
type PurgeCacheOutput struct {
	Purged  int    `json:"purged"`
	Message string `json:"message"`
}

// PurgeCache drops every cached bundle.
func PurgeCache(ctx context.Context, c cache.Cache[*assembly.Bundle]) (*PurgeCacheOutput, error) {
	if c == nil {
		return &PurgeCacheOutput{Message: formatPurgeMessage(0)}, nil
	}
	count, err := c.Purge(ctx)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &PurgeCacheOutput{
		Purged:  count,
		Message: formatPurgeMessage(count),
	}, nil
}

func formatPurgeMessage(count int) string {
	if count == 0 {
		return "No cached bundles to purge"
	}
	return fmt.Sprintf("Purged %d cached %s", count, plural(count, "bundle"))
}
