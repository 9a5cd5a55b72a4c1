// Package store persists batch jobs, batch items, learned mappings and the
// stage cache so that batches survive a process restart.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/boq-resolver/internal/learning"
	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/stagecache"
)

// ErrNotFound is returned when a job or item does not exist.
var ErrNotFound = eris.New("store: not found")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ItemFilter specifies criteria for listing items of a job.
type ItemFilter struct {
	Statuses []model.ItemStatus `json:"statuses,omitempty"`
	Limit    int                `json:"limit,omitempty"`
}

// Store defines the persistence interface for batch resolution.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job model.BatchJob, items []model.BatchItem) (*model.BatchJob, error)
	GetJob(ctx context.Context, jobID string) (*model.BatchJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.BatchJob, error)
	MarkJobStarted(ctx context.Context, jobID string) error
	SetJobPaused(ctx context.Context, jobID string, paused bool) error
	JobCounts(ctx context.Context, jobID string) (model.JobCounts, error)

	// Items
	GetItem(ctx context.Context, itemID string) (*model.BatchItem, error)
	ListItems(ctx context.Context, jobID string, filter ItemFilter) ([]model.BatchItem, error)
	SaveItem(ctx context.Context, item model.BatchItem) error
	RetryItem(ctx context.Context, itemID string) (*model.BatchItem, error)

	// Learned mappings
	learning.Store

	// Stage cache
	stagecache.Backend
	DeleteExpiredStages(ctx context.Context, now time.Time) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

var allStatuses = []model.ItemStatus{
	model.ItemQueued,
	model.ItemParsed,
	model.ItemSplit,
	model.ItemRetrieved,
	model.ItemRanked,
	model.ItemDone,
	model.ItemError,
	model.ItemNeedsReview,
}

// allowedFrom lists the stored statuses an item may hold for a save to
// status `to` to succeed. Re-saving the current status is allowed.
func allowedFrom(to model.ItemStatus) []string {
	out := []string{string(to)}
	for _, s := range allStatuses {
		if s != to && model.CanTransition(s, to) {
			out = append(out, string(s))
		}
	}
	return out
}

// countsFromStatuses folds per-status tallies into job counts.
func countsFromStatuses(byStatus map[model.ItemStatus]int, fallbacks int, costUSD float64) model.JobCounts {
	var c model.JobCounts
	for s, n := range byStatus {
		c.Total += n
		switch s {
		case model.ItemDone:
			c.Processed += n
		case model.ItemNeedsReview:
			c.Processed += n
			c.NeedsReview += n
		case model.ItemError:
			c.Errors += n
		}
	}
	c.Pending = c.Total - c.Terminal()
	c.Fallbacks = fallbacks
	c.CostUSD = costUSD
	return c
}

func usedFallback(it model.BatchItem) bool {
	return it.Result != nil && it.Result.UsedFallback
}

func itemCost(it model.BatchItem) float64 {
	if it.Result == nil {
		return 0
	}
	return it.Result.CostUSD
}
