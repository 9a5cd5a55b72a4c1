package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// ErrIllegalTransition is returned when an item status change violates the
// stage order.
var ErrIllegalTransition = eris.New("illegal item status transition")

// ItemStatus is the per-item pipeline stage.
type ItemStatus string

const (
	ItemQueued      ItemStatus = "queued"
	ItemParsed      ItemStatus = "parsed"
	ItemSplit       ItemStatus = "split"
	ItemRetrieved   ItemStatus = "retrieved"
	ItemRanked      ItemStatus = "ranked"
	ItemDone        ItemStatus = "done"
	ItemError       ItemStatus = "error"
	ItemNeedsReview ItemStatus = "needs_review"
)

// stageRank orders the non-terminal stages. Terminal states share the top rank.
var stageRank = map[ItemStatus]int{
	ItemQueued:      0,
	ItemParsed:      1,
	ItemSplit:       2,
	ItemRetrieved:   3,
	ItemRanked:      4,
	ItemDone:        5,
	ItemError:       5,
	ItemNeedsReview: 5,
}

// Valid reports whether s is a known status.
func (s ItemStatus) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// IsTerminal reports whether s is one of done, error, needs_review.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemDone || s == ItemError || s == ItemNeedsReview
}

// CanTransition reports whether an item may move from one status to another.
// Stages only move forward; any non-terminal stage may fail into error; the
// single permitted backward move is the explicit retry error → queued.
func CanTransition(from, to ItemStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == ItemError && to == ItemQueued {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	return stageRank[to] > stageRank[from]
}

// CheckTransition returns ErrIllegalTransition when CanTransition is false.
func CheckTransition(from, to ItemStatus) error {
	if !CanTransition(from, to) {
		return eris.Wrapf(ErrIllegalTransition, "%s -> %s", from, to)
	}
	return nil
}

// Shape describes whether a row holds one work description or several.
type Shape string

const (
	ShapeSingle    Shape = "SINGLE"
	ShapeComposite Shape = "COMPOSITE"
	ShapeUnknown   Shape = "UNKNOWN"
)

// ResultSource records which tier produced a resolution.
type ResultSource string

const (
	SourceCache         ResultSource = "cache"
	SourceLocal         ResultSource = "local"
	SourceEscalated     ResultSource = "escalated"
	SourceFallbackError ResultSource = "fallback_error"
	SourceNone          ResultSource = "none"
)

// RelatedRef is a catalog entry suggested alongside a resolution.
type RelatedRef struct {
	Code   string `json:"code" yaml:"code"`
	Reason string `json:"reason,omitempty" yaml:"reason"`
}

// Resolution is the outcome of resolving one normalized query.
type Resolution struct {
	Code          string        `json:"code,omitempty"`
	Entry         *CatalogEntry `json:"entry,omitempty"`
	Confidence    float64       `json:"confidence"`
	Source        ResultSource  `json:"source"`
	LowConfidence bool          `json:"low_confidence,omitempty"`
	NeedsReview   bool          `json:"needs_review,omitempty"`
	Rationale     string        `json:"rationale,omitempty"`
	Related       []RelatedRef  `json:"related,omitempty"`
	Candidates    CandidateSet  `json:"candidates,omitempty"`
	CostUSD       float64       `json:"cost_usd,omitempty"`
}

// Resolved reports whether a catalog code was assigned.
func (r Resolution) Resolved() bool {
	return r.Code != ""
}

// SubItem is one independent work description within a row.
type SubItem struct {
	Index      int          `json:"index"`
	Raw        string       `json:"raw"`
	Text       string       `json:"text"`
	Candidates CandidateSet `json:"candidates,omitempty"`
	CacheHit   bool         `json:"cache_hit,omitempty"`
	Result     *Resolution  `json:"result,omitempty"`
}

// BatchItem is one input row of a batch job.
type BatchItem struct {
	ID        string      `json:"id"`
	JobID     string      `json:"job_id"`
	Seq       int         `json:"seq"`
	Raw       string      `json:"raw"`
	Category  string      `json:"category,omitempty"`
	Text      string      `json:"text,omitempty"`
	Language  string      `json:"language,omitempty"`
	Shape     Shape       `json:"shape,omitempty"`
	SubItems  []SubItem   `json:"sub_items,omitempty"`
	Status    ItemStatus  `json:"status"`
	Result    *ItemResult `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Attempts  int         `json:"attempts"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ItemResult aggregates sub-item resolutions for a row.
type ItemResult struct {
	Resolutions  []Resolution `json:"resolutions"`
	NeedsReview  bool         `json:"needs_review"`
	UsedFallback bool         `json:"used_fallback"`
	CostUSD      float64      `json:"cost_usd,omitempty"`
}

// JobSettings configures one batch job.
type JobSettings struct {
	Concurrency       int  `json:"concurrency"`
	EscalationEnabled bool `json:"escalation_enabled"`
	MaxCandidates     int  `json:"max_candidates"`
}

// JobStatus is derived from item statuses once items exist.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
)

// JobCounts tallies item states for a job. Processed counts items that
// finished without error (done + needs_review).
type JobCounts struct {
	Total       int     `json:"total"`
	Processed   int     `json:"processed"`
	Errors      int     `json:"errors"`
	NeedsReview int     `json:"needs_review"`
	Fallbacks   int     `json:"fallbacks"`
	Pending     int     `json:"pending"`
	CostUSD     float64 `json:"cost_usd"`
}

// Terminal returns the number of items in a terminal state.
func (c JobCounts) Terminal() int {
	return c.Processed + c.Errors
}

// JobFlags summarize the quality of a completed job.
type JobFlags struct {
	NeedsReview  bool `json:"needs_review"`
	UsedFallback bool `json:"used_fallback"`
	HasErrors    bool `json:"has_errors"`
}

// BatchJob is a batch of items resolved together.
type BatchJob struct {
	ID        string            `json:"id"`
	Status    JobStatus         `json:"status"`
	Settings  JobSettings       `json:"settings"`
	Context   ContextDescriptor `json:"context"`
	Started   bool              `json:"started"`
	Paused    bool              `json:"paused"`
	Counts    JobCounts         `json:"counts"`
	Flags     JobFlags          `json:"flags"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// DeriveJobStatus computes the job status from item counts and the control
// flags. A job with items is completed only when every item is terminal, and
// a job that was never started stays pending even when paused.
func DeriveJobStatus(c JobCounts, started, paused bool) JobStatus {
	if c.Total > 0 && c.Terminal() >= c.Total {
		return JobCompleted
	}
	switch {
	case !started:
		return JobPending
	case paused:
		return JobPaused
	default:
		return JobRunning
	}
}

// DeriveJobFlags computes aggregate quality flags from counts.
func DeriveJobFlags(c JobCounts) JobFlags {
	return JobFlags{
		NeedsReview:  c.NeedsReview > 0,
		UsedFallback: c.Fallbacks > 0,
		HasErrors:    c.Errors > 0,
	}
}

// Finalize sets the derived status and flags on the job.
func (j *BatchJob) Finalize() {
	j.Status = DeriveJobStatus(j.Counts, j.Started, j.Paused)
	j.Flags = DeriveJobFlags(j.Counts)
}
