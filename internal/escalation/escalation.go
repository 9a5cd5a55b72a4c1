// Package escalation runs the process-wide queue of selector calls. One
// Queue is shared by every worker and job, so the number of concurrent
// external calls stays under MaxConcurrent no matter how many items are in
// flight.
package escalation

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sells-group/boq-resolver/internal/catalog"
	"github.com/sells-group/boq-resolver/internal/metrics"
	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/provider"
	"github.com/sells-group/boq-resolver/internal/resilience"
)

// ErrContractViolation is returned when the selector answers with a code
// that was not among the candidates it was sent.
var ErrContractViolation = eris.New("escalation: selected code not among candidates")

// ErrNoCandidates is returned when there is nothing to select from.
var ErrNoCandidates = eris.New("escalation: no candidates")

// ErrQueueTimeout is returned when no selector slot frees up within
// QueueTimeout.
var ErrQueueTimeout = eris.New("escalation: timed out waiting for selector slot")

// Config controls the queue.
type Config struct {
	MaxConcurrent    int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RequestTimeout   time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	QueueTimeout     time.Duration `yaml:"queue_timeout" mapstructure:"queue_timeout"`
	MaxCandidates    int           `yaml:"max_candidates" mapstructure:"max_candidates"`
	RatePerSecond    float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst            int           `yaml:"burst" mapstructure:"burst"`
	RetryAttempts    int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	BreakerThreshold int           `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset" mapstructure:"breaker_reset"`
}

// Defaults.
const (
	DefaultMaxConcurrent  = 2
	DefaultRequestTimeout = 30 * time.Second
	DefaultQueueTimeout   = 5 * time.Minute
	DefaultMaxCandidates  = 3
)

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = DefaultQueueTimeout
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = DefaultMaxCandidates
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 1
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Request is one escalation: normalized text, ranked local candidates and
// the project context. Only the top MaxCandidates are sent.
type Request struct {
	Text       string
	Candidates model.CandidateSet
	Context    model.ContextDescriptor
}

// Outcome is the result of an escalation. Source is escalated when the
// selector's answer was accepted, fallback_error when the top local
// candidate was used instead, and none when there was nothing to fall back
// to. Err holds the cause of a fallback.
type Outcome struct {
	Selected   *model.Candidate
	Confidence float64
	Source     model.ResultSource
	Rationale  string
	Related    []model.RelatedRef
	Sent       model.CandidateSet
	CostUSD    float64
	Err        error
}

// Queue bounds, paces and guards selector calls.
type Queue struct {
	provider provider.Provider
	catalog  catalog.Store
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryConfig
	cfg      Config
}

// Option configures a Queue.
type Option func(*Queue)

// WithCatalog filters selector-suggested related codes to codes present in
// the catalog. Without it related suggestions from the selector are dropped.
func WithCatalog(c catalog.Store) Option {
	return func(q *Queue) { q.catalog = c }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(q *Queue) { q.breaker = cb }
}

// NewQueue creates the queue. Construct it once per process.
func NewQueue(p provider.Provider, cfg Config, opts ...Option) *Queue {
	cfg = cfg.withDefaults()
	if p == nil {
		p = provider.Disabled{}
	}
	bc := resilience.FromCircuitConfig("selector", cfg.BreakerThreshold, cfg.BreakerReset)
	bc.ShouldTrip = trips
	q := &Queue{
		provider: p,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		breaker:  resilience.NewCircuitBreaker(bc),
		cfg:      cfg,
	}
	if cfg.RatePerSecond > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}
	q.retry = resilience.FromRetryConfig(cfg.RetryAttempts, cfg.RetryBackoff, 0)
	q.retry.ShouldRetry = retryable
	q.retry.OnRetry = resilience.RetryLogger("escalation", "select")
	for _, o := range opts {
		o(q)
	}
	return q
}

// MaxCandidates returns the candidate-set size sent to the selector.
func (q *Queue) MaxCandidates() int { return q.cfg.MaxCandidates }

// Breaker exposes the selector circuit breaker.
func (q *Queue) Breaker() *resilience.CircuitBreaker { return q.breaker }

// Submit escalates one request and waits for its outcome. It never fails:
// timeouts, errors, an open circuit and contract violations all resolve to
// the fallback outcome. Waiting for a slot is FIFO and bounded by
// QueueTimeout.
func (q *Queue) Submit(ctx context.Context, req Request) Outcome {
	sent := req.Candidates.Limit(q.cfg.MaxCandidates)
	if len(sent) == 0 {
		metrics.EscalationOutcomesTotal.WithLabelValues("no_candidates").Inc()
		return Outcome{Source: model.SourceNone, Err: ErrNoCandidates}
	}

	waitCtx, cancel := context.WithTimeout(ctx, q.cfg.QueueTimeout)
	defer cancel()
	start := time.Now()
	if err := q.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return q.fallback(req, sent, eris.Wrap(ctx.Err(), "escalation: waiting for selector slot"))
		}
		return q.fallback(req, sent, ErrQueueTimeout)
	}
	defer q.sem.Release(1)
	metrics.ObserveSince(metrics.EscalationWaitSeconds, start)

	metrics.EscalationsInFlight.Inc()
	defer metrics.EscalationsInFlight.Dec()

	// Contract violations count against the breaker.
	var violationCost float64
	var selected model.Candidate
	resp, err := resilience.DoVal(ctx, q.retry, func(ctx context.Context) (*provider.SelectResponse, error) {
		if q.limiter != nil {
			if err := q.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "escalation: rate limit wait")
			}
		}
		return resilience.ExecuteVal(ctx, q.breaker, func(ctx context.Context) (*provider.SelectResponse, error) {
			callCtx, cancel := context.WithTimeout(ctx, q.cfg.RequestTimeout)
			defer cancel()
			resp, err := q.provider.Select(callCtx, provider.SelectRequest{
				Text:       req.Text,
				Candidates: sent,
				Context:    req.Context,
			})
			if err != nil {
				return nil, err
			}
			if resp == nil {
				return nil, eris.New("escalation: empty selector response")
			}
			c, ok := sent.Find(resp.SelectedCode)
			if !ok {
				violationCost += resp.CostUSD
				return nil, eris.Wrapf(ErrContractViolation, "got %q, sent %v", resp.SelectedCode, sent.Codes())
			}
			selected = c
			return resp, nil
		})
	})
	if err != nil {
		out := q.fallback(req, sent, err)
		out.CostUSD = violationCost
		return out
	}

	metrics.EscalationOutcomesTotal.WithLabelValues("selected").Inc()
	return Outcome{
		Selected:   &selected,
		Confidence: model.ClampConfidence(resp.Confidence),
		Source:     model.SourceEscalated,
		Rationale:  resp.Rationale,
		Related:    q.filterRelated(ctx, selected.Entry.Code, resp.Related),
		Sent:       sent,
		CostUSD:    resp.CostUSD,
	}
}

// fallback resolves to the top local candidate.
func (q *Queue) fallback(req Request, sent model.CandidateSet, cause error) Outcome {
	label := outcomeLabel(cause)
	metrics.EscalationOutcomesTotal.WithLabelValues(label).Inc()
	if !errors.Is(cause, provider.ErrDisabled) {
		zap.L().Warn("escalation: selector failed, using top local candidate",
			zap.String("text", req.Text),
			zap.String("outcome", label),
			zap.Error(cause),
		)
	}

	top, ok := sent.Top()
	if !ok {
		return Outcome{Source: model.SourceNone, Sent: sent, Err: cause}
	}
	return Outcome{
		Selected:   &top,
		Confidence: top.Score,
		Source:     model.SourceFallbackError,
		Sent:       sent,
		Err:        cause,
	}
}

// filterRelated keeps selector suggestions that exist in the catalog,
// dropping duplicates and the selected code itself.
func (q *Queue) filterRelated(ctx context.Context, selected string, refs []model.RelatedRef) []model.RelatedRef {
	if q.catalog == nil || len(refs) == 0 {
		return nil
	}
	seen := map[string]bool{selected: true}
	var out []model.RelatedRef
	for _, r := range refs {
		if r.Code == "" || seen[r.Code] {
			continue
		}
		seen[r.Code] = true
		if _, err := q.catalog.Lookup(ctx, r.Code); err != nil {
			if !errors.Is(err, catalog.ErrNotFound) {
				zap.L().Debug("escalation: related lookup failed", zap.String("code", r.Code), zap.Error(err))
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// retryable retries transient selector failures, never an open circuit, a
// disabled provider or a contract violation.
func retryable(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, provider.ErrDisabled) ||
		errors.Is(err, ErrContractViolation) {
		return false
	}
	return resilience.IsTransient(err)
}

// trips counts provider failures against the breaker. A disabled provider
// or a caller that went away says nothing about the selector's health.
func trips(err error) bool {
	return !errors.Is(err, provider.ErrDisabled) && !errors.Is(err, context.Canceled)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrQueueTimeout):
		return "queue_timeout"
	case errors.Is(err, ErrContractViolation):
		return "contract_violation"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, provider.ErrDisabled):
		return "disabled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
