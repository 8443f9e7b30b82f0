// Package resolver drives pending intents through their lifecycle.
package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/speedrun-hq/speedrun-resolver/pkg/events"
	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
	"github.com/speedrun-hq/speedrun-resolver/pkg/metrics"
	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
	"github.com/speedrun-hq/speedrun-resolver/pkg/store"
)

// Processor executes and refunds intents
type Processor interface {
	Process(ctx context.Context, intent *models.Intent) models.ProcessingResult
	Refund(ctx context.Context, intent *models.Intent) models.ProcessingResult
	Supports(intent *models.Intent) error
}

// Breakers pauses chains that keep failing
type Breakers interface {
	IsOpen(chainID int) bool
	RecordFailure(chainID int) bool
	RecordSuccess(chainID int)
}

type noBreakers struct{}

func (noBreakers) IsOpen(int) bool        { return false }
func (noBreakers) RecordFailure(int) bool { return false }
func (noBreakers) RecordSuccess(int)      {}

// Config holds the orchestrator settings
type Config struct {
	ResolverID      string
	MaxRetries      int
	WorkerCount     int
	BatchTimeout    time.Duration
	PollingInterval time.Duration
	RunOnce         bool
}

// Resolver owns every intent state transition
type Resolver struct {
	cfg       Config
	store     store.Store
	processor Processor
	publisher events.Publisher
	breakers  Breakers
	logger    logger.Logger
	now       func() time.Time

	mu         sync.RWMutex
	lastReport *BatchReport
}

// New creates a resolver. A nil publisher or breaker set disables that concern.
func New(cfg Config, st store.Store, p Processor, pub events.Publisher, breakers Breakers, log logger.Logger) (*Resolver, error) {
	if st == nil || p == nil {
		return nil, fmt.Errorf("store and processor are required")
	}
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("max retries must be greater than 0")
	}
	if cfg.PollingInterval <= 0 && !cfg.RunOnce {
		return nil, fmt.Errorf("polling interval must be greater than 0")
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	if breakers == nil {
		breakers = noBreakers{}
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Resolver{
		cfg:       cfg,
		store:     st,
		processor: p,
		publisher: pub,
		breakers:  breakers,
		logger:    log,
		now:       time.Now,
	}, nil
}

// Run processes batches on the polling interval until ctx is done.
// With RunOnce set a single batch is processed.
func (r *Resolver) Run(ctx context.Context) error {
	r.logger.Notice("Resolver %s started: interval %s, batch timeout %s, %d workers",
		r.cfg.ResolverID, r.cfg.PollingInterval, r.cfg.BatchTimeout, r.cfg.WorkerCount)

	report := r.RunBatch(ctx)
	if r.cfg.RunOnce {
		return report.Err
	}

	ticker := time.NewTicker(r.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Notice("Resolver stopped")
			return nil
		case <-ticker.C:
			r.RunBatch(ctx)
		}
	}
}

// LastReport returns the report of the most recent batch, nil before the first one
func (r *Resolver) LastReport() *BatchReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastReport == nil {
		return nil
	}
	rep := *r.lastReport
	return &rep
}

// RunBatch fetches the pending intents and visits each of them once within the batch timeout
func (r *Resolver) RunBatch(ctx context.Context) BatchReport {
	start := r.now()
	report := newBatchReport(uuid.NewString(), start)

	batchCtx := ctx
	if r.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, r.cfg.BatchTimeout)
		defer cancel()
	}

	intents, err := r.pending(batchCtx)
	if err != nil {
		r.logger.Error("Batch %s: failed to fetch pending intents: %v", report.BatchID, err)
		report.Err = err
		report.Error = err.Error()
		r.finish(&report, start)
		return report
	}
	report.Fetched = len(intents)
	metrics.PendingIntents.Set(float64(len(intents)))
	r.logger.Info("Batch %s: %d pending intents", report.BatchID, len(intents))

	var t tally
	g := new(errgroup.Group)
	g.SetLimit(r.cfg.WorkerCount)

	for _, intent := range intents {
		intent := intent
		// cooperative checkpoint: intents not started before the deadline wait for the next pass
		if batchCtx.Err() != nil {
			t.add(outcomeUnvisited)
			continue
		}
		g.Go(func() error {
			if batchCtx.Err() != nil {
				t.add(outcomeUnvisited)
				return nil
			}
			t.add(r.handle(batchCtx, report.BatchID, intent))
			return nil
		})
	}
	_ = g.Wait()
	t.fill(&report)

	if report.Unvisited > 0 {
		report.Interrupted = true
		metrics.BatchesInterrupted.Inc()
		r.logger.Notice("Batch %s hit its deadline, %d intents left for the next pass", report.BatchID, report.Unvisited)
	}
	r.finish(&report, start)
	return report
}

func (r *Resolver) finish(report *BatchReport, start time.Time) {
	report.Duration = r.now().Sub(start)
	metrics.BatchDuration.Observe(report.Duration.Seconds())
	r.logger.Info("Batch %s done in %s: %s", report.BatchID, report.Duration, report.Summary())

	r.mu.Lock()
	rep := *report
	r.lastReport = &rep
	r.mu.Unlock()
}

// pending lists the PENDING intents owned by this resolver
func (r *Resolver) pending(ctx context.Context) ([]*models.Intent, error) {
	all, err := r.store.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return nil, err
	}
	if r.cfg.ResolverID == "" {
		return all, nil
	}
	owned := all[:0]
	for _, intent := range all {
		if intent.ResolverID == "" || intent.ResolverID == r.cfg.ResolverID {
			owned = append(owned, intent)
		}
	}
	return owned, nil
}
