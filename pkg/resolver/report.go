package resolver

import (
	"fmt"
	"sync"
	"time"
)

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeFailed
	outcomeExpired
	outcomeCancelled
	outcomeRetried
	outcomeDeferred
	outcomeUnvisited
	outcomeError
)

// BatchReport summarizes one batch
type BatchReport struct {
	BatchID     string        `json:"batch_id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Fetched     int           `json:"fetched"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Expired     int           `json:"expired"`
	Cancelled   int           `json:"cancelled"`
	Retried     int           `json:"retried"`
	Deferred    int           `json:"deferred"`
	Unvisited   int           `json:"unvisited"`
	Errors      int           `json:"errors"`
	Interrupted bool          `json:"interrupted"`
	Error       string        `json:"error,omitempty"`

	// Err is set when the pending intents could not be fetched
	Err error `json:"-"`
}

func newBatchReport(batchID string, start time.Time) BatchReport {
	return BatchReport{BatchID: batchID, StartedAt: start}
}

// Summary is a one-line description for logs
func (b BatchReport) Summary() string {
	return fmt.Sprintf("fetched=%d completed=%d failed=%d expired=%d cancelled=%d retried=%d deferred=%d unvisited=%d errors=%d",
		b.Fetched, b.Completed, b.Failed, b.Expired, b.Cancelled, b.Retried, b.Deferred, b.Unvisited, b.Errors)
}

// tally counts outcomes from concurrent workers
type tally struct {
	mu     sync.Mutex
	counts [outcomeError + 1]int
}

func (t *tally) add(o outcome) {
	t.mu.Lock()
	t.counts[o]++
	t.mu.Unlock()
}

func (t *tally) fill(b *BatchReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b.Completed = t.counts[outcomeCompleted]
	b.Failed = t.counts[outcomeFailed]
	b.Expired = t.counts[outcomeExpired]
	b.Cancelled = t.counts[outcomeCancelled]
	b.Retried = t.counts[outcomeRetried]
	b.Deferred = t.counts[outcomeDeferred]
	b.Unvisited = t.counts[outcomeUnvisited]
	b.Errors = t.counts[outcomeError]
}
