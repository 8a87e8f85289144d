package reload

import (
	"context"
	"sync"
	"time"

	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
)

// batchQueue dedups and debounces ModuleID change reports, batching a
// burst of events inside the configured debounce window into one
// delivery per Get call. A batch only becomes ready once the debounce
// timer fires; events arriving while a batch is processing fold into
// the next one.
type batchQueue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	pending    map[model.ModuleID]bool
	ready      bool
	processing bool
	debounce   time.Duration
	timer      *time.Timer
	shut       bool
}

func newBatchQueue(debounce time.Duration) *batchQueue {
	q := &batchQueue{pending: make(map[model.ModuleID]bool), debounce: debounce}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add marks id as changed. If currently processing a batch, the module
// is folded into the next batch rather than interrupting the in-flight
// one.
func (q *batchQueue) Add(id model.ModuleID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shut {
		return
	}
	q.pending[id] = true
	q.ready = false
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(q.debounce, func() {
		q.mu.Lock()
		q.ready = true
		q.cond.Broadcast()
		q.mu.Unlock()
	})
}

// Get blocks until a debounced batch is ready or ctx is cancelled,
// returning the deduped set of changed ModuleIDs.
func (q *batchQueue) Get(ctx context.Context) ([]model.ModuleID, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for !(q.ready && len(q.pending) > 0) && !q.shut {
		if ctx.Err() != nil {
			return nil, false
		}
		q.cond.Wait()
	}
	if q.shut || len(q.pending) == 0 {
		// Shutdown drops queued reloads rather than delivering them.
		return nil, false
	}

	ids := make([]model.ModuleID, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	q.pending = make(map[model.ModuleID]bool)
	q.ready = false
	q.processing = true
	return ids, true
}

// Done marks the current batch complete.
func (q *batchQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing = false
}

// Shutdown wakes any blocked Get and prevents further Add calls from
// scheduling new work.
func (q *batchQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shut = true
	if q.timer != nil {
		q.timer.Stop()
	}
	q.cond.Broadcast()
}
