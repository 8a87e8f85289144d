// Package reload implements the hot-reload pipeline: changed modules
// are debounced into batches, each batch stops the affected strict-
// consumer closure bottom-up, re-reads the root manifest, re-plans, and
// restarts top-down. Failures are isolated per module.
package reload

import (
	"context"
	"sync"
	"time"

	"github.com/AntelopeJS/antelopejs-sub000/internal/dependency"
	"github.com/AntelopeJS/antelopejs-sub000/internal/errs"
	"github.com/AntelopeJS/antelopejs-sub000/internal/lifecycle"
	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
	"github.com/AntelopeJS/antelopejs-sub000/pkg/logging"
)

// PlannerFunc re-resolves a dependency plan from the current manifest
// set. HotReload calls it with just the affected closure's manifests
// after reloading the root module.
type PlannerFunc func(manifests map[model.ModuleID]*model.ModuleManifest) (*dependency.Plan, error)

// Engine debounces ModuleChanged reports and drives the reload cascade.
type Engine struct {
	scheduler   *lifecycle.Scheduler
	manifests   map[model.ModuleID]*model.ModuleManifest
	manifestsMu sync.RWMutex

	resolvePlan PlannerFunc

	queue *batchQueue

	cancelMu  sync.Mutex
	cancelled bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New returns an Engine bound to scheduler and the live manifest set.
// window is the debounce window (0 defaults to 300ms).
func New(scheduler *lifecycle.Scheduler, manifests map[model.ModuleID]*model.ModuleManifest, resolvePlan PlannerFunc, window time.Duration) *Engine {
	if window == 0 {
		window = 300 * time.Millisecond
	}
	return &Engine{
		scheduler:   scheduler,
		manifests:   manifests,
		resolvePlan: resolvePlan,
		queue:       newBatchQueue(window),
	}
}

// Notify enqueues a changed module for reload, to be called by whatever
// consumes WatchEngine's Events channel.
func (e *Engine) Notify(id model.ModuleID) {
	e.queue.Add(id)
}

// Run processes batches until ctx is cancelled or Shutdown is called.
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			ids, ok := e.queue.Get(ctx)
			if !ok {
				return
			}
			e.processBatch(ctx, ids)
			e.queue.Done()
		}
	}()
}

// Shutdown clears queued reloads and waits for any in-flight batch to
// notice the cancellation; an executing batch completes its current
// transition before checking the token again.
func (e *Engine) Shutdown() {
	e.cancelMu.Lock()
	e.cancelled = true
	e.cancelMu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	e.queue.Shutdown()
	e.wg.Wait()
}

func (e *Engine) isCancelled() bool {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	return e.cancelled
}

func (e *Engine) processBatch(ctx context.Context, roots []model.ModuleID) {
	for _, root := range roots {
		if e.isCancelled() {
			return
		}
		if err := e.reloadOne(ctx, root); err != nil {
			logging.Error("HotReload", err, "reload failed for %s", root)
		}
	}
}

func (e *Engine) reloadOne(ctx context.Context, root model.ModuleID) error {
	closure := e.closureOf(root)

	// 2. stop the closure bottom-up, destroy each member.
	if err := e.scheduler.StopSubset(ctx, closure); err != nil {
		logging.Warn("HotReload", "stop phase reported errors for %s: %v", root, err)
	}
	if e.isCancelled() {
		return errs.ReloadFailure(string(root), "cancelled", nil)
	}
	if err := e.scheduler.DestroySubset(ctx, closure); err != nil {
		logging.Warn("HotReload", "destroy phase reported errors for %s: %v", root, err)
	}

	// 3. reload the root module's manifest from disk, re-run the planner
	// for the closure.
	if e.isCancelled() {
		return errs.ReloadFailure(string(root), "cancelled", nil)
	}
	e.manifestsMu.Lock()
	rootManifest := e.manifests[root]
	e.manifestsMu.Unlock()
	if rootManifest != nil {
		if err := rootManifest.Reload(); err != nil {
			return errs.ReloadFailure(string(root), "re-reading manifest", err)
		}
	}

	closureManifests := make(map[model.ModuleID]*model.ModuleManifest, len(closure))
	e.manifestsMu.RLock()
	for _, id := range closure {
		closureManifests[id] = e.manifests[id]
	}
	e.manifestsMu.RUnlock()

	plan, err := e.resolvePlan(closureManifests)
	if err != nil {
		return errs.ReloadFailure(string(root), "re-planning closure", err)
	}
	e.scheduler.ReplacePlan(plan)

	// 4. construct then start in dependency order; surface per-module
	// failures without aborting sibling reloads (the caller already
	// iterates roots independently).
	if err := e.scheduler.ConstructSubset(ctx, closure); err != nil {
		return errs.ReloadFailure(string(root), "construct phase", err)
	}
	if e.isCancelled() {
		return errs.ReloadFailure(string(root), "cancelled", nil)
	}
	if err := e.scheduler.StartSubset(ctx, closure); err != nil {
		return errs.ReloadFailure(string(root), "start phase", err)
	}
	return nil
}

// closureOf computes the strict-consumer transitive closure of root
// (root plus every module, directly or indirectly, that strictly depends
// on it), ordered arbitrarily — the scheduler re-derives rank order from
// the replaced plan before acting on it.
func (e *Engine) closureOf(root model.ModuleID) []model.ModuleID {
	// The scheduler's current plan (pre-replacement) has the edges we
	// need to walk; ReplacePlan only swaps it after this computation.
	plan := e.currentPlan()
	seen := map[model.ModuleID]bool{root: true}
	queue := []model.ModuleID{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, consumer := range plan.StrictConsumersOf(id) {
			if !seen[consumer] {
				seen[consumer] = true
				queue = append(queue, consumer)
			}
		}
	}
	out := make([]model.ModuleID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

func (e *Engine) currentPlan() *dependency.Plan {
	return e.scheduler.CurrentPlan()
}
