// Package lifecycle drives every ResolvedModule through
// Loaded -> Constructed -> Active and back, in dependency order, with
// bounded concurrency. Each module's transitions are serialized by a
// per-module mutex; state-change callbacks fire outside the lock.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AntelopeJS/antelopejs-sub000/internal/dependency"
	"github.com/AntelopeJS/antelopejs-sub000/internal/errs"
	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
	"github.com/AntelopeJS/antelopejs-sub000/internal/pathresolver"
	"github.com/AntelopeJS/antelopejs-sub000/internal/proxy"
	"github.com/AntelopeJS/antelopejs-sub000/pkg/logging"
)

// Hooks models a module's optional lifecycle callbacks; the scheduler
// calls whichever are non-nil.
type Hooks struct {
	Construct func(ctx context.Context, config map[string]any) error
	Start     func(ctx context.Context) error
	Stop      func(ctx context.Context) error
	Destroy   func(ctx context.Context) error
}

// StateChangeFunc is invoked whenever a module's lifecycle state
// changes. Called outside the per-module lock, so subscribers may
// safely call back into the scheduler.
type StateChangeFunc func(id model.ModuleID, state model.LifecycleState)

type moduleEntry struct {
	mu     sync.Mutex
	state  model.LifecycleState
	module *model.ResolvedModule
	hooks  Hooks
}

// Scheduler drives the lifecycle of every ResolvedModule in a plan.
type Scheduler struct {
	plan        *dependency.Plan
	concurrency int

	entriesMu sync.RWMutex
	entries   map[model.ModuleID]*moduleEntry

	resolver *pathresolver.Resolver
	proxies  *proxy.Tracker

	subscribersMu sync.RWMutex
	subscribers   []StateChangeFunc
}

// New returns a Scheduler for the given plan. concurrency <= 0
// defaults to 4.
func New(plan *dependency.Plan, resolver *pathresolver.Resolver, proxies *proxy.Tracker, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Scheduler{
		plan:        plan,
		concurrency: concurrency,
		entries:     make(map[model.ModuleID]*moduleEntry),
		resolver:    resolver,
		proxies:     proxies,
	}
}

// AddModule registers a resolved module with its hooks, starting in
// Loaded state.
func (s *Scheduler) AddModule(rm *model.ResolvedModule, hooks Hooks) {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	s.entries[rm.Manifest.ID] = &moduleEntry{state: model.StateLoaded, module: rm, hooks: hooks}
	s.resolver.RegisterModule(rm.Manifest)
}

// RemoveModule drops all bookkeeping for id. DestroyAll and the subset
// operations leave entries in place; only direct callers remove them.
func (s *Scheduler) RemoveModule(id model.ModuleID) {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	delete(s.entries, id)
	s.resolver.UnregisterModule(id)
	s.proxies.Clear(id)
}

// Subscribe registers fn to be notified of every state change.
func (s *Scheduler) Subscribe(fn StateChangeFunc) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// GetState returns the current lifecycle state of id.
func (s *Scheduler) GetState(id model.ModuleID) (model.LifecycleState, bool) {
	s.entriesMu.RLock()
	e, ok := s.entries[id]
	s.entriesMu.RUnlock()
	if !ok {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

func (s *Scheduler) setState(id model.ModuleID, e *moduleEntry, state model.LifecycleState) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()

	s.subscribersMu.RLock()
	subs := append([]StateChangeFunc(nil), s.subscribers...)
	s.subscribersMu.RUnlock()

	for _, fn := range subs {
		go fn(id, state)
	}
}

// ranks groups ids into dependency ranks: rank 0 has no strict
// providers within the set, rank k's every strict provider is in a rank
// < k. Ties within a rank are broken by ModuleID for deterministic
// logging, though execution order inside a rank is unordered by design.
func (s *Scheduler) ranks(ids []model.ModuleID) [][]model.ModuleID {
	rankOf := make(map[model.ModuleID]int, len(ids))
	idSet := make(map[model.ModuleID]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	var compute func(id model.ModuleID) int
	visiting := make(map[model.ModuleID]bool)
	compute = func(id model.ModuleID) int {
		if r, ok := rankOf[id]; ok {
			return r
		}
		if visiting[id] {
			return 0
		}
		visiting[id] = true
		max := -1
		for _, p := range s.plan.StrictProvidersOf(id) {
			if !idSet[p] {
				continue
			}
			if r := compute(p); r > max {
				max = r
			}
		}
		rankOf[id] = max + 1
		visiting[id] = false
		return rankOf[id]
	}

	maxRank := 0
	for _, id := range ids {
		r := compute(id)
		if r > maxRank {
			maxRank = r
		}
	}

	out := make([][]model.ModuleID, maxRank+1)
	for _, id := range ids {
		out[rankOf[id]] = append(out[rankOf[id]], id)
	}
	for _, rank := range out {
		sort.Slice(rank, func(i, j int) bool { return rank[i] < rank[j] })
	}
	return out
}

// ConstructAll traverses the planner's topological order, calling
// construct(config) on every module not already Constructed or Active.
func (s *Scheduler) ConstructAll(ctx context.Context) error {
	return s.forward(ctx, model.StateConstructed, s.doConstruct)
}

// StartAll traverses the planner's topological order, calling start() on
// every module not already Active.
func (s *Scheduler) StartAll(ctx context.Context) error {
	return s.forward(ctx, model.StateActive, s.doStart)
}

// StopAll traverses the reverse topological order, calling stop() on
// every Active module.
func (s *Scheduler) StopAll(ctx context.Context) error {
	return s.backward(ctx, model.StateConstructed, s.doStop)
}

// DestroyAll traverses the reverse topological order, calling destroy()
// on every module not already Loaded.
func (s *Scheduler) DestroyAll(ctx context.Context) error {
	return s.backward(ctx, model.StateLoaded, s.doDestroy)
}

type stepFn func(ctx context.Context, id model.ModuleID, e *moduleEntry) error

func (s *Scheduler) forward(ctx context.Context, target model.LifecycleState, step stepFn) error {
	return s.forwardSubset(ctx, s.plan.Order, target, step)
}

func (s *Scheduler) backward(ctx context.Context, target model.LifecycleState, step stepFn) error {
	return s.backwardSubset(ctx, s.plan.Order, target, step)
}

func (s *Scheduler) forwardSubset(ctx context.Context, ids []model.ModuleID, target model.LifecycleState, step stepFn) error {
	ranks := s.ranks(ids)
	for _, rank := range ranks {
		if err := s.runRank(ctx, rank, target, step, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) backwardSubset(ctx context.Context, ids []model.ModuleID, target model.LifecycleState, step stepFn) error {
	ranks := s.ranks(ids)
	for i := len(ranks) - 1; i >= 0; i-- {
		_ = s.runRank(ctx, ranks[i], target, step, false)
	}
	return nil
}

// alreadyAtTarget reports whether a module in state needs no transition
// to reach target, given the traversal direction. Forward traversals
// skip modules at or past the target; backward traversals skip modules
// at or before it, so a stop pass never promotes a Loaded module.
func alreadyAtTarget(state, target model.LifecycleState, forward bool) bool {
	if forward {
		return stateRank(state) >= stateRank(target)
	}
	return stateRank(state) <= stateRank(target)
}

// ConstructSubset, StartSubset, StopSubset and DestroySubset drive just
// the named modules through one transition each, in dependency order
// restricted to that subset. Used by HotReload to rebuild a single
// affected closure without touching unrelated modules.
func (s *Scheduler) ConstructSubset(ctx context.Context, ids []model.ModuleID) error {
	return s.forwardSubset(ctx, ids, model.StateConstructed, s.doConstruct)
}

func (s *Scheduler) StartSubset(ctx context.Context, ids []model.ModuleID) error {
	return s.forwardSubset(ctx, ids, model.StateActive, s.doStart)
}

func (s *Scheduler) StopSubset(ctx context.Context, ids []model.ModuleID) error {
	return s.backwardSubset(ctx, ids, model.StateConstructed, s.doStop)
}

func (s *Scheduler) DestroySubset(ctx context.Context, ids []model.ModuleID) error {
	return s.backwardSubset(ctx, ids, model.StateLoaded, s.doDestroy)
}

// ReplacePlan swaps in a newly-resolved plan, used after HotReload
// re-runs the planner for an affected closure.
func (s *Scheduler) ReplacePlan(plan *dependency.Plan) {
	s.plan = plan
}

// CurrentPlan returns the plan the scheduler is currently operating
// against, used by HotReload to walk strict-consumer edges before
// swapping in a freshly re-resolved plan for the affected closure.
func (s *Scheduler) CurrentPlan() *dependency.Plan {
	return s.plan
}

// Module returns the registered ResolvedModule for id, if any.
func (s *Scheduler) Module(id model.ModuleID) (*model.ResolvedModule, bool) {
	s.entriesMu.RLock()
	defer s.entriesMu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.module, true
}

// runRank runs step over every module in rank concurrently, bounded by
// s.concurrency. forward traversals abort the whole rank (and thus the
// whole traversal) on first error, matching the launch path's fast-fail
// policy; stop/destroy traversals run best-effort.
func (s *Scheduler) runRank(ctx context.Context, rank []model.ModuleID, target model.LifecycleState, step stepFn, forward bool) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, id := range rank {
		id := id
		g.Go(func() error {
			s.entriesMu.RLock()
			e, ok := s.entries[id]
			s.entriesMu.RUnlock()
			if !ok {
				return nil
			}
			e.mu.Lock()
			already := alreadyAtTarget(e.state, target, forward)
			e.mu.Unlock()
			if already {
				return nil
			}
			if err := step(gctx, id, e); err != nil {
				if forward {
					return err
				}
				logging.Warn("LifecycleScheduler", "best-effort transition for %s failed: %v", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func stateRank(state model.LifecycleState) int {
	switch state {
	case model.StateConstructed:
		return 1
	case model.StateActive:
		return 2
	default:
		return 0
	}
}

func (s *Scheduler) doConstruct(ctx context.Context, id model.ModuleID, e *moduleEntry) error {
	assoc := make(map[model.InterfaceRef]model.ModuleID)
	for key, provider := range s.plan.Providers {
		if key.Consumer == id {
			assoc[key.Ref] = provider
		}
	}
	s.resolver.SetAssociations(id, assoc)
	s.proxies.Clear(id)

	if e.hooks.Construct != nil {
		if err := e.hooks.Construct(ctx, e.module.Config); err != nil {
			logging.Error("LifecycleScheduler", err, "construct failed for %s", id)
			return errs.LifecycleFailure(string(id), "construct failed", err)
		}
	}
	s.setState(id, e, model.StateConstructed)
	return nil
}

func (s *Scheduler) doStart(ctx context.Context, id model.ModuleID, e *moduleEntry) error {
	for _, p := range s.plan.StrictProvidersOf(id) {
		if st, ok := s.GetState(p); !ok || st != model.StateActive {
			return errs.LifecycleFailure(string(id), fmt.Sprintf("provider %s is not Active", p), nil)
		}
	}
	if e.hooks.Start != nil {
		if err := e.hooks.Start(ctx); err != nil {
			logging.Error("LifecycleScheduler", err, "start failed for %s", id)
			s.demoteConsumers(id)
			return errs.LifecycleFailure(string(id), "start failed", err)
		}
	}
	s.setState(id, e, model.StateActive)
	return nil
}

// demoteConsumers moves every transitive strict consumer of id back to
// Constructed: once id is not Active, a direct consumer's precondition
// no longer holds, which in turn invalidates that consumer's own
// consumers, and so on up the chain.
func (s *Scheduler) demoteConsumers(id model.ModuleID) {
	seen := map[model.ModuleID]bool{id: true}
	queue := []model.ModuleID{id}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, consumer := range s.plan.StrictConsumersOf(next) {
			if seen[consumer] {
				continue
			}
			seen[consumer] = true
			queue = append(queue, consumer)

			s.entriesMu.RLock()
			e, ok := s.entries[consumer]
			s.entriesMu.RUnlock()
			if !ok {
				continue
			}
			e.mu.Lock()
			wasActive := e.state == model.StateActive
			e.mu.Unlock()
			if wasActive {
				s.setState(consumer, e, model.StateConstructed)
			}
		}
	}
}

func (s *Scheduler) doStop(ctx context.Context, id model.ModuleID, e *moduleEntry) error {
	if e.hooks.Stop != nil {
		if err := e.hooks.Stop(ctx); err != nil {
			logging.Warn("LifecycleScheduler", "stop failed for %s, continuing best-effort: %v", id, err)
		}
	}
	s.setState(id, e, model.StateConstructed)
	return nil
}

func (s *Scheduler) doDestroy(ctx context.Context, id model.ModuleID, e *moduleEntry) error {
	if e.hooks.Destroy != nil {
		if err := e.hooks.Destroy(ctx); err != nil {
			logging.Warn("LifecycleScheduler", "destroy failed for %s, continuing best-effort: %v", id, err)
		}
	}
	s.resolver.ClearAssociations(id)
	s.proxies.Clear(id)
	s.setState(id, e, model.StateLoaded)
	return nil
}
