// Package runtime assembles the configuration resolver, module cache,
// source registry, dependency planner, lifecycle scheduler, path
// resolver, proxy tracker, watch engine and hot-reload pipeline behind
// the public entry points: Launch, Build, LaunchFromBuild, and
// ModuleManager.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AntelopeJS/antelopejs-sub000/internal/cache"
	"github.com/AntelopeJS/antelopejs-sub000/internal/config"
	"github.com/AntelopeJS/antelopejs-sub000/internal/dependency"
	"github.com/AntelopeJS/antelopejs-sub000/internal/lifecycle"
	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
	"github.com/AntelopeJS/antelopejs-sub000/internal/pathresolver"
	"github.com/AntelopeJS/antelopejs-sub000/internal/proxy"
	"github.com/AntelopeJS/antelopejs-sub000/internal/reload"
	"github.com/AntelopeJS/antelopejs-sub000/internal/source"
	"github.com/AntelopeJS/antelopejs-sub000/internal/watch"
	"github.com/AntelopeJS/antelopejs-sub000/pkg/logging"
)

// HookProvider supplies a module's lifecycle hooks once its manifest
// has been fetched. Loading module code is the host loader's concern;
// HookProvider is the seam a host implementation plugs into. When
// unset, every module gets no-op construct/start/stop/destroy hooks.
type HookProvider interface {
	Hooks(manifest *model.ModuleManifest) (lifecycle.Hooks, error)
}

type noopHookProvider struct{}

func (noopHookProvider) Hooks(*model.ModuleManifest) (lifecycle.Hooks, error) {
	return lifecycle.Hooks{}, nil
}

// Options configures Launch/Build/LaunchFromBuild.
type Options struct {
	ConfigPath     string
	Watch          bool
	Concurrency    int
	StubModulePath string
	DebounceWindow time.Duration
	Hooks          HookProvider
}

// ModuleManager is the handle returned by Launch.
type ModuleManager struct {
	projectRoot  string
	cfg          *config.ProjectConfig
	cache        *cache.Cache
	registry     *source.Registry
	resolver     *pathresolver.Resolver
	proxies      *proxy.Tracker
	scheduler    *lifecycle.Scheduler
	watchEngine  *watch.Engine
	reloadEngine *reload.Engine

	manifests map[model.ModuleID]*model.ModuleManifest
	plan      *dependency.Plan
}

// Launch resolves config, fetches every module, plans dependencies,
// constructs and starts the whole project, and — if opts.Watch is set —
// starts file watching and hot reload.
func Launch(ctx context.Context, projectRoot, env string, opts Options) (*ModuleManager, error) {
	mm, err := build(projectRoot, env, opts)
	if err != nil {
		return nil, err
	}

	if err := mm.ConstructAll(ctx); err != nil {
		return nil, err
	}
	if err := mm.StartAll(ctx); err != nil {
		return nil, err
	}

	if opts.Watch {
		if err := mm.startWatching(ctx, opts); err != nil {
			return nil, err
		}
	}

	logging.Info("Runtime", "launched project %q with %d modules", mm.cfg.Name, len(mm.manifests))
	return mm, nil
}

// Build resolves config and fetches/plans every module without
// constructing them, producing a saved build artifact at
// <cacheFolder>/build.json that LaunchFromBuild can consume to skip
// resolution on a subsequent run.
func Build(projectRoot, env string, opts Options) (*ModuleManager, error) {
	mm, err := build(projectRoot, env, opts)
	if err != nil {
		return nil, err
	}
	if err := mm.saveBuildArtifact(); err != nil {
		return nil, err
	}
	return mm, nil
}

// LaunchFromBuild launches from a previously saved build artifact,
// skipping the fetch/resolution phase.
func LaunchFromBuild(ctx context.Context, projectRoot, env string, opts Options) (*ModuleManager, error) {
	mm, err := fromBuildArtifact(projectRoot, env, opts)
	if err != nil {
		return nil, err
	}
	if err := mm.ConstructAll(ctx); err != nil {
		return nil, err
	}
	if err := mm.StartAll(ctx); err != nil {
		return nil, err
	}
	if opts.Watch {
		if err := mm.startWatching(ctx, opts); err != nil {
			return nil, err
		}
	}
	return mm, nil
}

func build(projectRoot, env string, opts Options) (*ModuleManager, error) {
	cfg, err := config.Load(projectRoot, env, opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	c := cache.New(cfg.CacheFolder)
	if err := c.Load(); err != nil {
		return nil, err
	}

	registry := source.NewRegistry()

	manifests := make(map[model.ModuleID]*model.ModuleManifest)
	for id, entry := range cfg.Modules {
		fetched, err := registry.Fetch(projectRoot, c, id, entry.Source)
		if err != nil {
			return nil, err
		}
		for _, m := range fetched {
			m.ImportOverrides = entry.ImportOverrides
			m.DisabledExports = entry.DisabledExports
			manifests[m.ID] = m
		}
	}
	if err := c.Save(); err != nil {
		return nil, err
	}

	return assemble(projectRoot, cfg, c, registry, manifests, opts)
}

func assemble(projectRoot string, cfg *config.ProjectConfig, c *cache.Cache, registry *source.Registry, manifests map[model.ModuleID]*model.ModuleManifest, opts Options) (*ModuleManager, error) {
	plan, err := dependency.Resolve(manifests)
	if err != nil {
		return nil, err
	}

	resolver := pathresolver.New(opts.StubModulePath)
	proxies := proxy.New()
	scheduler := lifecycle.New(plan, resolver, proxies, opts.Concurrency)

	hookProvider := opts.Hooks
	if hookProvider == nil {
		hookProvider = noopHookProvider{}
	}

	for _, id := range plan.Order {
		m := manifests[id]
		entry := cfg.Modules[id]
		hooks, err := hookProvider.Hooks(m)
		if err != nil {
			return nil, fmt.Errorf("loading hooks for %s: %w", id, err)
		}
		rm := &model.ResolvedModule{Manifest: m, Config: entry.Config, Providers: providersFor(plan, id)}
		scheduler.AddModule(rm, hooks)
	}

	return &ModuleManager{
		projectRoot: projectRoot,
		cfg:         cfg,
		cache:       c,
		registry:    registry,
		resolver:    resolver,
		proxies:     proxies,
		scheduler:   scheduler,
		manifests:   manifests,
		plan:        plan,
	}, nil
}

func providersFor(plan *dependency.Plan, id model.ModuleID) map[model.InterfaceRef]model.ModuleID {
	out := make(map[model.InterfaceRef]model.ModuleID)
	for key, provider := range plan.Providers {
		if key.Consumer == id {
			out[key.Ref] = provider
		}
	}
	return out
}

// ConstructAll delegates to the lifecycle scheduler.
func (mm *ModuleManager) ConstructAll(ctx context.Context) error {
	return mm.scheduler.ConstructAll(ctx)
}

// StartAll delegates to the lifecycle scheduler.
func (mm *ModuleManager) StartAll(ctx context.Context) error { return mm.scheduler.StartAll(ctx) }

// StopAll delegates to the lifecycle scheduler.
func (mm *ModuleManager) StopAll(ctx context.Context) error { return mm.scheduler.StopAll(ctx) }

// DestroyAll shuts down hot reload and watching, stops every Active
// module, then destroys every module via the lifecycle scheduler.
func (mm *ModuleManager) DestroyAll(ctx context.Context) error {
	if mm.reloadEngine != nil {
		mm.reloadEngine.Shutdown()
		mm.reloadEngine = nil
	}
	if mm.watchEngine != nil {
		mm.watchEngine.Stop()
		mm.watchEngine = nil
	}
	if err := mm.scheduler.StopAll(ctx); err != nil {
		return err
	}
	return mm.scheduler.DestroyAll(ctx)
}

// AddModules fetches and plans additional modules into the running
// project, re-resolving the whole dependency graph.
func (mm *ModuleManager) AddModules(entries map[model.ModuleID]config.ModuleEntry) error {
	for id, entry := range entries {
		fetched, err := mm.registry.Fetch(mm.projectRoot, mm.cache, id, entry.Source)
		if err != nil {
			return err
		}
		for _, m := range fetched {
			m.ImportOverrides = entry.ImportOverrides
			m.DisabledExports = entry.DisabledExports
			mm.manifests[m.ID] = m
		}
	}
	plan, err := dependency.Resolve(mm.manifests)
	if err != nil {
		return err
	}
	mm.plan = plan
	mm.scheduler.ReplacePlan(plan)
	for id, m := range mm.manifests {
		if _, ok := mm.scheduler.Module(id); ok {
			continue
		}
		entry := mm.cfg.Modules[id]
		rm := &model.ResolvedModule{Manifest: m, Config: entry.Config, Providers: providersFor(plan, id)}
		mm.scheduler.AddModule(rm, lifecycle.Hooks{})
	}
	return mm.cache.Save()
}

// GetModule returns the ResolvedModule and current state for id.
func (mm *ModuleManager) GetModule(id model.ModuleID) (*model.ResolvedModule, model.LifecycleState, bool) {
	rm, ok := mm.scheduler.Module(id)
	if !ok {
		return nil, "", false
	}
	state, _ := mm.scheduler.GetState(id)
	return rm, state, true
}

func (mm *ModuleManager) startWatching(ctx context.Context, opts Options) error {
	we := watch.New(0)
	if err := we.Start(); err != nil {
		return err
	}
	for id, m := range mm.manifests {
		if len(m.WatchDir) == 0 {
			continue
		}
		if err := we.AddModule(id, m.WatchDir); err != nil {
			logging.Warn("Runtime", "failed to watch %s: %v", id, err)
		}
	}
	mm.watchEngine = we

	re := reload.New(mm.scheduler, mm.manifests, func(subset map[model.ModuleID]*model.ModuleManifest) (*dependency.Plan, error) {
		merged := make(map[model.ModuleID]*model.ModuleManifest, len(mm.manifests))
		for id, m := range mm.manifests {
			merged[id] = m
		}
		for id, m := range subset {
			merged[id] = m
		}
		return dependency.Resolve(merged)
	}, opts.DebounceWindow)
	re.Run(ctx)
	mm.reloadEngine = re

	go func() {
		for ev := range we.Events {
			re.Notify(ev.ModuleID)
		}
	}()

	return nil
}

const buildArtifactName = "build.json"

type buildArtifact struct {
	CacheFolder string                          `json:"cacheFolder"`
	Manifests   map[model.ModuleID]manifestDump `json:"manifests"`
}

type manifestDump struct {
	Folder      string `json:"folder"`
	Version     string `json:"version"`
	ExportsPath string `json:"exportsPath"`
}

func (mm *ModuleManager) saveBuildArtifact() error {
	art := buildArtifact{CacheFolder: mm.cfg.CacheFolder, Manifests: make(map[model.ModuleID]manifestDump)}
	for id, m := range mm.manifests {
		art.Manifests[id] = manifestDump{Folder: m.Folder, Version: m.Version, ExportsPath: m.ExportsPath}
	}
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(mm.cfg.CacheFolder, buildArtifactName)
	return os.WriteFile(path, data, 0o644)
}

func fromBuildArtifact(projectRoot, env string, opts Options) (*ModuleManager, error) {
	// LaunchFromBuild still needs the resolved project config (module
	// entries carry per-module config/importOverrides that a build
	// artifact does not duplicate), but skips re-fetching by trusting the
	// module trees the artifact points at.
	cfg, err := config.Load(projectRoot, env, opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	c := cache.New(cfg.CacheFolder)
	if err := c.Load(); err != nil {
		return nil, err
	}

	path := filepath.Join(cfg.CacheFolder, buildArtifactName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no build artifact at %s (run Build first): %w", path, err)
	}
	var art buildArtifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("parsing build artifact %s: %w", path, err)
	}

	manifests := make(map[model.ModuleID]*model.ModuleManifest, len(art.Manifests))
	for id, dump := range art.Manifests {
		entry := cfg.Modules[id]
		m, err := source.ReadManifest(dump.Folder, id, entry.Source)
		if err != nil {
			return nil, fmt.Errorf("reading module %s from build artifact: %w", id, err)
		}
		m.ImportOverrides = entry.ImportOverrides
		m.DisabledExports = entry.DisabledExports
		manifests[id] = m
	}

	return assemble(projectRoot, cfg, c, source.NewRegistry(), manifests, opts)
}
