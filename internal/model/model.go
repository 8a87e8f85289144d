// Package model holds the core data types shared across the runtime:
// module identity, source descriptors, manifests, interface references,
// and the resolved-module view the scheduler and resolvers operate on.
package model

import "fmt"

// ModuleID stably identifies a module within a running project. Assigned
// by ConfigResolver; unique within a project.
type ModuleID string

// SourceType enumerates the ModuleSource variants.
type SourceType string

const (
	SourcePackage     SourceType = "package"
	SourceGit         SourceType = "git"
	SourceLocal       SourceType = "local"
	SourceLocalFolder SourceType = "local-folder"
)

// ModuleSource describes where a module comes from. Only the fields
// relevant to Type are meaningful; the zero value of the others is
// ignored.
type ModuleSource struct {
	Type SourceType

	// package
	Name    string
	Version string

	// git
	Remote string
	Branch string
	Commit string

	// local / local-folder
	Path string

	// WatchDir overrides the default watch directory selection; a nil
	// slice means "use the type default" (module root for local*, none
	// otherwise).
	WatchDir []string
}

// DefaultWatchable reports whether this source type is watched by
// default when WatchDir is unset.
func (s ModuleSource) DefaultWatchable() bool {
	return s.Type == SourceLocal || s.Type == SourceLocalFolder
}

// InterfaceRef is a parsed `name@version` interface identifier.
type InterfaceRef struct {
	Name    string
	Version string
}

// String renders the ref back to `name@version` form.
func (r InterfaceRef) String() string { return fmt.Sprintf("%s@%s", r.Name, r.Version) }

// Equal reports whether two refs have identical name and version strings.
func (r InterfaceRef) Equal(o InterfaceRef) bool { return r.Name == o.Name && r.Version == o.Version }

// ExportDescriptor is the descriptor a module publishes for one exported
// interface: the version range it covers and the directory backing it.
type ExportDescriptor struct {
	// VersionRange is a semver constraint string (e.g. "^1.0.0" or "1").
	VersionRange string
	// Path is the absolute directory PathResolver publishes for this
	// export, rooted under the manifest's ExportsPath.
	Path string
}

// SrcAlias is an intra-module path-mapping entry.
type SrcAlias struct {
	Alias   string
	Replace string
}

// ImportOverride redirects a consumer's interface resolution to a
// specific provider, overriding DependencyPlanner's default unique-
// provider rule.
type ImportOverride struct {
	Interface        InterfaceRef
	ProviderModuleID ModuleID
	ProviderExportID string // optional; empty means "use the provider's only matching export"
}

// ModuleManifest is the materialized form of a module once SourceRegistry
// has fetched it.
type ModuleManifest struct {
	ID          ModuleID
	Name        string
	Version     string // semver
	Folder      string // absolute path in cache
	MainEntry   string
	ExportsPath string

	// Exports maps "name@version" identifiers to their descriptor, which
	// carries the version range the export covers.
	Exports map[string]ExportDescriptor

	// Imports lists the strict interface refs this module requires.
	Imports []InterfaceRef
	// OptionalImports lists interface refs this module can run without.
	OptionalImports []InterfaceRef

	SrcAliases []SrcAlias
	WatchDir   []string

	// Source is retained so reload() and diagnostics can refer back to
	// where this manifest came from.
	Source ModuleSource

	// ImportOverrides and DisabledExports are copied in from the project
	// config entry for this module; the planner consults them directly.
	ImportOverrides []ImportOverride
	DisabledExports []string

	// ReloadFunc re-reads manifest metadata from disk without re-fetching.
	// Populated by the owning SourceRegistry downloader; nil for manifests
	// that cannot be reloaded in place (should not occur for watchable
	// sources).
	ReloadFunc func() error
}

// Reload re-reads this manifest's metadata from disk, if supported.
func (m *ModuleManifest) Reload() error {
	if m.ReloadFunc == nil {
		return nil
	}
	return m.ReloadFunc()
}

// LifecycleState is one of the three states a module's lifecycle may be
// in at any point.
type LifecycleState string

const (
	StateLoaded      LifecycleState = "Loaded"
	StateConstructed LifecycleState = "Constructed"
	StateActive      LifecycleState = "Active"
)

// ResolvedModule is a ModuleManifest plus its resolved config view and
// effective provider map. Providers is a weak back-reference: lookups by
// InterfaceRef resolve to the providing ModuleID only, never to an owned
// pointer, so cyclic provider graphs never create Go-level reference
// cycles.
type ResolvedModule struct {
	Manifest *ModuleManifest
	Config   map[string]any

	// Providers maps each strict+optional InterfaceRef this module
	// consumes to the ModuleID supplying it. Entries are absent for
	// unresolved optional imports.
	Providers map[InterfaceRef]ModuleID
}

// CacheManifest maps ModuleID to the semver actually stored on disk,
// persisted as JSON alongside the cache directory.
type CacheManifest map[ModuleID]string
