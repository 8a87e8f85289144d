// Package pathresolver intercepts runtime module-resolution requests
// made by module code and translates the subset addressing interfaces
// or intra-module aliases. Requests are classified by scheme prefix;
// the caller is identified by the longest registered folder prefix of
// the requesting file's path.
package pathresolver

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/AntelopeJS/antelopejs-sub000/internal/errs"
	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
)

const (
	prefixLocal = "@ajs.local/"
	prefixAjs   = "@ajs/"
	prefixRaw   = "@ajs.raw/"
)

// Resolver implements the PathResolver component. Its answer for a given
// (caller, request) pair depends only on the registered folder-to-module
// map and each consumer's current associations; it performs no mutation
// during a single Resolve call.
type Resolver struct {
	mu sync.RWMutex

	manifests map[model.ModuleID]*model.ModuleManifest
	// folders is kept sorted longest-first so caller lookup is a single
	// linear scan for a prefix match.
	folders []folderEntry

	// associations[consumer][ref] = providerID, published by the
	// scheduler before a module's construct hook runs.
	associations map[model.ModuleID]map[model.InterfaceRef]model.ModuleID

	stubModulePath string
}

type folderEntry struct {
	folder string
	module model.ModuleID
}

// New returns an empty Resolver. stubModulePath backs unresolved optional
// imports when non-empty; pass "" to disable stub substitution.
func New(stubModulePath string) *Resolver {
	return &Resolver{
		manifests:      make(map[model.ModuleID]*model.ModuleManifest),
		associations:   make(map[model.ModuleID]map[model.InterfaceRef]model.ModuleID),
		stubModulePath: stubModulePath,
	}
}

// RegisterModule makes m's folder known as a caller-identification root.
func (r *Resolver) RegisterModule(m *model.ModuleManifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[m.ID] = m
	r.folders = append(r.folders, folderEntry{folder: filepath.Clean(m.Folder), module: m.ID})
	sort.Slice(r.folders, func(i, j int) bool { return len(r.folders[i].folder) > len(r.folders[j].folder) })
}

// UnregisterModule removes m's caller-identification root and any
// associations recorded for it.
func (r *Resolver) UnregisterModule(id model.ModuleID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.manifests, id)
	delete(r.associations, id)
	kept := r.folders[:0]
	for _, f := range r.folders {
		if f.module != id {
			kept = append(kept, f)
		}
	}
	r.folders = kept
}

// SetAssociations replaces the provider map for consumer, published by
// the scheduler immediately before calling construct.
func (r *Resolver) SetAssociations(consumer model.ModuleID, assoc map[model.InterfaceRef]model.ModuleID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.associations[consumer] = assoc
}

// ClearAssociations empties consumer's provider map, e.g. before destroy
// or reload.
func (r *Resolver) ClearAssociations(consumer model.ModuleID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.associations, consumer)
}

// Empty reports whether no associations remain, so teardown can verify
// nothing was left behind.
func (r *Resolver) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.associations) == 0
}

// callerModule finds the longest registered folder prefix of callerPath.
func (r *Resolver) callerModule(callerPath string) (model.ModuleID, bool) {
	clean := filepath.Clean(callerPath)
	for _, f := range r.folders {
		if clean == f.folder || strings.HasPrefix(clean, f.folder+string(filepath.Separator)) {
			return f.module, true
		}
	}
	return "", false
}

// Resolve answers a module-resolution request made from callerPath. An
// unknown caller returns ("", false, nil) so the host falls through to
// its default resolution.
func (r *Resolver) Resolve(callerPath, request string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caller, ok := r.callerModule(callerPath)
	if !ok {
		return "", false, nil
	}
	callerManifest := r.manifests[caller]

	switch {
	case strings.HasPrefix(request, prefixLocal):
		rest := strings.TrimPrefix(request, prefixLocal)
		return filepath.Join(callerManifest.ExportsPath, rest), true, nil

	case strings.HasPrefix(request, prefixRaw):
		rest := strings.TrimPrefix(request, prefixRaw)
		return r.resolveRaw(rest)

	case strings.HasPrefix(request, prefixAjs):
		return r.resolveAjs(caller, callerManifest, request)

	default:
		for _, alias := range callerManifest.SrcAliases {
			if strings.HasPrefix(request, alias.Alias) {
				return alias.Replace + strings.TrimPrefix(request, alias.Alias), true, nil
			}
		}
		return "", false, nil
	}
}

func (r *Resolver) resolveRaw(rest string) (string, bool, error) {
	idx := strings.IndexRune(rest, '/')
	if idx < 0 {
		return "", false, fmt.Errorf("malformed @ajs.raw request %q", rest)
	}
	moduleID := model.ModuleID(rest[:idx])
	ifaceSeg := rest[idx+1:]

	atIdx := strings.LastIndexByte(ifaceSeg, '@')
	if atIdx <= 0 {
		return "", false, fmt.Errorf("malformed @ajs.raw request %q", rest)
	}

	provider, ok := r.manifests[moduleID]
	if !ok {
		return "", false, fmt.Errorf("@ajs.raw references unknown module %q", moduleID)
	}

	// Find the end of the "name@ver" segment: extra path, if any, starts
	// at the next '/'.
	rel := ifaceSeg
	extra := ""
	if slash := strings.IndexRune(ifaceSeg[atIdx:], '/'); slash >= 0 {
		rel = ifaceSeg[:atIdx+slash]
		extra = ifaceSeg[atIdx+slash:]
	}

	desc, ok := provider.Exports[rel]
	if !ok {
		return "", false, fmt.Errorf("module %q does not export %q", moduleID, rel)
	}
	return filepath.Join(desc.Path, extra), true, nil
}

func (r *Resolver) resolveAjs(caller model.ModuleID, callerManifest *model.ModuleManifest, request string) (string, bool, error) {
	rest := strings.TrimPrefix(request, prefixAjs)
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 {
		return "", false, fmt.Errorf("malformed @ajs request %q", request)
	}
	name, version := parts[0], parts[1]
	extra := ""
	if len(parts) == 3 {
		extra = "/" + parts[2]
	}
	ref := model.InterfaceRef{Name: name, Version: version}

	providerID, ok := r.associations[caller][ref]
	if !ok {
		if r.stubModulePath != "" && isOptional(callerManifest, ref) {
			return r.stubModulePath, true, nil
		}
		return "", false, errs.UnimportedInterface(string(caller), ref.String())
	}

	provider, ok := r.manifests[providerID]
	if !ok {
		return "", false, fmt.Errorf("associated provider %q for %s is not registered", providerID, ref)
	}

	// Prefer the export whose version token matches the request exactly;
	// fall back to the lexically-first same-name export so the answer is
	// stable when a provider publishes several versions of one interface.
	keys := make([]string, 0, len(provider.Exports))
	for key := range provider.Exports {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fallback := ""
	for _, key := range keys {
		n, v := splitKey(key)
		if n != name {
			continue
		}
		if v == version {
			return filepath.Join(provider.Exports[key].Path, extra), true, nil
		}
		if fallback == "" {
			fallback = key
		}
	}
	if fallback != "" {
		return filepath.Join(provider.Exports[fallback].Path, extra), true, nil
	}
	return "", false, fmt.Errorf("provider %q no longer exports %s", providerID, ref)
}

func isOptional(m *model.ModuleManifest, ref model.InterfaceRef) bool {
	for _, o := range m.OptionalImports {
		if o.Equal(ref) {
			return true
		}
	}
	return false
}

func splitKey(key string) (name, version string) {
	idx := strings.LastIndexByte(key, '@')
	if idx <= 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}
