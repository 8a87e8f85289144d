// Package dependency builds the import/export bipartite graph between
// modules and turns it into a deterministic construction order.
package dependency

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/AntelopeJS/antelopejs-sub000/internal/errs"
	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
	"github.com/AntelopeJS/antelopejs-sub000/pkg/logging"
)

// resolutionKind is the per-(consumer, interface) outcome of resolveOne.
type resolutionKind int

const (
	resolved resolutionKind = iota
	missing
	ambiguous
	optionalUnresolved
)

// Plan is the output of Resolve: the effective provider map, the strict
// dependency edge set, and a deterministic construction order.
type Plan struct {
	// Providers maps (consumerID, ref) to the chosen providerID.
	Providers map[ProviderKey]model.ModuleID

	// edges[consumer] = set of strict providers consumer depends on.
	edges map[model.ModuleID]map[model.ModuleID]bool

	// Order is the topological construction order (strict edges only),
	// ties broken by ModuleID lexical order.
	Order []model.ModuleID

	Diagnostics *errs.Collection
}

// ProviderKey identifies one resolved import edge.
type ProviderKey struct {
	Consumer model.ModuleID
	Ref      model.InterfaceRef
}

// StrictProvidersOf returns the strict providers consumer depends on.
func (p *Plan) StrictProvidersOf(consumer model.ModuleID) []model.ModuleID {
	set := p.edges[consumer]
	out := make([]model.ModuleID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StrictConsumersOf returns every module that strictly depends on
// provider, i.e. the reverse edge set.
func (p *Plan) StrictConsumersOf(provider model.ModuleID) []model.ModuleID {
	var out []model.ModuleID
	for consumer, provs := range p.edges {
		if provs[provider] {
			out = append(out, consumer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve builds a Plan from the given set of manifests. manifests must
// be keyed by ModuleID and already carry the per-module ImportOverrides
// and DisabledExports copied in from project config.
func Resolve(manifests map[model.ModuleID]*model.ModuleManifest) (*Plan, error) {
	plan := &Plan{
		Providers:   make(map[ProviderKey]model.ModuleID),
		edges:       make(map[model.ModuleID]map[model.ModuleID]bool),
		Diagnostics: errs.NewCollection(),
	}

	index := buildExportIndex(manifests)

	// Stable iteration order for deterministic diagnostic ordering.
	ids := sortedIDs(manifests)

	for _, consumerID := range ids {
		m := manifests[consumerID]
		plan.edges[consumerID] = make(map[model.ModuleID]bool)

		for _, ref := range m.Imports {
			resolveInto(plan, index, m, consumerID, ref, true)
		}
		for _, ref := range m.OptionalImports {
			resolveInto(plan, index, m, consumerID, ref, false)
		}
	}

	if len(plan.Diagnostics.ByKind(errs.KindMissingProvider)) > 0 || len(plan.Diagnostics.ByKind(errs.KindAmbiguousProvider)) > 0 {
		return plan, plan.Diagnostics
	}

	order, err := topoSort(ids, plan.edges)
	if err != nil {
		plan.Diagnostics.Add(err)
		return plan, plan.Diagnostics
	}
	plan.Order = order

	return plan, nil
}

func resolveInto(plan *Plan, index exportIndex, m *model.ModuleManifest, consumerID model.ModuleID, ref model.InterfaceRef, strict bool) {
	providerID, kind, candidates := resolveOne(index, m, consumerID, ref)

	switch kind {
	case resolved:
		plan.Providers[ProviderKey{Consumer: consumerID, Ref: ref}] = providerID
		if strict {
			plan.edges[consumerID][providerID] = true
		}
	case ambiguous:
		plan.Diagnostics.Add(errs.AmbiguousProvider(string(consumerID), ref.String(), candidates))
	case optionalUnresolved:
		logging.Debug("DependencyPlanner", "optional import %s of %s left unresolved", ref, consumerID)
	case missing:
		if strict {
			plan.Diagnostics.Add(errs.MissingProvider(string(consumerID), ref.String()))
		} else {
			logging.Debug("DependencyPlanner", "optional import %s of %s left unresolved", ref, consumerID)
		}
	}
}

// resolveOne implements the resolution order for one consumer/interface
// pair: importOverride first, then unique-provider-by-coverage, with
// ambiguity/missing/optional-unresolved outcomes.
func resolveOne(index exportIndex, m *model.ModuleManifest, consumerID model.ModuleID, ref model.InterfaceRef) (model.ModuleID, resolutionKind, []string) {
	for _, ov := range m.ImportOverrides {
		if !ov.Interface.Equal(ref) {
			continue
		}
		// An override naming a provider that does not actually export
		// the referenced interface is a missing provider, never a
		// silent guess.
		if !providerExports(index, ov.ProviderModuleID, ref, ov.ProviderExportID) {
			logging.Warn("DependencyPlanner", "module %s overrides %s to %s, which does not export it", consumerID, ref, ov.ProviderModuleID)
			return "", missing, nil
		}
		return ov.ProviderModuleID, resolved, nil
	}

	disabled := make(map[string]bool, len(m.DisabledExports))
	for _, d := range m.DisabledExports {
		disabled[d] = true
	}

	var candidates []model.ModuleID
	for _, cand := range index[ref.Name] {
		// A disabledExports entry names either a provider module or one of
		// its export identifiers; either form removes the candidate from
		// consideration for this consumer.
		if disabled[string(cand.providerID)] || disabled[ref.Name+"@"+cand.exactVersion] {
			continue
		}
		if cand.providerID == consumerID {
			continue
		}
		if covers(cand.versionRange, ref.Version) {
			candidates = append(candidates, cand.providerID)
		}
	}

	switch len(candidates) {
	case 0:
		return "", missing, nil
	case 1:
		return candidates[0], resolved, nil
	default:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
		strs := make([]string, len(candidates))
		for i, c := range candidates {
			strs[i] = string(c)
		}
		// Multiple versions from the same single provider resolve to an
		// exact match on the consumer's declared version only.
		if allSameProvider(candidates) {
			if m2 := exactVersionMatch(index, ref, candidates[0]); m2 != "" {
				return m2, resolved, nil
			}
			return "", missing, nil
		}
		return "", ambiguous, strs
	}
}

func allSameProvider(ids []model.ModuleID) bool {
	for _, id := range ids[1:] {
		if id != ids[0] {
			return false
		}
	}
	return true
}

func exactVersionMatch(index exportIndex, ref model.InterfaceRef, providerID model.ModuleID) model.ModuleID {
	for _, cand := range index[ref.Name] {
		if cand.providerID == providerID && cand.exactVersion == ref.Version {
			return providerID
		}
	}
	return ""
}

type exportEntry struct {
	providerID   model.ModuleID
	versionRange string
	exactVersion string
}

type exportIndex map[string][]exportEntry

func buildExportIndex(manifests map[model.ModuleID]*model.ModuleManifest) exportIndex {
	idx := make(exportIndex)
	for id, m := range manifests {
		for key, desc := range m.Exports {
			name, version := splitInterfaceKey(key)
			idx[name] = append(idx[name], exportEntry{
				providerID:   id,
				versionRange: desc.VersionRange,
				exactVersion: version,
			})
		}
	}
	return idx
}

func splitInterfaceKey(key string) (name, version string) {
	idx := strings.LastIndexByte(key, '@')
	if idx <= 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}

func providerExports(index exportIndex, providerID model.ModuleID, ref model.InterfaceRef, exportID string) bool {
	for _, cand := range index[ref.Name] {
		if cand.providerID != providerID {
			continue
		}
		if exportID != "" && cand.exactVersion != exportID {
			continue
		}
		if covers(cand.versionRange, ref.Version) {
			return true
		}
	}
	return false
}

// covers reports whether the semver range rangeStr covers version v. A
// malformed range or version is treated as a non-match rather than a
// panic, since both strings ultimately come from untrusted module
// manifests.
func covers(rangeStr, v string) bool {
	if rangeStr == "" {
		rangeStr = v
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return rangeStr == v
	}
	constraint, err := semver.NewConstraint(rangeStr)
	if err != nil {
		return rangeStr == v
	}
	return constraint.Check(version)
}

func sortedIDs(manifests map[model.ModuleID]*model.ModuleManifest) []model.ModuleID {
	ids := make([]model.ModuleID, 0, len(manifests))
	for id := range manifests {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// topoSort runs Kahn's algorithm over the strict edge set (consumer ->
// provider), producing providers before consumers, with ties broken by
// ModuleID lexical order so the same inputs always give the same
// order.
func topoSort(ids []model.ModuleID, edges map[model.ModuleID]map[model.ModuleID]bool) ([]model.ModuleID, *errs.CoreError) {
	// remaining holds, for each module, the set of OTHER modules that must
	// be emitted before it — i.e. the strict providers it still waits on.
	remaining := make(map[model.ModuleID]map[model.ModuleID]bool, len(ids))
	for _, id := range ids {
		remaining[id] = make(map[model.ModuleID]bool, len(edges[id]))
		for p := range edges[id] {
			remaining[id][p] = true
		}
	}

	var order []model.ModuleID
	emitted := make(map[model.ModuleID]bool, len(ids))

	for len(order) < len(ids) {
		var ready []model.ModuleID
		for _, id := range ids {
			if emitted[id] {
				continue
			}
			if len(remaining[id]) == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			var stuck []string
			for _, id := range ids {
				if !emitted[id] {
					stuck = append(stuck, string(id))
				}
			}
			return nil, &errs.CoreError{
				Kind:    errs.KindMissingProvider,
				Message: fmt.Sprintf("strict-import cycle detected among: %s", strings.Join(stuck, ", ")),
			}
		}
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		next := ready[0]
		order = append(order, next)
		emitted[next] = true
		for _, deps := range remaining {
			delete(deps, next)
		}
	}

	return order, nil
}
