package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntelopeJS/antelopejs-sub000/internal/errs"
	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
)

func ref(name, version string) model.InterfaceRef {
	return model.InterfaceRef{Name: name, Version: version}
}

func manifest(id string, opts ...func(*model.ModuleManifest)) *model.ModuleManifest {
	m := &model.ModuleManifest{
		ID:      model.ModuleID(id),
		Name:    id,
		Version: "1.0.0",
		Folder:  "/m/" + id,
		Exports: make(map[string]model.ExportDescriptor),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func exports(key, rangeStr string) func(*model.ModuleManifest) {
	return func(m *model.ModuleManifest) {
		m.Exports[key] = model.ExportDescriptor{VersionRange: rangeStr, Path: m.Folder + "/exports"}
	}
}

func imports(refs ...model.InterfaceRef) func(*model.ModuleManifest) {
	return func(m *model.ModuleManifest) { m.Imports = append(m.Imports, refs...) }
}

func optionalImports(refs ...model.InterfaceRef) func(*model.ModuleManifest) {
	return func(m *model.ModuleManifest) { m.OptionalImports = append(m.OptionalImports, refs...) }
}

func override(iface model.InterfaceRef, provider string) func(*model.ModuleManifest) {
	return func(m *model.ModuleManifest) {
		m.ImportOverrides = append(m.ImportOverrides, model.ImportOverride{
			Interface:        iface,
			ProviderModuleID: model.ModuleID(provider),
		})
	}
}

func manifestSet(ms ...*model.ModuleManifest) map[model.ModuleID]*model.ModuleManifest {
	out := make(map[model.ModuleID]*model.ModuleManifest, len(ms))
	for _, m := range ms {
		out[m.ID] = m
	}
	return out
}

func TestResolve_UniqueProvider(t *testing.T) {
	plan, err := Resolve(manifestSet(
		manifest("api", imports(ref("db", "1"))),
		manifest("pg", exports("db@1", "1")),
	))
	require.NoError(t, err)

	assert.Equal(t, model.ModuleID("pg"), plan.Providers[ProviderKey{Consumer: "api", Ref: ref("db", "1")}])
	assert.Equal(t, []model.ModuleID{"pg", "api"}, plan.Order)
	assert.Equal(t, []model.ModuleID{"pg"}, plan.StrictProvidersOf("api"))
	assert.Equal(t, []model.ModuleID{"api"}, plan.StrictConsumersOf("pg"))
}

// An importOverride pairs the consumer with the named provider even
// when other candidates exist.
func TestResolve_ImportOverride(t *testing.T) {
	plan, err := Resolve(manifestSet(
		manifest("api", imports(ref("db", "1")), override(ref("db", "1"), "pg")),
		manifest("pg", exports("db@1", "1")),
		manifest("pg2", exports("db@1", "1")),
	))
	require.NoError(t, err)

	assert.Equal(t, model.ModuleID("pg"), plan.Providers[ProviderKey{Consumer: "api", Ref: ref("db", "1")}])
	assert.Equal(t, []model.ModuleID{"pg", "api", "pg2"}, plan.Order)
}

// Two providers without an override is ambiguous.
func TestResolve_AmbiguousProvider(t *testing.T) {
	plan, err := Resolve(manifestSet(
		manifest("api", imports(ref("db", "1"))),
		manifest("pg", exports("db@1", "1")),
		manifest("pg2", exports("db@1", "1")),
	))
	require.Error(t, err)

	diags := plan.Diagnostics.ByKind(errs.KindAmbiguousProvider)
	require.Len(t, diags, 1)
	assert.Equal(t, "db@1", diags[0].Interface)
	assert.Equal(t, []string{"pg", "pg2"}, diags[0].Candidates)
	assert.Equal(t, "api", diags[0].ModuleID)
	assert.Empty(t, plan.Order, "no order is emitted on ambiguity")
}

// A strict import with no provider is fatal.
func TestResolve_MissingProvider(t *testing.T) {
	plan, err := Resolve(manifestSet(
		manifest("api", imports(ref("db", "1"))),
	))
	require.Error(t, err)

	diags := plan.Diagnostics.ByKind(errs.KindMissingProvider)
	require.Len(t, diags, 1)
	assert.Equal(t, "db@1", diags[0].Interface)
	assert.Equal(t, "api", diags[0].ModuleID)
}

// An optional import with no provider is not an error and produces no
// edge.
func TestResolve_OptionalUnresolved(t *testing.T) {
	plan, err := Resolve(manifestSet(
		manifest("api", optionalImports(ref("cache", "1"))),
	))
	require.NoError(t, err)

	_, ok := plan.Providers[ProviderKey{Consumer: "api", Ref: ref("cache", "1")}]
	assert.False(t, ok)
	assert.Empty(t, plan.StrictProvidersOf("api"))
	assert.Equal(t, []model.ModuleID{"api"}, plan.Order)
}

func TestResolve_OptionalResolvedIsNonOrdering(t *testing.T) {
	// api <-(optional)- metrics and metrics <-(strict)- api would be a
	// cycle if optional edges ordered; they must not.
	plan, err := Resolve(manifestSet(
		manifest("api", exports("web@1", "1"), optionalImports(ref("metrics", "1"))),
		manifest("metrics", exports("metrics@1", "1"), imports(ref("web", "1"))),
	))
	require.NoError(t, err)

	assert.Equal(t, model.ModuleID("api"), plan.Providers[ProviderKey{Consumer: "metrics", Ref: ref("web", "1")}])
	assert.Equal(t, model.ModuleID("metrics"), plan.Providers[ProviderKey{Consumer: "api", Ref: ref("metrics", "1")}])
	assert.Equal(t, []model.ModuleID{"api", "metrics"}, plan.Order)
}

func TestResolve_StrictCycleIsError(t *testing.T) {
	plan, err := Resolve(manifestSet(
		manifest("a", exports("ia@1", "1"), imports(ref("ib", "1"))),
		manifest("b", exports("ib@1", "1"), imports(ref("ia", "1"))),
	))
	require.Error(t, err)
	assert.True(t, plan.Diagnostics.HasErrors())
	assert.Contains(t, err.Error(), "cycle")
}

func TestResolve_VersionRangeMatching(t *testing.T) {
	plan, err := Resolve(manifestSet(
		manifest("api", imports(ref("db", "1.2.0"))),
		manifest("pg", exports("db@1", "^1.0.0")),
	))
	require.NoError(t, err)
	assert.Equal(t, model.ModuleID("pg"), plan.Providers[ProviderKey{Consumer: "api", Ref: ref("db", "1.2.0")}])

	_, err = Resolve(manifestSet(
		manifest("api", imports(ref("db", "2.0.0"))),
		manifest("pg", exports("db@1", "^1.0.0")),
	))
	require.Error(t, err, "a range that does not cover the requested version is missing")
}

func TestResolve_DisabledExports(t *testing.T) {
	// Disabling pg2 for the consumer turns a would-be ambiguity into a
	// unique resolution.
	api := manifest("api", imports(ref("db", "1")))
	api.DisabledExports = []string{"pg2"}

	plan, err := Resolve(manifestSet(
		api,
		manifest("pg", exports("db@1", "1")),
		manifest("pg2", exports("db@1", "1")),
	))
	require.NoError(t, err)
	assert.Equal(t, model.ModuleID("pg"), plan.Providers[ProviderKey{Consumer: "api", Ref: ref("db", "1")}])
}

// An override naming a provider that does not export the interface is
// a missing provider, never a silent guess.
func TestResolve_OverrideToNonExporterIsMissing(t *testing.T) {
	plan, err := Resolve(manifestSet(
		manifest("api", imports(ref("db", "1")), override(ref("db", "1"), "redis")),
		manifest("pg", exports("db@1", "1")),
		manifest("redis", exports("cache@1", "1")),
	))
	require.Error(t, err)

	diags := plan.Diagnostics.ByKind(errs.KindMissingProvider)
	require.Len(t, diags, 1)
	assert.Equal(t, "api", diags[0].ModuleID)
}

// Multiple versions from one provider resolve to the exact declared
// version, else missing.
func TestResolve_SameProviderMultipleVersions(t *testing.T) {
	plan, err := Resolve(manifestSet(
		manifest("api", imports(ref("db", "1"))),
		manifest("pg", exports("db@1", "1"), exports("db@2", "1 || 2")),
	))
	require.NoError(t, err)
	assert.Equal(t, model.ModuleID("pg"), plan.Providers[ProviderKey{Consumer: "api", Ref: ref("db", "1")}])

	_, err = Resolve(manifestSet(
		manifest("api", imports(ref("db", "3"))),
		manifest("pg", exports("db@1", "1 || 3"), exports("db@2", "2 || 3")),
	))
	require.Error(t, err, "no exact version match among the provider's exports is missing")
}

func TestResolve_SelfProvisionExcluded(t *testing.T) {
	// A module never satisfies its own import.
	_, err := Resolve(manifestSet(
		manifest("api", exports("db@1", "1"), imports(ref("db", "1"))),
	))
	require.Error(t, err)
}

// Same inputs always give the same order, with ties broken by module
// id.
func TestResolve_DeterministicOrder(t *testing.T) {
	build := func() map[model.ModuleID]*model.ModuleManifest {
		return manifestSet(
			manifest("zeta", imports(ref("db", "1"))),
			manifest("alpha", imports(ref("db", "1"))),
			manifest("pg", exports("db@1", "1")),
			manifest("standalone"),
		)
	}

	first, err := Resolve(build())
	require.NoError(t, err)
	assert.Equal(t, []model.ModuleID{"pg", "alpha", "standalone", "zeta"}, first.Order)

	for i := 0; i < 20; i++ {
		plan, err := Resolve(build())
		require.NoError(t, err)
		assert.Equal(t, first.Order, plan.Order)
	}
}

func TestResolve_DeepChainOrder(t *testing.T) {
	plan, err := Resolve(manifestSet(
		manifest("web", imports(ref("svc", "1"))),
		manifest("svc", exports("svc@1", "1"), imports(ref("db", "1"))),
		manifest("pg", exports("db@1", "1")),
	))
	require.NoError(t, err)
	assert.Equal(t, []model.ModuleID{"pg", "svc", "web"}, plan.Order)
}
