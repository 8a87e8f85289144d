package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntelopeJS/antelopejs-sub000/internal/errs"
	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
)

// writeProjectConfig drops an antelope.yaml with the given content into
// dir and returns dir.
func writeProjectConfig(t *testing.T, dir, content string) string {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0o644)
	require.NoError(t, err)
	return dir
}

func TestLoad_Missing(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir, "", "")
	require.Error(t, err)

	var ce *errs.CoreError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, errs.KindConfigMissing, ce.Kind)
}

func TestLoad_ParseError(t *testing.T) {
	dir := writeProjectConfig(t, t.TempDir(), "name: [unclosed")

	_, err := Load(dir, "", "")
	require.Error(t, err)

	var ce *errs.CoreError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, errs.KindConfigParseError, ce.Kind)
}

func TestLoad_Defaults(t *testing.T) {
	dir := writeProjectConfig(t, t.TempDir(), "name: app\n")

	cfg, err := Load(dir, "", "")
	require.NoError(t, err)

	assert.Equal(t, "app", cfg.Name)
	assert.Equal(t, filepath.Join(dir, ".antelope/cache"), cfg.CacheFolder)
	assert.Empty(t, cfg.Modules)
}

func TestLoad_ExplicitConfigPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: app\n"), 0o644))

	cfg, err := Load(dir, "", path)
	require.NoError(t, err)
	assert.Equal(t, "app", cfg.Name)
}

func TestLoad_ShorthandExpansion(t *testing.T) {
	dir := writeProjectConfig(t, t.TempDir(), `
name: app
modules:
  api: ./modules/api
  db: 1.2.0
`)

	cfg, err := Load(dir, "", "")
	require.NoError(t, err)

	api := cfg.Modules["api"]
	assert.Equal(t, model.SourceLocal, api.Source.Type)
	assert.Equal(t, "./modules/api", api.Source.Path)

	db := cfg.Modules["db"]
	assert.Equal(t, model.SourcePackage, db.Source.Type)
	assert.Equal(t, "db", db.Source.Name)
	assert.Equal(t, "1.2.0", db.Source.Version)
}

func TestLoad_EmptyShorthandIsSemanticError(t *testing.T) {
	dir := writeProjectConfig(t, t.TempDir(), `
name: app
modules:
  api: ""
`)

	_, err := Load(dir, "", "")
	require.Error(t, err)

	var ce *errs.CoreError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, errs.KindConfigSemanticError, ce.Kind)
}

func TestLoad_ObjectEntry(t *testing.T) {
	dir := writeProjectConfig(t, t.TempDir(), `
name: app
modules:
  api:
    source:
      type: local
      path: /m/api
      watchDir: src
    config:
      port: 8080
    importOverrides:
      - interface: db@1
        source: pg
    disabledExports:
      - pg2
  pg:
    source:
      type: local
      path: /m/pg
`)

	cfg, err := Load(dir, "", "")
	require.NoError(t, err)

	api := cfg.Modules["api"]
	assert.Equal(t, model.SourceLocal, api.Source.Type)
	assert.Equal(t, "/m/api", api.Source.Path)
	assert.Equal(t, []string{"src"}, api.Source.WatchDir)
	assert.Equal(t, 8080, api.Config["port"])
	require.Len(t, api.ImportOverrides, 1)
	assert.Equal(t, model.InterfaceRef{Name: "db", Version: "1"}, api.ImportOverrides[0].Interface)
	assert.Equal(t, model.ModuleID("pg"), api.ImportOverrides[0].ProviderModuleID)
	assert.Equal(t, []string{"pg2"}, api.DisabledExports)
}

func TestLoad_UnknownSourceType(t *testing.T) {
	dir := writeProjectConfig(t, t.TempDir(), `
name: app
modules:
  api:
    source:
      type: carrier-pigeon
`)

	_, err := Load(dir, "", "")
	require.Error(t, err)

	var ce *errs.CoreError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, errs.KindConfigSemanticError, ce.Kind)
}

func TestLoad_EnvironmentOverlay(t *testing.T) {
	dir := writeProjectConfig(t, t.TempDir(), `
name: app
cacheFolder: /base/cache
environments:
  prod:
    cacheFolder: /prod/cache
`)

	cfg, err := Load(dir, "prod", "")
	require.NoError(t, err)
	assert.Equal(t, "/prod/cache", cfg.CacheFolder)

	cfg, err = Load(dir, "", "")
	require.NoError(t, err)
	assert.Equal(t, "/base/cache", cfg.CacheFolder)
}

func TestLoad_UnknownEnvironment(t *testing.T) {
	dir := writeProjectConfig(t, t.TempDir(), "name: app\n")

	_, err := Load(dir, "staging", "")
	require.Error(t, err)

	var ce *errs.CoreError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, errs.KindConfigSemanticError, ce.Kind)
}

func TestLoad_TemplateInterpolation(t *testing.T) {
	dir := writeProjectConfig(t, t.TempDir(), `
name: app
dataDir: /data
modules:
  api:
    source:
      type: local
      path: ${dataDir}/modules/${name}
    config:
      label: ${name}
      unknown: ${nope}
`)

	cfg, err := Load(dir, "", "")
	require.NoError(t, err)

	api := cfg.Modules["api"]
	assert.Equal(t, "/data/modules/app", api.Source.Path)
	assert.Equal(t, "app", api.Config["label"])
	// Unknown references stay verbatim.
	assert.Equal(t, "${nope}", api.Config["unknown"])
}

func TestLoad_SidecarMerge(t *testing.T) {
	dir := t.TempDir()
	writeProjectConfig(t, dir, `
name: app
modules:
  api:
    source:
      type: local
      path: /m/api
    config:
      db:
        host: localhost
        port: 5432
      retries: 3
`)
	sidecar := `{"db": {"port": 6000}, "timeout": 30}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "antelope.api.json"), []byte(sidecar), 0o644))

	cfg, err := Load(dir, "", "")
	require.NoError(t, err)

	api := cfg.Modules["api"]
	db, ok := api.Config["db"].(map[string]any)
	require.True(t, ok, "sidecar merge must not replace the whole sub-tree")
	assert.Equal(t, "localhost", db["host"])
	assert.EqualValues(t, 6000, db["port"])
	assert.Equal(t, 3, api.Config["retries"])
	assert.EqualValues(t, 30, api.Config["timeout"])
}

func TestLoad_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeProjectConfig(t, dir, `
name: app
dataDir: /data
modules:
  api:
    source:
      type: local
      path: ${dataDir}/api
    config:
      nested:
        a: 1
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "antelope.api.json"), []byte(`{"nested": {"b": 2}}`), 0o644))

	first, err := Load(dir, "", "")
	require.NoError(t, err)
	second, err := Load(dir, "", "")
	require.NoError(t, err)

	assert.Equal(t, first.Name, second.Name)
	assert.Equal(t, first.CacheFolder, second.CacheFolder)
	assert.True(t, reflect.DeepEqual(first.Modules, second.Modules))
}

func TestMergeMaps_RightWinsAtLeaf(t *testing.T) {
	dst := map[string]any{
		"a": map[string]any{"x": 1, "y": 2},
		"b": "keep",
	}
	src := map[string]any{
		"a": map[string]any{"y": 20, "z": 30},
		"c": "new",
	}

	out := mergeMaps(dst, src)

	a := out["a"].(map[string]any)
	assert.Equal(t, 1, a["x"])
	assert.Equal(t, 20, a["y"])
	assert.Equal(t, 30, a["z"])
	assert.Equal(t, "keep", out["b"])
	assert.Equal(t, "new", out["c"])
}

func TestInterpolate(t *testing.T) {
	fields := map[string]any{"name": "app", "port": 8080}

	tests := []struct {
		in   string
		want string
	}{
		{"${name}", "app"},
		{"plain", "plain"},
		{"x-${name}-${port}", "x-app-8080"},
		{"${missing}", "${missing}"},
		{"${}", "${}"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, interpolate(tc.in, fields), "input %q", tc.in)
	}
}
