package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
)

func newLoadedCache(t *testing.T) *Cache {
	t.Helper()
	c := New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, c.Load())
	return c
}

func TestLoad_EmptyAndNullManifest(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")

	c := New(root)
	require.NoError(t, c.Load())
	_, ok := c.GetVersion("mod")
	assert.False(t, ok)

	// A manifest.json containing a JSON null is tolerated.
	require.NoError(t, os.WriteFile(filepath.Join(root, "manifest.json"), []byte("null"), 0o644))
	c2 := New(root)
	require.NoError(t, c2.Load())
	_, ok = c2.GetVersion("mod")
	assert.False(t, ok)
}

func TestSaveAndReload(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	c := New(root)
	require.NoError(t, c.Load())

	c.SetVersion("api", "1.2.0")
	c.SetVersion("pg", "0.9.1")
	require.NoError(t, c.Save())

	c2 := New(root)
	require.NoError(t, c2.Load())
	v, ok := c2.GetVersion("api")
	require.True(t, ok)
	assert.Equal(t, "1.2.0", v)
	v, ok = c2.GetVersion("pg")
	require.True(t, ok)
	assert.Equal(t, "0.9.1", v)
}

func TestSetVersion_InMemoryUntilSave(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	c := New(root)
	require.NoError(t, c.Load())

	c.SetVersion("api", "1.0.0")

	c2 := New(root)
	require.NoError(t, c2.Load())
	_, ok := c2.GetVersion("api")
	assert.False(t, ok, "SetVersion must not touch disk before Save")
}

func TestHasVersion(t *testing.T) {
	c := newLoadedCache(t)
	c.SetVersion("api", "1.2.3")

	assert.True(t, c.HasVersion("api", "^1.0.0"))
	assert.True(t, c.HasVersion("api", "1.2.3"))
	assert.False(t, c.HasVersion("api", "^2.0.0"))
	assert.False(t, c.HasVersion("unknown", "^1.0.0"))
}

func TestGetFolder(t *testing.T) {
	c := newLoadedCache(t)

	dir, err := c.GetFolder("api", false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("x"), 0o644))

	// clean=false preserves contents.
	dir2, err := c.GetFolder("api", false)
	require.NoError(t, err)
	assert.Equal(t, dir, dir2)
	_, err = os.Stat(filepath.Join(dir2, "keep.txt"))
	assert.NoError(t, err)

	// clean=true recreates the directory empty.
	dir3, err := c.GetFolder("api", true)
	require.NoError(t, err)
	assert.Equal(t, dir, dir3)
	_, err = os.Stat(filepath.Join(dir3, "keep.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestGetTemp(t *testing.T) {
	c := newLoadedCache(t)

	a, err := c.GetTemp()
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(a) })
	b, err := c.GetTemp()
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(b) })

	assert.NotEqual(t, a, b)
	info, err := os.Stat(a)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestTransfer_ReplacesPriorTree(t *testing.T) {
	c := newLoadedCache(t)

	dest, err := c.GetFolder("mod", false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dest, "old.txt"), []byte("old"), 0o644))

	staging := filepath.Join(t.TempDir(), "new")
	require.NoError(t, os.MkdirAll(staging, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "new.txt"), []byte("new"), 0o644))

	require.NoError(t, c.Transfer(staging, "mod", "1.2.0"))
	require.NoError(t, c.Save())

	_, err = os.Stat(filepath.Join(dest, "new.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dest, "old.txt"))
	assert.True(t, os.IsNotExist(err), "prior contents must be unreachable after transfer")

	assert.True(t, c.HasVersion("mod", "1.2.0"))

	data, err := os.ReadFile(filepath.Join(filepath.Dir(dest), "manifest.json"))
	require.NoError(t, err)
	var manifest map[string]string
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, "1.2.0", manifest["mod"])
}

func TestTransfer_FirstInstall(t *testing.T) {
	c := newLoadedCache(t)

	staging := filepath.Join(t.TempDir(), "new")
	require.NoError(t, os.MkdirAll(filepath.Join(staging, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "sub", "f.txt"), []byte("f"), 0o644))

	require.NoError(t, c.Transfer(staging, "mod", "0.1.0"))

	dir, err := c.GetFolder("mod", false)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "sub", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "f", string(data))
}

func TestTransfer_FailureLeavesPriorTree(t *testing.T) {
	c := newLoadedCache(t)

	dest, err := c.GetFolder("mod", false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dest, "old.txt"), []byte("old"), 0o644))
	c.SetVersion("mod", "1.0.0")

	// A staging path that does not exist fails before the destination is
	// touched.
	err = c.Transfer(filepath.Join(t.TempDir(), "does-not-exist"), "mod", "2.0.0")
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dest, "old.txt"))
	assert.NoError(t, statErr, "failed transfer must leave the prior tree intact")
	v, ok := c.GetVersion("mod")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", v, "failed transfer must not record the new version")
}

func TestModuleID_Type(t *testing.T) {
	c := newLoadedCache(t)
	c.SetVersion(model.ModuleID("scoped/mod"), "1.0.0")
	v, ok := c.GetVersion("scoped/mod")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", v)
}
