// Package cache owns the on-disk content-addressed module cache: the
// <cacheFolder>/<moduleId>/ directories, the manifest.json sibling that
// records installed versions, and scoped temporary workspaces.
package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
	"github.com/AntelopeJS/antelopejs-sub000/pkg/logging"
)

const manifestFileName = "manifest.json"

// Cache owns a cacheFolder directory tree.
type Cache struct {
	mu       sync.RWMutex
	root     string
	versions model.CacheManifest
}

// New returns a Cache rooted at root. Call Load before use.
func New(root string) *Cache {
	return &Cache{root: root, versions: make(model.CacheManifest)}
}

func (c *Cache) manifestPath() string { return filepath.Join(c.root, manifestFileName) }

// Load reads manifest.json if present, initializing an empty manifest
// otherwise. A manifest file containing a JSON null is tolerated.
func (c *Cache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return fmt.Errorf("creating cache root %s: %w", c.root, err)
	}

	data, err := os.ReadFile(c.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			c.versions = make(model.CacheManifest)
			return nil
		}
		return fmt.Errorf("reading cache manifest: %w", err)
	}

	var versions model.CacheManifest
	if err := json.Unmarshal(data, &versions); err != nil {
		return fmt.Errorf("parsing cache manifest: %w", err)
	}
	if versions == nil {
		versions = make(model.CacheManifest)
	}
	c.versions = versions
	return nil
}

// Save persists the in-memory version map to manifest.json.
func (c *Cache) Save() error {
	c.mu.RLock()
	data, err := json.MarshalIndent(c.versions, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding cache manifest: %w", err)
	}
	tmp := c.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing cache manifest: %w", err)
	}
	return os.Rename(tmp, c.manifestPath())
}

// GetVersion returns the version recorded for id, and whether an entry
// exists at all.
func (c *Cache) GetVersion(id model.ModuleID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.versions[id]
	return v, ok
}

// SetVersion records the version for id in memory only, until Save is
// called.
func (c *Cache) SetVersion(id model.ModuleID, version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[id] = version
}

// HasVersion reports whether the version recorded for id satisfies the
// given semver range.
func (c *Cache) HasVersion(id model.ModuleID, rangeStr string) bool {
	v, ok := c.GetVersion(id)
	if !ok {
		return false
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return false
	}
	constraint, err := semver.NewConstraint(rangeStr)
	if err != nil {
		return v == rangeStr
	}
	return constraint.Check(version)
}

// GetFolder returns <cache>/<id>. When clean is true, the directory is
// deleted and recreated empty first.
func (c *Cache) GetFolder(id model.ModuleID, clean bool) (string, error) {
	dir := filepath.Join(c.root, string(id))
	if clean {
		if err := os.RemoveAll(dir); err != nil {
			return "", fmt.Errorf("cleaning %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return dir, nil
}

// GetTemp creates and returns a fresh process-scoped temporary directory
// under the OS temp root.
func (c *Cache) GetTemp() (string, error) {
	dir := filepath.Join(os.TempDir(), "antelope-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	return dir, nil
}

// Transfer moves the staged directory at srcPath into place as
// <cache>/<id>, recording version against id. It leaves the destination
// in one of two states: fully populated with the new tree (success), or
// untouched with the prior tree intact (failure) — never a partial mix
// of the two.
func (c *Cache) Transfer(srcPath string, id model.ModuleID, version string) error {
	dest := filepath.Join(c.root, string(id))

	staging := dest + ".staging-" + uuid.NewString()
	copied := false
	if err := os.Rename(srcPath, staging); err != nil {
		if err2 := copyTree(srcPath, staging); err2 != nil {
			os.RemoveAll(staging)
			return fmt.Errorf("staging transfer for %s: %w", id, err2)
		}
		copied = true
	}

	backup := dest + ".prev-" + uuid.NewString()
	hadPrior := false
	if _, err := os.Stat(dest); err == nil {
		if err := os.Rename(dest, backup); err != nil {
			os.RemoveAll(staging)
			return fmt.Errorf("backing up prior %s: %w", id, err)
		}
		hadPrior = true
	}

	if err := os.Rename(staging, dest); err != nil {
		// Roll back: restore the prior tree so the destination is never
		// left partially written.
		if hadPrior {
			os.Rename(backup, dest)
		}
		os.RemoveAll(staging)
		return fmt.Errorf("finalizing transfer for %s: %w", id, err)
	}

	if hadPrior {
		os.RemoveAll(backup)
	}
	if copied {
		os.RemoveAll(srcPath)
	}

	c.SetVersion(id, version)
	logging.Info("ModuleCache", "transferred %s@%s into cache", id, version)
	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
