package source

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AntelopeJS/antelopejs-sub000/internal/cache"
	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
	"github.com/AntelopeJS/antelopejs-sub000/pkg/logging"
)

// LocalDownloader references a module's source directory in place; no
// copy into the cache is performed, and the directory is watchable.
type LocalDownloader struct{}

func (d *LocalDownloader) Fetch(projectRoot string, c *cache.Cache, id model.ModuleID, src model.ModuleSource) ([]*model.ModuleManifest, error) {
	folder := resolveProjectPath(projectRoot, src.Path)
	if _, err := os.Stat(folder); err != nil {
		return nil, fmt.Errorf("local module path %s: %w", folder, err)
	}
	m, err := readManifestFile(folder, id, src)
	if err != nil {
		return nil, err
	}
	logging.Debug("SourceRegistry", "resolved local module %s at %s", id, folder)
	return []*model.ModuleManifest{m}, nil
}

// LocalFolderDownloader scans the given path's immediate
// subdirectories, treating each as its own module.
type LocalFolderDownloader struct{}

func (d *LocalFolderDownloader) Fetch(projectRoot string, c *cache.Cache, id model.ModuleID, src model.ModuleSource) ([]*model.ModuleManifest, error) {
	root := resolveProjectPath(projectRoot, src.Path)
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("scanning local-folder %s: %w", root, err)
	}

	var manifests []*model.ModuleManifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(root, e.Name())
		subID := model.ModuleID(fmt.Sprintf("%s/%s", id, e.Name()))
		m, err := readManifestFile(sub, subID, src)
		if err != nil {
			logging.Warn("SourceRegistry", "skipping %s in local-folder %s: %v", sub, root, err)
			continue
		}
		manifests = append(manifests, m)
	}
	logging.Info("SourceRegistry", "resolved %d modules from local-folder %s", len(manifests), root)
	return manifests, nil
}

func resolveProjectPath(projectRoot, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(projectRoot, p)
}
