// Package source implements the pluggable module fetchers: package,
// git, local, and local-folder. Each downloader turns a ModuleSource
// into zero or more ModuleManifests; package and git sources land in the
// module cache, local sources are used in place.
package source

import (
	"fmt"

	"github.com/AntelopeJS/antelopejs-sub000/internal/cache"
	"github.com/AntelopeJS/antelopejs-sub000/internal/errs"
	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
)

// Downloader turns one ModuleSource into zero-or-more manifests. A
// single source may fan out to multiple loadable manifests (e.g. a
// local-folder source scanning several sub-directories).
type Downloader interface {
	Fetch(projectRoot string, c *cache.Cache, id model.ModuleID, src model.ModuleSource) ([]*model.ModuleManifest, error)
}

// Registry maps a ModuleSource.Type to its Downloader.
type Registry struct {
	downloaders map[model.SourceType]Downloader
}

// NewRegistry returns a Registry pre-populated with the four built-in
// downloaders.
func NewRegistry() *Registry {
	r := &Registry{downloaders: make(map[model.SourceType]Downloader)}
	r.Register(model.SourcePackage, &PackageDownloader{})
	r.Register(model.SourceGit, &GitDownloader{})
	r.Register(model.SourceLocal, &LocalDownloader{})
	r.Register(model.SourceLocalFolder, &LocalFolderDownloader{})
	return r
}

// Register installs (or replaces) the downloader for a source type.
func (r *Registry) Register(t model.SourceType, d Downloader) {
	r.downloaders[t] = d
}

// Fetch dispatches to the downloader registered for src.Type.
func (r *Registry) Fetch(projectRoot string, c *cache.Cache, id model.ModuleID, src model.ModuleSource) ([]*model.ModuleManifest, error) {
	d, ok := r.downloaders[src.Type]
	if !ok {
		return nil, errs.SourceFetchError(string(id), fmt.Sprintf("no downloader registered for source type %q", src.Type), nil)
	}
	manifests, err := d.Fetch(projectRoot, c, id, src)
	if err != nil {
		return nil, errs.SourceFetchError(string(id), "fetch failed", err)
	}
	return manifests, nil
}
