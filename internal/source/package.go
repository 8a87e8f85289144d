package source

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AntelopeJS/antelopejs-sub000/internal/cache"
	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
	"github.com/AntelopeJS/antelopejs-sub000/pkg/logging"
)

// PackageRegistryURL is the base URL used to resolve a package tarball
// location: <PackageRegistryURL>/<name>/-/<name>-<version>.tgz. It is a
// package-level var so tests can point it at an httptest server.
var PackageRegistryURL = "https://registry.antelopejs.dev"

var httpClient = &http.Client{Timeout: 60 * time.Second}

// PackageDownloader fetches the published tarball for a module at a
// given version, extracts it into the cache, and reads its own manifest
// to discover imports/exports/watch hints.
type PackageDownloader struct{}

func (d *PackageDownloader) Fetch(projectRoot string, c *cache.Cache, id model.ModuleID, src model.ModuleSource) ([]*model.ModuleManifest, error) {
	if c.HasVersion(id, src.Version) {
		folder, err := c.GetFolder(id, false)
		if err != nil {
			return nil, err
		}
		m, err := readManifestFile(folder, id, src)
		if err == nil {
			logging.Debug("SourceRegistry", "reusing cached %s@%s", id, src.Version)
			return []*model.ModuleManifest{m}, nil
		}
		logging.Warn("SourceRegistry", "cached %s failed to load (%v), re-fetching", id, err)
	}

	staging, err := c.GetTemp()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	url := fmt.Sprintf("%s/%s/-/%s-%s.tgz", PackageRegistryURL, src.Name, src.Name, src.Version)
	if err := fetchAndExtract(url, staging); err != nil {
		return nil, fmt.Errorf("fetching package %s@%s: %w", src.Name, src.Version, err)
	}

	if err := c.Transfer(staging, id, src.Version); err != nil {
		return nil, err
	}
	folder, err := c.GetFolder(id, false)
	if err != nil {
		return nil, err
	}

	m, err := readManifestFile(folder, id, src)
	if err != nil {
		return nil, err
	}
	return []*model.ModuleManifest{m}, nil
}

func fetchAndExtract(url, destDir string) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		// Entry names come from an untrusted archive; reject any name
		// whose cleaned path would land outside the staging directory.
		target := filepath.Join(destDir, hdr.Name)
		if target != destDir && !strings.HasPrefix(target, destDir+string(os.PathSeparator)) {
			return fmt.Errorf("tar entry %q escapes extraction directory", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
	return nil
}
