package source

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
)

const manifestFileName = "antelope-module.yaml"

// manifestFile is the on-disk shape of a fetched module's own manifest:
// what it exports, what it imports, and how its paths map. SourceRegistry
// reads this after placing (or locating) the module's files to populate
// the ModuleManifest the DependencyPlanner consumes.
type manifestFile struct {
	Name            string                     `yaml:"name"`
	Version         string                     `yaml:"version"`
	MainEntry       string                     `yaml:"mainEntry"`
	ExportsPath     string                     `yaml:"exportsPath"`
	Exports         map[string]exportEntryFile `yaml:"exports"`
	Imports         []string                   `yaml:"imports"`
	OptionalImports []string                   `yaml:"optionalImports"`
	SrcAliases      []aliasEntryFile           `yaml:"srcAliases"`
	WatchDir        []string                   `yaml:"watchDir"`
}

type exportEntryFile struct {
	VersionRange string `yaml:"versionRange"`
	Path         string `yaml:"path"`
}

type aliasEntryFile struct {
	Alias   string `yaml:"alias"`
	Replace string `yaml:"replace"`
}

// ReadManifest loads a previously-fetched module's manifest from folder
// without re-fetching. Used when relaunching from a saved build artifact,
// where the module trees are already in place.
func ReadManifest(folder string, id model.ModuleID, src model.ModuleSource) (*model.ModuleManifest, error) {
	return readManifestFile(folder, id, src)
}

// readManifestFile loads antelope-module.yaml from folder and turns it
// into a ModuleManifest rooted at folder, with id and source set. The
// project's configured overrides/disables are not set here; callers
// attach them afterwards.
func readManifestFile(folder string, id model.ModuleID, src model.ModuleSource) (*model.ModuleManifest, error) {
	path := filepath.Join(folder, manifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	m := &model.ModuleManifest{
		ID:          id,
		Name:        mf.Name,
		Version:     mf.Version,
		Folder:      folder,
		MainEntry:   resolveRel(folder, mf.MainEntry),
		ExportsPath: resolveRel(folder, mf.ExportsPath),
		Exports:     make(map[string]model.ExportDescriptor, len(mf.Exports)),
		Source:      src,
	}
	if m.Name == "" {
		m.Name = string(id)
	}
	if m.ExportsPath == "" {
		m.ExportsPath = folder
	}

	for key, e := range mf.Exports {
		m.Exports[key] = model.ExportDescriptor{
			VersionRange: e.VersionRange,
			Path:         resolveRel(m.ExportsPath, e.Path),
		}
	}
	for _, s := range mf.Imports {
		ref, err := parseRef(s)
		if err != nil {
			return nil, fmt.Errorf("%s: imports: %w", path, err)
		}
		m.Imports = append(m.Imports, ref)
	}
	for _, s := range mf.OptionalImports {
		ref, err := parseRef(s)
		if err != nil {
			return nil, fmt.Errorf("%s: optionalImports: %w", path, err)
		}
		m.OptionalImports = append(m.OptionalImports, ref)
	}
	for _, a := range mf.SrcAliases {
		m.SrcAliases = append(m.SrcAliases, model.SrcAlias{Alias: a.Alias, Replace: resolveRel(folder, a.Replace)})
	}

	switch {
	case len(mf.WatchDir) > 0:
		m.WatchDir = resolveRelAll(folder, mf.WatchDir)
	case len(src.WatchDir) > 0:
		m.WatchDir = resolveRelAll(folder, src.WatchDir)
	case src.DefaultWatchable():
		m.WatchDir = []string{folder}
	}

	m.ReloadFunc = func() error {
		reloaded, err := readManifestFile(folder, id, src)
		if err != nil {
			return err
		}
		// The project-level overrides and this reload hook belong to the
		// live manifest, not the freshly-parsed copy.
		reloaded.ImportOverrides = m.ImportOverrides
		reloaded.DisabledExports = m.DisabledExports
		rf := m.ReloadFunc
		*m = *reloaded
		m.ReloadFunc = rf
		return nil
	}

	return m, nil
}

func resolveRelAll(base string, ps []string) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = resolveRel(base, p)
	}
	return out
}

func resolveRel(base, p string) string {
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func parseRef(s string) (model.InterfaceRef, error) {
	idx := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '@' {
			idx = i
			break
		}
	}
	if idx <= 0 || idx == len(s)-1 {
		return model.InterfaceRef{}, fmt.Errorf("invalid interface reference %q", s)
	}
	return model.InterfaceRef{Name: s[:idx], Version: s[idx+1:]}, nil
}
