package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AntelopeJS/antelopejs-sub000/internal/errs"
	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
	"github.com/AntelopeJS/antelopejs-sub000/pkg/logging"
)

const (
	configFileName    = "antelope.yaml"
	defaultCacheDir   = ".antelope/cache"
	sidecarNamePrefix = "antelope."
	sidecarNameSuffix = ".json"
)

// Load reads and fully resolves the project configuration rooted at
// projectRoot. env selects an `environments.<env>` overlay when
// non-empty. explicitConfigPath overrides the default `antelope.yaml`
// location when non-empty.
func Load(projectRoot, env, explicitConfigPath string) (*ProjectConfig, error) {
	path := explicitConfigPath
	if path == "" {
		path = filepath.Join(projectRoot, configFileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errs.ConfigMissing(fmt.Sprintf("no %s found at %s", configFileName, path))
		}
		return nil, errs.ConfigParseError(fmt.Sprintf("reading %s", path), err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errs.ConfigParseError(fmt.Sprintf("parsing %s", path), err)
	}
	if raw == nil {
		raw = make(map[string]any)
	}

	if env != "" {
		envsRaw, _ := raw["environments"].(map[string]any)
		overlay, ok := envsRaw[env].(map[string]any)
		if !ok {
			return nil, errs.ConfigSemanticError(fmt.Sprintf("environment %q not found", env))
		}
		raw = mergeMaps(raw, overlay)
	}
	delete(raw, "environments")

	raw = interpolateValue(raw, raw).(map[string]any)

	cfg := &ProjectConfig{
		Modules: make(map[model.ModuleID]ModuleEntry),
		raw:     raw,
	}

	if name, ok := raw["name"].(string); ok {
		cfg.Name = name
	} else {
		return nil, errs.ConfigSemanticError("project config requires a \"name\" field")
	}

	cfg.CacheFolder = defaultCacheDir
	if cf, ok := raw["cacheFolder"]; ok && cf != nil {
		s, ok := cf.(string)
		if !ok || s == "" {
			return nil, errs.ConfigSemanticError("cacheFolder must be a non-empty string when present")
		}
		cfg.CacheFolder = s
	}
	if !filepath.IsAbs(cfg.CacheFolder) {
		cfg.CacheFolder = filepath.Join(projectRoot, cfg.CacheFolder)
	}

	if lg, ok := raw["logging"].(map[string]any); ok {
		cfg.Logging = lg
	}

	modulesRaw, _ := raw["modules"].(map[string]any)
	for id, entryRaw := range modulesRaw {
		entry, err := expandModuleEntry(id, entryRaw)
		if err != nil {
			return nil, err
		}
		cfg.Modules[model.ModuleID(id)] = entry
	}

	if err := mergeSidecars(projectRoot, cfg); err != nil {
		return nil, err
	}

	logging.Info("ConfigResolver", "loaded project %q with %d modules from %s", cfg.Name, len(cfg.Modules), path)
	return cfg, nil
}

// expandModuleEntry turns a raw `modules.<id>` value into a ModuleEntry,
// expanding the two shorthand forms: a bare version string (package
// source) and a plain path-looking string (local source).
func expandModuleEntry(id string, raw any) (ModuleEntry, error) {
	switch v := raw.(type) {
	case string:
		return expandShorthand(id, v)
	case map[string]any:
		return expandObjectEntry(id, v)
	default:
		return ModuleEntry{}, errs.ConfigSemanticError(fmt.Sprintf("module %q: entry must be a string or object", id))
	}
}

func expandShorthand(id, value string) (ModuleEntry, error) {
	if value == "" {
		return ModuleEntry{}, errs.ConfigSemanticError(fmt.Sprintf("module %q: empty shorthand entry", id))
	}
	// Heuristic: anything that looks like a filesystem path (starts with
	// '.', '/', or contains a path separator) is treated as a local
	// source; otherwise the whole value is taken as a package version and
	// the module id is used as the package name.
	if strings.HasPrefix(value, ".") || strings.HasPrefix(value, "/") || strings.ContainsRune(value, filepath.Separator) {
		return ModuleEntry{Source: model.ModuleSource{Type: model.SourceLocal, Path: value}}, nil
	}
	return ModuleEntry{Source: model.ModuleSource{Type: model.SourcePackage, Name: id, Version: value}}, nil
}

func expandObjectEntry(id string, obj map[string]any) (ModuleEntry, error) {
	entry := ModuleEntry{}

	sourceRaw, ok := obj["source"]
	if !ok {
		return entry, errs.ConfigSemanticError(fmt.Sprintf("module %q: object entry requires \"source\"", id))
	}
	src, err := parseSource(id, sourceRaw)
	if err != nil {
		return entry, err
	}
	entry.Source = src

	if cfg, ok := obj["config"].(map[string]any); ok {
		entry.Config = cfg
	}

	if overridesRaw, ok := obj["importOverrides"].([]any); ok {
		for _, o := range overridesRaw {
			om, ok := o.(map[string]any)
			if !ok {
				continue
			}
			ifaceStr, _ := om["interface"].(string)
			ref, err := parseInterfaceRef(ifaceStr)
			if err != nil {
				return entry, errs.ConfigSemanticError(fmt.Sprintf("module %q: importOverrides: %v", id, err))
			}
			providerID, _ := om["source"].(string)
			exportID, _ := om["id"].(string)
			entry.ImportOverrides = append(entry.ImportOverrides, model.ImportOverride{
				Interface:        ref,
				ProviderModuleID: model.ModuleID(providerID),
				ProviderExportID: exportID,
			})
		}
	}

	if disabledRaw, ok := obj["disabledExports"].([]any); ok {
		for _, d := range disabledRaw {
			if s, ok := d.(string); ok {
				entry.DisabledExports = append(entry.DisabledExports, s)
			}
		}
	}

	return entry, nil
}

func parseSource(id string, raw any) (model.ModuleSource, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return model.ModuleSource{}, errs.ConfigSemanticError(fmt.Sprintf("module %q: source must be an object", id))
	}
	typeStr, _ := obj["type"].(string)
	src := model.ModuleSource{Type: model.SourceType(typeStr)}

	if watchRaw, ok := obj["watchDir"]; ok {
		switch w := watchRaw.(type) {
		case string:
			src.WatchDir = []string{w}
		case []any:
			for _, e := range w {
				if s, ok := e.(string); ok {
					src.WatchDir = append(src.WatchDir, s)
				}
			}
		}
	}

	switch src.Type {
	case model.SourcePackage:
		src.Name, _ = obj["name"].(string)
		src.Version, _ = obj["version"].(string)
		if src.Name == "" {
			src.Name = id
		}
	case model.SourceGit:
		src.Remote, _ = obj["remote"].(string)
		src.Branch, _ = obj["branch"].(string)
		src.Commit, _ = obj["commit"].(string)
	case model.SourceLocal, model.SourceLocalFolder:
		src.Path, _ = obj["path"].(string)
	default:
		return model.ModuleSource{}, errs.ConfigSemanticError(fmt.Sprintf("module %q: unknown source type %q", id, typeStr))
	}

	return src, nil
}

func parseInterfaceRef(s string) (model.InterfaceRef, error) {
	idx := strings.LastIndexByte(s, '@')
	if idx <= 0 || idx == len(s)-1 {
		return model.InterfaceRef{}, fmt.Errorf("invalid interface reference %q", s)
	}
	return model.InterfaceRef{Name: s[:idx], Version: s[idx+1:]}, nil
}

// mergeSidecars reads `antelope.<moduleId>.json` at the project root for
// each declared module, merging it into that module's Config under
// right-wins-at-leaf.
func mergeSidecars(projectRoot string, cfg *ProjectConfig) error {
	for id, entry := range cfg.Modules {
		path := filepath.Join(projectRoot, sidecarNamePrefix+string(id)+sidecarNameSuffix)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return errs.ConfigParseError(fmt.Sprintf("reading side-car %s", path), err)
		}
		var sidecar map[string]any
		if err := json.Unmarshal(data, &sidecar); err != nil {
			return errs.ConfigParseError(fmt.Sprintf("parsing side-car %s", path), err)
		}
		entry.Config = mergeMaps(cloneMap(orEmpty(entry.Config)), sidecar)
		cfg.Modules[id] = entry
		logging.Debug("ConfigResolver", "merged side-car config for module %q from %s", id, path)
	}
	return nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
