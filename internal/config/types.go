package config

import "github.com/AntelopeJS/antelopejs-sub000/internal/model"

// ModuleEntry is the resolved form of one `modules.<id>` config entry,
// after shorthand expansion.
type ModuleEntry struct {
	Source          model.ModuleSource
	Config          map[string]any
	ImportOverrides []model.ImportOverride
	DisabledExports []string
}

// ProjectConfig is the fully-resolved project configuration ConfigResolver
// produces: environment overlay applied, shorthands expanded, templates
// interpolated, side-cars merged in.
type ProjectConfig struct {
	Name        string
	CacheFolder string
	Modules     map[model.ModuleID]ModuleEntry
	Logging     map[string]any

	// raw carries the full parsed document (pre-expansion, post-overlay).
	// Interpolation works from the loader's own copy of the document;
	// nothing reads this field.
	raw map[string]any
}
