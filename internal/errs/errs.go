// Package errs defines the typed error taxonomy raised across the runtime
// core. Every error carries the ModuleId it pertains to, following the
// structured-error-with-category shape the project's config loader uses
// for its own configuration diagnostics.
package errs

import "fmt"

// Kind classifies a core error per the propagation table of the error
// handling design.
type Kind string

const (
	KindConfigMissing       Kind = "ConfigMissing"
	KindConfigParseError    Kind = "ConfigParseError"
	KindConfigSemanticError Kind = "ConfigSemanticError"
	KindSourceFetchError    Kind = "SourceFetchError"
	KindMissingProvider     Kind = "MissingProvider"
	KindAmbiguousProvider   Kind = "AmbiguousProvider"
	KindLifecycleFailure    Kind = "LifecycleFailure"
	KindUnimportedInterface Kind = "UnimportedInterface"
	KindWatchError          Kind = "WatchError"
	KindReloadFailure       Kind = "ReloadFailure"
)

// CoreError is the common shape for every error the core raises. ModuleId
// is empty for errors that are not module-specific (e.g. a project-wide
// ConfigMissing).
type CoreError struct {
	Kind     Kind
	ModuleID string
	Message  string
	Cause    error

	// Detail fields used by specific kinds; left zero for others.
	Interface  string
	Candidates []string
}

func (e *CoreError) Error() string {
	if e.ModuleID != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.ModuleID, e.Message, e.Cause)
		}
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.ModuleID, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

func ConfigMissing(message string) *CoreError {
	return &CoreError{Kind: KindConfigMissing, Message: message}
}

func ConfigParseError(message string, cause error) *CoreError {
	return &CoreError{Kind: KindConfigParseError, Message: message, Cause: cause}
}

func ConfigSemanticError(message string) *CoreError {
	return &CoreError{Kind: KindConfigSemanticError, Message: message}
}

func SourceFetchError(moduleID, message string, cause error) *CoreError {
	return &CoreError{Kind: KindSourceFetchError, ModuleID: moduleID, Message: message, Cause: cause}
}

func MissingProvider(moduleID, iface string) *CoreError {
	return &CoreError{
		Kind:      KindMissingProvider,
		ModuleID:  moduleID,
		Interface: iface,
		Message:   fmt.Sprintf("no provider for %s", iface),
	}
}

func AmbiguousProvider(moduleID, iface string, candidates []string) *CoreError {
	return &CoreError{
		Kind:       KindAmbiguousProvider,
		ModuleID:   moduleID,
		Interface:  iface,
		Candidates: candidates,
		Message:    fmt.Sprintf("%s satisfied by multiple providers: %v", iface, candidates),
	}
}

func LifecycleFailure(moduleID, message string, cause error) *CoreError {
	return &CoreError{Kind: KindLifecycleFailure, ModuleID: moduleID, Message: message, Cause: cause}
}

func UnimportedInterface(moduleID, iface string) *CoreError {
	return &CoreError{
		Kind:      KindUnimportedInterface,
		ModuleID:  moduleID,
		Interface: iface,
		Message:   fmt.Sprintf("%s not imported and no stub configured", iface),
	}
}

func WatchErr(moduleID, message string, cause error) *CoreError {
	return &CoreError{Kind: KindWatchError, ModuleID: moduleID, Message: message, Cause: cause}
}

func ReloadFailure(moduleID, message string, cause error) *CoreError {
	return &CoreError{Kind: KindReloadFailure, ModuleID: moduleID, Message: message, Cause: cause}
}

// Collection aggregates multiple CoreErrors, mirroring the project's
// configuration error collection: a typed multi-error with per-kind and
// per-module querying.
type Collection struct {
	Errors []*CoreError
}

func NewCollection() *Collection { return &Collection{} }

func (c *Collection) Add(e *CoreError) {
	if e == nil {
		return
	}
	c.Errors = append(c.Errors, e)
}

func (c *Collection) HasErrors() bool { return len(c.Errors) > 0 }

func (c *Collection) Count() int { return len(c.Errors) }

func (c *Collection) ByKind(k Kind) []*CoreError {
	var out []*CoreError
	for _, e := range c.Errors {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Unwrap exposes the collected errors to errors.Is/errors.As traversal.
func (c *Collection) Unwrap() []error {
	out := make([]error, len(c.Errors))
	for i, e := range c.Errors {
		out[i] = e
	}
	return out
}

func (c *Collection) Error() string {
	if len(c.Errors) == 0 {
		return ""
	}
	if len(c.Errors) == 1 {
		return c.Errors[0].Error()
	}
	msg := fmt.Sprintf("%d errors:", len(c.Errors))
	for _, e := range c.Errors {
		msg += "\n  - " + e.Error()
	}
	return msg
}
