// Package container is a minimal dependency-injection registry over
// samber/do, used to wire the runtime's components together and let
// tests substitute filesystem, source-registry, and watch-engine
// doubles.
package container

import (
	"github.com/samber/do/v2"
)

// Container is a token-keyed registry of component factories.
type Container struct {
	injector do.Injector
}

// New returns an empty root Container.
func New() *Container {
	return &Container{injector: do.New()}
}

func newFromInjector(inj do.Injector) *Container {
	return &Container{injector: inj}
}

// Register installs a per-call factory for T: every Invoke[T] call runs
// the factory again, via do's transient registration.
func Register[T any](c *Container, factory func(*Container) (T, error)) {
	do.ProvideTransient(c.injector, func(inj do.Injector) (T, error) {
		return factory(newFromInjector(inj))
	})
}

// RegisterSingleton installs a memoized factory for T: the first
// Invoke[T] call runs factory and every subsequent call returns the
// same value, using do's native lazy-singleton registration.
func RegisterSingleton[T any](c *Container, factory func(*Container) (T, error)) {
	do.Provide(c.injector, func(inj do.Injector) (T, error) {
		return factory(newFromInjector(inj))
	})
}

// RegisterInstance installs a literal value for T.
func RegisterInstance[T any](c *Container, value T) {
	do.ProvideValue(c.injector, value)
}

// Invoke resolves T from the container, panicking if it cannot be
// constructed — mirroring do.MustInvoke's use in the grounding source
// for components the caller considers mandatory.
func Invoke[T any](c *Container) T {
	return do.MustInvoke[T](c.injector)
}

// TryInvoke resolves T from the container without panicking.
func TryInvoke[T any](c *Container) (T, error) {
	return do.Invoke[T](c.injector)
}

// CreateScope returns a child Container that inherits the parent's
// registrations and may shadow them with its own, via do's native scope
// support.
func (c *Container) CreateScope(name string) *Container {
	return &Container{injector: c.injector.Scope(name)}
}

// Shutdown tears down every constructed singleton in dependency order.
func (c *Container) Shutdown() error {
	return c.injector.Shutdown()
}
