package modules

// Resolved is the sum-type result of a bundle's resolve attempt: either
// a direct hit on a Module, or a redirect asking the caller to restart
// resolution against a different specifier string.
type Resolved struct {
	Module    Module
	Redirect  string
	isRedirect bool
}

// ResolvedModule wraps a hit.
func ResolvedModule(m Module) Resolved { return Resolved{Module: m} }

// ResolvedRedirect wraps a redirect to another specifier.
func ResolvedRedirect(specifier string) Resolved {
	return Resolved{Redirect: specifier, isRedirect: true}
}

// IsRedirect reports whether this result asks for re-resolution.
func (r Resolved) IsRedirect() bool { return r.isRedirect }

// ModuleBundle is a thread-safe catalog contributing modules to a
// registry, with its own resolution policy (spec.md §4.3).
type ModuleBundle interface {
	Type() Type
	// Resolve attempts to resolve context.Specifier within this bundle.
	// A zero Resolved with ok=false means "not found in this bundle" — the
	// caller (ModuleRegistry) moves on to the next bundle in the tier.
	Resolve(ctx ResolveContext) (Resolved, bool)
}

// checkModule applies a Module's EvaluateContext filter, matching the
// free function of the same name in the original implementation this
// spec was distilled from (checkModule in modules-new.c++): a module
// present in a bundle's cache can still decline to serve a particular
// context.
func checkModule(ctx ResolveContext, m Module) (Module, bool) {
	if !m.EvaluateContext(ctx) {
		return nil, false
	}
	return m, true
}
