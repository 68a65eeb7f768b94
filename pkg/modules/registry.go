package modules

import (
	"context"
	"fmt"

	"modloader/pkg/engine"
	"modloader/pkg/jsurl"
	"modloader/pkg/loaderr"
)

// Registry composes bundles grouped by Type with optional parent
// chaining and implements the multi-tier resolution policy from
// spec.md §4.4. A Registry, its bundles, and the Modules they produce
// are thread-safe and shared across isolates; only IsolateModuleRegistry
// is single-threaded.
type Registry struct {
	bundles      [4][]ModuleBundle // indexed by Type
	parent       *Registry
	bundleBase   jsurl.Url
	observer     CompilationObserver
	evalCallback EvalCallback
}

// Options configure a RegistryBuilder.
type Options int

const (
	OptionsNone Options = 0
	// AllowFallback permits Fallback bundles to be added to this
	// registry. Without it, adding one is a build-time error (spec.md
	// §4.6).
	AllowFallback Options = 1 << iota
)

// RegistryBuilder validates at build time and produces an immutable
// Registry (spec.md §4.6).
type RegistryBuilder struct {
	bundleBase   jsurl.Url
	observer     CompilationObserver
	options      Options
	parent       *Registry
	evalCallback EvalCallback
	bundles      [4][]ModuleBundle
	err          error
}

// NewRegistryBuilder starts a builder. bundleBase anchors resolution
// referrers that have no better URL, e.g. the top-level entrypoint.
func NewRegistryBuilder(bundleBase jsurl.Url, observer CompilationObserver, options Options) *RegistryBuilder {
	if observer == nil {
		observer = NoopObserver()
	}
	return &RegistryBuilder{bundleBase: bundleBase, observer: observer, options: options}
}

func (rb *RegistryBuilder) allowsFallback() bool { return rb.options&AllowFallback != 0 }

// SetParent chains this registry to a parent consulted whenever a tier
// misses locally (spec.md §4.4).
func (rb *RegistryBuilder) SetParent(parent *Registry) *RegistryBuilder {
	rb.parent = parent
	return rb
}

// SetEvalCallback installs the host callback used to intercept
// evaluation of ESM (always) and EVAL-flagged synthetic modules.
func (rb *RegistryBuilder) SetEvalCallback(cb EvalCallback) *RegistryBuilder {
	rb.evalCallback = cb
	return rb
}

// Add registers a bundle. Fallback bundles are rejected unless the
// builder was constructed with AllowFallback.
func (rb *RegistryBuilder) Add(bundle ModuleBundle) *RegistryBuilder {
	if rb.err != nil {
		return rb
	}
	if bundle.Type() == TypeFallback && !rb.allowsFallback() {
		rb.err = fmt.Errorf("modules: fallback bundles are not allowed for this registry")
		return rb
	}
	rb.bundles[bundle.Type()] = append(rb.bundles[bundle.Type()], bundle)
	return rb
}

// Finish produces the immutable Registry.
func (rb *RegistryBuilder) Finish() (*Registry, error) {
	if rb.err != nil {
		return nil, rb.err
	}
	return &Registry{
		bundles:      rb.bundles,
		parent:       rb.parent,
		bundleBase:   rb.bundleBase,
		observer:     rb.observer,
		evalCallback: rb.evalCallback,
	}, nil
}

// BundleBase returns the registry's base URL, used as a referrer when
// none better is available.
func (r *Registry) BundleBase() jsurl.Url { return r.bundleBase }

// EvalCallback returns the registry's configured evaluation delegate, if
// any.
func (r *Registry) EvalCallback() EvalCallback { return r.evalCallback }

// tiersFor returns, in order, the bundle tiers searched for a given
// ResolveContext.Type (spec.md §4.4's table).
func tiersFor(t Type) []Type {
	switch t {
	case TypeBundle:
		return []Type{TypeBundle, TypeBuiltin, TypeFallback}
	case TypeBuiltin:
		return []Type{TypeBuiltin, TypeBuiltinOnly}
	case TypeBuiltinOnly:
		return []Type{TypeBuiltinOnly}
	default:
		return nil
	}
}

// Resolve searches the tiers appropriate to ctx.Type, in order, trying
// every bundle in a tier before moving to the next tier, then falling
// back to the parent registry (spec.md §4.4). A bundle redirect restarts
// resolution from the top with the new specifier.
func (r *Registry) Resolve(ctx ResolveContext) (Module, bool) {
	metrics := r.observer.OnResolveModule(ctx.Specifier, ctx.Type, ctx.Source)
	mod, ok := r.resolve(ctx)
	if ok {
		metrics.Found()
	} else {
		metrics.NotFound()
	}
	return mod, ok
}

func (r *Registry) resolve(ctx ResolveContext) (Module, bool) {
	for _, tier := range tiersFor(ctx.Type) {
		for _, bundle := range r.bundles[tier] {
			resolved, ok := bundle.Resolve(ctx)
			if !ok {
				continue
			}
			if resolved.IsRedirect() {
				u, parsed := jsurl.TryParse(resolved.Redirect)
				if !parsed {
					return nil, false
				}
				return r.resolve(ctx.withSpecifier(u))
			}
			return resolved.Module, true
		}
	}
	if r.parent != nil {
		return r.parent.resolve(ctx)
	}
	return nil, false
}

// AttachToIsolate installs an IsolateModuleRegistry bound to host,
// registering the engine callbacks described in spec.md §4.5. The
// returned handle owns the per-isolate lookup cache and must be kept
// alive for the isolate context's lifetime.
func (r *Registry) AttachToIsolate(host engine.Host) *IsolateModuleRegistry {
	return newIsolateModuleRegistry(r, host)
}

// TryResolveModuleNamespace resolves specifier (against referrer, or the
// bundle base if referrer is the zero value), instantiates and evaluates
// it, and returns its namespace object. Returns ok=false with no error
// if resolution failed to find anything; other errors propagate
// (spec.md §6).
func (r *Registry) TryResolveModuleNamespace(ctx context.Context, iso *IsolateModuleRegistry, specifier string, t Type, source Source, referrer jsurl.Url) (engine.Value, bool, error) {
	base := referrer
	if !base.Valid() {
		base = r.bundleBase
	}
	url, ok := base.TryResolve(specifier)
	if !ok {
		return nil, false, loaderr.InvalidSpecifier("cannot resolve %q", specifier)
	}
	normalized := url.Clone(jsurl.NormalizePath)
	rctx := ResolveContext{
		Type:         t,
		Source:       source,
		Specifier:    normalized,
		Referrer:     base,
		RawSpecifier: specifier,
	}
	ns, err := iso.require(ctx, rctx, requireReturnEmpty)
	if err != nil {
		return nil, false, err
	}
	if ns == nil {
		return nil, false, nil
	}
	return ns.AsObject(), true, nil
}

// namespaceLookup is the narrow surface ResolveExport needs from a
// namespace object to read a single named export back out.
type namespaceLookup interface {
	Get(name string) (engine.Value, bool)
}

// ResolveExport is the convenience described in spec.md §6: resolve
// specifier, require it, and return one named export.
func (r *Registry) ResolveExport(ctx context.Context, iso *IsolateModuleRegistry, specifier, exportName string, t Type, source Source, referrer jsurl.Url) (engine.Value, error) {
	obj, ok, err := r.TryResolveModuleNamespace(ctx, iso, specifier, t, source, referrer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, loaderr.NotFound("module not found: %s", specifier)
	}
	getter, ok := obj.(namespaceLookup)
	if !ok {
		return nil, fmt.Errorf("modules: namespace object does not support named export lookup")
	}
	v, ok := getter.Get(exportName)
	if !ok {
		return nil, loaderr.NotFound("export %q not found on module %s", exportName, specifier)
	}
	return v, nil
}
