package modules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"modloader/pkg/engine"
	"modloader/pkg/jsurl"
	"modloader/pkg/loaderr"
)

// requireOption controls what a failed resolution means to Require
// (spec.md §4.5.4's RETURN_EMPTY option).
type requireOption int

const (
	requireDefault requireOption = iota
	// requireReturnEmpty turns a NotFound resolution into (nil, nil)
	// instead of an error, the way Node's Module._load treats an
	// optional require.
	requireReturnEmpty
)

// NodeSpecifierRewriter rewrites a resolved specifier before it reaches
// the registry, giving a host the chance to redirect Node.js compat
// specifiers (e.g. "node:process") to its own internal modules. The
// forced Type return confines the redirected resolution to the tier the
// rewrite target lives in — spec.md §4.5.1 step 3 requires the
// node:process redirect to force ResolveContext.Type to BUILTIN_ONLY, the
// same way `_examples/original_source`'s equivalent rewrite constructs a
// brand new ResolveContext with `.type = BUILTIN_ONLY` rather than
// reusing the caller's type. The default is a no-op; hosts that care
// install one explicitly.
type NodeSpecifierRewriter interface {
	Rewrite(specifier jsurl.Url) (rewritten jsurl.Url, forcedType Type, ok bool)
}

type noopNodeRewriter struct{}

func (noopNodeRewriter) Rewrite(u jsurl.Url) (jsurl.Url, Type, bool) { return u, TypeBundle, false }

// NodeProcessRewriter redirects "node:process" to one of two internal
// specifiers depending on Legacy, mirroring the split between a
// spec-compliant process object and the legacy globalThis.process shim
// (spec.md §4.5, "REDESIGN FLAGS"). The redirect target is always
// resolved as TypeBuiltinOnly: it must never be satisfiable by a user's
// own BUNDLE-tier modules.
type NodeProcessRewriter struct {
	Legacy bool
}

func (r NodeProcessRewriter) Rewrite(u jsurl.Url) (jsurl.Url, Type, bool) {
	if u.Href() != "node:process" {
		return u, TypeBundle, false
	}
	target := "node-internal:public_process"
	if r.Legacy {
		target = "node-internal:legacy_process"
	}
	nu, ok := jsurl.TryParse(target)
	if !ok {
		return u, TypeBundle, false
	}
	return nu, TypeBuiltinOnly, true
}

// cacheEntry pairs a resolved Module with the engine handle produced for
// it in this isolate.
type cacheEntry struct {
	module Module
	handle engine.ModuleHandle
}

type typeURLKey struct {
	t   Type
	url string
}

// IsolateModuleRegistry binds a shared Registry to one engine context.
// It owns the 3-way lookup cache — by engine handle, by (Type, Url), and
// by Url alone — that makes repeated static imports of the same
// specifier return the identical Module (spec.md §4.5, invariant 2) and
// installs the isolate-wide static resolve callback Instantiate uses.
type IsolateModuleRegistry struct {
	registry *Registry
	host     engine.Host
	obs      CompilationObserver
	id       string

	mu        sync.Mutex
	byHandle  map[engine.ModuleHandle]*cacheEntry
	byTypeURL map[typeURLKey]*cacheEntry
	byURL     map[string]*cacheEntry

	rewriter NodeSpecifierRewriter
}

func newIsolateModuleRegistry(r *Registry, host engine.Host) *IsolateModuleRegistry {
	id := uuid.NewString()
	obs := r.observer
	if scoped, ok := obs.(isolateScopedObserver); ok {
		obs = scoped.WithIsolateID(id)
	}
	iso := &IsolateModuleRegistry{
		registry:  r,
		host:      host,
		obs:       obs,
		id:        id,
		byHandle:  make(map[engine.ModuleHandle]*cacheEntry),
		byTypeURL: make(map[typeURLKey]*cacheEntry),
		byURL:     make(map[string]*cacheEntry),
		rewriter:  noopNodeRewriter{},
	}
	host.RegisterResolveCallback(iso.instantiateResolveCallback)
	return iso
}

// ID returns the identifier generated for this isolate binding, used as
// a log correlation key when several simulated isolates share a
// process (spec.md §5's "isolate-scoped" telemetry story).
func (iso *IsolateModuleRegistry) ID() string { return iso.id }

// SetNodeSpecifierRewriter installs r in place of the default no-op.
func (iso *IsolateModuleRegistry) SetNodeSpecifierRewriter(r NodeSpecifierRewriter) {
	if r == nil {
		r = noopNodeRewriter{}
	}
	iso.rewriter = r
}

// instantiateResolveCallback is the single static resolve function
// registered once with the engine (spec.md §4.5). Unlike a one-time
// registration, it re-runs the full static-import resolution algorithm
// on every invocation — `_examples/original_source/src/workerd/jsg/modules-new.c++`'s
// own resolveCallback does the same, resolving each import fresh rather
// than assuming it was pre-resolved. referrer is the handle of the
// module whose body is being linked; it is used to recover that
// module's own specifier and type so a relative specifier resolves
// correctly and inherits the referrer's resolution tier.
func (iso *IsolateModuleRegistry) instantiateResolveCallback(referrer engine.ModuleHandle, specifier string) (engine.ModuleHandle, error) {
	iso.mu.Lock()
	refEntry, ok := iso.byHandle[referrer]
	iso.mu.Unlock()
	if !ok {
		return nil, loaderr.InvalidSpecifier("static import %q was linked from a referrer handle this isolate never registered", specifier)
	}

	refURL := refEntry.module.Specifier()
	resolved, ok := refURL.TryResolve(specifier)
	if !ok {
		return nil, loaderr.InvalidSpecifier("cannot resolve %q against %q", specifier, refURL.Href())
	}

	_, handle, err := iso.Resolve(context.Background(), ResolveContext{
		Type:         TypeForModuleType(refEntry.module.Type()),
		Source:       SourceStaticImport,
		Specifier:    resolved.Clone(jsurl.NormalizePath),
		Referrer:     refURL,
		RawSpecifier: specifier,
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

func (iso *IsolateModuleRegistry) cacheLookup(t Type, url jsurl.Url) (*cacheEntry, bool) {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	if e, ok := iso.byTypeURL[typeURLKey{t, url.Key()}]; ok {
		return e, true
	}
	if e, ok := iso.byURL[url.Key()]; ok {
		return e, true
	}
	return nil, false
}

// cacheStore indexes entry under both the specifier the caller asked
// for (which may be an alias) and the module's own canonical specifier,
// so a later request under either name hits the same handle.
func (iso *IsolateModuleRegistry) cacheStore(t Type, requested jsurl.Url, mod Module, handle engine.ModuleHandle) *cacheEntry {
	entry := &cacheEntry{module: mod, handle: handle}
	iso.mu.Lock()
	defer iso.mu.Unlock()
	iso.byTypeURL[typeURLKey{t, requested.Key()}] = entry
	iso.byURL[requested.Key()] = entry
	if canonical := mod.Specifier(); canonical.Key() != requested.Key() {
		iso.byTypeURL[typeURLKey{t, canonical.Key()}] = entry
		iso.byURL[canonical.Key()] = entry
	}
	iso.byHandle[handle] = entry
	return entry
}

// Resolve is the static-import entry point (spec.md §4.5.1): reject
// import attributes, apply the node-compat rewriter, consult the
// per-isolate cache, and otherwise ask the shared Registry and cache
// what it returns.
func (iso *IsolateModuleRegistry) Resolve(ctx context.Context, rctx ResolveContext) (Module, engine.ModuleHandle, error) {
	if len(rctx.Attributes) > 0 {
		return nil, nil, loaderr.Unsupported("Import attributes are not supported")
	}
	if rewritten, forcedType, ok := iso.rewriter.Rewrite(rctx.Specifier); ok {
		rctx = rctx.withSpecifier(rewritten)
		rctx.Type = forcedType
	}
	if entry, ok := iso.cacheLookup(rctx.Type, rctx.Specifier); ok {
		return entry.module, entry.handle, nil
	}
	mod, ok := iso.registry.Resolve(rctx)
	if !ok {
		return nil, nil, loaderr.NotFound("Module not found: %s", rctx.Specifier.Href())
	}
	handle, err := mod.GetDescriptor(ctx, iso.host, iso.obs)
	if err != nil {
		return nil, nil, err
	}
	entry := iso.cacheStore(mod.Type(), rctx.Specifier, mod, handle)
	return entry.module, entry.handle, nil
}

// DynamicResolve is the import() entry point (spec.md §4.5.2). The
// referrer must already be a cached module in this isolate — a dynamic
// import always originates from code the engine has already loaded.
func (iso *IsolateModuleRegistry) DynamicResolve(ctx context.Context, rctx ResolveContext) engine.Promise {
	if _, ok := iso.cacheLookup(TypeForModuleType(rctx.Type), rctx.Referrer); !ok {
		return iso.host.NewRejectedPromise(loaderr.InvalidSpecifier("dynamic import referrer %q is not a resolved module in this isolate", rctx.Referrer.Href()))
	}

	mod, handle, err := iso.Resolve(ctx, rctx)
	if err != nil {
		return iso.host.NewRejectedPromise(err)
	}

	promise, err := mod.Evaluate(ctx, handle, iso.host, iso.obs, iso.registry.EvalCallback())
	if err != nil {
		return iso.host.NewRejectedPromise(err)
	}
	if promise == nil {
		return iso.host.NewRejectedPromise(fmt.Errorf("modules: instantiation of %q failed", mod.Specifier().Href()))
	}
	// The engine settles this promise itself once evaluation completes;
	// wrapping its eventual fulfillment value as the module namespace is
	// the host's job on the other side of the opaque engine boundary.
	return promise
}

// require drives the synchronous CommonJS-style entry point (spec.md
// §4.5.4, §5): resolve, then branch on the module's current status
// exactly as a require() call re-entering a partially-loaded graph
// must.
func (iso *IsolateModuleRegistry) require(ctx context.Context, rctx ResolveContext, opt requireOption) (engine.Namespace, error) {
	mod, handle, err := iso.Resolve(ctx, rctx)
	if err != nil {
		if opt == requireReturnEmpty {
			if le, ok := err.(*loaderr.LoaderError); ok && le.Kind() == loaderr.KindNotFound {
				return nil, nil
			}
		}
		return nil, err
	}

	switch handle.Status() {
	case engine.StatusErrored:
		return nil, loaderr.ModuleErrored(handle.Exception(), "module %q previously failed to evaluate", mod.Specifier().Href())
	case engine.StatusEvaluating:
		if mod.IsESM() {
			return nil, loaderr.Circular("circular require() of %q while it is still evaluating", mod.Specifier().Href())
		}
		// A synthetic (CommonJS-shaped) module mid-evaluation hands back
		// its in-progress namespace, the same partial-exports behavior
		// Node's own circular require() gives.
		return handle.Namespace()
	case engine.StatusEvaluated:
		// Already settled: hand back the same namespace instead of
		// running the module body a second time.
		return handle.Namespace()
	}

	promise, err := mod.Evaluate(ctx, handle, iso.host, iso.obs, iso.registry.EvalCallback())
	if err != nil {
		return nil, err
	}
	if promise == nil {
		return nil, fmt.Errorf("modules: instantiation of %q failed", mod.Specifier().Href())
	}

	// A synchronously-settled top-level await needs exactly one
	// microtask drain to observe its own resolution (spec.md §5).
	iso.host.RunMicrotasksOnce(ctx)

	switch promise.State() {
	case engine.PromiseFulfilled:
		return handle.Namespace()
	case engine.PromiseRejected:
		return nil, loaderr.Rejected(promise.Result(), "module %q rejected during evaluation", mod.Specifier().Href())
	default:
		return nil, loaderr.SyncTLA(
			"Use of top-level await in a synchronously required module is restricted to "+
				"promises that are resolved synchronously. This includes any top-level awaits "+
				"in the entrypoint module for a worker. Specifier: %q.",
			mod.Specifier().Href())
	}
}

// Require is the exported synchronous entry point.
func (iso *IsolateModuleRegistry) Require(ctx context.Context, rctx ResolveContext) (engine.Namespace, error) {
	return iso.require(ctx, rctx, requireDefault)
}

// ImportMeta is the data behind a module's import.meta object (spec.md
// §4.1, §6): whether it was the graph's entry point, its own URL, and a
// resolve() helper bound to it as referrer.
type ImportMeta struct {
	Main    bool
	URL     string
	Resolve func(specifier string) (string, error)
}

// BuildImportMeta constructs the import.meta payload for mod. A host
// calls this from its own import.meta initialization callback, since
// installing the result onto the live engine object is outside this
// package's opaque-engine boundary.
func (iso *IsolateModuleRegistry) BuildImportMeta(mod Module) ImportMeta {
	referrer := mod.Specifier()
	return ImportMeta{
		Main: mod.IsMain(),
		URL:  referrer.Href(),
		Resolve: func(specifier string) (string, error) {
			u, ok := referrer.TryResolve(specifier)
			if !ok {
				return "", loaderr.InvalidSpecifier("cannot resolve %q against %q", specifier, referrer.Href())
			}
			return u.Clone(jsurl.NormalizePath).Href(), nil
		},
	}
}
