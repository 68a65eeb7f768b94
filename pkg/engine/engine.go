// Package engine defines the narrow surface the module registry needs
// from an embedded JavaScript engine. spec.md treats the engine as an
// opaque external collaborator ("a module object with a status
// lifecycle and callback registration surface"); this package gives
// that boundary a concrete Go shape so the registry has something real
// to compile against, without pulling in any particular engine's
// bytecode, parser, or type checker.
//
// The lifecycle mirrors the module op-codes already present in the
// teacher's own VM (OpEvalModule, OpGetModuleExport, OpCreateNamespace,
// OpLoadImportMeta, OpDynamicImport) and the compiled/instantiated split
// used by wazero-backed runtimes: compile once, instantiate against a
// resolver, evaluate to a promise.
package engine

import "context"

// Status is the lifecycle state of a module handle inside the engine,
// mirroring v8::Module::Status / the teacher's ModuleState progression.
type Status int

const (
	StatusUninstantiated Status = iota
	StatusInstantiating
	StatusInstantiated
	StatusEvaluating
	StatusEvaluated
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusUninstantiated:
		return "uninstantiated"
	case StatusInstantiating:
		return "instantiating"
	case StatusInstantiated:
		return "instantiated"
	case StatusEvaluating:
		return "evaluating"
	case StatusEvaluated:
		return "evaluated"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Value is an opaque engine-owned value (an exception, an export, a
// namespace property). The registry never inspects it beyond passing it
// back to the engine or the host.
type Value interface {
	// IsUndefined reports whether this value is the engine's undefined.
	IsUndefined() bool
}

// Namespace is the live module namespace object exposed to a
// SyntheticModule's EvaluateCallback and returned by require()/dynamic
// import. Set enforces that only "default" or a name declared at
// descriptor-creation time may be written (invariant on ModuleNamespace
// in spec.md §3).
type Namespace interface {
	// Set installs an export. name must be "default" or one of the
	// names declared when the module descriptor was created.
	Set(name string, value Value) error
	// AsObject returns the namespace as an opaque object Value, e.g. to
	// hand back from require()/import().
	AsObject() Value
}

// PromiseState is the settlement state of an engine promise, checked
// exactly once after a single microtask drain in synchronous require
// (spec.md §4.5.4, §5).
type PromiseState int

const (
	PromisePending PromiseState = iota
	PromiseFulfilled
	PromiseRejected
)

// Promise is the engine's promise object, as returned by Evaluate.
type Promise interface {
	State() PromiseState
	// Result returns the fulfillment value or rejection reason. Only
	// meaningful once State() is no longer PromisePending.
	Result() Value
}

// ResolveCallback is registered once per isolate through
// Host.RegisterResolveCallback; the engine invokes it from Instantiate
// once per static import statement found while linking the
// module graph, passing the handle of the module doing the importing
// (so the callback can resolve a relative specifier against its own URL
// and inherit its resolution tier) and the raw specifier text as written
// in the import statement. It runs the full static-import resolution
// algorithm (spec.md §4.5.1) synchronously and returns the resolved
// handle for that specifier, the way `_examples/original_source`'s
// `resolveCallback` re-runs `ModuleRegistry::resolve` on every
// invocation rather than assuming the specifier was resolved ahead of
// time.
type ResolveCallback func(referrer ModuleHandle, specifier string) (ModuleHandle, error)

// EvaluationSteps is the function the engine calls when it actually runs
// a synthetic module's body. Each SyntheticModule builds its own steps
// closure over its module, host, and observer (spec.md §4.1) rather than
// sharing one isolate-wide trampoline — GetDescriptor is only called
// once per module per isolate, so a per-module closure costs nothing
// extra and needs no side-table lookup to recover which module is being
// evaluated.
type EvaluationSteps func(ctx context.Context, handle ModuleHandle) (Promise, error)

// ModuleHandle is the stable identity the engine hands back for a
// compiled/synthetic module descriptor. It is single-threaded: it may
// only be touched while holding the owning isolate's Lock.
type ModuleHandle interface {
	// Status returns the current lifecycle state.
	Status() Status
	// Exception returns the exception stored after a failed evaluation.
	// Only meaningful when Status() == StatusErrored.
	Exception() Value
	// Instantiate links the module graph, invoking the isolate's
	// registered ResolveCallback (see Host.RegisterResolveCallback) for
	// every static import it discovers. Returns false if the engine
	// scheduled an exception (do not treat a false return as a Go
	// error).
	Instantiate(ctx context.Context) (bool, error)
	// Evaluate runs the module body (for a synthetic module, by calling
	// its EvaluationSteps), returning a promise that resolves once evaluation completes,
	// including any top-level await.
	Evaluate(ctx context.Context) (Promise, error)
	// Namespace returns the live module namespace object. Valid to call
	// once Status() is at least StatusInstantiated.
	Namespace() (Namespace, error)
}

// Host is the isolate-bound engine surface used to create module
// descriptors and drive the small amount of engine-global behavior the
// registry depends on (microtask draining, promise construction,
// exception scheduling).
type Host interface {
	// CompileESM compiles source text into a module handle, optionally
	// consuming previously generated bytecode. If cached is non-nil but
	// incompatible with this isolate, the Host must ignore it rather
	// than error, and report the rejection through the returned
	// CacheOutcome so the caller can notify a CompilationObserver.
	CompileESM(ctx context.Context, specifierHref string, source []byte, cached []byte) (ModuleHandle, CacheOutcome, error)
	// GenerateCachedData produces bytecode for a module previously
	// returned by CompileESM, for storage in the compile cache.
	GenerateCachedData(ctx context.Context, handle ModuleHandle) ([]byte, error)
	// CreateSyntheticModule builds a module handle whose exports are the
	// given names plus the implicit "default", wired to steps as its
	// evaluation body.
	CreateSyntheticModule(specifierHref string, namedExports []string, steps EvaluationSteps) (ModuleHandle, error)
	// NewResolvedPromise wraps value as an already-fulfilled promise,
	// used to adapt a synchronous EvalCallback result into the promise
	// contract Evaluate must return.
	NewResolvedPromise(value Value) Promise
	// NewRejectedPromise wraps err as an already-rejected promise.
	NewRejectedPromise(err error) Promise
	// RunMicrotasksOnce drains the microtask queue exactly once. Used by
	// synchronous require to give a synchronously-resolved top-level
	// await a chance to settle (spec.md §4.5.4, §5).
	RunMicrotasksOnce(ctx context.Context)
	// RegisterResolveCallback installs the single, isolate-wide static
	// resolve function used by Instantiate for every module linked in
	// this isolate (spec.md §4.5: "Installs two engine callbacks: static
	// resolve ... and dynamic import"). Called exactly once, from
	// IsolateModuleRegistry's constructor.
	RegisterResolveCallback(cb ResolveCallback)
	// Undefined returns the engine's undefined value.
	Undefined() Value
	// NewString wraps s as an engine string value, used by synthetic
	// modules whose export is host-owned data rather than something the
	// engine parsed (text and JSON modules, spec.md §6).
	NewString(s string) Value
	// NewBytes wraps b as an engine buffer-like value (e.g. a Uint8Array
	// or ArrayBuffer), used by the data and Wasm synthetic modules.
	NewBytes(b []byte) Value
	// NewFromJSON parses data and returns the equivalent engine value
	// tree, the way JSON.parse would, for the JSON synthetic module.
	NewFromJSON(data []byte) (Value, error)
	// WrapHostValue hands back an arbitrary host-owned Go value as an
	// opaque engine value, for data the engine has no native
	// representation for (e.g. a compiled Wasm module awaiting
	// instantiation by user code).
	WrapHostValue(data any) Value
	// ScheduleFatal reports an unrecoverable engine condition (isolate
	// termination). The registry never attempts to recover from this.
	// pkg/modules does not call it: each synthetic module's steps
	// closure and BuildImportMeta hold their module directly, so they
	// have no lookup that can miss.
	ScheduleFatal(err error)
}

// CacheOutcome reports what happened to a supplied compile-cache buffer,
// consumed only for observer notification (spec.md invariant 6).
type CacheOutcome int

const (
	CacheNotProvided CacheOutcome = iota
	CacheConsumed
	CacheRejected
)
