// Package modules implements the module registry and loader core: a
// catalog of modules contributed by bundles, multi-tier specifier
// resolution, and the glue that drives an engine.Host through
// compile/instantiate/evaluate for both source-text and host-synthesized
// modules.
package modules

import (
	"context"

	"modloader/pkg/engine"
	"modloader/pkg/jsurl"
)

// Type identifies which resolution tier a module's owning bundle
// belongs to. See ModuleRegistry's tier table in spec.md §4.4.
type Type int

const (
	TypeBundle Type = iota
	TypeBuiltin
	TypeBuiltinOnly
	TypeFallback
)

func (t Type) String() string {
	switch t {
	case TypeBundle:
		return "bundle"
	case TypeBuiltin:
		return "builtin"
	case TypeBuiltinOnly:
		return "builtin-only"
	case TypeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Flags is a bitmask of module properties. ESM modules always carry
// Flags.ESM|Flags.Eval; synthetic modules never carry ESM or Main.
type Flags int

const (
	FlagsNone Flags = 0
	FlagESM   Flags = 1 << iota
	FlagMain
	FlagEval
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Source identifies how a resolution was triggered. It is metrics-only
// and never changes resolution behavior.
type Source int

const (
	SourceStaticImport Source = iota
	SourceDynamicImport
	SourceRequire
	SourceInternal
)

// ResolveContext carries everything a bundle or registry needs to decide
// whether and how to resolve a specifier.
type ResolveContext struct {
	Type         Type
	Source       Source
	Specifier    jsurl.Url
	Referrer     jsurl.Url
	RawSpecifier string
	Attributes   map[string]string
}

// withSpecifier copies the context, replacing only Specifier; Type,
// Source, Referrer and RawSpecifier are carried over and Attributes is
// copied into a new map — used when a bundle redirects resolution to
// a new specifier and resolution restarts from the top (spec.md §4.3,
// §4.4).
func (c ResolveContext) withSpecifier(spec jsurl.Url) ResolveContext {
	attrs := make(map[string]string, len(c.Attributes))
	for k, v := range c.Attributes {
		attrs[k] = v
	}
	return ResolveContext{
		Type:         c.Type,
		Source:       c.Source,
		Specifier:    spec,
		Referrer:     c.Referrer,
		RawSpecifier: c.RawSpecifier,
		Attributes:   attrs,
	}
}

// TypeForModuleType maps a Module's owning Type to the ResolveContext.Type
// used when that module itself acts as a referrer (e.g. dynamic import).
// FALLBACK-owned modules behave like BUNDLE modules for this purpose
// (there is no ResolveContext.Type for fallback).
func TypeForModuleType(t Type) Type {
	if t == TypeFallback {
		return TypeBundle
	}
	return t
}

// Module is the abstract unit of loaded code: either an EsModule
// (source-text, parsed by the engine) or a SyntheticModule (host-provided
// exports). A Module instance is constructed once by its owning bundle
// and shared read-only afterward.
type Module interface {
	Specifier() jsurl.Url
	Type() Type
	Flags() Flags

	IsESM() bool
	IsMain() bool
	IsEval() bool

	// EvaluateContext is a late check that the module is willing to
	// serve this context. The default implementation accepts iff
	// Specifier matches; the hook point exists for future
	// predicate-based filtering (spec.md §9 Open Questions).
	EvaluateContext(ctx ResolveContext) bool

	// GetDescriptor produces the engine's representation of this
	// module, compiling or synthesizing it on first call within an
	// isolate.
	GetDescriptor(ctx context.Context, host engine.Host, obs CompilationObserver) (engine.ModuleHandle, error)

	// Instantiate links the module graph. Returns false only when the
	// engine has already scheduled an exception.
	Instantiate(ctx context.Context, handle engine.ModuleHandle, obs CompilationObserver) (bool, error)

	// Evaluate ensures instantiation, then runs (or delegates) the
	// module body, returning a promise.
	Evaluate(ctx context.Context, handle engine.ModuleHandle, host engine.Host, obs CompilationObserver, evalCallback EvalCallback) (engine.Promise, error)
}

// EvalCallback lets the host intercept evaluation of ESM modules (always)
// and synthetic modules carrying FlagEval, wrapping the result as a
// resolved promise (spec.md §4.1).
type EvalCallback func(ctx context.Context, mod Module, handle engine.ModuleHandle, obs CompilationObserver) (engine.Value, error)

// base holds the fields shared by every concrete Module.
type base struct {
	specifier jsurl.Url
	type_     Type
	flags     Flags
}

func (b *base) Specifier() jsurl.Url { return b.specifier }
func (b *base) Type() Type           { return b.type_ }
func (b *base) Flags() Flags         { return b.flags }
func (b *base) IsESM() bool          { return b.flags.Has(FlagESM) }
func (b *base) IsMain() bool         { return b.flags.Has(FlagMain) }
func (b *base) IsEval() bool         { return b.flags.Has(FlagEval) }

// EvaluateContext accepts iff the specifier matches exactly. Concrete
// modules embed base and get this for free; nothing in this tree
// overrides it yet, but the seam is real (spec.md §9).
func (b *base) EvaluateContext(ctx ResolveContext) bool {
	return b.specifier.Equal(ctx.Specifier)
}

// ensureInstantiated instantiates handle if it hasn't been already,
// returning false only if the engine has scheduled an exception.
func ensureInstantiated(ctx context.Context, mod Module, handle engine.ModuleHandle, obs CompilationObserver) (bool, error) {
	if handle.Status() != engine.StatusUninstantiated {
		return true, nil
	}
	return mod.Instantiate(ctx, handle, obs)
}
