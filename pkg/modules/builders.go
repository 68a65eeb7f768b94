package modules

import (
	"fmt"

	"modloader/pkg/jsurl"
	"modloader/pkg/loaderr"
)

// builder is the shared bookkeeping BundleBuilder and BuiltinBuilder
// both delegate to: it enforces that a specifier or alias can only be
// added once (spec.md §3 invariant 4) and produces a StaticModuleBundle.
type builder struct {
	bundleType Type
	factories  map[string]ResolveCallback
	aliases    map[string]jsurl.Url
}

func newBuilder(t Type) *builder {
	return &builder{
		bundleType: t,
		factories:  make(map[string]ResolveCallback),
		aliases:    make(map[string]jsurl.Url),
	}
}

func (b *builder) add(specifier jsurl.Url, cb ResolveCallback) error {
	key := specifier.Key()
	if _, ok := b.factories[key]; ok {
		return loaderr.DuplicateModule("module %q already added to bundle", specifier.Href())
	}
	if _, ok := b.aliases[key]; ok {
		return loaderr.DuplicateModule("module %q already added to bundle", specifier.Href())
	}
	b.factories[key] = cb
	return nil
}

func (b *builder) alias(aliasURL, target jsurl.Url) error {
	aliasNormed := aliasURL.Clone(jsurl.NormalizePath)
	key := aliasNormed.Key()
	if _, ok := b.factories[key]; ok {
		return loaderr.DuplicateModule("module %q already added to bundle", aliasNormed.Href())
	}
	if _, ok := b.aliases[key]; ok {
		return loaderr.DuplicateModule("module %q already added to bundle", aliasNormed.Href())
	}
	b.aliases[key] = target.Clone(jsurl.NormalizePath)
	return nil
}

func (b *builder) finish() *StaticModuleBundle {
	return newStaticModuleBundle(b.bundleType, b.factories, b.aliases)
}

func ensureNotFileScheme(specifier jsurl.Url) error {
	if specifier.IsFileScheme() {
		return fmt.Errorf("modules: the file: scheme is reserved for bundle-type modules, got %q", specifier.Href())
	}
	return nil
}

// BundleBuilder adds ESM or synthetic modules by specifier string
// resolved against bundleBase, the way a user's own worker bundle is
// built (spec.md §4.6). Produces a TypeBundle ModuleBundle.
type BundleBuilder struct {
	bundleBase jsurl.Url
	b          *builder
	err        error
}

// NewBundleBuilder starts a builder for a TypeBundle bundle rooted at
// bundleBase (typically "file:///").
func NewBundleBuilder(bundleBase jsurl.Url) *BundleBuilder {
	return &BundleBuilder{bundleBase: bundleBase, b: newBuilder(TypeBundle)}
}

func (bb *BundleBuilder) resolveSpecifier(specifier string) (jsurl.Url, error) {
	u, ok := bb.bundleBase.TryResolve(specifier)
	if !ok {
		return jsurl.Url{}, loaderr.InvalidSpecifier("cannot resolve %q against bundle base %q", specifier, bb.bundleBase.Href())
	}
	return u.Clone(jsurl.NormalizePath), nil
}

// AddEsm adds a source-text module at specifier (resolved against the
// bundle base).
func (bb *BundleBuilder) AddEsm(specifier string, source []byte, flags Flags) *BundleBuilder {
	if bb.err != nil {
		return bb
	}
	url, err := bb.resolveSpecifier(specifier)
	if err != nil {
		bb.err = err
		return bb
	}
	err = bb.b.add(url, func(ctx ResolveContext) (Resolved, bool) {
		return ResolvedModule(NewEsModule(url, TypeBundle, flags, source)), true
	})
	if err != nil {
		bb.err = err
	}
	return bb
}

// AddSynthetic adds a host-synthesized module at specifier.
func (bb *BundleBuilder) AddSynthetic(specifier string, callback EvaluateCallback, namedExports []string) *BundleBuilder {
	if bb.err != nil {
		return bb
	}
	url, err := bb.resolveSpecifier(specifier)
	if err != nil {
		bb.err = err
		return bb
	}
	err = bb.b.add(url, func(ctx ResolveContext) (Resolved, bool) {
		return ResolvedModule(NewSyntheticModule(url, TypeBundle, callback, namedExports, FlagsNone)), true
	})
	if err != nil {
		bb.err = err
	}
	return bb
}

// Alias registers alias as another name for specifier, both resolved
// against the bundle base.
func (bb *BundleBuilder) Alias(alias, specifier string) *BundleBuilder {
	if bb.err != nil {
		return bb
	}
	aliasURL, err := bb.resolveSpecifier(alias)
	if err != nil {
		bb.err = err
		return bb
	}
	targetURL, err := bb.resolveSpecifier(specifier)
	if err != nil {
		bb.err = err
		return bb
	}
	if err := bb.b.alias(aliasURL, targetURL); err != nil {
		bb.err = err
	}
	return bb
}

// Finish produces the immutable bundle, or returns the first build-time
// error encountered.
func (bb *BundleBuilder) Finish() (*StaticModuleBundle, error) {
	if bb.err != nil {
		return nil, bb.err
	}
	return bb.b.finish(), nil
}

// BuiltinBuilder adds modules by absolute Url, rejecting file: specifiers
// (spec.md §3 invariant 5, §4.3). t must be TypeBuiltin or
// TypeBuiltinOnly.
type BuiltinBuilder struct {
	b   *builder
	err error
}

// NewBuiltinBuilder starts a builder for TypeBuiltin or TypeBuiltinOnly
// modules.
func NewBuiltinBuilder(t Type) *BuiltinBuilder {
	if t != TypeBuiltin && t != TypeBuiltinOnly {
		panic("modules: BuiltinBuilder requires TypeBuiltin or TypeBuiltinOnly")
	}
	return &BuiltinBuilder{b: newBuilder(t)}
}

// AddEsm adds a source-text module at the given absolute specifier.
func (bb *BuiltinBuilder) AddEsm(specifier jsurl.Url, source []byte) *BuiltinBuilder {
	if bb.err != nil {
		return bb
	}
	if err := ensureNotFileScheme(specifier); err != nil {
		bb.err = err
		return bb
	}
	t := bb.b.bundleType
	err := bb.b.add(specifier, func(ctx ResolveContext) (Resolved, bool) {
		return ResolvedModule(NewEsModule(specifier, t, FlagsNone, source)), true
	})
	if err != nil {
		bb.err = err
	}
	return bb
}

// AddSynthetic adds a host-synthesized module at the given absolute
// specifier.
func (bb *BuiltinBuilder) AddSynthetic(specifier jsurl.Url, callback EvaluateCallback, namedExports []string) *BuiltinBuilder {
	if bb.err != nil {
		return bb
	}
	if err := ensureNotFileScheme(specifier); err != nil {
		bb.err = err
		return bb
	}
	t := bb.b.bundleType
	err := bb.b.add(specifier, func(ctx ResolveContext) (Resolved, bool) {
		return ResolvedModule(NewSyntheticModule(specifier, t, callback, namedExports, FlagsNone)), true
	})
	if err != nil {
		bb.err = err
	}
	return bb
}

// Alias registers alias as another name for specifier.
func (bb *BuiltinBuilder) Alias(alias, specifier jsurl.Url) *BuiltinBuilder {
	if bb.err != nil {
		return bb
	}
	if err := bb.b.alias(alias, specifier); err != nil {
		bb.err = err
	}
	return bb
}

// Finish produces the immutable bundle, or returns the first build-time
// error encountered.
func (bb *BuiltinBuilder) Finish() (*StaticModuleBundle, error) {
	if bb.err != nil {
		return nil, bb.err
	}
	return bb.b.finish(), nil
}

// NewFallbackBundle wraps callback as an open-ended fallback resolver
// (spec.md §4.3). Registries only accept these when built with
// AllowFallback.
func NewFallbackBundle(callback FallbackResolveCallback) *FallbackModuleBundle {
	return newFallbackModuleBundle(callback)
}
