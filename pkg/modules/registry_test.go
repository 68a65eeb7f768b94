package modules_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"modloader/pkg/engine"
	"modloader/pkg/engine/enginetest"
	"modloader/pkg/jsurl"
	"modloader/pkg/loaderr"
	"modloader/pkg/modules"
)

func esmSpec(host *enginetest.Host, exports map[string]string, imports ...string) *enginetest.ModuleSpec {
	return &enginetest.ModuleSpec{
		Imports: imports,
		Eval: func(ctx context.Context, ns engine.Namespace) (bool, error) {
			for name, val := range exports {
				if err := ns.Set(name, host.NewString(val)); err != nil {
					return false, err
				}
			}
			return true, nil
		},
	}
}

func TestStaticImportReturnsIdenticalModuleOnRepeat(t *testing.T) {
	base := jsurl.MustParse("file:///")
	builder := modules.NewBundleBuilder(base)
	builder.AddEsm("./a.js", []byte("export const a = 1;"), modules.FlagMain)
	bundle, err := builder.Finish()
	require.NoError(t, err)

	registry, err := modules.NewRegistryBuilder(base, modules.NoopObserver(), modules.OptionsNone).Add(bundle).Finish()
	require.NoError(t, err)

	host := enginetest.NewHost()
	host.Define("file:///a.js", esmSpec(host, map[string]string{"a": "1"}))
	iso := registry.AttachToIsolate(host)

	rctx := modules.ResolveContext{
		Type:      modules.TypeBundle,
		Source:    modules.SourceStaticImport,
		Specifier: jsurl.MustParse("file:///a.js"),
		Referrer:  base,
	}

	mod1, handle1, err := iso.Resolve(context.Background(), rctx)
	require.NoError(t, err)
	mod2, handle2, err := iso.Resolve(context.Background(), rctx)
	require.NoError(t, err)

	require.Same(t, mod1, mod2)
	require.Same(t, handle1, handle2)
}

// TestStaticImportLinksRealImportGraph exercises the engine's actual
// per-import resolve callback (spec.md §4.5.1): a.js statically imports
// b.js, and Instantiate must resolve that relative specifier against
// a.js's own referrer/type and hand back b.js's linked handle, not just
// find a specifier some earlier out-of-band Resolve call already cached.
func TestStaticImportLinksRealImportGraph(t *testing.T) {
	base := jsurl.MustParse("file:///")
	builder := modules.NewBundleBuilder(base)
	builder.AddEsm("./a.js", []byte("import { b } from './b.js'; export const a = 1;"), modules.FlagMain)
	builder.AddEsm("./b.js", []byte("export const b = 2;"), modules.FlagsNone)
	bundle, err := builder.Finish()
	require.NoError(t, err)

	registry, err := modules.NewRegistryBuilder(base, modules.NoopObserver(), modules.OptionsNone).Add(bundle).Finish()
	require.NoError(t, err)

	host := enginetest.NewHost()
	host.Define("file:///a.js", esmSpec(host, map[string]string{"a": "1"}, "./b.js"))
	host.Define("file:///b.js", esmSpec(host, map[string]string{"b": "2"}))
	iso := registry.AttachToIsolate(host)

	ns, err := iso.Require(context.Background(), modules.ResolveContext{
		Type:      modules.TypeBundle,
		Source:    modules.SourceRequire,
		Specifier: jsurl.MustParse("file:///a.js"),
		Referrer:  base,
	})
	require.NoError(t, err, "linking a.js's static import of b.js must succeed")

	v, ok := ns.(*enginetest.Namespace).Get("a")
	require.True(t, ok)
	require.Equal(t, "1", v.(*enginetest.Value).Data())

	bMod, _, err := iso.Resolve(context.Background(), modules.ResolveContext{
		Type:      modules.TypeBundle,
		Source:    modules.SourceStaticImport,
		Specifier: jsurl.MustParse("file:///b.js"),
		Referrer:  base,
	})
	require.NoError(t, err)
	require.Equal(t, "file:///b.js", bMod.Specifier().Href(), "b.js must already be cached from linking a.js's static import")
}

// TestAddRejectsPercentEncodedSlashDuplicate exercises spec.md §8's
// "adding a/%2fb twice under normalization fails as a duplicate":
// case-different percent-encodings of the same slash normalize to the
// same specifier key, so the second AddEsm must be rejected.
func TestAddRejectsPercentEncodedSlashDuplicate(t *testing.T) {
	base := jsurl.MustParse("file:///")
	builder := modules.NewBundleBuilder(base)
	builder.AddEsm("./a/%2fb", []byte("export {}"), modules.FlagsNone)
	builder.AddEsm("./a/%2Fb", []byte("export {}"), modules.FlagsNone)
	_, err := builder.Finish()
	require.Error(t, err, "case-different percent-encodings of the same slash should collide once normalized")
	le, ok := err.(*loaderr.LoaderError)
	require.True(t, ok)
	require.Equal(t, loaderr.KindDuplicateModule, le.Kind())
}

func TestFallbackBundleCallsResolverOnceForRepeatedSpecifier(t *testing.T) {
	base := jsurl.MustParse("file:///")
	calls := 0
	fallback := modules.NewFallbackBundle(func(ctx modules.ResolveContext) (modules.Resolved, bool) {
		calls++
		mod := modules.NewEsModule(ctx.Specifier, modules.TypeFallback, modules.FlagsNone, []byte("export {}"))
		return modules.ResolvedModule(mod), true
	})

	registry, err := modules.NewRegistryBuilder(base, modules.NoopObserver(), modules.AllowFallback).
		Add(fallback).
		Finish()
	require.NoError(t, err)

	host := enginetest.NewHost()
	host.Define("file:///virtual.js", esmSpec(host, nil))
	iso := registry.AttachToIsolate(host)

	rctx := modules.ResolveContext{
		Type:      modules.TypeBundle,
		Source:    modules.SourceStaticImport,
		Specifier: jsurl.MustParse("file:///virtual.js"),
		Referrer:  base,
	}

	_, _, err = iso.Resolve(context.Background(), rctx)
	require.NoError(t, err)
	_, _, err = iso.Resolve(context.Background(), rctx)
	require.NoError(t, err)

	require.Equal(t, 1, calls, "fallback resolver should only run once for a repeated specifier")
}

// redirectBundle answers a fixed set of specifiers with a redirect to
// another specifier, recording every ResolveContext it is asked about so
// tests can assert the restart preserves Referrer/RawSpecifier/Attributes
// across each hop (spec.md §4.3/§4.4; SPEC_FULL.md item 2).
type redirectBundle struct {
	redirects map[string]string // specifier key -> redirect target href
	seen      []modules.ResolveContext
}

func (b *redirectBundle) Type() modules.Type { return modules.TypeBundle }

func (b *redirectBundle) Resolve(ctx modules.ResolveContext) (modules.Resolved, bool) {
	target, ok := b.redirects[ctx.Specifier.Key()]
	if !ok {
		return modules.Resolved{}, false
	}
	b.seen = append(b.seen, ctx)
	return modules.ResolvedRedirect(target), true
}

func TestBundleRedirectChainRestartsResolutionPreservingContext(t *testing.T) {
	base := jsurl.MustParse("file:///")
	builder := modules.NewBundleBuilder(base)
	builder.AddEsm("./new.js", []byte("export {}"), modules.FlagsNone)
	staticBundle, err := builder.Finish()
	require.NoError(t, err)

	chain := &redirectBundle{redirects: map[string]string{
		"file:///old.js": "file:///mid.js",
		"file:///mid.js": "file:///new.js",
	}}

	registry, err := modules.NewRegistryBuilder(base, modules.NoopObserver(), modules.OptionsNone).
		Add(chain).
		Add(staticBundle).
		Finish()
	require.NoError(t, err)

	// The context carries import attributes, which IsolateModuleRegistry
	// rejects outright, so the restart is exercised on Registry.Resolve.
	referrer := jsurl.MustParse("file:///caller.js")
	attrs := map[string]string{"foo": "bar"}
	rctx := modules.ResolveContext{
		Type:         modules.TypeBundle,
		Source:       modules.SourceStaticImport,
		Specifier:    jsurl.MustParse("file:///old.js"),
		Referrer:     referrer,
		RawSpecifier: "./old.js",
		Attributes:   attrs,
	}

	mod1, ok := registry.Resolve(rctx)
	require.True(t, ok)
	require.Equal(t, "file:///new.js", mod1.Specifier().Href())

	require.Len(t, chain.seen, 2, "expected the redirect bundle to be consulted at both hops")
	for _, seen := range chain.seen {
		require.Equal(t, referrer.Href(), seen.Referrer.Href())
		require.Equal(t, "./old.js", seen.RawSpecifier)
		require.Equal(t, attrs, seen.Attributes)
		require.Equal(t, modules.TypeBundle, seen.Type)
	}

	mod2, ok := registry.Resolve(rctx)
	require.True(t, ok)
	require.Same(t, mod1, mod2, "the real module behind a redirect chain must still be a singleton")
}

func TestNodeProcessRedirectionForcesBuiltinOnly(t *testing.T) {
	base := jsurl.MustParse("file:///")
	bundle := modules.NewBundleBuilder(base)
	bundle.AddEsm("./index.js", []byte("export {}"), modules.FlagMain)
	bundleBuilt, err := bundle.Finish()
	require.NoError(t, err)

	builtinOnly := modules.NewBuiltinBuilder(modules.TypeBuiltinOnly)
	builtinOnly.AddEsm(jsurl.MustParse("node-internal:public_process"), []byte("export {}"))
	builtinBundle, err := builtinOnly.Finish()
	require.NoError(t, err)

	registry, err := modules.NewRegistryBuilder(base, modules.NoopObserver(), modules.OptionsNone).
		Add(bundleBuilt).
		Add(builtinBundle).
		Finish()
	require.NoError(t, err)

	host := enginetest.NewHost()
	host.Define("node-internal:public_process", esmSpec(host, nil))
	iso := registry.AttachToIsolate(host)
	iso.SetNodeSpecifierRewriter(modules.NodeProcessRewriter{})

	mod, _, err := iso.Resolve(context.Background(), modules.ResolveContext{
		Type:      modules.TypeBundle,
		Source:    modules.SourceStaticImport,
		Specifier: jsurl.MustParse("node:process"),
		Referrer:  base,
	})
	require.NoError(t, err)
	require.Equal(t, "node-internal:public_process", mod.Specifier().Href())
	require.Equal(t, modules.TypeBuiltinOnly, mod.Type())
}

func TestNodeProcessRedirectionUsesLegacyTarget(t *testing.T) {
	base := jsurl.MustParse("file:///")
	builtinOnly := modules.NewBuiltinBuilder(modules.TypeBuiltinOnly)
	builtinOnly.AddEsm(jsurl.MustParse("node-internal:legacy_process"), []byte("export {}"))
	builtinBundle, err := builtinOnly.Finish()
	require.NoError(t, err)

	registry, err := modules.NewRegistryBuilder(base, modules.NoopObserver(), modules.OptionsNone).
		Add(builtinBundle).
		Finish()
	require.NoError(t, err)

	host := enginetest.NewHost()
	host.Define("node-internal:legacy_process", esmSpec(host, nil))
	iso := registry.AttachToIsolate(host)
	iso.SetNodeSpecifierRewriter(modules.NodeProcessRewriter{Legacy: true})

	mod, _, err := iso.Resolve(context.Background(), modules.ResolveContext{
		Type:      modules.TypeBundle,
		Source:    modules.SourceStaticImport,
		Specifier: jsurl.MustParse("node:process"),
		Referrer:  base,
	})
	require.NoError(t, err)
	require.Equal(t, "node-internal:legacy_process", mod.Specifier().Href())
}

func TestCyclicAliasFailsResolutionInsteadOfRecursingForever(t *testing.T) {
	base := jsurl.MustParse("file:///")
	builder := modules.NewBundleBuilder(base)
	builder.Alias("./a.js", "./b.js")
	builder.Alias("./b.js", "./a.js")
	bundle, err := builder.Finish()
	require.NoError(t, err, "a cyclic alias pair is not rejected until resolve time")

	registry, err := modules.NewRegistryBuilder(base, modules.NoopObserver(), modules.OptionsNone).Add(bundle).Finish()
	require.NoError(t, err)

	host := enginetest.NewHost()
	iso := registry.AttachToIsolate(host)

	done := make(chan error, 1)
	go func() {
		_, _, err := iso.Resolve(context.Background(), modules.ResolveContext{
			Type:      modules.TypeBundle,
			Source:    modules.SourceStaticImport,
			Specifier: jsurl.MustParse("file:///a.js"),
			Referrer:  base,
		})
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err, "a cyclic alias chain must fail resolution rather than succeed")
	case <-time.After(2 * time.Second):
		t.Fatal("cyclic alias resolution did not terminate within the depth bound")
	}
}

func TestBuiltinOnlyIsUnreachableFromBundleTier(t *testing.T) {
	base := jsurl.MustParse("file:///")
	builtinOnly := modules.NewBuiltinBuilder(modules.TypeBuiltinOnly)
	builtinOnly.AddEsm(jsurl.MustParse("builtin:internal"), []byte("export {}"))
	bundle, err := builtinOnly.Finish()
	require.NoError(t, err)

	registry, err := modules.NewRegistryBuilder(base, modules.NoopObserver(), modules.OptionsNone).Add(bundle).Finish()
	require.NoError(t, err)

	host := enginetest.NewHost()
	iso := registry.AttachToIsolate(host)

	_, _, err = iso.Resolve(context.Background(), modules.ResolveContext{
		Type:      modules.TypeBundle,
		Source:    modules.SourceStaticImport,
		Specifier: jsurl.MustParse("builtin:internal"),
		Referrer:  base,
	})
	require.Error(t, err, "builtin-only modules must not be reachable from a bundle-type import")
}
