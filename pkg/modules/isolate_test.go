package modules_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"modloader/pkg/engine"
	"modloader/pkg/engine/enginetest"
	"modloader/pkg/jsurl"
	"modloader/pkg/loaderr"
	"modloader/pkg/modules"
)

func TestRequireRejectsImportAttributes(t *testing.T) {
	base := jsurl.MustParse("file:///")
	builder := modules.NewBundleBuilder(base)
	builder.AddEsm("./a.js", []byte("export {}"), modules.FlagsNone)
	bundle, err := builder.Finish()
	require.NoError(t, err)
	registry, err := modules.NewRegistryBuilder(base, modules.NoopObserver(), modules.OptionsNone).Add(bundle).Finish()
	require.NoError(t, err)

	host := enginetest.NewHost()
	host.Define("file:///a.js", esmSpec(host, nil))
	iso := registry.AttachToIsolate(host)

	_, err = iso.Require(context.Background(), modules.ResolveContext{
		Type:       modules.TypeBundle,
		Source:     modules.SourceRequire,
		Specifier:  jsurl.MustParse("file:///a.js"),
		Referrer:   base,
		Attributes: map[string]string{"type": "json"},
	})
	require.Error(t, err)
	le, ok := err.(*loaderr.LoaderError)
	require.True(t, ok)
	require.Equal(t, loaderr.KindUnsupported, le.Kind())
}

func TestRequirePendingTopLevelAwaitFails(t *testing.T) {
	base := jsurl.MustParse("file:///")
	builder := modules.NewBundleBuilder(base)
	builder.AddEsm("./a.js", []byte("await new Promise(() => {})"), modules.FlagsNone)
	bundle, err := builder.Finish()
	require.NoError(t, err)
	registry, err := modules.NewRegistryBuilder(base, modules.NoopObserver(), modules.OptionsNone).Add(bundle).Finish()
	require.NoError(t, err)

	host := enginetest.NewHost()
	host.Define("file:///a.js", &enginetest.ModuleSpec{
		EvalPromise: func(ctx context.Context, ns engine.Namespace) (engine.Promise, error) {
			return enginetest.NewPendingPromise(), nil
		},
	})
	iso := registry.AttachToIsolate(host)

	_, err = iso.Require(context.Background(), modules.ResolveContext{
		Type:      modules.TypeBundle,
		Source:    modules.SourceRequire,
		Specifier: jsurl.MustParse("file:///a.js"),
		Referrer:  base,
	})
	require.Error(t, err)
	le, ok := err.(*loaderr.LoaderError)
	require.True(t, ok)
	require.Equal(t, loaderr.KindSyncTLA, le.Kind())
}

// TestRequireRethrowsRejectedEvaluationVerbatim exercises the
// PromiseRejected branch of require(): the module's Eval returns a real
// error, and the first require() call must rethrow that exact engine
// value (spec.md §4.5.4/§7's "rethrows ... verbatim"), not a synthesized
// message.
func TestRequireRethrowsRejectedEvaluationVerbatim(t *testing.T) {
	base := jsurl.MustParse("file:///")
	builder := modules.NewBundleBuilder(base)
	builder.AddEsm("./a.js", []byte("throw new Error('boom')"), modules.FlagsNone)
	bundle, err := builder.Finish()
	require.NoError(t, err)
	registry, err := modules.NewRegistryBuilder(base, modules.NoopObserver(), modules.OptionsNone).Add(bundle).Finish()
	require.NoError(t, err)

	evalErr := errors.New("boom")
	host := enginetest.NewHost()
	host.Define("file:///a.js", &enginetest.ModuleSpec{
		Eval: func(ctx context.Context, ns engine.Namespace) (bool, error) {
			return false, evalErr
		},
	})
	iso := registry.AttachToIsolate(host)

	rctx := modules.ResolveContext{Type: modules.TypeBundle, Source: modules.SourceRequire, Specifier: jsurl.MustParse("file:///a.js"), Referrer: base}

	_, err = iso.Require(context.Background(), rctx)
	require.Error(t, err)
	le, ok := err.(*loaderr.LoaderError)
	require.True(t, ok)
	require.Equal(t, loaderr.KindRejected, le.Kind())
	require.NotNil(t, le.Exception())
	require.Equal(t, evalErr, le.Exception().(*enginetest.Value).Data())
}

// TestRequireStatusErroredCacheHitRethrowsSameException exercises the
// StatusErrored short-circuit in require(): once a module's handle has
// settled into StatusErrored, a second require() of the same specifier
// must rethrow the module's actual stored exception (handle.Exception())
// rather than a fabricated message, and it must be the very same value
// produced by the original failed evaluation.
func TestRequireStatusErroredCacheHitRethrowsSameException(t *testing.T) {
	base := jsurl.MustParse("file:///")
	builder := modules.NewBundleBuilder(base)
	builder.AddEsm("./a.js", []byte("throw new Error('boom')"), modules.FlagsNone)
	bundle, err := builder.Finish()
	require.NoError(t, err)
	registry, err := modules.NewRegistryBuilder(base, modules.NoopObserver(), modules.OptionsNone).Add(bundle).Finish()
	require.NoError(t, err)

	evalErr := errors.New("boom")
	host := enginetest.NewHost()
	host.Define("file:///a.js", &enginetest.ModuleSpec{
		Eval: func(ctx context.Context, ns engine.Namespace) (bool, error) {
			return false, evalErr
		},
	})
	iso := registry.AttachToIsolate(host)

	rctx := modules.ResolveContext{Type: modules.TypeBundle, Source: modules.SourceRequire, Specifier: jsurl.MustParse("file:///a.js"), Referrer: base}

	// First call drives the handle to StatusErrored via the rejected
	// evaluation promise.
	_, err = iso.Require(context.Background(), rctx)
	require.Error(t, err)

	// Second call must hit the StatusErrored cache-hit branch and rethrow
	// the identical exception value, without running the module body again.
	_, err = iso.Require(context.Background(), rctx)
	require.Error(t, err)
	le, ok := err.(*loaderr.LoaderError)
	require.True(t, ok)
	require.Equal(t, loaderr.KindModuleErrored, le.Kind())
	require.NotNil(t, le.Exception())
	require.Equal(t, evalErr, le.Exception().(*enginetest.Value).Data())
}

// TestRequireCircularEsmFails exercises a real nested require() cycle:
// a.js's body requires b.js, whose body requires a.js back while a.js's
// handle is still StatusEvaluating (spec.md §4.5.4).
func TestRequireCircularEsmFails(t *testing.T) {
	base := jsurl.MustParse("file:///")
	builder := modules.NewBundleBuilder(base)
	builder.AddEsm("./a.js", []byte("export {}"), modules.FlagsNone)
	builder.AddEsm("./b.js", []byte("export {}"), modules.FlagsNone)
	bundle, err := builder.Finish()
	require.NoError(t, err)
	registry, err := modules.NewRegistryBuilder(base, modules.NoopObserver(), modules.OptionsNone).Add(bundle).Finish()
	require.NoError(t, err)

	aCtx := modules.ResolveContext{Type: modules.TypeBundle, Source: modules.SourceRequire, Specifier: jsurl.MustParse("file:///a.js"), Referrer: base}
	bCtx := modules.ResolveContext{Type: modules.TypeBundle, Source: modules.SourceRequire, Specifier: jsurl.MustParse("file:///b.js"), Referrer: base}

	host := enginetest.NewHost()
	var iso *modules.IsolateModuleRegistry
	var circularErr error

	host.Define("file:///a.js", &enginetest.ModuleSpec{
		Eval: func(ctx context.Context, ns engine.Namespace) (bool, error) {
			_, err := iso.Require(ctx, bCtx)
			return err == nil, err
		},
	})
	host.Define("file:///b.js", &enginetest.ModuleSpec{
		Eval: func(ctx context.Context, ns engine.Namespace) (bool, error) {
			_, err := iso.Require(ctx, aCtx)
			circularErr = err
			return false, err
		},
	})

	iso = registry.AttachToIsolate(host)

	_, err = iso.Require(context.Background(), aCtx)
	require.Error(t, err)
	require.Error(t, circularErr)
	le, ok := circularErr.(*loaderr.LoaderError)
	require.True(t, ok)
	require.Equal(t, loaderr.KindCircular, le.Kind())
}
