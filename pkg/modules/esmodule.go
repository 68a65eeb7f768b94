package modules

import (
	"context"

	"modloader/pkg/engine"
	"modloader/pkg/jsurl"
)

// EsModule is a source-text module compiled by the engine. Its source
// buffer is not owned by the module (it points into a bundle-level
// arena); cachedData is lazily populated after the first successful
// compile via compileCache.
type EsModule struct {
	base
	source []byte
	cache  *compileCache
}

// NewEsModule constructs an ESM module. flags gets ESM|Eval forced on
// regardless of what the caller passed, matching the invariant in
// spec.md §3.
func NewEsModule(specifier jsurl.Url, t Type, flags Flags, source []byte) *EsModule {
	return &EsModule{
		base:   base{specifier: specifier, type_: t, flags: flags | FlagESM | FlagEval},
		source: source,
		cache:  newCompileCache(),
	}
}

func (m *EsModule) GetDescriptor(ctx context.Context, host engine.Host, obs CompilationObserver) (engine.ModuleHandle, error) {
	obs.OnEsmCompilationStart(m.specifier, m.type_)
	return m.cache.compile(ctx, host, m.specifier.Href(), m.source, obs)
}

func (m *EsModule) Instantiate(ctx context.Context, handle engine.ModuleHandle, obs CompilationObserver) (bool, error) {
	if handle.Status() != engine.StatusUninstantiated {
		return true, nil
	}
	return handle.Instantiate(ctx)
}

// Evaluate ensures instantiation, then either delegates to evalCallback
// (ESM modules are always eval'd through it when one is configured) or
// calls the engine's own Evaluate.
func (m *EsModule) Evaluate(ctx context.Context, handle engine.ModuleHandle, host engine.Host, obs CompilationObserver, evalCallback EvalCallback) (engine.Promise, error) {
	ok, err := ensureInstantiated(ctx, m, handle, obs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if evalCallback != nil {
		v, err := evalCallback(ctx, m, handle, obs)
		if err != nil {
			return host.NewRejectedPromise(err), nil
		}
		return host.NewResolvedPromise(v), nil
	}
	return handle.Evaluate(ctx)
}
