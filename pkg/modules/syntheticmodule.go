package modules

import (
	"context"
	"fmt"

	"modloader/pkg/engine"
	"modloader/pkg/jsurl"
)

// EvaluateCallback populates a synthetic module's exports. It must be
// idempotent and thread-safe: it may run concurrently across isolates
// and once per isolate context (spec.md §5). Returning false means an
// engine-scheduled exception is already pending.
type EvaluateCallback func(ctx context.Context, specifier jsurl.Url, ns *ModuleNamespace, obs CompilationObserver) (bool, error)

// ModuleNamespace is the short-lived view an EvaluateCallback writes
// exports into. Set requires name to be "default" or one of the names
// declared when the module descriptor was created (spec.md §3).
type ModuleNamespace struct {
	handle  engine.ModuleHandle
	ns      engine.Namespace
	host    engine.Host
	allowed map[string]struct{}
}

func newModuleNamespace(handle engine.ModuleHandle, ns engine.Namespace, host engine.Host, namedExports []string) *ModuleNamespace {
	allowed := make(map[string]struct{}, len(namedExports))
	for _, n := range namedExports {
		allowed[n] = struct{}{}
	}
	return &ModuleNamespace{handle: handle, ns: ns, host: host, allowed: allowed}
}

// Set installs an export value under name.
func (n *ModuleNamespace) Set(name string, value engine.Value) error {
	if name != "default" {
		if _, ok := n.allowed[name]; !ok {
			return fmt.Errorf("modules: export %q was not declared for this synthetic module", name)
		}
	}
	return n.ns.Set(name, value)
}

// NewString, NewBytes, NewFromJSON, and WrapHostValue proxy to the
// isolate's engine.Host, giving a host-authored EvaluateCallback the
// only way it has to construct values on the far side of the opaque
// engine boundary (spec.md §6's text/data/JSON/Wasm module factories).
func (n *ModuleNamespace) NewString(s string) engine.Value { return n.host.NewString(s) }
func (n *ModuleNamespace) NewBytes(b []byte) engine.Value  { return n.host.NewBytes(b) }
func (n *ModuleNamespace) NewFromJSON(data []byte) (engine.Value, error) {
	return n.host.NewFromJSON(data)
}
func (n *ModuleNamespace) WrapHostValue(data any) engine.Value { return n.host.WrapHostValue(data) }

// SyntheticModule is a Module whose exports are populated by a host
// callback rather than parsed from source (CommonJS shims, JSON, data,
// Wasm). Synthetic modules never carry FlagESM or FlagMain (spec.md §3).
type SyntheticModule struct {
	base
	callback     EvaluateCallback
	namedExports []string
}

// NewSyntheticModule constructs a synthetic module. flags must not
// include FlagESM or FlagMain.
func NewSyntheticModule(specifier jsurl.Url, t Type, callback EvaluateCallback, namedExports []string, flags Flags) *SyntheticModule {
	if flags.Has(FlagESM) || flags.Has(FlagMain) {
		panic("modules: synthetic modules cannot be ESM or Main")
	}
	return &SyntheticModule{
		base:         base{specifier: specifier, type_: t, flags: flags},
		callback:     callback,
		namedExports: append([]string(nil), namedExports...),
	}
}

func (m *SyntheticModule) GetDescriptor(ctx context.Context, host engine.Host, obs CompilationObserver) (engine.ModuleHandle, error) {
	steps := func(stepsCtx context.Context, handle engine.ModuleHandle) (engine.Promise, error) {
		return m.actuallyEvaluate(stepsCtx, handle, host, obs)
	}
	return host.CreateSyntheticModule(m.specifier.Href(), m.namedExports, steps)
}

func (m *SyntheticModule) Instantiate(ctx context.Context, handle engine.ModuleHandle, obs CompilationObserver) (bool, error) {
	if handle.Status() != engine.StatusUninstantiated {
		return true, nil
	}
	return handle.Instantiate(ctx)
}

// actuallyEvaluate runs the synthetic evaluation steps described in
// spec.md §4.1: build a fresh namespace view, call the user callback,
// and wrap the outcome as a resolved promise.
func (m *SyntheticModule) actuallyEvaluate(ctx context.Context, handle engine.ModuleHandle, host engine.Host, obs CompilationObserver) (engine.Promise, error) {
	ns, err := handle.Namespace()
	if err != nil {
		return nil, err
	}
	view := newModuleNamespace(handle, ns, host, m.namedExports)
	ok, err := m.callback(ctx, m.specifier, view, obs)
	if err != nil {
		return host.NewRejectedPromise(err), nil
	}
	if !ok {
		// An exception should already be scheduled on the engine; the
		// caller propagates failure without inventing a Go error.
		return nil, nil
	}
	return host.NewResolvedPromise(host.Undefined()), nil
}

func (m *SyntheticModule) Evaluate(ctx context.Context, handle engine.ModuleHandle, host engine.Host, obs CompilationObserver, evalCallback EvalCallback) (engine.Promise, error) {
	ok, err := ensureInstantiated(ctx, m, handle, obs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if m.IsEval() && evalCallback != nil {
		v, err := evalCallback(ctx, m, handle, obs)
		if err != nil {
			return host.NewRejectedPromise(err), nil
		}
		return host.NewResolvedPromise(v), nil
	}
	// Run through the engine so the handle's status moves through
	// Evaluating/Evaluated; the engine calls the steps closure built in
	// GetDescriptor, which runs actuallyEvaluate.
	return handle.Evaluate(ctx)
}
