// Package enginetest is a minimal in-memory implementation of the
// engine.Host surface, standing in for a real embedded JavaScript engine
// in tests. It never parses source text; callers register a ModuleSpec
// describing what a "compiled" module imports and how its body behaves.
package enginetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"modloader/pkg/engine"
)

// ModuleSpec describes the behavior of one fake ESM module: the static
// imports the engine discovers while linking it, and what running its
// body does.
type ModuleSpec struct {
	Imports []string
	// Eval populates ns and reports whether evaluation succeeded. A nil
	// Eval leaves the namespace empty and succeeds.
	Eval func(ctx context.Context, ns engine.Namespace) (bool, error)
	// EvalPromise, if set, takes precedence over Eval and hands back the
	// exact promise Evaluate should return — the only way to exercise a
	// module whose evaluation settles asynchronously (or never settles),
	// since Eval's bool result always maps to an immediately-settled one.
	EvalPromise func(ctx context.Context, ns engine.Namespace) (engine.Promise, error)
}

// Host is a single fake isolate: a table of pre-registered module specs
// plus the one resolve callback the registry installs.
type Host struct {
	mu        sync.Mutex
	specs     map[string]*ModuleSpec
	resolveCB engine.ResolveCallback
	fatal     error
}

// NewHost builds an empty fake isolate.
func NewHost() *Host {
	return &Host{specs: make(map[string]*ModuleSpec)}
}

// Define registers spec as the program compiled from specifierHref.
func (h *Host) Define(specifierHref string, spec *ModuleSpec) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.specs[specifierHref] = spec
}

// Fatal returns the error passed to the last ScheduleFatal call, if any.
func (h *Host) Fatal() error { return h.fatal }

func (h *Host) CompileESM(ctx context.Context, specifierHref string, source []byte, cached []byte) (engine.ModuleHandle, engine.CacheOutcome, error) {
	h.mu.Lock()
	spec, ok := h.specs[specifierHref]
	h.mu.Unlock()
	if !ok {
		return nil, engine.CacheNotProvided, fmt.Errorf("enginetest: no module spec registered for %q", specifierHref)
	}
	handle := &Handle{host: h, specifier: specifierHref, spec: spec, ns: newNamespace(nil)}
	outcome := engine.CacheNotProvided
	if cached != nil {
		outcome = engine.CacheConsumed
	}
	return handle, outcome, nil
}

func (h *Host) GenerateCachedData(ctx context.Context, handle engine.ModuleHandle) ([]byte, error) {
	hh, ok := handle.(*Handle)
	if !ok {
		return nil, fmt.Errorf("enginetest: unrecognized handle")
	}
	return []byte("cached:" + hh.specifier), nil
}

func (h *Host) CreateSyntheticModule(specifierHref string, namedExports []string, steps engine.EvaluationSteps) (engine.ModuleHandle, error) {
	return &Handle{host: h, specifier: specifierHref, synthetic: true, steps: steps, ns: newNamespace(append([]string{}, namedExports...))}, nil
}

func (h *Host) NewResolvedPromise(value engine.Value) engine.Promise {
	return &Promise{state: engine.PromiseFulfilled, result: value}
}

func (h *Host) NewRejectedPromise(err error) engine.Promise {
	return &Promise{state: engine.PromiseRejected, result: NewValue(err)}
}

func (h *Host) RunMicrotasksOnce(ctx context.Context) {}

func (h *Host) RegisterResolveCallback(cb engine.ResolveCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resolveCB = cb
}

func (h *Host) Undefined() engine.Value { return undefinedValue }

func (h *Host) ScheduleFatal(err error) { h.fatal = err }

func (h *Host) NewString(s string) engine.Value { return NewValue(s) }

func (h *Host) NewBytes(b []byte) engine.Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return NewValue(cp)
}

func (h *Host) NewFromJSON(data []byte) (engine.Value, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("enginetest: invalid JSON: %w", err)
	}
	return NewValue(v), nil
}

func (h *Host) WrapHostValue(data any) engine.Value { return NewValue(data) }

// Handle is the fake engine.ModuleHandle. Instantiate walks the spec's
// declared imports through the isolate's registered resolve callback,
// the way linking a real module graph would.
type Handle struct {
	host      *Host
	specifier string
	spec      *ModuleSpec
	synthetic bool
	steps     engine.EvaluationSteps

	status    engine.Status
	exception engine.Value
	ns        *Namespace
}

func (h *Handle) Status() engine.Status  { return h.status }
func (h *Handle) Exception() engine.Value { return h.exception }

func (h *Handle) Instantiate(ctx context.Context) (bool, error) {
	h.status = engine.StatusInstantiating
	if h.spec != nil {
		h.host.mu.Lock()
		cb := h.host.resolveCB
		h.host.mu.Unlock()
		for _, imp := range h.spec.Imports {
			if cb == nil {
				return false, fmt.Errorf("enginetest: no resolve callback registered")
			}
			if _, err := cb(h, imp); err != nil {
				h.status = engine.StatusErrored
				h.exception = NewValue(err)
				return false, nil
			}
		}
	}
	h.status = engine.StatusInstantiated
	return true, nil
}

func (h *Handle) Evaluate(ctx context.Context) (engine.Promise, error) {
	h.status = engine.StatusEvaluating
	if h.synthetic {
		p, err := h.steps(ctx, h)
		if err != nil {
			h.status = engine.StatusErrored
			return nil, err
		}
		h.status = engine.StatusEvaluated
		return p, nil
	}
	if h.spec.EvalPromise != nil {
		p, err := h.spec.EvalPromise(ctx, h.ns)
		if err != nil {
			h.status = engine.StatusErrored
			h.exception = NewValue(err)
			return nil, err
		}
		h.status = engine.StatusEvaluated
		return p, nil
	}
	if h.spec.Eval != nil {
		ok, err := h.spec.Eval(ctx, h.ns)
		if err != nil {
			h.status = engine.StatusErrored
			h.exception = NewValue(err)
			return h.host.NewRejectedPromise(err), nil
		}
		if !ok {
			h.status = engine.StatusErrored
			return nil, nil
		}
	}
	h.status = engine.StatusEvaluated
	return h.host.NewResolvedPromise(h.host.Undefined()), nil
}

func (h *Handle) Namespace() (engine.Namespace, error) { return h.ns, nil }

// Namespace is the fake engine.Namespace: a plain guarded map, with Get
// exposed for tests and Registry.ResolveExport alike.
type Namespace struct {
	mu      sync.Mutex
	values  map[string]engine.Value
	allowed map[string]struct{} // nil means unrestricted (plain ESM export set)
}

func newNamespace(named []string) *Namespace {
	var allowed map[string]struct{}
	if named != nil {
		allowed = make(map[string]struct{}, len(named))
		for _, n := range named {
			allowed[n] = struct{}{}
		}
	}
	return &Namespace{values: make(map[string]engine.Value), allowed: allowed}
}

func (n *Namespace) Set(name string, value engine.Value) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.allowed != nil && name != "default" {
		if _, ok := n.allowed[name]; !ok {
			return fmt.Errorf("enginetest: export %q was not declared for this module", name)
		}
	}
	n.values[name] = value
	return nil
}

func (n *Namespace) AsObject() engine.Value { return n }
func (n *Namespace) IsUndefined() bool      { return false }

// Get reads an export back out, satisfying the namespaceLookup interface
// pkg/modules's Registry.ResolveExport expects from a namespace object.
func (n *Namespace) Get(name string) (engine.Value, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.values[name]
	return v, ok
}

// Value is the fake engine.Value: an opaque box around whatever data a
// test wants to assert on.
type Value struct{ data any }

// NewValue boxes data as an engine.Value.
func NewValue(data any) engine.Value { return &Value{data: data} }

func (v *Value) IsUndefined() bool { return v == nil || v.data == nil }

// Data returns the boxed value for test assertions.
func (v *Value) Data() any { return v.data }

var undefinedValue = &Value{}

// Promise is the fake engine.Promise: an immediately-settled state, or
// left Pending by tests that want to exercise the top-level-await path.
type Promise struct {
	state  engine.PromiseState
	result engine.Value
}

// NewPendingPromise returns a promise a test can settle later with
// Settle, to exercise the synchronous-require top-level-await paths.
func NewPendingPromise() *Promise { return &Promise{state: engine.PromisePending} }

// Settle transitions a pending promise to fulfilled or rejected.
func (p *Promise) Settle(state engine.PromiseState, result engine.Value) {
	p.state = state
	p.result = result
}

func (p *Promise) State() engine.PromiseState { return p.state }
func (p *Promise) Result() engine.Value       { return p.result }
