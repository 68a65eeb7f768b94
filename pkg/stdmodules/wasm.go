package stdmodules

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"

	"modloader/pkg/jsurl"
	"modloader/pkg/loaderr"
	"modloader/pkg/modules"
)

// Wasm builds a synthetic module wrapping a WebAssembly binary. Its
// "default" export is the compiled-but-not-instantiated module, wrapped
// as an opaque host value the way importing a ".wasm" file gives you a
// WebAssembly.Module for the caller to instantiate with its own imports
// — this package never guesses at an instantiation ABI. Compilation
// happens once per module, on its first evaluation in any isolate, and
// the result (or the compile error) is cached for the module's lifetime
// and shared by every isolate, since wazero compilation is the expensive step and instantiation is
// cheap by comparison.
func Wasm(specifier jsurl.Url, runtime wazero.Runtime, wasmBytes []byte) *modules.SyntheticModule {
	state := &wasmState{runtime: runtime, bytes: wasmBytes}
	return modules.NewSyntheticModule(specifier, modules.TypeBundle, state.evaluate, nil, modules.FlagsNone)
}

type wasmState struct {
	runtime wazero.Runtime
	bytes   []byte

	mu       sync.Mutex
	compiled wazero.CompiledModule
	compErr  error
}

func (s *wasmState) evaluate(ctx context.Context, spec jsurl.Url, ns *modules.ModuleNamespace, obs modules.CompilationObserver) (bool, error) {
	compiled, err := s.compile(ctx)
	if err != nil {
		return false, loaderr.SyntheticEvalFailed("compiling wasm module %q: %v", spec.Href(), err).Wrap(err)
	}
	if err := ns.Set("default", ns.WrapHostValue(compiled)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *wasmState) compile(ctx context.Context) (wazero.CompiledModule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.compiled != nil || s.compErr != nil {
		return s.compiled, s.compErr
	}
	compiled, err := s.runtime.CompileModule(ctx, s.bytes)
	if err != nil {
		s.compErr = fmt.Errorf("stdmodules: %w", err)
		return nil, s.compErr
	}
	s.compiled = compiled
	return compiled, nil
}
