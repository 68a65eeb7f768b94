// Package stdmodules provides the built-in synthetic module factories
// spec.md §6 describes: text, raw data, JSON, and Wasm. Each is a thin
// EvaluateCallback wired through modules.NewSyntheticModule; none of
// them touch a real parser, since the exports they hand back are data,
// not source code the engine needs to compile.
package stdmodules

import (
	"context"

	"modloader/pkg/jsurl"
	"modloader/pkg/modules"
)

// Text builds a synthetic module whose sole export, "default", is text
// wrapped as an engine string — the equivalent of a bundler's "?raw"
// text-file import.
func Text(specifier jsurl.Url, text string) *modules.SyntheticModule {
	return modules.NewSyntheticModule(specifier, modules.TypeBundle, func(ctx context.Context, spec jsurl.Url, ns *modules.ModuleNamespace, obs modules.CompilationObserver) (bool, error) {
		if err := ns.Set("default", ns.NewString(text)); err != nil {
			return false, err
		}
		return true, nil
	}, nil, modules.FlagsNone)
}
