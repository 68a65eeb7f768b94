package stdmodules

import (
	"context"

	"modloader/pkg/jsurl"
	"modloader/pkg/loaderr"
	"modloader/pkg/modules"
)

// JSON builds a synthetic module whose "default" export is data parsed
// as JSON, the same shape a native "assert { type: \"json\" }" import
// produces. Parsing happens on evaluation, not at construction, so a
// malformed asset fails the way any other module evaluation failure
// does rather than the moment the bundle is built.
func JSON(specifier jsurl.Url, data []byte) *modules.SyntheticModule {
	return modules.NewSyntheticModule(specifier, modules.TypeBundle, func(ctx context.Context, spec jsurl.Url, ns *modules.ModuleNamespace, obs modules.CompilationObserver) (bool, error) {
		v, err := ns.NewFromJSON(data)
		if err != nil {
			return false, loaderr.SyntheticEvalFailed("module %q: %v", spec.Href(), err).Wrap(err)
		}
		if err := ns.Set("default", v); err != nil {
			return false, err
		}
		return true, nil
	}, nil, modules.FlagsNone)
}
