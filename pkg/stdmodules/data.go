package stdmodules

import (
	"context"

	"modloader/pkg/jsurl"
	"modloader/pkg/modules"
)

// Data builds a synthetic module whose "default" export is data wrapped
// as an engine buffer, for binary assets bundled alongside source.
func Data(specifier jsurl.Url, data []byte) *modules.SyntheticModule {
	return modules.NewSyntheticModule(specifier, modules.TypeBundle, func(ctx context.Context, spec jsurl.Url, ns *modules.ModuleNamespace, obs modules.CompilationObserver) (bool, error) {
		if err := ns.Set("default", ns.NewBytes(data)); err != nil {
			return false, err
		}
		return true, nil
	}, nil, modules.FlagsNone)
}
