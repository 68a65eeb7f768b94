// Package registry provides small helpers that operate across several
// isolate bindings at once, for hosts that stand up more than one
// simulated isolate in the same process (a test harness fanning out
// workers, or a multi-tenant embedder).
package registry

import (
	"context"

	"golang.org/x/sync/errgroup"

	"modloader/pkg/engine"
	"modloader/pkg/modules"
)

// AttachAll attaches reg to every host in hosts concurrently and returns
// the resulting bindings in the same order as hosts, the way
// SystemDiskUsage fans work out across independent subsystems with an
// errgroup instead of a sequential loop.
func AttachAll(ctx context.Context, reg *modules.Registry, hosts []engine.Host) ([]*modules.IsolateModuleRegistry, error) {
	isos := make([]*modules.IsolateModuleRegistry, len(hosts))
	eg, _ := errgroup.WithContext(ctx)
	for i, h := range hosts {
		i, h := i, h
		eg.Go(func() error {
			isos[i] = reg.AttachToIsolate(h)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return isos, nil
}
