package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"modloader/pkg/engine"
	"modloader/pkg/engine/enginetest"
	"modloader/pkg/jsurl"
	"modloader/pkg/modules"
	"modloader/pkg/registry"
)

func TestAttachAllBindsEveryHostWithDistinctIsolates(t *testing.T) {
	base := jsurl.MustParse("file:///")
	reg, err := modules.NewRegistryBuilder(base, modules.NoopObserver(), modules.OptionsNone).Finish()
	require.NoError(t, err)

	hosts := []engine.Host{enginetest.NewHost(), enginetest.NewHost(), enginetest.NewHost()}
	isos, err := registry.AttachAll(context.Background(), reg, hosts)
	require.NoError(t, err)
	require.Len(t, isos, len(hosts))

	seen := make(map[string]struct{}, len(isos))
	for _, iso := range isos {
		require.NotNil(t, iso)
		_, dup := seen[iso.ID()]
		require.False(t, dup, "expected every attached isolate to get a distinct ID")
		seen[iso.ID()] = struct{}{}
	}
}
