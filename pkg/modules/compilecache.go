package modules

import (
	"context"
	"sync"

	"modloader/pkg/engine"
)

// compileCache is the per-EsModule guarded slot holding engine-produced
// bytecode for reuse (spec.md §4.2). It is a plain read-write mutex, not
// an atomic.Value, because the write path needs a compare-and-set
// ("double-check the slot is empty") under exclusive access.
type compileCache struct {
	mu   sync.RWMutex
	data []byte // nil until a compile without cached data succeeds
}

func newCompileCache() *compileCache {
	return &compileCache{}
}

// compile implements the read-then-maybe-write path from spec.md §4.2:
// take a shared read of any cached bytecode, hand it to the host, and
// only if the host reports it had nothing to consume do we acquire the
// exclusive lock to (re)generate and store bytecode. Multiple goroutines
// racing on the write path lose redundantly at worst; the double-check
// after acquiring the exclusive lock ensures at most one store wins.
func (c *compileCache) compile(ctx context.Context, host engine.Host, specifierHref string, source []byte, obs CompilationObserver) (engine.ModuleHandle, error) {
	c.mu.RLock()
	cached := c.data
	c.mu.RUnlock()

	handle, outcome, err := host.CompileESM(ctx, specifierHref, source, cached)
	if err != nil {
		return nil, err
	}

	switch outcome {
	case engine.CacheConsumed:
		obs.OnCompileCacheFound()
		return handle, nil
	case engine.CacheRejected:
		obs.OnCompileCacheRejected()
		// Fall through to (re)generate below.
	case engine.CacheNotProvided:
		// No cached data existed to try; fall through to generate.
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data != nil {
		// Another goroutine already generated and stored bytecode while
		// we were compiling; nothing more to do.
		return handle, nil
	}
	generated, genErr := host.GenerateCachedData(ctx, handle)
	if genErr != nil || generated == nil {
		obs.OnCompileCacheGenerationFailed()
		return handle, nil
	}
	c.data = generated
	obs.OnCompileCacheGenerated()
	return handle, nil
}
