package modules

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// FallbackResolveCallback is the single open-ended resolver a
// FallbackModuleBundle delegates to, typically backed by a virtual file
// system. Instances must be thread-safe (spec.md §4.3, §5).
type FallbackResolveCallback func(ctx ResolveContext) (Resolved, bool)

// FallbackModuleBundle wraps a single resolver callback with its own
// cache of resolved modules and alias pointers (spec.md §4.3). Unlike
// StaticModuleBundle it has no fixed specifier table: every miss goes to
// the callback.
//
// Concurrent identical misses are collapsed with singleflight instead of
// a bare exclusive mutex, so N goroutines racing to resolve the same
// cold specifier invoke the callback exactly once between them — the
// same "double-check after upgrading" guarantee spec.md §5 asks for,
// implemented with the primitive moby-moby and burstgridgo already pull
// in for exactly this shape of problem.
type FallbackModuleBundle struct {
	callback FallbackResolveCallback

	mu      sync.RWMutex
	storage map[string]Module
	aliases map[string]Module

	group singleflight.Group
}

func newFallbackModuleBundle(callback FallbackResolveCallback) *FallbackModuleBundle {
	return &FallbackModuleBundle{
		callback: callback,
		storage:  make(map[string]Module),
		aliases:  make(map[string]Module),
	}
}

func (b *FallbackModuleBundle) Type() Type { return TypeFallback }

func (b *FallbackModuleBundle) Resolve(ctx ResolveContext) (Resolved, bool) {
	key := ctx.Specifier.Key()

	b.mu.RLock()
	if m, ok := b.storage[key]; ok {
		b.mu.RUnlock()
		return ResolvedModule(m), true
	}
	if m, ok := b.aliases[key]; ok {
		b.mu.RUnlock()
		return ResolvedModule(m), true
	}
	b.mu.RUnlock()

	type outcome struct {
		resolved Resolved
		ok       bool
	}
	v, _, _ := b.group.Do(key, func() (any, error) {
		// Double-check: a call that completed after our read miss may
		// already have stored the module.
		b.mu.RLock()
		m, hit := b.storage[key]
		if !hit {
			m, hit = b.aliases[key]
		}
		b.mu.RUnlock()
		if hit {
			return outcome{resolved: ResolvedModule(m), ok: true}, nil
		}

		resolved, ok := b.callback(ctx)
		if !ok {
			return outcome{}, nil
		}
		if resolved.IsRedirect() {
			return outcome{resolved: resolved, ok: true}, nil
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		mod := resolved.Module
		canonical := mod.Specifier().Key()
		b.storage[canonical] = mod
		if canonical != key {
			b.aliases[key] = mod
		}
		return outcome{resolved: ResolvedModule(mod), ok: true}, nil
	})
	out := v.(outcome)
	return out.resolved, out.ok
}
