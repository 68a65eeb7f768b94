package modules

import (
	"sync"

	"modloader/pkg/jsurl"
)

// ResolveCallback produces a module (or a redirect) the first time a
// specifier is requested from a StaticModuleBundle or BuiltinBuilder.
// A module result is cached forever by the owning bundle, so the
// callback is not asked for that specifier again; a redirect result is
// not cached and the callback runs again on the next request.
type ResolveCallback func(ctx ResolveContext) (Resolved, bool)

// StaticModuleBundle owns a fixed map of specifier to factory plus
// aliases, and caches the modules it produces (spec.md §4.3). Once a
// specifier or alias has been added it can never be re-added — enforced
// at build time by the builder, not here.
type StaticModuleBundle struct {
	bundleType Type
	factories  map[string]ResolveCallback
	aliases    map[string]jsurl.Url

	mu    sync.Mutex
	cache map[string]Module
}

func newStaticModuleBundle(t Type, factories map[string]ResolveCallback, aliases map[string]jsurl.Url) *StaticModuleBundle {
	return &StaticModuleBundle{
		bundleType: t,
		factories:  factories,
		aliases:    aliases,
		cache:      make(map[string]Module),
	}
}

func (b *StaticModuleBundle) Type() Type { return b.bundleType }

// maxAliasDepth bounds alias-chain resolution. A cyclic alias table (e.g.
// Alias("a","b") followed by Alias("b","a")) would otherwise recurse
// forever; spec.md §8/§9 call for a bounded iterative loop instead of the
// original's unbounded stack recursion so a cycle fails resolution
// cleanly rather than overflowing the stack.
const maxAliasDepth = 32

func (b *StaticModuleBundle) Resolve(ctx ResolveContext) (Resolved, bool) {
	for depth := 0; ; depth++ {
		aliased, ok := b.aliases[ctx.Specifier.Key()]
		if !ok {
			break
		}
		if depth >= maxAliasDepth {
			return Resolved{}, false
		}
		ctx = ctx.withSpecifier(aliased)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if cached, ok := b.cache[ctx.Specifier.Key()]; ok {
		mod, ok := checkModule(ctx, cached)
		if !ok {
			return Resolved{}, false
		}
		return ResolvedModule(mod), true
	}

	factory, ok := b.factories[ctx.Specifier.Key()]
	if !ok {
		return Resolved{}, false
	}
	resolved, ok := factory(ctx)
	if !ok {
		return Resolved{}, false
	}
	if resolved.IsRedirect() {
		return resolved, true
	}
	b.cache[ctx.Specifier.Key()] = resolved.Module
	mod, ok := checkModule(ctx, resolved.Module)
	if !ok {
		return Resolved{}, false
	}
	return ResolvedModule(mod), true
}
