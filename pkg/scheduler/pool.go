// pool.go implements the per-plugin instance pool and the
// plugins_for_plugins side-table that lets a host-format re-entrant call
// borrow an instance of a *different* plugin without deadlocking on that
// plugin's own semaphore budget — ported from the mechanism in
// _examples/original_source/crates/dprint/src/plugins/pool.rs (see
// DESIGN.md).
package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/dformat-org/dformat/pkg/dgerrors"
	"github.com/dformat-org/dformat/pkg/plugin"
)

// Factory creates a fresh plugin.Adapter instance for pluginKey. Supplied
// by the caller (cmd/dformat wires it to pkg/resolver + pkg/wasmplugin /
// pkg/procplugin).
type Factory func(ctx context.Context, pluginKey string) (plugin.Adapter, error)

// defaultPoolCapacity matches the teacher-domain-adjacent pool.rs default
// of 2 concurrent instances per plugin (spec.md §5 "per-plugin semaphore,
// default 2").
const defaultPoolCapacity = 2

// instancePool is one plugin's bounded set of ready instances plus the
// semaphore gating how many may exist concurrently.
type instancePool struct {
	mu       sync.Mutex
	items    []plugin.Adapter
	sem      *semaphore.Weighted
	capacity int64
	factory  Factory
	key      string
}

func newInstancePool(key string, capacity int64, factory Factory) *instancePool {
	if capacity <= 0 {
		capacity = defaultPoolCapacity
	}
	return &instancePool{sem: semaphore.NewWeighted(capacity), capacity: capacity, factory: factory, key: key}
}

// acquire blocks (respecting ctx) until a permit is available, then
// returns a ready-or-fresh instance.
func (p *instancePool) acquire(ctx context.Context) (plugin.Adapter, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, dgerrors.Wrap(dgerrors.Cancelled, "acquire", "waiting for plugin instance", err).WithPlugin(p.key)
	}
	p.mu.Lock()
	n := len(p.items)
	var inst plugin.Adapter
	if n > 0 {
		inst = p.items[n-1]
		p.items = p.items[:n-1]
	}
	p.mu.Unlock()
	if inst != nil {
		return inst, nil
	}
	inst, err := p.factory(ctx, p.key)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return inst, nil
}

// release returns inst to the pool and frees its permit, unless it was
// dropped (Critical error), in which case it is discarded and the permit
// still frees (a fresh instance is created lazily on next acquire).
func (p *instancePool) release(inst plugin.Adapter) {
	defer p.sem.Release(1)
	if inst.State() == plugin.StateDropped {
		return
	}
	p.mu.Lock()
	p.items = append(p.items, inst)
	p.mu.Unlock()
}

// forceCreate bypasses the semaphore entirely — used only for borrowed
// sub-plugin instances during host-format re-entry, matching pool.rs's
// force_create_instance: the parent call already holds its own permit, so
// waiting on the sub-plugin's semaphore here risks the exact deadlock
// spec.md §4.7 calls out (all of a plugin's permits held by calls that are
// themselves waiting on it to re-enter).
func (p *instancePool) forceCreate(ctx context.Context) (plugin.Adapter, error) {
	return p.factory(ctx, p.key)
}

func (p *instancePool) closeAll(ctx context.Context) {
	p.mu.Lock()
	items := p.items
	p.items = nil
	p.mu.Unlock()
	for _, inst := range items {
		_ = inst.Close(ctx)
	}
}

// pools manages one instancePool per plugin key plus the
// plugins_for_plugins side-table of borrowed cross-plugin instances.
type pools struct {
	mu    sync.Mutex
	byKey map[string]*instancePool

	// pluginsForPlugins[parent][sub] is the list of sub-plugin instances
	// currently on loan to parent's in-flight top-level format calls,
	// outside sub's normal semaphore-bounded pool.
	pfpMu sync.Mutex
	pluginsForPlugins map[string]map[string][]plugin.Adapter

	factory  Factory
	capacity int64
}

func newPools(factory Factory, capacity int64) *pools {
	return &pools{
		byKey:             map[string]*instancePool{},
		pluginsForPlugins: map[string]map[string][]plugin.Adapter{},
		factory:           factory,
		capacity:          capacity,
	}
}

func (ps *pools) poolFor(key string) *instancePool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p, ok := ps.byKey[key]
	if !ok {
		p = newInstancePool(key, ps.capacity, ps.factory)
		ps.byKey[key] = p
	}
	return p
}

// acquireTopLevel acquires an instance for a plugin being invoked directly
// (not as a host-format sub-call): normal semaphore-bounded acquisition.
func (ps *pools) acquireTopLevel(ctx context.Context, key string) (plugin.Adapter, error) {
	return ps.poolFor(key).acquire(ctx)
}

func (ps *pools) releaseTopLevel(key string, inst plugin.Adapter) {
	ps.poolFor(key).release(inst)
}

// acquireForPlugin borrows an instance of subKey on behalf of an in-flight
// parentKey format call. It first checks parentKey's side-table for an
// already-borrowed, idle subKey instance; only if none is available does
// it force-create a new one outside subKey's semaphore.
func (ps *pools) acquireForPlugin(ctx context.Context, parentKey, subKey string) (plugin.Adapter, error) {
	ps.pfpMu.Lock()
	if subMap, ok := ps.pluginsForPlugins[parentKey]; ok {
		if list, ok := subMap[subKey]; ok && len(list) > 0 {
			inst := list[len(list)-1]
			subMap[subKey] = list[:len(list)-1]
			ps.pfpMu.Unlock()
			return inst, nil
		}
	}
	ps.pfpMu.Unlock()
	return ps.poolFor(subKey).forceCreate(ctx)
}

// releaseForPlugin returns a borrowed sub-plugin instance to the
// per-parent side-table rather than back into subKey's main pool —
// it stays reserved for parentKey until releaseParent flushes it.
func (ps *pools) releaseForPlugin(parentKey, subKey string, inst plugin.Adapter) {
	if inst.State() == plugin.StateDropped {
		return
	}
	ps.pfpMu.Lock()
	defer ps.pfpMu.Unlock()
	subMap, ok := ps.pluginsForPlugins[parentKey]
	if !ok {
		subMap = map[string][]plugin.Adapter{}
		ps.pluginsForPlugins[parentKey] = subMap
	}
	subMap[subKey] = append(subMap[subKey], inst)
}

// releaseParent flushes every instance borrowed on behalf of parentKey
// back into their own plugins' main pools — called once parentKey's
// top-level format call has fully completed (spec.md §4.7's re-entry
// window closes).
func (ps *pools) releaseParent(ctx context.Context, parentKey string) {
	ps.pfpMu.Lock()
	subMap, ok := ps.pluginsForPlugins[parentKey]
	if ok {
		delete(ps.pluginsForPlugins, parentKey)
	}
	ps.pfpMu.Unlock()
	if !ok {
		return
	}
	for subKey, list := range subMap {
		pool := ps.poolFor(subKey)
		for _, inst := range list {
			if inst.State() == plugin.StateDropped {
				continue
			}
			pool.mu.Lock()
			pool.items = append(pool.items, inst)
			pool.mu.Unlock()
		}
	}
}

func (ps *pools) closeAll(ctx context.Context) {
	ps.mu.Lock()
	all := make([]*instancePool, 0, len(ps.byKey))
	for _, p := range ps.byKey {
		all = append(all, p)
	}
	ps.mu.Unlock()
	for _, p := range all {
		p.closeAll(ctx)
	}
}
