package pool

import (
	"slices"

	"github.com/gekko3d/drawpipe/rt/core"
)

// Factory builds the pool for a key. NewFacePool is the default.
type Factory func(Key) DrawPool

// Registry owns every pool. Exactly one pool exists per key.
type Registry struct {
	pools     map[Key]DrawPool
	byType    [NumTypes][]DrawPool
	factory   Factory
	iterating int

	strict bool
	log    core.Logger
}

// NewRegistry creates an empty registry. In strict mode invariant
// violations panic.
func NewRegistry(strict bool, log core.Logger) *Registry {
	return &Registry{
		pools:   make(map[Key]DrawPool),
		factory: func(k Key) DrawPool { return NewFacePool(k) },
		strict:  strict,
		log:     core.OrNop(log),
	}
}

func (r *Registry) SetFactory(f Factory) {
	if f != nil {
		r.factory = f
	}
}

// Get returns the pool for (t, texture) or nil.
func (r *Registry) Get(t Type, texture uint64) DrawPool {
	return r.pools[KeyFor(t, texture)]
}

// GetOrCreate returns the single pool for (t, texture), creating it once.
func (r *Registry) GetOrCreate(t Type, texture uint64) DrawPool {
	key := KeyFor(t, texture)
	if p, ok := r.pools[key]; ok {
		return p
	}
	p := r.factory(key)
	r.insert(key, p)
	return p
}

// Register adds an externally built pool. Registering a second pool for an
// existing key is a programmer error; the duplicate is dropped.
func (r *Registry) Register(p DrawPool) bool {
	key := KeyFor(p.Type(), p.TextureKey())
	if old, ok := r.pools[key]; ok {
		if old != p {
			core.Invariant(r.strict, r.log, "pool %s/%d registered twice", key.Type, key.Texture)
		}
		return false
	}
	r.insert(key, p)
	return true
}

func (r *Registry) insert(key Key, p DrawPool) {
	r.pools[key] = p
	list := r.byType[key.Type]
	i, _ := slices.BinarySearchFunc(list, key.Texture, func(e DrawPool, tex uint64) int {
		switch {
		case e.TextureKey() < tex:
			return -1
		case e.TextureKey() > tex:
			return 1
		}
		return 0
	})
	r.byType[key.Type] = slices.Insert(list, i, p)
}

// Pools returns the pools of one type ordered by texture key.
func (r *Registry) Pools(t Type) []DrawPool {
	if t < 0 || t >= NumTypes {
		return nil
	}
	return r.byType[t]
}

func (r *Registry) Len() int { return len(r.pools) }

// Iterate visits non-empty pool lists in the global type order. Sweep is
// refused while Iterate runs.
func (r *Registry) Iterate(fn func(t Type, pools []DrawPool) bool) {
	r.iterating++
	defer func() { r.iterating-- }()
	for t := Type(0); t < NumTypes; t++ {
		if len(r.byType[t]) == 0 {
			continue
		}
		if !fn(t, r.byType[t]) {
			return
		}
	}
}

// ResetPending clears every pool's frame queue.
func (r *Registry) ResetPending() {
	for _, p := range r.pools {
		p.ResetPending()
	}
}

// Sweep destroys empty pools and returns how many were removed.
func (r *Registry) Sweep() int {
	if r.iterating > 0 {
		core.Invariant(r.strict, r.log, "pool sweep during iteration")
		return 0
	}
	removed := 0
	for key, p := range r.pools {
		if !p.Empty() {
			continue
		}
		delete(r.pools, key)
		r.byType[key.Type] = slices.DeleteFunc(r.byType[key.Type], func(e DrawPool) bool { return e == p })
		removed++
	}
	return removed
}
