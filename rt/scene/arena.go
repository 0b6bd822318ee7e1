package scene

// Handle is a generation-checked reference into an Arena. The zero Handle is
// never valid.
type Handle struct {
	Index uint32
	Gen   uint32
}

func (h Handle) IsNil() bool { return h.Gen == 0 }

type slot[T any] struct {
	gen   uint32
	alive bool
	val   T
}

// Arena stores values in reusable slots. A freed slot bumps its generation so
// every handle that still points at it goes stale.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

func (a *Arena[T]) Alloc(v T) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{})
	}
	s := &a.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.alive = true
	s.val = v
	a.live++
	return Handle{Index: idx, Gen: s.gen}
}

// Get returns nil when h is stale or was never allocated.
func (a *Arena[T]) Get(h Handle) *T {
	if h.Gen == 0 || int(h.Index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.Index]
	if !s.alive || s.gen != h.Gen {
		return nil
	}
	return &s.val
}

func (a *Arena[T]) Alive(h Handle) bool {
	return a.Get(h) != nil
}

// Free releases the slot. Freeing a stale handle is a no-op and reports false.
func (a *Arena[T]) Free(h Handle) bool {
	if a.Get(h) == nil {
		return false
	}
	s := &a.slots[h.Index]
	var zero T
	s.val = zero
	s.alive = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	a.free = append(a.free, h.Index)
	a.live--
	return true
}

func (a *Arena[T]) Len() int { return a.live }

// Each visits live slots in index order until fn returns false.
func (a *Arena[T]) Each(fn func(h Handle, v *T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.alive {
			continue
		}
		if !fn(Handle{Index: uint32(i), Gen: s.gen}, &s.val) {
			return
		}
	}
}
