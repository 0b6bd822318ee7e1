package scene

// Scrubber is notified when a drawable dies so it can drop queued references.
type Scrubber interface {
	ScrubDrawable(id DrawableID)
}

// Store owns drawables and spatial groups. Every cross reference is a
// generation-checked handle so a dead object is detectable by lookup.
type Store struct {
	drawables Arena[Drawable]
	groups    Arena[SpatialGroup]
	scrubbers []Scrubber
}

func NewStore() *Store {
	return &Store{}
}

// OnDestroy registers a queue owner that must forget destroyed drawables.
func (s *Store) OnDestroy(sc Scrubber) {
	s.scrubbers = append(s.scrubbers, sc)
}

func (s *Store) AddDrawable(d Drawable) DrawableID {
	id := DrawableID(s.drawables.Alloc(d))
	dr := s.drawables.Get(Handle(id))
	for _, f := range dr.Faces {
		f.Drawable = id
	}
	return id
}

// Drawable returns nil when id is stale or its scene object died.
func (s *Store) Drawable(id DrawableID) *Drawable {
	d := s.drawables.Get(Handle(id))
	if d == nil {
		return nil
	}
	if d.Object != nil && d.Object.IsDead() {
		return nil
	}
	return d
}

// IsDead reports generation mismatch or a dead scene object.
func (s *Store) IsDead(id DrawableID) bool {
	return s.Drawable(id) == nil
}

// DestroyDrawable removes the drawable from its group, detaches its faces
// from their pools and scrubs every registered queue. Destroying twice is a
// no-op.
func (s *Store) DestroyDrawable(id DrawableID) bool {
	d := s.drawables.Get(Handle(id))
	if d == nil {
		return false
	}
	if g := s.groups.Get(Handle(d.Group)); g != nil {
		if g.removeMember(id) {
			g.MarkDirty()
		}
	}
	for _, f := range d.Faces {
		f.Detach()
	}
	for _, sc := range s.scrubbers {
		sc.ScrubDrawable(id)
	}
	return s.drawables.Free(Handle(id))
}

func (s *Store) NumDrawables() int { return s.drawables.Len() }

// EachDrawable visits live drawables, including ones whose object died but
// have not been destroyed yet.
func (s *Store) EachDrawable(fn func(id DrawableID, d *Drawable) bool) {
	s.drawables.Each(func(h Handle, d *Drawable) bool {
		return fn(DrawableID(h), d)
	})
}

func (s *Store) AddGroup(g SpatialGroup) GroupID {
	return GroupID(s.groups.Alloc(g))
}

// Group returns nil for a stale handle.
func (s *Store) Group(id GroupID) *SpatialGroup {
	return s.groups.Get(Handle(id))
}

func (s *Store) IsGroupDead(id GroupID) bool {
	return s.groups.Get(Handle(id)) == nil
}

// DestroyGroup frees a group slot. Members keep a stale group handle, which
// lookups treat as "no group".
func (s *Store) DestroyGroup(id GroupID) bool {
	return s.groups.Free(Handle(id))
}

func (s *Store) NumGroups() int { return s.groups.Len() }

// AddMember links a drawable to a group.
func (s *Store) AddMember(gid GroupID, id DrawableID) bool {
	g := s.Group(gid)
	d := s.drawables.Get(Handle(id))
	if g == nil || d == nil {
		return false
	}
	if old := s.Group(d.Group); old != nil && d.Group != gid {
		if old.removeMember(id) {
			old.MarkDirty()
		}
	}
	if d.Group != gid {
		g.Members = append(g.Members, id)
		g.MarkDirty()
	}
	d.Group = gid
	return true
}

// RemoveMember unlinks a drawable from its group.
func (s *Store) RemoveMember(id DrawableID) bool {
	d := s.drawables.Get(Handle(id))
	if d == nil {
		return false
	}
	g := s.Group(d.Group)
	d.Group = GroupID{}
	if g == nil {
		return false
	}
	if g.removeMember(id) {
		g.MarkDirty()
		return true
	}
	return false
}

// Peek returns the drawable even when its scene object has died, so removal
// paths can still unlink it. Stale handles return nil.
func (s *Store) Peek(id DrawableID) *Drawable {
	return s.drawables.Get(Handle(id))
}
