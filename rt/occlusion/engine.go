// Package occlusion tracks per-group hidden-surface state across frames.
//
// A group moves Untested -> QueryPending -> Visible or Occluded. Results are
// read back without blocking: a query that is not ready yet leaves the group
// pending, which every consumer treats as visible.
package occlusion

import (
	"errors"
	"time"

	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/gpu"
	"github.com/gekko3d/drawpipe/rt/scene"

	"golang.org/x/time/rate"
)

type Stats struct {
	Issued       int
	Resolved     int
	NotReady     int
	Occluded     int
	Inherited    int // skipped under an occluded ancestor
	CameraInside int
	Stale        int
}

type pending struct {
	query  gpu.QueryID
	region int
}

type Engine struct {
	store  *scene.Store
	dev    gpu.Occluder
	log    core.Logger
	warn   rate.Sometimes
	retest uint64

	supported bool
	degraded  bool

	pending map[scene.GroupID]pending
	// tested remembers every group with non-Untested state and its region,
	// so a teleport can reset them.
	tested map[scene.GroupID]int

	buf   []byte
	stats Stats
}

// New creates an engine. A nil device or one without query support makes
// the engine report every group visible.
func New(store *scene.Store, dev gpu.Occluder, supported bool, retestFrames int, log core.Logger) *Engine {
	if retestFrames < 1 {
		retestFrames = 1
	}
	return &Engine{
		store:     store,
		dev:       dev,
		log:       core.OrNop(log),
		warn:      rate.Sometimes{First: 3, Interval: time.Second},
		retest:    uint64(retestFrames),
		supported: supported && dev != nil,
		pending:   make(map[scene.GroupID]pending),
		tested:    make(map[scene.GroupID]int),
	}
}

// Enabled reports whether queries can run this session.
func (e *Engine) Enabled() bool { return e.supported && !e.degraded }

func (e *Engine) SetRetestFrames(n int) {
	if n >= 1 {
		e.retest = uint64(n)
	}
}

func (e *Engine) Stats() Stats { return e.stats }

func (e *Engine) PendingCount() int { return len(e.pending) }

// TrackedCount is the number of groups with a non-Untested state.
func (e *Engine) TrackedCount() int { return len(e.tested) }

// BeginFrame resets per-frame counters and forgets resolved groups that
// were freed since. Pending ones are released by Poll.
func (e *Engine) BeginFrame() {
	e.stats = Stats{}
	for gid := range e.tested {
		if _, ok := e.pending[gid]; ok {
			continue
		}
		if e.store.IsGroupDead(gid) {
			delete(e.tested, gid)
		}
	}
}

// Poll reads back every pending query that has finished.
func (e *Engine) Poll(frame uint64) {
	if !e.Enabled() {
		return
	}
	for gid, p := range e.pending {
		g := e.store.Group(gid)
		if g == nil {
			e.dev.ReleaseQuery(p.query)
			delete(e.pending, gid)
			delete(e.tested, gid)
			e.stats.Stale++
			continue
		}
		res := e.dev.QueryResult(p.query)
		if !res.Ready {
			e.stats.NotReady++
			continue
		}
		e.dev.ReleaseQuery(p.query)
		delete(e.pending, gid)
		e.stats.Resolved++
		g.QueryID = 0
		g.LastTestedFrame = frame
		if res.Samples == 0 {
			g.Occlusion = scene.Occluded
			e.stats.Occluded++
		} else {
			g.Occlusion = scene.Visible
		}
	}
}

// IsOccluded is the re-check StateSort performs before drawing a group.
// Pending and untested groups count as visible.
func (e *Engine) IsOccluded(gid scene.GroupID) bool {
	if !e.Enabled() {
		return false
	}
	g := e.store.Group(gid)
	return g != nil && g.Occlusion == scene.Occluded
}

// DoOcclusion issues queries for candidates against the depth drawn so far.
func (e *Engine) DoOcclusion(cam *core.Camera, depth gpu.Target, candidates []scene.GroupID, frame uint64) {
	if !e.Enabled() || len(candidates) == 0 {
		return
	}
	if err := e.dev.BeginOcclusion(cam.ViewProj(), depth); err != nil {
		e.fail(err)
		return
	}
	defer e.dev.EndOcclusion()

	for _, gid := range candidates {
		g := e.store.Group(gid)
		if g == nil {
			e.stats.Stale++
			continue
		}
		if _, inFlight := e.pending[gid]; inFlight {
			continue
		}
		if e.ancestorOccluded(g) {
			g.ActiveOccluder = false
			e.stats.Inherited++
			continue
		}
		if g.Occlusion == scene.Occluded && frame-g.LastTestedFrame < e.retest {
			g.ActiveOccluder = true
			continue
		}
		if g.Bounds.Grow(cam.Near * 2).ContainsPoint(cam.Position) {
			g.Occlusion = scene.Visible
			g.LastTestedFrame = frame
			g.ActiveOccluder = false
			e.tested[gid] = g.Region
			e.stats.CameraInside++
			continue
		}

		e.buf = ProxyFor(gid, g.Bounds).AppendBytes(e.buf[:0])
		id, err := e.dev.IssueQuery(e.buf)
		if err != nil {
			e.fail(err)
			return
		}
		e.pending[gid] = pending{query: id, region: g.Region}
		e.tested[gid] = g.Region
		g.QueryID = uint32(id)
		g.QueryFrame = frame
		g.ActiveOccluder = true
		g.Occlusion = scene.QueryPending
		e.stats.Issued++
	}
}

func (e *Engine) ancestorOccluded(g *scene.SpatialGroup) bool {
	for pid := g.Parent; !pid.IsNil(); {
		p := e.store.Group(pid)
		if p == nil {
			return false
		}
		if p.Occlusion == scene.Occluded {
			return true
		}
		pid = p.Parent
	}
	return false
}

func (e *Engine) fail(err error) {
	if errors.Is(err, gpu.ErrUnsupported) {
		e.log.Warnf("occlusion: queries unsupported, disabling for this session: %v", err)
		e.degrade()
		return
	}
	e.warn.Do(func() { e.log.Warnf("occlusion: %v", err) })
}

// degrade drops all state; every group reads as visible from now on.
func (e *Engine) degrade() {
	e.degraded = true
	e.Discard(-1)
}

// Discard drops pending queries and resets the state of every tested group
// in region, or in all regions when region is negative.
func (e *Engine) Discard(region int) {
	for gid, p := range e.pending {
		if region >= 0 && p.region != region {
			continue
		}
		if e.dev != nil {
			e.dev.ReleaseQuery(p.query)
		}
		delete(e.pending, gid)
	}
	for gid, r := range e.tested {
		if region >= 0 && r != region {
			continue
		}
		if g := e.store.Group(gid); g != nil {
			g.Occlusion = scene.Untested
			g.QueryID = 0
			g.ActiveOccluder = false
		}
		delete(e.tested, gid)
	}
}
