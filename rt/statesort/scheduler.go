package statesort

import (
	"container/heap"
	"time"

	"github.com/gekko3d/drawpipe/rt/scene"

	"github.com/gammazero/deque"
)

type tier uint8

const (
	tierNone tier = iota
	tierPriority
	tierBackground
)

type bgEntry struct {
	group   scene.GroupID
	urgency float32
	seq     uint64 // FIFO among equal urgency
	index   int
}

// bgHeap pops the most urgent entry first.
type bgHeap []*bgEntry

func (h bgHeap) Len() int { return len(h) }

func (h bgHeap) Less(i, j int) bool {
	if h[i].urgency != h[j].urgency {
		return h[i].urgency > h[j].urgency
	}
	return h[i].seq < h[j].seq
}

func (h bgHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *bgHeap) Push(x any) {
	e := x.(*bgEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *bgHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// RebuildFunc rebuilds one group. It reports false when nothing was built.
type RebuildFunc func(gid scene.GroupID) bool

type RunStats struct {
	Priority   int
	Background int
	Dropped    int // dead or superseded entries
	Remaining  int
	Elapsed    time.Duration
}

// IncrementalRebuildScheduler spreads group rebuilds across frames. The
// priority queue is drained completely every Run; the background queue is
// worked in urgency order until the per-frame count or time budget runs out.
type IncrementalRebuildScheduler struct {
	store   *scene.Store
	rebuild RebuildFunc
	now     func() time.Time

	Budget      time.Duration
	MaxPerFrame int

	priority   deque.Deque[scene.GroupID]
	background bgHeap
	entries    map[scene.GroupID]*bgEntry
	seq        uint64
	queued     map[scene.GroupID]tier

	last RunStats
}

func NewScheduler(store *scene.Store, rebuild RebuildFunc, budget time.Duration, maxPerFrame int) *IncrementalRebuildScheduler {
	return &IncrementalRebuildScheduler{
		store:       store,
		rebuild:     rebuild,
		now:         time.Now,
		Budget:      budget,
		MaxPerFrame: maxPerFrame,
		entries:     make(map[scene.GroupID]*bgEntry),
		queued:      make(map[scene.GroupID]tier),
	}
}

// SetClock replaces the time source.
func (s *IncrementalRebuildScheduler) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Enqueue schedules gid. Re-enqueueing a background entry with priority
// promotes it; otherwise the urgency is refreshed.
func (s *IncrementalRebuildScheduler) Enqueue(gid scene.GroupID, urgency float32, priority bool) {
	switch s.queued[gid] {
	case tierPriority:
		return
	case tierBackground:
		e := s.entries[gid]
		if !priority {
			e.urgency = urgency
			heap.Fix(&s.background, e.index)
			return
		}
		s.dropBackground(gid)
	}
	if priority {
		s.queued[gid] = tierPriority
		s.priority.PushBack(gid)
		return
	}
	s.seq++
	e := &bgEntry{group: gid, urgency: urgency, seq: s.seq}
	heap.Push(&s.background, e)
	s.entries[gid] = e
	s.queued[gid] = tierBackground
}

func (s *IncrementalRebuildScheduler) dropBackground(gid scene.GroupID) {
	if e, ok := s.entries[gid]; ok {
		heap.Remove(&s.background, e.index)
		delete(s.entries, gid)
	}
}

func (s *IncrementalRebuildScheduler) Queued(gid scene.GroupID) bool {
	return s.queued[gid] != tierNone
}

// Len counts queued groups in both tiers.
func (s *IncrementalRebuildScheduler) Len() int { return len(s.queued) }

func (s *IncrementalRebuildScheduler) LastRun() RunStats { return s.last }

// Remove forgets gid. Stale priority slots are skipped when reached.
func (s *IncrementalRebuildScheduler) Remove(gid scene.GroupID) {
	if s.queued[gid] == tierBackground {
		s.dropBackground(gid)
	}
	delete(s.queued, gid)
}

// Run performs this frame's rebuild work.
func (s *IncrementalRebuildScheduler) Run() RunStats {
	start := s.now()
	var st RunStats

	for s.priority.Len() > 0 {
		gid := s.priority.PopFront()
		if s.queued[gid] != tierPriority {
			st.Dropped++
			continue
		}
		delete(s.queued, gid)
		if s.store.IsGroupDead(gid) || !s.rebuild(gid) {
			st.Dropped++
			continue
		}
		st.Priority++
	}

	// The budget covers the whole run, priority work included.
	var cost time.Duration
	for s.background.Len() > 0 && st.Background < s.MaxPerFrame {
		if s.now().Sub(start)+cost > s.Budget {
			break
		}
		e := heap.Pop(&s.background).(*bgEntry)
		delete(s.entries, e.group)
		delete(s.queued, e.group)
		if s.store.IsGroupDead(e.group) {
			st.Dropped++
			continue
		}
		t0 := s.now()
		built := s.rebuild(e.group)
		cost = max(cost, s.now().Sub(t0))
		if built {
			st.Background++
		} else {
			st.Dropped++
		}
	}

	st.Remaining = len(s.queued)
	st.Elapsed = s.now().Sub(start)
	s.last = st
	return st
}
