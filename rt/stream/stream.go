// Package stream hands streamed resource readiness from loader goroutines
// to the render thread. Loaders call Notify from any goroutine; the render
// thread drains notifications once per frame with Poll and never blocks on
// a loader.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gekko3d/drawpipe/rt/core"

	"github.com/gammazero/deque"
	"golang.org/x/time/rate"
)

type Kind uint8

const (
	KindTexture Kind = iota
	KindMesh
)

// Resource is one streamed texture or mesh. It satisfies scene.TextureRef.
type Resource struct {
	key   uint64
	kind  Kind
	ready atomic.Bool
	// requested is owned by the render thread.
	requested bool
}

func (r *Resource) Key() uint64    { return r.key }
func (r *Resource) Kind() Kind     { return r.kind }
func (r *Resource) Ready() bool    { return r.ready.Load() }
func (r *Resource) markReady()     { r.ready.Store(true) }
func (r *Resource) markEvicted()   { r.ready.Store(false) }
func (r *Resource) String() string { return kindName(r.kind) }

func kindName(k Kind) string {
	if k == KindMesh {
		return "mesh"
	}
	return "texture"
}

// Notice is one loader report.
type Notice struct {
	Kind   Kind
	Key    uint64
	Failed bool
	// Evicted marks a resource that is no longer resident.
	Evicted bool
}

type id struct {
	kind Kind
	key  uint64
}

// Manager tracks every resource the render thread has asked about.
type Manager struct {
	mu    sync.Mutex
	inbox deque.Deque[Notice]

	// Render thread only.
	resources map[id]*Resource
	requests  []Notice

	log   core.Logger
	stats Stats
}

type Stats struct {
	Polled   int
	Ready    int
	Failed   int
	Evicted  int
	Unknown  int
	Requests int
}

func NewManager(log core.Logger) *Manager {
	return &Manager{
		resources: make(map[id]*Resource),
		log:       core.OrNop(log),
	}
}

// Texture returns the resource for key, creating it not ready.
func (m *Manager) Texture(key uint64) *Resource { return m.get(KindTexture, key) }

// Mesh returns the mesh resource for key, creating it not ready.
func (m *Manager) Mesh(key uint64) *Resource { return m.get(KindMesh, key) }

func (m *Manager) get(kind Kind, key uint64) *Resource {
	k := id{kind, key}
	if r, ok := m.resources[k]; ok {
		return r
	}
	r := &Resource{key: key, kind: kind}
	m.resources[k] = r
	return r
}

// Request asks for r to be loaded. Repeated requests are ignored until the
// resource is evicted or fails.
func (m *Manager) Request(r *Resource) {
	if r.requested || r.Ready() {
		return
	}
	r.requested = true
	m.requests = append(m.requests, Notice{Kind: r.kind, Key: r.key})
	m.stats.Requests++
}

// TakeRequests returns and clears the requests made since the last call.
func (m *Manager) TakeRequests() []Notice {
	out := m.requests
	m.requests = nil
	return out
}

// Notify is safe to call from any goroutine.
func (m *Manager) Notify(n Notice) {
	m.mu.Lock()
	m.inbox.PushBack(n)
	m.mu.Unlock()
}

// Pending returns the number of undrained notices.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inbox.Len()
}

// Poll applies up to limit notices (all when limit <= 0) and returns how
// many were applied. Called from the render thread at frame start.
func (m *Manager) Poll(limit int) int {
	m.mu.Lock()
	n := m.inbox.Len()
	if limit > 0 {
		n = min(n, limit)
	}
	batch := make([]Notice, n)
	for i := range batch {
		batch[i] = m.inbox.PopFront()
	}
	m.mu.Unlock()

	m.stats = Stats{Requests: m.stats.Requests}
	for _, nt := range batch {
		r, ok := m.resources[id{nt.Kind, nt.Key}]
		if !ok {
			m.stats.Unknown++
			continue
		}
		switch {
		case nt.Failed:
			r.requested = false
			m.stats.Failed++
			m.log.Warnf("stream: %s %d failed to load", r, nt.Key)
		case nt.Evicted:
			r.markEvicted()
			r.requested = false
			m.stats.Evicted++
		default:
			r.markReady()
			m.stats.Ready++
		}
	}
	m.stats.Polled = n
	return n
}

func (m *Manager) Stats() Stats { return m.stats }

// FetchFunc loads one resource; a returned error reports it failed.
type FetchFunc func(ctx context.Context, n Notice) error

// Loader runs fetches on worker goroutines at a bounded rate and reports
// completion to a Manager.
type Loader struct {
	m       *Manager
	fetch   FetchFunc
	limiter *rate.Limiter
	jobs    chan Notice
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewLoader starts workers goroutines. A nil limiter means unlimited.
func NewLoader(ctx context.Context, m *Manager, fetch FetchFunc, workers int, limiter *rate.Limiter) *Loader {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	l := &Loader{
		m:       m,
		fetch:   fetch,
		limiter: limiter,
		jobs:    make(chan Notice, 256),
	}
	for i := 0; i < max(workers, 1); i++ {
		l.wg.Add(1)
		go l.work(ctx)
	}
	return l
}

// Submit queues a request without blocking and reports whether it fit.
// A closed loader takes nothing.
func (l *Loader) Submit(n Notice) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	select {
	case l.jobs <- n:
		return true
	default:
		return false
	}
}

// Close stops accepting work and waits for the workers to exit. Closing
// twice is a no-op.
func (l *Loader) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.jobs)
	}
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Loader) work(ctx context.Context) {
	defer l.wg.Done()
	for n := range l.jobs {
		if err := l.limiter.Wait(ctx); err != nil {
			l.m.Notify(Notice{Kind: n.Kind, Key: n.Key, Failed: true})
			continue
		}
		err := l.fetch(ctx, n)
		l.m.Notify(Notice{Kind: n.Kind, Key: n.Key, Failed: err != nil})
	}
}
