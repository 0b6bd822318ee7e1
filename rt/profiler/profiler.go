// Package profiler records per-stage CPU time and counters of the frame
// loop.
package profiler

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// window is the number of frames averaged per scope.
const window = 60

type scope struct {
	start   time.Time
	last    time.Duration
	history [window]time.Duration
	n       int
}

func (s *scope) avg() time.Duration {
	count := min(s.n, window)
	if count == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range s.history[:count] {
		sum += d
	}
	return sum / time.Duration(count)
}

type Sample struct {
	Name string
	Last time.Duration
	Avg  time.Duration
}

type Profiler struct {
	now    func() time.Time
	scopes map[string]*scope
	order  []string
	counts map[string]int
}

func New() *Profiler {
	return &Profiler{
		now:    time.Now,
		scopes: make(map[string]*scope),
		counts: make(map[string]int),
	}
}

// SetClock replaces the time source.
func (p *Profiler) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

func (p *Profiler) Begin(name string) {
	s, ok := p.scopes[name]
	if !ok {
		s = &scope{}
		p.scopes[name] = s
		p.order = append(p.order, name)
	}
	s.start = p.now()
}

func (p *Profiler) End(name string) time.Duration {
	s, ok := p.scopes[name]
	if !ok || s.start.IsZero() {
		return 0
	}
	d := p.now().Sub(s.start)
	s.start = time.Time{}
	s.last = d
	s.history[s.n%window] = d
	s.n++
	return d
}

// Scope times fn under name.
func (p *Profiler) Scope(name string, fn func()) {
	p.Begin(name)
	fn()
	p.End(name)
}

func (p *Profiler) SetCount(name string, v int) { p.counts[name] = v }

func (p *Profiler) Count(name string) int { return p.counts[name] }

// Samples returns scopes in first-seen order.
func (p *Profiler) Samples() []Sample {
	out := make([]Sample, 0, len(p.order))
	for _, name := range p.order {
		s := p.scopes[name]
		out = append(out, Sample{Name: name, Last: s.last, Avg: s.avg()})
	}
	return out
}

// Counts returns counter names sorted.
func (p *Profiler) Counts() []string {
	keys := make([]string, 0, len(p.counts))
	for k := range p.counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Reset zeroes last-frame times; order and history are kept.
func (p *Profiler) Reset() {
	for _, s := range p.scopes {
		s.last = 0
	}
}

func (p *Profiler) String() string {
	var sb strings.Builder
	sb.WriteString("Timings (CPU):\n")
	for _, s := range p.Samples() {
		fmt.Fprintf(&sb, "  %-15s: %.2f ms (avg %.2f)\n", s.Name, ms(s.Last), ms(s.Avg))
	}
	sb.WriteString("\nStats:\n")
	for _, k := range p.Counts() {
		fmt.Fprintf(&sb, "  %-15s: %d\n", k, p.counts[k])
	}
	return sb.String()
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
