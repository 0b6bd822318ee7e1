package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }
func newClock() *clock                   { return &clock{t: time.Unix(100, 0)} }

func TestScopesKeepFirstSeenOrder(t *testing.T) {
	c := newClock()
	p := New()
	p.SetClock(c.now)

	p.Begin("cull")
	c.advance(2 * time.Millisecond)
	assert.Equal(t, 2*time.Millisecond, p.End("cull"))
	p.Scope("sort", func() { c.advance(time.Millisecond) })
	p.Scope("cull", func() { c.advance(4 * time.Millisecond) })

	s := p.Samples()
	require.Len(t, s, 2)
	assert.Equal(t, "cull", s[0].Name)
	assert.Equal(t, 4*time.Millisecond, s[0].Last)
	assert.Equal(t, 3*time.Millisecond, s[0].Avg)
	assert.Equal(t, Sample{Name: "sort", Last: time.Millisecond, Avg: time.Millisecond}, s[1])
}

func TestEndWithoutBegin(t *testing.T) {
	p := New()
	assert.Zero(t, p.End("missing"))
	p.Begin("x")
	p.End("x")
	assert.Zero(t, p.End("x"), "a scope ends once")
}

func TestCountersAndString(t *testing.T) {
	c := newClock()
	p := New()
	p.SetClock(c.now)
	p.SetCount("groups", 3)
	p.SetCount("faces", 10)
	p.Scope("render", func() { c.advance(1500 * time.Microsecond) })

	assert.Equal(t, []string{"faces", "groups"}, p.Counts())
	assert.Equal(t, 3, p.Count("groups"))
	out := p.String()
	assert.Contains(t, out, "render         : 1.50 ms (avg 1.50)")
	assert.Contains(t, out, "faces          : 10")

	p.Reset()
	assert.Zero(t, p.Samples()[0].Last)
	assert.Equal(t, 1500*time.Microsecond, p.Samples()[0].Avg)
}
