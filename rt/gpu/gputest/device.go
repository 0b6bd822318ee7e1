// Package gputest provides a recording gpu.Device for tests.
package gputest

import (
	"fmt"
	"strings"

	"github.com/gekko3d/drawpipe/rt/gpu"

	"github.com/go-gl/mathgl/mgl32"
)

type Op string

const (
	OpCreate     Op = "create"
	OpRelease    Op = "release"
	OpBeginPass  Op = "begin"
	OpDraw       Op = "draw"
	OpEndPass    Op = "end"
	OpFullscreen Op = "fullscreen"
	OpOcclusion  Op = "occlusion"
	OpQuery      Op = "query"
)

// Call is one recorded device call.
type Call struct {
	Op   Op
	Name string
	Draw gpu.DrawCall
}

func (c Call) String() string {
	if c.Op == OpDraw {
		return fmt.Sprintf("draw:%s", c.Draw.Pool)
	}
	return fmt.Sprintf("%s:%s", c.Op, c.Name)
}

type Target struct {
	desc     gpu.TargetDesc
	released bool
}

func (t *Target) Desc() gpu.TargetDesc { return t.desc }
func (t *Target) Released() bool       { return t.released }

type query struct {
	frame   int
	samples uint32
}

// Device records calls and simulates memory limits and query latency.
type Device struct {
	CapsValue gpu.Caps
	// MemoryBudget bounds live target bytes. Zero means unlimited.
	MemoryBudget int64
	// FailNames makes CreateTarget fail for targets with these names.
	FailNames map[string]bool
	// QueryLatency is the number of EndFrame calls before a query is ready.
	QueryLatency int
	// Visible decides the sample count of a query from its proxy bytes.
	// Nil means every proxy is visible.
	Visible func(proxy []byte) bool

	Calls []Call

	used    int64
	live    map[*Target]struct{}
	frame   int
	nextQID gpu.QueryID
	queries map[gpu.QueryID]query
	inOccl  bool
	inPass  bool
}

func New() *Device {
	return &Device{
		CapsValue: gpu.Caps{OcclusionQuery: true, Deferred: true, MaxSamples: 8, MaxTextureSize: 16384},
		live:      make(map[*Target]struct{}),
		queries:   make(map[gpu.QueryID]query),
	}
}

func (d *Device) Caps() gpu.Caps { return d.CapsValue }

func (d *Device) CreateTarget(desc gpu.TargetDesc) (gpu.Target, error) {
	if d.FailNames[desc.Name] {
		return nil, fmt.Errorf("create %s: %w", desc, gpu.ErrOutOfMemory)
	}
	if max(desc.Width, desc.Height) > d.CapsValue.MaxTextureSize {
		return nil, fmt.Errorf("create %s: %w", desc, gpu.ErrUnsupported)
	}
	if desc.Samples > d.CapsValue.MaxSamples {
		return nil, fmt.Errorf("create %s: %d samples: %w", desc, desc.Samples, gpu.ErrUnsupported)
	}
	size := desc.SizeBytes()
	if d.MemoryBudget > 0 && d.used+size > d.MemoryBudget {
		return nil, fmt.Errorf("create %s: %w", desc, gpu.ErrOutOfMemory)
	}
	t := &Target{desc: desc}
	d.used += size
	d.live[t] = struct{}{}
	d.Calls = append(d.Calls, Call{Op: OpCreate, Name: desc.Name})
	return t, nil
}

func (d *Device) ReleaseTarget(t gpu.Target) {
	ft, ok := t.(*Target)
	if !ok || ft.released {
		return
	}
	ft.released = true
	d.used -= ft.desc.SizeBytes()
	delete(d.live, ft)
	d.Calls = append(d.Calls, Call{Op: OpRelease, Name: ft.desc.Name})
}

func (d *Device) BeginPass(desc gpu.PassDesc) error {
	if d.inPass {
		return fmt.Errorf("begin %s: pass already open", desc.Name)
	}
	d.inPass = true
	d.Calls = append(d.Calls, Call{Op: OpBeginPass, Name: desc.Name})
	return nil
}

func (d *Device) Draw(call gpu.DrawCall) {
	d.Calls = append(d.Calls, Call{Op: OpDraw, Name: call.Pool, Draw: call})
}

func (d *Device) EndPass() {
	d.inPass = false
	d.Calls = append(d.Calls, Call{Op: OpEndPass})
}

func (d *Device) Fullscreen(desc gpu.FullscreenDesc) error {
	if desc.Output == nil {
		return fmt.Errorf("fullscreen %s: no output", desc.Name)
	}
	d.Calls = append(d.Calls, Call{Op: OpFullscreen, Name: desc.Name})
	return nil
}

func (d *Device) BeginOcclusion(viewProj mgl32.Mat4, depth gpu.Target) error {
	if !d.CapsValue.OcclusionQuery {
		return gpu.ErrUnsupported
	}
	d.inOccl = true
	d.Calls = append(d.Calls, Call{Op: OpOcclusion, Name: "begin"})
	return nil
}

func (d *Device) IssueQuery(proxy []byte) (gpu.QueryID, error) {
	if !d.inOccl {
		return 0, fmt.Errorf("issue query: %w", gpu.ErrUnsupported)
	}
	d.nextQID++
	var samples uint32 = 1
	if d.Visible != nil && !d.Visible(proxy) {
		samples = 0
	}
	d.queries[d.nextQID] = query{frame: d.frame, samples: samples}
	d.Calls = append(d.Calls, Call{Op: OpQuery, Name: fmt.Sprint(d.nextQID)})
	return d.nextQID, nil
}

func (d *Device) EndOcclusion() {
	d.inOccl = false
	d.Calls = append(d.Calls, Call{Op: OpOcclusion, Name: "end"})
}

func (d *Device) QueryResult(id gpu.QueryID) gpu.QueryResult {
	q, ok := d.queries[id]
	if !ok || d.frame-q.frame < d.QueryLatency {
		return gpu.QueryResult{}
	}
	return gpu.QueryResult{Ready: true, Samples: q.samples}
}

func (d *Device) ReleaseQuery(id gpu.QueryID) {
	delete(d.queries, id)
}

func (d *Device) EndFrame() {
	d.frame++
}

// Used returns live target bytes.
func (d *Device) Used() int64 { return d.used }

func (d *Device) LiveTargets() int { return len(d.live) }

func (d *Device) PendingQueries() int { return len(d.queries) }

// Draws returns every recorded draw in order.
func (d *Device) Draws() []gpu.DrawCall {
	var out []gpu.DrawCall
	for _, c := range d.Calls {
		if c.Op == OpDraw {
			out = append(out, c.Draw)
		}
	}
	return out
}

// Names returns the names of calls with the given op, in order.
func (d *Device) Names(op Op) []string {
	var out []string
	for _, c := range d.Calls {
		if c.Op == op {
			out = append(out, c.Name)
		}
	}
	return out
}

// Trace joins recorded calls, handy for ordering assertions.
func (d *Device) Trace() string {
	parts := make([]string, len(d.Calls))
	for i, c := range d.Calls {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

func (d *Device) ResetCalls() { d.Calls = d.Calls[:0] }

var _ gpu.Device = (*Device)(nil)
